package domain

import (
	"go/parser"
	"go/token"
	"os"
	"strings"
	"testing"
)

// domainForbidden lists import prefixes the domain package must stay free of:
// module internals and concrete storage or transport drivers.
var domainForbidden = []string{
	"resourcecore/internal/",
	"resourcecore/cmd/",
	"github.com/jackc/pgx",
	"modernc.org/sqlite",
	"github.com/aws/",
	"github.com/gorilla/mux",
	"github.com/prometheus/",
	"database/sql",
	"net/http",
}

func TestDomainImportsStayPure(t *testing.T) {
	entries, err := os.ReadDir(".")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	fset := token.NewFileSet()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			for _, prefix := range domainForbidden {
				if strings.HasPrefix(path, prefix) {
					t.Errorf("%s imports %s", name, path)
				}
			}
		}
	}
}
