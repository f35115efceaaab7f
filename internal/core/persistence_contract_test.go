package core

import (
	"go/types"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const persistenceRoot = "resourcecore/internal/infra/persistence"

var databaseDrivers = []string{"database/sql", "github.com/jackc/pgx", "modernc.org/sqlite"}

// TestStoreBackendsStayInPersistence loads the module once and checks that
// database drivers are only imported by the persistence packages and that
// every PersistentStore implementation lives there too.
func TestStoreBackendsStayInPersistence(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "resourcecore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var contract *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "resourcecore/pkg/domain" || p.Types == nil {
			continue
		}
		if obj := p.Types.Scope().Lookup("PersistentStore"); obj != nil {
			contract, _ = obj.Type().Underlying().(*types.Interface)
		}
	}
	if contract == nil {
		t.Fatalf("domain.PersistentStore not resolved")
	}

	var problems []string
	implemented := map[string]bool{}
	for _, p := range pkgs {
		inPersistence := strings.HasPrefix(p.PkgPath, persistenceRoot+"/")
		for imp := range p.Imports {
			for _, driver := range databaseDrivers {
				if !inPersistence && strings.HasPrefix(imp, driver) {
					problems = append(problems, p.PkgPath+" imports "+imp)
				}
			}
		}
		if p.Types == nil || strings.HasSuffix(p.PkgPath, ".test") {
			continue
		}
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			named, ok := scope.Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, isStruct := named.Underlying().(*types.Struct); !isStruct {
				continue
			}
			if !types.Implements(types.NewPointer(named), contract) {
				continue
			}
			switch {
			case inPersistence:
				implemented[strings.TrimPrefix(p.PkgPath, persistenceRoot+"/")] = true
			case p.PkgPath == "resourcecore/internal/core":
				// test doubles wrapping a backend
			default:
				problems = append(problems, p.PkgPath+"."+name+" implements PersistentStore")
			}
		}
	}
	for _, backend := range []string{"memory", "sqlstore"} {
		if !implemented[backend] {
			problems = append(problems, "no PersistentStore implementation in "+backend)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		t.Fatalf("persistence boundary violations:\n%s", strings.Join(problems, "\n"))
	}
}
