package domain

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"
)

// FieldMatch reports a custom field whose value matched a search string.
type FieldMatch struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Hidden bool   `json:"hidden"`
}

// matchProgramCacheSize bounds the compiled expressions kept across type edits.
const matchProgramCacheSize = 256

var matchPrograms = mustProgramCache(matchProgramCacheSize)

func mustProgramCache(size int) *lru.Cache[string, *vm.Program] {
	cache, err := lru.New[string, *vm.Program](size)
	if err != nil {
		panic(err)
	}
	return cache
}

func matchEnv(value, search string) map[string]any {
	return map[string]any{"value": value, "search": search}
}

func compileMatchExpr(src string) (*vm.Program, error) {
	if cached, ok := matchPrograms.Get(src); ok {
		return cached, nil
	}
	program, err := expr.Compile(src, expr.Env(matchEnv("", "")), expr.AsBool())
	if err != nil {
		return nil, err
	}
	matchPrograms.Add(src, program)
	return program, nil
}

// Matches reports whether value satisfies the field's match rule for search.
func (f CustomField) Matches(value, search string) (bool, error) {
	if strings.TrimSpace(f.MatchExpr) == "" {
		return strings.Contains(strings.ToLower(value), strings.ToLower(search)), nil
	}
	program, err := compileMatchExpr(f.MatchExpr)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, matchEnv(value, search))
	if err != nil {
		return false, err
	}
	matched, _ := out.(bool)
	return matched, nil
}

// Validate checks that every field is named once and every match expression compiles.
func (t ResourceType) Validate() error {
	seen := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("resource type %q: field name required", t.Name)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("resource type %q: duplicate field %q", t.Name, name)
		}
		seen[key] = struct{}{}
		if strings.TrimSpace(f.MatchExpr) == "" {
			continue
		}
		if _, err := compileMatchExpr(f.MatchExpr); err != nil {
			return fmt.Errorf("resource type %q: field %q: %w", t.Name, name, err)
		}
	}
	return nil
}

// GetMatchingFields returns the declared fields of resource whose values match
// search. Values for fields the type does not declare are never reported, and
// a field with an invalid match expression is treated as not matching.
func (t ResourceType) GetMatchingFields(resource Resource, search string) []FieldMatch {
	values, err := DecodeCustomData(resource.CustomData)
	if err != nil || len(values) == 0 {
		return nil
	}
	byName := make(map[string]string, len(values))
	for _, v := range values {
		byName[strings.ToLower(v.Name)] = v.Value
	}
	var matches []FieldMatch
	for _, f := range t.Fields {
		value, ok := byName[strings.ToLower(f.Name)]
		if !ok || value == "" {
			continue
		}
		matched, err := f.Matches(value, search)
		if err != nil || !matched {
			continue
		}
		matches = append(matches, FieldMatch{Name: f.Name, Value: value, Hidden: f.Hidden})
	}
	return matches
}

// HasVisibleMatch reports whether any non-hidden field of resource matches search.
func (t ResourceType) HasVisibleMatch(resource Resource, search string) bool {
	for _, m := range t.GetMatchingFields(resource, search) {
		if !m.Hidden {
			return true
		}
	}
	return false
}
