package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "resource in use"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "resource in use") {
		t.Fatalf("expected blocking message in error, got %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	changes := []Change{{Entity: EntityResource, Action: ActionCreate}}
	res, err := engine.Evaluate(context.Background(), emptyView{}, changes)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if names := engine.Rules(); len(names) != 1 || names[0] != "warn" {
		t.Fatalf("unexpected rule names %v", names)
	}
}

func TestRulesEngineSkipsEmptyChangeSets(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err != nil {
		t.Fatalf("expected rules skipped without changes, got %v", err)
	}
	var nilEngine *RulesEngine
	if res, err := nilEngine.Evaluate(context.Background(), emptyView{}, []Change{{}}); err != nil || len(res.Violations) != 0 {
		t.Fatalf("expected nil engine to be a no-op, got %+v %v", res, err)
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, []Change{{}}); err == nil || err.Error() != "rule error: boom" {
		t.Fatalf("expected rule-qualified evaluation error, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Evaluate(ctx, emptyView{}, []Change{{}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestErrNotFoundMessage(t *testing.T) {
	var err error = ErrNotFound{Entity: EntityScreen, ID: 9}
	if err.Error() != "resource_screen 9 not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var target ErrNotFound
	if !errors.As(fmt.Errorf("wrap: %w", err), &target) || target.ID != 9 {
		t.Fatalf("expected errors.As to unwrap ErrNotFound")
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

type emptyView struct{}

func (emptyView) ListResources() ([]Resource, error)         { return nil, nil }
func (emptyView) ListResourceTypes() ([]ResourceType, error) { return nil, nil }
func (emptyView) ListScreens() ([]Screen, error)             { return nil, nil }
func (emptyView) FindResource(int64) (Resource, bool, error) { return Resource{}, false, nil }
func (emptyView) CountStateEvents(int64) (int, error)        { return 0, nil }
