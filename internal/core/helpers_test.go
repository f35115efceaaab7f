package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"resourcecore/internal/infra/persistence/memory"
	"resourcecore/internal/infra/persistence/sqlite"
	"resourcecore/pkg/domain"
)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (l *captureLogger) add(prefix, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, prefix+msg+fmt.Sprint(args...))
}

func (l *captureLogger) Debug(msg string, args ...any) { l.add("d:", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.add("i:", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.add("w:", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.add("e:", msg, args) }

func (l *captureLogger) count(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status && (predicate == nil || predicate(entry)) {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// countingStore records session usage of the wrapped store and can inject
// failures.
type countingStore struct {
	inner     PersistentStore
	views     int
	writes    int
	failView  error
	failWrite error
}

func (c *countingStore) RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error) {
	c.writes++
	if c.failWrite != nil {
		return Result{}, c.failWrite
	}
	return c.inner.RunInTransaction(ctx, fn)
}

func (c *countingStore) View(ctx context.Context, fn func(TransactionView) error) error {
	c.views++
	if c.failView != nil {
		return c.failView
	}
	return c.inner.View(ctx, fn)
}

var errInjected = errors.New("injected store failure")

type backend struct {
	name string
	open func(t *testing.T, engine *RulesEngine) PersistentStore
}

// backends lists the stores the state engine scenarios run against.
func backends() []backend {
	return []backend{
		{name: "memory", open: func(_ *testing.T, engine *RulesEngine) PersistentStore {
			return memory.NewStore(engine)
		}},
		{name: "sqlite", open: func(t *testing.T, engine *RulesEngine) PersistentStore {
			t.Helper()
			store, err := sqlite.NewStore(t.TempDir()+"/core.db", engine)
			if err != nil {
				t.Skipf("sqlite unavailable: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newService func(opts ...ServiceOption) *Service)) {
	t.Helper()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			fn(t, func(opts ...ServiceOption) *Service {
				return NewService(b.open(t, NewDefaultRulesEngine()), opts...)
			})
		})
	}
}

func mustCreateType(t *testing.T, svc *Service, rt ResourceType) ResourceType {
	t.Helper()
	created, _, err := svc.CreateResourceType(context.Background(), rt)
	if err != nil {
		t.Fatalf("create resource type %q: %v", rt.Name, err)
	}
	return created
}

func mustCreateResource(t *testing.T, svc *Service, r Resource) Resource {
	t.Helper()
	created, _, err := svc.CreateResource(context.Background(), r)
	if err != nil {
		t.Fatalf("create resource %q: %v", r.Name, err)
	}
	return created
}

func customData(pairs ...string) string {
	values := make([]domain.CustomDataValue, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		values = append(values, domain.CustomDataValue{Name: pairs[i], Value: pairs[i+1]})
	}
	return domain.EncodeCustomData(values)
}

func appendEvents(t *testing.T, store PersistentStore, events ...StateChangeEvent) {
	t.Helper()
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		for _, e := range events {
			if _, err := tx.AppendStateEvent(e); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		t.Fatalf("append events: %v", err)
	}
}

func resourceIDs(resources []Resource) []int64 {
	ids := make([]int64, len(resources))
	for i, r := range resources {
		ids[i] = r.ID
	}
	return ids
}
