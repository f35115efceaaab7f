// Package core hosts the resource state engine: latest-state resolution,
// idempotent state changes, staged resource search and screen pagination.
package core

import (
	"context"
	"time"

	"resourcecore/internal/infra/persistence/memory"
	"resourcecore/pkg/domain"
)

const (
	opResolveLatestStates = "resolve_latest_states"
	opSetState            = "set_state"
	opFindResources       = "find_resources"
	opRefreshScreenStates = "refresh_screen_states"
	opRefreshStoredScreen = "refresh_stored_screen"
	opGetResource         = "get_resource"
	opGetResourceType     = "get_resource_type"
	opGetScreen           = "get_screen"
	opGetResourcesByState = "get_resources_by_state"
	opListStateHistory    = "list_state_history"
	opListStates          = "list_states"
	opCreateResourceType  = "create_resource_type"
	opUpdateResourceType  = "update_resource_type"
	opDeleteResourceType  = "delete_resource_type"
	opCreateResource      = "create_resource"
	opUpdateResource      = "update_resource"
	opDeleteResource      = "delete_resource"
	opCreateScreen        = "create_screen"
	opUpdateScreen        = "update_screen"
	opDeleteScreen        = "delete_screen"
	opCreateState         = "create_state"
	opExportStateLog      = "export_state_log"
	opImportStateLog      = "import_state_log"
)

type auditTarget struct {
	entity domain.EntityType
	action domain.Action
}

// auditedOperations lists the operations that write to the store.
var auditedOperations = map[string]auditTarget{
	opSetState:            {domain.EntityStateEvent, domain.ActionAppend},
	opRefreshStoredScreen: {domain.EntityScreen, domain.ActionUpdate},
	opCreateResourceType:  {domain.EntityResourceType, domain.ActionCreate},
	opUpdateResourceType:  {domain.EntityResourceType, domain.ActionUpdate},
	opDeleteResourceType:  {domain.EntityResourceType, domain.ActionDelete},
	opCreateResource:      {domain.EntityResource, domain.ActionCreate},
	opUpdateResource:      {domain.EntityResource, domain.ActionUpdate},
	opDeleteResource:      {domain.EntityResource, domain.ActionDelete},
	opCreateScreen:        {domain.EntityScreen, domain.ActionCreate},
	opUpdateScreen:        {domain.EntityScreen, domain.ActionUpdate},
	opDeleteScreen:        {domain.EntityScreen, domain.ActionDelete},
	opCreateState:         {domain.EntityState, domain.ActionCreate},
	opImportStateLog:      {domain.EntityStateEvent, domain.ActionAppend},
}

// Service exposes the state engine over a PersistentStore. Every operation
// opens exactly one store session and releases it before returning.
type Service struct {
	store PersistentStore
	opts  serviceOptions
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	options := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &Service{store: store, opts: options}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// run wraps an operation with tracing, metrics, logging and audit. fn
// returns the id of the entity it touched, or 0.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (int64, error)) error {
	started := time.Now()
	ctx, span := s.opts.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	elapsed := time.Since(started)
	span.End(err)
	s.opts.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.opts.logger.Error("operation failed", "operation", op, "entity_id", entityID, "error", err)
		s.recordAudit(ctx, op, entityID, elapsed, err)
		return err
	}
	s.opts.logger.Debug("operation completed", "operation", op, "entity_id", entityID, "duration", elapsed)
	s.recordAuditSuccess(ctx, op, entityID, elapsed)
	return nil
}

func (s *Service) recordAuditSuccess(ctx context.Context, op string, entityID int64, elapsed time.Duration) {
	s.recordAudit(ctx, op, entityID, elapsed, nil)
}

func (s *Service) recordAudit(ctx context.Context, op string, entityID int64, elapsed time.Duration, err error) {
	target, ok := auditedOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    target.entity,
		Action:    target.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  elapsed,
		Timestamp: s.opts.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.opts.audit.Record(ctx, entry)
}

// mutate runs fn in a read-write session under the run wrapper and returns the
// rule result alongside the produced value.
func mutate[T any](ctx context.Context, s *Service, op string, idOf func(T) int64, fn func(Transaction) (T, error)) (T, Result, error) {
	var (
		out T
		res Result
	)
	err := s.run(ctx, op, func(ctx context.Context) (int64, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			out, err = fn(tx)
			return err
		})
		return idOf(out), err
	})
	s.logViolations(op, res)
	return out, res, err
}

func (s *Service) logViolations(op string, res Result) {
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityBlock {
			continue
		}
		s.opts.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "entity", v.Entity, "entity_id", v.EntityID, "message", v.Message)
	}
}
