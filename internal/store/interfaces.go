package store

import (
	"context"
	"errors"
	"time"

	"github.com/stackmesh/flowline/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a compare-and-swap write loses to a
// concurrent writer. Callers retry against the fresh state.
var ErrVersionConflict = errors.New("version conflict")

// ErrTimerExists is returned when an active timer already exists for the
// (instance, state) pair.
var ErrTimerExists = errors.New("active timer already exists")

// Tenant scoping is a mandatory parameter on every operation below, never an
// optional filter. A lookup under the wrong tenant behaves exactly like a
// missing row.

// TenantStore persists tenant configurations.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *model.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error)
	// UpdateTenant writes the tenant if the stored version equals
	// tenant.Version-1, returning ErrVersionConflict otherwise.
	UpdateTenant(ctx context.Context, tenant *model.Tenant) error
}

// DefinitionStore persists immutable published definition versions.
type DefinitionStore interface {
	// CreateVersion appends a new definition version. Versions are never
	// overwritten.
	CreateVersion(ctx context.Context, def *model.WorkflowDefinition) error
	// GetVersion returns one pinned version, ErrNotFound on tenant mismatch
	// or absent version.
	GetVersion(ctx context.Context, tenantID, definitionID string, version int) (*model.WorkflowDefinition, error)
	// GetActive returns the currently selectable version for the name.
	GetActive(ctx context.Context, tenantID, name string) (*model.WorkflowDefinition, error)
	// GetActiveByID returns the currently selectable version of a definition
	// lineage, used when creating new instances.
	GetActiveByID(ctx context.Context, tenantID, definitionID string) (*model.WorkflowDefinition, error)
	// LatestVersion returns the highest published version for the name, or 0.
	LatestVersion(ctx context.Context, tenantID, name string) (int, error)
	// SupersedeActive archives the currently active version for the name so a
	// newer version can take its place. Archived versions stay retrievable.
	SupersedeActive(ctx context.Context, tenantID, name string) error
}

// InstanceStore persists workflow instances with optimistic concurrency.
type InstanceStore interface {
	CreateInstance(ctx context.Context, inst *model.WorkflowInstance, rec *model.TransitionRecord) error
	GetInstance(ctx context.Context, tenantID, instanceID string) (*model.WorkflowInstance, error)
	// CommitTransition writes the instance state and appends the record as one
	// logical unit, guarded by compare-and-swap on expectedVersion. Either
	// both are persisted or neither is. Returns ErrVersionConflict if the
	// stored version moved.
	CommitTransition(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, rec *model.TransitionRecord) error
	// SetAssignment updates the instance assignee under compare-and-swap on
	// expectedVersion.
	SetAssignment(ctx context.Context, tenantID, instanceID, assignee string, expectedVersion int64) error
}

// AuditStore reads and appends immutable audit records. Appended records are
// never mutated or deleted.
type AuditStore interface {
	// Append records a non-transition audit fact (denial, escalation).
	// Transition records are appended through InstanceStore.CommitTransition.
	Append(ctx context.Context, rec *model.TransitionRecord) error
	// ListByInstance returns records ordered by (timestamp, sequence),
	// optionally filtered to the given kinds.
	ListByInstance(ctx context.Context, tenantID, instanceID string, kinds ...model.AuditKind) ([]*model.TransitionRecord, error)
	// ListByTimeRange returns a tenant's records in [from, to) ordered by
	// (timestamp, sequence).
	ListByTimeRange(ctx context.Context, tenantID string, from, to time.Time) ([]*model.TransitionRecord, error)
}

// TimerStore persists SLA timers.
type TimerStore interface {
	// CreateTimer inserts an active timer, ErrTimerExists if an active timer
	// already exists for the (instance, state) pair.
	CreateTimer(ctx context.Context, timer *model.SLATimer) error
	// UpdateTimerStatus moves a timer from one status to another, returning
	// ErrVersionConflict if the stored status is not the expected one. This is
	// the claim point that keeps a firing timer and a cancelling transition
	// from both winning.
	UpdateTimerStatus(ctx context.Context, tenantID, timerID string, from, to model.TimerStatus) error
	// CancelActiveTimer cancels the active timer for the (instance, state)
	// pair if one exists. Returns ErrNotFound when none is active.
	CancelActiveTimer(ctx context.Context, tenantID, instanceID, stateID string) error
	// CancelInstanceTimers cancels all active timers for the instance,
	// returning how many were cancelled.
	CancelInstanceTimers(ctx context.Context, tenantID, instanceID string) (int, error)
	// ListDue returns active timers with ExpiresAt <= now, oldest first. This
	// is the scheduler's internal sweep and spans tenants; every returned row
	// still carries its tenant id and all mutations remain tenant-scoped.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.SLATimer, error)
}

// IdempotencyStore caches transition results keyed by idempotency key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache interface for in-memory caching
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
