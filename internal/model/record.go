package model

import "time"

// AuditKind classifies append-only audit entries.
type AuditKind string

const (
	AuditKindTransition   AuditKind = "transition"
	AuditKindCancellation AuditKind = "cancellation"
	AuditKindDenial       AuditKind = "denial"
	AuditKindEscalation   AuditKind = "escalation"
)

// TransitionRecord is an immutable, append-only fact about an instance. Records
// are never mutated or deleted and form the sole source of instance history.
// Total order per instance is by (Timestamp, Sequence).
type TransitionRecord struct {
	ID         string
	TenantID   string
	InstanceID string
	Sequence   int64
	Kind       AuditKind
	FromState  string
	ToState    string
	ActorID    string
	Timestamp  time.Time
	Reason     string
	Metadata   map[string]any
}
