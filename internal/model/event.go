package model

import "time"

// EventType is the closed set of domain events the engine emits.
type EventType string

const (
	EventWorkflowTransitioned EventType = "workflow.transitioned"
	EventWorkflowCompleted    EventType = "workflow.completed"
	EventSLAViolated          EventType = "sla.violated"
	EventTaskAssigned         EventType = "task.assigned"
)

// Event is a domain event published on the executor-owned event bus and
// consumed by an injected, closed set of handlers.
type Event struct {
	ID         string
	Type       EventType
	TenantID   string
	InstanceID string
	Payload    map[string]any
	Timestamp  time.Time
}
