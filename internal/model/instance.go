package model

import "time"

// InstanceStatus represents the lifecycle status of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
	InstanceStatusFailed    InstanceStatus = "failed"
)

// WorkflowInstance is one running execution of a pinned definition version.
// Its tenant id must equal the owning definition's tenant id on every access.
type WorkflowInstance struct {
	ID                string
	TenantID          string
	DefinitionID      string
	DefinitionVersion int
	CurrentState      string
	Status            InstanceStatus
	Context           map[string]any
	AssignedTo        string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Version           int64 // For optimistic locking
}

// Running reports whether transitions may still be applied.
func (i *WorkflowInstance) Running() bool {
	return i.Status == InstanceStatusRunning
}

// CloneContext returns a shallow copy of the instance context, never nil.
func (i *WorkflowInstance) CloneContext() map[string]any {
	out := make(map[string]any, len(i.Context))
	for k, v := range i.Context {
		out[k] = v
	}
	return out
}
