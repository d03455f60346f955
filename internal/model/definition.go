package model

import "time"

// DefinitionStatus represents the lifecycle status of a definition version.
type DefinitionStatus string

const (
	DefinitionStatusDraft    DefinitionStatus = "draft"
	DefinitionStatusActive   DefinitionStatus = "active"
	DefinitionStatusArchived DefinitionStatus = "archived"
)

// StateType classifies how a state is advanced.
type StateType string

const (
	StateTypeManual    StateType = "manual"
	StateTypeAutomatic StateType = "automatic"
	StateTypeWait      StateType = "wait"
)

// ActionType is the closed set of side effects a state or transition may
// declare. New kinds are a deliberate, reviewed addition.
type ActionType string

const (
	ActionAssign   ActionType = "assign"
	ActionNotify   ActionType = "notify"
	ActionEscalate ActionType = "escalate"
)

// Action declares a side effect executed asynchronously after a transition
// commits. Action failures never revert the committed transition.
type Action struct {
	Type   ActionType     `json:"type"`
	Target string         `json:"target,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// EscalationAction is the closed set of effects an escalation rule may apply.
type EscalationAction string

const (
	EscalationNotify     EscalationAction = "notify"
	EscalationReassign   EscalationAction = "reassign"
	EscalationTransition EscalationAction = "transition"
)

// EscalationRule is one level of a state's SLA escalation chain. Rules are
// applied in declared order; NextLevelDelay schedules the following level.
type EscalationRule struct {
	Target         string           `json:"target,omitempty"`
	Action         EscalationAction `json:"action"`
	TransitionID   string           `json:"transition_id,omitempty"`
	NextLevelDelay time.Duration    `json:"next_level_delay,omitempty"`
}

// SLA bounds how long an instance may remain in a state before escalation.
type SLA struct {
	Duration        time.Duration    `json:"duration"`
	EscalationRules []EscalationRule `json:"escalation_rules,omitempty"`
}

// State is a node of the workflow state machine.
type State struct {
	ID       string    `json:"id"`
	Type     StateType `json:"type"`
	Terminal bool      `json:"terminal,omitempty"`
	SLA      *SLA      `json:"sla,omitempty"`
	Actions  []Action  `json:"actions,omitempty"`
}

// Condition is a node of the closed-grammar boolean expression tree evaluated
// against the merged instance/actor context. Leaf operators compare the
// context value at Key against Value; and/or/not combine child nodes. The
// grammar is interpreted by a pure function and cannot execute arbitrary code.
type Condition struct {
	Op    string       `json:"op"`
	Key   string       `json:"key,omitempty"`
	Value any          `json:"value,omitempty"`
	Args  []*Condition `json:"args,omitempty"`
}

// Transition is a directed edge between two states, guarded by conditions and
// authorization requirements.
type Transition struct {
	ID                  string       `json:"id"`
	From                string       `json:"from"`
	To                  string       `json:"to"`
	Conditions          []*Condition `json:"conditions,omitempty"`
	RequiredRoles       []string     `json:"required_roles,omitempty"`
	RequiredPermissions []string     `json:"required_permissions,omitempty"`
	RequiresOwnership   bool         `json:"requires_ownership,omitempty"`
	Actions             []Action     `json:"actions,omitempty"`
}

// WorkflowDefinition is a tenant-owned, versioned state-machine blueprint.
// A published version is immutable; edits create a new version.
type WorkflowDefinition struct {
	ID           string           `json:"id"`
	TenantID     string           `json:"tenant_id"`
	Name         string           `json:"name"`
	Version      int              `json:"version"`
	Status       DefinitionStatus `json:"status"`
	InitialState string           `json:"initial_state"`
	States       []State          `json:"states"`
	Transitions  []Transition     `json:"transitions"`
	CreatedAt    time.Time        `json:"created_at"`
	CreatedBy    string           `json:"created_by,omitempty"`
}

// StateByID returns the state with the given id, or nil.
func (d *WorkflowDefinition) StateByID(id string) *State {
	for i := range d.States {
		if d.States[i].ID == id {
			return &d.States[i]
		}
	}
	return nil
}

// TransitionFrom returns the transition with the given id departing from the
// given state, or nil if no such edge exists.
func (d *WorkflowDefinition) TransitionFrom(fromState, transitionID string) *Transition {
	for i := range d.Transitions {
		t := &d.Transitions[i]
		if t.From == fromState && t.ID == transitionID {
			return t
		}
	}
	return nil
}
