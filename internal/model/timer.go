package model

import "time"

// TimerStatus represents the lifecycle status of an SLA timer.
type TimerStatus string

const (
	TimerStatusActive    TimerStatus = "active"
	TimerStatusCancelled TimerStatus = "cancelled"
	TimerStatusFired     TimerStatus = "fired"
	// TimerStatusStale marks a timer that came due after its instance had
	// already left the originating state. Stale timers are discarded.
	TimerStatusStale TimerStatus = "stale"
)

// SLATimer is a scheduled deadline tied to an instance remaining in a given
// state. At most one active timer exists per (instance, state) pair.
type SLATimer struct {
	ID         string
	TenantID   string
	InstanceID string
	StateID    string
	ExpiresAt  time.Time
	Status     TimerStatus

	// EscalationLevel indexes into the state's escalation rule chain. Level
	// N+1 timers are created by the escalation engine via NextLevelDelay.
	EscalationLevel int

	CreatedAt time.Time
	UpdatedAt time.Time
}
