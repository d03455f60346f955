package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/flowline/internal/model"
)

// slaDefinition puts an SLA with a notify escalation on the submitted state.
func slaDefinition(tenantID string, duration time.Duration) *model.WorkflowDefinition {
	def := approvalDefinition(tenantID)
	def.States[1].SLA = &model.SLA{
		Duration: duration,
		EscalationRules: []model.EscalationRule{
			{Action: model.EscalationNotify, Target: "manager"},
		},
	}
	return def
}

func TestTimerFiresAndEscalates(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	published, err := e.definitions.Publish(ctx, slaDefinition("acme", 30*time.Millisecond))
	require.NoError(t, err)

	e.scheduler.Start()
	defer e.scheduler.Stop(time.Second)

	inst, err := e.executor.Create(ctx, "acme", published.ID, nil, "alice")
	require.NoError(t, err)
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	require.NoError(t, err)

	waitFor(t, 2*time.Second, func() bool {
		return len(e.events.byType(model.EventSLAViolated)) == 1
	})
	waitFor(t, 2*time.Second, func() bool {
		return e.notifier.count() == 1
	})

	// Exactly one escalation record, addressed to the rule target.
	trail, err := e.audit.Trail(ctx, "acme", inst.ID)
	require.NoError(t, err)
	var escalations []*model.TransitionRecord
	for _, rec := range trail {
		if rec.Kind == model.AuditKindEscalation {
			escalations = append(escalations, rec)
		}
	}
	require.Len(t, escalations, 1)
	assert.Equal(t, "manager", escalations[0].Metadata["target"])

	// Firing once, the timer never fires again.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, e.events.byType(model.EventSLAViolated), 1)
}

func TestTimerCancelledByTransition(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	published, err := e.definitions.Publish(ctx, slaDefinition("acme", 500*time.Millisecond))
	require.NoError(t, err)

	e.scheduler.Start()
	defer e.scheduler.Stop(time.Second)

	inst, err := e.executor.Create(ctx, "acme", published.ID, nil, "alice")
	require.NoError(t, err)
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	require.NoError(t, err)

	// Leave the state well before the deadline.
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "approve", "alice", nil, "")
	require.NoError(t, err)

	time.Sleep(700 * time.Millisecond)
	assert.Empty(t, e.events.byType(model.EventSLAViolated))
	assert.Zero(t, e.notifier.count())
}

func TestStaleTimerDiscarded(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	published, err := e.definitions.Publish(ctx, slaDefinition("acme", time.Minute))
	require.NoError(t, err)

	inst, err := e.executor.Create(ctx, "acme", published.ID, nil, "alice")
	require.NoError(t, err)
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	require.NoError(t, err)

	// An already-due timer still points at draft, which the instance has
	// left. The sweep must mark it stale, never escalate it.
	stray := &model.SLATimer{
		ID:         "stray",
		TenantID:   "acme",
		InstanceID: inst.ID,
		StateID:    "draft",
		ExpiresAt:  time.Now().Add(-time.Second),
		Status:     model.TimerStatusActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, e.timerStore.CreateTimer(ctx, stray))

	e.scheduler.Start()
	defer e.scheduler.Stop(time.Second)

	waitFor(t, 2*time.Second, func() bool {
		due, err := e.timerStore.ListDue(ctx, time.Now(), 10)
		if err != nil {
			return false
		}
		for _, timer := range due {
			if timer.ID == "stray" {
				return false
			}
		}
		return true
	})
	assert.Empty(t, e.events.byType(model.EventSLAViolated))
	assert.Zero(t, e.notifier.count())
}

func TestCancelInstanceCancelsTimers(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	published, err := e.definitions.Publish(ctx, slaDefinition("acme", 50*time.Millisecond))
	require.NoError(t, err)

	e.scheduler.Start()
	defer e.scheduler.Stop(time.Second)

	inst, err := e.executor.Create(ctx, "acme", published.ID, nil, "alice")
	require.NoError(t, err)
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	require.NoError(t, err)

	require.NoError(t, e.executor.Cancel(ctx, "acme", inst.ID, "alice", "abandoned"))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, e.events.byType(model.EventSLAViolated))
}

func TestDuplicateActiveTimerRefused(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	inst := &model.WorkflowInstance{
		ID:           "i1",
		TenantID:     "acme",
		CurrentState: "submitted",
		Status:       model.InstanceStatusRunning,
	}
	state := &model.State{ID: "submitted", SLA: &model.SLA{Duration: time.Hour}}

	require.NoError(t, e.scheduler.ScheduleState(ctx, inst, state))
	// A second schedule for the same (instance, state) pair is a no-op.
	require.NoError(t, e.scheduler.ScheduleState(ctx, inst, state))

	due, err := e.timerStore.ListDue(ctx, time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
