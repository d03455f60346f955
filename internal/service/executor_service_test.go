package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackmesh/flowline/internal/model"
)

func TestExecuteTransitionFullLifecycle(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)

	inst, err := e.executor.Create(ctx, "acme", def.ID, map[string]any{"amount": 250}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "draft", inst.CurrentState)
	assert.Equal(t, model.InstanceStatusRunning, inst.Status)
	assert.Equal(t, def.Version, inst.DefinitionVersion)

	result, err := e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "draft", result.FromState)
	assert.Equal(t, "submitted", result.NewState)
	assert.False(t, result.Completed)

	result, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "approve", "alice", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "approved", result.NewState)

	result, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "close", "alice", nil, "")
	require.NoError(t, err)
	assert.True(t, result.Completed)

	final, err := e.executor.GetInstance(ctx, "acme", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusCompleted, final.Status)
	assert.Equal(t, "closed", final.CurrentState)

	// Creation plus three transitions.
	history, err := e.executor.GetHistory(ctx, "acme", inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "", history[0].FromState)
	assert.Equal(t, "draft", history[0].ToState)
	assert.Equal(t, "closed", history[3].ToState)
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].Sequence, history[i-1].Sequence)
	}
}

func TestExecuteTransitionRejectsInvalidEdge(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, nil, "alice")
	require.NoError(t, err)

	// No "close" edge departs from draft.
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "close", "alice", nil, "")
	var invalidErr *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)

	// The instance is untouched.
	got, err := e.executor.GetInstance(ctx, "acme", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.CurrentState)
}

func TestExecuteTransitionTerminalInstanceRefused(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, nil, "alice")
	require.NoError(t, err)

	for _, tr := range []string{"submit", "approve", "close"} {
		_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, tr, "alice", nil, "")
		require.NoError(t, err)
	}

	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	var invalidErr *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
}

func TestExecuteTransitionConditionDenied(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def := approvalDefinition("acme")
	def.Transitions[0].Conditions = []*model.Condition{
		{Op: OpGte, Key: "amount", Value: 100},
	}
	published, err := e.definitions.Publish(ctx, def)
	require.NoError(t, err)

	inst, err := e.executor.Create(ctx, "acme", published.ID, map[string]any{"amount": 50}, "alice")
	require.NoError(t, err)

	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	var condErr *model.ConditionNotMetError
	require.ErrorAs(t, err, &condErr)
	assert.Equal(t, "submit", condErr.TransitionID)

	// The denial lands in the full trail but not in the history.
	trail, err := e.audit.Trail(ctx, "acme", inst.ID)
	require.NoError(t, err)
	var denials int
	for _, rec := range trail {
		if rec.Kind == model.AuditKindDenial {
			denials++
		}
	}
	assert.Equal(t, 1, denials)

	history, err := e.executor.GetHistory(ctx, "acme", inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	// Caller context cannot override an instance value during evaluation.
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice",
		map[string]any{"amount": 500}, "")
	require.ErrorAs(t, err, &condErr)
}

func TestExecuteTransitionAuthorizationDenied(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	e.directory.Register(&model.Actor{
		ID:       "bob",
		TenantID: "acme",
		Roles:    []string{"submitter"},
		Type:     model.ActorTypeInternal,
	})

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, nil, "bob")
	require.NoError(t, err)

	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "bob", nil, "")
	require.NoError(t, err)

	// bob lacks the approver role.
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "approve", "bob", nil, "")
	var unauthorized *model.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)

	got, err := e.executor.GetInstance(ctx, "acme", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "submitted", got.CurrentState)
}

func TestExecuteTransitionIdempotentReplay(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, nil, "alice")
	require.NoError(t, err)

	first, err := e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "req-1")
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	// Same key: the stored result comes back, no re-execution.
	replay, err := e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "req-1")
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.NewState, replay.NewState)
	assert.Equal(t, first.Record.ID, replay.Record.ID)

	history, err := e.executor.GetHistory(ctx, "acme", inst.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2, "replay must not append a record")
}

func TestExecuteTransitionConcurrentSingleWinner(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	// Two edges depart from draft so concurrent callers race for the single
	// version slot.
	def := approvalDefinition("acme")
	def.Transitions = append(def.Transitions, model.Transition{ID: "discard", From: "draft", To: "closed"})
	published, err := e.definitions.Publish(ctx, def)
	require.NoError(t, err)

	inst, err := e.executor.Create(ctx, "acme", published.ID, nil, "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*TransitionResult, 2)
	errs := make([]error, 2)
	for i, tr := range []string{"submit", "discard"} {
		wg.Add(1)
		go func(slot int, transitionID string) {
			defer wg.Done()
			results[slot], errs[slot] = e.executor.ExecuteTransition(ctx, "acme", inst.ID, transitionID, "alice", nil, "")
		}(i, tr)
	}
	wg.Wait()

	// Exactly one succeeds; the loser either conflicts out or retries into a
	// state where its edge no longer applies.
	var wins int
	for i := range results {
		if errs[i] == nil {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	got, err := e.executor.GetInstance(ctx, "acme", inst.ID)
	require.NoError(t, err)
	assert.Contains(t, []string{"submitted", "closed"}, got.CurrentState)
}

func TestCancelInstance(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, nil, "alice")
	require.NoError(t, err)

	require.NoError(t, e.executor.Cancel(ctx, "acme", inst.ID, "alice", "superseded"))

	got, err := e.executor.GetInstance(ctx, "acme", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusCancelled, got.Status)

	history, err := e.executor.GetHistory(ctx, "acme", inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.AuditKindCancellation, history[1].Kind)
	assert.Equal(t, "superseded", history[1].Reason)

	// Cancelled instances refuse further work.
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	var invalidErr *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
	err = e.executor.Cancel(ctx, "acme", inst.ID, "alice", "again")
	require.ErrorAs(t, err, &invalidErr)
}

func TestInstancePinnedToDefinitionVersion(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	v1, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", v1.ID, nil, "alice")
	require.NoError(t, err)

	// Publish v2 without the submit edge.
	v2def := approvalDefinition("acme")
	v2def.Transitions = []model.Transition{
		{ID: "fast-close", From: "draft", To: "closed"},
		{ID: "reopen", From: "closed", To: "draft"},
	}
	v2def.States = []model.State{
		{ID: "draft", Type: model.StateTypeManual},
		{ID: "closed", Type: model.StateTypeManual, Terminal: true},
	}
	v2, err := e.definitions.Publish(ctx, v2def)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, v2.ID)
	assert.Equal(t, 2, v2.Version)

	// The running instance still follows v1.
	result, err := e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "submitted", result.NewState)

	// A new instance picks up v2.
	inst2, err := e.executor.Create(ctx, "acme", v2.ID, nil, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, inst2.DefinitionVersion)
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst2.ID, "submit", "alice", nil, "")
	var invalidErr *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
}

func TestSuspendedTenantRefused(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, nil, "alice")
	require.NoError(t, err)

	_, err = e.tenants.SetStatus(ctx, "acme", model.TenantStatusSuspended)
	require.NoError(t, err)

	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	var unauthorized *model.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)

	_, err = e.executor.Create(ctx, "acme", def.ID, nil, "alice")
	require.ErrorAs(t, err, &unauthorized)

	// System-attributed entry points honor the gate too.
	_, err = e.executor.ForceTransition(ctx, "acme", inst.ID, "submit", "sla escalation")
	require.ErrorAs(t, err, &unauthorized)

	err = e.executor.Reassign(ctx, "acme", inst.ID, "oncall")
	require.ErrorAs(t, err, &unauthorized)

	err = e.executor.Cancel(ctx, "acme", inst.ID, "alice", "cleanup")
	require.ErrorAs(t, err, &unauthorized)
}

func TestTransitionContextMergedIntoInstance(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, map[string]any{"amount": 10}, "alice")
	require.NoError(t, err)

	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice",
		map[string]any{"note": "urgent", "amount": 20}, "")
	require.NoError(t, err)

	got, err := e.executor.GetInstance(ctx, "acme", inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "urgent", got.Context["note"])
	assert.Equal(t, 20, got.Context["amount"])
	// Actor attributes are evaluation-only, never persisted.
	assert.NotContains(t, got.Context, "actor_id")
	assert.NotContains(t, got.Context, "actor_roles")
}

func TestAssignActionSetsAssigneeAndEmitsEvent(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def := approvalDefinition("acme")
	def.States[1].Actions = []model.Action{{Type: model.ActionAssign, Target: "bob"}}
	published, err := e.definitions.Publish(ctx, def)
	require.NoError(t, err)

	inst, err := e.executor.Create(ctx, "acme", published.ID, nil, "alice")
	require.NoError(t, err)
	_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, "submit", "alice", nil, "")
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		got, err := e.executor.GetInstance(ctx, "acme", inst.ID)
		return err == nil && got.AssignedTo == "bob"
	})
	waitFor(t, time.Second, func() bool {
		return len(e.events.byType(model.EventTaskAssigned)) == 1
	})
}

func TestTransitionEventsPublished(t *testing.T) {
	e := newTestEngine(t)
	e.seedTenant(t, "acme")
	ctx := context.Background()

	def, err := e.definitions.Publish(ctx, approvalDefinition("acme"))
	require.NoError(t, err)
	inst, err := e.executor.Create(ctx, "acme", def.ID, nil, "alice")
	require.NoError(t, err)

	for _, tr := range []string{"submit", "approve", "close"} {
		_, err = e.executor.ExecuteTransition(ctx, "acme", inst.ID, tr, "alice", nil, "")
		require.NoError(t, err)
	}

	waitFor(t, time.Second, func() bool {
		return len(e.events.byType(model.EventWorkflowTransitioned)) == 3 &&
			len(e.events.byType(model.EventWorkflowCompleted)) == 1
	})
}
