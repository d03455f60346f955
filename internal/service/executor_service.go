package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/metrics"
	"github.com/stackmesh/flowline/internal/model"
	"github.com/stackmesh/flowline/internal/store"
)

// Context keys injected for condition evaluation only. They never persist into
// the instance context.
const (
	ctxKeyActorID    = "actor_id"
	ctxKeyActorRoles = "actor_roles"
	ctxKeyActorType  = "actor_type"
)

// TransitionResult is the outcome of a committed transition. It is what
// idempotent replays return, so it carries everything a caller needs without
// re-reading the instance.
type TransitionResult struct {
	InstanceID string                  `json:"instance_id"`
	FromState  string                  `json:"from_state"`
	NewState   string                  `json:"new_state"`
	Completed  bool                    `json:"completed"`
	Replayed   bool                    `json:"replayed"`
	Record     *model.TransitionRecord `json:"record"`
}

// ExecutorService drives workflow instances through their state machines. Each
// transition is validated against the instance's pinned definition version,
// guarded by conditions and authorization, and committed together with its
// audit record under optimistic concurrency control. Declared actions run
// asynchronously after the commit and never revert it.
type ExecutorService struct {
	tenants     *TenantService
	definitions *DefinitionService
	actors      *ActorService
	instances   store.InstanceStore
	audit       *AuditService
	idempotency *IdempotencyService
	scheduler   *SchedulerService
	conditions  *ConditionEvaluator
	authorizer  *AuthorizationService
	bus         *EventBus
	notifier    Notifier

	maxAttempts int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewExecutorService creates a new workflow executor.
func NewExecutorService(
	tenants *TenantService,
	definitions *DefinitionService,
	actors *ActorService,
	instances store.InstanceStore,
	audit *AuditService,
	idempotency *IdempotencyService,
	scheduler *SchedulerService,
	conditions *ConditionEvaluator,
	authorizer *AuthorizationService,
	bus *EventBus,
	notifier Notifier,
	maxAttempts int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ExecutorService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ExecutorService{
		tenants:     tenants,
		definitions: definitions,
		actors:      actors,
		instances:   instances,
		audit:       audit,
		idempotency: idempotency,
		scheduler:   scheduler,
		conditions:  conditions,
		authorizer:  authorizer,
		bus:         bus,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		metrics:     m,
		logger:      logger,
	}
}

// Create starts a new instance of the active version of a definition lineage.
// The instance is pinned to that version for its whole lifetime; later
// publishes never affect it.
func (s *ExecutorService) Create(ctx context.Context, tenantID, definitionID string, initialCtx map[string]any, createdBy string) (*model.WorkflowInstance, error) {
	if _, err := s.tenants.RequireActiveTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	def, err := s.definitions.GetActiveByID(ctx, tenantID, definitionID)
	if err != nil {
		return nil, err
	}

	if initialCtx == nil {
		initialCtx = make(map[string]any)
	}

	now := time.Now()
	inst := &model.WorkflowInstance{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		CurrentState:      def.InitialState,
		Status:            model.InstanceStatusRunning,
		Context:           initialCtx,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		UpdatedAt:         now,
		Version:           1,
	}

	rec := NewRecord(model.AuditKindTransition, tenantID, inst.ID, "", def.InitialState, createdBy, "instance created")
	if err := s.instances.CreateInstance(ctx, inst, rec); err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	s.logger.Info("Created workflow instance",
		zap.String("tenant_id", tenantID),
		zap.String("instance_id", inst.ID),
		zap.String("definition_id", def.ID),
		zap.Int("definition_version", def.Version),
		zap.String("initial_state", def.InitialState))

	if initial := def.StateByID(def.InitialState); initial != nil {
		if err := s.scheduler.ScheduleState(ctx, inst, initial); err != nil {
			s.logger.Error("Failed to schedule initial SLA timer",
				zap.String("instance_id", inst.ID),
				zap.Error(err))
		}
		s.dispatchActions(inst, def, initial.Actions)
	}

	return inst, nil
}

// GetInstance returns a tenant-scoped instance.
func (s *ExecutorService) GetInstance(ctx context.Context, tenantID, instanceID string) (*model.WorkflowInstance, error) {
	inst, err := s.instances.GetInstance(ctx, tenantID, instanceID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.NewNotFoundError("instance", instanceID)
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

// GetHistory returns the instance's transition and cancellation records.
func (s *ExecutorService) GetHistory(ctx context.Context, tenantID, instanceID string) ([]*model.TransitionRecord, error) {
	if _, err := s.GetInstance(ctx, tenantID, instanceID); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, tenantID, instanceID)
}

// ExecuteTransition applies a named transition to an instance on behalf of an
// actor. The whole decision pipeline runs against a snapshot of the instance
// and commits with compare-and-swap; on a version conflict the pipeline is
// re-run from a fresh snapshot, up to the configured attempt limit.
func (s *ExecutorService) ExecuteTransition(ctx context.Context, tenantID, instanceID, transitionID, actorID string, transitionCtx map[string]any, idempotencyKey string) (*TransitionResult, error) {
	start := time.Now()

	tenant, err := s.tenants.RequireActiveTenant(ctx, tenantID)
	if err != nil {
		s.observe(tenantID, "rejected", start, err)
		return nil, err
	}

	if idempotencyKey != "" {
		if prior, err := s.idempotency.Get(ctx, tenantID, instanceID, idempotencyKey); err == nil && prior != nil {
			s.metrics.IdempotentReplays.Inc()
			prior.Replayed = true
			return prior, nil
		}
	}

	actor, err := s.actors.ResolveActor(ctx, tenantID, actorID)
	if err != nil {
		s.observe(tenantID, "rejected", start, err)
		return nil, err
	}

	var result *TransitionResult
	var target *model.State
	var def *model.WorkflowDefinition
	var inst *model.WorkflowInstance
	var fromState string

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		inst, err = s.GetInstance(ctx, tenantID, instanceID)
		if err != nil {
			s.observe(tenantID, "rejected", start, err)
			return nil, err
		}

		if !inst.Running() {
			err = model.NewInvalidTransitionError("instance %q is %s", instanceID, inst.Status)
			s.observe(tenantID, "rejected", start, err)
			return nil, err
		}

		def, err = s.definitions.GetVersion(ctx, tenantID, inst.DefinitionID, inst.DefinitionVersion)
		if err != nil {
			s.observe(tenantID, "rejected", start, err)
			return nil, err
		}

		edge := def.TransitionFrom(inst.CurrentState, transitionID)
		if edge == nil {
			err = model.NewInvalidTransitionError("no transition %q from state %q", transitionID, inst.CurrentState)
			s.observe(tenantID, "rejected", start, err)
			return nil, err
		}

		evalCtx := mergeContexts(inst.Context, transitionCtx, actor)
		if !s.conditions.EvaluateAll(edge.Conditions, evalCtx) {
			err = &model.ConditionNotMetError{TransitionID: transitionID}
			s.audit.RecordDenial(ctx, tenantID, instanceID, inst.CurrentState, actorID, err.Error())
			s.metrics.DenialsTotal.WithLabelValues(tenantID, "condition").Inc()
			s.observe(tenantID, "denied", start, err)
			return nil, err
		}

		if err = s.authorizer.Authorize(actor, edge, inst, tenant); err != nil {
			s.audit.RecordDenial(ctx, tenantID, instanceID, inst.CurrentState, actorID, err.Error())
			s.metrics.DenialsTotal.WithLabelValues(tenantID, "authorization").Inc()
			s.observe(tenantID, "denied", start, err)
			return nil, err
		}

		target = def.StateByID(edge.To)
		fromState = inst.CurrentState

		updated := *inst
		updated.CurrentState = edge.To
		updated.Context = mergeInstanceContext(inst.Context, transitionCtx)
		updated.UpdatedAt = time.Now()
		if target.Terminal {
			updated.Status = model.InstanceStatusCompleted
		}

		rec := NewRecord(model.AuditKindTransition, tenantID, instanceID, fromState, edge.To, actorID, transitionID)
		commitErr := s.instances.CommitTransition(ctx, &updated, inst.Version, rec)
		if commitErr == store.ErrVersionConflict {
			s.metrics.ConflictRetries.Inc()
			s.logger.Debug("Transition commit conflicted, retrying",
				zap.String("instance_id", instanceID),
				zap.Int("attempt", attempt))
			continue
		}
		if commitErr != nil {
			err = fmt.Errorf("failed to commit transition: %w", commitErr)
			s.observe(tenantID, "error", start, err)
			return nil, err
		}

		inst = &updated
		result = &TransitionResult{
			InstanceID: instanceID,
			FromState:  fromState,
			NewState:   edge.To,
			Completed:  target.Terminal,
			Record:     rec,
		}
		break
	}

	if result == nil {
		err = &model.ConcurrencyConflictError{InstanceID: instanceID, Attempts: s.maxAttempts}
		s.observe(tenantID, "conflict", start, err)
		return nil, err
	}

	// Post-commit side effects. None of these can revert the transition.
	s.scheduler.OnTransition(ctx, inst, fromState, target)
	s.dispatchActions(inst, def, target.Actions)

	s.bus.Publish(&model.Event{
		Type:       model.EventWorkflowTransitioned,
		TenantID:   tenantID,
		InstanceID: instanceID,
		Payload: map[string]any{
			"from_state":    fromState,
			"to_state":      result.NewState,
			"transition_id": transitionID,
			"actor_id":      actorID,
		},
	})
	if result.Completed {
		s.bus.Publish(&model.Event{
			Type:       model.EventWorkflowCompleted,
			TenantID:   tenantID,
			InstanceID: instanceID,
			Payload:    map[string]any{"final_state": result.NewState},
		})
	}

	if idempotencyKey != "" {
		if err := s.idempotency.Store(ctx, tenantID, instanceID, idempotencyKey, result); err != nil {
			s.logger.Warn("Failed to store idempotency result",
				zap.String("instance_id", instanceID),
				zap.Error(err))
		}
	}

	s.metrics.TransitionsTotal.WithLabelValues(tenantID, "success").Inc()
	s.metrics.TransitionDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	s.logger.Info("Executed transition",
		zap.String("tenant_id", tenantID),
		zap.String("instance_id", instanceID),
		zap.String("transition_id", transitionID),
		zap.String("from_state", fromState),
		zap.String("to_state", result.NewState),
		zap.Bool("completed", result.Completed))

	return result, nil
}

// ForceTransition applies a transition without condition or authorization
// checks, attributed to the system actor. Used by escalation rules; the
// tenant must be active and the edge must still exist from the instance's
// current state.
func (s *ExecutorService) ForceTransition(ctx context.Context, tenantID, instanceID, transitionID, reason string) (*TransitionResult, error) {
	if _, err := s.tenants.RequireActiveTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	var result *TransitionResult
	var target *model.State
	var def *model.WorkflowDefinition
	var inst *model.WorkflowInstance
	var fromState string
	var err error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		inst, err = s.GetInstance(ctx, tenantID, instanceID)
		if err != nil {
			return nil, err
		}
		if !inst.Running() {
			return nil, model.NewInvalidTransitionError("instance %q is %s", instanceID, inst.Status)
		}

		def, err = s.definitions.GetVersion(ctx, tenantID, inst.DefinitionID, inst.DefinitionVersion)
		if err != nil {
			return nil, err
		}

		edge := def.TransitionFrom(inst.CurrentState, transitionID)
		if edge == nil {
			return nil, model.NewInvalidTransitionError("no transition %q from state %q", transitionID, inst.CurrentState)
		}

		target = def.StateByID(edge.To)
		fromState = inst.CurrentState

		updated := *inst
		updated.CurrentState = edge.To
		updated.UpdatedAt = time.Now()
		if target.Terminal {
			updated.Status = model.InstanceStatusCompleted
		}

		rec := NewRecord(model.AuditKindTransition, tenantID, instanceID, fromState, edge.To, "system", reason)
		commitErr := s.instances.CommitTransition(ctx, &updated, inst.Version, rec)
		if commitErr == store.ErrVersionConflict {
			s.metrics.ConflictRetries.Inc()
			continue
		}
		if commitErr != nil {
			return nil, fmt.Errorf("failed to commit transition: %w", commitErr)
		}

		inst = &updated
		result = &TransitionResult{
			InstanceID: instanceID,
			FromState:  fromState,
			NewState:   edge.To,
			Completed:  target.Terminal,
			Record:     rec,
		}
		break
	}

	if result == nil {
		return nil, &model.ConcurrencyConflictError{InstanceID: instanceID, Attempts: s.maxAttempts}
	}

	s.scheduler.OnTransition(ctx, inst, fromState, target)
	s.dispatchActions(inst, def, target.Actions)

	s.bus.Publish(&model.Event{
		Type:       model.EventWorkflowTransitioned,
		TenantID:   tenantID,
		InstanceID: instanceID,
		Payload: map[string]any{
			"from_state":    fromState,
			"to_state":      result.NewState,
			"transition_id": transitionID,
			"actor_id":      "system",
		},
	})
	if result.Completed {
		s.bus.Publish(&model.Event{
			Type:       model.EventWorkflowCompleted,
			TenantID:   tenantID,
			InstanceID: instanceID,
			Payload:    map[string]any{"final_state": result.NewState},
		})
	}

	s.metrics.TransitionsTotal.WithLabelValues(tenantID, "forced").Inc()
	return result, nil
}

// Cancel terminates a running instance and cancels its outstanding timers.
func (s *ExecutorService) Cancel(ctx context.Context, tenantID, instanceID, actorID, reason string) error {
	if _, err := s.tenants.RequireActiveTenant(ctx, tenantID); err != nil {
		return err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		inst, err := s.GetInstance(ctx, tenantID, instanceID)
		if err != nil {
			return err
		}
		if !inst.Running() {
			return model.NewInvalidTransitionError("instance %q is %s", instanceID, inst.Status)
		}

		updated := *inst
		updated.Status = model.InstanceStatusCancelled
		updated.UpdatedAt = time.Now()

		rec := NewRecord(model.AuditKindCancellation, tenantID, instanceID, inst.CurrentState, inst.CurrentState, actorID, reason)
		commitErr := s.instances.CommitTransition(ctx, &updated, inst.Version, rec)
		if commitErr == store.ErrVersionConflict {
			s.metrics.ConflictRetries.Inc()
			continue
		}
		if commitErr != nil {
			return fmt.Errorf("failed to cancel instance: %w", commitErr)
		}

		s.scheduler.CancelInstance(ctx, tenantID, instanceID)
		s.logger.Info("Cancelled workflow instance",
			zap.String("tenant_id", tenantID),
			zap.String("instance_id", instanceID),
			zap.String("actor_id", actorID),
			zap.String("reason", reason))
		return nil
	}

	return &model.ConcurrencyConflictError{InstanceID: instanceID, Attempts: s.maxAttempts}
}

// Reassign sets the instance assignee and emits a task.assigned event.
func (s *ExecutorService) Reassign(ctx context.Context, tenantID, instanceID, assignee string) error {
	if _, err := s.tenants.RequireActiveTenant(ctx, tenantID); err != nil {
		return err
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		inst, err := s.GetInstance(ctx, tenantID, instanceID)
		if err != nil {
			return err
		}
		if !inst.Running() {
			return model.NewInvalidTransitionError("instance %q is %s", instanceID, inst.Status)
		}

		err = s.instances.SetAssignment(ctx, tenantID, instanceID, assignee, inst.Version)
		if err == store.ErrVersionConflict {
			s.metrics.ConflictRetries.Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to reassign instance: %w", err)
		}

		s.bus.Publish(&model.Event{
			Type:       model.EventTaskAssigned,
			TenantID:   tenantID,
			InstanceID: instanceID,
			Payload:    map[string]any{"target": assignee},
		})
		return nil
	}

	return &model.ConcurrencyConflictError{InstanceID: instanceID, Attempts: s.maxAttempts}
}

// dispatchActions runs declared actions in the background. Failures are logged
// and counted; the committed transition stands regardless.
func (s *ExecutorService) dispatchActions(inst *model.WorkflowInstance, def *model.WorkflowDefinition, actions []model.Action) {
	if len(actions) == 0 {
		return
	}

	snapshot := *inst
	go func() {
		ctx := context.Background()
		for _, action := range actions {
			if err := s.runAction(ctx, &snapshot, def, action); err != nil {
				s.logger.Error("Action failed",
					zap.String("instance_id", snapshot.ID),
					zap.String("action_type", string(action.Type)),
					zap.String("target", action.Target),
					zap.Error(err))
			}
		}
	}()
}

func (s *ExecutorService) runAction(ctx context.Context, inst *model.WorkflowInstance, def *model.WorkflowDefinition, action model.Action) error {
	switch action.Type {
	case model.ActionAssign:
		return s.Reassign(ctx, inst.TenantID, inst.ID, action.Target)

	case model.ActionNotify:
		return s.notifier.Send(ctx, Notification{
			TenantID:   inst.TenantID,
			InstanceID: inst.ID,
			Target:     action.Target,
			Subject:    "workflow notification",
			Payload:    action.Params,
		})

	case model.ActionEscalate:
		state := def.StateByID(inst.CurrentState)
		return s.scheduler.ScheduleImmediate(ctx, inst, state)

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (s *ExecutorService) observe(tenantID, result string, start time.Time, err error) {
	s.metrics.TransitionsTotal.WithLabelValues(tenantID, result).Inc()
	s.metrics.TransitionDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	s.metrics.TransitionErrors.WithLabelValues(errorType(err)).Inc()
}

func errorType(err error) string {
	switch err.(type) {
	case *model.NotFoundError:
		return "not_found"
	case *model.InvalidTransitionError:
		return "invalid_transition"
	case *model.ConditionNotMetError:
		return "condition_not_met"
	case *model.UnauthorizedError:
		return "unauthorized"
	case *model.TenantMismatchError:
		return "tenant_mismatch"
	case *model.ConcurrencyConflictError:
		return "concurrency_conflict"
	default:
		return "internal"
	}
}

// mergeContexts builds the condition evaluation context: instance context,
// then caller-supplied keys where the instance has none, then actor attributes
// where neither claimed the key. Instance data always wins.
func mergeContexts(instanceCtx, callerCtx map[string]any, actor *model.Actor) map[string]any {
	merged := make(map[string]any, len(instanceCtx)+len(callerCtx)+3)
	for k, v := range callerCtx {
		merged[k] = v
	}
	for k, v := range instanceCtx {
		merged[k] = v
	}
	setIfAbsent(merged, ctxKeyActorID, actor.ID)
	setIfAbsent(merged, ctxKeyActorRoles, actor.Roles)
	setIfAbsent(merged, ctxKeyActorType, string(actor.Type))
	return merged
}

// mergeInstanceContext folds caller-supplied keys into the persisted instance
// context. Existing keys are overwritten; this is the one write path into the
// context.
func mergeInstanceContext(instanceCtx, callerCtx map[string]any) map[string]any {
	merged := make(map[string]any, len(instanceCtx)+len(callerCtx))
	for k, v := range instanceCtx {
		merged[k] = v
	}
	for k, v := range callerCtx {
		merged[k] = v
	}
	return merged
}

func setIfAbsent(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}
