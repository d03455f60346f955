package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/metrics"
	"github.com/stackmesh/flowline/internal/model"
)

// EscalationService applies a state's escalation chain when an SLA timer
// fires. Rules are applied in declared order starting at the timer's level,
// and each applied rule is audited and announced with its own sla.violated
// event. Before each rule the instance is re-checked to still occupy the
// originating state, since a prior rule (or a concurrent actor) may have
// moved it.
type EscalationService struct {
	executor    *ExecutorService
	definitions *DefinitionService
	instances   instanceReader
	audit       *AuditService
	scheduler   *SchedulerService
	bus         *EventBus
	notifier    Notifier

	maxAttempts int
	backoff     time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// instanceReader is the slice of the executor surface the escalation engine
// reads instances through.
type instanceReader interface {
	GetInstance(ctx context.Context, tenantID, instanceID string) (*model.WorkflowInstance, error)
}

// EscalationConfig holds escalation retry configuration.
type EscalationConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

// NewEscalationService creates a new escalation engine.
func NewEscalationService(
	executor *ExecutorService,
	definitions *DefinitionService,
	audit *AuditService,
	scheduler *SchedulerService,
	bus *EventBus,
	notifier Notifier,
	cfg EscalationConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *EscalationService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return &EscalationService{
		executor:    executor,
		definitions: definitions,
		instances:   executor,
		audit:       audit,
		scheduler:   scheduler,
		bus:         bus,
		notifier:    notifier,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		metrics:     m,
		logger:      logger,
	}
}

// HandleFired runs the escalation chain for a fired timer. The scheduler has
// already claimed the timer and verified the instance still occupies the
// timer's state.
func (s *EscalationService) HandleFired(ctx context.Context, timer *model.SLATimer) error {
	inst, err := s.instances.GetInstance(ctx, timer.TenantID, timer.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance for escalation: %w", err)
	}

	def, err := s.definitions.GetVersion(ctx, timer.TenantID, inst.DefinitionID, inst.DefinitionVersion)
	if err != nil {
		return fmt.Errorf("failed to load definition for escalation: %w", err)
	}

	state := def.StateByID(timer.StateID)
	if state == nil || state.SLA == nil || len(state.SLA.EscalationRules) == 0 {
		s.logger.Warn("Fired timer has no escalation rules",
			zap.String("timer_id", timer.ID),
			zap.String("state_id", timer.StateID))
		return nil
	}

	rules := state.SLA.EscalationRules
	if timer.EscalationLevel >= len(rules) {
		s.logger.Warn("Fired timer past the end of the escalation chain",
			zap.String("timer_id", timer.ID),
			zap.Int("level", timer.EscalationLevel))
		return nil
	}

	for level := timer.EscalationLevel; level < len(rules); level++ {
		// A prior rule or a concurrent actor may have moved the instance.
		inst, err = s.instances.GetInstance(ctx, timer.TenantID, timer.InstanceID)
		if err != nil {
			return fmt.Errorf("failed to reload instance for escalation: %w", err)
		}
		if !inst.Running() || inst.CurrentState != timer.StateID {
			s.logger.Debug("Escalation chain stopped, instance moved on",
				zap.String("instance_id", timer.InstanceID),
				zap.String("state_id", timer.StateID),
				zap.Int("level", level))
			return nil
		}

		rule := rules[level]
		if err := s.applyWithRetry(ctx, inst, timer, level, rule); err != nil {
			s.logger.Error("Escalation rule failed",
				zap.String("instance_id", timer.InstanceID),
				zap.String("state_id", timer.StateID),
				zap.Int("level", level),
				zap.String("action", string(rule.Action)),
				zap.Error(err))
			return err
		}

		s.metrics.EscalationsTotal.WithLabelValues(timer.TenantID, string(rule.Action)).Inc()
		if err := s.audit.RecordEscalation(ctx, timer.TenantID, timer.InstanceID, timer.StateID, level, rule.Action, rule.Target); err != nil {
			s.logger.Error("Failed to record escalation",
				zap.String("instance_id", timer.InstanceID),
				zap.Int("level", level),
				zap.Error(err))
		}
		s.bus.Publish(&model.Event{
			Type:       model.EventSLAViolated,
			TenantID:   timer.TenantID,
			InstanceID: timer.InstanceID,
			Payload: map[string]any{
				"state_id": timer.StateID,
				"level":    level,
				"action":   string(rule.Action),
			},
		})

		// A positive delay defers the remaining levels to a follow-up timer.
		if rule.NextLevelDelay > 0 && level+1 < len(rules) {
			if err := s.scheduler.ScheduleEscalationLevel(ctx, timer, level+1, rule.NextLevelDelay); err != nil {
				s.logger.Error("Failed to schedule next escalation level",
					zap.String("instance_id", timer.InstanceID),
					zap.Int("level", level+1),
					zap.Error(err))
			}
			return nil
		}
	}

	return nil
}

// applyWithRetry applies one escalation rule with bounded retries and backoff.
func (s *EscalationService) applyWithRetry(ctx context.Context, inst *model.WorkflowInstance, timer *model.SLATimer, level int, rule model.EscalationRule) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err = s.apply(ctx, inst, timer, level, rule); err == nil {
			return nil
		}

		s.logger.Warn("Escalation rule attempt failed",
			zap.String("instance_id", timer.InstanceID),
			zap.Int("level", level),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < s.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}
	}
	return err
}

func (s *EscalationService) apply(ctx context.Context, inst *model.WorkflowInstance, timer *model.SLATimer, level int, rule model.EscalationRule) error {
	switch rule.Action {
	case model.EscalationNotify:
		return s.notifier.Send(ctx, Notification{
			TenantID:   timer.TenantID,
			InstanceID: timer.InstanceID,
			Target:     rule.Target,
			Subject:    "sla violated",
			Payload: map[string]any{
				"state_id": timer.StateID,
				"level":    level,
			},
		})

	case model.EscalationReassign:
		return s.executor.Reassign(ctx, timer.TenantID, timer.InstanceID, rule.Target)

	case model.EscalationTransition:
		_, err := s.executor.ForceTransition(ctx, timer.TenantID, timer.InstanceID, rule.TransitionID,
			fmt.Sprintf("sla escalation level %d", level))
		return err

	default:
		return fmt.Errorf("unknown escalation action %q", rule.Action)
	}
}
