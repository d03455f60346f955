package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/metrics"
	"github.com/stackmesh/flowline/internal/model"
	"github.com/stackmesh/flowline/internal/store"
	"github.com/stackmesh/flowline/internal/util/workerpool"
)

// FiredTimerHandler consumes timers the scheduler has claimed as fired.
// Implemented by the escalation engine.
type FiredTimerHandler interface {
	HandleFired(ctx context.Context, timer *model.SLATimer) error
}

// SchedulerService creates and cancels SLA timers and drives their firing.
// Timers live in the TimerStore, so pending deadlines survive restarts; a
// polling sweep claims due timers via status compare-and-swap and hands them
// to a bounded worker pool. A timer whose instance has already left the
// originating state is marked stale and discarded, never escalated.
type SchedulerService struct {
	timers    store.TimerStore
	instances store.InstanceStore
	handler   FiredTimerHandler
	pool      *workerpool.WorkerPool

	pollInterval time.Duration
	batchSize    int

	metrics  *metrics.Metrics
	logger   *zap.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	QueueSize    int
}

// NewSchedulerService creates a new SLA timer scheduler.
func NewSchedulerService(
	timers store.TimerStore,
	instances store.InstanceStore,
	cfg SchedulerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SchedulerService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	pool := workerpool.New(&workerpool.Config{
		Name:       "sla-timers",
		MaxWorkers: cfg.Workers,
		QueueSize:  cfg.QueueSize,
		Logger:     logger,
	})

	return &SchedulerService{
		timers:       timers,
		instances:    instances,
		pool:         pool,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		metrics:      m,
		logger:       logger,
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetHandler injects the fired-timer consumer. Must be called before Start;
// split from the constructor because the escalation engine and the scheduler
// reference each other.
func (s *SchedulerService) SetHandler(h FiredTimerHandler) {
	s.handler = h
}

// ScheduleState creates a level-0 timer if the state declares an SLA.
func (s *SchedulerService) ScheduleState(ctx context.Context, inst *model.WorkflowInstance, state *model.State) error {
	if state == nil || state.SLA == nil || state.SLA.Duration <= 0 {
		return nil
	}
	return s.schedule(ctx, inst.TenantID, inst.ID, state.ID, time.Now().Add(state.SLA.Duration), 0)
}

// ScheduleImmediate creates a level-0 timer expiring now, used by escalate
// actions to force the state's escalation chain without waiting out the SLA.
func (s *SchedulerService) ScheduleImmediate(ctx context.Context, inst *model.WorkflowInstance, state *model.State) error {
	if state == nil || state.SLA == nil || len(state.SLA.EscalationRules) == 0 {
		return nil
	}
	return s.schedule(ctx, inst.TenantID, inst.ID, state.ID, time.Now(), 0)
}

// ScheduleEscalationLevel schedules the next level of an escalation chain the
// same way a state SLA timer is scheduled.
func (s *SchedulerService) ScheduleEscalationLevel(ctx context.Context, prior *model.SLATimer, level int, delay time.Duration) error {
	return s.schedule(ctx, prior.TenantID, prior.InstanceID, prior.StateID, time.Now().Add(delay), level)
}

func (s *SchedulerService) schedule(ctx context.Context, tenantID, instanceID, stateID string, expiresAt time.Time, level int) error {
	timer := &model.SLATimer{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		InstanceID:      instanceID,
		StateID:         stateID,
		ExpiresAt:       expiresAt,
		Status:          model.TimerStatusActive,
		EscalationLevel: level,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	if err := s.timers.CreateTimer(ctx, timer); err != nil {
		if err == store.ErrTimerExists {
			// The (instance, state) pair already carries an active timer.
			return nil
		}
		return err
	}

	s.metrics.TimersScheduled.Inc()
	s.logger.Debug("Scheduled SLA timer",
		zap.String("tenant_id", tenantID),
		zap.String("instance_id", instanceID),
		zap.String("state_id", stateID),
		zap.Int("level", level),
		zap.Time("expires_at", expiresAt))
	return nil
}

// OnTransition cancels the vacated state's timer and schedules the target
// state's timer when the instance keeps running.
func (s *SchedulerService) OnTransition(ctx context.Context, inst *model.WorkflowInstance, fromState string, target *model.State) {
	if err := s.timers.CancelActiveTimer(ctx, inst.TenantID, inst.ID, fromState); err != nil {
		if err != store.ErrNotFound {
			s.logger.Error("Failed to cancel vacated state timer",
				zap.String("instance_id", inst.ID),
				zap.String("state_id", fromState),
				zap.Error(err))
		}
	} else {
		s.metrics.TimersCancelled.Inc()
	}

	if !inst.Running() {
		return
	}
	if err := s.ScheduleState(ctx, inst, target); err != nil {
		s.logger.Error("Failed to schedule SLA timer",
			zap.String("instance_id", inst.ID),
			zap.String("state_id", target.ID),
			zap.Error(err))
	}
}

// CancelInstance cancels all outstanding timers for the instance.
func (s *SchedulerService) CancelInstance(ctx context.Context, tenantID, instanceID string) {
	cancelled, err := s.timers.CancelInstanceTimers(ctx, tenantID, instanceID)
	if err != nil {
		s.logger.Error("Failed to cancel instance timers",
			zap.String("tenant_id", tenantID),
			zap.String("instance_id", instanceID),
			zap.Error(err))
		return
	}
	for i := 0; i < cancelled; i++ {
		s.metrics.TimersCancelled.Inc()
	}
}

// Start runs the polling sweep until Stop is called.
func (s *SchedulerService) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()

	s.logger.Info("SLA timer scheduler started",
		zap.Duration("poll_interval", s.pollInterval),
		zap.Int("batch_size", s.batchSize))
}

// Stop halts the sweep and drains the firing pool.
func (s *SchedulerService) Stop(timeout time.Duration) error {
	close(s.stopChan)
	<-s.done
	return s.pool.Stop(timeout)
}

func (s *SchedulerService) sweep() {
	ctx := context.Background()
	due, err := s.timers.ListDue(ctx, time.Now(), s.batchSize)
	if err != nil {
		s.logger.Error("Failed to list due timers", zap.Error(err))
		return
	}

	for _, timer := range due {
		t := timer
		task := workerpool.Task{
			ID: t.ID,
			Fn: func(taskCtx context.Context) error {
				return s.fire(taskCtx, t)
			},
		}
		if err := s.pool.Submit(task); err != nil {
			// Queue full; the next sweep picks the timer up again.
			s.logger.Warn("Failed to enqueue due timer",
				zap.String("timer_id", t.ID),
				zap.Error(err))
		}
	}
}

// fire re-checks the instance, claims the timer via status compare-and-swap,
// and hands it to the escalation handler. The claim is what keeps a firing
// timer and a concurrent transition from both winning: whichever flips the
// status first owns the timer.
func (s *SchedulerService) fire(ctx context.Context, timer *model.SLATimer) error {
	inst, err := s.instances.GetInstance(ctx, timer.TenantID, timer.InstanceID)
	if err != nil {
		s.logger.Error("Failed to load instance for fired timer",
			zap.String("timer_id", timer.ID),
			zap.Error(err))
		return err
	}

	if !inst.Running() || inst.CurrentState != timer.StateID {
		// The instance moved on before the deadline mattered.
		if err := s.timers.UpdateTimerStatus(ctx, timer.TenantID, timer.ID, model.TimerStatusActive, model.TimerStatusStale); err == nil {
			s.metrics.TimersStale.Inc()
			s.logger.Debug("Discarded stale SLA timer",
				zap.String("timer_id", timer.ID),
				zap.String("instance_id", timer.InstanceID),
				zap.String("state_id", timer.StateID))
		}
		return nil
	}

	if err := s.timers.UpdateTimerStatus(ctx, timer.TenantID, timer.ID, model.TimerStatusActive, model.TimerStatusFired); err != nil {
		// Lost the claim to a concurrent cancel; nothing to do.
		return nil
	}

	s.metrics.TimersFired.Inc()
	timer.Status = model.TimerStatusFired

	if s.handler == nil {
		s.logger.Warn("No fired-timer handler configured",
			zap.String("timer_id", timer.ID))
		return nil
	}
	return s.handler.HandleFired(ctx, timer)
}
