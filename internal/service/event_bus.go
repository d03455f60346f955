package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/metrics"
	"github.com/stackmesh/flowline/internal/model"
	"github.com/stackmesh/flowline/internal/util/workerpool"
)

// EventHandler consumes domain events. Handlers form a closed set injected at
// wiring time; nothing subscribes dynamically at runtime.
type EventHandler interface {
	Name() string
	Handle(ctx context.Context, event *model.Event) error
}

// EventBus dispatches domain events to its handlers asynchronously with
// at-least-once delivery. Handler failures are retried with backoff and
// logged; they never propagate back to the committed operation that emitted
// the event.
type EventBus struct {
	handlers    []EventHandler
	pool        *workerpool.WorkerPool
	maxAttempts int
	backoff     time.Duration
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// EventBusConfig holds event bus configuration.
type EventBusConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
}

// NewEventBus creates a new event bus with the given closed handler set.
func NewEventBus(cfg EventBusConfig, handlers []EventHandler, m *metrics.Metrics, logger *zap.Logger) *EventBus {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}

	pool := workerpool.New(&workerpool.Config{
		Name:       "events",
		MaxWorkers: cfg.Workers,
		QueueSize:  cfg.QueueSize,
		Logger:     logger,
	})

	return &EventBus{
		handlers:    handlers,
		pool:        pool,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		metrics:     m,
		logger:      logger,
	}
}

// Publish enqueues the event for every handler. Delivery is asynchronous and
// at-least-once; Publish itself never blocks on handler execution.
func (b *EventBus) Publish(event *model.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()

	for _, handler := range b.handlers {
		h := handler
		task := workerpool.Task{
			ID: event.ID + ":" + h.Name(),
			Fn: func(ctx context.Context) error {
				return b.deliver(ctx, h, event)
			},
		}
		if err := b.pool.Submit(task); err != nil {
			b.metrics.EventHandlerFailures.WithLabelValues(h.Name()).Inc()
			b.logger.Error("Failed to enqueue event",
				zap.String("handler", h.Name()),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}
}

// deliver invokes one handler with bounded retries and backoff.
func (b *EventBus) deliver(ctx context.Context, handler EventHandler, event *model.Event) error {
	var err error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err = handler.Handle(ctx, event); err == nil {
			return nil
		}

		b.logger.Warn("Event handler failed",
			zap.String("handler", handler.Name()),
			zap.String("event_type", string(event.Type)),
			zap.String("instance_id", event.InstanceID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < b.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.backoff * time.Duration(attempt)):
			}
		}
	}

	b.metrics.EventHandlerFailures.WithLabelValues(handler.Name()).Inc()
	return err
}

// Stop drains the bus, waiting up to timeout for in-flight deliveries.
func (b *EventBus) Stop(timeout time.Duration) error {
	return b.pool.Stop(timeout)
}
