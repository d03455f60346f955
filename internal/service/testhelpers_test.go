package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/metrics"
	"github.com/stackmesh/flowline/internal/model"
	"github.com/stackmesh/flowline/internal/store"
)

// testEngine wires the full engine on in-memory stores.
type testEngine struct {
	tenants     *TenantService
	definitions *DefinitionService
	directory   *StaticActorDirectory
	actors      *ActorService
	audit       *AuditService
	idempotency *IdempotencyService
	scheduler   *SchedulerService
	conditions  *ConditionEvaluator
	authorizer  *AuthorizationService
	bus         *EventBus
	notifier    *recordingNotifier
	executor    *ExecutorService
	escalation  *EscalationService

	tenantStore   *store.MemoryTenantStore
	instanceStore *store.MemoryInstanceStore
	auditStore    *store.MemoryAuditStore
	timerStore    *store.MemoryTimerStore
	events        *recordingHandler
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	logger := zap.NewNop()
	m := metrics.NewMetrics()

	tenantStore := store.NewMemoryTenantStore()
	definitionStore := store.NewMemoryDefinitionStore()
	auditStore := store.NewMemoryAuditStore()
	instanceStore := store.NewMemoryInstanceStore(auditStore)
	timerStore := store.NewMemoryTimerStore()
	idempotencyStore := store.NewMemoryIdempotencyStore()
	cache := store.NewInMemoryCache(1000, logger)

	notifier := &recordingNotifier{}
	events := &recordingHandler{}

	e := &testEngine{
		tenants:       NewTenantService(tenantStore, cache, time.Minute, logger),
		definitions:   NewDefinitionService(definitionStore, cache, time.Minute, logger),
		directory:     NewStaticActorDirectory(),
		audit:         NewAuditService(auditStore, logger),
		idempotency:   NewIdempotencyService(idempotencyStore, time.Hour, logger),
		conditions:    NewConditionEvaluator(m, logger),
		authorizer:    NewAuthorizationService(logger),
		notifier:      notifier,
		tenantStore:   tenantStore,
		instanceStore: instanceStore,
		auditStore:    auditStore,
		timerStore:    timerStore,
		events:        events,
	}
	e.actors = NewActorService(e.directory, cache, time.Minute, logger)

	e.bus = NewEventBus(EventBusConfig{
		Workers:     2,
		QueueSize:   100,
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
	}, []EventHandler{events}, m, logger)
	t.Cleanup(func() { e.bus.Stop(time.Second) })

	e.scheduler = NewSchedulerService(timerStore, instanceStore, SchedulerConfig{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    50,
		Workers:      2,
		QueueSize:    100,
	}, m, logger)

	e.executor = NewExecutorService(
		e.tenants, e.definitions, e.actors, instanceStore, e.audit,
		e.idempotency, e.scheduler, e.conditions, e.authorizer,
		e.bus, notifier, 3, m, logger,
	)

	e.escalation = NewEscalationService(
		e.executor, e.definitions, e.audit, e.scheduler,
		e.bus, notifier,
		EscalationConfig{MaxAttempts: 2, Backoff: time.Millisecond},
		m, logger,
	)
	e.scheduler.SetHandler(e.escalation)

	return e
}

// seedTenant creates an active tenant and a default internal actor.
func (e *testEngine) seedTenant(t *testing.T, tenantID string) {
	t.Helper()
	_, err := e.tenants.CreateTenant(context.Background(), tenantID, tenantID)
	require.NoError(t, err)
	e.directory.Register(&model.Actor{
		ID:       "alice",
		TenantID: tenantID,
		Roles:    []string{"approver", "submitter"},
		Type:     model.ActorTypeInternal,
	})
}

// approvalDefinition is a four-state review workflow used across tests.
func approvalDefinition(tenantID string) *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		TenantID:     tenantID,
		Name:         "approval",
		InitialState: "draft",
		States: []model.State{
			{ID: "draft", Type: model.StateTypeManual},
			{ID: "submitted", Type: model.StateTypeManual},
			{ID: "approved", Type: model.StateTypeManual},
			{ID: "closed", Type: model.StateTypeManual, Terminal: true},
		},
		Transitions: []model.Transition{
			{ID: "submit", From: "draft", To: "submitted"},
			{ID: "approve", From: "submitted", To: "approved", RequiredRoles: []string{"approver"}},
			{ID: "reject", From: "submitted", To: "draft"},
			{ID: "close", From: "approved", To: "closed"},
		},
	}
}

// recordingNotifier captures sent notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// recordingHandler captures published events.
type recordingHandler struct {
	mu     sync.Mutex
	events []*model.Event
}

func (h *recordingHandler) Name() string { return "recording" }

func (h *recordingHandler) Handle(ctx context.Context, event *model.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) byType(eventType model.EventType) []*model.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*model.Event
	for _, e := range h.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// waitFor polls until the predicate holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, predicate func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, predicate(), "condition not met within %s", timeout)
}
