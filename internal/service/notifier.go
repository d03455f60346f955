package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
)

// Notification is a fire-and-forget send instruction handed to the delivery
// collaborator. Rendering and transport (email, SMS) live outside the engine.
type Notification struct {
	TenantID   string
	InstanceID string
	Target     string
	Subject    string
	Payload    map[string]any
}

// Notifier dispatches notifications. Implementations must be safe for
// concurrent use; delivery failures are the caller's retry concern.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier is a Notifier that records sends in the log. Used when no
// delivery collaborator is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the notification.
func (n *LogNotifier) Send(ctx context.Context, notification Notification) error {
	n.logger.Info("Notification dispatched",
		zap.String("tenant_id", notification.TenantID),
		zap.String("instance_id", notification.InstanceID),
		zap.String("target", notification.Target),
		zap.String("subject", notification.Subject))
	return nil
}

// NotificationHandler bridges the event bus to the Notifier: assignment and
// SLA violation events become notifications to the affected target.
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

// Name identifies the handler in logs and metrics.
func (h *NotificationHandler) Name() string { return "notification" }

// Handle sends a notification for events that carry a target.
func (h *NotificationHandler) Handle(ctx context.Context, event *model.Event) error {
	target, _ := event.Payload["target"].(string)
	if target == "" {
		return nil
	}
	return h.notifier.Send(ctx, Notification{
		TenantID:   event.TenantID,
		InstanceID: event.InstanceID,
		Target:     target,
		Subject:    string(event.Type),
		Payload:    event.Payload,
	})
}
