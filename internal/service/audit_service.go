package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
	"github.com/stackmesh/flowline/internal/store"
)

// AuditService is the append-only sink for transition facts, authorization
// denials, and escalation applications. Records are never mutated or deleted.
type AuditService struct {
	audit  store.AuditStore
	logger *zap.Logger
}

// NewAuditService creates a new audit service.
func NewAuditService(audit store.AuditStore, logger *zap.Logger) *AuditService {
	return &AuditService{audit: audit, logger: logger}
}

// NewRecord builds an audit record ready for appending.
func NewRecord(kind model.AuditKind, tenantID, instanceID, fromState, toState, actorID, reason string) *model.TransitionRecord {
	return &model.TransitionRecord{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		InstanceID: instanceID,
		Kind:       kind,
		FromState:  fromState,
		ToState:    toState,
		ActorID:    actorID,
		Timestamp:  time.Now(),
		Reason:     reason,
	}
}

// RecordDenial appends an authorization or condition denial. Denials are
// recorded even though the operation itself failed.
func (s *AuditService) RecordDenial(ctx context.Context, tenantID, instanceID, fromState, actorID, reason string) {
	rec := NewRecord(model.AuditKindDenial, tenantID, instanceID, fromState, "", actorID, reason)
	if err := s.audit.Append(ctx, rec); err != nil {
		s.logger.Error("Failed to record denial",
			zap.String("tenant_id", tenantID),
			zap.String("instance_id", instanceID),
			zap.Error(err))
	}
}

// RecordEscalation appends an applied escalation rule.
func (s *AuditService) RecordEscalation(ctx context.Context, tenantID, instanceID, stateID string, level int, action model.EscalationAction, target string) error {
	rec := NewRecord(model.AuditKindEscalation, tenantID, instanceID, stateID, stateID, "system",
		fmt.Sprintf("escalation level %d: %s %s", level, action, target))
	rec.Metadata = map[string]any{
		"level":  level,
		"action": string(action),
		"target": target,
	}
	return s.audit.Append(ctx, rec)
}

// History returns the transition and cancellation records for an instance,
// ordered by (timestamp, sequence).
func (s *AuditService) History(ctx context.Context, tenantID, instanceID string) ([]*model.TransitionRecord, error) {
	return s.audit.ListByInstance(ctx, tenantID, instanceID,
		model.AuditKindTransition, model.AuditKindCancellation)
}

// Trail returns every audit record for an instance, denials and escalations
// included.
func (s *AuditService) Trail(ctx context.Context, tenantID, instanceID string) ([]*model.TransitionRecord, error) {
	return s.audit.ListByInstance(ctx, tenantID, instanceID)
}

// Range returns a tenant's records in [from, to) for compliance export.
func (s *AuditService) Range(ctx context.Context, tenantID string, from, to time.Time) ([]*model.TransitionRecord, error) {
	return s.audit.ListByTimeRange(ctx, tenantID, from, to)
}
