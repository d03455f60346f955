package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
)

// PostgresInstanceStore implements InstanceStore for PostgreSQL. Transition
// commits run the instance update and the audit append in one transaction.
type PostgresInstanceStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresInstanceStore creates a new PostgreSQL instance store.
func NewPostgresInstanceStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresInstanceStore {
	return &PostgresInstanceStore{pool: pool, logger: logger}
}

// CreateInstance persists a new instance together with its creation record.
func (s *PostgresInstanceStore) CreateInstance(ctx context.Context, inst *model.WorkflowInstance, rec *model.TransitionRecord) error {
	instCtx, err := json.Marshal(inst.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal instance context: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO workflow_instances
			(instance_id, tenant_id, definition_id, definition_version, current_state,
			 status, context, assigned_to, created_by, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = tx.Exec(ctx, query,
		inst.ID,
		inst.TenantID,
		inst.DefinitionID,
		inst.DefinitionVersion,
		inst.CurrentState,
		inst.Status,
		instCtx,
		inst.AssignedTo,
		inst.CreatedBy,
		inst.CreatedAt,
		inst.UpdatedAt,
		inst.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert instance: %w", err)
	}

	if err := appendRecordTx(ctx, tx, rec); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetInstance retrieves a tenant-scoped instance.
func (s *PostgresInstanceStore) GetInstance(ctx context.Context, tenantID, instanceID string) (*model.WorkflowInstance, error) {
	query := `
		SELECT instance_id, tenant_id, definition_id, definition_version, current_state,
		       status, context, assigned_to, created_by, created_at, updated_at, version
		FROM workflow_instances
		WHERE tenant_id = $1 AND instance_id = $2
	`

	var inst model.WorkflowInstance
	var instCtx []byte
	err := s.pool.QueryRow(ctx, query, tenantID, instanceID).Scan(
		&inst.ID,
		&inst.TenantID,
		&inst.DefinitionID,
		&inst.DefinitionVersion,
		&inst.CurrentState,
		&inst.Status,
		&instCtx,
		&inst.AssignedTo,
		&inst.CreatedBy,
		&inst.CreatedAt,
		&inst.UpdatedAt,
		&inst.Version,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	if err := json.Unmarshal(instCtx, &inst.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance context: %w", err)
	}

	return &inst, nil
}

// CommitTransition writes instance state and appends the record in one
// transaction, guarded by compare-and-swap on expectedVersion.
func (s *PostgresInstanceStore) CommitTransition(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, rec *model.TransitionRecord) error {
	instCtx, err := json.Marshal(inst.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal instance context: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE workflow_instances
		SET current_state = $3, status = $4, context = $5, assigned_to = $6,
		    updated_at = $7, version = $8
		WHERE tenant_id = $1 AND instance_id = $2 AND version = $9
	`

	result, err := tx.Exec(ctx, query,
		inst.TenantID,
		inst.ID,
		inst.CurrentState,
		inst.Status,
		instCtx,
		inst.AssignedTo,
		inst.UpdatedAt,
		expectedVersion+1,
		expectedVersion, // Optimistic locking
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	if err := appendRecordTx(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	inst.Version = expectedVersion + 1
	return nil
}

// SetAssignment updates the instance assignee under compare-and-swap.
func (s *PostgresInstanceStore) SetAssignment(ctx context.Context, tenantID, instanceID, assignee string, expectedVersion int64) error {
	query := `
		UPDATE workflow_instances
		SET assigned_to = $3, version = $4
		WHERE tenant_id = $1 AND instance_id = $2 AND version = $5
	`

	result, err := s.pool.Exec(ctx, query, tenantID, instanceID, assignee, expectedVersion+1, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to set assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// appendRecordTx inserts an audit record inside an open transaction and fills
// in the assigned sequence.
func appendRecordTx(ctx context.Context, tx pgx.Tx, rec *model.TransitionRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal record metadata: %w", err)
	}

	query := `
		INSERT INTO audit_records
			(record_id, tenant_id, instance_id, kind, from_state, to_state,
			 actor_id, recorded_at, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING sequence
	`

	err = tx.QueryRow(ctx, query,
		rec.ID,
		rec.TenantID,
		rec.InstanceID,
		rec.Kind,
		rec.FromState,
		rec.ToState,
		rec.ActorID,
		rec.Timestamp,
		rec.Reason,
		metadata,
	).Scan(&rec.Sequence)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (s *PostgresInstanceStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
