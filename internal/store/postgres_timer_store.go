package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
)

// PostgresTimerStore implements TimerStore for PostgreSQL. A partial unique
// index on (tenant_id, instance_id, state_id) WHERE status = 'active' enforces
// the single-active-timer invariant at the storage layer.
type PostgresTimerStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresTimerStore creates a new PostgreSQL timer store.
func NewPostgresTimerStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresTimerStore {
	return &PostgresTimerStore{pool: pool, logger: logger}
}

// CreateTimer inserts an active timer.
func (s *PostgresTimerStore) CreateTimer(ctx context.Context, timer *model.SLATimer) error {
	query := `
		INSERT INTO sla_timers
			(timer_id, tenant_id, instance_id, state_id, expires_at, status,
			 escalation_level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.pool.Exec(ctx, query,
		timer.ID,
		timer.TenantID,
		timer.InstanceID,
		timer.StateID,
		timer.ExpiresAt,
		timer.Status,
		timer.EscalationLevel,
		timer.CreatedAt,
		timer.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrTimerExists
	}
	return err
}

// UpdateTimerStatus moves a timer between statuses under compare-and-swap.
func (s *PostgresTimerStore) UpdateTimerStatus(ctx context.Context, tenantID, timerID string, from, to model.TimerStatus) error {
	query := `
		UPDATE sla_timers
		SET status = $4, updated_at = $5
		WHERE tenant_id = $1 AND timer_id = $2 AND status = $3
	`

	result, err := s.pool.Exec(ctx, query, tenantID, timerID, from, to, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update timer status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// CancelActiveTimer cancels the active timer for the (instance, state) pair.
func (s *PostgresTimerStore) CancelActiveTimer(ctx context.Context, tenantID, instanceID, stateID string) error {
	query := `
		UPDATE sla_timers
		SET status = 'cancelled', updated_at = $4
		WHERE tenant_id = $1 AND instance_id = $2 AND state_id = $3 AND status = 'active'
	`

	result, err := s.pool.Exec(ctx, query, tenantID, instanceID, stateID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel timer: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelInstanceTimers cancels all active timers for the instance.
func (s *PostgresTimerStore) CancelInstanceTimers(ctx context.Context, tenantID, instanceID string) (int, error) {
	query := `
		UPDATE sla_timers
		SET status = 'cancelled', updated_at = $3
		WHERE tenant_id = $1 AND instance_id = $2 AND status = 'active'
	`

	result, err := s.pool.Exec(ctx, query, tenantID, instanceID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel instance timers: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ListDue returns active timers with ExpiresAt <= now, oldest first.
func (s *PostgresTimerStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.SLATimer, error) {
	query := `
		SELECT timer_id, tenant_id, instance_id, state_id, expires_at, status,
		       escalation_level, created_at, updated_at
		FROM sla_timers
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due timers: %w", err)
	}
	defer rows.Close()

	var out []*model.SLATimer
	for rows.Next() {
		var t model.SLATimer
		err := rows.Scan(
			&t.ID,
			&t.TenantID,
			&t.InstanceID,
			&t.StateID,
			&t.ExpiresAt,
			&t.Status,
			&t.EscalationLevel,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
