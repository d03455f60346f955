package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
)

// PostgresAuditStore implements AuditStore for PostgreSQL. The audit_records
// table is append-only; no update or delete statements exist against it.
type PostgresAuditStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresAuditStore creates a new PostgreSQL audit store.
func NewPostgresAuditStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresAuditStore {
	return &PostgresAuditStore{pool: pool, logger: logger}
}

// Append records a non-transition audit fact.
func (s *PostgresAuditStore) Append(ctx context.Context, rec *model.TransitionRecord) error {
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

	err = s.pool.QueryRow(ctx, query,
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

// ListByInstance returns records ordered by (timestamp, sequence).
func (s *PostgresAuditStore) ListByInstance(ctx context.Context, tenantID, instanceID string, kinds ...model.AuditKind) ([]*model.TransitionRecord, error) {
	query := `
		SELECT record_id, tenant_id, instance_id, sequence, kind, from_state, to_state,
		       actor_id, recorded_at, reason, metadata
		FROM audit_records
		WHERE tenant_id = $1 AND instance_id = $2
		  AND (cardinality($3::text[]) = 0 OR kind = ANY($3::text[]))
		ORDER BY recorded_at, sequence
	`

	kindStrings := make([]string, 0, len(kinds))
	for _, k := range kinds {
		kindStrings = append(kindStrings, string(k))
	}

	rows, err := s.pool.Query(ctx, query, tenantID, instanceID, kindStrings)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ListByTimeRange returns a tenant's records in [from, to).
func (s *PostgresAuditStore) ListByTimeRange(ctx context.Context, tenantID string, from, to time.Time) ([]*model.TransitionRecord, error) {
	query := `
		SELECT record_id, tenant_id, instance_id, sequence, kind, from_state, to_state,
		       actor_id, recorded_at, reason, metadata
		FROM audit_records
		WHERE tenant_id = $1 AND recorded_at >= $2 AND recorded_at < $3
		ORDER BY recorded_at, sequence
	`

	rows, err := s.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]*model.TransitionRecord, error) {
	var out []*model.TransitionRecord
	for rows.Next() {
		var rec model.TransitionRecord
		var metadata []byte
		err := rows.Scan(
			&rec.ID,
			&rec.TenantID,
			&rec.InstanceID,
			&rec.Sequence,
			&rec.Kind,
			&rec.FromState,
			&rec.ToState,
			&rec.ActorID,
			&rec.Timestamp,
			&rec.Reason,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal record metadata: %w", err)
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
