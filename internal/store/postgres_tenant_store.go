package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
)

// PostgresTenantStore implements TenantStore for PostgreSQL.
type PostgresTenantStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresTenantStore creates a new PostgreSQL tenant store.
func NewPostgresTenantStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresTenantStore {
	return &PostgresTenantStore{pool: pool, logger: logger}
}

// CreateTenant creates a new tenant.
func (s *PostgresTenantStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	query := `
		INSERT INTO tenants (tenant_id, name, status, vendor_allowed_transitions, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		tenant.TenantID,
		tenant.Name,
		tenant.Status,
		tenant.VendorAllowedTransitions,
		tenant.CreatedAt,
		tenant.UpdatedAt,
		tenant.Version,
	)

	return err
}

// GetTenant retrieves tenant configuration.
func (s *PostgresTenantStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	query := `
		SELECT tenant_id, name, status, vendor_allowed_transitions, created_at, updated_at, version
		FROM tenants
		WHERE tenant_id = $1
	`

	var tenant model.Tenant
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Status,
		&tenant.VendorAllowedTransitions,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
		&tenant.Version,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	return &tenant, nil
}

// UpdateTenant updates tenant configuration under optimistic locking.
func (s *PostgresTenantStore) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	query := `
		UPDATE tenants
		SET name = $2, status = $3, vendor_allowed_transitions = $4, updated_at = $5, version = $6
		WHERE tenant_id = $1 AND version = $7
	`

	result, err := s.pool.Exec(ctx, query,
		tenant.TenantID,
		tenant.Name,
		tenant.Status,
		tenant.VendorAllowedTransitions,
		tenant.UpdatedAt,
		tenant.Version,
		tenant.Version-1, // Optimistic locking
	)

	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrVersionConflict
	}

	return nil
}
