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

// PostgresDefinitionStore implements DefinitionStore for PostgreSQL. States
// and transitions are stored as a JSONB document alongside the version row;
// published versions are never updated, only superseded.
type PostgresDefinitionStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDefinitionStore creates a new PostgreSQL definition store.
func NewPostgresDefinitionStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresDefinitionStore {
	return &PostgresDefinitionStore{pool: pool, logger: logger}
}

type definitionDocument struct {
	InitialState string             `json:"initial_state"`
	States       []model.State      `json:"states"`
	Transitions  []model.Transition `json:"transitions"`
}

// CreateVersion appends a new definition version.
func (s *PostgresDefinitionStore) CreateVersion(ctx context.Context, def *model.WorkflowDefinition) error {
	doc, err := json.Marshal(definitionDocument{
		InitialState: def.InitialState,
		States:       def.States,
		Transitions:  def.Transitions,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal definition document: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (definition_id, tenant_id, name, version, status, document, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.pool.Exec(ctx, query,
		def.ID,
		def.TenantID,
		def.Name,
		def.Version,
		def.Status,
		doc,
		def.CreatedAt,
		def.CreatedBy,
	)

	return err
}

// GetVersion returns one pinned version.
func (s *PostgresDefinitionStore) GetVersion(ctx context.Context, tenantID, definitionID string, version int) (*model.WorkflowDefinition, error) {
	query := `
		SELECT definition_id, tenant_id, name, version, status, document, created_at, created_by
		FROM workflow_definitions
		WHERE tenant_id = $1 AND definition_id = $2 AND version = $3
	`

	return s.scanDefinition(s.pool.QueryRow(ctx, query, tenantID, definitionID, version))
}

// GetActive returns the currently selectable version for the name.
func (s *PostgresDefinitionStore) GetActive(ctx context.Context, tenantID, name string) (*model.WorkflowDefinition, error) {
	query := `
		SELECT definition_id, tenant_id, name, version, status, document, created_at, created_by
		FROM workflow_definitions
		WHERE tenant_id = $1 AND name = $2 AND status = 'active'
		ORDER BY version DESC
		LIMIT 1
	`

	return s.scanDefinition(s.pool.QueryRow(ctx, query, tenantID, name))
}

// GetActiveByID returns the currently selectable version of a lineage.
func (s *PostgresDefinitionStore) GetActiveByID(ctx context.Context, tenantID, definitionID string) (*model.WorkflowDefinition, error) {
	query := `
		SELECT definition_id, tenant_id, name, version, status, document, created_at, created_by
		FROM workflow_definitions
		WHERE tenant_id = $1 AND definition_id = $2 AND status = 'active'
		ORDER BY version DESC
		LIMIT 1
	`

	return s.scanDefinition(s.pool.QueryRow(ctx, query, tenantID, definitionID))
}

// LatestVersion returns the highest published version for the name, or 0.
func (s *PostgresDefinitionStore) LatestVersion(ctx context.Context, tenantID, name string) (int, error) {
	query := `
		SELECT COALESCE(MAX(version), 0)
		FROM workflow_definitions
		WHERE tenant_id = $1 AND name = $2
	`

	var latest int
	if err := s.pool.QueryRow(ctx, query, tenantID, name).Scan(&latest); err != nil {
		return 0, fmt.Errorf("failed to get latest version: %w", err)
	}
	return latest, nil
}

// SupersedeActive archives the currently active version for the name.
func (s *PostgresDefinitionStore) SupersedeActive(ctx context.Context, tenantID, name string) error {
	query := `
		UPDATE workflow_definitions
		SET status = 'archived'
		WHERE tenant_id = $1 AND name = $2 AND status = 'active'
	`

	_, err := s.pool.Exec(ctx, query, tenantID, name)
	return err
}

func (s *PostgresDefinitionStore) scanDefinition(row pgx.Row) (*model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	var doc []byte
	err := row.Scan(
		&def.ID,
		&def.TenantID,
		&def.Name,
		&def.Version,
		&def.Status,
		&doc,
		&def.CreatedAt,
		&def.CreatedBy,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	var parsed definitionDocument
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition document: %w", err)
	}
	def.InitialState = parsed.InitialState
	def.States = parsed.States
	def.Transitions = parsed.Transitions

	return &def, nil
}
