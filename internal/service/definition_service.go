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

// DefinitionService validates, versions, and serves tenant-scoped workflow
// definitions. Published versions are immutable; edits create a new version.
type DefinitionService struct {
	definitions store.DefinitionStore
	cache       store.Cache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewDefinitionService creates a new definition service.
func NewDefinitionService(
	definitions store.DefinitionStore,
	cache store.Cache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *DefinitionService {
	return &DefinitionService{
		definitions: definitions,
		cache:       cache,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// Validate checks definition structure: unique state ids, existing initial
// state, edge endpoints that reference existing states, and reachability of
// every state from the initial state. Cycles are permitted; workflows may
// loop, e.g. rework cycles.
func (s *DefinitionService) Validate(def *model.WorkflowDefinition) error {
	if def.TenantID == "" {
		return model.NewValidationError("tenant id is required")
	}
	if def.Name == "" {
		return model.NewValidationError("definition name is required")
	}
	if len(def.States) == 0 {
		return model.NewValidationError("definition must declare at least one state")
	}

	states := make(map[string]bool, len(def.States))
	for _, st := range def.States {
		if st.ID == "" {
			return model.NewValidationError("state id must not be empty")
		}
		if states[st.ID] {
			return model.NewValidationError("duplicate state id %q", st.ID)
		}
		states[st.ID] = true
	}

	if def.InitialState == "" {
		return model.NewValidationError("initial state is required")
	}
	if !states[def.InitialState] {
		return model.NewValidationError("initial state %q is not a declared state", def.InitialState)
	}

	edges := make(map[string][]string)
	transitionIDs := make(map[string]bool, len(def.Transitions))
	for _, t := range def.Transitions {
		if t.ID == "" {
			return model.NewValidationError("transition id must not be empty")
		}
		if transitionIDs[t.ID] {
			return model.NewValidationError("duplicate transition id %q", t.ID)
		}
		transitionIDs[t.ID] = true
		if !states[t.From] {
			return model.NewValidationError("transition %q references unknown from-state %q", t.ID, t.From)
		}
		if !states[t.To] {
			return model.NewValidationError("transition %q references unknown to-state %q", t.ID, t.To)
		}
		edges[t.From] = append(edges[t.From], t.To)
	}

	// Breadth-first traversal from the initial state. Every state must be
	// reachable; an unreachable state is a definition error.
	visited := map[string]bool{def.InitialState: true}
	queue := []string{def.InitialState}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range edges[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for id := range states {
		if !visited[id] {
			return model.NewValidationError("state %q is unreachable from initial state %q", id, def.InitialState)
		}
	}

	return nil
}

// Publish validates the definition and publishes it as the next version for
// the (tenant, name) pair. The previously active version is archived but
// stays retrievable for instances pinned to it.
func (s *DefinitionService) Publish(ctx context.Context, def *model.WorkflowDefinition) (*model.WorkflowDefinition, error) {
	if err := s.Validate(def); err != nil {
		return nil, err
	}

	latest, err := s.definitions.LatestVersion(ctx, def.TenantID, def.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve latest version: %w", err)
	}

	published := *def
	if published.ID == "" {
		if latest > 0 {
			// The name is already published under an existing lineage id.
			prior, err := s.definitions.GetActive(ctx, def.TenantID, def.Name)
			if err == nil {
				published.ID = prior.ID
			}
		}
		if published.ID == "" {
			published.ID = uuid.New().String()
		}
	}
	published.Version = latest + 1
	published.Status = model.DefinitionStatusActive
	published.CreatedAt = time.Now()

	if err := s.definitions.SupersedeActive(ctx, def.TenantID, def.Name); err != nil {
		return nil, fmt.Errorf("failed to supersede active version: %w", err)
	}
	if err := s.definitions.CreateVersion(ctx, &published); err != nil {
		return nil, fmt.Errorf("failed to publish definition: %w", err)
	}

	s.logger.Info("Published workflow definition",
		zap.String("tenant_id", published.TenantID),
		zap.String("definition_id", published.ID),
		zap.String("name", published.Name),
		zap.Int("version", published.Version))

	// Invalidate any cached copy of the superseded active version.
	if err := s.cache.Delete(ctx, s.activeCacheKey(def.TenantID, def.Name)); err != nil {
		s.logger.Warn("Failed to invalidate definition cache",
			zap.String("tenant_id", def.TenantID),
			zap.Error(err))
	}

	return &published, nil
}

// GetVersion returns a pinned definition version, using the cache when warm.
func (s *DefinitionService) GetVersion(ctx context.Context, tenantID, definitionID string, version int) (*model.WorkflowDefinition, error) {
	cacheKey := s.versionCacheKey(tenantID, definitionID, version)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		if def, ok := cached.(*model.WorkflowDefinition); ok {
			return def, nil
		}
	}

	def, err := s.definitions.GetVersion(ctx, tenantID, definitionID, version)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.NewNotFoundError("definition", definitionID)
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	// Pinned versions are immutable, so caching them is always safe.
	if err := s.cache.Set(ctx, cacheKey, def, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache definition",
			zap.String("definition_id", definitionID),
			zap.Error(err))
	}

	return def, nil
}

// GetActive returns the currently selectable version for the name.
func (s *DefinitionService) GetActive(ctx context.Context, tenantID, name string) (*model.WorkflowDefinition, error) {
	def, err := s.definitions.GetActive(ctx, tenantID, name)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.NewNotFoundError("definition", name)
		}
		return nil, fmt.Errorf("failed to get active definition: %w", err)
	}
	return def, nil
}

// GetActiveByID returns the currently selectable version of a definition
// lineage, used when creating new instances.
func (s *DefinitionService) GetActiveByID(ctx context.Context, tenantID, definitionID string) (*model.WorkflowDefinition, error) {
	def, err := s.definitions.GetActiveByID(ctx, tenantID, definitionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.NewNotFoundError("definition", definitionID)
		}
		return nil, fmt.Errorf("failed to get active definition: %w", err)
	}
	return def, nil
}

func (s *DefinitionService) versionCacheKey(tenantID, definitionID string, version int) string {
	return fmt.Sprintf("definition:%s:%s:%d", tenantID, definitionID, version)
}

func (s *DefinitionService) activeCacheKey(tenantID, name string) string {
	return fmt.Sprintf("definition:active:%s:%s", tenantID, name)
}
