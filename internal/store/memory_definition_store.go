package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackmesh/flowline/internal/model"
)

// MemoryDefinitionStore implements DefinitionStore with in-memory maps.
type MemoryDefinitionStore struct {
	mu sync.RWMutex
	// versions is keyed by tenantID -> definitionID -> version.
	versions map[string]map[string]map[int]*model.WorkflowDefinition
	// byName is keyed by tenantID -> name, ordered by version ascending.
	byName map[string]map[string][]*model.WorkflowDefinition
}

// NewMemoryDefinitionStore creates a new in-memory definition store.
func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{
		versions: make(map[string]map[string]map[int]*model.WorkflowDefinition),
		byName:   make(map[string]map[string][]*model.WorkflowDefinition),
	}
}

// CreateVersion appends a new definition version.
func (s *MemoryDefinitionStore) CreateVersion(ctx context.Context, def *model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.versions[def.TenantID]
	if !ok {
		byID = make(map[string]map[int]*model.WorkflowDefinition)
		s.versions[def.TenantID] = byID
	}
	byVersion, ok := byID[def.ID]
	if !ok {
		byVersion = make(map[int]*model.WorkflowDefinition)
		byID[def.ID] = byVersion
	}
	if _, exists := byVersion[def.Version]; exists {
		return fmt.Errorf("definition %q version %d already exists", def.ID, def.Version)
	}

	cp := *def
	byVersion[def.Version] = &cp

	names, ok := s.byName[def.TenantID]
	if !ok {
		names = make(map[string][]*model.WorkflowDefinition)
		s.byName[def.TenantID] = names
	}
	names[def.Name] = append(names[def.Name], &cp)

	return nil
}

// GetVersion returns one pinned version.
func (s *MemoryDefinitionStore) GetVersion(ctx context.Context, tenantID, definitionID string, version int) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.versions[tenantID][definitionID][version]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *def
	return &cp, nil
}

// GetActive returns the currently selectable version for the name.
func (s *MemoryDefinitionStore) GetActive(ctx context.Context, tenantID, name string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, def := range s.byName[tenantID][name] {
		if def.Status == model.DefinitionStatusActive {
			cp := *def
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// GetActiveByID returns the currently selectable version of a lineage.
func (s *MemoryDefinitionStore) GetActiveByID(ctx context.Context, tenantID, definitionID string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *model.WorkflowDefinition
	for _, def := range s.versions[tenantID][definitionID] {
		if def.Status == model.DefinitionStatusActive {
			if active == nil || def.Version > active.Version {
				active = def
			}
		}
	}
	if active == nil {
		return nil, ErrNotFound
	}
	cp := *active
	return &cp, nil
}

// LatestVersion returns the highest published version for the name, or 0.
func (s *MemoryDefinitionStore) LatestVersion(ctx context.Context, tenantID, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := 0
	for _, def := range s.byName[tenantID][name] {
		if def.Version > latest {
			latest = def.Version
		}
	}
	return latest, nil
}

// SupersedeActive archives the currently active version for the name.
func (s *MemoryDefinitionStore) SupersedeActive(ctx context.Context, tenantID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, def := range s.byName[tenantID][name] {
		if def.Status == model.DefinitionStatusActive {
			def.Status = model.DefinitionStatusArchived
		}
	}
	return nil
}
