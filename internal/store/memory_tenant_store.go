package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackmesh/flowline/internal/model"
)

// MemoryTenantStore implements TenantStore with an in-memory map.
type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]*model.Tenant
}

// NewMemoryTenantStore creates a new in-memory tenant store.
func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[string]*model.Tenant)}
}

// CreateTenant creates a new tenant.
func (s *MemoryTenantStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.TenantID]; exists {
		return fmt.Errorf("tenant %q already exists", tenant.TenantID)
	}

	cp := *tenant
	s.tenants[tenant.TenantID] = &cp
	return nil
}

// GetTenant retrieves a tenant configuration.
func (s *MemoryTenantStore) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, exists := s.tenants[tenantID]
	if !exists {
		return nil, ErrNotFound
	}

	cp := *tenant
	return &cp, nil
}

// UpdateTenant writes the tenant under optimistic locking.
func (s *MemoryTenantStore) UpdateTenant(ctx context.Context, tenant *model.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.tenants[tenant.TenantID]
	if !exists {
		return ErrNotFound
	}
	if current.Version != tenant.Version-1 {
		return ErrVersionConflict
	}

	cp := *tenant
	s.tenants[tenant.TenantID] = &cp
	return nil
}
