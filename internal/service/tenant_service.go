package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
	"github.com/stackmesh/flowline/internal/store"
)

// TenantService manages tenant configurations
type TenantService struct {
	tenants  store.TenantStore
	cache    store.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewTenantService creates a new tenant service
func NewTenantService(
	tenants store.TenantStore,
	cache store.Cache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *TenantService {
	return &TenantService{
		tenants:  tenants,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// GetTenant retrieves tenant configuration, using cache if available
func (s *TenantService) GetTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	cacheKey := s.tenantCacheKey(tenantID)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		if tenant, ok := cached.(*model.Tenant); ok {
			return tenant, nil
		}
	}

	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.NewNotFoundError("tenant", tenantID)
		}
		return nil, fmt.Errorf("failed to fetch tenant: %w", err)
	}

	if err := s.cache.Set(ctx, cacheKey, tenant, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache tenant config",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}

	return tenant, nil
}

// RequireActiveTenant returns the tenant if it exists and is active. Engine
// operations are refused for suspended and inactive tenants.
func (s *TenantService) RequireActiveTenant(ctx context.Context, tenantID string) (*model.Tenant, error) {
	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsActive() {
		return nil, model.NewUnauthorizedError("tenant %q is %s", tenantID, tenant.Status)
	}
	return tenant, nil
}

// CreateTenant creates a new active tenant.
func (s *TenantService) CreateTenant(ctx context.Context, tenantID, name string) (*model.Tenant, error) {
	tenant := &model.Tenant{
		TenantID:  tenantID,
		Name:      name,
		Status:    model.TenantStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Version:   1,
	}

	if err := s.tenants.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	s.logger.Info("Created tenant",
		zap.String("tenant_id", tenantID),
		zap.String("name", name))

	if err := s.cache.Set(ctx, s.tenantCacheKey(tenantID), tenant, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache new tenant config",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}

	return tenant, nil
}

// SetStatus updates the tenant lifecycle status.
func (s *TenantService) SetStatus(ctx context.Context, tenantID string, status model.TenantStatus) (*model.Tenant, error) {
	return s.update(ctx, tenantID, func(t *model.Tenant) {
		t.Status = status
	})
}

// SetVendorAllowedTransitions replaces the tenant's vendor allow list.
func (s *TenantService) SetVendorAllowedTransitions(ctx context.Context, tenantID string, transitionIDs []string) (*model.Tenant, error) {
	return s.update(ctx, tenantID, func(t *model.Tenant) {
		t.VendorAllowedTransitions = transitionIDs
	})
}

func (s *TenantService) update(ctx context.Context, tenantID string, mutate func(*model.Tenant)) (*model.Tenant, error) {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, model.NewNotFoundError("tenant", tenantID)
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}

	mutate(tenant)
	tenant.UpdatedAt = time.Now()
	tenant.Version++

	if err := s.tenants.UpdateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	s.logger.Info("Updated tenant",
		zap.String("tenant_id", tenantID),
		zap.String("status", string(tenant.Status)))

	if err := s.cache.Delete(ctx, s.tenantCacheKey(tenantID)); err != nil {
		s.logger.Warn("Failed to invalidate tenant cache",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}

	return tenant, nil
}

// tenantCacheKey generates a cache key for tenant config
func (s *TenantService) tenantCacheKey(tenantID string) string {
	return fmt.Sprintf("tenant:config:%s", tenantID)
}
