package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
	"github.com/stackmesh/flowline/internal/store"
)

// ActorDirectory resolves already-authenticated actor identities to their
// roles, permissions, and type. Implemented by the identity collaborator; the
// engine never authenticates actors itself.
type ActorDirectory interface {
	ResolveActor(ctx context.Context, tenantID, actorID string) (*model.Actor, error)
}

// ActorService is a caching resolver over an ActorDirectory.
type ActorService struct {
	directory ActorDirectory
	cache     store.Cache
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewActorService creates a new actor service.
func NewActorService(
	directory ActorDirectory,
	cache store.Cache,
	cacheTTL time.Duration,
	logger *zap.Logger,
) *ActorService {
	return &ActorService{
		directory: directory,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger,
	}
}

// ResolveActor resolves an actor within a tenant, using the cache when warm.
func (s *ActorService) ResolveActor(ctx context.Context, tenantID, actorID string) (*model.Actor, error) {
	cacheKey := s.actorCacheKey(tenantID, actorID)
	if cached, err := s.cache.Get(ctx, cacheKey); err == nil && cached != nil {
		if actor, ok := cached.(*model.Actor); ok {
			return actor, nil
		}
	}

	actor, err := s.directory.ResolveActor(ctx, tenantID, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actor: %w", err)
	}

	if err := s.cache.Set(ctx, cacheKey, actor, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache actor",
			zap.String("tenant_id", tenantID),
			zap.String("actor_id", actorID),
			zap.Error(err))
	}

	return actor, nil
}

func (s *ActorService) actorCacheKey(tenantID, actorID string) string {
	return fmt.Sprintf("actor:%s:%s", tenantID, actorID)
}

// StaticActorDirectory is a map-backed ActorDirectory for tests and
// single-node deployments without an external identity service.
type StaticActorDirectory struct {
	mu     sync.RWMutex
	actors map[string]*model.Actor
}

// NewStaticActorDirectory creates an empty static directory.
func NewStaticActorDirectory() *StaticActorDirectory {
	return &StaticActorDirectory{actors: make(map[string]*model.Actor)}
}

// Register adds or replaces an actor.
func (d *StaticActorDirectory) Register(actor *model.Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[actor.TenantID+"/"+actor.ID] = actor
}

// ResolveActor resolves an actor within a tenant.
func (d *StaticActorDirectory) ResolveActor(ctx context.Context, tenantID, actorID string) (*model.Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	actor, ok := d.actors[tenantID+"/"+actorID]
	if !ok {
		return nil, model.NewNotFoundError("actor", actorID)
	}
	cp := *actor
	return &cp, nil
}
