package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/store"
)

// IdempotencyService caches transition results so replays with the same key
// return the prior result unchanged, with no re-execution and no duplicate
// side effects.
type IdempotencyService struct {
	idempotency store.IdempotencyStore
	ttl         time.Duration
	logger      *zap.Logger
}

// NewIdempotencyService creates a new idempotency service.
func NewIdempotencyService(idempotency store.IdempotencyStore, ttl time.Duration, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{
		idempotency: idempotency,
		ttl:         ttl,
		logger:      logger,
	}
}

// Get retrieves a cached transition result, or nil when the key is unseen.
func (s *IdempotencyService) Get(ctx context.Context, tenantID, instanceID, idempotencyKey string) (*TransitionResult, error) {
	data, err := s.idempotency.Get(ctx, s.buildStoreKey(tenantID, instanceID, idempotencyKey))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency response: %w", err)
	}

	var result TransitionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency response: %w", err)
	}

	s.logger.Debug("Idempotency response found",
		zap.String("tenant_id", tenantID),
		zap.String("instance_id", instanceID),
		zap.String("idempotency_key", idempotencyKey))

	return &result, nil
}

// Store caches a transition result under the idempotency key.
func (s *IdempotencyService) Store(ctx context.Context, tenantID, instanceID, idempotencyKey string, result *TransitionResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency response: %w", err)
	}

	if err := s.idempotency.Set(ctx, s.buildStoreKey(tenantID, instanceID, idempotencyKey), data, s.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}

	return nil
}

// buildStoreKey builds the store key for idempotency
func (s *IdempotencyService) buildStoreKey(tenantID, instanceID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:%s:%s:%s", tenantID, instanceID, idempotencyKey)
}
