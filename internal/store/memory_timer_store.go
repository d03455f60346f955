package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stackmesh/flowline/internal/model"
)

// MemoryTimerStore implements TimerStore with an in-memory map.
type MemoryTimerStore struct {
	mu     sync.Mutex
	timers map[string]*model.SLATimer // keyed tenantID/timerID
}

// NewMemoryTimerStore creates a new in-memory timer store.
func NewMemoryTimerStore() *MemoryTimerStore {
	return &MemoryTimerStore{timers: make(map[string]*model.SLATimer)}
}

func timerKey(tenantID, timerID string) string {
	return tenantID + "/" + timerID
}

// CreateTimer inserts an active timer.
func (s *MemoryTimerStore) CreateTimer(ctx context.Context, timer *model.SLATimer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers {
		if t.TenantID == timer.TenantID && t.InstanceID == timer.InstanceID &&
			t.StateID == timer.StateID && t.Status == model.TimerStatusActive {
			return ErrTimerExists
		}
	}

	cp := *timer
	s.timers[timerKey(timer.TenantID, timer.ID)] = &cp
	return nil
}

// UpdateTimerStatus moves a timer between statuses under compare-and-swap.
func (s *MemoryTimerStore) UpdateTimerStatus(ctx context.Context, tenantID, timerID string, from, to model.TimerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, exists := s.timers[timerKey(tenantID, timerID)]
	if !exists {
		return ErrNotFound
	}
	if timer.Status != from {
		return ErrVersionConflict
	}

	timer.Status = to
	timer.UpdatedAt = time.Now()
	return nil
}

// CancelActiveTimer cancels the active timer for the (instance, state) pair.
func (s *MemoryTimerStore) CancelActiveTimer(ctx context.Context, tenantID, instanceID, stateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.timers {
		if t.TenantID == tenantID && t.InstanceID == instanceID &&
			t.StateID == stateID && t.Status == model.TimerStatusActive {
			t.Status = model.TimerStatusCancelled
			t.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// CancelInstanceTimers cancels all active timers for the instance.
func (s *MemoryTimerStore) CancelInstanceTimers(ctx context.Context, tenantID, instanceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := 0
	for _, t := range s.timers {
		if t.TenantID == tenantID && t.InstanceID == instanceID && t.Status == model.TimerStatusActive {
			t.Status = model.TimerStatusCancelled
			t.UpdatedAt = time.Now()
			cancelled++
		}
	}
	return cancelled, nil
}

// ListDue returns active timers with ExpiresAt <= now, oldest first.
func (s *MemoryTimerStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.SLATimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*model.SLATimer
	for _, t := range s.timers {
		if t.Status == model.TimerStatusActive && !t.ExpiresAt.After(now) {
			cp := *t
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
