package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stackmesh/flowline/internal/model"
)

// MemoryAuditStore implements AuditStore with an in-memory append-only log.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*model.TransitionRecord
	seq     int64
}

// NewMemoryAuditStore creates a new in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Append records an audit fact, assigning the next sequence number.
func (s *MemoryAuditStore) Append(ctx context.Context, rec *model.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(rec)
	return nil
}

func (s *MemoryAuditStore) appendLocked(rec *model.TransitionRecord) {
	s.seq++
	rec.Sequence = s.seq
	cp := *rec
	s.records = append(s.records, &cp)
}

// ListByInstance returns records ordered by (timestamp, sequence).
func (s *MemoryAuditStore) ListByInstance(ctx context.Context, tenantID, instanceID string, kinds ...model.AuditKind) ([]*model.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.TransitionRecord
	for _, rec := range s.records {
		if rec.TenantID != tenantID || rec.InstanceID != instanceID {
			continue
		}
		if len(kinds) > 0 && !kindMatches(rec.Kind, kinds) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sortRecords(out)
	return out, nil
}

// ListByTimeRange returns a tenant's records in [from, to).
func (s *MemoryAuditStore) ListByTimeRange(ctx context.Context, tenantID string, from, to time.Time) ([]*model.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.TransitionRecord
	for _, rec := range s.records {
		if rec.TenantID != tenantID {
			continue
		}
		if rec.Timestamp.Before(from) || !rec.Timestamp.Before(to) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sortRecords(out)
	return out, nil
}

func kindMatches(kind model.AuditKind, kinds []model.AuditKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func sortRecords(recs []*model.TransitionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Sequence < recs[j].Sequence
		}
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
}
