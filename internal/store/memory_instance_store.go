package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackmesh/flowline/internal/model"
)

// MemoryInstanceStore implements InstanceStore with an in-memory map. Audit
// records committed with a transition land in the attached audit store under
// the instance store's lock, so the pair behaves as one logical unit.
type MemoryInstanceStore struct {
	mu        sync.Mutex
	instances map[string]*model.WorkflowInstance // keyed tenantID/instanceID
	audit     *MemoryAuditStore
}

// NewMemoryInstanceStore creates a new in-memory instance store.
func NewMemoryInstanceStore(audit *MemoryAuditStore) *MemoryInstanceStore {
	return &MemoryInstanceStore{
		instances: make(map[string]*model.WorkflowInstance),
		audit:     audit,
	}
}

func instanceKey(tenantID, instanceID string) string {
	return tenantID + "/" + instanceID
}

// CreateInstance persists a new instance together with its creation record.
func (s *MemoryInstanceStore) CreateInstance(ctx context.Context, inst *model.WorkflowInstance, rec *model.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instanceKey(inst.TenantID, inst.ID)
	if _, exists := s.instances[key]; exists {
		return fmt.Errorf("instance %q already exists", inst.ID)
	}

	cp := *inst
	cp.Context = cloneMap(inst.Context)
	s.instances[key] = &cp

	s.audit.mu.Lock()
	s.audit.appendLocked(rec)
	s.audit.mu.Unlock()
	return nil
}

// GetInstance retrieves a tenant-scoped instance.
func (s *MemoryInstanceStore) GetInstance(ctx context.Context, tenantID, instanceID string) (*model.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[instanceKey(tenantID, instanceID)]
	if !exists {
		return nil, ErrNotFound
	}

	cp := *inst
	cp.Context = cloneMap(inst.Context)
	return &cp, nil
}

// CommitTransition writes instance state and appends the record under
// compare-and-swap on expectedVersion.
func (s *MemoryInstanceStore) CommitTransition(ctx context.Context, inst *model.WorkflowInstance, expectedVersion int64, rec *model.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := instanceKey(inst.TenantID, inst.ID)
	current, exists := s.instances[key]
	if !exists {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	cp := *inst
	cp.Context = cloneMap(inst.Context)
	cp.Version = expectedVersion + 1
	s.instances[key] = &cp
	inst.Version = cp.Version

	s.audit.mu.Lock()
	s.audit.appendLocked(rec)
	s.audit.mu.Unlock()
	return nil
}

// SetAssignment updates the instance assignee under compare-and-swap.
func (s *MemoryInstanceStore) SetAssignment(ctx context.Context, tenantID, instanceID, assignee string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[instanceKey(tenantID, instanceID)]
	if !exists {
		return ErrNotFound
	}
	if inst.Version != expectedVersion {
		return ErrVersionConflict
	}

	inst.AssignedTo = assignee
	inst.Version = expectedVersion + 1
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
