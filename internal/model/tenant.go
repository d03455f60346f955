package model

import "time"

// TenantStatus represents the lifecycle status of a tenant.
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusInactive  TenantStatus = "inactive"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant represents an isolated customer environment. Every other entity is
// owned by a tenant by reference.
type Tenant struct {
	TenantID string
	Name     string
	Status   TenantStatus

	// VendorAllowedTransitions lists transition ids that vendor actors may
	// execute. Vendors are denied everything outside this set regardless of
	// role or permission grants.
	VendorAllowedTransitions []string

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64 // For optimistic locking
}

// IsActive reports whether the tenant may run engine operations.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// VendorAllowed reports whether vendor actors may execute the transition.
func (t *Tenant) VendorAllowed(transitionID string) bool {
	for _, id := range t.VendorAllowedTransitions {
		if id == transitionID {
			return true
		}
	}
	return false
}
