package service

import (
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
)

// AuthorizationService gates transitions on actor identity. Checks run in a
// fixed order and short-circuit on the first failure: tenant match, roles,
// permissions, ownership, vendor restriction.
type AuthorizationService struct {
	logger *zap.Logger
}

// NewAuthorizationService creates a new authorization service.
func NewAuthorizationService(logger *zap.Logger) *AuthorizationService {
	return &AuthorizationService{logger: logger}
}

// Authorize checks whether the actor may execute the transition on the
// instance. A nil return means allowed; otherwise the error carries the
// specific denial reason.
func (s *AuthorizationService) Authorize(actor *model.Actor, transition *model.Transition, inst *model.WorkflowInstance, tenant *model.Tenant) error {
	if actor.TenantID != inst.TenantID {
		return &model.TenantMismatchError{
			ActorTenantID:    actor.TenantID,
			ResourceTenantID: inst.TenantID,
		}
	}

	if len(transition.RequiredRoles) > 0 && !actor.HasAnyRole(transition.RequiredRoles) {
		return model.NewUnauthorizedError("actor %q holds none of the required roles %v",
			actor.ID, transition.RequiredRoles)
	}

	if len(transition.RequiredPermissions) > 0 && !actor.HasAllPermissions(transition.RequiredPermissions) {
		return model.NewUnauthorizedError("actor %q is missing required permissions %v",
			actor.ID, transition.RequiredPermissions)
	}

	if transition.RequiresOwnership && inst.AssignedTo != actor.ID {
		return model.NewUnauthorizedError("transition %q requires ownership and instance is assigned to %q",
			transition.ID, inst.AssignedTo)
	}

	// Vendors are confined to the tenant's allow list regardless of any role
	// or permission grants above.
	if actor.Type == model.ActorTypeVendor && !tenant.VendorAllowed(transition.ID) {
		return model.NewUnauthorizedError("transition %q is not vendor-allowed for tenant %q",
			transition.ID, tenant.TenantID)
	}

	return nil
}
