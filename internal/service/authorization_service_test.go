package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/model"
)

func authFixture() (*model.Actor, *model.Transition, *model.WorkflowInstance, *model.Tenant) {
	actor := &model.Actor{
		ID:          "alice",
		TenantID:    "acme",
		Roles:       []string{"approver"},
		Permissions: []string{"workflow.execute"},
		Type:        model.ActorTypeInternal,
	}
	transition := &model.Transition{ID: "approve", From: "submitted", To: "approved"}
	inst := &model.WorkflowInstance{ID: "i1", TenantID: "acme", AssignedTo: "alice"}
	tenant := &model.Tenant{TenantID: "acme", Status: model.TenantStatusActive}
	return actor, transition, inst, tenant
}

func TestAuthorizeAllows(t *testing.T) {
	s := NewAuthorizationService(zap.NewNop())
	actor, transition, inst, tenant := authFixture()

	assert.NoError(t, s.Authorize(actor, transition, inst, tenant))

	transition.RequiredRoles = []string{"approver", "admin"}
	transition.RequiredPermissions = []string{"workflow.execute"}
	transition.RequiresOwnership = true
	assert.NoError(t, s.Authorize(actor, transition, inst, tenant))
}

func TestAuthorizeTenantMismatch(t *testing.T) {
	s := NewAuthorizationService(zap.NewNop())
	actor, transition, inst, tenant := authFixture()
	actor.TenantID = "other"

	err := s.Authorize(actor, transition, inst, tenant)
	var mismatch *model.TenantMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "other", mismatch.ActorTenantID)
}

func TestAuthorizeMissingRole(t *testing.T) {
	s := NewAuthorizationService(zap.NewNop())
	actor, transition, inst, tenant := authFixture()
	transition.RequiredRoles = []string{"admin"}

	err := s.Authorize(actor, transition, inst, tenant)
	var unauthorized *model.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
}

func TestAuthorizeMissingPermission(t *testing.T) {
	s := NewAuthorizationService(zap.NewNop())
	actor, transition, inst, tenant := authFixture()
	// All listed permissions are required, not any.
	transition.RequiredPermissions = []string{"workflow.execute", "workflow.admin"}

	err := s.Authorize(actor, transition, inst, tenant)
	var unauthorized *model.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
}

func TestAuthorizeOwnership(t *testing.T) {
	s := NewAuthorizationService(zap.NewNop())
	actor, transition, inst, tenant := authFixture()
	transition.RequiresOwnership = true
	inst.AssignedTo = "bob"

	err := s.Authorize(actor, transition, inst, tenant)
	var unauthorized *model.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
}

func TestAuthorizeVendorAllowList(t *testing.T) {
	s := NewAuthorizationService(zap.NewNop())
	actor, transition, inst, tenant := authFixture()
	actor.Type = model.ActorTypeVendor

	// Vendor restriction applies even when roles and permissions pass.
	err := s.Authorize(actor, transition, inst, tenant)
	var unauthorized *model.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)

	tenant.VendorAllowedTransitions = []string{"approve"}
	assert.NoError(t, s.Authorize(actor, transition, inst, tenant))
}
