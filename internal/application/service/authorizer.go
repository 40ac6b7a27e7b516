package service

import (
	"context"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// RoleAdminAuthorizer allows cancellation by configured administrative roles
// within the instance's organization. SUPER_ADMIN crosses organizations.
type RoleAdminAuthorizer struct {
	roles map[string]bool
}

// NewRoleAdminAuthorizer creates an authorizer for the given roles
func NewRoleAdminAuthorizer(roles []string) *RoleAdminAuthorizer {
	set := make(map[string]bool, len(roles))
	for _, r := range roles {
		set[r] = true
	}
	return &RoleAdminAuthorizer{roles: set}
}

// CanCancel implements port.AdminAuthorizer
func (a *RoleAdminAuthorizer) CanCancel(ctx context.Context, actor entity.Identity, inst *entity.WorkflowInstance) bool {
	if !a.roles[actor.Role] {
		return false
	}
	if actor.Role == entity.RoleSuperAdmin {
		return true
	}
	return inst != nil && actor.OrgID != "" && actor.OrgID == inst.OrgID
}

var _ port.AdminAuthorizer = (*RoleAdminAuthorizer)(nil)
