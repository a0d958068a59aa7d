// Package authz holds the role capability matrix and the row-level scoping
// rules derived from it.
//
// Checks run in a fixed order: role capability first, object tenancy second.
// A principal whose role lacks the capability is told so; a principal whose
// role has it but whose tenant does not match the object is told the object
// does not exist. Cross-tenant probing therefore cannot distinguish "absent"
// from "belongs to someone else".
package authz

import (
	"log/slog"

	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

// Resource names a protected record family.
type Resource string

const (
	ResourcePatientRecord Resource = "patient_record"
	ResourceAppointment   Resource = "appointment"
	ResourceStaff         Resource = "staff"
	ResourceAuditTrail    Resource = "audit_trail"
	ResourceLegalDocument Resource = "legal_document"
	ResourceTenant        Resource = "tenant"
)

// Operation names what the principal wants to do with the resource.
type Operation string

const (
	OpRead   Operation = "read"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// capabilities is the role matrix. PlatformAdmin is absent on purpose: it
// bypasses the matrix entirely. An absent resource/operation pair denies
// every non-admin role.
var capabilities = map[Resource]map[Operation][]id.Role{
	ResourcePatientRecord: {
		OpRead:   {id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor, id.RolePatient},
		OpCreate: {id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor},
		OpUpdate: {id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor},
		OpDelete: {id.RoleTenantOwner},
	},
	ResourceAppointment: {
		OpRead:   {id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor, id.RolePatient},
		OpCreate: {id.RoleTenantOwner, id.RoleSecretary, id.RolePatient},
		OpUpdate: {id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor},
		OpDelete: {id.RoleTenantOwner, id.RoleSecretary},
	},
	ResourceStaff: {
		OpRead:   {id.RoleTenantOwner},
		OpCreate: {id.RoleTenantOwner},
		OpUpdate: {id.RoleTenantOwner},
		OpDelete: {id.RoleTenantOwner},
	},
	ResourceAuditTrail: {
		OpRead: {id.RoleTenantOwner},
	},
	ResourceLegalDocument: {
		// Active documents are public reads outside the matrix; managing
		// them is platform-admin only, which the bypass covers.
		OpRead: {id.RoleTenantOwner, id.RoleSecretary, id.RoleDoctor, id.RolePatient},
	},
	ResourceTenant: {
		// Tenant lifecycle is platform-admin only via the bypass. The
		// public active-clinic listing never consults the matrix.
	},
}

// RoleAuthorizer answers capability and object-tenancy questions from the
// static matrix. It is stateless and safe for concurrent use.
type RoleAuthorizer struct {
	logger *slog.Logger
}

func NewRoleAuthorizer(logger *slog.Logger) *RoleAuthorizer {
	return &RoleAuthorizer{logger: logger}
}

// HasPermission checks the role capability alone. Unverified principals hold
// no capabilities; platform admins hold all of them.
func (a *RoleAuthorizer) HasPermission(principal id.Principal, resource Resource, op Operation) error {
	if principal.IsAnonymous() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !principal.Verified {
		return dErrors.New(dErrors.CodeForbidden, "account is not verified")
	}
	if principal.Role == id.RolePlatformAdmin {
		return nil
	}
	for _, allowed := range capabilities[resource][op] {
		if principal.Role == allowed {
			return nil
		}
	}
	return dErrors.New(dErrors.CodeForbidden, "role does not permit this operation")
}

// HasObjectPermission runs the role check and then the tenancy check against
// the object's tenant. The tenancy denial deliberately reads as not-found.
func (a *RoleAuthorizer) HasObjectPermission(principal id.Principal, resource Resource, op Operation, objectTenant id.TenantID) error {
	if err := a.HasPermission(principal, resource, op); err != nil {
		return err
	}
	if principal.Role == id.RolePlatformAdmin {
		return nil
	}
	if !principal.InTenant(objectTenant) {
		a.logger.Debug("cross-tenant access denied",
			"principal_id", principal.ID.String(),
			"resource", string(resource))
		return dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	return nil
}
