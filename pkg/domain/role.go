package domain

import dErrors "docflow/pkg/domain-errors"

// Role determines a principal's coarse capabilities. It is a closed set; the
// capability matrix in internal/authz is keyed on it.
//
// Invariant: every role except PlatformAdmin requires a tenant affiliation.
type Role string

const (
	RolePlatformAdmin Role = "PLATFORM_ADMIN"
	RoleTenantOwner   Role = "TENANT_OWNER"
	RoleSecretary     Role = "SECRETARY"
	RoleDoctor        Role = "DOCTOR"
	RolePatient       Role = "PATIENT"
)

var validRoles = map[Role]bool{
	RolePlatformAdmin: true,
	RoleTenantOwner:   true,
	RoleSecretary:     true,
	RoleDoctor:        true,
	RolePatient:       true,
}

// ParseRole constructs a Role from external input, enforcing the allowlist.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

// IsValid checks the role against the closed set.
func (r Role) IsValid() bool { return validRoles[r] }

// IsStaff reports whether the role belongs to clinic staff. Patients and
// platform admins are not staff.
func (r Role) IsStaff() bool {
	return r == RoleTenantOwner || r == RoleSecretary || r == RoleDoctor
}

// RequiresTenant reports whether a principal with this role must carry a
// tenant reference. Only PlatformAdmin operates tenant-less.
func (r Role) RequiresTenant() bool { return r != RolePlatformAdmin }

func (r Role) String() string { return string(r) }
