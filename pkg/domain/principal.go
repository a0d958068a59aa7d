package domain

// Principal is the authenticated actor as supplied by the external credential
// issuer: identifier, role, tenant affiliation, verification state, and the
// secretary's doctor binding. The core trusts this snapshot and performs no
// credential validation of its own.
//
// A zero-value Principal represents an anonymous request.
type Principal struct {
	ID       PrincipalID
	TenantID TenantID
	Role     Role
	Verified bool

	// BoundDoctorID is meaningful only when Role is Secretary. It scopes the
	// secretary's visible schedule to a single doctor of the same tenant.
	// When nil, the secretary's schedule view is empty (fail closed).
	BoundDoctorID PrincipalID
}

// IsAnonymous reports whether the request carries no authenticated principal.
func (p Principal) IsAnonymous() bool { return p.ID.IsNil() }

// HasTenant reports whether the principal carries a tenant affiliation.
func (p Principal) HasTenant() bool { return !p.TenantID.IsNil() }

// InTenant reports whether the principal belongs to the given tenant.
func (p Principal) InTenant(tenantID TenantID) bool {
	return p.HasTenant() && p.TenantID == tenantID
}
