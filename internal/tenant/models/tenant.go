package models

import (
	"strings"
	"time"

	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

// Tenant is the aggregate root for one clinic. Data belonging to a tenant
// must never be visible to another tenant's principals.
//
// Invariants:
//   - Name is non-empty and at most 255 characters
//   - Slug is non-empty, lowercase, and unique across the platform
//   - Tenants are never hard-deleted, only deactivated
//   - CreatedAt is immutable after construction
//
// Deactivation is an immediate isolation boundary: staff management refuses
// inactive target tenants and the public clinic listing omits them. Existing
// records are kept for audit continuity.
type Tenant struct {
	ID        id.TenantID `json:"id"`
	Name      string      `json:"name"`
	Slug      string      `json:"slug"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// NewTenant validates inputs and constructs an active tenant.
func NewTenant(tenantID id.TenantID, name, slug string, now time.Time) (*Tenant, error) {
	if name == "" {
		return nil, dErrors.NewField(dErrors.CodeValidation, "name", "tenant name cannot be empty")
	}
	if len(name) > 255 {
		return nil, dErrors.NewField(dErrors.CodeValidation, "name", "tenant name must be 255 characters or less")
	}
	slug = NormalizeSlug(slug)
	if slug == "" {
		return nil, dErrors.NewField(dErrors.CodeValidation, "slug", "tenant slug cannot be empty")
	}
	return &Tenant{
		ID:        tenantID,
		Name:      name,
		Slug:      slug,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NormalizeSlug lowercases and trims a slug candidate and replaces interior
// whitespace with hyphens. Uniqueness is enforced on the normalized form.
func NormalizeSlug(slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	return strings.Join(strings.Fields(slug), "-")
}

// CanDeactivate checks the active → inactive transition.
func (t *Tenant) CanDeactivate() error {
	if !t.Active {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already inactive")
	}
	return nil
}

// ApplyDeactivation transitions the tenant to inactive. Call CanDeactivate
// first to validate the transition.
func (t *Tenant) ApplyDeactivation(now time.Time) {
	t.Active = false
	t.UpdatedAt = now
}

// CanReactivate checks the inactive → active transition.
func (t *Tenant) CanReactivate() error {
	if t.Active {
		return dErrors.New(dErrors.CodeInvariantViolation, "tenant is already active")
	}
	return nil
}

// ApplyReactivation transitions the tenant back to active.
func (t *Tenant) ApplyReactivation(now time.Time) {
	t.Active = true
	t.UpdatedAt = now
}
