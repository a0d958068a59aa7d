package models

import (
	"strings"
	"time"

	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

// Gender is used only to pick the Dr./Dra. display title for doctors.
type Gender string

const (
	GenderMale        Gender = "M"
	GenderFemale      Gender = "F"
	GenderUnspecified Gender = ""
)

// Account is the stored identity record behind a Principal.
//
// Invariants:
//   - Email is non-empty and unique across the platform
//   - Every role except PlatformAdmin carries a tenant reference
//   - BoundDoctorID is set only on Secretary accounts and references a
//     Doctor of the same tenant
//   - TenantID never changes once business records reference the account;
//     the store refuses to write it on update
//
// Role changes are an explicit administrative action through the staff
// management service, never a side effect of another write.
type Account struct {
	ID            id.PrincipalID `json:"id"`
	TenantID      id.TenantID    `json:"tenant_id"`
	Role          id.Role        `json:"role"`
	Email         string         `json:"email"`
	FullName      string         `json:"full_name"`
	Gender        Gender         `json:"gender,omitempty"`
	Verified      bool           `json:"verified"`
	Active        bool           `json:"active"`
	BoundDoctorID id.PrincipalID `json:"bound_doctor_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewAccount validates inputs and constructs an account. Callers decide
// Active/Verified: staff accounts start active, patient self-registrations
// start inactive until email verification.
func NewAccount(accountID id.PrincipalID, tenantID id.TenantID, role id.Role, email, fullName string, now time.Time) (*Account, error) {
	if !role.IsValid() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "role", "invalid role")
	}
	if role.RequiresTenant() && tenantID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "role requires a tenant")
	}
	if !role.RequiresTenant() && !tenantID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "platform admins carry no tenant")
	}
	email = NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, dErrors.NewField(dErrors.CodeValidation, "email", "a valid email is required")
	}
	return &Account{
		ID:        accountID,
		TenantID:  tenantID,
		Role:      role,
		Email:     email,
		FullName:  strings.TrimSpace(fullName),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NormalizeEmail lowercases and trims; uniqueness is enforced on this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Principal returns the authenticated-actor snapshot the guard pipeline
// works with.
func (a *Account) Principal() id.Principal {
	return id.Principal{
		ID:            a.ID,
		TenantID:      a.TenantID,
		Role:          a.Role,
		Verified:      a.Verified,
		BoundDoctorID: a.BoundDoctorID,
	}
}

// DisplayNameWithTitle prefixes Dr./Dra. for doctors; everyone else gets the
// plain name.
func (a *Account) DisplayNameWithTitle() string {
	base := a.FullName
	if base == "" {
		base = a.Email
	}
	if a.Role != id.RoleDoctor {
		return base
	}
	if a.Gender == GenderFemale {
		return strings.TrimSpace("Dra. " + base)
	}
	return strings.TrimSpace("Dr. " + base)
}

// MarkVerified flips the verification flag and activates the account.
func (a *Account) MarkVerified(now time.Time) {
	a.Verified = true
	a.Active = true
	a.UpdatedAt = now
}

// DoctorProfile holds the professional registration of a Doctor account.
// Upserted as a side effect of staff management when the role is Doctor.
type DoctorProfile struct {
	AccountID id.PrincipalID `json:"account_id"`
	LicenseID string         `json:"license_id"`
	Specialty string         `json:"specialty"`
}
