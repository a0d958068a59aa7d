package models

import (
	"strings"
	"time"

	"docflow/internal/pii"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

// Sex is demographic data on the patient record, unrelated to account
// display titles.
type Sex string

const (
	SexMale        Sex = "M"
	SexFemale      Sex = "F"
	SexUnspecified Sex = ""
)

// PatientRecord is the clinical-administrative record of one patient within
// one tenant.
//
// Invariants:
//   - TenantID is immutable; records never move between tenants
//   - The national ID is stored sealed: ciphertext plus a deterministic
//     digest. (TenantID, digest) is unique, so the same person registers at
//     most once per clinic while remaining registrable at another clinic
//   - The digest is recomputed from plaintext on every write, never patched
//     directly
//   - AccountID links the record to a portal account when the patient
//     self-registered; staff-created records may carry none
type PatientRecord struct {
	ID         id.PatientID   `json:"id"`
	TenantID   id.TenantID    `json:"tenant_id"`
	AccountID  id.PrincipalID `json:"account_id,omitempty"`
	FullName   string         `json:"full_name"`
	NationalID pii.Sealed     `json:"-"`
	Phone      string         `json:"phone,omitempty"`
	Sex        Sex            `json:"sex,omitempty"`
	BirthDate  *time.Time     `json:"birth_date,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewPatientRecord validates inputs and constructs a record. The national ID
// is sealed separately by the service, which owns the codec.
func NewPatientRecord(patientID id.PatientID, tenantID id.TenantID, fullName string, now time.Time) (*PatientRecord, error) {
	if tenantID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "patient records require a tenant")
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, dErrors.NewField(dErrors.CodeValidation, "full_name", "patient name cannot be empty")
	}
	return &PatientRecord{
		ID:        patientID,
		TenantID:  tenantID,
		FullName:  fullName,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// MaskNationalID keeps the last two digits of a plaintext national ID and
// hides the rest. Safe for list views and logs of decrypted values.
func MaskNationalID(raw string) string {
	digits := pii.Normalize(raw)
	if len(digits) <= 2 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-2) + digits[len(digits)-2:]
}
