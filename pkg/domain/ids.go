// Package domain holds typed identifiers and shared enums for the scheduling
// platform core.
//
// IDs are distinct types over uuid.UUID so the compiler rejects cross-type
// assignment: a PatientID can never be passed where a TenantID is expected.
// Construct IDs via the Parse* helpers at trust boundaries to enforce the
// "valid, non-empty, non-nil UUID" invariant; direct casting bypasses
// validation and is reserved for code that already holds a validated UUID.
package domain

import (
	"github.com/google/uuid"

	dErrors "docflow/pkg/domain-errors"
)

// Typed identifiers for the core aggregates.
type (
	TenantID      uuid.UUID
	PrincipalID   uuid.UUID
	PatientID     uuid.UUID
	AppointmentID uuid.UUID
	DocumentID    uuid.UUID
)

// New returns a fresh random UUID for constructing typed IDs.
func New() uuid.UUID { return uuid.New() }

// NewString returns a fresh random UUID in string form, for correlation IDs
// and other untyped identifiers.
func NewString() string { return uuid.NewString() }

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseTenantID validates and converts external input into a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return TenantID{}, err
	}
	return TenantID(u), nil
}

// ParsePrincipalID validates and converts external input into a PrincipalID.
func ParsePrincipalID(s string) (PrincipalID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return PrincipalID{}, err
	}
	return PrincipalID(u), nil
}

// ParsePatientID validates and converts external input into a PatientID.
func ParsePatientID(s string) (PatientID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return PatientID{}, err
	}
	return PatientID(u), nil
}

// ParseAppointmentID validates and converts external input into an AppointmentID.
func ParseAppointmentID(s string) (AppointmentID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return AppointmentID{}, err
	}
	return AppointmentID(u), nil
}

// ParseDocumentID validates and converts external input into a DocumentID.
func ParseDocumentID(s string) (DocumentID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return DocumentID{}, err
	}
	return DocumentID(u), nil
}

func (id TenantID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id PrincipalID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id PatientID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id AppointmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id TenantID) String() string      { return uuid.UUID(id).String() }
func (id PrincipalID) String() string   { return uuid.UUID(id).String() }
func (id PatientID) String() string     { return uuid.UUID(id).String() }
func (id AppointmentID) String() string { return uuid.UUID(id).String() }
func (id DocumentID) String() string    { return uuid.UUID(id).String() }

// Text marshalling keeps the canonical UUID form on the wire. Defined types
// do not inherit uuid.UUID's methods, so each ID carries its own.

func (id TenantID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id PrincipalID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id PatientID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id AppointmentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id DocumentID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *TenantID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PrincipalID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *PatientID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AppointmentID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *DocumentID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
