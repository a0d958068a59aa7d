package models

import (
	"strings"
	"time"

	"docflow/internal/pii"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusRequested         Status = "REQUESTED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusCompleted         Status = "COMPLETED"
	StatusCanceledByPatient Status = "CANCELED_BY_PATIENT"
	StatusCanceledByClinic  Status = "CANCELED_BY_CLINIC"
)

// Terminal reports whether no further transition leaves this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCanceledByPatient, StatusCanceledByClinic:
		return true
	}
	return false
}

// Appointment is one scheduled encounter between a patient and a doctor.
//
// Invariants:
//   - TenantID is immutable; patient and doctor belong to the same tenant
//   - EndsAt is strictly after StartsAt
//   - Status moves Requested -> Confirmed -> Completed, with cancellation
//     possible from any non-terminal state; terminal states never change
//   - ClinicalNotes are stored sealed and are written by doctors only
type Appointment struct {
	ID            id.AppointmentID `json:"id"`
	TenantID      id.TenantID      `json:"tenant_id"`
	PatientID     id.PatientID     `json:"patient_id"`
	DoctorID      id.PrincipalID   `json:"doctor_id"`
	Status        Status           `json:"status"`
	Reason        string           `json:"reason,omitempty"`
	ClinicalNotes pii.Sealed       `json:"-"`
	StartsAt      time.Time        `json:"starts_at"`
	EndsAt        time.Time        `json:"ends_at"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewAppointment validates inputs and constructs an appointment in the given
// initial status.
func NewAppointment(apptID id.AppointmentID, tenantID id.TenantID, patientID id.PatientID, doctorID id.PrincipalID, status Status, startsAt, endsAt time.Time, reason string, now time.Time) (*Appointment, error) {
	if tenantID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "appointments require a tenant")
	}
	if patientID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "patient_id", "a patient is required")
	}
	if doctorID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "doctor_id", "a doctor is required")
	}
	if !endsAt.After(startsAt) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "ends_at", "end must be after start")
	}
	if status != StatusRequested && status != StatusConfirmed {
		return nil, dErrors.NewField(dErrors.CodeValidation, "status", "appointments start as requested or confirmed")
	}
	return &Appointment{
		ID:        apptID,
		TenantID:  tenantID,
		PatientID: patientID,
		DoctorID:  doctorID,
		Status:    status,
		Reason:    strings.TrimSpace(reason),
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CanConfirm checks the requested -> confirmed transition.
func (a *Appointment) CanConfirm() error {
	if a.Status != StatusRequested {
		return dErrors.New(dErrors.CodeInvariantViolation, "only requested appointments can be confirmed")
	}
	return nil
}

// ApplyConfirm transitions to confirmed. Call CanConfirm first.
func (a *Appointment) ApplyConfirm(now time.Time) {
	a.Status = StatusConfirmed
	a.UpdatedAt = now
}

// CanComplete checks the confirmed -> completed transition.
func (a *Appointment) CanComplete() error {
	if a.Status != StatusConfirmed {
		return dErrors.New(dErrors.CodeInvariantViolation, "only confirmed appointments can be completed")
	}
	return nil
}

// ApplyComplete transitions to completed.
func (a *Appointment) ApplyComplete(now time.Time) {
	a.Status = StatusCompleted
	a.UpdatedAt = now
}

// CanCancel checks that the appointment is still cancellable.
func (a *Appointment) CanCancel() error {
	if a.Status.Terminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "appointment is already settled")
	}
	return nil
}

// ApplyCancel transitions to the cancelled state matching who cancelled.
func (a *Appointment) ApplyCancel(byPatient bool, now time.Time) {
	if byPatient {
		a.Status = StatusCanceledByPatient
	} else {
		a.Status = StatusCanceledByClinic
	}
	a.UpdatedAt = now
}
