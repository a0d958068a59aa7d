package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docflow/internal/appointment/models"
	"docflow/internal/appointment/store"
	"docflow/internal/authz"
	identitymodels "docflow/internal/identity/models"
	patientmodels "docflow/internal/patient/models"
	"docflow/internal/pii"
	tenantmodels "docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/sentinel"
	"docflow/pkg/requestcontext"
)

// Store is the persistence surface the appointment service depends on.
type Store interface {
	Create(ctx context.Context, appt *models.Appointment) error
	FindByID(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Appointment, error)
	Update(ctx context.Context, appt *models.Appointment) error
}

// Doctors resolves the doctor referenced by a booking.
type Doctors interface {
	FindAccountByID(ctx context.Context, accountID id.PrincipalID) (*identitymodels.Account, error)
}

// Patients resolves the patient record referenced by a booking.
type Patients interface {
	FindByID(ctx context.Context, patientID id.PatientID) (*patientmodels.PatientRecord, error)
	FindByAccountID(ctx context.Context, accountID id.PrincipalID) (*patientmodels.PatientRecord, error)
}

// Clinics resolves the clinic named in outgoing notifications.
type Clinics interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Tenant, error)
}

// Authorizer answers capability and scoping questions.
type Authorizer interface {
	HasPermission(principal id.Principal, resource authz.Resource, op authz.Operation) error
	HasObjectPermission(principal id.Principal, resource authz.Resource, op authz.Operation, objectTenant id.TenantID) error
	AppointmentScopeFor(principal id.Principal) authz.AppointmentScope
}

// Recorder appends audit entries; failures abort the operation.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// ConfirmationNotice is the operational metadata handed to the notifier:
// which clinic, when. Deliberately free of patient names and clinical
// content.
type ConfirmationNotice struct {
	AppointmentID id.AppointmentID
	TenantID      id.TenantID
	ClinicName    string
	StartsAt      time.Time
}

// Notifier delivers appointment confirmations.
type Notifier interface {
	AppointmentConfirmed(ctx context.Context, notice ConfirmationNotice) error
}

// Service owns the appointment lifecycle: booking, the status machine,
// sealed clinical notes, and row-level schedule scoping.
type Service struct {
	store    Store
	doctors  Doctors
	patients Patients
	clinics  Clinics
	codec    *pii.Codec
	authz    Authorizer
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger
}

func New(store Store, doctors Doctors, patients Patients, clinics Clinics, codec *pii.Codec, authorizer Authorizer, recorder Recorder, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		doctors:  doctors,
		patients: patients,
		clinics:  clinics,
		codec:    codec,
		authz:    authorizer,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
	}
}

// Input carries the booking fields.
type Input struct {
	TenantID  id.TenantID // required for PlatformAdmin actors, ignored otherwise
	PatientID id.PatientID
	DoctorID  id.PrincipalID
	StartsAt  time.Time
	EndsAt    time.Time
	Reason    string
}

// Create books an appointment on behalf of clinic staff. Staff bookings are
// confirmed immediately and the confirmation notification fires.
func (s *Service) Create(ctx context.Context, actor id.Principal, input Input) (*models.Appointment, error) {
	if actor.Role == id.RolePatient {
		return nil, dErrors.New(dErrors.CodeForbidden, "patients request appointments instead of booking directly")
	}
	if err := s.authz.HasPermission(actor, authz.ResourceAppointment, authz.OpCreate); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID
	if actor.Role == id.RolePlatformAdmin {
		if input.TenantID.IsNil() {
			return nil, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "platform admins must name a target tenant")
		}
		tenantID = input.TenantID
	}

	appt, err := s.buildAppointment(ctx, tenantID, input, models.StatusConfirmed)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, appt); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create appointment", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   tenantID,
		TargetKind: audit.TargetAppointment,
		TargetID:   appt.ID.String(),
		Action:     audit.ActionCreate,
	}); err != nil {
		return nil, err
	}

	s.notifyConfirmed(ctx, appt)
	return appt, nil
}

// Request books a requested appointment for the calling patient's own
// record. It waits for staff confirmation before any notification fires.
func (s *Service) Request(ctx context.Context, actor id.Principal, input Input) (*models.Appointment, error) {
	if actor.Role != id.RolePatient {
		return nil, dErrors.New(dErrors.CodeForbidden, "only patients request appointments")
	}
	if err := s.authz.HasPermission(actor, authz.ResourceAppointment, authz.OpCreate); err != nil {
		return nil, err
	}
	rec, err := s.patients.FindByAccountID(ctx, actor.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeForbidden, "no patient record is linked to this account")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find patient record", err)
	}

	input.PatientID = rec.ID
	appt, err := s.buildAppointment(ctx, actor.TenantID, input, models.StatusRequested)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, appt); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create appointment", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   actor.TenantID,
		TargetKind: audit.TargetAppointment,
		TargetID:   appt.ID.String(),
		Action:     audit.ActionCreate,
		Changes:    map[string]any{"requested_by_patient": true},
	}); err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *Service) buildAppointment(ctx context.Context, tenantID id.TenantID, input Input, status models.Status) (*models.Appointment, error) {
	doctor, err := s.doctors.FindAccountByID(ctx, input.DoctorID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "doctor_id", "doctor not found in this clinic")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find doctor", err)
	}
	if doctor.Role != id.RoleDoctor || doctor.TenantID != tenantID {
		return nil, dErrors.NewField(dErrors.CodeValidation, "doctor_id", "doctor not found in this clinic")
	}

	rec, err := s.patients.FindByID(ctx, input.PatientID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "patient_id", "patient not found in this clinic")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find patient record", err)
	}
	if rec.TenantID != tenantID {
		return nil, dErrors.NewField(dErrors.CodeValidation, "patient_id", "patient not found in this clinic")
	}

	return models.NewAppointment(id.AppointmentID(id.New()), tenantID, rec.ID, doctor.ID,
		status, input.StartsAt, input.EndsAt, input.Reason, requestcontext.Now(ctx))
}

// Confirm moves a requested appointment to confirmed and fires the
// confirmation notification.
func (s *Service) Confirm(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error) {
	appt, err := s.authorizeTransition(ctx, actor, apptID)
	if err != nil {
		return nil, err
	}
	if err := appt.CanConfirm(); err != nil {
		return nil, err
	}
	appt.ApplyConfirm(requestcontext.Now(ctx))
	if err := s.persistTransition(ctx, actor, appt, "confirmed"); err != nil {
		return nil, err
	}
	s.notifyConfirmed(ctx, appt)
	return appt, nil
}

// Complete settles a confirmed appointment.
func (s *Service) Complete(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error) {
	appt, err := s.authorizeTransition(ctx, actor, apptID)
	if err != nil {
		return nil, err
	}
	if err := appt.CanComplete(); err != nil {
		return nil, err
	}
	appt.ApplyComplete(requestcontext.Now(ctx))
	if err := s.persistTransition(ctx, actor, appt, "completed"); err != nil {
		return nil, err
	}
	return appt, nil
}

// Cancel settles a non-terminal appointment. A patient may cancel their own
// appointment; staff cancellations record the clinic as the canceling side.
func (s *Service) Cancel(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error) {
	var appt *models.Appointment
	var err error
	byPatient := actor.Role == id.RolePatient

	if byPatient {
		appt, err = s.ownAppointment(ctx, actor, apptID)
	} else {
		appt, err = s.authorizeTransition(ctx, actor, apptID)
	}
	if err != nil {
		return nil, err
	}
	if err := appt.CanCancel(); err != nil {
		return nil, err
	}
	appt.ApplyCancel(byPatient, requestcontext.Now(ctx))
	if err := s.persistTransition(ctx, actor, appt, "canceled"); err != nil {
		return nil, err
	}
	return appt, nil
}

// UpdateClinicalNotes seals and stores the notes. Only the appointment's
// doctor writes clinical notes; not even the tenant owner may.
func (s *Service) UpdateClinicalNotes(ctx context.Context, actor id.Principal, apptID id.AppointmentID, notes string) (*models.Appointment, error) {
	appt, err := s.find(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if actor.Role != id.RolePlatformAdmin {
		if actor.Role != id.RoleDoctor || appt.DoctorID != actor.ID {
			return nil, dErrors.New(dErrors.CodeForbidden, "only the attending doctor writes clinical notes")
		}
	}

	sealed, err := s.codec.Seal(notes)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "seal clinical notes", err)
	}
	appt.ClinicalNotes = sealed
	appt.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.Update(ctx, appt); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "update appointment", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   appt.TenantID,
		TargetKind: audit.TargetAppointment,
		TargetID:   appt.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    map[string]any{"clinical_notes": "updated"},
	}); err != nil {
		return nil, err
	}
	return appt, nil
}

// RevealClinicalNotes decrypts the notes for the attending doctor.
func (s *Service) RevealClinicalNotes(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (string, error) {
	appt, err := s.find(ctx, apptID)
	if err != nil {
		return "", err
	}
	if actor.Role != id.RolePlatformAdmin {
		if actor.Role != id.RoleDoctor || appt.DoctorID != actor.ID {
			return "", dErrors.New(dErrors.CodeForbidden, "only the attending doctor reads clinical notes")
		}
	}
	if len(appt.ClinicalNotes.Ciphertext) == 0 {
		return "", nil
	}
	raw, err := s.codec.Open(appt.ClinicalNotes.Ciphertext)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "open clinical notes", err)
	}
	return raw, nil
}

// Get returns one appointment the actor may see.
func (s *Service) Get(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error) {
	if err := s.authz.HasPermission(actor, authz.ResourceAppointment, authz.OpRead); err != nil {
		return nil, err
	}
	if actor.Role == id.RolePatient {
		return s.ownAppointment(ctx, actor, apptID)
	}
	appt, err := s.find(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.HasObjectPermission(actor, authz.ResourceAppointment, authz.OpRead, appt.TenantID); err != nil {
		return nil, err
	}
	if scope := s.authz.AppointmentScopeFor(actor); scope.Empty ||
		(!scope.DoctorID.IsNil() && appt.DoctorID != scope.DoctorID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	return appt, nil
}

// List returns the appointments visible under the actor's schedule scope.
func (s *Service) List(ctx context.Context, actor id.Principal) ([]*models.Appointment, error) {
	if err := s.authz.HasPermission(actor, authz.ResourceAppointment, authz.OpRead); err != nil {
		return nil, err
	}
	scope := s.authz.AppointmentScopeFor(actor)
	if scope.Empty {
		return nil, nil
	}
	filter := store.ListFilter{}
	if !scope.All {
		filter.TenantID = scope.TenantID
		filter.DoctorID = scope.DoctorID
		if !scope.PatientID.IsNil() {
			rec, err := s.patients.FindByAccountID(ctx, scope.PatientID)
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, dErrors.Wrap(dErrors.CodeInternal, "find patient record", err)
			}
			filter.PatientID = rec.ID
		}
	}
	appts, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list appointments", err)
	}
	return appts, nil
}

func (s *Service) authorizeTransition(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error) {
	if err := s.authz.HasPermission(actor, authz.ResourceAppointment, authz.OpUpdate); err != nil {
		return nil, err
	}
	appt, err := s.find(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.HasObjectPermission(actor, authz.ResourceAppointment, authz.OpUpdate, appt.TenantID); err != nil {
		return nil, err
	}
	return appt, nil
}

// ownAppointment fetches an appointment only if it belongs to the calling
// patient. Anything else reads as not found.
func (s *Service) ownAppointment(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error) {
	appt, err := s.find(ctx, apptID)
	if err != nil {
		return nil, err
	}
	rec, err := s.patients.FindByAccountID(ctx, actor.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find patient record", err)
	}
	if appt.PatientID != rec.ID {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	return appt, nil
}

func (s *Service) find(ctx context.Context, apptID id.AppointmentID) (*models.Appointment, error) {
	appt, err := s.store.FindByID(ctx, apptID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find appointment", err)
	}
	return appt, nil
}

func (s *Service) persistTransition(ctx context.Context, actor id.Principal, appt *models.Appointment, change string) error {
	if err := s.store.Update(ctx, appt); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "update appointment", err)
	}
	return s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   appt.TenantID,
		TargetKind: audit.TargetAppointment,
		TargetID:   appt.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    map[string]any{"status": string(appt.Status), "transition": change},
	})
}

// notifyConfirmed fires the confirmation notification without blocking the
// request. Delivery failure is logged and dropped; the appointment record is
// the source of truth.
func (s *Service) notifyConfirmed(ctx context.Context, appt *models.Appointment) {
	bg := context.WithoutCancel(ctx)
	go func() {
		notice := ConfirmationNotice{
			AppointmentID: appt.ID,
			TenantID:      appt.TenantID,
			StartsAt:      appt.StartsAt,
		}
		clinic, err := s.clinics.FindByID(bg, appt.TenantID)
		if err != nil {
			s.logger.WarnContext(bg, "clinic lookup for confirmation notice failed",
				"tenant_id", appt.TenantID.String(), "error", err)
		} else {
			notice.ClinicName = clinic.Name
		}
		if err := s.notifier.AppointmentConfirmed(bg, notice); err != nil {
			s.logger.WarnContext(bg, "appointment confirmation notification failed",
				"appointment_id", notice.AppointmentID.String(), "error", err)
		}
	}()
}
