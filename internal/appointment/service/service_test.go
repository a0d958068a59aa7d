package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"docflow/internal/appointment/models"
	apptstore "docflow/internal/appointment/store"
	"docflow/internal/authz"
	identitymodels "docflow/internal/identity/models"
	identitystore "docflow/internal/identity/store"
	patientmodels "docflow/internal/patient/models"
	patientstore "docflow/internal/patient/store"
	"docflow/internal/pii"
	tenantmodels "docflow/internal/tenant/models"
	tenantstore "docflow/internal/tenant/store"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	auditmemory "docflow/pkg/platform/audit/store/memory"
	"docflow/pkg/requestcontext"
)

type fakeNotifier struct {
	mu      sync.Mutex
	notices []ConfirmationNotice
	fired   chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{fired: make(chan struct{}, 16)}
}

func (f *fakeNotifier) AppointmentConfirmed(_ context.Context, notice ConfirmationNotice) error {
	f.mu.Lock()
	f.notices = append(f.notices, notice)
	f.mu.Unlock()
	f.fired <- struct{}{}
	return nil
}

func (f *fakeNotifier) wait(t *testing.T) ConfirmationNotice {
	t.Helper()
	select {
	case <-f.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a confirmation notification")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notices[len(f.notices)-1]
}

type ServiceSuite struct {
	suite.Suite

	store    *apptstore.InMemory
	identity *identitystore.InMemory
	patients *patientstore.InMemory
	tenants  *tenantstore.InMemory
	auditLog *auditmemory.InMemoryStore
	notifier *fakeNotifier
	svc      *Service

	ctx    context.Context
	now    time.Time
	tenant id.TenantID
	other  id.TenantID

	doctor  *identitymodels.Account
	patient *patientmodels.PatientRecord
	portal  id.Principal
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.DiscardHandler)
	s.store = apptstore.NewInMemory()
	s.identity = identitystore.NewInMemory()
	s.patients = patientstore.NewInMemory()
	s.tenants = tenantstore.NewInMemory()
	s.auditLog = auditmemory.NewInMemoryStore()
	s.notifier = newFakeNotifier()

	codec, err := pii.NewCodec(bytes.Repeat([]byte{0x42}, pii.KeySize))
	s.Require().NoError(err)

	s.svc = New(s.store, s.identity, s.patients, s.tenants, codec, authz.NewRoleAuthorizer(logger),
		audit.NewRecorder(s.auditLog, logger), s.notifier, logger)

	s.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	clinic, err := tenantmodels.NewTenant(id.TenantID(id.New()), "Clinica Norte", "clinica-norte", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.tenants.CreateIfSlugAvailable(s.ctx, clinic))
	s.tenant = clinic.ID
	s.other = id.TenantID(id.New())

	s.doctor = s.seedDoctor(s.tenant, "dr@clinic.test", "Dr House")

	portalAccount := id.PrincipalID(id.New())
	s.patient = s.seedPatient(s.tenant, portalAccount, "Pat Silva")
	s.portal = id.Principal{ID: portalAccount, TenantID: s.tenant, Role: id.RolePatient, Verified: true}
}

func (s *ServiceSuite) seedDoctor(tenant id.TenantID, email, name string) *identitymodels.Account {
	account, err := identitymodels.NewAccount(id.PrincipalID(id.New()), tenant, id.RoleDoctor, email, name, s.now)
	s.Require().NoError(err)
	account.Active = true
	account.Verified = true
	s.Require().NoError(s.identity.CreateAccount(s.ctx, account))
	return account
}

func (s *ServiceSuite) seedPatient(tenant id.TenantID, accountID id.PrincipalID, name string) *patientmodels.PatientRecord {
	rec, err := patientmodels.NewPatientRecord(id.PatientID(id.New()), tenant, name, s.now)
	s.Require().NoError(err)
	rec.AccountID = accountID
	s.Require().NoError(s.patients.Create(s.ctx, rec))
	return rec
}

func (s *ServiceSuite) staff(role id.Role, tenant id.TenantID) id.Principal {
	return id.Principal{ID: id.PrincipalID(id.New()), TenantID: tenant, Role: role, Verified: true}
}

func (s *ServiceSuite) input() Input {
	return Input{
		PatientID: s.patient.ID,
		DoctorID:  s.doctor.ID,
		StartsAt:  s.now.Add(24 * time.Hour),
		EndsAt:    s.now.Add(24*time.Hour + 30*time.Minute),
		Reason:    "checkup",
	}
}

func (s *ServiceSuite) TestCreate() {
	secretary := s.staff(id.RoleSecretary, s.tenant)

	s.Run("staff booking is confirmed and notifies", func() {
		appt, err := s.svc.Create(s.ctx, secretary, s.input())
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, appt.Status)

		notice := s.notifier.wait(s.T())
		s.Equal(appt.ID, notice.AppointmentID)
		s.Equal(appt.StartsAt, notice.StartsAt)
		s.Equal("Clinica Norte", notice.ClinicName)

		entries := s.auditLog.All()
		s.Require().Len(entries, 1)
		s.Equal(audit.TargetAppointment, entries[0].TargetKind)
	})

	s.Run("doctor of another tenant is rejected", func() {
		foreign := s.seedDoctor(s.other, "dr@other.test", "Dr Other")
		input := s.input()
		input.DoctorID = foreign.ID
		_, err := s.svc.Create(s.ctx, secretary, input)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("doctor_id", dErrors.FieldOf(err))
	})

	s.Run("patient record of another tenant is rejected", func() {
		foreign := s.seedPatient(s.other, id.PrincipalID{}, "Foreign Pat")
		input := s.input()
		input.PatientID = foreign.ID
		_, err := s.svc.Create(s.ctx, secretary, input)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("patient_id", dErrors.FieldOf(err))
	})

	s.Run("end before start is rejected", func() {
		input := s.input()
		input.EndsAt = input.StartsAt.Add(-time.Minute)
		_, err := s.svc.Create(s.ctx, secretary, input)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("ends_at", dErrors.FieldOf(err))
	})

	s.Run("patients cannot book directly", func() {
		_, err := s.svc.Create(s.ctx, s.portal, s.input())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestRequestAndConfirm() {
	appt, err := s.svc.Request(s.ctx, s.portal, s.input())
	s.Require().NoError(err)
	s.Equal(models.StatusRequested, appt.Status)
	s.Equal(s.patient.ID, appt.PatientID)

	s.Run("no notification before confirmation", func() {
		select {
		case <-s.notifier.fired:
			s.Fail("request must not notify")
		case <-time.After(50 * time.Millisecond):
		}
	})

	s.Run("staff confirmation fires the notification", func() {
		confirmed, err := s.svc.Confirm(s.ctx, s.staff(id.RoleTenantOwner, s.tenant), appt.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusConfirmed, confirmed.Status)

		notice := s.notifier.wait(s.T())
		s.Equal(appt.ID, notice.AppointmentID)
	})

	s.Run("confirming twice violates the machine", func() {
		_, err := s.svc.Confirm(s.ctx, s.staff(id.RoleTenantOwner, s.tenant), appt.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("a patient without a linked record cannot request", func() {
		stranger := id.Principal{ID: id.PrincipalID(id.New()), TenantID: s.tenant, Role: id.RolePatient, Verified: true}
		_, err := s.svc.Request(s.ctx, stranger, s.input())
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestLifecycle() {
	owner := s.staff(id.RoleTenantOwner, s.tenant)
	appt, err := s.svc.Create(s.ctx, owner, s.input())
	s.Require().NoError(err)
	s.notifier.wait(s.T())

	s.Run("confirmed completes", func() {
		done, err := s.svc.Complete(s.ctx, s.staff(id.RoleDoctor, s.tenant), appt.ID)
		// The matrix allows any updating staff role; object scope is checked
		// separately, so a doctor of the same tenant passes here.
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, done.Status)
	})

	s.Run("terminal states reject every transition", func() {
		_, err := s.svc.Cancel(s.ctx, owner, appt.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		_, err = s.svc.Confirm(s.ctx, owner, appt.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	s.Run("patient cancels own requested appointment", func() {
		requested, err := s.svc.Request(s.ctx, s.portal, s.input())
		s.Require().NoError(err)
		canceled, err := s.svc.Cancel(s.ctx, s.portal, requested.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCanceledByPatient, canceled.Status)
	})

	s.Run("clinic cancellation records the clinic side", func() {
		another, err := s.svc.Create(s.ctx, owner, s.input())
		s.Require().NoError(err)
		s.notifier.wait(s.T())
		canceled, err := s.svc.Cancel(s.ctx, owner, another.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCanceledByClinic, canceled.Status)
	})

	s.Run("patient cannot cancel someone else's appointment", func() {
		other := s.seedPatient(s.tenant, id.PrincipalID(id.New()), "Other Pat")
		input := s.input()
		input.PatientID = other.ID
		appt, err := s.svc.Create(s.ctx, owner, input)
		s.Require().NoError(err)
		s.notifier.wait(s.T())

		_, err = s.svc.Cancel(s.ctx, s.portal, appt.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestClinicalNotes() {
	owner := s.staff(id.RoleTenantOwner, s.tenant)
	appt, err := s.svc.Create(s.ctx, owner, s.input())
	s.Require().NoError(err)
	s.notifier.wait(s.T())

	attending := id.Principal{ID: s.doctor.ID, TenantID: s.tenant, Role: id.RoleDoctor, Verified: true}

	s.Run("only the attending doctor writes notes", func() {
		_, err := s.svc.UpdateClinicalNotes(s.ctx, owner, appt.ID, "hypertension follow-up")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		otherDoctor := s.staff(id.RoleDoctor, s.tenant)
		_, err = s.svc.UpdateClinicalNotes(s.ctx, otherDoctor, appt.ID, "hypertension follow-up")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

		updated, err := s.svc.UpdateClinicalNotes(s.ctx, attending, appt.ID, "hypertension follow-up")
		s.Require().NoError(err)
		s.NotEmpty(updated.ClinicalNotes.Ciphertext)

		entries := s.auditLog.All()
		last := entries[len(entries)-1]
		s.Equal("updated", last.Changes["clinical_notes"])
	})

	s.Run("notes round-trip for the attending doctor only", func() {
		raw, err := s.svc.RevealClinicalNotes(s.ctx, attending, appt.ID)
		s.Require().NoError(err)
		s.Equal("hypertension follow-up", raw)

		_, err = s.svc.RevealClinicalNotes(s.ctx, owner, appt.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestScoping() {
	owner := s.staff(id.RoleTenantOwner, s.tenant)
	secondDoctor := s.seedDoctor(s.tenant, "dr2@clinic.test", "Dr Second")

	first, err := s.svc.Create(s.ctx, owner, s.input())
	s.Require().NoError(err)
	s.notifier.wait(s.T())

	input := s.input()
	input.DoctorID = secondDoctor.ID
	_, err = s.svc.Create(s.ctx, owner, input)
	s.Require().NoError(err)
	s.notifier.wait(s.T())

	s.Run("owner lists the whole tenant", func() {
		appts, err := s.svc.List(s.ctx, owner)
		s.Require().NoError(err)
		s.Len(appts, 2)
	})

	s.Run("doctor lists own schedule only", func() {
		attending := id.Principal{ID: s.doctor.ID, TenantID: s.tenant, Role: id.RoleDoctor, Verified: true}
		appts, err := s.svc.List(s.ctx, attending)
		s.Require().NoError(err)
		s.Require().Len(appts, 1)
		s.Equal(s.doctor.ID, appts[0].DoctorID)
	})

	s.Run("bound secretary follows the binding", func() {
		sec := s.staff(id.RoleSecretary, s.tenant)
		sec.BoundDoctorID = secondDoctor.ID
		appts, err := s.svc.List(s.ctx, sec)
		s.Require().NoError(err)
		s.Require().Len(appts, 1)
		s.Equal(secondDoctor.ID, appts[0].DoctorID)
	})

	s.Run("unbound secretary sees an empty schedule", func() {
		appts, err := s.svc.List(s.ctx, s.staff(id.RoleSecretary, s.tenant))
		s.Require().NoError(err)
		s.Empty(appts)
	})

	s.Run("patient lists own appointments", func() {
		appts, err := s.svc.List(s.ctx, s.portal)
		s.Require().NoError(err)
		s.Len(appts, 2)
		for _, appt := range appts {
			s.Equal(s.patient.ID, appt.PatientID)
		}
	})

	s.Run("unknown appointment reads as not found", func() {
		_, err := s.svc.Get(s.ctx, owner, id.AppointmentID(id.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("staff of another tenant cannot read the appointment", func() {
		_, err := s.svc.Get(s.ctx, s.staff(id.RoleTenantOwner, s.other), first.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("a doctor cannot read a colleague's appointment", func() {
		attending := id.Principal{ID: secondDoctor.ID, TenantID: s.tenant, Role: id.RoleDoctor, Verified: true}
		_, err := s.svc.Get(s.ctx, attending, first.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
