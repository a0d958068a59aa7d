package service

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"docflow/internal/authz"
	"docflow/internal/consent/cache"
	consentmodels "docflow/internal/consent/models"
	consentservice "docflow/internal/consent/service"
	consentstore "docflow/internal/consent/store"
	identityservice "docflow/internal/identity/service"
	identitystore "docflow/internal/identity/store"
	patientstore "docflow/internal/patient/store"
	"docflow/internal/pii"
	tenantmodels "docflow/internal/tenant/models"
	tenantservice "docflow/internal/tenant/service"
	tenantstore "docflow/internal/tenant/store"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	auditmemory "docflow/pkg/platform/audit/store/memory"
	"docflow/pkg/platform/tx"
	"docflow/pkg/requestcontext"
)

type fakeNotifier struct {
	emails []string
	codes  []string
	fail   bool
}

func (f *fakeNotifier) SendVerificationEmail(_ context.Context, email, code string) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.emails = append(f.emails, email)
	f.codes = append(f.codes, code)
	return nil
}

type RegistrarSuite struct {
	suite.Suite

	identity *identitystore.InMemory
	patients *patientstore.InMemory
	consents *consentstore.InMemory
	notifier *fakeNotifier

	consentSvc *consentservice.Service
	registrar  *Registrar

	ctx    context.Context
	clinic *tenantmodels.Tenant
	terms  *consentmodels.LegalDocument
	priv   *consentmodels.LegalDocument
}

func TestRegistrarSuite(t *testing.T) {
	suite.Run(t, new(RegistrarSuite))
}

func (s *RegistrarSuite) SetupTest() {
	logger := slog.New(slog.DiscardHandler)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)

	tenants := tenantstore.NewInMemory()
	s.identity = identitystore.NewInMemory()
	s.patients = patientstore.NewInMemory()
	s.consents = consentstore.NewInMemory()
	s.notifier = &fakeNotifier{}

	auditLog := auditmemory.NewInMemoryStore()
	recorder := audit.NewRecorder(auditLog, logger)

	clinic, err := tenantmodels.NewTenant(id.TenantID(id.New()), "Clinica Central", "clinica-central", now)
	s.Require().NoError(err)
	s.Require().NoError(tenants.CreateIfSlugAvailable(s.ctx, clinic))
	s.clinic = clinic

	seed := func(docType id.DocType) *consentmodels.LegalDocument {
		doc, err := consentmodels.NewLegalDocument(id.DocumentID(id.New()), docType, 1, string(docType), "body", now)
		s.Require().NoError(err)
		doc.Active = true
		s.Require().NoError(s.consents.CreateDocument(s.ctx, doc))
		return doc
	}
	s.terms = seed(id.DocTypeTerms)
	s.priv = seed(id.DocTypePrivacy)

	codec, err := pii.NewCodec(bytes.Repeat([]byte{0x42}, pii.KeySize))
	s.Require().NoError(err)

	tenantSvc := tenantservice.New(tenants, recorder, logger)
	identitySvc := identityservice.New(s.identity, tenants, recorder, logger)
	patientSvc := New(s.patients, codec, authz.NewRoleAuthorizer(logger), recorder, logger)
	s.consentSvc = consentservice.New(s.consents, cache.Noop{}, recorder, logger)

	s.registrar = NewRegistrar(tenantSvc, identitySvc, patientSvc, s.consentSvc,
		tx.Passthrough{}, s.notifier, logger)
}

func (s *RegistrarSuite) input() RegistrationInput {
	return RegistrationInput{
		ClinicSlug:          "clinica-central",
		Email:               "pat@home.test",
		FullName:            "Pat Silva",
		NationalID:          "123.456.789-09",
		AcceptedDocumentIDs: []id.DocumentID{s.terms.ID, s.priv.ID},
	}
}

func (s *RegistrarSuite) TestRegister() {
	s.Run("unknown clinic slug is not found", func() {
		input := s.input()
		input.ClinicSlug = "nowhere"
		_, err := s.registrar.Register(s.ctx, input)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("partial consent blocks registration before any write", func() {
		input := s.input()
		input.AcceptedDocumentIDs = []id.DocumentID{s.terms.ID}
		_, err := s.registrar.Register(s.ctx, input)
		s.True(dErrors.HasCode(err, dErrors.CodeConsentRequired))

		_, err = s.identity.FindAccountByEmail(s.ctx, input.Email)
		s.Error(err)
	})

	s.Run("happy path creates account, record, consents, and code", func() {
		result, err := s.registrar.Register(s.ctx, s.input())
		s.Require().NoError(err)

		s.False(result.Account.Active)
		s.False(result.Account.Verified)
		s.Equal(s.clinic.ID, result.Account.TenantID)
		s.Equal(result.Account.ID, result.Patient.AccountID)
		s.Equal(pii.Hash("12345678909"), result.Patient.NationalID.Hash)

		complete, err := s.consentSvc.HasActiveConsent(s.ctx, result.Account.Principal())
		s.Require().NoError(err)
		s.True(complete)

		s.Require().Len(s.notifier.codes, 1)
		s.Len(s.notifier.codes[0], 6)
		s.Equal("pat@home.test", s.notifier.emails[0])
	})

	s.Run("duplicate national ID at the same clinic is a conflict", func() {
		input := s.input()
		input.Email = "second@home.test"
		_, err := s.registrar.Register(s.ctx, input)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("email delivery failure does not fail the registration", func() {
		s.notifier.fail = true
		input := s.input()
		input.Email = "third@home.test"
		input.NationalID = "987.654.321-00"
		result, err := s.registrar.Register(s.ctx, input)
		s.Require().NoError(err)
		s.NotNil(result.Account)
	})
}
