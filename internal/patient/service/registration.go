package service

import (
	"context"
	"log/slog"
	"time"

	consentservice "docflow/internal/consent/service"
	identitymodels "docflow/internal/identity/models"
	"docflow/internal/patient/models"
	tenantmodels "docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/tx"
)

// Accounts is the identity surface the registration flow needs.
type Accounts interface {
	CreatePatientAccount(ctx context.Context, tenantID id.TenantID, email, fullName string) (*identitymodels.Account, error)
	IssueVerificationCode(ctx context.Context, accountID id.PrincipalID) (*identitymodels.VerificationCode, error)
}

// Clinics resolves the public clinic a registrant picked.
type Clinics interface {
	FindActiveBySlug(ctx context.Context, slug string) (*tenantmodels.Tenant, error)
}

// Notifier delivers the verification code to the registrant.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, code string) error
}

// Registrar orchestrates patient self-registration: clinic resolution,
// consent gating, account and record creation, and the verification email.
type Registrar struct {
	clinics  Clinics
	accounts Accounts
	patients *Service
	consents *consentservice.Service
	runner   tx.Runner
	notifier Notifier
	logger   *slog.Logger
}

func NewRegistrar(clinics Clinics, accounts Accounts, patients *Service, consents *consentservice.Service, runner tx.Runner, notifier Notifier, logger *slog.Logger) *Registrar {
	return &Registrar{
		clinics:  clinics,
		accounts: accounts,
		patients: patients,
		consents: consents,
		runner:   runner,
		notifier: notifier,
		logger:   logger,
	}
}

// RegistrationInput is the public registration payload.
type RegistrationInput struct {
	ClinicSlug          string
	Email               string
	FullName            string
	NationalID          string
	Phone               string
	Sex                 models.Sex
	BirthDate           *time.Time
	AcceptedDocumentIDs []id.DocumentID
}

// RegistrationResult is what a successful registration produced. The account
// stays inactive until the emailed code is verified.
type RegistrationResult struct {
	Account *identitymodels.Account
	Patient *models.PatientRecord
}

// Register runs the whole self-registration inside one transaction. Consent
// is gating: registration without acceptance of every active document fails
// before any write.
func (r *Registrar) Register(ctx context.Context, input RegistrationInput) (*RegistrationResult, error) {
	clinic, err := r.clinics.FindActiveBySlug(ctx, input.ClinicSlug)
	if err != nil {
		return nil, err
	}

	active, err := r.consents.ActiveDocuments(ctx)
	if err != nil {
		return nil, err
	}
	accepted := make(map[id.DocumentID]bool, len(input.AcceptedDocumentIDs))
	for _, docID := range input.AcceptedDocumentIDs {
		accepted[docID] = true
	}
	for _, doc := range active {
		if !accepted[doc.ID] {
			return nil, dErrors.New(dErrors.CodeConsentRequired, "registration requires acceptance of every active document")
		}
	}

	var (
		result RegistrationResult
		code   string
	)
	err = r.runner.RunInTx(ctx, func(ctx context.Context) error {
		account, err := r.accounts.CreatePatientAccount(ctx, clinic.ID, input.Email, input.FullName)
		if err != nil {
			return err
		}
		rec, err := r.patients.CreateForAccount(ctx, clinic.ID, account.ID, Input{
			FullName:   input.FullName,
			NationalID: input.NationalID,
			Phone:      input.Phone,
			Sex:        input.Sex,
			BirthDate:  input.BirthDate,
		})
		if err != nil {
			return err
		}
		if len(input.AcceptedDocumentIDs) > 0 {
			if _, err := r.consents.Accept(ctx, account.Principal(), input.AcceptedDocumentIDs); err != nil {
				return err
			}
		}
		vc, err := r.accounts.IssueVerificationCode(ctx, account.ID)
		if err != nil {
			return err
		}
		code = vc.Code
		result = RegistrationResult{Account: account, Patient: rec}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Delivery failure is not fatal: the account exists and a fresh code can
	// be requested.
	if err := r.notifier.SendVerificationEmail(ctx, result.Account.Email, code); err != nil {
		r.logger.WarnContext(ctx, "verification email delivery failed",
			"account_id", result.Account.ID.String(), "error", err)
	}

	r.logger.InfoContext(ctx, "patient registered",
		"clinic", clinic.Slug, "account_id", result.Account.ID.String())
	return &result, nil
}
