package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docflow/internal/identity/models"
	tenantmodels "docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/sentinel"
	"docflow/pkg/requestcontext"
)

// Store is the persistence surface the identity service depends on.
type Store interface {
	CreateAccount(ctx context.Context, account *models.Account) error
	FindAccountByID(ctx context.Context, accountID id.PrincipalID) (*models.Account, error)
	FindAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateAccount(ctx context.Context, account *models.Account) error
	ListStaff(ctx context.Context, tenantID id.TenantID) ([]*models.Account, error)
	FindFirstDoctor(ctx context.Context, tenantID id.TenantID) (*models.Account, error)
	UpsertDoctorProfile(ctx context.Context, profile *models.DoctorProfile) error
	FindDoctorProfile(ctx context.Context, accountID id.PrincipalID) (*models.DoctorProfile, error)
	CreateVerificationCode(ctx context.Context, code *models.VerificationCode) error
	FindUnusedCode(ctx context.Context, code string) (*models.VerificationCode, error)
	MarkCodeUsed(ctx context.Context, code string, now time.Time) error
}

// TenantDirectory resolves target tenants during staff management.
type TenantDirectory interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Tenant, error)
}

// Recorder appends audit entries; failures abort the operation.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service owns account lifecycle: staff management, patient account
// creation, and email verification.
type Service struct {
	store    Store
	tenants  TenantDirectory
	recorder Recorder
	logger   *slog.Logger
}

func New(store Store, tenants TenantDirectory, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, tenants: tenants, recorder: recorder, logger: logger}
}

// StaffInput carries the fields accepted by staff create/update. LicenseID
// and Specialty are valid only when Role is Doctor.
type StaffInput struct {
	TenantID      id.TenantID // required for PlatformAdmin actors, ignored otherwise
	Role          id.Role
	Email         string
	FullName      string
	Gender        models.Gender
	BoundDoctorID id.PrincipalID
	LicenseID     string
	Specialty     string
}

// CreateStaff creates a TenantOwner, Secretary, or Doctor account.
//
// Target tenant rules: a PlatformAdmin must name an active tenant
// explicitly; a TenantOwner always targets their own tenant; everyone else
// is denied. Creating a Doctor upserts the doctor profile as a side effect;
// profile fields on any other role are a validation error.
func (s *Service) CreateStaff(ctx context.Context, actor id.Principal, input StaffInput) (*models.Account, error) {
	if err := validateStaffRole(input.Role); err != nil {
		return nil, err
	}
	tenantID, err := s.resolveTargetTenant(ctx, actor, input.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.validateProfileFields(ctx, input, tenantID); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	account, err := models.NewAccount(id.PrincipalID(id.New()), tenantID, input.Role, input.Email, input.FullName, now)
	if err != nil {
		return nil, err
	}
	account.Gender = input.Gender
	account.BoundDoctorID = input.BoundDoctorID
	// Staff accounts are provisioned by an administrator, not self-registered.
	account.Active = true
	account.Verified = true

	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "email", "email already registered")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create staff account", err)
	}

	if input.Role == id.RoleDoctor {
		profile := &models.DoctorProfile{
			AccountID: account.ID,
			LicenseID: input.LicenseID,
			Specialty: input.Specialty,
		}
		if err := s.store.UpsertDoctorProfile(ctx, profile); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "upsert doctor profile", err)
		}
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   tenantID,
		TargetKind: audit.TargetAccount,
		TargetID:   account.ID.String(),
		Action:     audit.ActionCreate,
		Changes:    map[string]any{"role": account.Role.String()},
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "staff account created",
		"account_id", account.ID.String(), "role", account.Role.String())
	return account, nil
}

// UpdateStaff applies changes to an existing staff account. Role changes are
// allowed within the staff set; moving an account to another tenant is not a
// thing this operation can express.
func (s *Service) UpdateStaff(ctx context.Context, actor id.Principal, accountID id.PrincipalID, input StaffInput) (*models.Account, error) {
	account, err := s.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeStaffTarget(actor, account); err != nil {
		return nil, err
	}
	if err := validateStaffRole(input.Role); err != nil {
		return nil, err
	}
	if err := s.validateProfileFields(ctx, input, account.TenantID); err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if account.Role != input.Role {
		changes["role"] = map[string]string{"from": account.Role.String(), "to": input.Role.String()}
	}

	account.Role = input.Role
	account.FullName = input.FullName
	account.Gender = input.Gender
	account.BoundDoctorID = input.BoundDoctorID
	if input.Email != "" {
		account.Email = input.Email
	}
	account.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.UpdateAccount(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "email", "email already registered")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "update staff account", err)
	}

	if account.Role == id.RoleDoctor {
		profile := &models.DoctorProfile{
			AccountID: account.ID,
			LicenseID: input.LicenseID,
			Specialty: input.Specialty,
		}
		if err := s.store.UpsertDoctorProfile(ctx, profile); err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "upsert doctor profile", err)
		}
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   account.TenantID,
		TargetKind: audit.TargetAccount,
		TargetID:   account.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    changes,
	}); err != nil {
		return nil, err
	}
	return account, nil
}

// ListStaff lists staff accounts. PlatformAdmin may filter by tenant or see
// all; TenantOwner is pinned to their own tenant.
func (s *Service) ListStaff(ctx context.Context, actor id.Principal, tenantFilter id.TenantID) ([]*models.Account, error) {
	switch actor.Role {
	case id.RolePlatformAdmin:
		// optional filter
	case id.RoleTenantOwner:
		tenantFilter = actor.TenantID
	default:
		return nil, dErrors.New(dErrors.CodeForbidden, "only platform admins and tenant owners manage staff")
	}
	accounts, err := s.store.ListStaff(ctx, tenantFilter)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list staff", err)
	}
	return accounts, nil
}

// CreatePatientAccount provisions the inactive, unverified account behind a
// patient self-registration. It becomes usable after email verification.
func (s *Service) CreatePatientAccount(ctx context.Context, tenantID id.TenantID, email, fullName string) (*models.Account, error) {
	now := requestcontext.Now(ctx)
	account, err := models.NewAccount(id.PrincipalID(id.New()), tenantID, id.RolePatient, email, fullName, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "email", "email already registered")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create patient account", err)
	}
	return account, nil
}

// IssueVerificationCode generates and persists a fresh 6-digit code,
// retrying a handful of times on the (unlikely) uniqueness collision.
func (s *Service) IssueVerificationCode(ctx context.Context, accountID id.PrincipalID) (*models.VerificationCode, error) {
	now := requestcontext.Now(ctx)
	for attempt := 0; attempt < 5; attempt++ {
		code, err := models.NewVerificationCode(accountID, now)
		if err != nil {
			return nil, err
		}
		err = s.store.CreateVerificationCode(ctx, code)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			continue
		}
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "store verification code", err)
		}
		return code, nil
	}
	return nil, dErrors.New(dErrors.CodeInternal, "could not generate a unique verification code")
}

// VerifyEmail consumes a verification code and marks the account verified
// and active. Single-use: concurrent submissions of the same code resolve to
// one winner.
func (s *Service) VerifyEmail(ctx context.Context, code string) (*models.Account, error) {
	if err := models.ValidateCodeFormat(code); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	vc, err := s.store.FindUnusedCode(ctx, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "code", "code invalid or already used")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find verification code", err)
	}
	if vc.Expired(now) {
		return nil, dErrors.NewField(dErrors.CodeValidation, "code", "code expired, request a new registration")
	}
	if err := s.store.MarkCodeUsed(ctx, code, now); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeValidation, "code", "code invalid or already used")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "consume verification code", err)
	}

	account, err := s.findAccount(ctx, vc.AccountID)
	if err != nil {
		return nil, err
	}
	account.MarkVerified(now)
	if err := s.store.UpdateAccount(ctx, account); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "mark account verified", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    account.ID,
		TenantID:   account.TenantID,
		TargetKind: audit.TargetAccount,
		TargetID:   account.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    map[string]any{"email_verified": true},
	}); err != nil {
		return nil, err
	}
	return account, nil
}

// RecordLogin appends the Login audit entry after the credential issuer
// reports a successful authentication.
func (s *Service) RecordLogin(ctx context.Context, accountID id.PrincipalID) error {
	account, err := s.findAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return s.recorder.Record(ctx, audit.Entry{
		ActorID:    account.ID,
		TenantID:   account.TenantID,
		TargetKind: audit.TargetAccount,
		TargetID:   account.ID.String(),
		Action:     audit.ActionLogin,
	})
}

// Profile is the payload behind the /me endpoint.
type Profile struct {
	Account     *models.Account
	Tenant      *tenantmodels.Tenant
	BoundDoctor *models.Account
}

// Me assembles the authenticated account, its clinic, and — for secretaries
// — the doctor whose schedule they work. A secretary with no explicit
// binding falls back to the clinic's first doctor for display purposes only;
// schedule scoping stays fail-closed on the stored binding.
func (s *Service) Me(ctx context.Context, principal id.Principal) (*Profile, error) {
	account, err := s.findAccount(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	profile := &Profile{Account: account}

	if !account.TenantID.IsNil() {
		tenant, err := s.tenants.FindByID(ctx, account.TenantID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "find tenant", err)
		}
		profile.Tenant = tenant
	}

	if account.Role == id.RoleSecretary && !account.TenantID.IsNil() {
		switch {
		case !account.BoundDoctorID.IsNil():
			doctor, err := s.store.FindAccountByID(ctx, account.BoundDoctorID)
			if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Wrap(dErrors.CodeInternal, "find bound doctor", err)
			}
			profile.BoundDoctor = doctor
		default:
			doctor, err := s.store.FindFirstDoctor(ctx, account.TenantID)
			if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.Wrap(dErrors.CodeInternal, "find clinic doctor", err)
			}
			profile.BoundDoctor = doctor
		}
	}
	return profile, nil
}

// FindAccountByEmail exposes lookup for the login boundary.
func (s *Service) FindAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	account, err := s.store.FindAccountByEmail(ctx, email)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find account", err)
	}
	return account, nil
}

func (s *Service) findAccount(ctx context.Context, accountID id.PrincipalID) (*models.Account, error) {
	account, err := s.store.FindAccountByID(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find account", err)
	}
	return account, nil
}

// validateStaffRole rejects attempts to mint platform admins or patients
// through staff management.
func validateStaffRole(role id.Role) error {
	if !role.IsValid() {
		return dErrors.NewField(dErrors.CodeValidation, "role", "invalid role")
	}
	if !role.IsStaff() {
		return dErrors.NewField(dErrors.CodeValidation, "role", "staff management cannot create this role")
	}
	return nil
}

// resolveTargetTenant applies the staff-management tenancy rules.
func (s *Service) resolveTargetTenant(ctx context.Context, actor id.Principal, requested id.TenantID) (id.TenantID, error) {
	switch actor.Role {
	case id.RolePlatformAdmin:
		if requested.IsNil() {
			return id.TenantID{}, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "platform admins must name a target tenant")
		}
		tenant, err := s.tenants.FindByID(ctx, requested)
		if errors.Is(err, sentinel.ErrNotFound) {
			return id.TenantID{}, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "tenant not found or inactive")
		}
		if err != nil {
			return id.TenantID{}, dErrors.Wrap(dErrors.CodeInternal, "find tenant", err)
		}
		if !tenant.Active {
			return id.TenantID{}, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "tenant not found or inactive")
		}
		return requested, nil
	case id.RoleTenantOwner:
		if !actor.HasTenant() {
			return id.TenantID{}, dErrors.New(dErrors.CodeForbidden, "owner has no tenant affiliation")
		}
		return actor.TenantID, nil
	default:
		return id.TenantID{}, dErrors.New(dErrors.CodeForbidden, "only platform admins and tenant owners manage staff")
	}
}

// authorizeStaffTarget applies the object-level tenancy rule for updates.
func (s *Service) authorizeStaffTarget(actor id.Principal, target *models.Account) error {
	if actor.Role == id.RolePlatformAdmin {
		return nil
	}
	if actor.Role == id.RoleTenantOwner && actor.InTenant(target.TenantID) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "account belongs to another tenant")
}

// validateProfileFields enforces the doctor-profile and secretary-binding
// rules against the target tenant.
func (s *Service) validateProfileFields(ctx context.Context, input StaffInput, tenantID id.TenantID) error {
	if input.Role != id.RoleDoctor && (input.LicenseID != "" || input.Specialty != "") {
		return dErrors.NewField(dErrors.CodeValidation, "license_id", "doctor profile fields are only valid for doctors")
	}
	if !input.BoundDoctorID.IsNil() {
		if input.Role != id.RoleSecretary {
			return dErrors.NewField(dErrors.CodeValidation, "bound_doctor_id", "doctor binding is only valid for secretaries")
		}
		doctor, err := s.store.FindAccountByID(ctx, input.BoundDoctorID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.NewField(dErrors.CodeValidation, "bound_doctor_id", "doctor not found in this clinic")
		}
		if err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "find bound doctor", err)
		}
		if doctor.Role != id.RoleDoctor || doctor.TenantID != tenantID {
			return dErrors.NewField(dErrors.CodeValidation, "bound_doctor_id", "doctor not found in this clinic")
		}
	}
	return nil
}
