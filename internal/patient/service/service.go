package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docflow/internal/authz"
	"docflow/internal/patient/models"
	"docflow/internal/patient/store"
	"docflow/internal/pii"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/sentinel"
	"docflow/pkg/requestcontext"
)

// Store is the persistence surface the patient service depends on.
type Store interface {
	Create(ctx context.Context, rec *models.PatientRecord) error
	FindByID(ctx context.Context, patientID id.PatientID) (*models.PatientRecord, error)
	FindByTenantAndHash(ctx context.Context, tenantID id.TenantID, hash string) (*models.PatientRecord, error)
	FindByAccountID(ctx context.Context, accountID id.PrincipalID) (*models.PatientRecord, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.PatientRecord, error)
	Update(ctx context.Context, rec *models.PatientRecord) error
	Delete(ctx context.Context, patientID id.PatientID) error
}

// Authorizer answers capability and scoping questions.
type Authorizer interface {
	HasPermission(principal id.Principal, resource authz.Resource, op authz.Operation) error
	HasObjectPermission(principal id.Principal, resource authz.Resource, op authz.Operation, objectTenant id.TenantID) error
	PatientScopeFor(principal id.Principal) authz.PatientScope
}

// Recorder appends audit entries; failures abort the operation.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service owns patient records: the sealed national ID field, per-tenant
// uniqueness, and row-level read scoping.
type Service struct {
	store    Store
	codec    *pii.Codec
	authz    Authorizer
	recorder Recorder
	logger   *slog.Logger
}

func New(store Store, codec *pii.Codec, authorizer Authorizer, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, codec: codec, authz: authorizer, recorder: recorder, logger: logger}
}

// Input carries the writable fields of a patient record.
type Input struct {
	TenantID   id.TenantID // required for PlatformAdmin actors, ignored otherwise
	FullName   string
	NationalID string
	Phone      string
	Sex        models.Sex
	BirthDate  *time.Time
}

// Create registers a patient record on behalf of clinic staff.
func (s *Service) Create(ctx context.Context, actor id.Principal, input Input) (*models.PatientRecord, error) {
	if err := s.authz.HasPermission(actor, authz.ResourcePatientRecord, authz.OpCreate); err != nil {
		return nil, err
	}
	tenantID := actor.TenantID
	if actor.Role == id.RolePlatformAdmin {
		if input.TenantID.IsNil() {
			return nil, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "platform admins must name a target tenant")
		}
		tenantID = input.TenantID
	}

	rec, err := s.buildRecord(ctx, tenantID, input)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "national_id", "a patient with this national ID already exists at this clinic")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create patient record", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   tenantID,
		TargetKind: audit.TargetPatient,
		TargetID:   rec.ID.String(),
		Action:     audit.ActionCreate,
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateForAccount registers the record behind a patient self-registration.
// Called by the registration flow, which has already validated the tenant.
func (s *Service) CreateForAccount(ctx context.Context, tenantID id.TenantID, accountID id.PrincipalID, input Input) (*models.PatientRecord, error) {
	rec, err := s.buildRecord(ctx, tenantID, input)
	if err != nil {
		return nil, err
	}
	rec.AccountID = accountID
	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "national_id", "a patient with this national ID already exists at this clinic")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create patient record", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    accountID,
		TenantID:   tenantID,
		TargetKind: audit.TargetPatient,
		TargetID:   rec.ID.String(),
		Action:     audit.ActionCreate,
		Changes:    map[string]any{"self_registered": true},
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) buildRecord(ctx context.Context, tenantID id.TenantID, input Input) (*models.PatientRecord, error) {
	rec, err := models.NewPatientRecord(id.PatientID(id.New()), tenantID, input.FullName, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	// A national ID may be absent; the record then carries no digest and
	// never participates in the per-tenant uniqueness check.
	sealed, err := s.codec.Seal(input.NationalID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "seal national ID", err)
	}
	rec.NationalID = sealed
	rec.Phone = input.Phone
	rec.Sex = input.Sex
	rec.BirthDate = input.BirthDate
	return rec, nil
}

// Get returns one patient record the actor may see. Cross-tenant targets and
// other patients' records read as not found.
func (s *Service) Get(ctx context.Context, actor id.Principal, patientID id.PatientID) (*models.PatientRecord, error) {
	if err := s.authz.HasPermission(actor, authz.ResourcePatientRecord, authz.OpRead); err != nil {
		return nil, err
	}
	rec, err := s.find(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.HasObjectPermission(actor, authz.ResourcePatientRecord, authz.OpRead, rec.TenantID); err != nil {
		return nil, err
	}
	if actor.Role == id.RolePatient && rec.AccountID != actor.ID {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	return rec, nil
}

// RevealNationalID decrypts the sealed national ID for an actor who may read
// the record.
func (s *Service) RevealNationalID(ctx context.Context, actor id.Principal, patientID id.PatientID) (string, error) {
	rec, err := s.Get(ctx, actor, patientID)
	if err != nil {
		return "", err
	}
	if len(rec.NationalID.Ciphertext) == 0 {
		return "", nil
	}
	raw, err := s.codec.Open(rec.NationalID.Ciphertext)
	if err != nil {
		return "", dErrors.Wrap(dErrors.CodeInternal, "open national ID", err)
	}
	return raw, nil
}

// Search resolves a plaintext national ID to the record within the actor's
// tenant, via the deterministic digest. Staff only.
func (s *Service) Search(ctx context.Context, actor id.Principal, tenantID id.TenantID, nationalID string) (*models.PatientRecord, error) {
	if err := s.authz.HasPermission(actor, authz.ResourcePatientRecord, authz.OpCreate); err != nil {
		// Creation capability doubles as the search gate: patients can read
		// their own record but not probe the registry.
		return nil, err
	}
	if actor.Role != id.RolePlatformAdmin {
		tenantID = actor.TenantID
	}
	if tenantID.IsNil() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "tenant_id", "a target tenant is required")
	}
	rec, err := s.store.FindByTenantAndHash(ctx, tenantID, pii.Hash(nationalID))
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "search patient record", err)
	}
	return rec, nil
}

// List returns the records visible under the actor's row-level scope.
func (s *Service) List(ctx context.Context, actor id.Principal) ([]*models.PatientRecord, error) {
	if err := s.authz.HasPermission(actor, authz.ResourcePatientRecord, authz.OpRead); err != nil {
		return nil, err
	}
	scope := s.authz.PatientScopeFor(actor)
	if scope.Empty {
		return nil, nil
	}
	filter := store.ListFilter{}
	if !scope.All {
		filter.TenantID = scope.TenantID
		filter.AccountID = scope.SelfOnly
	}
	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list patient records", err)
	}
	return records, nil
}

// Update rewrites the record's mutable fields. A changed national ID is
// resealed and its digest recomputed; an unchanged input keeps the stored
// seal untouched.
func (s *Service) Update(ctx context.Context, actor id.Principal, patientID id.PatientID, input Input) (*models.PatientRecord, error) {
	if err := s.authz.HasPermission(actor, authz.ResourcePatientRecord, authz.OpUpdate); err != nil {
		return nil, err
	}
	rec, err := s.find(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.HasObjectPermission(actor, authz.ResourcePatientRecord, authz.OpUpdate, rec.TenantID); err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if input.FullName != "" && input.FullName != rec.FullName {
		changes["full_name"] = map[string]string{"from": rec.FullName, "to": input.FullName}
		rec.FullName = input.FullName
	}
	if input.Phone != rec.Phone {
		changes["phone"] = "updated"
		rec.Phone = input.Phone
	}
	if input.Sex != rec.Sex {
		changes["sex"] = string(input.Sex)
		rec.Sex = input.Sex
	}
	if input.BirthDate != nil {
		rec.BirthDate = input.BirthDate
		changes["birth_date"] = "updated"
	}
	if pii.Normalize(input.NationalID) != "" && pii.Hash(input.NationalID) != rec.NationalID.Hash {
		sealed, err := s.codec.Seal(input.NationalID)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInternal, "seal national ID", err)
		}
		rec.NationalID = sealed
		// Digest only; never the plaintext.
		changes["national_id"] = "updated"
	}
	rec.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.Update(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "national_id", "a patient with this national ID already exists at this clinic")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "update patient record", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   rec.TenantID,
		TargetKind: audit.TargetPatient,
		TargetID:   rec.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    changes,
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a patient record. Owner only via the capability matrix.
func (s *Service) Delete(ctx context.Context, actor id.Principal, patientID id.PatientID) error {
	if err := s.authz.HasPermission(actor, authz.ResourcePatientRecord, authz.OpDelete); err != nil {
		return err
	}
	rec, err := s.find(ctx, patientID)
	if err != nil {
		return err
	}
	if err := s.authz.HasObjectPermission(actor, authz.ResourcePatientRecord, authz.OpDelete, rec.TenantID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, patientID); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "delete patient record", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   rec.TenantID,
		TargetKind: audit.TargetPatient,
		TargetID:   rec.ID.String(),
		Action:     audit.ActionDelete,
	}); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "patient record deleted", "patient_id", rec.ID.String())
	return nil
}

// FindByAccount returns the record linked to a patient account, if any.
func (s *Service) FindByAccount(ctx context.Context, accountID id.PrincipalID) (*models.PatientRecord, error) {
	rec, err := s.store.FindByAccountID(ctx, accountID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find patient record", err)
	}
	return rec, nil
}

func (s *Service) find(ctx context.Context, patientID id.PatientID) (*models.PatientRecord, error) {
	rec, err := s.store.FindByID(ctx, patientID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "resource not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find patient record", err)
	}
	return rec, nil
}
