package service

import (
	"context"
	"errors"
	"log/slog"

	"docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/sentinel"
	"docflow/pkg/requestcontext"
)

// Store is the persistence surface the tenant service depends on.
type Store interface {
	CreateIfSlugAvailable(ctx context.Context, tenant *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
}

// Recorder appends audit entries; failures abort the operation.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service exposes tenant lifecycle operations for platform operators plus the
// public active-clinic listing used by the registration screen.
type Service struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
}

func New(store Store, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, recorder: recorder, logger: logger}
}

// Create registers a new clinic. Slug collisions surface as a conflict; the
// store-level unique index is the arbiter under concurrency.
func (s *Service) Create(ctx context.Context, actor id.Principal, name, slug string) (*models.Tenant, error) {
	now := requestcontext.Now(ctx)
	tenant, err := models.NewTenant(id.TenantID(id.New()), name, slug, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateIfSlugAvailable(ctx, tenant); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "slug", "tenant slug already in use")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create tenant", err)
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   tenant.ID,
		TargetKind: audit.TargetTenant,
		TargetID:   tenant.ID.String(),
		Action:     audit.ActionCreate,
		Changes:    map[string]any{"slug": tenant.Slug},
	}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "tenant created", "tenant_id", tenant.ID.String(), "slug", tenant.Slug)
	return tenant, nil
}

// Deactivate suspends a clinic. Records are kept; the tenant simply stops
// resolving for new work.
func (s *Service) Deactivate(ctx context.Context, actor id.Principal, tenantID id.TenantID) (*models.Tenant, error) {
	tenant, err := s.find(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := tenant.CanDeactivate(); err != nil {
		return nil, err
	}
	tenant.ApplyDeactivation(requestcontext.Now(ctx))
	if err := s.store.Update(ctx, tenant); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "deactivate tenant", err)
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   tenant.ID,
		TargetKind: audit.TargetTenant,
		TargetID:   tenant.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    map[string]any{"active": false},
	}); err != nil {
		return nil, err
	}
	return tenant, nil
}

// Reactivate lifts a suspension.
func (s *Service) Reactivate(ctx context.Context, actor id.Principal, tenantID id.TenantID) (*models.Tenant, error) {
	tenant, err := s.find(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := tenant.CanReactivate(); err != nil {
		return nil, err
	}
	tenant.ApplyReactivation(requestcontext.Now(ctx))
	if err := s.store.Update(ctx, tenant); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "reactivate tenant", err)
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TenantID:   tenant.ID,
		TargetKind: audit.TargetTenant,
		TargetID:   tenant.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    map[string]any{"active": true},
	}); err != nil {
		return nil, err
	}
	return tenant, nil
}

// ListActive returns active clinics for the public registration screen.
func (s *Service) ListActive(ctx context.Context) ([]*models.Tenant, error) {
	tenants, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list tenants", err)
	}
	return tenants, nil
}

// FindActiveBySlug resolves a clinic for patient registration. Inactive
// clinics are reported as not found, indistinguishable from absent ones.
func (s *Service) FindActiveBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	tenant, err := s.store.FindBySlug(ctx, slug)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.NewField(dErrors.CodeNotFound, "clinic_slug", "clinic not found or inactive")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find tenant", err)
	}
	if !tenant.Active {
		return nil, dErrors.NewField(dErrors.CodeNotFound, "clinic_slug", "clinic not found or inactive")
	}
	return tenant, nil
}

func (s *Service) find(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	tenant, err := s.store.FindByID(ctx, tenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "tenant not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find tenant", err)
	}
	return tenant, nil
}
