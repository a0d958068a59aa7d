// Package handler exposes tenant lifecycle endpoints: the platform-admin
// management surface and the public active-clinic listing behind the
// registration screen.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"docflow/internal/authz"
	"docflow/internal/guard"
	"docflow/internal/platform/metrics"
	"docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/httputil"
	"docflow/pkg/requestcontext"
)

// Service defines the tenant operations the handler needs.
type Service interface {
	Create(ctx context.Context, actor id.Principal, name, slug string) (*models.Tenant, error)
	Deactivate(ctx context.Context, actor id.Principal, tenantID id.TenantID) (*models.Tenant, error)
	Reactivate(ctx context.Context, actor id.Principal, tenantID id.TenantID) (*models.Tenant, error)
	ListActive(ctx context.Context) ([]*models.Tenant, error)
}

// Guard runs the access pipeline for guarded operations.
type Guard interface {
	Check(ctx context.Context, principal id.Principal, resource authz.Resource, op authz.Operation, path string) (context.Context, guard.Decision)
}

// Handler wires tenant endpoints to the tenant service.
type Handler struct {
	service Service
	guard   Guard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(service Service, g Guard, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{service: service, guard: g, metrics: m, logger: logger}
}

// RegisterPublic mounts the anonymous clinic listing.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/clinics", h.HandleListClinics)
}

// Register mounts the authenticated management endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/admin/tenants", h.HandleCreate)
	r.Post("/admin/tenants/{tenantID}/deactivate", h.HandleDeactivate)
	r.Post("/admin/tenants/{tenantID}/reactivate", h.HandleReactivate)
}

type createRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type clinicResponse struct {
	ID   id.TenantID `json:"id"`
	Name string      `json:"name"`
	Slug string      `json:"slug"`
}

// HandleListClinics serves the public listing of active clinics.
func (h *Handler) HandleListClinics(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.service.ListActive(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list clinics failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]clinicResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, clinicResponse{ID: t.ID, Name: t.Name, Slug: t.Slug})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleCreate handles POST /admin/tenants.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpCreate)
	if !ok {
		return
	}
	req, ok := httputil.Decode[createRequest](w, r, h.logger)
	if !ok {
		return
	}
	tenant, err := h.service.Create(ctx, actor, req.Name, req.Slug)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tenant)
}

// HandleDeactivate handles POST /admin/tenants/{tenantID}/deactivate.
func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Deactivate)
}

// HandleReactivate handles POST /admin/tenants/{tenantID}/reactivate.
func (h *Handler) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reactivate)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	apply func(context.Context, id.Principal, id.TenantID) (*models.Tenant, error)) {
	ctx, actor, ok := h.authorize(w, r, authz.OpUpdate)
	if !ok {
		return
	}
	tenantID, err := id.ParseTenantID(chi.URLParam(r, "tenantID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	tenant, err := apply(ctx, actor, tenantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tenant)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, op authz.Operation) (context.Context, id.Principal, bool) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	ctx, decision := h.guard.Check(ctx, principal, authz.ResourceTenant, op, r.URL.Path)
	if !decision.Allowed {
		h.metrics.IncrementGuardDenial(string(decision.Reason))
		httputil.WriteError(w, decision.Err)
		return ctx, principal, false
	}
	return ctx, principal, true
}
