// Package handler exposes account endpoints: staff management, email
// verification, the login audit hook, and the /me profile.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"docflow/internal/authz"
	"docflow/internal/guard"
	"docflow/internal/identity/models"
	identityservice "docflow/internal/identity/service"
	"docflow/internal/platform/metrics"
	tenantmodels "docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/httputil"
	"docflow/pkg/requestcontext"
)

// Service defines the identity operations the handler needs.
type Service interface {
	CreateStaff(ctx context.Context, actor id.Principal, input identityservice.StaffInput) (*models.Account, error)
	UpdateStaff(ctx context.Context, actor id.Principal, accountID id.PrincipalID, input identityservice.StaffInput) (*models.Account, error)
	ListStaff(ctx context.Context, actor id.Principal, tenantFilter id.TenantID) ([]*models.Account, error)
	VerifyEmail(ctx context.Context, code string) (*models.Account, error)
	RecordLogin(ctx context.Context, accountID id.PrincipalID) error
	Me(ctx context.Context, principal id.Principal) (*identityservice.Profile, error)
}

// Guard runs the access pipeline for guarded operations.
type Guard interface {
	Check(ctx context.Context, principal id.Principal, resource authz.Resource, op authz.Operation, path string) (context.Context, guard.Decision)
}

// Handler wires identity endpoints to the identity service.
type Handler struct {
	service Service
	guard   Guard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(service Service, g Guard, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{service: service, guard: g, metrics: m, logger: logger}
}

// RegisterPublic mounts the anonymous verification endpoint.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/verify-email", h.HandleVerifyEmail)
}

// Register mounts the authenticated endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/staff", h.HandleCreateStaff)
	r.Get("/staff", h.HandleListStaff)
	r.Put("/staff/{accountID}", h.HandleUpdateStaff)
	r.Get("/me", h.HandleMe)
	r.Post("/auth/login-event", h.HandleLoginEvent)
}

type staffRequest struct {
	TenantID      string `json:"tenant_id,omitempty"`
	Role          string `json:"role"`
	Email         string `json:"email"`
	FullName      string `json:"full_name"`
	Gender        string `json:"gender,omitempty"`
	BoundDoctorID string `json:"bound_doctor_id,omitempty"`
	LicenseID     string `json:"license_id,omitempty"`
	Specialty     string `json:"specialty,omitempty"`
}

func (r staffRequest) toInput() (identityservice.StaffInput, error) {
	role, err := id.ParseRole(r.Role)
	if err != nil {
		return identityservice.StaffInput{}, err
	}
	input := identityservice.StaffInput{
		Role:      role,
		Email:     r.Email,
		FullName:  r.FullName,
		Gender:    models.Gender(r.Gender),
		LicenseID: r.LicenseID,
		Specialty: r.Specialty,
	}
	if r.TenantID != "" {
		tenantID, err := id.ParseTenantID(r.TenantID)
		if err != nil {
			return identityservice.StaffInput{}, err
		}
		input.TenantID = tenantID
	}
	if r.BoundDoctorID != "" {
		doctorID, err := id.ParsePrincipalID(r.BoundDoctorID)
		if err != nil {
			return identityservice.StaffInput{}, err
		}
		input.BoundDoctorID = doctorID
	}
	return input, nil
}

// HandleCreateStaff handles POST /staff.
func (h *Handler) HandleCreateStaff(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpCreate)
	if !ok {
		return
	}
	req, ok := httputil.Decode[staffRequest](w, r, h.logger)
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account, err := h.service.CreateStaff(ctx, actor, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, account)
}

// HandleUpdateStaff handles PUT /staff/{accountID}.
func (h *Handler) HandleUpdateStaff(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpUpdate)
	if !ok {
		return
	}
	accountID, err := id.ParsePrincipalID(chi.URLParam(r, "accountID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[staffRequest](w, r, h.logger)
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	account, err := h.service.UpdateStaff(ctx, actor, accountID, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

// HandleListStaff handles GET /staff. Platform admins may filter by
// ?tenant_id=; tenant owners are pinned to their own clinic.
func (h *Handler) HandleListStaff(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	var tenantFilter id.TenantID
	if raw := r.URL.Query().Get("tenant_id"); raw != "" {
		parsed, err := id.ParseTenantID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		tenantFilter = parsed
	}
	accounts, err := h.service.ListStaff(ctx, actor, tenantFilter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, accounts)
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

// HandleVerifyEmail handles POST /auth/verify-email.
func (h *Handler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[verifyEmailRequest](w, r, h.logger)
	if !ok {
		return
	}
	account, err := h.service.VerifyEmail(r.Context(), req.Code)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

// HandleLoginEvent handles POST /auth/login-event. The credential issuer
// calls it after a successful authentication so the login lands in the trail.
func (h *Handler) HandleLoginEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	if principal.IsAnonymous() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	if err := h.service.RecordLogin(ctx, principal.ID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	Account           *models.Account      `json:"account"`
	Tenant            *tenantmodels.Tenant `json:"tenant,omitempty"`
	DoctorDisplayName string               `json:"doctor_display_name,omitempty"`
}

// HandleMe handles GET /me. Reachable without consent completeness so a
// blocked user can still see who they are.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	if principal.IsAnonymous() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	profile, err := h.service.Me(ctx, principal)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := meResponse{Account: profile.Account, Tenant: profile.Tenant}
	if profile.BoundDoctor != nil {
		resp.DoctorDisplayName = profile.BoundDoctor.DisplayNameWithTitle()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, op authz.Operation) (context.Context, id.Principal, bool) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	ctx, decision := h.guard.Check(ctx, principal, authz.ResourceStaff, op, r.URL.Path)
	if !decision.Allowed {
		h.metrics.IncrementGuardDenial(string(decision.Reason))
		httputil.WriteError(w, decision.Err)
		return ctx, principal, false
	}
	return ctx, principal, true
}
