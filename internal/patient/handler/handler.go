// Package handler exposes patient-record endpoints plus the public
// self-registration flow.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"docflow/internal/authz"
	"docflow/internal/guard"
	"docflow/internal/patient/models"
	patientservice "docflow/internal/patient/service"
	"docflow/internal/platform/metrics"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/httputil"
	"docflow/pkg/requestcontext"
)

// Service defines the patient-record operations the handler needs.
type Service interface {
	Create(ctx context.Context, actor id.Principal, input patientservice.Input) (*models.PatientRecord, error)
	Get(ctx context.Context, actor id.Principal, patientID id.PatientID) (*models.PatientRecord, error)
	List(ctx context.Context, actor id.Principal) ([]*models.PatientRecord, error)
	Update(ctx context.Context, actor id.Principal, patientID id.PatientID, input patientservice.Input) (*models.PatientRecord, error)
	Delete(ctx context.Context, actor id.Principal, patientID id.PatientID) error
	Search(ctx context.Context, actor id.Principal, tenantID id.TenantID, nationalID string) (*models.PatientRecord, error)
	RevealNationalID(ctx context.Context, actor id.Principal, patientID id.PatientID) (string, error)
}

// Registrar runs the public self-registration flow.
type Registrar interface {
	Register(ctx context.Context, input patientservice.RegistrationInput) (*patientservice.RegistrationResult, error)
}

// Guard runs the access pipeline for guarded operations.
type Guard interface {
	Check(ctx context.Context, principal id.Principal, resource authz.Resource, op authz.Operation, path string) (context.Context, guard.Decision)
}

// Handler wires patient endpoints to the patient service and registrar.
type Handler struct {
	service   Service
	registrar Registrar
	guard     Guard
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(service Service, registrar Registrar, g Guard, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{service: service, registrar: registrar, guard: g, metrics: m, logger: logger}
}

// RegisterPublic mounts the anonymous registration endpoint.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/register", h.HandleRegister)
}

// Register mounts the authenticated endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/patients", h.HandleCreate)
	r.Get("/patients", h.HandleList)
	r.Post("/patients/search", h.HandleSearch)
	r.Get("/patients/{patientID}", h.HandleGet)
	r.Put("/patients/{patientID}", h.HandleUpdate)
	r.Delete("/patients/{patientID}", h.HandleDelete)
	r.Get("/patients/{patientID}/national-id", h.HandleRevealNationalID)
}

// HandleRegister handles POST /register.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.Decode[registerRequest](w, r, h.logger)
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.registrar.Register(ctx, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.metrics.IncrementPatientsRegistered()
	httputil.WriteJSON(w, http.StatusCreated, registerResponse{
		AccountID: result.Account.ID,
		PatientID: result.Patient.ID,
		Email:     result.Account.Email,
	})
}

// HandleCreate handles POST /patients.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpCreate)
	if !ok {
		return
	}
	req, ok := httputil.Decode[patientRequest](w, r, h.logger)
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Create(ctx, actor, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// HandleGet handles GET /patients/{patientID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	patientID, err := id.ParsePatientID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Get(ctx, actor, patientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleList handles GET /patients.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	records, err := h.service.List(ctx, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if records == nil {
		records = []*models.PatientRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

// HandleSearch handles POST /patients/search: plaintext national ID in,
// matching record out. Gated on the creation capability so patients cannot
// probe the registry.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpCreate)
	if !ok {
		return
	}
	req, ok := httputil.Decode[searchRequest](w, r, h.logger)
	if !ok {
		return
	}
	var tenantID id.TenantID
	if req.TenantID != "" {
		parsed, err := id.ParseTenantID(req.TenantID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		tenantID = parsed
	}
	rec, err := h.service.Search(ctx, actor, tenantID, req.NationalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleUpdate handles PUT /patients/{patientID}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpUpdate)
	if !ok {
		return
	}
	patientID, err := id.ParsePatientID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[patientRequest](w, r, h.logger)
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Update(ctx, actor, patientID, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleDelete handles DELETE /patients/{patientID}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpDelete)
	if !ok {
		return
	}
	patientID, err := id.ParsePatientID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.Delete(ctx, actor, patientID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRevealNationalID handles GET /patients/{patientID}/national-id.
func (h *Handler) HandleRevealNationalID(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	patientID, err := id.ParsePatientID(chi.URLParam(r, "patientID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	raw, err := h.service.RevealNationalID(ctx, actor, patientID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, revealResponse{
		NationalID: raw,
		Masked:     models.MaskNationalID(raw),
	})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, op authz.Operation) (context.Context, id.Principal, bool) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	ctx, decision := h.guard.Check(ctx, principal, authz.ResourcePatientRecord, op, r.URL.Path)
	if !decision.Allowed {
		h.metrics.IncrementGuardDenial(string(decision.Reason))
		httputil.WriteError(w, decision.Err)
		return ctx, principal, false
	}
	return ctx, principal, true
}
