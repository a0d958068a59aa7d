// Package handler exposes the appointment lifecycle endpoints: staff booking,
// patient requests, status transitions, and sealed clinical notes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"docflow/internal/appointment/models"
	appointmentservice "docflow/internal/appointment/service"
	"docflow/internal/authz"
	"docflow/internal/guard"
	"docflow/internal/platform/metrics"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/httputil"
	"docflow/pkg/requestcontext"
)

// Service defines the appointment operations the handler needs.
type Service interface {
	Create(ctx context.Context, actor id.Principal, input appointmentservice.Input) (*models.Appointment, error)
	Request(ctx context.Context, actor id.Principal, input appointmentservice.Input) (*models.Appointment, error)
	Confirm(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error)
	Complete(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error)
	Cancel(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error)
	Get(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (*models.Appointment, error)
	List(ctx context.Context, actor id.Principal) ([]*models.Appointment, error)
	UpdateClinicalNotes(ctx context.Context, actor id.Principal, apptID id.AppointmentID, notes string) (*models.Appointment, error)
	RevealClinicalNotes(ctx context.Context, actor id.Principal, apptID id.AppointmentID) (string, error)
}

// Guard runs the access pipeline for guarded operations.
type Guard interface {
	Check(ctx context.Context, principal id.Principal, resource authz.Resource, op authz.Operation, path string) (context.Context, guard.Decision)
}

// Handler wires appointment endpoints to the appointment service.
type Handler struct {
	service Service
	guard   Guard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(service Service, g Guard, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{service: service, guard: g, metrics: m, logger: logger}
}

// Register mounts the authenticated appointment endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/appointments", h.HandleCreate)
	r.Post("/appointments/requests", h.HandleRequest)
	r.Get("/appointments", h.HandleList)
	r.Get("/appointments/{appointmentID}", h.HandleGet)
	r.Post("/appointments/{appointmentID}/confirm", h.HandleConfirm)
	r.Post("/appointments/{appointmentID}/complete", h.HandleComplete)
	r.Post("/appointments/{appointmentID}/cancel", h.HandleCancel)
	r.Put("/appointments/{appointmentID}/clinical-notes", h.HandleUpdateClinicalNotes)
	r.Get("/appointments/{appointmentID}/clinical-notes", h.HandleRevealClinicalNotes)
}

type bookingRequest struct {
	TenantID  string    `json:"tenant_id,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
	DoctorID  string    `json:"doctor_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Reason    string    `json:"reason,omitempty"`
}

func (r bookingRequest) toInput() (appointmentservice.Input, error) {
	input := appointmentservice.Input{
		StartsAt: r.StartsAt,
		EndsAt:   r.EndsAt,
		Reason:   r.Reason,
	}
	if r.TenantID != "" {
		tenantID, err := id.ParseTenantID(r.TenantID)
		if err != nil {
			return appointmentservice.Input{}, err
		}
		input.TenantID = tenantID
	}
	if r.PatientID != "" {
		patientID, err := id.ParsePatientID(r.PatientID)
		if err != nil {
			return appointmentservice.Input{}, err
		}
		input.PatientID = patientID
	}
	doctorID, err := id.ParsePrincipalID(r.DoctorID)
	if err != nil {
		return appointmentservice.Input{}, err
	}
	input.DoctorID = doctorID
	return input, nil
}

// HandleCreate handles POST /appointments: a staff booking, confirmed
// immediately.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpCreate)
	if !ok {
		return
	}
	req, ok := httputil.Decode[bookingRequest](w, r, h.logger)
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	appt, err := h.service.Create(ctx, actor, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.metrics.IncrementAppointmentsConfirmed()
	httputil.WriteJSON(w, http.StatusCreated, appt)
}

// HandleRequest handles POST /appointments/requests: a patient asking for a
// slot, pending staff confirmation.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpCreate)
	if !ok {
		return
	}
	req, ok := httputil.Decode[bookingRequest](w, r, h.logger)
	if !ok {
		return
	}
	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	appt, err := h.service.Request(ctx, actor, input)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, appt)
}

// HandleList handles GET /appointments.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	appts, err := h.service.List(ctx, actor)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if appts == nil {
		appts = []*models.Appointment{}
	}
	httputil.WriteJSON(w, http.StatusOK, appts)
}

// HandleGet handles GET /appointments/{appointmentID}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	apptID, err := id.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	appt, err := h.service.Get(ctx, actor, apptID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

// HandleConfirm handles POST /appointments/{appointmentID}/confirm.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpUpdate)
	if !ok {
		return
	}
	apptID, err := id.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	appt, err := h.service.Confirm(ctx, actor, apptID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.metrics.IncrementAppointmentsConfirmed()
	httputil.WriteJSON(w, http.StatusOK, appt)
}

// HandleComplete handles POST /appointments/{appointmentID}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpUpdate)
	if !ok {
		return
	}
	apptID, err := id.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	appt, err := h.service.Complete(ctx, actor, apptID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

// HandleCancel handles POST /appointments/{appointmentID}/cancel. Guarded on
// read because patients cancel their own appointments; who may cancel what is
// the service's call.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	apptID, err := id.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	appt, err := h.service.Cancel(ctx, actor, apptID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

type clinicalNotesRequest struct {
	Notes string `json:"notes"`
}

type clinicalNotesResponse struct {
	Notes string `json:"notes"`
}

// HandleUpdateClinicalNotes handles PUT /appointments/{appointmentID}/clinical-notes.
func (h *Handler) HandleUpdateClinicalNotes(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpUpdate)
	if !ok {
		return
	}
	apptID, err := id.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.Decode[clinicalNotesRequest](w, r, h.logger)
	if !ok {
		return
	}
	appt, err := h.service.UpdateClinicalNotes(ctx, actor, apptID, req.Notes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, appt)
}

// HandleRevealClinicalNotes handles GET /appointments/{appointmentID}/clinical-notes.
func (h *Handler) HandleRevealClinicalNotes(w http.ResponseWriter, r *http.Request) {
	ctx, actor, ok := h.authorize(w, r, authz.OpRead)
	if !ok {
		return
	}
	apptID, err := id.ParseAppointmentID(chi.URLParam(r, "appointmentID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	notes, err := h.service.RevealClinicalNotes(ctx, actor, apptID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, clinicalNotesResponse{Notes: notes})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, op authz.Operation) (context.Context, id.Principal, bool) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	ctx, decision := h.guard.Check(ctx, principal, authz.ResourceAppointment, op, r.URL.Path)
	if !decision.Allowed {
		h.metrics.IncrementGuardDenial(string(decision.Reason))
		httputil.WriteError(w, decision.Err)
		return ctx, principal, false
	}
	return ctx, principal, true
}
