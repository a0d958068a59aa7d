// Package httptransport assembles the HTTP surface: global middleware, the
// public and authenticated route groups, and operational endpoints.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appointmenthandler "docflow/internal/appointment/handler"
	consenthandler "docflow/internal/consent/handler"
	identityhandler "docflow/internal/identity/handler"
	patienthandler "docflow/internal/patient/handler"
	"docflow/internal/platform/metrics"
	"docflow/internal/platform/middleware"
	tenanthandler "docflow/internal/tenant/handler"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/httputil"
)

// ConsentExemptPaths lists the prefixes that stay reachable while the consent
// gate is closed: accepting documents, reading them, seeing one's own
// profile, and the login hook.
var ConsentExemptPaths = []string{
	"/consents",
	"/legal-documents",
	"/me",
	"/auth/",
}

// Deps collects everything the router mounts.
type Deps struct {
	Tenants      *tenanthandler.Handler
	Identity     *identityhandler.Handler
	Consents     *consenthandler.Handler
	Patients     *patienthandler.Handler
	Appointments *appointmenthandler.Handler
	Audit        *AuditHandler

	Validator *middleware.Validator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// NewRouter wires the full HTTP surface.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)

	r.Get("/healthz", handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Anonymous surface: clinic discovery, registration, verification, and
	// the documents a registrant must read.
	r.Group(func(r chi.Router) {
		d.Tenants.RegisterPublic(r)
		d.Consents.RegisterPublic(r)
		d.Patients.RegisterPublic(r)
		d.Identity.RegisterPublic(r)
	})

	// Authenticated surface.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Validator, d.Logger))
		d.Tenants.Register(r)
		d.Identity.Register(r)
		d.Consents.Register(r)
		d.Patients.Register(r)
		d.Appointments.Register(r)
		d.Audit.Register(r)
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auditEntryResponse trims store entries for the API.
type auditEntryResponse struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	TargetKind string         `json:"target_kind"`
	TargetID   string         `json:"target_id"`
	Action     string         `json:"action"`
	Changes    map[string]any `json:"changes,omitempty"`
	ClientIP   string         `json:"client_ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

func fromEntries(entries []audit.Entry) []auditEntryResponse {
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp := auditEntryResponse{
			ID:         e.ID,
			TargetKind: e.TargetKind,
			TargetID:   e.TargetID,
			Action:     string(e.Action),
			Changes:    e.Changes,
			ClientIP:   e.ClientIP,
			UserAgent:  e.UserAgent,
			RequestID:  e.RequestID,
			CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
		if !e.ActorID.IsNil() {
			resp.ActorID = e.ActorID.String()
		}
		if !e.TenantID.IsNil() {
			resp.TenantID = e.TenantID.String()
		}
		out = append(out, resp)
	}
	return out
}
