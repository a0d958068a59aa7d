package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"docflow/internal/authz"
	"docflow/internal/guard"
	"docflow/internal/platform/metrics"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/httputil"
	"docflow/pkg/requestcontext"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// AuditReader lists recorded entries.
type AuditReader interface {
	ListByTenant(ctx context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error)
	ListRecent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Guard runs the access pipeline for guarded operations.
type Guard interface {
	Check(ctx context.Context, principal id.Principal, resource authz.Resource, op authz.Operation, path string) (context.Context, guard.Decision)
}

// AuditHandler serves the audit-trail listing for tenant owners and platform
// admins.
type AuditHandler struct {
	reader  AuditReader
	guard   Guard
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewAuditHandler(reader AuditReader, g Guard, m *metrics.Metrics, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, guard: g, metrics: m, logger: logger}
}

// Register mounts the audit endpoints.
func (h *AuditHandler) Register(r chi.Router) {
	r.Get("/audit-entries", h.HandleList)
}

// HandleList handles GET /audit-entries. Tenant owners see their own tenant's
// trail; platform admins see everything, optionally filtered by ?tenant_id=.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestcontext.Principal(ctx)
	ctx, decision := h.guard.Check(ctx, principal, authz.ResourceAuditTrail, authz.OpRead, r.URL.Path)
	if !decision.Allowed {
		h.metrics.IncrementGuardDenial(string(decision.Reason))
		httputil.WriteError(w, decision.Err)
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, dErrors.NewField(dErrors.CodeValidation, "limit", "limit must be a positive integer"))
			return
		}
		limit = min(parsed, maxAuditLimit)
	}

	var (
		entries []audit.Entry
		err     error
	)
	switch principal.Role {
	case id.RolePlatformAdmin:
		if raw := r.URL.Query().Get("tenant_id"); raw != "" {
			tenantID, parseErr := id.ParseTenantID(raw)
			if parseErr != nil {
				httputil.WriteError(w, parseErr)
				return
			}
			entries, err = h.reader.ListByTenant(ctx, tenantID, limit)
		} else {
			entries, err = h.reader.ListRecent(ctx, limit)
		}
	default:
		entries, err = h.reader.ListByTenant(ctx, principal.TenantID, limit)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEntries(entries))
}
