package audit

import (
	"context"
	"log/slog"

	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/requestcontext"

	id "docflow/pkg/domain"
)

// Store is the append-only persistence surface. There is deliberately no
// update or delete: entries are owned collectively by the system and no
// single component may remove them.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByTenant(ctx context.Context, tenantID id.TenantID, limit int) ([]Entry, error)
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// Recorder appends audit entries for mutating operations and logins. Append
// failures propagate: the enclosing operation fails entirely rather than
// committing without its trail.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record fills request-scoped metadata and appends the entry. Callers run it
// inside the same transaction as the primary write by carrying the tx in ctx.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = id.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.ClientIP == "" {
		entry.ClientIP = requestcontext.ClientIP(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = requestcontext.UserAgent(ctx)
	}

	if err := r.store.Append(ctx, entry); err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "append audit entry", err)
	}
	r.logger.DebugContext(ctx, "audit entry recorded",
		"action", string(entry.Action),
		"target_kind", entry.TargetKind,
		"target_id", entry.TargetID,
	)
	return nil
}

// ListByTenant returns the most recent entries for one tenant, newest first.
func (r *Recorder) ListByTenant(ctx context.Context, tenantID id.TenantID, limit int) ([]Entry, error) {
	entries, err := r.store.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list audit entries", err)
	}
	return entries, nil
}

// ListRecent returns the most recent entries across all tenants, newest
// first. Platform-admin only; callers gate access via the authorizer.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := r.store.ListRecent(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list audit entries", err)
	}
	return entries, nil
}
