package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	id "docflow/pkg/domain"
	audit "docflow/pkg/platform/audit"
	txcontext "docflow/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store persists audit entries and, in the same statement batch, a matching
// outbox row. Both ride the caller's transaction when one is carried in ctx,
// so the trail commits atomically with the primary write. The outbox worker
// publishes rows to Kafka and marks them published.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	var changes []byte
	if entry.Changes != nil {
		var err error
		changes, err = json.Marshal(entry.Changes)
		if err != nil {
			return fmt.Errorf("marshal audit changes: %w", err)
		}
	}

	q := s.execer(ctx)

	query := `
		INSERT INTO audit_entries
			(id, actor_id, tenant_id, target_kind, target_id, action, changes,
			 client_ip, user_agent, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.ExecContext(ctx, query,
		entry.ID,
		nullableUUID(uuid.UUID(entry.ActorID)),
		nullableUUID(uuid.UUID(entry.TenantID)),
		entry.TargetKind,
		entry.TargetID,
		string(entry.Action),
		changes,
		nullableString(entry.ClientIP),
		nullableString(entry.UserAgent),
		nullableString(entry.RequestID),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	payload, err := json.Marshal(outboxPayload{
		ID:         entry.ID,
		ActorID:    stringOrEmpty(uuid.UUID(entry.ActorID)),
		TenantID:   stringOrEmpty(uuid.UUID(entry.TenantID)),
		TargetKind: entry.TargetKind,
		TargetID:   entry.TargetID,
		Action:     string(entry.Action),
		RequestID:  entry.RequestID,
		CreatedAt:  entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	outboxQuery := `
		INSERT INTO audit_outbox (id, entry_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := q.ExecContext(ctx, outboxQuery, uuid.New(), entry.ID, payload, time.Now()); err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

// outboxPayload is the JSON structure published to Kafka. Changes and client
// metadata stay out of the stream; the audit_entries table is the system of
// record for those.
type outboxPayload struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
	Action     string `json:"action"`
	RequestID  string `json:"request_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func (s *Store) ListByTenant(ctx context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, actor_id, tenant_id, target_kind, target_id, action, changes,
		       client_ip, user_agent, request_id, created_at
		FROM audit_entries
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(tenantID), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, actor_id, tenant_id, target_kind, target_id, action, changes,
		       client_ip, user_agent, request_id, created_at
		FROM audit_entries
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var out []audit.Entry
	for rows.Next() {
		var (
			entry     audit.Entry
			actorID   sql.Null[uuid.UUID]
			tenantID  sql.Null[uuid.UUID]
			changes   []byte
			clientIP  sql.NullString
			userAgent sql.NullString
			requestID sql.NullString
			action    string
		)
		if err := rows.Scan(&entry.ID, &actorID, &tenantID, &entry.TargetKind, &entry.TargetID,
			&action, &changes, &clientIP, &userAgent, &requestID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		if actorID.Valid {
			entry.ActorID = id.PrincipalID(actorID.V)
		}
		if tenantID.Valid {
			entry.TenantID = id.TenantID(tenantID.V)
		}
		entry.ClientIP = clientIP.String
		entry.UserAgent = userAgent.String
		entry.RequestID = requestID.String
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &entry.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal audit changes: %w", err)
			}
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringOrEmpty(u uuid.UUID) string {
	if u == uuid.Nil {
		return ""
	}
	return u.String()
}
