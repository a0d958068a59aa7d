package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docflow/internal/consent/models"
	"docflow/internal/platform/postgres"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
	txcontext "docflow/pkg/platform/tx"

	"github.com/google/uuid"
)

// Postgres persists legal documents and consent records. The schema carries
// uniq_document_type_version, the partial index uniq_document_active_per_type
// (one active document per type), and uniq_consent_principal_document.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) CreateDocument(ctx context.Context, doc *models.LegalDocument) error {
	query := `
		INSERT INTO legal_documents
			(id, doc_type, version, title, content, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(doc.ID), string(doc.DocType), doc.Version,
		doc.Title, doc.Content, doc.Active, doc.CreatedAt, doc.UpdatedAt)
	if postgres.IsUniqueViolation(err, "uniq_document_type_version") {
		return sentinel.ErrAlreadyUsed
	}
	if postgres.IsUniqueViolation(err, "uniq_document_active_per_type") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert legal document: %w", err)
	}
	return nil
}

const documentColumns = `id, doc_type, version, title, content, active, created_at, updated_at`

func (s *Postgres) FindDocumentByID(ctx context.Context, docID id.DocumentID) (*models.LegalDocument, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM legal_documents WHERE id = $1`,
		uuid.UUID(docID))
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return doc, err
}

func (s *Postgres) ListActiveDocuments(ctx context.Context) ([]*models.LegalDocument, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM legal_documents WHERE active ORDER BY doc_type`)
}

func (s *Postgres) ListDocuments(ctx context.Context) ([]*models.LegalDocument, error) {
	return s.listDocuments(ctx,
		`SELECT `+documentColumns+` FROM legal_documents ORDER BY doc_type, version`)
}

func (s *Postgres) listDocuments(ctx context.Context, query string) ([]*models.LegalDocument, error) {
	rows, err := s.q(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list legal documents: %w", err)
	}
	defer rows.Close()

	var out []*models.LegalDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ActivateExclusive swaps the active document of the target's type in one
// transaction. The partial unique index turns a concurrent swap of the same
// type into ErrConflict instead of two active versions.
func (s *Postgres) ActivateExclusive(ctx context.Context, docID id.DocumentID) error {
	if tx, ok := txcontext.From(ctx); ok {
		return activateExclusive(ctx, tx, docID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activation: %w", err)
	}
	defer tx.Rollback()

	if err := activateExclusive(ctx, tx, docID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit activation: %w", err)
	}
	return nil
}

func activateExclusive(ctx context.Context, tx *sql.Tx, docID id.DocumentID) error {
	var docType string
	err := tx.QueryRowContext(ctx,
		`SELECT doc_type FROM legal_documents WHERE id = $1 FOR UPDATE`,
		uuid.UUID(docID)).Scan(&docType)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE legal_documents SET active = FALSE, updated_at = NOW() WHERE doc_type = $1 AND active`,
		docType); err != nil {
		return fmt.Errorf("deactivate current document: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE legal_documents SET active = TRUE, updated_at = NOW() WHERE id = $1`,
		uuid.UUID(docID))
	if postgres.IsUniqueViolation(err, "uniq_document_active_per_type") {
		return sentinel.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("activate document: %w", err)
	}
	return nil
}

func (s *Postgres) CreateConsent(ctx context.Context, rec *models.ConsentRecord) error {
	query := `
		INSERT INTO consent_records (principal_id, document_id, client_ip, user_agent, accepted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		uuid.UUID(rec.PrincipalID), uuid.UUID(rec.DocumentID),
		rec.ClientIP, rec.UserAgent, rec.AcceptedAt)
	if postgres.IsUniqueViolation(err, "uniq_consent_principal_document") {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert consent record: %w", err)
	}
	return nil
}

func (s *Postgres) ListConsentsByPrincipal(ctx context.Context, principalID id.PrincipalID) ([]*models.ConsentRecord, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT principal_id, document_id, client_ip, user_agent, accepted_at
		 FROM consent_records
		 WHERE principal_id = $1
		 ORDER BY accepted_at`,
		uuid.UUID(principalID))
	if err != nil {
		return nil, fmt.Errorf("list consent records: %w", err)
	}
	defer rows.Close()

	var out []*models.ConsentRecord
	for rows.Next() {
		var (
			rec        models.ConsentRecord
			principal  uuid.UUID
			documentID uuid.UUID
		)
		if err := rows.Scan(&principal, &documentID, &rec.ClientIP, &rec.UserAgent, &rec.AcceptedAt); err != nil {
			return nil, err
		}
		rec.PrincipalID = id.PrincipalID(principal)
		rec.DocumentID = id.DocumentID(documentID)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.LegalDocument, error) {
	var (
		doc     models.LegalDocument
		rawID   uuid.UUID
		docType string
	)
	if err := row.Scan(&rawID, &docType, &doc.Version, &doc.Title, &doc.Content,
		&doc.Active, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.ID = id.DocumentID(rawID)
	doc.DocType = id.DocType(docType)
	return &doc, nil
}
