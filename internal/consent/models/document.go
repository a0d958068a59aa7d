package models

import (
	"strings"
	"time"

	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
)

// LegalDocument is one version of a platform legal text.
//
// Invariants:
//   - (DocType, Version) is unique
//   - At most one document per DocType is active at a time; activation is an
//     atomic swap, enforced by a partial unique index in the store
//   - Content is immutable once principals have consented to it; a change of
//     text is a new version
type LegalDocument struct {
	ID        id.DocumentID `json:"id"`
	DocType   id.DocType    `json:"doc_type"`
	Version   int           `json:"version"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewLegalDocument validates inputs and constructs an inactive document.
// Activation is a separate step so drafts can be reviewed before the swap.
func NewLegalDocument(docID id.DocumentID, docType id.DocType, version int, title, content string, now time.Time) (*LegalDocument, error) {
	if !docType.IsValid() {
		return nil, dErrors.NewField(dErrors.CodeValidation, "doc_type", "invalid document type")
	}
	if version < 1 {
		return nil, dErrors.NewField(dErrors.CodeValidation, "version", "version starts at 1")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.NewField(dErrors.CodeValidation, "title", "title cannot be empty")
	}
	if strings.TrimSpace(content) == "" {
		return nil, dErrors.NewField(dErrors.CodeValidation, "content", "content cannot be empty")
	}
	return &LegalDocument{
		ID:        docID,
		DocType:   docType,
		Version:   version,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ConsentRecord is the immutable evidence that a principal accepted one
// document version. (PrincipalID, DocumentID) is unique; re-acceptance is a
// no-op, never a second record.
type ConsentRecord struct {
	PrincipalID id.PrincipalID `json:"principal_id"`
	DocumentID  id.DocumentID  `json:"document_id"`
	ClientIP    string         `json:"client_ip"`
	UserAgent   string         `json:"user_agent"`
	AcceptedAt  time.Time      `json:"accepted_at"`
}
