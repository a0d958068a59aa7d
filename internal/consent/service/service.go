package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mssola/useragent"

	"docflow/internal/consent/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/audit"
	"docflow/pkg/platform/sentinel"
	"docflow/pkg/requestcontext"
)

// Store is the persistence surface the consent service depends on.
type Store interface {
	CreateDocument(ctx context.Context, doc *models.LegalDocument) error
	FindDocumentByID(ctx context.Context, docID id.DocumentID) (*models.LegalDocument, error)
	ListActiveDocuments(ctx context.Context) ([]*models.LegalDocument, error)
	ListDocuments(ctx context.Context) ([]*models.LegalDocument, error)
	ActivateExclusive(ctx context.Context, docID id.DocumentID) error
	CreateConsent(ctx context.Context, rec *models.ConsentRecord) error
	ListConsentsByPrincipal(ctx context.Context, principalID id.PrincipalID) ([]*models.ConsentRecord, error)
}

// Cache is the completeness cache surface. Reads, writes, and per-principal
// invalidation are best-effort; InvalidateAll must succeed or the activation
// that triggered it fails, since a stale complete answer would let blocked
// principals through until the TTL runs out.
type Cache interface {
	Get(ctx context.Context, principalID id.PrincipalID) (complete bool, ok bool)
	Set(ctx context.Context, principalID id.PrincipalID, complete bool)
	InvalidatePrincipal(ctx context.Context, principalID id.PrincipalID)
	InvalidateAll(ctx context.Context) error
}

// Recorder appends audit entries for acceptances and document lifecycle
// actions.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service owns the consent-gating state machine: the legal document
// lifecycle, acceptance evidence, and the completeness question the guard
// pipeline asks.
type Service struct {
	store    Store
	cache    Cache
	recorder Recorder
	logger   *slog.Logger
}

func New(store Store, cache Cache, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{store: store, cache: cache, recorder: recorder, logger: logger}
}

// HasActiveConsent reports whether the principal has accepted every active
// document.
//
// With zero active documents the answer is vacuously true. Platform admins
// always pass. Activating a new document version flips the answer to false
// for everyone who has not accepted it, with no per-principal writes.
func (s *Service) HasActiveConsent(ctx context.Context, principal id.Principal) (bool, error) {
	if principal.Role == id.RolePlatformAdmin {
		return true, nil
	}
	if complete, ok := s.cache.Get(ctx, principal.ID); ok {
		return complete, nil
	}

	active, err := s.store.ListActiveDocuments(ctx)
	if err != nil {
		return false, dErrors.Wrap(dErrors.CodeInternal, "list active documents", err)
	}
	if len(active) == 0 {
		s.cache.Set(ctx, principal.ID, true)
		return true, nil
	}

	consents, err := s.store.ListConsentsByPrincipal(ctx, principal.ID)
	if err != nil {
		return false, dErrors.Wrap(dErrors.CodeInternal, "list consents", err)
	}
	consented := make(map[id.DocumentID]bool, len(consents))
	for _, rec := range consents {
		consented[rec.DocumentID] = true
	}
	complete := true
	for _, doc := range active {
		if !consented[doc.ID] {
			complete = false
			break
		}
	}
	s.cache.Set(ctx, principal.ID, complete)
	return complete, nil
}

// ActiveDocuments lists the documents a principal must currently hold
// consent for. Public: pre-registration flows read this anonymously.
func (s *Service) ActiveDocuments(ctx context.Context) ([]*models.LegalDocument, error) {
	docs, err := s.store.ListActiveDocuments(ctx)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list active documents", err)
	}
	return docs, nil
}

// AcceptResult reports what an acceptance call did.
type AcceptResult struct {
	CreatedCount int `json:"created_count"`
	TotalActive  int `json:"total_active"`
}

// Accept records consent for the principal. An empty selection accepts every
// currently active document; an explicit selection is validated so stale
// clients learn the set changed. Idempotent either way: documents the
// principal already accepted produce no second record.
func (s *Service) Accept(ctx context.Context, principal id.Principal, docIDs []id.DocumentID) (AcceptResult, error) {
	if principal.IsAnonymous() {
		return AcceptResult{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	active, err := s.store.ListActiveDocuments(ctx)
	if err != nil {
		return AcceptResult{}, dErrors.Wrap(dErrors.CodeInternal, "list active documents", err)
	}

	docs := active
	if len(docIDs) > 0 {
		docs = make([]*models.LegalDocument, 0, len(docIDs))
		for _, docID := range docIDs {
			doc, err := s.store.FindDocumentByID(ctx, docID)
			if errors.Is(err, sentinel.ErrNotFound) {
				return AcceptResult{}, dErrors.NewField(dErrors.CodeValidation, "document_ids", "document not found")
			}
			if err != nil {
				return AcceptResult{}, dErrors.Wrap(dErrors.CodeInternal, "find document", err)
			}
			if !doc.Active {
				return AcceptResult{}, dErrors.NewField(dErrors.CodeValidation, "document_ids", "document is no longer active")
			}
			docs = append(docs, doc)
		}
	}

	now := requestcontext.Now(ctx)
	clientIP := requestcontext.ClientIP(ctx)
	agent := normalizeUserAgent(requestcontext.UserAgent(ctx))

	created := 0
	acceptedIDs := make([]string, 0, len(docs))
	for _, doc := range docs {
		rec := &models.ConsentRecord{
			PrincipalID: principal.ID,
			DocumentID:  doc.ID,
			ClientIP:    clientIP,
			UserAgent:   agent,
			AcceptedAt:  now,
		}
		err := s.store.CreateConsent(ctx, rec)
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			continue
		}
		if err != nil {
			return AcceptResult{}, dErrors.Wrap(dErrors.CodeInternal, "record consent", err)
		}
		created++
		acceptedIDs = append(acceptedIDs, doc.ID.String())
	}

	if created > 0 {
		if err := s.recorder.Record(ctx, audit.Entry{
			ActorID:    principal.ID,
			TenantID:   principal.TenantID,
			TargetKind: audit.TargetConsent,
			TargetID:   principal.ID.String(),
			Action:     audit.ActionCreate,
			Changes:    map[string]any{"accepted_documents": acceptedIDs},
		}); err != nil {
			return AcceptResult{}, err
		}
	}

	s.cache.InvalidatePrincipal(ctx, principal.ID)

	return AcceptResult{CreatedCount: created, TotalActive: len(active)}, nil
}

// DocumentInput carries the fields for a new document version.
type DocumentInput struct {
	DocType id.DocType
	Version int
	Title   string
	Content string
}

// CreateDocument registers a new inactive version. Platform-admin only.
func (s *Service) CreateDocument(ctx context.Context, actor id.Principal, input DocumentInput) (*models.LegalDocument, error) {
	if actor.Role != id.RolePlatformAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only platform admins manage legal documents")
	}
	doc, err := models.NewLegalDocument(id.DocumentID(id.New()), input.DocType, input.Version,
		input.Title, input.Content, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, dErrors.NewField(dErrors.CodeConflict, "version", "this version already exists for the document type")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create document", err)
	}

	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TargetKind: audit.TargetDocument,
		TargetID:   doc.ID.String(),
		Action:     audit.ActionCreate,
		Changes:    map[string]any{"doc_type": string(doc.DocType), "version": doc.Version},
	}); err != nil {
		return nil, err
	}
	return doc, nil
}

// ActivateDocument swaps the active version of the document's type and
// invalidates every cached completeness answer. Platform-admin only.
func (s *Service) ActivateDocument(ctx context.Context, actor id.Principal, docID id.DocumentID) (*models.LegalDocument, error) {
	if actor.Role != id.RolePlatformAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only platform admins manage legal documents")
	}
	err := s.store.ActivateExclusive(ctx, docID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return nil, dErrors.New(dErrors.CodeConflict, "concurrent activation of the same document type")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "activate document", err)
	}

	// A stale cached answer here would keep the gate open for principals who
	// have not accepted the new version, so this failure is not swallowed.
	if err := s.cache.InvalidateAll(ctx); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "invalidate consent cache", err)
	}

	doc, err := s.store.FindDocumentByID(ctx, docID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "find document", err)
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		ActorID:    actor.ID,
		TargetKind: audit.TargetDocument,
		TargetID:   doc.ID.String(),
		Action:     audit.ActionUpdate,
		Changes:    map[string]any{"active": true, "version": doc.Version},
	}); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "legal document activated",
		"doc_type", string(doc.DocType), "version", doc.Version)
	return doc, nil
}

// ListDocuments returns every version of every document. Platform-admin only.
func (s *Service) ListDocuments(ctx context.Context, actor id.Principal) ([]*models.LegalDocument, error) {
	if actor.Role != id.RolePlatformAdmin {
		return nil, dErrors.New(dErrors.CodeForbidden, "only platform admins manage legal documents")
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list documents", err)
	}
	return docs, nil
}

// BootstrapDefaults seeds the initial active document set on an empty
// installation. Existing documents make this a no-op.
func (s *Service) BootstrapDefaults(ctx context.Context) error {
	existing, err := s.store.ListDocuments(ctx)
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "list documents", err)
	}
	if len(existing) > 0 {
		return nil
	}

	now := requestcontext.Now(ctx)
	defaults := []struct {
		docType id.DocType
		title   string
	}{
		{id.DocTypeTerms, "Terms of Service"},
		{id.DocTypePrivacy, "Privacy Policy"},
		{id.DocTypeConsentForm, "Consent to Treatment Data Processing"},
	}
	for _, d := range defaults {
		doc, err := models.NewLegalDocument(id.DocumentID(id.New()), d.docType, 1,
			d.title, "Initial version pending legal review.", now)
		if err != nil {
			return err
		}
		doc.Active = true
		if err := s.store.CreateDocument(ctx, doc); err != nil {
			// Another instance seeded concurrently.
			if errors.Is(err, sentinel.ErrAlreadyUsed) || errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return dErrors.Wrap(dErrors.CodeInternal, "seed default documents", err)
		}
	}
	s.logger.InfoContext(ctx, "seeded default legal documents")
	return nil
}

// normalizeUserAgent reduces a raw User-Agent header to browser, version,
// and OS so consent evidence stays readable without storing fingerprints.
func normalizeUserAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	out := name
	if version != "" {
		out = fmt.Sprintf("%s %s", name, version)
	}
	if osInfo := ua.OS(); osInfo != "" {
		out = fmt.Sprintf("%s (%s)", out, osInfo)
	}
	return out
}
