package store

import (
	"context"
	"sort"
	"sync"

	"docflow/internal/consent/models"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
)

// InMemory is the test double for the consent store. Version uniqueness, the
// one-active-per-type rule, and consent idempotency mirror the Postgres
// constraints.
type InMemory struct {
	mu       sync.RWMutex
	docs     map[id.DocumentID]*models.LegalDocument
	consents map[consentKey]*models.ConsentRecord
}

type consentKey struct {
	principal id.PrincipalID
	document  id.DocumentID
}

func NewInMemory() *InMemory {
	return &InMemory{
		docs:     make(map[id.DocumentID]*models.LegalDocument),
		consents: make(map[consentKey]*models.ConsentRecord),
	}
}

func (s *InMemory) CreateDocument(_ context.Context, doc *models.LegalDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.docs {
		if existing.DocType == doc.DocType && existing.Version == doc.Version {
			return sentinel.ErrAlreadyUsed
		}
		if doc.Active && existing.Active && existing.DocType == doc.DocType {
			return sentinel.ErrConflict
		}
	}
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *InMemory) FindDocumentByID(_ context.Context, docID id.DocumentID) (*models.LegalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[docID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

// ListActiveDocuments returns the active set ordered by document type.
func (s *InMemory) ListActiveDocuments(_ context.Context) ([]*models.LegalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LegalDocument
	for _, doc := range s.docs {
		if doc.Active {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocType < out[j].DocType })
	return out, nil
}

func (s *InMemory) ListDocuments(_ context.Context) ([]*models.LegalDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.LegalDocument
	for _, doc := range s.docs {
		cp := *doc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocType != out[j].DocType {
			return out[i].DocType < out[j].DocType
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// ActivateExclusive makes docID the only active document of its type. The
// deactivate-then-activate pair is atomic under the store lock, matching the
// transactional swap in Postgres.
func (s *InMemory) ActivateExclusive(_ context.Context, docID id.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.docs[docID]
	if !ok {
		return sentinel.ErrNotFound
	}
	for _, doc := range s.docs {
		if doc.DocType == target.DocType {
			doc.Active = false
		}
	}
	target.Active = true
	return nil
}

// CreateConsent appends the acceptance evidence. A duplicate
// (principal, document) pair reports ErrAlreadyUsed so the caller can treat
// re-acceptance as a no-op.
func (s *InMemory) CreateConsent(_ context.Context, rec *models.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := consentKey{principal: rec.PrincipalID, document: rec.DocumentID}
	if _, exists := s.consents[key]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cp := *rec
	s.consents[key] = &cp
	return nil
}

func (s *InMemory) ListConsentsByPrincipal(_ context.Context, principalID id.PrincipalID) ([]*models.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ConsentRecord
	for key, rec := range s.consents {
		if key.principal == principalID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.Before(out[j].AcceptedAt) })
	return out, nil
}
