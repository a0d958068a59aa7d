package store

import (
	"context"
	"sort"
	"sync"

	"docflow/internal/patient/models"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
)

// ListFilter narrows a patient listing. Zero values mean no filter; the
// service derives filters from the caller's row-level scope.
type ListFilter struct {
	TenantID  id.TenantID
	AccountID id.PrincipalID
}

// InMemory is the test double for the patient store. The per-tenant national
// ID uniqueness mirrors the Postgres constraint.
type InMemory struct {
	mu      sync.RWMutex
	records map[id.PatientID]*models.PatientRecord
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[id.PatientID]*models.PatientRecord)}
}

func (s *InMemory) Create(_ context.Context, rec *models.PatientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hashTaken(rec.TenantID, rec.NationalID.Hash, rec.ID) {
		return sentinel.ErrAlreadyUsed
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, patientID id.PatientID) (*models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[patientID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// FindByTenantAndHash is the searchable side of the sealed national ID.
func (s *InMemory) FindByTenantAndHash(_ context.Context, tenantID id.TenantID, hash string) (*models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if hash == "" {
		return nil, sentinel.ErrNotFound
	}
	for _, rec := range s.records {
		if rec.TenantID == tenantID && rec.NationalID.Hash == hash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByAccountID(_ context.Context, accountID id.PrincipalID) (*models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.AccountID == accountID && !accountID.IsNil() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PatientRecord
	for _, rec := range s.records {
		if !filter.TenantID.IsNil() && rec.TenantID != filter.TenantID {
			continue
		}
		if !filter.AccountID.IsNil() && rec.AccountID != filter.AccountID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

// Update persists every mutable field. The tenant reference is kept from the
// stored record: it never silently changes.
func (s *InMemory) Update(_ context.Context, rec *models.PatientRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if s.hashTaken(existing.TenantID, rec.NationalID.Hash, rec.ID) {
		return sentinel.ErrAlreadyUsed
	}
	cp := *rec
	cp.TenantID = existing.TenantID
	s.records[rec.ID] = &cp
	return nil
}

func (s *InMemory) Delete(_ context.Context, patientID id.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[patientID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.records, patientID)
	return nil
}

func (s *InMemory) hashTaken(tenantID id.TenantID, hash string, exclude id.PatientID) bool {
	if hash == "" {
		return false
	}
	for _, rec := range s.records {
		if rec.ID != exclude && rec.TenantID == tenantID && rec.NationalID.Hash == hash {
			return true
		}
	}
	return false
}
