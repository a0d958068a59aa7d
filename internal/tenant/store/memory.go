package store

import (
	"context"
	"sort"
	"sync"

	"docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
)

// InMemory is the test double for the tenant store. Slug uniqueness mirrors
// the Postgres unique index.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[id.TenantID]*models.Tenant
	bySlug  map[string]id.TenantID
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID:   make(map[id.TenantID]*models.Tenant),
		bySlug: make(map[string]id.TenantID),
	}
}

func (s *InMemory) CreateIfSlugAvailable(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slug := models.NormalizeSlug(tenant.Slug)
	if _, exists := s.bySlug[slug]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cp := *tenant
	s.byID[tenant.ID] = &cp
	s.bySlug[slug] = tenant.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.byID[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *tenant
	return &cp, nil
}

func (s *InMemory) FindBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID, ok := s.bySlug[models.NormalizeSlug(slug)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[tenantID]
	return &cp, nil
}

func (s *InMemory) ListActive(_ context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Tenant
	for _, tenant := range s.byID {
		if tenant.Active {
			cp := *tenant
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) Update(_ context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tenant.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *tenant
	s.byID[tenant.ID] = &cp
	return nil
}
