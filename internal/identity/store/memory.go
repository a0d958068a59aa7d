package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"docflow/internal/identity/models"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
)

// InMemory is the test double for the identity store. Email and code
// uniqueness mirror the Postgres constraints.
type InMemory struct {
	mu       sync.RWMutex
	accounts map[id.PrincipalID]*models.Account
	byEmail  map[string]id.PrincipalID
	profiles map[id.PrincipalID]*models.DoctorProfile
	codes    map[string]*models.VerificationCode
}

func NewInMemory() *InMemory {
	return &InMemory{
		accounts: make(map[id.PrincipalID]*models.Account),
		byEmail:  make(map[string]id.PrincipalID),
		profiles: make(map[id.PrincipalID]*models.DoctorProfile),
		codes:    make(map[string]*models.VerificationCode),
	}
}

func (s *InMemory) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := models.NormalizeEmail(account.Email)
	if _, exists := s.byEmail[email]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cp := *account
	s.accounts[account.ID] = &cp
	s.byEmail[email] = account.ID
	return nil
}

func (s *InMemory) FindAccountByID(_ context.Context, accountID id.PrincipalID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *account
	return &cp, nil
}

func (s *InMemory) FindAccountByEmail(_ context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.accounts[accountID]
	return &cp, nil
}

// UpdateAccount persists every mutable field. The tenant reference is
// deliberately kept from the stored record: it never silently changes.
func (s *InMemory) UpdateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[account.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *account
	cp.TenantID = existing.TenantID
	s.accounts[account.ID] = &cp
	return nil
}

func (s *InMemory) ListStaff(_ context.Context, tenantID id.TenantID) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Account
	for _, account := range s.accounts {
		if !account.Role.IsStaff() {
			continue
		}
		if !tenantID.IsNil() && account.TenantID != tenantID {
			continue
		}
		cp := *account
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *InMemory) FindFirstDoctor(_ context.Context, tenantID id.TenantID) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*models.Account
	for _, account := range s.accounts {
		if account.Role == id.RoleDoctor && account.TenantID == tenantID {
			candidates = append(candidates, account)
		}
	}
	if len(candidates) == 0 {
		return nil, sentinel.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].FullName < candidates[j].FullName })
	cp := *candidates[0]
	return &cp, nil
}

func (s *InMemory) UpsertDoctorProfile(_ context.Context, profile *models.DoctorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *profile
	s.profiles[profile.AccountID] = &cp
	return nil
}

func (s *InMemory) FindDoctorProfile(_ context.Context, accountID id.PrincipalID) (*models.DoctorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[accountID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *profile
	return &cp, nil
}

func (s *InMemory) CreateVerificationCode(_ context.Context, code *models.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		return sentinel.ErrAlreadyUsed
	}
	cp := *code
	s.codes[code.Code] = &cp
	return nil
}

// FindUnusedCode returns the code only while unconsumed; a used or unknown
// code is indistinguishably absent.
func (s *InMemory) FindUnusedCode(_ context.Context, code string) (*models.VerificationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vc, ok := s.codes[code]
	if !ok || vc.Used {
		return nil, sentinel.ErrNotFound
	}
	cp := *vc
	return &cp, nil
}

// MarkCodeUsed consumes the code atomically; a second consumer loses.
func (s *InMemory) MarkCodeUsed(_ context.Context, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vc, ok := s.codes[code]
	if !ok {
		return sentinel.ErrNotFound
	}
	if vc.Used {
		return sentinel.ErrAlreadyUsed
	}
	vc.Consume(now)
	return nil
}
