package store

import (
	"context"
	"sort"
	"sync"

	"docflow/internal/appointment/models"
	id "docflow/pkg/domain"
	"docflow/pkg/platform/sentinel"
)

// ListFilter narrows an appointment listing. Zero values mean no filter;
// the service derives filters from the caller's row-level scope.
type ListFilter struct {
	TenantID  id.TenantID
	DoctorID  id.PrincipalID
	PatientID id.PatientID
}

// InMemory is the test double for the appointment store.
type InMemory struct {
	mu           sync.RWMutex
	appointments map[id.AppointmentID]*models.Appointment
}

func NewInMemory() *InMemory {
	return &InMemory{appointments: make(map[id.AppointmentID]*models.Appointment)}
}

func (s *InMemory) Create(_ context.Context, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *appt
	s.appointments[appt.ID] = &cp
	return nil
}

func (s *InMemory) FindByID(_ context.Context, apptID id.AppointmentID) (*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.appointments[apptID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *appt
	return &cp, nil
}

func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Appointment
	for _, appt := range s.appointments {
		if !filter.TenantID.IsNil() && appt.TenantID != filter.TenantID {
			continue
		}
		if !filter.DoctorID.IsNil() && appt.DoctorID != filter.DoctorID {
			continue
		}
		if !filter.PatientID.IsNil() && appt.PatientID != filter.PatientID {
			continue
		}
		cp := *appt
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// Update persists every mutable field. The tenant reference is kept from the
// stored record: it never silently changes.
func (s *InMemory) Update(_ context.Context, appt *models.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.appointments[appt.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cp := *appt
	cp.TenantID = existing.TenantID
	s.appointments[appt.ID] = &cp
	return nil
}
