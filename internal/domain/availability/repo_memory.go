package availability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-process TemplateRepository used for STORE=memory and in
// tests. Conflict checks and writes happen under one lock, so the
// one-active-template rule holds for concurrent callers.
type MemoryRepo struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*Template
	doctors   map[uuid.UUID]DoctorRef
	now       func() time.Time
}

// NewMemoryRepo creates an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		templates: make(map[uuid.UUID]*Template),
		doctors:   make(map[uuid.UUID]DoctorRef),
		now:       time.Now,
	}
}

// AddDoctor registers a staff-directory entry used to resolve doctor names.
func (m *MemoryRepo) AddDoctor(d DoctorRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemoryRepo) Create(_ context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.IsActive && m.activeLocked(t.FacilityID, t.DoctorID, t.DayOfWeek, uuid.Nil) != nil {
		return &ConflictError{DoctorID: t.DoctorID, FacilityID: t.FacilityID, Day: t.Weekday()}
	}
	t.ID = uuid.New()
	now := m.now()
	t.CreatedAt = now
	t.UpdatedAt = now
	m.templates[t.ID] = m.copyLocked(t)
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, facilityID, id uuid.UUID) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.templates[id]
	if !ok || t.FacilityID != facilityID {
		return nil, ErrNotFound
	}
	return m.copyLocked(t), nil
}

func (m *MemoryRepo) FindActive(_ context.Context, facilityID, doctorID uuid.UUID, day int) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t := m.activeLocked(facilityID, doctorID, day, uuid.Nil); t != nil {
		return m.copyLocked(t), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) Update(_ context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.templates[t.ID]
	if !ok || existing.FacilityID != t.FacilityID {
		return ErrNotFound
	}
	if t.IsActive && m.activeLocked(t.FacilityID, t.DoctorID, t.DayOfWeek, t.ID) != nil {
		return &ConflictError{DoctorID: t.DoctorID, FacilityID: t.FacilityID, Day: t.Weekday()}
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = m.now()
	m.templates[t.ID] = m.copyLocked(t)
	return nil
}

func (m *MemoryRepo) Delete(_ context.Context, facilityID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[id]
	if !ok || t.FacilityID != facilityID {
		return ErrNotFound
	}
	delete(m.templates, id)
	return nil
}

func (m *MemoryRepo) List(_ context.Context, facilityID uuid.UUID, f ListFilter) ([]*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := []*Template{}
	for _, t := range m.templates {
		if t.FacilityID != facilityID {
			continue
		}
		if !f.IncludeInactive && !t.IsActive {
			continue
		}
		if f.DoctorID != nil && t.DoctorID != *f.DoctorID {
			continue
		}
		if f.DayOfWeek != nil && t.DayOfWeek != *f.DayOfWeek {
			continue
		}
		if f.Department != nil && (t.Department == nil || *t.Department != *f.Department) {
			continue
		}
		items = append(items, m.copyLocked(t))
	}
	sortTemplates(items)
	return items, nil
}

func (m *MemoryRepo) ListDoctors(_ context.Context, facilityID uuid.UUID) ([]DoctorRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	doctors := []DoctorRef{}
	for _, t := range m.templates {
		if t.FacilityID != facilityID || !t.IsActive || seen[t.DoctorID] {
			continue
		}
		seen[t.DoctorID] = true
		doctors = append(doctors, m.doctorLocked(t.DoctorID))
	}
	sort.Slice(doctors, func(i, j int) bool {
		a, b := doctors[i], doctors[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID.String() < b.ID.String()
	})
	return doctors, nil
}

func (m *MemoryRepo) activeLocked(facilityID, doctorID uuid.UUID, day int, exclude uuid.UUID) *Template {
	for _, t := range m.templates {
		if t.ID == exclude {
			continue
		}
		if t.IsActive && t.FacilityID == facilityID && t.DoctorID == doctorID && t.DayOfWeek == day {
			return t
		}
	}
	return nil
}

func (m *MemoryRepo) doctorLocked(id uuid.UUID) DoctorRef {
	if d, ok := m.doctors[id]; ok {
		return d
	}
	return DoctorRef{ID: id}
}

// copyLocked returns a detached copy with the doctor reference resolved, so
// callers never alias stored state.
func (m *MemoryRepo) copyLocked(t *Template) *Template {
	c := *t
	d := m.doctorLocked(t.DoctorID)
	c.Doctor = &d
	return &c
}

// sortTemplates orders by weekday, then start time, then creation time and id.
func sortTemplates(items []*Template) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
