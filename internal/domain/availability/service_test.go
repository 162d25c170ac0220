package availability

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// failingRepo fails every call with err.
type failingRepo struct{ err error }

func (f failingRepo) Create(context.Context, *Template) error { return f.err }
func (f failingRepo) GetByID(context.Context, uuid.UUID, uuid.UUID) (*Template, error) {
	return nil, f.err
}
func (f failingRepo) FindActive(context.Context, uuid.UUID, uuid.UUID, int) (*Template, error) {
	return nil, f.err
}
func (f failingRepo) Update(context.Context, *Template) error            { return f.err }
func (f failingRepo) Delete(context.Context, uuid.UUID, uuid.UUID) error { return f.err }
func (f failingRepo) List(context.Context, uuid.UUID, ListFilter) ([]*Template, error) {
	return nil, f.err
}
func (f failingRepo) ListDoctors(context.Context, uuid.UUID) ([]DoctorRef, error) {
	return nil, f.err
}

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	return NewService(repo, zerolog.Nop(), Options{ListFailOpen: true}), repo
}

func intPtr(v int) *int { return &v }

func clockPtr(h, m int) *Clock {
	c := NewClock(h, m)
	return &c
}

func createInput(doctor uuid.UUID, day int) CreateTemplateInput {
	return CreateTemplateInput{
		DoctorID:  &doctor,
		DayOfWeek: intPtr(day),
		StartTime: clockPtr(8, 0),
		EndTime:   clockPtr(12, 0),
	}
}

func TestService_CreateTemplate_Defaults(t *testing.T) {
	svc, _ := newTestService()
	facility := uuid.New()

	tmpl, err := svc.CreateTemplate(context.Background(), facility, createInput(uuid.New(), 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tmpl.ID == uuid.Nil {
		t.Error("expected an id to be assigned")
	}
	if tmpl.SlotDuration != DefaultSlotDuration || tmpl.MaxPatients != DefaultMaxPatients {
		t.Errorf("expected defaults 15/20, got %d/%d", tmpl.SlotDuration, tmpl.MaxPatients)
	}
	if !tmpl.IsActive {
		t.Error("expected new template to be active")
	}
	if tmpl.FacilityID != facility {
		t.Errorf("expected facility %s, got %s", facility, tmpl.FacilityID)
	}
	if tmpl.DayOfWeek != 0 {
		t.Errorf("expected Sunday to be accepted, got %d", tmpl.DayOfWeek)
	}
}

func TestService_CreateTemplate_Validation(t *testing.T) {
	svc, _ := newTestService()
	doctor := uuid.New()
	from, _ := ParseDate("2024-06-01")
	to, _ := ParseDate("2024-05-01")

	tests := []struct {
		name   string
		mutate func(*CreateTemplateInput)
		want   string
	}{
		{"missing doctor", func(in *CreateTemplateInput) { in.DoctorID = nil }, "doctor_id is required"},
		{"nil doctor", func(in *CreateTemplateInput) { nilID := uuid.Nil; in.DoctorID = &nilID }, "doctor_id is required"},
		{"missing day", func(in *CreateTemplateInput) { in.DayOfWeek = nil }, "day_of_week is required"},
		{"day out of range", func(in *CreateTemplateInput) { in.DayOfWeek = intPtr(7) }, "day_of_week must be at most 6"},
		{"negative day", func(in *CreateTemplateInput) { in.DayOfWeek = intPtr(-1) }, "day_of_week must be at least 0"},
		{"missing start", func(in *CreateTemplateInput) { in.StartTime = nil }, "start_time is required"},
		{"start equals end", func(in *CreateTemplateInput) { in.EndTime = clockPtr(8, 0) }, "start_time must be before end_time"},
		{"start after end", func(in *CreateTemplateInput) { in.StartTime = clockPtr(13, 0) }, "start_time must be before end_time"},
		{"short slot", func(in *CreateTemplateInput) { in.SlotDuration = intPtr(4) }, "slot_duration must be at least 5"},
		{"zero patients", func(in *CreateTemplateInput) { in.MaxPatients = intPtr(0) }, "max_patients must be at least 1"},
		{"inverted effective range", func(in *CreateTemplateInput) {
			in.EffectiveFrom = &from
			in.EffectiveTo = &to
		}, "effective_from must not be after effective_to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := createInput(doctor, 1)
			tt.mutate(&in)
			_, err := svc.CreateTemplate(context.Background(), uuid.New(), in)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected message containing %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestService_CreateTemplate_RequiresFacility(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.CreateTemplate(context.Background(), uuid.Nil, createInput(uuid.New(), 1))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestService_CreateTemplate_ConflictScenario(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	d1, f1 := uuid.New(), uuid.New()

	if _, err := svc.CreateTemplate(ctx, f1, createInput(d1, 3)); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.CreateTemplate(ctx, f1, createInput(d1, 3))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if err.Error() != "Doctor already has a schedule for Wednesday" {
		t.Errorf("unexpected message %q", err.Error())
	}

	if _, err := svc.CreateTemplate(ctx, f1, createInput(d1, 4)); err != nil {
		t.Fatalf("thursday create: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, uuid.New(), createInput(d1, 3)); err != nil {
		t.Fatalf("other facility create: %v", err)
	}
}

func TestService_CreateTemplate_InactiveDoesNotBlock(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	doctor, facility := uuid.New(), uuid.New()

	first, err := svc.CreateTemplate(ctx, facility, createInput(doctor, 2))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.DeactivateTemplate(ctx, facility, first.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, facility, createInput(doctor, 2)); err != nil {
		t.Fatalf("expected create after deactivation to succeed, got %v", err)
	}
}

func TestService_CreateTemplate_ConcurrentSingleWinner(t *testing.T) {
	svc, repo := newTestService()
	doctor, facility := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateTemplate(context.Background(), facility, createInput(doctor, 5))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != 19 {
		t.Errorf("expected 1 success and 19 conflicts, got %d and %d", ok, conflicts)
	}
	assertSingleActive(t, repo)
}

func TestService_CreateTemplate_StoreError(t *testing.T) {
	svc := NewService(failingRepo{err: errors.New("connection refused")}, zerolog.Nop(), Options{})
	_, err := svc.CreateTemplate(context.Background(), uuid.New(), createInput(uuid.New(), 1))

	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) {
		t.Error("store failure must not look like a business rejection")
	}
}

func TestService_GetTemplate(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	facility, doctor := uuid.New(), uuid.New()
	repo.AddDoctor(DoctorRef{ID: doctor, FirstName: "Ada", LastName: "Osei"})

	created, err := svc.CreateTemplate(ctx, facility, createInput(doctor, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.GetTemplate(ctx, facility, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Doctor == nil || got.Doctor.LastName != "Osei" {
		t.Errorf("expected doctor reference to be resolved, got %+v", got.Doctor)
	}

	if _, err := svc.GetTemplate(ctx, uuid.New(), created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found outside facility, got %v", err)
	}
	if _, err := svc.GetTemplate(ctx, facility, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found for unknown id, got %v", err)
	}
}

func TestService_UpdateTemplate_Partial(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	created, err := svc.CreateTemplate(ctx, facility, createInput(uuid.New(), 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	notes := "bring referral letters"
	updated, err := svc.UpdateTemplate(ctx, facility, created.ID, UpdateTemplateInput{
		Notes:       &notes,
		MaxPatients: intPtr(8),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Notes == nil || *updated.Notes != notes || updated.MaxPatients != 8 {
		t.Errorf("expected notes and max_patients to change, got %+v", updated)
	}
	if updated.StartTime != created.StartTime || updated.DayOfWeek != created.DayOfWeek {
		t.Error("expected unspecified fields to be unchanged")
	}
}

func TestService_UpdateTemplate_ResolvesNewDoctor(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	facility := uuid.New()
	first := DoctorRef{ID: uuid.New(), FirstName: "Ada", LastName: "Osei"}
	second := DoctorRef{ID: uuid.New(), FirstName: "Ben", LastName: "Mensah"}
	repo.AddDoctor(first)
	repo.AddDoctor(second)

	created, err := svc.CreateTemplate(ctx, facility, createInput(first.ID, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.UpdateTemplate(ctx, facility, created.ID, UpdateTemplateInput{DoctorID: &second.ID})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Doctor == nil || *updated.Doctor != second {
		t.Errorf("expected doctor reference %+v, got %+v", second, updated.Doctor)
	}

	got, err := svc.GetTemplate(ctx, facility, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DoctorID != second.ID || got.Doctor == nil || *got.Doctor != *updated.Doctor {
		t.Errorf("expected update result to match stored record, got %+v", got.Doctor)
	}
}

func TestService_UpdateTemplate_ValidatesMerged(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	created, err := svc.CreateTemplate(ctx, facility, createInput(uuid.New(), 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Moving only the end before the stored start must fail.
	_, err = svc.UpdateTemplate(ctx, facility, created.ID, UpdateTemplateInput{EndTime: clockPtr(7, 0)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	_, err = svc.UpdateTemplate(ctx, facility, created.ID, UpdateTemplateInput{DayOfWeek: intPtr(9)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for day 9, got %v", err)
	}
}

func TestService_UpdateTemplate_DayChangeConflicts(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	doctor, facility := uuid.New(), uuid.New()

	if _, err := svc.CreateTemplate(ctx, facility, createInput(doctor, 1)); err != nil {
		t.Fatalf("create monday: %v", err)
	}
	tuesday, err := svc.CreateTemplate(ctx, facility, createInput(doctor, 2))
	if err != nil {
		t.Fatalf("create tuesday: %v", err)
	}

	_, err = svc.UpdateTemplate(ctx, facility, tuesday.ID, UpdateTemplateInput{DayOfWeek: intPtr(1)})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict moving onto monday, got %v", err)
	}
	if !strings.Contains(err.Error(), "Monday") {
		t.Errorf("expected conflict to name Monday, got %q", err.Error())
	}
	assertSingleActive(t, repo)
}

func TestService_UpdateTemplate_ReactivationConflicts(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	doctor, facility := uuid.New(), uuid.New()

	old, err := svc.CreateTemplate(ctx, facility, createInput(doctor, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.DeactivateTemplate(ctx, facility, old.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, facility, createInput(doctor, 4)); err != nil {
		t.Fatalf("replacement: %v", err)
	}

	active := true
	_, err = svc.UpdateTemplate(ctx, facility, old.ID, UpdateTemplateInput{IsActive: &active})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on reactivation, got %v", err)
	}
	assertSingleActive(t, repo)
}

func TestService_UpdateTemplate_SameSlotNoConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	created, err := svc.CreateTemplate(ctx, facility, createInput(uuid.New(), 3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Re-sending the same day must not collide with itself.
	if _, err := svc.UpdateTemplate(ctx, facility, created.ID, UpdateTemplateInput{
		DayOfWeek: intPtr(3),
		StartTime: clockPtr(9, 0),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_UpdateTemplate_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.UpdateTemplate(context.Background(), uuid.New(), uuid.New(), UpdateTemplateInput{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_DeleteTemplate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	created, err := svc.CreateTemplate(ctx, facility, createInput(uuid.New(), 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.DeleteTemplate(ctx, uuid.New(), created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found from another facility, got %v", err)
	}
	if err := svc.DeleteTemplate(ctx, facility, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetTemplate(ctx, facility, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected deleted template to be gone, got %v", err)
	}
	if err := svc.DeleteTemplate(ctx, facility, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected second delete to report not found, got %v", err)
	}
}

func TestService_ListTemplates_OrderAndGrouping(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()
	a, b := uuid.New(), uuid.New()

	mk := func(doctor uuid.UUID, day, hour int) {
		in := createInput(doctor, day)
		in.StartTime = clockPtr(hour, 0)
		in.EndTime = clockPtr(hour+2, 0)
		if _, err := svc.CreateTemplate(ctx, facility, in); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	mk(a, 3, 9)
	mk(b, 1, 14)
	mk(a, 1, 8)
	mk(b, 3, 7)

	list, err := svc.ListTemplates(ctx, facility, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := make([]string, len(list.Data))
	for i, tm := range list.Data {
		got[i] = fmt.Sprintf("%d@%s", tm.DayOfWeek, tm.StartTime)
	}
	want := []string{"1@08:00", "1@14:00", "3@07:00", "3@09:00"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected order %v, got %v", want, got)
	}

	if len(list.Grouped) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(list.Grouped))
	}
	if list.Grouped[0].Doctor.ID != a || list.Grouped[1].Doctor.ID != b {
		t.Error("expected groups in order of first appearance")
	}
	if len(list.Grouped[0].Schedules) != 2 || list.Grouped[0].Schedules[0].DayOfWeek != 1 {
		t.Error("expected each group to keep list order")
	}
}

func TestService_ListTemplates_Filters(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()
	a, b := uuid.New(), uuid.New()
	cardio := "cardiology"

	inA := createInput(a, 1)
	inA.Department = &cardio
	tA, err := svc.CreateTemplate(ctx, facility, inA)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, facility, createInput(b, 2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, uuid.New(), createInput(a, 1)); err != nil {
		t.Fatalf("create other facility: %v", err)
	}
	if _, err := svc.DeactivateTemplate(ctx, facility, tA.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	count := func(f ListFilter) int {
		t.Helper()
		list, err := svc.ListTemplates(ctx, facility, f)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		return len(list.Data)
	}

	if n := count(ListFilter{}); n != 1 {
		t.Errorf("expected inactive and foreign templates excluded, got %d", n)
	}
	if n := count(ListFilter{IncludeInactive: true}); n != 2 {
		t.Errorf("expected 2 with inactive, got %d", n)
	}
	if n := count(ListFilter{IncludeInactive: true, DoctorID: &a}); n != 1 {
		t.Errorf("expected 1 for doctor filter, got %d", n)
	}
	if n := count(ListFilter{IncludeInactive: true, DayOfWeek: intPtr(2)}); n != 1 {
		t.Errorf("expected 1 for day filter, got %d", n)
	}
	if n := count(ListFilter{IncludeInactive: true, Department: &cardio}); n != 1 {
		t.Errorf("expected 1 for department filter, got %d", n)
	}

	if _, err := svc.ListTemplates(ctx, facility, ListFilter{DayOfWeek: intPtr(8)}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for day 8, got %v", err)
	}
}

func TestService_ListTemplates_FailOpen(t *testing.T) {
	repo := failingRepo{err: errors.New("db down")}

	open := NewService(repo, zerolog.Nop(), Options{ListFailOpen: true})
	list, err := open.ListTemplates(context.Background(), uuid.New(), ListFilter{})
	if err != nil {
		t.Fatalf("expected fail-open list to swallow the error, got %v", err)
	}
	if list.Data == nil || len(list.Data) != 0 || list.Grouped == nil || len(list.Grouped) != 0 {
		t.Errorf("expected empty data and grouped, got %+v", list)
	}

	closed := NewService(repo, zerolog.Nop(), Options{ListFailOpen: false})
	_, err = closed.ListTemplates(context.Background(), uuid.New(), ListFilter{})
	var se *StoreError
	if !errors.As(err, &se) {
		t.Errorf("expected StoreError when fail-open is off, got %v", err)
	}
}

func TestService_ListDoctorsWithTemplates(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	zoe := DoctorRef{ID: uuid.New(), FirstName: "Zoe", LastName: "Adams"}
	amy := DoctorRef{ID: uuid.New(), FirstName: "Amy", LastName: "Adams"}
	bob := DoctorRef{ID: uuid.New(), FirstName: "Bob", LastName: "Baker"}
	idle := DoctorRef{ID: uuid.New(), FirstName: "Ian", LastName: "Idle"}
	for _, d := range []DoctorRef{zoe, amy, bob, idle} {
		repo.AddDoctor(d)
	}

	for _, d := range []DoctorRef{bob, zoe, amy} {
		if _, err := svc.CreateTemplate(ctx, facility, createInput(d.ID, 1)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// A second day for the same doctor must not duplicate the entry.
	if _, err := svc.CreateTemplate(ctx, facility, createInput(bob.ID, 2)); err != nil {
		t.Fatalf("create: %v", err)
	}
	idleTmpl, err := svc.CreateTemplate(ctx, facility, createInput(idle.ID, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.DeactivateTemplate(ctx, facility, idleTmpl.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	doctors, err := svc.ListDoctorsWithTemplates(ctx, facility)
	if err != nil {
		t.Fatalf("list doctors: %v", err)
	}
	want := []DoctorRef{amy, zoe, bob}
	if len(doctors) != len(want) {
		t.Fatalf("expected %d doctors, got %d: %+v", len(want), len(doctors), doctors)
	}
	for i := range want {
		if doctors[i] != want[i] {
			t.Errorf("doctor %d: expected %+v, got %+v", i, want[i], doctors[i])
		}
	}
}

func TestService_SlotsForDate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()
	a, b := uuid.New(), uuid.New()

	inA := createInput(a, 3)
	inA.EndTime = clockPtr(9, 0)
	if _, err := svc.CreateTemplate(ctx, facility, inA); err != nil {
		t.Fatalf("create: %v", err)
	}
	inB := createInput(b, 3)
	inB.EndTime = clockPtr(8, 30)
	if _, err := svc.CreateTemplate(ctx, facility, inB); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, facility, createInput(a, 4)); err != nil {
		t.Fatalf("create: %v", err)
	}

	wed, _ := ParseDate("2024-05-15")
	slots, err := svc.SlotsForDate(ctx, facility, wed, nil)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 6 {
		t.Errorf("expected 4+2 slots on Wednesday, got %d", len(slots))
	}

	slots, err = svc.SlotsForDate(ctx, facility, wed, &b)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("expected 2 slots for one doctor, got %d", len(slots))
	}

	sat, _ := ParseDate("2024-05-18")
	slots, err = svc.SlotsForDate(ctx, facility, sat, nil)
	if err != nil || len(slots) != 0 {
		t.Errorf("expected no Saturday slots, got %d (%v)", len(slots), err)
	}
}

func TestService_TemplateSlots(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	facility := uuid.New()

	in := createInput(uuid.New(), 3)
	in.EndTime = clockPtr(9, 0)
	in.MaxPatients = intPtr(2)
	created, err := svc.CreateTemplate(ctx, facility, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wed, _ := ParseDate("2024-05-15")
	slots, err := svc.TemplateSlots(ctx, facility, created.ID, wed)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 2 {
		t.Errorf("expected 2 capped slots, got %d", len(slots))
	}

	if _, err := svc.TemplateSlots(ctx, facility, uuid.New(), wed); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// TestService_OneActivePerDoctorDay drives a random mix of operations and
// checks the one-active-template rule after each step.
func TestService_OneActivePerDoctorDay(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	facilities := []uuid.UUID{uuid.New(), uuid.New()}
	doctors := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	var ids []struct{ facility, id uuid.UUID }

	for step := 0; step < 400; step++ {
		f := facilities[rng.Intn(len(facilities))]
		switch op := rng.Intn(4); {
		case op == 0 || len(ids) == 0:
			tm, err := svc.CreateTemplate(ctx, f, createInput(doctors[rng.Intn(len(doctors))], rng.Intn(3)))
			if err == nil {
				ids = append(ids, struct{ facility, id uuid.UUID }{f, tm.ID})
			} else if !errors.Is(err, ErrConflict) {
				t.Fatalf("step %d: unexpected create error %v", step, err)
			}
		case op == 1:
			ref := ids[rng.Intn(len(ids))]
			active := rng.Intn(2) == 0
			doc := doctors[rng.Intn(len(doctors))]
			_, err := svc.UpdateTemplate(ctx, ref.facility, ref.id, UpdateTemplateInput{
				DoctorID:  &doc,
				DayOfWeek: intPtr(rng.Intn(3)),
				IsActive:  &active,
			})
			if err != nil && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
				t.Fatalf("step %d: unexpected update error %v", step, err)
			}
		case op == 2:
			ref := ids[rng.Intn(len(ids))]
			if _, err := svc.DeactivateTemplate(ctx, ref.facility, ref.id); err != nil && !errors.Is(err, ErrNotFound) {
				t.Fatalf("step %d: unexpected deactivate error %v", step, err)
			}
		default:
			ref := ids[rng.Intn(len(ids))]
			if err := svc.DeleteTemplate(ctx, ref.facility, ref.id); err != nil && !errors.Is(err, ErrNotFound) {
				t.Fatalf("step %d: unexpected delete error %v", step, err)
			}
		}
		assertSingleActive(t, repo)
	}
}

func assertSingleActive(t *testing.T, repo *MemoryRepo) {
	t.Helper()
	repo.mu.RLock()
	defer repo.mu.RUnlock()

	type key struct {
		doctor, facility uuid.UUID
		day              int
	}
	seen := make(map[key]uuid.UUID)
	for _, tm := range repo.templates {
		if !tm.IsActive {
			continue
		}
		k := key{tm.DoctorID, tm.FacilityID, tm.DayOfWeek}
		if other, dup := seen[k]; dup {
			t.Fatalf("two active templates %s and %s for doctor %s day %d", other, tm.ID, tm.DoctorID, tm.DayOfWeek)
		}
		seen[k] = tm.ID
	}
}
