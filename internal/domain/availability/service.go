package availability

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateTemplateInput is the payload for CreateTemplate. The facility comes
// from the caller's context and is never read from the payload.
type CreateTemplateInput struct {
	DoctorID      *uuid.UUID `json:"doctor_id" validate:"required"`
	DayOfWeek     *int       `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime     *Clock     `json:"start_time" validate:"required"`
	EndTime       *Clock     `json:"end_time" validate:"required"`
	SlotDuration  *int       `json:"slot_duration" validate:"omitempty,min=5,max=1440"`
	MaxPatients   *int       `json:"max_patients" validate:"omitempty,min=1"`
	Department    *string    `json:"department" validate:"omitempty,max=100"`
	EffectiveFrom *Date      `json:"effective_from"`
	EffectiveTo   *Date      `json:"effective_to"`
	Notes         *string    `json:"notes" validate:"omitempty,max=1000"`
}

// UpdateTemplateInput is a partial update. Nil fields are left unchanged.
type UpdateTemplateInput struct {
	DoctorID      *uuid.UUID `json:"doctor_id"`
	DayOfWeek     *int       `json:"day_of_week" validate:"omitempty,min=0,max=6"`
	StartTime     *Clock     `json:"start_time"`
	EndTime       *Clock     `json:"end_time"`
	SlotDuration  *int       `json:"slot_duration" validate:"omitempty,min=5,max=1440"`
	MaxPatients   *int       `json:"max_patients" validate:"omitempty,min=1"`
	Department    *string    `json:"department" validate:"omitempty,max=100"`
	IsActive      *bool      `json:"is_active"`
	EffectiveFrom *Date      `json:"effective_from"`
	EffectiveTo   *Date      `json:"effective_to"`
	Notes         *string    `json:"notes" validate:"omitempty,max=1000"`
}

// TemplateList is the ListTemplates result: the flat list and the same
// records grouped by doctor.
type TemplateList struct {
	Data    []*Template   `json:"data"`
	Grouped []DoctorGroup `json:"grouped"`
}

// Options tunes Service behaviour.
type Options struct {
	// ListFailOpen makes ListTemplates answer an empty list instead of an
	// error when the store fails. The failure is logged either way.
	ListFailOpen bool
}

// Service is the availability registry.
type Service struct {
	repo         TemplateRepository
	logger       zerolog.Logger
	validate     *validator.Validate
	listFailOpen bool
}

func NewService(repo TemplateRepository, logger zerolog.Logger, opts Options) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		repo:         repo,
		logger:       logger.With().Str("component", "availability").Logger(),
		validate:     v,
		listFailOpen: opts.ListFailOpen,
	}
}

func (s *Service) CreateTemplate(ctx context.Context, facilityID uuid.UUID, in CreateTemplateInput) (*Template, error) {
	if facilityID == uuid.Nil {
		return nil, newValidationError("facility is required")
	}
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	if *in.DoctorID == uuid.Nil {
		return nil, newValidationError("doctor_id is required")
	}

	t := &Template{
		DoctorID:      *in.DoctorID,
		FacilityID:    facilityID,
		DayOfWeek:     *in.DayOfWeek,
		StartTime:     *in.StartTime,
		EndTime:       *in.EndTime,
		SlotDuration:  DefaultSlotDuration,
		MaxPatients:   DefaultMaxPatients,
		Department:    in.Department,
		IsActive:      true,
		EffectiveFrom: in.EffectiveFrom,
		EffectiveTo:   in.EffectiveTo,
		Notes:         in.Notes,
	}
	if in.SlotDuration != nil {
		t.SlotDuration = *in.SlotDuration
	}
	if in.MaxPatients != nil {
		t.MaxPatients = *in.MaxPatients
	}
	if err := validateTemplate(t); err != nil {
		return nil, err
	}

	if err := s.checkConflict(ctx, t); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, s.writeFailed("create", t, err)
	}
	s.logger.Info().
		Str("template_id", t.ID.String()).
		Str("doctor_id", t.DoctorID.String()).
		Str("facility_id", t.FacilityID.String()).
		Int("day_of_week", t.DayOfWeek).
		Msg("availability template created")
	return t, nil
}

// ListTemplates returns the facility's templates ordered by weekday then
// start time. Store failures are logged; with ListFailOpen they yield an
// empty result.
func (s *Service) ListTemplates(ctx context.Context, facilityID uuid.UUID, f ListFilter) (*TemplateList, error) {
	if f.DayOfWeek != nil && (*f.DayOfWeek < 0 || *f.DayOfWeek > 6) {
		return nil, newValidationError("day_of_week must be between 0 and 6")
	}
	items, err := s.repo.List(ctx, facilityID, f)
	if err != nil {
		s.logger.Error().Err(err).
			Str("facility_id", facilityID.String()).
			Bool("fail_open", s.listFailOpen).
			Msg("list availability templates failed")
		if s.listFailOpen {
			return &TemplateList{Data: []*Template{}, Grouped: []DoctorGroup{}}, nil
		}
		return nil, storeErr("list availability templates", err)
	}
	return &TemplateList{Data: items, Grouped: GroupByDoctor(items)}, nil
}

func (s *Service) GetTemplate(ctx context.Context, facilityID, id uuid.UUID) (*Template, error) {
	t, err := s.repo.GetByID(ctx, facilityID, id)
	if err != nil {
		return nil, s.readFailed("get", id, err)
	}
	return t, nil
}

// UpdateTemplate applies the supplied fields to an existing template. When the
// result is active and its doctor, day or active flag changed, the
// one-active-template rule is checked again.
func (s *Service) UpdateTemplate(ctx context.Context, facilityID, id uuid.UUID, in UpdateTemplateInput) (*Template, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	existing, err := s.repo.GetByID(ctx, facilityID, id)
	if err != nil {
		return nil, s.readFailed("update", id, err)
	}

	merged := *existing
	if in.DoctorID != nil {
		if *in.DoctorID == uuid.Nil {
			return nil, newValidationError("doctor_id must not be empty")
		}
		merged.DoctorID = *in.DoctorID
	}
	if in.DayOfWeek != nil {
		merged.DayOfWeek = *in.DayOfWeek
	}
	if in.StartTime != nil {
		merged.StartTime = *in.StartTime
	}
	if in.EndTime != nil {
		merged.EndTime = *in.EndTime
	}
	if in.SlotDuration != nil {
		merged.SlotDuration = *in.SlotDuration
	}
	if in.MaxPatients != nil {
		merged.MaxPatients = *in.MaxPatients
	}
	if in.Department != nil {
		merged.Department = in.Department
	}
	if in.IsActive != nil {
		merged.IsActive = *in.IsActive
	}
	if in.EffectiveFrom != nil {
		merged.EffectiveFrom = in.EffectiveFrom
	}
	if in.EffectiveTo != nil {
		merged.EffectiveTo = in.EffectiveTo
	}
	if in.Notes != nil {
		merged.Notes = in.Notes
	}
	if err := validateTemplate(&merged); err != nil {
		return nil, err
	}

	changedSlot := merged.DoctorID != existing.DoctorID ||
		merged.DayOfWeek != existing.DayOfWeek ||
		merged.IsActive != existing.IsActive
	if merged.IsActive && changedSlot {
		if err := s.checkConflict(ctx, &merged); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, &merged); err != nil {
		return nil, s.writeFailed("update", &merged, err)
	}
	// Re-read so the doctor reference matches the stored doctor_id.
	updated, err := s.repo.GetByID(ctx, facilityID, id)
	if err != nil {
		return nil, s.readFailed("update", id, err)
	}
	return updated, nil
}

// DeactivateTemplate marks a template inactive. It stays readable with
// include_inactive but stops producing slots and blocking new templates.
func (s *Service) DeactivateTemplate(ctx context.Context, facilityID, id uuid.UUID) (*Template, error) {
	inactive := false
	return s.UpdateTemplate(ctx, facilityID, id, UpdateTemplateInput{IsActive: &inactive})
}

func (s *Service) DeleteTemplate(ctx context.Context, facilityID, id uuid.UUID) error {
	if _, err := s.repo.GetByID(ctx, facilityID, id); err != nil {
		return s.readFailed("delete", id, err)
	}
	if err := s.repo.Delete(ctx, facilityID, id); err != nil {
		return s.readFailed("delete", id, err)
	}
	s.logger.Info().Str("template_id", id.String()).Str("facility_id", facilityID.String()).
		Msg("availability template deleted")
	return nil
}

// ListDoctorsWithTemplates returns the doctors holding at least one active
// template in the facility, ordered by last then first name.
func (s *Service) ListDoctorsWithTemplates(ctx context.Context, facilityID uuid.UUID) ([]DoctorRef, error) {
	doctors, err := s.repo.ListDoctors(ctx, facilityID)
	if err != nil {
		s.logger.Error().Err(err).Str("facility_id", facilityID.String()).Msg("list doctors with availability failed")
		return nil, storeErr("list doctors with availability", err)
	}
	return doctors, nil
}

// TemplateSlots derives the slots of one stored template for date.
func (s *Service) TemplateSlots(ctx context.Context, facilityID, id uuid.UUID, date Date) ([]Slot, error) {
	t, err := s.GetTemplate(ctx, facilityID, id)
	if err != nil {
		return nil, err
	}
	return DeriveSlots(t, date.Time), nil
}

// SlotsForDate derives slots for every active template of the facility that
// falls on date's weekday, optionally narrowed to one doctor.
func (s *Service) SlotsForDate(ctx context.Context, facilityID uuid.UUID, date Date, doctorID *uuid.UUID) ([]Slot, error) {
	day := int(date.Weekday())
	items, err := s.repo.List(ctx, facilityID, ListFilter{DoctorID: doctorID, DayOfWeek: &day})
	if err != nil {
		s.logger.Error().Err(err).Str("facility_id", facilityID.String()).Str("date", date.String()).
			Msg("derive slots for date failed")
		return nil, storeErr("list availability templates", err)
	}
	return DeriveSlotsForDate(items, date.Time), nil
}

func (s *Service) checkConflict(ctx context.Context, t *Template) error {
	found, err := s.repo.FindActive(ctx, t.FacilityID, t.DoctorID, t.DayOfWeek)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("availability conflict check failed")
		return storeErr("check availability conflict", err)
	}
	if found.ID == t.ID {
		return nil
	}
	s.logger.Warn().
		Str("doctor_id", t.DoctorID.String()).
		Str("facility_id", t.FacilityID.String()).
		Str("day", t.Weekday().String()).
		Str("existing_id", found.ID.String()).
		Msg("availability conflict")
	return &ConflictError{DoctorID: t.DoctorID, FacilityID: t.FacilityID, Day: t.Weekday()}
}

func (s *Service) writeFailed(op string, t *Template, err error) error {
	switch {
	case errors.Is(err, ErrConflict):
		s.logger.Warn().Err(err).Str("doctor_id", t.DoctorID.String()).Str("op", op).
			Msg("availability conflict on write")
		return err
	case errors.Is(err, ErrNotFound):
		return err
	}
	s.logger.Error().Err(err).Str("op", op).Str("template_id", t.ID.String()).
		Msg("availability store write failed")
	return storeErr(op+" availability template", err)
}

func (s *Service) readFailed(op string, id uuid.UUID, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	s.logger.Error().Err(err).Str("op", op).Str("template_id", id.String()).
		Msg("availability store failed")
	return storeErr(op+" availability template", err)
}

func (s *Service) validateInput(in interface{}) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newValidationError(err.Error())
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fieldProblem(fe))
	}
	return newValidationError(problems...)
}

func fieldProblem(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

// validateTemplate checks the cross-field rules struct tags cannot express.
// It runs on the complete record, so partial updates are checked after the
// merge.
func validateTemplate(t *Template) error {
	var problems []string
	if t.DayOfWeek < int(time.Sunday) || t.DayOfWeek > int(time.Saturday) {
		problems = append(problems, "day_of_week must be between 0 and 6")
	}
	if t.StartTime < 0 || t.EndTime > NewClock(24, 0) {
		problems = append(problems, "start_time and end_time must fall within the day")
	}
	if t.StartTime >= t.EndTime {
		problems = append(problems, "start_time must be before end_time")
	}
	if t.SlotDuration < MinSlotDuration || t.SlotDuration > MaxSlotDuration {
		problems = append(problems, fmt.Sprintf("slot_duration must be between %d and %d minutes", MinSlotDuration, MaxSlotDuration))
	}
	if t.MaxPatients < MinMaxPatients {
		problems = append(problems, fmt.Sprintf("max_patients must be at least %d", MinMaxPatients))
	}
	if t.EffectiveFrom != nil && t.EffectiveTo != nil && t.EffectiveTo.Before(*t.EffectiveFrom) {
		problems = append(problems, "effective_from must not be after effective_to")
	}
	if len(problems) > 0 {
		return newValidationError(problems...)
	}
	return nil
}
