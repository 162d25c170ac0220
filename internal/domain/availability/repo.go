package availability

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows ListTemplates. Nil fields do not filter.
type ListFilter struct {
	DoctorID        *uuid.UUID
	DayOfWeek       *int
	Department      *string
	IncludeInactive bool
}

// TemplateRepository persists availability templates. Every method is scoped
// to a facility; a record outside the facility behaves as missing.
//
// Create and Update must return a *ConflictError when the write would leave
// two active templates for the same (doctor, day, facility).
type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, facilityID, id uuid.UUID) (*Template, error)
	FindActive(ctx context.Context, facilityID, doctorID uuid.UUID, day int) (*Template, error)
	Update(ctx context.Context, t *Template) error
	Delete(ctx context.Context, facilityID, id uuid.UUID) error
	List(ctx context.Context, facilityID uuid.UUID, f ListFilter) ([]*Template, error)
	ListDoctors(ctx context.Context, facilityID uuid.UUID) ([]DoctorRef, error)
}
