package availability

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrConflict   = errors.New("availability conflict")
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports malformed input. It matches ErrValidation.
type ValidationError struct {
	Problems []string
}

func newValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports that the doctor already has an active template for
// the day at the facility. It matches ErrConflict.
type ConflictError struct {
	DoctorID   uuid.UUID
	FacilityID uuid.UUID
	Day        time.Weekday
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("Doctor already has a schedule for %s", e.Day)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StoreError wraps a persistence failure so callers can tell it apart from a
// business-rule rejection.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
