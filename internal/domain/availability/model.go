package availability

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultSlotDuration = 15
	MinSlotDuration     = 5
	MaxSlotDuration     = 24 * 60
	DefaultMaxPatients  = 20
	MinMaxPatients      = 1
)

// Template maps to the availability_template table: a doctor's recurring
// weekly availability at one facility for one weekday.
type Template struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	DoctorID      uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	FacilityID    uuid.UUID  `db:"facility_id" json:"facility_id"`
	DayOfWeek     int        `db:"day_of_week" json:"day_of_week"`
	StartTime     Clock      `db:"start_time" json:"start_time"`
	EndTime       Clock      `db:"end_time" json:"end_time"`
	SlotDuration  int        `db:"slot_duration" json:"slot_duration"`
	MaxPatients   int        `db:"max_patients" json:"max_patients"`
	Department    *string    `db:"department" json:"department,omitempty"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	EffectiveFrom *Date      `db:"effective_from" json:"effective_from,omitempty"`
	EffectiveTo   *Date      `db:"effective_to" json:"effective_to,omitempty"`
	Notes         *string    `db:"notes" json:"notes,omitempty"`
	Doctor        *DoctorRef `db:"-" json:"doctor,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Weekday returns the template's day as a time.Weekday.
func (t *Template) Weekday() time.Weekday { return time.Weekday(t.DayOfWeek) }

// EffectiveOn reports whether d falls inside the optional effective bounds.
func (t *Template) EffectiveOn(d Date) bool {
	if t.EffectiveFrom != nil && d.Before(*t.EffectiveFrom) {
		return false
	}
	if t.EffectiveTo != nil && t.EffectiveTo.Before(d) {
		return false
	}
	return true
}

// DoctorRef is the staff-directory view of a doctor.
type DoctorRef struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
}

// Slot is a bookable window derived from a template for one date. It is never
// stored.
type Slot struct {
	Date          Date      `json:"date"`
	StartTime     Clock     `json:"start_time"`
	EndTime       Clock     `json:"end_time"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	FacilityID    uuid.UUID `json:"facility_id"`
	TemplateID    uuid.UUID `json:"template_id"`
	SequenceIndex int       `json:"sequence_index"`
}

// Clock is a wall-clock time of day in whole minutes since midnight.
type Clock int

// NewClock builds a Clock from an hour and minute.
func NewClock(hour, minute int) Clock { return Clock(hour*60 + minute) }

// ParseClock accepts "HH:MM" or "HH:MM:SS". Seconds must be zero: slots are
// computed in whole minutes.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec != 0 {
			return 0, fmt.Errorf("invalid time %q: sub-minute precision is not supported", s)
		}
	}
	return NewClock(h, m), nil
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

// Add returns the clock shifted by the given number of minutes.
func (c Clock) Add(minutes int) Clock { return c + Clock(minutes) }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// Duration converts the clock to an offset from midnight.
func (c Clock) Duration() time.Duration { return time.Duration(c) * time.Minute }

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time must be a string in HH:MM format")
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

const dateLayout = "2006-01-02"

// Date is a calendar date without time of day, held at UTC midnight.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date in t's own location.
func NewDate(t time.Time) Date {
	return Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return NewDate(t), nil
}

func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }
func (d Date) Equal(o Date) bool  { return d.Time.Equal(o.Time) }

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string in YYYY-MM-DD format")
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
