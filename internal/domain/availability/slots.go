package availability

import (
	"sort"
	"time"
)

// DeriveSlots computes the bookable slots a template offers on date. It reads
// the template only and returns an empty result, never an error, when the
// template does not apply: nil or inactive, another weekday, outside the
// effective range, or a non-positive slot length.
//
// Slots step from StartTime by SlotDuration minutes. A slot is emitted only if
// it ends at or before EndTime, so a trailing remainder shorter than one slot
// is dropped. At most MaxPatients slots are produced.
func DeriveSlots(t *Template, date time.Time) []Slot {
	slots := []Slot{}
	if t == nil || !t.IsActive || t.SlotDuration <= 0 || t.MaxPatients <= 0 {
		return slots
	}
	day := NewDate(date)
	if day.Weekday() != t.Weekday() || !t.EffectiveOn(day) {
		return slots
	}

	for cursor := t.StartTime; cursor.Add(t.SlotDuration) <= t.EndTime; cursor = cursor.Add(t.SlotDuration) {
		if len(slots) >= t.MaxPatients {
			break
		}
		slots = append(slots, Slot{
			Date:          day,
			StartTime:     cursor,
			EndTime:       cursor.Add(t.SlotDuration),
			DoctorID:      t.DoctorID,
			FacilityID:    t.FacilityID,
			TemplateID:    t.ID,
			SequenceIndex: len(slots),
		})
	}
	return slots
}

// DeriveSlotsForDate derives slots for every template and merges them in
// start-time order. Ties keep doctor id order so repeated calls agree.
func DeriveSlotsForDate(templates []*Template, date time.Time) []Slot {
	all := []Slot{}
	for _, t := range templates {
		all = append(all, DeriveSlots(t, date)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].StartTime != all[j].StartTime {
			return all[i].StartTime < all[j].StartTime
		}
		return all[i].DoctorID.String() < all[j].DoctorID.String()
	})
	return all
}
