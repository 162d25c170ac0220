package availability

import "github.com/google/uuid"

// DoctorGroup is one doctor's slice of a template listing.
type DoctorGroup struct {
	Doctor    DoctorRef   `json:"doctor"`
	Schedules []*Template `json:"schedules"`
}

// GroupByDoctor buckets templates by doctor. Groups appear in the order their
// doctor first occurs in the input and each group keeps the input order.
func GroupByDoctor(templates []*Template) []DoctorGroup {
	groups := []DoctorGroup{}
	index := make(map[uuid.UUID]int)
	for _, t := range templates {
		i, ok := index[t.DoctorID]
		if !ok {
			ref := DoctorRef{ID: t.DoctorID}
			if t.Doctor != nil {
				ref = *t.Doctor
			}
			i = len(groups)
			index[t.DoctorID] = i
			groups = append(groups, DoctorGroup{Doctor: ref, Schedules: []*Template{}})
		}
		groups[i].Schedules = append(groups[i].Schedules, t)
	}
	return groups
}
