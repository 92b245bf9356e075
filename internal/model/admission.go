package model

import "time"

const (
	// DefaultAdmissionID identifies the synthetic period returned when a
	// patient has no admission data, so downstream consumers never see an
	// empty admission list.
	DefaultAdmissionID = "default"

	ongoingSuffix     = "ongoing"
	admissionIDLayout = "20060102"
)

// AdmissionPeriod is one contiguous hospital stay. End is nil while the
// admission is still open.
type AdmissionPeriod struct {
	ID    string     `json:"id"`
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

// NewAdmissionPeriod builds a period with its deterministic ID, so repeated
// loads of the same raw admission fields always produce the same ID.
func NewAdmissionPeriod(start time.Time, end *time.Time) AdmissionPeriod {
	return AdmissionPeriod{
		ID:    DeriveAdmissionID(start, end),
		Start: start,
		End:   end,
	}
}

// DeriveAdmissionID encodes (start, end) as "YYYYMMDD-YYYYMMDD", with the
// end half replaced by "ongoing" for an open admission.
func DeriveAdmissionID(start time.Time, end *time.Time) string {
	if end == nil {
		return start.Format(admissionIDLayout) + "-" + ongoingSuffix
	}
	return start.Format(admissionIDLayout) + "-" + end.Format(admissionIDLayout)
}

// DefaultAdmissionPeriod is the synthetic open period used when a patient
// record carries no admission data. It contains every timestamp.
func DefaultAdmissionPeriod() AdmissionPeriod {
	return AdmissionPeriod{ID: DefaultAdmissionID}
}

// Ongoing reports whether the admission has no end date.
func (p AdmissionPeriod) Ongoing() bool { return p.End == nil }

// Contains reports whether t falls inside the period. The window is
// [start, end); an ongoing admission matches anything at or after start.
// The synthetic default period contains every timestamp.
func (p AdmissionPeriod) Contains(t time.Time) bool {
	if p.ID == DefaultAdmissionID && p.Start.IsZero() {
		return true
	}
	if t.Before(p.Start) {
		return false
	}
	if p.End == nil {
		return true
	}
	return t.Before(*p.End)
}
