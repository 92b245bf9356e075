package model

import (
	"strings"
	"time"
)

// Timestamp layouts used across all storage backends. Upstream exports are
// not always second-aligned, so parsing goes through ParseTimestamp rather
// than time.Parse with a single layout.
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
	TimestampLayout = DateLayout + " " + TimeLayout
)

// Classification is the tri-state review label attached to an alarm.
type Classification string

const (
	ClassificationUnset Classification = ""
	ClassificationTrue  Classification = "true"
	ClassificationFalse Classification = "false"
)

// IsSet reports whether the alarm has been labeled.
func (c Classification) IsSet() bool {
	return c == ClassificationTrue || c == ClassificationFalse
}

// BoolPtr converts the tri-state to the nullable boolean used by the
// storage backends. Unset maps to nil.
func (c Classification) BoolPtr() *bool {
	switch c {
	case ClassificationTrue:
		b := true
		return &b
	case ClassificationFalse:
		b := false
		return &b
	}
	return nil
}

// ClassificationFromBoolPtr is the inverse of BoolPtr.
func ClassificationFromBoolPtr(b *bool) Classification {
	if b == nil {
		return ClassificationUnset
	}
	if *b {
		return ClassificationTrue
	}
	return ClassificationFalse
}

// AlarmColor is the severity color emitted by the bedside monitor.
type AlarmColor string

const (
	ColorRed         AlarmColor = "Red"
	ColorYellow      AlarmColor = "Yellow"
	ColorShortYellow AlarmColor = "ShortYellow"
	ColorSevereCyan  AlarmColor = "SevereCyan"
	ColorCyan        AlarmColor = "Cyan"
	ColorSilentCyan  AlarmColor = "SilentCyan"
	ColorWhite       AlarmColor = "White"
)

// AlarmColorHex maps severity colors to their display hex codes.
var AlarmColorHex = map[AlarmColor]string{
	ColorRed:         "#FF0000",
	ColorYellow:      "#FFFF00",
	ColorShortYellow: "#FFFF00",
	ColorSevereCyan:  "#00FFFF",
	ColorCyan:        "#00FFFF",
	ColorSilentCyan:  "#00FFFF",
	ColorWhite:       "#FFFFFF",
}

// Alarm is a single monitor-generated event. Identity within a patient is
// the timestamp; duplicates are dropped first-seen-wins at load time.
type Alarm struct {
	Timestamp      time.Time
	Color          AlarmColor
	Severity       string
	Labels         []string
	Classification Classification
	Comment        string
	// Visible carries the raw isView flag where the backend stores one.
	// nil means the flag is absent from the source data.
	Visible *bool
}

// Date returns the alarm's date component as stored.
func (a Alarm) Date() string { return a.Timestamp.Format(DateLayout) }

// Time returns the alarm's time-of-day component as stored.
func (a Alarm) Time() string { return a.Timestamp.Format(TimeLayout) }

// AlarmRef addresses one alarm inside a patient record.
type AlarmRef struct {
	AdmissionID string
	Date        string
	Time        string
}

// Annotation is the classification state read back for one alarm.
type Annotation struct {
	Classification Classification `json:"classification"`
	Comment        string         `json:"comment"`
}

// AlarmStats summarizes labeling progress for one patient.
type AlarmStats struct {
	Labeled int `json:"labeled"`
	Total   int `json:"total"`
}

// ParseAlarmLabels normalizes a raw device label field into an ordered list
// of non-empty trimmed strings. The raw field is slash-separated and may
// contain placeholder tokens from earlier export stages.
func ParseAlarmLabels(raw string) []string {
	if raw == "" {
		return nil
	}
	var labels []string
	for _, part := range strings.Split(raw, "/") {
		label := strings.TrimSpace(part)
		if label == "" || label == "None" || label == "[]" {
			continue
		}
		labels = append(labels, label)
	}
	return labels
}

// NormalizeLabel canonicalizes an alarm label for set membership checks:
// lowercase, trimmed, all internal whitespace removed.
func NormalizeLabel(label string) string {
	lower := strings.ToLower(strings.TrimSpace(label))
	return strings.Join(strings.Fields(lower), "")
}

// ParseTimestamp parses a backend timestamp string, tolerating fractional
// seconds and date-only values.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range []string{
		TimestampLayout,
		TimestampLayout + ".000000",
		TimestampLayout + ".000",
		time.RFC3339,
		DateLayout,
	} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
