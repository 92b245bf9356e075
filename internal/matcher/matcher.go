// Package matcher selects the nursing records documented around an alarm
// timestamp. The window is inclusive on both ends: a record exactly
// window-minutes away still counts as corroborating documentation.
package matcher

import (
	"sort"
	"time"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
)

// DefaultWindowMinutes is the clinical review window around an alarm.
const DefaultWindowMinutes = 30

// Matcher finds nursing records within a fixed time window of a timestamp.
type Matcher struct {
	window time.Duration
}

// New returns a matcher with the given window in minutes. Non-positive
// values fall back to DefaultWindowMinutes.
func New(windowMinutes int) *Matcher {
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	return &Matcher{window: time.Duration(windowMinutes) * time.Minute}
}

// Window returns the configured half-width of the match window.
func (m *Matcher) Window() time.Duration { return m.window }

// Match returns every nursing record in rec whose recorded-at time lies in
// [alarmTime-window, alarmTime+window], flattened across timestamp slots
// and stable-sorted ascending by recorded-at so that records sharing a slot
// keep their stored order.
func (m *Matcher) Match(rec *model.PatientRecord, alarmTime time.Time) []model.NursingRecord {
	if rec == nil || len(rec.NursingRecords) == 0 {
		return nil
	}

	start := alarmTime.Add(-m.window)
	end := alarmTime.Add(m.window)

	// Iterate slots in key order so ties sort deterministically by the
	// stored order within each slot.
	keys := make([]string, 0, len(rec.NursingRecords))
	for key := range rec.NursingRecords {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var matched []model.NursingRecord
	for _, key := range keys {
		slotTime, err := model.ParseTimestamp(key)
		if err != nil {
			continue
		}
		if slotTime.Before(start) || slotTime.After(end) {
			continue
		}
		matched = append(matched, rec.NursingRecords[key]...)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].RecordedAt.Before(matched[j].RecordedAt)
	})
	return matched
}

// Count returns how many records Match would return, without materializing
// the flattened list.
func (m *Matcher) Count(rec *model.PatientRecord, alarmTime time.Time) int {
	if rec == nil {
		return 0
	}
	start := alarmTime.Add(-m.window)
	end := alarmTime.Add(m.window)

	var count int
	for key, records := range rec.NursingRecords {
		slotTime, err := model.ParseTimestamp(key)
		if err != nil {
			continue
		}
		if slotTime.Before(start) || slotTime.After(end) {
			continue
		}
		count += len(records)
	}
	return count
}
