package model

import "sort"

// PatientRecord is the normalized in-memory form of one patient's data,
// shared by every storage backend. Alarms are grouped by admission ID and
// then by date; nursing records are keyed by their recorded-at timestamp
// string and are list-valued.
type PatientRecord struct {
	PatientID      string
	Admissions     []AdmissionPeriod
	Alarms         map[string]map[string][]Alarm
	Waveforms      map[string]*Snapshot
	NursingRecords map[string][]NursingRecord
}

// NewPatientRecord returns an empty record with initialized maps.
func NewPatientRecord(patientID string) *PatientRecord {
	return &PatientRecord{
		PatientID:      patientID,
		Alarms:         make(map[string]map[string][]Alarm),
		Waveforms:      make(map[string]*Snapshot),
		NursingRecords: make(map[string][]NursingRecord),
	}
}

// AdmissionByID looks up an admission period, treating DefaultAdmissionID
// as always present.
func (r *PatientRecord) AdmissionByID(id string) (AdmissionPeriod, bool) {
	for _, p := range r.Admissions {
		if p.ID == id {
			return p, true
		}
	}
	if id == DefaultAdmissionID {
		return DefaultAdmissionPeriod(), true
	}
	return AdmissionPeriod{}, false
}

// FindAlarm returns a pointer to the alarm addressed by ref, or nil. The
// pointer aliases the record's backing slice so classification writes are
// visible to subsequent reads.
func (r *PatientRecord) FindAlarm(ref AlarmRef) *Alarm {
	byDate, ok := r.Alarms[ref.AdmissionID]
	if !ok {
		return nil
	}
	alarms, ok := byDate[ref.Date]
	if !ok {
		return nil
	}
	for i := range alarms {
		if alarms[i].Time() == ref.Time {
			return &alarms[i]
		}
	}
	return nil
}

// AddAlarm appends an alarm under its admission and date slot, dropping
// exact-timestamp duplicates first-seen-wins.
func (r *PatientRecord) AddAlarm(admissionID string, alarm Alarm) {
	byDate, ok := r.Alarms[admissionID]
	if !ok {
		byDate = make(map[string][]Alarm)
		r.Alarms[admissionID] = byDate
	}
	date := alarm.Date()
	for _, existing := range byDate[date] {
		if existing.Timestamp.Equal(alarm.Timestamp) {
			return
		}
	}
	byDate[date] = append(byDate[date], alarm)
}

// Stats counts labeled and total alarms across all admissions and dates.
func (r *PatientRecord) Stats() AlarmStats {
	var stats AlarmStats
	for _, byDate := range r.Alarms {
		for _, alarms := range byDate {
			for _, a := range alarms {
				stats.Total++
				if a.Classification.IsSet() {
					stats.Labeled++
				}
			}
		}
	}
	return stats
}

// Summary reports per-patient entity counts.
func (r *PatientRecord) Summary() PatientSummary {
	var nursing int
	for _, records := range r.NursingRecords {
		nursing += len(records)
	}
	return PatientSummary{
		Admissions:     len(r.Admissions),
		Alarms:         r.Stats().Total,
		NursingRecords: nursing,
		Waveforms:      len(r.Waveforms),
	}
}

// PatientSummary is the per-patient slice of a DataSummary.
type PatientSummary struct {
	Admissions     int `json:"admissions"`
	Alarms         int `json:"alarms"`
	NursingRecords int `json:"nursing_records"`
	Waveforms      int `json:"waveforms"`
}

// DataSummary aggregates entity counts over every patient in a store.
type DataSummary struct {
	TotalPatients int                       `json:"total_patients"`
	Patients      map[string]PatientSummary `json:"patients"`
}

// SortAlarms orders alarms by timestamp ascending, preserving insertion
// order for equal timestamps.
func SortAlarms(alarms []Alarm) {
	sort.SliceStable(alarms, func(i, j int) bool {
		return alarms[i].Timestamp.Before(alarms[j].Timestamp)
	})
}
