package model

import "time"

// NursingRecord is one structured documentation entry. Several records may
// share a RecordedAt; backends must keep list semantics per timestamp slot.
type NursingRecord struct {
	DiagnosisProtocol string    `json:"diagnosis_protocol"`
	Intervention      string    `json:"intervention"`
	Activity          string    `json:"activity"`
	AttributeCode     string    `json:"attribute_code"`
	AttributeValue    string    `json:"attribute_value"`
	DutyShift         string    `json:"duty_shift"`
	RecordedAt        time.Time `json:"recorded_at"`
}
