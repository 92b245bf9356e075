package jsonfile

import (
	"fmt"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/waveform"
)

// patientDocument is the on-disk JSON shape: one document per patient.
// Alarms nest admission ID -> date -> list; nursing records are keyed by
// timestamp and list-valued; waveform channels hold the base64 transport
// form produced by the waveform codec.
type patientDocument struct {
	PatientID        string                           `json:"patient_id"`
	AdmissionPeriods []admissionDoc                   `json:"admission_periods"`
	Alarms           map[string]map[string][]alarmDoc `json:"alarms"`
	Waveforms        map[string]waveformDoc           `json:"waveforms"`
	NursingRecords   map[string][]nursingDoc          `json:"nursing_records"`
}

type admissionDoc struct {
	ID    string  `json:"id"`
	Start string  `json:"start"`
	End   *string `json:"end"`
}

type alarmDoc struct {
	Time           string `json:"time"`
	Color          string `json:"color"`
	Severity       string `json:"severity,omitempty"`
	Label          string `json:"label,omitempty"`
	Classification *bool  `json:"classification"`
	Comment        string `json:"comment"`
	IsView         *bool  `json:"is_view,omitempty"`
}

type waveformDoc struct {
	Channels   map[string]string  `json:"channels"`
	Numeric    map[string]numeric `json:"numeric,omitempty"`
	AlarmLabel string             `json:"alarm_label,omitempty"`
}

type numeric struct {
	Value      float64 `json:"value"`
	AgeSeconds float64 `json:"age_seconds"`
}

type nursingDoc struct {
	DiagnosisProtocol string `json:"diagnosis_protocol"`
	Intervention      string `json:"intervention"`
	Activity          string `json:"activity"`
	AttributeCode     string `json:"attribute_code"`
	AttributeValue    string `json:"attribute_value"`
	DutyShift         string `json:"duty_shift"`
	RecordedAt        string `json:"recorded_at,omitempty"`
}

// toModel normalizes a document into the canonical record shape: labels
// parsed once at this boundary, duplicate alarm timestamps dropped
// first-seen-wins, alarms sorted by time, malformed waveform channels
// decoded to empty sample slices.
func (d *patientDocument) toModel(patientID string) (*model.PatientRecord, error) {
	rec := model.NewPatientRecord(patientID)

	for _, adm := range d.AdmissionPeriods {
		start, err := model.ParseTimestamp(adm.Start)
		if err != nil {
			return nil, fmt.Errorf("failed to parse admission start %q: %w", adm.Start, err)
		}
		period := model.AdmissionPeriod{ID: adm.ID, Start: start}
		if adm.End != nil {
			endTime, err := model.ParseTimestamp(*adm.End)
			if err != nil {
				return nil, fmt.Errorf("failed to parse admission end %q: %w", *adm.End, err)
			}
			period.End = &endTime
		}
		if period.ID == "" {
			period.ID = model.DeriveAdmissionID(period.Start, period.End)
		}
		rec.Admissions = append(rec.Admissions, period)
	}

	for admissionID, byDate := range d.Alarms {
		for date, alarms := range byDate {
			for _, a := range alarms {
				ts, err := model.ParseTimestamp(date + " " + a.Time)
				if err != nil {
					continue
				}
				rec.AddAlarm(admissionID, model.Alarm{
					Timestamp:      ts,
					Color:          model.AlarmColor(a.Color),
					Severity:       a.Severity,
					Labels:         model.ParseAlarmLabels(a.Label),
					Classification: model.ClassificationFromBoolPtr(a.Classification),
					Comment:        a.Comment,
					Visible:        a.IsView,
				})
			}
		}
	}
	for _, byDate := range rec.Alarms {
		for date := range byDate {
			model.SortAlarms(byDate[date])
		}
	}

	for key, wf := range d.Waveforms {
		ts, err := model.ParseTimestamp(key)
		if err != nil {
			continue
		}
		snapshot := &model.Snapshot{
			Timestamp: ts,
			Channels:  make(map[string][]float64, len(wf.Channels)),
			Vitals:    make(map[string]model.Vital, len(wf.Numeric)),
			RawLabels: model.ParseAlarmLabels(wf.AlarmLabel),
		}
		for channel, blob := range wf.Channels {
			snapshot.Channels[channel] = waveform.Decode(blob)
		}
		for name, n := range wf.Numeric {
			snapshot.Vitals[name] = model.Vital{Value: n.Value, AgeSeconds: n.AgeSeconds}
		}
		rec.Waveforms[key] = snapshot
	}

	for key, records := range d.NursingRecords {
		slotTime, err := model.ParseTimestamp(key)
		if err != nil {
			continue
		}
		converted := make([]model.NursingRecord, 0, len(records))
		for _, n := range records {
			recordedAt := slotTime
			if n.RecordedAt != "" {
				if t, err := model.ParseTimestamp(n.RecordedAt); err == nil {
					recordedAt = t
				}
			}
			converted = append(converted, model.NursingRecord{
				DiagnosisProtocol: n.DiagnosisProtocol,
				Intervention:      n.Intervention,
				Activity:          n.Activity,
				AttributeCode:     n.AttributeCode,
				AttributeValue:    n.AttributeValue,
				DutyShift:         n.DutyShift,
				RecordedAt:        recordedAt,
			})
		}
		rec.NursingRecords[key] = converted
	}

	return rec, nil
}

// fromModel is the inverse of toModel. Waveform samples are re-encoded
// through the codec, so a load/flush cycle is byte-stable for well-formed
// channels.
func fromModel(rec *model.PatientRecord) *patientDocument {
	doc := &patientDocument{
		PatientID:        rec.PatientID,
		Alarms:           make(map[string]map[string][]alarmDoc),
		Waveforms:        make(map[string]waveformDoc),
		NursingRecords:   make(map[string][]nursingDoc),
		AdmissionPeriods: make([]admissionDoc, 0, len(rec.Admissions)),
	}

	for _, p := range rec.Admissions {
		adm := admissionDoc{ID: p.ID, Start: p.Start.Format(model.TimestampLayout)}
		if p.End != nil {
			end := p.End.Format(model.TimestampLayout)
			adm.End = &end
		}
		doc.AdmissionPeriods = append(doc.AdmissionPeriods, adm)
	}

	for admissionID, byDate := range rec.Alarms {
		docDates := make(map[string][]alarmDoc, len(byDate))
		for date, alarms := range byDate {
			docAlarms := make([]alarmDoc, 0, len(alarms))
			for _, a := range alarms {
				docAlarms = append(docAlarms, alarmDoc{
					Time:           a.Time(),
					Color:          string(a.Color),
					Severity:       a.Severity,
					Label:          joinLabels(a.Labels),
					Classification: a.Classification.BoolPtr(),
					Comment:        a.Comment,
					IsView:         a.Visible,
				})
			}
			docDates[date] = docAlarms
		}
		doc.Alarms[admissionID] = docDates
	}

	for key, snapshot := range rec.Waveforms {
		wf := waveformDoc{
			Channels:   make(map[string]string, len(snapshot.Channels)),
			Numeric:    make(map[string]numeric, len(snapshot.Vitals)),
			AlarmLabel: joinLabels(snapshot.RawLabels),
		}
		for channel, samples := range snapshot.Channels {
			wf.Channels[channel] = waveform.Encode(samples)
		}
		for name, v := range snapshot.Vitals {
			wf.Numeric[name] = numeric{Value: v.Value, AgeSeconds: v.AgeSeconds}
		}
		doc.Waveforms[key] = wf
	}

	for key, records := range rec.NursingRecords {
		docRecords := make([]nursingDoc, 0, len(records))
		for _, n := range records {
			docRecords = append(docRecords, nursingDoc{
				DiagnosisProtocol: n.DiagnosisProtocol,
				Intervention:      n.Intervention,
				Activity:          n.Activity,
				AttributeCode:     n.AttributeCode,
				AttributeValue:    n.AttributeValue,
				DutyShift:         n.DutyShift,
				RecordedAt:        n.RecordedAt.Format(model.TimestampLayout),
			})
		}
		doc.NursingRecords[key] = docRecords
	}

	return doc
}

func joinLabels(labels []string) string {
	switch len(labels) {
	case 0:
		return ""
	case 1:
		return labels[0]
	}
	joined := labels[0]
	for _, l := range labels[1:] {
		joined += " / " + l
	}
	return joined
}
