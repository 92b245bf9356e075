package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := model.ParseTimestamp(s)
	require.NoError(t, err)
	return ts
}

func openTestBackend(t *testing.T) *Backend {
	t.Helper()
	backend, err := Open(filepath.Join(t.TempDir(), "alarms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func sampleRecord(t *testing.T) *model.PatientRecord {
	t.Helper()
	start := mustParse(t, "2025-05-01 00:00:00")
	period := model.NewAdmissionPeriod(start, nil)

	rec := model.NewPatientRecord("P1")
	rec.Admissions = []model.AdmissionPeriod{period}
	visible := true
	rec.AddAlarm(period.ID, model.Alarm{
		Timestamp:      mustParse(t, "2025-05-01 02:15:30"),
		Color:          model.ColorRed,
		Severity:       "High",
		Labels:         []string{"ASYSTOLE", "APNEA"},
		Classification: model.ClassificationTrue,
		Comment:        "reviewed",
		Visible:        &visible,
	})
	rec.AddAlarm(period.ID, model.Alarm{
		Timestamp: mustParse(t, "2025-05-02 10:00:00"),
		Color:     model.ColorYellow,
	})
	rec.Waveforms["2025-05-01 02:15:30"] = &model.Snapshot{
		Timestamp: mustParse(t, "2025-05-01 02:15:30"),
		Channels: map[string][]float64{
			model.ChannelABP:    {80.5, 81.25},
			model.ChannelLeadII: {0.1, -0.2},
		},
		Vitals: map[string]model.Vital{"HR": {Value: 142, AgeSeconds: 1.5}},
	}
	rec.NursingRecords["2025-05-01 01:55:22"] = []model.NursingRecord{{
		DiagnosisProtocol: "Dx A",
		Intervention:      "Int B",
		Activity:          "Act C",
		RecordedAt:        mustParse(t, "2025-05-01 01:55:22"),
	}}
	return rec
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	backend := openTestBackend(t)
	ctx := context.Background()

	original := sampleRecord(t)
	require.NoError(t, backend.FlushPatient(ctx, original))

	loaded, err := backend.LoadPatient(ctx, "P1")
	require.NoError(t, err)

	require.Len(t, loaded.Admissions, 1)
	assert.Equal(t, original.Admissions[0].ID, loaded.Admissions[0].ID)

	alarm := loaded.FindAlarm(model.AlarmRef{
		AdmissionID: original.Admissions[0].ID,
		Date:        "2025-05-01",
		Time:        "02:15:30",
	})
	require.NotNil(t, alarm)
	assert.Equal(t, model.ColorRed, alarm.Color)
	assert.Equal(t, []string{"ASYSTOLE", "APNEA"}, alarm.Labels)
	assert.Equal(t, model.ClassificationTrue, alarm.Classification)
	assert.Equal(t, "reviewed", alarm.Comment)
	require.NotNil(t, alarm.Visible)
	assert.True(t, *alarm.Visible)

	snap := loaded.Waveforms["2025-05-01 02:15:30"]
	require.NotNil(t, snap)
	assert.Equal(t, []float64{80.5, 81.25}, snap.Channels[model.ChannelABP])
	assert.Equal(t, []float64{0.1, -0.2}, snap.Channels[model.ChannelLeadII])
	assert.Equal(t, model.Vital{Value: 142, AgeSeconds: 1.5}, snap.Vitals["HR"])

	require.Len(t, loaded.NursingRecords["2025-05-01 01:55:22"], 1)
	assert.Equal(t, "Act C", loaded.NursingRecords["2025-05-01 01:55:22"][0].Activity)
}

func TestWriteClassification(t *testing.T) {
	backend := openTestBackend(t)
	ctx := context.Background()

	rec := sampleRecord(t)
	require.NoError(t, backend.FlushPatient(ctx, rec))

	ref := model.AlarmRef{AdmissionID: rec.Admissions[0].ID, Date: "2025-05-02", Time: "10:00:00"}
	require.NoError(t, backend.WriteClassification(ctx, "P1", ref, model.ClassificationFalse, "noise"))

	loaded, err := backend.LoadPatient(ctx, "P1")
	require.NoError(t, err)
	alarm := loaded.FindAlarm(ref)
	require.NotNil(t, alarm)
	assert.Equal(t, model.ClassificationFalse, alarm.Classification)
	assert.Equal(t, "noise", alarm.Comment)
}

func TestWriteClassificationUnknownRow(t *testing.T) {
	backend := openTestBackend(t)
	ctx := context.Background()
	rec := sampleRecord(t)
	require.NoError(t, backend.FlushPatient(ctx, rec))

	ref := model.AlarmRef{AdmissionID: rec.Admissions[0].ID, Date: "2025-05-02", Time: "23:59:59"}
	assert.ErrorIs(t, backend.WriteClassification(ctx, "P1", ref, model.ClassificationTrue, ""),
		repository.ErrAlarmNotFound)
}

func TestWriteClassificationMissingPatient(t *testing.T) {
	backend := openTestBackend(t)
	ref := model.AlarmRef{AdmissionID: "x", Date: "2025-05-02", Time: "10:00:00"}
	assert.ErrorIs(t, backend.WriteClassification(context.Background(), "absent", ref, model.ClassificationTrue, ""),
		repository.ErrPatientNotFound)
}

func TestListPatientIDsSkipsNursingTables(t *testing.T) {
	backend := openTestBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.FlushPatient(ctx, sampleRecord(t)))
	other := model.NewPatientRecord("P2")
	require.NoError(t, backend.FlushPatient(ctx, other))

	ids, err := backend.ListPatientIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, ids)
}

func TestLoadMissingPatient(t *testing.T) {
	backend := openTestBackend(t)
	_, err := backend.LoadPatient(context.Background(), "absent")
	assert.ErrorIs(t, err, repository.ErrPatientNotFound)
}

func TestTableNameRejectsInjection(t *testing.T) {
	_, err := tableName(`P1"; DROP TABLE x; --`)
	assert.Error(t, err)
	_, err = tableName("")
	assert.Error(t, err)
	quoted, err := tableName("patient-01_a")
	require.NoError(t, err)
	assert.Equal(t, `"patient-01_a"`, quoted)
}
