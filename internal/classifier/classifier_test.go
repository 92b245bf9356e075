package classifier

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository/memory"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/store"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/logger"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := model.ParseTimestamp(s)
	require.NoError(t, err)
	return ts
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "dxacode1", Normalize(" Dx A (code1) "))
	assert.Equal(t, "dxacode1", Normalize("dx a(code1)"))
	assert.Equal(t, "", Normalize("  ( ) "))
}

func TestNormalizationEquivalence(t *testing.T) {
	table := NewReferenceTable([][]string{
		{"Dx A(code1)", "Int B(code2)", "Act C", "AC1", "Val X"},
	})
	rec := model.NursingRecord{
		DiagnosisProtocol: " dx a (code1) ",
		Intervention:      "int b(code2)",
		Activity:          "ACT C",
		AttributeCode:     "ac1",
		AttributeValue:    "val  x",
	}
	assert.True(t, table.Matches(rec))

	rec.AttributeValue = "other"
	assert.False(t, table.Matches(rec))
}

func TestLoadReferenceTableTSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.tsv")
	content := "diagnosis\tintervention\tactivity\tattribute_code\tattribute_value\n" +
		"Dx A\tInt B\tAct C\tAC1\tVal X\n" +
		"Dx D\tInt E\tAct F\tAC2\tVal Y\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := LoadReferenceTable(path)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.True(t, table.Matches(model.NursingRecord{
		DiagnosisProtocol: "dx a", Intervention: "int b", Activity: "act c",
		AttributeCode: "ac1", AttributeValue: "val x",
	}))
}

func TestLoadReferenceTableMissingFile(t *testing.T) {
	table, err := LoadReferenceTable(filepath.Join(t.TempDir(), "absent.tsv"))
	require.NoError(t, err)
	assert.Zero(t, table.Len())
}

func seedStore(t *testing.T, nursing model.NursingRecord) (*store.Store, string) {
	t.Helper()
	backend := memory.New()
	period := model.NewAdmissionPeriod(mustParse(t, "2025-05-01 00:00:00"), nil)

	rec := model.NewPatientRecord("P1")
	rec.Admissions = []model.AdmissionPeriod{period}
	rec.AddAlarm(period.ID, model.Alarm{
		Timestamp: mustParse(t, "2025-05-01 02:15:30"),
		Color:     model.ColorRed,
	})
	key := nursing.RecordedAt.Format(model.TimestampLayout)
	rec.NursingRecords[key] = []model.NursingRecord{nursing}
	backend.Seed(rec)

	s := store.New(backend, store.Config{WindowMinutes: 30}, testLogger(), metrics.New("test"))
	return s, period.ID
}

func matchingNursingRecord(t *testing.T) model.NursingRecord {
	t.Helper()
	return model.NursingRecord{
		DiagnosisProtocol: "Dx A(code1)",
		Intervention:      "Int B",
		Activity:          "Act C",
		AttributeCode:     "AC1",
		AttributeValue:    "Val X",
		RecordedAt:        mustParse(t, "2025-05-01 01:55:22"),
	}
}

func referenceTable() *ReferenceTable {
	return NewReferenceTable([][]string{
		{" dx a (code1) ", "int b", "act c", "ac1", "val x"},
	})
}

func TestRunClassifiesTrueOnMatch(t *testing.T) {
	s, admissionID := seedStore(t, matchingNursingRecord(t))
	engine := NewEngine(s, referenceTable(), testLogger(), metrics.New("test"))
	ctx := context.Background()

	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.TrueCount)
	assert.Zero(t, report.FalseCount)
	assert.Zero(t, report.Failures)

	ann := s.GetClassification(ctx, "P1", model.AlarmRef{
		AdmissionID: admissionID, Date: "2025-05-01", Time: "02:15:30",
	})
	assert.Equal(t, model.ClassificationTrue, ann.Classification)
	assert.Empty(t, ann.Comment)

	assert.Equal(t, model.AlarmStats{Labeled: 1, Total: 1}, s.GetAlarmStats(ctx, "P1"))
}

func TestRunClassifiesFalseWithoutMatch(t *testing.T) {
	nursing := matchingNursingRecord(t)
	nursing.AttributeValue = "unrelated"
	s, admissionID := seedStore(t, nursing)
	engine := NewEngine(s, referenceTable(), testLogger(), metrics.New("test"))
	ctx := context.Background()

	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.FalseCount)

	ann := s.GetClassification(ctx, "P1", model.AlarmRef{
		AdmissionID: admissionID, Date: "2025-05-01", Time: "02:15:30",
	})
	assert.Equal(t, model.ClassificationFalse, ann.Classification)
}

func TestRunClassifiesFalseOutsideWindow(t *testing.T) {
	nursing := matchingNursingRecord(t)
	// 31 minutes before the alarm, outside the match window.
	nursing.RecordedAt = mustParse(t, "2025-05-01 01:44:30")
	s, admissionID := seedStore(t, nursing)
	engine := NewEngine(s, referenceTable(), testLogger(), metrics.New("test"))

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	ann := s.GetClassification(context.Background(), "P1", model.AlarmRef{
		AdmissionID: admissionID, Date: "2025-05-01", Time: "02:15:30",
	})
	assert.Equal(t, model.ClassificationFalse, ann.Classification)
}

func TestRunIdempotent(t *testing.T) {
	s, _ := seedStore(t, matchingNursingRecord(t))
	engine := NewEngine(s, referenceTable(), testLogger(), metrics.New("test"))
	ctx := context.Background()

	first, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Processed)

	second, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
}

func TestRunNeverOverwritesManualLabel(t *testing.T) {
	s, admissionID := seedStore(t, matchingNursingRecord(t))
	ctx := context.Background()
	ref := model.AlarmRef{AdmissionID: admissionID, Date: "2025-05-01", Time: "02:15:30"}
	require.True(t, s.SetClassification(ctx, "P1", ref, model.ClassificationFalse, "manual"))

	engine := NewEngine(s, referenceTable(), testLogger(), metrics.New("test"))
	report, err := engine.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	ann := s.GetClassification(ctx, "P1", ref)
	assert.Equal(t, model.ClassificationFalse, ann.Classification)
	assert.Equal(t, "manual", ann.Comment)
}

func TestRunEmptyReferenceTable(t *testing.T) {
	s, admissionID := seedStore(t, matchingNursingRecord(t))
	engine := NewEngine(s, NewReferenceTable(nil), testLogger(), metrics.New("test"))

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.FalseCount)

	ann := s.GetClassification(context.Background(), "P1", model.AlarmRef{
		AdmissionID: admissionID, Date: "2025-05-01", Time: "02:15:30",
	})
	assert.Equal(t, model.ClassificationFalse, ann.Classification)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := seedStore(t, matchingNursingRecord(t))
	engine := NewEngine(s, referenceTable(), testLogger(), metrics.New("test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
