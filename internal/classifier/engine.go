package classifier

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/store"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/logger"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/metrics"
)

// Engine is the batch auto-classifier. It only ever labels alarms whose
// classification is unset; manual review decisions are never overwritten.
type Engine struct {
	store   *store.Store
	table   *ReferenceTable
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewEngine builds an engine over a store and a loaded reference table.
func NewEngine(s *store.Store, table *ReferenceTable, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{store: s, table: table, logger: log, metrics: m}
}

// Report summarizes one classification run.
type Report struct {
	RunID      uuid.UUID `json:"run_id"`
	Processed  int       `json:"processed"`
	TrueCount  int       `json:"true_count"`
	FalseCount int       `json:"false_count"`
	Failures   int       `json:"failures"`
}

// Run classifies every unlabeled alarm for every patient. A write failure
// on one alarm is logged and counted but does not abort the batch; ctx
// cancellation stops the run between alarms.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	ids, err := e.store.ListPatientIDs(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list patients for classification: %w", err)
	}
	report := Report{RunID: uuid.New()}
	e.metrics.ClassifierRuns.Inc()
	e.logger.Info("starting classification run",
		"run_id", report.RunID.String(), "patients", len(ids), "reference_rows", e.table.Len())

	for _, patientID := range ids {
		if err := e.runPatient(ctx, patientID, &report); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			e.logger.Error(err, "failed to classify patient", "patient_id", patientID)
			report.Failures++
		}
	}

	e.logger.Info("classification run complete",
		"run_id", report.RunID.String(), "processed", report.Processed,
		"true", report.TrueCount, "false", report.FalseCount, "failures", report.Failures)
	return report, nil
}

// RunPatient classifies a single patient's unlabeled alarms.
func (e *Engine) RunPatient(ctx context.Context, patientID string) (Report, error) {
	report := Report{RunID: uuid.New()}
	e.metrics.ClassifierRuns.Inc()
	if err := e.runPatient(ctx, patientID, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) runPatient(ctx context.Context, patientID string, report *Report) error {
	rec, err := e.store.Patient(ctx, patientID)
	if err != nil {
		return err
	}

	for _, admissionID := range sortedKeys(rec.Alarms) {
		byDate := rec.Alarms[admissionID]
		for _, date := range sortedKeys(byDate) {
			for _, alarm := range byDate[date] {
				if err := ctx.Err(); err != nil {
					return err
				}
				if alarm.Classification.IsSet() {
					continue
				}
				report.Processed++

				class := e.classify(ctx, patientID, alarm)
				ref := model.AlarmRef{AdmissionID: admissionID, Date: date, Time: alarm.Time()}
				if !e.store.SetClassification(ctx, patientID, ref, class, "") {
					report.Failures++
					e.logger.Warn("failed to persist auto-classification",
						"patient_id", patientID, "date", date, "time", alarm.Time())
					continue
				}
				if class == model.ClassificationTrue {
					report.TrueCount++
					e.metrics.AlarmsClassified.WithLabelValues("true").Inc()
				} else {
					report.FalseCount++
					e.metrics.AlarmsClassified.WithLabelValues("false").Inc()
				}
			}
		}
	}
	return nil
}

// classify labels one alarm: true when any nursing record in the match
// window equals a reference row on all five normalized fields, false
// otherwise (including when no nursing records exist).
func (e *Engine) classify(ctx context.Context, patientID string, alarm model.Alarm) model.Classification {
	for _, rec := range e.store.GetNursingRecords(ctx, patientID, alarm.Timestamp) {
		if e.table.Matches(rec) {
			return model.ClassificationTrue
		}
	}
	return model.ClassificationFalse
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
