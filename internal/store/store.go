// Package store is the read/write surface of the data layer. It fronts an
// interchangeable storage backend with a patient cache and routes
// classification writes according to the backend's write mode:
// write-through backends are updated before the cache, write-behind
// backends get the cache edit first and a deferred flush.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/matcher"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
	apperrors "github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/errors"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/logger"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/metrics"
)

// VisibilityMode names a predicate applied to alarms on read.
type VisibilityMode string

const (
	// VisibilityAll returns every alarm regardless of its visible flag.
	VisibilityAll VisibilityMode = "all"
	// VisibilityStrict returns only alarms whose visible flag is true.
	VisibilityStrict VisibilityMode = "strict"
	// VisibilityAdmissionOpen returns alarms whose visible flag is true
	// or that belong to an ongoing admission.
	VisibilityAdmissionOpen VisibilityMode = "admission-open"
)

// Config holds store tuning knobs.
type Config struct {
	// CacheTTL bounds how long a loaded patient stays cached; zero means
	// no expiry.
	CacheTTL time.Duration
	// WindowMinutes is the nursing-record match half-window.
	WindowMinutes int
	// Visibility selects the read-time alarm predicate.
	Visibility VisibilityMode
	// Flush configures the background writer used for write-behind
	// backends.
	Flush FlushConfig
}

// Store exposes the patient data operations shared by every frontend.
type Store struct {
	backend repository.Backend
	cache   *cache.Cache
	matcher *matcher.Matcher
	mode    VisibilityMode
	writer  *flushWriter
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// New builds a store over backend. For write-behind backends the caller
// must run Start before writing and Close on shutdown so queued flushes
// drain.
func New(backend repository.Backend, cfg Config, log *logger.Logger, m *metrics.Metrics) *Store {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	mode := cfg.Visibility
	if mode == "" {
		mode = VisibilityAll
	}
	s := &Store{
		backend: backend,
		cache:   cache.New(ttl, ttl),
		matcher: matcher.New(cfg.WindowMinutes),
		mode:    mode,
		logger:  log,
		metrics: m,
	}
	if backend.Mode() == repository.WriteBehind {
		s.writer = newFlushWriter(backend, cfg.Flush, log, m)
	}
	return s
}

// Start launches the background flush writer, if the backend needs one.
func (s *Store) Start(ctx context.Context) {
	if s.writer != nil {
		go s.writer.run(ctx)
	}
}

// Close drains pending flushes and closes the backend.
func (s *Store) Close() error {
	if s.writer != nil {
		s.writer.drain()
	}
	return s.backend.Close()
}

// ListPatientIDs returns every known patient ID, sorted.
func (s *Store) ListPatientIDs(ctx context.Context) ([]string, error) {
	done := s.observe("list_patients")
	ids, err := s.backend.ListPatientIDs(ctx)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return ids, nil
}

// GetAdmissionPeriods returns the patient's admissions. A record with no
// explicit admissions yields the single synthetic default period, so
// callers can always group alarms by admission.
func (s *Store) GetAdmissionPeriods(ctx context.Context, patientID string) []model.AdmissionPeriod {
	rec := s.patientForRead(ctx, patientID)
	if len(rec.Admissions) == 0 {
		return []model.AdmissionPeriod{model.DefaultAdmissionPeriod()}
	}
	periods := make([]model.AdmissionPeriod, len(rec.Admissions))
	copy(periods, rec.Admissions)
	return periods
}

// GetAvailableDates returns the sorted dates that have at least one alarm
// within the admission's window and passing the visibility predicate, so a
// listed date never resolves to an empty alarm list. An unknown admission
// yields no dates.
func (s *Store) GetAvailableDates(ctx context.Context, patientID, admissionID string) []string {
	rec := s.patientForRead(ctx, patientID)
	period, ok := rec.AdmissionByID(admissionID)
	if !ok {
		return nil
	}
	byDate := rec.Alarms[admissionID]
	dates := make([]string, 0, len(byDate))
	for date, alarms := range byDate {
		for _, a := range alarms {
			if period.Contains(a.Timestamp) && s.visible(a, period) {
				dates = append(dates, date)
				break
			}
		}
	}
	sort.Strings(dates)
	return dates
}

// GetAlarmsForDate returns the date's alarms, sorted by time and filtered
// through the configured visibility predicate. Alarms outside the
// admission window are excluded.
func (s *Store) GetAlarmsForDate(ctx context.Context, patientID, admissionID, date string) []model.Alarm {
	rec := s.patientForRead(ctx, patientID)
	period, ok := rec.AdmissionByID(admissionID)
	if !ok {
		return nil
	}
	source := rec.Alarms[admissionID][date]
	alarms := make([]model.Alarm, 0, len(source))
	for _, a := range source {
		if !period.Contains(a.Timestamp) {
			continue
		}
		if !s.visible(a, period) {
			continue
		}
		alarms = append(alarms, a)
	}
	model.SortAlarms(alarms)
	return alarms
}

// GetWaveformSnapshot returns the waveform snapshot for an alarm
// timestamp, or nil when none is stored. Upstream exports do not always
// agree on sub-second precision, so lookup falls back from the exact key
// to progressively coarser matches.
func (s *Store) GetWaveformSnapshot(ctx context.Context, patientID, timestamp string) *model.Snapshot {
	rec := s.patientForRead(ctx, patientID)
	if snap, ok := rec.Waveforms[timestamp]; ok {
		return snap
	}
	target, err := model.ParseTimestamp(timestamp)
	if err != nil {
		return nil
	}
	stripped := target.Truncate(time.Second)
	if snap, ok := rec.Waveforms[stripped.Format(model.TimestampLayout)]; ok {
		return snap
	}
	for key, snap := range rec.Waveforms {
		stored, err := model.ParseTimestamp(key)
		if err != nil {
			continue
		}
		if stored.Truncate(time.Second).Equal(stripped) {
			return snap
		}
	}
	return nil
}

// GetNursingRecords returns the nursing records within the match window
// around the alarm time, flattened and ordered.
func (s *Store) GetNursingRecords(ctx context.Context, patientID string, alarmTime time.Time) []model.NursingRecord {
	rec := s.patientForRead(ctx, patientID)
	return s.matcher.Match(rec, alarmTime)
}

// HasNursingRecords reports whether any nursing record falls in the match
// window around the alarm time.
func (s *Store) HasNursingRecords(ctx context.Context, patientID string, alarmTime time.Time) bool {
	return s.CountNursingRecords(ctx, patientID, alarmTime) > 0
}

// CountNursingRecords counts nursing records in the match window around
// the alarm time.
func (s *Store) CountNursingRecords(ctx context.Context, patientID string, alarmTime time.Time) int {
	rec := s.patientForRead(ctx, patientID)
	return s.matcher.Count(rec, alarmTime)
}

// GetClassification returns the alarm's current annotation. An unknown
// alarm reads as unset rather than failing.
func (s *Store) GetClassification(ctx context.Context, patientID string, ref model.AlarmRef) model.Annotation {
	rec := s.patientForRead(ctx, patientID)
	alarm := rec.FindAlarm(ref)
	if alarm == nil {
		return model.Annotation{}
	}
	return model.Annotation{Classification: alarm.Classification, Comment: alarm.Comment}
}

// SetClassification records a review decision for one alarm and reports
// whether the write took effect. Setting the value an alarm already has is
// a successful no-op. On a write-through backend a storage failure leaves
// the cache invalidated and returns false; on a write-behind backend the
// cache is updated in place and the patient is queued for flush.
func (s *Store) SetClassification(ctx context.Context, patientID string, ref model.AlarmRef, class model.Classification, comment string) bool {
	done := s.observe("set_classification")
	rec, err := s.patient(ctx, patientID)
	if err != nil {
		done(err)
		s.logger.Error(err, "failed to load patient for classification write", "patient_id", patientID)
		return false
	}
	alarm := rec.FindAlarm(ref)
	if alarm == nil {
		done(repository.ErrAlarmNotFound)
		s.logger.Warn("classification write for unknown alarm",
			"patient_id", patientID, "admission_id", ref.AdmissionID, "date", ref.Date, "time", ref.Time)
		return false
	}
	if alarm.Classification == class && alarm.Comment == comment {
		done(nil)
		return true
	}

	if s.backend.Mode() == repository.WriteThrough {
		if err := s.backend.WriteClassification(ctx, patientID, ref, class, comment); err != nil {
			if errors.Is(err, repository.ErrAlarmNotFound) {
				err = apperrors.Conflict("cached alarm missing from durable storage", err)
			}
			done(err)
			s.cache.Delete(patientID)
			s.logger.Error(err, "classification write failed", "patient_id", patientID)
			return false
		}
		alarm.Classification = class
		alarm.Comment = comment
		done(nil)
		return true
	}

	alarm.Classification = class
	alarm.Comment = comment
	if err := s.writer.enqueue(rec); err != nil {
		done(err)
		s.cache.Delete(patientID)
		s.logger.Error(err, "failed to queue classification flush", "patient_id", patientID)
		return false
	}
	done(nil)
	return true
}

// GetAlarmStats returns labeled/total counts for one patient.
func (s *Store) GetAlarmStats(ctx context.Context, patientID string) model.AlarmStats {
	rec := s.patientForRead(ctx, patientID)
	return rec.Stats()
}

// ReloadPatient drops the cached record and reloads it from the backend.
func (s *Store) ReloadPatient(ctx context.Context, patientID string) error {
	s.cache.Delete(patientID)
	_, err := s.patient(ctx, patientID)
	return err
}

// Summary aggregates entity counts across every patient.
func (s *Store) Summary(ctx context.Context) (model.DataSummary, error) {
	ids, err := s.ListPatientIDs(ctx)
	if err != nil {
		return model.DataSummary{}, err
	}
	summary := model.DataSummary{
		TotalPatients: len(ids),
		Patients:      make(map[string]model.PatientSummary, len(ids)),
	}
	for _, id := range ids {
		rec, err := s.patient(ctx, id)
		if err != nil {
			return model.DataSummary{}, err
		}
		summary.Patients[id] = rec.Summary()
	}
	return summary, nil
}

// Patient exposes the cached record for in-process consumers such as the
// auto-classifier and the filter pipeline.
func (s *Store) Patient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	return s.patient(ctx, patientID)
}

// FlushNow persists a patient synchronously, bypassing the queue.
func (s *Store) FlushNow(ctx context.Context, patientID string) error {
	rec, err := s.patient(ctx, patientID)
	if err != nil {
		return err
	}
	if err := s.backend.FlushPatient(ctx, rec); err != nil {
		return fmt.Errorf("failed to flush patient %s: %w", patientID, err)
	}
	return nil
}

func (s *Store) patient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	if cached, ok := s.cache.Get(patientID); ok {
		s.metrics.CacheHits.Inc()
		return cached.(*model.PatientRecord), nil
	}
	s.metrics.CacheMisses.Inc()

	done := s.observe("load_patient")
	rec, err := s.backend.LoadPatient(ctx, patientID)
	done(err)
	if errors.Is(err, repository.ErrPatientNotFound) {
		return nil, apperrors.NotFound("patient "+patientID, err)
	}
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("failed to load patient %s: %w", patientID, err))
	}
	s.cache.SetDefault(patientID, rec)
	return rec, nil
}

// patientForRead loads a patient for a read operation. Missing or
// unreadable data degrades to an empty record so reads return empty
// collections instead of failing; the underlying cause is logged once per
// load attempt. The empty record is not cached, so the patient is retried
// on the next read.
func (s *Store) patientForRead(ctx context.Context, patientID string) *model.PatientRecord {
	rec, err := s.patient(ctx, patientID)
	if err != nil {
		s.logger.Warn("patient data unavailable, reads degrade to empty",
			"patient_id", patientID, "error", err.Error())
		return model.NewPatientRecord(patientID)
	}
	return rec
}

func (s *Store) visible(a model.Alarm, period model.AdmissionPeriod) bool {
	switch s.mode {
	case VisibilityStrict:
		return a.Visible != nil && *a.Visible
	case VisibilityAdmissionOpen:
		if a.Visible != nil && *a.Visible {
			return true
		}
		return period.Ongoing()
	}
	return true
}

// observe times one store operation and records its outcome.
func (s *Store) observe(operation string) func(error) {
	timer := prometheus.NewTimer(s.metrics.StoreLatency.WithLabelValues(operation))
	return func(err error) {
		timer.ObserveDuration()
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.StoreOperations.WithLabelValues(operation, status).Inc()
	}
}
