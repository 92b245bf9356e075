// Package memory is the map-backed storage backend, used for tests and for
// small corpora loaded by external ingestion.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tiendc/go-deepcopy"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
)

// Backend keeps every patient record in process memory. Records are deep
// copied on load so the backend behaves like durable storage: callers only
// see their writes after WriteClassification or FlushPatient.
type Backend struct {
	mu      sync.RWMutex
	records map[string]*model.PatientRecord
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{records: make(map[string]*model.PatientRecord)}
}

// Seed installs a patient record, replacing any existing one.
func (b *Backend) Seed(rec *model.PatientRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.PatientID] = rec
}

func (b *Backend) ListPatientIDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.records))
	for id := range b.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *Backend) LoadPatient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[patientID]
	if !ok {
		return nil, repository.ErrPatientNotFound
	}
	return cloneRecord(rec)
}

func (b *Backend) WriteClassification(ctx context.Context, patientID string, ref model.AlarmRef, class model.Classification, comment string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[patientID]
	if !ok {
		return repository.ErrPatientNotFound
	}
	alarm := rec.FindAlarm(ref)
	if alarm == nil {
		return repository.ErrAlarmNotFound
	}
	alarm.Classification = class
	alarm.Comment = comment
	return nil
}

func (b *Backend) FlushPatient(ctx context.Context, rec *model.PatientRecord) error {
	copied, err := cloneRecord(rec)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.PatientID] = copied
	return nil
}

func (b *Backend) Mode() repository.WriteMode { return repository.WriteThrough }

func (b *Backend) Close() error { return nil }

func cloneRecord(rec *model.PatientRecord) (*model.PatientRecord, error) {
	out := &model.PatientRecord{}
	if err := deepcopy.Copy(out, rec); err != nil {
		return nil, fmt.Errorf("failed to copy patient record: %w", err)
	}
	return out, nil
}
