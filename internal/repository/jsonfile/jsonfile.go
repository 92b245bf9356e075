// Package jsonfile stores each patient as a single JSON document under a
// data directory. It is the write-behind backend: classification edits are
// applied to the caller's cached record and the whole document is flushed
// later by the store's background writer.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
)

const (
	fileExt   = ".json"
	backupExt = ".json.backup"
)

// Backend reads and writes per-patient JSON documents.
type Backend struct {
	dir    string
	backup bool
}

// Option configures the backend.
type Option func(*Backend)

// WithBackup controls whether a .json.backup sibling is written before
// each overwrite. Enabled by default.
func WithBackup(enabled bool) Option {
	return func(b *Backend) { b.backup = enabled }
}

// New returns a backend rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	b := &Backend{dir: dir, backup: true}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// ListPatientIDs returns the IDs of every patient document in the data
// directory, sorted. Backup files are skipped.
func (b *Backend) ListPatientIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory %s: %w", b.dir, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, backupExt) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadPatient reads and normalizes one patient document.
func (b *Backend) LoadPatient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	raw, err := os.ReadFile(b.path(patientID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repository.ErrPatientNotFound
		}
		return nil, fmt.Errorf("failed to read patient %s: %w", patientID, err)
	}
	var doc patientDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode patient %s: %w", patientID, err)
	}
	rec, err := doc.toModel(patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize patient %s: %w", patientID, err)
	}
	return rec, nil
}

// WriteClassification rewrites the whole document with the edit applied.
// The store normally routes edits through FlushPatient instead; this path
// exists for callers that bypass the cache.
func (b *Backend) WriteClassification(ctx context.Context, patientID string, ref model.AlarmRef, class model.Classification, comment string) error {
	rec, err := b.LoadPatient(ctx, patientID)
	if err != nil {
		return err
	}
	alarm := rec.FindAlarm(ref)
	if alarm == nil {
		return repository.ErrAlarmNotFound
	}
	alarm.Classification = class
	alarm.Comment = comment
	return b.FlushPatient(ctx, rec)
}

// FlushPatient persists the full patient document. The previous file, if
// any, is preserved as a backup sibling, and the new content lands via a
// temp-file rename so a crash never leaves a truncated document.
func (b *Backend) FlushPatient(ctx context.Context, rec *model.PatientRecord) error {
	raw, err := json.MarshalIndent(fromModel(rec), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode patient %s: %w", rec.PatientID, err)
	}

	path := b.path(rec.PatientID)
	if b.backup {
		if prev, err := os.ReadFile(path); err == nil {
			backupPath := filepath.Join(b.dir, rec.PatientID+backupExt)
			if err := os.WriteFile(backupPath, prev, 0o644); err != nil {
				return fmt.Errorf("failed to write backup for patient %s: %w", rec.PatientID, err)
			}
		}
	}

	tmp, err := os.CreateTemp(b.dir, rec.PatientID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for patient %s: %w", rec.PatientID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write patient %s: %w", rec.PatientID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for patient %s: %w", rec.PatientID, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace patient %s: %w", rec.PatientID, err)
	}
	return nil
}

// Mode reports that this backend expects write-behind caching.
func (b *Backend) Mode() repository.WriteMode { return repository.WriteBehind }

// Close is a no-op; the backend holds no open handles between calls.
func (b *Backend) Close() error { return nil }

func (b *Backend) path(patientID string) string {
	return filepath.Join(b.dir, patientID+fileExt)
}
