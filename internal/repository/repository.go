// Package repository defines the physical-storage contract behind the
// patient record store. Three interchangeable backends implement it:
// an in-memory map, one JSON document per patient, and one SQLite table
// pair per patient.
package repository

import (
	"context"
	"errors"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
)

var (
	// ErrPatientNotFound means the backend holds no data for the patient.
	ErrPatientNotFound = errors.New("patient not found")
	// ErrAlarmNotFound means a classification write addressed a row that
	// does not exist in durable storage.
	ErrAlarmNotFound = errors.New("alarm not found")
)

// WriteMode is the durable-write discipline a backend prefers.
type WriteMode int

const (
	// WriteThrough: classification writes hit durable storage before the
	// call returns, and the read cache entry is refreshed in place.
	WriteThrough WriteMode = iota
	// WriteBehind: classification writes update the in-memory record and a
	// background worker flushes the whole patient document later.
	WriteBehind
)

func (m WriteMode) String() string {
	if m == WriteBehind {
		return "write-behind"
	}
	return "write-through"
}

// Backend is one physical storage strategy. Implementations return
// normalized PatientRecord aggregates; all list/label/duplicate cleanup
// happens at load time so consumers see one canonical shape.
type Backend interface {
	// ListPatientIDs returns every known patient ID, sorted ascending.
	ListPatientIDs(ctx context.Context) ([]string, error)

	// LoadPatient reads one patient's full record. Returns
	// ErrPatientNotFound when the patient has no stored data.
	LoadPatient(ctx context.Context, patientID string) (*model.PatientRecord, error)

	// WriteClassification durably updates a single alarm's classification
	// and comment. Returns ErrAlarmNotFound when the target row does not
	// exist. Used by the write-through path.
	WriteClassification(ctx context.Context, patientID string, ref model.AlarmRef, class model.Classification, comment string) error

	// FlushPatient durably persists the whole record. Used by the
	// write-behind path.
	FlushPatient(ctx context.Context, rec *model.PatientRecord) error

	// Mode reports the write discipline the backend is built for.
	Mode() WriteMode

	Close() error
}
