package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/metrics"
)

// behindBackend is a write-behind stub that records flushes.
type behindBackend struct {
	mu       sync.Mutex
	flushes  []string
	last     *model.PatientRecord
	failures int
	record   *model.PatientRecord
}

func (b *behindBackend) ListPatientIDs(ctx context.Context) ([]string, error) {
	return []string{b.record.PatientID}, nil
}

func (b *behindBackend) LoadPatient(ctx context.Context, patientID string) (*model.PatientRecord, error) {
	if patientID != b.record.PatientID {
		return nil, repository.ErrPatientNotFound
	}
	return b.record, nil
}

func (b *behindBackend) WriteClassification(ctx context.Context, patientID string, ref model.AlarmRef, class model.Classification, comment string) error {
	return errors.New("write-behind backend should not receive direct writes")
}

func (b *behindBackend) FlushPatient(ctx context.Context, rec *model.PatientRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures > 0 {
		b.failures--
		return errors.New("transient flush failure")
	}
	b.flushes = append(b.flushes, rec.PatientID)
	b.last = rec
	return nil
}

func (b *behindBackend) Mode() repository.WriteMode { return repository.WriteBehind }
func (b *behindBackend) Close() error               { return nil }

func (b *behindBackend) flushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.flushes)
}

func (b *behindBackend) lastFlushed() *model.PatientRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func behindRecord(t *testing.T) *model.PatientRecord {
	t.Helper()
	period := model.NewAdmissionPeriod(mustParse(t, "2025-05-01 00:00:00"), nil)
	rec := model.NewPatientRecord("P1")
	rec.Admissions = []model.AdmissionPeriod{period}
	rec.AddAlarm(period.ID, model.Alarm{Timestamp: mustParse(t, "2025-05-01 02:15:30")})
	rec.AddAlarm(period.ID, model.Alarm{Timestamp: mustParse(t, "2025-05-01 03:00:00")})
	return rec
}

func newBehindBackend(t *testing.T) *behindBackend {
	t.Helper()
	return &behindBackend{record: behindRecord(t)}
}

// slowBackend stretches each flush and tracks how many run at once.
type slowBackend struct {
	behindBackend
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (b *slowBackend) FlushPatient(ctx context.Context, rec *model.PatientRecord) error {
	n := b.active.Add(1)
	for {
		max := b.maxSeen.Load()
		if n <= max || b.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	b.active.Add(-1)
	return b.behindBackend.FlushPatient(ctx, rec)
}

func TestWriteBehindEditThenDrain(t *testing.T) {
	backend := newBehindBackend(t)
	s := New(backend, Config{WindowMinutes: 30}, testLogger(), metrics.New("test"))
	ctx := context.Background()

	period := backend.record.Admissions[0]
	ref := model.AlarmRef{AdmissionID: period.ID, Date: "2025-05-01", Time: "02:15:30"}
	require.True(t, s.SetClassification(ctx, "P1", ref, model.ClassificationTrue, "note"))

	// The edit is visible in-session before any flush ran.
	ann := s.GetClassification(ctx, "P1", ref)
	assert.Equal(t, model.ClassificationTrue, ann.Classification)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, backend.flushCount())
}

func TestFlushDeduplicatesPerPatient(t *testing.T) {
	backend := newBehindBackend(t)
	s := New(backend, Config{WindowMinutes: 30}, testLogger(), metrics.New("test"))
	ctx := context.Background()

	period := backend.record.Admissions[0]
	first := model.AlarmRef{AdmissionID: period.ID, Date: "2025-05-01", Time: "02:15:30"}
	second := model.AlarmRef{AdmissionID: period.ID, Date: "2025-05-01", Time: "03:00:00"}

	// Two edits while no worker is draining: one pending task, one flush.
	require.True(t, s.SetClassification(ctx, "P1", first, model.ClassificationTrue, ""))
	require.True(t, s.SetClassification(ctx, "P1", second, model.ClassificationFalse, ""))

	require.NoError(t, s.Close())
	assert.Equal(t, 1, backend.flushCount())
}

func TestFlushRetriesTransientFailure(t *testing.T) {
	backend := newBehindBackend(t)
	backend.failures = 2

	writer := newFlushWriter(backend, FlushConfig{
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, testLogger(), metrics.New("test"))

	require.NoError(t, writer.enqueue(backend.record))
	writer.drain()
	assert.Equal(t, 1, backend.flushCount())
}

func TestFlushReceivesStableSnapshot(t *testing.T) {
	backend := newBehindBackend(t)
	s := New(backend, Config{WindowMinutes: 30}, testLogger(), metrics.New("test"))
	ctx := context.Background()

	period := backend.record.Admissions[0]
	first := model.AlarmRef{AdmissionID: period.ID, Date: "2025-05-01", Time: "02:15:30"}
	second := model.AlarmRef{AdmissionID: period.ID, Date: "2025-05-01", Time: "03:00:00"}

	require.True(t, s.SetClassification(ctx, "P1", first, model.ClassificationTrue, ""))
	s.writer.drain()

	// An edit made after the flush must not show up in the record the
	// backend already received.
	require.True(t, s.SetClassification(ctx, "P1", second, model.ClassificationFalse, ""))

	flushed := backend.lastFlushed()
	require.NotNil(t, flushed)
	alarm := flushed.FindAlarm(second)
	require.NotNil(t, alarm)
	assert.Equal(t, model.ClassificationUnset, alarm.Classification)
	alarm = flushed.FindAlarm(first)
	require.NotNil(t, alarm)
	assert.Equal(t, model.ClassificationTrue, alarm.Classification)
}

func TestFlushesStaySerializedUnderLoad(t *testing.T) {
	backend := &slowBackend{}
	backend.record = behindRecord(t)
	s := New(backend, Config{
		WindowMinutes: 30,
		Flush:         FlushConfig{QueueSize: 1, RetryDelay: time.Millisecond},
	}, testLogger(), metrics.New("test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	// Keep editing while the worker is mid-flush. Every flush must see a
	// coherent snapshot and no two flushes may overlap.
	period := backend.record.Admissions[0]
	refs := []model.AlarmRef{
		{AdmissionID: period.ID, Date: "2025-05-01", Time: "02:15:30"},
		{AdmissionID: period.ID, Date: "2025-05-01", Time: "03:00:00"},
	}
	for i := 0; i < 20; i++ {
		class := model.ClassificationTrue
		if i%2 == 1 {
			class = model.ClassificationFalse
		}
		require.True(t, s.SetClassification(ctx, "P1", refs[i%2], class, ""))
	}

	require.Eventually(t, func() bool {
		return backend.flushCount() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, s.Close())
	assert.EqualValues(t, 1, backend.maxSeen.Load())
}

func TestFlushWorkerDrainsQueue(t *testing.T) {
	backend := newBehindBackend(t)
	s := New(backend, Config{WindowMinutes: 30}, testLogger(), metrics.New("test"))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	period := backend.record.Admissions[0]
	ref := model.AlarmRef{AdmissionID: period.ID, Date: "2025-05-01", Time: "02:15:30"}
	require.True(t, s.SetClassification(ctx, "P1", ref, model.ClassificationTrue, ""))

	require.Eventually(t, func() bool {
		return backend.flushCount() == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, s.Close())
	assert.Equal(t, 1, backend.flushCount())
}
