package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tiendc/go-deepcopy"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/repository"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/logger"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/metrics"
)

// FlushConfig tunes the background writer for write-behind backends.
type FlushConfig struct {
	QueueSize     int
	RetryAttempts int
	RetryDelay    time.Duration
}

func (c FlushConfig) withDefaults() FlushConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	return c
}

type flushTask struct {
	id        uuid.UUID
	patientID string
}

// flushWriter persists dirty patient records on a single goroutine.
// Repeated edits to the same patient collapse into one pending task, so a
// burst of classification writes flushes the document once.
type flushWriter struct {
	backend repository.Backend
	config  FlushConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	queue chan flushTask

	mu      sync.Mutex
	pending map[string]*model.PatientRecord
}

func newFlushWriter(backend repository.Backend, cfg FlushConfig, log *logger.Logger, m *metrics.Metrics) *flushWriter {
	cfg = cfg.withDefaults()
	return &flushWriter{
		backend: backend,
		config:  cfg,
		logger:  log,
		metrics: m,
		queue:   make(chan flushTask, cfg.QueueSize),
		pending: make(map[string]*model.PatientRecord),
	}
}

// enqueue marks a patient dirty, taking a deep copy of the record so later
// cache edits on the caller's goroutine cannot tear a flush already reading
// the pending snapshot. If the patient is already queued only the snapshot
// is replaced. A full queue blocks until the worker catches up; the single
// worker is the only goroutine that runs flushes, so durable writes stay
// serialized per patient.
func (w *flushWriter) enqueue(rec *model.PatientRecord) error {
	snapshot, err := cloneRecord(rec)
	if err != nil {
		return err
	}

	w.mu.Lock()
	_, queued := w.pending[rec.PatientID]
	w.pending[rec.PatientID] = snapshot
	w.mu.Unlock()
	if queued {
		return nil
	}

	w.queue <- flushTask{id: uuid.New(), patientID: rec.PatientID}
	w.metrics.FlushQueueSize.Inc()
	return nil
}

func (w *flushWriter) run(ctx context.Context) {
	w.logger.Info("starting flush writer")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down flush writer")
			w.drainQueue()
			return
		case task := <-w.queue:
			w.metrics.FlushQueueSize.Dec()
			w.process(ctx, task)
		}
	}
}

// drain flushes everything still marked dirty. Safe to call whether or
// not run was started; a patient already picked up by the writer is a
// no-op here because process clears the pending entry first.
func (w *flushWriter) drain() {
	w.drainQueue()
}

func (w *flushWriter) drainQueue() {
	for {
		select {
		case task := <-w.queue:
			w.metrics.FlushQueueSize.Dec()
			w.process(context.Background(), task)
		default:
			w.mu.Lock()
			remaining := make([]*model.PatientRecord, 0, len(w.pending))
			for _, rec := range w.pending {
				remaining = append(remaining, rec)
			}
			w.mu.Unlock()
			for _, rec := range remaining {
				w.process(context.Background(), flushTask{id: uuid.New(), patientID: rec.PatientID})
			}
			return
		}
	}
}

func (w *flushWriter) process(ctx context.Context, task flushTask) {
	w.mu.Lock()
	rec, ok := w.pending[task.patientID]
	delete(w.pending, task.patientID)
	w.mu.Unlock()
	if !ok {
		return
	}

	timer := prometheus.NewTimer(w.metrics.FlushLatency)
	defer timer.ObserveDuration()

	attempt := 0
	err := retry(w.config.RetryAttempts, w.config.RetryDelay, func() error {
		if attempt > 0 {
			w.metrics.FlushRetries.Inc()
		}
		attempt++
		return w.backend.FlushPatient(ctx, rec)
	})
	if err != nil {
		w.metrics.FlushTasksFailed.Inc()
		w.logger.Error(err, "failed to flush patient",
			"task_id", task.id.String(), "patient_id", task.patientID)
		return
	}
	w.metrics.FlushTasksProcessed.Inc()
	w.logger.Debug("flushed patient", "task_id", task.id.String(), "patient_id", task.patientID)
}

func cloneRecord(rec *model.PatientRecord) (*model.PatientRecord, error) {
	out := &model.PatientRecord{}
	if err := deepcopy.Copy(out, rec); err != nil {
		return nil, fmt.Errorf("failed to copy patient record: %w", err)
	}
	return out, nil
}

// retry runs fn up to attempts times, sleeping between failures.
func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
