// Package alarmfilter narrows a per-date alarm list before display. Two
// independent filters run in a fixed order: first drop alarms with no
// corroborating nursing documentation, then drop alarms whose labels are
// all known equipment faults.
package alarmfilter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dr-you-group/SICU-Alarm-Monitoring/internal/model"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/logger"
	"github.com/dr-you-group/SICU-Alarm-Monitoring/pkg/metrics"
)

// Filter stage names used in results and metrics.
const (
	StageNursing   = "nursing"
	StageTechnical = "technical"
)

// LabelSet is the set of normalized alarm labels that indicate a
// technical/equipment fault. Loaded once and immutable afterwards.
type LabelSet struct {
	labels map[string]struct{}
}

// NewLabelSet builds a set from raw label strings.
func NewLabelSet(labels []string) *LabelSet {
	s := &LabelSet{labels: make(map[string]struct{}, len(labels))}
	for _, l := range labels {
		norm := model.NormalizeLabel(l)
		if norm != "" {
			s.labels[norm] = struct{}{}
		}
	}
	return s
}

// LoadLabelSet reads technical labels from a plain text file, one or more
// per line separated by "/". A missing file degrades to an empty set,
// which makes the technical filter a no-op.
func LoadLabelSet(path string) (*LabelSet, error) {
	if path == "" {
		return NewLabelSet(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLabelSet(nil), nil
		}
		return nil, fmt.Errorf("failed to open label list %s: %w", path, err)
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, model.ParseAlarmLabels(scanner.Text())...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read label list %s: %w", path, err)
	}
	return NewLabelSet(labels), nil
}

// Len reports the number of distinct technical labels.
func (s *LabelSet) Len() int { return len(s.labels) }

// Contains reports whether a raw label normalizes into the set.
func (s *LabelSet) Contains(label string) bool {
	_, ok := s.labels[model.NormalizeLabel(label)]
	return ok
}

// NursingLookup answers whether a patient has nursing documentation near
// an alarm time. The store satisfies this.
type NursingLookup interface {
	HasNursingRecords(ctx context.Context, patientID string, alarmTime time.Time) bool
}

// Config toggles the two filter stages independently.
type Config struct {
	NursingEnabled   bool
	TechnicalEnabled bool
}

// Result carries per-stage counts for one pipeline pass.
type Result struct {
	Alarms []model.Alarm
	// Counts maps stage name to alarms remaining after that stage. The
	// "input" key holds the raw count.
	Counts map[string]int
}

// Pipeline applies the configured filters to raw alarm lists.
type Pipeline struct {
	nursing NursingLookup
	labels  *LabelSet
	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// New builds a pipeline. labels may be an empty set.
func New(nursing NursingLookup, labels *LabelSet, cfg Config, log *logger.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{nursing: nursing, labels: labels, config: cfg, logger: log, metrics: m}
}

// Apply filters one patient's per-date alarm list. Stages run in a fixed
// order: nursing first, technical second.
func (p *Pipeline) Apply(ctx context.Context, patientID string, alarms []model.Alarm) Result {
	result := Result{Counts: map[string]int{"input": len(alarms)}}

	kept := alarms
	if p.config.NursingEnabled {
		kept = p.applyNursing(ctx, patientID, kept)
	}
	result.Counts[StageNursing] = len(kept)

	if p.config.TechnicalEnabled {
		kept = p.applyTechnical(kept)
	}
	result.Counts[StageTechnical] = len(kept)

	result.Alarms = kept
	p.logger.Debug("alarm filter pass",
		"patient_id", patientID, "input", len(alarms), "kept", len(kept))
	return result
}

func (p *Pipeline) applyNursing(ctx context.Context, patientID string, alarms []model.Alarm) []model.Alarm {
	kept := make([]model.Alarm, 0, len(alarms))
	for _, a := range alarms {
		if !p.nursing.HasNursingRecords(ctx, patientID, a.Timestamp) {
			p.metrics.AlarmsDropped.WithLabelValues(StageNursing).Inc()
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// applyTechnical drops an alarm only when it has at least one label and
// every label is technical. Mixed clinical/technical alarms stay visible.
func (p *Pipeline) applyTechnical(alarms []model.Alarm) []model.Alarm {
	if p.labels.Len() == 0 {
		return alarms
	}
	kept := make([]model.Alarm, 0, len(alarms))
	for _, a := range alarms {
		if len(a.Labels) > 0 && p.allTechnical(a.Labels) {
			p.metrics.AlarmsDropped.WithLabelValues(StageTechnical).Inc()
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func (p *Pipeline) allTechnical(labels []string) bool {
	for _, l := range labels {
		if !p.labels.Contains(l) {
			return false
		}
	}
	return true
}
