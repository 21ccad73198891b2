package detect

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/sentinelops/backplane/pkg/features"
)

// AnomalyDetector scores the numeric feature subset against a pre-trained
// isolation forest keyed by event type. A missing or unreadable model file
// yields a zero contribution, never an error: the ensemble's other
// detectors still run.
type AnomalyDetector struct {
	dir string

	mu     sync.Mutex
	models map[string]*Forest
	failed map[string]bool
}

// NewAnomalyDetector creates a detector loading models lazily from
// {dir}/{event_type}.json.
func NewAnomalyDetector(dir string) *AnomalyDetector {
	return &AnomalyDetector{
		dir:    dir,
		models: make(map[string]*Forest),
		failed: make(map[string]bool),
	}
}

// model loads (and caches) the per-event-type forest. A load failure is
// remembered so the log is not flooded once per event.
func (d *AnomalyDetector) model(eventType string) *Forest {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.models[eventType]; ok {
		return f
	}
	if d.failed[eventType] {
		return nil
	}

	f, err := LoadForest(filepath.Join(d.dir, eventType+".json"))
	if err != nil {
		slog.Warn("Anomaly model unavailable, contributing zero", "event_type", eventType, "error", err)
		d.failed[eventType] = true
		return nil
	}
	d.models[eventType] = f
	return f
}

// Detect runs the forest over the canonical numeric feature vector. Empty
// vectors and flagged-normal points both return (0, nil).
func (d *AnomalyDetector) Detect(feats map[string]any, _, eventType string) (float64, []string) {
	f := d.model(eventType)
	if f == nil {
		return 0, nil
	}

	x := features.NumericVector(eventType, feats)
	if len(x) == 0 {
		return 0, nil
	}

	if f.Predict(x) == -1 {
		score := clamp(100+f.Decision(x)*100, 0, 100)
		return score, []string{"anomaly_high"}
	}
	return 0, nil
}
