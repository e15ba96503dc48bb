package harness

import (
	"time"

	"github.com/signalworks/nucleation/internal/detector"
	"github.com/signalworks/nucleation/internal/simulator"
)

// Metrics aggregates one detector's performance over a corpus. Every
// simulation contains exactly one real transition, so there is no
// true-negative generator and TrueNegatives stays structurally zero;
// precision, recall and F1 are the primary metrics, accuracy is
// degenerate.
type Metrics struct {
	Detector detector.Type `json:"detector_type"`

	TruePositives  int `json:"true_positives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`
	TrueNegatives  int `json:"true_negatives"`

	// Timing of true positives; signed error is negative for early
	// detections.
	MeanDetectionError float64 `json:"mean_detection_error"`
	StdDetectionError  float64 `json:"std_detection_error"`
	MeanAbsError       float64 `json:"mean_abs_error"`
	MedianAbsError     float64 `json:"median_abs_error"`

	// Confidence calibration over all attempts.
	MeanConfidence        float64 `json:"mean_confidence"`
	ConfidenceCorrelation float64 `json:"confidence_correlation"`

	PerType map[simulator.TransitionType]TypeErrorStats `json:"per_type_metrics"`

	MeanRuntimeMs float64 `json:"mean_runtime_ms"`
}

// TypeErrorStats breaks detection-timing errors down by transition archetype.
type TypeErrorStats struct {
	NCorrect     int     `json:"n_correct"`
	MeanError    float64 `json:"mean_error"`
	StdError     float64 `json:"std_error"`
	MeanAbsError float64 `json:"mean_abs_error"`
}

// Precision is TP/(TP+FP), or 0 when the detector never fired.
func (m *Metrics) Precision() float64 {
	denom := m.TruePositives + m.FalsePositives
	if denom == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(denom)
}

// Recall is TP/(TP+FN), or 0 when the corpus was empty.
func (m *Metrics) Recall() float64 {
	denom := m.TruePositives + m.FalseNegatives
	if denom == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(denom)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is degenerate while TrueNegatives is structurally zero; it
// is kept for schema compatibility with downstream consumers.
func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(total)
}

// ExperimentConfig describes one harness run.
type ExperimentConfig struct {
	Name            string
	Detectors       []detector.Type
	DetectorOptions map[detector.Type]detector.Options
	NSimulations    int
	Types           []simulator.TransitionType
	NoiseLevels     []float64
	DurationMin     int
	DurationMax     int // exclusive
	Tolerance       int // index distance for a detection to count as correct
	Seed            int64
	Concurrency     int // bounded worker pool over simulations; <=1 is sequential
}

func (c ExperimentConfig) withDefaults() ExperimentConfig {
	if len(c.Detectors) == 0 {
		c.Detectors = detector.Types()
	}
	if c.NSimulations <= 0 {
		c.NSimulations = 100
	}
	if len(c.NoiseLevels) == 0 {
		c.NoiseLevels = []float64{0.05, 0.1, 0.15, 0.2, 0.3}
	}
	if c.DurationMin <= 0 {
		c.DurationMin = 500
	}
	if c.DurationMax <= c.DurationMin {
		c.DurationMax = 2000
		if c.DurationMax <= c.DurationMin {
			c.DurationMax = c.DurationMin + 1
		}
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	return c
}

// DetectionRecord is one detector's outcome on one simulation inside
// the detailed per-simulation record list. Index and Error are nil when
// the detector did not fire.
type DetectionRecord struct {
	Detected   bool    `json:"detected"`
	Index      *int    `json:"index"`
	Confidence float64 `json:"confidence"`
	Error      *int    `json:"error"`
}

// SimulationRecord is the per-simulation schema consumed by downstream
// figure generation.
type SimulationRecord struct {
	SimulationID        int                               `json:"simulation_id"`
	TransitionType      simulator.TransitionType          `json:"transition_type"`
	TrueTransitionIndex int                               `json:"true_transition_index"`
	Duration            int                               `json:"duration"`
	NoiseLevel          float64                           `json:"noise_level"`
	Detections          map[detector.Type]DetectionRecord `json:"detections"`
}

// ExperimentResult is the outcome of one harness run.
type ExperimentResult struct {
	Config         ExperimentConfig
	Metrics        map[detector.Type]*Metrics
	Details        []SimulationRecord
	Timestamp      time.Time
	RuntimeSeconds float64
}
