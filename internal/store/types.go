package store

import (
	"context"
	"time"
)

// ExperimentWriter defines persistence for experiment summaries and
// per-detector metrics.
type ExperimentWriter interface {
	SaveExperiment(ctx context.Context, exp *ExperimentRecord) error
	SaveDetectorMetrics(ctx context.Context, rec *MetricsRecord) error
}

// ExperimentReader defines read access to experiment data.
type ExperimentReader interface {
	GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error)
	ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*ExperimentRecord, error)
	GetDetectorMetrics(ctx context.Context, experimentID string) ([]*MetricsRecord, error)
}

// Analytics defines query helpers for historical comparisons.
type Analytics interface {
	GetDetectorHistory(ctx context.Context, detectorType string, limit int) ([]*MetricsRecord, error)
}

// Store defines persistence for experiments and detector metrics.
type Store interface {
	ExperimentWriter
	ExperimentReader
	Analytics
	Close() error
}

// ExperimentRecord stores one experiment run.
type ExperimentRecord struct {
	ID             string
	Name           string
	StartedAt      time.Time
	RuntimeSeconds float64
	Simulations    int
	Tolerance      int
	Seed           int64
	Config         map[string]any     // Serialized experiment config
	Details        []SimulationDetail // JSON serialized
}

// SimulationDetail stores one simulation's outcomes across detectors.
type SimulationDetail struct {
	SimulationID   int                      `json:"simulation_id"`
	TransitionType string                   `json:"transition_type"`
	TrueIndex      int                      `json:"true_transition_index"`
	Duration       int                      `json:"duration"`
	NoiseLevel     float64                  `json:"noise_level"`
	Detections     map[string]DetectionCell `json:"detections"`
}

// DetectionCell stores one detector's outcome on one simulation.
type DetectionCell struct {
	Detected   bool    `json:"detected"`
	Index      *int    `json:"index"`
	Confidence float64 `json:"confidence"`
	Error      *int    `json:"error"`
}

// MetricsRecord stores one detector's aggregate metrics for one
// experiment.
type MetricsRecord struct {
	ID           string
	ExperimentID string
	Detector     string

	TruePositives  int
	FalsePositives int
	FalseNegatives int
	TrueNegatives  int

	Precision float64
	Recall    float64
	F1        float64

	MeanError      float64
	StdError       float64
	MeanAbsError   float64
	MedianAbsError float64

	MeanConfidence        float64
	ConfidenceCorrelation float64
	MeanRuntimeMs         float64

	PerType   map[string]TypeStats // JSON serialized
	CreatedAt time.Time
}

// TypeStats stores per-archetype timing statistics.
type TypeStats struct {
	NCorrect     int     `json:"n_correct"`
	MeanError    float64 `json:"mean_error"`
	StdError     float64 `json:"std_error"`
	MeanAbsError float64 `json:"mean_abs_error"`
}

// ExperimentFilter filters experiment listings.
type ExperimentFilter struct {
	Name  string
	Since time.Time
	Until time.Time
	Limit int
}
