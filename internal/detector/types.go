// Package detector implements the bank of nucleation detection
// algorithms. Every detector is a pure function of its input signal and
// its construction-time parameters: no signal state is held between
// Detect calls. Detectors degrade gracefully on short or degenerate
// input by returning Detected=false; only configuration errors (an
// unknown detector tag) surface as errors.
package detector

import "fmt"

// Type identifies a detection algorithm.
type Type string

const (
	TypeVarianceRatio      Type = "variance_ratio"
	TypeVarianceDerivative Type = "variance_derivative"
	TypeVarianceInflection Type = "variance_inflection"
	TypeRollingZScore      Type = "rolling_zscore"
	TypeCUSUM              Type = "cusum"
	TypeChangePoint        Type = "change_point"
	TypeEnsemble           Type = "ensemble"
)

// Types returns all detector types in a fixed order, base detectors first.
func Types() []Type {
	return []Type{
		TypeVarianceRatio,
		TypeVarianceDerivative,
		TypeVarianceInflection,
		TypeRollingZScore,
		TypeCUSUM,
		TypeChangePoint,
		TypeEnsemble,
	}
}

// BaseTypes returns the six base detector types combined by the ensemble.
func BaseTypes() []Type {
	return []Type{
		TypeVarianceRatio,
		TypeVarianceDerivative,
		TypeVarianceInflection,
		TypeRollingZScore,
		TypeCUSUM,
		TypeChangePoint,
	}
}

// ParseType validates a detector type tag.
func ParseType(s string) (Type, bool) {
	t := Type(s)
	switch t {
	case TypeVarianceRatio, TypeVarianceDerivative, TypeVarianceInflection,
		TypeRollingZScore, TypeCUSUM, TypeChangePoint, TypeEnsemble:
		return t, true
	}
	return "", false
}

// Result is the output of one Detect call. Index is -1 unless Detected
// is true. Confidence is a relative strength indicator on a
// per-detector scale, not a calibrated probability. Signal holds the
// detector's internal scalar trace for diagnostics.
type Result struct {
	Detected   bool
	Index      int
	Confidence float64
	Type       Type
	Signal     []float64
	Threshold  float64
	Metadata   map[string]any
}

// Detector is the detection contract shared by the whole bank.
type Detector interface {
	Type() Type
	Detect(signal []float64) *Result
}

// Options collects the tunable parameters of all detectors; each
// constructor reads the fields it understands and substitutes its own
// defaults for zero values.
type Options struct {
	Window           int
	Threshold        float64
	BaselineWindow   int
	Sustain          int
	DerivativeWindow int
	SmoothWindow     int
	ZScoreWindow     int
	Drift            float64
	MinSegment       int
	Weights          map[Type]float64 // ensemble only
}

// New constructs a detector of the given type. An unknown type is a
// programming error and fails immediately with the offending tag.
func New(t Type, opts Options) (Detector, error) {
	switch t {
	case TypeVarianceRatio:
		return NewVarianceRatio(opts), nil
	case TypeVarianceDerivative:
		return NewVarianceDerivative(opts), nil
	case TypeVarianceInflection:
		return NewVarianceInflection(opts), nil
	case TypeRollingZScore:
		return NewRollingZScore(opts), nil
	case TypeCUSUM:
		return NewCUSUM(opts), nil
	case TypeChangePoint:
		return NewChangePoint(opts), nil
	case TypeEnsemble:
		return NewEnsemble(opts), nil
	default:
		return nil, fmt.Errorf("detector: unknown type %q", t)
	}
}

const epsilon = 1e-10

func clampConfidence(c float64) float64 {
	if c > 1 {
		return 1
	}
	return c
}
