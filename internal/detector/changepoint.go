package detector

import (
	"gonum.org/v1/gonum/stat"

	"github.com/signalworks/nucleation/internal/rolling"
)

// ChangePoint scores every candidate split of the variance trajectory
// with a likelihood-ratio-like statistic: one minus the ratio of pooled
// within-segment variance-of-variance to the total variance-of-variance.
// The global peak wins, provided both segments carry a minimum number
// of samples.
type ChangePoint struct {
	window     int
	minSegment int
	threshold  float64
}

// NewChangePoint builds the detector with research-protocol defaults.
func NewChangePoint(opts Options) *ChangePoint {
	d := &ChangePoint{
		window:     opts.Window,
		minSegment: opts.MinSegment,
		threshold:  opts.Threshold,
	}
	if d.window <= 0 {
		d.window = 40
	}
	if d.minSegment <= 0 {
		d.minSegment = 50
	}
	if d.threshold <= 0 {
		d.threshold = 0.3
	}
	return d
}

// Type returns the detector identifier.
func (d *ChangePoint) Type() Type { return TypeChangePoint }

// Detect runs the split-scoring rule over the signal.
func (d *ChangePoint) Detect(signal []float64) *Result {
	variance := rolling.Variance(signal, d.window)
	n := len(variance)

	validCount := len(rolling.Valid(variance))
	if validCount < 2*d.minSegment {
		return &Result{
			Detected:  false,
			Index:     -1,
			Type:      TypeChangePoint,
			Signal:    make([]float64, n),
			Threshold: d.threshold,
			Metadata:  map[string]any{"error": "insufficient_data"},
		}
	}

	varAll := 0.0
	if all := rolling.Valid(variance[d.window:]); len(all) > 0 {
		varAll = stat.PopVariance(all, nil)
	}

	llr := make([]float64, n)
	if varAll > epsilon {
		for i := d.minSegment + d.window; i < n-d.minSegment; i++ {
			left := rolling.Valid(variance[d.window:i])
			right := rolling.Valid(variance[i:])
			if len(left) < 10 || len(right) < 10 {
				continue
			}
			varLeft := stat.PopVariance(left, nil)
			varRight := stat.PopVariance(right, nil)
			nl := float64(len(left))
			nr := float64(len(right))
			weightedWithin := (nl*varLeft + nr*varRight) / (nl + nr)
			llr[i] = 1 - weightedWithin/varAll
		}
	}

	detected := false
	detectionIdx := -1
	confidence := 0.0
	if peak, ok := rolling.FindPeak(llr, rolling.PeakMax, 0.15, 0.85); ok && llr[peak] > d.threshold {
		detected = true
		detectionIdx = peak
		confidence = clampConfidence(llr[peak])
	}

	return &Result{
		Detected:   detected,
		Index:      detectionIdx,
		Confidence: confidence,
		Type:       TypeChangePoint,
		Signal:     llr,
		Threshold:  d.threshold,
		Metadata:   map[string]any{"min_segment": d.minSegment},
	}
}
