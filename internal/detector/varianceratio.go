package detector

import (
	"math"

	"github.com/signalworks/nucleation/internal/rolling"
)

// VarianceRatio compares rolling variance against a trailing adaptive
// baseline, offset from the test window to avoid overlap, and fires on
// a sustained deviation in either direction: a ratio below the
// threshold signals commitment-style variance reduction, a ratio above
// 1/threshold the classical critical-slowing-down increase.
type VarianceRatio struct {
	window         int
	baselineWindow int
	threshold      float64
	sustain        int
}

// NewVarianceRatio builds the detector with research-protocol defaults.
func NewVarianceRatio(opts Options) *VarianceRatio {
	d := &VarianceRatio{
		window:         opts.Window,
		baselineWindow: opts.BaselineWindow,
		threshold:      opts.Threshold,
		sustain:        opts.Sustain,
	}
	if d.window <= 0 {
		d.window = 40
	}
	if d.baselineWindow <= 0 {
		d.baselineWindow = 80
	}
	if d.threshold <= 0 {
		d.threshold = 0.4
	}
	if d.sustain <= 0 {
		d.sustain = 15
	}
	return d
}

// Type returns the detector identifier.
func (d *VarianceRatio) Type() Type { return TypeVarianceRatio }

// Detect runs the variance-ratio rule over the signal.
func (d *VarianceRatio) Detect(signal []float64) *Result {
	n := len(signal)
	variance := rolling.Variance(signal, d.window)

	baseline := rolling.NaNs(n)
	for i := d.baselineWindow + d.window; i < n; i++ {
		baseline[i] = rolling.NaNMean(variance[i-d.baselineWindow : i-d.window/2])
	}

	med := rolling.NaNMedian(variance)
	for i := range baseline {
		if math.IsNaN(baseline[i]) {
			baseline[i] = med
		}
		if baseline[i] < epsilon {
			baseline[i] = epsilon
		}
	}

	ratio := make([]float64, n)
	for i := range ratio {
		ratio[i] = variance[i] / baseline[i]
	}

	idxLow, okLow := rolling.SustainedCrossing(ratio, d.threshold, rolling.Below, d.sustain, d.baselineWindow)
	idxHigh, okHigh := rolling.SustainedCrossing(ratio, 1/d.threshold, rolling.Above, d.sustain, d.baselineWindow)

	detected := false
	detectionIdx := -1
	confidence := 0.0
	switch {
	case okLow && okHigh:
		detected = true
		detectionIdx = idxLow
		if idxHigh < idxLow {
			detectionIdx = idxHigh
		}
	case okLow:
		detected = true
		detectionIdx = idxLow
	case okHigh:
		detected = true
		detectionIdx = idxHigh
	}

	if detected {
		r := ratio[detectionIdx]
		if math.IsNaN(r) {
			r = 1.0
		}
		confidence = clampConfidence(math.Abs(1 - r))
	}

	return &Result{
		Detected:   detected,
		Index:      detectionIdx,
		Confidence: confidence,
		Type:       TypeVarianceRatio,
		Signal:     ratio,
		Threshold:  d.threshold,
		Metadata: map[string]any{
			"window":          d.window,
			"baseline_window": d.baselineWindow,
			"sustain":         d.sustain,
		},
	}
}
