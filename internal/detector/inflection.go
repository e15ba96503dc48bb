package detector

import (
	"math"

	"github.com/signalworks/nucleation/internal/rolling"
)

// VarianceInflection finds the most prominent curvature change of a
// smoothed rolling-variance trace. An inflection captures both the
// critical-slowing-down increase and the commitment decrease.
type VarianceInflection struct {
	window       int
	smoothWindow int
	threshold    float64
}

// NewVarianceInflection builds the detector with research-protocol defaults.
func NewVarianceInflection(opts Options) *VarianceInflection {
	d := &VarianceInflection{
		window:       opts.Window,
		smoothWindow: opts.SmoothWindow,
		threshold:    opts.Threshold,
	}
	if d.window <= 0 {
		d.window = 40
	}
	if d.smoothWindow <= 0 {
		d.smoothWindow = 20
	}
	if d.threshold <= 0 {
		d.threshold = 0.2
	}
	return d
}

// Type returns the detector identifier.
func (d *VarianceInflection) Type() Type { return TypeVarianceInflection }

// Detect runs the curvature-peak rule over the signal.
func (d *VarianceInflection) Detect(signal []float64) *Result {
	variance := rolling.Variance(signal, d.window)
	n := len(variance)

	med := rolling.NaNMedian(variance)
	filled := make([]float64, n)
	for i, v := range variance {
		if math.IsNaN(v) {
			filled[i] = med
		} else {
			filled[i] = v
		}
	}

	smoothed := rolling.SmoothSame(filled, d.smoothWindow)
	d1 := rolling.Gradient(smoothed)
	d2 := rolling.Gradient(d1)

	inflection := make([]float64, n)
	for i, v := range d2 {
		inflection[i] = math.Abs(v)
	}

	detected := false
	detectionIdx := -1
	confidence := 0.0
	if peak, ok := rolling.FindPeak(inflection, rolling.PeakMax, 0.15, 0.85); ok {
		score := inflection[peak]
		normalized := 0.0
		if typical := rolling.NaNStd(inflection); typical > epsilon {
			normalized = score / typical
		}
		if normalized > d.threshold {
			detected = true
			detectionIdx = peak
			confidence = clampConfidence(normalized / (d.threshold * 3))
		}
	}

	return &Result{
		Detected:   detected,
		Index:      detectionIdx,
		Confidence: confidence,
		Type:       TypeVarianceInflection,
		Signal:     inflection,
		Threshold:  d.threshold,
		Metadata: map[string]any{
			"window":        d.window,
			"smooth_window": d.smoothWindow,
		},
	}
}
