package detector

import (
	"math"

	"github.com/signalworks/nucleation/internal/rolling"
)

// VarianceDerivative fires on the single most prominent rate of change
// of the rolling variance, normalized by the local mean variance. It
// looks for a global peak rather than a first crossing.
type VarianceDerivative struct {
	window           int
	derivativeWindow int
	threshold        float64
}

// NewVarianceDerivative builds the detector with research-protocol defaults.
func NewVarianceDerivative(opts Options) *VarianceDerivative {
	d := &VarianceDerivative{
		window:           opts.Window,
		derivativeWindow: opts.DerivativeWindow,
		threshold:        opts.Threshold,
	}
	if d.window <= 0 {
		d.window = 40
	}
	if d.derivativeWindow <= 0 {
		d.derivativeWindow = 25
	}
	if d.threshold <= 0 {
		d.threshold = 0.3
	}
	return d
}

// Type returns the detector identifier.
func (d *VarianceDerivative) Type() Type { return TypeVarianceDerivative }

// Detect runs the normalized-derivative rule over the signal.
func (d *VarianceDerivative) Detect(signal []float64) *Result {
	variance := rolling.Variance(signal, d.window)
	n := len(variance)

	derivative := rolling.NaNs(n)
	for i := d.derivativeWindow + d.window; i < n; i++ {
		if math.IsNaN(variance[i]) || math.IsNaN(variance[i-d.derivativeWindow]) {
			continue
		}
		meanVar := rolling.NaNMean(variance[i-d.derivativeWindow : i+1])
		if meanVar > epsilon {
			derivative[i] = (variance[i] - variance[i-d.derivativeWindow]) / meanVar
		}
	}

	absDeriv := make([]float64, n)
	for i, v := range derivative {
		absDeriv[i] = math.Abs(v)
	}

	detected := false
	detectionIdx := -1
	confidence := 0.0
	if peak, ok := rolling.FindPeak(absDeriv, rolling.PeakMax, 0.15, 0.85); ok && !math.IsNaN(absDeriv[peak]) {
		if absDeriv[peak] > d.threshold {
			detected = true
			detectionIdx = peak
			confidence = clampConfidence(absDeriv[peak] / d.threshold)
		}
	}

	return &Result{
		Detected:   detected,
		Index:      detectionIdx,
		Confidence: confidence,
		Type:       TypeVarianceDerivative,
		Signal:     derivative,
		Threshold:  d.threshold,
		Metadata: map[string]any{
			"window":            d.window,
			"derivative_window": d.derivativeWindow,
		},
	}
}
