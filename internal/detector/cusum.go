package detector

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/signalworks/nucleation/internal/rolling"
)

// CUSUM accumulates drift-corrected deviations of the standardized
// rolling variance in both directions and fires at the first index
// where the combined magnitude exceeds the threshold. The baseline mean
// and deviation are estimated from the first third of defined variance
// samples.
type CUSUM struct {
	window    int
	drift     float64
	threshold float64
}

// NewCUSUM builds the detector with research-protocol defaults.
func NewCUSUM(opts Options) *CUSUM {
	d := &CUSUM{
		window:    opts.Window,
		drift:     opts.Drift,
		threshold: opts.Threshold,
	}
	if d.window <= 0 {
		d.window = 40
	}
	if d.drift <= 0 {
		d.drift = 0.3
	}
	if d.threshold <= 0 {
		d.threshold = 4.0
	}
	return d
}

// Type returns the detector identifier.
func (d *CUSUM) Type() Type { return TypeCUSUM }

// Detect runs the bidirectional CUSUM rule over the signal.
func (d *CUSUM) Detect(signal []float64) *Result {
	variance := rolling.Variance(signal, d.window)
	n := len(variance)

	validIdx := make([]int, 0, n)
	validVar := make([]float64, 0, n)
	for i, v := range variance {
		if !math.IsNaN(v) {
			validIdx = append(validIdx, i)
			validVar = append(validVar, v)
		}
	}

	if len(validVar) < 20 {
		return &Result{
			Detected:   false,
			Index:      -1,
			Type:       TypeCUSUM,
			Signal:     rolling.NaNs(n),
			Threshold:  d.threshold,
			Metadata:   map[string]any{"error": "insufficient_data"},
		}
	}

	baselineN := len(validVar) / 3
	if baselineN < 10 {
		baselineN = 10
	}
	mean := stat.Mean(validVar[:baselineN], nil)
	std := math.Sqrt(stat.PopVariance(validVar[:baselineN], nil))
	if std < epsilon {
		std = math.Sqrt(stat.PopVariance(validVar, nil))
	}
	if std < epsilon {
		std = 1.0
	}

	m := len(validVar)
	cusumPos := make([]float64, m)
	cusumNeg := make([]float64, m)
	for i := 1; i < m; i++ {
		s := (validVar[i] - mean) / std
		cusumPos[i] = math.Max(0, cusumPos[i-1]+s-d.drift)
		cusumNeg[i] = math.Min(0, cusumNeg[i-1]+s+d.drift)
	}

	cusumAbs := make([]float64, m)
	combined := rolling.NaNs(n)
	for i := 0; i < m; i++ {
		cusumAbs[i] = math.Max(cusumPos[i], -cusumNeg[i])
		combined[validIdx[i]] = cusumAbs[i]
	}

	for i := 0; i < m; i++ {
		if cusumAbs[i] > d.threshold {
			return &Result{
				Detected:   true,
				Index:      validIdx[i],
				Confidence: clampConfidence(cusumAbs[i] / d.threshold),
				Type:       TypeCUSUM,
				Signal:     combined,
				Threshold:  d.threshold,
				Metadata: map[string]any{
					"drift":         d.drift,
					"baseline_mean": mean,
					"baseline_std":  std,
				},
			}
		}
	}

	return &Result{
		Detected:  false,
		Index:     -1,
		Type:      TypeCUSUM,
		Signal:    combined,
		Threshold: d.threshold,
		Metadata:  map[string]any{"drift": d.drift},
	}
}
