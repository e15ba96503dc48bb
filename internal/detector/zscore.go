package detector

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/signalworks/nucleation/internal/rolling"
)

// RollingZScore scores the rolling variance against the mean and
// standard deviation of a trailing window, offset from the test window,
// and fires on a sustained extreme z-score in either direction.
type RollingZScore struct {
	window       int
	zscoreWindow int
	threshold    float64
	sustain      int
}

// NewRollingZScore builds the detector with research-protocol defaults.
func NewRollingZScore(opts Options) *RollingZScore {
	d := &RollingZScore{
		window:       opts.Window,
		zscoreWindow: opts.ZScoreWindow,
		threshold:    opts.Threshold,
		sustain:      opts.Sustain,
	}
	if d.window <= 0 {
		d.window = 40
	}
	if d.zscoreWindow <= 0 {
		d.zscoreWindow = 80
	}
	if d.threshold <= 0 {
		d.threshold = 2.0
	}
	if d.sustain <= 0 {
		d.sustain = 10
	}
	return d
}

// Type returns the detector identifier.
func (d *RollingZScore) Type() Type { return TypeRollingZScore }

// Detect runs the adaptive z-score rule over the signal.
func (d *RollingZScore) Detect(signal []float64) *Result {
	variance := rolling.Variance(signal, d.window)
	n := len(variance)

	zscore := rolling.NaNs(n)
	for i := d.zscoreWindow + d.window; i < n; i++ {
		valid := rolling.Valid(variance[i-d.zscoreWindow : i-d.window/2])
		if len(valid) <= 10 {
			continue
		}
		mean := stat.Mean(valid, nil)
		std := math.Sqrt(stat.PopVariance(valid, nil))
		if std > epsilon && !math.IsNaN(variance[i]) {
			zscore[i] = (variance[i] - mean) / std
		}
	}

	absZ := make([]float64, n)
	for i, v := range zscore {
		absZ[i] = math.Abs(v)
	}

	detected := false
	detectionIdx := -1
	confidence := 0.0
	if idx, ok := rolling.SustainedCrossing(absZ, d.threshold, rolling.Above, d.sustain, d.zscoreWindow); ok {
		detected = true
		detectionIdx = idx
		hi := idx + d.sustain
		if hi > n {
			hi = n
		}
		confidence = clampConfidence(rolling.NaNMean(absZ[idx:hi]) / d.threshold)
	}

	return &Result{
		Detected:   detected,
		Index:      detectionIdx,
		Confidence: confidence,
		Type:       TypeRollingZScore,
		Signal:     zscore,
		Threshold:  d.threshold,
		Metadata: map[string]any{
			"window":        d.window,
			"zscore_window": d.zscoreWindow,
			"sustain":       d.sustain,
		},
	}
}
