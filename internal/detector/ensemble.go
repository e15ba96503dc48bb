package detector

import (
	"math"
	"sort"
)

// defaultWeights are the static per-detector vote weights. They are not
// learned; they encode how much each algorithm's detections are trusted
// when fusing indices.
func defaultWeights() map[Type]float64 {
	return map[Type]float64{
		TypeVarianceRatio:      1.5,
		TypeVarianceDerivative: 1.2,
		TypeVarianceInflection: 1.0,
		TypeRollingZScore:      0.8,
		TypeCUSUM:              1.0,
		TypeChangePoint:        1.3,
	}
}

// Ensemble runs the six base detectors and combines them by weighted
// voting. It fires only when the unweighted fraction of firing
// detectors reaches its threshold; the fused index is the weighted
// median of the voting detectors' indices. This trades any single
// detector's sensitivity for robustness to individual false alarms.
type Ensemble struct {
	window    int
	threshold float64
	weights   map[Type]float64
	detectors []Detector
}

// Vote records one sub-detector's outcome inside the ensemble metadata.
type Vote struct {
	Type       Type    `json:"type"`
	Detected   bool    `json:"detected"`
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
}

// NewEnsemble builds the ensemble and its six sub-detectors. Only the
// shared window propagates to the sub-detectors; their remaining
// parameters stay at their own defaults.
func NewEnsemble(opts Options) *Ensemble {
	d := &Ensemble{
		window:    opts.Window,
		threshold: opts.Threshold,
		weights:   opts.Weights,
	}
	if d.window <= 0 {
		d.window = 40
	}
	if d.threshold <= 0 {
		d.threshold = 0.4
	}
	if d.weights == nil {
		d.weights = defaultWeights()
	}

	sub := Options{Window: d.window}
	d.detectors = []Detector{
		NewVarianceRatio(sub),
		NewVarianceDerivative(sub),
		NewVarianceInflection(sub),
		NewRollingZScore(sub),
		NewCUSUM(sub),
		NewChangePoint(sub),
	}
	return d
}

// Type returns the detector identifier.
func (d *Ensemble) Type() Type { return TypeEnsemble }

func (d *Ensemble) weight(t Type) float64 {
	if w, ok := d.weights[t]; ok {
		return w
	}
	return 1.0
}

// Detect runs every sub-detector and fuses their votes.
func (d *Ensemble) Detect(signal []float64) *Result {
	results := make([]*Result, len(d.detectors))
	for i, sub := range d.detectors {
		results[i] = sub.Detect(signal)
	}

	type detection struct {
		index      int
		confidence float64
		weight     float64
	}
	var detections []detection
	for _, r := range results {
		if r.Detected && r.Index >= 0 {
			detections = append(detections, detection{
				index:      r.Index,
				confidence: r.Confidence,
				weight:     d.weight(r.Type),
			})
		}
	}

	votes := make([]Vote, len(results))
	for i, r := range results {
		votes[i] = Vote{Type: r.Type, Detected: r.Detected, Index: r.Index, Confidence: r.Confidence}
	}

	if len(detections) == 0 {
		return &Result{
			Detected:  false,
			Index:     -1,
			Type:      TypeEnsemble,
			Signal:    make([]float64, len(signal)),
			Threshold: d.threshold,
			Metadata: map[string]any{
				"votes":     0,
				"detectors": len(d.detectors),
			},
		}
	}

	voteFraction := float64(len(detections)) / float64(len(d.detectors))
	if voteFraction < d.threshold {
		return &Result{
			Detected:  false,
			Index:     -1,
			Type:      TypeEnsemble,
			Signal:    make([]float64, len(signal)),
			Threshold: d.threshold,
			Metadata: map[string]any{
				"votes":         len(detections),
				"detectors":     len(d.detectors),
				"vote_fraction": voteFraction,
			},
		}
	}

	// Weighted median of the voting indices.
	sort.Slice(detections, func(i, j int) bool { return detections[i].index < detections[j].index })
	cumsum := make([]float64, len(detections))
	total := 0.0
	for i, det := range detections {
		total += det.weight
		cumsum[i] = total
	}
	half := total / 2
	pos := sort.Search(len(cumsum), func(i int) bool { return cumsum[i] >= half })
	if pos >= len(detections) {
		pos = len(detections) - 1
	}
	detectionIdx := detections[pos].index

	weightedConf := 0.0
	for _, det := range detections {
		weightedConf += det.confidence * det.weight
	}
	weightedConf /= total

	// Diagnostic trace: weighted sum of the sub-detector traces, each
	// peak-normalized to [-1,1] before combination.
	combined := make([]float64, len(signal))
	weightSum := 0.0
	for _, r := range results {
		weightSum += d.weight(r.Type)

		anyDefined := false
		for _, v := range r.Signal {
			if !math.IsNaN(v) {
				anyDefined = true
				break
			}
		}
		if !anyDefined {
			continue
		}

		s := make([]float64, len(r.Signal))
		smax := 0.0
		for i, v := range r.Signal {
			if math.IsNaN(v) {
				v = 0
			}
			s[i] = v
			if a := math.Abs(v); a > smax {
				smax = a
			}
		}
		w := d.weight(r.Type)
		for i, v := range s {
			if smax > 0 {
				v /= smax
			}
			if i < len(combined) {
				combined[i] += v * w
			}
		}
	}
	if weightSum > 0 {
		for i := range combined {
			combined[i] /= weightSum
		}
	}

	return &Result{
		Detected:   true,
		Index:      detectionIdx,
		Confidence: weightedConf,
		Type:       TypeEnsemble,
		Signal:     combined,
		Threshold:  d.threshold,
		Metadata: map[string]any{
			"votes":              len(detections),
			"detectors":          len(d.detectors),
			"vote_fraction":      voteFraction,
			"individual_results": votes,
		},
	}
}
