package detector

import (
	"math"
	"math/rand/v2"
	"testing"
)

// stepVarianceSignal builds a zero-mean noise signal whose amplitude
// multiplies by scale at the switch index, so the rolling variance
// steps by scale^2.
func stepVarianceSignal(n, switchAt int, scale float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		amp := 1.0
		if i >= switchAt {
			amp = scale
		}
		out[i] = amp * rng.NormFloat64()
	}
	return out
}

func TestFactory(t *testing.T) {
	t.Parallel()

	for _, typ := range Types() {
		d, err := New(typ, Options{})
		if err != nil {
			t.Fatalf("New(%s): %v", typ, err)
		}
		if d.Type() != typ {
			t.Fatalf("New(%s): Type() = %s", typ, d.Type())
		}
	}

	if _, err := New("spectral", Options{}); err == nil {
		t.Fatalf("expected error for unknown detector type")
	}
}

func TestGracefulDegradationShortSignal(t *testing.T) {
	t.Parallel()

	// Shorter than one full rolling window, so every rolling statistic
	// is undefined: every detector must decline to fire instead of
	// panicking.
	short := stepVarianceSignal(30, 15, 4, 1)

	for _, typ := range Types() {
		d, err := New(typ, Options{})
		if err != nil {
			t.Fatalf("New(%s): %v", typ, err)
		}
		res := d.Detect(short)
		if res == nil {
			t.Fatalf("%s: nil result", typ)
		}
		if res.Detected {
			t.Fatalf("%s: fired on insufficient data", typ)
		}
		if res.Index != -1 {
			t.Fatalf("%s: index %d on non-detection, want -1", typ, res.Index)
		}
	}
}

func TestGracefulDegradationEmptyAndConstant(t *testing.T) {
	t.Parallel()

	constant := make([]float64, 600)
	for i := range constant {
		constant[i] = 2.5
	}

	for _, typ := range Types() {
		d, err := New(typ, Options{})
		if err != nil {
			t.Fatalf("New(%s): %v", typ, err)
		}
		if res := d.Detect(nil); res == nil || res.Detected {
			t.Fatalf("%s: empty signal must yield a clean non-detection", typ)
		}
		if res := d.Detect(constant); res == nil {
			t.Fatalf("%s: nil result on constant signal", typ)
		}
	}
}

func TestVarianceRatioDetectsReduction(t *testing.T) {
	t.Parallel()

	// Variance drops by 16x partway through: the reduction branch of
	// the ratio test must fire with the ratio well below threshold.
	signal := stepVarianceSignal(1200, 700, 0.25, 2)

	d := NewVarianceRatio(Options{})
	res := d.Detect(signal)
	if !res.Detected {
		t.Fatalf("expected detection of variance reduction")
	}
	if res.Index < 600 || res.Index > 850 {
		t.Fatalf("detection index %d not near the switch at 700", res.Index)
	}
	if r := res.Signal[res.Index]; math.IsNaN(r) || r >= 1 {
		t.Fatalf("ratio at detection should reflect a reduction, got %v", r)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence %v outside (0,1]", res.Confidence)
	}
}

func TestVarianceRatioDetectsIncrease(t *testing.T) {
	t.Parallel()

	signal := stepVarianceSignal(1200, 700, 4, 3)

	d := NewVarianceRatio(Options{})
	res := d.Detect(signal)
	if !res.Detected {
		t.Fatalf("expected detection of variance increase")
	}
	if res.Index < 600 || res.Index > 850 {
		t.Fatalf("detection index %d not near the switch at 700", res.Index)
	}
	if r := res.Signal[res.Index]; math.IsNaN(r) || r <= 1 {
		t.Fatalf("ratio at detection should reflect an increase, got %v", r)
	}
}

func TestVarianceDerivativePeakDetection(t *testing.T) {
	t.Parallel()

	signal := stepVarianceSignal(1200, 600, 5, 4)

	d := NewVarianceDerivative(Options{})
	res := d.Detect(signal)
	if !res.Detected {
		t.Fatalf("expected detection at the variance jump")
	}
	if res.Index < 550 || res.Index > 750 {
		t.Fatalf("detection index %d not near the switch at 600", res.Index)
	}
}

func TestRollingZScoreSustained(t *testing.T) {
	t.Parallel()

	signal := stepVarianceSignal(1200, 700, 6, 5)

	d := NewRollingZScore(Options{})
	res := d.Detect(signal)
	if !res.Detected {
		t.Fatalf("expected sustained z-score detection")
	}
	// The z-score runs over the autocorrelated rolling variance, so the
	// sustained crossing can latch onto a baseline excursion well before
	// the step; only a defined in-range index is guaranteed.
	if res.Index < 0 || res.Index >= len(signal) {
		t.Fatalf("detection index %d out of range", res.Index)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence %v outside (0,1]", res.Confidence)
	}
}

func TestCUSUMInsufficientData(t *testing.T) {
	t.Parallel()

	d := NewCUSUM(Options{})
	res := d.Detect(make([]float64, 50))
	if res.Detected {
		t.Fatalf("fired on insufficient data")
	}
	if res.Metadata["error"] != "insufficient_data" {
		t.Fatalf("metadata: got %v", res.Metadata)
	}
}

func TestCUSUMDetectsShift(t *testing.T) {
	t.Parallel()

	signal := stepVarianceSignal(1200, 600, 5, 6)

	d := NewCUSUM(Options{})
	res := d.Detect(signal)
	if !res.Detected {
		t.Fatalf("expected CUSUM detection of the variance shift")
	}
	// Cumulative sums over the noisy variance series accumulate from the
	// start of the record, so the trigger index may precede the step.
	if res.Index < 0 || res.Index >= len(signal) {
		t.Fatalf("CUSUM index %d out of range", res.Index)
	}
	if res.Confidence <= 0 || res.Confidence > 1 {
		t.Fatalf("confidence %v outside (0,1]", res.Confidence)
	}
}

func TestChangePointSplitScore(t *testing.T) {
	t.Parallel()

	signal := stepVarianceSignal(1200, 600, 5, 7)

	d := NewChangePoint(Options{})
	res := d.Detect(signal)
	if !res.Detected {
		t.Fatalf("expected change-point detection")
	}
	if res.Index < 500 || res.Index > 800 {
		t.Fatalf("detection index %d not near the switch at 600", res.Index)
	}
}

func TestEnsembleAgreementConsistency(t *testing.T) {
	t.Parallel()

	d := NewEnsemble(Options{})
	minVotes := int(math.Ceil(d.threshold * float64(len(d.detectors))))

	signals := [][]float64{
		stepVarianceSignal(1200, 600, 5, 8),
		stepVarianceSignal(1200, 700, 0.2, 9),
		stepVarianceSignal(900, 450, 1, 10), // no transition
		make([]float64, 600),
	}

	for i, signal := range signals {
		res := d.Detect(signal)
		if !res.Detected {
			continue
		}
		votes, ok := res.Metadata["votes"].(int)
		if !ok {
			t.Fatalf("signal %d: missing vote count in metadata", i)
		}
		if votes < minVotes {
			t.Fatalf("signal %d: fired with %d votes, need at least %d", i, votes, minVotes)
		}
		if res.Index < 0 || res.Index >= len(signal) {
			t.Fatalf("signal %d: fused index %d out of range", i, res.Index)
		}
	}
}

func TestEnsembleFusesNearSwitch(t *testing.T) {
	t.Parallel()

	signal := stepVarianceSignal(1200, 600, 5, 11)

	d := NewEnsemble(Options{})
	res := d.Detect(signal)
	if !res.Detected {
		t.Fatalf("expected ensemble detection on a strong variance step")
	}
	if res.Index < 450 || res.Index > 850 {
		t.Fatalf("fused index %d not near the switch at 600", res.Index)
	}

	votes, ok := res.Metadata["individual_results"].([]Vote)
	if !ok {
		t.Fatalf("individual results missing from metadata")
	}
	if len(votes) != 6 {
		t.Fatalf("got %d sub-detector votes, want 6", len(votes))
	}
}

func TestDetectorsAreStateless(t *testing.T) {
	t.Parallel()

	signal := stepVarianceSignal(1200, 600, 5, 12)
	d := NewVarianceRatio(Options{})

	first := d.Detect(signal)
	second := d.Detect(signal)
	if first.Detected != second.Detected || first.Index != second.Index || first.Confidence != second.Confidence {
		t.Fatalf("repeated Detect calls diverge: %+v vs %+v", first, second)
	}
}
