package harness

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/signalworks/nucleation/internal/detector"
	"github.com/signalworks/nucleation/internal/simulator"
)

func TestMetricsArithmetic(t *testing.T) {
	t.Parallel()

	m := &Metrics{TruePositives: 8, FalsePositives: 2, FalseNegatives: 2}
	if got := m.Precision(); got != 0.8 {
		t.Fatalf("precision = %v, want 0.8", got)
	}
	if got := m.Recall(); got != 0.8 {
		t.Fatalf("recall = %v, want 0.8", got)
	}
	if got := m.F1(); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("f1 = %v, want 0.8", got)
	}

	{
		// A detector that never fires has zero precision and recall,
		// and F1 must not divide by zero.
		silent := &Metrics{FalseNegatives: 10}
		if silent.Precision() != 0 || silent.Recall() != 0 || silent.F1() != 0 {
			t.Fatalf("silent detector metrics must all be zero")
		}
	}

	{
		empty := &Metrics{}
		if empty.Accuracy() != 0 {
			t.Fatalf("accuracy on empty corpus must be zero")
		}
	}
}

func TestWithinTolerance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		index, truth, tol int
		want              bool
	}{
		{100, 100, 0, true},
		{100, 150, 50, true},
		{100, 151, 50, false},
		{150, 100, 50, true},
		{49, 100, 50, false},
	}
	for _, tc := range cases {
		if got := WithinTolerance(tc.index, tc.truth, tc.tol); got != tc.want {
			t.Fatalf("WithinTolerance(%d, %d, %d) = %v, want %v", tc.index, tc.truth, tc.tol, got, tc.want)
		}
	}
}

func TestFoldClassifiesMistimedDetectionAsFalseAlarm(t *testing.T) {
	t.Parallel()

	d, err := detector.New(detector.TypeVarianceRatio, detector.Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := &Harness{
		cfg:       ExperimentConfig{Tolerance: 50}.withDefaults(),
		detectors: map[detector.Type]detector.Detector{detector.TypeVarianceRatio: d},
	}

	hit, hitErr := 500, 0
	mistimed, mistimedErr := 700, 300
	outcomes := []simOutcome{
		{
			record: SimulationRecord{
				TransitionType:      simulator.Pitchfork,
				TrueTransitionIndex: 500,
				Detections: map[detector.Type]DetectionRecord{
					detector.TypeVarianceRatio: {Detected: true, Index: &hit, Confidence: 0.9, Error: &hitErr},
				},
			},
			runtimes: map[detector.Type]float64{detector.TypeVarianceRatio: 0.1},
		},
		{
			record: SimulationRecord{
				TransitionType:      simulator.Pitchfork,
				TrueTransitionIndex: 400,
				Detections: map[detector.Type]DetectionRecord{
					detector.TypeVarianceRatio: {Detected: true, Index: &mistimed, Confidence: 0.4, Error: &mistimedErr},
				},
			},
			runtimes: map[detector.Type]float64{detector.TypeVarianceRatio: 0.1},
		},
	}

	m := h.fold(outcomes)[detector.TypeVarianceRatio]
	if m.TruePositives != 1 || m.FalsePositives != 1 {
		t.Fatalf("TP=%d FP=%d, want 1/1", m.TruePositives, m.FalsePositives)
	}
	// A mistimed firing is a false alarm, not additionally a miss: the
	// detector did not stay silent on that simulation.
	if m.FalseNegatives != 0 {
		t.Fatalf("FN=%d, want 0", m.FalseNegatives)
	}
	if got := m.Recall(); got != 1 {
		t.Fatalf("recall = %v, want 1", got)
	}
	if got := m.Precision(); got != 0.5 {
		t.Fatalf("precision = %v, want 0.5", got)
	}
}

func TestRunProducesCompleteRecords(t *testing.T) {
	t.Parallel()

	h, err := New(ExperimentConfig{
		Name:         "smoke",
		Detectors:    []detector.Type{detector.TypeVarianceRatio, detector.TypeEnsemble},
		NSimulations: 12,
		NoiseLevels:  []float64{0.05, 0.1},
		DurationMin:  600,
		DurationMax:  900,
		Seed:         7,
		Concurrency:  4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Details) != 12 {
		t.Fatalf("got %d detail records, want 12", len(res.Details))
	}
	for i, rec := range res.Details {
		if rec.SimulationID != i {
			t.Fatalf("record %d has id %d", i, rec.SimulationID)
		}
		if len(rec.Detections) != 2 {
			t.Fatalf("record %d has %d detections, want 2", i, len(rec.Detections))
		}
		for typ, det := range rec.Detections {
			if det.Detected && det.Index == nil {
				t.Fatalf("record %d: %s detected without an index", i, typ)
			}
			if !det.Detected && det.Index != nil {
				t.Fatalf("record %d: %s carries an index without firing", i, typ)
			}
		}
	}

	for _, typ := range []detector.Type{detector.TypeVarianceRatio, detector.TypeEnsemble} {
		m, ok := res.Metrics[typ]
		if !ok {
			t.Fatalf("missing metrics for %s", typ)
		}
		total := m.TruePositives + m.FalsePositives + m.FalseNegatives
		if total != 12 {
			t.Fatalf("%s: TP+FP+FN = %d, want 12 (one classification per simulation)", typ, total)
		}
	}
}

func TestRunDeterministicAcrossConcurrency(t *testing.T) {
	t.Parallel()

	run := func(concurrency int) *ExperimentResult {
		h, err := New(ExperimentConfig{
			Detectors:    []detector.Type{detector.TypeVarianceRatio, detector.TypeCUSUM},
			NSimulations: 10,
			NoiseLevels:  []float64{0.1},
			DurationMin:  600,
			DurationMax:  900,
			Seed:         21,
			Concurrency:  concurrency,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res, err := h.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}

	seq := run(1)
	par := run(8)

	for typ, m := range seq.Metrics {
		pm := par.Metrics[typ]
		if pm == nil {
			t.Fatalf("parallel run missing %s", typ)
		}
		if m.TruePositives != pm.TruePositives || m.FalsePositives != pm.FalsePositives || m.FalseNegatives != pm.FalseNegatives {
			t.Fatalf("%s: counts diverge between sequential and parallel runs", typ)
		}
		if m.MeanDetectionError != pm.MeanDetectionError {
			t.Fatalf("%s: timing stats diverge between runs", typ)
		}
	}
	for i := range seq.Details {
		for typ, det := range seq.Details[i].Detections {
			p := par.Details[i].Detections[typ]
			if det.Detected != p.Detected {
				t.Fatalf("record %d %s: detection differs across concurrency", i, typ)
			}
		}
	}
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()

	h, err := New(ExperimentConfig{
		Detectors:    []detector.Type{detector.TypeVarianceRatio},
		NSimulations: 4,
		DurationMin:  600,
		DurationMax:  700,
		Seed:         3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Run(ctx); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
}

func TestToleranceMonotonicity(t *testing.T) {
	t.Parallel()

	f1At := func(tolerance int) float64 {
		h, err := New(ExperimentConfig{
			Detectors:    []detector.Type{detector.TypeVarianceRatio},
			NSimulations: 24,
			NoiseLevels:  []float64{0.1},
			DurationMin:  600,
			DurationMax:  1000,
			Tolerance:    tolerance,
			Seed:         42,
			Concurrency:  4,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res, err := h.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res.Metrics[detector.TypeVarianceRatio].F1()
	}

	// Widening the window can only turn misses into hits.
	if loose, tight := f1At(100), f1At(25); loose < tight {
		t.Fatalf("F1 decreased when the tolerance widened: %.3f < %.3f", loose, tight)
	}
}

func TestEnsembleTracksConstituents(t *testing.T) {
	t.Parallel()

	h, err := New(ExperimentConfig{
		NSimulations: 96,
		NoiseLevels:  []float64{0.05, 0.1, 0.15, 0.2},
		DurationMin:  500,
		DurationMax:  1500,
		Seed:         42,
		Concurrency:  8,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	minF1 := 2.0
	for _, typ := range detector.BaseTypes() {
		if f1 := res.Metrics[typ].F1(); f1 < minF1 {
			minF1 = f1
		}
	}
	ensembleF1 := res.Metrics[detector.TypeEnsemble].F1()

	// Weighted voting should never be meaningfully worse than the
	// weakest constituent; a small slack absorbs sampling noise.
	if ensembleF1 < minF1-0.05 {
		t.Fatalf("ensemble F1 %.3f fell below weakest constituent %.3f", ensembleF1, minF1)
	}
}

func TestVarianceRatioDegradesWithNoise(t *testing.T) {
	t.Parallel()

	// The ratio test keys on the variance reduction of the nucleation
	// archetype, and its sustained-crossing rule fires while the noise
	// envelope is still shrinking, ahead of the transition itself. The
	// corpus and tolerance are chosen so that lead stays inside the
	// window: what varies with noise is whether the reduction is still
	// legible at all.
	f1At := func(noise float64) float64 {
		h, err := New(ExperimentConfig{
			Detectors:    []detector.Type{detector.TypeVarianceRatio},
			NSimulations: 32,
			Types:        []simulator.TransitionType{simulator.Nucleation},
			NoiseLevels:  []float64{noise},
			DurationMin:  500,
			DurationMax:  700,
			Tolerance:    160,
			Seed:         42,
			Concurrency:  8,
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		res, err := h.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res.Metrics[detector.TypeVarianceRatio].F1()
	}

	if quiet, loud := f1At(0.05), f1At(0.5); quiet < loud-0.1 {
		t.Fatalf("F1 at low noise (%.3f) should not trail F1 at high noise (%.3f)", quiet, loud)
	}
}

func TestRunAblationSweepsNoise(t *testing.T) {
	t.Parallel()

	res, err := RunAblation(context.Background(), AblationConfig{
		Parameter: ParamNoiseLevel,
		Values:    []float64{0.05, 0.2},
		Base: ExperimentConfig{
			Detectors:    []detector.Type{detector.TypeVarianceRatio},
			NSimulations: 8,
			DurationMin:  600,
			DurationMax:  800,
			Seed:         5,
			Concurrency:  4,
		},
	})
	if err != nil {
		t.Fatalf("RunAblation: %v", err)
	}

	curve := res.Curves[detector.TypeVarianceRatio]
	if len(curve) != 2 {
		t.Fatalf("got %d sweep points, want 2", len(curve))
	}
	for i, pt := range curve {
		if pt.Value != res.Values[i] {
			t.Fatalf("point %d has value %g, want %g", i, pt.Value, res.Values[i])
		}
		if pt.F1 < 0 || pt.F1 > 1 {
			t.Fatalf("point %d has F1 %g outside [0,1]", i, pt.F1)
		}
	}
}

func TestRunAblationRejectsUnknownParameter(t *testing.T) {
	t.Parallel()

	_, err := RunAblation(context.Background(), AblationConfig{
		Parameter: "temperature",
		Values:    []float64{1},
	})
	if err == nil {
		t.Fatalf("expected error for unknown sweep parameter")
	}
}

// realStepSeries fakes an annotated field series: unit noise whose
// amplitude quadruples at the annotated index.
func realStepSeries(n, switchAt int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		amp := 1.0
		if i >= switchAt {
			amp = 4.0
		}
		out[i] = amp * rng.NormFloat64()
	}
	return out
}

func TestEvaluateRealData(t *testing.T) {
	t.Parallel()

	ds := RealWorldDataset{
		Name:             "membrane_trace",
		Values:           realStepSeries(1200, 700, 17),
		KnownTransitions: []int{700},
	}

	res, err := EvaluateRealData(ds, []detector.Type{detector.TypeVarianceRatio, detector.TypeCUSUM}, nil, 80)
	if err != nil {
		t.Fatalf("EvaluateRealData: %v", err)
	}
	if res.Dataset != "membrane_trace" || res.Length != 1200 {
		t.Fatalf("dataset header mismatch: %+v", res)
	}
	if len(res.Detections) != 2 {
		t.Fatalf("got %d detections, want 2", len(res.Detections))
	}
	for _, det := range res.Detections {
		if det.Detected && det.MatchedTransition == -1 && !det.FalseAlarm {
			t.Fatalf("%s: unmatched detection not flagged as false alarm", det.Detector)
		}
		if !det.Detected && det.FalseAlarm {
			t.Fatalf("%s: false alarm without a detection", det.Detector)
		}
	}
	if res.Matched+res.FalseAlarms > len(res.Detections) {
		t.Fatalf("match bookkeeping overflows: %+v", res)
	}
}

func TestEvaluateRealDataNoAnnotations(t *testing.T) {
	t.Parallel()

	ds := RealWorldDataset{
		Name:   "unlabelled",
		Values: realStepSeries(1000, 500, 19),
	}
	res, err := EvaluateRealData(ds, []detector.Type{detector.TypeVarianceRatio}, nil, 0)
	if err != nil {
		t.Fatalf("EvaluateRealData: %v", err)
	}
	// Without annotations every detection is a false alarm by
	// construction.
	if res.Matched != 0 {
		t.Fatalf("matched %d transitions on an unlabelled series", res.Matched)
	}
}

func TestLoadDatasets(t *testing.T) {
	t.Parallel()

	datasets := []RealWorldDataset{
		{Name: "a", Values: []float64{1, 2, 3}, KnownTransitions: []int{1}},
		{Name: "b", Values: []float64{4, 5, 6}},
	}
	raw, err := json.Marshal(datasets)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "datasets.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := LoadDatasets(path)
	if err != nil {
		t.Fatalf("LoadDatasets: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Name != "a" || len(loaded[1].Values) != 3 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	{
		bad := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(bad, []byte(`[{"name":"empty","values":[]}]`), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := LoadDatasets(bad); err == nil {
			t.Fatalf("expected error for dataset without values")
		}
	}

	if _, err := LoadDatasets(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSimulationMetadataSurvivesScoring(t *testing.T) {
	t.Parallel()

	h, err := New(ExperimentConfig{
		Detectors:    []detector.Type{detector.TypeVarianceRatio},
		NSimulations: 6,
		Types:        []simulator.TransitionType{simulator.Pitchfork, simulator.Nucleation},
		NoiseLevels:  []float64{0.1},
		DurationMin:  600,
		DurationMax:  800,
		Seed:         11,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, rec := range res.Details {
		want := simulator.Pitchfork
		if i%2 == 1 {
			want = simulator.Nucleation
		}
		if rec.TransitionType != want {
			t.Fatalf("record %d: type %s, want %s", i, rec.TransitionType, want)
		}
		if rec.TrueTransitionIndex <= 0 || rec.TrueTransitionIndex >= rec.Duration {
			t.Fatalf("record %d: implausible transition index %d", i, rec.TrueTransitionIndex)
		}
	}
}
