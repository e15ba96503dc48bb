package simulator

import (
	"math"
	"testing"

	"github.com/signalworks/nucleation/internal/rolling"
)

func seedPtr(s int64) *int64 { return &s }

func TestSimulateDeterminism(t *testing.T) {
	t.Parallel()

	for _, ttype := range Types() {
		cfg := Config{Type: ttype, Duration: 500, NoiseLevel: 0.1, Seed: seedPtr(7)}

		a, err := Simulate(cfg)
		if err != nil {
			t.Fatalf("%s: Simulate: %v", ttype, err)
		}
		b, err := Simulate(cfg)
		if err != nil {
			t.Fatalf("%s: Simulate: %v", ttype, err)
		}

		if a.TransitionIndex != b.TransitionIndex {
			t.Fatalf("%s: transition index differs: %d vs %d", ttype, a.TransitionIndex, b.TransitionIndex)
		}
		for i := range a.State {
			if a.State[i] != b.State[i] {
				t.Fatalf("%s: state diverges at %d: %v vs %v", ttype, i, a.State[i], b.State[i])
			}
		}
	}
}

func TestSimulateLengthInvariants(t *testing.T) {
	t.Parallel()

	for _, ttype := range Types() {
		cfg := Config{Type: ttype, Duration: 800, NoiseLevel: 0.1, Seed: seedPtr(3)}
		res, err := Simulate(cfg)
		if err != nil {
			t.Fatalf("%s: Simulate: %v", ttype, err)
		}

		n := cfg.Duration
		if len(res.Time) != n || len(res.State) != n || len(res.ControlParam) != n || len(res.VarianceTrajectory) != n {
			t.Fatalf("%s: length mismatch: time=%d state=%d control=%d variance=%d want %d",
				ttype, len(res.Time), len(res.State), len(res.ControlParam), len(res.VarianceTrajectory), n)
		}
		if res.TransitionIndex < 0 || res.TransitionIndex >= n {
			t.Fatalf("%s: transition index %d out of range [0,%d)", ttype, res.TransitionIndex, n)
		}
	}
}

func TestSimulateUnknownType(t *testing.T) {
	t.Parallel()

	_, err := Simulate(Config{Type: "catastrophe"})
	if err == nil {
		t.Fatalf("expected error for unknown transition type")
	}
}

func TestFindTransitionIndexBoundaryExclusion(t *testing.T) {
	t.Parallel()

	// The sharpest change sits inside the excluded leading edge; the
	// derivative rule must still report an interior index.
	n := 1000
	state := make([]float64, n)
	for i := 20; i < n; i++ {
		state[i] = 5
	}
	state[600] = 6 // small interior bump

	idx := FindTransitionIndex(state, MethodDerivative, DefaultTransitionWindow, DefaultExcludeEdges)
	lo := int(float64(n) * DefaultExcludeEdges)
	hi := int(float64(n) * (1 - DefaultExcludeEdges))
	if idx < lo || idx >= hi {
		t.Fatalf("index %d outside central region [%d,%d)", idx, lo, hi)
	}
}

func TestFindTransitionIndexStateThreshold(t *testing.T) {
	t.Parallel()

	n := 1000
	state := make([]float64, n)
	for i := 0; i < n; i++ {
		if i >= 400 {
			state[i] = 10
		} else {
			state[i] = math.Sin(float64(i) / 10)
		}
	}

	idx := FindTransitionIndex(state, MethodStateThreshold, DefaultTransitionWindow, DefaultExcludeEdges)
	if idx != 400 {
		t.Fatalf("got %d want 400", idx)
	}
}

func TestFindTransitionIndexVariancePeak(t *testing.T) {
	t.Parallel()

	n := 1000
	state := make([]float64, n)
	// A burst of oscillation around index 500 concentrates the rolling
	// variance there.
	for i := 480; i < 540; i++ {
		if i%2 == 0 {
			state[i] = 3
		} else {
			state[i] = -3
		}
	}

	idx := FindTransitionIndex(state, MethodVariancePeak, DefaultTransitionWindow, DefaultExcludeEdges)
	if idx < 450 || idx > 600 {
		t.Fatalf("variance peak at %d, expected near 500", idx)
	}
}

// Classical critical slowing down: rolling variance around the
// pitchfork transition is measurably higher than 100 steps earlier.
// Single trajectories are noisy, so the contrast is averaged over
// seeds; the near window straddles the transition so the excursion out
// of the collapsing well is part of the signature.
func TestPitchforkCriticalSlowingDown(t *testing.T) {
	t.Parallel()

	var nearSum, farSum float64
	usable := 0
	for seed := int64(1); seed <= 20; seed++ {
		res, err := Simulate(Config{Type: Pitchfork, Duration: 1000, NoiseLevel: 0.1, Seed: seedPtr(seed)})
		if err != nil {
			t.Fatalf("Simulate: %v", err)
		}
		idx := res.TransitionIndex
		if idx < 160 || idx > 950 {
			continue
		}
		near := rolling.NaNMean(res.VarianceTrajectory[idx-10 : idx+40])
		far := rolling.NaNMean(res.VarianceTrajectory[idx-130 : idx-80])
		if math.IsNaN(near) || math.IsNaN(far) {
			continue
		}
		nearSum += near
		farSum += far
		usable++
	}

	if usable < 10 {
		t.Fatalf("only %d of 20 trajectories usable for the window comparison", usable)
	}
	if nearSum <= farSum {
		t.Fatalf("expected mean variance growth toward transition: near=%v far=%v over %d runs",
			nearSum/float64(usable), farSum/float64(usable), usable)
	}
}

// The commitment hypothesis: rolling variance immediately before the
// nucleation transition is lower than in an earlier window.
func TestNucleationVarianceReduction(t *testing.T) {
	t.Parallel()

	res, err := Simulate(Config{Type: Nucleation, Duration: 1000, NoiseLevel: 0.1, Seed: seedPtr(42)})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}

	idx := res.TransitionIndex
	if idx < 100 {
		t.Skipf("transition index %d too early to compare windows", idx)
	}

	at := rolling.NaNMean(res.VarianceTrajectory[idx-30 : idx])
	before := rolling.NaNMean(res.VarianceTrajectory[idx-80 : idx-50])
	if math.IsNaN(at) || math.IsNaN(before) {
		t.Fatalf("variance windows undefined: at=%v before=%v", at, before)
	}
	if at >= before {
		t.Fatalf("expected variance reduction before transition: at=%v before=%v", at, before)
	}
}

func TestGenerateDataset(t *testing.T) {
	t.Parallel()

	results, err := GenerateDataset(DatasetOptions{
		NSimulations: 12,
		NoiseLevels:  []float64{0.05, 0.1},
		DurationMin:  300,
		DurationMax:  500,
		Seed:         seedPtr(11),
	})
	if err != nil {
		t.Fatalf("GenerateDataset: %v", err)
	}
	if len(results) != 12 {
		t.Fatalf("got %d simulations, want 12", len(results))
	}

	// Archetypes cycle through the full grid.
	types := Types()
	for i, res := range results {
		if res.Type != types[i%len(types)] {
			t.Fatalf("simulation %d: type %s, want %s", i, res.Type, types[i%len(types)])
		}
		if res.Config.Duration < 300 || res.Config.Duration >= 500 {
			t.Fatalf("simulation %d: duration %d outside [300,500)", i, res.Config.Duration)
		}
		if f := res.Config.TransitionFraction; f < 0.4 || f >= 0.7 {
			t.Fatalf("simulation %d: transition fraction %v outside [0.4,0.7)", i, f)
		}
	}

	// Same options, same corpus.
	again, err := GenerateDataset(DatasetOptions{
		NSimulations: 12,
		NoiseLevels:  []float64{0.05, 0.1},
		DurationMin:  300,
		DurationMax:  500,
		Seed:         seedPtr(11),
	})
	if err != nil {
		t.Fatalf("GenerateDataset: %v", err)
	}
	for i := range results {
		if results[i].TransitionIndex != again[i].TransitionIndex {
			t.Fatalf("simulation %d not reproducible: %d vs %d", i, results[i].TransitionIndex, again[i].TransitionIndex)
		}
	}
}

func TestGenerateDatasetExcludeCommitment(t *testing.T) {
	t.Parallel()

	results, err := GenerateDataset(DatasetOptions{
		NSimulations:      8,
		DurationMin:       300,
		DurationMax:       400,
		Seed:              seedPtr(5),
		ExcludeCommitment: true,
	})
	if err != nil {
		t.Fatalf("GenerateDataset: %v", err)
	}
	for i, res := range results {
		if res.Type == Nucleation || res.Type == Commitment {
			t.Fatalf("simulation %d: commitment archetype %s present despite exclusion", i, res.Type)
		}
	}
}

func TestParseTransitionType(t *testing.T) {
	t.Parallel()

	if _, ok := ParseTransitionType("hopf"); !ok {
		t.Fatalf("hopf should parse")
	}
	if _, ok := ParseTransitionType("bogus"); ok {
		t.Fatalf("bogus should not parse")
	}
}
