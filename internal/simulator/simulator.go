// Package simulator generates synthetic time series exhibiting six
// qualitatively distinct transition phenomena: four classical
// bifurcations where variance rises toward the transition, and two
// commitment dynamics where variance falls as the system locks in.
// Integration is Euler-Maruyama with additive noise.
package simulator

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"github.com/signalworks/nucleation/internal/rolling"
)

// varianceWindow is the trailing window of the precomputed variance
// trajectory attached to every result.
const varianceWindow = 50

// Simulate dispatches to the archetype's integrator. An unknown
// transition type is a programming error and fails immediately.
func Simulate(cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	rng := newRNG(cfg.Seed)

	switch cfg.Type {
	case Pitchfork:
		return simulatePitchfork(cfg, rng), nil
	case SaddleNode:
		return simulateSaddleNode(cfg, rng), nil
	case Hopf:
		return simulateHopf(cfg, rng), nil
	case Transcritical:
		return simulateTranscritical(cfg, rng), nil
	case Nucleation:
		return simulateNucleation(cfg, rng), nil
	case Commitment:
		return simulateCommitment(cfg, rng), nil
	default:
		return nil, fmt.Errorf("simulator: unknown transition type %q", cfg.Type)
	}
}

func newRNG(seed *int64) *rand.Rand {
	if seed != nil {
		s := uint64(*seed)
		return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	step := (b - a) / float64(n-1)
	for i := range out {
		out[i] = a + step*float64(i)
	}
	return out
}

func timeAxis(n int, dt float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * dt
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// simulatePitchfork integrates dx = (r*x - x^3)dt + sigma dW with the
// control parameter r ramped from -1 to +1. Crossing r=0 moves the
// state onto one of the +-sqrt(r) branches.
func simulatePitchfork(cfg Config, rng *rand.Rand) *Result {
	n := cfg.Duration
	dt := cfg.Dt
	sigma := cfg.NoiseLevel

	r := linspace(-1.0, 1.0, n)
	x := make([]float64, n)
	x[0] = rng.NormFloat64() * 0.01

	sqrtDt := math.Sqrt(dt)
	for i := 1; i < n; i++ {
		drift := r[i-1]*x[i-1] - x[i-1]*x[i-1]*x[i-1]
		x[i] = x[i-1] + drift*dt + sigma*sqrtDt*rng.NormFloat64()
	}

	return &Result{
		Time:               timeAxis(n, dt),
		State:              x,
		ControlParam:       r,
		TransitionIndex:    FindTransitionIndex(x, MethodDerivative, DefaultTransitionWindow, DefaultExcludeEdges),
		Type:               Pitchfork,
		Config:             cfg,
		VarianceTrajectory: rolling.Variance(x, varianceWindow),
	}
}

// simulateSaddleNode integrates dx = (r + x^2)dt + sigma dW with r
// ramped from -1 to +0.1. The state starts near the stable branch
// -sqrt(-r) and escapes once the fixed point disappears; it is clamped
// to [-5, 5] to bound the blow-up.
func simulateSaddleNode(cfg Config, rng *rand.Rand) *Result {
	n := cfg.Duration
	dt := cfg.Dt
	sigma := cfg.NoiseLevel

	r := linspace(-1.0, 0.1, n)
	x := make([]float64, n)
	x[0] = -1.0 + rng.NormFloat64()*0.01

	sqrtDt := math.Sqrt(dt)
	for i := 1; i < n; i++ {
		drift := r[i-1] + x[i-1]*x[i-1]
		x[i] = clamp(x[i-1]+drift*dt+sigma*sqrtDt*rng.NormFloat64(), -5, 5)
	}

	return &Result{
		Time:               timeAxis(n, dt),
		State:              x,
		ControlParam:       r,
		TransitionIndex:    FindTransitionIndex(x, MethodDerivative, DefaultTransitionWindow, DefaultExcludeEdges),
		Type:               SaddleNode,
		Config:             cfg,
		VarianceTrajectory: rolling.Variance(x, varianceWindow),
	}
}

// simulateHopf integrates the complex normal form
// dz = ((r + i*omega - |z|^2) z)dt + sigma dW with r ramped from -0.5
// to +0.5. The observable is Re z; the ground-truth transition is
// recovered from |z| because the oscillation amplitude, not the
// derivative, carries the signature.
func simulateHopf(cfg Config, rng *rand.Rand) *Result {
	n := cfg.Duration
	dt := cfg.Dt
	sigma := cfg.NoiseLevel
	const omega = 2.0

	r := linspace(-0.5, 0.5, n)
	z := make([]complex128, n)
	z[0] = complex(0.01, 0.01)

	sqrtDt := math.Sqrt(dt)
	invSqrt2 := 1 / math.Sqrt2
	for i := 1; i < n; i++ {
		prev := z[i-1]
		drift := (complex(r[i-1], omega) - complex(cmplx.Abs(prev)*cmplx.Abs(prev), 0)) * prev
		noise := complex(rng.NormFloat64(), rng.NormFloat64())
		z[i] = prev + drift*complex(dt, 0) + noise*complex(sigma*sqrtDt*invSqrt2, 0)
	}

	x := make([]float64, n)
	modulus := make([]float64, n)
	for i, v := range z {
		x[i] = real(v)
		modulus[i] = cmplx.Abs(v)
	}

	return &Result{
		Time:               timeAxis(n, dt),
		State:              x,
		ControlParam:       r,
		TransitionIndex:    FindTransitionIndex(modulus, MethodVariancePeak, DefaultTransitionWindow, DefaultExcludeEdges),
		Type:               Hopf,
		Config:             cfg,
		VarianceTrajectory: rolling.Variance(x, varianceWindow),
	}
}

// simulateTranscritical integrates dx = (r*x - x^2)dt + sigma dW with r
// ramped from -0.5 to +0.5, clamped to [-3, 3].
func simulateTranscritical(cfg Config, rng *rand.Rand) *Result {
	n := cfg.Duration
	dt := cfg.Dt
	sigma := cfg.NoiseLevel

	r := linspace(-0.5, 0.5, n)
	x := make([]float64, n)
	x[0] = 0.01

	sqrtDt := math.Sqrt(dt)
	for i := 1; i < n; i++ {
		drift := r[i-1]*x[i-1] - x[i-1]*x[i-1]
		x[i] = clamp(x[i-1]+drift*dt+sigma*sqrtDt*rng.NormFloat64(), -3, 3)
	}

	return &Result{
		Time:               timeAxis(n, dt),
		State:              x,
		ControlParam:       r,
		TransitionIndex:    FindTransitionIndex(x, MethodDerivative, DefaultTransitionWindow, DefaultExcludeEdges),
		Type:               Transcritical,
		Config:             cfg,
		VarianceTrajectory: rolling.Variance(x, varianceWindow),
	}
}

// simulateNucleation integrates a double-well potential V(x)=(x^2-1)^2
// starting in the left well, with a slow rightward drift. The noise is
// scaled by a commitment factor that shrinks as the step approaches the
// configured target fraction, so variance falls before the transition.
// If the state has not crossed into the right well by the target index,
// a corrective exponential pull forces the crossing afterward. That
// forcing biases the recovered ground truth toward the
// variance-reduction hypothesis; it is preserved from the source model.
func simulateNucleation(cfg Config, rng *rand.Rand) *Result {
	n := cfg.Duration
	dt := cfg.Dt
	sigma := cfg.NoiseLevel
	target := int(float64(n) * cfg.TransitionFraction)
	if target >= n {
		target = n - 1
	}

	x := make([]float64, n)
	x[0] = -1.0

	sqrtDt := math.Sqrt(dt)
	for i := 1; i < n; i++ {
		// dV/dx = 4x(x^2-1); minima at +-1, barrier at 0.
		drift := -4 * x[i-1] * (x[i-1]*x[i-1] - 1)
		drift += 0.001 * float64(i) / float64(n)

		distToTarget := math.Abs(float64(i-target)) / float64(n)
		commitment := clamp(distToTarget*4, 0.2, 1.0)

		x[i] = x[i-1] + drift*dt + sigma*commitment*sqrtDt*rng.NormFloat64()
	}

	if x[target] < 0 {
		for j := target; j < n; j++ {
			x[j] += 0.3 * (1 - math.Exp(-float64(j-target)/30))
		}
	}

	return &Result{
		Time:               timeAxis(n, dt),
		State:              x,
		ControlParam:       linspace(0, 1, n),
		TransitionIndex:    FindTransitionIndex(x, MethodDerivative, DefaultTransitionWindow, DefaultExcludeEdges),
		Type:               Nucleation,
		Config:             cfg,
		VarianceTrajectory: rolling.Variance(x, varianceWindow),
	}
}

// simulateCommitment models a two-phase explore/commit decision. A
// commitment level grows monotonically with superlinear acceleration;
// the noise multiplier is 1 - 0.85*commitment. Below commitment 0.7 the
// drift mean-reverts around 0, above it the drift redirects toward 1.
func simulateCommitment(cfg Config, rng *rand.Rand) *Result {
	n := cfg.Duration
	dt := cfg.Dt
	sigma := cfg.NoiseLevel

	x := make([]float64, n)
	commitment := make([]float64, n)

	sqrtDt := math.Sqrt(dt)
	for i := 1; i < n; i++ {
		commitment[i] = math.Min(1.0, commitment[i-1]+0.001+0.002*float64(i)/float64(n))
		noiseFactor := 1.0 - 0.85*commitment[i]

		var drift float64
		if commitment[i] < 0.7 {
			drift = -0.05 * x[i-1]
		} else {
			drift = 0.3 * (1.0 - x[i-1])
		}

		x[i] = x[i-1] + drift*dt + sigma*noiseFactor*sqrtDt*rng.NormFloat64()
	}

	return &Result{
		Time:               timeAxis(n, dt),
		State:              x,
		ControlParam:       commitment,
		TransitionIndex:    FindTransitionIndex(x, MethodDerivative, DefaultTransitionWindow, DefaultExcludeEdges),
		Type:               Commitment,
		Config:             cfg,
		VarianceTrajectory: rolling.Variance(x, varianceWindow),
	}
}
