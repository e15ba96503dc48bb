package simulator

import (
	"math"

	"github.com/signalworks/nucleation/internal/rolling"
)

// Method selects how the ground-truth transition index is recovered
// from a generated trajectory. The recovered index is distinct from the
// configured target fraction, which would leak information.
type Method string

const (
	// MethodDerivative finds the index of maximum absolute first
	// difference of a smoothed trajectory.
	MethodDerivative Method = "derivative"
	// MethodVariancePeak finds the index of maximum rolling variance
	// within the central region.
	MethodVariancePeak Method = "variance_peak"
	// MethodStateThreshold finds the first sustained departure beyond
	// 2.5 baseline standard deviations from an early-window baseline.
	MethodStateThreshold Method = "state_threshold"
)

const (
	// DefaultTransitionWindow is the rolling window used by the
	// variance_peak rule.
	DefaultTransitionWindow = 30
	// DefaultExcludeEdges is the fraction of samples excluded at each
	// boundary to avoid edge artifacts.
	DefaultExcludeEdges = 0.1
)

// FindTransitionIndex recovers the transition point from state dynamics
// using the given rule. Unrecognized methods fall back to the midpoint,
// as do degenerate signals.
func FindTransitionIndex(state []float64, method Method, window int, excludeEdges float64) int {
	n := len(state)
	if n == 0 {
		return 0
	}
	start := int(float64(n) * excludeEdges)
	end := int(float64(n) * (1 - excludeEdges))

	switch method {
	case MethodDerivative:
		smoothWindow := 20
		if n/20 < smoothWindow {
			smoothWindow = n / 20
		}
		smoothed := state
		if smoothWindow > 1 {
			smoothed = rolling.SmoothSame(state, smoothWindow)
		}

		// First difference; index i holds |smoothed[i+1]-smoothed[i]|.
		deriv := make([]float64, n-1)
		for i := range deriv {
			deriv[i] = math.Abs(smoothed[i+1] - smoothed[i])
		}

		peak := n / 2
		if end > start {
			hi := end
			if hi > len(deriv) {
				hi = len(deriv)
			}
			best := start
			for i := start; i < hi; i++ {
				if deriv[i] > deriv[best] {
					best = i
				}
			}
			peak = best
		}
		if peak > n-1 {
			peak = n - 1
		}
		return peak

	case MethodVariancePeak:
		varTraj := rolling.Variance(state, window)
		anyValid := false
		for i := start; i < end && i < n; i++ {
			if !math.IsNaN(varTraj[i]) {
				anyValid = true
				break
			}
		}
		if !anyValid {
			return n / 2
		}
		best := 0
		bestVal := 0.0
		for i := range varTraj {
			v := varTraj[i]
			if i < start || i >= end || math.IsNaN(v) {
				v = 0
			}
			if v > bestVal {
				best = i
				bestVal = v
			}
		}
		return best

	case MethodStateThreshold:
		baselineEnd := n / 5
		if baselineEnd < start {
			baselineEnd = start
		}
		if baselineEnd == 0 {
			return n / 2
		}
		baseline := state[:baselineEnd]
		mean := rolling.NaNMean(baseline)
		std := rolling.NaNStd(baseline)
		if std < 1e-10 {
			std = rolling.NaNStd(state) / 3
		}

		threshold := 2.5 * std
		for i := start; i < end && i < n; i++ {
			if math.Abs(state[i]-mean) > threshold {
				return i
			}
		}
		return n / 2
	}

	return n / 2
}
