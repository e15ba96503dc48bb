// Package rolling provides the trailing-window statistics shared by the
// phase-transition simulators and the detector bank. Undefined samples
// (e.g. indices before the first full window) are represented as NaN;
// every consumer is expected to guard comparisons explicitly, since a
// comparison against NaN is always false.
package rolling

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Direction selects which side of a threshold SustainedCrossing tests.
type Direction int

const (
	Below Direction = iota
	Above
)

// PeakMode selects whether FindPeak looks for a maximum or a minimum.
type PeakMode int

const (
	PeakMax PeakMode = iota
	PeakMin
)

// Variance computes the trailing rolling population variance of signal.
// Entries before the first full window are NaN.
func Variance(signal []float64, window int) []float64 {
	n := len(signal)
	out := NaNs(n)
	if window <= 0 || window > n {
		return out
	}
	for i := window; i < n; i++ {
		out[i] = stat.PopVariance(signal[i-window:i], nil)
	}
	return out
}

// Mean computes the trailing rolling mean of signal. Entries before the
// first full window are NaN.
func Mean(signal []float64, window int) []float64 {
	n := len(signal)
	out := NaNs(n)
	if window <= 0 || window > n {
		return out
	}
	for i := window; i < n; i++ {
		out[i] = stat.Mean(signal[i-window:i], nil)
	}
	return out
}

// SmoothSame applies a centered boxcar filter of the given width,
// returning a slice of the same length. Out-of-range taps contribute
// zero, so values near the edges are damped toward zero.
func SmoothSame(signal []float64, width int) []float64 {
	n := len(signal)
	out := make([]float64, n)
	if width <= 1 {
		copy(out, signal)
		return out
	}
	offset := (width - 1) / 2
	inv := 1.0 / float64(width)
	for i := 0; i < n; i++ {
		var acc float64
		for j := 0; j < width; j++ {
			idx := i + offset - j
			if idx < 0 || idx >= n {
				continue
			}
			acc += signal[idx]
		}
		out[i] = acc * inv
	}
	return out
}

// Gradient computes central finite differences with one-sided
// differences at the boundaries.
func Gradient(signal []float64) []float64 {
	n := len(signal)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = signal[1] - signal[0]
	out[n-1] = signal[n-1] - signal[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (signal[i+1] - signal[i-1]) / 2
	}
	return out
}

// SustainedCrossing returns the first index at or after start where the
// signal crosses the threshold and stays there: at least 70% of the next
// sustain samples must satisfy the directional test. NaN samples never
// satisfy the test, and a window with fewer than sustain/2 defined
// samples is skipped entirely.
func SustainedCrossing(signal []float64, threshold float64, dir Direction, sustain, start int) (int, bool) {
	n := len(signal)
	if sustain <= 0 {
		return 0, false
	}
	begin := start
	if begin < sustain {
		begin = sustain
	}
	for i := begin; i < n-sustain; i++ {
		if math.IsNaN(signal[i]) {
			continue
		}
		valid := 0
		hits := 0
		for _, v := range signal[i : i+sustain] {
			if !math.IsNaN(v) {
				valid++
			}
			if dir == Below {
				if v < threshold {
					hits++
				}
			} else if v > threshold {
				hits++
			}
		}
		if valid < sustain/2 {
			continue
		}
		if float64(hits)/float64(sustain) > 0.7 {
			return i, true
		}
	}
	return 0, false
}

// FindPeak locates the extreme value of signal inside the central
// [startFrac, endFrac) region, ignoring the edges to avoid boundary
// artifacts. NaN samples are substituted with the region's mean so they
// can never win. Returns false when the region holds no defined sample.
func FindPeak(signal []float64, mode PeakMode, startFrac, endFrac float64) (int, bool) {
	n := len(signal)
	start := int(float64(n) * startFrac)
	end := int(float64(n) * endFrac)
	if end <= start {
		return 0, false
	}
	fill := NaNMean(signal[start:end])
	if math.IsNaN(fill) {
		return 0, false
	}
	best := -1
	var bestVal float64
	for i := start; i < end; i++ {
		v := signal[i]
		if math.IsNaN(v) {
			v = fill
		}
		if best < 0 {
			best = i
			bestVal = v
			continue
		}
		if (mode == PeakMax && v > bestVal) || (mode == PeakMin && v < bestVal) {
			best = i
			bestVal = v
		}
	}
	return best, true
}

// NaNs returns a slice of n NaN values.
func NaNs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// NaNMean returns the mean of the defined samples, or NaN if there are none.
func NaNMean(signal []float64) float64 {
	var sum float64
	count := 0
	for _, v := range signal {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

// NaNStd returns the population standard deviation of the defined
// samples, or NaN if there are none.
func NaNStd(signal []float64) float64 {
	valid := Valid(signal)
	if len(valid) == 0 {
		return math.NaN()
	}
	return math.Sqrt(stat.PopVariance(valid, nil))
}

// NaNMedian returns the median of the defined samples (averaging the two
// central values for even counts), or NaN if there are none.
func NaNMedian(signal []float64) float64 {
	valid := Valid(signal)
	if len(valid) == 0 {
		return math.NaN()
	}
	sort.Float64s(valid)
	mid := len(valid) / 2
	if len(valid)%2 == 1 {
		return valid[mid]
	}
	return (valid[mid-1] + valid[mid]) / 2
}

// Valid returns a new slice holding only the defined samples of signal.
func Valid(signal []float64) []float64 {
	out := make([]float64, 0, len(signal))
	for _, v := range signal {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
