// Package harness runs detector banks over simulated transition
// corpora and scores them against ground truth.
package harness

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/signalworks/nucleation/internal/detector"
	"github.com/signalworks/nucleation/internal/simulator"
)

// Harness evaluates a fixed bank of detectors over simulated corpora.
type Harness struct {
	cfg       ExperimentConfig
	detectors map[detector.Type]detector.Detector
}

// New builds a harness from the experiment config, instantiating one
// detector per configured type.
func New(cfg ExperimentConfig) (*Harness, error) {
	cfg = cfg.withDefaults()

	bank := make(map[detector.Type]detector.Detector, len(cfg.Detectors))
	for _, typ := range cfg.Detectors {
		opts := cfg.DetectorOptions[typ]
		d, err := detector.New(typ, opts)
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
		bank[typ] = d
	}

	return &Harness{cfg: cfg, detectors: bank}, nil
}

// simOutcome carries one simulation's detections plus the per-detector
// runtimes, keyed into the result slice by simulation index so the fold
// is deterministic regardless of worker scheduling.
type simOutcome struct {
	record   SimulationRecord
	runtimes map[detector.Type]float64
}

// Run generates the corpus, runs every detector on every simulation and
// folds the outcomes into per-detector metrics. Simulations are scored
// concurrently up to the configured bound; the fold order is fixed by
// simulation index, so results are reproducible for a given seed.
func (h *Harness) Run(ctx context.Context) (*ExperimentResult, error) {
	if h == nil {
		return nil, fmt.Errorf("harness: nil harness")
	}
	start := time.Now()

	seed := h.cfg.Seed
	sims, err := simulator.GenerateDataset(simulator.DatasetOptions{
		NSimulations: h.cfg.NSimulations,
		Types:        h.cfg.Types,
		NoiseLevels:  h.cfg.NoiseLevels,
		DurationMin:  h.cfg.DurationMin,
		DurationMax:  h.cfg.DurationMax,
		Seed:         &seed,
	})
	if err != nil {
		return nil, fmt.Errorf("harness: generate dataset: %w", err)
	}

	outcomes := make([]simOutcome, len(sims))

	sem := make(chan struct{}, h.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, sim := range sims {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, fmt.Errorf("harness: %w", ctx.Err())
		}
		wg.Add(1)
		go func(i int, sim *simulator.Result) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = h.scoreSimulation(i, sim)
		}(i, sim)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}

	metrics := h.fold(outcomes)

	details := make([]SimulationRecord, len(outcomes))
	for i, o := range outcomes {
		details[i] = o.record
	}

	return &ExperimentResult{
		Config:         h.cfg,
		Metrics:        metrics,
		Details:        details,
		Timestamp:      start.UTC(),
		RuntimeSeconds: time.Since(start).Seconds(),
	}, nil
}

// scoreSimulation runs every detector on one simulation and classifies
// each outcome against the true transition index.
func (h *Harness) scoreSimulation(id int, sim *simulator.Result) simOutcome {
	record := SimulationRecord{
		SimulationID:        id,
		TransitionType:      sim.Type,
		TrueTransitionIndex: sim.TransitionIndex,
		Duration:            len(sim.State),
		NoiseLevel:          sim.Config.NoiseLevel,
		Detections:          make(map[detector.Type]DetectionRecord, len(h.detectors)),
	}
	runtimes := make(map[detector.Type]float64, len(h.detectors))

	for typ, d := range h.detectors {
		t0 := time.Now()
		res := d.Detect(sim.State)
		runtimes[typ] = float64(time.Since(t0).Microseconds()) / 1000.0

		rec := DetectionRecord{Detected: res.Detected, Confidence: res.Confidence}
		if res.Detected && res.Index >= 0 {
			idx := res.Index
			errVal := idx - sim.TransitionIndex
			rec.Index = &idx
			rec.Error = &errVal
		}
		record.Detections[typ] = rec
	}

	return simOutcome{record: record, runtimes: runtimes}
}

// WithinTolerance reports whether a detection at index counts as
// correct for a transition at truth.
func WithinTolerance(index, truth, tolerance int) bool {
	diff := index - truth
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// fold reduces per-simulation outcomes into per-detector metrics.
func (h *Harness) fold(outcomes []simOutcome) map[detector.Type]*Metrics {
	metrics := make(map[detector.Type]*Metrics, len(h.detectors))

	for typ := range h.detectors {
		m := &Metrics{
			Detector: typ,
			PerType:  make(map[simulator.TransitionType]TypeErrorStats),
		}

		var (
			signedErrs []float64
			absErrs    []float64
			confs      []float64
			corrects   []float64
			runtimes   []float64
			perType    = make(map[simulator.TransitionType][]float64)
		)

		for _, o := range outcomes {
			rec := o.record.Detections[typ]
			runtimes = append(runtimes, o.runtimes[typ])

			if !rec.Detected || rec.Index == nil {
				// A silent detector on a corpus where every run has a
				// transition is a miss.
				m.FalseNegatives++
				confs = append(confs, 0)
				corrects = append(corrects, 0)
				continue
			}

			confs = append(confs, rec.Confidence)
			if WithinTolerance(*rec.Index, o.record.TrueTransitionIndex, h.cfg.Tolerance) {
				m.TruePositives++
				corrects = append(corrects, 1)
				e := float64(*rec.Error)
				signedErrs = append(signedErrs, e)
				absErrs = append(absErrs, math.Abs(e))
				perType[o.record.TransitionType] = append(perType[o.record.TransitionType], e)
			} else {
				// Fired outside the tolerance window: a false alarm only.
				// Misses are counted solely on the silent branch.
				m.FalsePositives++
				corrects = append(corrects, 0)
			}
		}

		if len(signedErrs) > 0 {
			m.MeanDetectionError = stat.Mean(signedErrs, nil)
			m.StdDetectionError = math.Sqrt(stat.PopVariance(signedErrs, nil))
			m.MeanAbsError = stat.Mean(absErrs, nil)
			m.MedianAbsError = median(absErrs)
		}
		if len(confs) > 0 {
			m.MeanConfidence = stat.Mean(confs, nil)
		}
		m.ConfidenceCorrelation = safeCorrelation(confs, corrects)
		if len(runtimes) > 0 {
			m.MeanRuntimeMs = stat.Mean(runtimes, nil)
		}

		for tt, errs := range perType {
			abs := make([]float64, len(errs))
			for i, e := range errs {
				abs[i] = math.Abs(e)
			}
			m.PerType[tt] = TypeErrorStats{
				NCorrect:     len(errs),
				MeanError:    stat.Mean(errs, nil),
				StdError:     math.Sqrt(stat.PopVariance(errs, nil)),
				MeanAbsError: stat.Mean(abs, nil),
			}
		}

		metrics[typ] = m
	}

	return metrics
}

// safeCorrelation is the Pearson correlation with degenerate inputs
// mapped to 0 instead of NaN.
func safeCorrelation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	if stat.PopVariance(x, nil) < 1e-12 || stat.PopVariance(y, nil) < 1e-12 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
