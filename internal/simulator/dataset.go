package simulator

// DatasetOptions controls corpus generation for evaluation runs.
// Zero-valued fields fall back to the defaults of the research protocol.
type DatasetOptions struct {
	NSimulations      int
	Types             []TransitionType
	NoiseLevels       []float64
	DurationMin       int
	DurationMax       int // exclusive
	Seed              *int64
	ExcludeCommitment bool // drop the two commitment archetypes
}

func (o DatasetOptions) withDefaults() DatasetOptions {
	if o.NSimulations <= 0 {
		o.NSimulations = 100
	}
	if len(o.Types) == 0 {
		o.Types = Types()
		if o.ExcludeCommitment {
			kept := o.Types[:0]
			for _, t := range o.Types {
				if t != Nucleation && t != Commitment {
					kept = append(kept, t)
				}
			}
			o.Types = kept
		}
	}
	if len(o.NoiseLevels) == 0 {
		o.NoiseLevels = []float64{0.05, 0.1, 0.15, 0.2}
	}
	if o.DurationMin <= 0 {
		o.DurationMin = 500
	}
	if o.DurationMax <= o.DurationMin {
		o.DurationMax = o.DurationMin + 1000
	}
	return o
}

// GenerateDataset builds an evaluation corpus by cycling archetypes and
// noise levels through the supplied grids while drawing duration and
// transition fraction from a corpus-level PRNG. Per-simulation seeds are
// base+i so each trajectory is independently reproducible.
func GenerateDataset(opts DatasetOptions) ([]*Result, error) {
	opts = opts.withDefaults()
	rng := newRNG(opts.Seed)

	results := make([]*Result, 0, opts.NSimulations)
	for i := 0; i < opts.NSimulations; i++ {
		cfg := Config{
			Type:               opts.Types[i%len(opts.Types)],
			NoiseLevel:         opts.NoiseLevels[i%len(opts.NoiseLevels)],
			Duration:           opts.DurationMin + rng.IntN(opts.DurationMax-opts.DurationMin),
			TransitionFraction: 0.4 + rng.Float64()*0.3,
		}
		if opts.Seed != nil {
			s := *opts.Seed + int64(i)
			cfg.Seed = &s
		}

		res, err := Simulate(cfg)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}
