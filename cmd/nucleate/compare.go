package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalworks/nucleation/internal/harness"
	"github.com/signalworks/nucleation/internal/store"
)

type compareOptions struct {
	name        string
	simulations int
	detectors   string
	types       string
	noise       string
	durationMin int
	durationMax int
	tolerance   int
	seed        int64
	concurrency int
	output      string
	save        bool
}

func newCompareCmd(st *cliState) *cobra.Command {
	var opts compareOptions

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Benchmark detectors over a simulated corpus",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, st, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "compare", "experiment name")
	cmd.Flags().IntVar(&opts.simulations, "simulations", -1, "number of simulations (overrides config)")
	cmd.Flags().StringVar(&opts.detectors, "detectors", "", "comma-separated detector types (default all)")
	cmd.Flags().StringVar(&opts.types, "types", "", "comma-separated transition archetypes (default all but commitment)")
	cmd.Flags().StringVar(&opts.noise, "noise", "", "comma-separated noise levels (overrides config)")
	cmd.Flags().IntVar(&opts.durationMin, "duration-min", -1, "minimum series length (overrides config)")
	cmd.Flags().IntVar(&opts.durationMax, "duration-max", -1, "exclusive maximum series length (overrides config)")
	cmd.Flags().IntVar(&opts.tolerance, "tolerance", -1, "detection tolerance in samples (overrides config)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 42, "corpus seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", -1, "parallel simulations (overrides config)")
	cmd.Flags().StringVar(&opts.output, "output", "", "output format: table|json (overrides config)")
	cmd.Flags().BoolVar(&opts.save, "save", false, "persist the experiment to storage")

	return cmd
}

func compareConfig(st *cliState, opts *compareOptions) (harness.ExperimentConfig, error) {
	cfg := harness.ExperimentConfig{
		Name:         strings.TrimSpace(opts.name),
		NSimulations: st.cfg.Experiment.Simulations,
		NoiseLevels:  st.cfg.Experiment.NoiseLevels,
		DurationMin:  st.cfg.Experiment.DurationMin,
		DurationMax:  st.cfg.Experiment.DurationMax,
		Tolerance:    st.cfg.Experiment.Tolerance,
		Seed:         opts.seed,
		Concurrency:  st.cfg.Experiment.Concurrency,
	}

	if opts.simulations >= 0 {
		if opts.simulations == 0 {
			return cfg, fmt.Errorf("compare: simulations must be > 0")
		}
		cfg.NSimulations = opts.simulations
	}
	if opts.durationMin >= 0 {
		cfg.DurationMin = opts.durationMin
	}
	if opts.durationMax >= 0 {
		cfg.DurationMax = opts.durationMax
	}
	if opts.tolerance >= 0 {
		if opts.tolerance == 0 {
			return cfg, fmt.Errorf("compare: tolerance must be > 0")
		}
		cfg.Tolerance = opts.tolerance
	}
	if opts.concurrency >= 0 {
		cfg.Concurrency = opts.concurrency
	}

	detectors, err := parseDetectorTypes(opts.detectors)
	if err != nil {
		return cfg, fmt.Errorf("compare: %w", err)
	}
	cfg.Detectors = detectors

	types, err := parseTransitionTypes(opts.types)
	if err != nil {
		return cfg, fmt.Errorf("compare: %w", err)
	}
	cfg.Types = types

	noise, err := parseFloatList(opts.noise)
	if err != nil {
		return cfg, fmt.Errorf("compare: %w", err)
	}
	if len(noise) > 0 {
		cfg.NoiseLevels = noise
	}

	return cfg, nil
}

func runCompare(cmd *cobra.Command, st *cliState, opts *compareOptions) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("compare: missing config (internal error)")
	}

	format, err := resolveOutputFormat(opts.output, st.cfg.Experiment.OutputFormat)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	cfg, err := compareConfig(st, opts)
	if err != nil {
		return err
	}

	h, err := harness.New(cfg)
	if err != nil {
		return err
	}
	res, err := h.Run(cmd.Context())
	if err != nil {
		return err
	}

	rendered, err := FormatExperimentResult(res, format)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, rendered)

	if !opts.save {
		return nil
	}

	stor, err := store.Open(st.cfg)
	if err != nil {
		return err
	}
	defer stor.Close()

	exp, metrics, err := store.FromResult(res)
	if err != nil {
		return err
	}
	if err := stor.SaveExperiment(cmd.Context(), exp); err != nil {
		return err
	}
	for _, m := range metrics {
		if err := stor.SaveDetectorMetrics(cmd.Context(), m); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\nSaved experiment %s\n", exp.ID)
	return nil
}
