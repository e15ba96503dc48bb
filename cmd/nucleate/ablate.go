package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalworks/nucleation/internal/harness"
)

type ablateOptions struct {
	parameter string
	values    string
	compare   compareOptions
}

func newAblateCmd(st *cliState) *cobra.Command {
	var opts ablateOptions

	cmd := &cobra.Command{
		Use:   "ablate",
		Short: "Sweep one parameter and chart detector sensitivity",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAblate(cmd, st, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.parameter, "parameter", harness.ParamNoiseLevel, "swept parameter: noise_level|window|duration")
	cmd.Flags().StringVar(&opts.values, "values", "", "comma-separated sweep values")
	cmd.Flags().StringVar(&opts.compare.name, "name", "ablation", "experiment name prefix")
	cmd.Flags().IntVar(&opts.compare.simulations, "simulations", -1, "simulations per sweep point (overrides config)")
	cmd.Flags().StringVar(&opts.compare.detectors, "detectors", "", "comma-separated detector types (default all)")
	cmd.Flags().StringVar(&opts.compare.types, "types", "", "comma-separated transition archetypes")
	cmd.Flags().IntVar(&opts.compare.tolerance, "tolerance", -1, "detection tolerance in samples (overrides config)")
	cmd.Flags().Int64Var(&opts.compare.seed, "seed", 42, "base seed; each sweep point adds its index")
	cmd.Flags().IntVar(&opts.compare.concurrency, "concurrency", -1, "parallel simulations (overrides config)")
	cmd.Flags().StringVar(&opts.compare.output, "output", "", "output format: table|json")

	return cmd
}

func runAblate(cmd *cobra.Command, st *cliState, opts *ablateOptions) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("ablate: missing config (internal error)")
	}

	format, err := resolveOutputFormat(opts.compare.output, st.cfg.Experiment.OutputFormat)
	if err != nil {
		return fmt.Errorf("ablate: %w", err)
	}

	values, err := parseFloatList(opts.values)
	if err != nil {
		return fmt.Errorf("ablate: %w", err)
	}
	if len(values) == 0 {
		return fmt.Errorf("ablate: --values is required")
	}

	opts.compare.durationMin = -1
	opts.compare.durationMax = -1
	opts.compare.noise = ""
	base, err := compareConfig(st, &opts.compare)
	if err != nil {
		return err
	}

	res, err := harness.RunAblation(cmd.Context(), harness.AblationConfig{
		Parameter: opts.parameter,
		Values:    values,
		Base:      base,
	})
	if err != nil {
		return err
	}

	rendered, err := FormatAblationResult(res, format)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}
