package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalworks/nucleation/internal/harness"
)

type realOptions struct {
	datasets  string
	detectors string
	tolerance int
	output    string
}

func newRealCmd(st *cliState) *cobra.Command {
	var opts realOptions

	cmd := &cobra.Command{
		Use:   "real",
		Short: "Evaluate detectors on annotated real time series",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReal(cmd, st, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.datasets, "datasets", "", "path to a JSON file of annotated series")
	cmd.Flags().StringVar(&opts.detectors, "detectors", "", "comma-separated detector types (default all)")
	cmd.Flags().IntVar(&opts.tolerance, "tolerance", harness.DefaultRealDataTolerance, "match tolerance in samples")
	cmd.Flags().StringVar(&opts.output, "output", "", "output format: table|json")

	return cmd
}

func runReal(cmd *cobra.Command, st *cliState, opts *realOptions) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("real: missing config (internal error)")
	}
	if opts.datasets == "" {
		return fmt.Errorf("real: --datasets is required")
	}

	format, err := resolveOutputFormat(opts.output, st.cfg.Experiment.OutputFormat)
	if err != nil {
		return fmt.Errorf("real: %w", err)
	}

	types, err := parseDetectorTypes(opts.detectors)
	if err != nil {
		return fmt.Errorf("real: %w", err)
	}

	datasets, err := harness.LoadDatasets(opts.datasets)
	if err != nil {
		return err
	}
	if len(datasets) == 0 {
		return fmt.Errorf("real: no datasets in %q", opts.datasets)
	}

	results := make([]*harness.RealDataResult, 0, len(datasets))
	for _, ds := range datasets {
		res, err := harness.EvaluateRealData(ds, types, nil, opts.tolerance)
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	rendered, err := FormatRealDataResults(results, format)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)
	return nil
}
