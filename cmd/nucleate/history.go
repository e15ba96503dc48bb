package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalworks/nucleation/internal/store"
)

type historyOptions struct {
	name  string
	limit int
	since string
}

func newHistoryCmd(st *cliState) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show saved experiments",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(cmd, st, &opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "experiment name to filter")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "max experiments to list")
	cmd.Flags().StringVar(&opts.since, "since", "", "only experiments since date (YYYY-MM-DD or RFC3339)")

	cmd.AddCommand(newHistoryShowCmd(st))
	return cmd
}

func newHistoryShowCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "show <experiment-id>",
		Short: "Show details for an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd, st, args[0])
		},
	}
}

func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	layouts := []string{time.RFC3339, "2006-01-02"}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("history: invalid --since %q (expected RFC3339 or YYYY-MM-DD)", raw)
}

func runHistoryList(cmd *cobra.Command, st *cliState, opts *historyOptions) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("history: missing config (internal error)")
	}
	if opts == nil {
		return fmt.Errorf("history: nil options")
	}

	since, err := parseSince(opts.since)
	if err != nil {
		return err
	}

	stor, err := store.Open(st.cfg)
	if err != nil {
		return err
	}
	defer stor.Close()

	var reader store.ExperimentReader = stor

	filter := store.ExperimentFilter{
		Name:  strings.TrimSpace(opts.name),
		Since: since,
		Limit: opts.limit,
	}
	experiments, err := reader.ListExperiments(cmd.Context(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(experiments) == 0 {
		_, _ = fmt.Fprintln(out, "No experiments found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXPERIMENT_ID\tNAME\tSTARTED\tSIMS\tTOLERANCE\tSEED\tRUNTIME_S")
	for _, e := range experiments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.1f\n",
			e.ID,
			e.Name,
			formatTime(e.StartedAt),
			e.Simulations,
			e.Tolerance,
			e.Seed,
			e.RuntimeSeconds,
		)
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, st *cliState, expID string) error {
	if st == nil || st.cfg == nil {
		return fmt.Errorf("history: missing config (internal error)")
	}

	expID = strings.TrimSpace(expID)
	if expID == "" {
		return fmt.Errorf("history: missing experiment id")
	}

	stor, err := store.Open(st.cfg)
	if err != nil {
		return err
	}
	defer stor.Close()

	var reader store.ExperimentReader = stor

	exp, err := reader.GetExperiment(cmd.Context(), expID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("history: experiment %q not found", expID)
		}
		return err
	}

	metrics, err := reader.GetDetectorMetrics(cmd.Context(), expID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Experiment: %s\n", exp.ID)
	_, _ = fmt.Fprintf(out, "Name: %s\n", exp.Name)
	_, _ = fmt.Fprintf(out, "Started: %s\n", formatTime(exp.StartedAt))
	_, _ = fmt.Fprintf(out, "Simulations: %d tolerance=%d seed=%d runtime=%.1fs\n",
		exp.Simulations, exp.Tolerance, exp.Seed, exp.RuntimeSeconds)

	if len(metrics) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DETECTOR\tTP\tFP\tFN\tPRECISION\tRECALL\tF1\tMAE")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.1f\n",
			m.Detector,
			m.TruePositives,
			m.FalsePositives,
			m.FalseNegatives,
			m.Precision,
			m.Recall,
			m.F1,
			m.MeanAbsError,
		)
	}
	return tw.Flush()
}
