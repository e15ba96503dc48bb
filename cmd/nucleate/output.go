package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalworks/nucleation/internal/detector"
	"github.com/signalworks/nucleation/internal/harness"
	"github.com/signalworks/nucleation/internal/simulator"
)

type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

func parseOutputFormat(s string) OutputFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "table":
		return FormatTable
	case "json", "jsonl":
		return FormatJSON
	default:
		return ""
	}
}

func resolveOutputFormat(flagValue, configValue string) (OutputFormat, error) {
	if strings.TrimSpace(flagValue) != "" {
		out := parseOutputFormat(flagValue)
		if out == "" {
			return "", fmt.Errorf("invalid --output %q (expected table|json)", flagValue)
		}
		return out, nil
	}
	if out := parseOutputFormat(configValue); out != "" {
		return out, nil
	}
	return FormatTable, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// sortedMetrics orders detector metrics by F1 descending, breaking
// ties by name so output is stable.
func sortedMetrics(res *harness.ExperimentResult) []*harness.Metrics {
	out := make([]*harness.Metrics, 0, len(res.Metrics))
	for _, m := range res.Metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i].F1(), out[j].F1()
		if fi != fj {
			return fi > fj
		}
		return out[i].Detector < out[j].Detector
	})
	return out
}

// FormatExperimentResult renders the per-detector metrics plus the
// per-archetype timing breakdown.
func FormatExperimentResult(res *harness.ExperimentResult, format OutputFormat) (string, error) {
	if res == nil {
		return "", fmt.Errorf("output: nil result")
	}

	if format == FormatJSON {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return "", fmt.Errorf("output: marshal result: %w", err)
		}
		return string(b) + "\n", nil
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Experiment: %s (%d simulations, tolerance=%d, seed=%d)\n",
		res.Config.Name, res.Config.NSimulations, res.Config.Tolerance, res.Config.Seed)
	fmt.Fprintf(&buf, "Completed in %.1fs\n\n", res.RuntimeSeconds)

	metrics := sortedMetrics(res)

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DETECTOR\tTP\tFP\tFN\tPRECISION\tRECALL\tF1\tMAE\tMED_AE\tCONF\tCORR\tMS")
	for _, m := range metrics {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%.1f\t%.1f\t%.2f\t%.2f\t%.2f\n",
			m.Detector,
			m.TruePositives,
			m.FalsePositives,
			m.FalseNegatives,
			m.Precision(),
			m.Recall(),
			m.F1(),
			m.MeanAbsError,
			m.MedianAbsError,
			m.MeanConfidence,
			m.ConfidenceCorrelation,
			m.MeanRuntimeMs,
		)
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}

	breakdown := formatPerTypeBreakdown(metrics)
	if breakdown != "" {
		buf.WriteString("\n")
		buf.WriteString(breakdown)
	}

	return buf.String(), nil
}

func formatPerTypeBreakdown(metrics []*harness.Metrics) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	wrote := false
	for _, m := range metrics {
		if len(m.PerType) == 0 {
			continue
		}
		if !wrote {
			fmt.Fprintln(tw, "DETECTOR\tTYPE\tN\tMEAN_ERR\tSTD_ERR\tMAE")
			wrote = true
		}

		types := make([]simulator.TransitionType, 0, len(m.PerType))
		for tt := range m.PerType {
			types = append(types, tt)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

		for _, tt := range types {
			st := m.PerType[tt]
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.1f\t%.1f\t%.1f\n",
				m.Detector, tt, st.NCorrect, st.MeanError, st.StdError, st.MeanAbsError)
		}
	}
	if !wrote {
		return ""
	}
	_ = tw.Flush()
	return buf.String()
}

// FormatAblationResult renders per-detector curves over the swept
// parameter.
func FormatAblationResult(res *harness.AblationResult, format OutputFormat) (string, error) {
	if res == nil {
		return "", fmt.Errorf("output: nil result")
	}

	if format == FormatJSON {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return "", fmt.Errorf("output: marshal result: %w", err)
		}
		return string(b) + "\n", nil
	}

	types := make([]detector.Type, 0, len(res.Curves))
	for typ := range res.Curves {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Ablation over %s\n\n", res.Parameter)

	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "DETECTOR\t%s\tF1\tPRECISION\tRECALL\tMAE\n", strings.ToUpper(res.Parameter))
	for _, typ := range types {
		for _, pt := range res.Curves[typ] {
			fmt.Fprintf(tw, "%s\t%g\t%.3f\t%.3f\t%.3f\t%.1f\n",
				typ, pt.Value, pt.F1, pt.Precision, pt.Recall, pt.MeanAbs)
		}
	}
	if err := tw.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatRealDataResults renders detections on annotated real series.
func FormatRealDataResults(results []*harness.RealDataResult, format OutputFormat) (string, error) {
	if format == FormatJSON {
		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", fmt.Errorf("output: marshal results: %w", err)
		}
		return string(b) + "\n", nil
	}

	var buf bytes.Buffer
	for i, res := range results {
		if i > 0 {
			buf.WriteString("\n")
		}
		fmt.Fprintf(&buf, "Dataset: %s (%d samples, %d matched, %d false alarms)\n",
			res.Dataset, res.Length, res.Matched, res.FalseAlarms)

		tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DETECTOR\tDETECTED\tINDEX\tCONF\tMATCHED\tERROR")
		for _, det := range res.Detections {
			matched := "-"
			errStr := "-"
			if det.MatchedTransition >= 0 {
				matched = fmt.Sprintf("%d", det.MatchedTransition)
				errStr = fmt.Sprintf("%+d", det.Error)
			} else if det.FalseAlarm {
				matched = "false alarm"
			}
			fmt.Fprintf(tw, "%s\t%v\t%d\t%.2f\t%s\t%s\n",
				det.Detector, det.Detected, det.Index, det.Confidence, matched, errStr)
		}
		if err := tw.Flush(); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

func parseDetectorTypes(raw string) ([]detector.Type, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []detector.Type
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		typ, ok := detector.ParseType(name)
		if !ok {
			return nil, fmt.Errorf("detector: unknown type %q", name)
		}
		out = append(out, typ)
	}
	return out, nil
}

func parseTransitionTypes(raw string) ([]simulator.TransitionType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []simulator.TransitionType
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		typ, ok := simulator.ParseTransitionType(name)
		if !ok {
			return nil, fmt.Errorf("simulator: unknown transition type %q", name)
		}
		out = append(out, typ)
	}
	return out, nil
}

func parseFloatList(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []float64
	for _, part := range strings.Split(raw, ",") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", s)
		}
		out = append(out, v)
	}
	return out, nil
}
