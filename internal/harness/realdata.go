package harness

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/stat"

	"github.com/signalworks/nucleation/internal/detector"
)

// DefaultRealDataTolerance is tighter than the simulation tolerance:
// annotated transitions in real series are point events, not windows.
const DefaultRealDataTolerance = 20

// RealWorldDataset is one annotated real time series.
type RealWorldDataset struct {
	Name             string    `json:"name"`
	Values           []float64 `json:"values"`
	KnownTransitions []int     `json:"known_transitions"`
}

// LoadDatasets reads a JSON file holding a list of annotated series.
func LoadDatasets(path string) ([]RealWorldDataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read datasets: %w", err)
	}
	var datasets []RealWorldDataset
	if err := json.Unmarshal(raw, &datasets); err != nil {
		return nil, fmt.Errorf("harness: parse datasets: %w", err)
	}
	for i, ds := range datasets {
		if len(ds.Values) == 0 {
			return nil, fmt.Errorf("harness: dataset %d (%q) has no values", i, ds.Name)
		}
	}
	return datasets, nil
}

// RealDetection is one detector's outcome on one annotated series.
type RealDetection struct {
	Detector   detector.Type `json:"detector_type"`
	Detected   bool          `json:"detected"`
	Index      int           `json:"index"`
	Confidence float64       `json:"confidence"`

	// MatchedTransition is the first annotated transition within
	// tolerance of the detection, -1 when the detection matched nothing.
	MatchedTransition int  `json:"matched_transition"`
	Error             int  `json:"error"`
	FalseAlarm        bool `json:"false_alarm"`
}

// RealDataResult summarizes a detector bank over one annotated series.
type RealDataResult struct {
	Dataset    string          `json:"dataset"`
	Length     int             `json:"length"`
	Detections []RealDetection `json:"detections"`

	MeanAbsError float64 `json:"mean_abs_error"`
	StdAbsError  float64 `json:"std_abs_error"`
	Matched      int     `json:"matched"`
	FalseAlarms  int     `json:"false_alarms"`
}

// EvaluateRealData runs each configured detector over the series and
// scores detections against the annotated transitions. Each detector
// reports at most one detection; it is matched to the first annotated
// transition within tolerance, in annotation order.
func EvaluateRealData(ds RealWorldDataset, types []detector.Type, opts map[detector.Type]detector.Options, tolerance int) (*RealDataResult, error) {
	if len(types) == 0 {
		types = detector.Types()
	}
	if tolerance <= 0 {
		tolerance = DefaultRealDataTolerance
	}

	out := &RealDataResult{Dataset: ds.Name, Length: len(ds.Values)}

	var absErrs []float64
	for _, typ := range types {
		d, err := detector.New(typ, opts[typ])
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
		res := d.Detect(ds.Values)

		det := RealDetection{
			Detector:          typ,
			Detected:          res.Detected,
			Index:             res.Index,
			Confidence:        res.Confidence,
			MatchedTransition: -1,
		}
		if res.Detected && res.Index >= 0 {
			for _, truth := range ds.KnownTransitions {
				if WithinTolerance(res.Index, truth, tolerance) {
					det.MatchedTransition = truth
					det.Error = res.Index - truth
					break
				}
			}
			if det.MatchedTransition >= 0 {
				out.Matched++
				absErrs = append(absErrs, math.Abs(float64(det.Error)))
			} else {
				det.FalseAlarm = true
				out.FalseAlarms++
			}
		}
		out.Detections = append(out.Detections, det)
	}

	if len(absErrs) > 0 {
		out.MeanAbsError = stat.Mean(absErrs, nil)
		out.StdAbsError = math.Sqrt(stat.PopVariance(absErrs, nil))
	}
	return out, nil
}
