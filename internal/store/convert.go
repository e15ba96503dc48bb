package store

import (
	"errors"

	"github.com/google/uuid"

	"github.com/signalworks/nucleation/internal/harness"
)

// FromResult converts a harness result into persistence records,
// assigning fresh ids.
func FromResult(res *harness.ExperimentResult) (*ExperimentRecord, []*MetricsRecord, error) {
	if res == nil {
		return nil, nil, errors.New("store: nil experiment result")
	}

	expID := uuid.NewString()

	details := make([]SimulationDetail, len(res.Details))
	for i, rec := range res.Details {
		cells := make(map[string]DetectionCell, len(rec.Detections))
		for typ, det := range rec.Detections {
			cells[string(typ)] = DetectionCell{
				Detected:   det.Detected,
				Index:      det.Index,
				Confidence: det.Confidence,
				Error:      det.Error,
			}
		}
		details[i] = SimulationDetail{
			SimulationID:   rec.SimulationID,
			TransitionType: string(rec.TransitionType),
			TrueIndex:      rec.TrueTransitionIndex,
			Duration:       rec.Duration,
			NoiseLevel:     rec.NoiseLevel,
			Detections:     cells,
		}
	}

	exp := &ExperimentRecord{
		ID:             expID,
		Name:           res.Config.Name,
		StartedAt:      res.Timestamp,
		RuntimeSeconds: res.RuntimeSeconds,
		Simulations:    res.Config.NSimulations,
		Tolerance:      res.Config.Tolerance,
		Seed:           res.Config.Seed,
		Config: map[string]any{
			"noise_levels": res.Config.NoiseLevels,
			"duration_min": res.Config.DurationMin,
			"duration_max": res.Config.DurationMax,
			"concurrency":  res.Config.Concurrency,
		},
		Details: details,
	}

	metrics := make([]*MetricsRecord, 0, len(res.Metrics))
	for typ, m := range res.Metrics {
		perType := make(map[string]TypeStats, len(m.PerType))
		for tt, st := range m.PerType {
			perType[string(tt)] = TypeStats{
				NCorrect:     st.NCorrect,
				MeanError:    st.MeanError,
				StdError:     st.StdError,
				MeanAbsError: st.MeanAbsError,
			}
		}
		metrics = append(metrics, &MetricsRecord{
			ID:           uuid.NewString(),
			ExperimentID: expID,
			Detector:     string(typ),

			TruePositives:  m.TruePositives,
			FalsePositives: m.FalsePositives,
			FalseNegatives: m.FalseNegatives,
			TrueNegatives:  m.TrueNegatives,

			Precision: m.Precision(),
			Recall:    m.Recall(),
			F1:        m.F1(),

			MeanError:      m.MeanDetectionError,
			StdError:       m.StdDetectionError,
			MeanAbsError:   m.MeanAbsError,
			MedianAbsError: m.MedianAbsError,

			MeanConfidence:        m.MeanConfidence,
			ConfidenceCorrelation: m.ConfidenceCorrelation,
			MeanRuntimeMs:         m.MeanRuntimeMs,

			PerType:   perType,
			CreatedAt: res.Timestamp,
		})
	}

	return exp, metrics, nil
}
