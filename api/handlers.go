package api

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalworks/nucleation/internal/detector"
	"github.com/signalworks/nucleation/internal/harness"
	"github.com/signalworks/nucleation/internal/simulator"
	"github.com/signalworks/nucleation/internal/store"
)

type experimentRequest struct {
	Name        string    `json:"name"`
	Simulations *int      `json:"simulations,omitempty"`
	Detectors   []string  `json:"detectors,omitempty"`
	Types       []string  `json:"types,omitempty"`
	NoiseLevels []float64 `json:"noise_levels,omitempty"`
	DurationMin *int      `json:"duration_min,omitempty"`
	DurationMax *int      `json:"duration_max,omitempty"`
	Tolerance   *int      `json:"tolerance,omitempty"`
	Seed        *int64    `json:"seed,omitempty"`
	Concurrency *int      `json:"concurrency,omitempty"`
}

type detectRequest struct {
	Detector string    `json:"detector"`
	Signal   []float64 `json:"signal"`
	Window   *int      `json:"window,omitempty"`
}

type metricSummary struct {
	Detector       string  `json:"detector"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	MeanAbsError   float64 `json:"mean_abs_error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRunExperiment(c *gin.Context) {
	if s == nil || s.store == nil || s.config == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	var req experimentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	cfg, err := s.experimentConfig(req)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	h, err := harness.New(cfg)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	res, err := h.Run(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	exp, metrics, err := store.FromResult(res)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SaveExperiment(c.Request.Context(), exp); err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	for _, m := range metrics {
		if err := s.store.SaveDetectorMetrics(c.Request.Context(), m); err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":              exp.ID,
		"name":            exp.Name,
		"simulations":     exp.Simulations,
		"runtime_seconds": res.RuntimeSeconds,
		"metrics":         summarizeMetrics(metrics),
	})
}

func (s *Server) experimentConfig(req experimentRequest) (harness.ExperimentConfig, error) {
	cfg := harness.ExperimentConfig{
		Name:         strings.TrimSpace(req.Name),
		NSimulations: s.config.Experiment.Simulations,
		NoiseLevels:  s.config.Experiment.NoiseLevels,
		DurationMin:  s.config.Experiment.DurationMin,
		DurationMax:  s.config.Experiment.DurationMax,
		Tolerance:    s.config.Experiment.Tolerance,
		Seed:         s.config.Experiment.Seed,
		Concurrency:  s.config.Experiment.Concurrency,
	}
	if cfg.Name == "" {
		cfg.Name = "api"
	}

	if req.Simulations != nil {
		if *req.Simulations <= 0 {
			return cfg, fmt.Errorf("simulations must be > 0 (got %d)", *req.Simulations)
		}
		cfg.NSimulations = *req.Simulations
	}
	if len(req.NoiseLevels) > 0 {
		cfg.NoiseLevels = req.NoiseLevels
	}
	if req.DurationMin != nil {
		cfg.DurationMin = *req.DurationMin
	}
	if req.DurationMax != nil {
		cfg.DurationMax = *req.DurationMax
	}
	if req.Tolerance != nil {
		if *req.Tolerance <= 0 {
			return cfg, fmt.Errorf("tolerance must be > 0 (got %d)", *req.Tolerance)
		}
		cfg.Tolerance = *req.Tolerance
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.Concurrency != nil {
		cfg.Concurrency = *req.Concurrency
	}

	for _, name := range req.Detectors {
		typ, ok := detector.ParseType(name)
		if !ok {
			return cfg, fmt.Errorf("detector: unknown type %q", name)
		}
		cfg.Detectors = append(cfg.Detectors, typ)
	}
	for _, name := range req.Types {
		typ, ok := simulator.ParseTransitionType(name)
		if !ok {
			return cfg, fmt.Errorf("simulator: unknown transition type %q", name)
		}
		cfg.Types = append(cfg.Types, typ)
	}

	return cfg, nil
}

func summarizeMetrics(metrics []*store.MetricsRecord) []metricSummary {
	out := make([]metricSummary, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, metricSummary{
			Detector:       m.Detector,
			TruePositives:  m.TruePositives,
			FalsePositives: m.FalsePositives,
			FalseNegatives: m.FalseNegatives,
			Precision:      m.Precision,
			Recall:         m.Recall,
			F1:             m.F1,
			MeanAbsError:   m.MeanAbsError,
		})
	}
	return out
}

func (s *Server) handleListExperiments(c *gin.Context) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	limit, err := parseLimitParam(c.Query("limit"), 20)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	since, err := parseTimeParam(c.Query("since"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	until, err := parseTimeParam(c.Query("until"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	filter := store.ExperimentFilter{
		Name:  strings.TrimSpace(c.Query("name")),
		Since: since,
		Until: until,
		Limit: limit,
	}

	experiments, err := s.store.ListExperiments(c.Request.Context(), filter)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	// Listings stay light: per-simulation details are available from
	// the details endpoint.
	type listItem struct {
		ID             string    `json:"id"`
		Name           string    `json:"name"`
		StartedAt      time.Time `json:"started_at"`
		RuntimeSeconds float64   `json:"runtime_seconds"`
		Simulations    int       `json:"simulations"`
		Tolerance      int       `json:"tolerance"`
		Seed           int64     `json:"seed"`
	}
	out := make([]listItem, 0, len(experiments))
	for _, exp := range experiments {
		out = append(out, listItem{
			ID:             exp.ID,
			Name:           exp.Name,
			StartedAt:      exp.StartedAt,
			RuntimeSeconds: exp.RuntimeSeconds,
			Simulations:    exp.Simulations,
			Tolerance:      exp.Tolerance,
			Seed:           exp.Seed,
		})
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetExperiment(c *gin.Context) {
	exp, ok := s.lookupExperiment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              exp.ID,
		"name":            exp.Name,
		"started_at":      exp.StartedAt,
		"runtime_seconds": exp.RuntimeSeconds,
		"simulations":     exp.Simulations,
		"tolerance":       exp.Tolerance,
		"seed":            exp.Seed,
		"config":          exp.Config,
	})
}

func (s *Server) handleGetExperimentMetrics(c *gin.Context) {
	exp, ok := s.lookupExperiment(c)
	if !ok {
		return
	}

	metrics, err := s.store.GetDetectorMetrics(c.Request.Context(), exp.ID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (s *Server) handleGetExperimentDetails(c *gin.Context) {
	exp, ok := s.lookupExperiment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, exp.Details)
}

func (s *Server) lookupExperiment(c *gin.Context) (*store.ExperimentRecord, bool) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return nil, false
	}

	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing experiment id"))
		return nil, false
	}

	exp, err := s.store.GetExperiment(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(c, http.StatusNotFound, fmt.Errorf("experiment %q not found", id))
			return nil, false
		}
		respondError(c, http.StatusInternalServerError, err)
		return nil, false
	}
	return exp, true
}

func (s *Server) handleListDetectors(c *gin.Context) {
	types := detector.Types()
	out := make([]string, len(types))
	for i, typ := range types {
		out[i] = string(typ)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetDetectorHistory(c *gin.Context) {
	if s == nil || s.store == nil {
		respondError(c, http.StatusInternalServerError, errors.New("server not initialized"))
		return
	}

	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		respondError(c, http.StatusBadRequest, errors.New("missing detector name"))
		return
	}
	if _, ok := detector.ParseType(name); !ok {
		respondError(c, http.StatusBadRequest, fmt.Errorf("detector: unknown type %q", name))
		return
	}

	limit, err := parseLimitParam(c.Query("limit"), 20)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	history, err := s.store.GetDetectorHistory(c.Request.Context(), name, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

// handleDetect runs a single detector over a posted signal without
// persisting anything.
func (s *Server) handleDetect(c *gin.Context) {
	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Signal) == 0 {
		respondError(c, http.StatusBadRequest, errors.New("missing signal"))
		return
	}

	typ, ok := detector.ParseType(strings.TrimSpace(req.Detector))
	if !ok {
		respondError(c, http.StatusBadRequest, fmt.Errorf("detector: unknown type %q", strings.TrimSpace(req.Detector)))
		return
	}

	var opts detector.Options
	if req.Window != nil {
		opts.Window = *req.Window
	}
	d, err := detector.New(typ, opts)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	res := d.Detect(req.Signal)
	c.JSON(http.StatusOK, gin.H{
		"detector":   string(res.Type),
		"detected":   res.Detected,
		"index":      res.Index,
		"confidence": res.Confidence,
	})
}

func respondError(c *gin.Context, status int, err error) {
	if err == nil {
		c.Status(status)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseLimitParam(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("limit must be > 0")
	}
	return v, nil
}

func parseTimeParam(raw string) (time.Time, error) {
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
	return time.Time{}, fmt.Errorf("invalid time %q (expected RFC3339 or YYYY-MM-DD)", raw)
}
