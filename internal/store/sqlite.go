package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultHistoryLimit = 50

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	insertExperimentStmt    *sql.Stmt
	insertMetricsStmt       *sql.Stmt
	getExperimentStmt       *sql.Stmt
	metricsByExperimentStmt *sql.Stmt
	detectorHistoryStmt     *sql.Stmt
}

var (
	sqliteOpen              = sql.Open
	sqlitePrepareStatements = (*SQLiteStore).prepareStatements
)

// NewSQLiteStore opens or creates a SQLite store at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: empty sqlite path")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create sqlite dir: %w", err)
			}
		}
	}

	db, err := sqliteOpen("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &SQLiteStore{db: db}
	if err := sqlitePrepareStatements(st); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func initSQLiteSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS experiments (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			runtime_seconds REAL NOT NULL,
			simulations INTEGER NOT NULL,
			tolerance INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			config_json TEXT,
			details BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS detector_metrics (
			id TEXT PRIMARY KEY,
			experiment_id TEXT NOT NULL,
			detector TEXT NOT NULL,
			true_positives INTEGER NOT NULL,
			false_positives INTEGER NOT NULL,
			false_negatives INTEGER NOT NULL,
			true_negatives INTEGER NOT NULL,
			precision REAL NOT NULL,
			recall REAL NOT NULL,
			f1 REAL NOT NULL,
			mean_error REAL NOT NULL,
			std_error REAL NOT NULL,
			mean_abs_error REAL NOT NULL,
			median_abs_error REAL NOT NULL,
			mean_confidence REAL NOT NULL,
			confidence_correlation REAL NOT NULL,
			mean_runtime_ms REAL NOT NULL,
			per_type BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY(experiment_id) REFERENCES experiments(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detector_metrics_experiment ON detector_metrics(experiment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detector_metrics_detector ON detector_metrics(detector, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_experiments_started_at ON experiments(started_at)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	if s == nil || s.db == nil {
		return errors.New("store: nil sqlite store")
	}

	ctx := context.Background()
	type stmtSpec struct {
		dst    **sql.Stmt
		query  string
		errFmt string
	}

	specs := []stmtSpec{
		{
			dst: &s.insertExperimentStmt,
			query: `
				INSERT INTO experiments (
					id, name, started_at, runtime_seconds, simulations, tolerance, seed, config_json, details
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
			errFmt: "store: prepare insert experiment: %w",
		},
		{
			dst: &s.insertMetricsStmt,
			query: `
				INSERT INTO detector_metrics (
					id, experiment_id, detector, true_positives, false_positives, false_negatives,
					true_negatives, precision, recall, f1, mean_error, std_error, mean_abs_error,
					median_abs_error, mean_confidence, confidence_correlation, mean_runtime_ms,
					per_type, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`,
			errFmt: "store: prepare insert metrics: %w",
		},
		{
			dst: &s.getExperimentStmt,
			query: `
				SELECT id, name, started_at, runtime_seconds, simulations, tolerance, seed, config_json, details
				FROM experiments WHERE id = ?
			`,
			errFmt: "store: prepare get experiment: %w",
		},
		{
			dst: &s.metricsByExperimentStmt,
			query: `
				SELECT id, experiment_id, detector, true_positives, false_positives, false_negatives,
					true_negatives, precision, recall, f1, mean_error, std_error, mean_abs_error,
					median_abs_error, mean_confidence, confidence_correlation, mean_runtime_ms,
					per_type, created_at
				FROM detector_metrics
				WHERE experiment_id = ?
				ORDER BY detector ASC
			`,
			errFmt: "store: prepare get metrics: %w",
		},
		{
			dst: &s.detectorHistoryStmt,
			query: `
				SELECT id, experiment_id, detector, true_positives, false_positives, false_negatives,
					true_negatives, precision, recall, f1, mean_error, std_error, mean_abs_error,
					median_abs_error, mean_confidence, confidence_correlation, mean_runtime_ms,
					per_type, created_at
				FROM detector_metrics
				WHERE detector = ?
				ORDER BY created_at DESC
				LIMIT ?
			`,
			errFmt: "store: prepare detector history: %w",
		},
	}

	for _, spec := range specs {
		stmt, err := s.db.PrepareContext(ctx, spec.query)
		if err != nil {
			return fmt.Errorf(spec.errFmt, err)
		}
		*spec.dst = stmt
	}

	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil {
		return nil
	}
	stmts := []*sql.Stmt{
		s.insertExperimentStmt,
		s.insertMetricsStmt,
		s.getExperimentStmt,
		s.metricsByExperimentStmt,
		s.detectorHistoryStmt,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveExperiment persists an experiment summary and its per-simulation
// details.
func (s *SQLiteStore) SaveExperiment(ctx context.Context, exp *ExperimentRecord) error {
	if s == nil {
		return errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return errors.New("store: nil context")
	}
	if exp == nil {
		return errors.New("store: nil experiment")
	}

	id := strings.TrimSpace(exp.ID)
	if id == "" {
		return errors.New("store: empty experiment id")
	}
	if exp.StartedAt.IsZero() {
		return errors.New("store: missing experiment timestamp")
	}

	cfgJSON := []byte("null")
	if exp.Config != nil {
		var err error
		cfgJSON, err = json.Marshal(exp.Config)
		if err != nil {
			return fmt.Errorf("store: marshal experiment config: %w", err)
		}
	}
	detailsJSON, err := json.Marshal(exp.Details)
	if err != nil {
		return fmt.Errorf("store: marshal details: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin experiment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := tx.StmtContext(ctx, s.insertExperimentStmt)
	defer stmt.Close()

	_, err = stmt.ExecContext(
		ctx,
		id,
		exp.Name,
		exp.StartedAt.UTC().UnixMilli(),
		exp.RuntimeSeconds,
		exp.Simulations,
		exp.Tolerance,
		exp.Seed,
		string(cfgJSON),
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("store: insert experiment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit experiment: %w", err)
	}
	return nil
}

// SaveDetectorMetrics persists one detector's aggregate metrics.
func (s *SQLiteStore) SaveDetectorMetrics(ctx context.Context, rec *MetricsRecord) error {
	if s == nil {
		return errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return errors.New("store: nil context")
	}
	if rec == nil {
		return errors.New("store: nil metrics record")
	}

	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return errors.New("store: empty metrics id")
	}
	if strings.TrimSpace(rec.ExperimentID) == "" {
		return errors.New("store: empty experiment id")
	}
	if strings.TrimSpace(rec.Detector) == "" {
		return errors.New("store: missing detector type")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	perTypeJSON, err := json.Marshal(rec.PerType)
	if err != nil {
		return fmt.Errorf("store: marshal per-type stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin metrics tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt := tx.StmtContext(ctx, s.insertMetricsStmt)
	defer stmt.Close()

	_, err = stmt.ExecContext(
		ctx,
		id,
		rec.ExperimentID,
		rec.Detector,
		rec.TruePositives,
		rec.FalsePositives,
		rec.FalseNegatives,
		rec.TrueNegatives,
		rec.Precision,
		rec.Recall,
		rec.F1,
		rec.MeanError,
		rec.StdError,
		rec.MeanAbsError,
		rec.MedianAbsError,
		rec.MeanConfidence,
		rec.ConfidenceCorrelation,
		rec.MeanRuntimeMs,
		perTypeJSON,
		createdAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert metrics: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit metrics: %w", err)
	}
	return nil
}

// GetExperiment loads an experiment by id.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*ExperimentRecord, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("store: empty experiment id")
	}

	row := s.getExperimentStmt.QueryRowContext(ctx, id)
	rec, err := scanExperimentRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: get experiment: %w", err)
	}
	return rec, nil
}

// ListExperiments returns experiments matching the filter, newest
// first.
func (s *SQLiteStore) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*ExperimentRecord, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}

	name := strings.TrimSpace(filter.Name)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, name, started_at, runtime_seconds, simulations, tolerance, seed, config_json, details FROM experiments WHERE 1=1`)

	var args []any
	if name != "" {
		sb.WriteString(` AND name = ?`)
		args = append(args, name)
	}
	if !filter.Since.IsZero() {
		sb.WriteString(` AND started_at >= ?`)
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	if !filter.Until.IsZero() {
		sb.WriteString(` AND started_at <= ?`)
		args = append(args, filter.Until.UTC().UnixMilli())
	}
	sb.WriteString(` ORDER BY started_at DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}
	defer rows.Close()

	var out []*ExperimentRecord
	for rows.Next() {
		rec, err := scanExperimentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan experiment: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}
	return out, nil
}

// GetDetectorMetrics lists per-detector metrics for an experiment.
func (s *SQLiteStore) GetDetectorMetrics(ctx context.Context, experimentID string) ([]*MetricsRecord, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return nil, errors.New("store: empty experiment id")
	}

	rows, err := s.metricsByExperimentStmt.QueryContext(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("store: get detector metrics: %w", err)
	}
	defer rows.Close()

	return scanMetricsRows(rows)
}

// GetDetectorHistory returns recent metrics for one detector across
// experiments.
func (s *SQLiteStore) GetDetectorHistory(ctx context.Context, detectorType string, limit int) ([]*MetricsRecord, error) {
	if s == nil {
		return nil, errors.New("store: nil sqlite store")
	}
	if ctx == nil {
		return nil, errors.New("store: nil context")
	}
	detectorType = strings.TrimSpace(detectorType)
	if detectorType == "" {
		return nil, errors.New("store: empty detector type")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	rows, err := s.detectorHistoryStmt.QueryContext(ctx, detectorType, limit)
	if err != nil {
		return nil, fmt.Errorf("store: detector history: %w", err)
	}
	defer rows.Close()

	return scanMetricsRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperimentRow(row rowScanner) (*ExperimentRecord, error) {
	var (
		id             string
		name           string
		startedAtMS    int64
		runtimeSeconds float64
		simulations    int
		tolerance      int
		seed           int64
		cfgJSON        sql.NullString
		detailsJSON    []byte
	)
	if err := row.Scan(&id, &name, &startedAtMS, &runtimeSeconds, &simulations, &tolerance, &seed, &cfgJSON, &detailsJSON); err != nil {
		return nil, err
	}

	cfg, err := decodeConfig(cfgJSON)
	if err != nil {
		return nil, fmt.Errorf("decode experiment config: %w", err)
	}
	details, err := decodeDetails(detailsJSON)
	if err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}

	return &ExperimentRecord{
		ID:             id,
		Name:           name,
		StartedAt:      time.UnixMilli(startedAtMS).UTC(),
		RuntimeSeconds: runtimeSeconds,
		Simulations:    simulations,
		Tolerance:      tolerance,
		Seed:           seed,
		Config:         cfg,
		Details:        details,
	}, nil
}

func scanMetricsRows(rows *sql.Rows) ([]*MetricsRecord, error) {
	var out []*MetricsRecord
	for rows.Next() {
		var (
			rec         MetricsRecord
			perTypeJSON []byte
			createdAtMS int64
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ExperimentID,
			&rec.Detector,
			&rec.TruePositives,
			&rec.FalsePositives,
			&rec.FalseNegatives,
			&rec.TrueNegatives,
			&rec.Precision,
			&rec.Recall,
			&rec.F1,
			&rec.MeanError,
			&rec.StdError,
			&rec.MeanAbsError,
			&rec.MedianAbsError,
			&rec.MeanConfidence,
			&rec.ConfidenceCorrelation,
			&rec.MeanRuntimeMs,
			&perTypeJSON,
			&createdAtMS,
		); err != nil {
			return nil, fmt.Errorf("store: scan metrics: %w", err)
		}

		perType, err := decodePerType(perTypeJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decode per-type stats: %w", err)
		}
		rec.PerType = perType
		rec.CreatedAt = time.UnixMilli(createdAtMS).UTC()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan metrics rows: %w", err)
	}
	return out, nil
}

func decodeConfig(cfgJSON sql.NullString) (map[string]any, error) {
	if !cfgJSON.Valid {
		return nil, nil
	}
	raw := strings.TrimSpace(cfgJSON.String)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeDetails(detailsJSON []byte) ([]SimulationDetail, error) {
	if len(detailsJSON) == 0 {
		return nil, nil
	}
	var out []SimulationDetail
	if err := json.Unmarshal(detailsJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePerType(perTypeJSON []byte) (map[string]TypeStats, error) {
	if len(perTypeJSON) == 0 {
		return nil, nil
	}
	var out map[string]TypeStats
	if err := json.Unmarshal(perTypeJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}
