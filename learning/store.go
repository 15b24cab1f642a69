package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

// DailySeriesRow is one per-slot trace for a single calendar day and metric,
// stored as a JSON array in learning_daily_series. It is the granular
// counterpart to learning_metrics' single daily scalar.
type DailySeriesRow struct {
	Date   time.Time
	Metric string
	Values []float64
}

// LearningStore persists learning_runs / learning_param_history /
// learning_metrics / learning_daily_series, mirroring the same
// BeginTx/deferred-Rollback/explicit-Commit idiom used throughout this
// codebase's other persistence code.
type LearningStore struct {
	db     *sql.DB
	logger *log.Logger
}

func NewLearningStore(db *sql.DB, logger *log.Logger) *LearningStore {
	return &LearningStore{db: db, logger: logger}
}

const Schema = `
CREATE TABLE IF NOT EXISTS learning_runs (
	id BIGSERIAL PRIMARY KEY,
	run_date DATE NOT NULL UNIQUE,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ NOT NULL,
	status TEXT NOT NULL,
	loops_run TEXT[] NOT NULL DEFAULT '{}',
	changes_proposed INT NOT NULL,
	changes_applied INT NOT NULL,
	result_metrics_json TEXT,
	last_error TEXT
);

CREATE TABLE IF NOT EXISTS learning_param_history (
	run_id BIGINT NOT NULL REFERENCES learning_runs(id),
	ts TIMESTAMPTZ NOT NULL,
	param_path TEXT NOT NULL,
	old_value DOUBLE PRECISION NOT NULL,
	new_value DOUBLE PRECISION NOT NULL,
	loop TEXT NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_metrics (
	date DATE NOT NULL,
	metric TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (date, metric)
);

CREATE TABLE IF NOT EXISTS learning_daily_series (
	date DATE NOT NULL,
	metric TEXT NOT NULL,
	values_json TEXT NOT NULL,
	PRIMARY KEY (date, metric)
);
`

// HasCompletedRun reports whether a completed run already exists for date,
// implementing the orchestrator's idempotency rule.
func (s *LearningStore) HasCompletedRun(ctx context.Context, date time.Time) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM learning_runs WHERE run_date = $1 AND status = $2
	`, date.Format("2006-01-02"), string(StatusCompleted)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("learning store: failed to check run idempotency: %w", err)
	}
	return count > 0, nil
}

// CommitRun persists the run summary and its applied parameter changes in a
// single transaction: either all rows land or none do. metric is always
// recorded (even when changes is empty), so s_index history stays
// queryable every night.
func (s *LearningStore) CommitRun(ctx context.Context, run Run, changes []ParamHistoryRow, dailyMetrics map[string]float64, dailySeries []DailySeriesRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("learning store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO learning_runs (run_date, started_at, ended_at, status, loops_run, changes_proposed, changes_applied, result_metrics_json, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_date) DO UPDATE SET
			started_at = EXCLUDED.started_at, ended_at = EXCLUDED.ended_at, status = EXCLUDED.status,
			loops_run = EXCLUDED.loops_run, changes_proposed = EXCLUDED.changes_proposed,
			changes_applied = EXCLUDED.changes_applied, result_metrics_json = EXCLUDED.result_metrics_json,
			last_error = EXCLUDED.last_error
		RETURNING id
	`, run.Date.Format("2006-01-02"), run.StartedAt, run.EndedAt, string(run.Status),
		pq.StringArray(run.LoopsRun), run.ChangesProposed, run.ChangesApplied, run.ResultMetricsJSON, run.LastError,
	).Scan(&runID)
	if err != nil {
		return fmt.Errorf("learning store: failed to upsert run row: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO learning_param_history (run_id, ts, param_path, old_value, new_value, loop, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("learning store: failed to prepare param_history insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range changes {
		if _, err := stmt.ExecContext(ctx, runID, c.At, c.ParamPath, c.OldValue, c.NewValue, c.Loop, c.Reason); err != nil {
			return fmt.Errorf("learning store: failed to insert param_history row for %s: %w", c.ParamPath, err)
		}
	}

	for metric, value := range dailyMetrics {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO learning_metrics (date, metric, value) VALUES ($1, $2, $3)
			ON CONFLICT (date, metric) DO UPDATE SET value = EXCLUDED.value
		`, run.Date.Format("2006-01-02"), metric, value); err != nil {
			return fmt.Errorf("learning store: failed to upsert metric %q: %w", metric, err)
		}
	}

	for _, ds := range dailySeries {
		valuesJSON, err := json.Marshal(ds.Values)
		if err != nil {
			return fmt.Errorf("learning store: failed to marshal daily series %q: %w", ds.Metric, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO learning_daily_series (date, metric, values_json) VALUES ($1, $2, $3)
			ON CONFLICT (date, metric) DO UPDATE SET values_json = EXCLUDED.values_json
		`, ds.Date.Format("2006-01-02"), ds.Metric, string(valuesJSON)); err != nil {
			return fmt.Errorf("learning store: failed to upsert daily series %q for %s: %w", ds.Metric, ds.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("learning store: failed to commit run: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("[LEARNING] committed run for %s: %d/%d changes applied", run.Date.Format("2006-01-02"), run.ChangesApplied, run.ChangesProposed)
	}
	return nil
}
