// Package store implements the append-only, idempotent Observation &
// Forecast Store: per-slot realised energy flows and the forecasts that
// were live for each slot, persisted via database/sql + lib/pq.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/devskill-org/energy-management-system/planmodel"
)

// Store wraps a *sql.DB with the planner's persistence operations.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// New wraps an already-open database handle. The caller owns the
// connection's lifecycle (Open/Close, pool sizing).
func New(db *sql.DB, logger *log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Schema is the logical table layout this store reads and writes. Migration
// tooling is an external concern; this is documentation plus a convenience
// for tests that stand up a throwaway schema.
const Schema = `
CREATE TABLE IF NOT EXISTS slot_observations (
	slot_start TIMESTAMPTZ PRIMARY KEY,
	import_kwh DOUBLE PRECISION NOT NULL,
	export_kwh DOUBLE PRECISION NOT NULL,
	pv_kwh DOUBLE PRECISION NOT NULL,
	load_kwh DOUBLE PRECISION NOT NULL,
	battery_charge_kwh DOUBLE PRECISION NOT NULL,
	battery_discharge_kwh DOUBLE PRECISION NOT NULL,
	soc_start_percent DOUBLE PRECISION NOT NULL,
	soc_end_percent DOUBLE PRECISION NOT NULL,
	quality_flags TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS slot_forecasts (
	slot_start TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL,
	pv_forecast_kwh DOUBLE PRECISION NOT NULL,
	load_forecast_kwh DOUBLE PRECISION NOT NULL,
	temp_c DOUBLE PRECISION,
	import_price DOUBLE PRECISION,
	PRIMARY KEY (slot_start, version)
);

CREATE TABLE IF NOT EXISTS sensor_totals (
	name TEXT PRIMARY KEY,
	last_value DOUBLE PRECISION NOT NULL,
	last_timestamp TIMESTAMPTZ NOT NULL
);
`

// RecordObservation upserts the observation row for obs.SlotStart. At most
// one observation exists per slot_start; a second call for the same slot
// overwrites the first (idempotent upsert, not an append).
func (s *Store) RecordObservation(ctx context.Context, obs planmodel.ObservationRecord) error {
	if s.db == nil {
		return fmt.Errorf("store: no database connection configured")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO slot_observations (
			slot_start, import_kwh, export_kwh, pv_kwh, load_kwh,
			battery_charge_kwh, battery_discharge_kwh,
			soc_start_percent, soc_end_percent, quality_flags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (slot_start) DO UPDATE SET
			import_kwh = EXCLUDED.import_kwh,
			export_kwh = EXCLUDED.export_kwh,
			pv_kwh = EXCLUDED.pv_kwh,
			load_kwh = EXCLUDED.load_kwh,
			battery_charge_kwh = EXCLUDED.battery_charge_kwh,
			battery_discharge_kwh = EXCLUDED.battery_discharge_kwh,
			soc_start_percent = EXCLUDED.soc_start_percent,
			soc_end_percent = EXCLUDED.soc_end_percent,
			quality_flags = EXCLUDED.quality_flags
	`,
		obs.SlotStart, obs.ImportKwh, obs.ExportKwh, obs.PVKwh, obs.LoadKwh,
		obs.BatteryChargeKwh, obs.BatteryDischargeKwh,
		obs.SocStartPercent, obs.SocEndPercent, pq.StringArray(obs.QualityFlags),
	)
	if err != nil {
		return fmt.Errorf("store: failed to upsert observation for %s: %w", obs.SlotStart, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit observation: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("[STORE] recorded observation for slot %s", obs.SlotStart.Format(time.RFC3339))
	}
	return nil
}

// StoreForecasts upserts one row per (slot_start, version). Multiple
// forecast versions may coexist for the same slot; RangeQuery joins against
// the highest version stored for each slot.
func (s *Store) StoreForecasts(ctx context.Context, forecasts []planmodel.ForecastRecord) error {
	if s.db == nil {
		return fmt.Errorf("store: no database connection configured")
	}
	if len(forecasts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO slot_forecasts (slot_start, version, pv_forecast_kwh, load_forecast_kwh, temp_c, import_price)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slot_start, version) DO UPDATE SET
			pv_forecast_kwh = EXCLUDED.pv_forecast_kwh,
			load_forecast_kwh = EXCLUDED.load_forecast_kwh,
			temp_c = EXCLUDED.temp_c,
			import_price = EXCLUDED.import_price
	`)
	if err != nil {
		return fmt.Errorf("store: failed to prepare forecast upsert: %w", err)
	}
	defer stmt.Close()

	for _, f := range forecasts {
		var tempC, importPrice sql.NullFloat64
		if f.TempKnown {
			tempC = sql.NullFloat64{Float64: f.TempC, Valid: true}
		}
		if f.PriceKnown {
			importPrice = sql.NullFloat64{Float64: f.ImportPrice, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, f.SlotStart, f.ForecastVersion, f.PVForecastKwh, f.LoadForecastKwh, tempC, importPrice); err != nil {
			return fmt.Errorf("store: failed to upsert forecast for %s v%d: %w", f.SlotStart, f.ForecastVersion, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit forecasts: %w", err)
	}
	if s.logger != nil {
		s.logger.Printf("[STORE] stored %d forecast rows", len(forecasts))
	}
	return nil
}

// JoinedRow is one range_query result row: an observation joined with the
// highest-version forecast that existed for that slot.
type JoinedRow struct {
	Observation planmodel.ObservationRecord
	Forecast    planmodel.ForecastRecord
	HasForecast bool
}

// RangeQuery returns observation rows in [start, end) joined against the
// latest forecast version for each slot_start.
func (s *Store) RangeQuery(ctx context.Context, start, end time.Time) ([]JoinedRow, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store: no database connection configured")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			o.slot_start, o.import_kwh, o.export_kwh, o.pv_kwh, o.load_kwh,
			o.battery_charge_kwh, o.battery_discharge_kwh,
			o.soc_start_percent, o.soc_end_percent, o.quality_flags,
			f.version, f.pv_forecast_kwh, f.load_forecast_kwh, f.temp_c, f.import_price
		FROM slot_observations o
		LEFT JOIN LATERAL (
			SELECT * FROM slot_forecasts sf
			WHERE sf.slot_start = o.slot_start
			ORDER BY sf.version DESC
			LIMIT 1
		) f ON true
		WHERE o.slot_start >= $1 AND o.slot_start < $2
		ORDER BY o.slot_start ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("store: range query failed: %w", err)
	}
	defer rows.Close()

	var result []JoinedRow
	for rows.Next() {
		var r JoinedRow
		var quality pq.StringArray
		var version sql.NullInt64
		var pvForecast, loadForecast, tempC, importPrice sql.NullFloat64

		err := rows.Scan(
			&r.Observation.SlotStart, &r.Observation.ImportKwh, &r.Observation.ExportKwh,
			&r.Observation.PVKwh, &r.Observation.LoadKwh,
			&r.Observation.BatteryChargeKwh, &r.Observation.BatteryDischargeKwh,
			&r.Observation.SocStartPercent, &r.Observation.SocEndPercent, &quality,
			&version, &pvForecast, &loadForecast, &tempC, &importPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("store: failed to scan range row: %w", err)
		}
		r.Observation.QualityFlags = []string(quality)

		if version.Valid {
			r.HasForecast = true
			r.Forecast = planmodel.ForecastRecord{
				SlotStart:       r.Observation.SlotStart,
				ForecastVersion: version.Int64,
				PVForecastKwh:   pvForecast.Float64,
				LoadForecastKwh: loadForecast.Float64,
			}
			if tempC.Valid {
				r.Forecast.TempC = tempC.Float64
				r.Forecast.TempKnown = true
			}
			if importPrice.Valid {
				r.Forecast.ImportPrice = importPrice.Float64
				r.Forecast.PriceKnown = true
			}
		}

		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating range query: %w", err)
	}
	return result, nil
}

// IntegrateCounter computes the non-negative delta since name's last
// recorded value, clamping to zero on counter reset (newValue < lastValue),
// and advances the stored counter.
func (s *Store) IntegrateCounter(ctx context.Context, name string, newValue float64, at time.Time) (float64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("store: no database connection configured")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lastValue float64
	err = tx.QueryRowContext(ctx, `SELECT last_value FROM sensor_totals WHERE name = $1 FOR UPDATE`, name).Scan(&lastValue)
	delta := 0.0
	switch {
	case err == sql.ErrNoRows:
		delta = 0
	case err != nil:
		return 0, fmt.Errorf("store: failed to read counter %q: %w", name, err)
	default:
		delta = newValue - lastValue
		if delta < 0 {
			delta = 0
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sensor_totals (name, last_value, last_timestamp)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET last_value = EXCLUDED.last_value, last_timestamp = EXCLUDED.last_timestamp
	`, name, newValue, at)
	if err != nil {
		return 0, fmt.Errorf("store: failed to advance counter %q: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: failed to commit counter update: %w", err)
	}
	return delta, nil
}
