package store

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"

	"github.com/devskill-org/energy-management-system/planmodel"
)

// openTestDB connects to a live Postgres instance if TEST_POSTGRES_CONN is
// set, applies the schema, and skips the test otherwise. This mirrors how
// the rest of this codebase keeps database tests dependency-light.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	connString := os.Getenv("TEST_POSTGRES_CONN")
	if connString == "" {
		t.Skip("skipping: TEST_POSTGRES_CONN not set")
	}

	db, err := sql.Open("postgres", connString)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}

func TestRecordObservationUpsertIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db, log.New(os.Stdout, "TEST: ", log.LstdFlags))
	ctx := context.Background()

	slotStart := time.Now().Truncate(time.Minute)
	_, _ = db.Exec(`DELETE FROM slot_observations WHERE slot_start = $1`, slotStart)

	obs := planmodel.ObservationRecord{
		SlotStart: slotStart,
		ImportKwh: 1.5,
		PVKwh:     0.2,
		LoadKwh:   1.7,
	}

	if err := s.RecordObservation(ctx, obs); err != nil {
		t.Fatalf("first RecordObservation failed: %v", err)
	}
	if err := s.RecordObservation(ctx, obs); err != nil {
		t.Fatalf("second RecordObservation failed: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM slot_observations WHERE slot_start = $1`, slotStart).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one observation row after two identical writes, got %d", count)
	}
}

func TestIntegrateCounterClampsNegativeDelta(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db, nil)
	ctx := context.Background()

	name := "test_counter_reset"
	_, _ = db.Exec(`DELETE FROM sensor_totals WHERE name = $1`, name)

	d1, err := s.IntegrateCounter(ctx, name, 100.0, time.Now())
	if err != nil {
		t.Fatalf("first IntegrateCounter failed: %v", err)
	}
	if d1 != 0 {
		t.Errorf("first reading delta = %v, want 0 (no prior value)", d1)
	}

	d2, err := s.IntegrateCounter(ctx, name, 50.0, time.Now())
	if err != nil {
		t.Fatalf("second IntegrateCounter failed: %v", err)
	}
	if d2 != 0 {
		t.Errorf("delta after counter reset = %v, want 0 (clamped)", d2)
	}

	d3, err := s.IntegrateCounter(ctx, name, 70.0, time.Now())
	if err != nil {
		t.Fatalf("third IntegrateCounter failed: %v", err)
	}
	if d3 != 20.0 {
		t.Errorf("delta = %v, want 20", d3)
	}
}

func TestRangeQueryJoinsLatestForecastVersion(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db, nil)
	ctx := context.Background()

	slotStart := time.Now().Truncate(time.Minute)
	_, _ = db.Exec(`DELETE FROM slot_observations WHERE slot_start = $1`, slotStart)
	_, _ = db.Exec(`DELETE FROM slot_forecasts WHERE slot_start = $1`, slotStart)

	if err := s.RecordObservation(ctx, planmodel.ObservationRecord{SlotStart: slotStart, ImportKwh: 1.0}); err != nil {
		t.Fatalf("RecordObservation failed: %v", err)
	}
	if err := s.StoreForecasts(ctx, []planmodel.ForecastRecord{
		{SlotStart: slotStart, ForecastVersion: 1, PVForecastKwh: 1.0},
		{SlotStart: slotStart, ForecastVersion: 2, PVForecastKwh: 2.0},
	}); err != nil {
		t.Fatalf("StoreForecasts failed: %v", err)
	}

	rows, err := s.RangeQuery(ctx, slotStart.Add(-time.Minute), slotStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].HasForecast || rows[0].Forecast.PVForecastKwh != 2.0 {
		t.Errorf("expected the latest forecast version (2.0 kWh PV), got %+v", rows[0].Forecast)
	}
}

func TestRangeQueryRoundTripsImportPrice(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db, nil)
	ctx := context.Background()

	slotStart := time.Now().Truncate(time.Minute)
	_, _ = db.Exec(`DELETE FROM slot_observations WHERE slot_start = $1`, slotStart)
	_, _ = db.Exec(`DELETE FROM slot_forecasts WHERE slot_start = $1`, slotStart)

	if err := s.RecordObservation(ctx, planmodel.ObservationRecord{SlotStart: slotStart, ImportKwh: 1.0}); err != nil {
		t.Fatalf("RecordObservation failed: %v", err)
	}
	if err := s.StoreForecasts(ctx, []planmodel.ForecastRecord{
		{SlotStart: slotStart, ForecastVersion: 1, PVForecastKwh: 1.0, ImportPrice: 2.5, PriceKnown: true},
	}); err != nil {
		t.Fatalf("StoreForecasts failed: %v", err)
	}

	rows, err := s.RangeQuery(ctx, slotStart.Add(-time.Minute), slotStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].Forecast.PriceKnown || rows[0].Forecast.ImportPrice != 2.5 {
		t.Errorf("expected import price 2.5 to round-trip, got %+v", rows[0].Forecast)
	}
}

func TestRangeQueryLeavesPriceUnknownWhenNotStored(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	s := New(db, nil)
	ctx := context.Background()

	slotStart := time.Now().Truncate(time.Minute)
	_, _ = db.Exec(`DELETE FROM slot_observations WHERE slot_start = $1`, slotStart)
	_, _ = db.Exec(`DELETE FROM slot_forecasts WHERE slot_start = $1`, slotStart)

	if err := s.RecordObservation(ctx, planmodel.ObservationRecord{SlotStart: slotStart, ImportKwh: 1.0}); err != nil {
		t.Fatalf("RecordObservation failed: %v", err)
	}
	if err := s.StoreForecasts(ctx, []planmodel.ForecastRecord{
		{SlotStart: slotStart, ForecastVersion: 1, PVForecastKwh: 1.0},
	}); err != nil {
		t.Fatalf("StoreForecasts failed: %v", err)
	}

	rows, err := s.RangeQuery(ctx, slotStart.Add(-time.Minute), slotStart.Add(time.Minute))
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Forecast.PriceKnown {
		t.Errorf("expected PriceKnown=false when no price was stored, got %+v", rows[0].Forecast)
	}
}
