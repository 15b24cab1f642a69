package scheduler

import (
	"log"
	"testing"
	"time"

	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/mpc"
	"github.com/devskill-org/energy-management-system/planmodel"
	"github.com/devskill-org/energy-management-system/timegrid"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Location = "UTC"
	return cfg
}

func TestGetInitialDelayAlignsToIntervalBoundary(t *testing.T) {
	now := time.Date(2026, 7, 30, 13, 37, 0, 0, time.UTC)
	delay := getInitialDelay(now, 15*time.Minute)

	next := now.Add(delay)
	if next.Minute()%15 != 0 {
		t.Errorf("expected next run aligned to a 15-minute boundary, got minute=%d", next.Minute())
	}
	if delay < 0 || delay > 15*time.Minute {
		t.Errorf("expected delay within one interval, got %v", delay)
	}
}

func TestGetInitialDelayOnExactBoundaryIsZero(t *testing.T) {
	now := time.Date(2026, 7, 30, 13, 30, 0, 0, time.UTC)
	delay := getInitialDelay(now, 15*time.Minute)
	if delay != 0 {
		t.Errorf("expected zero delay exactly on boundary, got %v", delay)
	}
}

func TestSetConfigAndGetConfigRoundTrip(t *testing.T) {
	r := NewRunner(testConfig(), log.Default())
	updated := testConfig()
	updated.PVPeakPowerKw = 12.5

	r.SetConfig(updated)
	if got := r.GetConfig().PVPeakPowerKw; got != 12.5 {
		t.Errorf("expected updated config to stick, got PVPeakPowerKw=%v", got)
	}
}

func TestStatusSnapshotReflectsRunnerState(t *testing.T) {
	r := NewRunner(testConfig(), log.Default())

	snap := r.StatusSnapshot()
	if snap.IsRunning {
		t.Error("expected IsRunning=false before Start")
	}
	if snap.SlotsPlanned != 0 {
		t.Errorf("expected no slots planned yet, got %d", snap.SlotsPlanned)
	}

	r.mu.Lock()
	r.lastPlan = mpc.PlanResult{
		Slots: []planmodel.ScheduleSlot{
			{ImportPriceSekKwh: 1.2, PVForecastKwh: 0.5},
		},
		UnsatisfiableNotes: []string{"water heating window unreachable"},
	}
	r.lastPlanAt = time.Now()
	r.mu.Unlock()

	snap = r.StatusSnapshot()
	if snap.SlotsPlanned != 1 {
		t.Errorf("expected 1 slot planned, got %d", snap.SlotsPlanned)
	}
	if !snap.HasPriceData || !snap.HasPVForecast {
		t.Error("expected price and PV data flags to be set from the last plan")
	}
	if len(snap.UnsatisfiableNotes) != 1 {
		t.Errorf("expected unsatisfiable notes to be carried into the snapshot, got %v", snap.UnsatisfiableNotes)
	}
	if snap.NextPlanAt == nil {
		t.Error("expected NextPlanAt to be set once a plan has run")
	}
}

func TestStopIsIdempotentWhenNeverStarted(t *testing.T) {
	r := NewRunner(testConfig(), log.Default())
	r.Stop()
	r.Stop()
}

func TestSumRecentSeriesSumsOnlyPointsInWindow(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	series := timegrid.RawSeries{
		{At: now.Add(-3 * time.Hour), Value: 1.0}, // outside window
		{At: now.Add(-90 * time.Minute), Value: 2.0},
		{At: now.Add(-30 * time.Minute), Value: 3.0},
		{At: now, Value: 4.0}, // excluded: not before now
		{At: now.Add(time.Hour), Value: 5.0},
	}

	got := sumRecentSeries(series, now, 2*time.Hour)
	want := 2.0 + 3.0
	if got != want {
		t.Errorf("sumRecentSeries = %v, want %v", got, want)
	}
}

func TestLatestKnownBeforeReturnsMostRecentPastPoint(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	series := timegrid.RawSeries{
		{At: now.Add(-time.Hour), Value: 5.0},
		{At: now.Add(-10 * time.Minute), Value: 7.0},
		{At: now.Add(time.Hour), Value: 99.0}, // future, must be ignored
	}

	got, ok := latestKnownBefore(series, now)
	if !ok {
		t.Fatal("expected a known value before now")
	}
	if got != 7.0 {
		t.Errorf("latestKnownBefore = %v, want 7.0", got)
	}
}

func TestLatestKnownBeforeReportsFalseWhenEmpty(t *testing.T) {
	_, ok := latestKnownBefore(nil, time.Now())
	if ok {
		t.Error("expected no known value for an empty series")
	}
}
