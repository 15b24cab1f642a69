package mpc

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/planmodel"
)

func testParams() battery.Params {
	return battery.Params{
		CapacityKwh:         10.0,
		MaxChargeKw:         5.0,
		MaxDischargeKw:      5.0,
		MaxGridImportKw:     20.0,
		MaxGridExportKw:     20.0,
		MinSocPercent:       15,
		MaxSocPercent:       95,
		RoundTripEfficiency: 0.95,
		WearSekPerKwh:       0.20,
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SlotMinutes = 15
	cfg.BatteryUseMarginSek = 0.10
	cfg.ExportProfitMarginSek = 0.05
	cfg.FuturePriceGuardBufferSek = 0.05
	cfg.WaterMinKwhPerDay = 2.0
	cfg.WaterMinHoursPerDay = 1.0
	cfg.WaterMaxBlocksPerDay = 2
	cfg.WaterDeviceKw = 3.0
	cfg.WaterScheduleFutureOnly = false
	return cfg
}

// scenario 1 from the component design: one cheap early window, one evening
// peak, flat PV of zero.
func buildScenarioOneInputs() []planmodel.InputSlot {
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	n := 96
	inputs := make([]planmodel.InputSlot, n)
	for i := 0; i < n; i++ {
		price := 1.00
		switch {
		case i >= 0 && i <= 3:
			price = 0.50
		case i >= 72 && i <= 75:
			price = 2.00
		}
		load := 0.4
		if i >= 72 && i <= 75 {
			load = 1.0
		}
		inputs[i] = planmodel.InputSlot{
			Start:           start.Add(time.Duration(i) * 15 * time.Minute),
			SlotNumber:      i,
			PriceKnown:      true,
			ImportPrice:     price,
			ExportPrice:     price,
			LoadForecastKwh: load,
		}
	}
	return inputs
}

func TestPlanScenarioOneChargesCheapAndDischargesEvening(t *testing.T) {
	inputs := buildScenarioOneInputs()
	result, err := Plan(context.Background(), log.Default(), testConfig(), testParams(), inputs, planmodel.BatteryState{SocPercent: 20, TotalStoredKwh: 2.0}, SIndexInputs{}, 0)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	chargedEarly := false
	for i := 0; i <= 3; i++ {
		if result.Slots[i].BatteryChargeKw > 0 {
			chargedEarly = true
		}
	}
	if !chargedEarly {
		t.Error("expected charging in the cheap early window (slots 0-3)")
	}

	dischargedEvening := false
	for i := 72; i <= 75; i++ {
		if result.Slots[i].BatteryDischargeKw > 0 {
			dischargedEvening = true
		}
	}
	if !dischargedEvening {
		t.Error("expected discharge during the evening peak (slots 72-75)")
	}
}

func TestPlanScenarioFourUnknownTomorrowPricesAreHeld(t *testing.T) {
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	n := 192
	inputs := make([]planmodel.InputSlot, n)
	for i := 0; i < n; i++ {
		known := i < 96
		inputs[i] = planmodel.InputSlot{
			Start:           start.Add(time.Duration(i) * 15 * time.Minute),
			SlotNumber:      i,
			PriceKnown:      known,
			ImportPrice:     1.0,
			ExportPrice:     1.0,
			LoadForecastKwh: 0.4,
		}
	}

	result, err := Plan(context.Background(), log.Default(), testConfig(), testParams(), inputs, planmodel.BatteryState{SocPercent: 50, TotalStoredKwh: 5.0}, SIndexInputs{}, 0)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}

	for i := 96; i < n; i++ {
		s := result.Slots[i]
		if s.Classification != planmodel.ClassHold {
			t.Errorf("slot %d: classification = %s, want hold for unknown-price slot", i, s.Classification)
		}
		if s.BatteryChargeKw > 0 || s.BatteryDischargeKw > 0 || s.ExportKwh > 0 {
			t.Errorf("slot %d: expected no battery action for unknown-price slot", i)
		}
	}
}

func TestPlanRejectsEmptyInputs(t *testing.T) {
	_, err := Plan(context.Background(), nil, testConfig(), testParams(), nil, planmodel.BatteryState{}, SIndexInputs{}, 0)
	if err == nil {
		t.Fatal("expected an error for an empty input horizon")
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	inputs := buildScenarioOneInputs()
	cfg := testConfig()
	params := testParams()
	initial := planmodel.BatteryState{SocPercent: 20, TotalStoredKwh: 2.0}

	r1, err := Plan(context.Background(), nil, cfg, params, inputs, initial, SIndexInputs{}, 0)
	if err != nil {
		t.Fatalf("first Plan call failed: %v", err)
	}
	r2, err := Plan(context.Background(), nil, cfg, params, inputs, initial, SIndexInputs{}, 0)
	if err != nil {
		t.Fatalf("second Plan call failed: %v", err)
	}

	if len(r1.Slots) != len(r2.Slots) {
		t.Fatalf("slot count differs between runs: %d vs %d", len(r1.Slots), len(r2.Slots))
	}
	for i := range r1.Slots {
		a, b := r1.Slots[i], r2.Slots[i]
		if a.BatteryChargeKw != b.BatteryChargeKw || a.BatteryDischargeKw != b.BatteryDischargeKw ||
			a.ExportKwh != b.ExportKwh || a.WaterHeatingKw != b.WaterHeatingKw || a.Classification != b.Classification {
			t.Fatalf("slot %d differs between identical runs", i)
		}
	}
}

func TestPercentileBasic(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := percentile(values, 0); got != 1 {
		t.Errorf("p0 = %v, want 1", got)
	}
	if got := percentile(values, 100); got != 5 {
		t.Errorf("p100 = %v, want 5", got)
	}
	if got := percentile(values, 50); got != 3 {
		t.Errorf("p50 = %v, want 3", got)
	}
}

func TestSmoothRunsEliminatesSingleSlotToggle(t *testing.T) {
	on := []bool{false, true, false, false, true, true, true}
	got := smoothRuns(on, 2, 2)
	if !got[1] || !got[2] {
		t.Errorf("expected the single-slot run at index 1 to be extended: %v", got)
	}
}
