package simulator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/planmodel"
)

func fixtureParams() battery.Params {
	return battery.Params{
		CapacityKwh:         10.0,
		MaxChargeKw:         5.0,
		MaxDischargeKw:      5.0,
		MaxGridImportKw:     10.0,
		MaxGridExportKw:     10.0,
		MinSocPercent:       15,
		MaxSocPercent:       95,
		RoundTripEfficiency: 0.95,
		WearSekPerKwh:       0.20,
	}
}

func TestSimulateRejectsMismatchedLengths(t *testing.T) {
	_, err := Simulate(
		[]planmodel.ScheduleSlot{{}},
		[]planmodel.InputSlot{{}, {}},
		planmodel.BatteryState{},
		fixtureParams(),
		15,
	)
	if !errors.Is(err, planmodel.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestSimulateRejectsNegativePower(t *testing.T) {
	_, err := Simulate(
		[]planmodel.ScheduleSlot{{BatteryChargeKw: -1}},
		[]planmodel.InputSlot{{}},
		planmodel.BatteryState{},
		fixtureParams(),
		15,
	)
	if !errors.Is(err, planmodel.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestSimulateSocStaysWithinBounds(t *testing.T) {
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	p := fixtureParams()

	var schedule []planmodel.ScheduleSlot
	var inputs []planmodel.InputSlot
	for i := 0; i < 8; i++ {
		schedule = append(schedule, planmodel.ScheduleSlot{
			Start:           start.Add(time.Duration(i) * 15 * time.Minute),
			BatteryChargeKw: 5.0, // request max charge every slot, well beyond capacity
		})
		inputs = append(inputs, planmodel.InputSlot{
			Start:       start.Add(time.Duration(i) * 15 * time.Minute),
			PriceKnown:  true,
			ImportPrice: 0.5,
		})
	}

	result, err := Simulate(schedule, inputs, planmodel.BatteryState{SocPercent: 20, TotalStoredKwh: 2.0}, p, 15)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}

	for i, soc := range result.SocTrajectory {
		if soc < p.MinSocPercent-1e-6 || soc > p.MaxSocPercent+1e-6 {
			t.Errorf("slot %d: SoC %.4f out of bounds [%.1f,%.1f]", i, soc, p.MinSocPercent, p.MaxSocPercent)
		}
	}
	if len(result.ClampEvents) == 0 {
		t.Error("expected clamp events when charging beyond the SoC ceiling")
	}
}

func TestSimulateEnergyBalance(t *testing.T) {
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	p := fixtureParams()
	p.MaxSocPercent = 100 // avoid clamping so the balance identity holds exactly

	initial := planmodel.BatteryState{SocPercent: 50, TotalStoredKwh: 5.0, TotalCost: 5.0}
	schedule := []planmodel.ScheduleSlot{
		{Start: start, BatteryChargeKw: 4.0},
		{Start: start.Add(15 * time.Minute), BatteryDischargeKw: 4.0},
	}
	inputs := []planmodel.InputSlot{
		{Start: start, PriceKnown: true, ImportPrice: 1.0, LoadForecastKwh: 0.1},
		{Start: start.Add(15 * time.Minute), PriceKnown: true, ImportPrice: 1.0, LoadForecastKwh: 5.0},
	}

	result, err := Simulate(schedule, inputs, initial, p, 15)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}

	eta := p.Eta()
	chargeKwh := 4.0 * 0.25
	dischargeKwh := 4.0 * 0.25
	wantDeltaKwh := eta*chargeKwh - dischargeKwh/eta

	startKwh := initial.TotalStoredKwh
	endKwh := result.FinalState.TotalStoredKwh
	gotDeltaKwh := endKwh - startKwh

	if math.Abs(gotDeltaKwh-wantDeltaKwh) > 1e-6 {
		t.Errorf("energy balance mismatch: got delta %.6f kWh, want %.6f kWh", gotDeltaKwh, wantDeltaKwh)
	}
}

func TestSimulateClampEventsNonEmptyOnlyWhenClamped(t *testing.T) {
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	p := fixtureParams()

	schedule := []planmodel.ScheduleSlot{{Start: start, BatteryChargeKw: 1.0}}
	inputs := []planmodel.InputSlot{{Start: start, PriceKnown: true, ImportPrice: 0.5}}

	result, err := Simulate(schedule, inputs, planmodel.BatteryState{SocPercent: 20, TotalStoredKwh: 2.0}, p, 15)
	if err != nil {
		t.Fatalf("Simulate returned error: %v", err)
	}
	if len(result.ClampEvents) != 0 {
		t.Errorf("expected no clamp events for an unconstrained charge, got %v", result.ClampEvents)
	}
}
