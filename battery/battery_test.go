package battery

import (
	"math"
	"testing"

	"github.com/devskill-org/energy-management-system/planmodel"
)

func paramsFixture() Params {
	return Params{
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

func TestChargeWeightedAverageCost(t *testing.T) {
	p := paramsFixture()
	state := planmodel.BatteryState{SocPercent: 20, TotalStoredKwh: 2.0, TotalCost: 2.0} // avg 1.0 sek/kWh

	res := Charge(state, p, 1.0, 0.5) // 1 kWh from grid at 0.50 sek/kWh

	eta := p.Eta()
	wantStored := 2.0 + eta*1.0
	wantCost := 2.0 + 0.5*1.0

	if math.Abs(res.State.TotalStoredKwh-wantStored) > 1e-9 {
		t.Errorf("TotalStoredKwh = %.6f, want %.6f", res.State.TotalStoredKwh, wantStored)
	}
	if math.Abs(res.State.TotalCost-wantCost) > 1e-9 {
		t.Errorf("TotalCost = %.6f, want %.6f", res.State.TotalCost, wantCost)
	}

	wantAvg := wantCost / wantStored
	if math.Abs(res.State.AvgCostPerKwh()-wantAvg) > 1e-9 {
		t.Errorf("AvgCostPerKwh = %.6f, want %.6f", res.State.AvgCostPerKwh(), wantAvg)
	}
	if res.Clamped {
		t.Errorf("expected no clamping for a small charge")
	}
}

func TestChargeClampsAtSocCeiling(t *testing.T) {
	p := paramsFixture()
	// nearly full: only 0.1 kWh of headroom to max_soc (95% of 10 kWh = 9.5 kWh)
	state := planmodel.BatteryState{SocPercent: 94, TotalStoredKwh: 9.4, TotalCost: 9.4}

	res := Charge(state, p, 5.0, 1.0) // request far more than headroom

	wantHeadroom := 9.5 - 9.4
	if math.Abs(res.StoredKwh-wantHeadroom) > 1e-9 {
		t.Errorf("StoredKwh = %.6f, want %.6f (clamped to headroom)", res.StoredKwh, wantHeadroom)
	}
	if !res.Clamped {
		t.Error("expected Clamped = true")
	}
	if res.State.TotalStoredKwh > 9.5+1e-9 {
		t.Errorf("TotalStoredKwh %.6f exceeds max_soc ceiling 9.5", res.State.TotalStoredKwh)
	}
}

func TestDischargeLeavesAvgCostUnchanged(t *testing.T) {
	p := paramsFixture()
	state := planmodel.BatteryState{SocPercent: 50, TotalStoredKwh: 5.0, TotalCost: 10.0} // avg 2.0

	res := Discharge(state, p, 1.0) // deliver 1 kWh to load

	wantAvg := 2.0
	if math.Abs(res.State.AvgCostPerKwh()-wantAvg) > 1e-9 {
		t.Errorf("AvgCostPerKwh changed on discharge: got %.6f, want %.6f", res.State.AvgCostPerKwh(), wantAvg)
	}

	eta := p.Eta()
	wantConsumed := 1.0 / eta
	if math.Abs(res.ConsumedKwh-wantConsumed) > 1e-9 {
		t.Errorf("ConsumedKwh = %.6f, want %.6f", res.ConsumedKwh, wantConsumed)
	}
}

func TestDischargeClampsAtSocFloor(t *testing.T) {
	p := paramsFixture()
	// min_soc 15% of 10 kWh = 1.5 kWh; only 0.2 kWh available above the floor
	state := planmodel.BatteryState{SocPercent: 17, TotalStoredKwh: 1.7, TotalCost: 1.7}

	res := Discharge(state, p, 5.0)

	if !res.Clamped {
		t.Error("expected Clamped = true when discharging below the SoC floor")
	}
	if res.State.TotalStoredKwh < 1.5-1e-9 {
		t.Errorf("TotalStoredKwh %.6f fell below min_soc floor 1.5", res.State.TotalStoredKwh)
	}
}

func TestMarginalDischargeCostIncludesWear(t *testing.T) {
	p := paramsFixture()
	state := planmodel.BatteryState{TotalStoredKwh: 5.0, TotalCost: 10.0} // avg 2.0

	got := MarginalDischargeCost(state, p)
	want := 2.0/p.Eta() + p.WearSekPerKwh
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("MarginalDischargeCost = %.6f, want %.6f", got, want)
	}
}

func TestMaxChargeKwhPerSlotAccountsForConcurrentLoad(t *testing.T) {
	p := paramsFixture()
	p.MaxGridImportKw = 6.0
	got := MaxChargeKwhPerSlot(p, 15, 2.0, 1.0)
	// grid headroom = 6 - 2 - 1 = 3 kW, device cap 5 kW -> min = 3 kW, * 0.25h = 0.75 kWh
	want := 0.75
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("MaxChargeKwhPerSlot = %.6f, want %.6f", got, want)
	}
}
