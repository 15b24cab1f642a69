package plant

import (
	"testing"
	"time"
)

func TestIntegrateSlotComputesLoadFromEnergyBalance(t *testing.T) {
	acc := NewSampleAccumulator()
	acc.haveStart = true
	acc.socStartPct = 50

	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	interval := 15 * time.Minute
	acc.samples = []powerSample{
		{pvKw: 4.0, gridKw: 1.0, essKw: 2.0, socPct: 55, ts: base},
		{pvKw: 4.0, gridKw: -0.5, essKw: 2.0, socPct: 60, ts: base.Add(interval)},
	}

	rec, ok := acc.IntegrateSlot(base, base.Add(interval), interval)
	if !ok {
		t.Fatal("expected IntegrateSlot to report data present")
	}

	hours := interval.Seconds() / 3600.0
	wantPV := 8.0 * hours
	if rec.PVKwh != wantPV {
		t.Errorf("PVKwh = %v, want %v", rec.PVKwh, wantPV)
	}
	wantImport := 1.0 * hours
	if rec.ImportKwh != wantImport {
		t.Errorf("ImportKwh = %v, want %v", rec.ImportKwh, wantImport)
	}
	wantExport := 0.5 * hours
	if rec.ExportKwh != wantExport {
		t.Errorf("ExportKwh = %v, want %v", rec.ExportKwh, wantExport)
	}
	wantCharge := 4.0 * hours
	if rec.BatteryChargeKwh != wantCharge {
		t.Errorf("BatteryChargeKwh = %v, want %v", rec.BatteryChargeKwh, wantCharge)
	}
	if rec.SocStartPercent != 50 || rec.SocEndPercent != 60 {
		t.Errorf("SoC bounds = [%v,%v], want [50,60]", rec.SocStartPercent, rec.SocEndPercent)
	}

	wantLoad := rec.PVKwh + rec.BatteryDischargeKwh + rec.ImportKwh - rec.BatteryChargeKwh - rec.ExportKwh
	if rec.LoadKwh != wantLoad {
		t.Errorf("LoadKwh = %v, want %v", rec.LoadKwh, wantLoad)
	}
}

func TestIntegrateSlotRetainsSamplesAfterCutoff(t *testing.T) {
	acc := NewSampleAccumulator()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	interval := 15 * time.Minute
	acc.samples = []powerSample{
		{pvKw: 1.0, ts: base},
		{pvKw: 1.0, ts: base.Add(30 * time.Minute)}, // belongs to the next slot
	}

	_, ok := acc.IntegrateSlot(base, base.Add(interval), interval)
	if !ok {
		t.Fatal("expected data present")
	}
	if len(acc.samples) != 1 {
		t.Fatalf("expected 1 retained sample past cutoff, got %d", len(acc.samples))
	}
}

func TestIntegrateSlotNoSamplesReportsAbsent(t *testing.T) {
	acc := NewSampleAccumulator()
	_, ok := acc.IntegrateSlot(time.Now(), time.Now(), time.Minute)
	if ok {
		t.Error("expected no data present for an empty accumulator")
	}
}

func TestRecentPVEnergyIntegratesTrailingWindow(t *testing.T) {
	acc := NewSampleAccumulator()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	acc.samples = []powerSample{
		{pvKw: 0, ts: base},
		{pvKw: 2.0, ts: base.Add(45 * time.Minute)},
		{pvKw: 4.0, ts: base.Add(60 * time.Minute)},
		{pvKw: 6.0, ts: base.Add(180 * time.Minute)}, // last sample: the 30m window ends here
	}

	got := acc.RecentPVEnergy(30 * time.Minute)
	// cutoff = 180m - 30m = 150m, so only the [60m,180m] trapezoid counts.
	want := (4.0 + 6.0) / 2 * 2.0
	if got != want {
		t.Errorf("RecentPVEnergy = %v, want %v", got, want)
	}
}

func TestRecentPVEnergyNeedsTwoSamples(t *testing.T) {
	acc := NewSampleAccumulator()
	if got := acc.RecentPVEnergy(time.Hour); got != 0 {
		t.Errorf("expected 0 with no samples, got %v", got)
	}
	acc.samples = []powerSample{{pvKw: 5.0, ts: time.Now()}}
	if got := acc.RecentPVEnergy(time.Hour); got != 0 {
		t.Errorf("expected 0 with a single sample, got %v", got)
	}
}

func TestIntegrateSlotClampsNegativeLoad(t *testing.T) {
	acc := NewSampleAccumulator()
	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	interval := 15 * time.Minute
	// Heavy export, no PV/import/charge recorded: load balance goes negative.
	acc.samples = []powerSample{{pvKw: 0, gridKw: -10, essKw: 0, socPct: 50, ts: base}}

	rec, ok := acc.IntegrateSlot(base, base.Add(interval), interval)
	if !ok {
		t.Fatal("expected data present")
	}
	if rec.LoadKwh != 0 {
		t.Errorf("expected clamped LoadKwh of 0, got %v", rec.LoadKwh)
	}
	found := false
	for _, f := range rec.QualityFlags {
		if f == "negative_load_clamped" {
			found = true
		}
	}
	if !found {
		t.Error("expected negative_load_clamped quality flag")
	}
}
