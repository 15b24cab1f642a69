// Package plant wraps the sigenergy Modbus client: a polling telemetry
// reader that accumulates raw power samples into per-slot observation
// records, and an executor that writes planner decisions down to the
// inverter.
package plant

import (
	"fmt"
	"sync"
	"time"

	"github.com/devskill-org/energy-management-system/planmodel"
	"github.com/devskill-org/energy-management-system/sigenergy"
)

// powerSample is one instantaneous Modbus read.
type powerSample struct {
	pvKw      float64
	gridKw    float64 // positive = import, negative = export
	essKw     float64 // positive = charging, negative = discharging
	socPct    float64
	ts        time.Time
}

// SampleAccumulator collects power samples between planner ticks and
// integrates them into an ObservationRecord once a slot closes. It mirrors
// the teacher's DataSamples/IntegrateSamples accumulator, generalised to
// the planner's slot-keyed observation schema instead of a single metrics
// row.
type SampleAccumulator struct {
	mu          sync.Mutex
	samples     []powerSample
	socStartPct float64
	haveStart   bool
}

func NewSampleAccumulator() *SampleAccumulator {
	return &SampleAccumulator{}
}

// GetLatestPVKw returns the most recently polled instantaneous PV power,
// or 0 if nothing has been polled yet.
func (a *SampleAccumulator) GetLatestPVKw() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.samples) == 0 {
		return 0
	}
	return a.samples[len(a.samples)-1].pvKw
}

// RecentPVEnergy trapezoidally integrates polled PV power over the trailing
// window ending at the last sample, using actual sample timestamps rather
// than an assumed poll interval. Every interval between consecutive samples
// whose end lies inside the window is counted in full, including any part
// of it before the window start. Returns 0 until at least two samples have
// been collected.
func (a *SampleAccumulator) RecentPVEnergy(window time.Duration) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.samples) < 2 {
		return 0
	}

	cutoff := a.samples[len(a.samples)-1].ts.Add(-window)
	var kwh float64
	for i := 1; i < len(a.samples); i++ {
		prev, cur := a.samples[i-1], a.samples[i]
		if cur.ts.Before(cutoff) {
			continue
		}
		dt := cur.ts.Sub(prev.ts).Hours()
		if dt <= 0 {
			continue
		}
		kwh += (prev.pvKw + cur.pvKw) / 2 * dt
	}
	return kwh
}

// Poll reads one instantaneous sample from the plant over Modbus TCP and
// appends it to the accumulator.
func (a *SampleAccumulator) Poll(modbusAddress string) error {
	client, err := sigenergy.NewTCPClient(modbusAddress, sigenergy.PlantAddress)
	if err != nil {
		return fmt.Errorf("plant: failed to open modbus client: %w", err)
	}
	defer client.Close()

	info, err := client.ReadPlantRunningInfo()
	if err != nil {
		return fmt.Errorf("plant: failed to read plant running info: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.haveStart {
		a.socStartPct = info.ESSSOC
		a.haveStart = true
	}
	a.samples = append(a.samples, powerSample{
		pvKw:   info.PhotovoltaicPower,
		gridKw: info.GridSensorActivePower,
		essKw:  info.ESSPower,
		socPct: info.ESSSOC,
		ts:     time.Now(),
	})
	return nil
}

// IntegrateSlot folds every collected sample up to cutoff into an
// ObservationRecord for slotStart, at pollInterval resolution, then clears
// those samples and primes the next slot's starting SoC from the last
// reading seen. Load is derived the same way the teacher's integration
// code derives it: PV + battery discharge + grid import - battery charge -
// grid export.
func (a *SampleAccumulator) IntegrateSlot(slotStart time.Time, cutoff time.Time, pollInterval time.Duration) (planmodel.ObservationRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) == 0 {
		return planmodel.ObservationRecord{}, false
	}

	hours := pollInterval.Seconds() / 3600.0
	rec := planmodel.ObservationRecord{SlotStart: slotStart, SocStartPercent: a.socStartPct}

	var kept []powerSample
	var lastSoc float64
	used := 0
	for _, s := range a.samples {
		if s.ts.After(cutoff) {
			kept = append(kept, s)
			continue
		}
		used++
		rec.PVKwh += s.pvKw * hours
		if s.gridKw > 0 {
			rec.ImportKwh += s.gridKw * hours
		} else if s.gridKw < 0 {
			rec.ExportKwh += -s.gridKw * hours
		}
		if s.essKw > 0 {
			rec.BatteryChargeKwh += s.essKw * hours
		} else if s.essKw < 0 {
			rec.BatteryDischargeKwh += -s.essKw * hours
		}
		lastSoc = s.socPct
	}

	if used == 0 {
		return planmodel.ObservationRecord{}, false
	}

	rec.SocEndPercent = lastSoc
	rec.LoadKwh = rec.PVKwh + rec.BatteryDischargeKwh + rec.ImportKwh - rec.BatteryChargeKwh - rec.ExportKwh
	if rec.LoadKwh < 0 {
		rec.LoadKwh = 0
		rec.QualityFlags = append(rec.QualityFlags, "negative_load_clamped")
	}

	a.samples = kept
	a.socStartPct = lastSoc
	return rec, true
}
