// Package mpc implements the multi-pass deterministic MPC planner: a fixed
// ordered sequence of passes that turns a horizon of input slots plus the
// current battery state into a feasible, cost-minimising schedule.
package mpc

import (
	"context"
	"log"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/planmodel"
	"github.com/devskill-org/energy-management-system/simulator"
)

// PlanResult is the planner's output: the emitted schedule plus diagnostics
// recorded during planning (never silently swallowed, per the propagation
// policy).
type PlanResult struct {
	Slots              []planmodel.ScheduleSlot
	Sim                planmodel.SimulationResult
	UnsatisfiableNotes []string
	CheapWindows       []Window
	PeakWindows        []Window
	SIndexUsed         float64
}

// Plan runs the eight-pass pipeline described in the component design.
// nowIdx is the index of the earliest slot considered "future" for water
// scheduling's schedule_future_only rule. A zero-valued SIndexInputs is
// valid: it simply yields S = base_factor in dynamic mode.
func Plan(ctx context.Context, logger *log.Logger, cfg *config.Config, params battery.Params, inputs []planmodel.InputSlot, initial planmodel.BatteryState, sIndexIn SIndexInputs, nowIdx int) (PlanResult, error) {
	if len(inputs) == 0 {
		return PlanResult{}, planmodel.NewPlannerError(planmodel.KindMissingInput, "planner requires a non-empty input horizon")
	}
	if err := ctx.Err(); err != nil {
		return PlanResult{}, planmodel.NewPlannerError(planmodel.KindPlannerTimeout, "planner run cancelled before start: %v", err)
	}

	deltaMinutes := cfg.SlotMinutes
	n := len(inputs)

	// Pass 1
	cheapWindows, peakWindows := computeWindows(inputs, cfg.ChargeThresholdPercentile, cfg.ExportThresholdPercentile, cfg.MinWindowSlots, cfg.MinWindowAbsoluteSek)
	cheapWindows = applySmoothingTolerance(cheapWindows, cfg.PriceSmoothingSekKwh)

	// Pass 2
	runs := computeDeficitRuns(inputs, initial.SocPercent)

	// S-index (§4.6), applied only in Pass 3
	sIndex := ComputeSIndex(cfg, sIndexIn)

	// Pass 3
	resp, unsatResp := computeResponsibilities(cheapWindows, runs, inputs, params, sIndex, cfg.BatteryUseMarginSek, params.WearSekPerKwh, deltaMinutes)
	windowTargets := sumResponsibilityPerWindow(resp, len(cheapWindows))

	if err := checkDeadline(ctx); err != nil {
		return PlanResult{}, err
	}

	// Pass 4
	chargeKw, unsatCharge := buildChargePlan(cheapWindows, windowTargets, inputs, params, deltaMinutes)

	// Pass 5
	waterKw := scheduleWater(inputs, chargeKw, cfg, params, deltaMinutes, initial.AvgCostPerKwh(), nowIdx)

	if err := checkDeadline(ctx); err != nil {
		return PlanResult{}, err
	}

	// Pass 6
	de := planDischargeExport(inputs, chargeKw, waterKw, peakWindows, runs, initial, params, cfg, deltaMinutes)

	// unknown-price slots are unplannable for price-sensitive decisions
	for i := 0; i < n; i++ {
		if !inputs[i].PriceKnown {
			chargeKw[i] = 0
			de.DischargeKw[i] = 0
			de.ExportKwh[i] = 0
		}
	}

	// Pass 7 — smoothing & hysteresis
	chargeOn := smoothRuns(toBool(chargeKw), cfg.MinOnSlotsCharge, cfg.MinOffSlotsCharge)
	dischargeOn := smoothRuns(toBool(de.DischargeKw), cfg.MinOnSlotsDischarge, cfg.MinOffSlotsDischarge)
	waterOn := smoothRuns(toBool(waterKw), cfg.MinOnSlotsWater, cfg.MinOffSlotsWater)

	applyOnOff(chargeKw, chargeOn, params.MaxChargeKw)
	applyOnOff(de.DischargeKw, dischargeOn, params.MaxDischargeKw)
	applyOnOff(waterKw, waterOn, cfg.WaterDeviceKw)

	if err := checkDeadline(ctx); err != nil {
		return PlanResult{}, err
	}

	// Pass 8 — final simulation & classification
	slots := make([]planmodel.ScheduleSlot, n)
	for i := 0; i < n; i++ {
		cls := planmodel.ClassHold
		switch {
		case chargeKw[i] > 1e-9:
			cls = planmodel.ClassCharge
		case de.ExportKwh[i] > 1e-9:
			cls = planmodel.ClassExport
		case waterKw[i] > 1e-9 && de.DischargeKw[i] <= 1e-9 && chargeKw[i] <= 1e-9:
			cls = planmodel.ClassWater
		case de.DischargeKw[i] > 1e-9:
			cls = planmodel.ClassDischarge
		}

		price := 0.0
		if inputs[i].PriceKnown {
			price = inputs[i].ImportPrice
		}

		slots[i] = planmodel.ScheduleSlot{
			Start:             inputs[i].Start,
			SlotNumber:        inputs[i].SlotNumber,
			BatteryChargeKw:   chargeKw[i],
			BatteryDischargeKw: de.DischargeKw[i],
			ExportKwh:         de.ExportKwh[i],
			WaterHeatingKw:    waterKw[i],
			Classification:    cls,
			ImportPriceSekKwh: price,
			PVForecastKwh:     inputs[i].PVForecastKwh,
			LoadForecastKwh:   inputs[i].LoadForecastKwh,
		}
		if !inputs[i].PriceKnown {
			slots[i].PlannerWarnings = append(slots[i].PlannerWarnings, "price unknown for this slot")
		}
	}

	sim, err := simulator.Simulate(slots, inputs, initial, params, deltaMinutes)
	if err != nil {
		return PlanResult{}, err
	}

	for i := range slots {
		slots[i].ProjectedSocPercent = sim.SocTrajectory[i]
		slots[i].SocTargetPercent = sim.SocTrajectory[i]
		warnings := simulator.ClampEventsForSlot(sim.ClampEvents, slots[i].Start)
		slots[i].PlannerWarnings = append(slots[i].PlannerWarnings, warnings...)
	}

	var unsatisfiable []string
	unsatisfiable = append(unsatisfiable, unsatResp...)
	unsatisfiable = append(unsatisfiable, unsatCharge...)

	if logger != nil && len(unsatisfiable) > 0 {
		logger.Printf("[PLANNER] %d unsatisfiable notes recorded this run", len(unsatisfiable))
	}

	return PlanResult{
		Slots:              slots,
		Sim:                sim,
		UnsatisfiableNotes: unsatisfiable,
		CheapWindows:       cheapWindows,
		PeakWindows:        peakWindows,
		SIndexUsed:         sIndex,
	}, nil
}

func checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return planmodel.NewPlannerError(planmodel.KindPlannerTimeout, "planner run exceeded its wall-clock budget: %v", err)
	}
	return nil
}

func toBool(v []float64) []bool {
	out := make([]bool, len(v))
	for i, x := range v {
		out[i] = x > 1e-9
	}
	return out
}

// applyOnOff reconciles a continuous allocation array with the smoothed
// on/off indicator: slots turned off are zeroed, slots turned on but still
// zero (extended by smoothing) get the device rate as a conservative
// default.
func applyOnOff(v []float64, on []bool, deviceRate float64) {
	for i := range v {
		if !on[i] {
			v[i] = 0
			continue
		}
		if v[i] <= 1e-9 {
			v[i] = deviceRate
		}
	}
}
