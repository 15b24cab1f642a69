// Package simulator implements the deterministic SoC/flow/cost simulator:
// a pure function reused by the planner (projected SoC), the learning
// orchestrator (candidate-config oracle), and manual-schedule validation.
package simulator

import (
	"fmt"
	"time"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/planmodel"
)

const epsilon = 1e-9

// Simulate iterates schedule in slot order, applying each slot's
// charge/discharge/export/water decisions against params, and returns the
// resulting SoC trajectory, final battery state and realised cost.
//
// It fails with a KindInvalidSchedule *planmodel.PlannerError only on
// structurally malformed input (mismatched lengths, negative powers).
// Cap and SoC-bound violations are clamped, recorded in the returned
// ClampEvents, and never cause an error.
func Simulate(schedule []planmodel.ScheduleSlot, inputs []planmodel.InputSlot, initial planmodel.BatteryState, params battery.Params, deltaMinutes int) (planmodel.SimulationResult, error) {
	if len(schedule) != len(inputs) {
		return planmodel.SimulationResult{}, planmodel.NewPlannerError(planmodel.KindInvalidSchedule,
			"schedule has %d slots, inputs have %d", len(schedule), len(inputs))
	}

	for i, s := range schedule {
		if s.BatteryChargeKw < -epsilon || s.BatteryDischargeKw < -epsilon || s.ExportKwh < -epsilon || s.WaterHeatingKw < -epsilon {
			return planmodel.SimulationResult{}, planmodel.NewPlannerError(planmodel.KindInvalidSchedule,
				"slot %d has a negative power or energy field", i)
		}
		if s.BatteryChargeKw > epsilon && s.BatteryDischargeKw > epsilon {
			return planmodel.SimulationResult{}, planmodel.NewPlannerError(planmodel.KindInvalidSchedule,
				"slot %d schedules both charge and discharge", i)
		}
	}

	hours := float64(deltaMinutes) / 60.0
	state := initial
	result := planmodel.SimulationResult{
		SocTrajectory: make([]float64, len(schedule)),
	}

	for i, s := range schedule {
		in := inputs[i]
		price := 0.0
		if in.PriceKnown {
			price = in.ImportPrice
		}
		exportPrice := in.ExportPrice

		waterKwh := s.WaterHeatingKw * hours
		var chargeGridKwh, dischargeDeliveredKwh, throughputKwh float64

		switch {
		case s.BatteryChargeKw > epsilon:
			req := s.BatteryChargeKw * hours
			res := battery.Charge(state, params, req, price)
			state = res.State
			chargeGridKwh = res.GridKwh
			throughputKwh = res.StoredKwh
			if res.Clamped {
				result.ClampEvents = append(result.ClampEvents, planmodel.ClampEvent{
					SlotStart: s.Start, Field: "battery_charge_kw", Requested: req, Applied: res.GridKwh,
				})
			}
		case s.BatteryDischargeKw > epsilon:
			req := s.BatteryDischargeKw * hours
			res := battery.Discharge(state, params, req)
			state = res.State
			dischargeDeliveredKwh = res.DeliveredKwh
			throughputKwh = res.ConsumedKwh
			if res.Clamped {
				result.ClampEvents = append(result.ClampEvents, planmodel.ClampEvent{
					SlotStart: s.Start, Field: "battery_discharge_kw", Requested: req, Applied: res.DeliveredKwh,
				})
			}
		}

		exportCapKwh := params.MaxGridExportKw * hours
		clampedExportKwh := s.ExportKwh
		if clampedExportKwh > exportCapKwh {
			clampedExportKwh = exportCapKwh
			result.ClampEvents = append(result.ClampEvents, planmodel.ClampEvent{
				SlotStart: s.Start, Field: "export_kwh", Requested: s.ExportKwh, Applied: clampedExportKwh,
			})
		}

		netNeed := in.LoadForecastKwh + waterKwh - in.PVForecastKwh - dischargeDeliveredKwh
		if netNeed < 0 {
			netNeed = 0
		}
		gridImportKwh := netNeed + chargeGridKwh

		result.RealisedCost += gridImportKwh*price - clampedExportKwh*exportPrice + params.WearSekPerKwh*throughputKwh

		if state.SocPercent < -epsilon || state.SocPercent > 100+epsilon {
			return planmodel.SimulationResult{}, planmodel.NewPlannerError(planmodel.KindInternalPlannerError,
				"slot %d produced SoC %.4f%% outside [0,100]", i, state.SocPercent)
		}

		result.SocTrajectory[i] = state.SocPercent
	}

	result.FinalState = state
	return result, nil
}

// ClampEventsForSlot returns the warning strings for clamp events recorded
// at a given slot start; used by the planner to attach planner_warnings
// after simulation.
func ClampEventsForSlot(events []planmodel.ClampEvent, slotStart time.Time) []string {
	var warnings []string
	for _, e := range events {
		if !e.SlotStart.Equal(slotStart) {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("clamped %s: requested %.4f, applied %.4f", e.Field, e.Requested, e.Applied))
	}
	return warnings
}
