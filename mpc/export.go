package mpc

import (
	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/planmodel"
)

// dischargeExportPlan is Pass 6's output: per-slot discharge and export
// decisions. The protective SoC floor used along the way is not kept.
type dischargeExportPlan struct {
	DischargeKw []float64
	ExportKwh   []float64
}

// planDischargeExport implements Pass 6. It walks the horizon forward,
// tracking a running battery state seeded by chargeKw/waterKw already
// decided in earlier passes, and decides self-consumption discharge in
// deficit runs plus export inside peak windows subject to a protective SoC
// floor and a future-price guard buffer.
func planDischargeExport(inputs []planmodel.InputSlot, chargeKw, waterKw []float64, peakWindows []Window, runs []DeficitRun, initial planmodel.BatteryState, params battery.Params, cfg *config.Config, deltaMinutes int) dischargeExportPlan {
	n := len(inputs)
	out := dischargeExportPlan{DischargeKw: make([]float64, n), ExportKwh: make([]float64, n)}

	inDeficit := make([]bool, n)
	for _, r := range runs {
		for i := r.StartIdx; i <= r.EndIdx; i++ {
			inDeficit[i] = true
		}
	}

	peakOf := make([]int, n)
	for i := range peakOf {
		peakOf[i] = -1
	}
	for wi, w := range peakWindows {
		for i := w.StartIdx; i <= w.EndIdx; i++ {
			peakOf[i] = wi
		}
	}

	remainingResponsibility := make([]float64, n+1)
	for _, r := range runs {
		remainingResponsibility[r.StartIdx] += r.DeficitKwh
	}
	running := 0.0
	for i := n - 1; i >= 0; i-- {
		running += remainingResponsibility[i]
		remainingResponsibility[i] = running
	}

	hours := float64(deltaMinutes) / 60.0
	state := initial

	for i := 0; i < n; i++ {
		price := 0.0
		if inputs[i].PriceKnown {
			price = inputs[i].ImportPrice
		}

		if chargeKw[i] > 1e-9 {
			res := battery.Charge(state, params, chargeKw[i]*hours, price)
			state = res.State
		}

		protectiveFloor := protectiveSocFloor(cfg, params, remainingResponsibility[i])

		if inDeficit[i] {
			netLoad := inputs[i].LoadForecastKwh - inputs[i].PVForecastKwh
			if netLoad > 0 && state.SocPercent > protectiveFloor {
				deviceCapKwh := battery.MaxDischargeKwhPerSlot(params, deltaMinutes)
				deliver := netLoad
				if deliver > deviceCapKwh {
					deliver = deviceCapKwh
				}
				res := battery.Discharge(state, params, deliver)
				state = res.State
				out.DischargeKw[i] = res.DeliveredKwh / hours
			}
		} else if wi := peakOf[i]; wi >= 0 && inputs[i].PriceKnown {
			if state.SocPercent > protectiveFloor && allowExport(peakWindows, wi, cfg.FuturePriceGuardBufferSek) {
				marginal := battery.MarginalDischargeCost(state, params)
				if marginal+cfg.ExportProfitMarginSek < price {
					deviceCapKwh := battery.MaxDischargeKwhPerSlot(params, deltaMinutes)
					res := battery.Discharge(state, params, deviceCapKwh)
					state = res.State
					out.ExportKwh[i] = res.DeliveredKwh
				}
			}
		}

		if !inDeficit[i] && waterKw[i] > 0 {
			uncovered := waterKw[i]*hours - (inputs[i].PVForecastKwh - inputs[i].LoadForecastKwh)
			if uncovered > 0 && state.SocPercent > protectiveFloor {
				marginal := battery.MarginalDischargeCost(state, params)
				if marginal+cfg.BatteryUseMarginSek < price {
					res := battery.Discharge(state, params, uncovered)
					state = res.State
					out.DischargeKw[i] += res.DeliveredKwh / hours
				}
			}
		}
	}

	return out
}

func protectiveSocFloor(cfg *config.Config, params battery.Params, remainingResponsibilityKwh float64) float64 {
	if cfg.ProtectiveSocStrategy == "fixed" {
		return cfg.ProtectiveSocFixedPercent
	}
	if params.CapacityKwh <= 0 {
		return cfg.BatteryMinSocPercent
	}
	floorPercent := battery.SocPercent(params, remainingResponsibilityKwh)
	if floorPercent < params.MinSocPercent {
		floorPercent = params.MinSocPercent
	}
	if floorPercent > params.MaxSocPercent {
		floorPercent = params.MaxSocPercent
	}
	return floorPercent
}

// allowExport denies export from window wi if a later peak window has a
// meaningfully higher average price within the guard buffer.
func allowExport(peakWindows []Window, wi int, guardBufferSek float64) bool {
	for j := wi + 1; j < len(peakWindows); j++ {
		if peakWindows[j].AvgPrice > peakWindows[wi].AvgPrice+guardBufferSek {
			return false
		}
	}
	return true
}
