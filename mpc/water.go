package mpc

import (
	"math"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/planmodel"
)

// scheduleWater implements Pass 5: water-heating block scheduling.
// Source preference is PV surplus, then battery (if economical), then grid.
// avgCost/eta at the time of scheduling approximates the battery's
// discharge economics; no projected SoC is consulted when choosing the
// battery-economical branch.
func scheduleWater(inputs []planmodel.InputSlot, chargeKw []float64, cfg *config.Config, params battery.Params, deltaMinutes int, avgCostPerKwh float64, futureOnlyFromIdx int) []float64 {
	n := len(inputs)
	waterKw := make([]float64, n)
	hours := float64(deltaMinutes) / 60.0

	minSlotsPerBlock := int(math.Ceil(cfg.WaterMinHoursPerDay / hours))
	if minSlotsPerBlock < 1 {
		minSlotsPerBlock = 1
	}
	targetKwh := cfg.WaterMinKwhPerDay
	perSlotKwh := cfg.WaterDeviceKw * hours

	firstIdx := 0
	if cfg.WaterScheduleFutureOnly {
		firstIdx = futureOnlyFromIdx
	}

	pvSurplus := make([]float64, n)
	for i := 0; i < n; i++ {
		surplus := inputs[i].PVForecastKwh - inputs[i].LoadForecastKwh - chargeKw[i]*hours
		if surplus > 0 {
			pvSurplus[i] = surplus
		}
	}

	blocksUsed := 0
	delivered := 0.0

	for blocksUsed < cfg.WaterMaxBlocksPerDay && delivered < targetKwh-1e-9 {
		start, length, source := bestWaterBlock(pvSurplus, waterKw, inputs, params, avgCostPerKwh, cfg, firstIdx, n, minSlotsPerBlock)
		if start < 0 {
			break
		}
		for i := start; i < start+length; i++ {
			if waterKw[i] > 0 {
				continue
			}
			waterKw[i] = cfg.WaterDeviceKw
			delivered += perSlotKwh
			if source == "pv" && pvSurplus[i] > 0 {
				pvSurplus[i] -= perSlotKwh
			}
		}
		blocksUsed++
	}

	return waterKw
}

// bestWaterBlock finds the best contiguous block of minLen future slots not
// already carrying water heating: PV-surplus runs first, then the cheapest
// battery-economical or grid run.
func bestWaterBlock(pvSurplus, waterKw []float64, inputs []planmodel.InputSlot, params battery.Params, avgCostPerKwh float64, cfg *config.Config, firstIdx, n, minLen int) (int, int, string) {
	bestStart, bestLen := -1, 0
	run := 0
	for i := firstIdx; i < n; i++ {
		if pvSurplus[i] > 0 && waterKw[i] <= 0 {
			run++
		} else {
			run = 0
		}
		if run >= minLen {
			bestStart = i - run + 1
			bestLen = run
			return bestStart, minLen, "pv"
		}
	}

	marginalBatteryCost := avgCostPerKwh/params.Eta() + params.WearSekPerKwh
	bestPrice := math.Inf(1)
	for i := firstIdx; i+minLen <= n; i++ {
		known, sum := true, 0.0
		for j := i; j < i+minLen; j++ {
			if !inputs[j].PriceKnown || waterKw[j] > 0 {
				known = false
				break
			}
			sum += inputs[j].ImportPrice
		}
		if !known {
			continue
		}
		avg := sum / float64(minLen)
		effectivePrice := avg
		if marginalBatteryCost+cfg.BatteryUseMarginSek < avg {
			effectivePrice = marginalBatteryCost
		}
		if effectivePrice < bestPrice {
			bestPrice = effectivePrice
			bestStart = i
			bestLen = minLen
		}
	}
	if bestStart < 0 {
		return -1, 0, ""
	}
	return bestStart, bestLen, "grid_or_battery"
}
