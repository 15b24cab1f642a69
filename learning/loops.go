package learning

import (
	"context"
	"fmt"
	"math"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/mpc"
	"github.com/devskill-org/energy-management-system/planmodel"
	"github.com/devskill-org/energy-management-system/simulator"
	"github.com/devskill-org/energy-management-system/store"
)

// forecastCalibrator is loop 1. It computes PV and load forecast bias over
// the lookback window. pv_confidence_percent's bias is computed for
// observability only and never turned into a ParamProposal (see
// DESIGN.md's resolution of the corresponding open question); only
// load_safety_margin_percent is actually tunable here.
func forecastCalibrator(rows []store.JoinedRow, cfg *config.Config) LoopResult {
	const loopName = "forecast_calibrator"

	var pvBiasSum, loadBiasSum float64
	sampleCount := 0
	for _, r := range rows {
		if !r.HasForecast || r.Forecast.LoadForecastKwh <= 0 {
			continue
		}
		pvBiasSum += r.Observation.PVKwh - r.Forecast.PVForecastKwh
		loadBiasSum += (r.Observation.LoadKwh - r.Forecast.LoadForecastKwh) / r.Forecast.LoadForecastKwh
		sampleCount++
	}

	if sampleCount < cfg.MinSampleThreshold {
		return LoopResult{Loop: loopName, SkipReason: "insufficient_samples"}
	}

	loadBiasPercent := loadBiasSum / float64(sampleCount) * 100
	pvBiasKwh := pvBiasSum / float64(sampleCount) // metrics-only, never proposed

	if math.Abs(loadBiasPercent) < cfg.MinImprovementThresholdSek {
		return LoopResult{Loop: loopName, SkipReason: fmt.Sprintf("below_improvement_threshold (pv_bias_kwh=%.3f observed)", pvBiasKwh)}
	}

	return LoopResult{
		Loop: loopName,
		Proposals: []ParamProposal{{
			Path:   "load_safety_margin_percent",
			OldVal: cfg.LoadSafetyMarginPercent,
			NewVal: cfg.LoadSafetyMarginPercent + loadBiasPercent,
			Reason: fmt.Sprintf("observed load forecast bias %.2f%% over %d samples (pv bias %.3f kWh, metrics only)", loadBiasPercent, sampleCount, pvBiasKwh),
		}},
	}
}

// simulatedImprovement re-plans each represented day with a candidate
// config value substituted in, simulates the result, and returns the
// average daily SEK improvement over baseline (positive = candidate is
// cheaper).
func simulatedImprovement(ctx context.Context, rows []store.JoinedRow, baseCfg *config.Config, params battery.Params, mutate func(*config.Config)) (float64, int, error) {
	days := groupByDay(rows)
	if len(days) == 0 {
		return 0, 0, nil
	}

	candidate := *baseCfg
	mutate(&candidate)

	var totalDelta float64
	for _, day := range days {
		inputs, initial := dayToInputs(day)
		if len(inputs) == 0 {
			continue
		}

		baseResult, err := mpc.Plan(ctx, nil, baseCfg, params, inputs, initial, mpc.SIndexInputs{}, 0)
		if err != nil {
			continue
		}
		candResult, err := mpc.Plan(ctx, nil, &candidate, params, inputs, initial, mpc.SIndexInputs{}, 0)
		if err != nil {
			continue
		}

		baseSim, err := simulator.Simulate(baseResult.Slots, inputs, initial, params, baseCfg.SlotMinutes)
		if err != nil {
			continue
		}
		candSim, err := simulator.Simulate(candResult.Slots, inputs, initial, params, candidate.SlotMinutes)
		if err != nil {
			continue
		}

		totalDelta += baseSim.RealisedCost - candSim.RealisedCost
	}

	return totalDelta / float64(len(days)), len(days), nil
}

// thresholdTuner is loop 2: perturbs battery_use_margin_sek and
// export_profit_margin_sek.
func thresholdTuner(ctx context.Context, rows []store.JoinedRow, cfg *config.Config, params battery.Params) LoopResult {
	const loopName = "threshold_tuner"
	const step = 0.02

	bestPath, bestNew, bestImprovement := "", 0.0, 0.0
	samples := 0

	for _, path := range []string{"battery_use_margin_sek", "export_profit_margin_sek"} {
		improvement, n, err := simulatedImprovement(ctx, rows, cfg, params, func(c *config.Config) {
			switch path {
			case "battery_use_margin_sek":
				c.BatteryUseMarginSek = math.Max(0, c.BatteryUseMarginSek-step)
			case "export_profit_margin_sek":
				c.ExportProfitMarginSek = math.Max(0, c.ExportProfitMarginSek-step)
			}
		})
		if err != nil || n == 0 {
			continue
		}
		samples = n
		if improvement > bestImprovement {
			bestImprovement = improvement
			bestPath = path
			switch path {
			case "battery_use_margin_sek":
				bestNew = math.Max(0, cfg.BatteryUseMarginSek-step)
			case "export_profit_margin_sek":
				bestNew = math.Max(0, cfg.ExportProfitMarginSek-step)
			}
		}
	}

	if samples == 0 {
		return LoopResult{Loop: loopName, SkipReason: "insufficient_samples"}
	}
	if bestImprovement < cfg.MinImprovementThresholdSek || bestPath == "" {
		return LoopResult{Loop: loopName, SkipReason: "below_improvement_threshold"}
	}

	old := cfg.BatteryUseMarginSek
	if bestPath == "export_profit_margin_sek" {
		old = cfg.ExportProfitMarginSek
	}
	return LoopResult{
		Loop: loopName,
		Proposals: []ParamProposal{{
			Path:   bestPath,
			OldVal: old,
			NewVal: bestNew,
			Reason: fmt.Sprintf("simulated improvement %.2f SEK/day over %d days", bestImprovement, samples),
		}},
	}
}

// sIndexTuner is loop 3: perturbs s_index.base_factor.
func sIndexTuner(ctx context.Context, rows []store.JoinedRow, cfg *config.Config, params battery.Params) LoopResult {
	const loopName = "s_index_tuner"
	const step = 0.02

	improvement, n, err := simulatedImprovement(ctx, rows, cfg, params, func(c *config.Config) {
		c.SIndexBaseFactor = clampF(c.SIndexBaseFactor-step, 1.0, c.SIndexMaxFactor)
	})
	if err != nil || n == 0 {
		return LoopResult{Loop: loopName, SkipReason: "insufficient_samples"}
	}
	if improvement < cfg.MinImprovementThresholdSek {
		return LoopResult{Loop: loopName, SkipReason: "below_improvement_threshold"}
	}

	return LoopResult{
		Loop: loopName,
		Proposals: []ParamProposal{{
			Path:   "s_index.base_factor",
			OldVal: cfg.SIndexBaseFactor,
			NewVal: clampF(cfg.SIndexBaseFactor-step, 1.0, cfg.SIndexMaxFactor),
			Reason: fmt.Sprintf("simulated improvement %.2f SEK/day over %d days", improvement, n),
		}},
	}
}

// exportGuardTuner is loop 4: perturbs future_price_guard_buffer_sek.
func exportGuardTuner(ctx context.Context, rows []store.JoinedRow, cfg *config.Config, params battery.Params) LoopResult {
	const loopName = "export_guard_tuner"
	const step = 0.02

	improvement, n, err := simulatedImprovement(ctx, rows, cfg, params, func(c *config.Config) {
		c.FuturePriceGuardBufferSek = math.Max(0, c.FuturePriceGuardBufferSek-step)
	})
	if err != nil || n == 0 {
		return LoopResult{Loop: loopName, SkipReason: "insufficient_samples"}
	}
	if improvement < cfg.MinImprovementThresholdSek {
		return LoopResult{Loop: loopName, SkipReason: "below_improvement_threshold"}
	}

	return LoopResult{
		Loop: loopName,
		Proposals: []ParamProposal{{
			Path:   "future_price_guard_buffer_sek",
			OldVal: cfg.FuturePriceGuardBufferSek,
			NewVal: math.Max(0, cfg.FuturePriceGuardBufferSek-step),
			Reason: fmt.Sprintf("simulated improvement %.2f SEK/day over %d days", improvement, n),
		}},
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// groupByDay buckets joined rows by calendar day (local to the row's own
// timestamp, since rows are already in local time per the time grid).
func groupByDay(rows []store.JoinedRow) map[string][]store.JoinedRow {
	days := make(map[string][]store.JoinedRow)
	for _, r := range rows {
		key := r.Observation.SlotStart.Format("2006-01-02")
		days[key] = append(days[key], r)
	}
	return days
}

// dayToInputs rebuilds the InputSlot horizon and starting battery state the
// planner would have seen for one historical day, from its observations and
// the forecast that was active at the time.
func dayToInputs(rows []store.JoinedRow) ([]planmodel.InputSlot, planmodel.BatteryState) {
	var inputs []planmodel.InputSlot
	for _, r := range rows {
		if !r.HasForecast {
			continue
		}
		inputs = append(inputs, planmodel.InputSlot{
			Start:           r.Observation.SlotStart,
			ImportPrice:     r.Forecast.ImportPrice,
			PriceKnown:      r.Forecast.PriceKnown,
			PVForecastKwh:   r.Forecast.PVForecastKwh,
			LoadForecastKwh: r.Forecast.LoadForecastKwh,
			TempC:           r.Forecast.TempC,
			TempKnown:       r.Forecast.TempKnown,
		})
	}
	if len(inputs) == 0 {
		return nil, planmodel.BatteryState{}
	}
	return inputs, planmodel.BatteryState{SocPercent: rows[0].Observation.SocStartPercent}
}
