package mpc

import "github.com/devskill-org/energy-management-system/config"

// SIndexInputs carries the recent realised-vs-forecast signal used by the
// dynamic S-index mode. Static mode ignores this entirely.
type SIndexInputs struct {
	RealisedPvRecentKwh  float64
	ForecastPvRecentKwh  float64
	TempForecastC        float64
	TempKnown            bool
}

// ComputeSIndex returns the safety multiplier applied to cascading
// responsibilities in Pass 3 only. Clamped to [1.0, s_index_max_factor].
func ComputeSIndex(cfg *config.Config, in SIndexInputs) float64 {
	if cfg.SIndexMode == "static" {
		return clamp(cfg.SIndexStaticFactor, 1.0, cfg.SIndexMaxFactor)
	}

	s := cfg.SIndexBaseFactor

	if in.ForecastPvRecentKwh > 0 {
		pvDeficit := 1 - in.RealisedPvRecentKwh/in.ForecastPvRecentKwh
		if pvDeficit > 0 {
			s += cfg.SIndexPvDeficitWeight * pvDeficit
		}
	}

	if in.TempKnown && cfg.SIndexTBaselineC != cfg.SIndexTColdC {
		tempFactor := (cfg.SIndexTBaselineC - in.TempForecastC) / (cfg.SIndexTBaselineC - cfg.SIndexTColdC)
		if tempFactor > 0 {
			s += cfg.SIndexTempWeight * tempFactor
		}
	}

	return clamp(s, 1.0, cfg.SIndexMaxFactor)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
