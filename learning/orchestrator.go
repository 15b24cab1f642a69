package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/store"
)

// Orchestrator runs the nightly learning sequence.
type Orchestrator struct {
	obsStore *store.Store
	runStore *LearningStore
	logger   *log.Logger
}

func NewOrchestrator(obsStore *store.Store, runStore *LearningStore, logger *log.Logger) *Orchestrator {
	return &Orchestrator{obsStore: obsStore, runStore: runStore, logger: logger}
}

// RunNightly executes loops in their fixed order for the given calendar
// date, using cfg as the baseline. On success it returns the accepted
// config (a full snapshot; the caller is responsible for installing it
// under its own config-store lock) and the run summary. A run already
// completed for this date is a no-op (idempotency).
func (o *Orchestrator) RunNightly(ctx context.Context, date time.Time, cfg *config.Config, params battery.Params) (*config.Config, Run, error) {
	started := time.Now()

	already, err := o.runStore.HasCompletedRun(ctx, date)
	if err != nil {
		return nil, Run{}, err
	}
	if already {
		return cfg, Run{Date: date, Status: StatusSkippedIdempotent}, nil
	}

	lookback := date.AddDate(0, 0, -cfg.LearningLookbackDays)
	rows, err := o.obsStore.RangeQuery(ctx, lookback, date)
	if err != nil {
		run := Run{Date: date, StartedAt: started, EndedAt: time.Now(), Status: StatusFailed, LastError: err.Error()}
		_ = o.runStore.CommitRun(ctx, run, nil, nil, nil)
		return nil, run, err
	}

	loopOrder := []string{"forecast_calibrator", "threshold_tuner", "s_index_tuner", "export_guard_tuner"}
	var allProposals []ParamProposal
	proposalLoop := map[string]string{}
	proposalReason := map[string]string{}

	fc := forecastCalibrator(rows, cfg)
	recordProposals(fc, &allProposals, proposalLoop, proposalReason)

	tt := thresholdTuner(ctx, rows, cfg, params)
	recordProposals(tt, &allProposals, proposalLoop, proposalReason)

	st := sIndexTuner(ctx, rows, cfg, params)
	recordProposals(st, &allProposals, proposalLoop, proposalReason)

	eg := exportGuardTuner(ctx, rows, cfg, params)
	recordProposals(eg, &allProposals, proposalLoop, proposalReason)

	candidate := *cfg
	var history []ParamHistoryRow
	for _, p := range allProposals {
		bound, ok := cfg.ParamBounds[p.Path]
		applied := p.NewVal
		if ok {
			delta := applied - p.OldVal
			if delta > bound.DeltaMaxPerDay {
				delta = bound.DeltaMaxPerDay
			}
			if delta < -bound.DeltaMaxPerDay {
				delta = -bound.DeltaMaxPerDay
			}
			applied = p.OldVal + delta
			applied = math.Max(bound.Min, math.Min(bound.Max, applied))
		}

		if err := setParamByPath(&candidate, p.Path, applied); err != nil {
			continue
		}
		history = append(history, ParamHistoryRow{
			At:        time.Now(),
			ParamPath: p.Path,
			OldValue:  p.OldVal,
			NewValue:  applied,
			Loop:      proposalLoop[p.Path],
			Reason:    proposalReason[p.Path],
		})
	}

	metrics := map[string]float64{"s_index.base_factor": cfg.SIndexBaseFactor}

	var dailySeries []DailySeriesRow
	for day, dayRows := range groupByDay(rows) {
		d, err := time.ParseInLocation("2006-01-02", day, date.Location())
		if err != nil {
			continue
		}
		pv := make([]float64, len(dayRows))
		load := make([]float64, len(dayRows))
		for i, r := range dayRows {
			pv[i] = r.Observation.PVKwh
			load[i] = r.Observation.LoadKwh
		}
		dailySeries = append(dailySeries,
			DailySeriesRow{Date: d, Metric: "pv_kwh", Values: pv},
			DailySeriesRow{Date: d, Metric: "load_kwh", Values: load},
		)
	}

	metricsJSON, _ := json.Marshal(map[string]any{
		"forecast_calibrator_skip": fc.SkipReason,
		"threshold_tuner_skip":     tt.SkipReason,
		"s_index_tuner_skip":       st.SkipReason,
		"export_guard_tuner_skip":  eg.SkipReason,
	})

	run := Run{
		Date:              date,
		StartedAt:         started,
		EndedAt:           time.Now(),
		Status:            StatusCompleted,
		LoopsRun:          loopOrder,
		ChangesProposed:   len(allProposals),
		ChangesApplied:    len(history),
		ResultMetricsJSON: string(metricsJSON),
	}

	if err := o.runStore.CommitRun(ctx, run, history, metrics, dailySeries); err != nil {
		run.Status = StatusFailed
		run.LastError = err.Error()
		return nil, run, fmt.Errorf("learning: atomic commit failed, no changes applied: %w", err)
	}

	if err := candidate.Validate(); err != nil {
		return cfg, run, fmt.Errorf("learning: candidate config failed validation after commit: %w", err)
	}

	if o.logger != nil {
		o.logger.Printf("[LEARNING] run for %s: %d proposed, %d applied", date.Format("2006-01-02"), len(allProposals), len(history))
	}

	return &candidate, run, nil
}

func recordProposals(r LoopResult, all *[]ParamProposal, loopOf, reasonOf map[string]string) {
	for _, p := range r.Proposals {
		*all = append(*all, p)
		loopOf[p.Path] = r.Loop
		reasonOf[p.Path] = p.Reason
	}
}

// setParamByPath mutates the single tunable field named by path. Unknown
// paths are an error: the config record is explicit and enumerated, not
// reflection-driven.
func setParamByPath(cfg *config.Config, path string, value float64) error {
	switch path {
	case "battery_use_margin_sek":
		cfg.BatteryUseMarginSek = value
	case "export_profit_margin_sek":
		cfg.ExportProfitMarginSek = value
	case "future_price_guard_buffer_sek":
		cfg.FuturePriceGuardBufferSek = value
	case "load_safety_margin_percent":
		cfg.LoadSafetyMarginPercent = value
	case "s_index.base_factor":
		cfg.SIndexBaseFactor = value
	default:
		return fmt.Errorf("learning: %q is not a recognised tunable parameter path", path)
	}
	return nil
}
