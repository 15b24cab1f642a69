// Package scheduler runs the planner on a clock: periodic day-ahead price
// and PV forecast refreshes, the 8-pass plan itself, plant telemetry
// polling/integration, slot-by-slot execution, and the nightly learning
// run. It mirrors the teacher's periodic-task-list orchestration, applied
// to the home-energy planning domain instead of miner control.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/learning"
	"github.com/devskill-org/energy-management-system/mpc"
	"github.com/devskill-org/energy-management-system/planmodel"
	"github.com/devskill-org/energy-management-system/plant"
	"github.com/devskill-org/energy-management-system/priceinput"
	"github.com/devskill-org/energy-management-system/pvforecast"
	"github.com/devskill-org/energy-management-system/status"
	"github.com/devskill-org/energy-management-system/store"
	"github.com/devskill-org/energy-management-system/timegrid"
)

// PeriodicTask runs runFunc on a fixed interval, after an optional initial
// delay, until ctx is cancelled or stopChan is closed.
type PeriodicTask struct {
	name         string
	initialDelay time.Duration
	interval     time.Duration
	runFunc      func()
}

func (pt *PeriodicTask) run(ctx context.Context, stopChan <-chan struct{}, logger *log.Logger) {
	if pt.initialDelay > 0 {
		logger.Printf("[%s] waiting for initial delay: %v", pt.name, pt.initialDelay)
		select {
		case <-time.After(pt.initialDelay):
			pt.runFunc()
		case <-ctx.Done():
			logger.Printf("[%s] stopped during initial delay: context cancelled", pt.name)
			return
		case <-stopChan:
			logger.Printf("[%s] stopped during initial delay: stop signal", pt.name)
			return
		}
	} else {
		pt.runFunc()
	}

	ticker := time.NewTicker(pt.interval)
	defer ticker.Stop()
	logger.Printf("[%s] started with interval %v", pt.name, pt.interval)

	for {
		select {
		case <-ticker.C:
			pt.runFunc()
		case <-ctx.Done():
			logger.Printf("[%s] stopped: context cancelled", pt.name)
			return
		case <-stopChan:
			logger.Printf("[%s] stopped: stop signal", pt.name)
			return
		}
	}
}

// getInitialDelay returns the wait until the next multiple of delayInterval
// past the top of the hour, so periodic tasks land on round clock times
// regardless of process start time.
func getInitialDelay(now time.Time, delayInterval time.Duration) time.Duration {
	top := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	delay := now.Sub(top)
	for delay > 0 {
		delay = delay - delayInterval
	}
	return -delay
}

// Runner owns the planner's clock-driven lifecycle: fetching inputs,
// planning, executing, observing, and nightly learning.
type Runner struct {
	mu  sync.RWMutex
	cfg *config.Config

	logger *log.Logger

	fetcher     *priceinput.Fetcher
	pvEstimator *pvforecast.Estimator
	executor    *plant.Executor
	telemetry   *plant.SampleAccumulator
	db          *sql.DB
	obsStore    *store.Store
	learnStore  *learning.LearningStore
	learnOrch   *learning.Orchestrator
	statusSrv   *status.Server

	isRunning bool
	stopChan  chan struct{}

	lastPlan       mpc.PlanResult
	lastPlanAt     time.Time
	lastLearningAt time.Time
	lastLearningN  int
	batteryState   planmodel.BatteryState
}

func NewRunner(cfg *config.Config, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		cfg:         cfg,
		logger:      logger,
		fetcher:     priceinput.NewFetcher(cfg, logger),
		pvEstimator: pvforecast.NewEstimator(cfg, logger),
		executor:    plant.NewExecutor(cfg.PlantModbusAddress, logger),
		telemetry:   plant.NewSampleAccumulator(),
		stopChan:    make(chan struct{}),
		batteryState: planmodel.BatteryState{
			SocPercent: cfg.BatteryMinSocPercent,
		},
	}
}

func (r *Runner) GetConfig() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

func (r *Runner) SetConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isRunning
}

// StatusSnapshot implements status.Source.
func (r *Runner) StatusSnapshot() status.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := status.Snapshot{
		IsRunning:         r.isRunning,
		SlotsPlanned:      len(r.lastPlan.Slots),
		CurrentSocPercent: r.batteryState.SocPercent,
		CurrentPVKw:       r.telemetry.GetLatestPVKw(),
	}
	if !r.lastPlanAt.IsZero() {
		t := r.lastPlanAt
		snap.LastPlanAt = &t
		next := t.Add(r.cfg.PlanInterval)
		snap.NextPlanAt = &next
	}
	if !r.lastLearningAt.IsZero() {
		t := r.lastLearningAt
		snap.LastLearningRunAt = &t
		snap.LastLearningApplied = r.lastLearningN
	}
	snap.UnsatisfiableNotes = append([]string(nil), r.lastPlan.UnsatisfiableNotes...)
	for _, s := range r.lastPlan.Slots {
		if s.PVForecastKwh > 0 {
			snap.HasPVForecast = true
		}
		if s.ImportPriceSekKwh > 0 {
			snap.HasPriceData = true
		}
	}
	return snap
}

// Start runs every periodic task until ctx is cancelled or Stop is called.
// It blocks until all tasks have returned.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return fmt.Errorf("scheduler: runner is already running")
	}
	r.isRunning = true
	r.stopChan = make(chan struct{})
	cfg := r.cfg
	r.mu.Unlock()

	if cfg.PostgresConnString != "" {
		db, err := sql.Open("postgres", cfg.PostgresConnString)
		if err != nil {
			r.logger.Printf("scheduler: failed to open database, observation recording and learning disabled: %v", err)
		} else {
			r.db = db
			r.obsStore = store.New(db, r.logger)
			r.learnStore = learning.NewLearningStore(db, r.logger)
			r.learnOrch = learning.NewOrchestrator(r.obsStore, r.learnStore, r.logger)
		}
	}

	r.statusSrv = status.NewServer(r, cfg.HealthCheckPort)
	if err := r.statusSrv.Start(); err != nil {
		r.logger.Printf("scheduler: failed to start status server: %v", err)
	}

	now := time.Now()
	planDelay := getInitialDelay(now, cfg.PlanInterval)
	pollDelay := getInitialDelay(now, cfg.ObservationPollInterval)
	integrationDelay := getInitialDelay(now, cfg.ObservationIntegrationPeriod)

	tasks := []PeriodicTask{
		{
			name:         "Plan",
			initialDelay: planDelay,
			interval:     cfg.PlanInterval,
			runFunc:      func() { r.runPlanningTick(ctx) },
		},
		{
			name:         "TelemetryPoll",
			initialDelay: pollDelay,
			interval:     cfg.ObservationPollInterval,
			runFunc:      func() { r.runTelemetryPoll() },
		},
		{
			name:         "ObservationIntegration",
			initialDelay: integrationDelay,
			interval:     cfg.ObservationIntegrationPeriod,
			runFunc:      func() { r.runObservationIntegration() },
		},
		{
			name:         "Execution",
			initialDelay: 2 * time.Second,
			interval:     cfg.ObservationPollInterval,
			runFunc:      func() { r.runExecutionTick() },
		},
		{
			name:         "NightlyLearning",
			initialDelay: 0,
			interval:     cfg.LearningCheckInterval,
			runFunc:      func() { r.runLearningCheck(ctx) },
		},
	}

	var wg sync.WaitGroup
	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.run(ctx, r.stopChan, r.logger)
		}()
	}
	wg.Wait()

	r.logger.Printf("scheduler: all periodic tasks stopped")
	r.stop()
	return nil
}

func (r *Runner) Stop() {
	r.stop()
}

func (r *Runner) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isRunning {
		return
	}
	r.isRunning = false

	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}

	if r.statusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.statusSrv.Stop(ctx); err != nil {
			r.logger.Printf("scheduler: error stopping status server: %v", err)
		}
	}
	if r.db != nil {
		r.db.Close()
	}
}

// runPlanningTick fetches fresh prices and PV/temperature forecasts,
// builds the canonical horizon, and replans from the current battery
// state.
func (r *Runner) runPlanningTick(ctx context.Context) {
	cfg := r.GetConfig()
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		r.logger.Printf("scheduler: invalid location %q: %v", cfg.Location, err)
		return
	}
	now := time.Now().In(loc)

	prices, err := r.fetcher.FetchImportPrices(ctx, now, loc)
	if err != nil {
		r.logger.Printf("scheduler: price fetch failed, planning with all prices unknown: %v", err)
		prices = nil
	}

	slots := timegrid.Slots(now, loc, cfg.SlotMinutes)
	pv, temp, err := r.pvEstimator.EstimateSeries(slots, cfg.SlotMinutes)
	if err != nil {
		r.logger.Printf("scheduler: PV forecast failed, planning with zero PV: %v", err)
	}

	inputs := timegrid.BuildInputSlots(now, loc, cfg.SlotMinutes, prices, nil, pv, nil, temp)

	r.mu.RLock()
	initial := r.batteryState
	r.mu.RUnlock()

	sIndexIn := mpc.SIndexInputs{
		RealisedPvRecentKwh: r.telemetry.RecentPVEnergy(cfg.SIndexRecentWindow),
		ForecastPvRecentKwh: sumRecentSeries(pv, now, cfg.SIndexRecentWindow),
	}
	sIndexIn.TempForecastC, sIndexIn.TempKnown = latestKnownBefore(temp, now)

	result, err := mpc.Plan(ctx, r.logger, cfg, cfg.BatteryParams(), inputs, initial, sIndexIn, 0)
	if err != nil {
		r.logger.Printf("scheduler: plan failed: %v", err)
		return
	}

	r.mu.Lock()
	r.lastPlan = result
	r.lastPlanAt = time.Now()
	r.mu.Unlock()

	if len(result.UnsatisfiableNotes) > 0 {
		r.logger.Printf("scheduler: plan produced %d unsatisfiable notes", len(result.UnsatisfiableNotes))
	}

	if r.obsStore != nil && !cfg.DryRun {
		version := time.Now().Unix()
		records := make([]planmodel.ForecastRecord, len(inputs))
		for i, in := range inputs {
			records[i] = planmodel.ForecastRecord{
				SlotStart:       in.Start,
				ForecastVersion: version,
				PVForecastKwh:   in.PVForecastKwh,
				LoadForecastKwh: in.LoadForecastKwh,
				TempC:           in.TempC,
				TempKnown:       in.TempKnown,
				ImportPrice:     in.ImportPrice,
				PriceKnown:      in.PriceKnown,
			}
		}
		if err := r.obsStore.StoreForecasts(context.Background(), records); err != nil {
			r.logger.Printf("scheduler: failed to store forecasts: %v", err)
		}
	}
}

// sumRecentSeries sums the points of s falling in [now-window, now), for
// forecast series such as pv that cover elapsed slots on the current
// calendar day alongside the future horizon.
func sumRecentSeries(s timegrid.RawSeries, now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var total float64
	for _, p := range s {
		if !p.At.Before(cutoff) && p.At.Before(now) {
			total += p.Value
		}
	}
	return total
}

// latestKnownBefore returns the value of the series point with the latest
// timestamp at or before now, and whether any such point exists.
func latestKnownBefore(s timegrid.RawSeries, now time.Time) (float64, bool) {
	var best timegrid.SeriesPoint
	found := false
	for _, p := range s {
		if p.At.After(now) {
			continue
		}
		if !found || p.At.After(best.At) {
			best = p
			found = true
		}
	}
	return best.Value, found
}

func (r *Runner) runTelemetryPoll() {
	cfg := r.GetConfig()
	if cfg.PlantModbusAddress == "" {
		return
	}
	if err := r.telemetry.Poll(cfg.PlantModbusAddress); err != nil {
		r.logger.Printf("scheduler: telemetry poll failed: %v", err)
	}
}

func (r *Runner) runObservationIntegration() {
	cfg := r.GetConfig()
	now := time.Now()
	slotStart := now.Truncate(cfg.ObservationIntegrationPeriod)

	rec, ok := r.telemetry.IntegrateSlot(slotStart, now, cfg.ObservationPollInterval)
	if !ok {
		return
	}

	r.mu.Lock()
	r.batteryState.SocPercent = rec.SocEndPercent
	r.mu.Unlock()

	if r.obsStore == nil {
		return
	}
	if cfg.DryRun {
		r.logger.Printf("scheduler [DRY-RUN]: would record observation for slot %s", slotStart.Format(time.RFC3339))
		return
	}
	if err := r.obsStore.RecordObservation(context.Background(), rec); err != nil {
		r.logger.Printf("scheduler: failed to record observation: %v", err)
	}
}

func (r *Runner) runExecutionTick() {
	cfg := r.GetConfig()
	if cfg.DryRun {
		return
	}
	r.mu.RLock()
	plan := r.lastPlan
	r.mu.RUnlock()

	now := time.Now()
	for _, slot := range plan.Slots {
		if now.Before(slot.Start) || now.After(slot.Start.Add(time.Duration(cfg.SlotMinutes)*time.Minute)) {
			continue
		}
		if err := r.executor.Apply(slot); err != nil {
			r.logger.Printf("scheduler: failed to apply slot %s: %v", slot.Start.Format("15:04"), err)
		}
		return
	}
}

func (r *Runner) runLearningCheck(ctx context.Context) {
	cfg := r.GetConfig()
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return
	}
	now := time.Now().In(loc)
	if now.Hour() != cfg.LearningRunHourLocal {
		return
	}
	if r.learnOrch == nil {
		return
	}

	date := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	newCfg, run, err := r.learnOrch.RunNightly(ctx, date, cfg, cfg.BatteryParams())
	if err != nil {
		r.logger.Printf("scheduler: nightly learning run failed: %v", err)
		return
	}
	if run.Status == learning.StatusSkippedIdempotent {
		return
	}

	r.mu.Lock()
	r.cfg = newCfg
	r.lastLearningAt = time.Now()
	r.lastLearningN = run.ChangesApplied
	r.mu.Unlock()

	r.logger.Printf("scheduler: nightly learning run for %s applied %d/%d proposed changes",
		date.Format("2006-01-02"), run.ChangesApplied, run.ChangesProposed)
}
