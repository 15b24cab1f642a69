// Package main provides the home energy planner's entry point and CLI interface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/mpc"
	"github.com/devskill-org/energy-management-system/planmodel"
	"github.com/devskill-org/energy-management-system/priceinput"
	"github.com/devskill-org/energy-management-system/pvforecast"
	"github.com/devskill-org/energy-management-system/scheduler"
	"github.com/devskill-org/energy-management-system/sigenergy"
	"github.com/devskill-org/energy-management-system/timegrid"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		info       = flag.Bool("info", false, "Show plant information")
		help       = flag.Bool("help", false, "Show help message")
		plan       = flag.Bool("plan", false, "Run the planner once and print the resulting schedule")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Println("Error loading configuration:", err)
		return
	}

	if *info {
		if err := sigenergy.ShowPlantInfo(cfg.PlantModbusAddress); err != nil {
			fmt.Println("Error:", err)
			return
		}
		return
	}

	if *plan {
		runPlanOnce(cfg)
		return
	}

	fmt.Printf("Starting home energy planner with the following configuration:\n")
	fmt.Printf("  Location: %s\n", cfg.Location)
	fmt.Printf("  Slot size: %d minutes\n", cfg.SlotMinutes)
	fmt.Printf("  Plan interval: %s\n", cfg.PlanInterval)
	fmt.Printf("  Battery: %.1f kWh, %.1f/%.1f kW charge/discharge\n",
		cfg.BatteryCapacityKwh, cfg.BatteryMaxChargeKw, cfg.BatteryMaxDischargeKw)
	if cfg.DryRun {
		fmt.Printf("  Mode: DRY-RUN (plant actuation will be simulated only)\n")
	}
	fmt.Println()

	logger := log.New(os.Stdout, "[PLANNER] ", log.LstdFlags)

	runner := scheduler.NewRunner(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := runner.Start(ctx); err != nil {
			logger.Printf("Runner error: %v", err)
		}
	}()

	logger.Printf("Planner started. Press Ctrl+C to stop...")

	<-sigChan
	logger.Printf("Shutdown signal received, stopping planner...")

	cancel()
	runner.Stop()

	logger.Printf("Planner stopped successfully")
}

// runPlanOnce fetches current prices and PV forecast, runs a single
// planning pass, and prints the resulting schedule without starting the
// background runner or touching the plant over Modbus.
func runPlanOnce(cfg *config.Config) {
	logger := log.New(os.Stdout, "[PLAN] ", log.LstdFlags)
	ctx := context.Background()

	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		logger.Printf("invalid location %q: %v", cfg.Location, err)
		return
	}
	now := time.Now().In(loc)

	fetcher := priceinput.NewFetcher(cfg, logger)
	prices, err := fetcher.FetchImportPrices(ctx, now, loc)
	if err != nil {
		logger.Printf("price fetch failed, planning with no price data: %v", err)
	}

	estimator := pvforecast.NewEstimator(cfg, logger)
	slots := timegrid.Slots(now, loc, cfg.SlotMinutes)
	pv, temp, err := estimator.EstimateSeries(slots, cfg.SlotMinutes)
	if err != nil {
		logger.Printf("PV forecast failed, planning with zero PV: %v", err)
	}

	inputs := timegrid.BuildInputSlots(now, loc, cfg.SlotMinutes, prices, nil, pv, nil, temp)
	initial := planmodel.BatteryState{SocPercent: cfg.BatteryMinSocPercent}

	result, err := mpc.Plan(ctx, logger, cfg, cfg.BatteryParams(), inputs, initial, mpc.SIndexInputs{}, 0)
	if err != nil {
		logger.Printf("plan failed: %v", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Println("PLAN RESULT")
	fmt.Println("========================================")
	fmt.Printf("Slots planned: %d\n\n", len(result.Slots))

	fmt.Println("┌─────────────────────┬────────────┬───────────┬───────────┬────────────┬──────────────┐")
	fmt.Println("│      Slot start     │ Class      │ Batt (kW) │ SOC (%)   │ Price      │ PV (kWh)     │")
	fmt.Println("├─────────────────────┼────────────┼───────────┼───────────┼────────────┼──────────────┤")
	for _, s := range result.Slots {
		fmt.Printf("│ %19s │ %-10s │ %9.2f │ %9.1f │ %10.3f │ %12.2f │\n",
			s.Start.Format("2006-01-02 15:04"),
			s.Classification,
			s.BatteryChargeKw,
			s.ProjectedSocPercent,
			s.ImportPriceSekKwh,
			s.PVForecastKwh,
		)
	}
	fmt.Println("└─────────────────────┴────────────┴───────────┴───────────┴────────────┴──────────────┘")

	if len(result.UnsatisfiableNotes) > 0 {
		fmt.Println("\nUnsatisfiable notes:")
		for _, n := range result.UnsatisfiableNotes {
			fmt.Printf("  - %s\n", n)
		}
	}

	fmt.Printf("\nRealised cost estimate: %.2f SEK\n", result.Sim.RealisedCost)
	fmt.Println("========================================")
}

func showHelp() {
	fmt.Println("Home Energy Planner - minimise cost across PV, battery, grid and controllable loads")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  A model-predictive home energy planner that integrates solar (PV) forecasts,")
	fmt.Println("  day-ahead electricity prices, battery storage and a controllable water heater")
	fmt.Println("  to minimise grid cost over a rolling two-day horizon, re-planning periodically")
	fmt.Println("  as new prices, forecasts and telemetry arrive.")
	fmt.Println()
	fmt.Println("  Key Features:")
	fmt.Println("  - Day-ahead price ingestion from ENTSO-E")
	fmt.Println("  - Weather-integrated solar forecasting")
	fmt.Println("  - Deterministic multi-pass battery/water scheduling")
	fmt.Println("  - Plant telemetry and actuation over Modbus")
	fmt.Println("  - Real-time status dashboard over HTTP/WebSocket")
	fmt.Println("  - Nightly parameter learning from observed vs. forecast data")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  planner [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Basic usage with default settings")
	fmt.Println("  planner")
	fmt.Println()
	fmt.Println("  # Custom configuration")
	fmt.Println("  planner --config=config.json")
	fmt.Println()
	fmt.Println("  # Show plant/system information")
	fmt.Println("  planner -info")
	fmt.Println()
	fmt.Println("  # Run the planner once and print the resulting schedule")
	fmt.Println("  planner -plan")
	fmt.Println()
	fmt.Println("  # Show this help")
	fmt.Println("  planner -help")
}
