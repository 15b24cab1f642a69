// Package config defines the single enumerated configuration record for the
// planner, simulator, store, learning orchestrator and their adapters.
// Unknown keys fail at load time (json.Decoder with DisallowUnknownFields);
// the subset of fields mutated by the learning orchestrator is listed by
// dotted path in TunableParamPaths. Config itself has no Get/Set accessors;
// the orchestrator writes those fields through its own dotted-path setter.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/devskill-org/energy-management-system/battery"
)

// ParamBound is the per-day maximum change and the global [min,max] range
// enforced by the learning orchestrator before committing a ParamChange.
type ParamBound struct {
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	DeltaMaxPerDay float64 `json:"delta_max_per_day"`
}

// Config is the explicit, enumerated configuration record. All time.Duration
// fields are marshalled as human-readable strings ("15m", "2h").
type Config struct {
	// Time grid
	SlotMinutes int    `json:"slot_minutes"` // Δt; 15/30/60
	Location    string `json:"location"`     // IANA timezone name

	// Battery / energy model
	BatteryCapacityKwh     float64 `json:"battery_capacity_kwh"`
	BatteryMaxChargeKw     float64 `json:"battery_max_charge_kw"`
	BatteryMaxDischargeKw  float64 `json:"battery_max_discharge_kw"`
	BatteryMinSocPercent   float64 `json:"battery_min_soc_percent"`
	BatteryMaxSocPercent   float64 `json:"battery_max_soc_percent"`
	BatteryRoundTripEff    float64 `json:"battery_round_trip_efficiency"`
	BatteryWearSekPerKwh   float64 `json:"battery_wear_sek_per_kwh"`
	MaxGridImportKw        float64 `json:"max_grid_import_kw"`
	MaxGridExportKw        float64 `json:"max_grid_export_kw"`

	// Tunable planner parameters (subset mutated by learning; see ParamBounds)
	BatteryUseMarginSek        float64 `json:"battery_use_margin_sek"`
	ExportProfitMarginSek      float64 `json:"export_profit_margin_sek"`
	FuturePriceGuardBufferSek  float64 `json:"future_price_guard_buffer_sek"`
	LoadSafetyMarginPercent    float64 `json:"load_safety_margin_percent"`
	PVConfidencePercent        float64 `json:"pv_confidence_percent"` // read-only for learning, see DESIGN.md

	// S-index
	SIndexMode           string  `json:"s_index_mode"` // "static" | "dynamic"
	SIndexStaticFactor   float64 `json:"s_index_static_factor"`
	SIndexBaseFactor     float64 `json:"s_index_base_factor"`
	SIndexMaxFactor      float64 `json:"s_index_max_factor"`
	SIndexPvDeficitWeight float64 `json:"s_index_pv_deficit_weight"`
	SIndexTempWeight     float64 `json:"s_index_temp_weight"`
	SIndexTBaselineC     float64 `json:"s_index_t_baseline_c"`
	SIndexTColdC         float64 `json:"s_index_t_cold_c"`
	SIndexRecentWindow   time.Duration `json:"s_index_recent_window"` // lookback for realised-vs-forecast PV/temp signal

	// Pass 1 — price windowing
	ChargeThresholdPercentile float64 `json:"charge_threshold_percentile"` // default ~30
	ExportThresholdPercentile float64 `json:"export_threshold_percentile"` // default ~80
	MinWindowSlots            int     `json:"min_window_slots"`
	MinWindowAbsoluteSek      float64 `json:"min_window_absolute_sek"`

	// Pass 5 — water heating
	WaterMinKwhPerDay      float64 `json:"water_min_kwh_per_day"`
	WaterMinHoursPerDay    float64 `json:"water_min_hours_per_day"`
	WaterMaxBlocksPerDay   int     `json:"water_max_blocks_per_day"`
	WaterDeviceKw          float64 `json:"water_device_kw"`
	WaterScheduleFutureOnly bool   `json:"water_schedule_future_only"`

	// Pass 6 — export / protective SoC
	ProtectiveSocStrategy     string  `json:"protective_soc_strategy"` // "gap_based" | "fixed"
	ProtectiveSocFixedPercent float64 `json:"protective_soc_fixed_percent"`

	// Pass 7 — smoothing & hysteresis
	MinOnSlotsCharge      int     `json:"min_on_slots_charge"`
	MinOffSlotsCharge     int     `json:"min_off_slots_charge"`
	MinOnSlotsDischarge   int     `json:"min_on_slots_discharge"`
	MinOffSlotsDischarge  int     `json:"min_off_slots_discharge"`
	MinOnSlotsWater       int     `json:"min_on_slots_water"`
	MinOffSlotsWater      int     `json:"min_off_slots_water"`
	PriceSmoothingSekKwh  float64 `json:"price_smoothing_sek_kwh"`

	// Concurrency & timeouts
	PlannerTimeout  time.Duration `json:"planner_timeout"`
	LearningTimeout time.Duration `json:"learning_timeout"`

	// Nightly learning orchestrator
	LearningRunHourLocal      int     `json:"learning_run_hour_local"` // default 3 (03:00)
	LearningCheckInterval     time.Duration `json:"learning_check_interval"`
	MinImprovementThresholdSek float64 `json:"min_improvement_threshold_sek"`
	MinSampleThreshold        int     `json:"min_sample_threshold"` // default 36
	LearningLookbackDays      int     `json:"learning_lookback_days"`
	ParamBounds               map[string]ParamBound `json:"param_bounds"`

	// Observation/forecast store & outer runner
	PostgresConnString       string        `json:"postgres_conn_string"`
	PlanInterval             time.Duration `json:"plan_interval"`
	ObservationPollInterval  time.Duration `json:"observation_poll_interval"`
	ObservationIntegrationPeriod time.Duration `json:"observation_integration_period"`
	DryRun                   bool          `json:"dry_run"`

	// Price input provider (entsoe)
	EntsoeSecurityToken string        `json:"entsoe_security_token"`
	EntsoeURLFormat     string        `json:"entsoe_url_format"`
	EntsoeAPITimeout    time.Duration `json:"entsoe_api_timeout"`

	// PV forecast provider (meteo + suncalc)
	Latitude              float64       `json:"latitude"`
	Longitude             float64       `json:"longitude"`
	WeatherUserAgent      string        `json:"weather_user_agent"`
	WeatherUpdateInterval time.Duration `json:"weather_update_interval"`
	PVPeakPowerKw         float64       `json:"pv_peak_power_kw"`

	// Plant telemetry/executor (sigenergy Modbus)
	PlantModbusAddress string        `json:"plant_modbus_address"`
	PlantTimeout       time.Duration `json:"plant_timeout"`

	// Logging / status
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	HealthCheckPort int    `json:"health_check_port"`
}

// TunableParamPaths are the dotted paths the learning orchestrator may
// mutate. pv_confidence_percent is deliberately excluded: the reference
// materials disagree on whether it participates in learning, so this
// implementation treats it as read-only (see DESIGN.md).
var TunableParamPaths = []string{
	"battery_use_margin_sek",
	"export_profit_margin_sek",
	"future_price_guard_buffer_sek",
	"load_safety_margin_percent",
	"s_index.base_factor",
}

// DefaultConfig returns a configuration with conservative, documented
// defaults matching the scenarios in SPEC_FULL.md §8.
func DefaultConfig() *Config {
	return &Config{
		SlotMinutes: 15,
		Location:    "Europe/Stockholm",

		BatteryCapacityKwh:    10.0,
		BatteryMaxChargeKw:    5.0,
		BatteryMaxDischargeKw: 5.0,
		BatteryMinSocPercent:  15,
		BatteryMaxSocPercent:  95,
		BatteryRoundTripEff:   0.95,
		BatteryWearSekPerKwh:  0.20,
		MaxGridImportKw:       20.0,
		MaxGridExportKw:       20.0,

		BatteryUseMarginSek:       0.10,
		ExportProfitMarginSek:     0.05,
		FuturePriceGuardBufferSek: 0.05,
		LoadSafetyMarginPercent:   10,
		PVConfidencePercent:       90,

		SIndexMode:            "dynamic",
		SIndexStaticFactor:    1.1,
		SIndexBaseFactor:      1.05,
		SIndexMaxFactor:       1.25,
		SIndexPvDeficitWeight: 0.15,
		SIndexTempWeight:      0.10,
		SIndexTBaselineC:      15.0,
		SIndexTColdC:          -15.0,
		SIndexRecentWindow:    3 * time.Hour,

		ChargeThresholdPercentile: 30,
		ExportThresholdPercentile: 80,
		MinWindowSlots:            2,
		MinWindowAbsoluteSek:      1.50,

		WaterMinKwhPerDay:       2.0,
		WaterMinHoursPerDay:     1.0,
		WaterMaxBlocksPerDay:    2,
		WaterDeviceKw:           3.0,
		WaterScheduleFutureOnly: true,

		ProtectiveSocStrategy:     "gap_based",
		ProtectiveSocFixedPercent: 30,

		MinOnSlotsCharge:     2,
		MinOffSlotsCharge:    1,
		MinOnSlotsDischarge:  2,
		MinOffSlotsDischarge: 1,
		MinOnSlotsWater:      2,
		MinOffSlotsWater:     1,
		PriceSmoothingSekKwh: 0.02,

		PlannerTimeout:  10 * time.Second,
		LearningTimeout: 5 * time.Minute,

		LearningRunHourLocal:       3,
		LearningCheckInterval:      5 * time.Minute,
		MinImprovementThresholdSek: 0.50,
		MinSampleThreshold:         36,
		LearningLookbackDays:       14,
		ParamBounds: map[string]ParamBound{
			"battery_use_margin_sek":        {Min: 0, Max: 1.0, DeltaMaxPerDay: 0.02},
			"export_profit_margin_sek":      {Min: 0, Max: 1.0, DeltaMaxPerDay: 0.02},
			"future_price_guard_buffer_sek": {Min: 0, Max: 1.0, DeltaMaxPerDay: 0.02},
			"load_safety_margin_percent":    {Min: 0, Max: 50, DeltaMaxPerDay: 2},
			"s_index.base_factor":           {Min: 1.0, Max: 1.25, DeltaMaxPerDay: 0.02},
		},

		PlanInterval:                 15 * time.Minute,
		ObservationPollInterval:      1 * time.Minute,
		ObservationIntegrationPeriod: 15 * time.Minute,
		DryRun:                       false,

		EntsoeURLFormat:  "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10Y1001A1001A47J&in_Domain=10Y1001A1001A47J&periodStart=%s&periodEnd=%s&securityToken=%s",
		EntsoeAPITimeout: 30 * time.Second,

		Latitude:              59.3293, // Stockholm
		Longitude:             18.0686,
		WeatherUserAgent:      "home-energy-planner/1.0",
		WeatherUpdateInterval: 1 * time.Hour,
		PVPeakPowerKw:         8.0,

		PlantTimeout: 5 * time.Second,

		LogLevel:        "info",
		LogFormat:       "text",
		HealthCheckPort: 0,
	}
}

// LoadConfig loads configuration from a JSON file on top of DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader decodes JSON from reader on top of DefaultConfig.
// Unknown fields are rejected, matching the design note that replaces the
// open-ended dynamic configuration with an explicit, enumerated record.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a JSON file.
func (c *Config) SaveConfig(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()
	return c.SaveConfigToWriter(file)
}

// SaveConfigToWriter writes the configuration as indented JSON.
func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config JSON: %w", err)
	}
	return nil
}

// Validate checks field-by-field invariants.
func (c *Config) Validate() error {
	switch c.SlotMinutes {
	case 15, 30, 60:
	default:
		return fmt.Errorf("slot_minutes must be one of 15, 30, 60, got: %d", c.SlotMinutes)
	}
	if c.Location == "" {
		return fmt.Errorf("location cannot be empty")
	}
	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location: %w", err)
	}

	if c.BatteryCapacityKwh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be positive, got: %f", c.BatteryCapacityKwh)
	}
	if c.BatteryMinSocPercent < 0 || c.BatteryMaxSocPercent > 100 || c.BatteryMinSocPercent > c.BatteryMaxSocPercent {
		return fmt.Errorf("battery soc bounds invalid: min=%f max=%f", c.BatteryMinSocPercent, c.BatteryMaxSocPercent)
	}
	if c.BatteryRoundTripEff <= 0 || c.BatteryRoundTripEff > 1 {
		return fmt.Errorf("battery_round_trip_efficiency must be in (0,1], got: %f", c.BatteryRoundTripEff)
	}

	switch c.SIndexMode {
	case "static", "dynamic":
	default:
		return fmt.Errorf("s_index_mode must be 'static' or 'dynamic', got: %s", c.SIndexMode)
	}
	if c.SIndexBaseFactor < 1.0 || c.SIndexBaseFactor > c.SIndexMaxFactor {
		return fmt.Errorf("s_index_base_factor must be within [1.0, s_index_max_factor], got: %f (max %f)", c.SIndexBaseFactor, c.SIndexMaxFactor)
	}

	switch c.ProtectiveSocStrategy {
	case "gap_based", "fixed":
	default:
		return fmt.Errorf("protective_soc_strategy must be 'gap_based' or 'fixed', got: %s", c.ProtectiveSocStrategy)
	}

	if c.WaterMaxBlocksPerDay < 1 {
		return fmt.Errorf("water_max_blocks_per_day must be at least 1, got: %d", c.WaterMaxBlocksPerDay)
	}

	if c.PlannerTimeout <= 0 {
		return fmt.Errorf("planner_timeout must be greater than 0, got: %s", c.PlannerTimeout)
	}
	if c.LearningTimeout <= 0 {
		return fmt.Errorf("learning_timeout must be greater than 0, got: %s", c.LearningTimeout)
	}
	if c.LearningRunHourLocal < 0 || c.LearningRunHourLocal > 23 {
		return fmt.Errorf("learning_run_hour_local must be in [0,23], got: %d", c.LearningRunHourLocal)
	}
	if c.MinSampleThreshold < 0 {
		return fmt.Errorf("min_sample_threshold must be non-negative, got: %d", c.MinSampleThreshold)
	}

	for _, path := range TunableParamPaths {
		b, ok := c.ParamBounds[path]
		if !ok {
			return fmt.Errorf("param_bounds missing entry for tunable parameter %q", path)
		}
		if b.Min > b.Max {
			return fmt.Errorf("param_bounds[%q]: min %f > max %f", path, b.Min, b.Max)
		}
		if b.DeltaMaxPerDay < 0 {
			return fmt.Errorf("param_bounds[%q]: delta_max_per_day must be non-negative", path)
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log_format: %s", c.LogFormat)
	}
	if c.HealthCheckPort < 0 || c.HealthCheckPort > 65535 {
		return fmt.Errorf("health_check_port must be between 0 and 65535, got: %d", c.HealthCheckPort)
	}
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90, got: %f", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180, got: %f", c.Longitude)
	}
	if c.PVPeakPowerKw <= 0 {
		return fmt.Errorf("pv_peak_power_kw must be positive, got: %f", c.PVPeakPowerKw)
	}

	return nil
}

// MarshalJSON marshals durations as human-readable strings.
func (c *Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	return json.Marshal(&struct {
		*Alias
		PlannerTimeout               string `json:"planner_timeout"`
		LearningTimeout              string `json:"learning_timeout"`
		LearningCheckInterval        string `json:"learning_check_interval"`
		PlanInterval                 string `json:"plan_interval"`
		ObservationPollInterval      string `json:"observation_poll_interval"`
		ObservationIntegrationPeriod string `json:"observation_integration_period"`
		EntsoeAPITimeout             string `json:"entsoe_api_timeout"`
		WeatherUpdateInterval        string `json:"weather_update_interval"`
		PlantTimeout                 string `json:"plant_timeout"`
		SIndexRecentWindow           string `json:"s_index_recent_window"`
	}{
		Alias:                        (*Alias)(c),
		PlannerTimeout:               c.PlannerTimeout.String(),
		LearningTimeout:              c.LearningTimeout.String(),
		LearningCheckInterval:        c.LearningCheckInterval.String(),
		PlanInterval:                 c.PlanInterval.String(),
		ObservationPollInterval:      c.ObservationPollInterval.String(),
		ObservationIntegrationPeriod: c.ObservationIntegrationPeriod.String(),
		EntsoeAPITimeout:             c.EntsoeAPITimeout.String(),
		WeatherUpdateInterval:        c.WeatherUpdateInterval.String(),
		PlantTimeout:                 c.PlantTimeout.String(),
		SIndexRecentWindow:           c.SIndexRecentWindow.String(),
	})
}

// UnmarshalJSON parses duration fields from human-readable strings.
func (c *Config) UnmarshalJSON(data []byte) error {
	type Alias Config
	aux := &struct {
		*Alias
		PlannerTimeout               string `json:"planner_timeout"`
		LearningTimeout              string `json:"learning_timeout"`
		LearningCheckInterval        string `json:"learning_check_interval"`
		PlanInterval                 string `json:"plan_interval"`
		ObservationPollInterval      string `json:"observation_poll_interval"`
		ObservationIntegrationPeriod string `json:"observation_integration_period"`
		EntsoeAPITimeout             string `json:"entsoe_api_timeout"`
		WeatherUpdateInterval        string `json:"weather_update_interval"`
		PlantTimeout                 string `json:"plant_timeout"`
		SIndexRecentWindow           string `json:"s_index_recent_window"`
	}{
		Alias: (*Alias)(c),
	}

	// A fresh decoder does not inherit the caller's DisallowUnknownFields, so
	// unknown keys are rejected here explicitly.
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(aux); err != nil {
		return err
	}

	durations := []struct {
		raw string
		dst *time.Duration
		name string
	}{
		{aux.PlannerTimeout, &c.PlannerTimeout, "planner_timeout"},
		{aux.LearningTimeout, &c.LearningTimeout, "learning_timeout"},
		{aux.LearningCheckInterval, &c.LearningCheckInterval, "learning_check_interval"},
		{aux.PlanInterval, &c.PlanInterval, "plan_interval"},
		{aux.ObservationPollInterval, &c.ObservationPollInterval, "observation_poll_interval"},
		{aux.ObservationIntegrationPeriod, &c.ObservationIntegrationPeriod, "observation_integration_period"},
		{aux.EntsoeAPITimeout, &c.EntsoeAPITimeout, "entsoe_api_timeout"},
		{aux.WeatherUpdateInterval, &c.WeatherUpdateInterval, "weather_update_interval"},
		{aux.PlantTimeout, &c.PlantTimeout, "plant_timeout"},
		{aux.SIndexRecentWindow, &c.SIndexRecentWindow, "s_index_recent_window"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return nil
}

// BatteryParams extracts the subset of this config the battery model needs,
// in the units battery.Params expects.
func (c *Config) BatteryParams() battery.Params {
	return battery.Params{
		CapacityKwh:         c.BatteryCapacityKwh,
		MaxChargeKw:         c.BatteryMaxChargeKw,
		MaxDischargeKw:      c.BatteryMaxDischargeKw,
		MaxGridImportKw:     c.MaxGridImportKw,
		MaxGridExportKw:     c.MaxGridExportKw,
		MinSocPercent:       c.BatteryMinSocPercent,
		MaxSocPercent:       c.BatteryMaxSocPercent,
		RoundTripEfficiency: c.BatteryRoundTripEff,
		WearSekPerKwh:       c.BatteryWearSekPerKwh,
	}
}

// String returns an indented JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
