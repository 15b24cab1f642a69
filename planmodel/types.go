// Package planmodel defines the data types shared by the planner, simulator,
// observation store and learning orchestrator: the time grid, schedule and
// battery state records, and the error kinds the core raises.
package planmodel

import "time"

// Classification is the per-slot action label assigned by Pass 8 of the planner.
type Classification string

const (
	ClassHold     Classification = "hold"
	ClassCharge   Classification = "charge"
	ClassDischarge Classification = "discharge"
	ClassExport   Classification = "export"
	ClassWater    Classification = "water"
)

// InputSlot is the per-slot input record the planner treats as read-only.
// PriceKnown is false when the import price has not yet been published;
// callers must not use ImportPrice in that case (it is left at zero but
// carries no meaning).
type InputSlot struct {
	Start         time.Time
	SlotNumber    int
	ImportPrice   float64 // local currency per kWh, VAT+fees inclusive
	PriceKnown    bool
	ExportPrice   float64
	PVForecastKwh float64
	LoadForecastKwh float64
	TempC         float64
	TempKnown     bool
}

// ScheduleSlot is a single slot of the schedule the planner emits.
type ScheduleSlot struct {
	Start                time.Time
	SlotNumber           int
	BatteryChargeKw      float64
	BatteryDischargeKw   float64
	ExportKwh            float64
	WaterHeatingKw       float64
	SocTargetPercent     float64
	ProjectedSocPercent  float64
	Classification       Classification
	ImportPriceSekKwh    float64
	PVForecastKwh        float64
	LoadForecastKwh      float64
	PlannerWarnings      []string
}

// BatteryState is the battery's economic and physical state as carried
// between planner runs.
type BatteryState struct {
	SocPercent     float64
	TotalStoredKwh float64
	TotalCost      float64
}

// AvgCostPerKwh returns the weighted-average cost of currently stored energy,
// or zero when nothing is stored.
func (b BatteryState) AvgCostPerKwh() float64 {
	if b.TotalStoredKwh <= 0 {
		return 0
	}
	return b.TotalCost / b.TotalStoredKwh
}

// ObservationRecord is a realised, per-slot measurement produced by
// differencing cumulative energy counters.
type ObservationRecord struct {
	SlotStart         time.Time
	ImportKwh         float64
	ExportKwh         float64
	PVKwh             float64
	LoadKwh           float64
	BatteryChargeKwh  float64
	BatteryDischargeKwh float64
	SocStartPercent   float64
	SocEndPercent     float64
	QualityFlags      []string
}

// ForecastRecord is the forecast that was live for a slot at a given
// planner run, identified by ForecastVersion. ImportPrice/PriceKnown
// snapshot the price the planner actually used for this slot at that run,
// so a later replay (learning's dayToInputs) can reconstruct the same
// price-aware horizon rather than treating history as price-unknown.
type ForecastRecord struct {
	SlotStart       time.Time
	ForecastVersion int64
	PVForecastKwh   float64
	LoadForecastKwh float64
	TempC           float64
	TempKnown       bool
	ImportPrice     float64
	PriceKnown      bool
}

// ParamChange is a single bounded parameter update proposed by a learning loop.
type ParamChange struct {
	Path   string
	Old    float64
	New    float64
	Loop   string
	Reason string
}

// ClampEvent records that the simulator clamped a requested action to a
// device/grid/SoC cap.
type ClampEvent struct {
	SlotStart time.Time
	Field     string
	Requested float64
	Applied   float64
}

// SimulationResult is the output of the deterministic simulator.
type SimulationResult struct {
	SocTrajectory []float64 // percent, one entry per slot, end-of-slot SoC
	FinalState    BatteryState
	RealisedCost  float64
	ClampEvents   []ClampEvent
}
