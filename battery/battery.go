// Package battery implements the round-trip-efficiency-aware energy model:
// grid-to-stored conversions, per-slot power caps, and the weighted-average
// cost ledger used for discharge economics.
package battery

import (
	"math"

	"github.com/devskill-org/energy-management-system/planmodel"
)

// Params is the battery's physical and economic configuration, read-only
// for the duration of a planner or simulator run.
type Params struct {
	CapacityKwh         float64 // usable capacity, kWh
	MaxChargeKw         float64
	MaxDischargeKw      float64
	MaxGridImportKw     float64
	MaxGridExportKw     float64
	MinSocPercent       float64
	MaxSocPercent       float64
	RoundTripEfficiency float64 // η_rt, default 0.95
	WearSekPerKwh       float64
}

// Eta returns the single-direction efficiency η = √η_rt, used symmetrically
// for both charge and discharge conversions.
func (p Params) Eta() float64 {
	if p.RoundTripEfficiency <= 0 {
		return 0
	}
	return math.Sqrt(p.RoundTripEfficiency)
}

func (p Params) minStoredKwh() float64 { return p.MinSocPercent / 100 * p.CapacityKwh }
func (p Params) maxStoredKwh() float64 { return p.MaxSocPercent / 100 * p.CapacityKwh }

// MaxChargeKwhPerSlot returns the largest energy the battery may draw from
// the grid in one slot: the smaller of the device charge cap and the grid
// import cap net of concurrent load and water heating draw. Params has no
// separate inverter cap, so no inverter limit is applied.
func MaxChargeKwhPerSlot(p Params, deltaMinutes int, concurrentLoadKw, concurrentWaterKw float64) float64 {
	hours := float64(deltaMinutes) / 60.0
	gridHeadroomKw := p.MaxGridImportKw - concurrentLoadKw - concurrentWaterKw
	capKw := math.Min(p.MaxChargeKw, math.Max(0, gridHeadroomKw))
	return capKw * hours
}

// MaxDischargeKwhPerSlot returns the largest energy the battery may deliver
// in one slot, bounded by the device discharge cap.
func MaxDischargeKwhPerSlot(p Params, deltaMinutes int) float64 {
	hours := float64(deltaMinutes) / 60.0
	return p.MaxDischargeKw * hours
}

// SocPercent converts a stored-energy level to a state-of-charge percentage.
func SocPercent(p Params, storedKwh float64) float64 {
	if p.CapacityKwh <= 0 {
		return 0
	}
	return storedKwh / p.CapacityKwh * 100
}

// ChargeResult is the outcome of charging the battery from the grid.
type ChargeResult struct {
	State          planmodel.BatteryState
	StoredKwh      float64 // energy actually added to the battery, post-efficiency
	GridKwh        float64 // grid energy actually drawn (may be less than requested if clamped)
	Clamped        bool
}

// Charge stores gridKwh of grid energy into the battery at the given price,
// clamping to the SoC ceiling if necessary, and updates the weighted-average
// stored-energy cost:
//
//	avg_cost ← (avg_cost·S + price·x) / (S + η·x)
func Charge(state planmodel.BatteryState, p Params, gridKwh, price float64) ChargeResult {
	eta := p.Eta()
	requestedStored := eta * gridKwh

	headroom := p.maxStoredKwh() - state.TotalStoredKwh
	if headroom < 0 {
		headroom = 0
	}

	storedKwh := requestedStored
	clampedGridKwh := gridKwh
	clamped := false
	if storedKwh > headroom {
		storedKwh = headroom
		if eta > 0 {
			clampedGridKwh = storedKwh / eta
		} else {
			clampedGridKwh = 0
		}
		clamped = true
	}

	newStored := state.TotalStoredKwh + storedKwh
	newCost := state.TotalCost + price*clampedGridKwh

	return ChargeResult{
		State: planmodel.BatteryState{
			SocPercent:     SocPercent(p, newStored),
			TotalStoredKwh: newStored,
			TotalCost:      newCost,
		},
		StoredKwh: storedKwh,
		GridKwh:   clampedGridKwh,
		Clamped:   clamped,
	}
}

// DischargeResult is the outcome of discharging the battery to cover load.
type DischargeResult struct {
	State        planmodel.BatteryState
	DeliveredKwh float64 // energy actually delivered to load, post-efficiency
	ConsumedKwh  float64 // stored energy actually consumed
	Clamped      bool
}

// Discharge delivers up to deliveredKwh of energy to load, consuming
// deliveredKwh/η of stored energy, clamped to the SoC floor. avg_cost is
// left unchanged; total_cost decreases proportionally to the energy
// withdrawn.
func Discharge(state planmodel.BatteryState, p Params, deliveredKwh float64) DischargeResult {
	eta := p.Eta()
	if eta <= 0 {
		return DischargeResult{State: state}
	}

	requestedConsumed := deliveredKwh / eta
	available := state.TotalStoredKwh - p.minStoredKwh()
	if available < 0 {
		available = 0
	}

	consumed := requestedConsumed
	clampedDelivered := deliveredKwh
	clamped := false
	if consumed > available {
		consumed = available
		clampedDelivered = consumed * eta
		clamped = true
	}

	avgCost := state.AvgCostPerKwh()
	newStored := state.TotalStoredKwh - consumed
	newCost := state.TotalCost - avgCost*consumed
	if newCost < 0 {
		newCost = 0
	}

	return DischargeResult{
		State: planmodel.BatteryState{
			SocPercent:     SocPercent(p, newStored),
			TotalStoredKwh: newStored,
			TotalCost:      newCost,
		},
		DeliveredKwh: clampedDelivered,
		ConsumedKwh:  consumed,
		Clamped:      clamped,
	}
}

// MarginalDischargeCost is the per-kWh cost used in discharge/export
// economics comparisons: (avg_cost/η) + wear. Wear is never added to the
// stored-cost ledger, only to this comparison value.
func MarginalDischargeCost(state planmodel.BatteryState, p Params) float64 {
	eta := p.Eta()
	if eta <= 0 {
		return state.AvgCostPerKwh() + p.WearSekPerKwh
	}
	return state.AvgCostPerKwh()/eta + p.WearSekPerKwh
}
