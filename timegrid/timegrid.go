// Package timegrid builds the canonical planning horizon and aligns
// heterogeneous input series onto it.
package timegrid

import (
	"sort"
	"time"

	"github.com/devskill-org/energy-management-system/planmodel"
)

// SeriesPoint is one raw, sparsely-sampled input value keyed by its slot
// start instant.
type SeriesPoint struct {
	At    time.Time
	Value float64
}

// RawSeries is an unordered collection of SeriesPoint; BuildInputSlots
// indexes it by timestamp internally.
type RawSeries []SeriesPoint

func (s RawSeries) index() map[int64]float64 {
	idx := make(map[int64]float64, len(s))
	for _, p := range s {
		idx[p.At.Unix()] = p.Value
	}
	return idx
}

// Slots returns the ordered list of slot start instants covering today's
// local midnight through the midnight two calendar days later, at Δt
// resolution. Because the boundary is calendar-anchored rather than a fixed
// physical duration, a DST transition inside the horizon yields a slot count
// other than 48*60/deltaMinutes (23h or 25h worth of slots on that day).
func Slots(anchorDate time.Time, loc *time.Location, deltaMinutes int) []time.Time {
	start := time.Date(anchorDate.Year(), anchorDate.Month(), anchorDate.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 2)

	step := time.Duration(deltaMinutes) * time.Minute
	var out []time.Time
	for t := start; t.Before(end); t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

// BuildInputSlots aligns the price/pv/load/temperature series onto the
// canonical grid. A slot with no matching price or temperature sample is
// marked unknown for that field (PriceKnown/TempKnown false); missing prices
// make a slot unplannable for price-sensitive passes. PV and load carry no
// known flag: a missing sample leaves them at zero. A missing export price
// falls back to the slot's import price.
func BuildInputSlots(anchorDate time.Time, loc *time.Location, deltaMinutes int, prices, exportPrices, pv, load, temp RawSeries) []planmodel.InputSlot {
	grid := Slots(anchorDate, loc, deltaMinutes)

	priceIdx := prices.index()
	exportIdx := exportPrices.index()
	pvIdx := pv.index()
	loadIdx := load.index()
	tempIdx := temp.index()

	out := make([]planmodel.InputSlot, len(grid))
	for i, t := range grid {
		key := t.Unix()
		slot := planmodel.InputSlot{
			Start:      t,
			SlotNumber: i,
		}
		if v, ok := priceIdx[key]; ok {
			slot.ImportPrice = v
			slot.PriceKnown = true
		}
		if v, ok := exportIdx[key]; ok {
			slot.ExportPrice = v
		} else {
			slot.ExportPrice = slot.ImportPrice
		}
		if v, ok := pvIdx[key]; ok {
			slot.PVForecastKwh = v
		}
		if v, ok := loadIdx[key]; ok {
			slot.LoadForecastKwh = v
		}
		if v, ok := tempIdx[key]; ok {
			slot.TempC = v
			slot.TempKnown = true
		}
		out[i] = slot
	}
	return out
}

// SortSeries returns a copy of s ordered by timestamp; BuildInputSlots does
// not require sorted input, but callers assembling a RawSeries from
// multiple sources may want a stable order for logging/diffing.
func SortSeries(s RawSeries) RawSeries {
	out := make(RawSeries, len(s))
	copy(out, s)
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}
