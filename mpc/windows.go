package mpc

import (
	"sort"

	"github.com/devskill-org/energy-management-system/planmodel"
)

// WindowKind classifies a contiguous run of slots by price percentile.
type WindowKind string

const (
	WindowCheap WindowKind = "cheap"
	WindowPeak  WindowKind = "peak"
)

// Window is a maximal contiguous run of slots sharing a price classification.
type Window struct {
	Kind         WindowKind
	StartIdx     int
	EndIdx       int // inclusive
	AvgPrice     float64
	Capacity     float64 // energy capacity for this window, kWh; no pass sets it, so it stays zero
	Committed    float64 // energy committed against Capacity, kWh; likewise never set
}

func (w Window) Len() int { return w.EndIdx - w.StartIdx + 1 }

// percentile returns the p-th percentile (0-100) of values using linear
// interpolation between closest ranks. values is not mutated.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// computeWindows groups contiguous known-price slots into cheap and peak
// windows per Pass 1. Windows shorter than minSlots are dropped unless their
// average price clears minAbsoluteSek beyond the relevant threshold.
func computeWindows(inputs []planmodel.InputSlot, cheapPctl, peakPctl float64, minSlots int, minAbsoluteSek float64) (cheap, peak []Window) {
	var known []float64
	for _, in := range inputs {
		if in.PriceKnown {
			known = append(known, in.ImportPrice)
		}
	}
	if len(known) == 0 {
		return nil, nil
	}

	cheapThreshold := percentile(known, cheapPctl)
	peakThreshold := percentile(known, peakPctl)

	cheap = groupWindows(inputs, WindowCheap, func(in planmodel.InputSlot) bool {
		return in.PriceKnown && in.ImportPrice <= cheapThreshold
	}, minSlots, minAbsoluteSek, cheapThreshold, true)

	peak = groupWindows(inputs, WindowPeak, func(in planmodel.InputSlot) bool {
		return in.PriceKnown && in.ImportPrice >= peakThreshold
	}, minSlots, minAbsoluteSek, peakThreshold, false)

	return cheap, peak
}

func groupWindows(inputs []planmodel.InputSlot, kind WindowKind, member func(planmodel.InputSlot) bool, minSlots int, minAbsoluteSek, threshold float64, cheaperIsStronger bool) []Window {
	var windows []Window
	i := 0
	for i < len(inputs) {
		if !member(inputs[i]) {
			i++
			continue
		}
		start := i
		sum := 0.0
		count := 0
		for i < len(inputs) && member(inputs[i]) {
			sum += inputs[i].ImportPrice
			count++
			i++
		}
		end := i - 1
		avg := sum / float64(count)

		w := Window{Kind: kind, StartIdx: start, EndIdx: end, AvgPrice: avg}
		if w.Len() >= minSlots {
			windows = append(windows, w)
			continue
		}

		diff := threshold - avg
		if !cheaperIsStronger {
			diff = avg - threshold
		}
		if diff >= minAbsoluteSek {
			windows = append(windows, w)
		}
	}
	return windows
}
