package mpc

import (
	"sort"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/planmodel"
)

// Responsibility is the kWh a cheap window commits to pre-store for a
// future deficit run, assigned in Pass 3.
type Responsibility struct {
	WindowIdx int
	RunIdx    int
	Kwh       float64
}

// computeResponsibilities implements Pass 3's cascading assignment.
//
// Deficit runs are processed earliest-first, larger-kWh-first (this
// implementation's resolution of the tie-break between responsibilities a
// single window inherits from different runs). For each run, candidate
// windows are those ending before the run starts, ordered cheapest-first
// then latest-first.
func computeResponsibilities(cheapWindows []Window, runs []DeficitRun, inputs []planmodel.InputSlot, params battery.Params, sIndex, batteryUseMarginSek, wearSekPerKwh float64, deltaMinutes int) ([]Responsibility, []string) {
	capacity := make([]float64, len(cheapWindows))
	eta := params.Eta()
	hours := float64(deltaMinutes) / 60.0
	for i, w := range cheapWindows {
		capacity[i] = float64(w.Len()) * params.MaxChargeKw * hours * eta
	}

	order := make([]int, len(runs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ra, rb := runs[order[a]], runs[order[b]]
		if ra.StartIdx != rb.StartIdx {
			return ra.StartIdx < rb.StartIdx
		}
		return ra.DeficitKwh > rb.DeficitKwh
	})

	var result []Responsibility
	var unsatisfiable []string

	for _, ri := range order {
		run := runs[ri]
		expectedPrice, known := averageKnownPrice(inputs, run.StartIdx, run.EndIdx)
		if !known {
			unsatisfiable = append(unsatisfiable, "deficit run with unknown price cannot be assigned responsibility")
			continue
		}

		candidates := candidateWindows(cheapWindows, run.StartIdx)
		sort.Slice(candidates, func(a, b int) bool {
			wa, wb := cheapWindows[candidates[a]], cheapWindows[candidates[b]]
			if wa.AvgPrice != wb.AvgPrice {
				return wa.AvgPrice < wb.AvgPrice
			}
			return wa.StartIdx > wb.StartIdx
		})

		need := run.DeficitKwh * sIndex
		for _, wi := range candidates {
			if need <= 0 {
				break
			}
			w := cheapWindows[wi]
			if w.AvgPrice+wearSekPerKwh+batteryUseMarginSek >= expectedPrice {
				continue
			}
			remaining := capacity[wi]
			if remaining <= 0 {
				continue
			}
			assign := remaining
			if assign > need {
				assign = need
			}
			capacity[wi] -= assign
			need -= assign
			result = append(result, Responsibility{WindowIdx: wi, RunIdx: ri, Kwh: assign})
		}

		if need > 1e-9 {
			unsatisfiable = append(unsatisfiable, "deficit run could not be fully covered by economical cheap windows")
		}
	}

	return result, unsatisfiable
}

func averageKnownPrice(inputs []planmodel.InputSlot, start, end int) (float64, bool) {
	sum, n := 0.0, 0
	for i := start; i <= end && i < len(inputs); i++ {
		if inputs[i].PriceKnown {
			sum += inputs[i].ImportPrice
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func candidateWindows(windows []Window, beforeIdx int) []int {
	var out []int
	for i, w := range windows {
		if w.EndIdx < beforeIdx {
			out = append(out, i)
		}
	}
	return out
}

// sumResponsibilityPerWindow aggregates Pass 3's assignments back to a
// per-window total, consumed by Pass 4.
func sumResponsibilityPerWindow(resp []Responsibility, numWindows int) []float64 {
	totals := make([]float64, numWindows)
	for _, r := range resp {
		totals[r.WindowIdx] += r.Kwh
	}
	return totals
}
