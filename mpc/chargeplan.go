package mpc

import (
	"sort"

	"github.com/devskill-org/energy-management-system/battery"
	"github.com/devskill-org/energy-management-system/planmodel"
)

// buildChargePlan implements Pass 4: distribute each window's responsibility
// across its slots proportionally to remaining headroom, propagating any
// shortfall backward to the next-cheaper earlier window.
func buildChargePlan(cheapWindows []Window, windowTargets []float64, inputs []planmodel.InputSlot, params battery.Params, deltaMinutes int) ([]float64, []string) {
	chargeKw := make([]float64, len(inputs))
	targets := append([]float64(nil), windowTargets...)

	cheapestFirst := make([]int, len(cheapWindows))
	for i := range cheapestFirst {
		cheapestFirst[i] = i
	}
	sort.Slice(cheapestFirst, func(a, b int) bool {
		return cheapWindows[cheapestFirst[a]].AvgPrice < cheapWindows[cheapestFirst[b]].AvgPrice
	})

	var unsatisfiable []string
	eta := params.Eta()
	hours := float64(deltaMinutes) / 60.0

	// process windows latest-first so shortfalls propagate to earlier (by
	// time) windows, matching the "propagate backward" rule
	order := make([]int, len(cheapWindows))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return cheapWindows[order[a]].StartIdx > cheapWindows[order[b]].StartIdx })

	for _, wi := range order {
		w := cheapWindows[wi]
		remaining := targets[wi]
		if remaining <= 1e-9 {
			continue
		}

		headrooms := make([]float64, 0, w.Len())
		sumHeadroom := 0.0
		for i := w.StartIdx; i <= w.EndIdx; i++ {
			concurrentLoadKw := inputs[i].LoadForecastKwh / hours
			h := battery.MaxChargeKwhPerSlot(params, deltaMinutes, concurrentLoadKw, 0) * eta
			headrooms = append(headrooms, h)
			sumHeadroom += h
		}

		assignedFraction := 1.0
		if sumHeadroom > 0 && remaining < sumHeadroom {
			assignedFraction = remaining / sumHeadroom
		}
		used := 0.0
		for j, i := 0, w.StartIdx; i <= w.EndIdx; j, i = j+1, i+1 {
			alloc := headrooms[j] * assignedFraction
			if eta > 0 {
				chargeKw[i] += (alloc / eta) / hours
			}
			used += alloc
		}

		shortfall := remaining - used
		if shortfall <= 1e-9 {
			continue
		}

		propagated := false
		for _, cwi := range cheapestFirst {
			if cheapWindows[cwi].StartIdx >= w.StartIdx {
				continue
			}
			targets[cwi] += shortfall
			propagated = true
			break
		}
		if !propagated {
			unsatisfiable = append(unsatisfiable, "charge window shortfall could not be propagated to an earlier cheaper window")
		}
	}

	return chargeKw, unsatisfiable
}
