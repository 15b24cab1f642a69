package mpc

import "github.com/devskill-org/energy-management-system/planmodel"

// DeficitRun is a maximal contiguous run of slots whose forecast net load
// (load - PV) is positive, i.e. cannot be covered by PV alone.
type DeficitRun struct {
	StartIdx     int
	EndIdx       int // inclusive
	DeficitKwh   float64
	StartSocHint float64 // projected SoC-if-no-action at run start, informational
}

func (r DeficitRun) Len() int { return r.EndIdx - r.StartIdx + 1 }

// computeDeficitRuns implements Pass 2: a baseline simulation with no
// battery action, identifying contiguous positive-net-load runs.
func computeDeficitRuns(inputs []planmodel.InputSlot, startSoc float64) []DeficitRun {
	var runs []DeficitRun

	i := 0
	for i < len(inputs) {
		net := inputs[i].LoadForecastKwh - inputs[i].PVForecastKwh
		if net <= 0 {
			i++
			continue
		}
		start := i
		total := 0.0
		for i < len(inputs) {
			n := inputs[i].LoadForecastKwh - inputs[i].PVForecastKwh
			if n <= 0 {
				break
			}
			total += n
			i++
		}
		runs = append(runs, DeficitRun{
			StartIdx:     start,
			EndIdx:       i - 1,
			DeficitKwh:   total,
			StartSocHint: startSoc,
		})
	}

	return runs
}
