package mpc

// smoothRuns enforces minimum consecutive-on and minimum consecutive-off
// slot counts on a boolean action indicator, eliminating single-slot
// toggles per Pass 7. Short "on" runs are extended forward (bounded by the
// slice length); short "off" gaps between two "on" runs are merged into the
// surrounding "on" run.
func smoothRuns(on []bool, minOn, minOff int) []bool {
	if minOn < 1 {
		minOn = 1
	}
	if minOff < 1 {
		minOff = 1
	}
	out := append([]bool(nil), on...)
	n := len(out)

	// merge short off-gaps between two on-runs
	i := 0
	for i < n {
		if out[i] {
			i++
			continue
		}
		start := i
		for i < n && !out[i] {
			i++
		}
		gapLen := i - start
		hasBefore := start > 0 && out[start-1]
		hasAfter := i < n && out[i]
		if gapLen < minOff && hasBefore && hasAfter {
			for j := start; j < i; j++ {
				out[j] = true
			}
		}
	}

	// extend short on-runs to minOn where room allows
	i = 0
	for i < n {
		if !out[i] {
			i++
			continue
		}
		start := i
		for i < n && out[i] {
			i++
		}
		runLen := i - start
		if runLen < minOn {
			extend := minOn - runLen
			for j := i; j < n && extend > 0; j, extend = j+1, extend-1 {
				out[j] = true
			}
		}
	}

	return out
}

// applySmoothingTolerance merges neighbouring charge-window admission when
// prices differ by no more than the smoothing tolerance, preventing jitter
// at window edges.
func applySmoothingTolerance(windows []Window, toleranceSek float64) []Window {
	if len(windows) < 2 {
		return windows
	}
	merged := []Window{windows[0]}
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		gapSlots := w.StartIdx - last.EndIdx - 1
		if gapSlots <= 1 && absf(w.AvgPrice-last.AvgPrice) <= toleranceSek {
			totalLen := float64(last.Len() + w.Len())
			last.AvgPrice = (last.AvgPrice*float64(last.Len()) + w.AvgPrice*float64(w.Len())) / totalLen
			last.EndIdx = w.EndIdx
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
