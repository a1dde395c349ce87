package calibration

import (
	"math"
	"sort"
)

// ReconcileCounts turns a calibrated full-vector CSMF back into integer
// death counts whose total matches the observed total exactly.
//
// Non-calibrated causes keep their observed counts untouched. Calibrated
// causes are scaled to the calibratable subtotal and rounded; any
// leftover difference is spread by giving every calibrated cause an
// equal share of the bulk and handing the remainder out one death at a
// time to the largest counts, ties broken by original cause order.
func ReconcileCounts(meanCSMF, observed []float64, calibrated []bool) []int {
	n := len(observed)
	out := make([]int, n)

	total := 0.0
	subtotal := 0
	var kept []int
	for j := 0; j < n; j++ {
		total += observed[j]
		if calibrated[j] {
			kept = append(kept, j)
			subtotal += int(math.Round(observed[j]))
		} else {
			out[j] = int(math.Round(observed[j]))
		}
	}
	if len(kept) == 0 || subtotal == 0 {
		return out
	}

	// Scale and round the calibrated share.
	rounded := 0
	for _, j := range kept {
		out[j] = int(math.Round(meanCSMF[j] * total))
		rounded += out[j]
	}

	delta := rounded - subtotal
	if delta == 0 {
		return out
	}

	sign := 1
	if delta < 0 {
		sign = -1
		delta = -delta
	}

	// Bulk share for everyone, remainder to the largest counts.
	bulk := delta / len(kept)
	rem := delta % len(kept)
	for _, j := range kept {
		out[j] -= sign * bulk
	}

	order := append([]int(nil), kept...)
	sort.SliceStable(order, func(a, b int) bool {
		return out[order[a]] > out[order[b]]
	})
	for i := 0; i < rem; i++ {
		out[order[i]] -= sign
	}

	// Rounding never drives a count below zero under normal deltas, but
	// a pathological prior can; hand any shortfall to the largest count.
	for _, j := range kept {
		if out[j] < 0 {
			big := largestIndex(out, kept)
			out[big] += out[j]
			out[j] = 0
		}
	}
	return out
}

func largestIndex(counts []int, kept []int) int {
	best := kept[0]
	for _, j := range kept[1:] {
		if counts[j] > counts[best] {
			best = j
		}
	}
	return best
}
