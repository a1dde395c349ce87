package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconcileCounts(t *testing.T) {
	allOn := func(n int) []bool {
		on := make([]bool, n)
		for i := range on {
			on[i] = true
		}
		return on
	}

	tests := []struct {
		name       string
		mean       []float64
		observed   []float64
		calibrated []bool
		expected   []int
	}{
		{
			name:       "exact split needs no spreading",
			mean:       []float64{0.5, 0.3, 0.2},
			observed:   []float64{600, 300, 100},
			calibrated: allOn(3),
			expected:   []int{500, 300, 200},
		},
		{
			name:       "shortfall goes to the largest count",
			mean:       []float64{1.0 / 3, 1.0 / 3, 1.0 / 3},
			observed:   []float64{60, 30, 10},
			calibrated: allOn(3),
			expected:   []int{34, 33, 33},
		},
		{
			name:       "surplus comes off the largest count",
			mean:       []float64{0.305, 0.305, 0.39},
			observed:   []float64{40, 30, 30},
			calibrated: allOn(3),
			expected:   []int{31, 31, 38},
		},
		{
			name:       "non-calibrated causes keep observed counts",
			mean:       []float64{0.3, 0.1, 0.6},
			observed:   []float64{40, 10, 50},
			calibrated: []bool{true, false, true},
			expected:   []int{30, 10, 60},
		},
		{
			name:       "nothing calibrated returns observed",
			mean:       []float64{0.2, 0.8},
			observed:   []float64{70, 30},
			calibrated: []bool{false, false},
			expected:   []int{70, 30},
		},
		{
			name:       "zero calibratable subtotal stays zero",
			mean:       []float64{0.5, 0.5, 0},
			observed:   []float64{0, 0, 25},
			calibrated: []bool{true, true, false},
			expected:   []int{0, 0, 25},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReconcileCounts(tt.mean, tt.observed, tt.calibrated)
			assert.Equal(t, tt.expected, got)

			wantTotal := 0
			for _, v := range tt.observed {
				wantTotal += int(v)
			}
			gotTotal := 0
			for _, v := range got {
				gotTotal += v
			}
			assert.Equal(t, wantTotal, gotTotal, "reconciliation must preserve the total")
		})
	}
}

func TestReconcileCounts_LargeDelta(t *testing.T) {
	// A mean far off the simplex scale forces the bulk spread: every
	// calibrated cause gives up an equal share and the remainder comes
	// off the largest counts.
	got := ReconcileCounts(
		[]float64{0.5, 0.5, 0.5},
		[]float64{40, 40, 40},
		[]bool{true, true, true},
	)
	// Scaled counts are 60 each (180 total) against 120 observed: the
	// surplus of 60 is 20 bulk off each cause.
	assert.Equal(t, []int{40, 40, 40}, got)
}

func TestReconcileCounts_TiesBreakByOriginalOrder(t *testing.T) {
	// All counts tie after scaling; the single leftover death lands on
	// the earliest cause.
	got := ReconcileCounts(
		[]float64{0.25, 0.25, 0.25, 0.25},
		[]float64{25, 25, 25, 26},
		[]bool{true, true, true, true},
	)
	assert.Equal(t, []int{26, 25, 25, 25}, got)
}
