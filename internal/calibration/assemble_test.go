package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvatools/vacalibrate/internal/types"
)

func TestAssembleResult(t *testing.T) {
	broad := []string{"alpha", "beta", "gamma"}
	norm := &Normalized{
		Algorithm: "a1",
		Counts:    []float64{50, 20, 30},
		Total:     100,
		CSMF:      []float64{0.5, 0.2, 0.3},
	}
	sel := &Selection{
		Calibrated: []bool{true, false, true},
		Kept:       []int{0, 2},
		Dropped:    []string{"beta"},
		Enabled:    true,
	}
	diag := &types.SamplerDiagnostics{MaxRHat: 1.01}

	// Draws live on the {alpha, gamma} sub-simplex; the uncalibrated
	// calibratable share is 0.8.
	draws := [][]float64{
		{0.5, 0.5},
		{0.75, 0.25},
	}

	res := assembleResult("a1", norm, sel, draws, 0.25, 4, broad, diag)

	assert.Equal(t, "a1", res.Algorithm)
	assert.True(t, res.Calibrated)
	assert.Equal(t, 0.25, res.Lambda)
	assert.Equal(t, 4.0, res.ShrinkStrength)
	assert.Equal(t, []float64{0.5, 0.2, 0.3}, res.Uncalibrated)
	assert.Equal(t, []int{50, 20, 30}, res.ObservedCounts)
	assert.Equal(t, []string{"beta"}, res.NonCalibrated)
	assert.Same(t, diag, res.Diagnostics)

	// Embedded draws are (0.4, 0.2, 0.4) and (0.6, 0.2, 0.2).
	require.Len(t, res.Mean, 3)
	assert.InDelta(t, 0.5, res.Mean[0], 1e-12)
	assert.InDelta(t, 0.2, res.Mean[1], 1e-12)
	assert.InDelta(t, 0.3, res.Mean[2], 1e-12)
	assert.InDelta(t, 1.0, sum(res.Mean), 1e-12)

	assert.InDelta(t, 0.4, res.Lower[0], 1e-12)
	assert.InDelta(t, 0.6, res.Upper[0], 1e-12)
	assert.InDelta(t, 0.2, res.Lower[1], 1e-12)
	assert.InDelta(t, 0.2, res.Upper[1], 1e-12)
	assert.InDelta(t, 0.2, res.Lower[2], 1e-12)
	assert.InDelta(t, 0.4, res.Upper[2], 1e-12)

	// Mean (0.5, 0.2, 0.3) over 100 deaths reconciles exactly.
	assert.Equal(t, []int{50, 20, 30}, res.DeathCounts)
}

func TestAssembleResult_ShiftedMass(t *testing.T) {
	broad := []string{"alpha", "beta"}
	norm := &Normalized{
		Algorithm: "a1",
		Counts:    []float64{80, 20},
		Total:     100,
		CSMF:      []float64{0.8, 0.2},
	}
	sel := &Selection{
		Calibrated: []bool{true, true},
		Kept:       []int{0, 1},
		Enabled:    true,
	}

	// Calibration moved mass from alpha to beta.
	draws := [][]float64{
		{0.6, 0.4},
		{0.6, 0.4},
	}
	res := assembleResult("a1", norm, sel, draws, 0, 0, broad, nil)

	assert.InDelta(t, 0.6, res.Mean[0], 1e-12)
	assert.InDelta(t, 0.4, res.Mean[1], 1e-12)
	assert.Equal(t, []int{60, 40}, res.DeathCounts)
	assert.Equal(t, []int{80, 20}, res.ObservedCounts)
}

func TestPassThroughResult(t *testing.T) {
	norm := &Normalized{
		Algorithm: "a1",
		Counts:    []float64{7, 3},
		Total:     10,
		CSMF:      []float64{0.7, 0.3},
	}
	sel := &Selection{
		Calibrated: []bool{false, true},
		Kept:       []int{1},
		Dropped:    []string{"alpha"},
	}

	res := passThroughResult("a1", norm, sel)

	assert.False(t, res.Calibrated)
	assert.Equal(t, []float64{0.7, 0.3}, res.Uncalibrated)
	assert.Equal(t, []float64{0.7, 0.3}, res.Mean)
	assert.Equal(t, []float64{0.7, 0.3}, res.Lower)
	assert.Equal(t, []float64{0.7, 0.3}, res.Upper)
	assert.Equal(t, []int{7, 3}, res.ObservedCounts)
	assert.Equal(t, []int{7, 3}, res.DeathCounts)
	assert.Equal(t, []string{"alpha"}, res.NonCalibrated)
	assert.Nil(t, res.Diagnostics)
}
