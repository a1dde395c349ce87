package calibration

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/openvatools/vacalibrate/internal/types"
)

// Credible interval bounds on the calibrated CSMF.
const (
	lowerQuantile = 0.025
	upperQuantile = 0.975
)

// assembleResult builds one AlgorithmResult from posterior draws over the
// calibratable causes.
//
// Draws live on the calibratable sub-simplex; each is embedded into the
// full broad-cause vector by scaling with the uncalibrated calibratable
// share, while non-calibrated causes keep their uncalibrated fractions.
// The embedded vectors therefore stay on the full simplex draw by draw.
func assembleResult(algorithm string, norm *Normalized, sel *Selection, draws [][]float64, lambda, strength float64, broad []string, diag *types.SamplerDiagnostics) types.AlgorithmResult {
	n := len(broad)
	res := types.AlgorithmResult{
		Algorithm:      algorithm,
		Calibrated:     true,
		Lambda:         lambda,
		ShrinkStrength: strength,
		Uncalibrated:   append([]float64(nil), norm.CSMF...),
		ObservedCounts: roundAll(norm.Counts),
		NonCalibrated:  append([]string(nil), sel.Dropped...),
		Diagnostics:    diag,
	}

	// Uncalibrated calibratable share: the probability mass the draws
	// are allowed to redistribute.
	share := 0.0
	for _, j := range sel.Kept {
		share += norm.CSMF[j]
	}

	full := make([][]float64, len(draws))
	for d, draw := range draws {
		v := make([]float64, n)
		for j := 0; j < n; j++ {
			if !sel.Calibrated[j] {
				v[j] = norm.CSMF[j]
			}
		}
		for s, j := range sel.Kept {
			v[j] = draw[s] * share
		}
		full[d] = v
	}

	res.Mean = make([]float64, n)
	res.Lower = make([]float64, n)
	res.Upper = make([]float64, n)
	col := make([]float64, len(full))
	for j := 0; j < n; j++ {
		for d := range full {
			col[d] = full[d][j]
		}
		res.Mean[j] = stat.Mean(col, nil)
		sort.Float64s(col)
		res.Lower[j] = stat.Quantile(lowerQuantile, stat.Empirical, col, nil)
		res.Upper[j] = stat.Quantile(upperQuantile, stat.Empirical, col, nil)
	}

	res.DeathCounts = ReconcileCounts(res.Mean, norm.Counts, sel.Calibrated)
	return res
}

// passThroughResult reports an algorithm untouched: calibration was
// disabled or impossible, so the calibrated fields mirror the
// uncalibrated ones and the interval collapses onto the point.
func passThroughResult(algorithm string, norm *Normalized, sel *Selection) types.AlgorithmResult {
	return types.AlgorithmResult{
		Algorithm:      algorithm,
		Calibrated:     false,
		Uncalibrated:   append([]float64(nil), norm.CSMF...),
		Mean:           append([]float64(nil), norm.CSMF...),
		Lower:          append([]float64(nil), norm.CSMF...),
		Upper:          append([]float64(nil), norm.CSMF...),
		ObservedCounts: roundAll(norm.Counts),
		DeathCounts:    roundAll(norm.Counts),
		NonCalibrated:  append([]string(nil), sel.Dropped...),
	}
}

func roundAll(v []float64) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(math.Round(x))
	}
	return out
}
