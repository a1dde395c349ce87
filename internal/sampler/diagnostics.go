package sampler

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/openvatools/vacalibrate/internal/types"
)

// RHatWarnThreshold is the split R-hat above which a run is flagged with
// a divergence warning.
const RHatWarnThreshold = 1.05

// Diagnose computes convergence diagnostics from per-chain draws indexed
// [chain][iteration][cause]. Divergence and tree-depth counters belong to
// the engine and are left zero here.
func Diagnose(chainDraws [][][]float64) *types.SamplerDiagnostics {
	if len(chainDraws) == 0 || len(chainDraws[0]) == 0 {
		return &types.SamplerDiagnostics{MaxRHat: math.NaN(), MinESSFrac: 0}
	}
	nCauses := len(chainDraws[0][0])
	total := 0
	for _, c := range chainDraws {
		total += len(c)
	}

	d := &types.SamplerDiagnostics{
		RHatByCause: make([]float64, nCauses),
		MinESSFrac:  math.Inf(1),
	}
	for cause := 0; cause < nCauses; cause++ {
		chains := make([][]float64, len(chainDraws))
		for ci, draws := range chainDraws {
			series := make([]float64, len(draws))
			for t, draw := range draws {
				series[t] = draw[cause]
			}
			chains[ci] = series
		}

		rhat := SplitRHat(chains)
		d.RHatByCause[cause] = rhat
		if rhat > d.MaxRHat {
			d.MaxRHat = rhat
		}

		if frac := ESS(chains) / float64(total); frac < d.MinESSFrac {
			d.MinESSFrac = frac
		}
	}
	return d
}

// SplitRHat computes the split potential scale reduction factor over a
// set of chains of one scalar parameter. Each chain is split in half
// first, so within-chain drift shows up as between-sequence variance.
func SplitRHat(chains [][]float64) float64 {
	var seqs [][]float64
	for _, c := range chains {
		half := len(c) / 2
		if half < 2 {
			return math.NaN()
		}
		seqs = append(seqs, c[:half], c[len(c)-half:])
	}

	n := len(seqs[0])
	m := len(seqs)

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, s := range seqs {
		means[i] = stat.Mean(s, nil)
		vars[i] = stat.Variance(s, nil)
	}

	w := stat.Mean(vars, nil)
	b := float64(n) * stat.Variance(means, nil)
	varPlus := float64(n-1)/float64(n)*w + b/float64(n)

	if w == 0 {
		// A constant parameter is trivially converged.
		if b == 0 {
			return 1
		}
		return math.Inf(1)
	}
	return math.Sqrt(varPlus / w)
}

// ESS estimates the effective sample size of one scalar parameter across
// chains, using Geyer's initial monotone sequence on the combined
// autocorrelations.
func ESS(chains [][]float64) float64 {
	m := len(chains)
	if m == 0 {
		return 0
	}
	n := len(chains[0])
	if n < 4 {
		return float64(m * n)
	}

	means := make([]float64, m)
	vars := make([]float64, m)
	for i, c := range chains {
		means[i] = stat.Mean(c, nil)
		vars[i] = stat.Variance(c, nil)
	}
	w := stat.Mean(vars, nil)
	b := float64(n) * stat.Variance(means, nil)
	varPlus := float64(n-1)/float64(n)*w + b/float64(n)
	if varPlus == 0 {
		return float64(m * n)
	}

	// Chain-averaged autocovariance at each lag.
	maxLag := n - 1
	acov := func(lag int) float64 {
		total := 0.0
		for i, c := range chains {
			s := 0.0
			for t := 0; t+lag < n; t++ {
				s += (c[t] - means[i]) * (c[t+lag] - means[i])
			}
			total += s / float64(n)
		}
		return total / float64(m)
	}

	rho := func(lag int) float64 {
		return 1 - (w-acov(lag))/varPlus
	}

	// Sum autocorrelations in Geyer pairs, stopping at the first
	// negative pair and never letting a pair exceed the one before it.
	tau := 1.0
	prevPair := math.Inf(1)
	for lag := 1; lag+1 <= maxLag; lag += 2 {
		pair := rho(lag) + rho(lag+1)
		if pair < 0 {
			break
		}
		if pair > prevPair {
			pair = prevPair
		}
		prevPair = pair
		tau += 2 * pair
	}

	ess := float64(m*n) / tau
	if ess > float64(m*n) {
		ess = float64(m * n)
	}
	return ess
}
