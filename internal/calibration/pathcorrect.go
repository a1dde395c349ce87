package calibration

import (
	"gonum.org/v1/gonum/mat"

	"github.com/openvatools/vacalibrate/internal/matrix"
)

const (
	lambdaMax  = 0.99
	svdRankTol = 1e-12
	// Truth-vector entries this far below zero make a lambda infeasible.
	feasTol = 1e-6
)

// SolveLambda finds the path-correction weight: the smallest identity
// pull under which the misclassification model still explains the
// observed CSMFs with a non-negative truth vector.
//
// For each candidate lambda the blended matrices of all K algorithms are
// stacked into one K*C by C least-squares system
//
//	[M_lam,1^T; ...; M_lam,K^T] pi = [p_1; ...; p_K]
//
// and lambda is walked down from 0.99 in 0.01 steps while the minimum
// norm solution stays non-negative. The first infeasible step backs off
// one step (capped at 0.99); if no step is infeasible the walk ends at
// exactly 0, meaning the matrices alone explain the data. A failed or
// rank-deficient factorization also yields 0, falling back to the
// uncorrected matrices.
func SolveLambda(priors []*matrix.Prior, csmfs [][]float64) float64 {
	if len(priors) == 0 || len(priors) != len(csmfs) {
		return 0
	}
	n := priors[0].Dim()
	if n < 2 {
		return 0
	}
	means := make([]*mat.Dense, len(priors))
	for k := range priors {
		if priors[k].Dim() != n || len(csmfs[k]) != n {
			return 0
		}
		means[k] = priors[k].Mean()
	}

	for k := 99; k >= 1; k-- {
		lam := float64(k) / 100
		ok, solved := lambdaFeasible(means, csmfs, lam)
		if !solved {
			return 0
		}
		if !ok {
			next := float64(k+1) / 100
			if next > lambdaMax {
				next = lambdaMax
			}
			return next
		}
	}
	return 0
}

// lambdaFeasible solves the stacked system for one lambda. The second
// return is false when the factorization itself fails.
func lambdaFeasible(means []*mat.Dense, csmfs [][]float64, lam float64) (feasible, solved bool) {
	dim := len(csmfs[0])
	stacked := len(means) * dim

	a := mat.NewDense(stacked, dim, nil)
	b := mat.NewVecDense(stacked, nil)
	for k, m := range means {
		for r := 0; r < dim; r++ {
			for c := 0; c < dim; c++ {
				v := (1 - lam) * m.At(c, r)
				if c == r {
					v += lam
				}
				a.Set(k*dim+r, c, v)
			}
			b.SetVec(k*dim+r, csmfs[k][r])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return false, false
	}
	rank := svd.Rank(svdRankTol)
	if rank == 0 {
		return false, false
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)

	for i := 0; i < dim; i++ {
		if x.AtVec(i) < -feasTol {
			return false, true
		}
	}
	return true, true
}

// BlendedPrior applies the path correction to a prior: each mean row is
// pulled toward the identity by lambda, keeping the row strengths, so
// downstream consumers see the corrected misclassification rates with
// unchanged certainty.
func BlendedPrior(p *matrix.Prior, lambda float64) *matrix.Prior {
	if lambda == 0 {
		return p.Clone()
	}
	mean := p.Mean()
	strengths := p.Strengths()
	n := p.Dim()

	shape := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := (1 - lambda) * mean.At(i, j)
			if i == j {
				v += lambda
			}
			shape.Set(i, j, strengths[i]*v)
		}
	}
	return &matrix.Prior{
		Algorithm: p.Algorithm,
		Causes:    append([]string(nil), p.Causes...),
		Shape:     shape,
		Fixed:     p.Fixed,
	}
}
