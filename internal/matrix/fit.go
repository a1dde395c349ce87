package matrix

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/mathext"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

const (
	fitMaxIter = 1000
	fitTol     = 1e-10
	// Draw entries are clamped away from zero before taking logs.
	fitFloor = 1e-9

	eulerGamma = 0.57721566490153286
)

// FitFromSamples condenses posterior draws of a misclassification matrix
// into a Dirichlet-shape Prior. Each gold-cause row is fitted separately
// by maximum likelihood (moment-matched start, then digamma fixed-point
// iteration), so the fitted concentrations reproduce both the mean rates
// and the row-level spread of the draws.
func FitFromSamples(algorithm string, s *types.MatrixSamples) (*Prior, error) {
	n := len(s.Causes)
	if n == 0 {
		return nil, errors.NewInvalidMatrixError(
			fmt.Sprintf("algorithm %q: sample array has no causes", algorithm), nil)
	}
	if len(s.Draws) < 2 {
		return nil, errors.NewInvalidMatrixError(
			fmt.Sprintf("algorithm %q: need at least 2 matrix draws to fit a Dirichlet, got %d", algorithm, len(s.Draws)), nil)
	}
	for d, draw := range s.Draws {
		if err := validateSquare(algorithm, s.Causes, draw); err != nil {
			return nil, errors.WrapError(err, "draw %d", d)
		}
	}

	shape := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		rows := make([][]float64, len(s.Draws))
		for d, draw := range s.Draws {
			row := make([]float64, n)
			copy(row, draw[i])
			// Draws may arrive as counts; fitting happens on the simplex.
			floats.Scale(1/floats.Sum(row), row)
			for j := range row {
				if row[j] < fitFloor {
					row[j] = fitFloor
				}
			}
			floats.Scale(1/floats.Sum(row), row)
			rows[d] = row
		}
		alpha := fitDirichletRow(rows)
		shape.SetRow(i, alpha)
	}

	return &Prior{
		Algorithm: algorithm,
		Causes:    append([]string(nil), s.Causes...),
		Shape:     shape,
	}, nil
}

// fitDirichletRow fits Dirichlet concentrations to draws from one row of
// the simplex. Follows Minka's fixed point
//
//	digamma(a_j) = digamma(sum a) + mean(log x_j)
//
// with a moment-matched starting point.
func fitDirichletRow(draws [][]float64) []float64 {
	n := len(draws[0])
	S := float64(len(draws))

	mean := make([]float64, n)
	meanSq := make([]float64, n)
	meanLog := make([]float64, n)
	for _, row := range draws {
		for j, v := range row {
			mean[j] += v / S
			meanSq[j] += v * v / S
			meanLog[j] += math.Log(v) / S
		}
	}

	alpha := momentStart(mean, meanSq)
	for iter := 0; iter < fitMaxIter; iter++ {
		psiSum := mathext.Digamma(floats.Sum(alpha))
		maxDelta := 0.0
		for j := range alpha {
			next := inverseDigamma(psiSum + meanLog[j])
			if next < fitFloor {
				next = fitFloor
			}
			if d := math.Abs(next - alpha[j]); d > maxDelta {
				maxDelta = d
			}
			alpha[j] = next
		}
		if maxDelta < fitTol {
			break
		}
	}
	return alpha
}

// momentStart estimates concentrations from first and second moments:
// each coordinate gives a precision estimate s_j = m_j(1-m_j)/var_j - 1,
// and the median of those seeds alpha = s * mean.
func momentStart(mean, meanSq []float64) []float64 {
	var precisions []float64
	for j := range mean {
		v := meanSq[j] - mean[j]*mean[j]
		if v <= 0 || mean[j] <= 0 || mean[j] >= 1 {
			continue
		}
		if s := mean[j]*(1-mean[j])/v - 1; s > 0 {
			precisions = append(precisions, s)
		}
	}
	s := float64(len(mean))
	if len(precisions) > 0 {
		sort.Float64s(precisions)
		s = precisions[len(precisions)/2]
	}
	alpha := make([]float64, len(mean))
	for j := range alpha {
		alpha[j] = s * mean[j]
		if alpha[j] < fitFloor {
			alpha[j] = fitFloor
		}
	}
	return alpha
}

// inverseDigamma solves digamma(x) = y by Newton iteration with Minka's
// starting point.
func inverseDigamma(y float64) float64 {
	var x float64
	if y >= -2.22 {
		x = math.Exp(y) + 0.5
	} else {
		x = -1 / (y + eulerGamma)
	}
	for i := 0; i < 5; i++ {
		x -= (mathext.Digamma(x) - y) / trigamma(x)
		if x <= 0 {
			x = fitFloor
		}
	}
	return x
}

// trigamma is the derivative of digamma, via the Hurwitz zeta function.
func trigamma(x float64) float64 {
	return mathext.Zeta(2, x)
}
