package calibration

import (
	"gonum.org/v1/gonum/floats"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

// CombineNormalized builds the ensemble pseudo-algorithm from the
// normalized inputs: death counts are summed cause by cause, so every
// algorithm's reading of every death contributes once. Fewer than two
// algorithms leave nothing to combine.
func CombineNormalized(norms []*Normalized) (*Normalized, error) {
	if len(norms) < 2 {
		return nil, errors.NewNothingToEnsembleError(len(norms))
	}

	counts := make([]float64, len(norms[0].Counts))
	for _, n := range norms {
		floats.Add(counts, n.Counts)
	}
	total := floats.Sum(counts)

	csmf := make([]float64, len(counts))
	for j, c := range counts {
		csmf[j] = c / total
	}
	return &Normalized{
		Algorithm: types.EnsembleName,
		Counts:    counts,
		Total:     total,
		CSMF:      csmf,
	}, nil
}
