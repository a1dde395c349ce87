// Package matrix builds and validates misclassification priors. A prior
// relates gold-standard causes (rows) to algorithm-assigned causes
// (columns); the Dirichlet form carries per-row concentrations whose sums
// encode how much gold-standard data backs each row.
package matrix

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/openvatools/vacalibrate/internal/causes"
	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

// epsilonSplit is the off-diagonal mass used when a broad cause shares a
// coarser matrix cause with siblings and its own misclassification rates
// cannot be told apart from theirs.
const epsilonSplit = 0.001

// fixedRowTol is how far a fixed-form row may drift from summing to one
// before it is rejected rather than renormalized.
const fixedRowTol = 1e-3

// Prior is a misclassification prior for one algorithm, aligned to a
// single cause ordering for both rows and columns.
//
// For Dirichlet priors Shape holds concentrations; for Fixed priors it
// holds row-normalized rates treated as known without uncertainty.
type Prior struct {
	Algorithm string
	Causes    []string
	Shape     *mat.Dense
	Fixed     bool
}

// Dim returns the number of causes.
func (p *Prior) Dim() int { return len(p.Causes) }

// Mean returns the row-normalized rate matrix.
func (p *Prior) Mean() *mat.Dense {
	n := p.Dim()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		row := p.Shape.RawRowView(i)
		sum := floats.Sum(row)
		for j := 0; j < n; j++ {
			out.Set(i, j, row[j]/sum)
		}
	}
	return out
}

// Strengths returns the per-row concentration sums. For fixed priors all
// strengths are 1.
func (p *Prior) Strengths() []float64 {
	out := make([]float64, p.Dim())
	for i := range out {
		out[i] = floats.Sum(p.Shape.RawRowView(i))
	}
	return out
}

// Clone returns a deep copy.
func (p *Prior) Clone() *Prior {
	cs := make([]string, len(p.Causes))
	copy(cs, p.Causes)
	var shape mat.Dense
	shape.CloneFrom(p.Shape)
	return &Prior{Algorithm: p.Algorithm, Causes: cs, Shape: &shape, Fixed: p.Fixed}
}

// Restrict returns the prior cut down to the causes at positions keep,
// in the given order. Rows and columns outside keep are dropped; the
// remaining concentrations are untouched, so restricted row strengths
// shrink with the dropped mass.
func (p *Prior) Restrict(keep []int) *Prior {
	n := len(keep)
	cs := make([]string, n)
	shape := mat.NewDense(n, n, nil)
	for a, i := range keep {
		cs[a] = p.Causes[i]
		for b, j := range keep {
			shape.Set(a, b, p.Shape.At(i, j))
		}
	}
	if p.Fixed {
		// Fixed rates stay row-normalized after restriction.
		for a := 0; a < n; a++ {
			row := shape.RawRowView(a)
			if sum := floats.Sum(row); sum > 0 {
				floats.Scale(1/sum, row)
			}
		}
	}
	return &Prior{Algorithm: p.Algorithm, Causes: cs, Shape: shape, Fixed: p.Fixed}
}

// FromSpec converts one caller-supplied matrix spec into a Prior in the
// spec's own taxonomy. Alignment to the broad-cause order happens
// separately in AlignToBroad.
func FromSpec(algorithm string, spec *types.MatrixSpec) (*Prior, error) {
	form, err := spec.Form()
	if err != nil {
		return nil, errors.NewFormatError(fmt.Sprintf("algorithm %q: %v", algorithm, err), nil)
	}
	switch form {
	case "dirichlet":
		return fromDirichlet(algorithm, spec.Dirichlet)
	case "fixed":
		return fromFixed(algorithm, spec.Fixed)
	default:
		return FitFromSamples(algorithm, spec.Samples)
	}
}

func fromDirichlet(algorithm string, cm *types.CauseMatrix) (*Prior, error) {
	if err := validateSquare(algorithm, cm.Causes, cm.Rows); err != nil {
		return nil, err
	}
	n := len(cm.Causes)
	shape := mat.NewDense(n, n, nil)
	for i, row := range cm.Rows {
		for j, v := range row {
			shape.Set(i, j, v)
		}
	}
	return &Prior{Algorithm: algorithm, Causes: append([]string(nil), cm.Causes...), Shape: shape}, nil
}

func fromFixed(algorithm string, cm *types.CauseMatrix) (*Prior, error) {
	if err := validateSquare(algorithm, cm.Causes, cm.Rows); err != nil {
		return nil, err
	}
	n := len(cm.Causes)
	shape := mat.NewDense(n, n, nil)
	for i, row := range cm.Rows {
		sum := floats.Sum(row)
		if math.Abs(sum-1) > fixedRowTol {
			return nil, errors.NewInvalidMatrixError(
				fmt.Sprintf("algorithm %q: fixed matrix row %d sums to %.4f, want 1", algorithm, i, sum),
				map[string]string{"row_cause": cm.Causes[i]})
		}
		for j, v := range row {
			shape.Set(i, j, v/sum)
		}
	}
	return &Prior{Algorithm: algorithm, Causes: append([]string(nil), cm.Causes...), Shape: shape, Fixed: true}, nil
}

// validateSquare checks the shared structural rules: square, labels
// unique, entries finite and non-negative, no all-zero rows.
func validateSquare(algorithm string, labels []string, rows [][]float64) error {
	n := len(labels)
	if n == 0 {
		return errors.NewInvalidMatrixError(
			fmt.Sprintf("algorithm %q: matrix has no causes", algorithm), nil)
	}
	seen := make(map[string]string, n)
	for _, c := range labels {
		key := causes.Normalize(c)
		if key == "" {
			return errors.NewInvalidMatrixError(
				fmt.Sprintf("algorithm %q: empty cause label", algorithm), nil)
		}
		if prev, dup := seen[key]; dup {
			return errors.NewInvalidMatrixError(
				fmt.Sprintf("algorithm %q: duplicate cause label", algorithm),
				map[string]string{"labels": prev + ", " + c})
		}
		seen[key] = c
	}
	if len(rows) != n {
		return errors.NewInvalidMatrixError(
			fmt.Sprintf("algorithm %q: matrix has %d rows for %d causes", algorithm, len(rows), n), nil)
	}
	for i, row := range rows {
		if len(row) != n {
			return errors.NewInvalidMatrixError(
				fmt.Sprintf("algorithm %q: row %d has %d columns, want %d", algorithm, i, len(row), n),
				map[string]string{"row_cause": labels[i]})
		}
		sum := 0.0
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.NewInvalidMatrixError(
					fmt.Sprintf("algorithm %q: non-finite entry at (%d, %d)", algorithm, i, j),
					map[string]string{"row_cause": labels[i]})
			}
			if v < 0 {
				return errors.NewInvalidMatrixError(
					fmt.Sprintf("algorithm %q: negative entry %.4f at (%d, %d)", algorithm, v, i, j),
					map[string]string{"row_cause": labels[i]})
			}
			sum += v
		}
		if sum <= 0 {
			return errors.NewInvalidMatrixError(
				fmt.Sprintf("algorithm %q: row %d is all zero", algorithm, i),
				map[string]string{"row_cause": labels[i]})
		}
	}
	return nil
}

// AlignToBroad rewrites a prior from its own taxonomy onto the ordered
// broad-cause set.
//
// Without a cause map the prior's causes must be a permutation of broad,
// and rows/columns are reordered. With a cause map (broad cause -> matrix
// cause) the prior may live in a coarser taxonomy: each broad cause
// inherits its matrix cause's row, with column mass split evenly across
// the broad causes sharing a column. A broad cause that shares its matrix
// cause with siblings carries no distinguishable signal of its own, so
// its row becomes near-identity: 1-epsilon on the diagonal and the
// epsilon split evenly across its siblings.
func AlignToBroad(p *Prior, broad []string, causeMap map[string]string) (*Prior, error) {
	if causeMap != nil {
		return mapToBroad(p, broad, causeMap)
	}
	return permuteToBroad(p, broad)
}

func permuteToBroad(p *Prior, broad []string) (*Prior, error) {
	if len(p.Causes) != len(broad) {
		return nil, errors.NewInvalidMatrixError(
			fmt.Sprintf("algorithm %q: matrix covers %d causes, broad set has %d (a cause map is required for coarser taxonomies)",
				p.Algorithm, len(p.Causes), len(broad)),
			map[string]string{
				"matrix_causes": strings.Join(p.Causes, ", "),
				"broad_causes":  strings.Join(broad, ", "),
			})
	}
	pos := make(map[string]int, len(p.Causes))
	for i, c := range p.Causes {
		pos[causes.Normalize(c)] = i
	}
	perm := make([]int, len(broad))
	for i, b := range broad {
		src, ok := pos[causes.Normalize(b)]
		if !ok {
			return nil, errors.NewInvalidMatrixError(
				fmt.Sprintf("algorithm %q: matrix is missing broad cause %q", p.Algorithm, b),
				map[string]string{
					"matrix_causes": strings.Join(p.Causes, ", "),
					"broad_causes":  strings.Join(broad, ", "),
				})
		}
		perm[i] = src
	}

	n := len(broad)
	shape := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			shape.Set(i, j, p.Shape.At(perm[i], perm[j]))
		}
	}
	return &Prior{
		Algorithm: p.Algorithm,
		Causes:    append([]string(nil), broad...),
		Shape:     shape,
		Fixed:     p.Fixed,
	}, nil
}

func mapToBroad(p *Prior, broad []string, causeMap map[string]string) (*Prior, error) {
	matrixPos := make(map[string]int, len(p.Causes))
	for i, c := range p.Causes {
		matrixPos[causes.Normalize(c)] = i
	}

	normMap := make(map[string]string, len(causeMap))
	for b, t := range causeMap {
		normMap[causes.Normalize(b)] = causes.Normalize(t)
	}

	// target[i] is the matrix cause row backing broad cause i; groupSize
	// counts how many broad causes share each matrix cause.
	target := make([]int, len(broad))
	groupSize := make([]int, len(p.Causes))
	var missing []string
	for i, b := range broad {
		t, ok := normMap[causes.Normalize(b)]
		if !ok {
			missing = append(missing, b)
			continue
		}
		src, ok := matrixPos[t]
		if !ok {
			return nil, errors.NewInvalidMatrixError(
				fmt.Sprintf("algorithm %q: cause map sends %q to %q, which is not a matrix cause", p.Algorithm, b, t),
				map[string]string{"matrix_causes": strings.Join(p.Causes, ", ")})
		}
		target[i] = src
		groupSize[src]++
	}
	if len(missing) > 0 {
		return nil, errors.NewUnmappedCauseError(p.Algorithm, missing)
	}

	mean := p.Mean()
	strengths := p.Strengths()

	n := len(broad)
	shape := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		src := target[i]
		row := make([]float64, n)
		if groupSize[src] > 1 {
			// No per-cause signal inside the group: near-identity row
			// with the epsilon spread across the siblings.
			for j := 0; j < n; j++ {
				switch {
				case j == i:
					row[j] = 1 - epsilonSplit
				case target[j] == src:
					row[j] = epsilonSplit / float64(groupSize[src]-1)
				}
			}
		} else {
			for j := 0; j < n; j++ {
				row[j] = mean.At(src, target[j]) / float64(groupSize[target[j]])
			}
			// Matrix causes outside the map image drop their mass; put
			// the row back on the simplex.
			if sum := floats.Sum(row); sum > 0 {
				floats.Scale(1/sum, row)
			}
		}
		// Row strength carries over from the source row.
		s := strengths[src]
		if p.Fixed {
			s = 1
		}
		for j := 0; j < n; j++ {
			shape.Set(i, j, s*row[j])
		}
	}
	return &Prior{
		Algorithm: p.Algorithm,
		Causes:    append([]string(nil), broad...),
		Shape:     shape,
		Fixed:     p.Fixed,
	}, nil
}
