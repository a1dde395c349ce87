package calibration

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/openvatools/vacalibrate/internal/causes"
	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

// Normalized is one algorithm's input reduced to a death-count vector
// over the ordered broad causes.
type Normalized struct {
	Algorithm string
	Counts    []float64
	Total     float64
	CSMF      []float64
	// Defaulted lists the distinct specific-cause labels that had no
	// taxonomy entry and were counted under the catch-all.
	Defaulted []string
}

// Normalizer turns per-algorithm inputs into broad-cause count vectors.
type Normalizer struct {
	age   types.AgeGroup
	broad []string
	index map[string]int
}

// NewNormalizer builds a normalizer for one age group.
func NewNormalizer(age types.AgeGroup) *Normalizer {
	return &Normalizer{
		age:   age,
		broad: causes.Broad(age),
		index: causes.Index(age),
	}
}

// Broad returns the ordered broad-cause set the normalizer aligns to.
func (n *Normalizer) Broad() []string { return n.broad }

// Normalize reduces one classified input to a count vector. The shape tag
// assigned at classification decides the path; no shape sniffing happens
// here.
func (n *Normalizer) Normalize(in types.AlgorithmInput) (*Normalized, error) {
	var (
		counts    []float64
		defaulted []string
		err       error
	)
	switch v := in.Input.(type) {
	case types.SpecificCauses:
		counts, defaulted, err = n.fromSpecific(in.Algorithm, v)
	case types.BroadCauseMatrix:
		counts, err = n.fromMatrix(in.Algorithm, v)
	case types.DeathCounts:
		counts, err = n.fromCounts(in.Algorithm, v)
	default:
		err = errors.NewFormatError(
			fmt.Sprintf("algorithm %q: unknown input shape %q", in.Algorithm, in.Input.Shape()), nil)
	}
	if err != nil {
		return nil, err
	}

	total := floats.Sum(counts)
	if total <= 0 {
		return nil, errors.NewFormatError(
			fmt.Sprintf("algorithm %q: input contains no deaths", in.Algorithm), nil)
	}
	csmf := make([]float64, len(counts))
	for j, c := range counts {
		csmf[j] = c / total
	}
	return &Normalized{
		Algorithm: in.Algorithm,
		Counts:    counts,
		Total:     total,
		CSMF:      csmf,
		Defaulted: defaulted,
	}, nil
}

// fromSpecific maps individual specific-cause assignments through the
// algorithm's taxonomy and tallies broad-cause counts. Labels the
// taxonomy does not recognize land in the catch-all and are reported
// back for logging rather than failing the run.
func (n *Normalizer) fromSpecific(algorithm string, in types.SpecificCauses) ([]float64, []string, error) {
	if len(in.Records) == 0 {
		return nil, nil, errors.NewFormatError(
			fmt.Sprintf("algorithm %q: specific-cause input has no records", algorithm), nil)
	}
	tax, ok := causes.TaxonomyFor(algorithm, n.age)
	if !ok {
		return nil, nil, errors.NewConfigurationError(
			fmt.Sprintf("algorithm %q has no built-in cause taxonomy for age group %q; supply broad-cause input instead", algorithm, n.age), nil)
	}

	counts := make([]float64, len(n.broad))
	seen := make(map[string]struct{})
	var defaulted []string
	for _, rec := range in.Records {
		if strings.TrimSpace(rec.Cause) == "" {
			return nil, nil, errors.NewFormatError(
				fmt.Sprintf("algorithm %q: record %q has an empty cause", algorithm, rec.ID), nil)
		}
		broad, ok := tax.BroadFor(rec.Cause)
		if !ok {
			broad = causes.CatchAll
			if _, dup := seen[rec.Cause]; !dup {
				seen[rec.Cause] = struct{}{}
				defaulted = append(defaulted, rec.Cause)
			}
		}
		counts[n.index[broad]]++
	}
	sort.Strings(defaulted)
	return counts, defaulted, nil
}

// fromMatrix tallies an individual-by-cause indicator matrix. Each row
// must place exactly one death on exactly one cause.
func (n *Normalizer) fromMatrix(algorithm string, in types.BroadCauseMatrix) ([]float64, error) {
	perm, err := n.alignLabels(algorithm, in.Causes)
	if err != nil {
		return nil, err
	}
	if len(in.Rows) == 0 {
		return nil, errors.NewFormatError(
			fmt.Sprintf("algorithm %q: broad-cause matrix has no rows", algorithm), nil)
	}

	counts := make([]float64, len(n.broad))
	for r, row := range in.Rows {
		if len(row) != len(n.broad) {
			return nil, errors.NewFormatError(
				fmt.Sprintf("algorithm %q: row %d has %d columns, want %d", algorithm, r, len(row), len(n.broad)), nil)
		}
		assigned := -1
		for c, v := range row {
			switch v {
			case 0:
			case 1:
				if assigned >= 0 {
					return nil, errors.NewFormatError(
						fmt.Sprintf("algorithm %q: row %s assigns more than one cause", algorithm, rowLabel(in.IDs, r)), nil)
				}
				assigned = c
			default:
				return nil, errors.NewFormatError(
					fmt.Sprintf("algorithm %q: row %s has non-binary entry %v", algorithm, rowLabel(in.IDs, r), v), nil)
			}
		}
		if assigned < 0 {
			return nil, errors.NewFormatError(
				fmt.Sprintf("algorithm %q: row %s assigns no cause", algorithm, rowLabel(in.IDs, r)), nil)
		}
		counts[perm[assigned]]++
	}
	return counts, nil
}

// fromCounts validates and reorders an aggregated count vector.
func (n *Normalizer) fromCounts(algorithm string, in types.DeathCounts) ([]float64, error) {
	perm, err := n.alignLabels(algorithm, in.Causes)
	if err != nil {
		return nil, err
	}
	if len(in.Counts) != len(n.broad) {
		return nil, errors.NewFormatError(
			fmt.Sprintf("algorithm %q: %d counts for %d broad causes", algorithm, len(in.Counts), len(n.broad)), nil)
	}

	counts := make([]float64, len(n.broad))
	for c, v := range in.Counts {
		if v < 0 || v != math.Trunc(v) {
			return nil, errors.NewFormatError(
				fmt.Sprintf("algorithm %q: death count %v for cause %q is not a non-negative integer", algorithm, v, n.broad[perm[c]]), nil)
		}
		counts[perm[c]] = v
	}
	return counts, nil
}

// alignLabels maps input cause positions onto broad-cause positions.
// Empty labels mean the input is already in broad order. Anything that is
// not a permutation of the broad set cannot be aligned.
func (n *Normalizer) alignLabels(algorithm string, labels []string) ([]int, error) {
	if len(labels) == 0 {
		perm := make([]int, len(n.broad))
		for i := range perm {
			perm[i] = i
		}
		return perm, nil
	}
	if len(labels) != len(n.broad) {
		return nil, errors.NewCauseMismatchError(algorithm, labels, n.broad)
	}
	perm := make([]int, len(labels))
	seen := make(map[int]bool, len(labels))
	for c, label := range labels {
		target := -1
		if idx, ok := n.index[label]; ok {
			target = idx
		} else {
			norm := causes.Normalize(label)
			for i, b := range n.broad {
				if causes.Normalize(b) == norm {
					target = i
					break
				}
			}
		}
		if target < 0 || seen[target] {
			return nil, errors.NewCauseMismatchError(algorithm, labels, n.broad)
		}
		seen[target] = true
		perm[c] = target
	}
	return perm, nil
}

// rowLabel names a matrix row in errors: the death ID when the input
// carried one, the row index otherwise.
func rowLabel(ids []string, r int) string {
	if r < len(ids) && ids[r] != "" {
		return fmt.Sprintf("%q", ids[r])
	}
	return fmt.Sprintf("%d", r)
}
