package calibration

import (
	"fmt"
	"strings"

	"github.com/openvatools/vacalibrate/internal/causes"
	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/matrix"
	"github.com/openvatools/vacalibrate/internal/types"
)

// Selection records which broad causes take part in one algorithm's
// calibration.
//
// When fewer than two causes survive selection there is nothing to move
// probability between, so that algorithm degrades to pass-through and
// Enabled is false.
type Selection struct {
	Calibrated []bool
	Kept       []int
	Dropped    []string
	Enabled    bool
}

// SelectCauses applies the cause policy to one algorithm's aligned
// prior.
//
// Under the fixed policy the named causes are calibrated (every cause
// when none are named), with a per-algorithm override list taking
// precedence. Under the learn policy a cause must additionally carry
// signal in this algorithm's matrix: its assignment rate has to depend
// on the true cause, judged by the column range of the row-normalized
// rates against the threshold.
func SelectCauses(policy types.CausePolicy, algorithm string, p *matrix.Prior, broad []string) (*Selection, error) {
	named, err := namedSet(policy.ListFor(algorithm), broad)
	if err != nil {
		return nil, err
	}

	calibrated := make([]bool, len(broad))
	switch policy.Policy {
	case types.PolicyFixed:
		for j := range broad {
			calibrated[j] = named == nil || named[j]
		}

	case types.PolicyLearn:
		for j := range broad {
			if named != nil && !named[j] {
				continue
			}
			calibrated[j] = columnRange(p, j) > policy.Threshold
		}

	default:
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("unknown cause policy %q", policy.Policy), nil)
	}

	return newSelection(calibrated, broad), nil
}

// Intersect combines per-algorithm selections into the ensemble's: a
// cause is calibratable for the ensemble only when every member
// calibrates it.
func Intersect(sels []*Selection, broad []string) *Selection {
	calibrated := make([]bool, len(broad))
	for j := range calibrated {
		calibrated[j] = len(sels) > 0
		for _, sel := range sels {
			if !sel.Calibrated[j] {
				calibrated[j] = false
				break
			}
		}
	}
	return newSelection(calibrated, broad)
}

func newSelection(calibrated []bool, broad []string) *Selection {
	sel := &Selection{Calibrated: calibrated}
	for j, on := range calibrated {
		if on {
			sel.Kept = append(sel.Kept, j)
		} else {
			sel.Dropped = append(sel.Dropped, broad[j])
		}
	}
	sel.Enabled = len(sel.Kept) > 1
	return sel
}

// namedSet resolves a calibrated-cause list against the broad set. A nil
// return means no restriction.
func namedSet(names []string, broad []string) ([]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	index := make(map[string]int, len(broad))
	for j, b := range broad {
		index[causes.Normalize(b)] = j
	}
	set := make([]bool, len(broad))
	for _, name := range names {
		j, ok := index[causes.Normalize(name)]
		if !ok {
			return nil, errors.NewConfigurationError(
				fmt.Sprintf("cause policy names %q, which is not a broad cause (have %s)",
					name, strings.Join(broad, ", ")), nil)
		}
		set[j] = true
	}
	return set, nil
}

// columnRange is the spread of column j across the rows of the prior's
// mean matrix: max minus min of the row-normalized rates.
func columnRange(p *matrix.Prior, j int) float64 {
	mean := p.Mean()
	lo, hi := mean.At(0, j), mean.At(0, j)
	for i := 1; i < p.Dim(); i++ {
		v := mean.At(i, j)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return hi - lo
}
