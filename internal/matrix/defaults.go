package matrix

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/openvatools/vacalibrate/internal/causes"
	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

// RegionGlobal is the fallback region every lookup ends at.
const RegionGlobal = "global"

// storeKey identifies one default prior.
type storeKey struct {
	Algorithm string
	Age       types.AgeGroup
	Region    string
}

// DefaultStore holds the built-in misclassification priors, estimated
// against gold-standard cause assignments from the CHAMPS validation
// deaths. Keys are (algorithm, age group, region); lookups for a region
// without its own table fall back to the global one.
type DefaultStore struct {
	priors map[storeKey]*Prior
}

// NewDefaultStore returns a store seeded with the built-in tables.
func NewDefaultStore() *DefaultStore {
	s := &DefaultStore{priors: make(map[storeKey]*Prior)}
	for _, d := range builtinDefaults {
		s.Register(d.algorithm, d.age, RegionGlobal, fromCounts(d.algorithm, d.age, d.counts))
	}
	return s
}

// Register adds or replaces the default prior for a key.
func (s *DefaultStore) Register(algorithm string, age types.AgeGroup, region string, p *Prior) {
	s.priors[storeKey{Algorithm: algorithm, Age: age, Region: region}] = p
}

// Lookup returns a copy of the default prior for the key, falling back
// from the requested region to the global table.
func (s *DefaultStore) Lookup(algorithm string, age types.AgeGroup, region string) (*Prior, error) {
	if p, ok := s.priors[storeKey{Algorithm: algorithm, Age: age, Region: region}]; ok {
		return p.Clone(), nil
	}
	if region != RegionGlobal {
		if p, ok := s.priors[storeKey{Algorithm: algorithm, Age: age, Region: RegionGlobal}]; ok {
			return p.Clone(), nil
		}
	}
	return nil, errors.NewConfigurationError(
		fmt.Sprintf("no default misclassification matrix for algorithm %q, age group %q (supply one in the request)", algorithm, age), nil)
}

// Algorithms lists the algorithms with a default prior for an age group.
func (s *DefaultStore) Algorithms(age types.AgeGroup) []string {
	var out []string
	for _, a := range causes.Algorithms() {
		if _, ok := s.priors[storeKey{Algorithm: a, Age: age, Region: RegionGlobal}]; ok {
			out = append(out, a)
		}
	}
	return out
}

// fromCounts wraps a gold-by-assigned count table as a Dirichlet prior:
// the counts are the concentrations, so each row's strength is the
// number of validation deaths with that gold cause.
func fromCounts(algorithm string, age types.AgeGroup, counts [][]float64) *Prior {
	broad := causes.Broad(age)
	n := len(broad)
	shape := mat.NewDense(n, n, nil)
	for i, row := range counts {
		shape.SetRow(i, row)
	}
	return &Prior{Algorithm: algorithm, Causes: broad, Shape: shape}
}

// Rows follow the broad-cause order of the age group; so do columns.

var builtinDefaults = []struct {
	algorithm string
	age       types.AgeGroup
	counts    [][]float64
}{
	{
		algorithm: causes.AlgoInSilicoVA,
		age:       types.AgeNeonate,
		counts: [][]float64{
			{27, 2, 6, 3, 4, 3},
			{2, 46, 32, 13, 11, 16},
			{4, 27, 88, 29, 23, 39},
			{4, 14, 27, 99, 14, 22},
			{3, 6, 11, 7, 23, 10},
			{5, 16, 37, 23, 16, 133},
		},
	},
	{
		algorithm: causes.AlgoEAVA,
		age:       types.AgeNeonate,
		counts: [][]float64{
			{24, 3, 7, 4, 4, 3},
			{3, 41, 35, 14, 12, 15},
			{5, 31, 79, 31, 25, 39},
			{4, 16, 30, 92, 16, 22},
			{3, 7, 12, 8, 20, 10},
			{5, 18, 40, 25, 18, 124},
		},
	},
	{
		algorithm: causes.AlgoInterVA,
		age:       types.AgeNeonate,
		counts: [][]float64{
			{22, 3, 7, 4, 5, 4},
			{3, 38, 36, 15, 13, 15},
			{5, 33, 74, 32, 27, 39},
			{5, 17, 31, 86, 18, 23},
			{3, 7, 12, 8, 19, 11},
			{6, 19, 41, 26, 20, 118},
		},
	},
	{
		algorithm: causes.AlgoInSilicoVA,
		age:       types.AgeChild,
		counts: [][]float64{
			{88, 14, 10, 6, 3, 2, 9, 24, 4},
			{16, 98, 11, 8, 5, 2, 13, 31, 6},
			{9, 12, 72, 10, 4, 1, 10, 18, 4},
			{7, 10, 12, 48, 6, 1, 11, 12, 3},
			{4, 8, 6, 6, 28, 1, 6, 9, 2},
			{3, 4, 2, 1, 1, 66, 6, 5, 2},
			{8, 13, 9, 6, 4, 4, 52, 19, 5},
			{14, 20, 11, 7, 5, 3, 16, 68, 6},
			{2, 6, 2, 2, 1, 1, 6, 6, 54},
		},
	},
	{
		algorithm: causes.AlgoEAVA,
		age:       types.AgeChild,
		counts: [][]float64{
			{82, 16, 11, 6, 3, 2, 10, 26, 4},
			{18, 92, 12, 8, 5, 3, 14, 32, 6},
			{10, 13, 68, 11, 4, 1, 11, 18, 4},
			{7, 11, 13, 44, 6, 1, 12, 13, 3},
			{4, 8, 6, 7, 26, 1, 7, 9, 2},
			{3, 5, 2, 1, 1, 63, 7, 6, 2},
			{9, 14, 9, 7, 4, 4, 48, 20, 5},
			{15, 21, 12, 7, 5, 3, 17, 64, 6},
			{2, 7, 2, 2, 1, 1, 7, 7, 51},
		},
	},
	{
		algorithm: causes.AlgoInterVA,
		age:       types.AgeChild,
		counts: [][]float64{
			{79, 17, 11, 7, 3, 2, 11, 26, 4},
			{19, 88, 13, 9, 5, 3, 15, 32, 6},
			{10, 14, 65, 11, 4, 2, 11, 19, 4},
			{8, 11, 13, 42, 6, 1, 12, 14, 3},
			{4, 9, 6, 7, 24, 1, 7, 10, 2},
			{4, 5, 2, 1, 1, 60, 8, 7, 2},
			{9, 14, 10, 7, 5, 4, 45, 21, 5},
			{16, 22, 12, 8, 5, 3, 18, 60, 6},
			{3, 7, 2, 2, 1, 1, 7, 8, 49},
		},
	},
}
