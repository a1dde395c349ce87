// Package causes carries the broad-cause sets for each age group and the
// specific-cause taxonomies of the supported VA algorithms. Broad-cause
// order is fixed: every vector and matrix in a run is aligned to the
// slices returned here, never to alphabetical or insertion order.
package causes

import (
	"sort"
	"strings"

	"github.com/openvatools/vacalibrate/internal/types"
)

// Supported algorithm names.
const (
	AlgoEAVA       = "eava"
	AlgoInSilicoVA = "insilicova"
	AlgoInterVA    = "interva"
)

// CatchAll is the broad cause that absorbs specific causes no taxonomy
// entry covers. Both age groups carry it.
const CatchAll = "other"

// Algorithms returns the algorithm names with built-in taxonomies and
// default misclassification matrices.
func Algorithms() []string {
	return []string{AlgoEAVA, AlgoInSilicoVA, AlgoInterVA}
}

// Supported reports whether the algorithm has built-in tables.
func Supported(algorithm string) bool {
	switch algorithm {
	case AlgoEAVA, AlgoInSilicoVA, AlgoInterVA:
		return true
	}
	return false
}

var broadNeonate = []string{
	"congenital_malformation",
	"pneumonia",
	"sepsis_meningitis_inf",
	"ipre",
	"other",
	"prematurity",
}

var broadChild = []string{
	"malaria",
	"pneumonia",
	"diarrhea",
	"severe_malnutrition",
	"hiv",
	"injury",
	"other",
	"other_infections",
	"nn_causes",
}

// Broad returns the ordered broad-cause set for an age group. The slice
// is a copy; callers may keep it.
func Broad(age types.AgeGroup) []string {
	var src []string
	switch age {
	case types.AgeNeonate:
		src = broadNeonate
	case types.AgeChild:
		src = broadChild
	default:
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// Index returns broad cause name -> position for an age group.
func Index(age types.AgeGroup) map[string]int {
	broad := Broad(age)
	idx := make(map[string]int, len(broad))
	for i, c := range broad {
		idx[c] = i
	}
	return idx
}

// Normalize folds a cause label into its canonical lookup form: lower
// case, separators collapsed to single spaces, punctuation dropped. Both
// taxonomy keys and incoming labels go through this, so "Birth Asphyxia",
// "birth_asphyxia" and "birth-asphyxia" all land on the same entry.
func Normalize(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r == ' ' || r == '_' || r == '-' || r == '/':
			pendingSep = b.Len() > 0
		case r == '.' || r == ',' || r == '(' || r == ')' || r == '\'':
			// dropped
		default:
			if pendingSep {
				b.WriteByte(' ')
				pendingSep = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Taxonomy maps an algorithm's specific causes onto the broad set of one
// age group.
type Taxonomy struct {
	Algorithm string
	Age       types.AgeGroup
	mapping   map[string]string
}

// BroadFor resolves a specific-cause label to its broad cause. The second
// return is false when the label has no taxonomy entry.
func (t *Taxonomy) BroadFor(specific string) (string, bool) {
	broad, ok := t.mapping[Normalize(specific)]
	return broad, ok
}

// Entries returns the specific-to-broad pairs sorted by specific label.
func (t *Taxonomy) Entries() [][2]string {
	out := make([][2]string, 0, len(t.mapping))
	for specific, broad := range t.mapping {
		out = append(out, [2]string{specific, broad})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// TaxonomyFor returns the built-in taxonomy for an algorithm and age
// group, or false when none exists.
func TaxonomyFor(algorithm string, age types.AgeGroup) (*Taxonomy, bool) {
	byAge, ok := taxonomies[algorithm]
	if !ok {
		return nil, false
	}
	mapping, ok := byAge[age]
	if !ok {
		return nil, false
	}
	return &Taxonomy{Algorithm: algorithm, Age: age, mapping: mapping}, true
}

// CustomTaxonomy builds a taxonomy from a caller-provided specific->broad
// map, normalizing the keys. Used when a caller overrides the built-in
// tables for a study-specific cause list.
func CustomTaxonomy(algorithm string, age types.AgeGroup, mapping map[string]string) *Taxonomy {
	normalized := make(map[string]string, len(mapping))
	for specific, broad := range mapping {
		normalized[Normalize(specific)] = broad
	}
	return &Taxonomy{Algorithm: algorithm, Age: age, mapping: normalized}
}

// The mapping tables below follow the WHO 2016 cause list used by
// InterVA-5 and InSilicoVA and the expert-algorithm (EAVA) cause list.
// Keys are pre-normalized.

var insilicovaNeonate = map[string]string{
	"congenital malformation":           "congenital_malformation",
	"neonatal pneumonia":                "pneumonia",
	"neonatal sepsis":                   "sepsis_meningitis_inf",
	"meningitis and encephalitis":       "sepsis_meningitis_inf",
	"birth asphyxia":                    "ipre",
	"prematurity":                       "prematurity",
	"neonatal tetanus":                  "other",
	"road traffic accident":             "other",
	"accid fall":                        "other",
	"accid drowning and submersion":     "other",
	"accid expos to smoke fire & flame": "other",
	"assault":                           "other",
	"other and unspecified neonatal cod": "other",
	"other and unspecified external cod": "other",
}

var insilicovaChild = map[string]string{
	"malaria":                           "malaria",
	"acute resp infect incl pneumonia":  "pneumonia",
	"diarrhoeal diseases":               "diarrhea",
	"severe malnutrition":               "severe_malnutrition",
	"severe anaemia":                    "other",
	"hiv aids related death":            "hiv",
	"road traffic accident":             "injury",
	"accid fall":                        "injury",
	"accid drowning and submersion":     "injury",
	"accid expos to smoke fire & flame": "injury",
	"accid poisoning & noxious subs":    "injury",
	"contact with venomous plant animal": "injury",
	"exposure to force of nature":        "injury",
	"assault":                            "injury",
	"intentional self harm":              "injury",
	"other and unspecified external cod": "injury",
	"measles":                            "other_infections",
	"meningitis and encephalitis":        "other_infections",
	"dengue fever":                       "other_infections",
	"haemorrhagic fever non dengue":      "other_infections",
	"pertussis":                          "other_infections",
	"sepsis non obstetric":               "other_infections",
	"tetanus":                            "other_infections",
	"pulmonary tuberculosis":             "other_infections",
	"other and unspecified infect dis":   "other_infections",
	"congenital malformation":            "other",
	"abdominal conditions":               "other",
	"liver cirrhosis":                    "other",
	"renal failure":                      "other",
	"epilepsy":                           "other",
	"sickle cell with crisis":            "other",
	"diabetes mellitus":                  "other",
	"acute cardiac disease":              "other",
	"stroke":                             "other",
	"other and unspecified cardiac dis":  "other",
	"digestive neoplasms":                "other",
	"other and unspecified neoplasms":    "other",
	"other and unspecified ncd":          "other",
	"prematurity":                        "nn_causes",
	"birth asphyxia":                     "nn_causes",
	"neonatal sepsis":                    "nn_causes",
	"neonatal pneumonia":                 "nn_causes",
	"neonatal tetanus":                   "nn_causes",
	"other and unspecified neonatal cod": "nn_causes",
}

var eavaNeonate = map[string]string{
	"congenital malformation":        "congenital_malformation",
	"neonatal pneumonia":             "pneumonia",
	"pneumonia":                      "pneumonia",
	"neonatal sepsis":                "sepsis_meningitis_inf",
	"sepsis":                         "sepsis_meningitis_inf",
	"meningitis":                     "sepsis_meningitis_inf",
	"birth asphyxia":                 "ipre",
	"birth injury":                   "ipre",
	"preterm delivery":               "prematurity",
	"preterm delivery with rds":      "prematurity",
	"preterm delivery without rds":   "prematurity",
	"neonatal tetanus":               "other",
	"neonatal diarrhea":              "other",
	"diarrhea":                       "other",
	"hemorrhagic disease of newborn": "other",
	"sudden unexplained death":       "other",
	"injury":                         "other",
	"unspecified":                    "other",
}

var eavaChild = map[string]string{
	"malaria":                  "malaria",
	"pneumonia":                "pneumonia",
	"diarrhea":                 "diarrhea",
	"dysentery":                "diarrhea",
	"persistent diarrhea":      "diarrhea",
	"malnutrition":             "severe_malnutrition",
	"severe malnutrition":      "severe_malnutrition",
	"aids":                     "hiv",
	"hiv":                      "hiv",
	"injury":                   "injury",
	"accident":                 "injury",
	"measles":                  "other_infections",
	"meningitis":               "other_infections",
	"encephalitis":             "other_infections",
	"sepsis":                   "other_infections",
	"pertussis":                "other_infections",
	"tuberculosis":             "other_infections",
	"hemorrhagic fever":        "other_infections",
	"other infections":         "other_infections",
	"other":                    "other",
	"unspecified":              "other",
	"congenital malformation":  "other",
	"sudden unexplained death": "other",
	"neonatal cause":           "nn_causes",
	"neonatal pneumonia":       "nn_causes",
	"neonatal sepsis":          "nn_causes",
	"birth asphyxia":           "nn_causes",
	"preterm delivery":         "nn_causes",
}

var taxonomies = map[string]map[types.AgeGroup]map[string]string{
	AlgoInSilicoVA: {
		types.AgeNeonate: insilicovaNeonate,
		types.AgeChild:   insilicovaChild,
	},
	// InterVA-5 assigns from the same WHO 2016 cause list as InSilicoVA,
	// so the two share mapping tables.
	AlgoInterVA: {
		types.AgeNeonate: insilicovaNeonate,
		types.AgeChild:   insilicovaChild,
	},
	AlgoEAVA: {
		types.AgeNeonate: eavaNeonate,
		types.AgeChild:   eavaChild,
	},
}
