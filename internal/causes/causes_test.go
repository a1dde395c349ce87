package causes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvatools/vacalibrate/internal/types"
)

func TestBroadSetsAreOrderedAndStable(t *testing.T) {
	neonate := Broad(types.AgeNeonate)
	assert.Equal(t, []string{
		"congenital_malformation",
		"pneumonia",
		"sepsis_meningitis_inf",
		"ipre",
		"other",
		"prematurity",
	}, neonate)

	child := Broad(types.AgeChild)
	assert.Equal(t, []string{
		"malaria",
		"pneumonia",
		"diarrhea",
		"severe_malnutrition",
		"hiv",
		"injury",
		"other",
		"other_infections",
		"nn_causes",
	}, child)

	// Mutating a returned slice must not leak into later calls.
	neonate[0] = "mutated"
	assert.Equal(t, "congenital_malformation", Broad(types.AgeNeonate)[0])

	assert.Nil(t, Broad(types.AgeGroup("adult")))
}

func TestIndexMatchesBroadOrder(t *testing.T) {
	for _, age := range []types.AgeGroup{types.AgeNeonate, types.AgeChild} {
		broad := Broad(age)
		idx := Index(age)
		require.Len(t, idx, len(broad))
		for i, c := range broad {
			assert.Equal(t, i, idx[c])
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Birth Asphyxia", "birth asphyxia"},
		{"birth_asphyxia", "birth asphyxia"},
		{"  Birth-Asphyxia  ", "birth asphyxia"},
		{"HIV/AIDS related death", "hiv aids related death"},
		{"Sepsis (non-obstetric)", "sepsis non obstetric"},
		{"sepsis_meningitis_inf", "sepsis meningitis inf"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.label))
		})
	}
}

func TestTaxonomyLookups(t *testing.T) {
	tests := []struct {
		algorithm string
		age       types.AgeGroup
		specific  string
		wantBroad string
	}{
		{AlgoInSilicoVA, types.AgeNeonate, "Birth asphyxia", "ipre"},
		{AlgoInSilicoVA, types.AgeNeonate, "Meningitis and encephalitis", "sepsis_meningitis_inf"},
		{AlgoInSilicoVA, types.AgeNeonate, "Road Traffic Accident", "other"},
		{AlgoInterVA, types.AgeNeonate, "Prematurity", "prematurity"},
		{AlgoInSilicoVA, types.AgeChild, "Acute resp infect incl Pneumonia", "pneumonia"},
		{AlgoInSilicoVA, types.AgeChild, "Accid drowning and submersion", "injury"},
		{AlgoInSilicoVA, types.AgeChild, "Birth asphyxia", "nn_causes"},
		{AlgoEAVA, types.AgeNeonate, "Preterm delivery with RDS", "prematurity"},
		{AlgoEAVA, types.AgeNeonate, "Birth injury", "ipre"},
		{AlgoEAVA, types.AgeChild, "Dysentery", "diarrhea"},
		{AlgoEAVA, types.AgeChild, "AIDS", "hiv"},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm+"/"+tt.specific, func(t *testing.T) {
			tax, ok := TaxonomyFor(tt.algorithm, tt.age)
			require.True(t, ok)

			broad, ok := tax.BroadFor(tt.specific)
			require.True(t, ok)
			assert.Equal(t, tt.wantBroad, broad)
		})
	}
}

func TestTaxonomyTargetsStayInsideBroadSet(t *testing.T) {
	for _, algorithm := range Algorithms() {
		for _, age := range []types.AgeGroup{types.AgeNeonate, types.AgeChild} {
			tax, ok := TaxonomyFor(algorithm, age)
			require.True(t, ok, "missing taxonomy for %s/%s", algorithm, age)

			idx := Index(age)
			for specific, broad := range tax.mapping {
				_, known := idx[broad]
				assert.True(t, known, "%s/%s: %q maps to unknown broad cause %q",
					algorithm, age, specific, broad)
			}
		}
	}
}

func TestTaxonomyEntriesSortedAndComplete(t *testing.T) {
	tax, ok := TaxonomyFor(AlgoEAVA, types.AgeNeonate)
	require.True(t, ok)

	entries := tax.Entries()
	require.Len(t, entries, len(tax.mapping))
	for i := 1; i < len(entries); i++ {
		assert.Less(t, entries[i-1][0], entries[i][0])
	}
	for _, e := range entries {
		broad, ok := tax.BroadFor(e[0])
		require.True(t, ok)
		assert.Equal(t, broad, e[1])
	}
}

func TestTaxonomyForUnknown(t *testing.T) {
	_, ok := TaxonomyFor("smartva", types.AgeNeonate)
	assert.False(t, ok)

	tax, ok := TaxonomyFor(AlgoEAVA, types.AgeNeonate)
	require.True(t, ok)
	_, ok = tax.BroadFor("no such cause")
	assert.False(t, ok)
}

func TestCustomTaxonomyNormalizesKeys(t *testing.T) {
	tax := CustomTaxonomy("study", types.AgeNeonate, map[string]string{
		"Birth_Asphyxia": "ipre",
	})

	broad, ok := tax.BroadFor("birth asphyxia")
	require.True(t, ok)
	assert.Equal(t, "ipre", broad)
}

func TestSupported(t *testing.T) {
	for _, a := range Algorithms() {
		assert.True(t, Supported(a))
	}
	assert.False(t, Supported("smartva"))
}
