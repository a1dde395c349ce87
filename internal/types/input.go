package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// InputShape tags the three accepted per-algorithm input forms.
type InputShape string

const (
	ShapeSpecificCauses InputShape = "specific_causes"
	ShapeBroadMatrix    InputShape = "broad_matrix"
	ShapeDeathCounts    InputShape = "death_counts"
)

// VaInput is one per-algorithm input in exactly one of the three accepted
// shapes. The set of implementations is closed; Shape is assigned once,
// during classification, and never re-inferred downstream.
type VaInput interface {
	Shape() InputShape
}

// SpecificCauses holds individual-level specific-cause assignments that
// still need mapping onto the broad-cause set.
type SpecificCauses struct {
	Records []CauseAssignment
}

func (SpecificCauses) Shape() InputShape { return ShapeSpecificCauses }

// BroadCauseMatrix holds an individual-by-broad-cause binary indicator
// matrix: each row is one death with exactly one nonzero column.
type BroadCauseMatrix struct {
	Causes []string
	IDs    []string
	Rows   [][]float64
}

func (BroadCauseMatrix) Shape() InputShape { return ShapeBroadMatrix }

// DeathCounts holds an already-aggregated death-count vector over the
// broad causes.
type DeathCounts struct {
	Causes []string
	Counts []float64
}

func (DeathCounts) Shape() InputShape { return ShapeDeathCounts }

// rawInput mirrors the wire form of a per-algorithm input. Exactly one of
// the three fields may be set.
type rawInput struct {
	SpecificCauses []CauseAssignment `json:"specific_causes"`
	BroadMatrix    *struct {
		Causes []string    `json:"causes"`
		IDs    []string    `json:"ids"`
		Rows   [][]float64 `json:"rows"`
	} `json:"broad_matrix"`
	DeathCounts *struct {
		Causes []string  `json:"causes"`
		Counts []float64 `json:"counts"`
	} `json:"death_counts"`
}

// ClassifyInput decodes one per-algorithm input and assigns its shape tag.
// The caller gets back exactly one of the three VaInput implementations; a
// payload matching zero or several shapes is rejected here, before any
// calibration logic sees it.
func ClassifyInput(raw json.RawMessage) (VaInput, error) {
	var in rawInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode algorithm input: %w", err)
	}
	var shapes []InputShape
	if in.SpecificCauses != nil {
		shapes = append(shapes, ShapeSpecificCauses)
	}
	if in.BroadMatrix != nil {
		shapes = append(shapes, ShapeBroadMatrix)
	}
	if in.DeathCounts != nil {
		shapes = append(shapes, ShapeDeathCounts)
	}
	switch len(shapes) {
	case 0:
		return nil, fmt.Errorf("input matches none of %q, %q, %q",
			ShapeSpecificCauses, ShapeBroadMatrix, ShapeDeathCounts)
	case 1:
	default:
		return nil, fmt.Errorf("input matches multiple shapes %v; exactly one is allowed", shapes)
	}
	switch shapes[0] {
	case ShapeSpecificCauses:
		return SpecificCauses{Records: in.SpecificCauses}, nil
	case ShapeBroadMatrix:
		return BroadCauseMatrix{
			Causes: in.BroadMatrix.Causes,
			IDs:    in.BroadMatrix.IDs,
			Rows:   in.BroadMatrix.Rows,
		}, nil
	default:
		return DeathCounts{
			Causes: in.DeathCounts.Causes,
			Counts: in.DeathCounts.Counts,
		}, nil
	}
}

// AlgorithmInput pairs an algorithm name with its classified input.
type AlgorithmInput struct {
	Algorithm string
	Input     VaInput
}

// ClassifyInputs classifies a map of per-algorithm payloads and returns
// them in deterministic (sorted by algorithm name) order.
func ClassifyInputs(raw map[string]json.RawMessage) ([]AlgorithmInput, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]AlgorithmInput, 0, len(names))
	for _, name := range names {
		in, err := ClassifyInput(raw[name])
		if err != nil {
			return nil, fmt.Errorf("algorithm %q: %w", name, err)
		}
		out = append(out, AlgorithmInput{Algorithm: name, Input: in})
	}
	return out, nil
}
