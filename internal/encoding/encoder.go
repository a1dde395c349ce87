// Package encoding reads calibration requests and writes run results.
// The JSON forms mirror the wire structs in internal/types; the CSV form
// is one long-format row per series and cause for spreadsheet work.
package encoding

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

// ReadRequest decodes one calibration request, classifying every
// per-algorithm input by shape. Anything wrong with the payload,
// malformed JSON included, comes back as a format error; errors already
// carrying a calibration kind pass through untouched.
func ReadRequest(r io.Reader) (*types.CalibrationRequest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewFormatError("reading calibration request", err)
	}
	var req types.CalibrationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		if errors.KindOf(err) == errors.KindInternal {
			return nil, errors.NewFormatError(fmt.Sprintf("invalid calibration request: %v", err), err)
		}
		return nil, err
	}
	return &req, nil
}

// ReadMatrixSamples decodes a posterior-draw array for the standalone
// Dirichlet fit.
func ReadMatrixSamples(r io.Reader) (*types.MatrixSamples, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewFormatError("reading matrix samples", err)
	}
	var samples types.MatrixSamples
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, errors.NewFormatError("matrix samples are not valid JSON", err)
	}
	return &samples, nil
}

// WriteJSON writes the full result, indented for humans.
func WriteJSON(w io.Writer, res *types.CalibrationResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return errors.NewInternalError("encoding result JSON", err)
	}
	return nil
}

var csvHeader = []string{
	"run_id", "age_group", "series", "cause", "calibrated",
	"uncalibrated_csmf", "calibrated_mean", "calibrated_lower", "calibrated_upper",
	"observed_count", "calibrated_count", "lambda",
}

// WriteCSV writes one row per series and cause: every algorithm first,
// the ensemble series last when present.
func WriteCSV(w io.Writer, res *types.CalibrationResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return errors.NewInternalError("writing CSV header", err)
	}

	series := make([]*types.AlgorithmResult, 0, len(res.Algorithms)+1)
	for i := range res.Algorithms {
		series = append(series, &res.Algorithms[i])
	}
	if res.Ensemble != nil {
		series = append(series, res.Ensemble)
	}

	for _, s := range series {
		for j, cause := range res.Causes {
			row := []string{
				res.RunID,
				string(res.AgeGroup),
				s.Algorithm,
				cause,
				strconv.FormatBool(s.Calibrated),
				formatFloat(s.Uncalibrated[j]),
				formatFloat(s.Mean[j]),
				formatFloat(s.Lower[j]),
				formatFloat(s.Upper[j]),
				strconv.Itoa(s.ObservedCounts[j]),
				strconv.Itoa(s.DeathCounts[j]),
				formatFloat(s.Lambda),
			}
			if err := cw.Write(row); err != nil {
				return errors.NewInternalError("writing CSV row", err)
			}
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.NewInternalError("flushing CSV output", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
