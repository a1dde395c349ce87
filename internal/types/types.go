package types

// AgeGroup selects which broad-cause set a calibration runs over.
type AgeGroup string

const (
	AgeNeonate AgeGroup = "neonate"
	AgeChild   AgeGroup = "child"
)

// Valid reports whether the age group is one of the supported groups.
func (a AgeGroup) Valid() bool {
	return a == AgeNeonate || a == AgeChild
}

// EnsembleName tags the synthetic algorithm built by joint calibration.
const EnsembleName = "ensemble"

// CauseAssignment is one individual death record: an identifier plus the
// specific (fine-grained) cause label assigned by a VA algorithm.
type CauseAssignment struct {
	ID    string `json:"id"`
	Cause string `json:"cause"`
}

// SamplerDiagnostics summarizes convergence of one posterior series.
type SamplerDiagnostics struct {
	RHatByCause      []float64 `json:"rhat_by_cause"`
	MaxRHat          float64   `json:"max_rhat"`
	MinESSFrac       float64   `json:"min_ess_frac"`
	Divergences      int       `json:"divergences"`
	MaxTreeDepthHits int       `json:"max_treedepth_hits"`
}

// AlgorithmResult is the calibrated output for one algorithm, or for the
// ensemble when Algorithm == EnsembleName.
type AlgorithmResult struct {
	Algorithm      string  `json:"algorithm"`
	Calibrated     bool    `json:"calibrated"`
	Lambda         float64 `json:"lambda"`
	ShrinkStrength float64 `json:"shrink_strength"`

	// All per-cause slices are aligned to CalibrationResult.Causes.
	Uncalibrated   []float64 `json:"uncalibrated_csmf"`
	Mean           []float64 `json:"calibrated_mean"`
	Lower          []float64 `json:"calibrated_lower"`
	Upper          []float64 `json:"calibrated_upper"`
	ObservedCounts []int     `json:"observed_counts"`
	DeathCounts    []int     `json:"calibrated_counts"`
	NonCalibrated  []string  `json:"noncalibrated_causes,omitempty"`

	Diagnostics *SamplerDiagnostics `json:"diagnostics,omitempty"`
}

// CalibrationResult is the full output of one calibration run.
type CalibrationResult struct {
	RunID      string            `json:"run_id"`
	AgeGroup   AgeGroup          `json:"age_group"`
	Causes     []string          `json:"causes"`
	Algorithms []AlgorithmResult `json:"algorithms"`
	Ensemble   *AlgorithmResult  `json:"ensemble,omitempty"`
	// Warnings lists non-fatal conditions hit during the run, already
	// logged but kept here so exported results carry them too.
	Warnings []string `json:"warnings,omitempty"`
}

// ResultFor returns the per-algorithm result by name, or nil.
func (r *CalibrationResult) ResultFor(name string) *AlgorithmResult {
	if name == EnsembleName {
		return r.Ensemble
	}
	for i := range r.Algorithms {
		if r.Algorithms[i].Algorithm == name {
			return &r.Algorithms[i]
		}
	}
	return nil
}
