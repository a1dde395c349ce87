package types

import (
	"encoding/json"
	"fmt"
)

// Defaults applied to a CalibrationRequest when the caller leaves the
// corresponding field unset.
const (
	DefaultRegion     = "global"
	DefaultChains     = 4
	DefaultIterations = 4000
	DefaultBurnIn     = 2000
	DefaultSeed       = uint64(20220724)
	DefaultSampler    = "gibbs"
	DefaultThreshold  = 0.1
)

// Cause-selection policies.
const (
	PolicyFixed = "fixed"
	PolicyLearn = "learn"
)

// CauseMatrix is a square misclassification matrix in its own cause
// taxonomy: Rows[i][j] relates gold-standard cause Causes[i] to
// algorithm-assigned cause Causes[j].
type CauseMatrix struct {
	Causes []string    `json:"causes"`
	Rows   [][]float64 `json:"rows"`
}

// MatrixSamples is an array of posterior draws of a misclassification
// matrix, Draws[s][i][j], all draws sharing the Causes taxonomy.
type MatrixSamples struct {
	Causes []string      `json:"causes"`
	Draws  [][][]float64 `json:"draws"`
}

// MatrixSpec is a caller-supplied misclassification prior for one
// algorithm, in exactly one of three forms. A nil MatrixSpec means the
// built-in default for that algorithm is used instead.
type MatrixSpec struct {
	// Dirichlet carries unnormalized Dirichlet row concentrations; row
	// sums encode prior strength.
	Dirichlet *CauseMatrix `json:"dirichlet,omitempty"`
	// Fixed carries row-normalized rates treated as known without
	// uncertainty.
	Fixed *CauseMatrix `json:"fixed,omitempty"`
	// Samples carries posterior draws to be condensed into a Dirichlet
	// form by moment/ML fitting.
	Samples *MatrixSamples `json:"samples,omitempty"`
}

// Form returns which of the three forms is populated, or an error when
// the spec is empty or ambiguous.
func (m *MatrixSpec) Form() (string, error) {
	var forms []string
	if m.Dirichlet != nil {
		forms = append(forms, "dirichlet")
	}
	if m.Fixed != nil {
		forms = append(forms, "fixed")
	}
	if m.Samples != nil {
		forms = append(forms, "samples")
	}
	switch len(forms) {
	case 0:
		return "", fmt.Errorf("matrix spec sets none of dirichlet, fixed, samples")
	case 1:
		return forms[0], nil
	default:
		return "", fmt.Errorf("matrix spec sets multiple forms %v; exactly one is allowed", forms)
	}
}

// CausePolicy controls which broad causes are calibrated.
type CausePolicy struct {
	// Policy is PolicyFixed (calibrate Calibrated, or every cause when
	// empty) or PolicyLearn (additionally drop causes an algorithm's
	// matrix carries no signal for, judged by Threshold).
	Policy     string   `json:"policy"`
	Threshold  float64  `json:"threshold"`
	Calibrated []string `json:"calibrated,omitempty"`
	// CalibratedBy overrides Calibrated for single algorithms.
	CalibratedBy map[string][]string `json:"calibrated_by,omitempty"`
}

// ListFor returns the calibrated-cause list in force for an algorithm:
// its override when one exists, the shared list otherwise.
func (p CausePolicy) ListFor(algorithm string) []string {
	if list, ok := p.CalibratedBy[algorithm]; ok {
		return list
	}
	return p.Calibrated
}

// SamplerSettings configures the posterior sampler backing a run.
type SamplerSettings struct {
	Name       string `json:"name"`
	Chains     int    `json:"chains"`
	Iterations int    `json:"iterations"`
	BurnIn     int    `json:"burn_in"`
	Seed       uint64 `json:"seed"`
}

// CalibrationRequest is one fully-classified calibration job.
type CalibrationRequest struct {
	AgeGroup  AgeGroup
	Region    string
	Inputs    []AlgorithmInput
	Matrices  map[string]*MatrixSpec
	CauseMaps map[string]map[string]string
	Ensemble  bool
	// EnsembleExplicit records whether the caller set Ensemble or the
	// default filled it in. An explicit request for an impossible
	// ensemble fails; the default one degrades to a warning, and
	// installation config may override only the defaulted value.
	EnsembleExplicit bool
	PathCorrection   bool
	// PathCorrectionExplicit mirrors EnsembleExplicit for the path
	// correction switch.
	PathCorrectionExplicit bool
	Causes                 CausePolicy
	Sampler                SamplerSettings
}

// rawRequest mirrors the wire form of a request; optional booleans are
// pointers so that "absent" and "false" stay distinguishable.
type rawRequest struct {
	AgeGroup       AgeGroup                     `json:"age_group"`
	Region         string                       `json:"region"`
	Inputs         map[string]json.RawMessage   `json:"inputs"`
	Matrices       map[string]*MatrixSpec       `json:"matrices"`
	CauseMaps      map[string]map[string]string `json:"cause_maps"`
	Ensemble       *bool                        `json:"ensemble"`
	PathCorrection *bool                        `json:"path_correction"`
	Causes         *CausePolicy                 `json:"causes"`
	Sampler        *SamplerSettings             `json:"sampler"`
}

// UnmarshalJSON decodes a request and classifies every per-algorithm
// input. Unset optional fields stay zero so that installation config can
// fill them before ApplyDefaults runs; the two ensemble/path booleans
// default here because "absent" and "false" must stay distinguishable.
func (r *CalibrationRequest) UnmarshalJSON(data []byte) error {
	var raw rawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode calibration request: %w", err)
	}
	inputs, err := ClassifyInputs(raw.Inputs)
	if err != nil {
		return err
	}

	r.AgeGroup = raw.AgeGroup
	r.Region = raw.Region
	r.Inputs = inputs
	r.Matrices = raw.Matrices
	r.CauseMaps = raw.CauseMaps
	r.Ensemble = raw.Ensemble == nil || *raw.Ensemble
	r.EnsembleExplicit = raw.Ensemble != nil
	r.PathCorrection = raw.PathCorrection == nil || *raw.PathCorrection
	r.PathCorrectionExplicit = raw.PathCorrection != nil
	if raw.Causes != nil {
		r.Causes = *raw.Causes
	}
	if raw.Sampler != nil {
		r.Sampler = *raw.Sampler
	}
	return nil
}

// ApplyDefaults fills zero-valued optional fields in place.
func (r *CalibrationRequest) ApplyDefaults() {
	if r.Region == "" {
		r.Region = DefaultRegion
	}
	if r.Causes.Policy == "" {
		r.Causes.Policy = PolicyFixed
	}
	if r.Causes.Threshold == 0 {
		r.Causes.Threshold = DefaultThreshold
	}
	if r.Sampler.Name == "" {
		r.Sampler.Name = DefaultSampler
	}
	if r.Sampler.Chains == 0 {
		r.Sampler.Chains = DefaultChains
	}
	if r.Sampler.Iterations == 0 {
		r.Sampler.Iterations = DefaultIterations
	}
	if r.Sampler.BurnIn == 0 {
		r.Sampler.BurnIn = DefaultBurnIn
	}
	if r.Sampler.Seed == 0 {
		r.Sampler.Seed = DefaultSeed
	}
}

// Validate checks the request-level fields that do not require cause-set
// knowledge. Input-level validation happens during normalization.
func (r *CalibrationRequest) Validate() error {
	if !r.AgeGroup.Valid() {
		return fmt.Errorf("unknown age group %q (want %q or %q)", r.AgeGroup, AgeNeonate, AgeChild)
	}
	if len(r.Inputs) == 0 {
		return fmt.Errorf("no algorithm inputs given")
	}
	if r.Causes.Policy != PolicyFixed && r.Causes.Policy != PolicyLearn {
		return fmt.Errorf("unknown cause policy %q (want %q or %q)", r.Causes.Policy, PolicyFixed, PolicyLearn)
	}
	if r.Sampler.BurnIn >= r.Sampler.Iterations {
		return fmt.Errorf("burn-in %d must be below iterations %d", r.Sampler.BurnIn, r.Sampler.Iterations)
	}
	if r.Sampler.Chains < 1 {
		return fmt.Errorf("at least one chain required, got %d", r.Sampler.Chains)
	}
	for name := range r.Matrices {
		if r.Matrices[name] == nil {
			continue
		}
		if _, err := r.Matrices[name].Form(); err != nil {
			return fmt.Errorf("algorithm %q: %w", name, err)
		}
	}
	return nil
}
