// Package sampler defines the contract between the calibration pipeline
// and posterior sampling engines, plus the shared convergence
// diagnostics. Engines register under a name; the pipeline resolves them
// through an explicit Registry rather than a process-global table.
package sampler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/matrix"
)

// Series is one algorithm's contribution to a posterior: observed death
// counts over the calibratable causes, the aligned misclassification
// prior, and the path-correction weight for the likelihood blend.
type Series struct {
	Algorithm string
	Counts    []float64
	Prior     *matrix.Prior
	Lambda    float64
}

// Request asks for draws of one cause-specific mortality fraction. With a
// single Series the CSMF explains that algorithm's counts; with several,
// one shared CSMF must explain all of them jointly.
type Request struct {
	Causes []string
	Series []Series

	// Alpha is the Dirichlet prior on the CSMF, aligned to Causes.
	Alpha []float64

	Chains     int
	Iterations int
	BurnIn     int
	Seed       uint64
}

// Validate checks the request is internally consistent.
func (r *Request) Validate() error {
	n := len(r.Causes)
	if n == 0 {
		return errors.NewSamplerError("request has no causes", nil)
	}
	if len(r.Series) == 0 {
		return errors.NewSamplerError("request has no series", nil)
	}
	if len(r.Alpha) != n {
		return errors.NewSamplerError(
			fmt.Sprintf("alpha has %d entries for %d causes", len(r.Alpha), n), nil)
	}
	for _, s := range r.Series {
		if len(s.Counts) != n {
			return errors.NewSamplerError(
				fmt.Sprintf("series %q has %d counts for %d causes", s.Algorithm, len(s.Counts), n), nil)
		}
		if s.Prior == nil || s.Prior.Dim() != n {
			return errors.NewSamplerError(
				fmt.Sprintf("series %q prior does not cover the %d causes", s.Algorithm, n), nil)
		}
		if s.Lambda < 0 || s.Lambda > 1 {
			return errors.NewSamplerError(
				fmt.Sprintf("series %q lambda %.4f outside [0, 1]", s.Algorithm, s.Lambda), nil)
		}
	}
	if r.Chains < 1 || r.Iterations < 1 || r.BurnIn < 0 || r.BurnIn >= r.Iterations {
		return errors.NewSamplerError(
			fmt.Sprintf("bad chain settings: chains=%d iterations=%d burn_in=%d", r.Chains, r.Iterations, r.BurnIn), nil)
	}
	return nil
}

// Kept returns how many draws one chain keeps after burn-in.
func (r *Request) Kept() int { return r.Iterations - r.BurnIn }

// Result is one posterior series: kept draws pooled across chains, plus
// the per-chain draws the diagnostics were computed from.
type Result struct {
	// Draws holds pooled post burn-in CSMF draws, one row per draw,
	// aligned to the request causes.
	Draws [][]float64
	// ChainDraws is indexed [chain][iteration][cause].
	ChainDraws [][][]float64
	// Divergences counts iterations the engine had to reject or repair.
	Divergences int
	// MaxTreeDepthHits counts iterations that saturated the trajectory
	// length. Always zero for the Gibbs engine; HMC-style engines fill it.
	MaxTreeDepthHits int
}

// PosteriorSampler is the pluggable sampling engine. Implementations
// must honor ctx cancellation and produce reproducible draws for a
// fixed seed.
type PosteriorSampler interface {
	Name() string
	Sample(ctx context.Context, req *Request) (*Result, error)
}

// Registry maps engine names to implementations.
type Registry struct {
	mu       sync.RWMutex
	samplers map[string]PosteriorSampler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{samplers: make(map[string]PosteriorSampler)}
}

// Register adds an engine. Registering a duplicate name is an error so
// that two packages cannot silently fight over one slot.
func (r *Registry) Register(s PosteriorSampler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := s.Name()
	if name == "" {
		return errors.NewConfigurationError("sampler has an empty name", nil)
	}
	if _, dup := r.samplers[name]; dup {
		return errors.NewConfigurationError(
			fmt.Sprintf("sampler %q is already registered", name), nil)
	}
	r.samplers[name] = s
	return nil
}

// Get resolves an engine by name.
func (r *Registry) Get(name string) (PosteriorSampler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.samplers[name]
	if !ok {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("no sampler registered under %q (have %v)", name, r.names()), nil)
	}
	return s, nil
}

// Names lists the registered engines, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names()
}

func (r *Registry) names() []string {
	out := make([]string, 0, len(r.samplers))
	for name := range r.samplers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
