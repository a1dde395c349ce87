package calibration

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/matrix"
	"github.com/openvatools/vacalibrate/internal/sampler"
	"github.com/openvatools/vacalibrate/internal/types"
)

// Shrink strengths for the Dirichlet prior on the CSMF. With the path
// correction active the identity pull already keeps the posterior near
// the data, so the prior stays flat; without it the prior leans on the
// observed fractions instead.
const (
	shrinkWithPath    = 0.0
	shrinkWithoutPath = 4.0
)

// Calibrator orchestrates the full calibration pipeline: input
// normalization, prior resolution, cause selection, path correction,
// posterior sampling, and result assembly.
type Calibrator struct {
	logger   *zap.Logger
	store    *matrix.DefaultStore
	registry *sampler.Registry
}

// NewCalibrator wires a calibrator from its components. A nil logger
// disables logging.
func NewCalibrator(store *matrix.DefaultStore, registry *sampler.Registry, logger *zap.Logger) *Calibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calibrator{
		logger:   logger,
		store:    store,
		registry: registry,
	}
}

// Run executes one calibration request end to end and returns the
// calibrated CSMFs for every algorithm, plus the ensemble when
// requested and at least two algorithms are present.
func (c *Calibrator) Run(ctx context.Context, req *types.CalibrationRequest) (*types.CalibrationResult, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid calibration request", err)
	}

	result := &types.CalibrationResult{
		RunID:    uuid.NewString(),
		AgeGroup: req.AgeGroup,
	}
	log := c.logger.With(
		zap.String("run_id", result.RunID),
		zap.String("age_group", string(req.AgeGroup)))
	log.Info("starting calibration run",
		zap.Int("algorithms", len(req.Inputs)),
		zap.Bool("ensemble", req.Ensemble),
		zap.Bool("path_correction", req.PathCorrection),
		zap.String("sampler", req.Sampler.Name))

	normalizer := NewNormalizer(req.AgeGroup)
	broad := normalizer.Broad()
	result.Causes = append([]string(nil), broad...)

	// Normalize every input and resolve its misclassification prior
	// before any sampling starts, so a bad input fails the run early.
	norms := make([]*Normalized, 0, len(req.Inputs))
	priors := make(map[string]*matrix.Prior, len(req.Inputs))
	for _, in := range req.Inputs {
		norm, err := normalizer.Normalize(in)
		if err != nil {
			return nil, err
		}
		prior, err := c.resolvePrior(req, in.Algorithm, broad)
		if err != nil {
			return nil, err
		}
		norms = append(norms, norm)
		priors[in.Algorithm] = prior
		if len(norm.Defaulted) > 0 {
			log.Warn("specific causes without a taxonomy entry counted under the catch-all",
				zap.String("algorithm", in.Algorithm),
				zap.Strings("causes", norm.Defaulted))
		}
		log.Debug("normalized input",
			zap.String("algorithm", in.Algorithm),
			zap.Float64("deaths", norm.Total))
	}

	// An ensemble needs at least two member algorithms. When the caller
	// asked for one explicitly that is fatal; when the default switched
	// it on it degrades to a warning.
	ensembleOn := req.Ensemble
	if ensembleOn && len(norms) < 2 {
		nte := errors.NewNothingToEnsembleError(len(norms))
		if req.EnsembleExplicit {
			return nil, nte
		}
		log.Warn("ensemble skipped", zap.Error(nte))
		result.Warnings = append(result.Warnings, nte.Error())
		ensembleOn = false
	}

	// Cause selection is per algorithm: under the learn policy each
	// matrix decides its own calibratable set. The ensemble calibrates
	// only causes every member calibrates.
	sels := make([]*Selection, len(norms))
	for i, norm := range norms {
		sel, err := SelectCauses(req.Causes, norm.Algorithm, priors[norm.Algorithm], broad)
		if err != nil {
			return nil, err
		}
		sels[i] = sel
		log.Debug("selected calibratable causes",
			zap.String("algorithm", norm.Algorithm),
			zap.Int("kept", len(sel.Kept)),
			zap.Strings("dropped", sel.Dropped))
	}
	ensSel := Intersect(sels, broad)

	needSampling := ensembleOn && ensSel.Enabled
	for _, sel := range sels {
		if sel.Enabled {
			needSampling = true
		}
	}
	var engine sampler.PosteriorSampler
	if needSampling {
		var err error
		engine, err = c.registry.Get(req.Sampler.Name)
		if err != nil {
			return nil, err
		}
	}

	for i, norm := range norms {
		sel := sels[i]
		if !sel.Enabled {
			log.Warn("fewer than two calibratable causes, returning input uncalibrated",
				zap.String("algorithm", norm.Algorithm),
				zap.Strings("dropped", sel.Dropped))
			result.Algorithms = append(result.Algorithms, passThroughResult(norm.Algorithm, norm, sel))
			continue
		}
		seed := req.Sampler.Seed + uint64(i)
		res, warnings, err := c.calibrate(ctx, engine, req, sel, broad, norm, []*Normalized{norm}, priors, seed, log)
		if err != nil {
			return nil, err
		}
		result.Algorithms = append(result.Algorithms, res)
		result.Warnings = append(result.Warnings, warnings...)
	}

	if ensembleOn {
		combined, err := CombineNormalized(norms)
		if err != nil {
			return nil, err
		}
		if !ensSel.Enabled {
			log.Warn("fewer than two causes calibratable by every member, returning ensemble uncalibrated",
				zap.Strings("dropped", ensSel.Dropped))
			ens := passThroughResult(types.EnsembleName, combined, ensSel)
			result.Ensemble = &ens
		} else {
			seed := req.Sampler.Seed + uint64(len(norms))
			res, warnings, err := c.calibrate(ctx, engine, req, ensSel, broad, combined, norms, priors, seed, log)
			if err != nil {
				return nil, err
			}
			result.Ensemble = &res
			result.Warnings = append(result.Warnings, warnings...)
		}
	}

	log.Info("calibration run complete",
		zap.Int("algorithms", len(result.Algorithms)),
		zap.Int("warnings", len(result.Warnings)))
	return result, nil
}

// resolvePrior returns the algorithm's misclassification prior aligned
// to the broad causes: the caller-supplied matrix when one was given,
// the built-in default for the algorithm, age group, and region
// otherwise.
func (c *Calibrator) resolvePrior(req *types.CalibrationRequest, algorithm string, broad []string) (*matrix.Prior, error) {
	spec := req.Matrices[algorithm]
	if spec == nil {
		return c.store.Lookup(algorithm, req.AgeGroup, req.Region)
	}
	p, err := matrix.FromSpec(algorithm, spec)
	if err != nil {
		return nil, err
	}
	return matrix.AlignToBroad(p, broad, req.CauseMaps[algorithm])
}

// calibrate runs the posterior for one output series. For a single
// algorithm members holds just that algorithm; for the ensemble it holds
// every member, all constrained to explain one shared CSMF. The out
// series carries the observed counts the result is assembled against.
func (c *Calibrator) calibrate(
	ctx context.Context,
	engine sampler.PosteriorSampler,
	req *types.CalibrationRequest,
	sel *Selection,
	broad []string,
	out *Normalized,
	members []*Normalized,
	priors map[string]*matrix.Prior,
	seed uint64,
	log *zap.Logger,
) (types.AlgorithmResult, []string, error) {
	keptNames := make([]string, len(sel.Kept))
	for s, j := range sel.Kept {
		keptNames[s] = broad[j]
	}

	// Restrict every member to the calibratable block. Members whose
	// calibratable counts are all zero contribute nothing to the
	// likelihood and are left out of the lambda search.
	subPriors := make([]*matrix.Prior, len(members))
	subCounts := make([][]float64, len(members))
	var lamPriors []*matrix.Prior
	var lamCSMFs [][]float64
	for k, m := range members {
		subPriors[k] = priors[m.Algorithm].Restrict(sel.Kept)
		counts, csmf := restrictCounts(m.Counts, sel.Kept)
		subCounts[k] = counts
		if csmf != nil {
			lamPriors = append(lamPriors, subPriors[k])
			lamCSMFs = append(lamCSMFs, csmf)
		}
	}

	lambda := 0.0
	strength := shrinkWithoutPath
	if req.PathCorrection {
		strength = shrinkWithPath
		if len(lamPriors) > 0 {
			lambda = SolveLambda(lamPriors, lamCSMFs)
		}
	}

	// Dirichlet prior on the sub-simplex CSMF: flat plus a shrink
	// toward the output's observed fractions.
	_, outCSMF := restrictCounts(out.Counts, sel.Kept)
	alpha := make([]float64, len(sel.Kept))
	for s := range alpha {
		if outCSMF != nil {
			alpha[s] = 1 + strength*outCSMF[s]
		} else {
			alpha[s] = 1 + strength/float64(len(sel.Kept))
		}
	}

	series := make([]sampler.Series, len(members))
	for k, m := range members {
		series[k] = sampler.Series{
			Algorithm: m.Algorithm,
			Counts:    subCounts[k],
			Prior:     BlendedPrior(subPriors[k], lambda),
			Lambda:    lambda,
		}
	}

	log.Debug("sampling posterior",
		zap.String("series", out.Algorithm),
		zap.Int("members", len(members)),
		zap.Float64("lambda", lambda),
		zap.Float64("shrink_strength", strength))

	res, err := engine.Sample(ctx, &sampler.Request{
		Causes:     keptNames,
		Series:     series,
		Alpha:      alpha,
		Chains:     req.Sampler.Chains,
		Iterations: req.Sampler.Iterations,
		BurnIn:     req.Sampler.BurnIn,
		Seed:       seed,
	})
	if err != nil {
		return types.AlgorithmResult{}, nil, err
	}

	diag := sampler.Diagnose(res.ChainDraws)
	diag.Divergences = res.Divergences
	diag.MaxTreeDepthHits = res.MaxTreeDepthHits

	var warnings []string
	if res.Divergences > 0 || diag.MaxRHat > sampler.RHatWarnThreshold {
		w := errors.NewSamplerDivergenceWarning(out.Algorithm, res.Divergences, diag.MaxRHat)
		log.Warn("posterior convergence is suspect",
			zap.String("series", out.Algorithm),
			zap.Int("divergences", res.Divergences),
			zap.Float64("max_rhat", diag.MaxRHat))
		warnings = append(warnings, w.Error())
	}

	return assembleResult(out.Algorithm, out, sel, res.Draws, lambda, strength, broad, diag), warnings, nil
}

// restrictCounts slices a count vector down to the kept causes and
// normalizes it there. The CSMF is nil when the kept counts are all
// zero.
func restrictCounts(counts []float64, kept []int) (sub []float64, csmf []float64) {
	sub = make([]float64, len(kept))
	total := 0.0
	for s, j := range kept {
		sub[s] = counts[j]
		total += counts[j]
	}
	if total <= 0 {
		return sub, nil
	}
	csmf = make([]float64, len(kept))
	for s := range sub {
		csmf[s] = sub[s] / total
	}
	return sub, csmf
}
