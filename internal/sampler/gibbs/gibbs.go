// Package gibbs implements the built-in posterior sampler. The
// path-corrected likelihood is augmented with latent true-cause counts
// split between an identity channel (weight lambda) and a confusion
// channel through the misclassification matrix (weight 1-lambda), which
// keeps every conditional conjugate: matrix rows and the CSMF are both
// Dirichlet given the latent counts, so no rejection steps are needed.
package gibbs

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/sampler"
)

// Name is the registry name of this engine.
const Name = "gibbs"

// Engine is the built-in Gibbs sampler.
type Engine struct {
	logger   *zap.Logger
	progress func(done, total int)
}

var _ sampler.PosteriorSampler = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithProgress installs a callback invoked from the lead chain after
// every iteration.
func WithProgress(fn func(done, total int)) Option {
	return func(e *Engine) { e.progress = fn }
}

// New returns an Engine. A nil logger is replaced with a no-op one.
func New(logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Name implements sampler.PosteriorSampler.
func (e *Engine) Name() string { return Name }

// precomp holds the per-request quantities shared by all chains.
type precomp struct {
	n      int
	counts [][]int // [series][cause], rounded observed deaths
	pooled []float64
	shape  [][]float64 // [series] flattened n*n prior concentrations
	mean   [][]float64 // [series] flattened n*n row-normalized rates
	fixed  []bool
}

func prepare(req *sampler.Request) (*precomp, error) {
	n := len(req.Causes)
	pre := &precomp{
		n:      n,
		counts: make([][]int, len(req.Series)),
		pooled: make([]float64, n),
		shape:  make([][]float64, len(req.Series)),
		mean:   make([][]float64, len(req.Series)),
		fixed:  make([]bool, len(req.Series)),
	}
	for k, s := range req.Series {
		counts := make([]int, n)
		for j, v := range s.Counts {
			if v < 0 || math.IsNaN(v) {
				return nil, errors.NewSamplerError(
					fmt.Sprintf("series %q has invalid count %v for cause %q", s.Algorithm, v, req.Causes[j]), nil)
			}
			counts[j] = int(math.Round(v))
		}
		pre.counts[k] = counts
		for j, c := range counts {
			pre.pooled[j] += float64(c)
		}

		shape := make([]float64, n*n)
		mean := make([]float64, n*n)
		for i := 0; i < n; i++ {
			row := s.Prior.Shape.RawRowView(i)
			sum := floats.Sum(row)
			for j := 0; j < n; j++ {
				shape[i*n+j] = row[j]
				mean[i*n+j] = row[j] / sum
			}
		}
		pre.shape[k] = shape
		pre.mean[k] = mean
		pre.fixed[k] = s.Prior.Fixed
	}
	return pre, nil
}

// Sample implements sampler.PosteriorSampler. Chains run in parallel
// with seeds derived from the request seed, so a fixed seed reproduces
// the same draws regardless of scheduling.
func (e *Engine) Sample(ctx context.Context, req *sampler.Request) (*sampler.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pre, err := prepare(req)
	if err != nil {
		return nil, err
	}

	master := rand.New(rand.NewSource(req.Seed))
	seeds := make([]uint64, req.Chains)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	e.logger.Debug("starting gibbs sampler",
		zap.Int("chains", req.Chains),
		zap.Int("iterations", req.Iterations),
		zap.Int("burn_in", req.BurnIn),
		zap.Int("causes", pre.n),
		zap.Int("series", len(req.Series)),
		zap.Uint64("seed", req.Seed))

	chainDraws := make([][][]float64, req.Chains)
	divergences := make([]int, req.Chains)

	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < req.Chains; c++ {
		c := c
		g.Go(func() error {
			draws, div, err := e.runChain(gctx, req, pre, seeds[c], c == 0)
			if err != nil {
				return err
			}
			chainDraws[c] = draws
			divergences[c] = div
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if gctx.Err() != nil && ctx.Err() != nil {
			return nil, errors.NewSamplerError("sampling cancelled", ctx.Err())
		}
		return nil, errors.ToCalibrationError(err)
	}

	totalDiv := 0
	pooled := make([][]float64, 0, req.Chains*req.Kept())
	for c := range chainDraws {
		pooled = append(pooled, chainDraws[c]...)
		totalDiv += divergences[c]
	}
	if totalDiv > 0 {
		e.logger.Warn("gibbs sampler repaired degenerate draws", zap.Int("count", totalDiv))
	}

	return &sampler.Result{
		Draws:       pooled,
		ChainDraws:  chainDraws,
		Divergences: totalDiv,
	}, nil
}

func (e *Engine) runChain(ctx context.Context, req *sampler.Request, pre *precomp, seed uint64, lead bool) ([][]float64, int, error) {
	src := rand.NewSource(seed)
	n := pre.n
	nSeries := len(req.Series)

	// Overdispersed start: draw the CSMF from its prior updated with the
	// pooled observed counts, one extra pseudo-death per cause.
	initAlpha := make([]float64, n)
	for j := range initAlpha {
		initAlpha[j] = req.Alpha[j] + pre.pooled[j] + 1
	}
	p := distmv.NewDirichlet(initAlpha, src).Rand(nil)

	// Current misclassification rates per series, flattened row-major.
	mats := make([][]float64, nSeries)
	for k := range mats {
		mats[k] = append([]float64(nil), pre.mean[k]...)
	}

	draws := make([][]float64, 0, req.Kept())
	divergences := 0

	weights := make([]float64, n+1)
	trueCounts := make([]float64, n)
	confCounts := make([][]float64, nSeries)
	for k := range confCounts {
		confCounts[k] = make([]float64, n*n)
	}
	alphaRow := make([]float64, n)
	rowDraw := make([]float64, n)
	alphaP := make([]float64, n)

	for iter := 0; iter < req.Iterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}

		for j := range trueCounts {
			trueCounts[j] = 0
		}
		for k := range confCounts {
			for idx := range confCounts[k] {
				confCounts[k][idx] = 0
			}
		}

		// Split each observed count over latent (true cause, channel)
		// outcomes: weights[0..n-1] are confusion outcomes by true
		// cause, weights[n] is the identity channel.
		for k, s := range req.Series {
			m := mats[k]
			lambda := s.Lambda
			for j := 0; j < n; j++ {
				nj := pre.counts[k][j]
				if nj == 0 {
					continue
				}
				sum := 0.0
				for i := 0; i < n; i++ {
					weights[i] = (1 - lambda) * p[i] * m[i*n+j]
					sum += weights[i]
				}
				weights[n] = lambda * p[j]
				sum += weights[n]
				if sum <= 0 || math.IsNaN(sum) {
					// Nothing can explain this column; pin the deaths to
					// their assigned cause and flag the iteration.
					divergences++
					trueCounts[j] += float64(nj)
					continue
				}

				rem := nj
				left := 1.0
				for i := 0; i <= n && rem > 0; i++ {
					wi := weights[i] / sum
					var z int
					switch {
					case i == n || left <= wi:
						z = rem
					default:
						prob := wi / left
						if prob > 1 {
							prob = 1
						}
						z = int(distuv.Binomial{N: float64(rem), P: prob, Src: src}.Rand())
						if z > rem {
							z = rem
						}
					}
					if z > 0 {
						if i == n {
							trueCounts[j] += float64(z)
						} else {
							trueCounts[i] += float64(z)
							confCounts[k][i*n+j] += float64(z)
						}
					}
					rem -= z
					left -= wi
				}
				if rem > 0 {
					trueCounts[j] += float64(rem)
				}
			}
		}

		// Matrix rows: conjugate Dirichlet update from the confusion
		// counts. Fixed priors carry no uncertainty and never move.
		for k := range req.Series {
			if pre.fixed[k] {
				continue
			}
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					alphaRow[j] = pre.shape[k][i*n+j] + confCounts[k][i*n+j]
				}
				divergences += dirichletDraw(rowDraw, alphaRow, src)
				copy(mats[k][i*n:(i+1)*n], rowDraw)
			}
		}

		// CSMF: Dirichlet update from the latent true-cause counts.
		for j := 0; j < n; j++ {
			alphaP[j] = req.Alpha[j] + trueCounts[j]
		}
		divergences += dirichletDraw(p, alphaP, src)

		if iter >= req.BurnIn {
			draws = append(draws, append([]float64(nil), p...))
		}
		if lead && e.progress != nil {
			e.progress(iter+1, req.Iterations)
		}
	}
	return draws, divergences, nil
}

// dirichletDraw samples dst ~ Dirichlet(alpha) by gamma draws.
// Coordinates with zero concentration stay exactly zero. Returns 1 when
// the draw had to be repaired, 0 otherwise.
func dirichletDraw(dst, alpha []float64, src rand.Source) int {
	sum := 0.0
	for j, a := range alpha {
		if a <= 0 {
			dst[j] = 0
			continue
		}
		g := distuv.Gamma{Alpha: a, Beta: 1, Src: src}.Rand()
		dst[j] = g
		sum += g
	}
	if sum <= 0 || math.IsNaN(sum) {
		// All gamma draws underflowed; fall back to the normalized
		// concentrations.
		total := floats.Sum(alpha)
		if total <= 0 {
			return 1
		}
		for j, a := range alpha {
			dst[j] = a / total
		}
		return 1
	}
	floats.Scale(1/sum, dst)
	return 0
}
