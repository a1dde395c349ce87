package calibration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openvatools/vacalibrate/internal/causes"
	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/matrix"
	"github.com/openvatools/vacalibrate/internal/sampler"
	"github.com/openvatools/vacalibrate/internal/types"
)

// mockEngine records every request and answers with canned draws, so
// pipeline tests can assert the orchestration without real sampling.
type mockEngine struct {
	calls []*sampler.Request
	fn    func(req *sampler.Request) (*sampler.Result, error)
}

func (m *mockEngine) Name() string { return "mock" }

func (m *mockEngine) Sample(_ context.Context, req *sampler.Request) (*sampler.Result, error) {
	m.calls = append(m.calls, req)
	if m.fn != nil {
		return m.fn(req)
	}
	return constantResult(req), nil
}

// constantResult pins every draw to the first series' normalized counts,
// which makes the calibrated mean reproduce that series' CSMF exactly.
func constantResult(req *sampler.Request) *sampler.Result {
	n := len(req.Causes)
	point := make([]float64, n)
	total := 0.0
	for _, c := range req.Series[0].Counts {
		total += c
	}
	if total > 0 {
		for j, c := range req.Series[0].Counts {
			point[j] = c / total
		}
	} else {
		for j := range point {
			point[j] = 1 / float64(n)
		}
	}

	res := &sampler.Result{ChainDraws: make([][][]float64, req.Chains)}
	for c := range res.ChainDraws {
		res.ChainDraws[c] = make([][]float64, req.Kept())
		for i := range res.ChainDraws[c] {
			draw := append([]float64(nil), point...)
			res.ChainDraws[c][i] = draw
			res.Draws = append(res.Draws, draw)
		}
	}
	return res
}

func newTestCalibrator(t *testing.T, m *mockEngine) *Calibrator {
	t.Helper()
	reg := sampler.NewRegistry()
	require.NoError(t, reg.Register(m))
	return NewCalibrator(matrix.NewDefaultStore(), reg, zap.NewNop())
}

func baseRequest() *types.CalibrationRequest {
	return &types.CalibrationRequest{
		AgeGroup: types.AgeNeonate,
		Inputs: []types.AlgorithmInput{
			{Algorithm: "eava", Input: types.DeathCounts{Counts: []float64{5, 10, 15, 20, 25, 25}}},
			{Algorithm: "insilicova", Input: types.DeathCounts{Counts: []float64{10, 10, 20, 20, 20, 20}}},
		},
		Ensemble: true,
		Causes:   types.CausePolicy{Policy: types.PolicyFixed},
		Sampler: types.SamplerSettings{
			Name:       "mock",
			Chains:     2,
			Iterations: 10,
			BurnIn:     5,
			Seed:       7,
		},
	}
}

func TestCalibrator_Run_EndToEnd(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	res, err := c.Run(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, types.AgeNeonate, res.AgeGroup)
	assert.Equal(t, causes.Broad(types.AgeNeonate), res.Causes)
	require.Len(t, res.Algorithms, 2)
	require.NotNil(t, res.Ensemble)
	assert.Empty(t, res.Warnings)

	// One sampler call per algorithm plus one joint ensemble call, each
	// with its own derived seed.
	require.Len(t, m.calls, 3)
	assert.Equal(t, uint64(7), m.calls[0].Seed)
	assert.Equal(t, uint64(8), m.calls[1].Seed)
	assert.Equal(t, uint64(9), m.calls[2].Seed)

	require.Len(t, m.calls[0].Series, 1)
	assert.Equal(t, "eava", m.calls[0].Series[0].Algorithm)
	assert.Equal(t, []float64{5, 10, 15, 20, 25, 25}, m.calls[0].Series[0].Counts)

	// The ensemble call carries every member series jointly, each with
	// its own counts.
	require.Len(t, m.calls[2].Series, 2)
	assert.Equal(t, "eava", m.calls[2].Series[0].Algorithm)
	assert.Equal(t, "insilicova", m.calls[2].Series[1].Algorithm)
	assert.Equal(t, []float64{10, 10, 20, 20, 20, 20}, m.calls[2].Series[1].Counts)

	// Without path correction the prior shrinks toward the observed
	// fractions.
	assert.InDelta(t, 1.2, m.calls[0].Alpha[0], 1e-12)

	for _, alg := range res.Algorithms {
		assert.True(t, alg.Calibrated)
		assert.Equal(t, 0.0, alg.Lambda)
		assert.Equal(t, 4.0, alg.ShrinkStrength)
		require.NotNil(t, alg.Diagnostics)
		assert.InDelta(t, 1.0, alg.Diagnostics.MaxRHat, 1e-9)
		for j := range alg.Mean {
			assert.InDelta(t, alg.Uncalibrated[j], alg.Mean[j], 1e-9)
		}
		assert.Equal(t, alg.ObservedCounts, alg.DeathCounts)
	}

	assert.Equal(t, types.EnsembleName, res.Ensemble.Algorithm)
	assert.Equal(t, []int{15, 20, 35, 40, 45, 45}, res.Ensemble.ObservedCounts)
	totalCalibrated := 0
	for _, v := range res.Ensemble.DeathCounts {
		totalCalibrated += v
	}
	assert.Equal(t, 200, totalCalibrated)
}

func TestCalibrator_Run_PassThroughSkipsSampler(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	req := baseRequest()
	req.Causes.Calibrated = []string{"pneumonia"}

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, m.calls, "a disabled run must never invoke the sampler")
	require.Len(t, res.Algorithms, 2)
	for _, alg := range res.Algorithms {
		assert.False(t, alg.Calibrated)
		assert.Equal(t, alg.Uncalibrated, alg.Mean)
	}
	require.NotNil(t, res.Ensemble)
	assert.False(t, res.Ensemble.Calibrated)
	assert.Equal(t, []int{15, 20, 35, 40, 45, 45}, res.Ensemble.ObservedCounts)
}

func TestCalibrator_Run_EnsembleNeedsTwoAlgorithms(t *testing.T) {
	t.Run("explicit request fails", func(t *testing.T) {
		m := &mockEngine{}
		c := newTestCalibrator(t, m)

		req := baseRequest()
		req.Inputs = req.Inputs[:1]
		req.EnsembleExplicit = true

		_, err := c.Run(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindNothingToEnsemble))
		assert.Empty(t, m.calls)
	})

	t.Run("defaulted request degrades to a warning", func(t *testing.T) {
		m := &mockEngine{}
		c := newTestCalibrator(t, m)

		req := baseRequest()
		req.Inputs = req.Inputs[:1]

		res, err := c.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, res.Ensemble)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "NOTHING_TO_ENSEMBLE")
		assert.Len(t, m.calls, 1)
	})
}

func TestCalibrator_Run_SamplerFailure(t *testing.T) {
	m := &mockEngine{
		fn: func(*sampler.Request) (*sampler.Result, error) {
			return nil, errors.NewSamplerError("chain exploded", nil)
		},
	}
	c := newTestCalibrator(t, m)

	_, err := c.Run(context.Background(), baseRequest())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindSampler))
}

func TestCalibrator_Run_ConvergenceWarning(t *testing.T) {
	m := &mockEngine{
		fn: func(req *sampler.Request) (*sampler.Result, error) {
			res := constantResult(req)
			res.Divergences = 3
			return res, nil
		},
	}
	c := newTestCalibrator(t, m)

	req := baseRequest()
	req.Inputs = req.Inputs[:1]
	req.Ensemble = false

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "divergent")
	require.NotNil(t, res.Algorithms[0].Diagnostics)
	assert.Equal(t, 3, res.Algorithms[0].Diagnostics.Divergences)
}

func TestCalibrator_Run_CustomMatrixOverridesDefault(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	broad := causes.Broad(types.AgeNeonate)
	req := baseRequest()
	req.Matrices = map[string]*types.MatrixSpec{
		"eava": {Fixed: &types.CauseMatrix{Causes: broad, Rows: identityRows(len(broad))}},
	}

	_, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, m.calls)
	mean := m.calls[0].Series[0].Prior.Mean()
	for i := range broad {
		assert.InDelta(t, 1.0, mean.At(i, i), 1e-12)
	}
}

func TestCalibrator_Run_UnknownAlgorithmWithoutMatrix(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	req := baseRequest()
	req.Inputs = []types.AlgorithmInput{
		{Algorithm: "homebrew", Input: types.DeathCounts{Counts: []float64{1, 2, 3, 4, 5, 6}}},
	}
	req.Ensemble = false

	_, err := c.Run(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestCalibrator_Run_InvalidRequest(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	tests := []struct {
		name   string
		mutate func(*types.CalibrationRequest)
	}{
		{
			name:   "unknown age group",
			mutate: func(r *types.CalibrationRequest) { r.AgeGroup = "adult" },
		},
		{
			name:   "no inputs",
			mutate: func(r *types.CalibrationRequest) { r.Inputs = nil },
		},
		{
			name:   "burn-in at iterations",
			mutate: func(r *types.CalibrationRequest) { r.Sampler.BurnIn = r.Sampler.Iterations },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(req)
			_, err := c.Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfiguration), "got %v", err)
			assert.Empty(t, m.calls)
		})
	}
}

func TestCalibrator_Run_BadCountsNeverSample(t *testing.T) {
	tests := []struct {
		name   string
		counts []float64
	}{
		{name: "fractional count", counts: []float64{5.5, 10, 15, 20, 25, 25}},
		{name: "negative count", counts: []float64{-1, 10, 15, 20, 25, 25}},
		{name: "wrong length", counts: []float64{5, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockEngine{}
			c := newTestCalibrator(t, m)

			req := baseRequest()
			req.Inputs[0].Input = types.DeathCounts{Counts: tt.counts}

			_, err := c.Run(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindFormat), "got %v", err)
			assert.Empty(t, m.calls, "input validation must finish before any sampling")
		})
	}
}

func TestCalibrator_Run_LearnPolicyKeepsInformativeCauses(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	req := baseRequest()
	req.Causes = types.CausePolicy{Policy: types.PolicyLearn, Threshold: 1e-9}

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	// The built-in matrices are diagonally dominant, so every cause
	// carries signal at a tiny threshold.
	for _, alg := range res.Algorithms {
		assert.True(t, alg.Calibrated)
		assert.Empty(t, alg.NonCalibrated)
	}
}

func TestCalibrator_Run_LearnPolicyMixedSignal(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	broad := causes.Broad(types.AgeNeonate)
	req := baseRequest()
	req.Causes = types.CausePolicy{Policy: types.PolicyLearn, Threshold: 0.1}
	req.Matrices = map[string]*types.MatrixSpec{
		// eava's matrix carries no signal at all, insilicova's is exact.
		"eava":       {Fixed: &types.CauseMatrix{Causes: broad, Rows: uniformRows(len(broad))}},
		"insilicova": {Fixed: &types.CauseMatrix{Causes: broad, Rows: identityRows(len(broad))}},
	}

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, m.calls, 1, "only the informative algorithm samples")
	assert.Equal(t, uint64(8), m.calls[0].Seed, "the seed still derives from the input position")

	require.Len(t, res.Algorithms, 2)
	eava, insilico := res.Algorithms[0], res.Algorithms[1]
	assert.False(t, eava.Calibrated)
	assert.Equal(t, broad, eava.NonCalibrated)
	assert.Equal(t, eava.Uncalibrated, eava.Mean)
	assert.True(t, insilico.Calibrated)
	assert.Empty(t, insilico.NonCalibrated)

	// The ensemble calibrates only causes every member calibrates, which
	// here is none.
	require.NotNil(t, res.Ensemble)
	assert.False(t, res.Ensemble.Calibrated)
	assert.Equal(t, res.Ensemble.Uncalibrated, res.Ensemble.Mean)
}

func TestCalibrator_Run_PathCorrection(t *testing.T) {
	m := &mockEngine{}
	c := newTestCalibrator(t, m)

	req := baseRequest()
	req.PathCorrection = true

	res, err := c.Run(context.Background(), req)
	require.NoError(t, err)

	// With the path correction active the CSMF prior stays flat.
	for _, a := range m.calls[0].Alpha {
		assert.Equal(t, 1.0, a)
	}
	for _, alg := range res.Algorithms {
		assert.Equal(t, 0.0, alg.ShrinkStrength)
		assert.GreaterOrEqual(t, alg.Lambda, 0.0)
		assert.LessOrEqual(t, alg.Lambda, 0.99)
	}

	// Every series in one joint call shares the ensemble lambda.
	ens := m.calls[2]
	require.Len(t, ens.Series, 2)
	assert.Equal(t, ens.Series[0].Lambda, ens.Series[1].Lambda)
}
