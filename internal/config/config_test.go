package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vacalibrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, types.DefaultRegion, cfg.Region)
	assert.True(t, cfg.Ensemble)
	assert.True(t, cfg.PathCorrection)
	assert.Equal(t, types.PolicyFixed, cfg.CausePolicy)
	assert.Equal(t, types.DefaultThreshold, cfg.Threshold)
	assert.Equal(t, types.DefaultSampler, cfg.Sampler.Name)
	assert.Equal(t, types.DefaultChains, cfg.Sampler.Chains)
	assert.Equal(t, types.DefaultIterations, cfg.Sampler.Iterations)
	assert.Equal(t, types.DefaultBurnIn, cfg.Sampler.BurnIn)
	assert.Equal(t, types.DefaultSeed, cfg.Sampler.Seed)
	assert.False(t, cfg.Verbose)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
region: mozambique
ensemble: false
sampler:
  chains: 8
  seed: 99
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mozambique", cfg.Region)
	assert.False(t, cfg.Ensemble)
	assert.Equal(t, 8, cfg.Sampler.Chains)
	assert.Equal(t, uint64(99), cfg.Sampler.Seed)

	// Keys the file does not mention keep their defaults.
	assert.True(t, cfg.PathCorrection)
	assert.Equal(t, types.DefaultIterations, cfg.Sampler.Iterations)
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindConfiguration))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "sampler: [chains"))
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindConfiguration))
	})
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("VACAL_REGION", "kenya")
	t.Setenv("VACAL_ENSEMBLE", "false")
	t.Setenv("VACAL_PATH_CORRECTION", "false")
	t.Setenv("VACAL_CAUSE_POLICY", types.PolicyLearn)
	t.Setenv("VACAL_THRESHOLD", "0.25")
	t.Setenv("VACAL_SAMPLER", "gibbs")
	t.Setenv("VACAL_CHAINS", "2")
	t.Setenv("VACAL_ITERATIONS", "500")
	t.Setenv("VACAL_BURN_IN", "100")
	t.Setenv("VACAL_SEED", "12345")
	t.Setenv("VACAL_VERBOSE", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "kenya", cfg.Region)
	assert.False(t, cfg.Ensemble)
	assert.False(t, cfg.PathCorrection)
	assert.Equal(t, types.PolicyLearn, cfg.CausePolicy)
	assert.Equal(t, 0.25, cfg.Threshold)
	assert.Equal(t, 2, cfg.Sampler.Chains)
	assert.Equal(t, 500, cfg.Sampler.Iterations)
	assert.Equal(t, 100, cfg.Sampler.BurnIn)
	assert.Equal(t, uint64(12345), cfg.Sampler.Seed)
	assert.True(t, cfg.Verbose)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, "sampler:\n  chains: 8\n")
	t.Setenv("VACAL_CHAINS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Sampler.Chains)
}

func TestLoadEnvErrors(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{key: "VACAL_ENSEMBLE", value: "maybe"},
		{key: "VACAL_CHAINS", value: "many"},
		{key: "VACAL_SEED", value: "-1"},
		{key: "VACAL_THRESHOLD", value: "low"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfiguration))
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestApplyToRequest(t *testing.T) {
	cfg := Default()
	cfg.Region = "kenya"
	cfg.Ensemble = false
	cfg.PathCorrection = false
	cfg.Sampler.Chains = 8
	cfg.Sampler.Seed = 42

	t.Run("fills unset fields", func(t *testing.T) {
		req := types.CalibrationRequest{AgeGroup: types.AgeNeonate}

		cfg.ApplyToRequest(&req)

		assert.Equal(t, "kenya", req.Region)
		assert.False(t, req.Ensemble)
		assert.False(t, req.PathCorrection)
		assert.Equal(t, 8, req.Sampler.Chains)
		assert.Equal(t, uint64(42), req.Sampler.Seed)
		assert.Equal(t, types.DefaultIterations, req.Sampler.Iterations)
	})

	t.Run("explicit request values win", func(t *testing.T) {
		req := types.CalibrationRequest{
			AgeGroup:               types.AgeNeonate,
			Region:                 "global",
			Ensemble:               true,
			EnsembleExplicit:       true,
			PathCorrection:         true,
			PathCorrectionExplicit: true,
			Sampler:                types.SamplerSettings{Chains: 3, Seed: 7},
		}

		cfg.ApplyToRequest(&req)

		assert.Equal(t, "global", req.Region)
		assert.True(t, req.Ensemble)
		assert.True(t, req.PathCorrection)
		assert.Equal(t, 3, req.Sampler.Chains)
		assert.Equal(t, uint64(7), req.Sampler.Seed)
	})

	t.Run("defaulted booleans follow config", func(t *testing.T) {
		req := types.CalibrationRequest{
			AgeGroup:       types.AgeNeonate,
			Ensemble:       true,
			PathCorrection: true,
		}

		cfg.ApplyToRequest(&req)

		assert.False(t, req.Ensemble)
		assert.False(t, req.PathCorrection)
	})
}
