// Package config layers installation-wide calibration defaults from a
// YAML file and VACAL_* environment variables onto incoming requests.
// Precedence, lowest to highest: built-in defaults, config file,
// environment, then whatever the request itself sets explicitly.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

// Sampler mirrors types.SamplerSettings for the config file.
type Sampler struct {
	Name       string `yaml:"name"`
	Chains     int    `yaml:"chains"`
	Iterations int    `yaml:"iterations"`
	BurnIn     int    `yaml:"burn_in"`
	Seed       uint64 `yaml:"seed"`
}

// Config holds installation defaults for calibration runs.
type Config struct {
	Region         string  `yaml:"region"`
	Ensemble       bool    `yaml:"ensemble"`
	PathCorrection bool    `yaml:"path_correction"`
	CausePolicy    string  `yaml:"cause_policy"`
	Threshold      float64 `yaml:"threshold"`
	Sampler        Sampler `yaml:"sampler"`
	Verbose        bool    `yaml:"verbose"`
}

// Default returns the built-in configuration, identical to what
// ApplyDefaults would fill into a bare request.
func Default() Config {
	return Config{
		Region:         types.DefaultRegion,
		Ensemble:       true,
		PathCorrection: true,
		CausePolicy:    types.PolicyFixed,
		Threshold:      types.DefaultThreshold,
		Sampler: Sampler{
			Name:       types.DefaultSampler,
			Chains:     types.DefaultChains,
			Iterations: types.DefaultIterations,
			BurnIn:     types.DefaultBurnIn,
			Seed:       types.DefaultSeed,
		},
	}
}

// Load builds a Config from the built-in defaults, the YAML file at
// path (skipped when path is empty), and finally the VACAL_*
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.NewConfigurationError(fmt.Sprintf("read config file %s", path), err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.NewConfigurationError(fmt.Sprintf("parse config file %s: %v", path, err), err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyToRequest copies installation defaults onto the fields a decoded
// request left unset. Explicit request values always win; the ensemble
// and path-correction switches are replaced only when the request
// defaulted them, which the decoder records.
func (c Config) ApplyToRequest(req *types.CalibrationRequest) {
	if req.Region == "" {
		req.Region = c.Region
	}
	if !req.EnsembleExplicit {
		req.Ensemble = c.Ensemble
	}
	if !req.PathCorrectionExplicit {
		req.PathCorrection = c.PathCorrection
	}
	if req.Causes.Policy == "" {
		req.Causes.Policy = c.CausePolicy
	}
	if req.Causes.Threshold == 0 {
		req.Causes.Threshold = c.Threshold
	}
	if req.Sampler.Name == "" {
		req.Sampler.Name = c.Sampler.Name
	}
	if req.Sampler.Chains == 0 {
		req.Sampler.Chains = c.Sampler.Chains
	}
	if req.Sampler.Iterations == 0 {
		req.Sampler.Iterations = c.Sampler.Iterations
	}
	if req.Sampler.BurnIn == 0 {
		req.Sampler.BurnIn = c.Sampler.BurnIn
	}
	if req.Sampler.Seed == 0 {
		req.Sampler.Seed = c.Sampler.Seed
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VACAL_REGION"); v != "" {
		c.Region = v
	}
	if v := os.Getenv("VACAL_CAUSE_POLICY"); v != "" {
		c.CausePolicy = v
	}
	if v := os.Getenv("VACAL_SAMPLER"); v != "" {
		c.Sampler.Name = v
	}
	var err error
	if c.Ensemble, err = envBool("VACAL_ENSEMBLE", c.Ensemble); err != nil {
		return err
	}
	if c.PathCorrection, err = envBool("VACAL_PATH_CORRECTION", c.PathCorrection); err != nil {
		return err
	}
	if c.Verbose, err = envBool("VACAL_VERBOSE", c.Verbose); err != nil {
		return err
	}
	if c.Threshold, err = envFloat("VACAL_THRESHOLD", c.Threshold); err != nil {
		return err
	}
	if c.Sampler.Chains, err = envInt("VACAL_CHAINS", c.Sampler.Chains); err != nil {
		return err
	}
	if c.Sampler.Iterations, err = envInt("VACAL_ITERATIONS", c.Sampler.Iterations); err != nil {
		return err
	}
	if c.Sampler.BurnIn, err = envInt("VACAL_BURN_IN", c.Sampler.BurnIn); err != nil {
		return err
	}
	if c.Sampler.Seed, err = envUint("VACAL_SEED", c.Sampler.Seed); err != nil {
		return err
	}
	return nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback, errors.NewConfigurationError(fmt.Sprintf("%s: %q is not a boolean", key, v), err)
	}
	return b, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, errors.NewConfigurationError(fmt.Sprintf("%s: %q is not an integer", key, v), err)
	}
	return n, nil
}

func envUint(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback, errors.NewConfigurationError(fmt.Sprintf("%s: %q is not an unsigned integer", key, v), err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, errors.NewConfigurationError(fmt.Sprintf("%s: %q is not a number", key, v), err)
	}
	return f, nil
}
