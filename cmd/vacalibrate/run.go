package main

import (
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/openvatools/vacalibrate/internal/calibration"
	"github.com/openvatools/vacalibrate/internal/encoding"
	"github.com/openvatools/vacalibrate/internal/matrix"
	"github.com/openvatools/vacalibrate/internal/sampler"
	"github.com/openvatools/vacalibrate/internal/sampler/gibbs"
	"github.com/openvatools/vacalibrate/internal/types"
)

var (
	runInput    string
	runOutput   string
	runCSV      bool
	runProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Calibrate a request file and write the results",
	Long: `Reads a calibration request (JSON), layers installation config onto
its unset fields, runs the calibration pipeline, and writes the results
as JSON (default) or CSV. Command-line sampler flags override both the
request and the config.`,
	RunE: runCalibration,
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "calibration request JSON (required)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "output file (default stdout)")
	runCmd.Flags().BoolVar(&runCSV, "csv", false, "write CSV instead of JSON")
	runCmd.Flags().BoolVar(&runProgress, "progress", true, "show a sampling progress bar")
	_ = runCmd.MarkFlagRequired("input")

	runCmd.Flags().String("region", "", "region whose default matrices to use")
	runCmd.Flags().Int("chains", 0, "number of MCMC chains")
	runCmd.Flags().Int("iterations", 0, "iterations per chain")
	runCmd.Flags().Int("burn-in", 0, "burn-in iterations per chain")
	runCmd.Flags().Uint64("seed", 0, "master RNG seed")
	runCmd.Flags().String("sampler", "", "posterior sampler engine")
}

func runCalibration(cmd *cobra.Command, args []string) error {
	f, err := os.Open(runInput)
	if err != nil {
		return err
	}
	req, err := encoding.ReadRequest(f)
	f.Close()
	if err != nil {
		return err
	}

	cfg.ApplyToRequest(req)
	applyRunFlags(cmd, req)

	var opts []gibbs.Option
	if runProgress {
		opts = append(opts, gibbs.WithProgress(progressFunc()))
	}
	registry := sampler.NewRegistry()
	if err := registry.Register(gibbs.New(logger, opts...)); err != nil {
		return err
	}

	cal := calibration.NewCalibrator(matrix.NewDefaultStore(), registry, logger)
	res, err := cal.Run(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := os.Stdout
	if runOutput != "" {
		out, err = os.Create(runOutput)
		if err != nil {
			return err
		}
		defer out.Close()
	}
	if runCSV {
		return encoding.WriteCSV(out, res)
	}
	return encoding.WriteJSON(out, res)
}

// applyRunFlags copies sampler flags the user actually passed onto the
// request; flags outrank both the request and the config.
func applyRunFlags(cmd *cobra.Command, req *types.CalibrationRequest) {
	fl := cmd.Flags()
	if fl.Changed("region") {
		req.Region, _ = fl.GetString("region")
	}
	if fl.Changed("chains") {
		req.Sampler.Chains, _ = fl.GetInt("chains")
	}
	if fl.Changed("iterations") {
		req.Sampler.Iterations, _ = fl.GetInt("iterations")
	}
	if fl.Changed("burn-in") {
		req.Sampler.BurnIn, _ = fl.GetInt("burn-in")
	}
	if fl.Changed("seed") {
		req.Sampler.Seed, _ = fl.GetUint64("seed")
	}
	if fl.Changed("sampler") {
		req.Sampler.Name, _ = fl.GetString("sampler")
	}
}

// progressFunc adapts the engine's per-iteration callback to a terminal
// bar. Each sampling run restarts the count at one, which starts a
// fresh bar; the bar writes to stderr so piped results stay clean.
func progressFunc() func(done, total int) {
	var bar *progressbar.ProgressBar
	return func(done, total int) {
		if done == 1 {
			bar = progressbar.Default(int64(total), "sampling")
		}
		if bar != nil {
			_ = bar.Set(done)
		}
	}
}
