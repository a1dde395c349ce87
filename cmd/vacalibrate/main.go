package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openvatools/vacalibrate/internal/config"
	"github.com/openvatools/vacalibrate/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Set by PersistentPreRunE before any subcommand runs.
	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vacalibrate",
	Short: "Calibrate verbal-autopsy cause-of-death fractions",
	Long: `vacalibrate corrects the cause-specific mortality fractions produced by
computer-coded verbal autopsy algorithms (EAVA, InSilicoVA, InterVA) for
their known misclassification rates, estimated against gold-standard
cause assignments. A Bayesian sampler is run over the latent true-cause
distribution; results carry posterior means with 95% credible intervals
per algorithm and for the ensemble of all inputs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = logging.New(verbose || cfg.Verbose)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file with installation defaults")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(causesCmd)
	rootCmd.AddCommand(matrixCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "vacalibrate:", err)
		os.Exit(1)
	}
}
