package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/openvatools/vacalibrate/internal/encoding"
	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/matrix"
	"github.com/openvatools/vacalibrate/internal/types"
)

var (
	matrixAlgorithm string
	matrixAge       string
	matrixRegion    string
	matrixFitInput  string
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Inspect and fit misclassification matrices",
}

var matrixShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a built-in default prior",
	RunE: func(cmd *cobra.Command, args []string) error {
		age := types.AgeGroup(matrixAge)
		if !age.Valid() {
			return errors.NewConfigurationError(
				fmt.Sprintf("unknown age group %q (want %q or %q)", matrixAge, types.AgeNeonate, types.AgeChild), nil)
		}
		prior, err := matrix.NewDefaultStore().Lookup(matrixAlgorithm, age, matrixRegion)
		if err != nil {
			return err
		}
		printPrior(cmd.OutOrStdout(), prior)
		return nil
	},
}

var matrixFitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a Dirichlet prior to posterior matrix draws",
	Long: `Condenses an array of posterior misclassification-matrix draws into a
single Dirichlet shape matrix by row-wise maximum-likelihood fitting and
prints the result.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(matrixFitInput)
		if err != nil {
			return err
		}
		samples, err := encoding.ReadMatrixSamples(f)
		f.Close()
		if err != nil {
			return err
		}
		prior, err := matrix.FitFromSamples(matrixAlgorithm, samples)
		if err != nil {
			return err
		}
		printPrior(cmd.OutOrStdout(), prior)
		return nil
	},
}

func init() {
	matrixShowCmd.Flags().StringVar(&matrixAlgorithm, "algorithm", "", "algorithm name (required)")
	matrixShowCmd.Flags().StringVar(&matrixAge, "age-group", "", "age group: neonate or child (required)")
	matrixShowCmd.Flags().StringVar(&matrixRegion, "region", matrix.RegionGlobal, "region of the default table")
	_ = matrixShowCmd.MarkFlagRequired("algorithm")
	_ = matrixShowCmd.MarkFlagRequired("age-group")

	matrixFitCmd.Flags().StringVarP(&matrixFitInput, "input", "i", "", "matrix samples JSON (required)")
	matrixFitCmd.Flags().StringVar(&matrixAlgorithm, "algorithm", "custom", "algorithm name recorded on the fit")
	_ = matrixFitCmd.MarkFlagRequired("input")

	matrixCmd.AddCommand(matrixShowCmd)
	matrixCmd.AddCommand(matrixFitCmd)
}

func printPrior(w io.Writer, p *matrix.Prior) {
	form := "dirichlet"
	if p.Fixed {
		form = "fixed"
	}
	fmt.Fprintf(w, "%s  (%d causes, %s form)\n", p.Algorithm, p.Dim(), form)

	fmt.Fprintln(w, "\nshape:")
	printMatrix(w, p.Causes, p.Shape)
	fmt.Fprintln(w, "\nmean (row-normalized):")
	printMatrix(w, p.Causes, p.Mean())

	fmt.Fprintln(w, "\nrow strengths:")
	for i, s := range p.Strengths() {
		fmt.Fprintf(w, "  %-28s %.4f\n", p.Causes[i], s)
	}
}

func printMatrix(w io.Writer, labels []string, m *mat.Dense) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprint(tw, "\t")
	for _, l := range labels {
		fmt.Fprintf(tw, "%s\t", l)
	}
	fmt.Fprintln(tw)
	for i, l := range labels {
		fmt.Fprintf(tw, "%s\t", l)
		for j := range labels {
			fmt.Fprintf(tw, "%.4f\t", m.At(i, j))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}
