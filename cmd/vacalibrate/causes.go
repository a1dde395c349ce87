package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openvatools/vacalibrate/internal/causes"
	"github.com/openvatools/vacalibrate/internal/errors"
	"github.com/openvatools/vacalibrate/internal/types"
)

var causesAge string

var causesCmd = &cobra.Command{
	Use:   "causes",
	Short: "Print the broad-cause set and algorithm taxonomies for an age group",
	RunE: func(cmd *cobra.Command, args []string) error {
		age := types.AgeGroup(causesAge)
		if !age.Valid() {
			return errors.NewConfigurationError(
				fmt.Sprintf("unknown age group %q (want %q or %q)", causesAge, types.AgeNeonate, types.AgeChild), nil)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "broad causes (%s):\n", age)
		for i, c := range causes.Broad(age) {
			fmt.Fprintf(out, "%3d  %s\n", i+1, c)
		}

		for _, algo := range causes.Algorithms() {
			tax, ok := causes.TaxonomyFor(algo, age)
			if !ok {
				continue
			}
			fmt.Fprintf(out, "\n%s specific causes:\n", algo)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range tax.Entries() {
				fmt.Fprintf(tw, "  %s\t%s\n", e[0], e[1])
			}
			tw.Flush()
		}
		return nil
	},
}

func init() {
	causesCmd.Flags().StringVar(&causesAge, "age-group", "", "age group: neonate or child (required)")
	_ = causesCmd.MarkFlagRequired("age-group")
}
