package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var generationsCmd = &cobra.Command{
	Use:     "generations",
	Aliases: []string{"gen"},
	Short:   "List, promote and roll back artifact generations",
}

var generationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		gens, err := a.generations.List(cmd.Context())
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSOURCE\tCREATED\tROWS\tACCURACY\tROC_AUC\tPROMOTED")
		for _, g := range gens {
			promoted := ""
			if g.Promoted {
				promoted = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.4f\t%.4f\t%s\n",
				g.ID, g.Source, g.CreatedAt.Format("2006-01-02 15:04:05"), g.Rows, g.Metrics.Accuracy, g.Metrics.ROCAUC, promoted)
		}
		return tw.Flush()
	},
}

var generationsPromoteCmd = &cobra.Command{
	Use:   "promote ID",
	Short: "Promote a generation; serving processes pick it up on reload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.generations.Promote(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Promoted %s\n", info.ID)
		return nil
	},
}

var generationsRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Re-promote the previously promoted generation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openFromFlags(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.generations.Rollback(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to %s\n", info.ID)
		return nil
	},
}

func init() {
	generationsCmd.AddCommand(generationsListCmd)
	generationsCmd.AddCommand(generationsPromoteCmd)
	generationsCmd.AddCommand(generationsRollbackCmd)
}

func openFromFlags(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg)
}
