package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/advisor"
	"github.com/opensource-finance/kestrel/internal/batch"
	"github.com/opensource-finance/kestrel/internal/detector"
	"github.com/opensource-finance/kestrel/internal/fusion"
)

var processCmd = &cobra.Command{
	Use:   "process NEW_FILE OUTPUT_FILE",
	Short: "Decide every row of a CSV and write the flagged rows",
	Args:  cobra.ExactArgs(2),
	RunE:  runProcess,
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	policy, err := fusion.ParsePolicy(cfg.Fusion.Policy)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	adv, err := advisor.New(cfg.Advisor)
	if err != nil {
		return err
	}
	det := detector.New(policy, adv)
	id, err := det.Reload(ctx, a.generations)
	if err != nil {
		return fmt.Errorf("load promoted generation: %w", err)
	}
	slog.Info("generation loaded", "generation_id", id, "policy", policy.String())

	sum, err := batch.ProcessFile(ctx, det, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d rows: %d flagged, %d skipped. Results written to %s\n",
		sum.Rows, sum.Flagged, sum.Skipped, args[1])
	return nil
}
