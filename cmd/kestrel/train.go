package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit a generation from the historical corpus",
	Long: "Fit a generation from the historical corpus alone. The generation is\n" +
		"promoted only when no generation has been promoted yet.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runTraining(cmd, (*training.Pipeline).Train)
	},
}

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Fit a new generation from the corpus plus feedback logs",
	Long: "Concatenate the historical corpus with both feedback logs, resample with\n" +
		"mitigation successes weighted double, and publish an unpromoted generation.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runTraining(cmd, (*training.Pipeline).Retrain)
	},
}

func runTraining(cmd *cobra.Command, run func(*training.Pipeline, context.Context) (*training.Result, error)) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := run(a.pipeline(), ctx)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func printResult(out io.Writer, res *training.Result) {
	g := res.Generation
	fmt.Fprintf(out, "Generation:  %s (%s)\n", g.ID, g.Source)
	fmt.Fprintf(out, "Path:        %s\n", g.Path)
	fmt.Fprintf(out, "Rows:        historical=%d feedback=%d mitigation=%d dropped=%d trained=%d\n",
		res.Rows.Historical, res.Rows.Feedback, res.Rows.Mitigation, res.Rows.Dropped, res.Rows.Resampled)
	fmt.Fprintf(out, "Hold-out:    accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f roc_auc=%.4f (n=%d)\n",
		g.Metrics.Accuracy, g.Metrics.Precision, g.Metrics.Recall, g.Metrics.F1, g.Metrics.ROCAUC, g.Metrics.Support)
	fmt.Fprintf(out, "Duration:    %s\n", res.Duration.Round(time.Millisecond))
	if res.Promoted {
		fmt.Fprintf(out, "Promoted:    yes\n")
		return
	}
	fmt.Fprintf(out, "Promoted:    no (run 'kestrel generations promote %s')\n", g.ID)
}
