// Kestrel - Fraud decision fusion with feedback-driven retraining.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var rootFlags struct {
	config  string
	profile string
	dotenv  string
}

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Fraud decision fusion with feedback-driven retraining",
	Long: "Kestrel decides card transactions by fusing a classifier with per-user\n" +
		"amount profiles and city rarity, and retrains from analyst feedback.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.config, "config", "", "YAML config file (default ./kestrel.yaml if present)")
	f.StringVar(&rootFlags.profile, "profile", "", "base defaults: default or cluster (env KESTREL_PROFILE)")
	f.StringVar(&rootFlags.dotenv, "env-file", "", "dotenv file to load (default .env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(generationsCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = Version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kestrel %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
