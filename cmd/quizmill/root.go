package main

import (
	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "quizmill",
	Short: "Quiz question extraction pipeline for PDF documents",
	Long: `Quizmill extracts quiz questions from PDF documents using LLM-powered
analysis, one overlapping page chunk at a time.

The pipeline includes:
  - PDF upload with page-range chunk planning
  - Per-chunk question extraction via OpenAI or Gemini
  - Validation, normalization, and duplicate merging
  - Resumable processing with per-chunk claim locks
  - Export to XLSX or CSV`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.quizmill/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "quizmill home directory (default: ~/.quizmill)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
