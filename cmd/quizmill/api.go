package main

import (
	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/config"
	"github.com/quizmill/quizmill/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Quizmill server via HTTP.

These commands require a running server (quizmill serve).
Use --server to specify a custom server URL.

Examples:
  quizmill api health                  # Check server health
  quizmill api jobs upload exam.pdf    # Upload a PDF for extraction
  quizmill api jobs list               # List all jobs
  quizmill api jobs export <id>        # Download extracted questions`,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Job management commands",
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Runtime settings commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
// The --server flag wins, then the client config.
func getServerURL() string {
	if serverURL != "" {
		return serverURL
	}
	if cfg := clientConfig(); cfg.Client.ServerURL != "" {
		return cfg.Client.ServerURL
	}
	return "http://127.0.0.1:8080"
}

var loadedConfig *config.Config

// clientConfig loads configuration once for client-side commands. A
// missing or broken config file falls back to defaults; client commands
// should still work against a default server.
func clientConfig() *config.Config {
	if loadedConfig != nil {
		return loadedConfig
	}
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		loadedConfig = config.DefaultConfig()
		return loadedConfig
	}
	loadedConfig = mgr.Get()
	return loadedConfig
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "", "Server URL (default from config)",
	)

	// Health endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	// Jobs as subcommand group
	jobsCmd.AddCommand((&endpoints.UploadJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.ListJobsEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.GetJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.DeleteJobEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.ProcessChunkEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.QuestionsEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.ExportQuestionsEndpoint{}).Command(getServerURL))
	jobsCmd.AddCommand((&endpoints.JobMetricsEndpoint{}).Command(getServerURL))

	// Settings as subcommand group
	settingsCmd.AddCommand((&endpoints.ListSettingsEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.GetSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.UpdateSettingEndpoint{}).Command(getServerURL))
	settingsCmd.AddCommand((&endpoints.DeleteSettingEndpoint{}).Command(getServerURL))

	// Swagger spec and UI shortcuts
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(apiCmd)
}
