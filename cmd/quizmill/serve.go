package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/config"
	"github.com/quizmill/quizmill/internal/home"
	"github.com/quizmill/quizmill/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Quizmill server",
	Long: `Start the Quizmill HTTP server.

The server owns the SQLite job store and the extraction engines. A
default config file is written to the home directory on first run, and
edits to it are picked up without a restart.

Examples:
  quizmill serve                    # Start on the configured port
  quizmill serve --port 3000        # Start on a custom port
  quizmill serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		// First run: seed the home directory with a default config so
		// there is something to edit.
		cfgPath := cfgFile
		if cfgPath == "" {
			cfgPath = h.ConfigPath()
			if !h.ConfigExists() {
				if err := config.WriteDefault(cfgPath); err != nil {
					return fmt.Errorf("failed to write default config: %w", err)
				}
				fmt.Printf("Wrote default config to %s\n", cfgPath)
			}
		}

		mgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		mgr.WatchConfig()
		cfg := mgr.Get()

		host := serveHost
		if host == "" {
			host = cfg.Server.Host
		}
		port := servePort
		if port == "" {
			port = cfg.Server.Port
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          h,
			ConfigManager: mgr,
			Logger:        newLogger(cfg.Server),
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

// newLogger builds the process logger from the server config section.
func newLogger(cfg config.ServerCfg) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config)")

	rootCmd.AddCommand(serveCmd)
}
