package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/home"
	"github.com/quizmill/quizmill/internal/ingest"
	"github.com/quizmill/quizmill/internal/jobstore"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and maintain the local job store",
	Long: `Store commands open the SQLite job store directly, without going
through the server. Useful for offline inspection and maintenance.

Examples:
  quizmill store stats   # Job counts and token usage by model
  quizmill store sweep   # Delete expired jobs and their documents`,
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts and extraction usage by model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.StoreStats(ctx)
		if err != nil {
			return err
		}
		usage, err := store.UsageByModel(ctx)
		if err != nil {
			return err
		}
		return api.Output(map[string]any{
			"stats": stats,
			"usage": usage,
		})
	},
}

var storeSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired jobs and their stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, h, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		keys, err := store.SweepExpired(ctx)
		if err != nil {
			return err
		}

		ing := ingest.New(ingest.Config{Store: store, Home: h, Logger: clientLogger()})
		removed := 0
		for _, key := range keys {
			if err := ing.Remove(key); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to remove document %s: %v\n", key, err)
				continue
			}
			removed++
		}

		cmd.Printf("swept %d expired job(s), removed %d document(s)\n", len(keys), removed)
		return nil
	},
}

// openStore opens the job store in the home directory with the
// configured tuning. The home directory must already exist.
func openStore() (*jobstore.Store, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	if !h.Exists() {
		return nil, nil, fmt.Errorf("home directory %s does not exist, run 'quizmill serve' first", h.Path())
	}

	cfg := clientConfig()
	store, err := jobstore.Open(jobstore.Config{
		Path:             h.DBPath(),
		StaleLockTimeout: cfg.Store.StaleLockTimeout,
		ExpiryTTL:        cfg.Store.JobTTL,
		FailureCeiling:   cfg.Store.FailureCeiling,
		Logger:           clientLogger(),
	})
	if err != nil {
		return nil, nil, err
	}
	return store, h, nil
}

func init() {
	storeCmd.AddCommand(storeStatsCmd)
	storeCmd.AddCommand(storeSweepCmd)

	rootCmd.AddCommand(storeCmd)
}
