package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/driver"
	"github.com/quizmill/quizmill/internal/home"
	"github.com/quizmill/quizmill/internal/mirror"
	"github.com/quizmill/quizmill/internal/types"
)

var (
	clientActor string
	chunkDelay  time.Duration
	syncWatch   bool
)

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Process a job's chunks until it settles",
	Long: `Run drives one job to completion: it walks the remaining chunks in
order, asks the server to process each one, defers chunks another
client holds, and backs off when the provider pushes back.

Progress is recorded in the local mirror, so an interrupted run can be
picked up later with the same command or with 'quizmill sync'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := clientConfig()

		m, err := openMirror()
		if err != nil {
			return err
		}

		logger := clientLogger()
		delay := chunkDelay
		if delay <= 0 {
			delay = cfg.Client.ChunkDelay
		}

		d := driver.New(driver.Config{
			Client:  api.NewClient(getServerURL()),
			Actor:   clientActor,
			Policy:  driver.Policy{Base: cfg.Client.RetryBase, Max: cfg.Client.RetryMax},
			Delay:   delay,
			Ceiling: cfg.Client.FailureCeiling,
			Logger:  logger,
			OnJob: func(job *types.Job) {
				if err := m.PutJob(job); err != nil {
					logger.Warn("failed to update mirror", "job_id", job.ID, "error", err)
				}
			},
		})

		report, runErr := d.Run(ctx, args[0])
		if err := api.Output(report); err != nil {
			return err
		}
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return runErr
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the local mirror and resume unfinished jobs",
	Long: `Sync fetches the authoritative job list from the server, reconciles
the local mirror against it, and resumes processing for every job that
still has unfinished chunks.

Without --watch the command waits for the resumed jobs to settle, then
exits. With --watch it stays up, purging expired mirror entries
periodically, until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ctrl, err := newController()
		if err != nil {
			return err
		}
		defer ctrl.Shutdown()

		if syncWatch {
			if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}

		report, err := ctrl.Sync(ctx)
		if err != nil {
			return err
		}
		if err := api.Output(report); err != nil {
			return err
		}
		if report.Resumed > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "waiting for %d resumed job(s)...\n", report.Resumed)
			ctrl.Wait()
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <job-id>",
	Short: "Cancel a job locally and delete it on the server",
	Long: `Stop cancels any local processing of the job, drops it from the
mirror, and deletes it on the server along with its stored document and
extracted questions. Local state is cleared even when the server is
unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := newController()
		if err != nil {
			return err
		}
		if err := ctrl.Stop(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("job %s stopped\n", args[0])
		return nil
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Show locally mirrored job state",
	Long: `Mirror prints the locally cached view of jobs without contacting the
server. The cache may be stale; 'quizmill sync' refreshes it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openMirror()
		if err != nil {
			return err
		}
		return api.Output(m.List())
	},
}

// openMirror opens the job mirror in the home directory, creating the
// directory on first use.
func openMirror() (*mirror.Mirror, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}
	return mirror.Open(h.MirrorPath())
}

func newController() (*mirror.Controller, error) {
	cfg := clientConfig()
	m, err := openMirror()
	if err != nil {
		return nil, err
	}
	return mirror.NewController(mirror.ControllerConfig{
		Client:        api.NewClient(getServerURL()),
		Mirror:        m,
		Actor:         clientActor,
		Policy:        driver.Policy{Base: cfg.Client.RetryBase, Max: cfg.Client.RetryMax},
		Delay:         cfg.Client.ChunkDelay,
		Ceiling:       cfg.Client.FailureCeiling,
		PurgeInterval: cfg.Client.SyncInterval,
		Logger:        clientLogger(),
	}), nil
}

// clientLogger logs to stderr so structured output on stdout stays
// parseable.
func clientLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func init() {
	runCmd.Flags().StringVar(&clientActor, "actor", "", "Lock identity for chunk claims (default: hostname-pid)")
	runCmd.Flags().DurationVar(&chunkDelay, "delay", 0, "Pause between chunks (default from config)")

	syncCmd.Flags().StringVar(&clientActor, "actor", "", "Lock identity for chunk claims (default: hostname-pid)")
	syncCmd.Flags().BoolVar(&syncWatch, "watch", false, "Keep running, purging expired mirror entries periodically")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(mirrorCmd)
}
