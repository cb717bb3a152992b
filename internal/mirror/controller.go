package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/driver"
	"github.com/quizmill/quizmill/internal/types"
)

// ControllerConfig wires a resume controller.
type ControllerConfig struct {
	Client *api.Client
	Mirror *Mirror
	// Actor, Policy, Delay, and Ceiling configure the drivers the
	// controller launches.
	Actor   string
	Policy  driver.Policy
	Delay   time.Duration
	Ceiling int
	// PurgeInterval is the housekeeping tick that trims expired mirror
	// entries. Default: 30s.
	PurgeInterval time.Duration
	Logger        *slog.Logger
}

// Controller reconciles the local mirror against the server and resumes
// interrupted jobs. At most one driver runs per job at a time.
type Controller struct {
	client   *api.Client
	mirror   *Mirror
	driver   *driver.Driver
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// SyncReport summarizes one reconciliation pass.
type SyncReport struct {
	Jobs    int `json:"jobs"`
	Dropped int `json:"dropped"`
	Resumed int `json:"resumed"`
}

// NewController creates a controller. Call Sync for a one-shot
// reconciliation or Run for reconciliation plus background housekeeping.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Controller{
		client:   cfg.Client,
		mirror:   cfg.Mirror,
		logger:   cfg.Logger,
		interval: cfg.PurgeInterval,
		running:  make(map[string]context.CancelFunc),
	}
	c.driver = driver.New(driver.Config{
		Client:  cfg.Client,
		Actor:   cfg.Actor,
		Policy:  cfg.Policy,
		Delay:   cfg.Delay,
		Ceiling: cfg.Ceiling,
		Logger:  cfg.Logger,
		OnJob:   c.observeJob,
	})
	return c
}

// Actor returns the lock identity the controller's drivers use.
func (c *Controller) Actor() string {
	return c.driver.Actor()
}

// observeJob keeps the mirror current as drivers make progress.
func (c *Controller) observeJob(job *types.Job) {
	if err := c.mirror.PutJob(job); err != nil {
		c.logger.Warn("failed to update mirror", "job_id", job.ID, "error", err)
	}
}

// Sync fetches the authoritative job list, reconciles the mirror
// against it, and resumes any processing job with unfinished chunks.
func (c *Controller) Sync(ctx context.Context) (*SyncReport, error) {
	var listing struct {
		Jobs []types.JobSummary `json:"jobs"`
	}
	if err := c.client.Get(ctx, "/api/jobs", &listing); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	summaries := listing.Jobs

	dropped, err := c.mirror.Reconcile(summaries)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Jobs: len(summaries), Dropped: dropped}
	for _, s := range summaries {
		if s.Status != types.JobProcessing || s.ProcessedChunks >= s.TotalChunks {
			continue
		}
		if c.Resume(ctx, s.ID) {
			report.Resumed++
		}
	}

	c.logger.Info("mirror synced",
		"jobs", report.Jobs, "dropped", report.Dropped, "resumed", report.Resumed)
	return report, nil
}

// Resume starts a driver for jobID unless one is already running.
// Reports whether a new driver was started. The driver runs until the
// job settles, the controller stops it, or ctx ends.
func (c *Controller) Resume(ctx context.Context, jobID string) bool {
	c.mu.Lock()
	if _, ok := c.running[jobID]; ok {
		c.mu.Unlock()
		return false
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running[jobID] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.running, jobID)
			c.mu.Unlock()
			cancel()
		}()

		report, err := c.driver.Run(runCtx, jobID)
		if err != nil {
			c.logger.Warn("driver stopped",
				"job_id", jobID, "reason", report.Stopped, "error", err)
			return
		}
		c.logger.Info("driver finished",
			"job_id", jobID, "reason", report.Stopped,
			"processed", report.Processed, "questions", report.Questions)
	}()
	return true
}

// Running reports whether a driver is active for jobID.
func (c *Controller) Running(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[jobID]
	return ok
}

// RunningJobs returns the IDs of jobs with active drivers.
func (c *Controller) RunningJobs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.running))
	for id := range c.running {
		out = append(out, id)
	}
	return out
}

// Stop cancels any driver for jobID, drops the mirror entry, and asks
// the server to delete the job. Local state is cleared even when the
// delete call fails, so a fresh attempt is always possible.
func (c *Controller) Stop(ctx context.Context, jobID string) error {
	c.mu.Lock()
	if cancel, ok := c.running[jobID]; ok {
		cancel()
	}
	c.mu.Unlock()

	if err := c.mirror.Delete(jobID); err != nil {
		c.logger.Warn("failed to drop mirror entry", "job_id", jobID, "error", err)
	}

	if err := c.client.Delete(ctx, "/api/jobs/"+jobID, nil); err != nil && !api.IsNotFound(err) {
		return fmt.Errorf("job canceled locally, server delete failed: %w", err)
	}
	return nil
}

// Run performs an initial Sync, then ticks until ctx ends, purging
// expired mirror entries each tick. The purge is advisory housekeeping;
// the server's expiry sweep is authoritative.
func (c *Controller) Run(ctx context.Context) error {
	if _, err := c.Sync(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := c.mirror.PurgeExpired(); err != nil {
				c.logger.Warn("mirror purge failed", "error", err)
			} else if n > 0 {
				c.logger.Info("purged expired mirror entries", "count", n)
			}
		}
	}
}

// Wait blocks until every running driver finishes on its own. Use
// Shutdown to cancel them instead.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Shutdown cancels all drivers and waits for them to wind down.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	for _, cancel := range c.running {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}
