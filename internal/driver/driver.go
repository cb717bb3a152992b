// Package driver runs the client-side chunk loop for one job: walk the
// remaining chunks in index order, ask the server to process each one,
// defer chunks another actor holds, and back off on failures. The server
// stays authoritative; the driver only decides what to try next.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/types"
)

// StopReason says why a run ended.
type StopReason string

const (
	// StopCompleted means every chunk reached done.
	StopCompleted StopReason = "completed"
	// StopAborted means the server failed the job (failure ceiling).
	StopAborted StopReason = "aborted"
	// StopDeleted means the job disappeared from the server mid-run.
	StopDeleted StopReason = "deleted"
	// StopCeiling means this driver hit its own consecutive-failure stop,
	// for example against an unreachable server.
	StopCeiling StopReason = "failure_ceiling"
	// StopCanceled means the context ended the run.
	StopCanceled StopReason = "canceled"
)

// Report summarizes a run.
type Report struct {
	JobID     string          `json:"job_id"`
	Status    types.JobStatus `json:"status"`
	Processed int             `json:"processed"`
	Deferred  int             `json:"deferred"`
	Failures  int             `json:"failures"`
	Questions int             `json:"questions"`
	Stopped   StopReason      `json:"stopped"`
}

// Config wires a driver.
type Config struct {
	Client *api.Client
	// Actor identifies this client in chunk locks. Defaults to
	// hostname-pid.
	Actor  string
	Policy Policy
	// Delay is the pause between successive chunks, deliberate
	// backpressure toward the extraction provider. Default: 1s.
	Delay time.Duration
	// Ceiling is the advisory consecutive-failure stop. It mirrors the
	// server's ceiling so an unreachable server also halts the loop.
	// Default: 3.
	Ceiling int
	Logger  *slog.Logger
	// OnJob is called with fresh job state after every fetch. The resume
	// controller uses it to keep the local mirror current.
	OnJob func(*types.Job)
}

// Driver processes a single job's chunks to completion.
type Driver struct {
	client  *api.Client
	actor   string
	policy  Policy
	delay   time.Duration
	ceiling int
	logger  *slog.Logger
	onJob   func(*types.Job)
}

// New creates a driver.
func New(cfg Config) *Driver {
	if cfg.Actor == "" {
		cfg.Actor = defaultActor()
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Driver{
		client:  cfg.Client,
		actor:   cfg.Actor,
		policy:  cfg.Policy.normalized(),
		delay:   cfg.Delay,
		ceiling: cfg.Ceiling,
		logger:  cfg.Logger,
		onJob:   cfg.OnJob,
	}
}

// Actor returns the lock identity this driver claims chunks under.
func (d *Driver) Actor() string {
	return d.actor
}

func defaultActor() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "client"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run drives jobID until it completes, aborts, disappears, or this
// driver gives up. The returned report is never nil.
func (d *Driver) Run(ctx context.Context, jobID string) (*Report, error) {
	report := &Report{JobID: jobID, Stopped: StopCanceled}
	failures := 0 // consecutive, reset by any success

	for {
		job, err := d.fetchJob(ctx, jobID)
		if err != nil {
			if api.IsNotFound(err) {
				report.Stopped = StopDeleted
				d.logger.Info("job gone from server", "job_id", jobID)
				return report, nil
			}
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			failures++
			report.Failures++
			if failures >= d.ceiling {
				report.Stopped = StopCeiling
				return report, fmt.Errorf("giving up after %d consecutive failures: %w", failures, err)
			}
			d.logger.Warn("failed to fetch job", "job_id", jobID, "error", err)
			if serr := d.sleep(ctx, d.policy.Wait(failures, 0)); serr != nil {
				return report, serr
			}
			continue
		}

		report.Status = job.Status
		report.Questions = job.QuestionCount
		if d.onJob != nil {
			d.onJob(job)
		}

		switch job.Status {
		case types.JobCompleted:
			report.Stopped = StopCompleted
			return report, nil
		case types.JobError:
			report.Stopped = StopAborted
			return report, nil
		}

		progressed := false
		var suggested time.Duration

		for _, chunk := range job.Chunks {
			if chunk.Status == types.ChunkDone {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}

			res, perr := d.process(ctx, jobID, chunk.Index)
			if perr == nil {
				progressed = true
				failures = 0
				if res.Status == types.ProcessStatusAccepted {
					report.Processed++
					report.Questions = res.QuestionCount
					d.logger.Info("chunk processed",
						"job_id", jobID, "chunk", chunk.Index,
						"added", res.Added, "invalid", res.Invalid,
						"questions", res.QuestionCount)
				}
				if res.JobCompleted {
					report.Stopped = StopCompleted
					report.Status = types.JobCompleted
					d.refresh(ctx, jobID, report)
					return report, nil
				}
				if serr := d.sleep(ctx, d.delay); serr != nil {
					return report, serr
				}
				continue
			}

			var ce *api.ConflictError
			if errors.As(perr, &ce) {
				// Deferred, not failed: another actor holds the lock or
				// the provider pushed back. Move on and revisit on the
				// next pass.
				report.Deferred++
				if ce.RetryAfter > suggested {
					suggested = ce.RetryAfter
				}
				d.logger.Debug("chunk deferred",
					"job_id", jobID, "chunk", chunk.Index, "retry_after", ce.RetryAfter)
				continue
			}

			var se *api.StatusError
			if errors.As(perr, &se) {
				if se.StatusCode == http.StatusNotFound {
					report.Stopped = StopDeleted
					return report, nil
				}
				if se.JobFailed {
					report.Stopped = StopAborted
					report.Status = types.JobError
					d.logger.Warn("job aborted by server",
						"job_id", jobID, "chunk", chunk.Index, "error", se.Message)
					d.refresh(ctx, jobID, report)
					return report, nil
				}
			}

			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			failures++
			report.Failures++
			d.logger.Warn("chunk processing failed",
				"job_id", jobID, "chunk", chunk.Index,
				"consecutive", failures, "error", perr)
			if failures >= d.ceiling {
				report.Stopped = StopCeiling
				return report, fmt.Errorf("stopping after %d consecutive chunk failures: %w", failures, perr)
			}
			if serr := d.sleep(ctx, d.policy.Wait(failures, 0)); serr != nil {
				return report, serr
			}
		}

		if !progressed {
			// Everything left is locked elsewhere (or the chunk list is
			// momentarily empty). Wait out the longest suggested delay
			// before the next pass.
			if serr := d.sleep(ctx, d.policy.Wait(1, suggested)); serr != nil {
				return report, serr
			}
		}
	}
}

// refresh pulls final job state so observers see the terminal status.
// Best effort.
func (d *Driver) refresh(ctx context.Context, jobID string, report *Report) {
	job, err := d.fetchJob(ctx, jobID)
	if err != nil {
		return
	}
	report.Status = job.Status
	report.Questions = job.QuestionCount
	if d.onJob != nil {
		d.onJob(job)
	}
}

func (d *Driver) fetchJob(ctx context.Context, jobID string) (*types.Job, error) {
	var job types.Job
	if err := d.client.Get(ctx, "/api/jobs/"+jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (d *Driver) process(ctx context.Context, jobID string, index int) (*types.ProcessResponse, error) {
	var resp types.ProcessResponse
	path := fmt.Sprintf("/api/jobs/%s/chunks/%d/process", jobID, index)
	if err := d.client.Post(ctx, path, types.ProcessRequest{Actor: d.actor}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
