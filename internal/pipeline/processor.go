// Package pipeline executes the claim, extract, validate, merge cycle
// for one chunk. The processor runs server side; clients drive it one
// chunk at a time through the process endpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quizmill/quizmill/internal/extract"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/questions"
	"github.com/quizmill/quizmill/internal/types"
)

// DocumentSource resolves stored documents to chunk text.
type DocumentSource interface {
	// ChunkText returns the text of pages startPage..endPage of the
	// stored document.
	ChunkText(storageKey string, startPage, endPage int) (string, error)
}

// ChunkFailedError reports an extraction failure that was recorded on
// the chunk. JobFailed is set when the failure tripped the consecutive
// failure ceiling and aborted the whole job.
type ChunkFailedError struct {
	Reason    string
	JobFailed bool
}

func (e *ChunkFailedError) Error() string {
	if e.JobFailed {
		return fmt.Sprintf("chunk failed, job aborted: %s", e.Reason)
	}
	return fmt.Sprintf("chunk failed: %s", e.Reason)
}

// ProcessResult reports one successful chunk processing pass.
type ProcessResult struct {
	JobCompleted  bool `json:"job_completed"`
	QuestionCount int  `json:"question_count"`
	Added         int  `json:"added"`
	Extracted     int  `json:"extracted"`
	Invalid       int  `json:"invalid"`
}

// Config wires a processor.
type Config struct {
	Store    *jobstore.Store
	Engines  *extract.Registry
	Docs     DocumentSource
	Logger   *slog.Logger
	Attempts int // extraction attempts per chunk, malformed output retried with a strict reminder
}

// Processor owns server-side chunk processing.
type Processor struct {
	store    *jobstore.Store
	engines  *extract.Registry
	docs     DocumentSource
	logger   *slog.Logger
	attempts int
}

// New creates a processor.
func New(cfg Config) *Processor {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		store:    cfg.Store,
		engines:  cfg.Engines,
		docs:     cfg.Docs,
		logger:   cfg.Logger,
		attempts: cfg.Attempts,
	}
}

// ProcessChunk claims one chunk, extracts its questions, validates them
// one by one, and merges the survivors. Claim refusals (conflict, done,
// missing) pass through untouched for the transport layer to map. A
// provider rate limit or cancelled context also passes through without
// marking the chunk, keeping the claim for the same actor's retry. Any
// other failure is recorded via FailChunk and returned as a
// ChunkFailedError.
func (p *Processor) ProcessChunk(ctx context.Context, jobID string, index int, actor string) (*ProcessResult, error) {
	chunk, err := p.store.ClaimChunk(ctx, jobID, index, actor)
	if err != nil {
		return nil, err
	}

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	result, extractErr := p.extractChunk(ctx, job, chunk)
	if extractErr != nil {
		if passThrough(extractErr) {
			return nil, extractErr
		}
		return nil, p.failChunk(ctx, jobID, index, actor, extractErr.Error())
	}

	valid := make([]types.Question, 0, len(result.Questions))
	invalid := result.Dropped
	for i := range result.Questions {
		q := result.Questions[i]
		questions.Normalize(&q)
		if err := questions.Validate(&q); err != nil {
			invalid++
			p.logger.Debug("question failed validation",
				"job_id", jobID, "chunk", index, "error", err)
			continue
		}
		q.Hash = questions.Hash(&q)
		valid = append(valid, q)
	}

	if len(valid) == 0 {
		reason := fmt.Sprintf("no questions survived validation (%d extracted, %d invalid)",
			len(result.Questions), invalid)
		return nil, p.failChunk(ctx, jobID, index, actor, reason)
	}

	outcome, err := p.store.CompleteChunk(ctx, jobID, index, actor, valid)
	if err != nil {
		return nil, err
	}

	return &ProcessResult{
		JobCompleted:  outcome.JobCompleted,
		QuestionCount: outcome.QuestionCount,
		Added:         outcome.Added,
		Extracted:     len(result.Questions),
		Invalid:       invalid,
	}, nil
}

// failChunk records the failure and wraps it for the caller. A lock lost
// while extracting surfaces as the store's error instead.
func (p *Processor) failChunk(ctx context.Context, jobID string, index int, actor, reason string) error {
	jobFailed, err := p.store.FailChunk(ctx, jobID, index, actor, reason)
	if err != nil {
		return err
	}
	return &ChunkFailedError{Reason: reason, JobFailed: jobFailed}
}

// passThrough reports errors that should not mark the chunk failed:
// provider pushback and client disconnects. The claim stays with the
// actor, who can re-claim and retry.
func passThrough(err error) bool {
	if _, ok := extract.IsRateLimitError(err); ok {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// extractChunk reads the chunk's text and runs the extraction engine,
// retrying malformed output with a strict-JSON reminder.
func (p *Processor) extractChunk(ctx context.Context, job *types.Job, chunk *types.Chunk) (*extract.Result, error) {
	text, err := p.docs.ChunkText(job.Document.StorageKey, chunk.StartPage, chunk.EndPage)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text on pages %d-%d", chunk.StartPage, chunk.EndPage)
	}

	engineName, model, prompt := p.overrides(ctx)
	engine, err := p.engines.Get(engineName)
	if err != nil {
		return nil, err
	}

	req := &extract.Request{Text: text, Prompt: prompt, Model: model}
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		req.Attempt = attempt
		start := time.Now()
		result, err := engine.Extract(ctx, req)
		p.recordUsage(ctx, job.ID, chunk.Index, engine, result, time.Since(start), err)
		if err == nil {
			p.logger.Info("chunk extracted",
				"job_id", job.ID, "chunk", chunk.Index,
				"engine", engine.Name(), "model", result.Model,
				"questions", len(result.Questions), "dropped", result.Dropped,
				"tokens", result.Usage.TotalTokens, "attempt", attempt)
			return result, nil
		}
		lastErr = err
		if passThrough(err) {
			return nil, err
		}
		p.logger.Warn("extraction attempt failed",
			"job_id", job.ID, "chunk", chunk.Index,
			"engine", engine.Name(), "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("extraction failed after %d attempts: %w", p.attempts, lastErr)
}

// overrides reads runtime settings for engine, model, and prompt. Lookup
// failures fall back to defaults.
func (p *Processor) overrides(ctx context.Context) (engineName, model, prompt string) {
	read := func(key string) string {
		setting, err := p.store.Setting(ctx, key)
		if err != nil {
			p.logger.Warn("failed to read setting", "key", key, "error", err)
			return ""
		}
		if setting == nil {
			return ""
		}
		return setting.Value
	}
	return read(jobstore.SettingProvider), read(jobstore.SettingModel), read(jobstore.SettingPrompt)
}

// recordUsage appends an extraction usage row. Best effort.
func (p *Processor) recordUsage(ctx context.Context, jobID string, chunkIndex int, engine extract.Engine, result *extract.Result, took time.Duration, callErr error) {
	rec := jobstore.ExtractionRecord{
		JobID:      jobID,
		ChunkIndex: chunkIndex,
		Provider:   engine.Name(),
		Model:      engine.Model(),
		Duration:   took,
		Success:    callErr == nil,
	}
	if result != nil {
		if result.Model != "" {
			rec.Model = result.Model
		}
		rec.PromptTokens = result.Usage.PromptTokens
		rec.CompletionTokens = result.Usage.CompletionTokens
		rec.TotalTokens = result.Usage.TotalTokens
	}
	if err := p.store.RecordExtraction(ctx, rec); err != nil {
		p.logger.Warn("failed to record extraction usage", "job_id", jobID, "error", err)
	}
}
