package jobstore

import (
	"context"
	"fmt"
	"time"
)

// ExtractionRecord captures the usage of one extraction call.
type ExtractionRecord struct {
	JobID            string        `json:"job_id"`
	ChunkIndex       int           `json:"chunk_index"`
	Provider         string        `json:"provider"`
	Model            string        `json:"model"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalTokens      int           `json:"total_tokens"`
	Duration         time.Duration `json:"-"`
	Success          bool          `json:"success"`
}

// RecordExtraction appends one extraction usage row.
func (s *Store) RecordExtraction(ctx context.Context, rec ExtractionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extractions (job_id, chunk_idx, provider, model,
		   prompt_tokens, completion_tokens, total_tokens, duration_ms, success, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.JobID, rec.ChunkIndex, rec.Provider, rec.Model,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens,
		rec.Duration.Milliseconds(), rec.Success, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record extraction: %w", err)
	}
	return nil
}

// ModelUsage aggregates extraction usage for one provider and model pair.
type ModelUsage struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Calls            int    `json:"calls"`
	Failures         int    `json:"failures"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	TotalDurationMS  int64  `json:"total_duration_ms"`
}

// UsageByModel aggregates all extraction usage grouped by provider and
// model, heaviest first.
func (s *Store) UsageByModel(ctx context.Context) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, model, COUNT(*),
		       SUM(CASE WHEN success THEN 0 ELSE 1 END),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(duration_ms), 0)
		FROM extractions
		GROUP BY provider, model
		ORDER BY SUM(total_tokens) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var u ModelUsage
		if err := rows.Scan(&u.Provider, &u.Model, &u.Calls, &u.Failures,
			&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.TotalDurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// JobMetrics aggregates extraction usage for one job.
type JobMetrics struct {
	JobID            string `json:"job_id"`
	Calls            int    `json:"calls"`
	Failures         int    `json:"failures"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	TotalDurationMS  int64  `json:"total_duration_ms"`
}

// JobUsage aggregates extraction usage for a single job.
func (s *Store) JobUsage(ctx context.Context, jobID string) (*JobMetrics, error) {
	m := &JobMetrics{JobID: jobID}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		       COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0),
		       COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(duration_ms), 0)
		FROM extractions WHERE job_id = ?`, jobID,
	).Scan(&m.Calls, &m.Failures, &m.PromptTokens, &m.CompletionTokens, &m.TotalTokens, &m.TotalDurationMS)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job usage: %w", err)
	}
	return m, nil
}
