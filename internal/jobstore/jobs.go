package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quizmill/quizmill/internal/partition"
	"github.com/quizmill/quizmill/internal/types"
)

// CreateJob inserts a new job in uploading state. The document and chunk
// plan are attached once the upload has been stored and paged.
func (s *Store) CreateJob(ctx context.Context, owner, title string) (*types.Job, error) {
	if owner == "" {
		owner = "local"
	}
	now := s.now()
	job := &types.Job{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		Status:    types.JobUploading,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner, title, status, created_at, expires_at) VALUES (?,?,?,?,?,?)`,
		job.ID, job.Owner, job.Title, string(job.Status), now.UnixMilli(), job.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("job created", "job_id", job.ID, "owner", owner, "title", title)
	return job, nil
}

// AttachDocument records the stored document, instantiates all chunks in
// pending state from the plan, and moves the job to processing.
func (s *Store) AttachDocument(ctx context.Context, jobID string, doc types.Document, plan []partition.Range) (*types.Job, error) {
	if len(plan) == 0 {
		return nil, fmt.Errorf("chunk plan is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET filename = ?, file_size = ?, page_count = ?, storage_key = ?, status = ?
		 WHERE id = ? AND status = ?`,
		doc.Filename, doc.Size, doc.PageCount, doc.StorageKey,
		string(types.JobProcessing), jobID, string(types.JobUploading),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to attach document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrJobNotFound
	}

	for i, r := range plan {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (job_id, idx, start_page, end_page, status) VALUES (?,?,?,?,?)`,
			jobID, i, r.Start, r.End, string(types.ChunkPending),
		); err != nil {
			return nil, fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Info("document attached", "job_id", jobID, "pages", doc.PageCount, "chunks", len(plan))
	return s.GetJob(ctx, jobID)
}

// FailJob marks a job as errored with a message. Used by the ingest flow
// when upload processing dies before any chunk exists.
func (s *Store) FailJob(ctx context.Context, jobID, msg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ? WHERE id = ?`,
		string(types.JobError), msg, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob returns a job with its chunk list. Jobs past expiry are treated
// as gone.
func (s *Store) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner, title, filename, file_size, page_count, storage_key,
		        status, error, consecutive_failures, created_at, expires_at
		 FROM jobs WHERE id = ? AND expires_at > ?`,
		jobID, s.now().UnixMilli(),
	)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, start_page, end_page, status, error, locked_at, locked_by
		 FROM chunks WHERE job_id = ? ORDER BY idx`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c := types.Chunk{JobID: jobID}
		var lockedAt sql.NullInt64
		if err := rows.Scan(&c.Index, &c.StartPage, &c.EndPage, &c.Status, &c.Error, &lockedAt, &c.LockedBy); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if lockedAt.Valid {
			t := time.UnixMilli(lockedAt.Int64)
			c.LockedAt = &t
		}
		job.Chunks = append(job.Chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE job_id = ?`, jobID,
	).Scan(&job.QuestionCount); err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}

	return job, nil
}

// ListJobs returns summaries of an owner's unexpired jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, owner string) ([]types.JobSummary, error) {
	if owner == "" {
		owner = "local"
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id, j.title, j.status, j.error, j.created_at, j.expires_at,
		       (SELECT COUNT(*) FROM chunks c WHERE c.job_id = j.id),
		       (SELECT COUNT(*) FROM chunks c WHERE c.job_id = j.id AND c.status = 'done'),
		       (SELECT COUNT(*) FROM questions q WHERE q.job_id = j.id)
		FROM jobs j
		WHERE j.owner = ? AND j.expires_at > ?
		ORDER BY j.created_at DESC`,
		owner, s.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []types.JobSummary
	for rows.Next() {
		var sum types.JobSummary
		var created, expires int64
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Status, &sum.Error, &created, &expires,
			&sum.TotalChunks, &sum.ProcessedChunks, &sum.QuestionCount); err != nil {
			return nil, fmt.Errorf("failed to scan job summary: %w", err)
		}
		sum.CreatedAt = time.UnixMilli(created)
		sum.ExpiresAt = time.UnixMilli(expires)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// DeleteJob removes a job and everything hanging off it. Idempotent:
// deleting an absent job is not an error. Returns the storage key of the
// stored document (empty when the job was absent) so the caller can remove
// the file.
func (s *Store) DeleteJob(ctx context.Context, jobID string) (string, error) {
	var storageKey string
	err := s.db.QueryRowContext(ctx,
		`SELECT storage_key FROM jobs WHERE id = ?`, jobID,
	).Scan(&storageKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up job: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID); err != nil {
		return "", fmt.Errorf("failed to delete job: %w", err)
	}
	// Extractions carry no foreign key so usage survives for debugging;
	// drop them with the job to keep the table bounded.
	if _, err := s.db.ExecContext(ctx, `DELETE FROM extractions WHERE job_id = ?`, jobID); err != nil {
		return "", fmt.Errorf("failed to delete extractions: %w", err)
	}

	s.logger.Info("job deleted", "job_id", jobID)
	return storageKey, nil
}

// SweepExpired deletes all jobs past expiry and returns the storage keys
// of their documents so the caller can unlink the files.
func (s *Store) SweepExpired(ctx context.Context) ([]string, error) {
	now := s.now().UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, storage_key FROM jobs WHERE expires_at <= ?`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired jobs: %w", err)
	}
	defer rows.Close()

	var ids, keys []string
	for rows.Next() {
		var id, key string
		if err := rows.Scan(&id, &key); err != nil {
			return nil, fmt.Errorf("failed to scan expired job: %w", err)
		}
		ids = append(ids, id)
		if key != "" {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return keys, fmt.Errorf("failed to delete expired job %s: %w", id, err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM extractions WHERE job_id = ?`, id); err != nil {
			return keys, fmt.Errorf("failed to delete extractions for %s: %w", id, err)
		}
	}

	if len(ids) > 0 {
		s.logger.Info("swept expired jobs", "count", len(ids))
	}
	return keys, nil
}

// Stats summarizes store contents for the status endpoint.
type Stats struct {
	Jobs             map[string]int `json:"jobs"`
	TotalJobs        int            `json:"total_jobs"`
	TotalQuestions   int            `json:"total_questions"`
	TotalExtractions int            `json:"total_extractions"`
}

// StoreStats returns job counts by status plus question/extraction totals.
// Expired jobs that have not been swept yet are reported under "expired".
func (s *Store) StoreStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Jobs: make(map[string]int)}
	now := s.now().UnixMilli()

	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN expires_at <= ? THEN 'expired' ELSE status END, COUNT(*)
		 FROM jobs GROUP BY 1`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job counts: %w", err)
		}
		stats.Jobs[status] = n
		stats.TotalJobs += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&stats.TotalQuestions); err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extractions`).Scan(&stats.TotalExtractions); err != nil {
		return nil, fmt.Errorf("failed to count extractions: %w", err)
	}
	return stats, nil
}

// scanJob reads the job columns shared by GetJob queries.
func scanJob(row *sql.Row) (*types.Job, error) {
	var job types.Job
	var created, expires int64
	err := row.Scan(&job.ID, &job.Owner, &job.Title,
		&job.Document.Filename, &job.Document.Size, &job.Document.PageCount, &job.Document.StorageKey,
		&job.Status, &job.Error, &job.ConsecutiveFailures, &created, &expires)
	if err != nil {
		return nil, err
	}
	job.CreatedAt = time.UnixMilli(created)
	job.ExpiresAt = time.UnixMilli(expires)
	return &job, nil
}
