package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quizmill/quizmill/internal/questions"
	"github.com/quizmill/quizmill/internal/types"
)

// ClaimChunk atomically takes the processing lock on one chunk for an
// actor. Eligible chunks are pending, errored, already held by the same
// actor, or processing under a lock older than the stale timeout. A fresh
// lock held by another actor yields a LockConflictError carrying a
// suggested retry delay. Claiming a chunk of an errored job moves the job
// back to processing.
func (s *Store) ClaimChunk(ctx context.Context, jobID string, index int, actor string) (*types.Chunk, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor token is required")
	}

	now := s.now()
	staleCutoff := now.Add(-s.staleAfter).UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// The claim update is the transaction's first statement. A transaction
	// that reads before writing can fail its lock upgrade when a rival
	// claimer commits in between; a write-first transaction just queues on
	// the busy timeout.
	row := tx.QueryRowContext(ctx,
		`UPDATE chunks SET status = ?, locked_at = ?, locked_by = ?, error = ''
		 WHERE job_id = ? AND idx = ?
		   AND (status IN ('pending', 'error')
		        OR (status = 'processing' AND (locked_by = ? OR locked_at <= ?)))
		   AND job_id IN (SELECT id FROM jobs WHERE id = ? AND expires_at > ?)
		 RETURNING idx, start_page, end_page, status, error, locked_at, locked_by`,
		string(types.ChunkProcessing), now.UnixMilli(), actor,
		jobID, index, actor, staleCutoff,
		jobID, now.UnixMilli(),
	)

	chunk := &types.Chunk{JobID: jobID}
	var lockedAt sql.NullInt64
	err = row.Scan(&chunk.Index, &chunk.StartPage, &chunk.EndPage, &chunk.Status, &chunk.Error, &lockedAt, &chunk.LockedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.claimConflict(ctx, tx, jobID, index, now)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim chunk: %w", err)
	}
	if lockedAt.Valid {
		t := time.UnixMilli(lockedAt.Int64)
		chunk.LockedAt = &t
	}

	jobStatus, err := s.jobStatus(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if jobStatus == types.JobError {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = '' WHERE id = ?`,
			string(types.JobProcessing), jobID,
		); err != nil {
			return nil, fmt.Errorf("failed to resume errored job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	s.logger.Debug("chunk claimed", "job_id", jobID, "chunk", index, "actor", actor)
	return chunk, nil
}

// claimConflict explains why the claim update matched nothing.
func (s *Store) claimConflict(ctx context.Context, tx *sql.Tx, jobID string, index int, now time.Time) error {
	if _, err := s.jobStatus(ctx, tx, jobID); err != nil {
		return err
	}

	var status string
	var lockedAt sql.NullInt64
	var lockedBy string
	err := tx.QueryRowContext(ctx,
		`SELECT status, locked_at, locked_by FROM chunks WHERE job_id = ? AND idx = ?`,
		jobID, index,
	).Scan(&status, &lockedAt, &lockedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrChunkNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect chunk: %w", err)
	}

	if status == string(types.ChunkDone) {
		return ErrChunkDone
	}

	// Held by a live lock. Suggest retrying once the lock could go stale,
	// clamped so clients neither spin nor stall.
	retry := 2 * time.Second
	if lockedAt.Valid {
		remaining := time.UnixMilli(lockedAt.Int64).Add(s.staleAfter).Sub(now)
		if remaining > retry {
			retry = remaining
		}
	}
	if retry > 30*time.Second {
		retry = 30 * time.Second
	}
	return &LockConflictError{LockedBy: lockedBy, RetryAfter: retry}
}

// CompleteChunk marks a claimed chunk done and appends its questions,
// skipping any whose content hash is already present for the job. Only the
// lock holder may complete; a lock lost to a stale-timeout reclaim yields
// ErrLockLost and the results are discarded. Completion resets the job's
// failure streak and, when no chunk remains unfinished, completes the job.
func (s *Store) CompleteChunk(ctx context.Context, jobID string, index int, actor string, qs []types.Question) (*types.ChunkOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// Write-first, same as ClaimChunk.
	res, err := tx.ExecContext(ctx,
		`UPDATE chunks SET status = ?, error = '', locked_at = NULL, locked_by = ''
		 WHERE job_id = ? AND idx = ? AND status = ? AND locked_by = ?
		   AND job_id IN (SELECT id FROM jobs WHERE id = ? AND expires_at > ?)`,
		string(types.ChunkDone), jobID, index, string(types.ChunkProcessing), actor,
		jobID, s.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete chunk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.jobStatus(ctx, tx, jobID); err != nil {
			return nil, err
		}
		return nil, lockLoss(ctx, tx, jobID, index)
	}

	var pos int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM questions WHERE job_id = ?`, jobID,
	).Scan(&pos); err != nil {
		return nil, fmt.Errorf("failed to find question position: %w", err)
	}

	added := 0
	for i := range qs {
		q := &qs[i]
		if q.Hash == "" {
			q.Hash = questions.Hash(q)
		}
		q.ChunkIndex = index
		payload, err := json.Marshal(q)
		if err != nil {
			return nil, fmt.Errorf("failed to encode question: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO questions (job_id, hash, position, chunk_idx, payload)
			 VALUES (?,?,?,?,?) ON CONFLICT(job_id, hash) DO NOTHING`,
			jobID, q.Hash, pos, index, string(payload),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert question: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
			pos++
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET consecutive_failures = 0 WHERE id = ?`, jobID,
	); err != nil {
		return nil, fmt.Errorf("failed to reset failure streak: %w", err)
	}

	outcome := &types.ChunkOutcome{Added: added}

	var unfinished int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE job_id = ? AND status != ?`,
		jobID, string(types.ChunkDone),
	).Scan(&unfinished); err != nil {
		return nil, fmt.Errorf("failed to check remaining chunks: %w", err)
	}
	if unfinished == 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = '' WHERE id = ?`,
			string(types.JobCompleted), jobID,
		); err != nil {
			return nil, fmt.Errorf("failed to complete job: %w", err)
		}
		outcome.JobCompleted = true
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM questions WHERE job_id = ?`, jobID,
	).Scan(&outcome.QuestionCount); err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}

	s.logger.Info("chunk completed",
		"job_id", jobID, "chunk", index,
		"extracted", len(qs), "added", added,
		"job_completed", outcome.JobCompleted)
	return outcome, nil
}

// FailChunk marks a claimed chunk as errored and bumps the job's
// consecutive failure counter. When the counter reaches the ceiling the
// whole job is moved to error, keeping questions merged so far. Returns
// whether the job was aborted.
func (s *Store) FailChunk(ctx context.Context, jobID string, index int, actor, msg string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE chunks SET status = ?, error = ?, locked_at = NULL, locked_by = ''
		 WHERE job_id = ? AND idx = ? AND status = ? AND locked_by = ?
		   AND job_id IN (SELECT id FROM jobs WHERE id = ? AND expires_at > ?)`,
		string(types.ChunkError), msg, jobID, index, string(types.ChunkProcessing), actor,
		jobID, s.now().UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail chunk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.jobStatus(ctx, tx, jobID); err != nil {
			return false, err
		}
		return false, lockLoss(ctx, tx, jobID, index)
	}

	var failures int
	if err := tx.QueryRowContext(ctx,
		`UPDATE jobs SET consecutive_failures = consecutive_failures + 1
		 WHERE id = ? RETURNING consecutive_failures`, jobID,
	).Scan(&failures); err != nil {
		return false, fmt.Errorf("failed to bump failure streak: %w", err)
	}

	jobFailed := false
	if failures >= s.failureCeiling {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ? WHERE id = ?`,
			string(types.JobError),
			fmt.Sprintf("aborted after %d consecutive chunk failures: %s", failures, msg),
			jobID,
		); err != nil {
			return false, fmt.Errorf("failed to abort job: %w", err)
		}
		jobFailed = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit failure: %w", err)
	}

	s.logger.Warn("chunk failed",
		"job_id", jobID, "chunk", index,
		"error", msg, "streak", failures, "job_aborted", jobFailed)
	return jobFailed, nil
}

// jobStatus reads a job's status inside a transaction, mapping absent and
// expired jobs to ErrJobNotFound.
func (s *Store) jobStatus(ctx context.Context, tx *sql.Tx, jobID string) (types.JobStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM jobs WHERE id = ? AND expires_at > ?`,
		jobID, s.now().UnixMilli(),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up job: %w", err)
	}
	return types.JobStatus(status), nil
}

// lockLoss explains why a guarded chunk update matched nothing.
func lockLoss(ctx context.Context, tx *sql.Tx, jobID string, index int) error {
	var status string
	err := tx.QueryRowContext(ctx,
		`SELECT status FROM chunks WHERE job_id = ? AND idx = ?`,
		jobID, index,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrChunkNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect chunk: %w", err)
	}
	if status == string(types.ChunkDone) {
		return ErrChunkDone
	}
	return ErrLockLost
}
