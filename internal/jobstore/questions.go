package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quizmill/quizmill/internal/types"
)

// Questions returns a job's merged questions in first-seen order.
func (s *Store) Questions(ctx context.Context, jobID string) ([]types.Question, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM jobs WHERE id = ? AND expires_at > ?`,
		jobID, s.now().UnixMilli(),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM questions WHERE job_id = ? ORDER BY position`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var out []types.Question
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		var q types.Question
		if err := json.Unmarshal([]byte(payload), &q); err != nil {
			return nil, fmt.Errorf("failed to decode question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
