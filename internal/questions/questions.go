// Package questions holds the quiz-question invariants and the dedup
// merger. Duplicate detection is deliberately order-insensitive over
// options: the same underlying question recovered from two overlapping
// chunks, with options listed in a different order, must collapse to one.
package questions

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/quizmill/quizmill/internal/types"
)

// Normalize cleans up a candidate in place before validation: whitespace
// is trimmed, and for multiple-answer questions the correct index set is
// sorted and deduplicated. Single-answer questions keep only CorrectIndex.
func Normalize(q *types.Question) {
	q.Text = strings.TrimSpace(q.Text)
	for i, opt := range q.Options {
		q.Options[i] = strings.TrimSpace(opt)
	}

	switch q.Type {
	case types.QuestionSingle:
		q.CorrectIndexes = nil
	case types.QuestionMultiple:
		if len(q.CorrectIndexes) == 0 {
			return
		}
		sort.Ints(q.CorrectIndexes)
		deduped := q.CorrectIndexes[:1]
		for _, idx := range q.CorrectIndexes[1:] {
			if idx != deduped[len(deduped)-1] {
				deduped = append(deduped, idx)
			}
		}
		q.CorrectIndexes = deduped
	}
}

// Validate checks a single candidate against the question invariants.
// Callers discard invalid candidates individually; one malformed question
// never fails the chunk it came from.
func Validate(q *types.Question) error {
	if q.Text == "" {
		return fmt.Errorf("question text is empty")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question needs at least 2 options, got %d", len(q.Options))
	}

	switch q.Type {
	case types.QuestionSingle:
		if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
			return fmt.Errorf("correct index %d out of bounds for %d options", q.CorrectIndex, len(q.Options))
		}
	case types.QuestionMultiple:
		if len(q.CorrectIndexes) == 0 {
			return fmt.Errorf("multiple-answer question has no correct indexes")
		}
		for _, idx := range q.CorrectIndexes {
			if idx < 0 || idx >= len(q.Options) {
				return fmt.Errorf("correct index %d out of bounds for %d options", idx, len(q.Options))
			}
		}
	default:
		return fmt.Errorf("unknown question type %q", q.Type)
	}
	return nil
}

// Hash returns the canonical fingerprint of a question: question type plus
// lower-cased, trimmed text plus the lower-cased, trimmed, sorted option
// list, hashed with sha256. Two questions are duplicates iff their hashes
// are equal.
func Hash(q *types.Question) string {
	opts := make([]string, len(q.Options))
	for i, opt := range q.Options {
		opts[i] = strings.ToLower(strings.TrimSpace(opt))
	}
	sort.Strings(opts)

	h := sha256.New()
	h.Write([]byte(string(q.Type)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(q.Text))))
	for _, opt := range opts {
		h.Write([]byte{0})
		h.Write([]byte(opt))
	}
	return hex.EncodeToString(h.Sum(nil))
}
