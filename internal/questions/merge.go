package questions

import "github.com/quizmill/quizmill/internal/types"

// Merger folds candidate questions into an accumulated list without
// duplicates. Insertion order is preserved and the first-seen copy of a
// duplicate wins, so merging is deterministic and idempotent.
type Merger struct {
	seen     map[string]struct{}
	accepted []types.Question
}

// NewMerger creates a merger seeded with an already-accumulated list.
// Seed questions without a hash are hashed on the way in.
func NewMerger(existing []types.Question) *Merger {
	m := &Merger{seen: make(map[string]struct{}, len(existing))}
	for _, q := range existing {
		if q.Hash == "" {
			q.Hash = Hash(&q)
		}
		if _, dup := m.seen[q.Hash]; dup {
			continue
		}
		m.seen[q.Hash] = struct{}{}
		m.accepted = append(m.accepted, q)
	}
	return m
}

// Add merges one question, returning true if it was new.
func (m *Merger) Add(q types.Question) bool {
	if q.Hash == "" {
		q.Hash = Hash(&q)
	}
	if _, dup := m.seen[q.Hash]; dup {
		return false
	}
	m.seen[q.Hash] = struct{}{}
	m.accepted = append(m.accepted, q)
	return true
}

// AddAll merges a batch in order and returns only the newly added questions.
func (m *Merger) AddAll(qs []types.Question) []types.Question {
	var added []types.Question
	for _, q := range qs {
		if q.Hash == "" {
			q.Hash = Hash(&q)
		}
		if m.Add(q) {
			added = append(added, q)
		}
	}
	return added
}

// Questions returns the accumulated duplicate-free list in insertion order.
func (m *Merger) Questions() []types.Question {
	return m.accepted
}

// Len returns the accumulated question count.
func (m *Merger) Len() int {
	return len(m.accepted)
}
