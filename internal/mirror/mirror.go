// Package mirror keeps the client-resident copy of job state and the
// controller that reconciles it against the server. The mirror is a
// cache, never a source of truth: it is safe to delete the file and
// rebuild it from the next sync.
package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/quizmill/quizmill/internal/types"
)

// FormatVersion invalidates persisted mirrors wholesale on bump. Old
// entries are discarded, not migrated.
const FormatVersion = 1

// Entry is one mirrored job: enough to render progress and decide what
// to resume or purge without asking the server.
type Entry struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Status          types.JobStatus `json:"status"`
	TotalChunks     int             `json:"total_chunks"`
	ProcessedChunks int             `json:"processed_chunks"`
	QuestionCount   int             `json:"question_count"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type mirrorFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"jobs"`
}

// Mirror is the persisted job cache, keyed by job ID. Safe for
// concurrent use.
type Mirror struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry

	// now is swappable for expiry tests.
	now func() time.Time
}

// Open loads the mirror at path. A missing, corrupt, or version-skewed
// file yields an empty mirror rather than an error.
func Open(path string) (*Mirror, error) {
	if path == "" {
		return nil, fmt.Errorf("mirror path is required")
	}
	m := &Mirror{
		path:    path,
		entries: make(map[string]Entry),
		now:     time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirror: %w", err)
	}

	var file mirrorFile
	if err := json.Unmarshal(data, &file); err != nil || file.Version != FormatVersion {
		// Stale format or corruption. The server is authoritative, so
		// start over.
		return m, nil
	}
	if file.Entries != nil {
		m.entries = file.Entries
	}
	return m, nil
}

// Path returns the backing file path.
func (m *Mirror) Path() string {
	return m.path
}

// Put upserts an entry and persists.
func (m *Mirror) Put(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.UpdatedAt = m.now()
	m.entries[e.ID] = e
	return m.save()
}

// PutJob upserts an entry built from a full job record.
func (m *Mirror) PutJob(job *types.Job) error {
	return m.Put(Entry{
		ID:              job.ID,
		Title:           job.Title,
		Status:          job.Status,
		TotalChunks:     len(job.Chunks),
		ProcessedChunks: job.ProcessedChunks(),
		QuestionCount:   job.QuestionCount,
		Error:           job.Error,
		CreatedAt:       job.CreatedAt,
		ExpiresAt:       job.ExpiresAt,
	})
}

// Get returns the entry for id. Entries past expiry read as expired.
func (m *Mirror) Get(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, false
	}
	return m.presented(e), true
}

// List returns all entries, newest first. Entries past expiry read as
// expired.
func (m *Mirror) List() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, m.presented(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Delete removes an entry and persists. Idempotent.
func (m *Mirror) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[id]; !ok {
		return nil
	}
	delete(m.entries, id)
	return m.save()
}

// Reconcile replaces mirror contents with the server's authoritative
// list: entries absent server-side are dropped, the rest updated.
// Returns the number of dropped entries.
func (m *Mirror) Reconcile(summaries []types.JobSummary) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	next := make(map[string]Entry, len(summaries))
	for _, s := range summaries {
		next[s.ID] = Entry{
			ID:              s.ID,
			Title:           s.Title,
			Status:          s.Status,
			TotalChunks:     s.TotalChunks,
			ProcessedChunks: s.ProcessedChunks,
			QuestionCount:   s.QuestionCount,
			Error:           s.Error,
			CreatedAt:       s.CreatedAt,
			ExpiresAt:       s.ExpiresAt,
			UpdatedAt:       now,
		}
	}

	dropped := 0
	for id := range m.entries {
		if _, ok := next[id]; !ok {
			dropped++
		}
	}
	m.entries = next
	return dropped, m.save()
}

// PurgeExpired removes entries past their expiry and persists. Returns
// how many were removed.
func (m *Mirror) PurgeExpired() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, e := range m.entries {
		if !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now) {
			delete(m.entries, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, m.save()
}

// presented applies read-time expiry: the server deletes expired jobs
// lazily, so the mirror surfaces them as expired until the purge tick
// drops them.
func (m *Mirror) presented(e Entry) Entry {
	if !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(m.now()) {
		e.Status = types.JobExpired
	}
	return e
}

// save writes the file. Caller holds the lock.
func (m *Mirror) save() error {
	data, err := json.MarshalIndent(mirrorFile{
		Version: FormatVersion,
		Entries: m.entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mirror: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write mirror: %w", err)
	}
	return nil
}
