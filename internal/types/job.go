// Package types provides shared types used across multiple packages.
// This package has no dependencies on other quizmill packages to avoid import cycles.
package types

import "time"

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	// JobUploading indicates the source document is still being stored.
	JobUploading JobStatus = "uploading"
	// JobProcessing indicates at least one chunk is not done yet.
	JobProcessing JobStatus = "processing"
	// JobCompleted indicates every chunk reached done.
	JobCompleted JobStatus = "completed"
	// JobError indicates the consecutive-failure ceiling was hit or ingest failed.
	JobError JobStatus = "error"
	// JobExpired indicates the job passed its expiry time. Server-side an
	// expired job is treated as gone; the status surfaces in client mirrors.
	JobExpired JobStatus = "expired"
)

// ChunkStatus is the state of a single unit of work.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkDone       ChunkStatus = "done"
	ChunkError      ChunkStatus = "error"
)

// Terminal reports whether a chunk can never change state again.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkDone
}

// Document describes the stored source PDF of a job.
type Document struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"file_size"`
	PageCount  int    `json:"page_count"`
	StorageKey string `json:"storage_key"`
}

// Chunk is an independently retryable page range of a job's document.
// LockedAt/LockedBy are only meaningful while Status is processing; a lock
// older than the store's stale timeout is reclaimable by another actor.
type Chunk struct {
	JobID     string      `json:"job_id"`
	Index     int         `json:"index"`
	StartPage int         `json:"start_page"`
	EndPage   int         `json:"end_page"`
	Status    ChunkStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
	LockedAt  *time.Time  `json:"locked_at,omitempty"`
	LockedBy  string      `json:"locked_by,omitempty"`
}

// Job is the authoritative record of one uploaded document and its chunks.
type Job struct {
	ID       string    `json:"id"`
	Owner    string    `json:"owner"`
	Title    string    `json:"title"`
	Document Document  `json:"document"`
	Status   JobStatus `json:"status"`
	Error    string    `json:"error,omitempty"`

	// ConsecutiveFailures is the running cross-chunk failure counter. Any
	// chunk completion resets it; hitting the ceiling aborts the job.
	ConsecutiveFailures int `json:"consecutive_failures"`

	Chunks        []Chunk `json:"chunks,omitempty"`
	QuestionCount int     `json:"question_count"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProcessedChunks counts chunks in done state.
func (j *Job) ProcessedChunks() int {
	n := 0
	for _, c := range j.Chunks {
		if c.Status == ChunkDone {
			n++
		}
	}
	return n
}

// JobSummary is the listing shape: enough for a client to decide what to
// resume, surface, or purge without fetching the full chunk list.
type JobSummary struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Status          JobStatus `json:"status"`
	TotalChunks     int       `json:"total_chunks"`
	ProcessedChunks int       `json:"processed_chunks"`
	QuestionCount   int       `json:"question_count"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ChunkOutcome reports the job-level effect of completing a chunk.
type ChunkOutcome struct {
	JobCompleted  bool `json:"job_completed"`
	QuestionCount int  `json:"question_count"`
	Added         int  `json:"added"`
}
