package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/driver"
	"github.com/quizmill/quizmill/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func processingJob(id string, done, total int) *types.Job {
	now := time.Now().UTC()
	chunks := make([]types.Chunk, total)
	for i := range chunks {
		status := types.ChunkPending
		if i < done {
			status = types.ChunkDone
		}
		chunks[i] = types.Chunk{
			JobID: id, Index: i,
			StartPage: i*4 + 1, EndPage: i*4 + 5,
			Status: status,
		}
	}
	return &types.Job{
		ID: id, Title: "Exam " + id, Status: types.JobProcessing,
		QuestionCount: done * 2,
		Chunks:        chunks,
		CreatedAt:     now, ExpiresAt: now.Add(24 * time.Hour),
	}
}

func completedJob(id string, total int) *types.Job {
	j := processingJob(id, total, total)
	j.Status = types.JobCompleted
	return j
}

// fakeServer is a minimal job API: list, get, process, delete.
// Processing a chunk marks it done and adds two questions.
type fakeServer struct {
	srv *httptest.Server

	mu        sync.Mutex
	jobs      map[string]*types.Job
	processed []string // "jobID/index" in call order
	deleted   []string

	// deleteStatus, when set, fails DELETE with that code.
	deleteStatus int
	// block, when set, holds process calls until closed.
	block chan struct{}
}

func newFakeServer(t *testing.T, jobs ...*types.Job) *fakeServer {
	t.Helper()
	f := &fakeServer{jobs: make(map[string]*types.Job)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", f.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", f.getJob)
	mux.HandleFunc("POST /api/jobs/{id}/chunks/{index}/process", f.processChunk)
	mux.HandleFunc("DELETE /api/jobs/{id}", f.deleteJob)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) listJobs(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	summaries := make([]types.JobSummary, 0, len(f.jobs))
	for _, j := range f.jobs {
		summaries = append(summaries, types.JobSummary{
			ID: j.ID, Title: j.Title, Status: j.Status,
			TotalChunks:     len(j.Chunks),
			ProcessedChunks: j.ProcessedChunks(),
			QuestionCount:   j.QuestionCount,
			CreatedAt:       j.CreatedAt, ExpiresAt: j.ExpiresAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	json.NewEncoder(w).Encode(map[string]any{"jobs": summaries})
}

func (f *fakeServer) getJob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
		return
	}
	json.NewEncoder(w).Encode(job)
}

func (f *fakeServer) processChunk(w http.ResponseWriter, r *http.Request) {
	// Drain the body first: the server only detects a client disconnect
	// (and cancels r.Context()) once the request body has been consumed,
	// and without it srv.Close hangs on the blocked handler.
	io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
		return
	}

	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 || index >= len(job.Chunks) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "chunk not found"})
		return
	}
	job.Chunks[index].Status = types.ChunkDone
	job.QuestionCount += 2
	f.processed = append(f.processed, job.ID+"/"+r.PathValue("index"))

	completed := job.ProcessedChunks() == len(job.Chunks)
	if completed {
		job.Status = types.JobCompleted
	}
	json.NewEncoder(w).Encode(types.ProcessResponse{
		Status:        types.ProcessStatusAccepted,
		JobCompleted:  completed,
		QuestionCount: job.QuestionCount,
		Added:         2,
		Extracted:     2,
	})
}

func (f *fakeServer) deleteJob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := r.PathValue("id")
	f.deleted = append(f.deleted, id)

	if f.deleteStatus != 0 {
		w.WriteHeader(f.deleteStatus)
		json.NewEncoder(w).Encode(map[string]string{"error": "delete refused"})
		return
	}
	if _, ok := f.jobs[id]; !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
		return
	}
	delete(f.jobs, id)
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func (f *fakeServer) processedCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

func (f *fakeServer) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func newTestController(t *testing.T, f *fakeServer, m *Mirror) *Controller {
	t.Helper()
	c := NewController(ControllerConfig{
		Client: api.NewClient(f.srv.URL),
		Mirror: m,
		Actor:  "test-actor",
		Policy: driver.Policy{Base: time.Millisecond, Max: 5 * time.Millisecond},
		Delay:  time.Millisecond,
		Logger: discardLogger(),
	})
	t.Cleanup(c.Shutdown)
	return c
}

func TestSync_ResumesUnfinishedJobs(t *testing.T) {
	f := newFakeServer(t, processingJob("job-a", 1, 3), completedJob("job-b", 2))
	m := testMirror(t)
	c := newTestController(t, f, m)

	report, err := c.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Jobs != 2 {
		t.Errorf("Jobs = %d, want 2", report.Jobs)
	}
	if report.Resumed != 1 {
		t.Errorf("Resumed = %d, want 1", report.Resumed)
	}

	waitFor(t, "driver to finish", func() bool { return !c.Running("job-a") })

	got := f.processedCalls()
	want := []string{"job-a/1", "job-a/2"}
	if len(got) != len(want) {
		t.Fatalf("processed calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("processed calls = %v, want %v", got, want)
		}
	}

	e, ok := m.Get("job-a")
	if !ok {
		t.Fatal("job-a missing from mirror")
	}
	if e.Status != types.JobCompleted {
		t.Errorf("mirror status = %q, want %q", e.Status, types.JobCompleted)
	}
	if e.ProcessedChunks != 3 {
		t.Errorf("mirror processed chunks = %d, want 3", e.ProcessedChunks)
	}
	if _, ok := m.Get("job-b"); !ok {
		t.Error("job-b missing from mirror after sync")
	}
}

func TestSync_DropsAbsentMirrorEntries(t *testing.T) {
	m := testMirror(t)
	if err := m.Put(entry("job-stale", types.JobProcessing, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	f := newFakeServer(t, completedJob("job-b", 2))
	c := newTestController(t, f, m)

	report, err := c.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if report.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", report.Dropped)
	}
	if _, ok := m.Get("job-stale"); ok {
		t.Error("stale mirror entry survived sync")
	}
	if _, ok := m.Get("job-b"); !ok {
		t.Error("server job missing from mirror after sync")
	}
}

func TestResume_OneDriverPerJob(t *testing.T) {
	f := newFakeServer(t, processingJob("job-a", 0, 2))
	f.block = make(chan struct{})
	m := testMirror(t)
	c := newTestController(t, f, m)

	if !c.Resume(context.Background(), "job-a") {
		t.Fatal("first Resume did not start a driver")
	}
	if c.Resume(context.Background(), "job-a") {
		t.Error("second Resume started a duplicate driver")
	}
	if got := c.RunningJobs(); len(got) != 1 || got[0] != "job-a" {
		t.Errorf("RunningJobs() = %v, want [job-a]", got)
	}

	close(f.block)
	waitFor(t, "driver to finish", func() bool { return !c.Running("job-a") })

	// A settled job can be picked up again.
	if !c.Resume(context.Background(), "job-a") {
		t.Error("Resume after completion did not start a driver")
	}
}

func TestStop_CancelsDriverAndDeletesJob(t *testing.T) {
	f := newFakeServer(t, processingJob("job-a", 0, 3))
	f.block = make(chan struct{})
	m := testMirror(t)
	c := newTestController(t, f, m)

	c.Resume(context.Background(), "job-a")
	waitFor(t, "driver to report job state", func() bool {
		_, ok := m.Get("job-a")
		return ok
	})

	if err := c.Stop(context.Background(), "job-a"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitFor(t, "driver to wind down", func() bool { return !c.Running("job-a") })

	if _, ok := m.Get("job-a"); ok {
		t.Error("mirror entry survived Stop")
	}
	deleted := f.deletedIDs()
	if len(deleted) != 1 || deleted[0] != "job-a" {
		t.Errorf("server deletes = %v, want [job-a]", deleted)
	}
}

func TestStop_ClearsLocalStateWhenDeleteFails(t *testing.T) {
	f := newFakeServer(t, processingJob("job-a", 0, 2))
	f.deleteStatus = http.StatusInternalServerError
	m := testMirror(t)
	if err := m.Put(entry("job-a", types.JobProcessing, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, f, m)

	err := c.Stop(context.Background(), "job-a")
	if err == nil {
		t.Fatal("Stop() did not report the failed server delete")
	}
	if !strings.Contains(err.Error(), "server delete failed") {
		t.Errorf("Stop() error = %q, want it to mention the server delete", err)
	}

	// Local state is gone regardless, so a fresh attempt can start.
	if _, ok := m.Get("job-a"); ok {
		t.Error("mirror entry survived Stop with a failing server")
	}
}

func TestStop_ToleratesMissingServerJob(t *testing.T) {
	f := newFakeServer(t)
	m := testMirror(t)
	if err := m.Put(entry("job-a", types.JobCompleted, time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, f, m)

	if err := c.Stop(context.Background(), "job-a"); err != nil {
		t.Errorf("Stop() error = %v, want nil for an already gone job", err)
	}
	if _, ok := m.Get("job-a"); ok {
		t.Error("mirror entry survived Stop")
	}
}

func TestRun_PurgesExpiredEntries(t *testing.T) {
	// job-old expires just after the initial sync, so the purge tick has
	// to trim it without any further server contact.
	soon := completedJob("job-old", 2)
	soon.ExpiresAt = time.Now().UTC().Add(30 * time.Millisecond)
	live := completedJob("job-live", 2)
	f := newFakeServer(t, soon, live)

	m := testMirror(t)
	c := NewController(ControllerConfig{
		Client:        api.NewClient(f.srv.URL),
		Mirror:        m,
		PurgeInterval: 10 * time.Millisecond,
		Logger:        discardLogger(),
	})
	t.Cleanup(c.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "expired entry to be purged", func() bool {
		_, ok := m.Get("job-old")
		return !ok
	})
	if _, ok := m.Get("job-live"); !ok {
		t.Error("live entry purged")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
