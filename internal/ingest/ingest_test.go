package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/quizmill/quizmill/internal/home"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/testutil"
	"github.com/quizmill/quizmill/internal/types"
)

func newIngester(t *testing.T) (*Ingester, *jobstore.Store, *home.Dir) {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}
	if err := h.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	store, err := jobstore.Open(jobstore.Config{
		Path:   h.DBPath(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("jobstore.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	g := New(Config{
		Store:     store,
		Home:      h,
		ChunkSize: 5,
		Overlap:   1,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return g, store, h
}

// twelvePages returns page texts for a 12-page document.
func twelvePages() []string {
	pages := make([]string, 12)
	for i := range pages {
		pages[i] = fmt.Sprintf("Question %d. What is photosynthesis?", i+1)
	}
	return pages
}

func TestIngest_CreatesJobWithChunkPlan(t *testing.T) {
	g, _, h := newIngester(t)

	pdf := testutil.PDFBytes(twelvePages()...)
	job, err := g.Ingest(context.Background(), Request{
		Owner:    "local",
		Filename: "biology-midterm.pdf",
		File:     bytes.NewReader(pdf),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if job.Status != types.JobProcessing {
		t.Errorf("Status = %q, want %q", job.Status, types.JobProcessing)
	}
	if job.Title != "biology-midterm" {
		t.Errorf("Title = %q, want %q", job.Title, "biology-midterm")
	}
	if job.Document.PageCount != 12 {
		t.Errorf("PageCount = %d, want 12", job.Document.PageCount)
	}
	if job.Document.Filename != "biology-midterm.pdf" {
		t.Errorf("Filename = %q, want %q", job.Document.Filename, "biology-midterm.pdf")
	}
	if want := job.ID + ".pdf"; job.Document.StorageKey != want {
		t.Errorf("StorageKey = %q, want %q", job.Document.StorageKey, want)
	}
	if job.Document.Size != int64(len(pdf)) {
		t.Errorf("Size = %d, want %d", job.Document.Size, len(pdf))
	}

	// 12 pages, chunk size 5, overlap 1: [1,5] [5,9] [9,12].
	wantRanges := [][2]int{{1, 5}, {5, 9}, {9, 12}}
	if len(job.Chunks) != len(wantRanges) {
		t.Fatalf("len(Chunks) = %d, want %d", len(job.Chunks), len(wantRanges))
	}
	for i, want := range wantRanges {
		c := job.Chunks[i]
		if c.StartPage != want[0] || c.EndPage != want[1] {
			t.Errorf("chunk %d = [%d,%d], want [%d,%d]", i, c.StartPage, c.EndPage, want[0], want[1])
		}
		if c.Status != types.ChunkPending {
			t.Errorf("chunk %d status = %q, want %q", i, c.Status, types.ChunkPending)
		}
	}

	if _, err := os.Stat(h.DocPath(job.Document.StorageKey)); err != nil {
		t.Errorf("stored document missing: %v", err)
	}
}

func TestIngest_KeepsExplicitTitle(t *testing.T) {
	g, _, _ := newIngester(t)

	job, err := g.Ingest(context.Background(), Request{
		Owner:    "local",
		Title:    "Bio Midterm Review",
		Filename: "scan0001.PDF",
		File:     bytes.NewReader(testutil.PDFBytes("Question 1. Define osmosis.")),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if job.Title != "Bio Midterm Review" {
		t.Errorf("Title = %q, want %q", job.Title, "Bio Midterm Review")
	}
}

func TestIngest_RejectsNonPDF(t *testing.T) {
	g, store, _ := newIngester(t)

	_, err := g.Ingest(context.Background(), Request{
		Owner:    "local",
		Filename: "notes.txt",
		File:     strings.NewReader("plain text"),
	})
	if err == nil {
		t.Fatal("Ingest() error = nil, want rejection")
	}
	if !strings.Contains(err.Error(), "only PDF uploads") {
		t.Errorf("error = %q, want PDF rejection", err)
	}

	// Rejected before any job row was created.
	jobs, err := store.ListJobs(context.Background(), "local")
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("len(jobs) = %d, want 0", len(jobs))
	}
}

func TestIngest_FailsJobOnCorruptPDF(t *testing.T) {
	g, store, h := newIngester(t)

	_, err := g.Ingest(context.Background(), Request{
		Owner:    "local",
		Filename: "broken.pdf",
		File:     strings.NewReader("this is not a pdf"),
	})
	if err == nil {
		t.Fatal("Ingest() error = nil, want parse failure")
	}

	jobs, lerr := store.ListJobs(context.Background(), "local")
	if lerr != nil {
		t.Fatalf("ListJobs() error = %v", lerr)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}
	if jobs[0].Status != types.JobError {
		t.Errorf("Status = %q, want %q", jobs[0].Status, types.JobError)
	}
	if jobs[0].Error == "" {
		t.Error("job error message is empty")
	}

	// The failed upload's file is cleaned up.
	if _, serr := os.Stat(h.DocPath(jobs[0].ID + ".pdf")); !os.IsNotExist(serr) {
		t.Errorf("stored document still present, stat err = %v", serr)
	}
}

func TestIngester_ChunkText(t *testing.T) {
	g, _, _ := newIngester(t)

	job, err := g.Ingest(context.Background(), Request{
		Owner:    "local",
		Filename: "quiz.pdf",
		File: bytes.NewReader(testutil.PDFBytes(
			"Question 1. Name the powerhouse of the cell.",
			"Question 2. What does DNA stand for?",
			"Question 3. Define mitosis.",
		)),
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	text, err := g.ChunkText(job.Document.StorageKey, 2, 3)
	if err != nil {
		t.Fatalf("ChunkText() error = %v", err)
	}
	for _, want := range []string{"[page 2]", "[page 3]", "DNA", "mitosis"} {
		if !strings.Contains(text, want) {
			t.Errorf("ChunkText() missing %q in %q", want, text)
		}
	}
	if strings.Contains(text, "powerhouse") {
		t.Errorf("ChunkText() leaked page 1 content: %q", text)
	}
}

func TestIngester_RemoveToleratesAbsentFile(t *testing.T) {
	g, _, _ := newIngester(t)

	if err := g.Remove("never-stored.pdf"); err != nil {
		t.Errorf("Remove(absent) error = %v", err)
	}
	if err := g.Remove(""); err != nil {
		t.Errorf("Remove(empty) error = %v", err)
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"biology-midterm.pdf", "biology-midterm"},
		{"Final Exam 2024.PDF", "Final Exam 2024"},
		{"/tmp/uploads/chem.pdf", "chem"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := deriveTitle(tt.filename); got != tt.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
