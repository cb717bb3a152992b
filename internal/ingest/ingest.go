// Package ingest turns uploaded PDFs into extraction jobs: store the
// file under the home docs directory, count its pages, plan the
// overlapping chunks, and attach everything to a job record.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quizmill/quizmill/internal/home"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/partition"
	"github.com/quizmill/quizmill/internal/pdftext"
	"github.com/quizmill/quizmill/internal/types"
)

const (
	// DefaultChunkSize is the page count per chunk when config does not
	// override it.
	DefaultChunkSize = 10

	// DefaultOverlap is the page count adjacent chunks share.
	DefaultOverlap = 2
)

// Config wires an ingester.
type Config struct {
	Store     *jobstore.Store
	Home      *home.Dir
	ChunkSize int
	Overlap   int
	Logger    *slog.Logger
}

// Ingester stores uploads and creates jobs with their chunk plan. It
// also serves stored documents back to the processing pipeline as
// per-chunk text.
type Ingester struct {
	store     *jobstore.Store
	home      *home.Dir
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// New creates an ingester.
func New(cfg Config) *Ingester {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingester{
		store:     cfg.Store,
		home:      cfg.Home,
		chunkSize: cfg.ChunkSize,
		overlap:   cfg.Overlap,
		logger:    cfg.Logger,
	}
}

// Request describes one uploaded document.
type Request struct {
	Owner    string
	Title    string
	Filename string
	File     io.Reader
}

// Ingest saves the upload, counts its pages, and creates a job whose
// chunks cover every page. Once the job row exists any failure marks it
// error and removes the stored file, so partial uploads are visible but
// never processable.
func (g *Ingester) Ingest(ctx context.Context, req Request) (*types.Job, error) {
	if !strings.EqualFold(filepath.Ext(req.Filename), ".pdf") {
		return nil, fmt.Errorf("only PDF uploads are supported, got %q", req.Filename)
	}
	title := req.Title
	if title == "" {
		title = deriveTitle(req.Filename)
	}

	job, err := g.store.CreateJob(ctx, req.Owner, title)
	if err != nil {
		return nil, err
	}

	storageKey := job.ID + ".pdf"
	size, err := g.save(g.home.DocPath(storageKey), req.File)
	if err != nil {
		return nil, g.fail(ctx, job.ID, storageKey, fmt.Errorf("failed to store upload: %w", err))
	}

	pageCount, err := pdftext.PageCount(g.home.DocPath(storageKey))
	if err != nil {
		return nil, g.fail(ctx, job.ID, storageKey, fmt.Errorf("unreadable PDF: %w", err))
	}

	plan, err := partition.Plan(pageCount, g.chunkSize, g.overlap)
	if err != nil {
		return nil, g.fail(ctx, job.ID, storageKey, fmt.Errorf("failed to plan chunks: %w", err))
	}

	doc := types.Document{
		Filename:   filepath.Base(req.Filename),
		Size:       size,
		PageCount:  pageCount,
		StorageKey: storageKey,
	}
	attached, err := g.store.AttachDocument(ctx, job.ID, doc, plan)
	if err != nil {
		return nil, g.fail(ctx, job.ID, storageKey, err)
	}

	g.logger.Info("document ingested",
		"job_id", job.ID, "file", doc.Filename,
		"pages", pageCount, "chunks", len(plan))
	return attached, nil
}

// ChunkText returns the text of a stored document's page range. This is
// the document source the processing pipeline reads from.
func (g *Ingester) ChunkText(storageKey string, startPage, endPage int) (string, error) {
	return pdftext.ExtractRange(g.home.DocPath(storageKey), startPage, endPage)
}

// Remove unlinks a stored document. Absent files are fine; delete and
// sweep flows call this for jobs whose files may already be gone.
func (g *Ingester) Remove(storageKey string) error {
	if storageKey == "" {
		return nil
	}
	if err := os.Remove(g.home.DocPath(storageKey)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}

func (g *Ingester) save(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// fail marks the job errored, removes the stored file, and passes the
// cause through.
func (g *Ingester) fail(ctx context.Context, jobID, storageKey string, cause error) error {
	g.logger.Warn("ingest failed", "job_id", jobID, "error", cause)
	if err := g.store.FailJob(ctx, jobID, cause.Error()); err != nil {
		g.logger.Warn("failed to record ingest failure", "job_id", jobID, "error", err)
	}
	if err := g.Remove(storageKey); err != nil {
		g.logger.Warn("failed to remove stored document", "job_id", jobID, "error", err)
	}
	return cause
}

// deriveTitle extracts a title from an uploaded file name.
// e.g., "biology-midterm.pdf" -> "biology-midterm"
func deriveTitle(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
