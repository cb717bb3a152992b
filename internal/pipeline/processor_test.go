package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quizmill/quizmill/internal/extract"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/partition"
	"github.com/quizmill/quizmill/internal/types"
)

// stubDocs serves deterministic chunk text so ResponseFor callbacks can
// tell chunks apart by page range.
type stubDocs struct {
	empty bool
	err   error
}

func (s *stubDocs) ChunkText(_ string, startPage, endPage int) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.empty {
		return "  \n ", nil
	}
	return fmt.Sprintf("Practice questions from pages %d to %d.", startPage, endPage), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *jobstore.Store {
	t.Helper()
	st, err := jobstore.Open(jobstore.Config{
		Path:   filepath.Join(t.TempDir(), "quizmill.db"),
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestRegistry(engine extract.Engine) *extract.Registry {
	reg := extract.NewRegistry()
	reg.SetLogger(discardLogger())
	reg.Register(extract.MockName, engine)
	return reg
}

func newTestProcessor(t *testing.T, st *jobstore.Store, engine extract.Engine) *Processor {
	t.Helper()
	return New(Config{
		Store:   st,
		Engines: newTestRegistry(engine),
		Docs:    &stubDocs{},
		Logger:  discardLogger(),
	})
}

func seedJob(t *testing.T, st *jobstore.Store, pages, chunkSize, overlap int) *types.Job {
	t.Helper()
	ctx := context.Background()
	job, err := st.CreateJob(ctx, "", "Sample Exam")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	plan, err := partition.Plan(pages, chunkSize, overlap)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	job, err = st.AttachDocument(ctx, job.ID, types.Document{
		Filename:   "exam.pdf",
		Size:       2048,
		PageCount:  pages,
		StorageKey: job.ID + ".pdf",
	}, plan)
	if err != nil {
		t.Fatalf("AttachDocument() error = %v", err)
	}
	return job
}

func capitalQuestion(text string) types.Question {
	return types.Question{
		Text:         text,
		Options:      []string{"Paris", "Rome", "Berlin", "Madrid"},
		Type:         types.QuestionSingle,
		CorrectIndex: 0,
	}
}

func TestProcessChunk_MergesQuestions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := extract.NewMockEngine()
	engine.Questions = []types.Question{
		capitalQuestion("What is the capital of France?"),
		capitalQuestion("What is the capital of Italy?"),
	}
	p := newTestProcessor(t, st, engine)
	job := seedJob(t, st, 12, 5, 1)

	res, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	if err != nil {
		t.Fatalf("ProcessChunk() error = %v", err)
	}
	if res.Added != 2 || res.QuestionCount != 2 {
		t.Errorf("Added = %d, QuestionCount = %d, want 2 and 2", res.Added, res.QuestionCount)
	}
	if res.Extracted != 2 || res.Invalid != 0 {
		t.Errorf("Extracted = %d, Invalid = %d, want 2 and 0", res.Extracted, res.Invalid)
	}
	if res.JobCompleted {
		t.Error("JobCompleted = true for a job with pending chunks")
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Chunks[0].Status != types.ChunkDone {
		t.Errorf("chunk status = %q, want %q", got.Chunks[0].Status, types.ChunkDone)
	}

	qs, err := st.Questions(ctx, job.ID)
	if err != nil {
		t.Fatalf("Questions() error = %v", err)
	}
	for _, q := range qs {
		if q.Hash == "" {
			t.Errorf("question %q stored without hash", q.Text)
		}
	}

	usage, err := st.JobUsage(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobUsage() error = %v", err)
	}
	if usage.Calls != 1 || usage.Failures != 0 {
		t.Errorf("usage = %d calls %d failures, want 1 and 0", usage.Calls, usage.Failures)
	}
	if usage.TotalTokens == 0 {
		t.Error("usage recorded zero tokens")
	}
}

func TestProcessChunk_DeduplicatesAcrossChunks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := extract.NewMockEngine()
	engine.ResponseFor = func(req *extract.Request) []types.Question {
		switch {
		case strings.Contains(req.Text, "pages 1 to 5"):
			return []types.Question{
				capitalQuestion("What is the capital of France?"),
				capitalQuestion("What is the capital of Italy?"),
			}
		case strings.Contains(req.Text, "pages 5 to 9"):
			// The Italy question re-read from the shared page, options
			// shuffled and text re-cased.
			return []types.Question{
				{
					Text:         "  what is the capital of italy?  ",
					Options:      []string{"Madrid", "Berlin", "Rome", "Paris"},
					Type:         types.QuestionSingle,
					CorrectIndex: 2,
				},
				capitalQuestion("What is the capital of Spain?"),
			}
		default:
			return []types.Question{capitalQuestion("What is the capital of Germany?")}
		}
	}
	p := newTestProcessor(t, st, engine)
	job := seedJob(t, st, 12, 5, 1)

	first, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	if err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if first.Added != 2 {
		t.Errorf("chunk 0 Added = %d, want 2", first.Added)
	}

	second, err := p.ProcessChunk(ctx, job.ID, 1, "actor-a")
	if err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	if second.Added != 1 {
		t.Errorf("chunk 1 Added = %d, want 1 with the overlap duplicate collapsed", second.Added)
	}
	if second.Extracted != 2 {
		t.Errorf("chunk 1 Extracted = %d, want 2", second.Extracted)
	}

	third, err := p.ProcessChunk(ctx, job.ID, 2, "actor-a")
	if err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	if !third.JobCompleted {
		t.Error("JobCompleted = false after the final chunk")
	}
	if third.QuestionCount != 4 {
		t.Errorf("QuestionCount = %d, want 4", third.QuestionCount)
	}

	qs, err := st.Questions(ctx, job.ID)
	if err != nil {
		t.Fatalf("Questions() error = %v", err)
	}
	want := []string{
		"What is the capital of France?",
		"What is the capital of Italy?",
		"What is the capital of Spain?",
		"What is the capital of Germany?",
	}
	for i, text := range want {
		if qs[i].Text != text {
			t.Errorf("question[%d].Text = %q, want %q", i, qs[i].Text, text)
		}
	}
	// The first-seen copy wins, so the Italy question stays as chunk 0
	// produced it.
	if qs[1].ChunkIndex != 0 {
		t.Errorf("duplicate kept ChunkIndex = %d, want 0", qs[1].ChunkIndex)
	}
	if qs[1].Options[0] != "Paris" {
		t.Errorf("duplicate kept Options[0] = %q, want first-seen order", qs[1].Options[0])
	}
}

func TestProcessChunk_InvalidQuestionsDropped(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := extract.NewMockEngine()
	engine.ResponseFor = func(req *extract.Request) []types.Question {
		return []types.Question{
			capitalQuestion("Which planet is closest to the sun?"),
			{Text: "", Options: []string{"A", "B"}, Type: types.QuestionSingle},
			{Text: "Only one option", Options: []string{"A"}, Type: types.QuestionSingle},
			{Text: "Essay prompt", Options: []string{"A", "B"}, Type: "essay"},
		}
	}
	p := newTestProcessor(t, st, engine)
	job := seedJob(t, st, 4, 5, 1)

	res, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	if err != nil {
		t.Fatalf("ProcessChunk() error = %v", err)
	}
	if res.Extracted != 4 || res.Invalid != 3 || res.Added != 1 {
		t.Errorf("Extracted/Invalid/Added = %d/%d/%d, want 4/3/1",
			res.Extracted, res.Invalid, res.Added)
	}
	if !res.JobCompleted {
		t.Error("single-chunk job should complete despite dropped questions")
	}
}

func TestProcessChunk_AllInvalidFailsChunk(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := extract.NewMockEngine()
	engine.ResponseFor = func(req *extract.Request) []types.Question {
		return []types.Question{
			{Text: "", Options: []string{"A", "B"}, Type: types.QuestionSingle},
			{Text: "Broken", Options: []string{"A", "B"}, Type: types.QuestionSingle, CorrectIndex: 9},
		}
	}
	p := newTestProcessor(t, st, engine)
	job := seedJob(t, st, 12, 5, 1)

	_, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	var cfe *ChunkFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("error = %v, want ChunkFailedError", err)
	}
	if cfe.JobFailed {
		t.Error("JobFailed = true on the first failure")
	}
	if !strings.Contains(cfe.Reason, "no questions survived validation (2 extracted, 2 invalid)") {
		t.Errorf("Reason = %q, want validation summary", cfe.Reason)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Chunks[0].Status != types.ChunkError {
		t.Errorf("chunk status = %q, want %q", got.Chunks[0].Status, types.ChunkError)
	}
	if got.Chunks[0].Error == "" {
		t.Error("chunk error message not recorded")
	}
}

func TestProcessChunk_RateLimitKeepsClaim(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := extract.NewMockEngine()
	engine.RateLimited = true
	engine.RetryAfter = 5 * time.Second
	p := newTestProcessor(t, st, engine)
	job := seedJob(t, st, 12, 5, 1)

	_, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	rle, ok := extract.IsRateLimitError(err)
	if !ok {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rle.RetryAfter != 5*time.Second {
		t.Errorf("RetryAfter = %s, want 5s", rle.RetryAfter)
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Chunks[0].Status != types.ChunkProcessing {
		t.Errorf("chunk status = %q, want still processing", got.Chunks[0].Status)
	}
	if got.Chunks[0].LockedBy != "actor-a" {
		t.Errorf("LockedBy = %q, want actor-a", got.Chunks[0].LockedBy)
	}
	if got.Chunks[0].Error != "" {
		t.Errorf("chunk error = %q, want empty after rate limit", got.Chunks[0].Error)
	}

	// Another actor cannot steal the claim.
	_, err = st.ClaimChunk(ctx, job.ID, 0, "actor-b")
	var lce *jobstore.LockConflictError
	if !errors.As(err, &lce) {
		t.Fatalf("other actor claim error = %v, want LockConflictError", err)
	}

	// The original actor retries once the provider recovers.
	engine.RateLimited = false
	res, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Added != 1 {
		t.Errorf("retry Added = %d, want 1", res.Added)
	}
}

func TestProcessChunk_FailureCeilingAbortsJob(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := extract.NewMockEngine()
	p := newTestProcessor(t, st, engine)
	job := seedJob(t, st, 12, 5, 1)

	// Bank one chunk of results so the abort keeps partial output.
	if _, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a"); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}

	engine.ShouldFail = true
	for i := 1; i <= 3; i++ {
		_, err := p.ProcessChunk(ctx, job.ID, 1, "actor-a")
		var cfe *ChunkFailedError
		if !errors.As(err, &cfe) {
			t.Fatalf("failure %d: error = %v, want ChunkFailedError", i, err)
		}
		if want := i == 3; cfe.JobFailed != want {
			t.Errorf("failure %d: JobFailed = %v, want %v", i, cfe.JobFailed, want)
		}
	}

	got, err := st.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.Status != types.JobError {
		t.Errorf("job status = %q, want %q", got.Status, types.JobError)
	}
	if !strings.Contains(got.Error, "aborted after 3 consecutive chunk failures") {
		t.Errorf("job error = %q, want abort message", got.Error)
	}
	if got.QuestionCount != 1 {
		t.Errorf("QuestionCount = %d, want partial results retained", got.QuestionCount)
	}
}

func TestProcessChunk_DoneChunkRefused(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestProcessor(t, st, extract.NewMockEngine())
	job := seedJob(t, st, 4, 5, 1)

	if _, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a"); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	_, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	if !errors.Is(err, jobstore.ErrChunkDone) {
		t.Errorf("error = %v, want ErrChunkDone", err)
	}
}

func TestProcessChunk_MissingJob(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestProcessor(t, st, extract.NewMockEngine())

	_, err := p.ProcessChunk(ctx, "no-such-job", 0, "actor-a")
	if !errors.Is(err, jobstore.ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}
}

func TestProcessChunk_EmptyChunkText(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := New(Config{
		Store:   st,
		Engines: newTestRegistry(extract.NewMockEngine()),
		Docs:    &stubDocs{empty: true},
		Logger:  discardLogger(),
	})
	job := seedJob(t, st, 12, 5, 1)

	_, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	var cfe *ChunkFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("error = %v, want ChunkFailedError", err)
	}
	if !strings.Contains(cfe.Reason, "no text on pages 1-5") {
		t.Errorf("Reason = %q, want page range in message", cfe.Reason)
	}
}

func TestProcessChunk_SettingsSelectEngine(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	primary := extract.NewMockEngine()
	alt := extract.NewMockEngine()
	var gotReq extract.Request
	alt.ResponseFor = func(req *extract.Request) []types.Question {
		gotReq = *req
		return []types.Question{capitalQuestion("Which shape has three sides?")}
	}

	reg := newTestRegistry(primary)
	reg.Register("alt", alt)
	p := New(Config{Store: st, Engines: reg, Docs: &stubDocs{}, Logger: discardLogger()})
	job := seedJob(t, st, 4, 5, 1)

	for key, value := range map[string]string{
		jobstore.SettingProvider: "alt",
		jobstore.SettingModel:    "gpt-extract-2",
		jobstore.SettingPrompt:   "Extract only geometry questions.",
	} {
		if err := st.SetSetting(ctx, key, value); err != nil {
			t.Fatalf("SetSetting(%s) error = %v", key, err)
		}
	}

	if _, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a"); err != nil {
		t.Fatalf("ProcessChunk() error = %v", err)
	}
	if primary.RequestCount() != 0 {
		t.Errorf("default engine handled %d requests, want 0", primary.RequestCount())
	}
	if alt.RequestCount() != 1 {
		t.Errorf("override engine handled %d requests, want 1", alt.RequestCount())
	}
	if gotReq.Model != "gpt-extract-2" {
		t.Errorf("request model = %q, want override", gotReq.Model)
	}
	if gotReq.Prompt != "Extract only geometry questions." {
		t.Errorf("request prompt = %q, want override", gotReq.Prompt)
	}

	qs, err := st.Questions(ctx, job.ID)
	if err != nil {
		t.Fatalf("Questions() error = %v", err)
	}
	if len(qs) != 1 || qs[0].Text != "Which shape has three sides?" {
		t.Errorf("stored questions = %+v, want the override engine's output", qs)
	}
}

// flakyEngine fails its first N calls, then delegates to the mock.
type flakyEngine struct {
	*extract.MockEngine
	failFirst int
	calls     int
}

func (e *flakyEngine) Extract(ctx context.Context, req *extract.Request) (*extract.Result, error) {
	e.calls++
	if e.calls <= e.failFirst {
		return nil, fmt.Errorf("truncated response")
	}
	return e.MockEngine.Extract(ctx, req)
}

func TestProcessChunk_RetriesFailedExtraction(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	engine := &flakyEngine{MockEngine: extract.NewMockEngine(), failFirst: 1}
	var attempts []int
	engine.ResponseFor = func(req *extract.Request) []types.Question {
		attempts = append(attempts, req.Attempt)
		return engine.Questions
	}
	p := newTestProcessor(t, st, engine)
	job := seedJob(t, st, 4, 5, 1)

	res, err := p.ProcessChunk(ctx, job.ID, 0, "actor-a")
	if err != nil {
		t.Fatalf("ProcessChunk() error = %v", err)
	}
	if res.Added != 1 {
		t.Errorf("Added = %d, want 1", res.Added)
	}
	if engine.calls != 2 {
		t.Errorf("engine called %d times, want a retry after the failure", engine.calls)
	}
	// The successful call carries the retry attempt number, which the
	// real engines use to append a strict formatting reminder.
	if len(attempts) != 1 || attempts[0] != 2 {
		t.Errorf("successful attempts = %v, want [2]", attempts)
	}

	usage, err := st.JobUsage(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobUsage() error = %v", err)
	}
	if usage.Calls != 2 || usage.Failures != 1 {
		t.Errorf("usage = %d calls %d failures, want both attempts recorded", usage.Calls, usage.Failures)
	}
}
