package extract

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/quizmill/quizmill/internal/types"
)

const MockName = "mock"

// MockEngine is an Engine for testing.
type MockEngine struct {
	// Configurable behavior
	Latency     time.Duration
	ShouldFail  bool
	FailAfter   int           // Fail after N requests (0 = never)
	RateLimited bool          // Return a RateLimitError
	RetryAfter  time.Duration // Suggested delay on rate limit errors
	Questions   []types.Question

	// ResponseFor overrides Questions per request when set.
	ResponseFor func(req *Request) []types.Question

	// State
	requestCount atomic.Int64
}

// NewMockEngine creates a mock engine with sensible defaults.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		Latency: time.Millisecond,
		Questions: []types.Question{
			{
				Text:         "What is the capital of France?",
				Options:      []string{"Paris", "Rome", "Berlin", "Madrid"},
				Type:         types.QuestionSingle,
				CorrectIndex: 0,
			},
		},
	}
}

// Name returns the engine identifier.
func (e *MockEngine) Name() string {
	return MockName
}

// Model returns the mock model name.
func (e *MockEngine) Model() string {
	return "mock-model"
}

// Extract returns the configured questions after the configured latency.
func (e *MockEngine) Extract(ctx context.Context, req *Request) (*Result, error) {
	count := e.requestCount.Add(1)

	if e.ShouldFail {
		return nil, fmt.Errorf("mock engine configured to fail")
	}
	if e.FailAfter > 0 && int(count) > e.FailAfter {
		return nil, fmt.Errorf("mock engine failed after %d requests", e.FailAfter)
	}
	if e.RateLimited {
		return nil, &RateLimitError{
			Message:    "mock engine rate limited",
			RetryAfter: e.RetryAfter,
			StatusCode: 429,
		}
	}

	select {
	case <-time.After(e.Latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	qs := e.Questions
	if e.ResponseFor != nil {
		qs = e.ResponseFor(req)
	}

	// Rough token estimate
	promptTokens := len(req.Text) / 4
	completionTokens := 0
	for _, q := range qs {
		completionTokens += len(q.Text) / 4
	}

	return &Result{
		Questions: append([]types.Question(nil), qs...),
		Model:     "mock-model",
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// RequestCount returns the number of requests made.
func (e *MockEngine) RequestCount() int64 {
	return e.requestCount.Load()
}

// Reset resets the request counter.
func (e *MockEngine) Reset() {
	e.requestCount.Store(0)
}

// Verify interface
var _ Engine = (*MockEngine)(nil)
