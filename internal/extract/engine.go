// Package extract turns chunk text into candidate quiz questions using
// LLM providers. Engines share one interface so the pipeline does not
// care which provider answers; a registry supports config-driven
// instantiation and hot reload.
package extract

import (
	"context"

	"github.com/quizmill/quizmill/internal/types"
)

// Request is a single extraction call for one chunk of document text.
type Request struct {
	// Text is the chunk's page text, including page markers.
	Text string

	// Prompt overrides the default extraction instructions when set.
	Prompt string

	// Model overrides the engine's default model when set.
	Model string

	// Attempt is 1-based. Past the first attempt engines append a
	// strict-JSON reminder to the prompt.
	Attempt int
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result carries the candidate questions decoded from one model
// response. Candidates passed the structural schema only; the pipeline
// still validates their semantics.
type Result struct {
	Questions []types.Question `json:"questions"`
	Dropped   int              `json:"dropped,omitempty"` // elements that failed the schema
	Model     string           `json:"model"`
	Usage     Usage            `json:"usage"`
	Raw       string           `json:"-"`
}

// Engine is a question extraction backend.
type Engine interface {
	// Name returns the engine identifier, e.g. "openai".
	Name() string

	// Model returns the default model.
	Model() string

	// Extract sends one chunk of text and decodes the questions the
	// model found in it.
	Extract(ctx context.Context, req *Request) (*Result, error)
}
