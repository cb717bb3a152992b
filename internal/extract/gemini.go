package extract

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	GeminiName         = "gemini"
	geminiDefaultModel = "gemini-1.5-flash"
)

// GeminiConfig holds configuration for the Gemini extraction engine.
type GeminiConfig struct {
	Keys      *KeyRing
	Model     string // "gemini-1.5-flash" (default)
	RateLimit int    // Requests per minute
	Attempts  int    // Call attempts per extraction
}

// GeminiEngine extracts questions with Google's Generative AI SDK. The
// native response schema keeps the model on format. Clients are created
// lazily per API key and cached so key rotation does not rebuild
// transports.
type GeminiEngine struct {
	keys     *KeyRing
	model    string
	limiter  *RateLimiter
	attempts int

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiEngine creates a new Gemini extraction engine.
func NewGeminiEngine(cfg GeminiConfig) *GeminiEngine {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Keys == nil {
		cfg.Keys = NewKeyRing()
	}
	return &GeminiEngine{
		keys:     cfg.Keys,
		model:    cfg.Model,
		limiter:  NewRateLimiter(cfg.RateLimit),
		attempts: cfg.Attempts,
		clients:  make(map[string]*genai.Client),
	}
}

// Name returns the engine identifier.
func (e *GeminiEngine) Name() string {
	return GeminiName
}

// Model returns the configured default model.
func (e *GeminiEngine) Model() string {
	return e.model
}

// LimiterStatus returns the rate limiter state.
func (e *GeminiEngine) LimiterStatus() RateLimiterStatus {
	return e.limiter.Status()
}

// Close releases all cached clients.
func (e *GeminiEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, c := range e.clients {
		_ = c.Close()
		delete(e.clients, key)
	}
	return nil
}

func (e *GeminiEngine) client(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[key]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	e.clients[key] = c
	return c, nil
}

// questionResponseSchema constrains Gemini output to an array of
// question objects.
func questionResponseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"text":            {Type: genai.TypeString},
				"options":         {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
				"type":            {Type: genai.TypeString},
				"correct_index":   {Type: genai.TypeInteger},
				"correct_indexes": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeInteger}},
			},
			Required: []string{"text", "options", "type"},
		},
	}
}

// Extract sends one chunk to Gemini and decodes the question array from
// the response. Transient failures are retried before reporting.
func (e *GeminiEngine) Extract(ctx context.Context, req *Request) (*Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	key := e.keys.Next()
	if key == "" {
		return nil, fmt.Errorf("no gemini API key configured")
	}
	client, err := e.client(ctx, key)
	if err != nil {
		return nil, err
	}

	modelName := req.Model
	if modelName == "" {
		modelName = e.model
	}

	model := client.GenerativeModel(modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = questionResponseSchema()
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	prompt := BuildPrompt(req.Prompt, req.Text, req.Attempt)

	var resp *genai.GenerateContentResponse
	err = retry.Do(
		func() error {
			var callErr error
			resp, callErr = model.GenerateContent(ctx, genai.Text(prompt))
			return callErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(e.attempts)),
		retry.Delay(2*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if strings.Contains(err.Error(), "429") || strings.Contains(err.Error(), "quota") {
			e.limiter.Record429(5 * time.Second)
			return nil, &RateLimitError{
				Message:    fmt.Sprintf("Gemini rate limited: %v", err),
				StatusCode: 429,
			}
		}
		return nil, fmt.Errorf("gemini generate failed: %w", err)
	}

	content := joinTextParts(resp)
	if content == "" {
		return nil, fmt.Errorf("empty gemini response")
	}

	qs, dropped, err := DecodeQuestions(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode extraction output: %w", err)
	}

	result := &Result{
		Questions: qs,
		Dropped:   dropped,
		Model:     modelName,
		Raw:       content,
	}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return result, nil
}

func joinTextParts(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				sb.WriteString(string(txt))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

var _ Engine = (*GeminiEngine)(nil)
