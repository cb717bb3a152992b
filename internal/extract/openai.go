package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds configuration for the OpenAI extraction engine.
type OpenAIConfig struct {
	Keys       *KeyRing
	Model      string        // "gpt-4o-mini" (default)
	RateLimit  int           // Requests per minute
	MaxRetries int           // Retry attempts for SDK transport
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIEngine extracts questions using the official OpenAI SDK in JSON
// mode. The API key rotates per request through the key ring.
type OpenAIEngine struct {
	keys    *KeyRing
	model   string
	baseURL string
	limiter *RateLimiter
	client  openai.Client
}

// NewOpenAIEngine creates a new OpenAI extraction engine.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Keys == nil {
		cfg.Keys = NewKeyRing()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEngine{
		keys:    cfg.Keys,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		limiter: NewRateLimiter(cfg.RateLimit),
		client:  openai.NewClient(opts...),
	}
}

// Name returns the engine identifier.
func (e *OpenAIEngine) Name() string {
	return OpenAIName
}

// Model returns the configured default model.
func (e *OpenAIEngine) Model() string {
	return e.model
}

// LimiterStatus returns the rate limiter state.
func (e *OpenAIEngine) LimiterStatus() RateLimiterStatus {
	return e.limiter.Status()
}

// Extract sends one chunk to the chat completions API and decodes the
// question array from the response.
func (e *OpenAIEngine) Extract(ctx context.Context, req *Request) (*Result, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = e.model
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(req.Prompt, req.Text, req.Attempt)),
		},
		Temperature: openai.Float(0.1),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	var callOpts []option.RequestOption
	if key := e.keys.Next(); key != "" {
		callOpts = append(callOpts, option.WithAPIKey(key))
	}

	resp, err := e.client.Chat.Completions.New(ctx, params, callOpts...)
	if err != nil {
		err = mapOpenAIError(err)
		if rle, ok := IsRateLimitError(err); ok {
			e.limiter.Record429(rle.RetryAfter)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	content := resp.Choices[0].Message.Content
	qs, dropped, err := DecodeQuestions(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode extraction output: %w", err)
	}

	return &Result{
		Questions: qs,
		Dropped:   dropped,
		Model:     string(resp.Model),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Raw: content,
	}, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		if apiErr.Message != "" {
			return fmt.Errorf("OpenAI error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("OpenAI error (status %d)", apiErr.StatusCode)
	}
	return err
}

var _ Engine = (*OpenAIEngine)(nil)
