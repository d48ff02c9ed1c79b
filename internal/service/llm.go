package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// Supported provider wire formats.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

const anthropicVersion = "2023-06-01"

// TextCompleter is a single system+user prompt completion against an external model.
type TextCompleter interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// LLMService calls an OpenAI-compatible or Anthropic text completion API.
type LLMService struct {
	client        *resty.Client
	provider      string
	model         string
	apiKey        string
	endpoint      string
	maxTokens     int
	temperature   float64
	retries       uint64
	retryInterval time.Duration
}

// LLMConfig holds configuration for the LLM service.
type LLMConfig struct {
	Provider         string
	Model            string
	APIKey           string
	BaseURL          string
	Timeout          time.Duration
	MaxTokens        int
	Temperature      float64
	TransportRetries int
}

// NewLLMService creates a new LLM service.
// Parameters:
//   - cfg: provider, model, credentials and transport settings.
//
// Returns:
//   - *LLMService: client wrapper; check IsConfigured before use.
func NewLLMService(cfg *LLMConfig) *LLMService {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	var endpoint string
	switch provider {
	case ProviderAnthropic:
		if baseURL == "" {
			baseURL = "https://api.anthropic.com/v1"
		}
		client.SetHeader("x-api-key", cfg.APIKey)
		client.SetHeader("anthropic-version", anthropicVersion)
		endpoint = baseURL + "/messages"
	default:
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
		endpoint = baseURL + "/chat/completions"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 16000
	}
	retries := cfg.TransportRetries
	if retries < 0 {
		retries = 0
	}

	return &LLMService{
		client:        client,
		provider:      provider,
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		endpoint:      endpoint,
		maxTokens:     maxTokens,
		temperature:   cfg.Temperature,
		retries:       uint64(retries),
		retryInterval: 500 * time.Millisecond,
	}
}

// IsConfigured reports whether the service has credentials and a model.
func (s *LLMService) IsConfigured() bool {
	return s != nil && s.apiKey != "" && s.model != ""
}

// GetModel returns the model name being used.
func (s *LLMService) GetModel() string {
	return s.model
}

// GetProvider returns the provider wire format in use.
func (s *LLMService) GetProvider() string {
	return s.provider
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// apiErrorResponse covers the error envelope of both providers.
type apiErrorResponse struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one system+user prompt pair and returns the reply text.
// Transport failures are retried with exponential backoff; HTTP status errors
// are returned at once as *ProviderError.
// Parameters:
//   - ctx: context for cancellation; cancelling it aborts the in-flight request.
//   - systemPrompt: instructions for the model.
//   - userPrompt: the request payload.
//
// Returns:
//   - string: reply text.
//   - error: ErrNoProvider, *ProviderError, or a wrapped transport error.
func (s *LLMService) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if !s.IsConfigured() {
		return "", ErrNoProvider
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	operation := func() (string, error) {
		text, err := s.completeOnce(ctx, systemPrompt, userPrompt)
		if err == nil {
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", backoff.Permanent(fmt.Errorf("%w: %v", ctxErr, err))
		}
		var pe *ProviderError
		if errors.As(err, &pe) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	return backoff.RetryWithData(operation, backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx))
}

func (s *LLMService) completeOnce(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var body interface{}
	switch s.provider {
	case ProviderAnthropic:
		body = anthropicRequest{
			Model:       s.model,
			System:      systemPrompt,
			Messages:    []chatMessage{{Role: "user", Content: userPrompt}},
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		}
	default:
		body = openAIChatRequest{
			Model: s.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
			MaxTokens:   s.maxTokens,
			Temperature: s.temperature,
		}
	}

	var apiErr apiErrorResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&apiErr).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call %s API: %w", s.provider, err)
	}

	if httpResp.IsError() || httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := strings.TrimSpace(string(httpResp.Body()))
		if apiErr.Error != nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return "", &ProviderError{StatusCode: httpResp.StatusCode(), Message: msg}
	}

	return normalizeCompletion(s.provider, httpResp.Body())
}

// normalizeCompletion extracts the reply text from a provider response body.
func normalizeCompletion(provider string, body []byte) (string, error) {
	switch provider {
	case ProviderAnthropic:
		var resp anthropicResponse
		if err := decodeJSON(body, &resp); err != nil {
			return "", fmt.Errorf("failed to parse anthropic response: %w", err)
		}
		var parts []string
		for _, c := range resp.Content {
			if c.Type == "" || c.Type == "text" {
				parts = append(parts, c.Text)
			}
		}
		if len(parts) == 0 {
			return "", fmt.Errorf("no text content in anthropic response")
		}
		return strings.Join(parts, ""), nil
	default:
		var resp openAIChatResponse
		if err := decodeJSON(body, &resp); err != nil {
			return "", fmt.Errorf("failed to parse openai response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no choices in openai response")
		}
		return resp.Choices[0].Message.Content, nil
	}
}
