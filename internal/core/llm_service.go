package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"gwi.com/character-memory/internal/apperr"
	"gwi.com/character-memory/internal/config"
	"gwi.com/character-memory/internal/metrics"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one provider-neutral chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Messages    []ChatMessage
	Temperature float64 // 0 means the service default
	MaxTokens   int     // 0 means the service default
}

// LLM turns an ordered message list into the model's reply text.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// LLMFunc adapts a plain function to LLM.
type LLMFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f LLMFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// LLMService wraps a provider backend with defaults, rate limiting and
// metrics. Calls are never retried.
type LLMService struct {
	backend     LLM
	provider    string
	limiter     *rate.Limiter
	temperature float64
	maxTokens   int
}

type LLMOptions struct {
	Provider    string
	Temperature float64
	MaxTokens   int
	RateLimit   float64 // requests per second, <= 0 disables limiting
	Burst       int
}

// NewLLMService builds the backend selected by LLM_PROVIDER.
func NewLLMService(ctx context.Context, cfg *config.Config) (*LLMService, error) {
	var (
		backend LLM
		err     error
	)
	switch cfg.LLMProvider {
	case "gemini":
		backend, err = newGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	case "openai", "azure":
		backend, err = newOpenAILLM(openAIOptions{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.LLMModel,
			BaseURL:    cfg.OpenAIBaseURL,
			APIVersion: cfg.OpenAIAPIVersion,
			Azure:      cfg.LLMProvider == "azure",
		})
	case "anthropic":
		backend = newAnthropicLLM(cfg.AnthropicAPIKey, cfg.LLMModel)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q", cfg.LLMProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.LLMProvider, err)
	}

	return NewLLMServiceWithBackend(backend, LLMOptions{
		Provider:    cfg.LLMProvider,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
		RateLimit:   cfg.LLMRateLimit,
		Burst:       cfg.LLMBurst,
	}), nil
}

func NewLLMServiceWithBackend(backend LLM, opts LLMOptions) *LLMService {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	provider := opts.Provider
	if provider == "" {
		provider = "custom"
	}
	return &LLMService{
		backend:     backend,
		provider:    provider,
		limiter:     limiter,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

func (s *LLMService) Provider() string {
	return s.provider
}

func (s *LLMService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", apperr.Validation("prompt is empty")
	}
	if req.Temperature == 0 {
		req.Temperature = s.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = s.maxTokens
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", apperr.Upstream("model call rate limited", err)
	}

	start := time.Now()
	text, err := s.backend.Complete(ctx, req)
	metrics.RecordLLMCall(s.provider, time.Since(start), err)
	if err != nil {
		slog.Error("Model call failed", "provider", s.provider, "error", err)
		if _, ok := apperr.As(err); ok {
			return "", err
		}
		return "", apperr.Upstream("model call failed", err)
	}
	return text, nil
}

func (s *LLMService) Close() {
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Error closing model client", "provider", s.provider, "error", err)
		} else {
			slog.Info("Model client closed", "provider", s.provider)
		}
	}
}

// splitSystem separates system messages from the conversation turns.
func splitSystem(messages []ChatMessage) (system string, turns []ChatMessage) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
