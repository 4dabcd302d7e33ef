// Package llm is the text-generation port used by the question generator and
// the plausibility method, with backend adapters and decorators.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"Rectify/internal/apperr"
	"Rectify/internal/cache"
	"Rectify/internal/config"
)

// Task types
const (
	TaskQuestion     = "question_generation"
	TaskPlausibility = "rectification_plausibility"
)

// Request is one generation call
type Request struct {
	Prompt      string
	TaskType    string
	MaxTokens   int
	Temperature float64
}

// Response is the generated text
type Response struct {
	Content string
	Cached  bool
}

// Service generates text for a prompt
type Service interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// TimeoutService bounds every call with a deadline and classifies failures
type TimeoutService struct {
	next    Service
	timeout time.Duration
}

// WithTimeout wraps next with a per-call deadline
func WithTimeout(next Service, timeout time.Duration) *TimeoutService {
	return &TimeoutService{next: next, timeout: timeout}
}

func (t *TimeoutService) Generate(ctx context.Context, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.next.Generate(ctx, req)
	if err != nil {
		return Response{}, classify(ctx, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return Response{}, apperr.New(apperr.KindGenerationFailed, "empty response for %s", req.TaskType)
	}
	return resp, nil
}

func classify(ctx context.Context, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindGenerationTimeout, err, "generation timed out")
	}
	return apperr.Wrap(apperr.KindGenerationFailed, err, "generation failed")
}

// CachingService memoizes responses by backend, task, temperature and prompt
type CachingService struct {
	next    Service
	backend string
	cache   *cache.Responses
	logger  *slog.Logger
}

// WithCache wraps next with a response cache
func WithCache(next Service, backend string, responses *cache.Responses, logger *slog.Logger) *CachingService {
	return &CachingService{next: next, backend: backend, cache: responses, logger: logger}
}

func (c *CachingService) Generate(ctx context.Context, req Request) (Response, error) {
	key := cache.Key(c.backend, req.TaskType, strconv.FormatFloat(req.Temperature, 'f', 2, 64), req.Prompt)
	if cached, ok := c.cache.Get(key); ok {
		c.logger.Info("cache hit", "key", key[:16], "task", req.TaskType)
		return Response{Content: cached, Cached: true}, nil
	}

	resp, err := c.next.Generate(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(resp.Content) != "" {
		c.cache.Put(key, resp.Content)
		c.logger.Info("cached response", "key", key[:16], "task", req.TaskType)
	}
	return resp, nil
}

// NewFromConfig builds the configured backend wrapped with caching and the
// call deadline. It returns a nil Service when generation is disabled.
func NewFromConfig(ctx context.Context, cfg config.Config, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (Service, func(), error) {
	var base Service
	cleanup := func() {}

	switch cfg.Backend {
	case config.BackendNone, "":
		logger.Info("text generation disabled")
		return nil, cleanup, nil
	case config.BackendGemini:
		g, err := NewGeminiService(ctx, cfg.GeminiAPIKey, cfg.Model, logger, tracer, meter)
		if err != nil {
			return nil, cleanup, err
		}
		base = g
		cleanup = func() {
			if err := g.Close(); err != nil {
				logger.Warn("failed to close gemini client", "error", err)
			}
		}
	default:
		h, err := NewHTTPService(Options{
			Backend: cfg.Backend,
			Model:   cfg.Model,
			BaseURL: baseURLFor(cfg),
			APIKey:  cfg.APIKey(),
			Timeout: cfg.LLMTimeout() + 5*time.Second,
			Logger:  logger,
			Tracer:  tracer,
			Meter:   meter,
		})
		if err != nil {
			return nil, cleanup, err
		}
		base = h
	}

	svc := base
	if cfg.CacheSize > 0 {
		svc = WithCache(svc, cfg.Backend, cache.NewResponses(cfg.CacheSize, cfg.CacheTTL()), logger)
	}
	logger.Info("text generation enabled", "backend", cfg.Backend, "model", cfg.Model)
	return WithTimeout(svc, cfg.LLMTimeout()), cleanup, nil
}

func baseURLFor(cfg config.Config) string {
	if cfg.Backend == config.BackendOllama {
		return cfg.OllamaURL
	}
	return ""
}

// StaticService returns canned responses in order, repeating the last one
type StaticService struct {
	Responses []string
	Err       error
	Calls     []Request
	mu        sync.Mutex
}

func (s *StaticService) Generate(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, req)
	if s.Err != nil {
		return Response{}, s.Err
	}
	if len(s.Responses) == 0 {
		return Response{}, fmt.Errorf("no canned response")
	}
	i := len(s.Calls) - 1
	if i >= len(s.Responses) {
		i = len(s.Responses) - 1
	}
	return Response{Content: s.Responses[i]}, nil
}
