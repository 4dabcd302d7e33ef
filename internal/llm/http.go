package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"Rectify/internal/apperr"
	"Rectify/internal/backend"
	"Rectify/internal/config"
)

var defaultBaseURLs = map[string]string{
	config.BackendAnthropic: "https://api.anthropic.com",
	config.BackendOpenAI:    "https://api.openai.com",
	config.BackendGrok:      "https://api.x.ai",
	config.BackendOllama:    "http://localhost:11434",
}

var defaultModels = map[string]string{
	config.BackendAnthropic: "claude-sonnet-4-20250514",
	config.BackendOpenAI:    "gpt-4o-mini",
	config.BackendGrok:      "grok-2-latest",
	config.BackendOllama:    "llama3:latest",
	config.BackendGemini:    "gemini-1.5-flash",
}

const systemPrompt = "You are an expert astrologer assisting with birth time rectification. " +
	"Follow the requested output format exactly."

// Options configures an HTTPService
type Options struct {
	Backend string
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Meter   metric.Meter
}

// HTTPService calls a hosted or local chat-completion API
type HTTPService struct {
	backend    string
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewHTTPService creates a service for one of the anthropic, openai, grok or
// ollama backends. Hosted backends without a key are unavailable.
func NewHTTPService(opts Options) (*HTTPService, error) {
	if _, ok := defaultBaseURLs[opts.Backend]; !ok {
		return nil, apperr.New(apperr.KindGenerationUnavailable, "unknown backend: %s", opts.Backend)
	}
	if opts.Backend != config.BackendOllama && opts.APIKey == "" {
		return nil, apperr.New(apperr.KindGenerationUnavailable, "%s API key not set", opts.Backend)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("rectify")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("rectify")
	}
	if opts.Model == "" {
		opts.Model = defaultModels[opts.Backend]
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURLs[opts.Backend]
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	return &HTTPService{
		backend:    opts.Backend,
		model:      opts.Model,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		meter:      opts.Meter,
	}, nil
}

// Generate dispatches to the configured backend
func (s *HTTPService) Generate(ctx context.Context, req Request) (Response, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 1024
	}

	var content string
	var err error
	switch s.backend {
	case config.BackendAnthropic:
		content, err = s.callAnthropic(ctx, req)
	case config.BackendOllama:
		content, err = s.callOllama(ctx, req)
	case config.BackendOpenAI, config.BackendGrok:
		content, err = s.callOpenAICompatible(ctx, req)
	default:
		return Response{}, fmt.Errorf("unknown backend: %s", s.backend)
	}
	if err != nil {
		s.logger.Warn("generation failed", "backend", s.backend, "task", req.TaskType, "error", err)
		return Response{}, err
	}
	return Response{Content: content}, nil
}

// callAnthropic calls the Anthropic Messages API
func (s *HTTPService) callAnthropic(ctx context.Context, req Request) (string, error) {
	ctx, span := s.tracer.Start(ctx, "anthropic_api_call", trace.WithAttributes(attribute.String("llm.task", req.TaskType)))
	defer span.End()

	reqBody := backend.AnthropicRequest{
		Model:       s.model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      systemPrompt,
		Messages:    []backend.AnthropicMessage{{Role: "user", Content: req.Prompt}},
	}
	headers := map[string]string{
		"x-api-key":         s.apiKey,
		"anthropic-version": "2023-06-01",
	}

	var apiResp backend.AnthropicResponse
	if err := s.post(ctx, "/v1/messages", headers, reqBody, &apiResp); err != nil {
		span.RecordError(err)
		return "", err
	}
	s.recordUsage(ctx, apiResp.Usage)

	var b strings.Builder
	for _, content := range apiResp.Content {
		if content.Type == "text" {
			b.WriteString(content.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty response from Anthropic")
	}
	return b.String(), nil
}

// callOpenAICompatible calls the OpenAI or Grok chat completions API
func (s *HTTPService) callOpenAICompatible(ctx context.Context, req Request) (string, error) {
	ctx, span := s.tracer.Start(ctx, s.backend+"_api_call", trace.WithAttributes(attribute.String("llm.task", req.TaskType)))
	defer span.End()

	reqBody := backend.OpenAIRequest{
		Model: s.model,
		Messages: []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + s.apiKey}

	var apiResp backend.OpenAIResponse
	if err := s.post(ctx, "/v1/chat/completions", headers, reqBody, &apiResp); err != nil {
		span.RecordError(err)
		return "", err
	}
	s.recordUsage(ctx, apiResp.Usage)

	if len(apiResp.Choices) > 0 {
		return apiResp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("empty response from %s", s.backend)
}

// callOllama calls a local Ollama server
func (s *HTTPService) callOllama(ctx context.Context, req Request) (string, error) {
	ctx, span := s.tracer.Start(ctx, "ollama_api_call", trace.WithAttributes(attribute.String("llm.task", req.TaskType)))
	defer span.End()

	reqBody := backend.OllamaRequest{
		Model: s.model,
		Messages: []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": req.Prompt},
		},
		Stream:  false,
		Options: backend.OllamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}

	var apiResp backend.OllamaResponse
	if err := s.post(ctx, "/api/chat", nil, reqBody, &apiResp); err != nil {
		span.RecordError(err)
		return "", err
	}
	s.recordUsage(ctx, apiResp.Usage())

	return apiResp.Message.Content, nil
}

// post sends a JSON request and decodes a JSON response, recording duration
func (s *HTTPService) post(ctx context.Context, path string, headers map[string]string, reqBody, out interface{}) error {
	start := time.Now()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	histogram, herr := s.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if herr == nil {
		histogram.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("llm.backend", s.backend)))
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// recordUsage records token usage counters
func (s *HTTPService) recordUsage(ctx context.Context, usage map[string]interface{}) {
	for key, value := range usage {
		v, ok := value.(float64)
		if !ok {
			continue
		}
		counter, err := s.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			s.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, int64(v), metric.WithAttributes(attribute.String("llm.backend", s.backend)))
	}
}
