package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"

	"Rectify/internal/apperr"
	"Rectify/internal/config"
)

// GeminiService generates text with Google's Gemini API
type GeminiService struct {
	client *genai.Client
	model  string
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
}

// NewGeminiService creates a Gemini-backed service
func NewGeminiService(ctx context.Context, apiKey, model string, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*GeminiService, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.KindGenerationUnavailable, "gemini API key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = defaultModels[config.BackendGemini]
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer("rectify")
	}
	if meter == nil {
		meter = otel.Meter("rectify")
	}
	return &GeminiService{client: client, model: model, logger: logger, tracer: tracer, meter: meter}, nil
}

func (g *GeminiService) Generate(ctx context.Context, req Request) (Response, error) {
	ctx, span := g.tracer.Start(ctx, "gemini_api_call", trace.WithAttributes(attribute.String("llm.task", req.TaskType)))
	defer span.End()

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	model.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("failed to generate content: %w", err)
	}

	if resp.UsageMetadata != nil {
		g.recordUsage(ctx, "input_tokens", int64(resp.UsageMetadata.PromptTokenCount))
		g.recordUsage(ctx, "output_tokens", int64(resp.UsageMetadata.CandidatesTokenCount))
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	if b.Len() == 0 {
		return Response{}, fmt.Errorf("empty response from Gemini")
	}
	return Response{Content: b.String()}, nil
}

func (g *GeminiService) recordUsage(ctx context.Context, key string, n int64) {
	counter, err := g.meter.Int64Counter("llm.usage." + key)
	if err != nil {
		g.logger.Warn("failed to create counter", "key", key, "error", err)
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attribute.String("llm.backend", config.BackendGemini)))
}

// Close releases the client connection
func (g *GeminiService) Close() error {
	return g.client.Close()
}
