// Package app wires configuration into a running questionnaire service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"Rectify/internal/apperr"
	"Rectify/internal/chart"
	"Rectify/internal/confidence"
	"Rectify/internal/config"
	"Rectify/internal/llm"
	"Rectify/internal/progress"
	"Rectify/internal/question"
	"Rectify/internal/questionnaire"
	"Rectify/internal/rectify"
	"Rectify/internal/rpc"
	"Rectify/internal/session"
	"Rectify/internal/telemetry"
)

// Lister lists stored sessions
type Lister interface {
	List(ctx context.Context) ([]session.Summary, error)
}

// App holds the wired components
type App struct {
	Config        config.Config
	Logger        *slog.Logger
	Tracer        trace.Tracer
	Meter         metric.Meter
	Store         session.Store
	Sessions      Lister
	Transcripts   *session.SQLiteStore // nil unless sessions are persisted
	Charts        chart.Provider
	LLM           llm.Service // nil when generation is disabled or unavailable
	Questionnaire *questionnaire.Service
}

// New builds the application. The returned cleanup releases every resource
// in reverse order of acquisition and is safe to call after an error.
func New(ctx context.Context, cfg config.Config) (*App, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to initialize logger: %w", err)
	}
	closers = append(closers, closeLog)

	tracer, meter, closeTelemetry, err := telemetry.InitTelemetry(ctx, cfg.LogDir, telemetry.ServiceName)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	closers = append(closers, closeTelemetry)

	if cfg.Debug {
		logger.Info("debug mode enabled")
	}

	a := &App{Config: cfg, Logger: logger, Tracer: tracer, Meter: meter}

	if err := a.initStore(ctx, &closers); err != nil {
		return nil, cleanup, err
	}
	if err := a.initCharts(&closers); err != nil {
		return nil, cleanup, err
	}

	svc, closeLLM, err := llm.NewFromConfig(ctx, cfg, logger, tracer, meter)
	switch {
	case errors.Is(err, apperr.ErrGenerationUnavailable):
		logger.Warn("text generation unavailable; sessions will fail on first question", "backend", cfg.Backend, "error", err)
	case err != nil:
		return nil, cleanup, fmt.Errorf("failed to initialize text generation: %w", err)
	default:
		a.LLM = svc
	}
	if closeLLM != nil {
		closers = append(closers, closeLLM)
	}

	sink, err := a.initSink(&closers)
	if err != nil {
		return nil, cleanup, err
	}

	gen := question.NewGenerator(a.LLM, question.Options{
		MaxRetries: cfg.MaxRetries,
		Timeout:    cfg.LLMTimeout(),
		MaxTokens:  cfg.MaxTokens,
		Logger:     logger,
		Meter:      meter,
	})
	rectifier := rectify.NewScorer(rectify.DefaultMethods(a.LLM), cfg.Offsets, logger)

	a.Questionnaire, err = questionnaire.NewService(questionnaire.Deps{
		Store:      a.Store,
		Charts:     a.Charts,
		Generator:  gen,
		Confidence: confidence.NewScorer(),
		Rectifier:  rectifier,
		Sink:       sink,
	}, questionnaire.Options{
		MinAnswers:       cfg.MinAnswers,
		TargetConfidence: cfg.TargetConfidence,
		MaxQuestions:     cfg.MaxQuestions,
		Logger:           logger,
		Tracer:           tracer,
		Meter:            meter,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to create questionnaire: %w", err)
	}

	logger.Info("rectify ready",
		"backend", cfg.Backend,
		"store", storeKind(cfg),
		"offsets", len(rectifier.Offsets()))
	return a, cleanup, nil
}

func (a *App) initStore(ctx context.Context, closers *[]func()) error {
	if a.Config.DBPath == "" {
		mem := session.NewMemoryStore(a.Config.SessionTTL())
		a.Store, a.Sessions = mem, mem
		return nil
	}

	db, err := session.NewSQLiteStore(a.Config.DBPath, a.Config.SessionTTL(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize session store: %w", err)
	}
	*closers = append(*closers, func() {
		if err := db.Close(); err != nil {
			a.Logger.Error("failed to close session store", "error", err)
		}
	})
	if n, err := db.Purge(ctx); err != nil {
		a.Logger.Warn("failed to purge expired sessions", "error", err)
	} else if n > 0 {
		a.Logger.Info("purged expired sessions", "count", n)
	}
	a.Store, a.Sessions, a.Transcripts = db, db, db
	return nil
}

func (a *App) initCharts(closers *[]func()) error {
	cfg := a.Config
	var provider chart.Provider

	switch {
	case cfg.EphemerisURL != "":
		client, err := rpc.NewHTTPClient(cfg.EphemerisURL, cfg.LLMTimeout(), a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create ephemeris client: %w", err)
		}
		*closers = append(*closers, func() { _ = client.Close() })
		provider = chart.NewRPCProvider(client)
		a.Logger.Info("charts from ephemeris service", "url", cfg.EphemerisURL)
	case len(cfg.EphemerisCommand) > 0:
		client, err := rpc.NewStdioClient(cfg.EphemerisCommand[0], cfg.EphemerisCommand[1:], a.Logger)
		if err != nil {
			return fmt.Errorf("failed to start ephemeris command: %w", err)
		}
		*closers = append(*closers, func() {
			if err := client.Close(); err != nil {
				a.Logger.Warn("failed to stop ephemeris command", "error", err)
			}
		})
		provider = chart.NewRPCProvider(client)
		a.Logger.Info("charts from ephemeris command", "command", cfg.EphemerisCommand[0])
	default:
		provider = chart.NewFileProvider(cfg.ChartDir)
		a.Logger.Info("charts from directory", "dir", cfg.ChartDir)
	}

	if cfg.ChartCacheSize > 0 {
		cached, err := chart.NewCachingProvider(provider, cfg.ChartCacheSize)
		if err != nil {
			return fmt.Errorf("failed to create chart cache: %w", err)
		}
		provider = cached
	}
	a.Charts = provider
	return nil
}

func (a *App) initSink(closers *[]func()) (progress.Sink, error) {
	sinks := progress.MultiSink{progress.LogSink{Logger: a.Logger}}
	if a.Config.ProgressURL != "" {
		ws, err := progress.NewWebSocketSink(a.Config.ProgressURL, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create progress sink: %w", err)
		}
		*closers = append(*closers, func() { _ = ws.Close() })
		sinks = append(sinks, ws)
	}
	return sinks, nil
}

func storeKind(cfg config.Config) string {
	if cfg.DBPath == "" {
		return "memory"
	}
	return "sqlite"
}
