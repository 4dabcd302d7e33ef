// Package questionnaire runs the rectification session state machine:
// issuing questions, recording answers and producing the final result.
package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"Rectify/internal/apperr"
	"Rectify/internal/chart"
	"Rectify/internal/confidence"
	"Rectify/internal/indicator"
	"Rectify/internal/progress"
	"Rectify/internal/question"
	"Rectify/internal/rectify"
	"Rectify/internal/session"
)

// Defaults for Options
const (
	DefaultMinAnswers       = 3
	DefaultTargetConfidence = 85.0
	DefaultMaxQuestions     = 20
	DefaultPublishTimeout   = 2 * time.Second
)

// fallbackTime is used when neither the chart nor a time window gives a
// recorded birth time
var fallbackTime = session.NewClockTime(12, 0)

// Deps are the collaborators of a Service. Charts and Sink may be nil.
type Deps struct {
	Store      session.Store
	Charts     chart.Provider
	Generator  *question.Generator
	Confidence *confidence.Scorer
	Rectifier  *rectify.Scorer
	Sink       progress.Sink
}

// Options tunes completion thresholds and observability
type Options struct {
	MinAnswers       int
	TargetConfidence float64
	MaxQuestions     int
	PublishTimeout   time.Duration // per progress event; events go out under the session lock
	Logger           *slog.Logger
	Tracer           trace.Tracer
	Meter            metric.Meter
}

// AnswerInput is a response to an issued question
type AnswerInput struct {
	QuestionID string
	Text       string
	Quality    *float64 // 0..1, optional
}

// AnswerResult reports the session state after an answer
type AnswerResult struct {
	Confidence      float64             `json:"confidence"`
	TimeWindow      *session.TimeWindow `json:"time_window,omitempty"`
	Indicators      *session.Indicators `json:"indicators,omitempty"`
	CoveredFactors  []string            `json:"covered_factors"`
	Answered        int                 `json:"answered"`
	ReadyToComplete bool                `json:"ready_to_complete"`
}

// Service owns every session mutation. Operations on one session id are
// serialized; different sessions proceed in parallel.
type Service struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	locks  *keyedMutex
	now    func() time.Time
	newID  func() string

	confidenceHist metric.Float64Histogram
}

// NewService wires a Service
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("question generator is required")
	}
	if deps.Confidence == nil {
		deps.Confidence = confidence.NewScorer()
	}
	if deps.Sink == nil {
		deps.Sink = progress.NopSink{}
	}
	if opts.MinAnswers <= 0 {
		opts.MinAnswers = DefaultMinAnswers
	}
	if opts.TargetConfidence <= 0 {
		opts.TargetConfidence = DefaultTargetConfidence
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = DefaultMaxQuestions
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
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
	if deps.Rectifier == nil {
		deps.Rectifier = rectify.NewScorer(rectify.DefaultMethods(nil), nil, opts.Logger)
	}

	s := &Service{
		deps:   deps,
		opts:   opts,
		logger: opts.Logger,
		tracer: opts.Tracer,
		locks:  newKeyedMutex(),
		now:    func() time.Time { return time.Now().UTC().Round(0) },
		newID:  func() string { return uuid.NewString() },
	}

	hist, err := opts.Meter.Float64Histogram(
		"rectify.session.confidence",
		metric.WithDescription("Session confidence after each answer"),
		metric.WithUnit("%"),
	)
	if err != nil {
		s.logger.Warn("failed to create histogram", "name", "rectify.session.confidence", "error", err)
	} else {
		s.confidenceHist = hist
	}
	return s, nil
}

// Start creates a session. chartID may be empty and attached later.
func (s *Service) Start(ctx context.Context, chartID string) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "questionnaire.start")
	defer span.End()

	if chartID != "" {
		if _, err := s.loadChart(ctx, chartID); err != nil {
			return nil, s.fail(span, err)
		}
	}

	sess := session.New(s.newID(), chartID, s.now())
	span.SetAttributes(attribute.String("session_id", sess.ID))
	if err := s.deps.Store.Put(ctx, sess); err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to save session: %w", err))
	}
	s.logger.Info("session started", "session_id", sess.ID, "chart_id", chartID)
	return sess, nil
}

// AttachChart sets or replaces the chart of an open session
func (s *Service) AttachChart(ctx context.Context, id, chartID string) (*session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "questionnaire.attach_chart",
		trace.WithAttributes(attribute.String("session_id", id), attribute.String("chart_id", chartID)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if err := checkOpen(sess); err != nil {
		return nil, s.fail(span, err)
	}
	if _, err := s.loadChart(ctx, chartID); err != nil {
		return nil, s.fail(span, err)
	}

	sess.ChartID = chartID
	sess.UpdatedAt = s.now()
	if err := s.deps.Store.Put(ctx, sess); err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to save session: %w", err))
	}
	return sess, nil
}

// Next issues the next question
func (s *Service) Next(ctx context.Context, id string) (session.Question, error) {
	ctx, span := s.tracer.Start(ctx, "questionnaire.next",
		trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return session.Question{}, s.fail(span, err)
	}
	if err := checkOpen(sess); err != nil {
		return session.Question{}, s.fail(span, err)
	}

	var c chart.Context
	if sess.ChartID != "" {
		c, err = s.loadChart(ctx, sess.ChartID)
		if err != nil {
			return session.Question{}, s.fail(span, s.markFailed(ctx, sess, err))
		}
	}

	q, err := s.deps.Generator.Generate(ctx, question.Request{
		SessionID:  sess.ID,
		Chart:      c,
		Asked:      sess.Questions,
		Transcript: sess.Exchanges(),
	})
	if err != nil {
		return session.Question{}, s.fail(span, s.markFailed(ctx, sess, err))
	}

	sess.Questions = append(sess.Questions, q)
	sess.Status = session.StatusActive
	sess.UpdatedAt = s.now()
	if err := s.deps.Store.Put(ctx, sess); err != nil {
		return session.Question{}, s.fail(span, fmt.Errorf("failed to save session: %w", err))
	}

	span.SetAttributes(
		attribute.String("question_id", q.ID),
		attribute.String("category", string(q.Category)),
		attribute.Int("asked", len(sess.Questions)),
	)
	s.publish(ctx, progress.Event{
		Type:       progress.EventQuestionIssued,
		SessionID:  sess.ID,
		QuestionID: q.ID,
		Category:   string(q.Category),
		Confidence: sess.Confidence,
		Answered:   len(sess.Answers),
	})
	return q, nil
}

// Answer records a response to any issued, unanswered question
func (s *Service) Answer(ctx context.Context, id string, in AnswerInput) (AnswerResult, error) {
	ctx, span := s.tracer.Start(ctx, "questionnaire.answer",
		trace.WithAttributes(attribute.String("session_id", id), attribute.String("question_id", in.QuestionID)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return AnswerResult{}, s.fail(span, err)
	}
	if err := checkOpen(sess); err != nil {
		return AnswerResult{}, s.fail(span, err)
	}
	q, ok := sess.Question(in.QuestionID)
	if !ok {
		return AnswerResult{}, s.fail(span, apperr.New(apperr.KindQuestionNotFound,
			"question %s was not issued in session %s", in.QuestionID, id))
	}
	if sess.Answered(q.ID) {
		return AnswerResult{}, s.fail(span, apperr.New(apperr.KindAlreadyAnswered,
			"question %s is already answered", q.ID))
	}

	sess.Answers = append(sess.Answers, session.Answer{
		QuestionID:          q.ID,
		Text:                in.Text,
		Quality:             in.Quality,
		Category:            q.Category,
		AstrologicalFactors: q.AstrologicalFactors,
		Timestamp:           s.now(),
	})

	result := AnswerResult{}
	if found, ok := indicator.Extract(q.Text, in.Text); ok {
		sess.Indicators = append(sess.Indicators, found)
		result.Indicators = &found
		if w, ok := indicator.Narrow(sess.Indicators); ok {
			sess.TimeWindow = &w
		}
	}

	scored := s.deps.Confidence.Score(sess.Exchanges(), sess.CoveredFactors)
	sess.Confidence = scored.Confidence
	sess.CoveredFactors = scored.CoveredFactors
	sess.UpdatedAt = s.now()
	if err := s.deps.Store.Put(ctx, sess); err != nil {
		return AnswerResult{}, s.fail(span, fmt.Errorf("failed to save session: %w", err))
	}

	result.Confidence = sess.Confidence
	result.TimeWindow = sess.TimeWindow
	result.CoveredFactors = sess.CoveredFactors
	result.Answered = len(sess.Answers)
	result.ReadyToComplete = s.ready(sess)

	if s.confidenceHist != nil {
		s.confidenceHist.Record(ctx, sess.Confidence,
			metric.WithAttributes(attribute.String("category", string(q.Category))))
	}
	span.SetAttributes(
		attribute.Float64("confidence", sess.Confidence),
		attribute.Int("answered", result.Answered),
		attribute.Bool("indicators", result.Indicators != nil),
	)
	s.publish(ctx, progress.Event{
		Type:       progress.EventAnswerRecorded,
		SessionID:  sess.ID,
		QuestionID: q.ID,
		Category:   string(q.Category),
		Confidence: sess.Confidence,
		Answered:   result.Answered,
	})
	return result, nil
}

// Complete finalizes the session and returns the rectification result.
// Repeated calls return the stored result unchanged.
func (s *Service) Complete(ctx context.Context, id string) (session.RectificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "questionnaire.complete",
		trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	unlock := s.locks.Lock(id)
	defer unlock()

	sess, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return session.RectificationResult{}, s.fail(span, err)
	}
	switch {
	case sess.Status == session.StatusComplete && sess.Result != nil:
		span.SetAttributes(attribute.Bool("cached", true))
		return *sess.Result, nil
	case sess.Status == session.StatusError:
		return session.RectificationResult{}, s.fail(span, apperr.New(apperr.KindSessionFailed,
			"session %s failed: %s", id, sess.LastError))
	case len(sess.Answers) < s.opts.MinAnswers:
		return session.RectificationResult{}, s.fail(span, apperr.New(apperr.KindNotEnoughAnswers,
			"session %s has %d answers, need %d", id, len(sess.Answers), s.opts.MinAnswers))
	}

	var c chart.Context
	if sess.ChartID != "" {
		c, err = s.loadChart(ctx, sess.ChartID)
		if err != nil {
			return session.RectificationResult{}, s.fail(span, err)
		}
	}
	original, source := originalTime(c, sess.TimeWindow)

	res, err := s.deps.Rectifier.ScoreAdjustments(ctx, rectify.Input{
		OriginalTime: original,
		Exchanges:    sess.Exchanges(),
		Chart:        c,
	})
	if err != nil {
		return session.RectificationResult{}, s.fail(span, err)
	}

	now := s.now()
	res.ComputedAt = now
	sess.Result = &res
	sess.Status = session.StatusComplete
	sess.CompletedAt = &now
	sess.UpdatedAt = now
	if err := s.deps.Store.Put(ctx, sess); err != nil {
		return session.RectificationResult{}, s.fail(span, fmt.Errorf("failed to save session: %w", err))
	}

	span.SetAttributes(
		attribute.Int("best_offset_minutes", res.BestOffsetMinutes),
		attribute.Float64("confidence", res.Confidence),
	)
	s.logger.Info("session completed",
		"session_id", id,
		"original_time", original.String(),
		"original_source", source,
		"rectified_time", res.RectifiedTime.String(),
		"confidence", res.Confidence)
	s.publish(ctx, progress.Event{
		Type:       progress.EventSessionCompleted,
		SessionID:  id,
		Confidence: res.Confidence,
		Answered:   len(sess.Answers),
		Message:    fmt.Sprintf("rectified time %s (%+d min)", res.RectifiedTime, res.BestOffsetMinutes),
	})
	return res, nil
}

// Get returns the session for read-only inspection
func (s *Service) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.deps.Store.Get(ctx, id)
}

func (s *Service) ready(sess *session.Session) bool {
	n := len(sess.Answers)
	if n < s.opts.MinAnswers {
		return false
	}
	return sess.Confidence >= s.opts.TargetConfidence || n >= s.opts.MaxQuestions
}

// loadChart fetches and validates a chart. A missing chart is an invalid
// chart context.
func (s *Service) loadChart(ctx context.Context, id string) (chart.Context, error) {
	if s.deps.Charts == nil {
		return chart.Context{}, apperr.New(apperr.KindInvalidChartContext, "no chart provider configured for chart %s", id)
	}
	c, err := s.deps.Charts.GetChart(ctx, id)
	if errors.Is(err, chart.ErrNotFound) {
		return chart.Context{}, apperr.Wrap(apperr.KindInvalidChartContext, err, "chart %s is unavailable", id)
	}
	if err != nil {
		return chart.Context{}, fmt.Errorf("failed to load chart %s: %w", id, err)
	}
	if err := c.Validate(); err != nil {
		return chart.Context{}, err
	}
	return c, nil
}

// markFailed moves the session into the error state when err is
// unrecoverable, and returns err unchanged
func (s *Service) markFailed(ctx context.Context, sess *session.Session, err error) error {
	if !apperr.Fatal(err) {
		return err
	}
	sess.Status = session.StatusError
	sess.LastError = err.Error()
	sess.UpdatedAt = s.now()
	if perr := s.deps.Store.Put(ctx, sess); perr != nil {
		s.logger.Error("failed to save failed session", "session_id", sess.ID, "error", perr)
	}
	s.logger.Error("session failed", "session_id", sess.ID, "kind", apperr.KindOf(err), "error", err)
	s.publish(ctx, progress.Event{
		Type:       progress.EventSessionFailed,
		SessionID:  sess.ID,
		Confidence: sess.Confidence,
		Answered:   len(sess.Answers),
		Message:    err.Error(),
	})
	return err
}

func (s *Service) publish(ctx context.Context, ev progress.Event) {
	if ev.Time.IsZero() {
		ev.Time = s.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
	defer cancel()
	if err := s.deps.Sink.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish progress", "type", ev.Type, "session_id", ev.SessionID, "error", err)
	}
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind := apperr.KindOf(err); kind != "" {
		span.SetAttributes(attribute.String("error.kind", string(kind)))
	}
	return err
}

// checkOpen rejects operations on finished sessions
func checkOpen(sess *session.Session) error {
	switch sess.Status {
	case session.StatusComplete:
		return apperr.New(apperr.KindSessionComplete, "session %s is complete", sess.ID)
	case session.StatusError:
		return apperr.New(apperr.KindSessionFailed, "session %s failed: %s", sess.ID, sess.LastError)
	}
	return nil
}

// originalTime picks the recorded birth time: the chart's birth time, else
// the middle of the current window, else noon
func originalTime(c chart.Context, w *session.TimeWindow) (session.ClockTime, string) {
	if c.Birth.Time != "" {
		if t, err := session.ParseClockTime(c.Birth.Time); err == nil {
			return t, "chart"
		}
	}
	if w != nil {
		return w.Start.Add(w.Minutes() / 2), "time_window"
	}
	return fallbackTime, "default"
}
