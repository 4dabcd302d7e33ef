// Package rectify evaluates candidate birth-time adjustments against several
// independent scoring methods and picks the best one.
package rectify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"Rectify/internal/chart"
	"Rectify/internal/session"
)

// DefaultOffsets are the candidate adjustments in minutes
var DefaultOffsets = []int{0, -5, 5, -15, 15, -30, 30, -60, 60, -90, 90, -120, 120}

// Confidence mapping: composite 0 reports 50, composite 1 reports 95
const (
	ConfidenceBase  = 50.0
	ConfidenceScale = 45.0
)

// ErrNoData marks a method that has nothing to score for this input
var ErrNoData = errors.New("no data for method")

// Input is the finalized answer set being rectified
type Input struct {
	OriginalTime session.ClockTime
	Exchanges    []session.Exchange
	Chart        chart.Context
}

// Method scores every candidate offset in [0, 1]
type Method interface {
	Name() string
	// Weight is the method's share in the composite for this input
	Weight(in Input) float64
	Score(ctx context.Context, in Input, offsets []int) (map[int]float64, error)
}

// Scorer combines methods into a weighted composite per offset
type Scorer struct {
	methods []Method
	offsets []int
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewScorer creates a scorer. Empty offsets fall back to DefaultOffsets.
func NewScorer(methods []Method, offsets []int, logger *slog.Logger) *Scorer {
	if len(offsets) == 0 {
		offsets = DefaultOffsets
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		methods: methods,
		offsets: UniqueOffsets(offsets),
		logger:  logger,
		tracer:  otel.Tracer("rectify"),
		now:     time.Now,
	}
}

// Offsets returns the deduplicated candidate set in evaluation order
func (s *Scorer) Offsets() []int {
	return append([]int(nil), s.offsets...)
}

type methodRun struct {
	method Method
	weight float64
	scores map[int]float64
	err    error
}

// ScoreAdjustments runs every method concurrently and returns the winning
// adjustment. Methods that fail, have no data, or leave any offset unscored
// are left out of the average, so every candidate shares one method set.
func (s *Scorer) ScoreAdjustments(ctx context.Context, in Input) (session.RectificationResult, error) {
	ctx, span := s.tracer.Start(ctx, "rectify.score_adjustments")
	defer span.End()
	span.SetAttributes(
		attribute.String("original_time", in.OriginalTime.String()),
		attribute.Int("answers", len(in.Exchanges)),
		attribute.Int("offsets", len(s.offsets)),
	)

	runs := make([]methodRun, len(s.methods))
	var g errgroup.Group
	for i, m := range s.methods {
		i, m := i, m
		g.Go(func() error {
			run := methodRun{method: m, weight: m.Weight(in)}
			if run.weight > 0 {
				run.scores, run.err = m.Score(ctx, in, s.offsets)
			}
			runs[i] = run
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return session.RectificationResult{}, fmt.Errorf("failed to score adjustments: %w", err)
	}

	used := make(map[string]float64)
	var active []methodRun
	for _, run := range runs {
		name := run.method.Name()
		switch {
		case run.weight <= 0:
			s.logger.Debug("rectification method skipped", "method", name, "reason", "zero weight")
		case errors.Is(run.err, ErrNoData):
			s.logger.Debug("rectification method skipped", "method", name, "reason", run.err)
		case run.err != nil:
			s.logger.Warn("rectification method failed", "method", name, "error", run.err)
		case len(run.scores) == 0:
			s.logger.Debug("rectification method skipped", "method", name, "reason", "empty scores")
		case !covers(run.scores, s.offsets):
			s.logger.Warn("rectification method skipped", "method", name, "reason", "incomplete offsets",
				"scored", len(run.scores), "offsets", len(s.offsets))
		default:
			used[name] = run.weight
			active = append(active, run)
		}
	}
	if len(active) == 0 {
		s.logger.Warn("no rectification method produced scores; keeping original time")
	}

	candidates := make([]session.CandidateScore, 0, len(s.offsets))
	for _, off := range s.offsets {
		c := session.CandidateScore{OffsetMinutes: off, MethodScores: make(map[string]float64)}
		var sum, weights float64
		for _, run := range active {
			v := clamp01(run.scores[off])
			c.MethodScores[run.method.Name()] = v
			sum += run.weight * v
			weights += run.weight
		}
		if weights > 0 {
			c.CompositeScore = sum / weights
		}
		candidates = append(candidates, c)
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].OffsetMinutes < candidates[j].OffsetMinutes
	})

	result := session.RectificationResult{
		OriginalTime:      in.OriginalTime,
		RectifiedTime:     in.OriginalTime.Add(best.OffsetMinutes),
		BestOffsetMinutes: best.OffsetMinutes,
		Confidence:        round1(ConfidenceBase + ConfidenceScale*best.CompositeScore),
		Methods:           used,
		Candidates:        candidates,
		ComputedAt:        s.now(),
	}
	span.SetAttributes(
		attribute.Int("best_offset_minutes", result.BestOffsetMinutes),
		attribute.Float64("confidence", result.Confidence),
		attribute.Int("methods", len(used)),
	)
	span.SetStatus(codes.Ok, "")
	s.logger.Info("adjustments scored",
		"best_offset_minutes", result.BestOffsetMinutes,
		"rectified_time", result.RectifiedTime.String(),
		"confidence", result.Confidence,
		"methods", len(used))
	return result, nil
}

// better orders candidates: higher composite, then smaller |offset|, then earlier
func better(a, b session.CandidateScore) bool {
	const eps = 1e-9
	if d := a.CompositeScore - b.CompositeScore; math.Abs(d) > eps {
		return d > 0
	}
	aa, ab := abs(a.OffsetMinutes), abs(b.OffsetMinutes)
	if aa != ab {
		return aa < ab
	}
	return a.OffsetMinutes < b.OffsetMinutes
}

func covers(scores map[int]float64, offsets []int) bool {
	for _, off := range offsets {
		if _, ok := scores[off]; !ok {
			return false
		}
	}
	return true
}

// UniqueOffsets drops repeated offsets, keeping first occurrences in order
func UniqueOffsets(offsets []int) []int {
	seen := make(map[int]struct{}, len(offsets))
	out := make([]int, 0, len(offsets))
	for _, o := range offsets {
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

// shiftedAscendant moves the ascendant one degree per four minutes
func shiftedAscendant(asc float64, offset int) float64 {
	return chart.Normalize(asc + float64(offset)/4)
}

// answerText joins the answers of the exchanges whose category passes
// keep, lower-cased
func answerText(exchanges []session.Exchange, keep func(session.Category) bool) string {
	var b strings.Builder
	for _, ex := range exchanges {
		if keep != nil && !keep(ex.Question.Category) {
			continue
		}
		b.WriteString(ex.Answer.Text)
		b.WriteString(" ")
	}
	return strings.ToLower(b.String())
}

func compileKeywords[K comparable](keywords map[K][]string) map[K]*regexp.Regexp {
	out := make(map[K]*regexp.Regexp, len(keywords))
	for k, kws := range keywords {
		quoted := make([]string, len(kws))
		for i, kw := range kws {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		out[k] = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)`)
	}
	return out
}

// hits counts keyword matches in text per key
func hits[K comparable](text string, patterns map[K]*regexp.Regexp) (map[K]int, int) {
	out := make(map[K]int, len(patterns))
	top := 0
	for k, re := range patterns {
		n := len(re.FindAllStringIndex(text, -1))
		out[k] = n
		if n > top {
			top = n
		}
	}
	return out, top
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
