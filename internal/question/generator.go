// Package question generates the next questionnaire question through the
// language service, steering category and topic and rejecting duplicates.
package question

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"Rectify/internal/apperr"
	"Rectify/internal/chart"
	"Rectify/internal/llm"
	"Rectify/internal/session"
	"Rectify/internal/similarity"
)

const (
	// MaxRetries bounds the extra attempts after a duplicate or failed draft
	MaxRetries = 3
	// DefaultTimeout is the per-attempt generation deadline
	DefaultTimeout = 12 * time.Second
	// ProgressionLength is how many questions follow the fixed category order
	ProgressionLength = 8
	// CuspOrb is the distance in degrees within which a planet is near a cusp
	CuspOrb = 3.0

	baseTemperature     = 0.7
	temperaturePerRetry = 0.1
	maxTemperature      = 1.0
	defaultMaxTokens    = 600
)

// balanceCategories are rotated by least-asked once the progression is done
var balanceCategories = []session.Category{
	session.CategoryLifeEvents,
	session.CategoryTimingPreferences,
	session.CategoryPhysicalTraits,
}

// defaultFactors tags questions whose draft names no factors
var defaultFactors = map[session.Category][]string{
	session.CategoryPhysicalTraits:    {"ascendant", "house_1"},
	session.CategoryPersonalityTraits: {"ascendant", "moon", "sun"},
	session.CategoryLifeEvents:        {"house_10", "house_4", "dasha"},
	session.CategoryTimingPreferences: {"birth_time"},
	session.CategoryRelationships:     {"house_7", "venus"},
	session.CategoryCareer:            {"house_10", "midheaven", "saturn"},
	session.CategoryHealth:            {"house_6", "ascendant"},
	session.CategorySpiritual:         {"house_9", "house_12", "jupiter"},
}

// Request carries everything needed to produce the next question
type Request struct {
	SessionID  string
	Chart      chart.Context
	Asked      []session.Question
	Transcript []session.Exchange
}

// Options tunes a Generator
type Options struct {
	MaxRetries int
	Timeout    time.Duration
	MaxTokens  int
	Logger     *slog.Logger
	Meter      metric.Meter
}

// Generator produces questions through an llm.Service
type Generator struct {
	llm        llm.Service
	maxRetries int
	timeout    time.Duration
	maxTokens  int
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	issued  metric.Int64Counter
	retries metric.Int64Counter
}

// NewGenerator creates a generator. A nil service makes every call fail with
// GenerationUnavailable.
func NewGenerator(svc llm.Service, opts Options) *Generator {
	if opts.MaxRetries <= 0 || opts.MaxRetries > MaxRetries {
		opts.MaxRetries = MaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("rectify")
	}

	g := &Generator{
		llm:        svc,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		maxTokens:  opts.MaxTokens,
		logger:     opts.Logger,
		now:        time.Now,
		newID:      func() string { return uuid.NewString() },
	}

	var err error
	g.issued, err = opts.Meter.Int64Counter("rectify.questions.issued",
		metric.WithDescription("Questions issued to sessions"))
	if err != nil {
		g.logger.Warn("failed to create counter", "name", "rectify.questions.issued", "error", err)
	}
	g.retries, err = opts.Meter.Int64Counter("rectify.questions.duplicate_retries",
		metric.WithDescription("Generation attempts rejected as duplicates"))
	if err != nil {
		g.logger.Warn("failed to create counter", "name", "rectify.questions.duplicate_retries", "error", err)
	}
	return g
}

// Generate returns a new question that is not similar to any asked one
func (g *Generator) Generate(ctx context.Context, req Request) (session.Question, error) {
	if g.llm == nil {
		return session.Question{}, apperr.New(apperr.KindGenerationUnavailable, "language service is not configured")
	}
	if !req.Chart.Empty() {
		if err := req.Chart.Validate(); err != nil {
			return session.Question{}, err
		}
	}

	first := len(req.Asked) == 0
	category := SelectCategory(req.Asked)
	factors := UncertainFactors(req.Chart)

	avoid := make([]string, len(req.Asked))
	for i, q := range req.Asked {
		avoid[i] = q.Text
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return session.Question{}, apperr.Wrap(apperr.KindGenerationTimeout, err, "generation abandoned")
		}

		p := prompt{
			first:      first,
			category:   category,
			chart:      req.Chart,
			factors:    factors,
			transcript: req.Transcript,
			avoid:      avoid,
			pressure:   attempt,
		}
		q, err := g.attempt(ctx, p)
		if err != nil {
			if apperr.Fatal(err) {
				return session.Question{}, err
			}
			lastErr = err
			g.logger.Warn("question attempt failed",
				"session_id", req.SessionID, "attempt", attempt+1, "error", err)
			continue
		}

		if match, dup := duplicateOf(q.Text, avoid); dup {
			lastErr = apperr.New(apperr.KindDuplicateQuestionsExhausted,
				"generated question duplicates %q", match)
			if g.retries != nil {
				g.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(category))))
			}
			g.logger.Info("rejected duplicate question",
				"session_id", req.SessionID, "attempt", attempt+1, "text", q.Text, "matches", match)
			continue
		}

		if g.issued != nil {
			g.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(q.Category))))
		}
		g.logger.Info("question generated",
			"session_id", req.SessionID, "question_id", q.ID, "category", q.Category, "attempts", attempt+1)
		return q, nil
	}

	return session.Question{}, exhausted(lastErr, g.maxRetries)
}

// attempt runs one bounded generation call and turns the response into a question
func (g *Generator) attempt(ctx context.Context, p prompt) (session.Question, error) {
	text, err := p.render()
	if err != nil {
		return session.Question{}, fmt.Errorf("failed to build prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.llm.Generate(ctx, llm.Request{
		Prompt:      text,
		TaskType:    llm.TaskQuestion,
		MaxTokens:   g.maxTokens,
		Temperature: Temperature(p.pressure),
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && apperr.KindOf(err) == "" {
			return session.Question{}, apperr.Wrap(apperr.KindGenerationTimeout, err, "generation timed out after %s", g.timeout)
		}
		if apperr.KindOf(err) == "" {
			return session.Question{}, apperr.Wrap(apperr.KindGenerationFailed, err, "generation failed")
		}
		return session.Question{}, err
	}

	var draft Draft
	switch r := Parse(resp.Content).(type) {
	case Parsed:
		draft = r.Draft
	case Unparseable:
		d, ok := Extract(r)
		if !ok {
			return session.Question{}, apperr.New(apperr.KindGenerationMalformed, "no question found in response: %s", r.Reason)
		}
		g.logger.Debug("recovered question from unstructured response", "reason", r.Reason)
		draft = d
	}

	return g.build(draft, p.category), nil
}

// build normalizes a draft into an issued question
func (g *Generator) build(d Draft, category session.Category) session.Question {
	if c := session.Category(strings.ToLower(strings.TrimSpace(d.Category))); c != "" && c != category {
		g.logger.Debug("draft category overridden", "draft", c, "target", category)
	}

	q := session.Question{
		ID:        g.newID(),
		Text:      strings.TrimSpace(d.Text),
		Type:      session.QuestionType(strings.ToLower(strings.TrimSpace(d.Type))),
		Category:  category,
		Options:   normalizeOptions(d.Options),
		Relevance: strings.TrimSpace(d.Relevance),
		IssuedAt:  g.now(),
	}

	if !q.Type.Valid() {
		if len(q.Options) > 0 {
			q.Type = session.TypeMultipleChoice
		} else {
			q.Type = session.TypeOpenText
		}
	}
	switch {
	case q.Type == session.TypeYesNo && len(q.Options) == 0:
		q.Options = []session.Option{{ID: "yes", Text: "Yes"}, {ID: "no", Text: "No"}}
	case q.Type == session.TypeMultipleChoice && len(q.Options) < 2:
		q.Type = session.TypeOpenText
		q.Options = nil
	case !q.Type.NeedsOptions():
		q.Options = nil
	}

	for _, f := range d.AstrologicalFactors {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			q.AstrologicalFactors = append(q.AstrologicalFactors, f)
		}
	}
	if len(q.AstrologicalFactors) == 0 {
		q.AstrologicalFactors = append([]string(nil), defaultFactors[category]...)
	}
	return q
}

func normalizeOptions(raw []any) []session.Option {
	var out []session.Option
	for i, item := range raw {
		var opt session.Option
		switch v := item.(type) {
		case string:
			opt.Text = v
		case map[string]any:
			if t, ok := v["text"].(string); ok {
				opt.Text = t
			}
			switch id := v["id"].(type) {
			case string:
				opt.ID = id
			case float64:
				opt.ID = fmt.Sprintf("%d", int(id))
			}
		}
		opt.Text = strings.TrimSpace(opt.Text)
		if opt.Text == "" {
			continue
		}
		if opt.ID == "" {
			opt.ID = fmt.Sprintf("opt_%d", i+1)
		}
		out = append(out, opt)
	}
	return out
}

// exhausted reports the failure that ended the retry loop
func exhausted(lastErr error, retries int) error {
	switch apperr.KindOf(lastErr) {
	case apperr.KindDuplicateQuestionsExhausted:
		return apperr.Wrap(apperr.KindDuplicateQuestionsExhausted, lastErr,
			"no unique question after %d retries", retries)
	case apperr.KindGenerationTimeout:
		return apperr.Wrap(apperr.KindGenerationTimeout, lastErr,
			"generation timed out on every attempt")
	case apperr.KindGenerationMalformed:
		return apperr.Wrap(apperr.KindGenerationMalformed, lastErr,
			"no usable question after %d retries", retries)
	}
	return apperr.Wrap(apperr.KindGenerationFailed, lastErr, "no question after %d retries", retries)
}

// duplicateOf reports whether text is similar to, or equal after
// normalization to, any of the asked texts
func duplicateOf(text string, asked []string) (string, bool) {
	norm := similarity.Normalize(text)
	for _, a := range asked {
		if norm != "" && norm == similarity.Normalize(a) {
			return a, true
		}
	}
	return similarity.AnySimilar(text, asked)
}

// Temperature maps diversity pressure to sampling temperature
func Temperature(pressure int) float64 {
	t := baseTemperature + temperaturePerRetry*float64(pressure)
	return math.Min(math.Round(t*100)/100, maxTemperature)
}

// SelectCategory returns the category for the next question: the fixed
// progression for the first questions, then the least asked balance category.
func SelectCategory(asked []session.Question) session.Category {
	n := len(asked)
	if n < ProgressionLength && n < len(session.Progression) {
		return session.Progression[n]
	}

	counts := make(map[session.Category]int, len(balanceCategories))
	for _, q := range asked {
		counts[q.Category]++
	}
	best := balanceCategories[0]
	for _, c := range balanceCategories[1:] {
		if counts[c] < counts[best] {
			best = c
		}
	}
	return best
}

// Factor is a chart feature sensitive to birth-time error
type Factor struct {
	Tag    string
	Detail string
}

// UncertainFactors lists the angular houses, then planets within CuspOrb of
// any house cusp ordered by closeness.
func UncertainFactors(c chart.Context) []Factor {
	var out []Factor
	for _, n := range chart.AngularHouses {
		h, ok := c.House(n)
		if !ok {
			continue
		}
		out = append(out, Factor{
			Tag:    fmt.Sprintf("house_%d", n),
			Detail: fmt.Sprintf("house %d cusp at %s %.1f°", n, chart.SignOf(h.Cusp), chart.DegreeInSign(h.Cusp)),
		})
	}

	type nearCusp struct {
		planet chart.Planet
		house  int
		dist   float64
	}
	var near []nearCusp
	for _, p := range c.Planets {
		if strings.EqualFold(p.Name, "ascendant") {
			continue
		}
		best := nearCusp{dist: math.Inf(1)}
		for _, h := range c.Houses {
			if d := chart.Distance(p.Degree, h.Cusp); d <= CuspOrb && d < best.dist {
				best = nearCusp{planet: p, house: h.Number, dist: d}
			}
		}
		if !math.IsInf(best.dist, 1) {
			near = append(near, best)
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].dist < near[j].dist })
	for _, n := range near {
		out = append(out, Factor{
			Tag:    strings.ToLower(n.planet.Name),
			Detail: fmt.Sprintf("%s %.1f° from house %d cusp", n.planet.Name, n.dist, n.house),
		})
	}
	return out
}
