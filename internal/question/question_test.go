package question

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rectify/internal/apperr"
	"Rectify/internal/chart"
	"Rectify/internal/llm"
	"Rectify/internal/session"
	"Rectify/internal/similarity"
)

func newTestGenerator(svc llm.Service, opts Options) *Generator {
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	g := NewGenerator(svc, opts)
	n := 0
	g.newID = func() string {
		n++
		return fmt.Sprintf("q%d", n)
	}
	return g
}

func testChart() chart.Context {
	return chart.Context{
		ID: "c1",
		Planets: []chart.Planet{
			{Name: "Sun", Sign: "Taurus", House: 9, Degree: 53.2},
			{Name: "Moon", Sign: "Cancer", House: 11, Degree: 101.7},
			{Name: "Mars", Sign: "Aries", House: 8, Degree: 12.0},
		},
		Houses: []chart.House{
			{Number: 1, Sign: "Virgo", Cusp: 172.4},
			{Number: 4, Sign: "Sagittarius", Cusp: 260.1},
			{Number: 5, Sign: "Cancer", Cusp: 100.0},
			{Number: 7, Sign: "Pisces", Cusp: 352.4},
			{Number: 10, Sign: "Gemini", Cusp: 80.1},
		},
	}
}

func TestGenerateFirstQuestion(t *testing.T) {
	svc := &llm.StaticService{Responses: []string{
		"```json\n{\"text\": \"How would you describe your build?\", \"type\": \"multiple_choice\", \"options\": [\"Slim\", \"Athletic\", \"Sturdy\"], \"relevance\": \"Build reflects the rising sign\"}\n```",
	}}
	g := newTestGenerator(svc, Options{})

	q, err := g.Generate(context.Background(), Request{Chart: testChart()})
	require.NoError(t, err)

	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, "How would you describe your build?", q.Text)
	assert.Equal(t, session.TypeMultipleChoice, q.Type)
	assert.Equal(t, session.CategoryPhysicalTraits, q.Category)
	require.Len(t, q.Options, 3)
	assert.Equal(t, session.Option{ID: "opt_1", Text: "Slim"}, q.Options[0])
	assert.Equal(t, []string{"ascendant", "house_1"}, q.AstrologicalFactors)

	require.Len(t, svc.Calls, 1)
	call := svc.Calls[0]
	assert.Equal(t, llm.TaskQuestion, call.TaskType)
	assert.InDelta(t, 0.7, call.Temperature, 1e-9)
	assert.Contains(t, call.Prompt, "first question of the session")
	assert.Contains(t, call.Prompt, `"target_category": "physical_traits"`)
	assert.Contains(t, call.Prompt, "Moon 1.7° from house 5 cusp")
}

func TestGenerateDuplicateExhausted(t *testing.T) {
	asked := []session.Question{{ID: "a1", Text: "Are you taller than most people around you?", Category: session.CategoryPhysicalTraits}}
	svc := &llm.StaticService{Responses: []string{
		`{"text": "Are you taller than most people around you?", "type": "yes_no"}`,
	}}
	g := newTestGenerator(svc, Options{})

	_, err := g.Generate(context.Background(), Request{Chart: testChart(), Asked: asked})
	assert.ErrorIs(t, err, apperr.ErrDuplicateQuestionsExhausted)

	require.Len(t, svc.Calls, MaxRetries+1)
	for i, call := range svc.Calls {
		assert.InDelta(t, Temperature(i), call.Temperature, 1e-9)
		assert.Contains(t, call.Prompt, fmt.Sprintf(`"diversity_pressure": %d`, i))
	}
	assert.InDelta(t, 1.0, svc.Calls[3].Temperature, 1e-9)
}

func TestGenerateRecoversAfterDuplicate(t *testing.T) {
	asked := []session.Question{{ID: "a1", Text: "Are you taller than most people around you?", Category: session.CategoryPhysicalTraits}}
	svc := &llm.StaticService{Responses: []string{
		`{"text": "Are you TALLER than most people around you!", "type": "yes_no"}`,
		`{"text": "Do strangers often describe you as calm or intense?", "type": "open_text", "options": ["calm"]}`,
	}}
	g := newTestGenerator(svc, Options{})

	q, err := g.Generate(context.Background(), Request{Chart: testChart(), Asked: asked})
	require.NoError(t, err)
	assert.Equal(t, "Do strangers often describe you as calm or intense?", q.Text)
	assert.Equal(t, session.CategoryPersonalityTraits, q.Category)
	assert.Nil(t, q.Options)
	assert.Len(t, svc.Calls, 2)
	assert.False(t, similarity.IsSimilar(q.Text, asked[0].Text))
}

func TestGenerateUnavailable(t *testing.T) {
	g := newTestGenerator(nil, Options{})
	_, err := g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)

	svc := &llm.StaticService{Err: apperr.New(apperr.KindGenerationUnavailable, "no key")}
	g = newTestGenerator(svc, Options{})
	_, err = g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationUnavailable)
	assert.Len(t, svc.Calls, 1, "unavailable is not retried")
}

func TestGenerateInvalidChart(t *testing.T) {
	svc := &llm.StaticService{Responses: []string{`{"text":"Anything at all?"}`}}
	g := newTestGenerator(svc, Options{})
	c := testChart()
	c.Houses = nil
	_, err := g.Generate(context.Background(), Request{Chart: c})
	assert.ErrorIs(t, err, apperr.ErrInvalidChartContext)
	assert.Empty(t, svc.Calls)
}

type blockingService struct{ calls int }

func (b *blockingService) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	b.calls++
	<-ctx.Done()
	return llm.Response{}, ctx.Err()
}

func TestGenerateTimeout(t *testing.T) {
	svc := &blockingService{}
	g := newTestGenerator(svc, Options{Timeout: 10 * time.Millisecond, MaxRetries: 1})
	_, err := g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationTimeout)
	assert.Equal(t, 2, svc.calls)
}

func TestGenerateMalformedThenValid(t *testing.T) {
	svc := &llm.StaticService{Responses: []string{
		"I cannot help with that.",
		"Sure! Here is one:\nQuestion: What time of day do you feel most energetic?\nCategory: timing_preferences\nType: open_text",
	}}
	g := newTestGenerator(svc, Options{})
	q, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "What time of day do you feel most energetic?", q.Text)
	assert.Equal(t, session.TypeOpenText, q.Type)
	assert.Len(t, svc.Calls, 2)
}

func TestGenerateAllMalformed(t *testing.T) {
	svc := &llm.StaticService{Responses: []string{"no."}}
	g := newTestGenerator(svc, Options{MaxRetries: 2})
	_, err := g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, apperr.ErrGenerationMalformed)
	assert.Len(t, svc.Calls, 3)
}

func TestBuildNormalizesDraft(t *testing.T) {
	g := newTestGenerator(nil, Options{})

	tests := []struct {
		name        string
		draft       Draft
		wantType    session.QuestionType
		wantOptions int
	}{
		{"yes_no gets default options", Draft{Text: "Were you an early walker?", Type: "yes_no"}, session.TypeYesNo, 2},
		{"unknown type with options", Draft{Text: "Pick one please", Type: "choice", Options: []any{"a", "b"}}, session.TypeMultipleChoice, 2},
		{"unknown type without options", Draft{Text: "Tell me more", Type: "essay"}, session.TypeOpenText, 0},
		{"multiple choice needs options", Draft{Text: "Pick one please", Type: "multiple_choice", Options: []any{"only"}}, session.TypeOpenText, 0},
		{"slider drops options", Draft{Text: "How sure are you?", Type: "slider", Options: []any{"1", "2"}}, session.TypeSlider, 0},
		{"object options", Draft{Text: "Pick one please", Type: "MULTIPLE_CHOICE", Options: []any{
			map[string]any{"id": "x", "text": "X"}, map[string]any{"id": float64(2), "text": "Y"}, map[string]any{"text": " "},
		}}, session.TypeMultipleChoice, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := g.build(tt.draft, session.CategoryCareer)
			assert.Equal(t, tt.wantType, q.Type)
			assert.Len(t, q.Options, tt.wantOptions)
			assert.Equal(t, session.CategoryCareer, q.Category)
			assert.Equal(t, []string{"house_10", "midheaven", "saturn"}, q.AstrologicalFactors)
		})
	}

	q := g.build(Draft{Text: "Pick one please", Type: "multiple_choice", Options: []any{
		map[string]any{"id": "x", "text": "X"}, map[string]any{"id": float64(2), "text": "Y"},
	}, AstrologicalFactors: []string{" Moon ", ""}}, session.CategoryHealth)
	assert.Equal(t, "x", q.Options[0].ID)
	assert.Equal(t, "2", q.Options[1].ID)
	assert.Equal(t, []string{"moon"}, q.AstrologicalFactors)
}

func TestSelectCategory(t *testing.T) {
	var asked []session.Question
	for i := 0; i < ProgressionLength; i++ {
		assert.Equal(t, session.Progression[i], SelectCategory(asked))
		asked = append(asked, session.Question{Category: session.Progression[i]})
	}

	// one of each balance category asked so far; ties go to life_events
	assert.Equal(t, session.CategoryLifeEvents, SelectCategory(asked))

	asked = append(asked, session.Question{Category: session.CategoryLifeEvents})
	assert.Equal(t, session.CategoryTimingPreferences, SelectCategory(asked))

	asked = append(asked, session.Question{Category: session.CategoryTimingPreferences})
	assert.Equal(t, session.CategoryPhysicalTraits, SelectCategory(asked))
}

func TestUncertainFactors(t *testing.T) {
	factors := UncertainFactors(testChart())
	var tags []string
	for _, f := range factors {
		tags = append(tags, f.Tag)
	}
	assert.Equal(t, []string{"house_1", "house_4", "house_7", "house_10", "moon"}, tags)
	assert.Equal(t, "house 1 cusp at Virgo 22.4°", factors[0].Detail)

	assert.Empty(t, UncertainFactors(chart.Context{}))
}

func TestTemperature(t *testing.T) {
	assert.InDelta(t, 0.7, Temperature(0), 1e-9)
	assert.InDelta(t, 0.9, Temperature(2), 1e-9)
	assert.InDelta(t, 1.0, Temperature(5), 1e-9)
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantText string
		parsed   bool
	}{
		{"plain json", `{"text": "When did you first move away from home?"}`, "When did you first move away from home?", true},
		{"fenced", "Here you go:\n```json\n{\"text\": \"Do you wear glasses today?\"}\n```", "Do you wear glasses today?", true},
		{"chatty braces", `Sure: {"text": "Is your hair naturally curly?", "type": "yes_no"} hope it helps`, "Is your hair naturally curly?", true},
		{"wrapped", `{"question": {"text": "Which sibling are you by birth order?"}}`, "Which sibling are you by birth order?", true},
		{"missing text", `{"category": "career"}`, "", false},
		{"short text", `{"text": "Hi"}`, "", false},
		{"bad options", `{"text": "Choose a colour now", "options": [1, 2]}`, "", false},
		{"not json", "What is your favourite season?", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.content)
			if !tt.parsed {
				_, ok := r.(Unparseable)
				assert.True(t, ok)
				return
			}
			p, ok := r.(Parsed)
			require.True(t, ok, "got %#v", r)
			assert.Equal(t, tt.wantText, p.Draft.Text)
		})
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Draft
		ok   bool
	}{
		{
			name: "broken json",
			raw:  `{"text": "Did you change careers around age 30?", "category": "career", "type": "yes_no", "relevance": "Saturn return",`,
			want: Draft{Text: "Did you change careers around age 30?", Category: "career", Type: "yes_no", Relevance: "Saturn return"},
			ok:   true,
		},
		{
			name: "key value lines",
			raw:  "Question: Were you born before or after sunrise?\nType: multiple_choice\nRelevance: separates day and night charts",
			want: Draft{Text: "Were you born before or after sunrise?", Type: "multiple_choice", Relevance: "separates day and night charts"},
			ok:   true,
		},
		{
			name: "bare question",
			raw:  "Here is my suggestion.\n1. How tall were you at age sixteen?",
			want: Draft{Text: "How tall were you at age sixteen?"},
			ok:   true,
		},
		{name: "nothing", raw: "Sorry, I can't.", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := Extract(Unparseable{Raw: tt.raw})
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, d)
			}
		})
	}
}

func TestPromptAvoidsAskedTexts(t *testing.T) {
	p := prompt{
		category: session.CategoryCareer,
		avoid:    []string{"What was your first job?"},
		transcript: []session.Exchange{{
			Question: session.Question{Text: "What was your first job?", Category: session.CategoryCareer},
			Answer:   session.Answer{Text: "Barista"},
		}},
	}
	text, err := p.render()
	require.NoError(t, err)
	assert.Contains(t, text, `"avoid_questions"`)
	assert.Contains(t, text, "Barista")
	assert.NotContains(t, text, "chart_summary")
	assert.False(t, strings.Contains(text, "Diversity pressure"))
}
