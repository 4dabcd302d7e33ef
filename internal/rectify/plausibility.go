package rectify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"Rectify/internal/llm"
)

const (
	// MethodLLMPlausibility asks the language service to rate each adjustment
	MethodLLMPlausibility = "llm_plausibility"

	plausibilityWeight      = 0.8
	plausibilityTemperature = 0.2
	plausibilityMaxTokens   = 500
)

// PlausibilityMethod rates offsets through the language service
type PlausibilityMethod struct {
	LLM llm.Service
}

func (PlausibilityMethod) Name() string { return MethodLLMPlausibility }

func (m PlausibilityMethod) Weight(Input) float64 {
	if m.LLM == nil {
		return 0
	}
	return plausibilityWeight
}

type plausibilityAnswer struct {
	Question string `json:"question"`
	Category string `json:"category"`
	Answer   string `json:"answer"`
}

type plausibilityPrompt struct {
	Task           string               `json:"task"`
	Instructions   []string             `json:"instructions"`
	OriginalTime   string               `json:"original_time"`
	ChartSummary   string               `json:"chart_summary,omitempty"`
	Answers        []plausibilityAnswer `json:"answers"`
	Offsets        []int                `json:"candidate_offsets_minutes"`
	ResponseFormat string               `json:"response_format"`
}

func (m PlausibilityMethod) Score(ctx context.Context, in Input, offsets []int) (map[int]float64, error) {
	if m.LLM == nil {
		return nil, ErrNoData
	}
	p := plausibilityPrompt{
		Task: "rate_birth_time_adjustments",
		Instructions: []string{
			"Each candidate shifts the recorded birth time by the given number of minutes.",
			"Rate how well the chart at each shifted time fits the answers, from 0 to 1.",
			"Respond with a single JSON object and nothing else.",
		},
		OriginalTime:   in.OriginalTime.String(),
		Offsets:        offsets,
		ResponseFormat: `{"scores": {"<offset>": <0..1>, ...}}`,
	}
	if !in.Chart.Empty() {
		p.ChartSummary = in.Chart.Summary()
	}
	for _, ex := range in.Exchanges {
		p.Answers = append(p.Answers, plausibilityAnswer{
			Question: ex.Question.Text,
			Category: string(ex.Question.Category),
			Answer:   ex.Answer.Text,
		})
	}
	prompt, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to build plausibility prompt: %w", err)
	}

	resp, err := m.LLM.Generate(ctx, llm.Request{
		Prompt:      string(prompt),
		TaskType:    llm.TaskPlausibility,
		MaxTokens:   plausibilityMaxTokens,
		Temperature: plausibilityTemperature,
	})
	if err != nil {
		return nil, err
	}
	return parsePlausibility(resp.Content, offsets)
}

// parsePlausibility reads {"scores": {"-30": 0.9}} or a bare offset map,
// keeping only requested offsets
func parsePlausibility(content string, offsets []int) (map[int]float64, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in plausibility response")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse plausibility response: %w", err)
	}
	if inner, ok := raw["scores"]; ok {
		raw = nil
		if err := json.Unmarshal(inner, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse plausibility scores: %w", err)
		}
	}

	wanted := make(map[int]bool, len(offsets))
	for _, o := range offsets {
		wanted[o] = true
	}
	out := make(map[int]float64)
	for k, v := range raw {
		off, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(k), "+"))
		if err != nil || !wanted[off] {
			continue
		}
		var score float64
		if err := json.Unmarshal(v, &score); err != nil {
			continue
		}
		out[off] = clamp01(score)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("plausibility response scored none of the candidates")
	}
	return out, nil
}

// DefaultMethods returns the standard method set. The plausibility method
// is included only when svc is non-nil.
func DefaultMethods(svc llm.Service) []Method {
	methods := []Method{DivisionalMethod{}, EventMethod{}, AscendantMethod{}}
	if svc != nil {
		methods = append(methods, PlausibilityMethod{LLM: svc})
	}
	return methods
}
