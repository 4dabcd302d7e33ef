package question

import (
	"encoding/json"
	"fmt"

	"Rectify/internal/chart"
	"Rectify/internal/session"
)

type prompt struct {
	first      bool
	category   session.Category
	chart      chart.Context
	factors    []Factor
	transcript []session.Exchange
	avoid      []string
	pressure   int
}

type transcriptEntry struct {
	Question string `json:"question"`
	Category string `json:"category"`
	Answer   string `json:"answer"`
}

type promptPayload struct {
	Task              string            `json:"task"`
	Instructions      []string          `json:"instructions"`
	ChartSummary      string            `json:"chart_summary,omitempty"`
	UncertainFactors  []string          `json:"uncertain_factors,omitempty"`
	Transcript        []transcriptEntry `json:"transcript,omitempty"`
	TargetCategory    string            `json:"target_category"`
	AvoidQuestions    []string          `json:"avoid_questions,omitempty"`
	DiversityPressure int               `json:"diversity_pressure"`
	ResponseFormat    map[string]string `json:"response_format"`
}

var responseFormat = map[string]string{
	"text":                 "the question, one sentence",
	"type":                 "yes_no | multiple_choice | open_text | date_event | time_event | slider",
	"category":             "the target category",
	"options":              "list of {id, text}; required for yes_no and multiple_choice",
	"relevance":            "why the answer helps narrow the birth time",
	"astrological_factors": "list of tags such as house_1, moon, ascendant",
}

func (p prompt) render() (string, error) {
	payload := promptPayload{
		Task:              "generate_rectification_question",
		TargetCategory:    string(p.category),
		AvoidQuestions:    p.avoid,
		DiversityPressure: p.pressure,
		ResponseFormat:    responseFormat,
	}
	if !p.chart.Empty() {
		payload.ChartSummary = p.chart.Summary()
	}
	for _, f := range p.factors {
		payload.UncertainFactors = append(payload.UncertainFactors, f.Detail)
	}
	for _, ex := range p.transcript {
		payload.Transcript = append(payload.Transcript, transcriptEntry{
			Question: ex.Question.Text,
			Category: string(ex.Question.Category),
			Answer:   ex.Answer.Text,
		})
	}

	if p.first {
		payload.Instructions = []string{
			"This is the first question of the session.",
			"Ask about the person's physical appearance or the first impression they make, which reflects the ascendant.",
			"Prefer a multiple_choice question with 3 to 5 concrete options.",
		}
	} else {
		payload.Instructions = []string{
			fmt.Sprintf("Ask one question in the %s category.", p.category),
			"Steer toward the uncertain factors; answers should discriminate between nearby birth times.",
			"Do not repeat or rephrase any question in avoid_questions.",
		}
	}
	if p.pressure > 0 {
		payload.Instructions = append(payload.Instructions,
			fmt.Sprintf("Previous attempts were too similar to earlier questions. Diversity pressure is %d: choose a clearly different angle and wording.", p.pressure))
	}
	payload.Instructions = append(payload.Instructions, "Respond with a single JSON object matching response_format and nothing else.")

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
