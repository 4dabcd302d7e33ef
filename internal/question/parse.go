package question

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Draft is a question as proposed by the language service, before
// normalization and id assignment.
type Draft struct {
	Text                string   `json:"text"`
	Type                string   `json:"type,omitempty"`
	Category            string   `json:"category,omitempty"`
	Options             []any    `json:"options,omitempty"`
	Relevance           string   `json:"relevance,omitempty"`
	AstrologicalFactors []string `json:"astrological_factors,omitempty"`
}

// Result is the outcome of parsing a response: Parsed or Unparseable
type Result interface {
	isResult()
}

// Parsed holds a draft decoded from schema-valid JSON
type Parsed struct {
	Draft Draft
}

// Unparseable holds a response that was not schema-valid JSON
type Unparseable struct {
	Raw    string
	Reason string
}

func (Parsed) isResult()      {}
func (Unparseable) isResult() {}

const draftSchemaJSON = `{
	"type": "object",
	"required": ["text"],
	"properties": {
		"text": {"type": "string", "minLength": 5},
		"type": {"type": "string"},
		"category": {"type": "string"},
		"relevance": {"type": "string"},
		"astrological_factors": {"type": "array", "items": {"type": "string"}},
		"options": {
			"type": "array",
			"items": {
				"anyOf": [
					{"type": "string"},
					{
						"type": "object",
						"required": ["text"],
						"properties": {
							"id": {"type": ["string", "number"]},
							"text": {"type": "string"}
						}
					}
				]
			}
		}
	}
}`

var draftSchema = jsonschema.MustCompileString("question_draft.schema.json", draftSchemaJSON)

// Parse decodes a language-service response into a draft
func Parse(content string) Result {
	cleaned := cleanJSONOutput(content)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return Unparseable{Raw: content, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["question"].(map[string]any); ok {
			v = inner
		}
	}
	if err := draftSchema.Validate(v); err != nil {
		return Unparseable{Raw: content, Reason: fmt.Sprintf("schema validation failed: %v", err)}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return Unparseable{Raw: content, Reason: err.Error()}
	}
	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return Unparseable{Raw: content, Reason: err.Error()}
	}
	return Parsed{Draft: d}
}

// cleanJSONOutput extracts a JSON object from fenced or chatty output
func cleanJSONOutput(s string) string {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "```json"); idx != -1 {
		s = s[idx+7:]
		if endIdx := strings.Index(s, "```"); endIdx != -1 {
			s = s[:endIdx]
		}
		return strings.TrimSpace(s)
	}
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if nlIdx := strings.Index(s, "\n"); nlIdx != -1 && nlIdx < 20 {
			s = s[nlIdx+1:]
		}
		if endIdx := strings.Index(s, "```"); endIdx != -1 {
			s = s[:endIdx]
		}
		return strings.TrimSpace(s)
	}

	start := strings.Index(s, `{"`)
	if start == -1 {
		start = strings.Index(s, "{")
	}
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

// Field patterns for responses that are almost JSON or plain "key: value" text
var fieldPatterns = map[string][]*regexp.Regexp{
	"text": {
		regexp.MustCompile(`"(?:text|question)"\s*:\s*"((?:[^"\\]|\\.)+)"`),
		regexp.MustCompile(`(?im)^\s*(?:text|question)\s*[:=]\s*(.+?)\s*$`),
	},
	"category": {
		regexp.MustCompile(`"category"\s*:\s*"([a-z_]+)"`),
		regexp.MustCompile(`(?im)^\s*category\s*[:=]\s*([a-z_]+)`),
	},
	"type": {
		regexp.MustCompile(`"type"\s*:\s*"([a-z_]+)"`),
		regexp.MustCompile(`(?im)^\s*type\s*[:=]\s*([a-z_]+)`),
	},
	"relevance": {
		regexp.MustCompile(`"relevance"\s*:\s*"((?:[^"\\]|\\.)+)"`),
		regexp.MustCompile(`(?im)^\s*relevance\s*[:=]\s*(.+?)\s*$`),
	},
}

var bareQuestion = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]\s*|[-*]\s*)?([A-Z][^?\n]{8,}\?)`)

// Extract recovers a draft from an Unparseable response. It reports false
// when no question text can be found.
func Extract(u Unparseable) (Draft, bool) {
	d := Draft{
		Text:      field(u.Raw, "text"),
		Category:  field(u.Raw, "category"),
		Type:      field(u.Raw, "type"),
		Relevance: field(u.Raw, "relevance"),
	}
	if d.Text == "" {
		if m := bareQuestion.FindStringSubmatch(u.Raw); m != nil {
			d.Text = strings.TrimSpace(m[1])
		}
	}
	d.Text = strings.Trim(strings.TrimSpace(d.Text), `"`)
	return d, len(d.Text) >= 5
}

func field(raw, name string) string {
	for _, re := range fieldPatterns[name] {
		if m := re.FindStringSubmatch(raw); m != nil {
			v := m[1]
			if unquoted, err := unescape(v); err == nil {
				v = unquoted
			}
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func unescape(s string) (string, error) {
	var out string
	err := json.Unmarshal([]byte(`"`+s+`"`), &out)
	return out, err
}
