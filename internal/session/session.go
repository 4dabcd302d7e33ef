package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a rectification session
type Status string

const (
	StatusInitialized Status = "initialized"
	StatusActive      Status = "active"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// QuestionType describes how a question expects to be answered
type QuestionType string

const (
	TypeYesNo          QuestionType = "yes_no"
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeOpenText       QuestionType = "open_text"
	TypeDateEvent      QuestionType = "date_event"
	TypeTimeEvent      QuestionType = "time_event"
	TypeSlider         QuestionType = "slider"
)

// Valid reports whether t is one of the known question types
func (t QuestionType) Valid() bool {
	switch t {
	case TypeYesNo, TypeMultipleChoice, TypeOpenText, TypeDateEvent, TypeTimeEvent, TypeSlider:
		return true
	}
	return false
}

// NeedsOptions reports whether questions of this type must carry options
func (t QuestionType) NeedsOptions() bool {
	return t == TypeYesNo || t == TypeMultipleChoice
}

// Category is the topic a question explores
type Category string

const (
	CategoryPhysicalTraits    Category = "physical_traits"
	CategoryPersonalityTraits Category = "personality_traits"
	CategoryLifeEvents        Category = "life_events"
	CategoryTimingPreferences Category = "timing_preferences"
	CategoryRelationships     Category = "relationships"
	CategoryCareer            Category = "career"
	CategoryHealth            Category = "health"
	CategorySpiritual         Category = "spiritual"
)

// Progression is the fixed order in which categories are visited
var Progression = []Category{
	CategoryPhysicalTraits,
	CategoryPersonalityTraits,
	CategoryLifeEvents,
	CategoryTimingPreferences,
	CategoryRelationships,
	CategoryCareer,
	CategoryHealth,
	CategorySpiritual,
}

// Valid reports whether c belongs to the progression
func (c Category) Valid() bool {
	for _, p := range Progression {
		if p == c {
			return true
		}
	}
	return false
}

// Option is one selectable answer of a choice question
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is immutable once issued
type Question struct {
	ID                  string       `json:"id"`
	Text                string       `json:"text"`
	Type                QuestionType `json:"type"`
	Category            Category     `json:"category"`
	Options             []Option     `json:"options,omitempty"`
	Relevance           string       `json:"relevance,omitempty"`
	AstrologicalFactors []string     `json:"astrological_factors,omitempty"`
	IssuedAt            time.Time    `json:"issued_at"`
}

// Answer is a recorded response to a question
type Answer struct {
	QuestionID          string    `json:"question_id"`
	Text                string    `json:"text"`
	Quality             *float64  `json:"quality,omitempty"`
	Category            Category  `json:"category"`
	AstrologicalFactors []string  `json:"astrological_factors,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// Exchange pairs a question with its answer
type Exchange struct {
	Question Question `json:"question"`
	Answer   Answer   `json:"answer"`
}

// Indicators are the time signals found in one answer
type Indicators struct {
	ExplicitTime string `json:"explicit_time,omitempty"` // "HH:MM", 24-hour
	DayNight     string `json:"day_night,omitempty"`     // "day" | "night"
	Timing       string `json:"timing,omitempty"`        // "early" | "late" | "on_time"
	Confidence   string `json:"confidence,omitempty"`    // "high" | "medium" | "low" | "very_low"
}

// Empty reports whether no signal was found
func (in Indicators) Empty() bool {
	return in == Indicators{}
}

// TimeWindow is the current best estimate of the birth time range.
// End may be earlier than Start for a span crossing midnight.
type TimeWindow struct {
	Start       ClockTime `json:"start"`
	End         ClockTime `json:"end"`
	Confidence  float64   `json:"confidence"`
	Explanation string    `json:"explanation"`
	Reasoning   string    `json:"reasoning"`
}

// Minutes returns the span length, accounting for overnight windows
func (w TimeWindow) Minutes() int {
	d := int(w.End) - int(w.Start)
	if d < 0 {
		d += MinutesPerDay
	}
	return d
}

// CandidateScore is the persisted form of one evaluated adjustment
type CandidateScore struct {
	OffsetMinutes  int                `json:"offset_minutes"`
	MethodScores   map[string]float64 `json:"method_scores"`
	CompositeScore float64            `json:"composite_score"`
}

// RectificationResult is the final recommendation stored on completion
type RectificationResult struct {
	OriginalTime      ClockTime          `json:"original_time"`
	RectifiedTime     ClockTime          `json:"rectified_time"`
	BestOffsetMinutes int                `json:"best_offset_minutes"`
	Confidence        float64            `json:"confidence"`
	Methods           map[string]float64 `json:"methods"` // method name -> weight used
	Candidates        []CandidateScore   `json:"candidates"`
	ComputedAt        time.Time          `json:"computed_at"`
}

// Session represents one rectification questionnaire
type Session struct {
	ID             string               `json:"id"`
	ChartID        string               `json:"chart_id,omitempty"`
	Status         Status               `json:"status"`
	Questions      []Question           `json:"questions"`
	Answers        []Answer             `json:"answers"`
	Indicators     []Indicators         `json:"indicators,omitempty"`
	CoveredFactors []string             `json:"covered_factors,omitempty"`
	Confidence     float64              `json:"confidence"`
	TimeWindow     *TimeWindow          `json:"time_window,omitempty"`
	Result         *RectificationResult `json:"result,omitempty"`
	LastError      string               `json:"last_error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
}

// New creates an initialized session
func New(id, chartID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		ChartID:   chartID,
		Status:    StatusInitialized,
		Questions: []Question{},
		Answers:   []Answer{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Question looks up an issued question by id
func (s *Session) Question(id string) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Answered reports whether a question already has an answer
func (s *Session) Answered(questionID string) bool {
	for _, a := range s.Answers {
		if a.QuestionID == questionID {
			return true
		}
	}
	return false
}

// Exchanges returns answered questions in answer order
func (s *Session) Exchanges() []Exchange {
	out := make([]Exchange, 0, len(s.Answers))
	for _, a := range s.Answers {
		q, ok := s.Question(a.QuestionID)
		if !ok {
			continue
		}
		out = append(out, Exchange{Question: q, Answer: a})
	}
	return out
}

// Clone returns a deep copy so stores never share mutable state with callers
func (s *Session) Clone() (*Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &out, nil
}
