// Package indicator pulls birth-time signals out of answers and turns the
// accumulated signals into a time window.
package indicator

import (
	"regexp"
	"strconv"
	"strings"

	"Rectify/internal/session"
)

// Confidence levels a person can report about their known birth time
const (
	ConfidenceHigh    = "high"
	ConfidenceMedium  = "medium"
	ConfidenceLow     = "low"
	ConfidenceVeryLow = "very_low"
)

// Day/night and timing values
const (
	Day    = "day"
	Night  = "night"
	Early  = "early"
	Late   = "late"
	OnTime = "on_time"
)

var (
	// 2:15 pm, 2.15pm, 3 pm, 11 a.m.
	meridiemTime = regexp.MustCompile(`\b(\d{1,2})(?:[:.](\d{2}))?\s*([ap])\.?\s?m\b\.?`)
	// 14:15, 09:05
	clockTime = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

	questionDayNight = regexp.MustCompile(`\b(day|daytime|night|nighttime|morning|afternoon|evening|daylight|dark)\b`)
	answerDay        = regexp.MustCompile(`\b(day|daytime|daylight|morning|afternoon|noon|sunrise)\b`)
	answerNight      = regexp.MustCompile(`\b(night|nighttime|evening|midnight|dark|sunset)\b`)

	questionBirthTime = regexp.MustCompile(`\b(born|birth time|time of birth|birth certificate|birth record)\b`)

	questionTiming = regexp.MustCompile(`\b(early|late|on time|due date|premature|overdue|punctual|ahead of schedule)\b`)
	answerEarly    = regexp.MustCompile(`\b(early|premature|before (?:the |my )?due date|ahead of schedule)\b`)
	answerLate     = regexp.MustCompile(`\b(late|overdue|after (?:the |my )?due date|behind schedule)\b`)
	answerOnTime   = regexp.MustCompile(`\b(on time|on schedule|right on (?:the |my )?due date|punctual)\b`)
)

// Phrase lists are checked in order; negations come before affirmatives so
// "not sure" never reads as "sure".
var confidencePhrases = []struct {
	level   string
	phrases []string
}{
	{ConfidenceVeryLow, []string{"just a guess", "wild guess", "no idea", "don't know", "dont know", "do not know", "no clue", "guessing"}},
	{ConfidenceLow, []string{"not sure", "not certain", "not confident", "unsure", "uncertain", "can't remember", "cannot remember", "don't remember"}},
	{ConfidenceHigh, []string{"very certain", "definitely", "absolutely", "birth certificate", "hospital record", "certain", "confident", "exactly", "precisely"}},
	{ConfidenceMedium, []string{"fairly sure", "pretty sure", "reasonably", "probably", "i think", "mostly sure", "somewhat"}},
	{ConfidenceLow, []string{"roughly", "approximately", "vaguely", "maybe", "perhaps"}},
}

// Extract scans one answer, paired with its question, for time signals.
// It reports false when nothing was found.
func Extract(questionText, answerText string) (session.Indicators, bool) {
	q := strings.ToLower(questionText)
	a := strings.ToLower(answerText)

	var in session.Indicators
	in.ExplicitTime = explicitTime(a)

	if questionDayNight.MatchString(q) {
		in.DayNight = dayNight(a)
	}
	if questionTiming.MatchString(q) {
		in.Timing = timing(a)
	}
	// Hedges only count when they qualify a time statement
	if in.ExplicitTime != "" || in.DayNight != "" || in.Timing != "" || questionBirthTime.MatchString(q) {
		in.Confidence = confidenceLevel(a)
	}

	return in, !in.Empty()
}

func explicitTime(a string) string {
	if m := meridiemTime.FindStringSubmatch(a); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour >= 1 && hour <= 12 && minute <= 59 {
			if m[3] == "p" && hour != 12 {
				hour += 12
			}
			if m[3] == "a" && hour == 12 {
				hour = 0
			}
			return session.NewClockTime(hour, minute).String()
		}
	}
	if m := clockTime.FindStringSubmatch(a); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return session.NewClockTime(hour, minute).String()
	}
	return ""
}

func dayNight(a string) string {
	day := answerDay.FindStringIndex(a)
	night := answerNight.FindStringIndex(a)
	switch {
	case day != nil && night == nil:
		return Day
	case night != nil && day == nil:
		return Night
	}
	return ""
}

func timing(a string) string {
	switch {
	case answerOnTime.MatchString(a):
		return OnTime
	case answerEarly.MatchString(a) && !answerLate.MatchString(a):
		return Early
	case answerLate.MatchString(a) && !answerEarly.MatchString(a):
		return Late
	}
	return ""
}

func confidenceLevel(a string) string {
	for _, group := range confidencePhrases {
		for _, p := range group.phrases {
			if strings.Contains(a, p) {
				return group.level
			}
		}
	}
	return ""
}
