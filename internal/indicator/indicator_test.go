package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Rectify/internal/session"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		question string
		answer   string
		want     session.Indicators
		found    bool
	}{
		{
			name:     "explicit pm time with high confidence",
			question: "Do you know your birth time?",
			answer:   "I was born around 2:15 PM, definitely confident, it's on my birth certificate",
			want:     session.Indicators{ExplicitTime: "14:15", Confidence: ConfidenceHigh},
			found:    true,
		},
		{
			name:     "24 hour clock",
			question: "Do you know your birth time?",
			answer:   "My mother says 09:40",
			want:     session.Indicators{ExplicitTime: "09:40"},
			found:    true,
		},
		{
			name:     "hour only am",
			question: "What time were you born?",
			answer:   "maybe 3am",
			want:     session.Indicators{ExplicitTime: "03:00", Confidence: ConfidenceLow},
			found:    true,
		},
		{
			name:     "midnight and noon",
			question: "What time were you born?",
			answer:   "12 a.m.",
			want:     session.Indicators{ExplicitTime: "00:00"},
			found:    true,
		},
		{
			name:     "day cue when question asks",
			question: "Were you born during the day or at night?",
			answer:   "Sometime in the morning",
			want:     session.Indicators{DayNight: Day},
			found:    true,
		},
		{
			name:     "day cue ignored for unrelated question",
			question: "What do you do for a living?",
			answer:   "I work the night shift",
			found:    false,
		},
		{
			name:     "both day and night is ambiguous",
			question: "Day or night?",
			answer:   "Either late evening or early morning",
			found:    false,
		},
		{
			name:     "late birth",
			question: "Were you born early or late compared to your due date?",
			answer:   "Two weeks overdue",
			want:     session.Indicators{Timing: Late},
			found:    true,
		},
		{
			name:     "on time birth",
			question: "Were you born early or late?",
			answer:   "Right on time",
			want:     session.Indicators{Timing: OnTime},
			found:    true,
		},
		{
			name:     "negation beats affirmative",
			question: "How sure are you of your birth time?",
			answer:   "I'm not sure, not certain at all",
			want:     session.Indicators{Confidence: ConfidenceLow},
			found:    true,
		},
		{
			name:     "just a guess",
			question: "Is your time of birth recorded anywhere?",
			answer:   "It's just a guess really",
			want:     session.Indicators{Confidence: ConfidenceVeryLow},
			found:    true,
		},
		{
			name:     "hedge ignored for unrelated question",
			question: "Do friends see you as reserved or outgoing?",
			answer:   "Maybe a bit shy at first",
			found:    false,
		},
		{
			name:     "nothing",
			question: "Describe your build",
			answer:   "Tall and slim",
			found:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.question, tt.answer)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNarrowExplicitHighConfidence(t *testing.T) {
	in, ok := Extract("Do you know your birth time?",
		"I was born around 2:15 PM, definitely confident, it's on my birth certificate")
	require.True(t, ok)

	w, ok := Narrow([]session.Indicators{in})
	require.True(t, ok)
	assert.Equal(t, "13:45", w.Start.String())
	assert.Equal(t, "14:30", w.End.String())
	assert.Equal(t, 85.0, w.Confidence)
}

func TestNarrowOrdering(t *testing.T) {
	levels := []string{ConfidenceHigh, ConfidenceMedium, ConfidenceLow, ""}
	prevMinutes := 0
	prevConf := 101.0
	for _, level := range levels {
		w, ok := Narrow([]session.Indicators{{ExplicitTime: "10:00", Confidence: level}})
		require.True(t, ok)
		assert.Greater(t, w.Minutes(), prevMinutes, "level %q", level)
		assert.Less(t, w.Confidence, prevConf, "level %q", level)
		prevMinutes, prevConf = w.Minutes(), w.Confidence
	}

	day, ok := Narrow([]session.Indicators{{DayNight: Day}})
	require.True(t, ok)
	assert.Greater(t, day.Minutes(), prevMinutes)
	assert.Less(t, day.Confidence, prevConf)
}

func TestNarrowDayNight(t *testing.T) {
	w, ok := Narrow([]session.Indicators{{DayNight: Night}})
	require.True(t, ok)
	assert.Equal(t, "18:00", w.Start.String())
	assert.Equal(t, "06:00", w.End.String())
	assert.Equal(t, 720, w.Minutes())
	assert.Equal(t, 50.0, w.Confidence)
}

func TestNarrowWrapsMidnight(t *testing.T) {
	w, ok := Narrow([]session.Indicators{{ExplicitTime: "00:10", Confidence: ConfidenceMedium}})
	require.True(t, ok)
	assert.Equal(t, "23:10", w.Start.String())
	assert.Equal(t, "00:40", w.End.String())
	assert.Equal(t, 90, w.Minutes())
}

func TestNarrowLatestSignalsWin(t *testing.T) {
	history := []session.Indicators{
		{ExplicitTime: "08:00", Confidence: ConfidenceLow},
		{DayNight: Day},
		{Confidence: ConfidenceHigh},
		{ExplicitTime: "09:30", Confidence: ConfidenceMedium},
	}
	w, ok := Narrow(history)
	require.True(t, ok)
	assert.Equal(t, "08:30", w.Start.String())
	assert.Equal(t, "10:00", w.End.String())
}

func TestNarrowKeepsConfidenceOfStatedTime(t *testing.T) {
	first, ok := Extract("What time were you born?", "2:15 PM, it's on my birth certificate")
	require.True(t, ok)
	history := []session.Indicators{first}

	before, ok := Narrow(history)
	require.True(t, ok)
	assert.Equal(t, "13:45", before.Start.String())
	assert.Equal(t, "14:30", before.End.String())

	if later, ok := Extract("Do friends see you as reserved or outgoing?", "Maybe a bit shy at first"); ok {
		history = append(history, later)
	}
	history = append(history, session.Indicators{Confidence: ConfidenceVeryLow})

	after, ok := Narrow(history)
	require.True(t, ok)
	assert.Equal(t, before.Start, after.Start)
	assert.Equal(t, before.End, after.End)
	assert.Equal(t, 45, after.Minutes())
	assert.Equal(t, before.Confidence, after.Confidence)
}

func TestNarrowReasoningDescribesAsymmetricWindow(t *testing.T) {
	w, ok := Narrow([]session.Indicators{{ExplicitTime: "10:00", Confidence: ConfidenceMedium}})
	require.True(t, ok)
	assert.Contains(t, w.Reasoning, "60 minutes before the stated time 10:00")
	assert.Contains(t, w.Reasoning, "30 minutes after")
	assert.NotContains(t, w.Reasoning, "Centered")
}

func TestNarrowNothingActionable(t *testing.T) {
	_, ok := Narrow(nil)
	assert.False(t, ok)

	_, ok = Narrow([]session.Indicators{{Confidence: ConfidenceHigh}, {Timing: Early}})
	assert.False(t, ok)
}

func TestNarrowTimingInReasoning(t *testing.T) {
	w, ok := Narrow([]session.Indicators{{DayNight: Day, Timing: Early}})
	require.True(t, ok)
	assert.Contains(t, w.Reasoning, "early")
}
