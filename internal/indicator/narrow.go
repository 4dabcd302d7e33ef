package indicator

import (
	"fmt"
	"strings"

	"Rectify/internal/session"
)

// window half-widths in minutes by reported confidence
var halfWidths = map[string]int{
	ConfidenceHigh:    15,
	ConfidenceMedium:  30,
	ConfidenceLow:     60,
	ConfidenceVeryLow: 90,
	"":                90,
}

// window confidence by reported confidence; all explicit-time values stay
// above the day/night fallback
var windowConfidence = map[string]float64{
	ConfidenceHigh:    85,
	ConfidenceMedium:  70,
	ConfidenceLow:     60,
	ConfidenceVeryLow: 55,
	"":                55,
}

const dayNightConfidence = 50

// Narrow derives a time window from the accumulated indicators. The latest
// value of each signal wins, except that an explicit time keeps the confidence
// stated with it. It reports false when nothing actionable exists; callers
// then keep whatever window they already had.
func Narrow(history []session.Indicators) (session.TimeWindow, bool) {
	var latest session.Indicators
	for _, in := range history {
		if in.ExplicitTime != "" {
			latest.ExplicitTime = in.ExplicitTime
			latest.Confidence = in.Confidence
		}
		if in.DayNight != "" {
			latest.DayNight = in.DayNight
		}
		if in.Timing != "" {
			latest.Timing = in.Timing
		}
	}

	if latest.ExplicitTime != "" {
		t, err := session.ParseClockTime(latest.ExplicitTime)
		if err == nil {
			return explicitWindow(t, latest), true
		}
	}

	switch latest.DayNight {
	case Day:
		return session.TimeWindow{
			Start:       session.NewClockTime(6, 0),
			End:         session.NewClockTime(18, 0),
			Confidence:  dayNightConfidence,
			Explanation: "Birth reported during daytime",
			Reasoning:   reasoning("Only a daytime cue is available; using the 06:00-18:00 half day.", latest),
		}, true
	case Night:
		return session.TimeWindow{
			Start:       session.NewClockTime(18, 0),
			End:         session.NewClockTime(6, 0),
			Confidence:  dayNightConfidence,
			Explanation: "Birth reported during nighttime",
			Reasoning:   reasoning("Only a nighttime cue is available; using the 18:00-06:00 half day.", latest),
		}, true
	}

	return session.TimeWindow{}, false
}

// explicitWindow spans two half-widths before the stated time and one after.
func explicitWindow(t session.ClockTime, latest session.Indicators) session.TimeWindow {
	w := halfWidths[latest.Confidence]
	level := latest.Confidence
	if level == "" {
		level = "unspecified"
	}
	return session.TimeWindow{
		Start:       t.Add(-2 * w),
		End:         t.Add(w),
		Confidence:  windowConfidence[latest.Confidence],
		Explanation: fmt.Sprintf("Reported birth time %s with %s confidence", t, strings.ReplaceAll(level, "_", " ")),
		Reasoning: reasoning(
			fmt.Sprintf("Starts %d minutes before the stated time %s and ends %d minutes after it, from a %s confidence level.", 2*w, t, w, level),
			latest,
		),
	}
}

func reasoning(base string, latest session.Indicators) string {
	switch latest.Timing {
	case Early:
		return base + " Birth was reported as early relative to the due date."
	case Late:
		return base + " Birth was reported as late relative to the due date."
	case OnTime:
		return base + " Birth was reported as on time."
	}
	return base
}
