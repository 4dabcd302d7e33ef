package rectify

import (
	"context"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"Rectify/internal/session"
)

const (
	// MethodEventCorrelation matches dated life events against running dashas
	MethodEventCorrelation = "event_correlation"

	eventBaseWeight     = 0.2
	eventWeightPerEvent = 0.1
	mahaShare           = 0.6
	antarShare          = 0.4
)

// Event is a life event placed on the timeline
type Event struct {
	Kind  string
	Years float64 // since birth
	Text  string
}

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var (
	monthYearPattern = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(?:\d{1,2},?\s+)?((?:19|20)\d{2})\b`)
	isoDatePattern   = regexp.MustCompile(`\b((?:19|20)\d{2})-(\d{2})(?:-(\d{2}))?\b`)
	yearPattern      = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	agePattern       = regexp.MustCompile(`(?i)\b(?:at|age|aged|when i was)\s+(\d{1,2})\b|\b(\d{1,2})\s+years?\s+old\b`)
)

// eventKinds map keywords to the event kind they describe
var eventKinds = map[string][]string{
	"career":       {"job", "career", "promot", "hired", "business", "work", "fired", "laid off", "retire", "profession"},
	"relationship": {"married", "marriage", "wedding", "engaged", "divorce", "partner", "relationship", "met my"},
	"relocation":   {"moved", "move", "relocat", "emigrat", "abroad", "new city", "new country"},
	"health":       {"ill", "surgery", "hospital", "accident", "injur", "diagnos", "sick"},
	"education":    {"graduat", "degree", "university", "college", "school", "studied"},
	"children":     {"child", "son", "daughter", "baby", "pregnan", "gave birth"},
	"loss":         {"died", "death", "passed away", "lost my", "funeral", "bereave"},
}

var eventKindPatterns = compileKeywords(eventKinds)

// significators are the dasha lords associated with each event kind
var significators = map[string][]string{
	"career":       {"sun", "saturn", "mercury", "jupiter"},
	"relationship": {"venus", "jupiter", "moon", "rahu"},
	"relocation":   {"rahu", "ketu", "moon", "saturn"},
	"health":       {"mars", "saturn", "rahu", "ketu"},
	"education":    {"jupiter", "mercury", "venus"},
	"children":     {"jupiter", "moon", "venus"},
	"loss":         {"saturn", "ketu", "mars", "rahu"},
	"general":      {"jupiter", "saturn", "rahu"},
}

// ExtractEvents finds dated life events in the answers. Calendar dates need
// the birth date; ages do not.
func ExtractEvents(exchanges []session.Exchange, birth time.Time) []Event {
	var out []Event
	for _, ex := range exchanges {
		years, ok := eventYears(ex.Answer.Text, birth)
		if !ok {
			continue
		}
		out = append(out, Event{
			Kind:  eventKind(ex.Question.Text + " " + ex.Answer.Text),
			Years: years,
			Text:  ex.Answer.Text,
		})
	}
	return out
}

func eventYears(text string, birth time.Time) (float64, bool) {
	if m := agePattern.FindStringSubmatch(text); m != nil {
		v := m[1]
		if v == "" {
			v = m[2]
		}
		if age, err := strconv.Atoi(v); err == nil && age > 0 {
			return float64(age) + 0.5, true
		}
	}
	if birth.IsZero() {
		return 0, false
	}

	var at time.Time
	if m := monthYearPattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[2])
		at = time.Date(y, months[strings.ToLower(m[1])], 15, 0, 0, 0, 0, time.UTC)
	} else if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d := 15
		if m[3] != "" {
			d, _ = strconv.Atoi(m[3])
		}
		if mo < 1 || mo > 12 {
			return 0, false
		}
		at = time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	} else if m := yearPattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		at = time.Date(y, time.July, 1, 0, 0, 0, 0, time.UTC)
	} else {
		return 0, false
	}

	years := at.Sub(birth).Hours() / 24 / daysPerYear
	if years <= 0 {
		return 0, false
	}
	return years, true
}

func eventKind(text string) string {
	text = strings.ToLower(text)
	counts, top := hits(text, eventKindPatterns)
	if top == 0 {
		return "general"
	}
	best := ""
	for kind, n := range counts {
		if n == top && (best == "" || kind < best) {
			best = kind
		}
	}
	return best
}

// EventMethod correlates dated events with the dasha periods running at
// each shifted birth time
type EventMethod struct{}

func (EventMethod) Name() string { return MethodEventCorrelation }

// Weight grows with the number of dated events, capped at 1
func (EventMethod) Weight(in Input) float64 {
	n := len(ExtractEvents(in.Exchanges, birthDate(in)))
	return math.Min(1, eventBaseWeight+eventWeightPerEvent*float64(n))
}

func (EventMethod) Score(ctx context.Context, in Input, offsets []int) (map[int]float64, error) {
	moon, ok := in.Chart.Planet("Moon")
	if !ok {
		return nil, ErrNoData
	}
	events := ExtractEvents(in.Exchanges, birthDate(in))
	if len(events) == 0 {
		return nil, ErrNoData
	}

	out := make(map[int]float64, len(offsets))
	for _, off := range offsets {
		m := shiftedMoon(moon.Degree, off)
		var total float64
		for _, ev := range events {
			total += eventMatch(DashaAt(m, ev.Years), ev.Kind)
		}
		out[off] = total / float64(len(events))
	}
	return out, nil
}

func eventMatch(d Dasha, kind string) float64 {
	var score float64
	for _, lord := range significators[kind] {
		if d.Maha == lord {
			score += mahaShare
		}
		if d.Antar == lord {
			score += antarShare
		}
	}
	return math.Min(score, 1)
}

func birthDate(in Input) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(in.Chart.Birth.Date))
	if err != nil {
		return time.Time{}
	}
	return t.Add(time.Duration(in.OriginalTime) * time.Minute)
}
