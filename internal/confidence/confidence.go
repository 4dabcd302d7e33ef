// Package confidence scores how far a questionnaire has narrowed the birth time.
package confidence

import (
	"math"
	"regexp"
	"strings"

	"Rectify/internal/session"
)

// Formula constants. Completion thresholds elsewhere compare against this
// exact shape.
const (
	Base           = 25.0
	PerAnswer      = 5.0
	MaxCountTerm   = 50.0
	QualityScale   = 30.0
	CoverageScale  = 15.0
	DefaultQuality = 0.5
	MinConfidence  = 30.0
	MaxConfidence  = 95.0
)

// Critical factors checked for coverage
const (
	FactorAscendant            = "ascendant"
	FactorMoon                 = "moon"
	FactorAngularHouses        = "angular_houses"
	FactorPhysicalAppearance   = "physical_appearance"
	FactorTimingOfEvents       = "timing_of_events"
	FactorLifeDirectionChanges = "life_direction_changes"
	FactorPersonalityTraits    = "personality_traits"
)

// CriticalFactors is the fixed checklist, in reporting order
var CriticalFactors = []string{
	FactorAscendant,
	FactorMoon,
	FactorAngularHouses,
	FactorPhysicalAppearance,
	FactorTimingOfEvents,
	FactorLifeDirectionChanges,
	FactorPersonalityTraits,
}

var factorKeywords = map[string][]string{
	FactorAscendant:            {"ascendant", "rising", "first impression", "appearance", "how others see", "lagna"},
	FactorMoon:                 {"moon", "emotion", "emotional", "mother", "mood", "feelings"},
	FactorAngularHouses:        {"house_1", "house_4", "house_7", "house_10", "1st house", "4th house", "7th house", "10th house", "angular", "midheaven", "descendant", "home life", "public image"},
	FactorPhysicalAppearance:   {"physical", "height", "tall", "short", "build", "face", "complexion", "eyes", "hair", "body", "weight", "appearance"},
	FactorTimingOfEvents:       {"when did", "what year", "which year", "date", "age", "timing", "year"},
	FactorLifeDirectionChanges: {"career change", "changed career", "relocat", "moved", "turning point", "new direction", "life change", "major change", "divorce", "marriage", "married"},
	FactorPersonalityTraits:    {"personality", "temperament", "introvert", "extrovert", "character", "nature", "shy", "outgoing", "trait"},
}

// factorPatterns match keywords at a word start, so "relocat" covers
// relocated/relocation while "age" does not fire inside "image".
var factorPatterns = compilePatterns(factorKeywords)

func compilePatterns(keywords map[string][]string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(keywords))
	for factor, kws := range keywords {
		quoted := make([]string, len(kws))
		for i, kw := range kws {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		out[factor] = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)`)
	}
	return out
}

// categoryFactors marks a factor covered by the question category alone
var categoryFactors = map[session.Category]string{
	session.CategoryPhysicalTraits:    FactorPhysicalAppearance,
	session.CategoryPersonalityTraits: FactorPersonalityTraits,
	session.CategoryLifeEvents:        FactorTimingOfEvents,
	session.CategoryTimingPreferences: FactorTimingOfEvents,
}

// Result is a scored confidence plus the factors covered so far
type Result struct {
	Confidence     float64  `json:"confidence"`
	CountTerm      float64  `json:"count_term"`
	QualityTerm    float64  `json:"quality_term"`
	CoverageTerm   float64  `json:"coverage_term"`
	CoveredFactors []string `json:"covered_factors"`
}

// Scorer computes overall confidence from the answer history
type Scorer struct{}

// NewScorer returns a scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score applies base + count + quality + coverage, clamped to [30, 95].
// previouslyCovered is unioned in so coverage never shrinks.
func (s *Scorer) Score(exchanges []session.Exchange, previouslyCovered []string) Result {
	n := len(exchanges)

	countTerm := math.Min(float64(n)*PerAnswer, MaxCountTerm)

	avgQuality := DefaultQuality
	if n > 0 {
		sum := 0.0
		for _, ex := range exchanges {
			sum += QualityOf(ex.Answer)
		}
		avgQuality = sum / float64(n)
	}
	qualityTerm := (avgQuality - 0.5) * QualityScale

	covered := Covered(exchanges, previouslyCovered)
	coverageTerm := float64(len(covered)) / float64(len(CriticalFactors)) * CoverageScale

	total := Base + countTerm + qualityTerm + coverageTerm
	return Result{
		Confidence:     clamp(total, MinConfidence, MaxConfidence),
		CountTerm:      countTerm,
		QualityTerm:    qualityTerm,
		CoverageTerm:   coverageTerm,
		CoveredFactors: covered,
	}
}

// QualityOf returns the answer quality, defaulting when unset
func QualityOf(a session.Answer) float64 {
	if a.Quality == nil {
		return DefaultQuality
	}
	return clamp(*a.Quality, 0, 1)
}

// Covered returns the critical factors matched by the exchanges, unioned with
// previouslyCovered and ordered as CriticalFactors.
func Covered(exchanges []session.Exchange, previouslyCovered []string) []string {
	set := make(map[string]bool, len(CriticalFactors))
	for _, f := range previouslyCovered {
		set[f] = true
	}

	for _, ex := range exchanges {
		if f, ok := categoryFactors[ex.Question.Category]; ok {
			set[f] = true
		}
		text := exchangeText(ex)
		for factor, re := range factorPatterns {
			if !set[factor] && re.MatchString(text) {
				set[factor] = true
			}
		}
	}

	out := make([]string, 0, len(set))
	for _, f := range CriticalFactors {
		if set[f] {
			out = append(out, f)
		}
	}
	return out
}

func exchangeText(ex session.Exchange) string {
	parts := []string{ex.Question.Text, ex.Answer.Text, string(ex.Question.Category)}
	parts = append(parts, ex.Question.AstrologicalFactors...)
	parts = append(parts, ex.Answer.AstrologicalFactors...)
	return strings.ToLower(strings.Join(parts, " "))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
