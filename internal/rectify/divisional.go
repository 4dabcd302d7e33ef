package rectify

import (
	"context"
	"math"

	"Rectify/internal/chart"
	"Rectify/internal/session"
)

const (
	// MethodDivisional compares the navamsa rising element with described temperament
	MethodDivisional = "divisional"
	divisionalWeight = 0.5
)

// Element of a sign by index modulo 4
type Element int

const (
	Fire Element = iota
	Earth
	Air
	Water
)

func (e Element) String() string {
	return [...]string{"fire", "earth", "air", "water"}[e]
}

var elementTraits = map[Element][]string{
	Fire:  {"energetic", "bold", "impulsive", "passionate", "leader", "competitive", "confident", "adventurous", "enthusiastic", "impatient"},
	Earth: {"practical", "patient", "stubborn", "reliable", "grounded", "methodical", "cautious", "organized", "organised", "steady"},
	Air:   {"social", "curious", "talkative", "intellectual", "communicative", "logical", "ideas", "outgoing", "witty", "detached"},
	Water: {"emotional", "sensitive", "intuitive", "empathetic", "moody", "caring", "private", "dreamy", "shy", "nurturing"},
}

var elementPatterns = compileKeywords(elementTraits)

// Navamsa returns the D9 sign index of a longitude. Each sign splits into
// nine parts of 3°20' that run through the zodiac continuously from Aries.
func Navamsa(longitude float64) int {
	return int(math.Floor(chart.Normalize(longitude)*9/30)) % 12
}

// ElementOf returns the element of a sign index
func ElementOf(sign int) Element {
	return Element(((sign % 12) + 12) % 4)
}

// DivisionalMethod scores each offset by the element of the navamsa
// ascendant against the trait profile of the answers
type DivisionalMethod struct{}

func (DivisionalMethod) Name() string { return MethodDivisional }

func (DivisionalMethod) Weight(Input) float64 { return divisionalWeight }

func (DivisionalMethod) Score(ctx context.Context, in Input, offsets []int) (map[int]float64, error) {
	asc, ok := in.Chart.Ascendant()
	if !ok {
		return nil, ErrNoData
	}
	text := answerText(in.Exchanges, func(c session.Category) bool {
		return c != session.CategoryTimingPreferences
	})
	profile, top := hits(text, elementPatterns)
	if top == 0 {
		return nil, ErrNoData
	}

	out := make(map[int]float64, len(offsets))
	for _, off := range offsets {
		elem := ElementOf(Navamsa(shiftedAscendant(asc, off)))
		out[off] = float64(profile[elem]) / float64(top)
	}
	return out, nil
}
