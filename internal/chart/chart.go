// Package chart describes the read-only chart context consumed by the engine
// and the providers that supply it.
package chart

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"Rectify/internal/apperr"
)

// Signs in zodiac order, 30 degrees each starting at 0 Aries
var Signs = []string{
	"Aries", "Taurus", "Gemini", "Cancer", "Leo", "Virgo",
	"Libra", "Scorpio", "Sagittarius", "Capricorn", "Aquarius", "Pisces",
}

// AngularHouses are the houses most sensitive to birth-time error
var AngularHouses = []int{1, 4, 7, 10}

// Planet is a body's placement. Degree is ecliptic longitude in [0, 360).
type Planet struct {
	Name       string  `json:"name" yaml:"name"`
	Sign       string  `json:"sign" yaml:"sign"`
	House      int     `json:"house" yaml:"house"`
	Degree     float64 `json:"degree" yaml:"degree"`
	Retrograde bool    `json:"retrograde,omitempty" yaml:"retrograde,omitempty"`
}

// House is a house cusp. Cusp is ecliptic longitude in [0, 360).
type House struct {
	Number int     `json:"number" yaml:"number"`
	Sign   string  `json:"sign" yaml:"sign"`
	Cusp   float64 `json:"cusp" yaml:"cusp"`
}

// Aspect is an angular relationship between two bodies
type Aspect struct {
	PlanetA string  `json:"planet_a" yaml:"planet_a"`
	PlanetB string  `json:"planet_b" yaml:"planet_b"`
	Type    string  `json:"type" yaml:"type"`
	Orb     float64 `json:"orb" yaml:"orb"`
}

// BirthDetails are the recorded birth data the chart was cast for
type BirthDetails struct {
	Date      string  `json:"date" yaml:"date"` // 2006-01-02
	Time      string  `json:"time" yaml:"time"` // 15:04, 24-hour
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Timezone  string  `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Place     string  `json:"place,omitempty" yaml:"place,omitempty"`
}

// Context is the chart data the engine reads. It is immutable per chart id.
type Context struct {
	ID      string       `json:"id" yaml:"id"`
	Birth   BirthDetails `json:"birth" yaml:"birth"`
	Planets []Planet     `json:"planets" yaml:"planets"`
	Houses  []House      `json:"houses" yaml:"houses"`
	Aspects []Aspect     `json:"aspects,omitempty" yaml:"aspects,omitempty"`
}

// Provider returns the chart for an id
type Provider interface {
	GetChart(ctx context.Context, id string) (Context, error)
}

// Validate checks the sections needed for factor detection and rectification
func (c Context) Validate() error {
	if len(c.Houses) == 0 {
		return apperr.New(apperr.KindInvalidChartContext, "chart %s has no house cusps", c.ID)
	}
	if len(c.Planets) == 0 {
		return apperr.New(apperr.KindInvalidChartContext, "chart %s has no planet positions", c.ID)
	}
	for _, h := range c.Houses {
		if h.Number < 1 || h.Number > 12 {
			return apperr.New(apperr.KindInvalidChartContext, "chart %s has invalid house number %d", c.ID, h.Number)
		}
	}
	return nil
}

// Empty reports whether the chart carries no positional data
func (c Context) Empty() bool {
	return len(c.Houses) == 0 && len(c.Planets) == 0
}

// House returns the cusp for a house number
func (c Context) House(n int) (House, bool) {
	for _, h := range c.Houses {
		if h.Number == n {
			return h, true
		}
	}
	return House{}, false
}

// Planet returns a planet by case-insensitive name
func (c Context) Planet(name string) (Planet, bool) {
	for _, p := range c.Planets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Planet{}, false
}

// Ascendant returns the ascendant longitude from the first house cusp, or
// from an "Ascendant" planet entry when cusps are missing.
func (c Context) Ascendant() (float64, bool) {
	if h, ok := c.House(1); ok {
		return Normalize(h.Cusp), true
	}
	if p, ok := c.Planet("Ascendant"); ok {
		return Normalize(p.Degree), true
	}
	return 0, false
}

// Summary renders a compact text description for prompts
func (c Context) Summary() string {
	var b strings.Builder
	if c.Birth.Date != "" || c.Birth.Time != "" {
		fmt.Fprintf(&b, "Birth: %s %s", c.Birth.Date, c.Birth.Time)
		if c.Birth.Place != "" {
			fmt.Fprintf(&b, " at %s", c.Birth.Place)
		}
		b.WriteString("\n")
	}
	if asc, ok := c.Ascendant(); ok {
		fmt.Fprintf(&b, "Ascendant: %s %.1f°\n", SignOf(asc), DegreeInSign(asc))
	}
	planets := append([]Planet(nil), c.Planets...)
	sort.SliceStable(planets, func(i, j int) bool { return planets[i].House < planets[j].House })
	for _, p := range planets {
		sign := p.Sign
		if sign == "" {
			sign = SignOf(p.Degree)
		}
		fmt.Fprintf(&b, "%s in %s (house %d, %.1f°)", p.Name, sign, p.House, DegreeInSign(p.Degree))
		if p.Retrograde {
			b.WriteString(" R")
		}
		b.WriteString("\n")
	}
	for _, a := range c.Aspects {
		fmt.Fprintf(&b, "%s %s %s (orb %.1f°)\n", a.PlanetA, a.Type, a.PlanetB, a.Orb)
	}
	return strings.TrimSpace(b.String())
}

// Normalize maps any longitude into [0, 360)
func Normalize(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	return d
}

// SignIndex returns the zodiac index (0 = Aries) of a longitude
func SignIndex(deg float64) int {
	return int(Normalize(deg)/30) % 12
}

// SignOf returns the sign name of a longitude
func SignOf(deg float64) string {
	return Signs[SignIndex(deg)]
}

// DegreeInSign returns the position within the sign
func DegreeInSign(deg float64) float64 {
	return math.Mod(Normalize(deg), 30)
}

// Distance returns the shortest arc between two longitudes
func Distance(a, b float64) float64 {
	d := math.Abs(Normalize(a) - Normalize(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}
