package rectify

import (
	"math"

	"Rectify/internal/chart"
)

// Vimshottari dasha lords in sequence with their period in years
var (
	dashaLords = []string{"ketu", "venus", "sun", "moon", "mars", "rahu", "jupiter", "saturn", "mercury"}
	dashaYears = []float64{7, 20, 6, 10, 7, 18, 16, 19, 17}
)

const (
	dashaCycle    = 120.0
	nakshatraSpan = 360.0 / 27
	moonPerMinute = 13.176 / (24 * 60)
	daysPerYear   = 365.25
)

// Dasha names the running major and sub period lords
type Dasha struct {
	Maha  string
	Antar string
}

// DashaAt returns the Vimshottari periods running a number of years after
// birth for the given natal Moon longitude.
func DashaAt(moon, years float64) Dasha {
	moon = chart.Normalize(moon)
	n := int(moon / nakshatraSpan)
	first := n % 9
	elapsed := math.Mod(moon, nakshatraSpan) / nakshatraSpan * dashaYears[first]

	t := math.Mod(math.Max(years, 0)+elapsed, dashaCycle)
	maha := first
	for i := 0; i < 9; i++ {
		idx := (first + i) % 9
		if t < dashaYears[idx] {
			maha = idx
			break
		}
		t -= dashaYears[idx]
	}

	span := dashaYears[maha]
	antar := maha
	for i := 0; i < 9; i++ {
		idx := (maha + i) % 9
		sub := span * dashaYears[idx] / dashaCycle
		if t < sub {
			antar = idx
			break
		}
		t -= sub
	}
	return Dasha{Maha: dashaLords[maha], Antar: dashaLords[antar]}
}

// shiftedMoon moves the Moon by its mean motion over offset minutes
func shiftedMoon(moon float64, offset int) float64 {
	return chart.Normalize(moon + float64(offset)*moonPerMinute)
}
