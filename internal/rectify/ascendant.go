package rectify

import (
	"context"

	"Rectify/internal/chart"
	"Rectify/internal/session"
)

const (
	// MethodAscendant compares the shifted rising sign with described appearance
	MethodAscendant = "ascendant"
	ascendantWeight = 0.7
)

// signAppearance holds physical keywords traditionally tied to each rising sign
var signAppearance = map[int][]string{
	0:  {"athletic", "energetic", "scar", "red", "sharp features", "forehead", "muscular", "quick"},
	1:  {"sturdy", "solid", "thick neck", "neck", "stocky", "calm", "full lips", "curvy"},
	2:  {"slim", "slender", "youthful", "lively", "expressive hands", "hands", "wiry", "restless"},
	3:  {"round face", "round", "pale", "soft", "gentle", "chubby", "moon face"},
	4:  {"thick hair", "mane", "proud", "confident", "broad shoulders", "regal", "golden", "striking"},
	5:  {"neat", "delicate", "tidy", "clean", "petite", "young looking", "fine features"},
	6:  {"attractive", "symmetrical", "dimples", "dimple", "balanced", "charming", "graceful", "pleasant"},
	7:  {"intense", "piercing", "magnetic", "dark eyes", "penetrating", "strong jaw", "brooding"},
	8:  {"tall", "long legs", "long limbs", "cheerful", "open face", "big smile", "lanky"},
	9:  {"bony", "lean", "serious", "mature", "thin", "angular", "prominent knees", "reserved"},
	10: {"unusual", "distinctive", "quirky", "friendly", "tall", "unique", "eccentric"},
	11: {"dreamy", "soft eyes", "large eyes", "small feet", "feet", "watery", "gentle", "small"},
}

var signAppearancePatterns = compileKeywords(signAppearance)

// AscendantMethod scores each offset by how well the rising sign at the
// shifted time matches the physical-trait answers
type AscendantMethod struct{}

func (AscendantMethod) Name() string { return MethodAscendant }

func (AscendantMethod) Weight(Input) float64 { return ascendantWeight }

func (AscendantMethod) Score(ctx context.Context, in Input, offsets []int) (map[int]float64, error) {
	asc, ok := in.Chart.Ascendant()
	if !ok {
		return nil, ErrNoData
	}
	text := answerText(in.Exchanges, func(c session.Category) bool {
		return c == session.CategoryPhysicalTraits
	})
	counts, top := hits(text, signAppearancePatterns)
	if top == 0 {
		return nil, ErrNoData
	}

	out := make(map[int]float64, len(offsets))
	for _, off := range offsets {
		sign := chart.SignIndex(shiftedAscendant(asc, off))
		out[off] = float64(counts[sign]) / float64(top)
	}
	return out, nil
}
