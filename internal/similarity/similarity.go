// Package similarity decides whether two question texts ask the same thing.
package similarity

import (
	"strings"
	"unicode"
)

// Threshold is the Jaccard score above which two texts count as similar
const Threshold = 0.6

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {}, "of": {},
	"to": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {}, "by": {}, "from": {},
	"about": {}, "as": {}, "into": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "being": {}, "do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
	"you": {}, "your": {}, "yours": {}, "i": {}, "me": {}, "my": {}, "we": {}, "our": {},
	"it": {}, "its": {}, "this": {}, "that": {}, "these": {}, "those": {}, "there": {},
	"what": {}, "which": {}, "who": {}, "whom": {}, "how": {}, "when": {}, "where": {}, "why": {},
	"would": {}, "could": {}, "should": {}, "can": {}, "will": {}, "any": {}, "some": {},
	"so": {}, "than": {}, "then": {}, "very": {}, "just": {}, "please": {}, "describe": {},
	"tell": {}, "us": {}, "yourself": {}, "s": {}, "t": {},
}

// Normalize lower-cases text and replaces punctuation with spaces
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens returns the set of content words in text
func Tokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(Normalize(text)) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |A∩B| / |A∪B|, or 0 when either set is empty
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// IsSimilar reports whether two texts overlap beyond Threshold
func IsSimilar(a, b string) bool {
	return Jaccard(Tokens(a), Tokens(b)) > Threshold
}

// AnySimilar reports whether text is similar to any of others and returns the match
func AnySimilar(text string, others []string) (string, bool) {
	tokens := Tokens(text)
	for _, o := range others {
		if Jaccard(tokens, Tokens(o)) > Threshold {
			return o, true
		}
	}
	return "", false
}
