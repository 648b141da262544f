// Package matcher implements Reddalert's proximity-aware phrase
// matcher: given a normalized token stream and a keyword's OR-group of
// phrases, it decides whether the keyword hits, honoring exclusions,
// optional stemming, optional ordering, and a configurable word
// window. Pure function, no I/O.
package matcher

import (
	"sort"
	"strings"

	"reddalert/internal/normalizer"
)

// KeywordSpec is the matcher's view of a model.Keyword: phrases as
// token slices (already split the way the normalizer tokenizes), plus
// the matching knobs.
type KeywordSpec struct {
	// Phrases is the OR-group, each entry pre-tokenized.
	Phrases         [][]string
	Exclusions      []string
	ProximityWindow int
	RequireOrder    bool
	UseStemming     bool
}

// NewPhraseTokens splits a raw phrase string the same way the
// normalizer tokenizes content, so phrase tokens and content tokens
// are comparable under the same rule.
func NewPhraseTokens(phrase string) []string {
	return normalizer.Normalize(phrase).Tokens
}

// Match describes a single keyword hit against a content's token
// stream.
type Match struct {
	Phrase      string
	SpanStart   int // token index, inclusive
	SpanEnd     int // token index, inclusive
	Score       float64
	AlsoMatched []string
}

var stemSuffixes = []string{
	"ing", "ed", "es", "s", "ly", "ment", "tion", "er", "est",
	// A bare trailing "e" is the lowest-priority suffix: it only
	// applies when nothing longer matches, and it is what lets a
	// silent-e form ("arbitrage") and its inflected form
	// ("arbitraging", stem-stripped to "arbitrag") collapse to the
	// same stem.
	"e",
}

// stem applies a deterministic suffix stemmer: strip the longest
// matching suffix among a fixed list when the remaining stem is at
// least 3 characters; otherwise return the word unchanged.
func stem(word string) string {
	best := ""
	for _, suf := range stemSuffixes {
		if strings.HasSuffix(word, suf) && len(suf) > len(best) {
			if len(word)-len(suf) >= 3 {
				best = suf
			}
		}
	}
	if best == "" {
		return word
	}
	return word[:len(word)-len(best)]
}

func equalTokens(a, b string, useStemming bool) bool {
	if useStemming {
		return stem(a) == stem(b)
	}
	return a == b
}

// Find evaluates a KeywordSpec against a normalized token stream and
// returns the keyword's match, if any. Phrases are tried in OR-group
// order, the first with a best hit becomes the primary; exclusions are
// checked anywhere in the text and reject the whole keyword if any
// hit, regardless of phrase hits.
func Find(tokens []string, spec KeywordSpec) (Match, bool) {
	if len(tokens) == 0 || len(spec.Phrases) == 0 {
		return Match{}, false
	}

	if exclusionHits(tokens, spec.Exclusions, spec.ProximityWindow, spec.UseStemming) {
		return Match{}, false
	}

	type hit struct {
		phrase string
		span   bestSpan
	}
	var hits []hit
	for _, phraseTokens := range spec.Phrases {
		if len(phraseTokens) == 0 {
			continue
		}
		if len(phraseTokens) > spec.ProximityWindow {
			continue
		}
		span, ok := bestHit(tokens, phraseTokens, spec.ProximityWindow, spec.RequireOrder, spec.UseStemming)
		if ok {
			hits = append(hits, hit{phrase: strings.Join(phraseTokens, " "), span: span})
		}
	}

	if len(hits) == 0 {
		return Match{}, false
	}

	primary := hits[0]
	also := make([]string, 0, len(hits)-1)
	for _, h := range hits[1:] {
		also = append(also, h.phrase)
	}

	phraseLen := len(strings.Fields(primary.phrase))
	return Match{
		Phrase:      primary.phrase,
		SpanStart:   primary.span.min,
		SpanEnd:     primary.span.max,
		Score:       proximityScore(primary.span, phraseLen, spec.ProximityWindow),
		AlsoMatched: also,
	}, true
}

type bestSpan struct {
	min, max int
}

func (s bestSpan) width() int { return s.max - s.min }

// bestHit finds, among all valid position sets for phraseTokens, the
// one minimizing (max-min), ties broken by the smallest min. Returns
// false if no valid position set exists.
func bestHit(tokens, phraseTokens []string, window int, requireOrder, useStemming bool) (bestSpan, bool) {
	positions := make([][]int, len(phraseTokens))
	for i, pt := range phraseTokens {
		for j, t := range tokens {
			if equalTokens(t, pt, useStemming) {
				positions[i] = append(positions[i], j)
			}
		}
		if len(positions[i]) == 0 {
			return bestSpan{}, false
		}
	}

	if len(phraseTokens) == 1 {
		// Single-token phrase trivially satisfies the window; the best
		// hit is just the earliest occurrence.
		return bestSpan{min: positions[0][0], max: positions[0][0]}, true
	}

	var best bestSpan
	found := false
	var combo []int
	var search func(idx int)
	search = func(idx int) {
		if idx == len(phraseTokens) {
			used := append([]int(nil), combo...)
			sort.Ints(used)
			span := bestSpan{min: used[0], max: used[len(used)-1]}
			if span.width()+1 > window {
				return
			}
			if !found || span.width() < best.width() || (span.width() == best.width() && span.min < best.min) {
				best = span
				found = true
			}
			return
		}
		for _, pos := range positions[idx] {
			if containsInt(combo, pos) {
				continue
			}
			if requireOrder && idx > 0 && pos <= combo[idx-1] {
				continue
			}
			combo = append(combo, pos)
			minSoFar, maxSoFar := combo[0], combo[0]
			for _, c := range combo {
				if c < minSoFar {
					minSoFar = c
				}
				if c > maxSoFar {
					maxSoFar = c
				}
			}
			if maxSoFar-minSoFar+1 <= window {
				search(idx + 1)
			}
			combo = combo[:len(combo)-1]
		}
	}
	search(0)

	return best, found
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// proximityScore scores how tightly a match's tokens cluster relative
// to the phrase length and window, clamped to [0,1].
func proximityScore(span bestSpan, phraseLen, window int) float64 {
	denom := window - phraseLen + 1
	if denom < 1 {
		denom = 1
	}
	spanLen := span.width() + 1
	score := 1.0 - float64(spanLen-phraseLen)/float64(denom)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// exclusionHits checks every exclusion string against the whole token
// stream, anywhere scope, with requireOrder always false.
func exclusionHits(tokens []string, exclusions []string, window int, useStemming bool) bool {
	for _, exclusion := range exclusions {
		exclTokens := NewPhraseTokens(exclusion)
		if len(exclTokens) == 0 || len(exclTokens) > window {
			continue
		}
		if _, ok := bestHit(tokens, exclTokens, window, false, useStemming); ok {
			return true
		}
	}
	return false
}
