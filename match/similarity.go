package match

import (
	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"
)

// =============================================================================
// NAME SCORER - Default Scorer implementation
// =============================================================================

// NameScorer is the default similarity implementation. It scores the
// normalized forms with two metrics and keeps the better one:
//
//   - Levenshtein similarity (1 - distance/len(longer)): strong on typos
//     and transcription noise ("Jonh" vs "John").
//   - Jaro-Winkler: strong on short-form references against full names
//     ("mike" vs "michael anderson"), where edit distance collapses.
//
// Both metrics return 1.0 only for equal inputs and both are symmetric,
// so the Scorer contract holds for the max of the two.
type NameScorer struct{}

// NewScorer returns the default similarity scorer.
func NewScorer() Scorer {
	return NameScorer{}
}

func (NameScorer) Score(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1.0
	}
	if na == "" || nb == "" {
		return 0.0
	}

	lev := levenshteinSimilarity(na, nb)
	// Boost threshold 0: the prefix bonus always applies. A short
	// reference ("mike") sits near 0.65 Jaro against its full name and
	// only clears acceptance with the shared-prefix credit.
	jw := smetrics.JaroWinkler(na, nb, 0, 4)

	score := lev
	if jw > score {
		score = jw
	}
	// Normalized forms differ, so never report a perfect match.
	if score >= 1.0 {
		score = 0.99
	}
	if score < 0 {
		return 0.0
	}
	return score
}

func levenshteinSimilarity(a, b string) float64 {
	dist := levenshtein.ComputeDistance(a, b)
	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	return 1.0 - float64(dist)/float64(longer)
}
