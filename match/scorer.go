/*
Package match provides name normalization and similarity scoring.

PURPOSE:
  Field reports refer to employees by whatever name was spoken: "Bob",
  "bobby", "Mike S". This package turns those strings into comparable
  keys and scores how alike two names are.

KEY CONCEPTS:
  - Normalize: canonical string form used for alias keys and exact lookups
  - Scorer: pluggable similarity capability used by the resolver

SCORER CONTRACT:
  Score(a, b) returns a value in [0, 1]. It is symmetric, deterministic,
  has no side effects, and returns 1.0 only when the two inputs are
  identical after normalization. Callers depend on the contract, not on
  any particular algorithm.

SEE ALSO:
  - similarity.go: Default blended implementation
  - resolve/resolver.go: Primary consumer
*/
package match

import (
	"strings"
	"unicode"
)

// Scorer computes a normalized similarity score between two name strings.
//
// CONTRACT:
//   - Score(a, b) ∈ [0, 1]
//   - Score(a, b) == Score(b, a)
//   - Score(a, b) == 1.0 iff Normalize(a) == Normalize(b)
//   - Deterministic, no side effects, no I/O
type Scorer interface {
	Score(a, b string) float64
}

// Normalize produces the canonical comparison form of a spoken name:
// lower-cased, punctuation stripped, whitespace collapsed to single spaces.
// Alias keys are always Normalize output.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastSpace := true // suppress leading space
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_':
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		default:
			// drop punctuation ("O'Brien" -> "obrien")
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// FirstToken returns the first whitespace-delimited token of the normalized
// name ("tommy rodriguez" -> "tommy"). Used to seed first-name aliases.
func FirstToken(name string) string {
	n := Normalize(name)
	if i := strings.IndexByte(n, ' '); i >= 0 {
		return n[:i]
	}
	return n
}
