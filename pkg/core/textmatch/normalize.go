package textmatch

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes free text for matching: lowercase, punctuation
// stripped (any rune that is not a letter, digit, underscore, or whitespace),
// and whitespace runs collapsed to single spaces. Both stored questions and
// incoming queries go through this before any comparison.
func Normalize(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = true
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_':
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		default:
			// Punctuation disappears entirely; it does not become a
			// word boundary ("don't" -> "dont").
		}
	}
	return b.String()
}
