package textanalyzer

import "strings"

// IndonesianAnalyzer tokenizes, filters stop words, and applies a light
// affix-stripping stemmer for Bahasa Indonesia.
//
// The stemmer is deliberately not a full Nazief-Adriani implementation: it
// strips the common particle, possessive, and derivational affixes with a
// minimum-stem-length guard, which is enough to make inflected forms of the
// same root collide for BM25 purposes (berjalan/jalan, dibatalkan/batal).
type IndonesianAnalyzer struct{}

// NewIndonesianAnalyzer creates a new Indonesian analyzer.
func NewIndonesianAnalyzer() *IndonesianAnalyzer {
	return &IndonesianAnalyzer{}
}

// Analyze implements the Analyzer interface.
func (a *IndonesianAnalyzer) Analyze(text string) []string {
	tokens := Tokenize(text)
	tokens = FilterIndonesianStopWords(tokens)
	stemmed := make([]string, len(tokens))
	for i, token := range tokens {
		stemmed[i] = StemIndonesian(token)
	}
	return stemmed
}

// minIndonesianStem is the shortest stem an affix strip may leave behind.
// Shorter results revert the strip ("ikan" keeps its -an).
const minIndonesianStem = 3

var (
	idParticleSuffixes   = []string{"lah", "kah", "tah", "pun"}
	idPossessiveSuffixes = []string{"ku", "mu", "nya"}
	idDerivSuffixes      = []string{"kan", "an", "i"}

	// Ordered longest-first. meny-/peny- assimilate a root-initial s,
	// which is restored on strip (menyewa -> sewa).
	idPrefixes = []string{
		"meng", "meny", "men", "mem", "me",
		"peng", "peny", "pen", "pem", "per", "pe",
		"ber", "ter", "di", "ke", "se",
	}
)

// StemIndonesian reduces an Indonesian word to an approximate root.
// Input is expected lowercase (Tokenize output).
func StemIndonesian(word string) string {
	s := word
	s = stripOneSuffix(s, idParticleSuffixes)
	s = stripOneSuffix(s, idPossessiveSuffixes)

	// Derivational suffixes can stack through nominalization
	// (makan -> makanan); strip repeatedly so both forms converge.
	for {
		stripped := stripOneSuffix(s, idDerivSuffixes)
		if stripped == s {
			break
		}
		s = stripped
	}

	// At most two derivational prefixes occur in practice
	// (keberangkatan -> ke + ber + angkat + an).
	for range [2]struct{}{} {
		stripped := stripOnePrefix(s)
		if stripped == s {
			break
		}
		s = stripped
	}
	return s
}

func stripOneSuffix(s string, suffixes []string) string {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) && len([]rune(s))-len([]rune(suf)) >= minIndonesianStem {
			return s[:len(s)-len(suf)]
		}
	}
	return s
}

func stripOnePrefix(s string) string {
	for _, pre := range idPrefixes {
		if !strings.HasPrefix(s, pre) {
			continue
		}
		rest := s[len(pre):]
		if pre == "meny" || pre == "peny" {
			rest = "s" + rest
		}
		if len([]rune(rest)) >= minIndonesianStem {
			return rest
		}
		// Guard failed: a shorter prefix may still fit.
	}
	return s
}
