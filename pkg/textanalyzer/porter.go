package textanalyzer

import "strings"

// EnglishAnalyzer tokenizes, filters stop words, and stems with the classic
// Porter algorithm.
type EnglishAnalyzer struct{}

// NewEnglishAnalyzer creates a new English analyzer.
func NewEnglishAnalyzer() *EnglishAnalyzer {
	return &EnglishAnalyzer{}
}

// Analyze implements the Analyzer interface.
func (a *EnglishAnalyzer) Analyze(text string) []string {
	tokens := Tokenize(text)
	tokens = FilterEnglishStopWords(tokens)
	stemmed := make([]string, len(tokens))
	for i, token := range tokens {
		stemmed[i] = StemEnglish(token)
	}
	return stemmed
}

// --- Porter stemming algorithm (Porter, 1980) ---
//
// A consonant is any letter other than a, e, i, o, u, and other than y when
// preceded by a consonant. Every word has the form [C](VC)^m[V]; m is the
// word's "measure". Rules are written as (condition) suffix -> replacement,
// with the condition evaluated on the stem left after removing the suffix.

// isVowelAt reports whether the rune at position i acts as a vowel.
func isVowelAt(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return false
	}
	switch runes[i] {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	case 'y':
		// y at the start of a word is a consonant; after a vowel it is a
		// consonant; after a consonant it acts as a vowel (as in "syzygy").
		if i == 0 {
			return false
		}
		return !isVowelAt(runes, i-1)
	}
	return false
}

// measure counts the VC sequences in the word: [C](VC)^m[V].
func measure(word string) int {
	runes := []rune(word)
	n := len(runes)
	m := 0
	i := 0
	for i < n && !isVowelAt(runes, i) {
		i++
	}
	for {
		for i < n && isVowelAt(runes, i) {
			i++
		}
		if i >= n {
			return m
		}
		for i < n && !isVowelAt(runes, i) {
			i++
		}
		m++
	}
}

// containsVowel is the *v* condition.
func containsVowel(word string) bool {
	runes := []rune(word)
	for i := range runes {
		if isVowelAt(runes, i) {
			return true
		}
	}
	return false
}

// endsDoubleConsonant is the *d condition: the word ends with the same
// consonant twice.
func endsDoubleConsonant(word string) bool {
	runes := []rune(word)
	n := len(runes)
	if n < 2 || runes[n-1] != runes[n-2] {
		return false
	}
	return !isVowelAt(runes, n-1)
}

// endsCVC is the *o condition: the word ends consonant-vowel-consonant where
// the final consonant is not w, x, or y.
func endsCVC(word string) bool {
	runes := []rune(word)
	n := len(runes)
	if n < 3 {
		return false
	}
	if isVowelAt(runes, n-3) || !isVowelAt(runes, n-2) || isVowelAt(runes, n-1) {
		return false
	}
	last := runes[n-1]
	return last != 'w' && last != 'x' && last != 'y'
}

// suffixRule is one (suffix -> replacement) pair of a step.
type suffixRule struct {
	suffix  string
	replace string
}

// applyStep finds the longest suffix of word present in rules and, if the
// stem passes cond, applies the replacement. Per the algorithm, once a suffix
// matches no other rule in the step is tried, even when the condition fails.
func applyStep(word string, rules []suffixRule, cond func(stem string) bool) string {
	longest := -1
	for i, r := range rules {
		if strings.HasSuffix(word, r.suffix) {
			if longest == -1 || len(r.suffix) > len(rules[longest].suffix) {
				longest = i
			}
		}
	}
	if longest == -1 {
		return word
	}
	r := rules[longest]
	stem := word[:len(word)-len(r.suffix)]
	if cond != nil && !cond(stem) {
		return word
	}
	return stem + r.replace
}

var step2Rules = []suffixRule{
	{"ational", "ate"}, {"tional", "tion"}, {"enci", "ence"}, {"anci", "ance"},
	{"izer", "ize"}, {"abli", "able"}, {"alli", "al"}, {"entli", "ent"},
	{"eli", "e"}, {"ousli", "ous"}, {"ization", "ize"}, {"ation", "ate"},
	{"ator", "ate"}, {"alism", "al"}, {"iveness", "ive"}, {"fulness", "ful"},
	{"ousness", "ous"}, {"aliti", "al"}, {"iviti", "ive"}, {"biliti", "ble"},
	{"logi", "log"},
}

var step3Rules = []suffixRule{
	{"icate", "ic"}, {"ative", ""}, {"alize", "al"}, {"iciti", "ic"},
	{"ical", "ic"}, {"ful", ""}, {"ness", ""},
}

var step4Suffixes = []string{
	"ement", "ance", "ence", "able", "ible", "ment", "ant", "ent", "ion",
	"ism", "ate", "iti", "ous", "ive", "ize", "al", "er", "ic", "ou",
}

// StemEnglish reduces an English word to its Porter stem. Input is expected
// lowercase (Tokenize output).
func StemEnglish(word string) string {
	if len(word) <= 2 {
		return word
	}
	s := word

	// Step 1a: plurals.
	switch {
	case strings.HasSuffix(s, "sses"):
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "ies"):
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "ss"):
		// unchanged
	case strings.HasSuffix(s, "s"):
		s = s[:len(s)-1]
	}

	// Step 1b: -eed, -ed, -ing.
	fixup := false
	switch {
	case strings.HasSuffix(s, "eed"):
		if measure(s[:len(s)-3]) > 0 {
			s = s[:len(s)-1]
		}
	case strings.HasSuffix(s, "ed") && containsVowel(s[:len(s)-2]):
		s = s[:len(s)-2]
		fixup = true
	case strings.HasSuffix(s, "ing") && containsVowel(s[:len(s)-3]):
		s = s[:len(s)-3]
		fixup = true
	}
	if fixup {
		switch {
		case strings.HasSuffix(s, "at"), strings.HasSuffix(s, "bl"), strings.HasSuffix(s, "iz"):
			s += "e"
		case endsDoubleConsonant(s) && !strings.HasSuffix(s, "l") &&
			!strings.HasSuffix(s, "s") && !strings.HasSuffix(s, "z"):
			s = s[:len(s)-1]
		case measure(s) == 1 && endsCVC(s):
			s += "e"
		}
	}

	// Step 1c: terminal y -> i when the stem has a vowel.
	if strings.HasSuffix(s, "y") && containsVowel(s[:len(s)-1]) {
		s = s[:len(s)-1] + "i"
	}

	// Step 2 and 3 fire when the stem has any measure at all.
	mPositive := func(stem string) bool { return measure(stem) > 0 }
	s = applyStep(s, step2Rules, mPositive)
	s = applyStep(s, step3Rules, mPositive)

	// Step 4: strip residual suffixes from longer stems.
	longest := ""
	for _, suf := range step4Suffixes {
		if strings.HasSuffix(s, suf) && len(suf) > len(longest) {
			longest = suf
		}
	}
	if longest != "" {
		stem := s[:len(s)-len(longest)]
		if measure(stem) > 1 {
			if longest != "ion" || strings.HasSuffix(stem, "s") || strings.HasSuffix(stem, "t") {
				s = stem
			}
		}
	}

	// Step 5a: drop a final e.
	if strings.HasSuffix(s, "e") {
		stem := s[:len(s)-1]
		m := measure(stem)
		if m > 1 || (m == 1 && !endsCVC(stem)) {
			s = stem
		}
	}

	// Step 5b: -ll -> -l for longer stems.
	if measure(s) > 1 && endsDoubleConsonant(s) && strings.HasSuffix(s, "l") {
		s = s[:len(s)-1]
	}

	return s
}
