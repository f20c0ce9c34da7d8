// Package textanalyzer turns free text into index tokens for the BM25 text
// index. Analyzers are language-specific pipelines of tokenization, stop-word
// filtering, and stemming.
package textanalyzer

import (
	"fmt"
	"regexp"
	"strings"
)

// Analyzer transforms a text into the slice of tokens that gets indexed.
type Analyzer interface {
	Analyze(text string) []string
}

// ForLanguage returns the analyzer registered for a language name.
// Supported: "english", "indonesian", "simple" (tokenize only) and "" which
// aliases to "english", the default dataset language.
func ForLanguage(lang string) (Analyzer, error) {
	switch strings.ToLower(lang) {
	case "", "english":
		return NewEnglishAnalyzer(), nil
	case "indonesian":
		return NewIndonesianAnalyzer(), nil
	case "simple":
		return NewSimpleAnalyzer(), nil
	default:
		return nil, fmt.Errorf("no analyzer registered for language '%s'", lang)
	}
}

// tokenizerRegex extracts words. Letters in any script plus digits: tour
// questions carry meaningful numbers ("children under 6", "H-1").
var tokenizerRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize splits a text into lowercase word tokens.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	return tokenizerRegex.FindAllString(text, -1)
}

// SimpleAnalyzer tokenizes without any filtering or stemming.
type SimpleAnalyzer struct{}

// NewSimpleAnalyzer creates an analyzer that only tokenizes.
func NewSimpleAnalyzer() *SimpleAnalyzer {
	return &SimpleAnalyzer{}
}

// Analyze implements the Analyzer interface.
func (s *SimpleAnalyzer) Analyze(text string) []string {
	return Tokenize(text)
}

// englishStopWords holds common English words to drop before indexing.
// Beyond the usual articles and auxiliaries it includes the interrogatives
// that open nearly every FAQ question; left in, they dominate BM25 scoring
// across the whole knowledge base. Negations ("not", "no") are kept.
var englishStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"what": {}, "how": {}, "where": {}, "when": {}, "who": {}, "why": {}, "which": {},
	"do": {}, "does": {}, "did": {}, "can": {}, "could": {}, "should": {}, "would": {},
	"i": {}, "you": {}, "we": {}, "they": {}, "my": {}, "your": {}, "our": {},
	"me": {}, "us": {}, "this": {}, "these": {}, "there": {}, "or": {}, "if": {},
	"am": {}, "been": {}, "have": {}, "had": {},
}

// FilterEnglishStopWords removes common English words from a token slice.
func FilterEnglishStopWords(tokens []string) []string {
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStopWord := englishStopWords[token]; !isStopWord {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

// indonesianStopWords holds common Indonesian function words. The park sits
// in Indonesia and operators maintain datasets in Bahasa Indonesia alongside
// English.
var indonesianStopWords = map[string]struct{}{
	"yang": {}, "dan": {}, "di": {}, "ke": {}, "dari": {}, "untuk": {}, "pada": {},
	"dengan": {}, "adalah": {}, "itu": {}, "ini": {}, "saya": {}, "anda": {},
	"kami": {}, "kita": {}, "mereka": {}, "dia": {}, "ia": {},
	"apakah": {}, "bagaimana": {}, "kapan": {}, "dimana": {}, "mana": {},
	"apa": {}, "siapa": {}, "berapa": {}, "mengapa": {}, "kenapa": {},
	"bisa": {}, "boleh": {}, "harus": {}, "akan": {}, "sudah": {}, "telah": {},
	"ada": {}, "atau": {}, "juga": {}, "karena": {}, "jika": {}, "kalau": {},
	"agar": {}, "oleh": {}, "dalam": {}, "sebagai": {}, "tentang": {}, "yaitu": {},
	"saat": {}, "ketika": {}, "lebih": {}, "masih": {}, "hanya": {}, "sangat": {},
}

// FilterIndonesianStopWords removes common Indonesian words from a token slice.
func FilterIndonesianStopWords(tokens []string) []string {
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStopWord := indonesianStopWords[token]; !isStopWord {
			filtered = append(filtered, token)
		}
	}
	return filtered
}
