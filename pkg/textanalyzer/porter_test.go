package textanalyzer

import "testing"

func TestStemEnglish(t *testing.T) {
	// Expected stems follow the classic Porter (1980) algorithm.
	testCases := []struct {
		input    string
		expected string
	}{
		// Too short to stem
		{"", ""},
		{"a", "a"},
		{"at", "at"},
		{"run", "run"},
		// Step 1a
		{"caresses", "caress"},
		{"ponies", "poni"},
		{"ties", "ti"},
		{"caress", "caress"},
		{"cats", "cat"},
		// Step 1b
		{"feed", "feed"},
		{"agreed", "agree"},
		{"plastered", "plaster"},
		{"motoring", "motor"},
		{"sing", "sing"},
		{"hopping", "hop"},
		{"tanning", "tan"},
		{"falling", "fall"},
		{"hissing", "hiss"},
		{"filing", "file"},
		// Step 1c
		{"happy", "happi"},
		{"sky", "sky"},
		// Step 2
		{"relational", "relat"},
		{"conditional", "condit"},
		{"rational", "ration"},
		{"valency", "valenc"},
		{"hesitancy", "hesit"},
		{"digitizer", "digit"},
		{"operator", "oper"},
		{"feudalism", "feudal"},
		{"hopefulness", "hope"},
		{"vietnamization", "vietnam"},
		// Step 3
		{"triplicate", "triplic"},
		{"formalize", "formal"},
		{"electrical", "electr"},
		{"goodness", "good"},
		// Step 4
		{"adjustment", "adjust"},
		{"replacement", "replac"},
		{"dependent", "depend"},
		{"adoption", "adopt"},
		{"activate", "activ"},
		{"effective", "effect"},
		{"dement", "dement"},
		// Step 5
		{"probate", "probat"},
		{"rate", "rate"},
		{"cease", "ceas"},
		{"controlling", "control"},
		{"roll", "roll"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := StemEnglish(tc.input); got != tc.expected {
				t.Errorf("StemEnglish(%q) = %q, expected %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestEnglishAnalyzer(t *testing.T) {
	analyzer := NewEnglishAnalyzer()

	t.Run("QuestionPipeline", func(t *testing.T) {
		// Interrogatives and auxiliaries drop; content words stem.
		got := analyzer.Analyze("What time do the tours start?")
		expected := []string{"time", "tour", "start"}
		assertTokens(t, got, expected)
	})

	t.Run("KeepsNumbers", func(t *testing.T) {
		got := analyzer.Analyze("Do children under 6 need tickets?")
		expected := []string{"children", "under", "6", "need", "ticket"}
		assertTokens(t, got, expected)
	})

	t.Run("InflectionsCollide", func(t *testing.T) {
		a := analyzer.Analyze("booking cancellations")
		b := analyzer.Analyze("booked cancellation")
		assertTokens(t, a, b)
	})
}

func assertTokens(t *testing.T, got, expected []string) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("token count mismatch: got %v, expected %v", got, expected)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("token %d: got %q, expected %q", i, got[i], expected[i])
		}
	}
}
