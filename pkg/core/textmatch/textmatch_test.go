package textmatch

import (
	"math"
	"testing"
)

func ratioEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalize(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"Hello, World!", "hello world"},
		{"  multiple   spaces  ", "multiple spaces"},
		{"don't", "dont"},
		{"What time do tours start?", "what time do tours start"},
		{"6 years old?!", "6 years old"},
		{"tabs\tand\nnewlines", "tabs and newlines"},
		{"¿Cómo estás?", "cómo estás"},
		{"???", ""},
		{"UPPER_case_id", "upper_case_id"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := Normalize(tc.input); got != tc.expected {
				t.Errorf("Normalize(%q) = %q, expected %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestRatio(t *testing.T) {
	// Expected values verified against difflib.SequenceMatcher.ratio().
	testCases := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"both empty", "", "", 1.0},
		{"one empty", "a", "", 0.0},
		{"identical", "hello", "hello", 1.0},
		{"shifted", "abcd", "bcde", 0.75},
		{"interleaved", "abab", "baba", 0.75},
		{"scattered", "pear", "tape", 0.5},
		{"prefix space", " abcd", "abcd abcd", 10.0 / 14.0},
		{"question variant", "how do i book tickets", "how do i book guided tour tickets", 42.0 / 54.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Ratio(tc.a, tc.b)
			if !ratioEqual(got, tc.expected) {
				t.Errorf("Ratio(%q, %q) = %f, expected %f", tc.a, tc.b, got, tc.expected)
			}
		})
	}
}

func TestQuickRatioIsUpperBound(t *testing.T) {
	pairs := [][2]string{
		{"", ""},
		{"abc", ""},
		{"abcd", "bcde"},
		{"pear", "tape"},
		{"the quick brown fox", "the slow brown dog"},
		{"how long is the tour", "how long does the boat trip take"},
		{"aaaa", "aa"},
		{"komodo dragon", "dragon komodo"},
	}

	for _, p := range pairs {
		full := Ratio(p[0], p[1])
		quick := QuickRatio(p[0], p[1])
		if quick < full-1e-9 {
			t.Errorf("QuickRatio(%q, %q) = %f is below Ratio %f", p[0], p[1], quick, full)
		}
	}
}

func TestBestMatch(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Text: "what time do tours start"},
		{ID: 2, Text: "how much does the tour cost"},
		{ID: 3, Text: "can i cancel my booking"},
	}

	t.Run("ExactHit", func(t *testing.T) {
		best, ok := BestMatch("what time do tours start", candidates, 0.6)
		if !ok {
			t.Fatal("expected a match above threshold")
		}
		if best.ID != 1 || !ratioEqual(best.Score, 1.0) {
			t.Errorf("expected entry 1 at score 1.0, got %d at %f", best.ID, best.Score)
		}
	})

	t.Run("NearMiss", func(t *testing.T) {
		best, ok := BestMatch("when do tours start", candidates, 0.6)
		if !ok {
			t.Fatalf("expected a match, best score was %f", best.Score)
		}
		if best.ID != 1 {
			t.Errorf("expected entry 1, got %d", best.ID)
		}
	})

	t.Run("BelowThreshold", func(t *testing.T) {
		best, ok := BestMatch("do you rent scuba equipment", candidates, 0.9)
		if ok {
			t.Errorf("expected no match, got entry %d at %f", best.ID, best.Score)
		}
		// The best effort is still reported for fusion and logging.
		if best.Score <= 0 {
			t.Error("expected a non-zero best-effort score")
		}
	})

	t.Run("NoCandidates", func(t *testing.T) {
		_, ok := BestMatch("anything", nil, 0.0)
		if ok {
			t.Error("expected no match with an empty candidate set")
		}
	})
}

func TestTopN(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Text: "what time do tours start"},
		{ID: 2, Text: "what time do boats leave"},
		{ID: 3, Text: "how much does the tour cost"},
		{ID: 4, Text: "zzzzzz"},
	}

	got := TopN("what time do tours begin", candidates, 3, 0.3)
	if len(got) == 0 {
		t.Fatal("expected suggestions")
	}
	if got[0].ID != 1 {
		t.Errorf("expected entry 1 ranked first, got %d", got[0].ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("suggestions not sorted: %f before %f", got[i-1].Score, got[i].Score)
		}
	}
	for _, s := range got {
		if s.Score < 0.3 {
			t.Errorf("entry %d below floor: %f", s.ID, s.Score)
		}
		if s.ID == 4 {
			t.Error("unrelated candidate survived the floor")
		}
	}

	t.Run("TruncatesToN", func(t *testing.T) {
		got := TopN("what time do tours start", candidates, 1, 0.0)
		if len(got) != 1 {
			t.Fatalf("expected exactly 1 suggestion, got %d", len(got))
		}
	})

	t.Run("ZeroN", func(t *testing.T) {
		if got := TopN("anything", candidates, 0, 0.0); got != nil {
			t.Errorf("expected nil for n=0, got %v", got)
		}
	})
}
