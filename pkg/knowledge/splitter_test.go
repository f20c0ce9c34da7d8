package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"
)

const splitterFixture = `The Komodo National Park covers three major islands and numerous smaller ones, home to the largest living lizard on earth.

Guided tours depart every morning from Labuan Bajo. Rangers accompany every group for the entire trek and carry first aid kits.

Visitors are asked to stay on marked trails at all times, keep a safe distance from wildlife, and follow the instructions of their guide.`

func TestRecursiveSplitterRespectsChunkSize(t *testing.T) {
	s := NewRecursiveSplitter(80, 0)
	chunks := s.Split(splitterFixture)

	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 80 {
			t.Errorf("chunk %d too large: %d runes", i, n)
		}
	}
}

func TestRecursiveSplitterKeepsParagraphsTogether(t *testing.T) {
	// 150 runes is enough for the first paragraph to survive in one
	// piece.
	s := NewRecursiveSplitter(150, 20)
	chunks := s.Split(splitterFixture)

	if len(chunks) == 0 {
		t.Fatal("no chunks produced")
	}
	if !strings.Contains(chunks[0], "largest living lizard") {
		t.Errorf("first paragraph was broken unnecessarily: %q", chunks[0])
	}
}

func TestRecursiveSplitterOverlap(t *testing.T) {
	// Five 5-rune words: three fit in 17 runes, and a 6-rune overlap
	// carries exactly one word into the next chunk.
	s := NewRecursiveSplitter(17, 6)
	chunks := s.Split("word1 word2 word3 word4 word5")

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "word1 word2 word3" {
		t.Errorf("unexpected first chunk: %q", chunks[0])
	}
	if chunks[1] != "word3 word4 word5" {
		t.Errorf("expected word3 carried into second chunk: %q", chunks[1])
	}
}

func TestRecursiveSplitterUnbrokenRunes(t *testing.T) {
	// A 30-rune "word" with no separators must fall through to the
	// per-rune level without tearing multi-byte characters.
	s := NewRecursiveSplitter(10, 0)
	text := strings.Repeat("é", 30)
	chunks := s.Split(text)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c); n != 10 {
			t.Errorf("chunk %d has %d runes, want 10", i, n)
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Error("chunks do not reassemble into the original text")
	}
}

func TestRecursiveSplitterEmptyInput(t *testing.T) {
	s := NewRecursiveSplitter(0, -1) // out-of-range sizes take the defaults
	if s.ChunkSize != DefaultChunkSize || s.Overlap != DefaultOverlap {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if chunks := s.Split("   \n\n  "); chunks != nil {
		t.Errorf("expected nil for blank input, got %q", chunks)
	}
}
