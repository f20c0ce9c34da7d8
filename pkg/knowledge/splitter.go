package knowledge

import (
	"strings"
	"unicode/utf8"
)

// Splitter cuts extracted text into chunks sized for matching.
type Splitter interface {
	Split(text string) []string
}

// Default chunking geometry, in runes.
const (
	DefaultChunkSize = 512
	DefaultOverlap   = 64
)

// RecursiveSplitter splits text by a ladder of separators, preferring
// paragraph breaks over line breaks over spaces, and merges the pieces
// back toward ChunkSize. Overlap runes are carried between neighboring
// chunks so context survives the cut. Sizes are measured in runes, not
// bytes, so multi-byte characters are never torn.
type RecursiveSplitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

// NewRecursiveSplitter returns a splitter with the default separator
// ladder. A non-positive chunk size and a negative overlap fall back
// to the package defaults; a zero overlap stays zero. The overlap is
// clamped below the chunk size so merging always drains.
func NewRecursiveSplitter(chunkSize, overlap int) *RecursiveSplitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &RecursiveSplitter{
		ChunkSize:  chunkSize,
		Overlap:    overlap,
		Separators: []string{"\n\n", "\n", " ", ""},
	}
}

func (s *RecursiveSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = []string{"\n\n", "\n", " ", ""}
	}
	return s.split(text, seps)
}

// split cuts text by the first separator and recurses with the next
// one into any piece still larger than ChunkSize. The empty separator
// at the end of the ladder splits per rune, so every piece eventually
// fits.
func (s *RecursiveSplitter) split(text string, separators []string) []string {
	if len(separators) == 0 {
		return []string{text}
	}
	sep := separators[0]
	rest := separators[1:]

	parts := strings.Split(text, sep)
	if len(parts) == 1 && sep != "" {
		return s.split(text, rest)
	}

	var pieces []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= s.ChunkSize || len(rest) == 0 {
			pieces = append(pieces, part)
		} else {
			pieces = append(pieces, s.split(part, rest)...)
		}
	}
	return s.merge(pieces, sep)
}

// merge joins consecutive pieces with the separator they were split on
// until adding the next piece would exceed ChunkSize. A single piece
// larger than ChunkSize becomes its own chunk.
func (s *RecursiveSplitter) merge(pieces []string, sep string) []string {
	var chunks []string
	var current []string
	sepLen := utf8.RuneCountInString(sep)
	currentLen := 0

	for _, piece := range pieces {
		pieceLen := utf8.RuneCountInString(piece)
		if len(current) > 0 && currentLen+sepLen+pieceLen > s.ChunkSize {
			chunks = append(chunks, strings.Join(current, sep))
			current = tailWithin(current, sepLen, s.Overlap)
			currentLen = joinedLen(current, sepLen)
		}
		current = append(current, piece)
		if len(current) == 1 {
			currentLen = pieceLen
		} else {
			currentLen += sepLen + pieceLen
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, sep))
	}
	return chunks
}

// tailWithin drops pieces from the front until the joined remainder
// fits the overlap budget. What survives is prepended to the next
// chunk.
func tailWithin(parts []string, sepLen, overlap int) []string {
	if overlap <= 0 {
		return nil
	}
	for len(parts) > 0 && joinedLen(parts, sepLen) > overlap {
		parts = parts[1:]
	}
	return parts
}

func joinedLen(parts []string, sepLen int) int {
	n := 0
	for i, p := range parts {
		if i > 0 {
			n += sepLen
		}
		n += utf8.RuneCountInString(p)
	}
	return n
}
