package types

// SearchResult is a single scored hit from an index lookup. For vector
// searches Score is a distance (lower is better); for text searches it is a
// BM25 relevance score (higher is better). Callers normalize before fusing.
type SearchResult struct {
	DocID uint32
	Score float64
}

// Match sources, in the order the answer pipeline tries them.
const (
	SourceExact     = "exact"
	SourceLexical   = "lexical"
	SourceSemantic  = "semantic"
	SourceHybrid    = "hybrid"
	SourceGenerated = "generated"
	SourceNone      = "none"
)

// Suggestion is a near-miss question offered when no match clears the
// answer threshold.
type Suggestion struct {
	EntryID  uint32  `json:"entry_id"`
	Question string  `json:"question"`
	Score    float64 `json:"score"`
}
