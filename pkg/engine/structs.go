package engine

import (
	"time"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/core/types"
)

// Answer is the outcome of one Ask call.
type Answer struct {
	// Text is what the bot should say: the stored answer on a match, the
	// synthesized reply when generation ran, or a fallback line.
	Text string `json:"text"`

	// Matched reports whether a stored entry cleared the threshold.
	Matched bool `json:"matched"`

	// Question and EntryID identify the matched entry when Matched is set.
	Question string `json:"question,omitempty"`
	EntryID  uint32 `json:"entry_id,omitempty"`

	// Score is the best similarity seen, reported even below threshold.
	Score float64 `json:"score"`

	// Source names the pipeline stage that produced Text: "exact",
	// "lexical", "semantic", "hybrid", "generated" or "none".
	Source string `json:"source"`

	// Suggestions carries near-miss questions when nothing matched.
	Suggestions []types.Suggestion `json:"suggestions,omitempty"`

	Collection string `json:"collection"`
}

// EngineStats is a point-in-time status report, shaped for the stats API
// and the REPL /stats command.
type EngineStats struct {
	Collections  []core.CollectionInfo `json:"collections"`
	TotalEntries int                   `json:"total_entries"`
	TotalVectors int                   `json:"total_vectors"`
	AofSizeBytes int64                 `json:"aof_size_bytes"`
	DirtyOps     int64                 `json:"dirty_ops"`
	LastSave     time.Time             `json:"last_save"`
	Embedders    []string              `json:"embedders,omitempty"`
	Synthesizer  bool                  `json:"synthesizer"`
	StateKeys    int                   `json:"state_keys"`
}

// qaPair is the dataset interchange shape used by import and export, the
// same JSON layout the hand-maintained FAQ files ship in.
type qaPair struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
