package server

import (
	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/core/types"
)

// AskRequest is the body for POST /api/v1/ask. Collection defaults to the
// server's default collection; Threshold overrides the engine tuning for
// this one call when set.
type AskRequest struct {
	Collection string   `json:"collection,omitempty"`
	Query      string   `json:"query"`
	Strategy   string   `json:"strategy,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

// SuggestRequest is the body for POST /api/v1/suggest. N caps the list;
// zero uses the engine default.
type SuggestRequest struct {
	Collection string `json:"collection,omitempty"`
	Query      string `json:"query"`
	N          int    `json:"n,omitempty"`
}

// SuggestResponse wraps the suggestion list.
type SuggestResponse struct {
	Suggestions []types.Suggestion `json:"suggestions"`
}

// TeachRequest is the body for POST /api/v1/qa.
type TeachRequest struct {
	Collection string         `json:"collection,omitempty"`
	Question   string         `json:"question"`
	Answer     string         `json:"answer"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TeachResponse returns the ID assigned to a taught entry.
type TeachResponse struct {
	ID uint32 `json:"id"`
}

// CollectionCreateRequest is the body for POST /api/v1/collections.
type CollectionCreateRequest struct {
	Name    string                 `json:"name"`
	Options core.CollectionOptions `json:"options"`
}

// ImportResponse reports how many dataset pairs were stored.
type ImportResponse struct {
	Added int `json:"added"`
}

// IngestRequest is the body for POST /api/v1/ingest. Path names a file or
// directory on the server's filesystem.
type IngestRequest struct {
	Path       string `json:"path"`
	Collection string `json:"collection,omitempty"`
}
