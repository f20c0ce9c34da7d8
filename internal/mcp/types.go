package mcp

// --- Tool Arguments ---

type AskArgs struct {
	Query      string  `json:"query" jsonschema:"The visitor question to answer,required"`
	Collection string  `json:"collection,omitempty" jsonschema:"Knowledge collection to search. Defaults to the main FAQ collection"`
	Threshold  float64 `json:"threshold,omitempty" jsonschema:"description=Minimum similarity (0.0-1.0) for a stored answer to count as a match. Default 0.6."`
}

type AskResult struct {
	Answer      string   `json:"answer"`
	Matched     bool     `json:"matched"`
	Question    string   `json:"question,omitempty"` // the stored phrasing that matched
	Score       float64  `json:"score"`
	Source      string   `json:"source"`
	Suggestions []string `json:"suggestions,omitempty"` // near-miss questions when nothing matched
}

type SuggestArgs struct {
	Query      string `json:"query" jsonschema:"The text to find similar stored questions for,required"`
	Collection string `json:"collection,omitempty"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Max number of suggestions (default 5)"`
}

type SuggestResult struct {
	Questions []string `json:"questions"` // Formatted strings for the LLM
}

type TeachArgs struct {
	Question   string `json:"question" jsonschema:"The question phrasing to store,required"`
	Answer     string `json:"answer" jsonschema:"The answer the bot should give from now on,required"`
	Collection string `json:"collection,omitempty"`
	Category   string `json:"category,omitempty" jsonschema:"Optional category saved as metadata (e.g. 'booking', 'safety', 'wildlife')"`
}

type TeachResult struct {
	EntryID uint32 `json:"entry_id"`
	Status  string `json:"status"`
}

type StatsArgs struct{}

type StatsResult struct {
	Collections  []string `json:"collections"` // Formatted strings for the LLM
	TotalEntries int      `json:"total_entries"`
	TotalVectors int      `json:"total_vectors"`
	Synthesizer  bool     `json:"synthesizer"`
}
