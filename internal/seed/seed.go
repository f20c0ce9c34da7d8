// Package seed ships the built-in Komodo National Park tour FAQ and loads
// it into fresh knowledge bases, so the bot answers real questions on first
// start without any configuration.
package seed

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/engine"
)

//go:embed komodo_qa.json
var komodoQA []byte

// Pair is one row of the embedded dataset.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Load parses the embedded dataset.
func Load() ([]Pair, error) {
	var pairs []Pair
	if err := json.Unmarshal(komodoQA, &pairs); err != nil {
		return nil, fmt.Errorf("embedded dataset is corrupt: %w", err)
	}
	return pairs, nil
}

// Apply teaches the embedded dataset into collection, creating the
// collection when it does not exist yet. A collection that already holds
// entries is left untouched, so restarts keep learned answers and edits.
// It returns how many pairs were added.
func Apply(eng *engine.Engine, collection string) (int, error) {
	pairs, err := Load()
	if err != nil {
		return 0, err
	}

	if !eng.DB.HasCollection(collection) {
		if err := eng.CollectionCreate(collection, core.CollectionOptions{}); err != nil {
			return 0, err
		}
	}

	info, err := eng.DB.CollectionInfoFor(collection)
	if err != nil {
		return 0, err
	}
	if info.EntryCount > 0 {
		slog.Debug("seed skipped, collection already populated",
			"collection", collection, "entries", info.EntryCount)
		return 0, nil
	}

	for _, p := range pairs {
		if _, err := eng.QAAdd(collection, p.Question, p.Answer, nil); err != nil {
			return 0, fmt.Errorf("seeding %q: %w", p.Question, err)
		}
	}

	slog.Info("seeded built-in FAQ dataset", "collection", collection, "entries", len(pairs))
	return len(pairs), nil
}
