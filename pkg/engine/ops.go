package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/persistence"
)

// CollectionCreate registers a QA collection. Re-creating a collection with
// identical options is a no-op, so startup code can create unconditionally;
// differing options are rejected.
func (e *Engine) CollectionCreate(name string, opts core.CollectionOptions) error {
	if e.DB.HasCollection(name) {
		// Validates option equality without appending a log record.
		return e.DB.CreateCollection(name, opts)
	}

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return err
	}

	e.writeMu.RLock()
	defer e.writeMu.RUnlock()

	cmd := persistence.FormatCommand(cmdCollectionCreate, []byte(name), optsJSON)
	if err := e.AOF.Write(cmd); err != nil {
		return fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	if err := e.DB.CreateCollection(name, opts); err != nil {
		// The logged record is stray now; replay skips records that do
		// not apply.
		return err
	}
	if err := e.flushAcked(); err != nil {
		return err
	}
	e.markDirty()
	e.refreshEntryGauge(name)

	slog.Info("collection created",
		"name", name, "language", opts.Language, "embedder", opts.Embedder)
	return nil
}

// QAAdd teaches the engine a new question/answer pair and returns its entry
// ID. A pair whose normalized question already exists replaces the previous
// answer, the way a human corrects a FAQ. When the collection is configured
// with an embedder the entry is vectorized in the background; lexical
// matching covers it immediately.
func (e *Engine) QAAdd(collection, question, answer string, metadata map[string]any) (uint32, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" {
		return 0, errors.New("question must not be empty")
	}
	if answer == "" {
		return 0, errors.New("answer must not be empty")
	}
	info, err := e.DB.CollectionInfoFor(collection)
	if err != nil {
		return 0, err
	}

	var metaJSON []byte
	if len(metadata) > 0 {
		if metaJSON, err = json.Marshal(metadata); err != nil {
			return 0, fmt.Errorf("metadata is not JSON-encodable: %w", err)
		}
	}

	entry := core.Entry{
		ID:        e.DB.NextID(),
		Question:  question,
		Answer:    answer,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	e.writeMu.RLock()
	defer e.writeMu.RUnlock()

	cmd := persistence.FormatCommand(cmdEntryAdd,
		[]byte(collection),
		formatEntryID(entry.ID),
		[]byte(question),
		[]byte(answer),
		metaJSON,
		[]byte(entry.CreatedAt.Format(time.RFC3339Nano)),
	)
	if err := e.AOF.Write(cmd); err != nil {
		return 0, fmt.Errorf("persistence error (AOF write failed): %w", err)
	}

	replacedID, replaced, err := e.DB.AddEntry(collection, entry)
	if err != nil {
		return 0, err
	}
	if replaced {
		slog.Info("entry replaced",
			"collection", collection, "old_id", replacedID, "new_id", entry.ID)
	}

	if err := e.flushAcked(); err != nil {
		return 0, err
	}
	e.markDirty()
	e.refreshEntryGauge(collection)

	if info.Embedder != "" {
		e.scheduleEmbedding(collection, entry.ID, question)
	}
	return entry.ID, nil
}

// QADelete removes an entry, reporting whether it existed. Deleting an
// unknown ID does not touch the log.
func (e *Engine) QADelete(collection string, id uint32) (bool, error) {
	if _, found, err := e.DB.GetEntry(collection, id); err != nil {
		return false, err
	} else if !found {
		return false, nil
	}

	e.writeMu.RLock()
	defer e.writeMu.RUnlock()

	cmd := persistence.FormatCommand(cmdEntryDelete, []byte(collection), formatEntryID(id))
	if err := e.AOF.Write(cmd); err != nil {
		return false, fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	deleted, err := e.DB.DeleteEntry(collection, id)
	if err != nil {
		return false, err
	}
	if err := e.flushAcked(); err != nil {
		return deleted, err
	}
	e.markDirty()
	e.refreshEntryGauge(collection)
	return deleted, nil
}

// QAGet fetches a single entry by ID.
func (e *Engine) QAGet(collection string, id uint32) (core.Entry, bool, error) {
	return e.DB.GetEntry(collection, id)
}

// QAList returns entries sorted by ID, optionally restricted by a metadata
// filter expression such as `category = 'booking' AND priority > 2`.
func (e *Engine) QAList(collection, filter string) ([]core.Entry, error) {
	if strings.TrimSpace(filter) == "" {
		return e.DB.Entries(collection, nil)
	}
	ids, err := e.DB.FindIDsByFilter(collection, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []core.Entry{}, nil
	}
	return e.DB.Entries(collection, ids)
}

// Collections lists every collection with its current counts.
func (e *Engine) Collections() []core.CollectionInfo {
	return e.DB.Collections()
}

// StateSet stores a small piece of operational state, for example an ingest
// fingerprint keyed by source path. Values ride the same AOF and snapshot
// cycle as the QA data.
func (e *Engine) StateSet(key string, value []byte) error {
	if key == "" {
		return errors.New("state key must not be empty")
	}

	e.writeMu.RLock()
	defer e.writeMu.RUnlock()

	cmd := persistence.FormatCommand(cmdStateSet, []byte(key), value)
	if err := e.AOF.Write(cmd); err != nil {
		return fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	e.DB.GetKVStore().Set(key, value)
	if err := e.flushAcked(); err != nil {
		return err
	}
	e.markDirty()
	return nil
}

// StateGet reads operational state written by StateSet.
func (e *Engine) StateGet(key string) ([]byte, bool) {
	return e.DB.GetKVStore().Get(key)
}

// StateDelete removes a state key. Unknown keys are a no-op.
func (e *Engine) StateDelete(key string) error {
	if _, found := e.DB.GetKVStore().Get(key); !found {
		return nil
	}

	e.writeMu.RLock()
	defer e.writeMu.RUnlock()

	cmd := persistence.FormatCommand(cmdStateDelete, []byte(key))
	if err := e.AOF.Write(cmd); err != nil {
		return fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	e.DB.GetKVStore().Delete(key)
	if err := e.flushAcked(); err != nil {
		return err
	}
	e.markDirty()
	return nil
}

// ImportJSON loads a dataset of {"question","answer"} pairs into a
// collection. Pairs sharing a normalized question with an existing entry
// replace it, so re-importing an updated dataset converges instead of
// duplicating. Returns the number of pairs imported.
func (e *Engine) ImportJSON(collection string, r io.Reader) (int, error) {
	var pairs []qaPair
	if err := json.NewDecoder(r).Decode(&pairs); err != nil {
		return 0, fmt.Errorf("invalid dataset JSON: %w", err)
	}

	e.adminMu.Lock()
	defer e.adminMu.Unlock()

	added := 0
	for i, p := range pairs {
		if strings.TrimSpace(p.Question) == "" || strings.TrimSpace(p.Answer) == "" {
			slog.Warn("skipping dataset pair with empty question or answer", "index", i)
			continue
		}
		if _, err := e.QAAdd(collection, p.Question, p.Answer, p.Metadata); err != nil {
			return added, fmt.Errorf("pair %d: %w", i, err)
		}
		added++
	}
	slog.Info("dataset imported", "collection", collection, "pairs", added)
	return added, nil
}

// ExportJSON writes a collection as a dataset of question/answer pairs,
// 4-space indented like the original hand-maintained files.
func (e *Engine) ExportJSON(collection string, w io.Writer) error {
	entries, err := e.DB.Entries(collection, nil)
	if err != nil {
		return err
	}
	pairs := make([]qaPair, 0, len(entries))
	for _, entry := range entries {
		pairs = append(pairs, qaPair{
			Question: entry.Question,
			Answer:   entry.Answer,
			Metadata: entry.Metadata,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(pairs)
}

// Save snapshots the whole database and truncates the AOF.
func (e *Engine) Save() error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	return e.saveSnapshotLocked()
}

// Stats reports a point-in-time view of the engine.
func (e *Engine) Stats() EngineStats {
	st := EngineStats{
		Collections: e.DB.Collections(),
		DirtyOps:    atomic.LoadInt64(&e.dirtyCounter),
		LastSave:    time.Unix(0, e.lastSave.Load()),
		Embedders:   e.Embedders(),
		Synthesizer: e.synth() != nil,
		StateKeys:   e.DB.GetKVStore().Len(),
	}
	for _, info := range st.Collections {
		st.TotalEntries += info.EntryCount
		st.TotalVectors += info.VectorCount
	}
	if f := e.AOF.File(); f != nil {
		if fi, err := f.Stat(); err == nil {
			st.AofSizeBytes = fi.Size()
		}
	}
	return st
}
