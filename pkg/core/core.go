// Package core provides the in-memory data structures for the varanus engine.
//
// This file defines the main DB struct, which owns every QA collection
// together with the secondary indexes used for retrieval: a BM25 text index
// over questions and answers, an inverted index for exact string metadata
// filters, and a B-Tree index for numeric range filters. Snapshot
// serialization also lives here.
package core

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/varanus/pkg/core/distance"
	"github.com/sanonone/varanus/pkg/core/flat"
	"github.com/sanonone/varanus/pkg/core/textmatch"
	"github.com/sanonone/varanus/pkg/core/types"
	"github.com/sanonone/varanus/pkg/textanalyzer"
	"github.com/tidwall/btree"
)

// Text index field names. Questions and answers are indexed separately so
// recall can weigh them differently.
const (
	FieldQuestion = "question"
	FieldAnswer   = "answer"
)

// Entry is a single question/answer pair in a collection.
type Entry struct {
	ID       uint32         `json:"id"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// NormQuestion is the normalized form of Question, recomputed on every
	// insert; it is the key for exact-hit lookups and the text lexical
	// similarity runs against.
	NormQuestion string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// CollectionOptions configures a QA collection at creation time.
type CollectionOptions struct {
	// Language selects the text analyzer ("english", "indonesian",
	// "simple"). Empty means english, the default dataset language.
	Language string `json:"language,omitempty"`
	// Metric is the vector distance metric. Empty means cosine.
	Metric distance.DistanceMetric `json:"metric,omitempty"`
	// Precision is the vector storage precision. Empty means float32.
	Precision distance.PrecisionType `json:"precision,omitempty"`
	// Embedder names the embedding provider that vectorizes entries.
	// Empty disables semantic search for the collection.
	Embedder string `json:"embedder,omitempty"`
}

// withDefaults fills zero-valued fields with the collection defaults.
func (o CollectionOptions) withDefaults() CollectionOptions {
	if o.Language == "" {
		o.Language = "english"
	}
	if o.Metric == "" {
		o.Metric = distance.Cosine
	}
	if o.Precision == "" {
		o.Precision = distance.Float32
	}
	return o
}

// CollectionInfo models the public-facing status of a collection, intended
// for serialization in API responses.
type CollectionInfo struct {
	Name        string                  `json:"name"`
	Language    string                  `json:"language"`
	Metric      distance.DistanceMetric `json:"metric"`
	Precision   distance.PrecisionType  `json:"precision"`
	Embedder    string                  `json:"embedder,omitempty"`
	EntryCount  int                     `json:"entry_count"`
	VectorCount int                     `json:"vector_count"`
	Dimensions  int                     `json:"dimensions,omitempty"`
}

// BTreeItem associates a numeric metadata value with an entry ID inside the
// numeric index.
type BTreeItem struct {
	Value   float64
	EntryID uint32
}

// PostingEntry holds the entry ID and term frequency for one document in a
// posting list.
type PostingEntry struct {
	DocID         uint32
	TermFrequency int
}

// PostingList is a slice of PostingEntry structs kept in insertion order.
type PostingList []PostingEntry

// TextIndex maps collection -> field -> token -> posting list.
type TextIndex map[string]map[string]map[string]PostingList

// TextIndexStats holds the per-field statistics BM25 ranking needs.
type TextIndexStats struct {
	TotalDocs      int
	AvgFieldLength float64
	DocLengths     map[uint32]int
}

// DB is the main container for all varanus data. It orchestrates the QA
// collections, the KV store used for ingest bookkeeping, and all secondary
// indexes.
type DB struct {
	mu          sync.RWMutex
	kvStore     *KVStore
	collections map[string]*collection

	// nextID holds the last entry ID handed out. Entry IDs are global
	// across collections so AOF records stay unambiguous.
	nextID atomic.Uint32

	// invertedIndex supports exact string metadata filters.
	// collection -> metadata key -> value -> set of entry IDs.
	invertedIndex map[string]map[string]map[string]map[uint32]struct{}

	// bTreeIndex supports numeric range filters.
	// collection -> metadata key -> B-Tree of (value, entryID).
	bTreeIndex map[string]map[string]*btree.BTreeG[BTreeItem]

	textIndex      TextIndex
	textIndexStats map[string]map[string]*TextIndexStats // collection -> field -> stats
}

// collection groups the entries of one FAQ domain together with the
// text analyzer and vector index configured for it.
type collection struct {
	name     string
	opts     CollectionOptions
	analyzer textanalyzer.Analyzer

	entries        map[uint32]*Entry
	byNormQuestion map[string]uint32
	vectors        *flat.Index
}

// NewDB creates and returns a new, initialized DB instance.
func NewDB() *DB {
	return &DB{
		kvStore:        NewKVStore(),
		collections:    make(map[string]*collection),
		invertedIndex:  make(map[string]map[string]map[string]map[uint32]struct{}),
		bTreeIndex:     make(map[string]map[string]*btree.BTreeG[BTreeItem]),
		textIndex:      make(TextIndex),
		textIndexStats: make(map[string]map[string]*TextIndexStats),
	}
}

// GetKVStore returns the underlying key-value store.
func (db *DB) GetKVStore() *KVStore {
	return db.kvStore
}

// NextID reserves and returns a new entry ID.
func (db *DB) NextID() uint32 {
	return db.nextID.Add(1)
}

// bumpNextID raises the ID counter to at least id, so IDs replayed from the
// AOF or a snapshot are never reissued.
func (db *DB) bumpNextID(id uint32) {
	for {
		cur := db.nextID.Load()
		if cur >= id || db.nextID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// --- Collection management ---

// CreateCollection creates a QA collection. Creating an existing collection
// with identical options is a no-op, so replayed CCREATE records and retried
// client calls stay idempotent; differing options are an error.
func (db *DB) CreateCollection(name string, opts CollectionOptions) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("collection name must not be empty")
	}
	opts = opts.withDefaults()

	db.mu.Lock()
	defer db.mu.Unlock()

	if existing, ok := db.collections[name]; ok {
		if existing.opts == opts {
			return nil
		}
		return fmt.Errorf("collection '%s' already exists with different options", name)
	}

	analyzer, err := textanalyzer.ForLanguage(opts.Language)
	if err != nil {
		return err
	}
	vectors, err := flat.New(opts.Metric, opts.Precision)
	if err != nil {
		return err
	}

	db.collections[name] = &collection{
		name:           name,
		opts:           opts,
		analyzer:       analyzer,
		entries:        make(map[uint32]*Entry),
		byNormQuestion: make(map[string]uint32),
		vectors:        vectors,
	}

	db.invertedIndex[name] = make(map[string]map[string]map[uint32]struct{})
	db.bTreeIndex[name] = make(map[string]*btree.BTreeG[BTreeItem])
	db.textIndex[name] = make(map[string]map[string]PostingList)
	db.textIndexStats[name] = make(map[string]*TextIndexStats)

	return nil
}

// HasCollection reports whether a collection exists.
func (db *DB) HasCollection(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.collections[name]
	return ok
}

// Collections returns status information for every collection, sorted by
// name for consistent API responses.
func (db *DB) Collections() []CollectionInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.CollectionsUnlocked()
}

// CollectionsUnlocked returns collection information without acquiring the
// DB lock. The caller is responsible for ensuring thread safety.
func (db *DB) CollectionsUnlocked() []CollectionInfo {
	infoList := make([]CollectionInfo, 0, len(db.collections))
	for _, col := range db.collections {
		infoList = append(infoList, db.collectionInfoLocked(col))
	}
	sort.Slice(infoList, func(i, j int) bool {
		return infoList[i].Name < infoList[j].Name
	})
	return infoList
}

// CollectionInfoFor returns status information for a single collection.
func (db *DB) CollectionInfoFor(name string) (CollectionInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	col, err := db.collectionLocked(name)
	if err != nil {
		return CollectionInfo{}, err
	}
	return db.collectionInfoLocked(col), nil
}

func (db *DB) collectionInfoLocked(col *collection) CollectionInfo {
	return CollectionInfo{
		Name:        col.name,
		Language:    col.opts.Language,
		Metric:      col.opts.Metric,
		Precision:   col.opts.Precision,
		Embedder:    col.opts.Embedder,
		EntryCount:  len(col.entries),
		VectorCount: col.vectors.Len(),
		Dimensions:  col.vectors.Dimensions(),
	}
}

// collectionLocked resolves a collection by name. The caller must hold db.mu.
func (db *DB) collectionLocked(name string) (*collection, error) {
	col, ok := db.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection '%s' not found", name)
	}
	return col, nil
}

// --- Entry operations ---

// AddEntry inserts an entry into a collection. The entry's ID must already
// be assigned (live writes reserve one with NextID; replay reuses the logged
// one). NormQuestion is recomputed here, never trusted from the caller.
//
// Teaching the same question twice replaces the previous entry: when the
// normalized question already maps to a different ID, that entry is removed
// from every index, its vector included, and its ID is returned.
func (db *DB) AddEntry(collectionName string, e Entry) (replacedID uint32, replaced bool, err error) {
	if e.ID == 0 {
		return 0, false, fmt.Errorf("entry ID must be non-zero")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return 0, false, err
	}

	e.NormQuestion = textmatch.Normalize(e.Question)
	e.Metadata = copyMetadata(e.Metadata)

	// Same normalized question under another ID: replace it.
	if oldID, ok := col.byNormQuestion[e.NormQuestion]; ok && oldID != e.ID {
		db.removeEntryLocked(col, col.entries[oldID])
		replacedID, replaced = oldID, true
	}
	// Same ID re-added (AOF replay after a crash mid-rewrite): clear the
	// stale copy first.
	if prev, ok := col.entries[e.ID]; ok {
		db.removeEntryLocked(col, prev)
	}

	stored := e
	col.entries[e.ID] = &stored
	col.byNormQuestion[e.NormQuestion] = e.ID
	db.indexEntryLocked(col, &stored)
	db.bumpNextID(e.ID)

	return replacedID, replaced, nil
}

// DeleteEntry removes an entry and all its index presence. Deleting a
// missing ID is a no-op reporting false.
func (db *DB) DeleteEntry(collectionName string, id uint32) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return false, err
	}
	e, ok := col.entries[id]
	if !ok {
		return false, nil
	}
	db.removeEntryLocked(col, e)
	return true, nil
}

// removeEntryLocked unwires an entry from the collection maps, the secondary
// indexes, and the vector index. The caller must hold db.mu for writing.
func (db *DB) removeEntryLocked(col *collection, e *Entry) {
	db.unindexEntryLocked(col, e)
	delete(col.entries, e.ID)
	if cur, ok := col.byNormQuestion[e.NormQuestion]; ok && cur == e.ID {
		delete(col.byNormQuestion, e.NormQuestion)
	}
	col.vectors.Delete(e.ID)
}

// GetEntry retrieves a copy of an entry by ID.
func (db *DB) GetEntry(collectionName string, id uint32) (Entry, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := col.entries[id]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(e), true, nil
}

// GetEntryByQuestion retrieves a copy of the entry whose normalized question
// equals normQuestion. This is the exact-hit fast path of the answer
// pipeline.
func (db *DB) GetEntryByQuestion(collectionName, normQuestion string) (Entry, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return Entry{}, false, err
	}
	id, ok := col.byNormQuestion[normQuestion]
	if !ok {
		return Entry{}, false, nil
	}
	return copyEntry(col.entries[id]), true, nil
}

// Entries returns copies of entries sorted by ID. A non-nil ids set
// restricts the result to those IDs.
func (db *DB) Entries(collectionName string, ids map[uint32]struct{}) ([]Entry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.EntriesUnlocked(collectionName, ids)
}

// EntriesUnlocked is Entries without locking, for callers that already hold
// the DB lock (AOF rewrite iterates entries under a global write lock).
func (db *DB) EntriesUnlocked(collectionName string, ids map[uint32]struct{}) ([]Entry, error) {
	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(col.entries))
	for id, e := range col.entries {
		if ids != nil {
			if _, ok := ids[id]; !ok {
				continue
			}
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// EntryCount returns the number of entries in a collection.
func (db *DB) EntryCount(collectionName string) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return 0, err
	}
	return len(col.entries), nil
}

// QuestionCandidates returns (ID, normalized question) pairs for lexical
// scoring, sorted by ID so similarity ties resolve to the oldest entry. A
// non-nil ids set restricts the candidates.
func (db *DB) QuestionCandidates(collectionName string, ids map[uint32]struct{}) ([]textmatch.Candidate, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return nil, err
	}

	out := make([]textmatch.Candidate, 0, len(col.entries))
	for id, e := range col.entries {
		if ids != nil {
			if _, ok := ids[id]; !ok {
				continue
			}
		}
		out = append(out, textmatch.Candidate{ID: id, Text: e.NormQuestion})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Vector operations ---

// SetVector attaches an embedding to an entry. Vectors arriving after their
// entry was deleted (async embedding races teach/delete) are dropped.
func (db *DB) SetVector(collectionName string, id uint32, vec []float32) error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return err
	}
	if _, ok := col.entries[id]; !ok {
		return nil
	}
	return col.vectors.Add(id, vec)
}

// EntryVector returns the stored embedding for an entry, if any.
func (db *DB) EntryVector(collectionName string, id uint32) ([]float32, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.EntryVectorUnlocked(collectionName, id)
}

// EntryVectorUnlocked is EntryVector without taking the DB lock.
func (db *DB) EntryVectorUnlocked(collectionName string, id uint32) ([]float32, bool, error) {
	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return nil, false, err
	}
	vec, ok := col.vectors.Vector(id)
	return vec, ok, nil
}

// VectorSearch scans the collection's vector index for the k nearest entries.
func (db *DB) VectorSearch(collectionName string, query []float32, k int, allowList map[uint32]struct{}) ([]types.SearchResult, error) {
	db.mu.RLock()
	col, err := db.collectionLocked(collectionName)
	db.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return col.vectors.SearchWithScores(query, k, allowList)
}

// --- Secondary index maintenance ---

// indexEntryLocked adds an entry to the text index (question and answer
// fields) and its metadata to the inverted and B-Tree indexes. The caller
// must hold db.mu for writing.
func (db *DB) indexEntryLocked(col *collection, e *Entry) {
	db.textIndexAddLocked(col.name, FieldQuestion, e.ID, col.analyzer.Analyze(e.Question))
	db.textIndexAddLocked(col.name, FieldAnswer, e.ID, col.analyzer.Analyze(e.Answer))

	for key, value := range e.Metadata {
		switch v := value.(type) {
		case string:
			keyIndex := db.invertedIndex[col.name]
			if _, ok := keyIndex[key]; !ok {
				keyIndex[key] = make(map[string]map[uint32]struct{})
			}
			if _, ok := keyIndex[key][v]; !ok {
				keyIndex[key][v] = make(map[uint32]struct{})
			}
			keyIndex[key][v][e.ID] = struct{}{}

		case float64:
			keyTrees := db.bTreeIndex[col.name]
			if _, ok := keyTrees[key]; !ok {
				keyTrees[key] = btree.NewBTreeG[BTreeItem](btreeItemLess)
			}
			keyTrees[key].Set(BTreeItem{Value: v, EntryID: e.ID})

		default:
			// Other JSON types (bool, nested objects) are stored on the
			// entry but not filterable.
			continue
		}
	}

	db.recalcAvgFieldLengthsLocked(col.name)
}

// unindexEntryLocked removes every index trace of an entry. Analyzers are
// deterministic, so re-analyzing the stored text yields exactly the tokens
// that were indexed.
func (db *DB) unindexEntryLocked(col *collection, e *Entry) {
	db.textIndexRemoveLocked(col.name, FieldQuestion, e.ID, col.analyzer.Analyze(e.Question))
	db.textIndexRemoveLocked(col.name, FieldAnswer, e.ID, col.analyzer.Analyze(e.Answer))

	for key, value := range e.Metadata {
		switch v := value.(type) {
		case string:
			keyIndex := db.invertedIndex[col.name]
			if valMap, ok := keyIndex[key]; ok {
				if idSet, ok := valMap[v]; ok {
					delete(idSet, e.ID)
					if len(idSet) == 0 {
						delete(valMap, v)
					}
				}
				if len(valMap) == 0 {
					delete(keyIndex, key)
				}
			}
		case float64:
			if tree, ok := db.bTreeIndex[col.name][key]; ok {
				tree.Delete(BTreeItem{Value: v, EntryID: e.ID})
			}
		}
	}

	db.recalcAvgFieldLengthsLocked(col.name)
}

func (db *DB) textIndexAddLocked(collectionName, field string, docID uint32, tokens []string) {
	if len(tokens) == 0 {
		return
	}

	if _, ok := db.textIndex[collectionName][field]; !ok {
		db.textIndex[collectionName][field] = make(map[string]PostingList)
	}
	if _, ok := db.textIndexStats[collectionName][field]; !ok {
		db.textIndexStats[collectionName][field] = &TextIndexStats{
			DocLengths: make(map[uint32]int),
		}
	}
	fieldIndex := db.textIndex[collectionName][field]
	stats := db.textIndexStats[collectionName][field]

	if _, exists := stats.DocLengths[docID]; !exists {
		stats.TotalDocs++
	}
	stats.DocLengths[docID] = len(tokens)

	termFrequencies := make(map[string]int)
	for _, token := range tokens {
		termFrequencies[token]++
	}

	for token, freq := range termFrequencies {
		list := fieldIndex[token]
		found := false
		for _, entry := range list {
			if entry.DocID == docID {
				found = true
				break
			}
		}
		if !found {
			fieldIndex[token] = append(list, PostingEntry{DocID: docID, TermFrequency: freq})
		}
	}
}

func (db *DB) textIndexRemoveLocked(collectionName, field string, docID uint32, tokens []string) {
	fieldIndex, ok := db.textIndex[collectionName][field]
	if !ok {
		return
	}
	stats := db.textIndexStats[collectionName][field]

	seen := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}

		list := fieldIndex[token]
		for i, entry := range list {
			if entry.DocID == docID {
				fieldIndex[token] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(fieldIndex[token]) == 0 {
			delete(fieldIndex, token)
		}
	}

	if stats != nil {
		if _, exists := stats.DocLengths[docID]; exists {
			delete(stats.DocLengths, docID)
			stats.TotalDocs--
		}
	}
}

// recalcAvgFieldLengthsLocked refreshes the average field length statistic
// BM25 depends on.
func (db *DB) recalcAvgFieldLengthsLocked(collectionName string) {
	for _, fieldStats := range db.textIndexStats[collectionName] {
		var totalLength int
		for _, length := range fieldStats.DocLengths {
			totalLength += length
		}
		if fieldStats.TotalDocs > 0 {
			fieldStats.AvgFieldLength = float64(totalLength) / float64(fieldStats.TotalDocs)
		} else {
			fieldStats.AvgFieldLength = 0
		}
	}
}

// --- Metadata filters ---

// FindIDsByFilter acts as a query planner for metadata filters. It supports
// AND and OR logic, with OR at lower precedence: the filter is first split
// by OR, and each block is evaluated as an AND of its sub-filters.
func (db *DB) FindIDsByFilter(collectionName string, filter string) (map[uint32]struct{}, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if _, err := db.collectionLocked(collectionName); err != nil {
		return nil, err
	}

	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, fmt.Errorf("empty filter")
	}

	reOr := regexp.MustCompile(`(?i)\s+OR\s+`)
	reAnd := regexp.MustCompile(`(?i)\s+AND\s+`)

	finalIDSet := make(map[uint32]struct{})

	for _, orBlock := range reOr.Split(filter, -1) {
		orBlock = strings.TrimSpace(orBlock)
		if orBlock == "" {
			continue
		}

		var blockIDSet map[uint32]struct{}
		isFirst := true

		for _, subFilter := range reAnd.Split(orBlock, -1) {
			subFilter = strings.TrimSpace(subFilter)
			if subFilter == "" {
				continue
			}

			currentIDSet, err := db.evaluateBooleanFilter(collectionName, subFilter)
			if err != nil {
				return nil, fmt.Errorf("error in filter '%s': %w", subFilter, err)
			}

			if isFirst {
				blockIDSet = make(map[uint32]struct{}, len(currentIDSet))
				for id := range currentIDSet {
					blockIDSet[id] = struct{}{}
				}
				isFirst = false
			} else {
				blockIDSet = intersectSets(blockIDSet, currentIDSet)
			}

			if len(blockIDSet) == 0 {
				break
			}
		}

		finalIDSet = unionSets(finalIDSet, blockIDSet)
	}

	return finalIDSet, nil
}

// containsRegex parses the CONTAINS(field, 'text') clause.
var containsRegex = regexp.MustCompile(`(?i)^CONTAINS\s*\(\s*(\w+)\s*,\s*['"](.+?)['"]\s*\)$`)

// evaluateBooleanFilter evaluates a single expression like "price >= 10",
// "category = rules" or "CONTAINS(topic, 'tour')", returning the set of
// matching entry IDs. The caller must hold at least a read lock on db.mu.
func (db *DB) evaluateBooleanFilter(collectionName string, filter string) (map[uint32]struct{}, error) {
	filter = strings.TrimSpace(filter)
	idSet := make(map[uint32]struct{})

	// CONTAINS does a case-insensitive substring scan over the indexed
	// string values of a key.
	if m := containsRegex.FindStringSubmatch(filter); m != nil {
		key, needle := m[1], strings.ToLower(m[2])
		valMap, ok := db.invertedIndex[collectionName][key]
		if !ok {
			return idSet, nil
		}
		for value, ids := range valMap {
			if strings.Contains(strings.ToLower(value), needle) {
				for id := range ids {
					idSet[id] = struct{}{}
				}
			}
		}
		return idSet, nil
	}

	// Find the operator. Two-character operators first so "<=" is not
	// misread as "<".
	var op string
	opIndex := -1
	for _, operator := range []string{"<=", ">=", "=", "<", ">"} {
		if idx := strings.Index(filter, operator); idx != -1 {
			op = operator
			opIndex = idx
			break
		}
	}
	if opIndex == -1 {
		return nil, fmt.Errorf("invalid filter format, operator not found (use =, <, >, <=, >=, CONTAINS)")
	}

	key := strings.TrimSpace(filter[:opIndex])
	valueStr := trimQuotes(strings.TrimSpace(filter[opIndex+len(op):]))

	indexBTree := db.bTreeIndex[collectionName]
	indexInv := db.invertedIndex[collectionName]

	switch op {
	case "=":
		// Numbers go through the B-Tree; anything else, or a key with no
		// numeric index, falls back to the inverted index.
		if numValue, err := strconv.ParseFloat(valueStr, 64); err == nil {
			if tree, ok := indexBTree[key]; ok {
				pivot := BTreeItem{Value: numValue}
				tree.Ascend(pivot, func(item BTreeItem) bool {
					if item.Value != numValue {
						return false
					}
					idSet[item.EntryID] = struct{}{}
					return true
				})
				return idSet, nil
			}
		}

		keyMetadata, ok := indexInv[key]
		if !ok {
			return idSet, nil
		}
		valSet, ok := keyMetadata[valueStr]
		if !ok {
			return idSet, nil
		}
		for id := range valSet {
			idSet[id] = struct{}{}
		}
		return idSet, nil

	case "<", "<=", ">", ">=":
		numValue, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return nil, fmt.Errorf("value for operator '%s' must be numeric: '%s'", op, valueStr)
		}
		tree, ok := indexBTree[key]
		if !ok {
			return idSet, nil
		}

		switch op {
		case "<":
			tree.Ascend(BTreeItem{Value: math.Inf(-1)}, func(item BTreeItem) bool {
				if item.Value >= numValue {
					return false
				}
				idSet[item.EntryID] = struct{}{}
				return true
			})
		case "<=":
			tree.Ascend(BTreeItem{Value: math.Inf(-1)}, func(item BTreeItem) bool {
				if item.Value > numValue {
					return false
				}
				idSet[item.EntryID] = struct{}{}
				return true
			})
		case ">":
			tree.Descend(BTreeItem{Value: math.Inf(+1)}, func(item BTreeItem) bool {
				if item.Value <= numValue {
					return false
				}
				idSet[item.EntryID] = struct{}{}
				return true
			})
		case ">=":
			tree.Descend(BTreeItem{Value: math.Inf(+1)}, func(item BTreeItem) bool {
				if item.Value < numValue {
					return false
				}
				idSet[item.EntryID] = struct{}{}
				return true
			})
		}
		return idSet, nil

	default:
		return nil, fmt.Errorf("operator '%s' not supported", op)
	}
}

// trimQuotes strips one layer of matching single or double quotes.
func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// intersectSets calculates the intersection of two sets (a ∩ b).
func intersectSets(a, b map[uint32]struct{}) map[uint32]struct{} {
	if a == nil || b == nil {
		return make(map[uint32]struct{})
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	res := make(map[uint32]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			res[id] = struct{}{}
		}
	}
	return res
}

// unionSets calculates the union of two sets (a ∪ b).
func unionSets(a, b map[uint32]struct{}) map[uint32]struct{} {
	res := make(map[uint32]struct{}, len(a)+len(b))
	for id := range a {
		res[id] = struct{}{}
	}
	for id := range b {
		res[id] = struct{}{}
	}
	return res
}

// btreeItemLess sorts items by value, with the entry ID as tie-breaker so
// equal values stay distinct in the tree.
func btreeItemLess(a, b BTreeItem) bool {
	if a.Value < b.Value {
		return true
	}
	if a.Value > b.Value {
		return false
	}
	return a.EntryID < b.EntryID
}

// --- BM25 text search ---

// Standard parameters for the BM25 algorithm.
const (
	bm25k1 = 1.2
	bm25b  = 0.75
)

// TextSearch runs a BM25-ranked search over one text field of a collection
// (FieldQuestion or FieldAnswer). Results are sorted by descending score;
// ties break on ascending entry ID.
func (db *DB) TextSearch(collectionName, field, queryText string) ([]types.SearchResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	col, err := db.collectionLocked(collectionName)
	if err != nil {
		return nil, err
	}

	queryTokens := col.analyzer.Analyze(queryText)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	stats, ok := db.textIndexStats[collectionName][field]
	if !ok || stats.TotalDocs == 0 {
		return nil, nil
	}
	fieldIndex, ok := db.textIndex[collectionName][field]
	if !ok {
		return nil, nil
	}

	// Candidate set: union of the posting lists of every query token.
	candidateDocs := make(map[uint32]map[string]int) // docID -> token -> tf
	for _, token := range queryTokens {
		for _, entry := range fieldIndex[token] {
			if _, ok := candidateDocs[entry.DocID]; !ok {
				candidateDocs[entry.DocID] = make(map[string]int)
			}
			candidateDocs[entry.DocID][token] = entry.TermFrequency
		}
	}

	results := make([]types.SearchResult, 0, len(candidateDocs))
	for docID, termFreqs := range candidateDocs {
		score := 0.0
		for _, token := range queryTokens {
			score += bm25TermScore(docID, termFreqs[token], stats, fieldIndex[token])
		}
		results = append(results, types.SearchResult{DocID: docID, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	return results, nil
}

// bm25TermScore computes the BM25 relevance contribution of a single term
// for a single document.
func bm25TermScore(docID uint32, tf int, stats *TextIndexStats, list PostingList) float64 {
	if tf == 0 || len(list) == 0 {
		return 0.0
	}

	docFreq := len(list)
	idf := math.Log(1 + (float64(stats.TotalDocs)-float64(docFreq)+0.5)/(float64(docFreq)+0.5))

	docLen := float64(stats.DocLengths[docID])
	avgLen := stats.AvgFieldLength

	tfFloat := float64(tf)
	numerator := tfFloat * (bm25k1 + 1)
	denominator := tfFloat + bm25k1*(1-bm25b+bm25b*(docLen/avgLen))

	return idf * (numerator / denominator)
}

// --- KV iteration (AOF rewrite support) ---

// KVPair is a struct for returning key-value pairs.
type KVPair struct {
	Key   string
	Value []byte
}

// IterateKV iterates over all key-value pairs under the KV store's read lock.
func (db *DB) IterateKV(callback func(pair KVPair)) {
	db.kvStore.mu.RLock()
	defer db.kvStore.mu.RUnlock()

	for key, value := range db.kvStore.data {
		callback(KVPair{Key: key, Value: value})
	}
}

// IterateKVUnlocked iterates without acquiring locks. The caller is
// responsible for ensuring thread safety.
func (db *DB) IterateKVUnlocked(callback func(pair KVPair)) {
	for key, value := range db.kvStore.data {
		callback(KVPair{Key: key, Value: value})
	}
}

// --- Explicit locking ---

// RLock acquires a read lock on the store.
func (db *DB) RLock() { db.mu.RLock() }

// RUnlock releases the read lock.
func (db *DB) RUnlock() { db.mu.RUnlock() }

// Lock acquires a write lock on the store.
func (db *DB) Lock() { db.mu.Lock() }

// Unlock releases the write lock.
func (db *DB) Unlock() { db.mu.Unlock() }

// --- Snapshotting ---

func init() {
	// Metadata travels as map[string]any inside gob snapshots; composite
	// JSON values need explicit registration.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Snapshot represents the complete serializable state of the database.
type Snapshot struct {
	NextID      uint32
	KVData      map[string][]byte
	Collections map[string]*CollectionSnapshot
}

// CollectionSnapshot is the serializable state of a single collection.
// Secondary indexes are derived data and get rebuilt on load.
type CollectionSnapshot struct {
	Options CollectionOptions
	Entries []Entry
	Vectors *flat.Dump
}

// WriteSnapshot serializes the current state in gob format. Read locks on
// the DB and the KV store are held for the duration of the encode, so no
// write can interleave.
func (db *DB) WriteSnapshot(w io.Writer) error {
	db.mu.RLock()
	db.kvStore.RLock()
	defer func() {
		db.kvStore.RUnlock()
		db.mu.RUnlock()
	}()

	snapshot := Snapshot{
		NextID:      db.nextID.Load(),
		KVData:      db.kvStore.data,
		Collections: make(map[string]*CollectionSnapshot, len(db.collections)),
	}

	for name, col := range db.collections {
		entries := make([]Entry, 0, len(col.entries))
		for _, e := range col.entries {
			entries = append(entries, *e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

		snapshot.Collections[name] = &CollectionSnapshot{
			Options: col.opts,
			Entries: entries,
			Vectors: col.vectors.Dump(),
		}
	}

	if err := gob.NewEncoder(w).Encode(snapshot); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return nil
}

// LoadFromSnapshot restores the store's state from a gob snapshot, clearing
// any current state first. Secondary indexes are rebuilt from the entries.
func (db *DB) LoadFromSnapshot(r io.Reader) error {
	var snapshot Snapshot
	if err := gob.NewDecoder(r).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.kvStore.mu.Lock()
	db.kvStore.data = snapshot.KVData
	if db.kvStore.data == nil {
		db.kvStore.data = make(map[string][]byte)
	}
	db.kvStore.mu.Unlock()

	db.collections = make(map[string]*collection)
	db.invertedIndex = make(map[string]map[string]map[string]map[uint32]struct{})
	db.bTreeIndex = make(map[string]map[string]*btree.BTreeG[BTreeItem])
	db.textIndex = make(TextIndex)
	db.textIndexStats = make(map[string]map[string]*TextIndexStats)

	maxID := snapshot.NextID
	for name, colSnap := range snapshot.Collections {
		opts := colSnap.Options.withDefaults()

		analyzer, err := textanalyzer.ForLanguage(opts.Language)
		if err != nil {
			return fmt.Errorf("failed to recreate collection '%s' from snapshot: %w", name, err)
		}
		var vectors *flat.Index
		if colSnap.Vectors != nil {
			vectors, err = flat.FromDump(colSnap.Vectors)
		} else {
			vectors, err = flat.New(opts.Metric, opts.Precision)
		}
		if err != nil {
			return fmt.Errorf("failed to restore vectors for collection '%s': %w", name, err)
		}

		col := &collection{
			name:           name,
			opts:           opts,
			analyzer:       analyzer,
			entries:        make(map[uint32]*Entry, len(colSnap.Entries)),
			byNormQuestion: make(map[string]uint32, len(colSnap.Entries)),
			vectors:        vectors,
		}
		db.collections[name] = col
		db.invertedIndex[name] = make(map[string]map[string]map[uint32]struct{})
		db.bTreeIndex[name] = make(map[string]*btree.BTreeG[BTreeItem])
		db.textIndex[name] = make(map[string]map[string]PostingList)
		db.textIndexStats[name] = make(map[string]*TextIndexStats)

		for i := range colSnap.Entries {
			e := colSnap.Entries[i]
			e.NormQuestion = textmatch.Normalize(e.Question)
			stored := e
			col.entries[e.ID] = &stored
			col.byNormQuestion[e.NormQuestion] = e.ID
			db.indexEntryLocked(col, &stored)
			if e.ID > maxID {
				maxID = e.ID
			}
		}
	}

	db.nextID.Store(maxID)
	return nil
}

// --- helpers ---

func copyEntry(e *Entry) Entry {
	cp := *e
	cp.Metadata = copyMetadata(e.Metadata)
	return cp
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
