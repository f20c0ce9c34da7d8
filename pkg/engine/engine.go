// Package engine ties the in-memory QA store to its persistence layer and
// exposes the operations the REPL, the HTTP API and the MCP server are built
// on: teaching entries, answering questions, and managing snapshots.
//
// An Engine is safe for concurrent use. Every write is appended to the AOF
// before it touches memory, so an acknowledged teach survives a crash. A
// background goroutine snapshots the database once enough writes accumulate
// and rewrites the AOF when it grows past its configured ratio. Embeddings
// are computed asynchronously by a small worker pool, so teaching stays fast
// even when the embedding provider is a subprocess or a remote API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/core/distance"
	"github.com/sanonone/varanus/pkg/embeddings"
	"github.com/sanonone/varanus/pkg/llm"
	"github.com/sanonone/varanus/pkg/metrics"
	"github.com/sanonone/varanus/pkg/persistence"
)

// Matching strategies. Auto picks hybrid when the collection has a
// registered embedder and lexical otherwise.
const (
	StrategyAuto     = ""
	StrategyLexical  = "lexical"
	StrategySemantic = "semantic"
	StrategyHybrid   = "hybrid"
)

// AOF command names. Replay in recovery.go dispatches on these.
const (
	cmdCollectionCreate = "CCREATE"
	cmdEntryAdd         = "QADD"
	cmdEntryDelete      = "QDEL"
	cmdEntryEmbed       = "CEMBED"
	cmdStateSet         = "SET"
	cmdStateDelete      = "DEL"
)

const (
	embedQueueSize   = 1024
	embedWorkers     = 2
	embedMaxAttempts = 3
	embedRetryDelay  = 500 * time.Millisecond
	embedTimeout     = 2 * time.Minute

	// aofRewriteMinSize keeps the background rewrite from churning on
	// logs that are trivially small anyway.
	aofRewriteMinSize = 1 << 20
)

// MatchingOptions tunes the answer pipeline. The zero value disables
// matching entirely; start from DefaultMatchingOptions.
type MatchingOptions struct {
	// Threshold is the minimum similarity for a confident answer.
	Threshold float64 `json:"threshold" yaml:"threshold"`

	// SuggestionFloor is the minimum similarity for a near-miss to appear
	// in the "did you mean" list.
	SuggestionFloor float64 `json:"suggestion_floor" yaml:"suggestion_floor"`

	// MaxSuggestions caps the "did you mean" list.
	MaxSuggestions int `json:"max_suggestions" yaml:"max_suggestions"`

	// Alpha weighs lexical against semantic similarity during hybrid
	// fusion: fused = alpha*lexical + (1-alpha)*semantic.
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// CandidateK bounds the BM25 recall stage per field. Collections at
	// or below this size skip recall and score every entry.
	CandidateK int `json:"candidate_k" yaml:"candidate_k"`

	// Strategy forces "lexical", "semantic" or "hybrid" for every query.
	// Empty selects per collection: hybrid when an embedder is
	// registered, lexical otherwise.
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// DefaultMatchingOptions returns the tuning the stock FAQ dataset ships
// with: answer at 0.6 similarity, suggest down to 0.3, five suggestions.
func DefaultMatchingOptions() MatchingOptions {
	return MatchingOptions{
		Threshold:       0.6,
		SuggestionFloor: 0.3,
		MaxSuggestions:  5,
		Alpha:           0.5,
		CandidateK:      50,
	}
}

// Options configures an Engine. DataDir is the only required field.
type Options struct {
	// DataDir holds the AOF and snapshot files. Created if missing.
	DataDir string

	// AofFilename is the append-only log filename inside DataDir. The
	// snapshot lives next to it with a .vdb extension.
	AofFilename string

	// AutoSaveInterval and AutoSaveThreshold gate background snapshots: a
	// snapshot runs once at least AutoSaveThreshold writes accumulated
	// and AutoSaveInterval passed since the last save. A zero threshold
	// disables autosaving.
	AutoSaveInterval  time.Duration
	AutoSaveThreshold int64

	// AofRewritePercentage triggers a background log rewrite when the
	// AOF grows this percent past its size after the last rewrite. Zero
	// disables rewriting.
	AofRewritePercentage int64

	// SyncWrites flushes the AOF before acknowledging each write.
	// Teaching is rare compared to asking, so the default keeps it on.
	SyncWrites bool

	// Matching is the default tuning for Ask and Suggest; per-call
	// options can override it.
	Matching MatchingOptions
}

// DefaultOptions returns the standard configuration for a data directory.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:              dataDir,
		AofFilename:          "varanus.aof",
		AutoSaveInterval:     60 * time.Second,
		AutoSaveThreshold:    100,
		AofRewritePercentage: 100,
		SyncWrites:           true,
		Matching:             DefaultMatchingOptions(),
	}
}

// Engine is the QA database with persistence, embedding and answering glued
// together.
type Engine struct {
	DB  *core.DB
	AOF *persistence.LazyAOFWriter

	opts     Options
	aofPath  string
	snapPath string

	// aofBaseSize is the AOF size right after the last rewrite or
	// truncation; the rewrite trigger compares against it.
	aofBaseSize atomic.Int64

	// dirtyCounter counts acknowledged writes since the last snapshot.
	dirtyCounter int64
	lastSave     atomic.Int64 // unix nanos of the last snapshot

	// adminMu serializes snapshot, rewrite and import operations.
	adminMu sync.Mutex

	// writeMu orders mutating operations against snapshot and rewrite:
	// writes hold the read side across their log append and memory
	// apply, so the admin path can quiesce both with the write side and
	// never persist a state the log does not cover.
	writeMu sync.RWMutex

	mu          sync.RWMutex // guards embedders and synthesizer
	embedders   map[string]embeddings.Embedder
	synthesizer llm.Client

	embedQueue chan embedJob

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type embedJob struct {
	collection string
	id         uint32
	text       string
	attempt    int
}

// Open loads or initializes an engine in opts.DataDir: restore the latest
// snapshot if one exists, replay the AOF tail on top of it, then start the
// background maintenance loop and the embedding workers.
func Open(opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, errors.New("engine: DataDir is required")
	}
	if opts.AofFilename == "" {
		opts.AofFilename = "varanus.aof"
	}
	if opts.Matching == (MatchingOptions{}) {
		opts.Matching = DefaultMatchingOptions()
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create data directory %s: %w", opts.DataDir, err)
	}

	aofPath := filepath.Join(opts.DataDir, opts.AofFilename)
	snapPath := strings.TrimSuffix(aofPath, filepath.Ext(aofPath)) + ".vdb"

	e := &Engine{
		DB:         core.NewDB(),
		opts:       opts,
		aofPath:    aofPath,
		snapPath:   snapPath,
		embedders:  make(map[string]embeddings.Embedder),
		embedQueue: make(chan embedJob, embedQueueSize),
		closed:     make(chan struct{}),
	}

	// 1. Restore the most recent snapshot, if any.
	if f, err := os.Open(snapPath); err == nil {
		loadErr := e.DB.LoadFromSnapshot(f)
		f.Close()
		if loadErr != nil {
			return nil, fmt.Errorf("could not load snapshot %s: %w", snapPath, loadErr)
		}
		slog.Info("snapshot loaded", "path", snapPath)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// 2. Open the log for appending; creates it on first run.
	aof, err := persistence.NewAOFWriter(aofPath)
	if err != nil {
		return nil, fmt.Errorf("could not open AOF %s: %w", aofPath, err)
	}
	e.AOF = persistence.NewLazyAOFWriter(aof)

	// 3. Replay the AOF tail on top of the snapshot.
	applied, err := e.replayAOF()
	if err != nil {
		e.AOF.Close()
		return nil, err
	}
	if applied > 0 {
		slog.Info("AOF replayed", "records", applied)
	}

	if st, err := aof.File().Stat(); err == nil {
		e.aofBaseSize.Store(st.Size())
	}
	e.lastSave.Store(time.Now().UnixNano())
	e.refreshEntryGauges()

	e.wg.Add(1)
	go e.backgroundTasks()

	for i := 0; i < embedWorkers; i++ {
		e.wg.Add(1)
		go e.embedWorker()
	}

	slog.Info("engine ready",
		"data_dir", opts.DataDir,
		"collections", len(e.DB.Collections()),
		"replayed", applied,
	)
	return e, nil
}

// Close stops the background goroutines, flushes the log, and snapshots any
// state written since the last save so the next Open starts from a compact
// file. Safe to call more than once.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.wg.Wait()

		// Make the log durable first; if the final snapshot fails, the
		// AOF still covers everything.
		if ferr := e.AOF.Flush(); ferr != nil {
			err = ferr
		}

		if atomic.LoadInt64(&e.dirtyCounter) > 0 {
			e.adminMu.Lock()
			if serr := e.saveSnapshotLocked(); serr != nil {
				slog.Error("final snapshot failed", "error", serr)
				if err == nil {
					err = serr
				}
			}
			e.adminMu.Unlock()
		}

		if cerr := e.AOF.Close(); cerr != nil && err == nil {
			err = cerr
		}
		slog.Info("engine closed")
	})
	return err
}

// backgroundTasks runs the 1-second maintenance heartbeat.
func (e *Engine) backgroundTasks() {
	defer e.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.checkMaintenance()
		case <-e.closed:
			return
		}
	}
}

// checkMaintenance runs one heartbeat: autosave when enough writes piled
// up, flush the lazy AOF buffer, and rewrite the log when it outgrew its
// base size by the configured percentage.
func (e *Engine) checkMaintenance() {
	dirty := atomic.LoadInt64(&e.dirtyCounter)
	if e.opts.AutoSaveThreshold > 0 && dirty >= e.opts.AutoSaveThreshold {
		lastSave := time.Unix(0, e.lastSave.Load())
		if time.Since(lastSave) >= e.opts.AutoSaveInterval {
			slog.Info("autosave threshold reached", "dirty_ops", dirty)
			if err := e.Save(); err != nil {
				slog.Error("autosave failed", "error", err)
			}
		}
	}

	if err := e.AOF.Flush(); err != nil {
		slog.Error("periodic AOF flush failed", "error", err)
	}

	if e.opts.AofRewritePercentage > 0 {
		if st, err := e.AOF.File().Stat(); err == nil {
			base := e.aofBaseSize.Load()
			threshold := base + base*e.opts.AofRewritePercentage/100
			if threshold < aofRewriteMinSize {
				threshold = aofRewriteMinSize
			}
			if st.Size() > threshold {
				slog.Info("AOF rewrite triggered", "current_size", st.Size(), "base_size", base)
				if err := e.RewriteAOF(); err != nil {
					slog.Error("AOF rewrite failed", "error", err)
				}
			}
		}
	}
}

// SetEmbedder registers a named embedding provider. Collections reference
// providers by name, so one registration enables semantic search for every
// collection configured with it. Entries that are still missing vectors,
// for example after a crash between teach and embed, are scheduled
// immediately.
func (e *Engine) SetEmbedder(name string, emb embeddings.Embedder) {
	e.mu.Lock()
	e.embedders[name] = emb
	e.mu.Unlock()

	slog.Info("embedder registered", "name", name, "provider", emb.Name())
	e.scheduleMissingEmbeddings(name)
}

// SetSynthesizer installs an LLM client used to compose answers from near
// misses when no stored entry clears the threshold. Passing nil disables
// synthesis.
func (e *Engine) SetSynthesizer(c llm.Client) {
	e.mu.Lock()
	e.synthesizer = c
	e.mu.Unlock()
}

// Embedders returns the registered provider names, sorted.
func (e *Engine) Embedders() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.embedders))
	for name := range e.embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) embedder(name string) (embeddings.Embedder, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	emb, ok := e.embedders[name]
	return emb, ok
}

func (e *Engine) synth() llm.Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.synthesizer
}

// scheduleEmbedding queues background vectorization for an entry. The queue
// is bounded; a full queue drops the job, which a later provider
// registration or re-teach picks up again.
func (e *Engine) scheduleEmbedding(collection string, id uint32, question string) {
	select {
	case <-e.closed:
		return
	default:
	}

	select {
	case e.embedQueue <- embedJob{collection: collection, id: id, text: question}:
		metrics.EmbeddingQueueDepth.Set(float64(len(e.embedQueue)))
	default:
		slog.Warn("embedding queue full, skipping entry", "collection", collection, "id", id)
	}
}

// scheduleMissingEmbeddings enqueues every entry of collections configured
// with the given provider that has no stored vector yet.
func (e *Engine) scheduleMissingEmbeddings(provider string) {
	for _, info := range e.DB.Collections() {
		if info.Embedder != provider {
			continue
		}
		entries, err := e.DB.Entries(info.Name, nil)
		if err != nil {
			continue
		}
		queued := 0
		for _, entry := range entries {
			if _, ok, _ := e.DB.EntryVector(info.Name, entry.ID); ok {
				continue
			}
			e.scheduleEmbedding(info.Name, entry.ID, entry.Question)
			queued++
		}
		if queued > 0 {
			slog.Info("scheduled missing embeddings", "collection", info.Name, "entries", queued)
		}
	}
}

func (e *Engine) embedWorker() {
	defer e.wg.Done()

	for {
		select {
		case job := <-e.embedQueue:
			metrics.EmbeddingQueueDepth.Set(float64(len(e.embedQueue)))
			e.processEmbedJob(job)
		case <-e.closed:
			return
		}
	}
}

func (e *Engine) processEmbedJob(job embedJob) {
	info, err := e.DB.CollectionInfoFor(job.collection)
	if err != nil {
		return // collection vanished since scheduling
	}
	emb, ok := e.embedder(info.Embedder)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), embedTimeout)
	start := time.Now()
	vec, err := emb.Embed(ctx, job.text)
	cancel()

	if err != nil {
		metrics.EmbeddingFailures.WithLabelValues(emb.Name()).Inc()
		job.attempt++
		if job.attempt < embedMaxAttempts {
			slog.Warn("embedding failed, retrying",
				"collection", job.collection, "id", job.id,
				"attempt", job.attempt, "error", err)
			select {
			case <-time.After(time.Duration(job.attempt) * embedRetryDelay):
			case <-e.closed:
				return
			}
			select {
			case e.embedQueue <- job:
			default:
				slog.Warn("embedding queue full, dropping retry", "collection", job.collection, "id", job.id)
			}
		} else {
			slog.Error("embedding failed permanently",
				"collection", job.collection, "id", job.id, "error", err)
		}
		return
	}
	metrics.EmbeddingDuration.WithLabelValues(emb.Name()).Observe(time.Since(start).Seconds())

	// Cosine collections store unit vectors; the index computes the dot
	// product assuming both sides are normalized.
	if info.Metric == distance.Cosine {
		distance.Normalize(vec)
	}
	if err := e.applyVector(job.collection, job.id, vec); err != nil {
		slog.Error("could not store vector", "collection", job.collection, "id", job.id, "error", err)
	}
}

// applyVector persists and indexes a computed embedding. The entry may have
// been deleted while the job was queued; SetVector drops vectors for
// missing entries and replay does the same, so the stray record is
// harmless.
func (e *Engine) applyVector(collection string, id uint32, vec []float32) error {
	e.writeMu.RLock()
	defer e.writeMu.RUnlock()

	cmd := persistence.FormatCommand(cmdEntryEmbed,
		[]byte(collection), formatEntryID(id), []byte(float32SliceToString(vec)))
	if err := e.AOF.Write(cmd); err != nil {
		return fmt.Errorf("persistence error (AOF write failed): %w", err)
	}
	if err := e.DB.SetVector(collection, id, vec); err != nil {
		return err
	}
	if err := e.flushAcked(); err != nil {
		return err
	}
	e.markDirty()
	return nil
}

func (e *Engine) markDirty() {
	atomic.AddInt64(&e.dirtyCounter, 1)
}

// flushAcked makes an acknowledged write durable when SyncWrites is on.
func (e *Engine) flushAcked() error {
	if !e.opts.SyncWrites {
		return nil
	}
	if err := e.AOF.Flush(); err != nil {
		return fmt.Errorf("CRITICAL: persistence flush failed: %w", err)
	}
	return nil
}

func (e *Engine) refreshEntryGauge(collection string) {
	if n, err := e.DB.EntryCount(collection); err == nil {
		metrics.KBEntries.WithLabelValues(collection).Set(float64(n))
	}
}

func (e *Engine) refreshEntryGauges() {
	for _, info := range e.DB.Collections() {
		metrics.KBEntries.WithLabelValues(info.Name).Set(float64(info.EntryCount))
	}
}
