// Package knowledge ingests documents into the QA store. Files are
// loaded by format, split into chunks, and stored as entries whose
// question is the chunk's heading or first sentence. A fingerprint per
// source file is kept in the engine state so unchanged files are
// skipped on later runs.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sanonone/varanus/pkg/metrics"
)

// Store is the slice of the engine the pipeline needs: entry writes
// and the KV state that remembers which files were already ingested.
type Store interface {
	QAAdd(collection, question, answer string, metadata map[string]any) (uint32, error)
	QADelete(collection string, id uint32) (bool, error)
	StateGet(key string) ([]byte, bool)
	StateSet(key string, value []byte) error
}

// Options configure a Pipeline.
type Options struct {
	// Collection receives the ingested entries.
	Collection string
	// ChunkSize and Overlap control the splitter, in runes. A zero
	// ChunkSize takes the package default; a zero Overlap disables
	// the carry between chunks.
	ChunkSize int
	Overlap   int
	// Progress, when set, is called after each successfully
	// ingested file with the number of entries it produced.
	Progress func(path string, added int)
}

// Result summarizes one ingestion run.
type Result struct {
	Files   int `json:"files"`   // files examined
	Skipped int `json:"skipped"` // unchanged since the last run
	Failed  int `json:"failed"`  // files that could not be processed
	Chunks  int `json:"chunks"`  // entries written
}

// Document is a loaded and chunked source file.
type Document struct {
	Source string
	Title  string
	Chunks []Chunk
}

// Chunk is one piece of a document, ready to be stored as an entry.
type Chunk struct {
	Text string
	Meta map[string]any
}

// ingestState is the per-file fingerprint kept in the engine KV store.
// EntryIDs lets a re-ingest of a changed file delete the entries the
// previous version produced.
type ingestState struct {
	Hash       string    `json:"hash"`
	EntryIDs   []uint32  `json:"entry_ids"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Pipeline turns files into QA entries: load, split, derive a question
// per chunk, store.
type Pipeline struct {
	store    Store
	loader   *AutoLoader
	splitter Splitter
	opts     Options
}

func NewPipeline(store Store, opts Options) *Pipeline {
	return &Pipeline{
		store:    store,
		loader:   NewAutoLoader(),
		splitter: NewRecursiveSplitter(opts.ChunkSize, opts.Overlap),
		opts:     opts,
	}
}

// Load reads and chunks a single file without writing anything.
// IngestFile is Load plus storage.
func (p *Pipeline) Load(path string) (*Document, error) {
	sections, err := p.loader.Load(path)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Source: path,
		Title:  strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}
	for si, sec := range sections {
		if si == 0 {
			if t, ok := sec.Meta["title"].(string); ok && t != "" {
				doc.Title = t
			}
		}
		for _, text := range p.splitter.Split(sec.Text) {
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			meta := map[string]any{
				"source": path,
				"chunk":  float64(len(doc.Chunks)),
			}
			for k, v := range sec.Meta {
				meta[k] = v
			}
			doc.Chunks = append(doc.Chunks, Chunk{Text: text, Meta: meta})
		}
	}
	return doc, nil
}

// IngestFile loads one file and stores its chunks as entries. Files
// whose content hash matches the recorded fingerprint are skipped; a
// changed file first deletes the entries its previous version wrote.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (Result, error) {
	res := Result{Files: 1}
	if p.opts.Collection == "" {
		return res, errors.New("no target collection configured")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return res, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	key := stateKey(path)

	var prev ingestState
	if raw, ok := p.store.StateGet(key); ok {
		if err := json.Unmarshal(raw, &prev); err == nil && prev.Hash == hash {
			res.Skipped = 1
			return res, nil
		}
	}

	doc, err := p.Load(path)
	if err != nil {
		return res, err
	}

	// Entries from the previous version of this file are stale now.
	for _, id := range prev.EntryIDs {
		if _, err := p.store.QADelete(p.opts.Collection, id); err != nil {
			return res, fmt.Errorf("failed to drop stale entry %d: %w", id, err)
		}
	}

	st := ingestState{Hash: hash, IngestedAt: time.Now().UTC()}
	for i, chunk := range doc.Chunks {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		id, err := p.store.QAAdd(p.opts.Collection, questionFor(chunk.Text), chunk.Text, chunk.Meta)
		if err != nil {
			return res, fmt.Errorf("failed to store chunk %d of %s: %w", i, path, err)
		}
		st.EntryIDs = append(st.EntryIDs, id)
		res.Chunks++
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return res, err
	}
	if err := p.store.StateSet(key, raw); err != nil {
		return res, fmt.Errorf("failed to record ingest state: %w", err)
	}

	metrics.IngestChunksTotal.WithLabelValues(p.opts.Collection).Add(float64(res.Chunks))
	slog.Info("file ingested", "path", path, "title", doc.Title, "chunks", res.Chunks)
	if p.opts.Progress != nil {
		p.opts.Progress(path, res.Chunks)
	}
	return res, nil
}

// IngestDir walks dir and ingests every supported file. Hidden files
// and directories are skipped; a file that fails is logged and counted
// but does not stop the walk.
func (p *Pipeline) IngestDir(ctx context.Context, dir string) (Result, error) {
	var total Result
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") || !p.loader.Supports(path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res, ferr := p.IngestFile(ctx, path)
		total.Files += res.Files
		total.Skipped += res.Skipped
		total.Chunks += res.Chunks
		if ferr != nil {
			if errors.Is(ferr, context.Canceled) || errors.Is(ferr, context.DeadlineExceeded) {
				return ferr
			}
			total.Failed++
			slog.Error("could not ingest file", "path", path, "error", ferr)
		}
		return nil
	})
	return total, err
}

// Ingest processes a path that may be a file or a directory.
func (p *Pipeline) Ingest(ctx context.Context, path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, err
	}
	if info.IsDir() {
		return p.IngestDir(ctx, path)
	}
	return p.IngestFile(ctx, path)
}

func stateKey(path string) string {
	return "ingest:" + filepath.ToSlash(filepath.Clean(path))
}

// questionMaxRunes caps derived questions at roughly the length of a
// long spoken sentence.
const questionMaxRunes = 120

// questionFor derives the entry question from a chunk: its first line
// when short enough to read as a heading, otherwise the first
// sentence, otherwise a truncated prefix.
func questionFor(text string) string {
	t := strings.TrimSpace(text)
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		line := strings.TrimSpace(t[:i])
		if line != "" && utf8.RuneCountInString(line) <= questionMaxRunes {
			return line
		}
	}
	for i, r := range t {
		if r == '.' || r == '?' || r == '!' {
			s := strings.TrimSpace(t[:i+1])
			if utf8.RuneCountInString(s) <= questionMaxRunes {
				return s
			}
			break
		}
	}
	runes := []rune(t)
	if len(runes) <= questionMaxRunes {
		return t
	}
	return string(runes[:questionMaxRunes])
}
