package engine

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/persistence"
)

// replayAOF re-applies every logged command on top of whatever the snapshot
// restored. Records run through the same core mutations the live operations
// use, so replayed state matches what the writer saw. No embedding provider
// runs during recovery; vectors come back from their CEMBED records.
func (e *Engine) replayAOF() (int, error) {
	return persistence.ReadAll(e.aofPath, func(payload []byte) error {
		name, args, err := persistence.ParseCommand(payload)
		if err != nil {
			return err
		}
		if err := e.applyCommand(name, args); err != nil {
			// A record that decodes but will not apply is a stray
			// from a rejected write; state converges without it.
			slog.Warn("skipping unappliable AOF record", "command", name, "error", err)
		}
		return nil
	})
}

// applyCommand applies one decoded AOF record to memory.
func (e *Engine) applyCommand(name string, args [][]byte) error {
	switch name {
	case cmdCollectionCreate:
		if len(args) != 2 {
			return fmt.Errorf("%s expects 2 args, got %d", name, len(args))
		}
		var opts core.CollectionOptions
		if err := json.Unmarshal(args[1], &opts); err != nil {
			return fmt.Errorf("invalid collection options: %w", err)
		}
		return e.DB.CreateCollection(string(args[0]), opts)

	case cmdEntryAdd:
		if len(args) != 6 {
			return fmt.Errorf("%s expects 6 args, got %d", name, len(args))
		}
		id, err := parseEntryID(args[1])
		if err != nil {
			return err
		}
		entry := core.Entry{
			ID:       id,
			Question: string(args[2]),
			Answer:   string(args[3]),
		}
		if len(args[4]) > 0 {
			if err := json.Unmarshal(args[4], &entry.Metadata); err != nil {
				return fmt.Errorf("invalid entry metadata: %w", err)
			}
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, string(args[5])); err != nil {
			return fmt.Errorf("invalid entry timestamp: %w", err)
		}
		_, _, err = e.DB.AddEntry(string(args[0]), entry)
		return err

	case cmdEntryDelete:
		if len(args) != 2 {
			return fmt.Errorf("%s expects 2 args, got %d", name, len(args))
		}
		id, err := parseEntryID(args[1])
		if err != nil {
			return err
		}
		_, err = e.DB.DeleteEntry(string(args[0]), id)
		return err

	case cmdEntryEmbed:
		if len(args) != 3 {
			return fmt.Errorf("%s expects 3 args, got %d", name, len(args))
		}
		id, err := parseEntryID(args[1])
		if err != nil {
			return err
		}
		vec, err := parseVectorFromString(string(args[2]))
		if err != nil {
			return err
		}
		return e.DB.SetVector(string(args[0]), id, vec)

	case cmdStateSet:
		if len(args) != 2 {
			return fmt.Errorf("%s expects 2 args, got %d", name, len(args))
		}
		e.DB.GetKVStore().Set(string(args[0]), args[1])
		return nil

	case cmdStateDelete:
		if len(args) != 1 {
			return fmt.Errorf("%s expects 1 arg, got %d", name, len(args))
		}
		e.DB.GetKVStore().Delete(string(args[0]))
		return nil

	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

// saveSnapshotLocked writes the snapshot atomically: temp file in the data
// directory, fsync, rename over the previous snapshot. Only after the
// rename succeeds is the AOF truncated. Caller holds adminMu.
func (e *Engine) saveSnapshotLocked() error {
	start := time.Now()
	tmpPath := e.snapPath + ".tmp"

	// Quiesce writers so the snapshot and the truncation see the same
	// state: nothing may land in the log after the snapshot cut and then
	// be discarded by the truncate.
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("could not create snapshot temp file: %w", err)
	}
	if err := e.DB.WriteSnapshot(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("could not write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, e.snapPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not move snapshot into place: %w", err)
	}

	if err := e.AOF.Truncate(); err != nil {
		return fmt.Errorf("snapshot saved but AOF truncate failed: %w", err)
	}

	atomic.StoreInt64(&e.dirtyCounter, 0)
	e.lastSave.Store(time.Now().UnixNano())
	e.aofBaseSize.Store(0)

	slog.Info("snapshot saved", "path", e.snapPath, "took", time.Since(start))
	return nil
}

// RewriteAOF compacts the log to the minimal command sequence that rebuilds
// the current state: state keys, then per collection its create, entries
// and vectors. The rewrite targets a temp file that atomically replaces the
// live log, so a crash mid-rewrite leaves the old log intact.
func (e *Engine) RewriteAOF() error {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	return e.rewriteAOFLocked()
}

func (e *Engine) rewriteAOFLocked() error {
	start := time.Now()
	slog.Info("AOF rewrite started")

	tmpPath := filepath.Join(e.opts.DataDir, "rewrite.tmp")
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("could not create rewrite temp file: %w", err)
	}
	// Stays a no-op once the rename in ReplaceWith consumed the file.
	defer os.Remove(tmpPath)

	// Writers stay quiesced from the state dump through the swap, so no
	// record lands in the old log only to vanish with it.
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	w := bufio.NewWriter(f)
	if err := e.dumpState(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := e.AOF.ReplaceWith(tmpPath); err != nil {
		return fmt.Errorf("could not swap in rewritten AOF: %w", err)
	}

	if st, err := e.AOF.File().Stat(); err == nil {
		e.aofBaseSize.Store(st.Size())
	}
	slog.Info("AOF rewrite complete", "took", time.Since(start))
	return nil
}

// dumpState emits the compact command stream for the current state. The
// caller holds writeMu exclusively, so reads here see a frozen database.
func (e *Engine) dumpState(w io.Writer) error {
	var kvErr error
	e.DB.IterateKV(func(pair core.KVPair) {
		if kvErr == nil {
			_, kvErr = w.Write(persistence.FormatCommand(cmdStateSet, []byte(pair.Key), pair.Value))
		}
	})
	if kvErr != nil {
		return kvErr
	}

	e.DB.RLock()
	defer e.DB.RUnlock()

	for _, info := range e.DB.CollectionsUnlocked() {
		optsJSON, err := json.Marshal(core.CollectionOptions{
			Language:  info.Language,
			Metric:    info.Metric,
			Precision: info.Precision,
			Embedder:  info.Embedder,
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(persistence.FormatCommand(cmdCollectionCreate, []byte(info.Name), optsJSON)); err != nil {
			return err
		}

		entries, err := e.DB.EntriesUnlocked(info.Name, nil)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			var metaJSON []byte
			if len(entry.Metadata) > 0 {
				if metaJSON, err = json.Marshal(entry.Metadata); err != nil {
					return err
				}
			}
			if _, err := w.Write(persistence.FormatCommand(cmdEntryAdd,
				[]byte(info.Name),
				formatEntryID(entry.ID),
				[]byte(entry.Question),
				[]byte(entry.Answer),
				metaJSON,
				[]byte(entry.CreatedAt.Format(time.RFC3339Nano)),
			)); err != nil {
				return err
			}

			if vec, ok, _ := e.DB.EntryVectorUnlocked(info.Name, entry.ID); ok {
				if _, err := w.Write(persistence.FormatCommand(cmdEntryEmbed,
					[]byte(info.Name),
					formatEntryID(entry.ID),
					[]byte(float32SliceToString(vec)),
				)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
