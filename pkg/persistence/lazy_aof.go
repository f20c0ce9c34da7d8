package persistence

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LazyAOFWriter batches AOF appends instead of flushing on every write.
// Frames accumulate in memory and reach the OS on a short timer or when the
// buffer fills; an independent timer fsyncs so the on-disk log never lags by
// more than the sync interval.
//
// Durability window: a crash can lose at most ~forceSyncInterval of writes
// (1s by default). Callers that cannot afford that call Flush or Sync
// themselves after each command.
type LazyAOFWriter struct {
	underlying *AOFWriter

	// pending holds encoded frames awaiting a flush.
	pending [][]byte

	mu sync.Mutex

	flushTicker *time.Ticker
	syncTicker  *time.Ticker

	// stopCh signals the background goroutines to stop.
	stopCh  chan struct{}
	stopped bool

	flushInterval     time.Duration
	forceSyncInterval time.Duration
	maxBufferSize     int
}

// Default configuration for LazyAOFWriter. The values balance throughput
// against the crash-loss window for a chatbot-sized write load.
const (
	// DefaultLazyFlushInterval is the time between buffer flushes to the OS.
	DefaultLazyFlushInterval = 100 * time.Millisecond

	// DefaultForceSyncInterval is the time between forced fsync operations,
	// bounding data loss after a crash to about one second of writes.
	DefaultForceSyncInterval = 1 * time.Second

	// DefaultMaxBufferSize is the number of buffered frames that triggers an
	// immediate flush.
	DefaultMaxBufferSize = 1000
)

// NewLazyAOFWriter wraps an AOFWriter with the default batching parameters.
// The underlying writer must not be used directly afterwards.
func NewLazyAOFWriter(underlying *AOFWriter) *LazyAOFWriter {
	return NewLazyAOFWriterWithConfig(
		underlying,
		DefaultLazyFlushInterval,
		DefaultForceSyncInterval,
		DefaultMaxBufferSize,
	)
}

// NewLazyAOFWriterWithConfig wraps an AOFWriter with explicit batching
// parameters, for callers that want a different durability trade-off.
func NewLazyAOFWriterWithConfig(
	underlying *AOFWriter,
	flushInterval time.Duration,
	forceSyncInterval time.Duration,
	maxBufferSize int,
) *LazyAOFWriter {
	lw := &LazyAOFWriter{
		underlying:        underlying,
		pending:           make([][]byte, 0, maxBufferSize),
		flushInterval:     flushInterval,
		forceSyncInterval: forceSyncInterval,
		maxBufferSize:     maxBufferSize,
		stopCh:            make(chan struct{}),
	}

	lw.flushTicker = time.NewTicker(flushInterval)
	go lw.flushRoutine()

	lw.syncTicker = time.NewTicker(forceSyncInterval)
	go lw.syncRoutine()

	slog.Info("LazyAOFWriter initialized",
		"flush_interval", flushInterval,
		"sync_interval", forceSyncInterval,
		"max_buffer_size", maxBufferSize,
	)

	return lw
}

// Write queues an encoded frame for the next flush and returns immediately.
// A full buffer triggers a flush in the background.
func (lw *LazyAOFWriter) Write(data []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.stopped {
		return fmt.Errorf("cannot write to closed LazyAOFWriter")
	}

	lw.pending = append(lw.pending, data)

	if len(lw.pending) >= lw.maxBufferSize {
		go lw.Flush()
	}

	return nil
}

// Flush writes all buffered frames through to the OS. It blocks until the
// buffer is drained; the data may still sit in the OS page cache (use Sync
// for disk durability).
func (lw *LazyAOFWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	return lw.flushUnlocked()
}

// flushUnlocked drains the buffer. Caller must hold the mutex.
func (lw *LazyAOFWriter) flushUnlocked() error {
	if len(lw.pending) == 0 {
		return nil
	}

	for _, data := range lw.pending {
		if err := lw.underlying.Write(data); err != nil {
			return fmt.Errorf("failed to write to AOF: %w", err)
		}
	}

	if err := lw.underlying.Flush(); err != nil {
		return fmt.Errorf("failed to flush AOF buffer: %w", err)
	}

	lw.pending = lw.pending[:0]

	return nil
}

// Sync drains the buffer and fsyncs the underlying file.
func (lw *LazyAOFWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}

	return lw.underlying.Sync()
}

// Close stops the background routines, drains the buffer, and closes the
// file. No writes are accepted afterwards.
func (lw *LazyAOFWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return fmt.Errorf("LazyAOFWriter already closed")
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.flushTicker.Stop()
	lw.syncTicker.Stop()

	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		// Still close the file; the flush error is the one worth surfacing
		// in logs.
		slog.Error("Failed to flush during Close", "error", err)
	}

	return lw.underlying.Close()
}

// Path returns the file path of the underlying AOF writer.
func (lw *LazyAOFWriter) Path() string {
	return lw.underlying.Path()
}

// File returns the underlying OS file (read-only access recommended).
func (lw *LazyAOFWriter) File() *os.File {
	return lw.underlying.File()
}

// Truncate drains the buffer and clears the file content.
func (lw *LazyAOFWriter) Truncate() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}

	return lw.underlying.Truncate()
}

// ReplaceWith drains the buffer, then atomically swaps the AOF file for the
// one at newFilePath. Used at the end of AOF rewriting.
func (lw *LazyAOFWriter) ReplaceWith(newFilePath string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushUnlocked(); err != nil {
		return err
	}

	return lw.underlying.ReplaceWith(newFilePath)
}

func (lw *LazyAOFWriter) flushRoutine() {
	for {
		select {
		case <-lw.flushTicker.C:
			if err := lw.Flush(); err != nil {
				slog.Error("Periodic flush failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}

// syncRoutine forces fsync on a timer so durability does not depend on the
// write rate.
func (lw *LazyAOFWriter) syncRoutine() {
	for {
		select {
		case <-lw.syncTicker.C:
			if err := lw.Sync(); err != nil {
				slog.Error("Periodic sync failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}
