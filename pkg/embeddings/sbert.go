package embeddings

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

//go:embed scripts/sbert_worker.py
var sbertWorkerScript string

//go:embed scripts/requirements.txt
var sbertRequirements string

// DefaultSBERTModel is the sentence-transformers model used when none is
// configured. 384 dimensions, small enough to run on CPU.
const DefaultSBERTModel = "all-MiniLM-L6-v2"

// SBERTConfig configures the local sentence-transformers provider.
type SBERTConfig struct {
	// Model is the sentence-transformers model name or path.
	Model string
	// Device is passed to the worker ("cpu", "cuda", "" for auto).
	Device string
	// Workers is the number of Python subprocesses. Each loads the model, so
	// keep this small; 1 is plenty for a chatbot.
	Workers int
	// PythonPath is the interpreter to spawn, "python3" by default.
	PythonPath string
	// ScriptPath points at an existing worker script. Empty extracts the
	// embedded one into WorkDir.
	ScriptPath string
	// WorkDir is where the embedded script and requirements are extracted.
	WorkDir string
	// Normalize asks the worker for unit-length vectors.
	Normalize bool
	// StartupTimeout bounds the READY handshake. The first run may download
	// the model, so the default is generous (120s).
	StartupTimeout time.Duration
}

func (c SBERTConfig) withDefaults() SBERTConfig {
	if c.Model == "" {
		c.Model = DefaultSBERTModel
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PythonPath == "" {
		c.PythonPath = "python3"
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(os.TempDir(), "varanus-sbert")
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 120 * time.Second
	}
	return c
}

// SBERTEmbedder runs sentence-transformers in a pool of Python subprocesses,
// speaking line-delimited JSON over stdin/stdout. The binary stays
// self-contained: the worker script ships embedded and is extracted on first
// use.
type SBERTEmbedder struct {
	cfg    SBERTConfig
	script string
	dims   int

	tasks chan sbertTask
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

type sbertTask struct {
	texts  []string
	result chan sbertResult
}

type sbertResult struct {
	vectors [][]float32
	err     error
}

// NewSBERTEmbedder extracts the worker script if needed, spawns the first
// worker synchronously (so a missing interpreter or model fails fast and the
// embedding dimension is known), then brings up the rest of the pool.
func NewSBERTEmbedder(cfg SBERTConfig) (*SBERTEmbedder, error) {
	cfg = cfg.withDefaults()

	script := cfg.ScriptPath
	if script == "" {
		var err error
		script, err = extractWorkerScript(cfg.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("failed to extract sbert worker script: %w", err)
		}
	}

	s := &SBERTEmbedder{
		cfg:    cfg,
		script: script,
		tasks:  make(chan sbertTask),
		quit:   make(chan struct{}),
	}

	first, err := s.startWorker(0)
	if err != nil {
		return nil, err
	}
	s.dims = first.dims

	s.wg.Add(1)
	go s.runWorker(0, first)
	for i := 1; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go func(id int) {
			w, err := s.startWorker(id)
			if err != nil {
				slog.Error("sbert worker failed to start", "worker", id, "error", err)
				s.wg.Done()
				return
			}
			s.runWorker(id, w)
		}(i)
	}

	slog.Info("sbert embedder ready",
		"model", cfg.Model, "dims", s.dims, "workers", cfg.Workers)
	return s, nil
}

func (s *SBERTEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch hands the texts to an idle worker and waits for the vectors.
func (s *SBERTEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	task := sbertTask{texts: texts, result: make(chan sbertResult, 1)}
	select {
	case s.tasks <- task:
	case <-s.quit:
		return nil, fmt.Errorf("sbert embedder is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-task.result:
		return res.vectors, res.err
	case <-ctx.Done():
		// The worker finishes the request on its own; the buffered result
		// channel keeps it from blocking.
		return nil, ctx.Err()
	}
}

func (s *SBERTEmbedder) Dimensions() int { return s.dims }

func (s *SBERTEmbedder) Name() string { return "sbert:" + s.cfg.Model }

// Close stops the pool and kills the worker subprocesses.
func (s *SBERTEmbedder) Close() error {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
	return nil
}

// runWorker serves tasks on one subprocess. A dead subprocess is restarted
// once per failure; if the restart itself fails the worker goroutine exits.
func (s *SBERTEmbedder) runWorker(id int, w *sbertWorker) {
	defer s.wg.Done()
	defer func() { w.close() }()

	for {
		select {
		case task := <-s.tasks:
			vectors, err, alive := w.roundTrip(task.texts)
			task.result <- sbertResult{vectors: vectors, err: err}
			if alive {
				continue
			}
			slog.Warn("sbert worker died, restarting",
				"worker", id, "error", err, "stderr", w.stderr.String())
			w.close()
			nw, rerr := s.startWorker(id)
			if rerr != nil {
				slog.Error("sbert worker restart failed", "worker", id, "error", rerr)
				return
			}
			w = nw
		case <-s.quit:
			return
		}
	}
}

// sbertWorker owns one Python subprocess.
type sbertWorker struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *tailBuffer
	dims   int
}

// startWorker spawns the interpreter, sends the config line and waits for
// the READY handshake.
func (s *SBERTEmbedder) startWorker(id int) (*sbertWorker, error) {
	cmd := exec.Command(s.cfg.PythonPath, s.script)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to start %s: %w", s.cfg.PythonPath, err)
	}

	w := &sbertWorker{
		id:     id,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: stderr,
	}

	config := map[string]any{
		"model_name": s.cfg.Model,
		"device":     s.cfg.Device,
		"normalize":  s.cfg.Normalize,
	}
	if err := w.writeJSON(config); err != nil {
		w.close()
		return nil, fmt.Errorf("failed to send worker config: %w", err)
	}

	// READY handshake with a deadline. Killing the process on timeout
	// unblocks the pipe read.
	type readyMsg struct {
		Ready bool   `json:"ready"`
		Dim   int    `json:"dim"`
		Error string `json:"error"`
	}
	readyCh := make(chan error, 1)
	var ready readyMsg
	go func() {
		line, err := w.stdout.ReadBytes('\n')
		if err != nil {
			readyCh <- fmt.Errorf("worker exited before READY: %w (stderr: %s)", err, stderr.String())
			return
		}
		readyCh <- json.Unmarshal(line, &ready)
	}()

	select {
	case err := <-readyCh:
		if err != nil {
			w.close()
			return nil, err
		}
	case <-time.After(s.cfg.StartupTimeout):
		w.close()
		return nil, fmt.Errorf("sbert worker %d startup timed out after %s", id, s.cfg.StartupTimeout)
	}

	if !ready.Ready {
		w.close()
		return nil, fmt.Errorf("sbert worker %d failed to load model: %s", id, ready.Error)
	}
	if s.dims != 0 && ready.Dim != s.dims {
		w.close()
		return nil, fmt.Errorf("sbert worker %d reports dim %d, pool uses %d", id, ready.Dim, s.dims)
	}
	w.dims = ready.Dim

	slog.Debug("sbert worker ready", "worker", id, "dim", ready.Dim)
	return w, nil
}

// roundTrip sends one batch and reads the reply. alive=false means the
// subprocess is unusable and must be replaced.
func (w *sbertWorker) roundTrip(texts []string) (vectors [][]float32, err error, alive bool) {
	if err := w.writeJSON(map[string]any{"texts": texts}); err != nil {
		return nil, fmt.Errorf("sbert worker write failed: %w", err), false
	}

	line, err := w.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("sbert worker read failed: %w (stderr: %s)", err, w.stderr.String()), false
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
		Error      string      `json:"error"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		// Garbage on stdout means the protocol is out of sync.
		return nil, fmt.Errorf("sbert worker sent invalid JSON: %w", err), false
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("sbert worker error: %s", resp.Error), true
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("sbert worker returned %d embeddings for %d texts", len(resp.Embeddings), len(texts)), true
	}
	return resp.Embeddings, nil, true
}

func (w *sbertWorker) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.stdin.Write(data)
	return err
}

func (w *sbertWorker) close() {
	if w.stdin != nil {
		w.stdin.Close()
	}
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_ = w.cmd.Wait()
	}
}

// extractWorkerScript writes the embedded worker and its requirements into
// dir, skipping files that already exist so local edits survive.
func extractWorkerScript(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	script := filepath.Join(dir, "sbert_worker.py")
	if _, err := os.Stat(script); os.IsNotExist(err) {
		if err := os.WriteFile(script, []byte(sbertWorkerScript), 0755); err != nil {
			return "", err
		}
	}

	requirements := filepath.Join(dir, "requirements.txt")
	if _, err := os.Stat(requirements); os.IsNotExist(err) {
		if err := os.WriteFile(requirements, []byte(sbertRequirements), 0644); err != nil {
			return "", err
		}
	}

	return script, nil
}

// tailBuffer keeps the last max bytes written, for surfacing a subprocess's
// final stderr output in errors.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
