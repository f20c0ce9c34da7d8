package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/core/types"
	"github.com/sanonone/varanus/pkg/engine"
)

// registerRoutes sets up the versioned REST API. Method-qualified patterns
// let the mux dispatch without a hand-rolled router.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/ask", s.handleAsk)
	mux.HandleFunc("POST /api/v1/suggest", s.handleSuggest)

	mux.HandleFunc("POST /api/v1/qa", s.handleTeach)
	mux.HandleFunc("GET /api/v1/qa", s.handleListEntries)
	mux.HandleFunc("GET /api/v1/qa/{id}", s.handleGetEntry)
	mux.HandleFunc("DELETE /api/v1/qa/{id}", s.handleDeleteEntry)

	mux.HandleFunc("GET /api/v1/collections", s.handleListCollections)
	mux.HandleFunc("POST /api/v1/collections", s.handleCreateCollection)

	mux.HandleFunc("POST /api/v1/import", s.handleImport)
	mux.HandleFunc("GET /api/v1/export", s.handleExport)
	mux.HandleFunc("POST /api/v1/ingest", s.handleIngest)

	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("POST /api/v1/system/save", s.handleSave)
	mux.HandleFunc("POST /api/v1/system/aof-rewrite", s.handleAOFRewrite)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	// Profiling endpoints stay behind the auth middleware.
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)

	// Everything else gets the JSON error envelope instead of the mux
	// default text page.
	mux.HandleFunc("/", s.handleNotFound)
}

// resolveCollection substitutes the server default when a request leaves the
// collection out.
func (s *Server) resolveCollection(name string) string {
	if name != "" {
		return name
	}
	return s.defaultCol
}

// decodeJSON decodes a request body into v. Unknown fields are rejected,
// matching the strict config decoding.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "query is required")
		return
	}

	var opts []engine.AskOption
	if req.Strategy != "" {
		opts = append(opts, engine.WithStrategy(req.Strategy))
	}
	if req.Threshold != nil {
		opts = append(opts, engine.WithThreshold(*req.Threshold))
	}

	ans, err := s.Engine.Ask(r.Context(), s.resolveCollection(req.Collection), req.Query, opts...)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, ans)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "query is required")
		return
	}

	sugs, err := s.Engine.Suggest(r.Context(), s.resolveCollection(req.Collection), req.Query, req.N)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if sugs == nil {
		sugs = []types.Suggestion{}
	}
	s.writeHTTPResponse(w, http.StatusOK, SuggestResponse{Suggestions: sugs})
}

func (s *Server) handleTeach(w http.ResponseWriter, r *http.Request) {
	var req TeachRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	id, err := s.Engine.QAAdd(s.resolveCollection(req.Collection), req.Question, req.Answer, req.Metadata)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, TeachResponse{ID: id})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseEntryID(r)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}

	collection := s.resolveCollection(r.URL.Query().Get("collection"))
	entry, found, err := s.Engine.QAGet(collection, id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !found {
		s.writeHTTPError(w, http.StatusNotFound, "entry not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parseEntryID(r)
	if err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, err.Error())
		return
	}

	collection := s.resolveCollection(r.URL.Query().Get("collection"))
	deleted, err := s.Engine.QADelete(collection, id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if !deleted {
		s.writeHTTPError(w, http.StatusNotFound, "entry not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.Engine.QAList(s.resolveCollection(q.Get("collection")), q.Get("filter"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []core.Entry{}
	}
	s.writeHTTPResponse(w, http.StatusOK, entries)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	cols := s.Engine.Collections()
	if cols == nil {
		cols = []core.CollectionInfo{}
	}
	s.writeHTTPResponse(w, http.StatusOK, cols)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CollectionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.Engine.CollectionCreate(req.Name, req.Options); err != nil {
		s.writeEngineError(w, err)
		return
	}
	// Echo the normalized options back, defaults filled in.
	info, err := s.Engine.DB.CollectionInfoFor(req.Name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, info)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	collection := s.resolveCollection(r.URL.Query().Get("collection"))
	added, err := s.Engine.ImportJSON(collection, r.Body)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, ImportResponse{Added: added})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	collection := s.resolveCollection(r.URL.Query().Get("collection"))

	// Buffer the dataset so an export error still produces a clean error
	// status instead of a truncated body.
	var buf bytes.Buffer
	if err := s.Engine.ExportJSON(collection, &buf); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "path is required")
		return
	}

	task := s.tasks.NewTask("ingest")
	go s.runIngest(task, req.Path, req.Collection)
	s.writeHTTPResponse(w, http.StatusAccepted, task.Snapshot())
}

// runIngest drives one ingest task to a terminal state.
func (s *Server) runIngest(task *Task, path, collection string) {
	task.SetStatus(TaskStatusRunning)
	task.SetProgress("ingesting " + path)

	res, err := s.ingest.Ingest(path, collection)
	if err != nil {
		task.Fail(err)
		slog.Error("ingest task failed", "task", task.ID, "path", path, "error", err)
		return
	}
	task.SetProgress(fmt.Sprintf("%d files ingested, %d skipped, %d chunks", res.Files, res.Skipped, res.Chunks))
	task.Complete(res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, found := s.tasks.GetTask(r.PathValue("id"))
	if !found {
		s.writeHTTPError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, task.Snapshot())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	task := s.tasks.NewTask("save")
	go s.runSystemTask(task, s.Engine.Save)
	s.writeHTTPResponse(w, http.StatusAccepted, task.Snapshot())
}

func (s *Server) handleAOFRewrite(w http.ResponseWriter, r *http.Request) {
	task := s.tasks.NewTask("aof-rewrite")
	go s.runSystemTask(task, s.Engine.RewriteAOF)
	s.writeHTTPResponse(w, http.StatusAccepted, task.Snapshot())
}

// runSystemTask drives a blocking engine operation to a terminal task state.
func (s *Server) runSystemTask(task *Task, op func() error) {
	task.SetStatus(TaskStatusRunning)
	if err := op(); err != nil {
		task.Fail(err)
		slog.Error("system task failed", "task", task.ID, "kind", task.Kind, "error", err)
		return
	}
	task.Complete(nil)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.Engine.Stats())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPError(w, http.StatusNotFound, "endpoint not found")
}

// --- HTTP response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}

// writeEngineError maps an engine error onto an HTTP status. The engine
// reports problems as plain errors, so the mapping keys off the message.
// The bad-request patterns run first: a malformed filter reads
// "invalid filter format, operator not found" and must not land on 404.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid filter"),
		strings.Contains(msg, "invalid dataset"),
		strings.Contains(msg, "must not be empty"),
		strings.Contains(msg, "strategy"),
		strings.Contains(msg, "embedder"):
		s.writeHTTPError(w, http.StatusBadRequest, msg)
	case strings.Contains(msg, "not found"):
		s.writeHTTPError(w, http.StatusNotFound, msg)
	case strings.Contains(msg, "already exists"):
		s.writeHTTPError(w, http.StatusConflict, msg)
	default:
		s.writeHTTPError(w, http.StatusInternalServerError, msg)
	}
}

func parseEntryID(r *http.Request) (uint32, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid entry id '%s'", raw)
	}
	return uint32(id), nil
}
