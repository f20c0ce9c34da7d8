// Package client provides a Go client for the varanus HTTP API.
//
// It offers a type-safe way to perform all major operations, including:
//   - Conversation (Ask, Suggest).
//   - Knowledge base editing (Teach, GetEntry, DeleteEntry, ListEntries).
//   - Collection management (CreateCollection, Collections).
//   - Dataset and document handling (Import, Export, Ingest).
//   - System administration (Save, RewriteAOF, Stats, Task, Health).
//
// The client handles HTTP communication, JSON serialization/deserialization, and
// standardized error handling. It deliberately mirrors the wire types instead of
// importing the server packages, so programs embedding it stay lightweight.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// --- Custom Errors ---

// APIError represents an error returned by the varanus API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// --- JSON Response Structs ---

// Answer models the reply to an Ask call.
type Answer struct {
	Text        string       `json:"text"`
	Matched     bool         `json:"matched"`
	Question    string       `json:"question,omitempty"`
	EntryID     uint32       `json:"entry_id,omitempty"`
	Score       float64      `json:"score"`
	Source      string       `json:"source"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	Collection  string       `json:"collection"`
}

// Suggestion is a near-miss question offered when nothing matched outright.
type Suggestion struct {
	EntryID  uint32  `json:"entry_id"`
	Question string  `json:"question"`
	Score    float64 `json:"score"`
}

// Entry models a stored question/answer pair.
type Entry struct {
	ID        uint32         `json:"id"`
	Question  string         `json:"question"`
	Answer    string         `json:"answer"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Pair is the dataset interchange shape accepted by Import.
type Pair struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CollectionOptions tunes a collection at creation time. Zero values let the
// server pick its defaults.
type CollectionOptions struct {
	Language  string `json:"language,omitempty"`
	Metric    string `json:"metric,omitempty"`
	Precision string `json:"precision,omitempty"`
	Embedder  string `json:"embedder,omitempty"`
}

// CollectionInfo models the information about a collection for the
// introspection APIs.
type CollectionInfo struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Metric      string `json:"metric"`
	Precision   string `json:"precision"`
	Embedder    string `json:"embedder,omitempty"`
	EntryCount  int    `json:"entry_count"`
	VectorCount int    `json:"vector_count"`
	Dimensions  int    `json:"dimensions,omitempty"`
}

// Stats is a point-in-time status report of the server.
type Stats struct {
	Collections  []CollectionInfo `json:"collections"`
	TotalEntries int              `json:"total_entries"`
	TotalVectors int              `json:"total_vectors"`
	AofSizeBytes int64            `json:"aof_size_bytes"`
	DirtyOps     int64            `json:"dirty_ops"`
	LastSave     time.Time        `json:"last_save"`
	Embedders    []string         `json:"embedders,omitempty"`
	Synthesizer  bool             `json:"synthesizer"`
	StateKeys    int              `json:"state_keys"`
}

// IngestResult summarizes a completed document ingestion.
type IngestResult struct {
	Files   int `json:"files"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	Chunks  int `json:"chunks"`
}

// Task represents an asynchronous operation on the varanus server.
type Task struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	Status          string          `json:"status"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	Error           string          `json:"error,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`

	client *Client // Reference to the client for polling.
}

// IngestResult decodes the result payload of a completed ingest task.
func (t *Task) IngestResult() (*IngestResult, error) {
	if len(t.Result) == 0 {
		return nil, fmt.Errorf("task %s has no result yet", t.ID)
	}
	var res IngestResult
	if err := json.Unmarshal(t.Result, &res); err != nil {
		return nil, fmt.Errorf("invalid JSON result for task %s: %w", t.ID, err)
	}
	return &res, nil
}

// --- Client ---

// Client is the access point for the varanus REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes a Client at construction time.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with every request. Required when
// the server runs with authentication enabled.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout overrides the default 15s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client entirely, for callers
// that need custom transports or tracing.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// New creates a client for the varanus server at baseURL,
// e.g. "http://localhost:9123".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jsonRequest is a helper that centralizes request creation, execution and
// error handling for all JSON endpoints.
func (c *Client) jsonRequest(method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	// Success with no content (e.g. DELETE).
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		// Error responses carry a JSON {"error": "..."} envelope; fall back
		// to the raw body when they do not.
		var errResp struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			message = errResp.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	return respBody, nil
}

// collectionQuery encodes the optional collection (and filter) query string
// shared by the entry and dataset endpoints.
func collectionQuery(collection, filter string) string {
	vals := url.Values{}
	if collection != "" {
		vals.Set("collection", collection)
	}
	if filter != "" {
		vals.Set("filter", filter)
	}
	if len(vals) == 0 {
		return ""
	}
	return "?" + vals.Encode()
}

// --- Conversation Methods ---

// Ask submits a question and returns the engine's answer. An empty collection
// targets the server's default collection. strategy ("lexical", "semantic",
// "hybrid") and threshold override the server defaults when non-zero.
func (c *Client) Ask(collection, query, strategy string, threshold float64) (*Answer, error) {
	payload := map[string]any{"query": query}
	if collection != "" {
		payload["collection"] = collection
	}
	if strategy != "" {
		payload["strategy"] = strategy
	}
	if threshold > 0 {
		payload["threshold"] = threshold
	}

	body, err := c.jsonRequest("POST", "/api/v1/ask", payload)
	if err != nil {
		return nil, err
	}

	var ans Answer
	if err := json.Unmarshal(body, &ans); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Ask: %w", err)
	}
	return &ans, nil
}

// Suggest returns up to n stored questions similar to query, for "did you
// mean" style prompts.
func (c *Client) Suggest(collection, query string, n int) ([]Suggestion, error) {
	payload := map[string]any{"query": query}
	if collection != "" {
		payload["collection"] = collection
	}
	if n > 0 {
		payload["n"] = n
	}

	body, err := c.jsonRequest("POST", "/api/v1/suggest", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Suggest: %w", err)
	}
	return resp.Suggestions, nil
}

// --- Knowledge Base Methods ---

// Teach stores a new question/answer pair and returns its entry ID.
func (c *Client) Teach(collection, question, answer string, metadata map[string]any) (uint32, error) {
	payload := map[string]any{
		"question": question,
		"answer":   answer,
	}
	if collection != "" {
		payload["collection"] = collection
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}

	body, err := c.jsonRequest("POST", "/api/v1/qa", payload)
	if err != nil {
		return 0, err
	}

	var resp struct {
		ID uint32 `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("invalid JSON response for Teach: %w", err)
	}
	return resp.ID, nil
}

// GetEntry retrieves a single stored pair by ID.
func (c *Client) GetEntry(collection string, id uint32) (*Entry, error) {
	endpoint := fmt.Sprintf("/api/v1/qa/%d%s", id, collectionQuery(collection, ""))
	body, err := c.jsonRequest("GET", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("invalid JSON response for GetEntry: %w", err)
	}
	return &entry, nil
}

// DeleteEntry removes a stored pair by ID.
func (c *Client) DeleteEntry(collection string, id uint32) error {
	endpoint := fmt.Sprintf("/api/v1/qa/%d%s", id, collectionQuery(collection, ""))
	_, err := c.jsonRequest("DELETE", endpoint, nil)
	return err
}

// ListEntries returns the stored pairs of a collection, optionally narrowed
// by a metadata filter expression such as "category = 'booking'".
func (c *Client) ListEntries(collection, filter string) ([]Entry, error) {
	body, err := c.jsonRequest("GET", "/api/v1/qa"+collectionQuery(collection, filter), nil)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("invalid JSON response for ListEntries: %w", err)
	}
	return entries, nil
}

// --- Collection Methods ---

// CreateCollection creates a named collection and returns its normalized
// info, defaults filled in. Recreating an existing collection with the same
// options is a no-op.
func (c *Client) CreateCollection(name string, options CollectionOptions) (*CollectionInfo, error) {
	payload := map[string]any{
		"name":    name,
		"options": options,
	}

	body, err := c.jsonRequest("POST", "/api/v1/collections", payload)
	if err != nil {
		return nil, err
	}

	var info CollectionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("invalid JSON response for CreateCollection: %w", err)
	}
	return &info, nil
}

// Collections lists every collection on the server.
func (c *Client) Collections() ([]CollectionInfo, error) {
	body, err := c.jsonRequest("GET", "/api/v1/collections", nil)
	if err != nil {
		return nil, err
	}

	var infos []CollectionInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Collections: %w", err)
	}
	return infos, nil
}

// --- Dataset Methods ---

// Import uploads question/answer pairs in bulk and returns how many were
// added.
func (c *Client) Import(collection string, pairs []Pair) (int, error) {
	body, err := c.jsonRequest("POST", "/api/v1/import"+collectionQuery(collection, ""), pairs)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Added int `json:"added"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("invalid JSON response for Import: %w", err)
	}
	return resp.Added, nil
}

// Export downloads a collection as an indented JSON dataset, the same layout
// Import accepts.
func (c *Client) Export(collection string) ([]byte, error) {
	return c.jsonRequest("GET", "/api/v1/export"+collectionQuery(collection, ""), nil)
}

// Ingest asks the server to read a document or directory from its local
// filesystem and chunk it into the collection. The work runs in the
// background; poll the returned task for completion.
func (c *Client) Ingest(path, collection string) (*Task, error) {
	payload := map[string]any{"path": path}
	if collection != "" {
		payload["collection"] = collection
	}

	body, err := c.jsonRequest("POST", "/api/v1/ingest", payload)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Ingest: %w", err)
	}
	task.client = c
	return &task, nil
}

// --- System Methods ---

// Task fetches the current state of an asynchronous operation by ID.
func (c *Client) Task(id string) (*Task, error) {
	body, err := c.jsonRequest("GET", "/api/v1/tasks/"+id, nil)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Task: %w", err)
	}
	task.client = c
	return &task, nil
}

// Save triggers a background snapshot of the knowledge base to disk.
func (c *Client) Save() (*Task, error) {
	return c.systemTask("/api/v1/system/save", "Save")
}

// RewriteAOF triggers a background compaction of the append-only file.
func (c *Client) RewriteAOF() (*Task, error) {
	return c.systemTask("/api/v1/system/aof-rewrite", "RewriteAOF")
}

func (c *Client) systemTask(endpoint, op string) (*Task, error) {
	body, err := c.jsonRequest("POST", endpoint, nil)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("invalid JSON response for %s: %w", op, err)
	}
	task.client = c
	return &task, nil
}

// Stats reports collection sizes, persistence counters and configured
// embedders.
func (c *Client) Stats() (*Stats, error) {
	body, err := c.jsonRequest("GET", "/api/v1/stats", nil)
	if err != nil {
		return nil, err
	}

	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("invalid JSON response for Stats: %w", err)
	}
	return &stats, nil
}

// Health checks the unauthenticated liveness endpoint.
func (c *Client) Health() error {
	_, err := c.jsonRequest("GET", "/healthz", nil)
	return err
}

// --- Task Polling Methods ---

// Refresh updates the task's status from the server.
func (t *Task) Refresh() error {
	if t.client == nil {
		return fmt.Errorf("task is not associated with a client")
	}

	updated, err := t.client.Task(t.ID)
	if err != nil {
		return err
	}

	t.Kind = updated.Kind
	t.Status = updated.Status
	t.ProgressMessage = updated.ProgressMessage
	t.Error = updated.Error
	t.Result = updated.Result
	return nil
}

// Wait polls the task until it completes, fails, or the timeout expires.
func (t *Task) Wait(pollInterval, timeout time.Duration) error {
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeoutTimer.C:
			return fmt.Errorf("timeout waiting for task %s to complete", t.ID)
		case <-ticker.C:
			if err := t.Refresh(); err != nil {
				return fmt.Errorf("error during task status polling: %w", err)
			}

			switch t.Status {
			case "completed":
				return nil
			case "failed":
				return fmt.Errorf("task %s failed: %s", t.ID, t.Error)
			case "running", "started":
				continue
			default:
				return fmt.Errorf("unknown task status: %s", t.Status)
			}
		}
	}
}
