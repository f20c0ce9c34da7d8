package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sanonone/varanus/internal/server"
	"github.com/sanonone/varanus/pkg/core"
	"github.com/sanonone/varanus/pkg/engine"
)

// newTestBackend spins up a real engine plus HTTP layer on an httptest
// listener, so the client is exercised over an actual socket.
func newTestBackend(t *testing.T, authToken string) *httptest.Server {
	t.Helper()

	opts := engine.DefaultOptions(t.TempDir())
	opts.AutoSaveInterval = 0
	eng, err := engine.Open(opts)
	if err != nil {
		t.Fatalf("opening engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	if err := eng.CollectionCreate("komodo", core.CollectionOptions{}); err != nil {
		t.Fatalf("creating collection: %v", err)
	}

	cfg := &server.Config{}
	cfg.Server.AuthToken = authToken
	srv, err := server.NewServer(eng, cfg)
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientEndToEnd(t *testing.T) {
	ts := newTestBackend(t, "")
	c := New(ts.URL)

	t.Run("A - Teach and Ask", func(t *testing.T) {
		id1, err := c.Teach("komodo", "What time do the boats depart?",
			"Boats leave Labuan Bajo at 7 in the morning.", nil)
		if err != nil {
			t.Fatalf("Teach failed: %v", err)
		}
		if id1 == 0 {
			t.Error("Teach returned a zero entry ID")
		}
		if _, err := c.Teach("komodo", "Can I see Komodo dragons on Rinca island?",
			"Yes, Rinca has a large dragon population.", nil); err != nil {
			t.Fatalf("Teach failed: %v", err)
		}
		t.Log(" -> Teach OK")

		ans, err := c.Ask("komodo", "What time do the boats depart?", "", 0)
		if err != nil {
			t.Fatalf("Ask failed: %v", err)
		}
		if !ans.Matched || ans.Source != "exact" {
			t.Errorf("exact question should match exactly, got matched=%v source=%q", ans.Matched, ans.Source)
		}
		if ans.Text != "Boats leave Labuan Bajo at 7 in the morning." {
			t.Errorf("Ask returned wrong answer text: %q", ans.Text)
		}
		if ans.Collection != "komodo" {
			t.Errorf("Ask reported collection %q", ans.Collection)
		}

		ans, err = c.Ask("", "what time do boats depart", "", 0)
		if err != nil {
			t.Fatalf("Ask (paraphrase) failed: %v", err)
		}
		if !ans.Matched {
			t.Errorf("paraphrase should clear the threshold, got score %.3f", ans.Score)
		}

		ans, err = c.Ask("komodo", "how do I bake sourdough bread", "", 0)
		if err != nil {
			t.Fatalf("Ask (off-topic) failed: %v", err)
		}
		if ans.Matched {
			t.Errorf("off-topic question should not match, got %q", ans.Question)
		}
		t.Log(" -> Ask OK")

		_, err = c.Ask("atlantis", "anything", "", 0)
		if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected a 404 APIError for an unknown collection, got: %v", err)
		}
		t.Log(" -> Ask (unknown collection) OK")

		suggestions, err := c.Suggest("komodo", "komodo dragons rinca", 3)
		if err != nil {
			t.Fatalf("Suggest failed: %v", err)
		}
		if len(suggestions) == 0 {
			t.Fatal("Suggest returned no candidates")
		}
		if suggestions[0].Question != "Can I see Komodo dragons on Rinca island?" {
			t.Errorf("Suggest ranked %q first", suggestions[0].Question)
		}
		t.Log(" -> Suggest OK")
	})

	t.Run("B - Entry Lifecycle", func(t *testing.T) {
		meta := map[string]any{"category": "facilities"}
		id, err := c.Teach("komodo", "Is there a restaurant on the island?",
			"There is a small cafeteria near the ranger station.", meta)
		if err != nil {
			t.Fatalf("Teach failed: %v", err)
		}

		entry, err := c.GetEntry("komodo", id)
		if err != nil {
			t.Fatalf("GetEntry failed: %v", err)
		}
		if entry.ID != id || entry.Question != "Is there a restaurant on the island?" {
			t.Errorf("GetEntry returned incorrect data: %+v", entry)
		}
		if entry.Metadata["category"] != "facilities" {
			t.Errorf("GetEntry lost metadata: %v", entry.Metadata)
		}
		if entry.CreatedAt.IsZero() {
			t.Error("GetEntry returned a zero created_at")
		}
		t.Log(" -> GetEntry OK")

		all, err := c.ListEntries("komodo", "")
		if err != nil {
			t.Fatalf("ListEntries failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 entries, got %d", len(all))
		}

		filtered, err := c.ListEntries("komodo", "category = 'facilities'")
		if err != nil {
			t.Fatalf("ListEntries (filtered) failed: %v", err)
		}
		if len(filtered) != 1 || filtered[0].ID != id {
			t.Errorf("filter should select exactly the cafeteria entry, got %+v", filtered)
		}
		t.Log(" -> ListEntries OK")

		if err := c.DeleteEntry("komodo", id); err != nil {
			t.Fatalf("DeleteEntry failed: %v", err)
		}
		_, err = c.GetEntry("komodo", id)
		if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected a 404 APIError after delete, got: %v", err)
		}
		t.Log(" -> DeleteEntry OK")
	})

	t.Run("C - Collection Management", func(t *testing.T) {
		info, err := c.CreateCollection("docs", CollectionOptions{Language: "english"})
		if err != nil {
			t.Fatalf("CreateCollection failed: %v", err)
		}
		if info.Name != "docs" || info.Language != "english" || info.EntryCount != 0 {
			t.Errorf("CreateCollection returned incorrect info: %+v", info)
		}
		t.Log(" -> CreateCollection OK")

		infos, err := c.Collections()
		if err != nil {
			t.Fatalf("Collections failed: %v", err)
		}
		names := make(map[string]bool, len(infos))
		for _, ci := range infos {
			names[ci.Name] = true
		}
		if !names["komodo"] || !names["docs"] {
			t.Errorf("Collections did not list the created collections: %+v", infos)
		}
		t.Log(" -> Collections OK")

		_, err = c.CreateCollection("docs", CollectionOptions{Language: "italian"})
		if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusConflict {
			t.Errorf("expected a 409 APIError for conflicting options, got: %v", err)
		}
		t.Log(" -> CreateCollection (conflict) OK")
	})

	t.Run("D - Import and Export", func(t *testing.T) {
		pairs := []Pair{
			{Question: "Do I need a guide?", Answer: "Yes, a ranger guide is mandatory on all trails."},
			{Question: "Are drones allowed?", Answer: "Drone flights require a permit from the park office."},
		}
		added, err := c.Import("docs", pairs)
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		if added != 2 {
			t.Errorf("Import reported %d added, want 2", added)
		}
		t.Log(" -> Import OK")

		data, err := c.Export("docs")
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		var exported []Pair
		if err := json.Unmarshal(data, &exported); err != nil {
			t.Fatalf("Export returned invalid JSON: %v", err)
		}
		if len(exported) != 2 {
			t.Errorf("Export returned %d pairs, want 2", len(exported))
		}
		if !strings.Contains(string(data), "Do I need a guide?") {
			t.Error("Export is missing an imported question")
		}
		t.Log(" -> Export OK")
	})

	t.Run("E - Ingest and System Tasks", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "rules.txt")
		content := "Visitors must stay on marked trails at all times.\n\n" +
			"Feeding any wildlife inside the park is strictly forbidden.\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("writing test document: %v", err)
		}

		task, err := c.Ingest(path, "docs")
		if err != nil {
			t.Fatalf("Ingest failed to start task: %v", err)
		}
		if task.Kind != "ingest" {
			t.Errorf("Ingest task kind = %q", task.Kind)
		}
		if err := task.Wait(20*time.Millisecond, 5*time.Second); err != nil {
			t.Fatalf("Ingest failed while waiting for task: %v", err)
		}
		res, err := task.IngestResult()
		if err != nil {
			t.Fatalf("IngestResult failed: %v", err)
		}
		if res.Files != 1 || res.Chunks == 0 {
			t.Errorf("unexpected ingest result: %+v", res)
		}
		t.Log(" -> Ingest OK")

		task, err = c.Save()
		if err != nil {
			t.Fatalf("Save failed to start task: %v", err)
		}
		if err := task.Wait(20*time.Millisecond, 5*time.Second); err != nil {
			t.Fatalf("Save failed while waiting for task: %v", err)
		}
		t.Log(" -> Save OK")

		task, err = c.RewriteAOF()
		if err != nil {
			t.Fatalf("RewriteAOF failed to start task: %v", err)
		}
		if err := task.Wait(20*time.Millisecond, 5*time.Second); err != nil {
			t.Fatalf("RewriteAOF failed while waiting for task: %v", err)
		}
		t.Log(" -> RewriteAOF OK")

		_, err = c.Task("no-such-task")
		if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusNotFound {
			t.Errorf("expected a 404 APIError for an unknown task, got: %v", err)
		}
		t.Log(" -> Task (unknown) OK")

		stats, err := c.Stats()
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if stats.TotalEntries == 0 || len(stats.Collections) != 2 {
			t.Errorf("unexpected stats: %+v", stats)
		}
		t.Log(" -> Stats OK")

		if err := c.Health(); err != nil {
			t.Fatalf("Health failed: %v", err)
		}
		t.Log(" -> Health OK")
	})
}

func TestClientAuthentication(t *testing.T) {
	ts := newTestBackend(t, "test-secret-token")

	anonymous := New(ts.URL)
	if err := anonymous.Health(); err != nil {
		t.Fatalf("Health should not require authentication: %v", err)
	}
	_, err := anonymous.Stats()
	if apiErr, ok := err.(*APIError); !ok || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected a 401 APIError without credentials, got: %v", err)
	}

	authed := New(ts.URL, WithAPIKey("test-secret-token"), WithTimeout(5*time.Second))
	if _, err := authed.Stats(); err != nil {
		t.Fatalf("Stats with API key failed: %v", err)
	}
}

func TestTaskWithoutClient(t *testing.T) {
	task := &Task{ID: "orphan"}
	if err := task.Refresh(); err == nil {
		t.Fatal("Refresh on a detached task should fail")
	}
}
