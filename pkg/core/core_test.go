package core

import (
	"bytes"
	"math"
	"sort"
	"testing"

	"github.com/sanonone/varanus/pkg/core/distance"
	"github.com/sanonone/varanus/pkg/core/textmatch"
)

func TestCreateCollection(t *testing.T) {
	db := NewDB()

	if err := db.CreateCollection("faq", CollectionOptions{}); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}

	// Re-creating with identical (defaulted) options must be a no-op.
	if err := db.CreateCollection("faq", CollectionOptions{}); err != nil {
		t.Errorf("idempotent re-create returned error: %v", err)
	}
	if err := db.CreateCollection("faq", CollectionOptions{Language: "english", Metric: distance.Cosine, Precision: distance.Float32}); err != nil {
		t.Errorf("re-create with explicit defaults returned error: %v", err)
	}

	// Different options on an existing name must fail.
	if err := db.CreateCollection("faq", CollectionOptions{Language: "indonesian"}); err == nil {
		t.Error("expected error re-creating collection with different options")
	}

	if err := db.CreateCollection("", CollectionOptions{}); err == nil {
		t.Error("expected error for empty collection name")
	}
	if err := db.CreateCollection("bad-lang", CollectionOptions{Language: "klingon"}); err == nil {
		t.Error("expected error for unknown language")
	}
	if err := db.CreateCollection("bad-metric", CollectionOptions{Metric: "chebyshev"}); err == nil {
		t.Error("expected error for unknown metric")
	}

	if !db.HasCollection("faq") {
		t.Error("HasCollection(faq) = false after create")
	}
	if db.HasCollection("bad-lang") {
		t.Error("failed create must not leave a collection behind")
	}

	info, err := db.CollectionInfoFor("faq")
	if err != nil {
		t.Fatalf("CollectionInfoFor failed: %v", err)
	}
	if info.Language != "english" || info.Metric != distance.Cosine || info.Precision != distance.Float32 {
		t.Errorf("defaults not applied: %+v", info)
	}
}

func TestAddEntryAndLookup(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple"})

	id := db.NextID()
	_, _, err := db.AddEntry("faq", Entry{
		ID:       id,
		Question: "  What TIME do tours start? ",
		Answer:   "Tours start at 8 AM.",
		Metadata: map[string]any{"category": "schedule"},
	})
	if err != nil {
		t.Fatalf("AddEntry failed: %v", err)
	}

	// Lookup by ID.
	e, found, err := db.GetEntry("faq", id)
	if err != nil || !found {
		t.Fatalf("GetEntry(%d) = found=%v, err=%v", id, found, err)
	}
	if e.Answer != "Tours start at 8 AM." {
		t.Errorf("unexpected answer: %q", e.Answer)
	}

	// NormQuestion is recomputed on insert, so the exact-hit lookup works
	// for any casing or spacing of the same question.
	norm := textmatch.Normalize("what time do tours START")
	e2, found, err := db.GetEntryByQuestion("faq", norm)
	if err != nil || !found {
		t.Fatalf("GetEntryByQuestion(%q) = found=%v, err=%v", norm, found, err)
	}
	if e2.ID != id {
		t.Errorf("exact hit returned ID %d, want %d", e2.ID, id)
	}

	// Zero IDs are reserved.
	if _, _, err := db.AddEntry("faq", Entry{Question: "q", Answer: "a"}); err == nil {
		t.Error("expected error for zero entry ID")
	}
	if _, _, err := db.AddEntry("nope", Entry{ID: 1, Question: "q", Answer: "a"}); err == nil {
		t.Error("expected error for missing collection")
	}
}

func TestAddEntryReplacesSameQuestion(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple", Metric: distance.Euclidean})

	oldID := db.NextID()
	if _, _, err := db.AddEntry("faq", Entry{
		ID:       oldID,
		Question: "Can I bring drones?",
		Answer:   "Drones require a special permit.",
		Metadata: map[string]any{"category": "rules"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetVector("faq", oldID, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}

	// Teaching the same question again (different casing) replaces the old
	// entry instead of stacking a duplicate.
	newID := db.NextID()
	replacedID, replaced, err := db.AddEntry("faq", Entry{
		ID:       newID,
		Question: "can i bring DRONES",
		Answer:   "Drones are not allowed inside the park.",
	})
	if err != nil {
		t.Fatalf("replacing AddEntry failed: %v", err)
	}
	if !replaced || replacedID != oldID {
		t.Fatalf("replaced=%v replacedID=%d, want true/%d", replaced, replacedID, oldID)
	}

	if n, _ := db.EntryCount("faq"); n != 1 {
		t.Errorf("EntryCount = %d after replace, want 1", n)
	}
	if _, found, _ := db.GetEntry("faq", oldID); found {
		t.Error("old entry still retrievable after replace")
	}
	e, found, _ := db.GetEntryByQuestion("faq", textmatch.Normalize("Can I bring drones?"))
	if !found || e.ID != newID {
		t.Fatalf("exact hit after replace = (%+v, %v), want new entry", e, found)
	}

	// The old entry's vector and index traces must be gone too.
	if _, ok, _ := db.EntryVector("faq", oldID); ok {
		t.Error("old entry vector survived the replace")
	}
	ids, err := db.FindIDsByFilter("faq", "category = rules")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("old metadata still indexed after replace: %v", ids)
	}
	results, err := db.TextSearch("faq", FieldAnswer, "permit")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("old answer tokens still indexed after replace: %v", results)
	}
}

func TestDeleteEntry(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple"})

	id := db.NextID()
	if _, _, err := db.AddEntry("faq", Entry{ID: id, Question: "Is there wifi?", Answer: "No."}); err != nil {
		t.Fatal(err)
	}

	deleted, err := db.DeleteEntry("faq", id)
	if err != nil || !deleted {
		t.Fatalf("DeleteEntry = (%v, %v), want (true, nil)", deleted, err)
	}
	if _, found, _ := db.GetEntry("faq", id); found {
		t.Error("entry still present after delete")
	}

	// Deleting a missing ID is a harmless no-op.
	deleted, err = db.DeleteEntry("faq", id)
	if err != nil || deleted {
		t.Errorf("second DeleteEntry = (%v, %v), want (false, nil)", deleted, err)
	}

	if _, err := db.DeleteEntry("nope", 1); err == nil {
		t.Error("expected error for missing collection")
	}
}

func TestEntriesAndCandidatesSortedByID(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple"})

	// Insert out of ID order.
	for _, id := range []uint32{30, 10, 20} {
		if _, _, err := db.AddEntry("faq", Entry{ID: id, Question: keyedQuestion(id), Answer: "a"}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := db.Entries("faq", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 || entries[0].ID != 10 || entries[1].ID != 20 || entries[2].ID != 30 {
		t.Errorf("Entries not sorted by ID: %+v", entries)
	}

	// A restriction set narrows the result.
	subset, err := db.Entries("faq", map[uint32]struct{}{30: {}, 10: {}})
	if err != nil {
		t.Fatal(err)
	}
	if len(subset) != 2 || subset[0].ID != 10 || subset[1].ID != 30 {
		t.Errorf("restricted Entries wrong: %+v", subset)
	}

	cands, err := db.QuestionCandidates("faq", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 3 || cands[0].ID != 10 || cands[2].ID != 30 {
		t.Errorf("QuestionCandidates not sorted by ID: %+v", cands)
	}
	if cands[0].Text != textmatch.Normalize(keyedQuestion(10)) {
		t.Errorf("candidate text is not the normalized question: %q", cands[0].Text)
	}

	// Entry IDs replayed from a log bump the counter past them.
	if next := db.NextID(); next != 31 {
		t.Errorf("NextID after replaying ID 30 = %d, want 31", next)
	}
}

func TestVectors(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple", Metric: distance.Euclidean})

	vectors := map[uint32][]float32{1: {1, 0}, 2: {0, 1}, 3: {5, 5}}
	for id := range vectors {
		if _, _, err := db.AddEntry("faq", Entry{ID: id, Question: keyedQuestion(id), Answer: "a"}); err != nil {
			t.Fatal(err)
		}
	}
	for id, vec := range vectors {
		if err := db.SetVector("faq", id, vec); err != nil {
			t.Fatalf("SetVector(%d) failed: %v", id, err)
		}
	}

	// A vector for an entry that no longer exists is silently dropped;
	// embeddings can arrive after a delete.
	if err := db.SetVector("faq", 99, []float32{1, 1}); err != nil {
		t.Fatalf("SetVector on missing entry: %v", err)
	}
	if _, ok, _ := db.EntryVector("faq", 99); ok {
		t.Error("vector stored for a missing entry")
	}

	results, err := db.VectorSearch("faq", []float32{0.9, 0.1}, 2, nil)
	if err != nil {
		t.Fatalf("VectorSearch failed: %v", err)
	}
	if len(results) != 2 || results[0].DocID != 1 || results[1].DocID != 2 {
		t.Fatalf("unexpected search order: %+v", results)
	}

	vec, ok, err := db.EntryVector("faq", 3)
	if err != nil || !ok {
		t.Fatalf("EntryVector(3) = (%v, %v)", ok, err)
	}
	if vec[0] != 5 || vec[1] != 5 {
		t.Errorf("EntryVector(3) = %v, want [5 5]", vec)
	}

	info, _ := db.CollectionInfoFor("faq")
	if info.VectorCount != 3 || info.Dimensions != 2 {
		t.Errorf("collection info vectors=%d dims=%d, want 3/2", info.VectorCount, info.Dimensions)
	}
}

func TestTextSearchBM25(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple"})

	seed := []Entry{
		{ID: 1, Question: "what is the ferry schedule", Answer: "Ferries leave every morning."},
		{ID: 2, Question: "is there a ferry to the island today", Answer: "Yes, one per day."},
		{ID: 3, Question: "when do tours depart", Answer: "Tours depart at dawn."},
	}
	for _, e := range seed {
		if _, _, err := db.AddEntry("faq", e); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.TextSearch("faq", FieldQuestion, "ferry schedule")
	if err != nil {
		t.Fatalf("TextSearch failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (entry 3 shares no token): %+v", len(results), results)
	}
	// Entry 1 matches both query terms, entry 2 only one.
	if results[0].DocID != 1 || results[1].DocID != 2 {
		t.Errorf("ranking wrong: %+v", results)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %+v", results)
	}

	// Unknown tokens and empty queries return nothing.
	if r, _ := db.TextSearch("faq", FieldQuestion, "volcano"); len(r) != 0 {
		t.Errorf("unexpected results for unindexed token: %+v", r)
	}
	if r, _ := db.TextSearch("faq", FieldQuestion, "  !! "); r != nil {
		t.Errorf("unexpected results for empty query: %+v", r)
	}

	// Answers are a separate field.
	results, err = db.TextSearch("faq", FieldAnswer, "dawn")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != 3 {
		t.Errorf("answer-field search wrong: %+v", results)
	}
}

func TestTextSearchTieBreaksByID(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple"})

	// Same length, same term frequency: identical BM25 scores.
	if _, _, err := db.AddEntry("faq", Entry{ID: 7, Question: "ferry north", Answer: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.AddEntry("faq", Entry{ID: 4, Question: "ferry south", Answer: "b"}); err != nil {
		t.Fatal(err)
	}

	results, err := db.TextSearch("faq", FieldQuestion, "ferry")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if math.Abs(results[0].Score-results[1].Score) > 1e-12 {
		t.Fatalf("expected equal scores, got %+v", results)
	}
	if results[0].DocID != 4 || results[1].DocID != 7 {
		t.Errorf("tie not broken by ascending ID: %+v", results)
	}
}

func TestFindIDsByFilter(t *testing.T) {
	db := NewDB()
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple"})

	seed := []Entry{
		{ID: 1, Question: "q1", Answer: "a", Metadata: map[string]any{"category": "booking", "price": 150000.0}},
		{ID: 2, Question: "q2", Answer: "a", Metadata: map[string]any{"category": "booking", "price": 250000.0}},
		{ID: 3, Question: "q3", Answer: "a", Metadata: map[string]any{"category": "rules", "price": 50000.0}},
		{ID: 4, Question: "q4", Answer: "a", Metadata: map[string]any{"category": "transport", "topic": "ferry schedule"}},
	}
	for _, e := range seed {
		if _, _, err := db.AddEntry("faq", e); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter string
		want   []uint32
	}{
		{"StringEquality", "category = booking", []uint32{1, 2}},
		{"QuotedValue", `category = "rules"`, []uint32{3}},
		{"NumericEquality", "price = 50000", []uint32{3}},
		{"GreaterThan", "price > 100000", []uint32{1, 2}},
		{"LessOrEqual", "price <= 150000", []uint32{1, 3}},
		{"GreaterOrEqual", "price >= 150000", []uint32{1, 2}},
		{"And", "category = booking AND price < 200000", []uint32{1}},
		{"Or", "category = rules OR category = transport", []uint32{3, 4}},
		{"OrOfAnds", "category = booking AND price > 200000 OR category = rules", []uint32{2, 3}},
		{"Contains", "CONTAINS(topic, 'ferry')", []uint32{4}},
		{"ContainsCaseInsensitive", `contains(topic, "SCHED")`, []uint32{4}},
		{"UnknownValue", "category = cruise", nil},
		{"UnknownKey", "island = padar", nil},
		{"NumericOnStringKeyFallsBack", "category = 42", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.FindIDsByFilter("faq", tt.filter)
			if err != nil {
				t.Fatalf("FindIDsByFilter(%q) failed: %v", tt.filter, err)
			}
			assertIDSet(t, got, tt.want)
		})
	}

	if _, err := db.FindIDsByFilter("faq", "  "); err == nil {
		t.Error("expected error for empty filter")
	}
	if _, err := db.FindIDsByFilter("faq", "price @ 10"); err == nil {
		t.Error("expected error for unknown operator")
	}
	if _, err := db.FindIDsByFilter("faq", "price < abc"); err == nil {
		t.Error("expected error for non-numeric range value")
	}
	if _, err := db.FindIDsByFilter("nope", "category = booking"); err == nil {
		t.Error("expected error for missing collection")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := NewDB()

	// 1. Two collections with different configurations plus KV state.
	mustCreate(t, db, "faq", CollectionOptions{Language: "simple", Metric: distance.Euclidean})
	mustCreate(t, db, "faq_id", CollectionOptions{Language: "indonesian"})

	seed := []Entry{
		{ID: 1, Question: "what is the ferry schedule", Answer: "Every morning.", Metadata: map[string]any{"category": "transport", "price": 25000.0}},
		{ID: 2, Question: "can i bring drones", Answer: "No drones allowed."},
	}
	for _, e := range seed {
		if _, _, err := db.AddEntry("faq", e); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := db.AddEntry("faq_id", Entry{ID: 3, Question: "Apakah tiket bisa dibatalkan?", Answer: "Bisa."}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetVector("faq", 1, []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetVector("faq", 2, []float32{0, 1}); err != nil {
		t.Fatal(err)
	}
	db.GetKVStore().Set("ingest:guide.pdf", []byte("sha256:abc"))

	// 2. Snapshot to a buffer.
	var buf bytes.Buffer
	if err := db.WriteSnapshot(&buf); err != nil {
		t.Fatalf("WriteSnapshot failed: %v", err)
	}
	t.Logf("snapshot size: %d bytes", buf.Len())

	// 3. Load into a fresh DB.
	restored := NewDB()
	if err := restored.LoadFromSnapshot(&buf); err != nil {
		t.Fatalf("LoadFromSnapshot failed: %v", err)
	}

	// 4. Entries, options and KV state survive.
	if n, _ := restored.EntryCount("faq"); n != 2 {
		t.Errorf("faq entry count = %d, want 2", n)
	}
	info, err := restored.CollectionInfoFor("faq_id")
	if err != nil {
		t.Fatal(err)
	}
	if info.Language != "indonesian" || info.EntryCount != 1 {
		t.Errorf("faq_id info wrong: %+v", info)
	}
	if v, found := restored.GetKVStore().Get("ingest:guide.pdf"); !found || string(v) != "sha256:abc" {
		t.Errorf("KV state lost: %q %v", v, found)
	}

	// 5. Derived indexes are rebuilt, not serialized: exact hits, filters,
	// text search and vectors all work on the restored DB.
	if _, found, _ := restored.GetEntryByQuestion("faq", textmatch.Normalize("Can I bring DRONES?")); !found {
		t.Error("exact-hit lookup broken after restore")
	}
	ids, err := restored.FindIDsByFilter("faq", "price = 25000")
	if err != nil {
		t.Fatal(err)
	}
	assertIDSet(t, ids, []uint32{1})
	results, err := restored.TextSearch("faq", FieldQuestion, "ferry")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != 1 {
		t.Errorf("text search after restore: %+v", results)
	}
	vres, err := restored.VectorSearch("faq", []float32{0.9, 0.1}, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vres) != 1 || vres[0].DocID != 1 {
		t.Errorf("vector search after restore: %+v", vres)
	}

	// 6. The ID counter continues past every restored entry.
	if next := restored.NextID(); next != 4 {
		t.Errorf("NextID after restore = %d, want 4", next)
	}
}

// mustCreate creates a collection or fails the test.
func mustCreate(t *testing.T, db *DB, name string, opts CollectionOptions) {
	t.Helper()
	if err := db.CreateCollection(name, opts); err != nil {
		t.Fatalf("CreateCollection(%s) failed: %v", name, err)
	}
}

// keyedQuestion builds a distinct question per ID so inserts never collide on
// the normalized-question key.
func keyedQuestion(id uint32) string {
	return "question number " + string(rune('a'+id%26))
}

func assertIDSet(t *testing.T, got map[uint32]struct{}, want []uint32) {
	t.Helper()
	gotList := make([]uint32, 0, len(got))
	for id := range got {
		gotList = append(gotList, id)
	}
	sort.Slice(gotList, func(i, j int) bool { return gotList[i] < gotList[j] })
	if len(gotList) != len(want) {
		t.Fatalf("got IDs %v, want %v", gotList, want)
	}
	for i := range want {
		if gotList[i] != want[i] {
			t.Fatalf("got IDs %v, want %v", gotList, want)
		}
	}
}
