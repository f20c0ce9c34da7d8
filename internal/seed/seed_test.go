package seed

import (
	"context"
	"testing"

	"github.com/sanonone/varanus/pkg/engine"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()

	opts := engine.DefaultOptions(t.TempDir())
	opts.AutoSaveInterval = 0
	eng, err := engine.Open(opts)
	if err != nil {
		t.Fatalf("opening engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestLoadDataset(t *testing.T) {
	pairs, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(pairs) != 22 {
		t.Fatalf("dataset has %d pairs, want 22", len(pairs))
	}
	for i, p := range pairs {
		if p.Question == "" || p.Answer == "" {
			t.Errorf("pair %d has a blank field: %+v", i, p)
		}
	}
}

func TestApplySeedsFreshCollection(t *testing.T) {
	eng := newTestEngine(t)

	added, err := Apply(eng, "komodo")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if added != 22 {
		t.Fatalf("Apply added %d pairs, want 22", added)
	}

	ans, err := eng.Ask(context.Background(), "komodo", "Do I need to book a guided ticket?")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !ans.Matched || ans.Source != "exact" {
		t.Errorf("seeded question should match exactly, got matched=%v source=%q", ans.Matched, ans.Source)
	}
}

func TestApplyLeavesPopulatedCollectionAlone(t *testing.T) {
	eng := newTestEngine(t)

	if _, err := Apply(eng, "komodo"); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}

	// Simulate an operator correction, then re-apply as a restart would.
	id, err := eng.QAAdd("komodo", "Is there a special price for children?",
		"Children under 5 enter free of charge.", nil)
	if err != nil {
		t.Fatalf("correcting answer: %v", err)
	}

	added, err := Apply(eng, "komodo")
	if err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if added != 0 {
		t.Fatalf("re-applying seeded %d pairs, want 0", added)
	}

	entry, found, err := eng.QAGet("komodo", id)
	if err != nil || !found {
		t.Fatalf("corrected entry lost: found=%v err=%v", found, err)
	}
	if entry.Answer != "Children under 5 enter free of charge." {
		t.Errorf("re-apply overwrote the correction: %q", entry.Answer)
	}
}
