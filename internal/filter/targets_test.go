package filter

import (
	"testing"
	"time"
)

func TestRegistryRegisterAndRemove(t *testing.T) {
	r := NewRegistry()

	if !r.Register("tab-1") {
		t.Error("first register should report a new target")
	}
	if r.Register("tab-1") {
		t.Error("re-register of a known target should not report new")
	}
	r.Register("tab-2")

	if r.Count() != 2 {
		t.Errorf("count = %d, want 2", r.Count())
	}

	if !r.Remove("tab-1") {
		t.Error("remove of a known target should report true")
	}
	if r.Remove("tab-1") {
		t.Error("remove of an unknown target should report false")
	}
	if r.Count() != 1 {
		t.Errorf("count after remove = %d, want 1", r.Count())
	}
}

func TestRegistryPruneStale(t *testing.T) {
	r := NewRegistry()
	r.Register("fresh")
	r.Register("stale")

	r.mu.Lock()
	r.lastSeen["stale"] = time.Now().Add(-20 * time.Minute)
	r.mu.Unlock()

	pruned := r.PruneStale(10 * time.Minute)
	if len(pruned) != 1 || pruned[0] != "stale" {
		t.Fatalf("pruned = %v, want [stale]", pruned)
	}
	if r.Count() != 1 {
		t.Errorf("count after prune = %d, want 1", r.Count())
	}

	// Re-registering a pruned target is a fresh attach
	if !r.Register("stale") {
		t.Error("re-register after prune should report a new target")
	}
}
