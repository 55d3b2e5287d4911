package registry

import (
	"testing"

	"github.com/cuemby/dockerizer/pkg/types"
)

func TestInsertLookupRemove(t *testing.T) {
	r := New()
	id := types.ContainerID("c1")
	c := types.NewContainer(id, types.ExecutorInfo{}, "/tmp/sandbox")

	if r.Contains(id) {
		t.Fatal("empty registry should not contain c1")
	}

	r.Insert(c)
	if !r.Contains(id) {
		t.Fatal("expected registry to contain c1 after Insert")
	}

	got, ok := r.Lookup(id)
	if !ok || got != c {
		t.Fatalf("Lookup returned (%v, %v), want (%v, true)", got, ok, c)
	}

	r.Remove(id)
	if r.Contains(id) {
		t.Fatal("expected c1 to be gone after Remove")
	}
	if _, ok := r.Lookup(id); ok {
		t.Fatal("Lookup should report ok=false after Remove")
	}
}

func TestKeys(t *testing.T) {
	r := New()
	ids := []types.ContainerID{"a", "b", "c"}
	for _, id := range ids {
		r.Insert(types.NewContainer(id, types.ExecutorInfo{}, "/tmp"))
	}

	keys := r.Keys()
	if len(keys) != len(ids) {
		t.Fatalf("got %d keys, want %d", len(keys), len(ids))
	}
	seen := make(map[types.ContainerID]bool)
	for _, k := range keys {
		seen[k] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("missing key %q", id)
		}
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	r := New()
	r.Remove("nonexistent") // must not panic
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
