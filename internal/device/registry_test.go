package device

import (
	"fmt"
	"sync"
	"testing"
)

func TestAddContainsRemove(t *testing.T) {
	r := NewRegistry()

	if r.Contains("dev-1") {
		t.Fatal("empty registry contains dev-1")
	}

	r.Add(Identity{ID: "dev-1", Name: "Phone", PublicKey: "pem"})
	if !r.Contains("dev-1") {
		t.Fatal("dev-1 missing after Add")
	}

	list := r.List()
	if len(list) != 1 || list[0].ID != "dev-1" || list[0].Name != "Phone" {
		t.Fatalf("List() = %+v, want exactly dev-1/Phone", list)
	}

	if !r.Remove("dev-1") {
		t.Fatal("Remove(dev-1) = false, want true")
	}
	if r.Contains("dev-1") {
		t.Fatal("dev-1 still present after Remove")
	}
	if r.Remove("dev-1") {
		t.Fatal("second Remove(dev-1) = true, want false")
	}
}

func TestRepairUpdatesRecord(t *testing.T) {
	r := NewRegistry()
	r.Add(Identity{ID: "dev-1", Name: "Phone", PublicKey: "old"})
	r.Add(Identity{ID: "dev-1", Name: "Phone (new)", PublicKey: "new"})

	got, ok := r.Get("dev-1")
	if !ok {
		t.Fatal("dev-1 missing")
	}
	if got.Name != "Phone (new)" || got.PublicKey != "new" {
		t.Fatalf("re-pair did not update record: %+v", got)
	}
	if len(r.List()) != 1 {
		t.Fatalf("re-pair duplicated entry: %d entries", len(r.List()))
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("dev-%d", n)
			for j := 0; j < 100; j++ {
				r.Add(Identity{ID: id})
				r.Contains(id)
				r.List()
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if len(r.List()) != 0 {
		t.Fatalf("registry not empty after churn: %v", r.List())
	}
}
