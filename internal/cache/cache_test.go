package cache

import (
	"testing"

	"github.com/lizzyg/toolrouter/internal/core"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func binding(handle string) (*core.Binding, *fakeConn) {
	conn := &fakeConn{}
	return &core.Binding{Handle: handle, Connection: conn}, conn
}

func TestInsertEvictsOldestOnCapacity(t *testing.T) {
	c := New(2, nil)

	bA, connA := binding("a")
	bB, _ := binding("b")
	bC, _ := binding("c")

	c.Insert("a", bA)
	c.Insert("b", bB)
	c.Insert("c", bC) // should evict "a" (least recently used)

	if c.Contains("a") {
		t.Fatal("expected a to be evicted")
	}
	if !connA.closed {
		t.Fatal("expected a's connection to be closed on eviction")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatal("expected b and c to remain cached")
	}
}

func TestGetTouchesToMRU(t *testing.T) {
	c := New(2, nil)

	bA, _ := binding("a")
	bB, _ := binding("b")
	c.Insert("a", bA)
	c.Insert("b", bB)

	// Touch a so b becomes the LRU entry.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to be present")
	}

	bC, _ := binding("c")
	c.Insert("c", bC) // should evict b, not a

	if c.Contains("b") {
		t.Fatal("expected b to be evicted after losing MRU status")
	}
	if !c.Contains("a") {
		t.Fatal("expected a to survive since it was touched")
	}
}

func TestHandlesOrderedMostRecentFirst(t *testing.T) {
	c := New(3, nil)
	bA, _ := binding("a")
	bB, _ := binding("b")
	bC, _ := binding("c")
	c.Insert("a", bA)
	c.Insert("b", bB)
	c.Insert("c", bC)

	got := c.Handles()
	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestReleaseAllClosesEveryConnection(t *testing.T) {
	c := New(2, nil)
	bA, connA := binding("a")
	bB, connB := binding("b")
	c.Insert("a", bA)
	c.Insert("b", bB)

	c.ReleaseAll()

	if !connA.closed || !connB.closed {
		t.Fatal("expected all connections closed")
	}
	if c.Len() != 0 {
		t.Fatalf("expected cache empty after ReleaseAll, got %d", c.Len())
	}
}

func TestPeekDoesNotAffectMRUOrder(t *testing.T) {
	c := New(2, nil)
	bA, _ := binding("a")
	bB, _ := binding("b")
	c.Insert("a", bA)
	c.Insert("b", bB)

	if _, ok := c.Peek("a"); !ok {
		t.Fatal("expected a to be present")
	}

	bC, _ := binding("c")
	c.Insert("c", bC) // should evict a, since Peek must not have touched it

	if c.Contains("a") {
		t.Fatal("expected a to be evicted; Peek must not move it to MRU")
	}
	if !c.Contains("b") || !c.Contains("c") {
		t.Fatal("expected b and c to remain cached")
	}
}

func TestTouchMovesHandleToMRU(t *testing.T) {
	c := New(2, nil)
	bA, _ := binding("a")
	bB, _ := binding("b")
	c.Insert("a", bA)
	c.Insert("b", bB)

	c.Touch("a")

	bC, _ := binding("c")
	c.Insert("c", bC) // should evict b, not a

	if c.Contains("b") {
		t.Fatal("expected b to be evicted after losing MRU status")
	}
	if !c.Contains("a") {
		t.Fatal("expected a to survive since it was touched")
	}
}

func TestTouchOnAbsentHandleIsNoop(t *testing.T) {
	c := New(2, nil)
	c.Touch("missing") // must not panic
	if c.Len() != 0 {
		t.Fatalf("expected cache still empty, got %d", c.Len())
	}
}

func TestEvictReturnsBindingForCallerToClose(t *testing.T) {
	c := New(2, nil)
	bA, connA := binding("a")
	c.Insert("a", bA)

	b, ok := c.Evict("a")
	if !ok {
		t.Fatal("expected a to be evictable")
	}
	if connA.closed {
		t.Fatal("Evict must not close the connection itself")
	}
	if b.Handle != "a" {
		t.Fatalf("expected evicted binding a, got %s", b.Handle)
	}
	if c.Contains("a") {
		t.Fatal("expected a removed from cache after Evict")
	}
}
