package health

import (
	"testing"
	"time"
)

func TestMarkFailStartsCooldown(t *testing.T) {
	tr := New(time.Minute)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	if !tr.IsHealthy("a") {
		t.Fatal("expected unknown handle to be healthy")
	}

	tr.MarkFail("a")
	if tr.IsHealthy("a") {
		t.Fatal("expected handle unhealthy immediately after failure")
	}

	now = now.Add(30 * time.Second)
	if tr.IsHealthy("a") {
		t.Fatal("expected handle still unhealthy mid-cooldown")
	}

	now = now.Add(31 * time.Second)
	if !tr.IsHealthy("a") {
		t.Fatal("expected handle healthy again once cooldown elapses")
	}
}

func TestMarkOKClearsRecord(t *testing.T) {
	tr := New(time.Minute)
	tr.MarkFail("a")
	tr.MarkOK("a")
	if !tr.IsHealthy("a") {
		t.Fatal("expected handle healthy after MarkOK")
	}
}

func TestFilterHealthyPreservesOrder(t *testing.T) {
	tr := New(time.Minute)
	tr.MarkFail("b")

	got := tr.FilterHealthy([]string{"a", "b", "c"})
	want := []string{"a", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
