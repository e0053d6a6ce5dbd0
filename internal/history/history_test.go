package history

import (
	"fmt"
	"testing"
	"time"
)

func TestRecentWithin(t *testing.T) {
	store := NewStore()
	now := time.Unix(1000, 0)
	store.Record("g1", "u1", now, "a")
	store.Record("g1", "u1", now.Add(500*time.Millisecond), "b")
	if count := store.RecentWithin("g1", "u1", now.Add(1*time.Second), 2*time.Second); count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
	if count := store.RecentWithin("g1", "u1", now.Add(3*time.Second), 2*time.Second); count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
	if count := store.RecentWithin("g1", "u1", now.Add(2*time.Second), 2*time.Second); count != 2 {
		t.Fatalf("boundary entries count, expected 2, got %d", count)
	}
}

func TestBoundedEviction(t *testing.T) {
	store := NewStore()
	now := time.Unix(0, 0)
	for i := 0; i < MaxTimestamps+5; i++ {
		store.Record("g1", "u1", now, fmt.Sprintf("m%d", i))
	}
	if n := store.Len("g1", "u1"); n != MaxTimestamps {
		t.Fatalf("expected %d timestamps, got %d", MaxTimestamps, n)
	}
	bodies := store.LastBodies("g1", "u1", 10)
	if len(bodies) != MaxBodies {
		t.Fatalf("expected %d bodies, got %d", MaxBodies, len(bodies))
	}
	if bodies[0] != "m20" || bodies[MaxBodies-1] != "m24" {
		t.Fatalf("unexpected body order: %v", bodies)
	}
}

func TestKeysAreIsolated(t *testing.T) {
	store := NewStore()
	now := time.Unix(0, 0)
	store.Record("g1", "u1", now, "x")
	store.Record("g2", "u1", now, "y")
	if got := store.LastBodies("g1", "u1", 5); len(got) != 1 || got[0] != "x" {
		t.Fatalf("unexpected bodies %v", got)
	}
	if got := store.LastBodies("g3", "u1", 5); got != nil {
		t.Fatalf("expected nil for unknown key, got %v", got)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  Hello WORLD \n"); got != "hello world" {
		t.Fatalf("unexpected normalized body %q", got)
	}
}
