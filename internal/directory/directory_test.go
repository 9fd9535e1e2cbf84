package directory

import (
	"context"
	"testing"
	"time"
)

func TestResolveFallsBackToBacking(t *testing.T) {
	back := NewMemoryBacking()
	_ = back.Publish(context.Background(), "user", "42", "silo-a")

	d, err := New(back, 0, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	siloID, ok, err := d.Resolve(context.Background(), "user", "42")
	if err != nil || !ok || siloID != "silo-a" {
		t.Fatalf("Resolve: got (%q, %v, %v)", siloID, ok, err)
	}
}

func TestResolveMissReturnsNotFound(t *testing.T) {
	back := NewMemoryBacking()
	d, _ := New(back, 0, time.Minute)

	_, ok, err := d.Resolve(context.Background(), "user", "missing")
	if err != nil || ok {
		t.Fatalf("expected miss, got (%v, %v)", ok, err)
	}
}

func TestMarkOwnedUpdatesCacheAndBacking(t *testing.T) {
	back := NewMemoryBacking()
	d, _ := New(back, 0, time.Minute)

	if err := d.MarkOwned(context.Background(), "user", "1", "silo-b"); err != nil {
		t.Fatalf("MarkOwned: %v", err)
	}

	if silo, ok := d.Peek("user", "1"); !ok || silo != "silo-b" {
		t.Fatalf("Peek: got (%q, %v)", silo, ok)
	}
	silo, ok, err := back.Lookup(context.Background(), "user", "1")
	if err != nil || !ok || silo != "silo-b" {
		t.Fatalf("backing Lookup: got (%q, %v, %v)", silo, ok, err)
	}
}

func TestInvalidateClearsCacheAndBacking(t *testing.T) {
	back := NewMemoryBacking()
	d, _ := New(back, 0, time.Minute)
	_ = d.MarkOwned(context.Background(), "user", "1", "silo-b")

	if err := d.Invalidate(context.Background(), "user", "1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	if _, ok := d.Peek("user", "1"); ok {
		t.Fatal("expected cache entry gone")
	}
	if _, ok, _ := back.Lookup(context.Background(), "user", "1"); ok {
		t.Fatal("expected backing entry gone")
	}
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	back := NewMemoryBacking()
	_ = back.Publish(context.Background(), "user", "1", "silo-a")
	d, _ := New(back, 0, 10*time.Millisecond)

	if _, ok, _ := d.Resolve(context.Background(), "user", "1"); !ok {
		t.Fatal("expected initial hit")
	}
	_ = back.Publish(context.Background(), "user", "1", "silo-c")
	time.Sleep(20 * time.Millisecond)

	siloID, ok, err := d.Resolve(context.Background(), "user", "1")
	if err != nil || !ok || siloID != "silo-c" {
		t.Fatalf("expected refreshed value silo-c, got (%q, %v, %v)", siloID, ok, err)
	}
}
