package state

import (
	"context"
	"testing"

	"github.com/meshkit/silo/internal/siloerr"
)

// Implements spec §8 scenario S3 literally.
func TestOptimisticConcurrencyScenarioS3(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()

	v1, err := d.SaveWithVersion(ctx, "a", "profile", []byte("s1"), nil)
	if err != nil || v1 != 1 {
		t.Fatalf("save s1: v=%d err=%v", v1, err)
	}

	v2, err := d.SaveWithVersion(ctx, "a", "profile", []byte("s2"), ptr(1))
	if err != nil || v2 != 2 {
		t.Fatalf("save s2: v=%d err=%v", v2, err)
	}

	_, err = d.SaveWithVersion(ctx, "a", "profile", []byte("s3"), ptr(1))
	se, ok := siloerr.As(err)
	if !ok || se.Kind != siloerr.Concurrency || *se.Expected != 1 || *se.Actual != 2 {
		t.Fatalf("expected Concurrency(1,2), got %v", err)
	}
}

func TestInsertOnlyFailsIfExists(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()
	_, _ = d.SaveWithVersion(ctx, "a", "p", []byte("x"), nil)

	_, err := d.SaveWithVersion(ctx, "a", "p", []byte("y"), nil)
	se, ok := siloerr.As(err)
	if !ok || se.Kind != siloerr.Concurrency {
		t.Fatalf("expected Concurrency on duplicate insert, got %v", err)
	}
}

func TestLoadMissingReturnsNotOK(t *testing.T) {
	d := NewMemoryDriver()
	_, ok, err := d.LoadWithVersion(context.Background(), "a", "p")
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}

func TestDeleteThenLoadMisses(t *testing.T) {
	d := NewMemoryDriver()
	ctx := context.Background()
	_, _ = d.SaveWithVersion(ctx, "a", "p", []byte("x"), nil)
	if err := d.Delete(ctx, "a", "p"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, _ := d.LoadWithVersion(ctx, "a", "p")
	if ok {
		t.Fatal("expected miss after delete")
	}
}

func ptr(v uint64) *uint64 { return &v }
