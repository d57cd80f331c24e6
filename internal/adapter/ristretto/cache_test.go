package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/arbiterhq/arbiter/internal/port/cache"
)

// Compile-time interface check.
var _ cache.Cache = (*Cache)(nil)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c
}

// set stores a value and waits for ristretto's async admission buffers, so
// a following Get is deterministic.
func set(t *testing.T, c *Cache, key string, val []byte) {
	t.Helper()
	if err := c.Set(context.Background(), key, val, time.Minute); err != nil {
		t.Fatal(err)
	}
	c.c.Wait()
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	set(t, c, "audit:req-1", []byte(`{"id":"e1"}`))

	val, found, err := c.Get(ctx, "audit:req-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected hit after Set")
	}
	if string(val) != `{"id":"e1"}` {
		t.Fatalf("unexpected value %s", val)
	}
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)

	_, found, err := c.Get(context.Background(), "audit:absent")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss for absent key")
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	set(t, c, "audit:req-2", []byte("x"))
	if err := c.Delete(ctx, "audit:req-2"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "audit:req-2"); found {
		t.Fatal("expected miss after Delete")
	}

	// Deleting an absent key is not an error.
	if err := c.Delete(ctx, "audit:never"); err != nil {
		t.Fatal(err)
	}
}

func TestOverwrite(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	set(t, c, "audit:req-3", []byte("v1"))
	set(t, c, "audit:req-3", []byte("v2"))

	val, found, err := c.Get(ctx, "audit:req-3")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected hit after overwrite")
	}
	if string(val) != "v2" {
		t.Fatalf("expected v2, got %s", val)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "audit:req-4", []byte("x"), 10*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	c.c.Wait()

	time.Sleep(30 * time.Millisecond)
	if _, found, _ := c.Get(ctx, "audit:req-4"); found {
		t.Fatal("expected miss after TTL expiry")
	}
}
