package engine

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestCacheKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		k1 := CacheKey("transcript", "transcription_a.txt")
		k2 := CacheKey("transcript", "transcription_a.txt")
		if k1 != k2 {
			t.Errorf("CacheKey not deterministic: %q != %q", k1, k2)
		}
	})

	t.Run("different inputs differ", func(t *testing.T) {
		k1 := CacheKey("transcript", "a.txt")
		k2 := CacheKey("transcript", "b.txt")
		if k1 == k2 {
			t.Errorf("different inputs produced same key: %q", k1)
		}
	})

	t.Run("has prefix", func(t *testing.T) {
		k := CacheKey("test")
		if k[:3] != "gt:" {
			t.Errorf("expected gt: prefix, got %q", k[:3])
		}
	})
}

func TestCacheGetSet(t *testing.T) {
	c := NewTieredCache("", time.Minute, 100, 5*time.Minute)
	defer c.Close()

	ctx := context.Background()
	key := CacheKey("test", "round-trip")

	if _, ok := c.Get(ctx, key); ok {
		t.Error("expected cache miss on empty cache")
	}

	c.Set(ctx, key, []byte("hello"))

	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected cache hit after set")
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestCacheExpiration(t *testing.T) {
	c := NewTieredCache("", time.Millisecond, 100, 5*time.Minute)
	defer c.Close()

	ctx := context.Background()
	key := CacheKey("test", "expiry")

	c.Set(ctx, key, []byte("temp"))
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get(ctx, key); ok {
		t.Error("expected cache miss after TTL expiry")
	}
}

func TestCacheEviction(t *testing.T) {
	c := NewTieredCache("", time.Minute, 3, 5*time.Minute)
	defer c.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		c.Set(ctx, CacheKey("evict", fmt.Sprint(i)), []byte{byte(i)})
		time.Sleep(time.Millisecond)
	}

	count := 0
	c.l1.Range(func(_, _ any) bool {
		count++
		return true
	})
	if count > 3 {
		t.Errorf("expected at most 3 entries, got %d", count)
	}
	if _, ok := c.Get(ctx, CacheKey("evict", "4")); !ok {
		t.Error("newest entry was evicted")
	}
}

func TestCacheNilSafe(t *testing.T) {
	var c *TieredCache
	c.Set(context.Background(), "k", []byte("v"))
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("nil cache reported a hit")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil cache: %v", err)
	}
}

func TestCacheUnreachableRedis(t *testing.T) {
	c := NewTieredCache("redis://127.0.0.1:1/0", time.Minute, 10, time.Minute)
	defer c.Close()
	if c.rdb != nil {
		t.Fatal("expected L2 disabled for unreachable redis")
	}
	c.Set(context.Background(), "k", []byte("v"))
	if _, ok := c.Get(context.Background(), "k"); !ok {
		t.Error("L1 should still work without redis")
	}
}
