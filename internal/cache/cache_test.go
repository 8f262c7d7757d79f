package cache

import (
	"testing"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/metrics"
)

func newTestCache(capacity uint64) *Sized[string, int] {
	c := New[string, int](capacity, "test", metrics.Dummy())
	c.overhead = 0
	return c
}

func TestInsertNewItem(t *testing.T) {
	c := newTestCache(100)
	c.Put("10", 10, 10)
	if v, ok := c.Get("10"); !ok || v != 10 {
		t.Fatalf("expected hit with value 10, got %v %v", v, ok)
	}
	if _, ok := c.Get("20"); ok {
		t.Fatalf("expected miss for unknown key")
	}
	c.Put("20", 20, 20)
	if v, _ := c.Get("10"); v != 10 {
		t.Fatalf("key 10 lost after inserting 20")
	}
	if v, _ := c.Get("20"); v != 20 {
		t.Fatalf("key 20 not found")
	}
	if got := c.Usage(); got != 30 {
		t.Fatalf("usage = %d, want 30", got)
	}
}

func TestInsertReplace(t *testing.T) {
	c := newTestCache(100)
	c.Put("k", 10, 10)
	if got := c.Usage(); got != 10 {
		t.Fatalf("usage = %d, want 10", got)
	}
	c.Put("k", 20, 20)
	if v, _ := c.Get("k"); v != 20 {
		t.Fatalf("replaced value not observed")
	}
	if got := c.Usage(); got != 20 {
		t.Fatalf("usage after replace = %d, want 20", got)
	}
}

func TestTooBig(t *testing.T) {
	capacity := uint64(100)
	c := newTestCache(capacity)

	c.Put("a", 10, capacity+1)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("entry larger than capacity should be dropped")
	}

	c.Put("a", 10, capacity)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("entry exactly at capacity should be kept")
	}

	c.Put("a", 10, capacity-1)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("entry under capacity should be kept")
	}
}

func TestCapacityAccounting(t *testing.T) {
	c := newTestCache(300)
	if c.Capacity() != 300 {
		t.Fatalf("capacity = %d, want 300", c.Capacity())
	}
	if c.Usage() != 0 {
		t.Fatalf("initial usage = %d, want 0", c.Usage())
	}
	c.Put("key1", 10, 100)
	if c.Usage() != 100 {
		t.Fatalf("usage = %d, want 100", c.Usage())
	}

	c.Put("key1", 10, 150)
	if c.Usage() != 150 {
		t.Fatalf("usage after replace = %d, want 150", c.Usage())
	}

	c.Put("key2", 10, 60)
	if c.Usage() != 210 {
		t.Fatalf("usage = %d, want 210", c.Usage())
	}

	// To make space for key3, both previous entries must be evicted.
	c.Put("key3", 10, 250)
	if c.Usage() != 250 {
		t.Fatalf("usage = %d, want 250", c.Usage())
	}
}

func countHits(c *Sized[string, int], keys []string) int {
	hits := 0
	for _, k := range keys {
		if _, ok := c.Get(k); ok {
			hits++
		}
	}
	return hits
}

func TestEvict(t *testing.T) {
	capacity := uint64(300)
	c := newTestCache(capacity)

	c.Put("key1", 1, 100)
	c.Put("key2", 2, 100)
	c.Put("key3", 3, 100)
	if c.Usage() != c.Capacity() {
		t.Fatalf("usage = %d, want full capacity %d", c.Usage(), c.Capacity())
	}
	if got := countHits(c, []string{"key1", "key2", "key3"}); got != 3 {
		t.Fatalf("expected all 3 entries present, got %d hits", got)
	}

	c.Put("key4", 4, 100)
	if got := countHits(c, []string{"key1", "key2", "key3"}); got != 2 {
		t.Fatalf("expected exactly one eviction, got %d hits remaining", got)
	}

	c.Put("key5", 5, capacity)
	if got := countHits(c, []string{"key1", "key2", "key3"}); got != 0 {
		t.Fatalf("expected all prior entries evicted, got %d hits", got)
	}
}

func TestBytesUsedNeverExceedsCapacityAfterPut(t *testing.T) {
	c := newTestCache(1000)
	for i := 0; i < 200; i++ {
		c.Put(string(rune(i)), i, uint64(17+i%31))
		if c.Usage() > c.Capacity() {
			t.Fatalf("usage %d exceeded capacity %d after put #%d", c.Usage(), c.Capacity(), i)
		}
	}
}
