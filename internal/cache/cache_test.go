package cache_test

import (
	"fmt"
	"sync"
	"testing"

	"forwardproxy/internal/cache"
)

func TestInsertThenGetRoundTrips(t *testing.T) {
	c := cache.New()
	if !c.Insert("k1", []byte("abc"), 3) {
		t.Fatal("insert rejected a valid object")
	}

	h, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected hit after insert")
	}
	defer h.Release()

	if got := string(h.Value()); got != "abc" {
		t.Fatalf("value = %q, want %q", got, "abc")
	}
	if h.Size() != 3 {
		t.Fatalf("size = %d, want 3", h.Size())
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := cache.New()
	if _, ok := c.Get("nope"); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestInsertRejectsOversizedObject(t *testing.T) {
	c := cache.New()
	big := make([]byte, cache.MaxObjectSize+1)
	if c.Insert("big", big, len(big)) {
		t.Fatal("expected oversized insert to be rejected")
	}
	if _, ok := c.Get("big"); ok {
		t.Fatal("cache state should be unchanged after a rejected insert")
	}
}

func TestInsertDoesNotAliasCallerBuffer(t *testing.T) {
	c := cache.New()
	buf := []byte("hello")
	c.Insert("k", buf, len(buf))
	buf[0] = 'H'

	h, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	defer h.Release()
	if got := string(h.Value()); got != "hello" {
		t.Fatalf("cache aliased caller memory: got %q", got)
	}
}

func TestInsertExistingKeyPromotesButDoesNotReplace(t *testing.T) {
	c := cache.New()
	c.Insert("k", []byte("first"), 5)
	c.Insert("k", []byte("second"), 6)

	h, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	defer h.Release()
	if got := string(h.Value()); got != "first" {
		t.Fatalf("insert of existing key replaced bytes: got %q, want %q", got, "first")
	}
}

func TestLRUEvictionOrder(t *testing.T) {
	// §8 Scenario D with the full 1MiB budget and the per-object limit
	// raised to 200KiB: six 200KiB objects, five fit, the sixth evicts the
	// first.
	const objSize = 200 * 1024
	c := cache.NewSized(1024*1024, objSize)

	obj := make([]byte, objSize)
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("k%d", i)
		if !c.Insert(key, obj, objSize) {
			t.Fatalf("insert %s rejected", key)
		}
	}

	if _, ok := c.Get("k0"); ok {
		t.Fatal("k0 should have been evicted once total size exceeded the budget")
	}
	h, ok := c.Get("k5")
	if !ok {
		t.Fatal("k5 should still be cached")
	}
	h.Release()

	st := c.Stats()
	if st.TotalSize > 1024*1024 {
		t.Fatalf("total size %d exceeds budget", st.TotalSize)
	}
}

func TestDeferredFreeAcrossEviction(t *testing.T) {
	const objSize = 200 * 1024
	c := cache.NewSized(1024*1024, objSize)

	obj := make([]byte, objSize)
	copy(obj, []byte("victim-bytes"))
	c.Insert("victim", obj, objSize)

	h, ok := c.Get("victim")
	if !ok {
		t.Fatal("expected hit")
	}

	// Evict "victim" by filling the cache with enough other entries.
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("filler%d", i)
		c.Insert(key, obj, objSize)
	}

	// The handle's bytes must still be readable after eviction.
	if got := string(h.Value()[:len("victim-bytes")]); got != "victim-bytes" {
		t.Fatalf("handle bytes corrupted after eviction: %q", got)
	}
	h.Release()

	if _, ok := c.Get("victim"); ok {
		t.Fatal("victim should be gone from the cache after eviction")
	}
}

func TestConcurrentInsertsOfSameKey(t *testing.T) {
	c := cache.New()
	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			v := []byte(fmt.Sprintf("value-%d", i))
			c.Insert("shared", v, len(v))
		}(i)
	}
	wg.Wait()

	h, ok := c.Get("shared")
	if !ok {
		t.Fatal("expected exactly one entry for the shared key")
	}
	defer h.Release()

	st := c.Stats()
	if st.Entries != 1 {
		t.Fatalf("entries = %d, want 1", st.Entries)
	}
}

func TestConcurrentGetReleaseDoesNotRace(t *testing.T) {
	c := cache.New()
	c.Insert("k", []byte("payload"), len("payload"))

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			h, ok := c.Get("k")
			if !ok {
				return
			}
			_ = h.Value()
			h.Release()
		}()
	}
	wg.Wait()
}
