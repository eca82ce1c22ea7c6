package metacache

import (
	"testing"
	"time"
)

func TestLRUPutGet(t *testing.T) {
	c := newLRU(10)
	c.put("a", []byte("1"), 0)

	got, ok := c.get("a")
	if !ok || string(got) != "1" {
		t.Fatalf("get() = (%q, %v), want (1, true)", got, ok)
	}
}

func TestLRUExpiry(t *testing.T) {
	c := newLRU(10)
	c.put("a", []byte("1"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.get("a"); ok {
		t.Error("get() after TTL expiry should miss")
	}
}

func TestLRUEvictsOldestOverCapacity(t *testing.T) {
	c := newLRU(2)
	c.put("a", []byte("1"), 0)
	c.put("b", []byte("2"), 0)
	c.put("c", []byte("3"), 0)

	if _, ok := c.get("a"); ok {
		t.Error("get(a) should have been evicted as oldest")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("get(c) should still be present")
	}
}

func TestLRUFamilyKeyTracking(t *testing.T) {
	c := newLRU(10)
	c.trackFamilyKey("fam1", "search:fam1:hello")
	c.trackFamilyKey("fam1", "list:fam1:docs")

	keys := c.familyKeys("fam1")
	if len(keys) != 2 {
		t.Fatalf("familyKeys() = %v, want 2 entries", keys)
	}

	if keys2 := c.familyKeys("fam1"); len(keys2) != 0 {
		t.Errorf("familyKeys() after drain = %v, want empty", keys2)
	}
}
