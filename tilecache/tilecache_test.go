package tilecache

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestFingerprint(t *testing.T) {
	base := Params{Level: 0, Region: "0,0,100,100", Rotation: 0, Scale: "50,50", Layer: 0}
	if Tuple("img", base) != "img|0|0,0,100,100|0|50,50|0" {
		t.Errorf("Bad fingerprint tuple: %s\n", Tuple("img", base))
	}
	fp := Compute("img", base)
	if fp != Compute("img", base) {
		t.Errorf("Fingerprint isn't deterministic\n")
	}
	if len(fp.Hex()) != 40 || fp.Key("jpg") != fp.Hex()+".jpg" {
		t.Errorf("Bad fingerprint forms: %s, %s\n", fp.Hex(), fp.Key("jpg"))
	}

	variants := []struct {
		id string
		p  Params
	}{
		{"img2", base},
		{"img", Params{Level: 1, Region: base.Region, Scale: base.Scale}},
		{"img", Params{Region: "0,0,100,101", Scale: base.Scale}},
		{"img", Params{Region: base.Region, Rotation: 90, Scale: base.Scale}},
		{"img", Params{Region: base.Region, Scale: "50,51"}},
		{"img", Params{Region: base.Region, Scale: base.Scale, Layer: 1}},
	}
	seen := map[Fingerprint]int{fp: -1}
	for i, v := range variants {
		other := Compute(v.id, v.p)
		if prev, found := seen[other]; found {
			t.Errorf("Variant %d has same fingerprint as %d\n", i, prev)
		}
		seen[other] = i
	}
}

func TestPolicy(t *testing.T) {
	p := Policy{Exceptions: []float64{0.5}}
	tests := []struct {
		req       Request
		cacheable bool
	}{
		{Request{ScaleFactor: 1.0}, true},
		{Request{ScaleFactor: 1.0, Transformable: true}, false},
		{Request{ScaleFactor: 0.25}, false},
		{Request{ScaleFactor: 0.25, ExplicitRegion: true}, true},
		{Request{ScaleFactor: 0.5}, true},
		{Request{ScaleFactor: 0.5, Transformable: true}, false},
	}
	for i, tc := range tests {
		if got := p.Cacheable(tc.req); got != tc.cacheable {
			t.Errorf("Test %d: cacheable %t for %+v, expected %t\n", i, got, tc.req, tc.cacheable)
		}
	}
}

func TestCapacity(t *testing.T) {
	var evicted []string
	c := New(10, func(key, path string) { evicted = append(evicted, key) })
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("key%d", i), fmt.Sprintf("/tmp/tile%d", i))
		if c.Len() > c.Capacity() {
			t.Fatalf("Cache holds %d entries with capacity %d\n", c.Len(), c.Capacity())
		}
	}
	if c.Len() != 10 || len(evicted) != 90 {
		t.Errorf("Expected 10 entries and 90 evictions, got %d and %d\n", c.Len(), len(evicted))
	}
	if _, found := c.Get("key0"); found {
		t.Errorf("Oldest entry should have been evicted\n")
	}
	if path, found := c.Get("key99"); !found || path != "/tmp/tile99" {
		t.Errorf("Newest entry missing: %q %t\n", path, found)
	}
	prev, replaced := c.Put("key99", "/tmp/other")
	if !replaced || prev != "/tmp/tile99" {
		t.Errorf("Put should report replaced path, got %q %t\n", prev, replaced)
	}
	if !c.Remove("key99") || c.Remove("key99") {
		t.Errorf("Remove should succeed once\n")
	}
	if New(0, nil).Capacity() != DefaultCapacity {
		t.Errorf("Zero capacity should use the default\n")
	}
}

func TestEvictionRemovesFile(t *testing.T) {
	dir := t.TempDir()
	c := New(1, RemoveFile)
	first := filepath.Join(dir, "first.jpg")
	second := filepath.Join(dir, "second.jpg")
	ioutil.WriteFile(first, []byte("a"), 0644)
	ioutil.WriteFile(second, []byte("b"), 0644)
	c.Put("a", first)
	c.Put("b", second)
	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Errorf("Evicted tile file should be deleted\n")
	}
	if _, err := os.Stat(second); err != nil {
		t.Errorf("Live tile file should remain: %v\n", err)
	}
}

func TestPutIfAbsentRace(t *testing.T) {
	c := New(100, nil)
	const n = 16
	var wg sync.WaitGroup
	results := make([]bool, n)
	winners := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winners[i], results[i] = c.PutIfAbsent("same", fmt.Sprintf("/tmp/gen%d", i))
		}(i)
	}
	wg.Wait()
	var inserted int
	final, _ := c.Get("same")
	for i := 0; i < n; i++ {
		if results[i] {
			inserted++
		}
		if winners[i] != final {
			t.Errorf("Goroutine %d saw winner %q, cache holds %q\n", i, winners[i], final)
		}
	}
	if inserted != 1 {
		t.Errorf("Expected exactly one insertion to win, got %d\n", inserted)
	}
	if c.Len() != 1 {
		t.Errorf("Expected one cache entry, got %d\n", c.Len())
	}
}

func TestPutReplacesFile(t *testing.T) {
	dir := t.TempDir()
	c := New(10, RemoveFile)
	old := filepath.Join(dir, "old.jpg")
	fresh := filepath.Join(dir, "fresh.jpg")
	ioutil.WriteFile(old, []byte("a"), 0644)
	ioutil.WriteFile(fresh, []byte("b"), 0644)
	c.Put("k", old)
	if prev, replaced := c.Put("k", fresh); !replaced || prev != old {
		t.Errorf("Expected %s to be replaced, got %q %t\n", old, prev, replaced)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("Replaced tile file should be deleted\n")
	}
	c.Put("k", fresh)
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("Re-putting the same path shouldn't delete it: %v\n", err)
	}
}

func TestRemoveIf(t *testing.T) {
	dir := t.TempDir()
	c := New(10, RemoveFile)
	stale := filepath.Join(dir, "stale.jpg")
	refill := filepath.Join(dir, "refill.jpg")
	ioutil.WriteFile(refill, []byte("b"), 0644)
	c.Put("k", refill)

	// A reader that saw the stale path must not drop the refilled entry.
	if c.RemoveIf("k", stale) {
		t.Errorf("RemoveIf removed an entry holding a different path\n")
	}
	if path, found := c.Get("k"); !found || path != refill {
		t.Errorf("Refilled entry lost: %q %t\n", path, found)
	}
	if _, err := os.Stat(refill); err != nil {
		t.Errorf("Refilled tile file deleted: %v\n", err)
	}
	if !c.RemoveIf("k", refill) || c.Len() != 0 {
		t.Errorf("RemoveIf should drop a matching entry\n")
	}
	if c.RemoveIf("missing", refill) {
		t.Errorf("RemoveIf on an empty key should fail\n")
	}
}
