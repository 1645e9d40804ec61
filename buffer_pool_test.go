package minibase

import (
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

// A committed insert is visible to a later transaction's scan.
func TestBufferPoolInsertAndReadBack(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	t1 := NewTID()
	if err := bp.InsertTuple(t1, hf.ID(), mustTuple(1, "alice")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := bp.TransactionComplete(t1, true); err != nil {
		t.Fatalf("commit: %v", err)
	}

	t2 := NewTID()
	iter, err := hf.Iterator(t2)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	tup, err := iter()
	if err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if tup == nil {
		t.Fatalf("expected one committed tuple, got none")
	}
	if got := tup.Fields[1].(StringField).Value; got != "alice" {
		t.Fatalf("got name %q, want %q", got, "alice")
	}
	bp.TransactionComplete(t2, true)
}

// NO-STEAL: an aborted transaction's writes never reach disk; the page
// reverts to its last committed content.
func TestBufferPoolAbortRollsBack(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	t1 := NewTID()
	bp.InsertTuple(t1, hf.ID(), mustTuple(1, "alice"))
	bp.TransactionComplete(t1, true)

	t2 := NewTID()
	bp.InsertTuple(t2, hf.ID(), mustTuple(2, "bob"))
	if err := bp.TransactionComplete(t2, false); err != nil {
		t.Fatalf("abort: %v", err)
	}

	t3 := NewTID()
	iter, _ := hf.Iterator(t3)
	count := 0
	for tup, err := iter(); ; tup, err = iter() {
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if tup == nil {
			break
		}
		count++
	}
	bp.TransactionComplete(t3, true)
	if count != 1 {
		t.Fatalf("expected the aborted insert to vanish, got %d tuple(s)", count)
	}
}

// A clean page can be evicted to make room for a new one.
func TestBufferPoolEvictsCleanPage(t *testing.T) {
	dir := t.TempDir()
	catalog := NewSimpleCatalog()
	bp := NewBufferPool(1, catalog, nil)

	hf1, err := NewHeapFile(dir+"/t1.dat", testSchema(), 1, bp)
	if err != nil {
		t.Fatalf("creating t1: %v", err)
	}
	hf2, err := NewHeapFile(dir+"/t2.dat", testSchema(), 2, bp)
	if err != nil {
		t.Fatalf("creating t2: %v", err)
	}
	catalog.AddTable("t1", hf1)
	catalog.AddTable("t2", hf2)

	t1 := NewTID()
	if err := bp.InsertTuple(t1, 1, mustTuple(1, "alice")); err != nil {
		t.Fatalf("insert into t1: %v", err)
	}
	if err := bp.TransactionComplete(t1, true); err != nil {
		t.Fatalf("commit t1: %v", err)
	}

	t2 := NewTID()
	if err := bp.InsertTuple(t2, 2, mustTuple(2, "bob")); err != nil {
		t.Fatalf("insert into t2 should evict t1's clean page, got: %v", err)
	}
	bp.TransactionComplete(t2, true)

	if len(bp.cache) != 1 {
		t.Fatalf("expected exactly one cached page after eviction, got %d", len(bp.cache))
	}
}

// Eviction fails with a DbException when every cached page is dirty.
func TestBufferPoolEvictionFailsWhenAllDirty(t *testing.T) {
	dir := t.TempDir()
	catalog := NewSimpleCatalog()
	bp := NewBufferPool(1, catalog, nil)

	hf1, _ := NewHeapFile(dir+"/t1.dat", testSchema(), 1, bp)
	hf2, _ := NewHeapFile(dir+"/t2.dat", testSchema(), 2, bp)
	catalog.AddTable("t1", hf1)
	catalog.AddTable("t2", hf2)

	t1 := NewTID()
	if err := bp.InsertTuple(t1, 1, mustTuple(1, "alice")); err != nil {
		t.Fatalf("insert into t1: %v", err)
	}
	// t1's page is still dirty -- never committed.

	t2 := NewTID()
	err := bp.InsertTuple(t2, 2, mustTuple(2, "bob"))
	if err == nil {
		t.Fatalf("expected eviction to fail with the cache full of dirty pages")
	}
}

// LRU governs which clean page gets evicted.
func TestBufferPoolEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	catalog := NewSimpleCatalog()
	bp := NewBufferPool(2, catalog, nil)

	hf1, _ := NewHeapFile(dir+"/t1.dat", testSchema(), 1, bp)
	hf2, _ := NewHeapFile(dir+"/t2.dat", testSchema(), 2, bp)
	hf3, _ := NewHeapFile(dir+"/t3.dat", testSchema(), 3, bp)
	catalog.AddTable("t1", hf1)
	catalog.AddTable("t2", hf2)
	catalog.AddTable("t3", hf3)

	t1 := NewTID()
	bp.InsertTuple(t1, 1, mustTuple(1, "alice"))
	bp.TransactionComplete(t1, true)

	t2 := NewTID()
	bp.InsertTuple(t2, 2, mustTuple(2, "bob"))
	bp.TransactionComplete(t2, true)

	// Touch t1's page again so t2's becomes the least recently used.
	t3 := NewTID()
	if _, err := bp.GetPage(t3, NewPageID(1, 0), ReadOnly); err != nil {
		t.Fatalf("re-reading t1's page: %v", err)
	}
	bp.TransactionComplete(t3, true)

	t4 := NewTID()
	if err := bp.InsertTuple(t4, 3, mustTuple(3, "carol")); err != nil {
		t.Fatalf("insert into t3: %v", err)
	}
	bp.TransactionComplete(t4, true)

	if _, stillCached := bp.cache[NewPageID(1, 0)]; !stillCached {
		t.Fatalf("t1's page was recently touched and should not have been evicted")
	}
	if _, stillCached := bp.cache[NewPageID(2, 0)]; stillCached {
		t.Fatalf("t2's page was the least recently used and should have been evicted")
	}
}

// Concurrent cache misses on the same page collapse into a single disk
// read, via singleflight.
func TestBufferPoolColdLoadDeduplication(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	seed := NewTID()
	bp.InsertTuple(seed, hf.ID(), mustTuple(1, "alice"))
	bp.TransactionComplete(seed, true)
	bp.DiscardPage(NewPageID(hf.ID(), 0))

	var g errgroup.Group
	pages := make([]Page, 8)
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		i := i
		g.Go(func() error {
			tid := NewTID()
			p, err := bp.GetPage(tid, NewPageID(hf.ID(), 0), ReadOnly)
			if err != nil {
				return err
			}
			mu.Lock()
			pages[i] = p
			mu.Unlock()
			bp.ReleasePage(tid, NewPageID(hf.ID(), 0))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent GetPage: %v", err)
	}
	for i, p := range pages {
		if p != pages[0] {
			t.Fatalf("goroutine %d got a distinct page object, expected the deduplicated load to be shared", i)
		}
	}
}

// The cache never exceeds its configured capacity.
func TestBufferPoolRespectsCapacity(t *testing.T) {
	dir := t.TempDir()
	catalog := NewSimpleCatalog()
	bp := NewBufferPool(2, catalog, nil)
	hf, _ := NewHeapFile(dir+"/t.dat", testSchema(), 1, bp)
	catalog.AddTable("t", hf)

	for i := 0; i < 10; i++ {
		tid := NewTID()
		if err := bp.InsertTuple(tid, 1, mustTuple(int64(i), "row")); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		bp.TransactionComplete(tid, true)
		if len(bp.cache) > 2 {
			t.Fatalf("cache grew past capacity: %d pages cached", len(bp.cache))
		}
	}
}
