package minibase

import "testing"

func TestHeapFileInsertGrowsPages(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	slotsPerPage := (PageSize - 8) / (1 + testSchema().BytesPerTuple())
	tid := NewTID()
	for i := 0; i < slotsPerPage+1; i++ {
		if err := bp.InsertTuple(tid, hf.ID(), mustTuple(int64(i), "row")); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	bp.TransactionComplete(tid, true)

	if hf.NumPages() < 2 {
		t.Fatalf("expected the file to grow past one page, got %d", hf.NumPages())
	}
}

func TestHeapFileDeleteRemovesTupleFromScan(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	t1 := NewTID()
	bp.InsertTuple(t1, hf.ID(), mustTuple(1, "alice"))
	bp.InsertTuple(t1, hf.ID(), mustTuple(2, "bob"))
	bp.TransactionComplete(t1, true)

	t2 := NewTID()
	iter, _ := hf.Iterator(t2)
	first, err := iter()
	if err != nil || first == nil {
		t.Fatalf("expected a first tuple, got %v, %v", first, err)
	}
	if err := bp.DeleteTuple(t2, hf.ID(), first); err != nil {
		t.Fatalf("delete: %v", err)
	}
	bp.TransactionComplete(t2, true)

	t3 := NewTID()
	iter, _ = hf.Iterator(t3)
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
		t.Fatalf("expected one remaining tuple after delete, got %d", count)
	}
}

func TestHeapFileAssignsStableRecordIDs(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	t1 := NewTID()
	bp.InsertTuple(t1, hf.ID(), mustTuple(1, "alice"))
	bp.InsertTuple(t1, hf.ID(), mustTuple(2, "bob"))
	bp.TransactionComplete(t1, true)

	t2 := NewTID()
	iter, _ := hf.Iterator(t2)
	seen := make(map[int]bool)
	for tup, err := iter(); ; tup, err = iter() {
		if err != nil {
			t.Fatalf("iterate: %v", err)
		}
		if tup == nil {
			break
		}
		if tup.Rid == nil {
			t.Fatalf("tuple read back from disk should carry a record id")
		}
		if seen[tup.Rid.SlotNo] {
			t.Fatalf("duplicate slot number %d across distinct tuples", tup.Rid.SlotNo)
		}
		seen[tup.Rid.SlotNo] = true
	}
	bp.TransactionComplete(t2, true)
	if len(seen) != 2 {
		t.Fatalf("expected 2 distinct record ids, got %d", len(seen))
	}
}

// TestHeapPageSlotIdentitySurvivesReload deletes the tuple in slot 0,
// forces the page out to disk and back in, and checks that the surviving
// tuple is still addressable by the RecordID it was handed before the
// reload -- a page with a hole must not have its later slots shift down
// across serialization.
func TestHeapPageSlotIdentitySurvivesReload(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	t1 := NewTID()
	bp.InsertTuple(t1, hf.ID(), mustTuple(1, "alice"))
	bp.InsertTuple(t1, hf.ID(), mustTuple(2, "bob"))
	bp.TransactionComplete(t1, true)

	t2 := NewTID()
	iter, _ := hf.Iterator(t2)
	first, err := iter()
	if err != nil || first == nil {
		t.Fatalf("expected a first tuple, got %v, %v", first, err)
	}
	second, err := iter()
	if err != nil || second == nil {
		t.Fatalf("expected a second tuple, got %v, %v", second, err)
	}
	secondRid := *second.Rid
	if err := bp.DeleteTuple(t2, hf.ID(), first); err != nil {
		t.Fatalf("delete: %v", err)
	}
	bp.TransactionComplete(t2, true)

	if err := bp.FlushAllPages(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	bp.DiscardPage(NewPageID(hf.ID(), 0))

	t3 := NewTID()
	iter, _ = hf.Iterator(t3)
	tup, err := iter()
	if err != nil || tup == nil {
		t.Fatalf("expected the surviving tuple after reload, got %v, %v", tup, err)
	}
	if tup.Rid.SlotNo != secondRid.SlotNo {
		t.Fatalf("surviving tuple's slot changed across reload: was %d, now %d", secondRid.SlotNo, tup.Rid.SlotNo)
	}
	if next, err := iter(); err != nil || next != nil {
		t.Fatalf("expected only one surviving tuple, got %v, %v", next, err)
	}

	t4 := NewTID()
	stale := &Tuple{Desc: *hf.Descriptor(), Rid: &secondRid}
	if err := bp.DeleteTuple(t4, hf.ID(), stale); err != nil {
		t.Fatalf("delete by pre-reload record id should still hit the right tuple: %v", err)
	}
	bp.TransactionComplete(t4, true)
}
