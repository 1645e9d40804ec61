package minibase

import "testing"

func TestScanInsertDeleteOperators(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)
	scan := NewScanOp(hf)

	t1 := NewTID()
	bp.InsertTuple(t1, hf.ID(), mustTuple(1, "alice"))
	bp.InsertTuple(t1, hf.ID(), mustTuple(2, "bob"))
	bp.TransactionComplete(t1, true)

	t2 := NewTID()
	iter, err := scan.Iterator(t2)
	if err != nil {
		t.Fatalf("scan iterator: %v", err)
	}
	count := 0
	for tup, err := iter(); ; tup, err = iter() {
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if tup == nil {
			break
		}
		count++
	}
	bp.TransactionComplete(t2, true)
	if count != 2 {
		t.Fatalf("expected scan to see 2 rows, got %d", count)
	}

	t3 := NewTID()
	del := NewDeleteOp(bp, hf.ID(), NewScanOp(hf))
	delIter, err := del.Iterator(t3)
	if err != nil {
		t.Fatalf("delete iterator: %v", err)
	}
	result, err := delIter()
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := result.Fields[0].(IntField).Value; got != 2 {
		t.Fatalf("expected delete to report 2 rows removed, got %d", got)
	}
	bp.TransactionComplete(t3, true)

	t4 := NewTID()
	iter, _ = scan.Iterator(t4)
	remaining := 0
	for tup, err := iter(); ; tup, err = iter() {
		if err != nil {
			t.Fatalf("scan after delete: %v", err)
		}
		if tup == nil {
			break
		}
		remaining++
	}
	bp.TransactionComplete(t4, true)
	if remaining != 0 {
		t.Fatalf("expected no rows remaining after delete, got %d", remaining)
	}
}

func TestInsertOpCountsRows(t *testing.T) {
	bp, hf, _, _ := newTestTable(t, 1, DefaultPages, false)

	staged := NewLiteralOp(testSchema(), []*Tuple{mustTuple(1, "a"), mustTuple(2, "b"), mustTuple(3, "c")})
	t1 := NewTID()
	ins := NewInsertOp(bp, hf.ID(), staged)
	iter, err := ins.Iterator(t1)
	if err != nil {
		t.Fatalf("insert iterator: %v", err)
	}
	result, err := iter()
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := result.Fields[0].(IntField).Value; got != 3 {
		t.Fatalf("expected insert to report 3 rows inserted, got %d", got)
	}
	bp.TransactionComplete(t1, true)
}
