package minibase

import (
	"path/filepath"
	"testing"
)

// testSchema is a small two-column schema (id INT, name STRING) reused by
// most tests.
func testSchema() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{
		{Name: "id", Kind: IntType},
		{Name: "name", Kind: StringType},
	}}
}

// newTestTable creates a fresh heap file registered under tableID in a
// fresh catalog, and a buffer pool of the given capacity backed by it. The
// log file is optional; pass withLog=true to wire one up for WAL tests.
func newTestTable(t *testing.T, tableID int32, maxPages int, withLog bool) (*BufferPool, *HeapFile, *SimpleCatalog, *LogFile) {
	t.Helper()
	dir := t.TempDir()

	catalog := NewSimpleCatalog()
	var logFile *LogFile
	if withLog {
		var err error
		logFile, err = NewLogFile(filepath.Join(dir, "test.wal"), catalog)
		if err != nil {
			t.Fatalf("opening log file: %v", err)
		}
	}

	bp := NewBufferPool(maxPages, catalog, logFile)
	hf, err := NewHeapFile(filepath.Join(dir, "table.dat"), testSchema(), tableID, bp)
	if err != nil {
		t.Fatalf("creating heap file: %v", err)
	}
	catalog.AddTable("t", hf)
	return bp, hf, catalog, logFile
}

func mustTuple(id int64, name string) *Tuple {
	return &Tuple{
		Desc: *testSchema(),
		Fields: []DBValue{
			IntField{Value: id},
			StringField{Value: name},
		},
	}
}
