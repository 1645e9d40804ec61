package minibase

// Operator is the minimal query-execution interface: an iterator factory
// over tuples, trimmed to what the CLI needs to drive InsertTuple/
// DeleteTuple/Scan through the buffer pool.
type Operator interface {
	Descriptor() *TupleDesc
	Iterator(tid TransactionID) (func() (*Tuple, error), error)
}

// ScanOp sequentially scans a table through the buffer pool.
type ScanOp struct {
	file *HeapFile
}

// NewScanOp constructs a scan over file.
func NewScanOp(file *HeapFile) *ScanOp { return &ScanOp{file: file} }

func (s *ScanOp) Descriptor() *TupleDesc { return s.file.Descriptor() }

func (s *ScanOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	return s.file.Iterator(tid)
}

// LiteralOp feeds a fixed, in-memory set of rows to a parent operator, for
// statements (e.g. "INSERT ... VALUES") whose source isn't itself a scan.
type LiteralOp struct {
	desc *TupleDesc
	rows []*Tuple
}

// NewLiteralOp constructs an operator that yields rows, in order, under
// desc.
func NewLiteralOp(desc *TupleDesc, rows []*Tuple) *LiteralOp {
	return &LiteralOp{desc: desc, rows: rows}
}

func (l *LiteralOp) Descriptor() *TupleDesc { return l.desc }

func (l *LiteralOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	i := 0
	return func() (*Tuple, error) {
		if i >= len(l.rows) {
			return nil, nil
		}
		t := l.rows[i]
		i++
		return t, nil
	}, nil
}

// InsertOp inserts every tuple produced by its child into a table via the
// buffer pool, returning a single "count" tuple when exhausted.
type InsertOp struct {
	bp        *BufferPool
	tableID   int32
	child     Operator
	completed bool
}

// NewInsertOp constructs an insert operator that inserts child's tuples
// into tableID through bp.
func NewInsertOp(bp *BufferPool, tableID int32, child Operator) *InsertOp {
	return &InsertOp{bp: bp, tableID: tableID, child: child}
}

func (i *InsertOp) Descriptor() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Name: "count", Kind: IntType}}}
}

func (i *InsertOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	return func() (*Tuple, error) {
		if i.completed {
			return nil, nil
		}
		count := int64(0)
		if !i.completed {
			it, err := i.child.Iterator(tid)
			if err != nil {
				return nil, err
			}
			for t, err := it(); ; t, err = it() {
				if err != nil {
					return nil, err
				}
				if t == nil {
					break
				}
				if err := i.bp.InsertTuple(tid, i.tableID, t); err != nil {
					return nil, err
				}
				count++
			}
			i.completed = true
		}
		return &Tuple{Desc: *i.Descriptor(), Fields: []DBValue{IntField{count}}}, nil
	}, nil
}

// DeleteOp deletes every tuple produced by its child from a table via the
// buffer pool, returning a single "count" tuple when exhausted.
type DeleteOp struct {
	bp        *BufferPool
	tableID   int32
	child     Operator
	completed bool
}

// NewDeleteOp constructs a delete operator that removes child's tuples
// from tableID through bp.
func NewDeleteOp(bp *BufferPool, tableID int32, child Operator) *DeleteOp {
	return &DeleteOp{bp: bp, tableID: tableID, child: child}
}

func (d *DeleteOp) Descriptor() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{{Name: "count", Kind: IntType}}}
}

func (d *DeleteOp) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	return func() (*Tuple, error) {
		if d.completed {
			return nil, nil
		}
		count := int64(0)
		if !d.completed {
			it, err := d.child.Iterator(tid)
			if err != nil {
				return nil, err
			}
			for t, err := it(); ; t, err = it() {
				if err != nil {
					return nil, err
				}
				if t == nil {
					break
				}
				if err := d.bp.DeleteTuple(tid, d.tableID, t); err != nil {
					return nil, err
				}
				count++
			}
			d.completed = true
		}
		return &Tuple{Desc: *d.Descriptor(), Fields: []DBValue{IntField{count}}}, nil
	}, nil
}
