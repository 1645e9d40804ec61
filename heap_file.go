package minibase

import (
	"bytes"
	"os"
	"sync"
)

// HeapFile is an unordered collection of tuples backed by a file of
// fixed-size heap pages. It is the concrete DbFile this repository ships
// so the buffer pool and lock manager can be exercised end-to-end.
type HeapFile struct {
	mu sync.Mutex

	tableID       int32
	desc          *TupleDesc
	backingFile   string
	numPages      int32
	lastEmptyPage int32

	bufPool *BufferPool
}

// NewHeapFile opens (creating if necessary) fromFile as the backing store
// for a heap file with the given schema and table id. bp is the buffer
// pool whose GetPage method InsertTuple/DeleteTuple/Iterator route through, so that
// locking and caching apply uniformly.
func NewHeapFile(fromFile string, desc *TupleDesc, tableID int32, bp *BufferPool) (*HeapFile, error) {
	f, err := os.OpenFile(fromFile, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return &HeapFile{
		tableID:       tableID,
		desc:          desc,
		backingFile:   fromFile,
		numPages:      int32(fi.Size() / PageSize),
		lastEmptyPage: -1,
		bufPool:       bp,
	}, nil
}

func (f *HeapFile) ID() int32          { return f.tableID }
func (f *HeapFile) NumPages() int32    { return f.numPages }
func (f *HeapFile) Descriptor() *TupleDesc { return f.desc }
func (f *HeapFile) BackingFile() string { return f.backingFile }

// ReadPage reads the pageNo'th page from the backing file.
func (f *HeapFile) ReadPage(pageNo int32) (Page, error) {
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	b := make([]byte, PageSize)
	n, err := file.ReadAt(b, int64(pageNo)*PageSize)
	if err != nil {
		return nil, err
	}
	if n != PageSize {
		return nil, NewIOException("short read of page", nil)
	}

	pg := newHeapPage(f.desc, pageNo, f.tableID)
	if err := pg.initFromBuffer(bytes.NewBuffer(b)); err != nil {
		return nil, err
	}
	pg.SetBeforeImage()
	return pg, nil
}

// WritePage forces p back to its offset in the backing file. Called by the
// buffer pool when flushing.
func (f *HeapFile) WritePage(p Page) error {
	hp, ok := p.(*heapPage)
	if !ok {
		return NewIOException("heap file asked to write non-heap page", nil)
	}
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	buf, err := hp.toBuffer()
	if err != nil {
		return err
	}
	_, err = file.WriteAt(buf.Bytes(), int64(hp.pageNo)*PageSize)
	return err
}

// InsertTuple searches for the first page with a free slot via the buffer
// pool and inserts t there, growing the file by one page if none has room.
// The page t ends up on is returned so the caller can mark it dirty.
func (f *HeapFile) InsertTuple(tid TransactionID, t *Tuple) ([]Page, error) {
	f.mu.Lock()
	start := f.lastEmptyPage
	if start < 0 {
		start = 0
	}
	end := f.numPages
	f.mu.Unlock()

	for p := start; p < end; p++ {
		pg, err := f.bufPool.GetPage(tid, NewPageID(f.tableID, p), ReadOnly)
		if err != nil {
			return nil, err
		}
		hp := pg.(*heapPage)
		if hp.getNumEmptySlots() == 0 {
			continue
		}

		pg, err = f.bufPool.GetPage(tid, NewPageID(f.tableID, p), ReadWrite)
		if err != nil {
			return nil, err
		}
		hp = pg.(*heapPage)
		if _, err := hp.insertTuple(t); err != nil {
			if err == errPageFull {
				continue
			}
			return nil, err
		}
		f.mu.Lock()
		f.lastEmptyPage = p
		f.mu.Unlock()
		return []Page{hp}, nil
	}

	// No free slot anywhere: grow the file by one page.
	f.mu.Lock()
	newPageNo := f.numPages
	f.numPages++
	f.lastEmptyPage = newPageNo
	f.mu.Unlock()

	empty := newHeapPage(f.desc, newPageNo, f.tableID)
	if err := f.WritePage(empty); err != nil {
		return nil, err
	}

	pg, err := f.bufPool.GetPage(tid, NewPageID(f.tableID, newPageNo), ReadWrite)
	if err != nil {
		return nil, err
	}
	hp := pg.(*heapPage)
	if _, err := hp.insertTuple(t); err != nil {
		return nil, err
	}
	return []Page{hp}, nil
}

// DeleteTuple removes t, located via its RecordID, and returns the page it
// was removed from.
func (f *HeapFile) DeleteTuple(tid TransactionID, t *Tuple) (Page, error) {
	if t.Rid == nil {
		return nil, NewDbException("tuple has no record id, cannot delete", nil)
	}
	if t.Rid.PageNo < 0 || t.Rid.PageNo >= f.NumPages() {
		return nil, NewDbException("tuple references a page that does not exist", nil)
	}

	pg, err := f.bufPool.GetPage(tid, NewPageID(f.tableID, t.Rid.PageNo), ReadWrite)
	if err != nil {
		return nil, err
	}
	hp, ok := pg.(*heapPage)
	if !ok {
		return nil, NewDbException("buffer pool returned non-heap page", nil)
	}
	if err := hp.deleteTuple(*t.Rid); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if t.Rid.PageNo < f.lastEmptyPage || f.lastEmptyPage < 0 {
		f.lastEmptyPage = t.Rid.PageNo
	}
	f.mu.Unlock()

	return hp, nil
}

// Iterator returns a function that yields every live tuple in the file, in
// page order, reading each page through the buffer pool.
func (f *HeapFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	nPages := f.NumPages()
	var pageNo int32
	var pgIter func() (*Tuple, error)

	return func() (*Tuple, error) {
		for {
			if pgIter == nil {
				if pageNo == nPages {
					return nil, nil
				}
				pg, err := f.bufPool.GetPage(tid, NewPageID(f.tableID, pageNo), ReadOnly)
				if err != nil {
					return nil, err
				}
				pgIter = pg.(*heapPage).tupleIter()
				pageNo++
			}
			t, err := pgIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				pgIter = nil
				continue
			}
			return t, nil
		}
	}, nil
}
