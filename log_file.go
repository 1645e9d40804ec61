package minibase

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
)

// LogFile implements the WAL collaborator: an append-only sequence of
// variable-length records (Begin/Commit/Abort/Update), each framed with a
// leading type+tid header and a trailing offset footer so the file can be
// walked in either direction. It writes and reads heapPage images directly
// rather than switching over a generic Page type.
type LogFile struct {
	file    *os.File
	buf     bytes.Buffer
	offset  int64
	catalog *SimpleCatalog
}

// NewLogFile opens (creating if necessary) fileName as the backing log.
func NewLogFile(fileName string, catalog *SimpleCatalog) (*LogFile, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog must be non-nil")
	}
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &LogFile{file: f, catalog: catalog}, nil
}

func (w *LogFile) write(data any) {
	binary.Write(&w.buf, binary.LittleEndian, data)
	w.offset += int64(binary.Size(data))
}

// Force flushes buffered writes to the OS and fsyncs them, satisfying the
// WAL rule that a log record must be durable before the page it describes
// is written.
func (w *LogFile) Force() error {
	if w.buf.Len() == 0 {
		return nil
	}
	if _, err := w.file.Write(w.buf.Bytes()); err != nil {
		return err
	}
	w.buf.Reset()
	return w.file.Sync()
}

func (f *LogFile) seek(offset int64, whence int) error {
	if err := f.Force(); err != nil {
		return err
	}
	newOffset, err := f.file.Seek(offset, whence)
	if err != nil {
		return fmt.Errorf("invalid seek (%d, %d): %w", offset, whence, err)
	}
	f.offset = newOffset
	return nil
}

func (f *LogFile) read(data any) error {
	if err := f.Force(); err != nil {
		return err
	}
	if err := binary.Read(f.file, binary.LittleEndian, data); err != nil {
		return err
	}
	f.offset += int64(binary.Size(data))
	return nil
}

func (w *LogFile) writeHeader(typ LogRecordType, tid TransactionID) {
	w.write(int8(typ))
	w.write(int64(tid))
}

func (w *LogFile) writeFooter(offset int64) {
	w.write(offset)
}

func (w *LogFile) readPage() (Page, error) {
	var tableID, pageNo int32
	if err := w.read(&tableID); err != nil {
		return nil, err
	}
	if err := w.read(&pageNo); err != nil {
		return nil, err
	}
	file, err := w.catalog.GetDbFile(tableID)
	if err != nil {
		return nil, err
	}
	hf, ok := file.(*HeapFile)
	if !ok {
		return nil, fmt.Errorf("log only supports heap files")
	}
	pg := newHeapPage(hf.Descriptor(), pageNo, tableID)
	buf := make([]byte, PageSize)
	if err := w.read(buf); err != nil {
		return nil, err
	}
	if err := pg.initFromBuffer(bytes.NewBuffer(buf)); err != nil {
		return nil, err
	}
	return pg, nil
}

func (w *LogFile) writePage(page Page) error {
	hp, ok := page.(*heapPage)
	if !ok {
		return fmt.Errorf("unsupported page type: %T", page)
	}
	w.write(hp.tableID)
	w.write(hp.pageNo)
	buf, err := hp.toBuffer()
	if err != nil {
		return err
	}
	w.write(buf.Bytes())
	return nil
}

// LogBegin records that tid has started.
func (w *LogFile) LogBegin(tid TransactionID) {
	offset := w.offset
	w.writeHeader(BeginRecord, tid)
	w.writeFooter(offset)
}

// LogCommit records that tid has committed.
func (w *LogFile) LogCommit(tid TransactionID) {
	offset := w.offset
	w.writeHeader(CommitRecord, tid)
	w.write(offset)
}

// LogAbort records that tid has aborted.
func (w *LogFile) LogAbort(tid TransactionID) {
	offset := w.offset
	w.writeHeader(AbortRecord, tid)
	w.write(offset)
}

// LogUpdate records tid's before/after images of a page. Does not force
// the log to disk; callers drive the force themselves once per flush, so
// the log record reaches disk strictly before the page it describes.
func (w *LogFile) LogUpdate(tid TransactionID, before, after Page) error {
	if before == nil || after == nil {
		return fmt.Errorf("before and after images must be non-nil")
	}
	offset := w.offset
	w.writeHeader(UpdateRecord, tid)
	if err := w.writePage(before); err != nil {
		return err
	}
	if err := w.writePage(after); err != nil {
		return err
	}
	w.write(offset)
	return nil
}

// ForwardIterator returns a function that yields each record from the
// current read position to EOF, then (nil, nil).
func (f *LogFile) ForwardIterator() func() (LogRecord, error) {
	partial := func(msg string, err error) (LogRecord, error) {
		return nil, fmt.Errorf("failed to read %s: partial record at offset %d: %w", msg, f.offset, err)
	}

	return func() (LogRecord, error) {
		var rec genericLogRecord
		rec.offset = f.offset

		var typ int8
		if err := f.read(&typ); err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return partial("record type", err)
		}
		rec.typ = LogRecordType(typ)

		var tid int64
		if err := f.read(&tid); err != nil {
			return partial("transaction id", err)
		}
		rec.tid = TransactionID(tid)

		var ret LogRecord = &rec
		if rec.typ == UpdateRecord {
			var upd UpdateLogRecord
			upd.genericLogRecord = rec
			var err error
			if upd.Before, err = f.readPage(); err != nil {
				return partial("before page", err)
			}
			if upd.After, err = f.readPage(); err != nil {
				return partial("after page", err)
			}
			ret = &upd
		}

		var footer int64
		if err := f.read(&footer); err != nil || footer != rec.offset {
			return partial("offset footer", err)
		}
		return ret, nil
	}
}

// ReverseIterator returns a function that walks records from the end of
// the file backward to the start, then (nil, nil).
func (f *LogFile) ReverseIterator() (func() (LogRecord, error), error) {
	if err := f.seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return func() (LogRecord, error) {
		if f.offset < 8 {
			return nil, nil
		}
		if err := f.seek(-8, io.SeekCurrent); err != nil {
			return nil, err
		}
		var recordStart int64
		if err := f.read(&recordStart); err != nil {
			return nil, err
		}
		if err := f.seek(recordStart, io.SeekStart); err != nil {
			return nil, err
		}
		rec, err := f.ForwardIterator()()
		if err != nil {
			return nil, err
		}
		if err := f.seek(recordStart, io.SeekStart); err != nil {
			return nil, err
		}
		return rec, nil
	}, nil
}

// Rollback undoes tid's updates by reading backward through the log from
// its end and reapplying before-images, discarding them from
// the buffer pool as it goes, then seeks back to end of file.
func (f *LogFile) Rollback(bp *BufferPool, tid TransactionID) error {
	iter, err := f.ReverseIterator()
	if err != nil {
		return err
	}
	for rec, err := iter(); rec != nil; rec, err = iter() {
		if err != nil {
			return err
		}
		if rec.Tid() != tid {
			continue
		}
		if rec.Type() == BeginRecord {
			break
		}
		if rec.Type() == UpdateRecord {
			before := rec.(*UpdateLogRecord).Before.(*heapPage)
			pid := before.PageID()
			bp.DiscardPage(pid)
			if file, err := f.catalog.GetDbFile(pid.TableID); err == nil {
				_ = file.WritePage(before)
			}
		}
	}
	return f.seek(0, io.SeekEnd)
}

// Recover replays the log at startup: redo every logged update forward,
// then undo, newest first, the updates of transactions that have a begin
// record but neither a commit nor an abort record ("losers"), synthesizing
// an abort record for each. Updates of aborted transactions are not undone. Called once at process start, not
// while transactions are active.
func (f *LogFile) Recover(bp *BufferPool) error {
	if err := f.seek(0, io.SeekStart); err != nil {
		return err
	}

	losers := make(map[TransactionID]int64)
	iter := f.ForwardIterator()
	for rec, err := iter(); ; rec, err = iter() {
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		switch rec.Type() {
		case BeginRecord:
			losers[rec.Tid()] = rec.Offset()
		case CommitRecord, AbortRecord:
			delete(losers, rec.Tid())
		case UpdateRecord:
			upd := rec.(*UpdateLogRecord)
			after := upd.After.(*heapPage)
			pid := after.PageID()
			log.Printf("redo %v", pid)
			bp.DiscardPage(pid)
			if file, err := f.catalog.GetDbFile(pid.TableID); err == nil {
				if err := file.WritePage(after); err != nil {
					return err
				}
			}
		}
	}

	iter, err := f.ReverseIterator()
	if err != nil {
		return fmt.Errorf("building reverse iterator: %w", err)
	}
	rec, err := iter()
	for len(losers) > 0 && rec != nil {
		if err != nil {
			return err
		}
		tid := rec.Tid()
		if _, isLoser := losers[tid]; isLoser {
			switch rec.Type() {
			case UpdateRecord:
				before := rec.(*UpdateLogRecord).Before.(*heapPage)
				pid := before.PageID()
				log.Printf("undo %v", pid)
				bp.DiscardPage(pid)
				if file, err := f.catalog.GetDbFile(pid.TableID); err == nil {
					if err := file.WritePage(before); err != nil {
						return err
					}
				}
			case BeginRecord:
				savedOffset := f.offset
				if err := f.seek(0, io.SeekEnd); err != nil {
					return err
				}
				f.LogAbort(tid)
				if err := f.Force(); err != nil {
					return err
				}
				if err := f.seek(savedOffset, io.SeekStart); err != nil {
					return err
				}
				delete(losers, tid)
			}
		}
		rec, err = iter()
	}

	return f.seek(0, io.SeekEnd)
}
