package minibase

import (
	"bytes"
	"encoding/binary"
	"sync"
)

// errPageFull is returned by heapPage.insertTuple when no free slot remains.
var errPageFull = NewDbException("page is full", nil)

// heapPage is the Page implementation backing HeapFile: a header (slot
// count, used-slot count) followed by fixed-width tuple slots. It carries
// the dirtier/before-image state the Page contract requires.
type heapPage struct {
	mu sync.Mutex

	desc     TupleDesc
	numSlots int32
	numUsed  int32
	tuples   []*Tuple
	pageNo   int32
	tableID  int32

	dirtier   TransactionID
	isDirty   bool
	before    []byte // serialized before-image, lazily materialized
}

func newHeapPage(desc *TupleDesc, pageNo, tableID int32) *heapPage {
	numSlots := int32((PageSize - 8) / (1 + desc.BytesPerTuple()))
	return &heapPage{
		desc:     *desc,
		numSlots: numSlots,
		tuples:   make([]*Tuple, numSlots),
		pageNo:   pageNo,
		tableID:  tableID,
	}
}

func (h *heapPage) PageID() PageID { return NewPageID(h.tableID, h.pageNo) }

func (h *heapPage) IsDirty() (TransactionID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirtier, h.isDirty
}

func (h *heapPage) MarkDirty(dirty bool, tid TransactionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isDirty = dirty
	if dirty {
		h.dirtier = tid
	} else {
		h.dirtier = 0
	}
}

// BeforeImage returns a page holding this page's content as of the start
// of the current transaction's edits -- the bytes captured by the most
// recent SetBeforeImage call, or the page's current content if none was
// ever captured.
func (h *heapPage) BeforeImage() Page {
	h.mu.Lock()
	before := h.before
	h.mu.Unlock()

	if before == nil {
		buf, _ := h.toBuffer()
		before = buf.Bytes()
	}
	pg := newHeapPage(&h.desc, h.pageNo, h.tableID)
	_ = pg.initFromBuffer(bytes.NewBuffer(append([]byte{}, before...)))
	return pg
}

// SetBeforeImage captures the page's current content as its new
// before-image.
func (h *heapPage) SetBeforeImage() {
	buf, err := h.toBuffer()
	if err != nil {
		return
	}
	h.mu.Lock()
	h.before = buf.Bytes()
	h.mu.Unlock()
}

func (h *heapPage) getNumEmptySlots() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int(h.numSlots - h.numUsed)
}

// insertTuple places t in the first free slot, sets t's Rid, and returns
// errPageFull if none remain.
func (h *heapPage) insertTuple(t *Tuple) (RecordID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < int(h.numSlots); i++ {
		if h.tuples[i] == nil {
			h.tuples[i] = t
			h.numUsed++
			rid := RecordID{PageNo: h.pageNo, SlotNo: i}
			t.Rid = &rid
			return rid, nil
		}
	}
	return RecordID{}, errPageFull
}

// deleteTuple removes the tuple at rid.SlotNo.
func (h *heapPage) deleteTuple(rid RecordID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rid.SlotNo < 0 || rid.SlotNo >= int(h.numSlots) {
		return NewDbException("slot does not exist on delete", nil)
	}
	if h.tuples[rid.SlotNo] == nil {
		return NewDbException("tuple already deleted", nil)
	}
	h.tuples[rid.SlotNo] = nil
	h.numUsed--
	return nil
}

// slotOccupied/slotEmpty mark each fixed-width slot's one-byte occupancy
// flag. Slots are written at their original index rather than compacted,
// so a RecordID handed out by insertTuple keeps addressing the same tuple
// across any flush and reload: a hole left by a deleted tuple stays a
// hole, it never shifts its neighbors down a slot.
const (
	slotEmpty    byte = 0
	slotOccupied byte = 1
)

func (h *heapPage) toBuffer() (*bytes.Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, h.numSlots); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.numUsed); err != nil {
		return nil, err
	}
	for _, t := range h.tuples {
		if t == nil {
			if err := buf.WriteByte(slotEmpty); err != nil {
				return nil, err
			}
			buf.Write(make([]byte, h.desc.BytesPerTuple()))
			continue
		}
		if err := buf.WriteByte(slotOccupied); err != nil {
			return nil, err
		}
		if err := t.writeTo(buf); err != nil {
			return nil, err
		}
	}
	if buf.Len() > PageSize {
		return nil, NewDbException("serialized page exceeds page size", nil)
	}
	buf.Write(make([]byte, PageSize-buf.Len()))
	return buf, nil
}

func (h *heapPage) initFromBuffer(buf *bytes.Buffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var numSlots, numUsed int32
	if err := binary.Read(buf, binary.LittleEndian, &numSlots); err != nil {
		return err
	}
	if err := binary.Read(buf, binary.LittleEndian, &numUsed); err != nil {
		return err
	}
	tuples := make([]*Tuple, numSlots)
	for i := 0; i < int(numSlots); i++ {
		flag, err := buf.ReadByte()
		if err != nil {
			return err
		}
		if flag != slotOccupied {
			buf.Next(h.desc.BytesPerTuple())
			continue
		}
		t, err := readTupleFrom(buf, &h.desc)
		if err != nil {
			return err
		}
		rid := RecordID{PageNo: h.pageNo, SlotNo: i}
		t.Rid = &rid
		tuples[i] = t
	}
	h.numSlots = numSlots
	h.numUsed = numUsed
	h.tuples = tuples
	h.isDirty = false
	return nil
}

// tupleIter returns a function that yields each live tuple on the page in
// slot order, then (nil, nil).
func (h *heapPage) tupleIter() func() (*Tuple, error) {
	h.mu.Lock()
	tuples := append([]*Tuple{}, h.tuples...)
	h.mu.Unlock()

	i := 0
	return func() (*Tuple, error) {
		for i < len(tuples) {
			t := tuples[i]
			i++
			if t != nil {
				return t, nil
			}
		}
		return nil, nil
	}
}
