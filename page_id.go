package minibase

import "fmt"

// pageNoPrime is the constant the hash formula multiplies the table id by.
// It only needs to be coprime with common table-id and page-count values;
// its value is carried over from the source system unchanged.
const pageNoPrime = 1_048_573

// PageID is an immutable identifier for a single page: a (table, page
// number) pair. Equality is value-based over both fields, which lets PageID
// be used directly as a map key everywhere the buffer pool and lock manager
// need one.
type PageID struct {
	TableID int32
	PageNo  int32
}

// NewPageID constructs a PageID for the given table and page number.
func NewPageID(tableID, pageNo int32) PageID {
	return PageID{TableID: tableID, PageNo: pageNo}
}

// Hash returns the source system's value-based hash of the PageID. Go maps
// already use struct equality for PageID keys, so nothing in this package
// calls Hash to implement the cache, lock, or singleflight keys -- those use
// PageID and its String form directly, since Hash is lossy (pages of
// different tables can collide, e.g. (0,1048573) and (1,0)). It is carried over from the
// original source as a testable property in its own right.
func (p PageID) Hash() int64 {
	return int64(p.TableID)*pageNoPrime + int64(p.PageNo) + 31
}

// Serialize returns the wire form of a PageID: the integer pair
// [table_id, page_number].
func (p PageID) Serialize() [2]int32 {
	return [2]int32{p.TableID, p.PageNo}
}

// DeserializePageID reconstructs a PageID from its serialized form.
func DeserializePageID(data [2]int32) PageID {
	return PageID{TableID: data[0], PageNo: data[1]}
}

func (p PageID) String() string {
	return fmt.Sprintf("(%d,%d)", p.TableID, p.PageNo)
}
