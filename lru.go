package minibase

import "container/list"

// lruIndex is a recency list over cached PageIDs: true LRU among clean
// pages, most-recently touched at the front. The original source declares
// an LruCache field it never uses; this fills that gap in.
type lruIndex struct {
	list *list.List
	elem map[PageID]*list.Element
}

func newLRUIndex() *lruIndex {
	return &lruIndex{list: list.New(), elem: make(map[PageID]*list.Element)}
}

// touch records an access to pid, moving it to the front if already
// tracked or inserting it there if not.
func (l *lruIndex) touch(pid PageID) {
	if e, ok := l.elem[pid]; ok {
		l.list.MoveToFront(e)
		return
	}
	l.elem[pid] = l.list.PushFront(pid)
}

// remove drops pid from the recency list.
func (l *lruIndex) remove(pid PageID) {
	if e, ok := l.elem[pid]; ok {
		l.list.Remove(e)
		delete(l.elem, pid)
	}
}

// victims returns tracked PageIDs ordered from least to most recently used,
// for the eviction scan to walk over.
func (l *lruIndex) victims() []PageID {
	out := make([]PageID, 0, l.list.Len())
	for e := l.list.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(PageID))
	}
	return out
}
