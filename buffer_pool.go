package minibase

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// BufferPool mediates all access to on-disk pages through a bounded,
// in-memory cache. It is the entry point for page reads/writes and for
// tuple insert/delete, and it coordinates with a LockManager to enforce
// two-phase locking. Its own mutex protects the cache and the dirty-flush
// routines; when both the buffer pool's lock and the lock manager's lock
// are needed, the buffer pool's is always acquired first, to prevent
// the two managers from deadlocking on each other.
type BufferPool struct {
	mu sync.Mutex

	maxPages int
	cache    map[PageID]Page
	lru      *lruIndex

	catalog Catalog
	logFile *LogFile
	locks   *LockManager

	// dirtiedFlushedByTx is the secondary index the flush protocol
	// maintains so crash recovery knows which on-disk pages reflect which
	// transactions.
	dirtiedFlushedByTx map[TransactionID]map[PageID]struct{}

	coldLoad singleflight.Group
}

// NewBufferPool constructs a BufferPool with the given capacity. catalog
// resolves table ids to DbFiles; logFile may be nil, in which case flushes
// skip the WAL force/write-record step entirely (used by tests that only
// care about cache/lock behavior). Both collaborators are injected rather
// than reached through a package-level singleton.
func NewBufferPool(maxPages int, catalog Catalog, logFile *LogFile) *BufferPool {
	return &BufferPool{
		maxPages:           maxPages,
		cache:              make(map[PageID]Page),
		lru:                newLRUIndex(),
		catalog:            catalog,
		logFile:            logFile,
		locks:              NewLockManager(),
		dirtiedFlushedByTx: make(map[TransactionID]map[PageID]struct{}),
	}
}

// GetPage acquires perm on pid for tid, blocking until granted or aborted,
// and returns the cached page -- loading it from disk first if necessary,
// evicting a clean victim if the cache is full.
func (bp *BufferPool) GetPage(tid TransactionID, pid PageID, perm Permission) (Page, error) {
	if err := bp.locks.RequestLock(tid, pid, perm); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	if p, ok := bp.cache[pid]; ok {
		bp.lru.touch(pid)
		bp.mu.Unlock()
		return p, nil
	}
	bp.mu.Unlock()

	// Cache miss: dedupe concurrent loads of the same page across
	// transactions into a single disk read + cache install. The lock above
	// is already held by every caller for their own tid, so this only
	// collapses the I/O, never the permission check.
	v, err, _ := bp.coldLoad.Do(pid.String(), func() (any, error) {
		bp.mu.Lock()
		if p, ok := bp.cache[pid]; ok {
			bp.mu.Unlock()
			return p, nil
		}
		if len(bp.cache) >= bp.maxPages {
			if err := bp.evictLocked(); err != nil {
				bp.mu.Unlock()
				return nil, err
			}
		}
		bp.mu.Unlock()

		file, err := bp.catalog.GetDbFile(pid.TableID)
		if err != nil {
			return nil, NewIOException("resolving db file for "+pid.String(), err)
		}
		page, err := file.ReadPage(pid.PageNo)
		if err != nil {
			return nil, NewIOException("reading page "+pid.String(), err)
		}

		bp.mu.Lock()
		bp.cache[pid] = page
		bp.lru.touch(pid)
		bp.mu.Unlock()
		return page, nil
	})
	if err != nil {
		return nil, err
	}
	p := v.(Page)
	bp.mu.Lock()
	bp.lru.touch(pid)
	bp.mu.Unlock()
	return p, nil
}

// ReleasePage delegates to the Lock Manager. Calling this mid-transaction
// is unsafe under ordinary two-phase locking; it exists only for
// specialized cases such as index-page handling during deadlock recovery.
func (bp *BufferPool) ReleasePage(tid TransactionID, pid PageID) {
	bp.locks.ReleaseLock(tid, pid)
}

// HoldsLock delegates to the Lock Manager.
func (bp *BufferPool) HoldsLock(tid TransactionID, pid PageID) bool {
	return bp.locks.HoldsLock(tid, pid)
}

// TransactionComplete flushes (commit) or reloads from disk (abort) every
// cached page tid dirtied, then releases every lock tid holds. A
// transaction that never touched a page still results in a clean
// ReleaseAllPages call.
func (bp *BufferPool) TransactionComplete(tid TransactionID, commit bool) error {
	bp.mu.Lock()
	dirtiedByTid := make([]PageID, 0)
	for pid, p := range bp.cache {
		if dirtier, ok := p.IsDirty(); ok && dirtier == tid {
			dirtiedByTid = append(dirtiedByTid, pid)
		}
	}
	bp.mu.Unlock()

	for _, pid := range dirtiedByTid {
		if commit {
			if err := bp.flushPage(pid); err != nil {
				return err
			}
		} else {
			if err := bp.reloadFromDisk(pid); err != nil {
				return err
			}
		}
	}

	if bp.logFile != nil {
		if commit {
			bp.logFile.LogCommit(tid)
		} else {
			bp.logFile.LogAbort(tid)
		}
		if err := bp.logFile.Force(); err != nil {
			return NewIOException("forcing log on transaction complete", err)
		}
	}

	bp.locks.ReleaseAllPages(tid)
	return nil
}

// reloadFromDisk installs the on-disk image of pid in place of its dirty
// in-memory version, discarding the uncommitted edits.
func (bp *BufferPool) reloadFromDisk(pid PageID) error {
	file, err := bp.catalog.GetDbFile(pid.TableID)
	if err != nil {
		return NewIOException("resolving db file for "+pid.String(), err)
	}
	page, err := file.ReadPage(pid.PageNo)
	if err != nil {
		return NewIOException("reloading page "+pid.String(), err)
	}
	bp.mu.Lock()
	bp.cache[pid] = page
	bp.mu.Unlock()
	return nil
}

// InsertTuple looks up the DbFile for tableID, delegates insertion to it,
// and marks every page it dirtied with tid.
func (bp *BufferPool) InsertTuple(tid TransactionID, tableID int32, t *Tuple) error {
	file, err := bp.catalog.GetDbFile(tableID)
	if err != nil {
		return NewIOException("resolving db file for table insert", err)
	}
	dirtied, err := file.InsertTuple(tid, t)
	if err != nil {
		return err
	}
	bp.mu.Lock()
	for _, p := range dirtied {
		p.MarkDirty(true, tid)
		bp.cache[p.PageID()] = p
		bp.lru.touch(p.PageID())
	}
	bp.mu.Unlock()
	return nil
}

// DeleteTuple looks up the DbFile for tableID, delegates deletion of t to
// it, and marks the dirtied page with tid. The table comes from tableID, not
// from t's record id, which names only a page and slot within that table.
func (bp *BufferPool) DeleteTuple(tid TransactionID, tableID int32, t *Tuple) error {
	file, err := bp.catalog.GetDbFile(tableID)
	if err != nil {
		return NewIOException("resolving db file for table delete", err)
	}
	dirtied, err := file.DeleteTuple(tid, t)
	if err != nil {
		return err
	}
	dirtied.MarkDirty(true, tid)
	bp.mu.Lock()
	bp.cache[dirtied.PageID()] = dirtied
	bp.lru.touch(dirtied.PageID())
	bp.mu.Unlock()
	return nil
}

// FlushAllPages flushes every cached dirty page. It is used only outside
// regular transaction flow (testing, shutdown) -- calling it during an
// active transaction breaks NO-STEAL.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	pids := make([]PageID, 0, len(bp.cache))
	for pid := range bp.cache {
		pids = append(pids, pid)
	}
	bp.mu.Unlock()

	for _, pid := range pids {
		if err := bp.flushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

// FlushPages flushes every cached page currently dirtied by tid.
func (bp *BufferPool) FlushPages(tid TransactionID) error {
	bp.mu.Lock()
	pids := make([]PageID, 0)
	for pid, p := range bp.cache {
		if dirtier, ok := p.IsDirty(); ok && dirtier == tid {
			pids = append(pids, pid)
		}
	}
	bp.mu.Unlock()

	for _, pid := range pids {
		if err := bp.flushPage(pid); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPage removes pid from the cache without flushing, used by the
// recovery path to drop rolled-back pages.
func (bp *BufferPool) DiscardPage(pid PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if _, ok := bp.cache[pid]; ok {
		delete(bp.cache, pid)
		bp.lru.remove(pid)
	}
	bp.locks.RemovePage(pid)
}

// flushPage implements the WAL flush protocol: no-op if the page isn't
// cached or isn't dirty, otherwise force a log record (before-image,
// after-image) for the dirtying transaction, strictly before writing the
// page, then clear the dirty bit.
func (bp *BufferPool) flushPage(pid PageID) error {
	bp.mu.Lock()
	page, ok := bp.cache[pid]
	bp.mu.Unlock()
	if !ok {
		return nil
	}

	dirtier, isDirty := page.IsDirty()
	if !isDirty {
		return nil
	}

	bp.mu.Lock()
	if bp.dirtiedFlushedByTx[dirtier] == nil {
		bp.dirtiedFlushedByTx[dirtier] = make(map[PageID]struct{})
	}
	bp.dirtiedFlushedByTx[dirtier][pid] = struct{}{}
	bp.mu.Unlock()

	if bp.logFile != nil {
		if err := bp.logFile.LogUpdate(dirtier, page.BeforeImage(), page); err != nil {
			return NewIOException("logging update for "+pid.String(), err)
		}
		if err := bp.logFile.Force(); err != nil {
			return NewIOException("forcing log before page write", err)
		}
	}

	file, err := bp.catalog.GetDbFile(pid.TableID)
	if err != nil {
		return NewIOException("resolving db file for flush", err)
	}
	if err := file.WritePage(page); err != nil {
		return NewIOException("writing page "+pid.String(), err)
	}

	page.MarkDirty(false, 0)
	page.SetBeforeImage()
	return nil
}

// evictLocked picks a clean LRU victim and flushes (a no-op write for a
// clean page) and removes it from the cache. Must be called with bp.mu
// held. Fails with a DbException if every cached page is dirty.
func (bp *BufferPool) evictLocked() error {
	for _, pid := range bp.lru.victims() {
		page, ok := bp.cache[pid]
		if !ok {
			continue
		}
		if _, dirty := page.IsDirty(); dirty {
			continue
		}

		bp.mu.Unlock()
		err := bp.flushPage(pid)
		bp.mu.Lock()
		if err != nil {
			return NewDbException("io error flushing victim during eviction", err)
		}

		delete(bp.cache, pid)
		bp.lru.remove(pid)
		return nil
	}
	return NewDbException("all pages dirty -- cannot evict", nil)
}
