// Package bufc implements BUFC: the bounded, associative disk buffer
// cache of spec section 4.5 -- LRU/prefetch/dirty lists over a fixed
// array of slots, get/put reference counting, get_write/put_write
// exclusive write references, and sync/drop. It is grounded on
// original_source/k-chkfs.cc's bufcache_t (the slot-selection and
// prefetch algorithm below follows its later snapshot per spec section
// 9's Open Question resolution) and on biscuit's circbuf_t for the
// lazy-allocate-buffer-on-first-use pattern in kernel/main.go.
package bufc

import (
	"sync"

	"github.com/CS161/PugOS/internal/blockdev"
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
	"golang.org/x/sync/semaphore"
)

// NE is the fixed slot count of spec section 3.
const NE = 100

// NPrefetch is the prefetch quota (NE/5), enforced with a weighted
// semaphore (golang.org/x/sync/semaphore) instead of a hand-counted
// variable, grounded in hanwen-go-fuse's dependency on the same module.
const NPrefetch = NE / 5

const emptyBn = ^uint64(0)

type entryFlag uint8

const (
	flagLoaded entryFlag = 1 << iota
	flagLoading
)

// entry is one BufEntry slot (spec section 3). List membership is
// tracked with index-based intrusive links into BufCache.entries, per
// spec section 9's design note -- this array is exactly the kind of
// fixed, pre-sized backing store that note is written for.
type entry struct {
	bn            uint64
	buf           []byte
	refs          int32
	writeRefs     int32
	flags         entryFlag
	fetchStatus   int32
	wasPrefetched bool
	dirty         bool

	emu     sync.Mutex     // per-entry lock (flags/buf init), locking hierarchy level 4
	writeWQ waitq.WaitQueue // wakes waiters blocked in GetWrite on this entry

	lruNext, lruPrev   int
	pfNext, pfPrev     int
	dirtyNext, dirtyPrev int
	onLRU, onPF, onDirty bool
}

const noIdx = -1

// Cache is a BUFC instance.
type Cache struct {
	mu      sync.Mutex // cache-wide metadata lock, locking hierarchy level 3
	entries [NE]entry

	lruHead, lruTail int
	pfHead, pfTail   int
	dirtyHead, dirtyTail int

	diskWQ waitq.WaitQueue

	driver blockdev.Driver
	pfSem  *semaphore.Weighted

	log Logger
}

// Logger is the minimal structured-logging sink BUFC writes consistency
// warnings to (disk read errors); cmd/pugos wires
// internal/klog's logrus.Logger in here.
type Logger interface {
	Warnf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...interface{}) {}

// New builds a Cache fronting driver.
func New(driver blockdev.Driver, log Logger) *Cache {
	if log == nil {
		log = nopLogger{}
	}
	c := &Cache{driver: driver, pfSem: semaphore.NewWeighted(int64(NPrefetch)), log: log}
	c.lruHead, c.lruTail = noIdx, noIdx
	c.pfHead, c.pfTail = noIdx, noIdx
	c.dirtyHead, c.dirtyTail = noIdx, noIdx
	for i := range c.entries {
		c.entries[i].bn = emptyBn
		c.entries[i].lruNext, c.entries[i].lruPrev = noIdx, noIdx
		c.entries[i].pfNext, c.entries[i].pfPrev = noIdx, noIdx
		c.entries[i].dirtyNext, c.entries[i].dirtyPrev = noIdx, noIdx
	}
	return c
}

// Entry is the handle callers hold: an index into the cache plus the
// block number it was obtained for.
type Entry struct {
	c   *Cache
	idx int
	bn  uint64
}

// Buf returns the entry's backing buffer, valid for the lifetime of the
// caller's reference.
func (e *Entry) Buf() []byte { return e.c.entries[e.idx].buf }

// BN returns the entry's block number.
func (e *Entry) BN() uint64 { return e.bn }

func (c *Cache) lruRemove(i int) {
	e := &c.entries[i]
	if !e.onLRU {
		return
	}
	if e.lruPrev != noIdx {
		c.entries[e.lruPrev].lruNext = e.lruNext
	} else {
		c.lruHead = e.lruNext
	}
	if e.lruNext != noIdx {
		c.entries[e.lruNext].lruPrev = e.lruPrev
	} else {
		c.lruTail = e.lruPrev
	}
	e.lruNext, e.lruPrev, e.onLRU = noIdx, noIdx, false
}

func (c *Cache) lruPushTail(i int) {
	e := &c.entries[i]
	e.lruPrev = c.lruTail
	e.lruNext = noIdx
	if c.lruTail != noIdx {
		c.entries[c.lruTail].lruNext = i
	} else {
		c.lruHead = i
	}
	c.lruTail = i
	e.onLRU = true
}

func (c *Cache) pfRemove(i int) {
	e := &c.entries[i]
	if !e.onPF {
		return
	}
	if e.pfPrev != noIdx {
		c.entries[e.pfPrev].pfNext = e.pfNext
	} else {
		c.pfHead = e.pfNext
	}
	if e.pfNext != noIdx {
		c.entries[e.pfNext].pfPrev = e.pfPrev
	} else {
		c.pfTail = e.pfPrev
	}
	e.pfNext, e.pfPrev, e.onPF = noIdx, noIdx, false
}

func (c *Cache) pfPushFront(i int) {
	e := &c.entries[i]
	e.pfNext = c.pfHead
	e.pfPrev = noIdx
	if c.pfHead != noIdx {
		c.entries[c.pfHead].pfPrev = i
	} else {
		c.pfTail = i
	}
	c.pfHead = i
	e.onPF = true
}

func (c *Cache) dirtyRemove(i int) {
	e := &c.entries[i]
	if !e.onDirty {
		return
	}
	if e.dirtyPrev != noIdx {
		c.entries[e.dirtyPrev].dirtyNext = e.dirtyNext
	} else {
		c.dirtyHead = e.dirtyNext
	}
	if e.dirtyNext != noIdx {
		c.entries[e.dirtyNext].dirtyPrev = e.dirtyPrev
	} else {
		c.dirtyTail = e.dirtyPrev
	}
	e.dirtyNext, e.dirtyPrev, e.onDirty = noIdx, noIdx, false
}

func (c *Cache) dirtyPushTail(i int) {
	e := &c.entries[i]
	if e.onDirty {
		return
	}
	e.dirtyPrev = c.dirtyTail
	e.dirtyNext = noIdx
	if c.dirtyTail != noIdx {
		c.entries[c.dirtyTail].dirtyNext = i
	} else {
		c.dirtyHead = i
	}
	c.dirtyTail = i
	e.onDirty = true
}

// findByBN scans for bn already resident; O(NE), matching spec.md's own
// fixed small slot count (NE=100) rather than adding an index structure
// the spec never names.
func (c *Cache) findByBN(bn uint64) int {
	for i := range c.entries {
		if c.entries[i].bn == bn {
			return i
		}
	}
	return -1
}

// selectSlot implements spec section 4.5's slot-selection algorithm
// under the cache lock, returning the chosen slot index, or -1 ("no
// slot").
func (c *Cache) selectSlot(bn uint64) int {
	if i := c.findByBN(bn); i != -1 {
		c.lruRemove(i)
		return i
	}
	for i := range c.entries {
		if c.entries[i].bn == emptyBn {
			return i
		}
	}
	for i := c.lruHead; i != noIdx; i = c.entries[i].lruNext {
		e := &c.entries[i]
		if e.refs == 0 && !e.dirty {
			c.lruRemove(i)
			c.evictLocked(i)
			return i
		}
	}
	for i := c.pfTail; i != noIdx; i = c.entries[i].pfPrev {
		e := &c.entries[i]
		if e.wasPrefetched && e.flags&flagLoading == 0 {
			c.pfRemove(i)
			c.evictLocked(i)
			return i
		}
	}
	return -1
}

func (c *Cache) evictLocked(i int) {
	e := &c.entries[i]
	e.buf = nil
	e.bn = emptyBn
	e.refs = 0
	e.writeRefs = 0
	e.flags = 0
	e.fetchStatus = int32(blockdev.Again)
	e.wasPrefetched = false
	e.dirty = false
}

// entryMutexAdapter lets PredicateWait guard a single entry's
// fetch_status/flags with its own per-entry lock, so one slow fetch
// never blocks GetDiskEntry calls against unrelated blocks the way
// holding Cache.mu for the whole load would.
type entryMutexAdapter struct{ e *entry }

func (a *entryMutexAdapter) Lock()   { a.e.emu.Lock() }
func (a *entryMutexAdapter) Unlock() { a.e.emu.Unlock() }

// GetDiskEntry implements get_disk_entry: returns a ref-incremented
// Entry for bn, loading and prefetching on first touch. cleaner, if
// non-nil, runs once after a fresh load (used to zero an inode block's
// memory-only overlay fields).
func (c *Cache) GetDiskEntry(blk waitq.Blocker, bn uint64, cleaner func([]byte)) (*Entry, common.Err_t) {
	c.mu.Lock()
	i := c.selectSlot(bn)
	if i == -1 {
		c.mu.Unlock()
		return nil, common.ENOMEM
	}
	freshlyInstalled := c.entries[i].bn != bn
	c.entries[i].bn = bn
	c.entries[i].refs++
	c.lruPushTail(i)
	c.mu.Unlock()

	if err := c.ensureLoaded(blk, i, cleaner); err != 0 {
		c.PutEntry(&Entry{c: c, idx: i, bn: bn})
		return nil, err
	}
	if freshlyInstalled {
		c.prefetchFrom(bn)
	}
	return &Entry{c: c, idx: i, bn: bn}, 0
}

// ensureLoaded implements spec section 4.5's load path: the first
// caller to see an unloaded entry issues the read, every caller
// (including that one) then predicate-waits on the cache's disk wait
// queue until fetch_status leaves AGAIN.
func (c *Cache) ensureLoaded(blk waitq.Blocker, i int, cleaner func([]byte)) common.Err_t {
	e := &c.entries[i]
	adapter := &entryMutexAdapter{e: e}
	adapter.Lock()
	if e.flags&flagLoaded != 0 {
		e.emu.Unlock()
		return 0
	}
	if e.flags&flagLoading == 0 {
		if e.buf == nil {
			e.buf = make([]byte, blockdev.BlockSize)
		}
		e.flags |= flagLoading
		e.fetchStatus = int32(blockdev.Again)
		bn := e.bn
		buf := e.buf
		e.emu.Unlock()
		c.driver.ReadNonblocking(bn, buf, &e.fetchStatus, &c.diskWQ)
		e.emu.Lock()
	}

	waitq.PredicateWait(blk, &c.diskWQ, adapter, nil, func() bool {
		return blockdev.Status(e.fetchStatus) != blockdev.Again
	})

	st := blockdev.Status(e.fetchStatus)
	if e.flags&flagLoading != 0 {
		e.flags &^= flagLoading
		e.flags |= flagLoaded
	}
	bn := e.bn
	buf := e.buf
	e.emu.Unlock()

	if st == blockdev.IOErr {
		c.log.Warnf("bufc: read error on block %d", bn)
		return common.EIO
	}
	if cleaner != nil {
		cleaner(buf)
	}
	return 0
}

// prefetchFrom attempts up to NPrefetch consecutive successor blocks,
// bounded by the weighted semaphore instead of a hand-counted variable.
func (c *Cache) prefetchFrom(bn uint64) {
	for off := uint64(1); off <= NPrefetch; off++ {
		nbn := bn + off
		if nbn >= c.driver.NBlocks() {
			break
		}
		if !c.pfSem.TryAcquire(1) {
			break
		}
		c.mu.Lock()
		if c.findByBN(nbn) != -1 {
			c.mu.Unlock()
			c.pfSem.Release(1)
			continue
		}
		i := c.selectSlot(nbn)
		if i == -1 {
			c.mu.Unlock()
			c.pfSem.Release(1)
			break
		}
		c.entries[i].bn = nbn
		c.entries[i].wasPrefetched = true
		c.pfPushFront(i)
		c.mu.Unlock()

		e := &c.entries[i]
		e.emu.Lock()
		if e.buf == nil {
			e.buf = make([]byte, blockdev.BlockSize)
		}
		e.flags |= flagLoading
		e.fetchStatus = int32(blockdev.Again)
		buf := e.buf
		e.emu.Unlock()
		c.driver.ReadNonblocking(nbn, buf, &e.fetchStatus, &c.diskWQ)
		c.pfSem.Release(1)
	}
}

// observePrefetchLoaded moves a prefetched entry back to the LRU list
// once it is seen Loaded, per spec section 4.5.
func (c *Cache) observePrefetchLoaded(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &c.entries[i]
	if e.onPF && e.flags&flagLoaded != 0 {
		c.pfRemove(i)
		c.lruPushTail(i)
	}
}

// PutEntry decrements refs (no-op for a pinned entry such as the
// superblock, modeled by refs never reaching 0 for it since the caller
// never releases the pin reference).
func (c *Cache) PutEntry(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries[e.idx].bn != e.bn {
		return // stale handle after eviction/reuse
	}
	c.entries[e.idx].refs--
}

// GetWrite acquires the exclusive write reference of spec section 4.5,
// predicate-waiting until write_refs == 0, then marking the entry dirty.
func (c *Cache) GetWrite(blk waitq.Blocker, e *Entry) common.Err_t {
	adapter := &cacheMutexAdapter{c: c}
	adapter.Lock()
	waitq.PredicateWait(blk, &c.entries[e.idx].writeWQ, adapter, nil, func() bool {
		return c.entries[e.idx].writeRefs == 0
	})
	c.entries[e.idx].writeRefs = 1
	c.entries[e.idx].dirty = true
	c.dirtyPushTail(e.idx)
	c.mu.Unlock()
	return 0
}

// cacheMutexAdapter lets PredicateWait use Cache.mu as the external
// mutex for GetWrite without exposing sync.Mutex's Lock/Unlock on Cache
// itself (which would invite callers to bypass the API).
type cacheMutexAdapter struct{ c *Cache }

func (a *cacheMutexAdapter) Lock()   { a.c.mu.Lock() }
func (a *cacheMutexAdapter) Unlock() { a.c.mu.Unlock() }

// PutWrite releases the write reference taken by GetWrite.
func (c *Cache) PutWrite(e *Entry) {
	c.mu.Lock()
	c.entries[e.idx].writeRefs = 0
	c.mu.Unlock()
	waitq.WakeAll(&c.entries[e.idx].writeWQ)
}

// Sync implements spec section 4.5's sync(drop): flush the dirty list,
// then optionally evict every eligible entry.
func (c *Cache) Sync(blk waitq.Blocker, drop bool) common.Err_t {
	c.mu.Lock()
	var dirtyIdx []int
	for i := c.dirtyHead; i != noIdx; i = c.entries[i].dirtyNext {
		dirtyIdx = append(dirtyIdx, i)
	}
	c.dirtyHead, c.dirtyTail = noIdx, noIdx
	for _, i := range dirtyIdx {
		c.entries[i].onDirty = false
		c.entries[i].dirtyNext, c.entries[i].dirtyPrev = noIdx, noIdx
	}
	c.mu.Unlock()

	var firstErr common.Err_t
	for _, i := range dirtyIdx {
		ent := &Entry{c: c, idx: i, bn: c.entries[i].bn}
		if err := c.GetWrite(blk, ent); err != 0 {
			if firstErr == 0 {
				firstErr = err
			}
			continue
		}
		if err := c.driver.WriteSync(c.entries[i].bn, c.entries[i].buf); err != 0 {
			if firstErr == 0 {
				firstErr = err
			}
		}
		c.mu.Lock()
		c.entries[i].dirty = false
		c.mu.Unlock()
		c.PutWrite(ent)
	}

	if drop {
		c.mu.Lock()
		for i := range c.entries {
			e := &c.entries[i]
			if e.bn != emptyBn && e.refs == 0 && !e.wasPrefetched && !e.dirty {
				c.lruRemove(i)
				c.pfRemove(i)
				c.evictLocked(i)
			}
		}
		c.mu.Unlock()
	}
	return firstErr
}

// GetDiskBlock is get_disk_block(bn) = get_disk_entry(bn).buf.
func (c *Cache) GetDiskBlock(blk waitq.Blocker, bn uint64) ([]byte, common.Err_t) {
	e, err := c.GetDiskEntry(blk, bn, nil)
	if err != 0 {
		return nil, err
	}
	return e.Buf(), 0
}

// Stats reports resident/dirty/prefetched slot counts (spec section 9
// supplement).
type Stats struct {
	Resident, Dirty, Prefetched, Refed int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s Stats
	for i := range c.entries {
		e := &c.entries[i]
		if e.bn == emptyBn {
			continue
		}
		s.Resident++
		if e.dirty {
			s.Dirty++
		}
		if e.wasPrefetched {
			s.Prefetched++
		}
		if e.refs > 0 {
			s.Refed++
		}
	}
	return s
}
