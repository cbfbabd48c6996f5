// Package pages implements PAGES: a buddy allocator over a bounded,
// simulated physical address space (spec section 4.1). It is grounded on
// biscuit's kernel/main.go phys_init()/physmem machinery and on
// k-alloc.cc's find_left_bit/buddy-merge algorithm in original_source,
// but replaces biscuit's linked free-page-frame array (meant for a real
// physical memory map) with the spec's per-order free lists of
// PhysicalPage entries, since that is the data model spec.md section 3
// actually specifies.
package pages

import (
	"fmt"
	"sync"

	"github.com/CS161/PugOS/internal/common"
)

const (
	MinOrder = common.MinOrder
	MaxOrder = common.MaxOrder
	PageSize = common.PGSIZE
)

// RangeKind tells Init whether a physical range is available for the
// allocator's free lists or is reserved (e.g. kernel image, MMIO hole).
type RangeKind int

const (
	Available RangeKind = iota
	Reserved
)

// Range describes one contiguous span of the physical address space
// supplied to Init, e.g. parsed from an e820-style map.
type Range struct {
	Start uintptr
	End   uintptr
	Kind  RangeKind
}

// page is one entry in the static per-frame array (spec section 3:
// PhysicalPage). Only head frames (the start of their order's block)
// ever carry meaningful order/allocated state; non-head frames are
// unused entries per the spec invariant.
type page struct {
	order     int
	allocated bool
	// next/prev are frame-number links (§9 design note: intrusive lists
	// as index-based arena links, not pointers) within pages[order]'s
	// free list. -1 means "no link".
	next, prev int
}

const noLink = -1

// Allocator is the buddy allocator instance. A kernel normally has one,
// but the type is not a singleton so tests can build independent
// instances.
type Allocator struct {
	mu        sync.Mutex
	pages     []page
	freeHeads [MaxOrder + 1]int // frame number of free-list head per order, or noLink
	base      uintptr           // physical address of pages[0]
	memSize   uintptr           // MEMSIZE_PHYSICAL: frames at/after this are not covered
	arena     []byte            // host-memory backing store, one byte per simulated physical byte

	// FailInjected, when non-nil, is consulted on every Alloc before the
	// real search; returning true makes Alloc behave as out-of-memory.
	// Used by tests exercising ENOMEM paths without exhausting a large
	// arena, in the spirit of biscuit's main.go _fakefail failure
	// injection hook.
	FailInjected func(order int) bool
}

// New builds an Allocator whose frame array covers [base, base+memSize)
// and initializes free lists from ranges, following spec section 4.1's
// Initialization algorithm.
func New(base, memSize uintptr, ranges []Range) (*Allocator, error) {
	if memSize%PageSize != 0 {
		return nil, fmt.Errorf("pages: memSize %#x not page aligned", memSize)
	}
	a := &Allocator{
		base:    base,
		memSize: memSize,
		pages:   make([]page, memSize/PageSize),
		arena:   make([]byte, memSize),
	}
	for o := range a.freeHeads {
		a.freeHeads[o] = noLink
	}
	for _, r := range ranges {
		a.initRange(r)
	}
	return a, nil
}

func (a *Allocator) frameOf(addr uintptr) int {
	return int((addr - a.base) / PageSize)
}

func (a *Allocator) addrOf(frame int) uintptr {
	return a.base + uintptr(frame)*PageSize
}

// findMaxOrder returns the largest order o such that addr is 2^o-aligned
// and addr+2^o <= end, or -1 if even a MinOrder-sized, aligned block
// does not fit (spec section 8's concrete test vectors pin this
// function's exact behavior).
func findMaxOrder(addr, end uintptr) int {
	best := -1
	for o := MinOrder; o <= MaxOrder; o++ {
		sz := uintptr(1) << uint(o)
		if addr%sz != 0 {
			break
		}
		if addr+sz > end {
			break
		}
		best = o
	}
	return best
}

func (a *Allocator) initRange(r Range) {
	addr := r.Start
	end := r.End
	if end > a.base+a.memSize {
		end = a.base + a.memSize
	}
	if addr < a.base {
		addr = a.base
	}
	for addr < end {
		if addr == 0 {
			// Physical address 0 is the null address Alloc reports
			// failure with, so its frame is never handed out.
			a.pages[a.frameOf(addr)].order = MinOrder
			a.pages[a.frameOf(addr)].allocated = true
			addr += PageSize
			continue
		}
		o := findMaxOrder(addr, end)
		if o < 0 {
			// smaller than a MIN_ORDER block and mis-aligned: skip one
			// page and keep scanning, matching the spec's "advance by
			// 2^o and repeat" loop degenerating gracefully at odd tails.
			addr += PageSize
			continue
		}
		frame := a.frameOf(addr)
		a.pages[frame].order = o
		if r.Kind == Available {
			a.pages[frame].allocated = false
			a.pushFree(o, frame)
		} else {
			a.pages[frame].allocated = true
		}
		addr += uintptr(1) << uint(o)
	}
}

func (a *Allocator) pushFree(order, frame int) {
	head := a.freeHeads[order]
	a.pages[frame].next = head
	a.pages[frame].prev = noLink
	if head != noLink {
		a.pages[head].prev = frame
	}
	a.freeHeads[order] = frame
}

func (a *Allocator) popFree(order int) (int, bool) {
	head := a.freeHeads[order]
	if head == noLink {
		return 0, false
	}
	a.removeFree(order, head)
	return head, true
}

func (a *Allocator) removeFree(order, frame int) {
	p := &a.pages[frame]
	if p.prev != noLink {
		a.pages[p.prev].next = p.next
	} else {
		a.freeHeads[order] = p.next
	}
	if p.next != noLink {
		a.pages[p.next].prev = p.prev
	}
	p.next, p.prev = noLink, noLink
}

// Alloc implements the spec section 4.1 allocation algorithm: order =
// ceil(log2(max(size, 2^MinOrder))); returns 0 (a null physical address)
// on failure rather than panicking, per the spec's failure semantics.
func (a *Allocator) Alloc(size uintptr) common.Pa_t {
	if size == 0 {
		return 0
	}
	order := common.RoundUpOrder(size)
	return a.AllocOrder(order)
}

// AllocPage is alloc_page() = alloc(PAGESIZE).
func (a *Allocator) AllocPage() common.Pa_t {
	return a.Alloc(PageSize)
}

// AllocOrder allocates a block of the given order directly.
func (a *Allocator) AllocOrder(order int) common.Pa_t {
	if order > MaxOrder {
		return 0
	}
	if order < MinOrder {
		order = MinOrder
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailInjected != nil && a.FailInjected(order) {
		return 0
	}

	o := order
	for o <= MaxOrder && a.freeHeads[o] == noLink {
		o++
	}
	if o > MaxOrder {
		return 0
	}
	// split down from o to order
	for o > order {
		frame, ok := a.popFree(o)
		if !ok {
			panic("pages: free list inconsistent during split")
		}
		o--
		a.pages[frame].order = o
		a.pushFree(o, frame)
		buddy := frame ^ int((uintptr(1)<<uint(o))/PageSize)
		if buddy >= len(a.pages) {
			panic("pages: buddy split out of range")
		}
		a.pages[buddy].order = o
		a.pages[buddy].allocated = false
		a.pushFree(o, buddy)
	}

	frame, ok := a.popFree(order)
	if !ok {
		panic("pages: order became non-empty then empty under lock")
	}
	a.pages[frame].allocated = true
	return common.Pa_t(a.addrOf(frame))
}

// Free implements the spec section 4.1 free algorithm, recursively
// coalescing with the buddy block. Free(0) is a no-op (spec's "no-op on
// null").
func (a *Allocator) Free(p common.Pa_t) {
	if p == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	frame := a.frameOf(uintptr(p))
	if frame < 0 || frame >= len(a.pages) {
		panic("pages: free of out-of-range address")
	}
	order := a.pages[frame].order
	if !a.pages[frame].allocated {
		panic("pages: double free")
	}
	if uintptr(p)%(uintptr(1)<<uint(order)) != 0 {
		panic("pages: misaligned free")
	}
	a.pages[frame].allocated = false
	// zero the region of 2^order bytes (spec section 4.1's free algorithm)
	off := uintptr(p) - a.base
	clear(a.arena[off : off+(uintptr(1)<<uint(order))])

	for order < MaxOrder {
		buddy := frame ^ int((uintptr(1)<<uint(order))/PageSize)
		if buddy >= len(a.pages) {
			break
		}
		if a.pages[buddy].allocated || a.pages[buddy].order != order {
			break
		}
		a.removeFree(order, buddy)
		if buddy < frame {
			frame = buddy
		}
		order++
		a.pages[frame].order = order
	}
	a.pages[frame].order = order
	a.pushFree(order, frame)
}

// Stats reports the free-block count per order, the §9 "memory viewer"
// data minus the excluded renderer.
func (a *Allocator) Stats() [MaxOrder + 1]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out [MaxOrder + 1]int
	for o := MinOrder; o <= MaxOrder; o++ {
		n := 0
		for f := a.freeHeads[o]; f != noLink; f = a.pages[f].next {
			n++
		}
		out[o] = n
	}
	return out
}

// FindMaxOrder exposes findMaxOrder for the concrete test vectors in
// spec section 8.
func FindMaxOrder(addr, end uintptr) int {
	return findMaxOrder(addr, end)
}

// Bytes returns the host-memory view backing the page at pa, sized to
// one PAGESIZE page. It implements proc.PhysMem so fork's copy step and
// the program loader can read/write simulated physical memory directly.
func (a *Allocator) Bytes(pa common.Pa_t) []byte {
	off := uintptr(pa) - a.base
	return a.arena[off : off+PageSize]
}
