// Package proc implements PROC: the process/thread lifecycle of spec
// section 4.4 -- groups of Tasks sharing a page table, FD table and
// children list, with spawn/fork/clone/exec/exit/waitpid/reap built on
// top of SCHED and WAITQ. It is grounded on biscuit's proc_new()/Proc_t
// in kernel/main.go for the spawn path and on original_source/k-proc.cc
// for fork/exec/exit/waitpid, generalized to the spec's explicit
// group-vs-thread model (k-proc.cc's pstate_t/yield_t split).
package proc

import (
	"sync"
	"sync/atomic"

	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/pages"
)

// Perm describes a mapping's access rights; Console marks the one
// mapping fork never copies byte-for-byte (the MMIO console mapping of
// spec section 4.4's spawn algorithm).
type Perm struct {
	Writable bool
	Console  bool
}

type mapping struct {
	pa   common.Pa_t
	perm Perm
}

// AddrSpace is PROC's simulated L4 page table (spec section 3): a
// group-shared set of user virtual-to-physical mappings. It stands in
// for the literal x86-64 four-level page table biscuit/k-proc.cc walk,
// which is architecture-specific plumbing spec section 1 excludes from
// the core; what the core actually specifies (fork's per-page
// copy-or-share decision, exec's atomic swap, reap's "walk every
// writable user page") is implemented faithfully against this
// abstraction. See DESIGN.md for this Open Question's resolution.
type AddrSpace struct {
	mu    sync.Mutex
	pages map[uintptr]mapping

	refcount int32 // shared ownership across clone-siblings (spec section 9)
}

// NewAddrSpace allocates a fresh, empty address space (spawn/exec/fork
// each start from one of these).
func NewAddrSpace() *AddrSpace {
	return &AddrSpace{pages: make(map[uintptr]mapping), refcount: 1}
}

// Ref bumps the shared reference count (clone sharing the parent's
// table).
func (as *AddrSpace) Ref() *AddrSpace {
	atomic.AddInt32(&as.refcount, 1)
	return as
}

// Unref drops the reference count, freeing the address space's pages
// through alloc when it reaches zero (destroyed by last releaser, per
// spec section 9).
func (as *AddrSpace) Unref(alloc *pages.Allocator) {
	if atomic.AddInt32(&as.refcount, -1) == 0 {
		as.Destroy(alloc)
	}
}

// Map installs a page-aligned mapping.
func (as *AddrSpace) Map(va uintptr, pa common.Pa_t, perm Perm) {
	as.mu.Lock()
	as.pages[va] = mapping{pa: pa, perm: perm}
	as.mu.Unlock()
}

// Unmap removes a mapping, returning the physical address that was
// there (so the caller can free it) and whether one existed.
func (as *AddrSpace) Unmap(va uintptr) (common.Pa_t, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.pages[va]
	if ok {
		delete(as.pages, va)
	}
	return m.pa, ok
}

// Lookup returns the mapping for va, if any.
func (as *AddrSpace) Lookup(va uintptr) (common.Pa_t, Perm, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()
	m, ok := as.pages[va]
	return m.pa, m.perm, ok
}

// Clone implements the per-page fork rule of spec section 4.4: "for
// every user page in the parent: if writable (and not console),
// allocate a fresh page and byte-copy; else remap the same physical page
// with the parent's permissions." mem provides the byte view of a
// physical page for the copy (the host-memory stand-in for biscuit's
// dmap8); on memory exhaustion the partial child is destroyed and Clone
// returns ENOMEM, leaving the parent unchanged (the spec's fork failure
// semantics).
func (as *AddrSpace) Clone(alloc *pages.Allocator, mem PhysMem) (*AddrSpace, common.Err_t) {
	as.mu.Lock()
	defer as.mu.Unlock()

	child := NewAddrSpace()
	for va, m := range as.pages {
		if m.perm.Writable && !m.perm.Console {
			np := alloc.AllocPage()
			if np == 0 {
				child.Destroy(alloc)
				return nil, common.ENOMEM
			}
			copy(mem.Bytes(np), mem.Bytes(m.pa))
			child.pages[va] = mapping{pa: np, perm: m.perm}
		} else {
			child.pages[va] = mapping{pa: m.pa, perm: m.perm}
		}
	}
	return child, 0
}

// Destroy frees every writable, non-console page mapped in the address
// space (spec section 4.4's reap algorithm: "free the full page table,
// walking every writable user page"). Shared (remapped, non-writable, or
// console) pages are left alone, since some other owner holds them.
func (as *AddrSpace) Destroy(alloc *pages.Allocator) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va, m := range as.pages {
		if m.perm.Writable && !m.perm.Console {
			alloc.Free(m.pa)
		}
		delete(as.pages, va)
	}
}

// ForEach walks every mapping (used by exec's "destroy the old page
// table" step before installing the new one).
func (as *AddrSpace) ForEach(f func(va uintptr, pa common.Pa_t, perm Perm)) {
	as.mu.Lock()
	defer as.mu.Unlock()
	for va, m := range as.pages {
		f(va, m.pa, m.perm)
	}
}

// PhysMem is the byte-addressable view of physical pages that AddrSpace
// needs for fork's copy step and for program loading; cmd/pugos supplies
// a single backing arena sized to the configured physical memory.
type PhysMem interface {
	Bytes(pa common.Pa_t) []byte
}
