package proc

import (
	"sync"

	"github.com/CS161/PugOS/internal/waitq"
)

// Group is the process abstraction of spec section 4.4: the set of
// Tasks (threads) sharing one address space, one FD table and one
// children list, identified by group_id. ParentID is a plain pid, never
// an owning pointer (spec section 9's design note on cyclic parent/child
// references); Children is the owning forward direction.
type Group struct {
	ID       int
	ParentID int

	mu       sync.Mutex
	Children map[int]bool
	Threads  map[int]*Task
	NThreads int

	AS      *AddrSpace
	FDs     *FDTable
	WaitPid waitq.WaitQueue

	Exited     bool
	ExitStatus int
}

func newGroup(id, parentID int, as *AddrSpace, fds *FDTable) *Group {
	return &Group{
		ID:       id,
		ParentID: parentID,
		Children: make(map[int]bool),
		Threads:  make(map[int]*Task),
		AS:       as,
		FDs:      fds,
	}
}

func (g *Group) addThreadLocked(t *Task) {
	g.Threads[t.ID] = t
	g.NThreads++
}

func (g *Group) removeThreadLocked(tid int) {
	delete(g.Threads, tid)
	g.NThreads--
}

func (g *Group) addChild(pid int) {
	g.mu.Lock()
	g.Children[pid] = true
	g.mu.Unlock()
}

func (g *Group) removeChild(pid int) {
	g.mu.Lock()
	delete(g.Children, pid)
	g.mu.Unlock()
}
