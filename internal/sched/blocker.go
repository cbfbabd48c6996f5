package sched

import (
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
)

// Blocker adapts a running Task's Yielder to waitq.Blocker, letting PROC
// (or any caller inside a Task's Body) use waitq.PredicateWait without
// waitq needing to know anything about sched.Task or sched.Scheduler.
type Blocker struct {
	s *Scheduler
	y *Yielder
}

// NewBlocker builds a Blocker bound to the currently executing task's
// Yielder, for use only from within that task's Body.
func NewBlocker(s *Scheduler, y *Yielder) *Blocker {
	return &Blocker{s: s, y: y}
}

func (b *Blocker) MarkBlocked() { b.y.Task().SetState(common.Blocked) }

func (b *Blocker) MarkRunnable(t waitq.Waitable) {
	st := t.(*Task)
	st.SetState(common.Runnable)
	b.s.Enqueue(st)
}

func (b *Blocker) Yield() { b.y.Block() }

func (b *Blocker) Self() waitq.Waitable { return b.y.Task() }

// CooperativeYield implements PROC's YIELD syscall (spec section 6):
// give up the CPU while remaining Runnable, re-entering the run queue
// through cpu.go's step rather than parking on a wait queue the way
// Yield (waitq.Blocker's cancellation-aware Yield, used from inside
// PredicateWait) does.
func (b *Blocker) CooperativeYield() { b.y.Yield() }
