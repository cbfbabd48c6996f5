package sched

import (
	"sync"
	"sync/atomic"

	"github.com/CS161/PugOS/internal/common"
)

// CPU is one simulated per-CPU scheduler (spec section 4.3): its own run
// queue, its own idle task, and a spinlock-depth counter enforcing the
// "never suspend while holding a spinlock" discipline of spec section 5.
// One CPU drives one Go goroutine (its Loop), standing in for the
// architecture-specific "own stack, interrupts disabled" execution
// context spec section 1 excludes from the core.
type CPU struct {
	ID int

	rqMu       sync.Mutex
	head, tail *Task
	current    *Task

	idle     *Task
	idleOnce sync.Once

	spinDepth int32
	IdleTicks uint64

	stopCh chan struct{}
	doneCh chan struct{}

	sched *Scheduler
}

func newCPU(id int, s *Scheduler) *CPU {
	return &CPU{ID: id, sched: s, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// PushCli/PopCli model the spinlock-safe interrupt-disable discipline of
// spec section 4.3: every spinlock acquisition bumps the depth counter so
// the scheduler can refuse to run while one is held.
func (c *CPU) PushCli() { atomic.AddInt32(&c.spinDepth, 1) }
func (c *CPU) PopCli()  { atomic.AddInt32(&c.spinDepth, -1) }

func (c *CPU) assertNoSpinlock() {
	if atomic.LoadInt32(&c.spinDepth) != 0 {
		panic("sched: scheduler invoked while holding a spinlock")
	}
}

// enqueueLocked appends t to the tail of the run queue. The spec's
// enqueue rule -- only if not already linked and not currently executing
// -- is enforced by the caller (Enqueue).
func (c *CPU) enqueueLocked(t *Task) {
	t.rqNext = nil
	if c.tail != nil {
		c.tail.rqNext = t
	} else {
		c.head = t
	}
	c.tail = t
	t.linked = true
}

func (c *CPU) popFrontLocked() *Task {
	t := c.head
	if t == nil {
		return nil
	}
	c.head = t.rqNext
	if c.head == nil {
		c.tail = nil
	}
	t.rqNext = nil
	t.linked = false
	return t
}

func (c *CPU) idleTask() *Task {
	c.idleOnce.Do(func() {
		c.idle = NewTask(-1, c.ID, func(y *Yielder) {
			for {
				c.IdleTicks++
				y.Yield()
			}
		})
		c.idle.SetState(common.Runnable)
	})
	return c.idle
}

// Enqueue links t onto this CPU's run queue, honoring the spec's "only
// if not already linked and not currently executing" rule. Safe to call
// from any goroutine (cross-CPU wakes, spec section 4.3).
func (c *CPU) Enqueue(t *Task) {
	c.rqMu.Lock()
	defer c.rqMu.Unlock()
	if t.linked || t == c.current {
		return
	}
	c.enqueueLocked(t)
}

func (c *CPU) runTask(t *Task) yieldReason {
	if !t.started {
		t.started = true
		go func() {
			y := &Yielder{cpu: c, t: t}
			t.body(y)
			t.yieldCh <- yieldDone
		}()
	} else {
		t.resumeCh <- struct{}{}
	}
	return <-t.yieldCh
}

// step runs one iteration of the spec section 4.3 scheduling loop: pick
// the next Runnable task (requeuing the previously-current one first if
// it is still Runnable), run it until it yields, blocks or finishes, then
// -- if it cooperatively yielded (spec section 4.3 step 2 / section 6's
// YIELD) and is still Runnable -- requeue it exactly like any other
// Runnable task, so the next step's pop can reach it instead of leaving
// it parked on resumeCh forever.
func (c *CPU) step() {
	c.assertNoSpinlock()

	c.rqMu.Lock()
	cur := c.current
	if cur != nil && cur.State() == common.Runnable {
		c.enqueueLocked(cur)
	}
	c.current = nil
	next := c.popFrontLocked()
	if next == nil {
		next = c.idleTask()
	}
	c.current = next
	c.rqMu.Unlock()

	reason := c.runTask(next)

	c.rqMu.Lock()
	if c.current == next {
		c.current = nil
	}
	if reason == yieldCooperative && next.State() == common.Runnable {
		c.enqueueLocked(next)
	}
	c.rqMu.Unlock()
}

// Loop drives this CPU's scheduling loop until Stop is called. It must
// run on its own goroutine (one per simulated CPU, per spec section
// 4.3's "own stack" per-CPU state).
func (c *CPU) Loop() {
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		default:
			c.step()
		}
	}
}

// Stop requests the CPU's loop to exit after its current step.
func (c *CPU) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Current returns the Task presently executing on this CPU, or nil.
func (c *CPU) Current() *Task {
	c.rqMu.Lock()
	defer c.rqMu.Unlock()
	return c.current
}

// RunQLen reports the run queue length, for introspection/Stats (spec
// section 9 supplement: the k-memviewer.cc data minus its renderer).
func (c *CPU) RunQLen() int {
	c.rqMu.Lock()
	defer c.rqMu.Unlock()
	n := 0
	for t := c.head; t != nil; t = t.rqNext {
		n++
	}
	return n
}

// Yielder is the handle a Task's Body uses to suspend itself. It is the
// simulated substitute for the architecture-specific context-switch
// save/restore routine (spec section 4.3): instead of saving registers,
// it parks the task's goroutine on resumeCh until the CPU's loop resumes
// it.
type Yielder struct {
	cpu *CPU
	t   *Task
}

// Yield cooperatively gives up the CPU. The task remains Runnable and is
// requeued by the scheduling loop (spec section 4.3 step 2).
func (y *Yielder) Yield() {
	y.cpu.assertNoSpinlock()
	y.t.yieldCh <- yieldCooperative
	<-y.t.resumeCh
}

// Block suspends the task until some other task/CPU makes it Runnable
// again (waitq.Blocker.Yield's implementation: the task left Blocked by
// the caller before this point never gets requeued until woken).
func (y *Yielder) Block() {
	y.cpu.assertNoSpinlock()
	y.t.yieldCh <- yieldBlocked
	<-y.t.resumeCh
}

// Task returns the Yielder's owning Task, for Blocker adapters.
func (y *Yielder) Task() *Task { return y.t }

// CPUIndex returns the id of the CPU this Yielder is bound to.
func (y *Yielder) CPUIndex() int { return y.cpu.ID }
