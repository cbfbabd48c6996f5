package sched

import (
	"sync"
	"sync/atomic"

	"github.com/CS161/PugOS/internal/common"
)

// Body is the code a Task executes once scheduled. It receives a Yielder
// so it can cooperatively give up the CPU (the stand-in for the
// architecture-specific timer-IRQ preemption and explicit kernel yield
// points excluded by spec section 1). Body must return when the task is
// finished (its Task is then left Broken by the caller, matching PROC's
// exit protocol -- sched itself never decides *why* a task stops, only
// *when* it may run).
type Body func(y *Yielder)

// Task is SCHED's per-task scheduling state (spec section 4.3/4.4): the
// fields a run queue needs. proc.Task embeds *Task and adds the
// process-lifecycle fields (group id, parent, fd table, ...) that SCHED
// itself never inspects, matching the PAGES/WAITQ/SCHED/PROC dependency
// layering of spec section 2.
//
// Tasks are always individually heap-allocated (never stored inline in a
// growing slice), so the run-queue link below is a stable pointer rather
// than the index-based arena link spec section 9 asks for elsewhere
// (PhysicalPage free lists, BufEntry lists): those live in fixed
// preallocated arrays whose backing storage a pointer could outlive or
// dangle from a reslice; a *Task never does, since nothing ever appends
// to a slice of Tasks.
type Task struct {
	ID int

	stateMu sync.Mutex
	state   common.State

	exiting     atomic.Bool
	interrupted atomic.Bool

	cpu  int // affinity hint / current home CPU index
	body Body

	// run-queue intrusive link, guarded by the owning CPU's run-queue
	// lock.
	linked bool
	rqNext *Task

	resumeCh chan struct{}
	yieldCh  chan yieldReason
	started  bool
}

type yieldReason int

const (
	yieldCooperative yieldReason = iota
	yieldBlocked
	yieldDone
)

// NewTask creates a Blank task bound to body and an initial CPU
// affinity. The task becomes schedulable once its state is set to
// Runnable and it is enqueued (spec section 4.4: "Blank -> Runnable at
// spawn/fork/clone/exec init").
func NewTask(id int, cpu int, body Body) *Task {
	return &Task{
		ID:       id,
		state:    common.Blank,
		cpu:      cpu,
		body:     body,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan yieldReason, 1),
	}
}

func (t *Task) State() common.State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

func (t *Task) SetState(s common.State) {
	t.stateMu.Lock()
	t.state = s
	t.stateMu.Unlock()
}

// Exiting reports the cancellation flag set by group-exit (spec section
// 4.4/4.2): predicate-wait observes this to cancel a blocked thread.
func (t *Task) Exiting() bool { return t.exiting.Load() }

// SetExiting is called once per sibling by PROC's exit() when more than
// one thread remains in the group.
func (t *Task) SetExiting() { t.exiting.Store(true) }

// SetBroken is the cancellation half of predicate-wait: it transitions
// the task directly to Broken without touching the run queue (the task
// is reaped, not rescheduled).
func (t *Task) SetBroken() { t.SetState(common.Broken) }

// Interrupted/SetInterrupted implement the msleep cancellation flag (spec
// section 5): set by a parent's exit, observed by Msleep to return EINTR.
func (t *Task) Interrupted() bool     { return t.interrupted.Load() }
func (t *Task) SetInterrupted()       { t.interrupted.Store(true) }
func (t *Task) ClearInterrupted()     { t.interrupted.Store(false) }

// CPU returns the task's current home CPU index.
func (t *Task) CPU() int { return t.cpu }
