// Package waitq implements WAITQ: mutex-guarded intrusive wait queues and
// the predicate-wait blocking protocol (spec section 4.2). It is grounded
// on original_source/k-wait.hh's waiter/wait_queue split and on biscuit's
// use of a guarding mutex plus a condition-like wake primitive in its
// proc/sched code, adapted to the spec's explicit prepare/block/clear
// protocol instead of sync.Cond so that "block" can be defined purely in
// terms of the sched.Scheduler abstraction the core implements itself.
package waitq

import "sync"

// Blocker is the minimum a scheduler must offer so a Waiter can suspend
// and be resumed: the task identity is opaque to waitq (it never reads or
// writes Task fields directly except through this interface), matching
// the spec's boundary between WAITQ and SCHED/PROC.
type Blocker interface {
	// MarkBlocked transitions the calling task to Blocked.
	MarkBlocked()
	// MarkRunnable transitions t back to Runnable and enqueues it on its
	// home CPU. Safe to call from any goroutine/CPU.
	MarkRunnable(t Waitable)
	// Yield suspends the calling task until it is made Runnable again.
	// Must only be called by the task that owns the current execution
	// context (never on behalf of another task).
	Yield()
	// Self returns the calling task's Waitable handle.
	Self() Waitable
}

// Waitable is the identity of a task as seen by waitq: anything that can
// be linked onto a wait list and whose Blocked/Runnable/exiting bits
// waitq needs to read (PROC's Task implements this).
type Waitable interface {
	// Exiting reports the task's exiting flag (spec section 4.2/4.4).
	Exiting() bool
	// SetBroken transitions the task to Broken; used only by the
	// predicate-wait cancellation path.
	SetBroken()
}

// Waiter binds one task to one WaitQueue. It is an intrusive list node:
// next/prev point at the neighbouring Waiters in the owning WaitQueue's
// doubly linked list.
type Waiter struct {
	task       Waitable
	blk        Blocker
	linked     bool
	next, prev *Waiter
}

// WaitQueue is a mutex-guarded doubly linked list of Waiters.
type WaitQueue struct {
	mu   sync.Mutex
	head *Waiter
	tail *Waiter
}

// NewWaiter constructs a Waiter for task using blk to transition its
// state and to block/wake it.
func NewWaiter(task Waitable, blk Blocker) *Waiter {
	return &Waiter{task: task, blk: blk}
}

func (wq *WaitQueue) pushBackLocked(w *Waiter) {
	w.next = nil
	w.prev = wq.tail
	if wq.tail != nil {
		wq.tail.next = w
	} else {
		wq.head = w
	}
	wq.tail = w
	w.linked = true
}

func (wq *WaitQueue) removeLocked(w *Waiter) {
	if !w.linked {
		return
	}
	if w.prev != nil {
		w.prev.next = w.next
	} else {
		wq.head = w.next
	}
	if w.next != nil {
		w.next.prev = w.prev
	} else {
		wq.tail = w.prev
	}
	w.next, w.prev = nil, nil
	w.linked = false
}

func (wq *WaitQueue) popFrontLocked() *Waiter {
	w := wq.head
	if w == nil {
		return nil
	}
	wq.removeLocked(w)
	return w
}

// Prepare implements step 1 of the spec's protocol: lock wq, mark the
// task Blocked, append the waiter, unlock.
func (w *Waiter) Prepare(wq *WaitQueue) {
	wq.mu.Lock()
	w.blk.MarkBlocked()
	wq.pushBackLocked(w)
	wq.mu.Unlock()
}

// Block implements step 2: yield to the scheduler. The task only
// resumes once Clear (or WakeAll) has made it Runnable again.
func (w *Waiter) Block() {
	w.blk.Yield()
}

// Clear implements step 3: lock wq, mark Runnable, unlink if still
// linked, unlock.
func (w *Waiter) Clear(wq *WaitQueue) {
	wq.mu.Lock()
	w.blk.MarkRunnable(w.task)
	wq.removeLocked(w)
	wq.mu.Unlock()
}

// WakeAll implements step 4: repeatedly pop waiters and make their tasks
// Runnable, re-enqueuing each on its own home CPU via Blocker.
func WakeAll(wq *WaitQueue) {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	for {
		w := wq.popFrontLocked()
		if w == nil {
			return
		}
		w.blk.MarkRunnable(w.task)
	}
}

// Mutex is the minimal "external mutex" PredicateWait needs: lock/unlock
// around the predicate check, released across the block.
type Mutex interface {
	Lock()
	Unlock()
}

// PredicateWait is the canonical blocking primitive of spec section 4.2:
// given a predicate evaluated under extMu, loop until the predicate
// holds or the calling task is cancelled via Exiting(). brokenWQ is woken
// (waitpid_wq in PROC) when the task cancels out, matching the exit
// protocol of spec section 4.4.
//
// extMu must already be held by the caller on entry and is held again
// when PredicateWait returns; the cancellation path unlocks extMu and
// panics instead of returning.
func PredicateWait(blk Blocker, wq *WaitQueue, extMu Mutex, brokenWQ *WaitQueue, predicate func() bool) bool {
	w := NewWaiter(blk.Self(), blk)
	for {
		w.Prepare(wq)
		if blk.Self().Exiting() {
			extMu.Unlock()
			blk.Self().SetBroken()
			WakeAll(brokenWQ)
			blk.Yield()
			// Yield-no-return: a Broken task is never scheduled again.
			panic("waitq: exited task resumed")
		}
		if predicate() {
			w.Clear(wq)
			return true
		}
		extMu.Unlock()
		w.Block()
		extMu.Lock()
	}
}
