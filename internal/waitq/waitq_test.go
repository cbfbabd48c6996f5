package waitq

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTask is a minimal Waitable/Blocker double driving a goroutine
// through Prepare/Block/Clear without any real scheduler.
type fakeTask struct {
	mu       sync.Mutex
	blocked  bool
	runnable chan struct{}
	exiting  bool
	broken   bool
}

func newFakeTask() *fakeTask {
	return &fakeTask{runnable: make(chan struct{}, 1)}
}

func (f *fakeTask) Exiting() bool  { f.mu.Lock(); defer f.mu.Unlock(); return f.exiting }
func (f *fakeTask) SetBroken()     { f.mu.Lock(); defer f.mu.Unlock(); f.broken = true }
func (f *fakeTask) MarkBlocked()   { f.mu.Lock(); defer f.mu.Unlock(); f.blocked = true }
func (f *fakeTask) MarkRunnable(Waitable) {
	select {
	case f.runnable <- struct{}{}:
	default:
	}
}
func (f *fakeTask) Yield()         { <-f.runnable }
func (f *fakeTask) Self() Waitable { return f }

func TestPrepareBlockWakeAllRoundTrip(t *testing.T) {
	task := newFakeTask()
	wq := &WaitQueue{}
	w := NewWaiter(task, task)

	w.Prepare(wq)
	assert.True(t, task.blocked)

	done := make(chan struct{})
	go func() {
		w.Block()
		close(done)
	}()

	WakeAll(wq)
	<-done

	assert.Nil(t, wq.head)
	assert.Nil(t, wq.tail)
}

func TestWakeAllDrainsEveryWaiter(t *testing.T) {
	wq := &WaitQueue{}
	const n = 5
	tasks := make([]*fakeTask, n)
	for i := range tasks {
		tasks[i] = newFakeTask()
		NewWaiter(tasks[i], tasks[i]).Prepare(wq)
	}

	WakeAll(wq)

	for _, task := range tasks {
		select {
		case <-task.runnable:
		default:
			t.Fatal("task never marked runnable by WakeAll")
		}
	}
	assert.Nil(t, wq.head)
}

type fakeMutex struct {
	mu     sync.Mutex
	locked bool
}

func (m *fakeMutex) Lock()   { m.mu.Lock(); m.locked = true }
func (m *fakeMutex) Unlock() { m.locked = false; m.mu.Unlock() }

func TestPredicateWaitSucceedsImmediately(t *testing.T) {
	task := newFakeTask()
	wq := &WaitQueue{}
	extMu := &fakeMutex{}
	extMu.Lock()

	ok := PredicateWait(task, wq, extMu, nil, func() bool { return true })
	require.True(t, ok)
	assert.True(t, extMu.locked, "PredicateWait must return with extMu held")
}

func TestPredicateWaitBlocksUntilWoken(t *testing.T) {
	task := newFakeTask()
	wq := &WaitQueue{}
	extMu := &fakeMutex{}
	extMu.Lock()

	ready := false
	done := make(chan bool, 1)
	go func() {
		done <- PredicateWait(task, wq, extMu, nil, func() bool { return ready })
	}()

	// give the goroutine a chance to Prepare and block
	for {
		task.mu.Lock()
		blocked := task.blocked
		task.mu.Unlock()
		if blocked {
			break
		}
		runtime.Gosched()
	}

	extMu.Lock()
	ready = true
	extMu.Unlock()
	WakeAll(wq)

	ok := <-done
	assert.True(t, ok)
}

// exitingTask is a Waitable/Blocker double whose Yield returns
// immediately, standing in for the fact that a real task's Yield never
// returns once Broken -- PredicateWait's panic after Yield is a defensive
// backstop for a situation the scheduler should make unreachable, and
// this is the only way to observe it in a unit test without hanging.
type exitingTask struct {
	broken bool
}

func (e *exitingTask) Exiting() bool          { return true }
func (e *exitingTask) SetBroken()             { e.broken = true }
func (e *exitingTask) MarkBlocked()           {}
func (e *exitingTask) MarkRunnable(Waitable)  {}
func (e *exitingTask) Yield()                 {}
func (e *exitingTask) Self() Waitable         { return e }

func TestPredicateWaitCancelsOnExiting(t *testing.T) {
	task := &exitingTask{}
	wq := &WaitQueue{}
	brokenWQ := &WaitQueue{}
	extMu := &fakeMutex{}
	extMu.Lock()

	assert.PanicsWithValue(t, "waitq: exited task resumed", func() {
		PredicateWait(task, wq, extMu, brokenWQ, func() bool { return false })
	})
	assert.True(t, task.broken)
	assert.False(t, extMu.locked)
}
