package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRunsToCompletion(t *testing.T) {
	s := New(1)
	s.Start()
	defer s.Stop()

	done := make(chan struct{})
	task := NewTask(1, 0, func(y *Yielder) {
		close(done)
	})
	task.SetState(common.Runnable)
	s.Enqueue(task)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task body never ran")
	}
}

func TestYieldResumesCooperatively(t *testing.T) {
	s := New(1)
	s.Start()
	defer s.Stop()

	var ticks int
	done := make(chan struct{})
	task := NewTask(2, 0, func(y *Yielder) {
		for i := 0; i < 3; i++ {
			ticks++
			y.Yield()
		}
		close(done)
	})
	task.SetState(common.Runnable)
	s.Enqueue(task)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cooperative task never finished")
	}
	assert.Equal(t, 3, ticks)
}

func TestBlockerPredicateWaitIntegration(t *testing.T) {
	s := New(1)
	s.Start()
	defer s.Stop()

	wq := &waitq.WaitQueue{}
	var extMu fakeExtMu
	released := false

	done := make(chan struct{})
	var task *Task
	task = NewTask(3, 0, func(y *Yielder) {
		blk := NewBlocker(s, y)
		extMu.Lock()
		ok := waitq.PredicateWait(blk, wq, &extMu, nil, func() bool { return released })
		extMu.Unlock()
		require.True(t, ok)
		close(done)
	})
	task.SetState(common.Runnable)
	s.Enqueue(task)

	// give the task a moment to block on the predicate
	time.Sleep(20 * time.Millisecond)

	extMu.Lock()
	released = true
	extMu.Unlock()
	waitq.WakeAll(wq)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("predicate-wait never woke")
	}
}

type fakeExtMu struct {
	mu sync.Mutex
}

func (m *fakeExtMu) Lock()   { m.mu.Lock() }
func (m *fakeExtMu) Unlock() { m.mu.Unlock() }

func TestWakeTickAndWheelQueue(t *testing.T) {
	s := New(1)
	wake := s.WakeTick(5)
	assert.Greater(t, wake, s.Ticks())

	wq := s.WheelQueue(wake)
	assert.NotNil(t, wq)

	for i := uint64(0); i < 10; i++ {
		s.Tick()
	}
	assert.GreaterOrEqual(t, s.Ticks(), wake)
}
