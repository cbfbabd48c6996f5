package sched

import (
	"sync"

	"github.com/CS161/PugOS/internal/waitq"
	"golang.org/x/sync/errgroup"
)

// WheelSpokes is the timer wheel width (spec section 4.3).
const WheelSpokes = 8

// Scheduler owns the per-CPU run queues and the shared timer wheel. It
// is the SCHED component of spec section 4.3, generalized from biscuit's
// single implicit "current CPU" globals to an explicit multi-CPU struct
// so tests can run a handful of simulated CPUs in one process.
type Scheduler struct {
	cpus []*CPU

	ticksMu sync.Mutex
	ticks   uint64
	wheel   [WheelSpokes]waitq.WaitQueue

	grp *errgroup.Group
}

// New builds a Scheduler with ncpu simulated CPUs (not yet running their
// loops -- call Start to launch them).
func New(ncpu int) *Scheduler {
	s := &Scheduler{cpus: make([]*CPU, ncpu)}
	for i := range s.cpus {
		s.cpus[i] = newCPU(i, s)
	}
	return s
}

// NCPU returns the number of simulated CPUs.
func (s *Scheduler) NCPU() int { return len(s.cpus) }

// CPU returns the i'th simulated CPU.
func (s *Scheduler) CPU(i int) *CPU { return s.cpus[i] }

// Start launches one goroutine per CPU running its scheduling loop,
// using golang.org/x/sync/errgroup the way cmd/pugos launches and tears
// down the simulated-CPU fleet together (grounded on hanwen-go-fuse's use
// of the same module for its FUSE server loop concurrency).
func (s *Scheduler) Start() {
	g := &errgroup.Group{}
	for _, c := range s.cpus {
		c := c
		g.Go(func() error {
			c.Loop()
			return nil
		})
	}
	s.grp = g
}

// Stop requests every CPU loop to exit and waits for them.
func (s *Scheduler) Stop() {
	for _, c := range s.cpus {
		c.Stop()
	}
	if s.grp != nil {
		_ = s.grp.Wait()
	}
}

// Enqueue places t on its home CPU's run queue (t.cpu), implementing the
// spec's "any thread may move a Task to the target CPU's queue" cross-CPU
// wake rule.
func (s *Scheduler) Enqueue(t *Task) {
	s.cpus[t.cpu].Enqueue(t)
}

// Migrate changes t's home CPU and enqueues it there.
func (s *Scheduler) Migrate(t *Task, cpu int) {
	t.cpu = cpu
	s.Enqueue(t)
}

// Ticks returns the current tick count.
func (s *Scheduler) Ticks() uint64 {
	s.ticksMu.Lock()
	defer s.ticksMu.Unlock()
	return s.ticks
}

// Lock/Unlock expose the lock that protects ticks, so PROC's Msleep
// (spec section 4.3's timer wheel) can evaluate "ticks >= wake" through
// TicksLocked under the same lock Tick advances ticks with.
func (s *Scheduler) Lock()   { s.ticksMu.Lock() }
func (s *Scheduler) Unlock() { s.ticksMu.Unlock() }

// TicksLocked reads ticks; the caller must hold the Scheduler lock.
func (s *Scheduler) TicksLocked() uint64 { return s.ticks }

// WakeTick computes ticks + ceil(ms/10), the spec's msleep wake tick.
func (s *Scheduler) WakeTick(ms int) uint64 {
	s.ticksMu.Lock()
	defer s.ticksMu.Unlock()
	need := (ms + 9) / 10
	return s.ticks + uint64(need)
}

// WheelQueue returns the wait queue for the spoke a given wake tick maps
// to (tick mod WHEEL_SPOKES).
func (s *Scheduler) WheelQueue(tick uint64) *waitq.WaitQueue {
	return &s.wheel[tick%WheelSpokes]
}

// Tick is the timer-IRQ handler of spec section 4.3: "the timer IRQ on
// CPU 0 increments a ticks counter and wakes any WaitQueues in the
// timing_wheel[ticks mod WHEEL_SPOKES] spoke." Every other CPU's timer
// IRQ just yields (modeled by the caller invoking Yielder.Yield after
// Tick, per spec's "on every CPU the timer IRQ then yields").
func (s *Scheduler) Tick() uint64 {
	s.ticksMu.Lock()
	s.ticks++
	t := s.ticks
	s.ticksMu.Unlock()
	waitq.WakeAll(&s.wheel[t%WheelSpokes])
	return t
}

// Stats reports per-CPU run-queue lengths and idle-tick counts (spec
// section 9 supplement: k-cpu.cc idle accounting).
type Stats struct {
	RunQLen   []int
	IdleTicks []uint64
	Ticks     uint64
}

func (s *Scheduler) StatsSnapshot() Stats {
	st := Stats{RunQLen: make([]int, len(s.cpus)), IdleTicks: make([]uint64, len(s.cpus))}
	for i, c := range s.cpus {
		st.RunQLen[i] = c.RunQLen()
		st.IdleTicks[i] = c.IdleTicks
	}
	st.Ticks = s.Ticks()
	return st
}
