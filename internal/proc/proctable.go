package proc

import (
	"sync"

	"github.com/CS161/PugOS/internal/chkfs"
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/pages"
	"github.com/CS161/PugOS/internal/sched"
	"github.com/CS161/PugOS/internal/waitq"
)

// ConsoleIO is the host-facing console backend cmd/pugos wires in; it
// satisfies ConsoleVnode's ConsoleBackend.
type ConsoleIO interface {
	ReadConsole(buf []byte) (int, common.Err_t)
	WriteConsole(buf []byte) (int, common.Err_t)
}

// ProcTable is PROC's process table (spec section 4.4): pid/tid
// allocation, the live group set, and the spawn/fork/clone/exec/
// exit/waitpid/reap operations that drive group and task lifecycle. It
// is grounded on biscuit's single global proctable in kernel/main.go
// (proc_check, wait, reap_doomed_children) and on original_source/
// k-proc.cc's proctable_t.
type ProcTable struct {
	mu      sync.Mutex
	groups  map[int]*Group
	nextPid int
	nextTid int

	sched   *sched.Scheduler
	alloc   *pages.Allocator
	mem     PhysMem
	console ConsoleIO

	fs     *chkfs.FS // nil until a root filesystem is mounted
	initfs *Initfs
}

// NewProcTable builds an empty process table bound to the given
// scheduler, page allocator and physical-memory view.
func NewProcTable(s *sched.Scheduler, alloc *pages.Allocator, mem PhysMem, console ConsoleIO, initfs *Initfs) *ProcTable {
	return &ProcTable{
		groups:  make(map[int]*Group),
		nextPid: 1,
		nextTid: 1,
		sched:   s,
		alloc:   alloc,
		mem:     mem,
		console: console,
		initfs:  initfs,
	}
}

// MountFS attaches a CHKFS instance so READDISKFILE and filesystem-
// backed EXECV can resolve paths.
func (pt *ProcTable) MountFS(fs *chkfs.FS) { pt.fs = fs }

func (pt *ProcTable) allocPid() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	id := pt.nextPid
	pt.nextPid++
	return id
}

func (pt *ProcTable) allocTid() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	id := pt.nextTid
	pt.nextTid++
	return id
}

func (pt *ProcTable) lookupGroup(pid int) (*Group, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	g, ok := pt.groups[pid]
	return g, ok
}

// Spawn creates a brand-new group (spec section 4.4's spawn): fresh
// address space and FD table, fd 0/1/2 wired to the console, one
// initial thread running body, enqueued Runnable on cpu.
func (pt *ProcTable) Spawn(parentPid int, cpu int, body func(blk waitq.Blocker, t *Task)) (*Task, common.Err_t) {
	pid := pt.allocPid()
	as := NewAddrSpace()
	fds := NewFDTable()

	console := NewConsoleVnode(pt.console)
	stdin := NewFile(Stream, true, false, console)
	stdout := NewFile(Stream, false, true, console)
	stderr := NewFile(Stream, false, true, console)
	fds.Install(stdin)
	fds.Install(stdout)
	fds.Install(stderr)

	grp := newGroup(pid, parentPid, as, fds)

	pt.mu.Lock()
	pt.groups[pid] = grp
	if parent, ok := pt.groups[parentPid]; ok {
		parent.addChild(pid)
	}
	pt.mu.Unlock()

	tid := pt.allocTid()
	var task *Task
	schedTask := sched.NewTask(tid, cpu, func(y *sched.Yielder) {
		blk := sched.NewBlocker(pt.sched, y)
		body(blk, task)
		pt.exitCurrent(task, 0)
	})
	task = &Task{Task: schedTask, Group: grp, GroupID: pid}

	grp.mu.Lock()
	grp.addThreadLocked(task)
	grp.mu.Unlock()

	task.SetState(common.Runnable)
	pt.sched.Enqueue(schedTask)
	return task, 0
}

// Fork implements spec section 4.4 fork: new group, cloned address space
// (per-page copy-or-share), duplicated FD table, single new thread whose
// saved Regs.RetVal is 0 (the child's fork() return value); the parent's
// own return value (the child pid) is handled by the caller. Real fork()
// resumes the single parent continuation in both processes at the
// syscall return point; a Go closure cannot be "resumed" at an arbitrary
// instruction, so the caller supplies childBody, the child's post-fork
// continuation, exactly as it supplies the thread body to Clone/Spawn
// (see DESIGN.md's Open Question on this).
func (pt *ProcTable) Fork(parent *Task, childBody func(blk waitq.Blocker, t *Task)) (*Task, common.Err_t) {
	childAS, err := parent.Group.AS.Clone(pt.alloc, pt.mem)
	if err != 0 {
		return nil, err
	}
	childFDs := parent.Group.FDs.Clone()

	pid := pt.allocPid()
	grp := newGroup(pid, parent.GroupID, childAS, childFDs)

	pt.mu.Lock()
	pt.groups[pid] = grp
	pt.mu.Unlock()
	parent.Group.addChild(pid)

	tid := pt.allocTid()
	var task *Task
	schedTask := sched.NewTask(tid, parent.CPU(), func(y *sched.Yielder) {
		blk := sched.NewBlocker(pt.sched, y)
		childBody(blk, task)
		pt.exitCurrent(task, 0)
	})
	task = &Task{Task: schedTask, Group: grp, GroupID: pid, Regs: Regs{RetVal: 0}}

	grp.mu.Lock()
	grp.addThreadLocked(task)
	grp.mu.Unlock()

	task.SetState(common.Runnable)
	pt.sched.Enqueue(schedTask)
	return task, 0
}

// Clone implements spec section 4.4 clone: a new thread in the same
// group, sharing AS/FDs (ref-bumped), not a new group.
func (pt *ProcTable) Clone(parent *Task, body func(blk waitq.Blocker, t *Task)) (*Task, common.Err_t) {
	parent.Group.AS.Ref()
	parent.Group.FDs.Ref()

	tid := pt.allocTid()
	var task *Task
	schedTask := sched.NewTask(tid, parent.CPU(), func(y *sched.Yielder) {
		blk := sched.NewBlocker(pt.sched, y)
		body(blk, task)
		pt.exitCurrent(task, 0)
	})
	task = &Task{Task: schedTask, Group: parent.Group, GroupID: parent.GroupID}

	parent.Group.mu.Lock()
	parent.Group.addThreadLocked(task)
	parent.Group.mu.Unlock()

	task.SetState(common.Runnable)
	pt.sched.Enqueue(schedTask)
	return task, 0
}

// exitCurrent is the thread-completion path taken when a spawned/cloned
// task's body returns normally (as opposed to an explicit TEXIT/EXIT
// syscall); it behaves like Exit(task, 0) with no explicit status, and
// does nothing for a task that already exited explicitly.
func (pt *ProcTable) exitCurrent(t *Task, status int) {
	if t.State() == common.Broken {
		return
	}
	pt.Exit(t, status)
}

// Exit implements spec section 4.4's group-exit. While other threads of
// the group remain, it sets exiting on each of them, marks t Broken and
// returns; it does not wake a sibling that is blocked, which sees exiting
// only once something else wakes it. The last thread to exit marks
// itself Broken, records the group's exit status, releases the group's
// address space and FD table, wakes the parent group's WaitPid queue and
// sets Interrupted on every parent thread (msleep's EINTR path).
func (pt *ProcTable) Exit(t *Task, status int) {
	g := t.Group

	g.mu.Lock()
	g.removeThreadLocked(t.ID)
	remaining := g.NThreads
	g.mu.Unlock()

	if remaining > 0 {
		g.mu.Lock()
		for _, sib := range g.Threads {
			sib.SetExiting()
		}
		g.mu.Unlock()
		t.SetState(common.Broken)
		return
	}

	t.SetState(common.Broken)

	g.mu.Lock()
	g.Exited = true
	g.ExitStatus = status
	g.mu.Unlock()

	g.AS.Unref(pt.alloc)
	g.FDs.Unref()

	if parent, ok := pt.lookupGroup(g.ParentID); ok {
		waitq.WakeAll(&parent.WaitPid)
		parent.mu.Lock()
		for _, pt2 := range parent.Threads {
			pt2.SetInterrupted()
		}
		parent.mu.Unlock()
	}
}

// Waitpid implements spec section 4.4 waitpid: block (predicate-wait on
// the calling group's own WaitPid queue) until some child group has
// Exited, then reap it (remove from the process table, detach from the
// parent's children set) and return its pid/status. pid == -1 waits for
// any child; pid > 0 waits for that specific child.
func (pt *ProcTable) Waitpid(blk waitq.Blocker, caller *Task, pid int) (int, int, common.Err_t) {
	g := caller.Group

	var childPid, childStatus int
	for {
		g.mu.Lock()
		found := false
		for cpid := range g.Children {
			child, ok := pt.lookupGroup(cpid)
			if !ok {
				continue
			}
			child.mu.Lock()
			exited := child.Exited
			status := child.ExitStatus
			child.mu.Unlock()
			if exited && (pid == -1 || pid == cpid) {
				childPid, childStatus = cpid, status
				found = true
				break
			}
		}
		if found {
			delete(g.Children, childPid)
			g.mu.Unlock()
			break
		}
		if len(g.Children) == 0 {
			g.mu.Unlock()
			return 0, 0, common.ECHILD
		}
		if caller.Exiting() {
			g.mu.Unlock()
			caller.SetBroken()
			waitq.WakeAll(&g.WaitPid)
			blk.Yield()
			panic("proc: exited task resumed")
		}
		w := waitq.NewWaiter(caller, blk)
		w.Prepare(&g.WaitPid)
		blk.Yield()
	}

	pt.mu.Lock()
	delete(pt.groups, childPid)
	pt.mu.Unlock()

	return childPid, childStatus, 0
}

// Msleep implements spec section 5's timed sleep: predicate-wait on the
// timer wheel spoke for the computed wake tick, additionally observing
// the interrupted flag a parent's exit sets (returning EINTR instead of
// the generic Broken-cancellation path, since a merely-interrupted sleep
// leaves the task otherwise runnable).
func (pt *ProcTable) Msleep(blk waitq.Blocker, t *Task, ms int) common.Err_t {
	wake := pt.sched.WakeTick(ms)
	wq := pt.sched.WheelQueue(wake)

	for {
		pt.sched.Lock()
		done := pt.sched.TicksLocked() >= wake
		pt.sched.Unlock()
		if done {
			return 0
		}
		if t.Interrupted() {
			t.ClearInterrupted()
			return common.EINTR
		}
		if t.Exiting() {
			t.SetBroken()
			waitq.WakeAll(&t.Group.WaitPid)
			blk.Yield()
			panic("proc: exited task resumed")
		}
		w := waitq.NewWaiter(t, blk)
		w.Prepare(wq)
		blk.Yield()
	}
}
