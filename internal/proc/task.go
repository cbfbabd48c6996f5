package proc

import "github.com/CS161/PugOS/internal/sched"

// Regs is the saved register frame a Task carries across blocking and
// across exec (spec section 3: "saved register frame"). It only models
// the handful of fields PROC's algorithms actually touch -- the return
// value slot fork/clone zero for the child, and the argc, entry and
// stack top exec installs -- rather than a literal x86-64 trap frame, since
// the instruction-level register set is architecture-specific plumbing
// spec section 1 excludes from the core.
type Regs struct {
	RetVal   int64   // RAX-equivalent: fork/clone's syscall return value
	Argc     int64   // RDI-equivalent after execv
	ArgvVA   uintptr // RSI-equivalent: Execv leaves it zero and does not copy argv into the new stack page
	Entry    uintptr // new program counter after execv
	StackTop uintptr // top of the mapped user stack page
}

// Task is PROC's per-thread state (spec section 3): it embeds SCHED's
// scheduling core (tid/state/exiting/cpu/run-queue link) and adds the
// process-lifecycle fields SCHED never needs to see.
type Task struct {
	*sched.Task
	Group *Group
	Regs  Regs

	// GroupID is the id of the owning Group (GETPID's value); the exit
	// status lives on Group.
	GroupID int
}

// Pid returns the owning group's id (spec section 6 GETPID).
func (t *Task) Pid() int { return t.GroupID }

// Tid returns the task's own scheduling slot id (spec section 6
// GETTID).
func (t *Task) Tid() int { return t.ID }
