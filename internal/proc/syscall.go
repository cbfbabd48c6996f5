package proc

import (
	"runtime"

	"github.com/CS161/PugOS/internal/chkfs"
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
)

// PipeSize is the default bounded-buffer capacity a PIPE syscall
// allocates.
const PipeSize = 4096

// Pipe implements spec section 6's PIPE: allocate a bounded buffer,
// install a read-only File at one fd and a write-only File at another,
// and return the two fds as separate results.
func (pt *ProcTable) Pipe(t *Task) (rfd, wfd int, err common.Err_t) {
	bb := NewBoundedBuffer(PipeSize)
	rv := NewPipeVnode(bb, &t.Group.WaitPid)
	wv := rv // same BoundedBuffer, same Vnode type; read/write ends differ only in File access mode

	rf := NewFile(PipeFile, true, false, rv)
	wf := NewFile(PipeFile, false, true, wv)

	rfd, err = t.Group.FDs.Install(rf)
	if err != 0 {
		rf.Unref()
		wf.Unref()
		return -1, -1, err
	}
	wfd, err = t.Group.FDs.Install(wf)
	if err != 0 {
		t.Group.FDs.Close(rfd)
		wf.Unref()
		return -1, -1, err
	}
	return rfd, wfd, 0
}

// Dup2 implements spec section 6's DUP2.
func (pt *ProcTable) Dup2(t *Task, oldfd, newfd int) common.Err_t {
	f, err := t.Group.FDs.Get(oldfd)
	if err != 0 {
		return err
	}
	return t.Group.FDs.InstallAt(newfd, f.Ref())
}

// Read/Write/Close/Lseek implement the corresponding spec section 6
// syscalls by dispatching to the fd's File.
func (pt *ProcTable) Read(blk waitq.Blocker, t *Task, fd int, buf []byte) (int, common.Err_t) {
	f, err := t.Group.FDs.Get(fd)
	if err != 0 {
		return 0, err
	}
	return f.Read(blk, buf)
}

func (pt *ProcTable) Write(blk waitq.Blocker, t *Task, fd int, buf []byte) (int, common.Err_t) {
	f, err := t.Group.FDs.Get(fd)
	if err != 0 {
		return 0, err
	}
	return f.Write(blk, buf)
}

func (pt *ProcTable) Close(t *Task, fd int) common.Err_t {
	return t.Group.FDs.Close(fd)
}

func (pt *ProcTable) Lseek(t *Task, fd int, off int64, whence int) (int64, common.Err_t) {
	f, err := t.Group.FDs.Get(fd)
	if err != 0 {
		return 0, err
	}
	return f.Seek(off, whence)
}

// PageAlloc implements spec section 6's PAGE_ALLOC: map a single fresh
// page, writable, at the requested user virtual address.
func (pt *ProcTable) PageAlloc(t *Task, va uintptr) common.Err_t {
	pa := pt.alloc.AllocPage()
	if pa == 0 {
		return common.ENOMEM
	}
	t.Group.AS.Map(va, pa, Perm{Writable: true})
	return 0
}

// Getpid/Gettid/Getppid implement spec section 6's identity syscalls.
func (pt *ProcTable) Getpid(t *Task) int  { return t.Pid() }
func (pt *ProcTable) Gettid(t *Task) int  { return t.Tid() }
func (pt *ProcTable) Getppid(t *Task) int { return t.Group.ParentID }

// cooperativeYielder is the sliver of sched.Blocker's interface YIELD
// needs: give up the CPU while remaining Runnable, rather than
// waitq.Blocker.Yield's park-and-wait-for-MarkRunnable behavior.
type cooperativeYielder interface {
	CooperativeYield()
}

// Yield implements spec section 6's YIELD: a cooperative yield that
// leaves the calling task Runnable, requeued by the scheduler's normal
// run-queue rotation (internal/sched's step) rather than parked on any
// wait queue.
func (pt *ProcTable) Yield(blk waitq.Blocker) {
	if y, ok := blk.(cooperativeYielder); ok {
		y.CooperativeYield()
		return
	}
	blk.Yield()
}

// PauseSpins bounds PAUSE's busy-wait, short enough that a real caller
// notices no more than a few scheduler quanta of delay.
const PauseSpins = 1000

// Pause implements spec section 6's PAUSE: "spin briefly with interrupts
// on" -- unlike Yield it does not hand the task's turn to the scheduler's
// run-queue rotation or change the task's state; it just burns a bounded
// number of cycles, modeling the x86 PAUSE instruction's busy-wait hint
// within one goroutine. runtime.Gosched lets other simulated CPUs'
// goroutines make progress meanwhile, the same busy-poll primitive
// internal/waitq's tests use to avoid starving a single-GOMAXPROCS run.
func (pt *ProcTable) Pause() {
	for i := 0; i < PauseSpins; i++ {
		runtime.Gosched()
	}
}

// Execv implements spec section 6's EXECV: look path up first in the
// Initfs catalog (bootstrap programs), then in the mounted filesystem
// if one is attached, load its image and replace the calling task's
// address space.
func (pt *ProcTable) Execv(blk waitq.Blocker, t *Task, path string, argv []string) common.Err_t {
	if pt.initfs != nil {
		if image, run, err := pt.initfs.Lookup(path); err == 0 {
			err := pt.Exec(blk, t, image, run)
			if err == 0 {
				t.Regs.Argc = int64(len(argv))
			}
			return err
		}
	}
	if pt.fs == nil {
		return common.ENOENT
	}
	ino, err := pt.fs.ResolvePath(blk, path)
	if err != 0 {
		return err
	}
	defer pt.fs.PutInode(ino)
	if ino.Type() != chkfs.TypeRegular {
		return common.ENOEXEC
	}
	data := make([]byte, ino.Size())
	if _, err := pt.fs.ReadFile(blk, ino, data, 0); err != 0 {
		return err
	}
	if err := pt.Exec(blk, t, data, nil); err != 0 {
		return err
	}
	t.Regs.Argc = int64(len(argv))
	return 0
}

// ReadDiskFile implements spec section 6's READDISKFILE: read up to
// len(buf) bytes from path (resolved from the filesystem root) at off.
func (pt *ProcTable) ReadDiskFile(blk waitq.Blocker, path string, buf []byte, off int64) (int, common.Err_t) {
	if pt.fs == nil {
		return 0, common.ENOENT
	}
	ino, err := pt.fs.ResolvePath(blk, path)
	if err != 0 {
		return 0, err
	}
	defer pt.fs.PutInode(ino)
	if ino.Type() != chkfs.TypeRegular {
		return 0, common.EISDIR
	}
	return pt.fs.ReadFile(blk, ino, buf, off)
}

// Sync implements spec section 6's SYNC.
func (pt *ProcTable) Sync(blk waitq.Blocker, drop bool) common.Err_t {
	if pt.fs == nil {
		return 0
	}
	return pt.fs.Sync(blk, drop)
}
