package proc

import (
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
)

// Vnode is the object behind a File (spec section 3): read/write/size,
// reference counted, variants KeyboardConsole/Pipe/Inode. blk is the
// calling task's Blocker, supplied by the caller so Vnode implementations
// that must block (pipe, console) can predicate-wait without storing a
// reference to any one task themselves -- a Vnode can outlive and be
// shared across many tasks.
type Vnode interface {
	Read(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t)
	Write(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t)
	Size() (int64, common.Err_t)
	Ref()
	Unref()
}

// ConsoleBackend is the external collaborator contract for the
// keyboard/console driver (spec section 6's excluded collaborator):
// PROC only needs a blocking read of typed bytes and an unbuffered
// write of output bytes.
type ConsoleBackend interface {
	ReadConsole(buf []byte) (int, common.Err_t)
	WriteConsole(buf []byte) (int, common.Err_t)
}

// ConsoleVnode adapts a ConsoleBackend to Vnode for fds 0/1/2 (spec
// section 4.4 spawn: "hook fds 0,1,2 to the keyboard/console vnode").
type ConsoleVnode struct {
	backend  ConsoleBackend
	refcount int32
}

func NewConsoleVnode(backend ConsoleBackend) *ConsoleVnode {
	return &ConsoleVnode{backend: backend, refcount: 1}
}

func (c *ConsoleVnode) Read(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t) {
	return c.backend.ReadConsole(buf)
}

func (c *ConsoleVnode) Write(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t) {
	return c.backend.WriteConsole(buf)
}

func (c *ConsoleVnode) Size() (int64, common.Err_t) { return 0, common.ESPIPE }
func (c *ConsoleVnode) Ref()                        { c.refcount++ }
func (c *ConsoleVnode) Unref()                      { c.refcount-- }
