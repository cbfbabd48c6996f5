package proc

import (
	"sync"

	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
)

// BoundedBuffer is a fixed-size circular byte buffer shared by a pipe's
// two ends (spec section 3): pos/len track the occupied region,
// readClosed/writeClosed record which end hung up, and two wait queues
// gate blocked readers/writers.
type BoundedBuffer struct {
	mu          sync.Mutex
	buf         []byte
	pos, length int
	readClosed  bool
	writeClosed bool
	nonEmpty    waitq.WaitQueue
	nonFull     waitq.WaitQueue
}

// NewBoundedBuffer allocates a pipe buffer of the given size.
func NewBoundedBuffer(size int) *BoundedBuffer {
	return &BoundedBuffer{buf: make([]byte, size)}
}

func (b *BoundedBuffer) Lock()   { b.mu.Lock() }
func (b *BoundedBuffer) Unlock() { b.mu.Unlock() }

func (b *BoundedBuffer) full() bool  { return b.length == len(b.buf) }
func (b *BoundedBuffer) empty() bool { return b.length == 0 }

// Write implements pipe write(2): blocks (predicate-wait on nonFull)
// while the buffer is full and the read end is open, returns EPIPE if
// the read end has already closed, and wakes nonEmpty after writing.
func (b *BoundedBuffer) Write(blk waitq.Blocker, brokenWQ *waitq.WaitQueue, p []byte) (int, common.Err_t) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(p) == 0 {
		return 0, 0
	}
	ok := waitq.PredicateWait(blk, &b.nonFull, b, brokenWQ, func() bool {
		return !b.full() || b.readClosed
	})
	if !ok {
		return 0, common.EINTR
	}
	if b.readClosed {
		return 0, common.EPIPE
	}
	n := 0
	for n < len(p) && !b.full() {
		idx := (b.pos + b.length) % len(b.buf)
		b.buf[idx] = p[n]
		b.length++
		n++
	}
	waitq.WakeAll(&b.nonEmpty)
	return n, 0
}

// Read implements pipe read(2): blocks while empty and the write end is
// still open; returns 0 (EOF) once empty with the write end closed.
func (b *BoundedBuffer) Read(blk waitq.Blocker, brokenWQ *waitq.WaitQueue, p []byte) (int, common.Err_t) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(p) == 0 {
		return 0, 0
	}
	ok := waitq.PredicateWait(blk, &b.nonEmpty, b, brokenWQ, func() bool {
		return !b.empty() || b.writeClosed
	})
	if !ok {
		return 0, common.EINTR
	}
	if b.empty() {
		return 0, 0 // EOF
	}
	n := 0
	for n < len(p) && !b.empty() {
		p[n] = b.buf[b.pos]
		b.pos = (b.pos + 1) % len(b.buf)
		b.length--
		n++
	}
	waitq.WakeAll(&b.nonFull)
	return n, 0
}

// CloseRead/CloseWrite mark one end hung up and wake the other end's
// queue (CloseRead wakes writers, CloseWrite wakes readers) so the other
// end observes EPIPE/EOF instead of blocking forever.
func (b *BoundedBuffer) CloseRead() {
	b.mu.Lock()
	b.readClosed = true
	b.mu.Unlock()
	waitq.WakeAll(&b.nonFull)
}

func (b *BoundedBuffer) CloseWrite() {
	b.mu.Lock()
	b.writeClosed = true
	b.mu.Unlock()
	waitq.WakeAll(&b.nonEmpty)
}

// PipeVnode is the Pipe variant of Vnode (spec section 3); reads/writes
// are offset-less (a pipe is not seekable).
type PipeVnode struct {
	bb       *BoundedBuffer
	brokenWQ *waitq.WaitQueue
	refcount int32
}

// NewPipeVnode wires a BoundedBuffer to the group's waitpid queue (the
// cancellation target predicate-wait wakes on exit).
func NewPipeVnode(bb *BoundedBuffer, brokenWQ *waitq.WaitQueue) *PipeVnode {
	return &PipeVnode{bb: bb, brokenWQ: brokenWQ, refcount: 1}
}

func (p *PipeVnode) Read(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t) {
	return p.bb.Read(blk, p.brokenWQ, buf)
}

func (p *PipeVnode) Write(blk waitq.Blocker, buf []byte, off int64) (int, common.Err_t) {
	return p.bb.Write(blk, p.brokenWQ, buf)
}

func (p *PipeVnode) Size() (int64, common.Err_t) { return 0, common.ESPIPE }
func (p *PipeVnode) Ref()                        { p.refcount++ }
func (p *PipeVnode) Unref()                      { p.refcount-- }

// CloseRead/CloseWrite forward to the underlying BoundedBuffer, called by
// File.Unref once the last File reference to that end drops.
func (p *PipeVnode) CloseRead()  { p.bb.CloseRead() }
func (p *PipeVnode) CloseWrite() { p.bb.CloseWrite() }
