package proc

import (
	"sync"
	"sync/atomic"

	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
)

// FileType enumerates the File variants of spec section 3; only Regular
// is seekable.
type FileType int

const (
	Stream FileType = iota
	PipeFile
	Regular
	Directory
)

// File is a handle onto a Vnode: type, access mode, a seek offset for
// Regular files, and a reference count (spec section 3).
type File struct {
	mu        sync.Mutex
	Type      FileType
	Readable  bool
	Writeable bool
	offset    int64
	Vnode     Vnode
	refcount  int32
}

// NewFile wraps vn with the given type and access mode, taking one
// reference on vn.
func NewFile(t FileType, readable, writeable bool, vn Vnode) *File {
	vn.Ref()
	return &File{Type: t, Readable: readable, Writeable: writeable, Vnode: vn, refcount: 1}
}

func (f *File) Seekable() bool { return f.Type == Regular }

// Ref/Unref implement the File's own reference count (distinct from the
// FDTable slot refcount): dup2 and fork bump this; Close/exit drop it,
// and the last releaser drops the underlying Vnode's reference too.
func (f *File) Ref() *File {
	atomic.AddInt32(&f.refcount, 1)
	return f
}

func (f *File) Unref() {
	if atomic.AddInt32(&f.refcount, -1) == 0 {
		// A pipe's two ends share one Vnode with one refcount (syscall.go's
		// Pipe), so the vnode itself can't tell which end just dropped its
		// last File reference -- only the closing File's access mode can,
		// since Pipe installs a read-only File and a write-only File.
		if pv, ok := f.Vnode.(*PipeVnode); ok {
			if f.Readable {
				pv.CloseRead()
			}
			if f.Writeable {
				pv.CloseWrite()
			}
		}
		f.Vnode.Unref()
	}
}

func (f *File) Read(blk waitq.Blocker, buf []byte) (int, common.Err_t) {
	if !f.Readable {
		return 0, common.EBADF
	}
	f.mu.Lock()
	off := f.offset
	f.mu.Unlock()
	n, err := f.Vnode.Read(blk, buf, off)
	if err == 0 && f.Seekable() {
		f.mu.Lock()
		f.offset += int64(n)
		f.mu.Unlock()
	}
	return n, err
}

func (f *File) Write(blk waitq.Blocker, buf []byte) (int, common.Err_t) {
	if !f.Writeable {
		return 0, common.EBADF
	}
	f.mu.Lock()
	off := f.offset
	f.mu.Unlock()
	n, err := f.Vnode.Write(blk, buf, off)
	if err == 0 && f.Seekable() {
		f.mu.Lock()
		f.offset += int64(n)
		f.mu.Unlock()
	}
	return n, err
}

// Seek whence values (spec section 6's LSEEK).
const (
	SeekSet = iota
	SeekCur
	SeekEnd
	SeekSize
)

func (f *File) Seek(off int64, whence int) (int64, common.Err_t) {
	if !f.Seekable() {
		return 0, common.ESPIPE
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case SeekSet:
		if off < 0 {
			return 0, common.EINVAL
		}
		f.offset = off
	case SeekCur:
		if f.offset+off < 0 {
			return 0, common.EINVAL
		}
		f.offset += off
	case SeekEnd, SeekSize:
		sz, err := f.Vnode.Size()
		if err != 0 {
			return 0, err
		}
		if whence == SeekSize {
			return sz, 0
		}
		if sz+off < 0 {
			return 0, common.EINVAL
		}
		f.offset = sz + off
	default:
		return 0, common.EINVAL
	}
	return f.offset, 0
}
