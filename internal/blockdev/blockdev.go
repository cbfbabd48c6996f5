// Package blockdev defines the disk-driver external collaborator
// contract spec section 9 describes ("non-blocking disk reads") and
// provides two concrete drivers that satisfy it without any real SATA
// hardware (spec section 1 excludes the SATA driver itself from the
// core): an in-memory driver for tests and a file-backed driver for
// cmd/pugos, both built on golang.org/x/sys/unix for the file-backed
// case's mmap path, grounded in hanwen-go-fuse's use of the same module
// for raw OS plumbing.
package blockdev

import (
	"os"
	"sync/atomic"

	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
	"golang.org/x/sys/unix"
)

// Status is the fetch_status word spec section 9 describes: AGAIN while
// a read is in flight, OK or IO once it completes.
type Status int32

const (
	Again Status = iota
	OK
	IOErr
)

const BlockSize = common.PGSIZE

// Driver is the contract BUFC needs from whatever backs the disk (spec
// section 9): ReadNonblocking issues a read and reports whether it was
// actually issued (false means the caller should treat it as already
// satisfied or failed synchronously); status is written (possibly from
// another goroutine) and wq is woken on completion. WriteSync performs a
// blocking write, used by BUFC's sync path.
type Driver interface {
	ReadNonblocking(bn uint64, buf []byte, status *int32, wq *waitq.WaitQueue) (issued bool)
	WriteSync(bn uint64, buf []byte) common.Err_t
	NBlocks() uint64
}

// MemDriver is a synchronous, in-memory disk: every read/write completes
// immediately, matching spec section 9's "implementations may substitute
// a synchronous driver by setting status = OK immediately." Useful for
// fast, deterministic tests of BUFC/CHKFS logic that do not care about
// real asynchrony.
type MemDriver struct {
	blocks [][]byte
	// FailReads, if set, makes ReadNonblocking report IOErr for the
	// listed block numbers, exercising BUFC/CHKFS's E_IO path.
	FailReads map[uint64]bool
}

// NewMemDriver builds an in-memory disk of nblocks zeroed blocks.
func NewMemDriver(nblocks uint64) *MemDriver {
	d := &MemDriver{blocks: make([][]byte, nblocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, BlockSize)
	}
	return d
}

func (d *MemDriver) NBlocks() uint64 { return uint64(len(d.blocks)) }

// Block returns bn's backing bytes directly, bypassing BUFC -- used by
// tests to seed or inspect disk contents the way a real test would poke
// at a loopback-mounted image file.
func (d *MemDriver) Block(bn uint64) []byte { return d.blocks[bn] }

func (d *MemDriver) ReadNonblocking(bn uint64, buf []byte, status *int32, wq *waitq.WaitQueue) bool {
	if d.FailReads[bn] {
		atomic.StoreInt32(status, int32(IOErr))
		waitq.WakeAll(wq)
		return true
	}
	if bn >= uint64(len(d.blocks)) {
		atomic.StoreInt32(status, int32(IOErr))
		waitq.WakeAll(wq)
		return true
	}
	copy(buf, d.blocks[bn])
	atomic.StoreInt32(status, int32(OK))
	waitq.WakeAll(wq)
	return true
}

func (d *MemDriver) WriteSync(bn uint64, buf []byte) common.Err_t {
	if bn >= uint64(len(d.blocks)) {
		return common.EIO
	}
	copy(d.blocks[bn], buf)
	return 0
}

// FileDriver backs the disk with a real host file, mmap'd with
// golang.org/x/sys/unix and addressed by block number; cmd/pugos's boot,
// mkfs and fsck all reach it through a BUFC cache.
type FileDriver struct {
	f       *os.File
	mapping []byte
	nblocks uint64
}

// OpenFileDriver mmaps path (which must already be sized to
// nblocks*BlockSize, e.g. by Truncate) for read/write.
func OpenFileDriver(path string, nblocks uint64) (*FileDriver, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	size := int(nblocks * BlockSize)
	m, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &FileDriver{f: f, mapping: m, nblocks: nblocks}, nil
}

func (d *FileDriver) NBlocks() uint64 { return d.nblocks }

func (d *FileDriver) ReadNonblocking(bn uint64, buf []byte, status *int32, wq *waitq.WaitQueue) bool {
	if bn >= d.nblocks {
		atomic.StoreInt32(status, int32(IOErr))
		waitq.WakeAll(wq)
		return true
	}
	off := bn * BlockSize
	copy(buf, d.mapping[off:off+BlockSize])
	atomic.StoreInt32(status, int32(OK))
	waitq.WakeAll(wq)
	return true
}

func (d *FileDriver) WriteSync(bn uint64, buf []byte) common.Err_t {
	if bn >= d.nblocks {
		return common.EIO
	}
	off := bn * BlockSize
	copy(d.mapping[off:off+BlockSize], buf)
	return 0
}

// Close unmaps and closes the backing file.
func (d *FileDriver) Close() error {
	if err := unix.Munmap(d.mapping); err != nil {
		return err
	}
	return d.f.Close()
}
