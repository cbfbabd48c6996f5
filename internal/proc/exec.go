package proc

import (
	"encoding/binary"

	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/pages"
	"github.com/CS161/PugOS/internal/waitq"
)

// ELFMagic identifies a loadable program image (spec section 6's
// "validate an ELF-like header"); chosen distinct from real ELF's 0x7F
// 'E' 'L' 'F' since this format only models the subset of fields spec
// section 4.4's program-load algorithm actually consumes.
var ELFMagic = [4]byte{'P', 'G', 'O', 'S'}

const (
	phEntrySize   = 32 // VAddr(8) + Offset(8) + FileSz(8) + MemSz(4) + Flags(4)
	elfHeaderSize = 4 + 2 + 2 + 8 + 8 // Magic + Phentsize + Phnum + Entry + PhOff
)

// ProgFlagWritable marks a LOAD segment as writable (spec section 4.4).
const ProgFlagWritable = 1

// Header is the ELF-like header spec section 4.4's loader validates:
// magic, phentsize/phnum, and a sane program-header table offset.
type Header struct {
	Entry     uint64
	PhOff     uint64
	Phentsize uint16
	Phnum     uint16
}

// ProgramHeader is one LOAD segment descriptor.
type ProgramHeader struct {
	VAddr  uint64
	Offset uint64
	FileSz uint64
	MemSz  uint64
	Flags  uint32
}

// ParseELF validates and decodes an ELF-like image per spec section
// 4.4: "Validate an ELF-like header (magic, phentsize/shentsize, sane
// offsets)." Section headers are not modeled since the loader never
// consults them -- only LOAD segments drive mapping.
func ParseELF(data []byte) (Header, []ProgramHeader, common.Err_t) {
	if len(data) < elfHeaderSize {
		return Header{}, nil, common.ENOEXEC
	}
	var magic [4]byte
	copy(magic[:], data[0:4])
	if magic != ELFMagic {
		return Header{}, nil, common.ENOEXEC
	}
	phentsize := binary.LittleEndian.Uint16(data[4:6])
	phnum := binary.LittleEndian.Uint16(data[6:8])
	entry := binary.LittleEndian.Uint64(data[8:16])
	phoff := binary.LittleEndian.Uint64(data[16:24])

	if phentsize != phEntrySize {
		return Header{}, nil, common.ENOEXEC
	}
	tableEnd := phoff + uint64(phnum)*uint64(phentsize)
	if phoff > uint64(len(data)) || tableEnd > uint64(len(data)) {
		return Header{}, nil, common.ENOEXEC
	}

	hdr := Header{Entry: entry, PhOff: phoff, Phentsize: phentsize, Phnum: phnum}
	phs := make([]ProgramHeader, phnum)
	for i := 0; i < int(phnum); i++ {
		off := int(phoff) + i*phEntrySize
		ph := ProgramHeader{
			VAddr:  binary.LittleEndian.Uint64(data[off : off+8]),
			Offset: binary.LittleEndian.Uint64(data[off+8 : off+16]),
			FileSz: binary.LittleEndian.Uint64(data[off+16 : off+24]),
			MemSz:  uint64(binary.LittleEndian.Uint32(data[off+24 : off+28])),
			Flags:  binary.LittleEndian.Uint32(data[off+28 : off+32]),
		}
		if ph.Offset+ph.FileSz > uint64(len(data)) || ph.FileSz > ph.MemSz {
			return Header{}, nil, common.ENOEXEC
		}
		phs[i] = ph
	}
	return hdr, phs, 0
}

// EncodeELF is the mkfs/test-side counterpart of ParseELF: build a
// single-LOAD-segment image for text starting at vaddr.
func EncodeELF(vaddr uint64, text []byte) []byte {
	hdr := make([]byte, elfHeaderSize)
	copy(hdr[0:4], ELFMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], phEntrySize)
	binary.LittleEndian.PutUint16(hdr[6:8], 1)
	binary.LittleEndian.PutUint64(hdr[8:16], vaddr)
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(elfHeaderSize))

	ph := make([]byte, phEntrySize)
	binary.LittleEndian.PutUint64(ph[0:8], vaddr)
	binary.LittleEndian.PutUint64(ph[8:16], uint64(elfHeaderSize+phEntrySize))
	binary.LittleEndian.PutUint64(ph[16:24], uint64(len(text)))
	binary.LittleEndian.PutUint32(ph[24:28], uint32(len(text)))
	binary.LittleEndian.PutUint32(ph[28:32], 0)

	out := append(hdr, ph...)
	out = append(out, text...)
	return out
}

// StackTopVA and PageSize are the fixed layout constants exec installs
// the new user stack at; this stands in for the architecture-specific
// stack-placement convention spec section 1 excludes from the core.
const (
	StackTopVA = 0x7FFF_FFFF_F000
	PageSize   = common.PGSIZE
)

// LoadProgram implements spec section 4.4's program load: for each LOAD
// segment, allocate pages via PAGES and map them into a fresh
// AddrSpace, copy FileSz bytes from data and leave the [FileSz, MemSz)
// tail zero (freshly allocated pages start zeroed), then map one
// writable page as the user stack. The new AddrSpace is built entirely
// apart from the caller's existing one, so a failure here never
// disturbs the caller (spec section 4.4's exec failure semantics).
func LoadProgram(data []byte, alloc *pages.Allocator, mem PhysMem) (*AddrSpace, Regs, common.Err_t) {
	hdr, phs, err := ParseELF(data)
	if err != 0 {
		return nil, Regs{}, err
	}

	as := NewAddrSpace()
	for _, ph := range phs {
		base := ph.VAddr &^ uint64(PageSize-1)
		end := ph.VAddr + ph.MemSz
		writable := ph.Flags&ProgFlagWritable != 0
		for va := base; va < end; va += uint64(PageSize) {
			pa := alloc.AllocPage()
			if pa == 0 {
				as.Destroy(alloc)
				return nil, Regs{}, common.ENOMEM
			}
			as.Map(uintptr(va), pa, Perm{Writable: writable})
		}
		for i := uint64(0); i < ph.FileSz; i++ {
			va := ph.VAddr + i
			pageVA := uintptr(va &^ uint64(PageSize-1))
			pa, _, _ := as.Lookup(pageVA)
			mem.Bytes(pa)[va%uint64(PageSize)] = data[ph.Offset+i]
		}
	}

	stackPa := alloc.AllocPage()
	if stackPa == 0 {
		as.Destroy(alloc)
		return nil, Regs{}, common.ENOMEM
	}
	stackVA := uintptr(StackTopVA - PageSize)
	as.Map(stackVA, stackPa, Perm{Writable: true})

	regs := Regs{Entry: uintptr(hdr.Entry), StackTop: uintptr(StackTopVA)}
	return as, regs, 0
}

// Exec implements spec section 6's EXECV: load a fresh program image,
// then atomically replace the calling task's address space and register
// frame. The old AddrSpace is only released after the new one is fully
// built, matching spec section 4.4's "failed exec leaves the caller
// unaffected." runner, if non-nil, is invoked as the new program's
// entry point -- the Initfs-style binding of a program name to actual
// Go code, since a validated machine-code image cannot itself be
// executed by this process (see DESIGN.md's Open Question on EXECV).
func (pt *ProcTable) Exec(blk waitq.Blocker, t *Task, data []byte, runner func(blk waitq.Blocker, t *Task)) common.Err_t {
	newAS, regs, err := LoadProgram(data, pt.alloc, pt.mem)
	if err != 0 {
		return err
	}

	oldAS := t.Group.AS
	t.Group.AS = newAS
	t.Regs = regs
	oldAS.Unref(pt.alloc)

	if runner != nil {
		runner(blk, t)
	}
	return 0
}
