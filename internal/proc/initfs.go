package proc

import (
	"github.com/CS161/PugOS/internal/common"
	"github.com/CS161/PugOS/internal/waitq"
)

// Initfs is the static program catalog of spec section 6: "a static
// array of {name, data_ptr, len, capacity} for programs that do not
// live in the on-disk filesystem (used for bootstrap). Looked up by
// exact name." Go cannot execute an arbitrary validated machine-code
// image, so each entry also carries the Go closure EXECV actually runs
// once the image's header/segments validate -- the program's "real"
// behavior, bound by name exactly like the original binds a name to a
// data blob (see DESIGN.md's Open Question on EXECV).
type Initfs struct {
	entries map[string]initfsEntry
}

type initfsEntry struct {
	image []byte
	run   ProgramRunner
}

// ProgramRunner is the Go closure standing in for a validated image's
// actual execution (see exec.go's Exec).
type ProgramRunner func(blk waitq.Blocker, t *Task)

// NewInitfs builds an empty catalog.
func NewInitfs() *Initfs {
	return &Initfs{entries: make(map[string]initfsEntry)}
}

// Register installs a program under name, along with the ELF-like image
// that EXECV will validate before running it.
func (fs *Initfs) Register(name string, image []byte, run ProgramRunner) {
	fs.entries[name] = initfsEntry{image: image, run: run}
}

// Lookup returns name's image and runner, or ENOENT.
func (fs *Initfs) Lookup(name string) ([]byte, ProgramRunner, common.Err_t) {
	e, ok := fs.entries[name]
	if !ok {
		return nil, nil, common.ENOENT
	}
	return e.image, e.run, 0
}
