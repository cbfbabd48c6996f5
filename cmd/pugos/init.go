package main

import (
	"fmt"
	"strings"

	"github.com/CS161/PugOS/internal/proc"
	"github.com/CS161/PugOS/internal/waitq"
)

// registerInitPrograms installs the bootstrap programs EXECV can run by
// name before any filesystem is mounted (spec section 6's "static array
// ... used for bootstrap"); each is a validated ELF-like image whose
// actual behavior is the paired Go closure (see internal/proc/initfs.go).
func registerInitPrograms(pt *proc.ProcTable, fs *proc.Initfs) {
	helloImage := proc.EncodeELF(0x1000, []byte("hello"))
	fs.Register("hello", helloImage, func(blk waitq.Blocker, t *proc.Task) {
		writeLine(pt, t, "hello from the initfs catalog")
	})
}

// runInit is the init group's single thread body: print a banner, then
// run a tiny line-oriented shell over fd 0/1 until stdin closes or
// "exit" is typed, mirroring the way biscuit's sys_test and the
// original's user-level init walk /bin at boot.
func runInit(pt *proc.ProcTable, blk waitq.Blocker, t *proc.Task) int {
	writeLine(pt, t, "PugOS booted -- type \"help\" for commands")
	for {
		writeLine(pt, t, "$ ")
		line, ok := readLine(pt, blk, t)
		if !ok {
			return 0
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if code, done := dispatch(pt, blk, t, line); done {
			return code
		}
	}
}

func dispatch(pt *proc.ProcTable, blk waitq.Blocker, t *proc.Task, line string) (int, bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "exit":
		return 0, true
	case "help":
		writeLine(pt, t, "commands: help, exit, cat <path>, run <program>, sync")
	case "sync":
		if err := pt.Sync(blk, false); err != 0 {
			writeLine(pt, t, fmt.Sprintf("sync: %s", err))
		}
	case "cat":
		if len(fields) < 2 {
			writeLine(pt, t, "usage: cat <path>")
			break
		}
		catFile(pt, blk, t, fields[1])
	case "run":
		if len(fields) < 2 {
			writeLine(pt, t, "usage: run <program>")
			break
		}
		if err := pt.Execv(blk, t, fields[1], fields[1:]); err != 0 {
			writeLine(pt, t, fmt.Sprintf("run %s: %s", fields[1], err))
		}
	default:
		writeLine(pt, t, fmt.Sprintf("unknown command %q", fields[0]))
	}
	return 0, false
}

func catFile(pt *proc.ProcTable, blk waitq.Blocker, t *proc.Task, path string) {
	buf := make([]byte, 4096)
	n, err := pt.ReadDiskFile(blk, path, buf, 0)
	if err != 0 {
		writeLine(pt, t, fmt.Sprintf("cat %s: %s", path, err))
		return
	}
	pt.Write(blk, t, 1, buf[:n])
	writeLine(pt, t, "")
}

// writeLine writes s followed by a newline to fd 1 (stdout). pt may be
// nil when called from a program runner that only has t -- in practice
// every caller here has a live ProcTable, so this always writes through
// t.Group's own fd table via the owning ProcTable captured at Spawn time.
func writeLine(pt *proc.ProcTable, t *proc.Task, s string) {
	if pt == nil {
		return
	}
	pt.Write(nil, t, 1, []byte(s+"\n"))
}

// readLine reads fd 0 one byte at a time until a newline or EOF,
// returning ok=false on EOF with no bytes read.
func readLine(pt *proc.ProcTable, blk waitq.Blocker, t *proc.Task) (string, bool) {
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := pt.Read(blk, t, 0, buf)
		if err != 0 {
			return sb.String(), sb.Len() > 0
		}
		if n == 0 {
			return sb.String(), sb.Len() > 0
		}
		if buf[0] == '\n' {
			return sb.String(), true
		}
		sb.WriteByte(buf[0])
	}
}
