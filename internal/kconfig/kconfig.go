// Package kconfig is the kernel's boot-time configuration, parsing
// human-friendly size strings ("256MiB", "4Ki") with
// github.com/docker/go-units the way a real mkfs/boot tool would rather
// than hand-rolling a suffix parser.
package kconfig

import (
	"fmt"

	"github.com/docker/go-units"
)

// Config is the set of knobs cmd/pugos's boot/mkfs/fsck subcommands
// need: simulated physical memory size, CPU count, disk image size and
// path, and the inode count for a freshly formatted filesystem.
type Config struct {
	MemSize  uint64
	NCPU     int
	DiskPath string
	DiskSize uint64
	NInodes  uint64
}

// Default returns a small but workable configuration (enough for the
// scenario tests: a handful of CPUs, a few megabytes of memory and
// disk).
func Default() Config {
	return Config{
		MemSize:  16 * units.MiB,
		NCPU:     2,
		DiskPath: "pugos.img",
		DiskSize: 8 * units.MiB,
		NInodes:  256,
	}
}

// ParseSize parses a human size string ("256MiB", "4Ki", "1GB") via
// go-units, returning an error wrapped with the offending field name for
// cobra's flag-parsing error reporting.
func ParseSize(field, s string) (uint64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s: negative size %q", field, s)
	}
	return uint64(n), nil
}

// HumanSize formats n bytes the way status/introspection output does
// (spec section 9 supplement's Stats()), e.g. "16MiB".
func HumanSize(n uint64) string {
	return units.BytesSize(float64(n))
}
