package main

import (
	"bufio"
	"io"

	"github.com/CS161/PugOS/internal/common"
)

// hostConsole wires PROC's ConsoleIO to the host terminal, standing in
// for the keyboard/console driver spec section 6 excludes from PAGES/
// WAITQ/SCHED/PROC/BUFC/CHKFS's core.
type hostConsole struct {
	in  *bufio.Reader
	out io.Writer
}

func newHostConsole(in io.Reader, out io.Writer) *hostConsole {
	return &hostConsole{in: bufio.NewReader(in), out: out}
}

func (c *hostConsole) ReadConsole(buf []byte) (int, common.Err_t) {
	n, err := c.in.Read(buf)
	if err != nil && n == 0 {
		if err == io.EOF {
			return 0, 0
		}
		return 0, common.EIO
	}
	return n, 0
}

func (c *hostConsole) WriteConsole(buf []byte) (int, common.Err_t) {
	n, err := c.out.Write(buf)
	if err != nil {
		return n, common.EIO
	}
	return n, 0
}
