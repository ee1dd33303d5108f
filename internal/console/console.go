// Package console defines the minimal external interface fd 0/1 syscalls
// consume. The keyboard and console device themselves are out of scope
// (spec.md §1: "the console/keyboard" is an external collaborator; only
// its consumed interface is specified) — this package supplies a
// stdio-backed implementation for running the kernel for real, and
// callers may substitute any other Console in tests.
package console

import (
	"bufio"
	"io"
)

// Console is what the syscall layer needs from fd 0 (one byte at a time)
// and fd 1 (the whole buffer in a single call), per spec.md §4.7/§6.
type Console interface {
	ReadByte() (byte, error)
	Write(buf []byte) (int, error)
}

// stdio adapts an io.Reader/io.Writer pair (typically os.Stdin/os.Stdout)
// to the Console interface.
type stdio struct {
	in  *bufio.Reader
	out io.Writer
}

// New wraps in/out as a Console.
func New(in io.Reader, out io.Writer) Console {
	return &stdio{in: bufio.NewReader(in), out: out}
}

func (s *stdio) ReadByte() (byte, error) {
	return s.in.ReadByte()
}

func (s *stdio) Write(buf []byte) (int, error) {
	return s.out.Write(buf)
}
