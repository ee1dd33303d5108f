// Package syscalls implements the per-syscall preconditions, pointer
// validation, and error returns spec.md §4.7 specifies. Grounded on
// biscuit's vm.Sys_pgfault naming convention (biscuit/src/vm/as.go) for
// exported Sys_* entry points, with every user-pointer argument probed
// through internal/vmm before use (spec.md §4.3 "Pointer probing from
// syscalls").
package syscalls

import (
	"os"

	"github.com/qbaula/pintos-go/internal/console"
	"github.com/qbaula/pintos-go/internal/klog"
	"github.com/qbaula/pintos-go/internal/proc"
)

var log = klog.Boot("syscalls")

// Dispatcher bundles the process table and console every syscall needs,
// the way a real trap handler would receive them from the current
// thread's kernel context.
type Dispatcher struct {
	Table   *proc.Table_t
	Console console.Console
	Halt    func() // invoked by Sys_halt; defaults to os.Exit(0)
}

// terminate kills the offending process with exit status -1; Sys_read and
// Sys_write call it when a pointer probe or user-memory copy fails (spec.md §7
// "pointer errors and permission violations terminate the offending
// process with exit status -1").
func terminate(d *Dispatcher, p *proc.Proc_t, cause error) {
	log.Warn("terminating process", "pid", p.Pid, "cause", cause)
	p.Exit(d.Table, -1)
}

// Sys_halt powers off; it never returns in a real kernel. Tests supply
// Dispatcher.Halt to observe the call instead of exiting the process.
func (d *Dispatcher) Sys_halt() {
	if d.Halt != nil {
		d.Halt()
		return
	}
	os.Exit(0)
}

// Sys_exit implements exit(status) (spec.md §4.6).
func (d *Dispatcher) Sys_exit(p *proc.Proc_t, status int) {
	p.Exit(d.Table, status)
}

// Sys_exec implements exec(cmd) (spec.md §4.5/§4.7): returns the child
// pid, or -1 if the load failed.
func (d *Dispatcher) Sys_exec(p *proc.Proc_t, cmdline string) int {
	pid, err := p.Exec(d.Table, cmdline)
	if err != nil {
		return -1
	}
	return int(pid)
}

// Sys_wait implements wait(pid) (spec.md §4.6).
func (d *Dispatcher) Sys_wait(p *proc.Proc_t, pid int) int {
	status, err := p.Wait(proc.Pid_t(pid))
	if err != nil {
		return -1
	}
	return status
}

// Sys_create implements create(path, size) (spec.md §4.7): true/false.
func (d *Dispatcher) Sys_create(p *proc.Proc_t, path string, size int) bool {
	ino, err := d.Table.Fs().Create(p.Cwd, path, false)
	if err != nil {
		return false
	}
	defer d.Table.Fs().Close(ino)
	if size > 0 {
		if err := ino.Resize(size); err != nil {
			return false
		}
	}
	return true
}

// Sys_remove implements remove(path) (spec.md §4.7): true/false.
func (d *Dispatcher) Sys_remove(p *proc.Proc_t, path string) bool {
	return d.Table.Fs().Remove(p.Cwd, path) == nil
}

// Sys_open implements open(path) (spec.md §4.7): fd >= 2 or -1.
func (d *Dispatcher) Sys_open(p *proc.Proc_t, path string) int {
	ino, err := d.Table.Fs().Lookup(p.Cwd, path)
	if err != nil {
		return -1
	}
	return p.AddFd(ino)
}

// Sys_filesize implements filesize(fd) (spec.md §4.7): bytes or -1.
func (d *Dispatcher) Sys_filesize(p *proc.Proc_t, fd int) int {
	ino, _, ok := p.Fd(fd)
	if !ok {
		return -1
	}
	return ino.Len()
}

// Sys_read implements read(fd, buf, n) (spec.md §4.7): fd 0 is the
// console, read one character at a time; bytes read or -1. The user
// buffer [addr, addr+n) is write-probed before anything is copied into
// it (spec.md §4.3): a probe failure terminates the process.
func (d *Dispatcher) Sys_read(p *proc.Proc_t, fd int, addr uintptr, n int) int {
	if n == 0 {
		return 0
	}
	if err := p.Spt.ProbeWrite(addr, n, p.Esp); err != nil {
		terminate(d, p, err)
		return -1
	}

	if fd == proc.StdinFd {
		buf := make([]byte, n)
		for i := 0; i < n; i++ {
			b, err := d.Console.ReadByte()
			if err != nil {
				if i == 0 {
					return -1
				}
				buf = buf[:i]
				break
			}
			buf[i] = b
		}
		if err := p.Spt.WriteUser(addr+uintptr(len(buf)), buf); err != nil {
			terminate(d, p, err)
			return -1
		}
		return len(buf)
	}

	ino, pos, ok := p.Fd(fd)
	if !ok {
		return -1
	}
	buf := make([]byte, n)
	read, err := ino.ReadAt(buf, pos)
	if err != nil {
		return -1
	}
	if err := p.Spt.WriteUser(addr+uintptr(read), buf[:read]); err != nil {
		terminate(d, p, err)
		return -1
	}
	p.Advance(fd, read)
	return read
}

// Sys_write implements write(fd, buf, n) (spec.md §4.7): fd 1 is the
// console, writing the whole buffer in one call; bytes written or -1.
// The user buffer is read-probed first.
func (d *Dispatcher) Sys_write(p *proc.Proc_t, fd int, addr uintptr, n int) int {
	if n == 0 {
		return 0
	}
	if err := p.Spt.ProbeRead(addr, n); err != nil {
		terminate(d, p, err)
		return -1
	}
	data, err := p.Spt.ReadUser(addr, n)
	if err != nil {
		terminate(d, p, err)
		return -1
	}

	if fd == proc.StdoutFd {
		written, err := d.Console.Write(data)
		if err != nil {
			return -1
		}
		return written
	}

	ino, pos, ok := p.Fd(fd)
	if !ok {
		return -1
	}
	if ino == p.Exe {
		return 0 // deny-write on the running executable (spec.md §4.5)
	}
	written, err := ino.WriteAt(data, pos)
	if err != nil {
		return -1
	}
	p.Advance(fd, written)
	return written
}

// Sys_seek implements seek(fd, pos) (spec.md §4.7): position clamped to
// >= 0; seeking past EOF is allowed.
func (d *Dispatcher) Sys_seek(p *proc.Proc_t, fd int, pos int) {
	p.Seek(fd, pos)
}

// Sys_tell implements tell(fd) (spec.md §4.7): position or -1.
func (d *Dispatcher) Sys_tell(p *proc.Proc_t, fd int) int {
	_, pos, ok := p.Fd(fd)
	if !ok {
		return -1
	}
	return pos
}

// Sys_close implements close(fd) (spec.md §4.7): silently ignores an
// invalid descriptor.
func (d *Dispatcher) Sys_close(p *proc.Proc_t, fd int) {
	p.CloseFd(d.Table, fd)
}
