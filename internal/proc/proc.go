// Package proc implements the process control block, file-descriptor
// table, and exec/wait/exit lifecycle (spec.md §3 "Process" / §4.6).
// Grounded on biscuit's tinfo.Threadinfo_t (the global-registry-of-notes
// pattern, biscuit/src/tinfo/tinfo.go), fd.Fd_t/Cwd_t (the per-descriptor
// and current-working-directory shape, biscuit/src/fd/fd.go), and
// accnt.Accnt_t (the per-process usage snapshot, biscuit/src/accnt/accnt.go),
// with the child-process load-status/exited gates of
// original_source/userprog/process.c/thread.c grafted on top via
// golang.org/x/sync/semaphore.
package proc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/qbaula/pintos-go/internal/frametbl"
	"github.com/qbaula/pintos-go/internal/fsys"
	"github.com/qbaula/pintos-go/internal/kerr"
	"github.com/qbaula/pintos-go/internal/klog"
	"github.com/qbaula/pintos-go/internal/loader"
	"github.com/qbaula/pintos-go/internal/swaptbl"
	"github.com/qbaula/pintos-go/internal/vmm"
)

var log = klog.Boot("proc")

// Pid_t identifies a process. Pids are handed out in increasing order
// from the process table's counter, starting at 1.
type Pid_t int

// reservedFds are the per-process descriptor slots the console occupies
// (spec.md §4.7: "fd 0 = console... fd 1 = console").
const (
	StdinFd  = 0
	StdoutFd = 1
	firstFd  = 2
)

// fdEntry_t is one open-file-table slot: an inode reference plus its own
// independent read/write position (spec.md §4.7: "each open has its own
// position"). Grounded on biscuit's fd.Fd_t pairing of an operations
// handle with per-descriptor state.
type fdEntry_t struct {
	inode *fsys.Inode_t
	pos   int
}

// ChildProcess_t is the parent-owned half of the cyclic parent/child
// relationship spec.md §9 describes: "Model as two halves of one record
// owned by the parent; the child holds only the parent's id". Carries
// the load-status and exited gates (spec.md §3 "Child-process record").
type ChildProcess_t struct {
	Pid Pid_t

	loadGate   *gate
	LoadStatus int // +1 success, -1 failure; valid after loadGate fires

	exitGate   *gate
	ExitStatus int // valid after exitGate fires

	waited bool
}

func newChildProcess(pid Pid_t) *ChildProcess_t {
	return &ChildProcess_t{Pid: pid, loadGate: newGate(), exitGate: newGate()}
}

// Proc_t is one process's control block (spec.md §3 "Process"):
// current working directory, parent id, child records, open-file table,
// and its own Supplemental Page Table.
type Proc_t struct {
	sync.Mutex

	Pid      Pid_t
	ParentID Pid_t
	Name     string

	Cwd *fsys.Inode_t
	Exe *fsys.Inode_t // deny-write held for as long as the process runs

	Spt *vmm.Spt_t
	Esp uintptr // user stack pointer at load time, consulted by syscall pointer probing's stack-growth heuristic (spec.md §4.3)

	children map[Pid_t]*ChildProcess_t
	selfRec  *ChildProcess_t // this process's own record, held by its parent (nil for the init process)

	fds    map[int]*fdEntry_t
	nextFd int

	exited bool
}

// Table_t is the global process registry: every live Proc_t keyed by
// pid, the way biscuit's tinfo.Threadinfo_t keys Tnote_t by Tid_t.
type Table_t struct {
	sync.Mutex
	procs  map[Pid_t]*Proc_t
	nextID Pid_t

	fs     *fsys.FS_t
	frames *frametbl.Table_t
	swap   *swaptbl.Table_t
}

// NewTable creates an empty process table backed by the given file
// system and virtual-memory singletons.
func NewTable(fs *fsys.FS_t, frames *frametbl.Table_t, swap *swaptbl.Table_t) *Table_t {
	return &Table_t{
		procs:  make(map[Pid_t]*Proc_t),
		nextID: 1,
		fs:     fs,
		frames: frames,
		swap:   swap,
	}
}

// Fs returns the file system backing this process table, for syscall
// handlers that need path operations beyond what Proc_t itself exposes.
func (t *Table_t) Fs() *fsys.FS_t { return t.fs }

func (t *Table_t) allocPid() Pid_t {
	t.Lock()
	defer t.Unlock()
	pid := t.nextID
	t.nextID++
	return pid
}

func (t *Table_t) register(p *Proc_t) {
	t.Lock()
	defer t.Unlock()
	t.procs[p.Pid] = p
}

func (t *Table_t) unregister(pid Pid_t) {
	t.Lock()
	defer t.Unlock()
	delete(t.procs, pid)
}

func (t *Table_t) lookup(pid Pid_t) (*Proc_t, bool) {
	t.Lock()
	defer t.Unlock()
	p, ok := t.procs[pid]
	return p, ok
}

// Get returns the live Proc_t for pid, if any is currently registered.
// Exported for callers outside this package that need to act on a
// specific process by pid outside the parent/child Exec/Wait protocol —
// the trap-handler dispatch loop a real kernel would have, and test
// harnesses that need to drive a spawned process directly since this
// simulation has no CPU to run the loaded code to its own exit.
func (t *Table_t) Get(pid Pid_t) (*Proc_t, bool) {
	return t.lookup(pid)
}

// InitProcess creates the first process, rooted at the file system's
// root directory with no parent, and no program loaded yet — the caller
// typically follows up with Exec.
func (t *Table_t) InitProcess() (*Proc_t, error) {
	root, err := t.fs.Root()
	if err != nil {
		return nil, err
	}
	pid := t.allocPid()
	p := &Proc_t{
		Pid:      pid,
		ParentID: 0,
		Cwd:      root,
		Spt:      vmm.New(int(pid), t.frames, t.swap),
		children: make(map[Pid_t]*ChildProcess_t),
		fds:      make(map[int]*fdEntry_t),
		nextFd:   firstFd,
	}
	t.register(p)
	return p, nil
}

// Exec implements spec.md §4.5/§4.6's process_execute + load: it
// allocates a pid and a child-process record, runs the load in its own
// goroutine (standing in for "create a new kernel thread to run
// start_process"), and blocks the caller on the load-status gate before
// returning the child pid (or -1 on load failure, per §4.7's exec
// contract).
func (parent *Proc_t) Exec(t *Table_t, cmdline string) (Pid_t, error) {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return -1, kerr.New(kerr.InvalidArg, "exec: empty command line")
	}

	pid := t.allocPid()
	rec := newChildProcess(pid)

	parent.Lock()
	parent.children[pid] = rec
	parent.Unlock()

	// Each process holds its own open reference on its cwd inode (so that
	// one process exiting and closing its cwd never invalidates another's),
	// obtained the same way any other path resolution would be.
	childCwd, err := t.fs.Lookup(parent.Cwd, ".")
	if err != nil {
		parent.Lock()
		delete(parent.children, pid)
		parent.Unlock()
		return -1, err
	}

	child := &Proc_t{
		Pid:      pid,
		ParentID: parent.Pid,
		Name:     argv[0],
		Cwd:      childCwd,
		Spt:      vmm.New(int(pid), t.frames, t.swap),
		children: make(map[Pid_t]*ChildProcess_t),
		fds:      make(map[int]*fdEntry_t),
		nextFd:   firstFd,
		selfRec:  rec,
	}

	go startProcess(t, child, argv, rec)

	if err := rec.loadGate.Wait(context.Background()); err != nil {
		return -1, err
	}
	if rec.LoadStatus < 0 {
		parent.Lock()
		delete(parent.children, pid)
		parent.Unlock()
		t.fs.Close(childCwd)
		return -1, kerr.New(kerr.NotFound, "exec: load failed for %q", argv[0])
	}
	t.register(child)
	return pid, nil
}

// startProcess mirrors process.c's start_process: open the executable,
// deny writes to it, load it into the new process's SPT, and signal the
// load-status gate with the outcome.
func startProcess(t *Table_t, child *Proc_t, argv []string, rec *ChildProcess_t) {
	exe, err := t.fs.Lookup(child.Cwd, argv[0])
	if err != nil {
		log.Warn("exec: open failed", "prog", argv[0], "err", err)
		rec.LoadStatus = -1
		rec.loadGate.Signal()
		return
	}
	exe.DenyWrite()

	loaded, err := loader.Load(child.Spt, exe, argv)
	if err != nil {
		log.Warn("exec: load failed", "prog", argv[0], "err", err)
		exe.AllowWrite()
		t.fs.Close(exe)
		rec.LoadStatus = -1
		rec.loadGate.Signal()
		return
	}

	child.Exe = exe
	child.Esp = loaded.Esp
	rec.LoadStatus = 1
	rec.loadGate.Signal()
}

// Wait implements spec.md §4.6's wait(pid): the pid must be a direct,
// not-yet-waited-on child, else it fails immediately.
func (p *Proc_t) Wait(pid Pid_t) (int, error) {
	p.Lock()
	rec, ok := p.children[pid]
	if ok && rec.waited {
		ok = false
	}
	p.Unlock()
	if !ok {
		return -1, kerr.New(kerr.NotFound, "wait: %d is not a waitable child", pid)
	}

	if err := rec.exitGate.Wait(context.Background()); err != nil {
		return -1, err
	}

	p.Lock()
	rec.waited = true
	delete(p.children, pid)
	p.Unlock()

	return rec.ExitStatus, nil
}

// Exit implements spec.md §4.6's exit(status): record the status in the
// parent's child record and signal the exited gate, close every fd,
// destroy the SPT (which releases frames and swap slots), and drop the
// deny-write hold on the executable.
func (p *Proc_t) Exit(t *Table_t, status int) {
	p.Lock()
	if p.exited {
		p.Unlock()
		return
	}
	p.exited = true
	fds := p.fds
	p.fds = nil
	exe := p.Exe
	cwd := p.Cwd
	p.Unlock()

	fmt.Printf("%s: exit(%d)\n", p.Name, status)

	for _, fd := range fds {
		t.fs.Close(fd.inode)
	}
	if exe != nil {
		exe.AllowWrite()
		t.fs.Close(exe)
	}
	if cwd != nil {
		t.fs.Close(cwd)
	}

	p.Spt.Destroy()

	if p.selfRec != nil {
		p.selfRec.ExitStatus = status
		p.selfRec.exitGate.Signal()
	}
	t.unregister(p.Pid)
}

// --- file descriptor table ---

// AddFd installs ino as a freshly opened file, returning its descriptor
// (spec.md §4.7: "per-process dense indices ≥ 2; the table reuses freed
// slots").
func (p *Proc_t) AddFd(ino *fsys.Inode_t) int {
	p.Lock()
	defer p.Unlock()
	for fd := firstFd; fd < p.nextFd; fd++ {
		if _, used := p.fds[fd]; !used {
			p.fds[fd] = &fdEntry_t{inode: ino}
			return fd
		}
	}
	fd := p.nextFd
	p.nextFd++
	p.fds[fd] = &fdEntry_t{inode: ino}
	return fd
}

// Fd looks up an open descriptor's inode and current position.
func (p *Proc_t) Fd(fd int) (*fsys.Inode_t, int, bool) {
	p.Lock()
	defer p.Unlock()
	e, ok := p.fds[fd]
	if !ok {
		return nil, 0, false
	}
	return e.inode, e.pos, true
}

// Seek sets fd's position (spec.md §4.7: "position clamped to ≥ 0; past
// EOF allowed").
func (p *Proc_t) Seek(fd int, pos int) bool {
	p.Lock()
	defer p.Unlock()
	e, ok := p.fds[fd]
	if !ok {
		return false
	}
	if pos < 0 {
		pos = 0
	}
	e.pos = pos
	return true
}

// Advance moves fd's position forward by n bytes, called after a
// successful read or write.
func (p *Proc_t) Advance(fd int, n int) {
	p.Lock()
	defer p.Unlock()
	if e, ok := p.fds[fd]; ok {
		e.pos += n
	}
}

// CloseFd removes fd from the table and closes its inode, silently
// ignoring an invalid descriptor (spec.md §4.7: "close: ... silently
// ignore invalid fd").
func (p *Proc_t) CloseFd(t *Table_t, fd int) {
	p.Lock()
	e, ok := p.fds[fd]
	if ok {
		delete(p.fds, fd)
	}
	p.Unlock()
	if ok {
		t.fs.Close(e.inode)
	}
}
