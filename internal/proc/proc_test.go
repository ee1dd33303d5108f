package proc

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/frametbl"
	"github.com/qbaula/pintos-go/internal/fsys"
	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/swaptbl"
)

// buildMinimalELF returns a runnable-enough ELF-like image: a header and
// zero program headers is enough for loader.Load to succeed (no PT_LOAD
// segments to map), which is all these process-lifecycle tests need.
func buildMinimalELF(entry uint32) []byte {
	const ehdrSize = 52
	buf := make([]byte, ehdrSize)
	copy(buf[0:7], []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	binary.LittleEndian.PutUint16(buf[16:], 2) // e_type
	binary.LittleEndian.PutUint16(buf[18:], 3) // e_machine
	binary.LittleEndian.PutUint32(buf[20:], 1) // e_version
	binary.LittleEndian.PutUint32(buf[24:], entry)
	binary.LittleEndian.PutUint32(buf[28:], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint16(buf[42:], 32)       // e_phentsize
	binary.LittleEndian.PutUint16(buf[44:], 0)        // e_phnum
	return buf
}

type testKernel struct {
	fs     *fsys.FS_t
	frames *frametbl.Table_t
	swap   *swaptbl.Table_t
	procs  *Table_t
}

func newTestKernel(t *testing.T) *testKernel {
	t.Helper()
	diskDev, err := diskio.Open(filepath.Join(t.TempDir(), "disk.img"), 8192, true)
	require.NoError(t, err)
	t.Cleanup(func() { diskDev.Close() })
	fs, err := fsys.Mkfs(diskDev)
	require.NoError(t, err)

	swapDev, err := diskio.Open(filepath.Join(t.TempDir(), "swap.img"), 16*pageaddr.SectorsPerPage, true)
	require.NoError(t, err)
	t.Cleanup(func() { swapDev.Close() })
	swap := swaptbl.New(swapDev, 16)
	frames := frametbl.New(16, swap)

	return &testKernel{fs: fs, frames: frames, swap: swap, procs: NewTable(fs, frames, swap)}
}

func (k *testKernel) writeProgram(t *testing.T, name string, data []byte) {
	t.Helper()
	root, err := k.fs.Root()
	require.NoError(t, err)
	defer k.fs.Close(root)
	ino, err := k.fs.Create(root, "/"+name, false)
	require.NoError(t, err)
	defer k.fs.Close(ino)
	_, err = ino.WriteAt(data, 0)
	require.NoError(t, err)
}

func TestExecLoadsAndWaitReturnsExitStatus(t *testing.T) {
	k := newTestKernel(t)
	k.writeProgram(t, "prog", buildMinimalELF(0x08048000))

	init, err := k.procs.InitProcess()
	require.NoError(t, err)

	pid, err := init.Exec(k.procs, "prog")
	require.NoError(t, err)
	require.True(t, pid > 0)

	child, ok := k.procs.Get(pid)
	require.True(t, ok)

	go child.Exit(k.procs, 7)

	status, err := init.Wait(pid)
	require.NoError(t, err)
	require.Equal(t, 7, status)
}

func TestExecOfMissingProgramFailsLoad(t *testing.T) {
	k := newTestKernel(t)
	init, err := k.procs.InitProcess()
	require.NoError(t, err)

	pid, err := init.Exec(k.procs, "does-not-exist")
	require.Error(t, err)
	require.Equal(t, Pid_t(-1), pid)
}

func TestWaitOnNonChildFails(t *testing.T) {
	k := newTestKernel(t)
	init, err := k.procs.InitProcess()
	require.NoError(t, err)

	_, err = init.Wait(999)
	require.Error(t, err)
}

func TestWaitTwiceOnSameChildFails(t *testing.T) {
	k := newTestKernel(t)
	k.writeProgram(t, "prog", buildMinimalELF(0x08048000))

	init, err := k.procs.InitProcess()
	require.NoError(t, err)
	pid, err := init.Exec(k.procs, "prog")
	require.NoError(t, err)

	child, _ := k.procs.Get(pid)
	child.Exit(k.procs, 0)

	_, err = init.Wait(pid)
	require.NoError(t, err)

	_, err = init.Wait(pid)
	require.Error(t, err)
}

func TestDenyWriteOnRunningExecutable(t *testing.T) {
	k := newTestKernel(t)
	k.writeProgram(t, "prog", buildMinimalELF(0x08048000))

	init, err := k.procs.InitProcess()
	require.NoError(t, err)
	pid, err := init.Exec(k.procs, "prog")
	require.NoError(t, err)
	child, _ := k.procs.Get(pid)

	n, err := child.Exe.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
	require.Equal(t, 0, n) // deny-write while running (spec.md §8 scenario 4)

	child.Exit(k.procs, 0)
}

func TestFdTableReusesFreedSlots(t *testing.T) {
	k := newTestKernel(t)
	root, err := k.fs.Root()
	require.NoError(t, err)
	defer k.fs.Close(root)
	ino, err := k.fs.Create(root, "/f", false)
	require.NoError(t, err)
	defer k.fs.Close(ino)

	p := &Proc_t{fds: make(map[int]*fdEntry_t), nextFd: firstFd}

	fd1 := p.AddFd(ino)
	fd2 := p.AddFd(ino)
	require.Equal(t, firstFd, fd1)
	require.Equal(t, firstFd+1, fd2)

	p.CloseFd(k.procs, fd1)
	fd3 := p.AddFd(ino)
	require.Equal(t, fd1, fd3) // freed slot reused, per spec.md §4.7
}

func TestCloseInvalidFdIsSilentlyIgnored(t *testing.T) {
	p := &Proc_t{fds: make(map[int]*fdEntry_t), nextFd: firstFd}
	k := newTestKernel(t)
	require.NotPanics(t, func() {
		p.CloseFd(k.procs, 999)
	})
}
