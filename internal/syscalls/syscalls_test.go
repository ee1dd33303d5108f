package syscalls

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qbaula/pintos-go/internal/console"
	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/frametbl"
	"github.com/qbaula/pintos-go/internal/fsys"
	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/proc"
	"github.com/qbaula/pintos-go/internal/swaptbl"
)

func buildMinimalELF(entry uint32) []byte {
	const ehdrSize = 52
	buf := make([]byte, ehdrSize)
	copy(buf[0:7], []byte{0x7f, 'E', 'L', 'F', 1, 1, 1})
	binary.LittleEndian.PutUint16(buf[16:], 2)
	binary.LittleEndian.PutUint16(buf[18:], 3)
	binary.LittleEndian.PutUint32(buf[20:], 1)
	binary.LittleEndian.PutUint32(buf[24:], entry)
	binary.LittleEndian.PutUint32(buf[28:], ehdrSize)
	binary.LittleEndian.PutUint16(buf[42:], 32)
	binary.LittleEndian.PutUint16(buf[44:], 0)
	return buf
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *proc.Proc_t) {
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
	table := proc.NewTable(fs, frames, swap)

	init, err := table.InitProcess()
	require.NoError(t, err)

	var out bytes.Buffer
	d := &Dispatcher{Table: table, Console: console.New(bytes.NewBufferString(""), &out)}
	return d, init
}

func TestCreateOpenWriteReadCloseRoundTrip(t *testing.T) {
	d, p := newTestDispatcher(t)

	require.True(t, d.Sys_create(p, "/f", 0))

	fd := d.Sys_open(p, "/f")
	require.True(t, fd >= 2)

	// Probe-driven syscalls need a real user stack page bound into the
	// process's SPT before Sys_read/Sys_write can touch a "user buffer";
	// set one up the way exec's stack setup would.
	p.Spt.AllocStackSpte(pageaddr.PhysBase - pageaddr.PageSize)
	p.Esp = pageaddr.PhysBase

	data := []byte("payload")
	addr := pageaddr.PhysBase - 64
	require.NoError(t, p.Spt.WriteUser(addr+uintptr(len(data)), data))

	n := d.Sys_write(p, fd, addr, len(data))
	require.Equal(t, len(data), n)
	require.Equal(t, len(data), d.Sys_filesize(p, fd))

	d.Sys_seek(p, fd, 0)
	require.Equal(t, 0, d.Sys_tell(p, fd))

	readAddr := pageaddr.PhysBase - 128
	n = d.Sys_read(p, fd, readAddr, len(data))
	require.Equal(t, len(data), n)

	got, err := p.Spt.ReadUser(readAddr, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)

	d.Sys_close(p, fd)
	require.Equal(t, -1, d.Sys_tell(p, fd)) // closed fd
}

func TestRemoveTrueFalse(t *testing.T) {
	d, p := newTestDispatcher(t)
	require.True(t, d.Sys_create(p, "/f", 0))
	require.True(t, d.Sys_remove(p, "/f"))
	require.False(t, d.Sys_remove(p, "/f"))
}

func TestOpenMissingFileReturnsMinusOne(t *testing.T) {
	d, p := newTestDispatcher(t)
	require.Equal(t, -1, d.Sys_open(p, "/missing"))
}

func TestExecWaitEndToEnd(t *testing.T) {
	d, p := newTestDispatcher(t)

	root, err := d.Table.Fs().Root()
	require.NoError(t, err)
	defer d.Table.Fs().Close(root)
	ino, err := d.Table.Fs().Create(root, "/prog", false)
	require.NoError(t, err)
	_, err = ino.WriteAt(buildMinimalELF(0x08048000), 0)
	require.NoError(t, err)
	require.NoError(t, d.Table.Fs().Close(ino))

	pid := d.Sys_exec(p, "prog")
	require.True(t, pid >= 0)

	child, ok := d.Table.Get(proc.Pid_t(pid))
	require.True(t, ok)
	go d.Sys_exit(child, 3)

	status := d.Sys_wait(p, pid)
	require.Equal(t, 3, status)
}

func TestHaltInvokesConfiguredCallback(t *testing.T) {
	d, _ := newTestDispatcher(t)
	called := false
	d.Halt = func() { called = true }
	d.Sys_halt()
	require.True(t, called)
}
