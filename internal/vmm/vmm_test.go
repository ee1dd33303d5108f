package vmm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/frametbl"
	"github.com/qbaula/pintos-go/internal/pageaddr"
	"github.com/qbaula/pintos-go/internal/swaptbl"
)

// fakeFile is a minimal FileHandle backed by an in-memory byte slice, for
// exercising file-backed SPTE loading without package fsys.
type fakeFile struct {
	data []byte
}

func (f *fakeFile) ReadAt(buf []byte, offset int) (int, error) {
	if offset >= len(f.data) {
		return 0, nil
	}
	n := copy(buf, f.data[offset:])
	return n, nil
}

func newTestVM(t *testing.T, nframes, nslot int) (*frametbl.Table_t, *swaptbl.Table_t) {
	t.Helper()
	dev, err := diskio.Open(filepath.Join(t.TempDir(), "swap.img"), nslot*pageaddr.SectorsPerPage, true)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	swap := swaptbl.New(dev, nslot)
	frames := frametbl.New(nframes, swap)
	return frames, swap
}

func TestAllocStackSpteIsEagerlyResident(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	s := spt.AllocStackSpte(pageaddr.PhysBase - pageaddr.PageSize)
	require.True(t, s.Valid())
	require.True(t, s.IsStack())
	require.True(t, s.Writable())
}

func TestAllocFileSpteIsLazy(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	file := &fakeFile{data: []byte("hello world")}
	s := spt.AllocFileSpte(file, 0, 0x08048000, 11, pageaddr.PageSize-11, true)
	require.False(t, s.Valid())
	require.False(t, s.HasBeenLoaded())
}

func TestLoadIsIdempotentAndZeroFillsTail(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	file := &fakeFile{data: []byte("hello")}
	s := spt.AllocFileSpte(file, 0, 0x08048000, 5, pageaddr.PageSize-5, true)

	require.NoError(t, spt.Load(s))
	require.True(t, s.Valid())
	require.True(t, s.HasBeenLoaded())
	require.Equal(t, []byte("hello"), s.Frame().Data[:5])
	for _, b := range s.Frame().Data[5:] {
		require.Equal(t, byte(0), b)
	}

	// Loading again must be a no-op, not a second read.
	require.NoError(t, spt.Load(s))
}

func TestLookupExactPageMatch(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	base := uintptr(0x08048000)
	spt.AllocFileSpte(&fakeFile{}, 0, base, 0, pageaddr.PageSize, true)

	_, ok := spt.Lookup(base + 10)
	require.True(t, ok)
	_, ok = spt.Lookup(base + pageaddr.PageSize)
	require.False(t, ok)
}

func TestHandleFaultGrowsPlausibleStackAccess(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	// esp sits on a page boundary, so esp-16 falls in the unmapped page
	// just below the existing stack page.
	esp := uintptr(pageaddr.PhysBase - pageaddr.PageSize)
	spt.AllocStackSpte(pageaddr.PageBase(esp))
	_, ok := spt.Lookup(pageaddr.PageBase(esp - 16))
	require.False(t, ok)

	err := spt.HandleFault(Access{Addr: esp - 16, Esp: esp, Write: true})
	require.NoError(t, err)
	_, ok = spt.Lookup(pageaddr.PageBase(esp - 16))
	require.True(t, ok)
}

func TestHandleFaultTerminatesImplausibleStackAccess(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	esp := uintptr(pageaddr.PhysBase - 4)
	err := spt.HandleFault(Access{Addr: esp - 64, Esp: esp, Write: true})
	require.Error(t, err)
}

func TestHandleFaultTerminatesWriteToReadOnlyPage(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	base := uintptr(0x08048000)
	spt.AllocFileSpte(&fakeFile{data: []byte("x")}, 0, base, 1, pageaddr.PageSize-1, false)

	err := spt.HandleFault(Access{Addr: base, Esp: pageaddr.PhysBase - 4, Write: true})
	require.Error(t, err)
}

func TestHandleFaultRejectsKernelAddress(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	err := spt.HandleFault(Access{Addr: pageaddr.PhysBase, Esp: pageaddr.PhysBase - 4})
	require.Error(t, err)
}

func TestWriteUserThenReadUserRoundTrips(t *testing.T) {
	frames, swap := newTestVM(t, 4, 4)
	spt := New(1, frames, swap)

	top := uintptr(pageaddr.PhysBase) - pageaddr.PageSize
	spt.AllocStackSpte(top)

	data := []byte("argument-bytes")
	addr := uintptr(pageaddr.PhysBase)
	require.NoError(t, spt.WriteUser(addr, data))

	got, err := spt.ReadUser(addr-uintptr(len(data)), len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestDestroyReleasesFramesAndSwapSlots(t *testing.T) {
	frames, swap := newTestVM(t, 1, 4)
	spt := New(1, frames, swap)

	spt.AllocStackSpte(pageaddr.PhysBase - pageaddr.PageSize)
	spt.Destroy()

	// With the only frame released, a fresh owner must be able to bind
	// without eviction or panic.
	spt2 := New(2, frames, swap)
	require.NotPanics(t, func() {
		spt2.AllocStackSpte(pageaddr.PhysBase - pageaddr.PageSize)
	})
}
