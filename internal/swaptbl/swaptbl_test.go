package swaptbl

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qbaula/pintos-go/internal/diskio"
	"github.com/qbaula/pintos-go/internal/pageaddr"
)

func newTestTable(t *testing.T, nslot int) *Table_t {
	t.Helper()
	dev, err := diskio.Open(filepath.Join(t.TempDir(), "swap.img"), nslot*pageaddr.SectorsPerPage, true)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return New(dev, nslot)
}

func fillPage(b byte) []byte {
	buf := make([]byte, pageaddr.PageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestReserveAndWriteThenReadIntoRoundTrips(t *testing.T) {
	tbl := newTestTable(t, 4)

	page := fillPage(0x42)
	slot, err := tbl.ReserveAndWrite(page)
	require.NoError(t, err)

	// spec.md §4.1: the source frame buffer is zeroed after the device
	// write so a stale copy cannot leak through a later eviction.
	for _, b := range page {
		require.Equal(t, byte(0), b)
	}

	out := make([]byte, pageaddr.PageSize)
	tbl.ReadInto(slot, out)
	require.Equal(t, fillPage(0x42), out)
}

func TestReserveAndWriteReturnsFullWhenExhausted(t *testing.T) {
	tbl := newTestTable(t, 1)

	_, err := tbl.ReserveAndWrite(fillPage(1))
	require.NoError(t, err)

	_, err = tbl.ReserveAndWrite(fillPage(2))
	require.ErrorIs(t, err, Full)
}

func TestReadIntoUnoccupiedSlotPanics(t *testing.T) {
	tbl := newTestTable(t, 1)
	require.Panics(t, func() {
		tbl.ReadInto(0, make([]byte, pageaddr.PageSize))
	})
}

func TestOccupiedTracksLiveSlots(t *testing.T) {
	tbl := newTestTable(t, 4)
	require.Equal(t, 0, tbl.Occupied())

	slotA, err := tbl.ReserveAndWrite(fillPage(1))
	require.NoError(t, err)
	slotB, err := tbl.ReserveAndWrite(fillPage(2))
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Occupied())

	tbl.Release(slotA)
	require.Equal(t, 1, tbl.Occupied())

	out := make([]byte, pageaddr.PageSize)
	tbl.ReadInto(slotB, out)
	require.Equal(t, 0, tbl.Occupied())
}
