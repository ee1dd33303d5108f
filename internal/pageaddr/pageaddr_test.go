package pageaddr

import "testing"

func TestRoundDownRoundUp(t *testing.T) {
	cases := []struct {
		v, b       uintptr
		down, up   uintptr
	}{
		{0, PageSize, 0, 0},
		{1, PageSize, 0, PageSize},
		{PageSize, PageSize, PageSize, PageSize},
		{PageSize + 1, PageSize, PageSize, 2 * PageSize},
	}
	for _, c := range cases {
		if got := RoundDown(c.v, c.b); got != c.down {
			t.Errorf("RoundDown(%d, %d) = %d, want %d", c.v, c.b, got, c.down)
		}
		if got := RoundUp(c.v, c.b); got != c.up {
			t.Errorf("RoundUp(%d, %d) = %d, want %d", c.v, c.b, got, c.up)
		}
	}
}

func TestPageBase(t *testing.T) {
	if got := PageBase(PhysBase - 1); got != PhysBase-PageSize {
		t.Errorf("PageBase(PhysBase-1) = %#x, want %#x", got, PhysBase-PageSize)
	}
}

func TestBytesToSectors(t *testing.T) {
	if got := BytesToSectors(0); got != 0 {
		t.Errorf("BytesToSectors(0) = %d, want 0", got)
	}
	if got := BytesToSectors(1); got != 1 {
		t.Errorf("BytesToSectors(1) = %d, want 1", got)
	}
	if got := BytesToSectors(SectorSize); got != 1 {
		t.Errorf("BytesToSectors(SectorSize) = %d, want 1", got)
	}
	if got := BytesToSectors(SectorSize + 1); got != 2 {
		t.Errorf("BytesToSectors(SectorSize+1) = %d, want 2", got)
	}
}

func TestMin(t *testing.T) {
	if Min(3, 5) != 3 {
		t.Errorf("Min(3,5) != 3")
	}
	if Min(5, 3) != 3 {
		t.Errorf("Min(5,3) != 3")
	}
}
