// Package pageaddr holds the page/sector size constants and the
// rounding helpers every subsystem needs to convert between byte offsets,
// page numbers, and sector numbers. Grounded on biscuit's util/util.go
// (Rounddown/Roundup/Min) and mem/mem.go (PGSHIFT/PGSIZE/PGOFFSET).
package pageaddr

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PageSize is the size in bytes of one virtual/physical page.
const PageSize = 1 << PGSHIFT

// PageOffsetMask masks the in-page offset of an address.
const PageOffsetMask = PageSize - 1

// SectorSize is the size in bytes of one block-device sector.
const SectorSize = 512

// SectorsPerPage is the number of contiguous sectors a single page
// occupies on a block device (spec.md §4.1).
const SectorsPerPage = PageSize / SectorSize

// PhysBase is the top of user virtual address space; the initial user
// stack page is mapped immediately below it (spec.md §4.5 step 5).
const PhysBase = 0xC0000000

// StackGrowthHeuristic is the maximum distance below the stack pointer a
// faulting address may be and still be treated as a plausible stack
// access (spec.md §4.3 step 3).
const StackGrowthHeuristic = 32

// StackGrowthCap bounds how far the user stack may grow downward from
// PhysBase, an absolute cap referenced by spec.md §4.3 step 3.
const StackGrowthCap = 8 * 1024 * 1024 // 8MB, conventional Pintos default

// Int is satisfied by all built-in integer types, used to make the
// rounding helpers generic the way biscuit's util.Int does.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// RoundDown aligns v down to the nearest multiple of b.
func RoundDown[T Int](v, b T) T {
	return v - (v % b)
}

// RoundUp aligns v up to the nearest multiple of b.
func RoundUp[T Int](v, b T) T {
	return RoundDown(v+b-1, b)
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// PageBase rounds a virtual address down to its containing page's base,
// the key used to look up a Spte_t (spec.md §3 "Lookup by fault address
// returns the SPTE whose user page base equals round_down(addr,
// PAGE_SIZE)").
func PageBase(addr uintptr) uintptr {
	return RoundDown(addr, uintptr(PageSize))
}

// BytesToSectors returns the number of sectors needed to hold n bytes.
func BytesToSectors(n int) int {
	return (n + SectorSize - 1) / SectorSize
}
