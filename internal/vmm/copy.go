package vmm

import (
	"fmt"

	"github.com/qbaula/pintos-go/internal/pageaddr"
)

// WriteUser copies data into the user address space ending at addr
// (data[len(data)-1] lands at addr-1), allocating new stack pages as the
// write crosses below the lowest page already mapped. Used by both the
// executable loader's stack setup (original_source/userprog/process.c's
// push_to_stack) and the read syscall, which copies into the user buffer
// once ProbeWrite has already established every touched page is writable
// (spec.md §4.3).
func (spt *Spt_t) WriteUser(addr uintptr, data []byte) error {
	end := addr
	start := addr - uintptr(len(data))
	for pos := start; pos < end; {
		page := pageaddr.PageBase(pos)
		s, ok := spt.Lookup(page)
		if !ok {
			s = spt.AllocStackSpte(page)
		}
		if err := spt.Load(s); err != nil {
			return fmt.Errorf("vmm: WriteUser: %w", err)
		}
		frame := s.Frame()
		if frame == nil {
			return fmt.Errorf("vmm: WriteUser: page %#x has no frame", page)
		}
		chunkEnd := page + pageaddr.PageSize
		if chunkEnd > end {
			chunkEnd = end
		}
		n := int(chunkEnd - pos)
		srcOff := int(pos - start)
		copy(frame.Data[pos-page:], data[srcOff:srcOff+n])
		pos = chunkEnd
	}
	return nil
}

// ReadUser copies n bytes starting at addr out of the user address space,
// loading each page it touches first (spec.md §4.3 "read faults are
// welcome").
func (spt *Spt_t) ReadUser(addr uintptr, n int) ([]byte, error) {
	out := make([]byte, n)
	end := addr + uintptr(n)
	for pos := addr; pos < end; {
		page := pageaddr.PageBase(pos)
		s, ok := spt.Lookup(page)
		if !ok {
			return nil, fmt.Errorf("vmm: ReadUser: unmapped page %#x", page)
		}
		if err := spt.Load(s); err != nil {
			return nil, fmt.Errorf("vmm: ReadUser: %w", err)
		}
		frame := s.Frame()
		chunkEnd := page + pageaddr.PageSize
		if chunkEnd > end {
			chunkEnd = end
		}
		chunkLen := int(chunkEnd - pos)
		copy(out[pos-addr:], frame.Data[pos-page:pos-page+uintptr(chunkLen)])
		pos = chunkEnd
	}
	return out, nil
}
