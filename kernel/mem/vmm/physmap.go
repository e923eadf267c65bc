package vmm

import (
	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/pmm"
)

// ErrCouldNotMap is returned when installing a physical-map window fails at
// the page-table level.
var ErrCouldNotMap = &kernel.Error{Module: "vmm", Message: "could not map physical region"}

var (
	// The following functions are used by tests to mock the page-table
	// mutation path.
	physMapFn   = Map
	physUnmapFn = Unmap
)

// PhysicalMap grants access to a physical memory region through a virtual
// window reserved from the kernel's virtual range allocator. Handles are
// produced by MapAddress and must be released via UnmapAddress.
type PhysicalMap struct {
	physBase uintptr
	window   Range

	// offset is the intra-page offset of the requested physical address;
	// Ptr returns the window address adjusted by it.
	offset uintptr

	size mem.Size
}

// Ptr returns the virtual address corresponding to the physical address that
// was passed to MapAddress.
func (pm *PhysicalMap) Ptr() uintptr {
	return pm.window.Address() + pm.offset
}

// PhysBase returns the page-aligned physical base of the mapped region.
func (pm *PhysicalMap) PhysBase() uintptr {
	return pm.physBase
}

// Size returns the size of the mapped window in bytes.
func (pm *PhysicalMap) Size() mem.Size {
	return pm.size
}

// MapAddress installs a virtual window over the physical region [phys,
// phys+size) with the supplied page flags. The physical address is rounded
// down to a page boundary and the size up to a whole number of pages; the
// returned handle remembers the intra-page offset so Ptr addresses the exact
// byte requested.
func MapAddress(phys uintptr, size mem.Size, flags PageTableEntryFlag) (PhysicalMap, *kernel.Error) {
	var (
		pageMask = uintptr(mem.PageSize - 1)
		physBase = phys &^ pageMask
		offset   = phys & pageMask
	)
	size = (size + mem.Size(offset) + mem.PageSize - 1) &^ (mem.PageSize - 1)

	window, err := AllocateRange(uint64(size.Pages()))
	if err != nil {
		return PhysicalMap{}, err
	}

	for i := uint64(0); i < window.Pages; i++ {
		page := window.Start + Page(i)
		frame := pmm.FrameFromAddress(physBase + uintptr(i)*uintptr(mem.PageSize))
		if err = physMapFn(page, frame, flags); err != nil {
			// Roll back the partial window before reporting failure.
			for j := uint64(0); j < i; j++ {
				physUnmapFn(window.Start + Page(j))
			}
			ReleaseRange(window)
			return PhysicalMap{}, ErrCouldNotMap
		}
	}

	return PhysicalMap{physBase: physBase, window: window, offset: offset, size: size}, nil
}

// UnmapAddress removes the mappings backing the window and returns its
// virtual range to the allocator.
func UnmapAddress(pm PhysicalMap) *kernel.Error {
	var firstErr *kernel.Error

	for i := uint64(0); i < pm.window.Pages; i++ {
		if err := physUnmapFn(pm.window.Start + Page(i)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	ReleaseRange(pm.window)
	return firstErr
}

// RemapAddress releases the supplied handle and installs a fresh window over
// the same physical base with a new size and flags.
func RemapAddress(pm PhysicalMap, size mem.Size, flags PageTableEntryFlag) (PhysicalMap, *kernel.Error) {
	if err := UnmapAddress(pm); err != nil {
		return PhysicalMap{}, err
	}
	return MapAddress(pm.physBase+pm.offset, size, flags)
}
