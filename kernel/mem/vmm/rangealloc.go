package vmm

import (
	"sort"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/sync"
)

// defragThreshold is the free-extent count past which Deallocate triggers a
// full defragmentation pass.
const defragThreshold = 64

// ErrNoVirtualSpace is returned when no free extent can satisfy a virtual
// range allocation.
var ErrNoVirtualSpace = &kernel.Error{Module: "vmm", Message: "out of virtual address space"}

// RangeAllocator hands out sub-ranges of a large reserved virtual region
// without touching any actual mappings. Free space is tracked as a sequence
// of extents; allocation is first-fit and freed ranges are coalesced with an
// adjacent extent when possible, or folded in bulk once the extent list
// grows past defragThreshold.
type RangeAllocator struct {
	free []Range
}

// Init seeds the allocator with a single free extent covering the supplied
// region.
func (a *RangeAllocator) Init(region Range) {
	a.free = append(a.free[:0], region)
}

// Allocate reserves pages pages out of the first extent that can fit them.
func (a *RangeAllocator) Allocate(pages uint64) (Range, *kernel.Error) {
	if pages == 0 {
		return Range{}, ErrNoVirtualSpace
	}

	for i := range a.free {
		if a.free[i].Pages < pages {
			continue
		}

		taken, _ := a.free[i].Take(pages)
		if a.free[i].Pages == 0 {
			a.free = append(a.free[:i], a.free[i+1:]...)
		}
		return taken, nil
	}

	return Range{}, ErrNoVirtualSpace
}

// Deallocate returns a range to the allocator. If the freed range ends where
// an existing extent begins the two are coalesced in place; otherwise the
// range is appended as a new extent.
func (a *RangeAllocator) Deallocate(r Range) {
	if r.Pages == 0 {
		return
	}

	for i := range a.free {
		if a.free[i].Start == r.End() {
			a.free[i].Start = r.Start
			a.free[i].Pages += r.Pages
			return
		}
	}

	a.free = append(a.free, r)

	if len(a.free) > defragThreshold {
		a.defrag()
	}
}

// defrag sorts the extents by start page and folds consecutive touching
// extents until a full pass folds nothing.
func (a *RangeAllocator) defrag() {
	for {
		sort.Slice(a.free, func(i, j int) bool { return a.free[i].Start < a.free[j].Start })

		merged := 0
		out := a.free[:0]
		for _, r := range a.free {
			if n := len(out); n > 0 && out[n-1].End() == r.Start {
				out[n-1].Pages += r.Pages
				merged++
				continue
			}
			out = append(out, r)
		}
		a.free = out

		if merged == 0 {
			return
		}
	}
}

// FreeExtents returns the current number of free extents.
func (a *RangeAllocator) FreeExtents() int {
	return len(a.free)
}

// FreePages returns the total number of free pages across all extents.
func (a *RangeAllocator) FreePages() uint64 {
	var total uint64
	for i := range a.free {
		total += a.free[i].Pages
	}
	return total
}

// kernelSpace is the global allocator for the kernel's reserved virtual
// region. It backs ReserveRegion (used to bootstrap the Go runtime
// allocator) and the physical-map mapper.
var kernelSpace sync.OnceMutex[RangeAllocator]

// SetKernelSpace seeds the global virtual range allocator with the kernel's
// reserved region.
func SetKernelSpace(region Range) {
	var a RangeAllocator
	a.Init(region)
	kernelSpace.Init(a)
}

// AllocateRange reserves a range of pages pages from the kernel's reserved
// virtual region.
func AllocateRange(pages uint64) (Range, *kernel.Error) {
	g := kernelSpace.Lock()
	defer g.Unlock()
	return g.Get().Allocate(pages)
}

// ReleaseRange returns a range previously obtained via AllocateRange.
func ReleaseRange(r Range) {
	g := kernelSpace.Lock()
	defer g.Unlock()
	g.Get().Deallocate(r)
}

// ReserveRegion reserves a contiguous virtual region large enough to hold
// size bytes without establishing any mappings. It is used by the goruntime
// package to redirect the Go allocator's address space reservations.
func ReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, nil
	}

	r, err := AllocateRange(uint64(size.Pages()))
	if err != nil {
		return 0, err
	}
	return r.Address(), nil
}
