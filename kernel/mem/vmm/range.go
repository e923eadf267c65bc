package vmm

import "github.com/quackitsquinn/novos-sub000/kernel/mem"

// Range describes a contiguous range of virtual memory pages.
type Range struct {
	// Start is the first page in the range.
	Start Page

	// Pages is the number of pages covered by the range; always > 0 for
	// ranges handed out by the allocator.
	Pages uint64
}

// RangeFromAddress returns the Range covering size bytes starting at
// virtAddr. The address is rounded down to a page and the size up to a whole
// number of pages.
func RangeFromAddress(virtAddr uintptr, size mem.Size) Range {
	return Range{
		Start: PageFromAddress(virtAddr),
		Pages: uint64(size.Pages()),
	}
}

// Address returns the virtual address of the first byte in the range.
func (r Range) Address() uintptr {
	return r.Start.Address()
}

// Size returns the size of the range in bytes.
func (r Range) Size() mem.Size {
	return mem.Size(r.Pages) * mem.PageSize
}

// End returns the first page past the range.
func (r Range) End() Page {
	return r.Start + Page(r.Pages)
}

// Contains returns true if other is fully contained within this range.
func (r Range) Contains(other Range) bool {
	return other.Start >= r.Start && other.End() <= r.End()
}

// Take splits off the first pages pages of the range, shrinking it in place.
// It returns false if the range is too small.
func (r *Range) Take(pages uint64) (Range, bool) {
	if pages > r.Pages {
		return Range{}, false
	}

	taken := Range{Start: r.Start, Pages: pages}
	r.Start += Page(pages)
	r.Pages -= pages
	return taken, true
}

// Extend grows the range by pages pages.
func (r *Range) Extend(pages uint64) {
	r.Pages += pages
}
