package vmm

import (
	"testing"

	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/sync"
)

func TestRangeAllocatorFirstFit(t *testing.T) {
	var a RangeAllocator
	a.Init(Range{Start: Page(0x100), Pages: 16})

	r1, err := a.Allocate(4)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := a.Allocate(4)
	if err != nil {
		t.Fatal(err)
	}

	// Live ranges must be disjoint and drawn from the configured region.
	if r1.End() > r2.Start && r2.End() > r1.Start {
		t.Error("expected allocated ranges to be disjoint")
	}
	region := Range{Start: Page(0x100), Pages: 16}
	if !region.Contains(r1) || !region.Contains(r2) {
		t.Error("expected allocated ranges to be contained in the configured region")
	}

	if got := a.FreePages(); got != 8 {
		t.Errorf("expected 8 free pages; got %d", got)
	}

	if _, err = a.Allocate(9); err != ErrNoVirtualSpace {
		t.Errorf("expected ErrNoVirtualSpace; got %v", err)
	}

	if _, err = a.Allocate(0); err != ErrNoVirtualSpace {
		t.Errorf("expected zero-page allocation to report ErrNoVirtualSpace; got %v", err)
	}
}

func TestRangeAllocatorCoalescing(t *testing.T) {
	var a RangeAllocator
	a.Init(Range{Start: Page(0x100), Pages: 8})

	r1, _ := a.Allocate(4)
	r2, _ := a.Allocate(4)

	if got := a.FreeExtents(); got != 0 {
		t.Fatalf("expected the region to be fully allocated; got %d free extents", got)
	}

	// Freeing r1 while r2's pages are still allocated appends a fresh
	// extent; freeing r2 after that coalesces with the extent that starts
	// where r2 ends... there is none, so it is appended and folded by the
	// prepend rule when r1 is returned last.
	a.Deallocate(r2)
	a.Deallocate(r1)

	if got := a.FreeExtents(); got != 1 {
		t.Errorf("expected a single coalesced extent; got %d", got)
	}
	if got := a.FreePages(); got != 8 {
		t.Errorf("expected all 8 pages to be free; got %d", got)
	}

	// The whole region must be allocatable again.
	if _, err := a.Allocate(8); err != nil {
		t.Errorf("expected the coalesced region to satisfy a full-size allocation; got %v", err)
	}
}

func TestRangeAllocatorDefrag(t *testing.T) {
	t.Run("fold pass", func(t *testing.T) {
		var a RangeAllocator

		// Seed the extent list with single-page extents in reverse order;
		// a defrag pass must sort and fold them into one extent.
		for i := 15; i >= 0; i-- {
			a.free = append(a.free, Range{Start: Page(0x100 + i), Pages: 1})
		}

		a.defrag()

		if got := a.FreeExtents(); got != 1 {
			t.Fatalf("expected defrag to fold the extents into 1; got %d", got)
		}
		if got := a.FreePages(); got != 16 {
			t.Errorf("expected 16 free pages; got %d", got)
		}
	})

	t.Run("threshold trigger", func(t *testing.T) {
		var a RangeAllocator

		// Seed exactly defragThreshold adjacent extents whose starts
		// ascend, then free one more page that touches none of their
		// starts. Crossing the threshold must trigger a full fold.
		for i := 0; i < defragThreshold; i++ {
			a.free = append(a.free, Range{Start: Page(0x100 + i), Pages: 1})
		}

		a.Deallocate(Range{Start: Page(0x100 + defragThreshold), Pages: 1})

		if got := a.FreeExtents(); got != 1 {
			t.Errorf("expected the over-threshold free to fold the extents into 1; got %d", got)
		}
		if got := a.FreePages(); got != uint64(defragThreshold+1) {
			t.Errorf("expected %d free pages; got %d", defragThreshold+1, got)
		}
	})
}

func TestReserveRegion(t *testing.T) {
	defer func() { kernelSpace = sync.OnceMutex[RangeAllocator]{} }()
	kernelSpace = sync.OnceMutex[RangeAllocator]{}
	SetKernelSpace(Range{Start: Page(0x8000), Pages: 64})

	addr, err := ReserveRegion(3 * mem.PageSize)
	if err != nil {
		t.Fatal(err)
	}

	if exp := Page(0x8000).Address(); addr != exp {
		t.Errorf("expected first reservation at 0x%x; got 0x%x", exp, addr)
	}

	addr2, err := ReserveRegion(mem.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	if exp := Page(0x8003).Address(); addr2 != exp {
		t.Errorf("expected second reservation at 0x%x; got 0x%x", exp, addr2)
	}
}
