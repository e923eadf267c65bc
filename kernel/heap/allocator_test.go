package heap

import (
	"sort"
	"testing"
	"unsafe"
)

// newTestArena returns an allocator over a fresh 4 KiB-aligned arena of the
// requested size, together with the arena bounds.
func newTestArena(t *testing.T, size uintptr) (*Allocator, uintptr, uintptr) {
	t.Helper()

	buf := make([]byte, size+4096)
	base := uintptr(unsafe.Pointer(&buf[0]))
	if off := base & 4095; off != 0 {
		base += 4096 - off
	}

	var a Allocator
	if err := a.Init(base, base+size); err != nil {
		t.Fatal(err)
	}

	// Keep the backing buffer alive for the duration of the test.
	t.Cleanup(func() { _ = buf })

	return &a, base, base + size
}

func installHeapPanicSeam(t *testing.T) {
	t.Helper()
	origPanicFn := panicFn
	t.Cleanup(func() { panicFn = origPanicFn })
	panicFn = func(e interface{}) { panic(e) }
}

func TestAllocatorInitLayout(t *testing.T) {
	a, start, end := newTestArena(t, 0x10000)

	table := a.TableBlock()
	if table.Free {
		t.Error("expected the table block to be allocated")
	}
	if table.End() != end {
		t.Errorf("expected the table block to end at the arena end 0x%x; got 0x%x", end, table.End())
	}

	// The table block plus the initial free block must partition the
	// arena exactly.
	if a.BlockCount() != 2 {
		t.Fatalf("expected 2 initial blocks; got %d", a.BlockCount())
	}
	free := a.blocks[1]
	if !free.Free || free.Addr != start || free.End() != table.Addr {
		t.Errorf("expected the free block to span [0x%x, 0x%x); got [0x%x, 0x%x)", start, table.Addr, free.Addr, free.End())
	}

	if err := a.checkInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestAllocatorInitTooSmall(t *testing.T) {
	var a Allocator
	if err := a.Init(0x1000, 0x1000+MinHeapSize-1); err != ErrHeapTooSmall {
		t.Errorf("expected ErrHeapTooSmall; got %v", err)
	}
}

func TestAllocatorSplitAndMerge(t *testing.T) {
	// Arena of 0x10000 bytes; allocate four 512-byte regions, free them
	// in arbitrary order and defragment: a single free block spanning the
	// original user region must remain.
	a, start, _ := newTestArena(t, 0x10000)

	userRegionEnd := a.TableBlock().Addr

	var ptrs []uintptr
	for i := 0; i < 4; i++ {
		ptr, err := a.Allocate(512, 1)
		if err != nil {
			t.Fatal(err)
		}
		ptrs = append(ptrs, ptr)
	}

	// The returned pointers are strictly increasing and distinct.
	for i := 1; i < len(ptrs); i++ {
		if ptrs[i] <= ptrs[i-1] {
			t.Fatalf("expected strictly increasing pointers; got %v", ptrs)
		}
	}

	for _, i := range []int{2, 0, 3, 1} {
		if err := a.Deallocate(ptrs[i]); err != nil {
			t.Fatal(err)
		}
	}

	a.Defrag()

	// All that is left: the table block and one free block covering the
	// whole user region.
	if a.BlockCount() != 2 {
		t.Fatalf("expected 2 blocks after defrag; got %d", a.BlockCount())
	}
	free := a.blocks[1]
	if !free.Free || free.Addr != start || free.End() != userRegionEnd {
		t.Errorf("expected a single free block [0x%x, 0x%x); got [0x%x, 0x%x)", start, userRegionEnd, free.Addr, free.End())
	}

	if got := a.Balance(); got != 0 {
		t.Errorf("expected allocation balance 0; got %d", got)
	}
}

func TestAllocatorAlignment(t *testing.T) {
	for i := uint(1); i <= 12; i++ {
		align := uintptr(1) << i

		a, _, _ := newTestArena(t, 0x10000)
		ptr, err := a.Allocate(1, align)
		if err != nil {
			t.Fatalf("[align %d] unexpected error: %v", align, err)
		}

		if ptr&(align-1) != 0 {
			t.Errorf("[align %d] expected pointer 0x%x to have its low %d bits clear", align, ptr, i)
		}
	}
}

func TestAllocatorUnsupportedAlignment(t *testing.T) {
	installHeapPanicSeam(t)
	a, _, _ := newTestArena(t, 0x10000)

	defer func() {
		if err := recover(); err != ErrUnsupportedAlignment {
			t.Errorf("expected ErrUnsupportedAlignment; got %v", err)
		}
	}()

	a.Allocate(1, 8192)
}

func TestAllocatorZeroSize(t *testing.T) {
	a, _, _ := newTestArena(t, 0x10000)

	ptr, err := a.Allocate(0, 1)
	if err != nil || ptr != 0 {
		t.Errorf("expected the null pointer with no error; got 0x%x, %v", ptr, err)
	}

	if got := a.Balance(); got != 0 {
		t.Errorf("expected a zero-size allocation to leave the balance at 0; got %d", got)
	}
}

func TestAllocatorOutOfMemory(t *testing.T) {
	a, _, _ := newTestArena(t, MinHeapSize+0x1000)

	// The usable region cannot satisfy an allocation of the full arena.
	if _, err := a.Allocate(MinHeapSize+0x1000, 1); err != ErrOutOfMemory {
		t.Errorf("expected ErrOutOfMemory; got %v", err)
	}

	// OOM retries defragmentation: scattered frees must be folded so a
	// larger allocation can succeed.
	p1, _ := a.Allocate(0x400, 1)
	p2, _ := a.Allocate(0x400, 1)
	if err := a.Deallocate(p1); err != nil {
		t.Fatal(err)
	}
	if err := a.Deallocate(p2); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Allocate(0x800, 1); err != nil {
		t.Errorf("expected the defrag retry to satisfy the allocation; got %v", err)
	}
}

func TestAllocatorDoubleFree(t *testing.T) {
	installHeapPanicSeam(t)
	a, _, _ := newTestArena(t, 0x10000)

	ptr, err := a.Allocate(128, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err = a.Deallocate(ptr); err != nil {
		t.Fatal(err)
	}

	defer func() {
		if err := recover(); err != ErrDoubleFree {
			t.Errorf("expected ErrDoubleFree; got %v", err)
		}
	}()

	a.Deallocate(ptr)
}

func TestAllocatorInvalidPointer(t *testing.T) {
	a, start, _ := newTestArena(t, 0x10000)

	if err := a.Deallocate(start - 8); err != ErrInvalidPointer {
		t.Errorf("expected ErrInvalidPointer; got %v", err)
	}
}

func TestAllocatorPartitionInvariant(t *testing.T) {
	// Property: after any sequence of allocate/deallocate/defrag that
	// never returns null, the block ranges partition the arena.
	a, start, end := newTestArena(t, 0x10000)

	var live []uintptr
	sizes := []uintptr{16, 512, 33, 4096, 128, 1, 2048, 64}

	for round := 0; round < 6; round++ {
		for _, size := range sizes {
			ptr, err := a.Allocate(size, 8)
			if err != nil {
				t.Fatal(err)
			}
			live = append(live, ptr)
		}

		// Free every other live allocation.
		for i := len(live) - 1; i >= 0; i -= 2 {
			if err := a.Deallocate(live[i]); err != nil {
				t.Fatal(err)
			}
			live = append(live[:i], live[i+1:]...)
		}

		a.Defrag()
		checkPartition(t, a, start, end)
	}
}

// checkPartition asserts that the block table tiles [start, end) exactly.
func checkPartition(t *testing.T, a *Allocator, start, end uintptr) {
	t.Helper()

	if err := a.checkInvariants(); err != nil {
		t.Fatal(err)
	}

	blocks := make([]Block, len(a.blocks))
	copy(blocks, a.blocks)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Addr < blocks[j].Addr })

	next := start
	for i, b := range blocks {
		if b.Addr != next {
			t.Fatalf("partition broken at block %d: expected address 0x%x; got 0x%x", i, next, b.Addr)
		}
		next = b.End()
	}
	if next != end {
		t.Fatalf("partition does not reach the arena end: expected 0x%x; got 0x%x", end, next)
	}
}

func TestAllocatorCoalescingInvariant(t *testing.T) {
	// Property: after Defrag, no two adjacent blocks are both free.
	a, _, _ := newTestArena(t, 0x10000)

	var ptrs []uintptr
	for i := 0; i < 16; i++ {
		ptr, err := a.Allocate(256, 1)
		if err != nil {
			t.Fatal(err)
		}
		ptrs = append(ptrs, ptr)
	}
	for _, ptr := range ptrs {
		if err := a.Deallocate(ptr); err != nil {
			t.Fatal(err)
		}
	}

	a.Defrag()

	for i := range a.blocks {
		if !a.blocks[i].Free {
			continue
		}
		for j := range a.blocks {
			if i == j || !a.blocks[j].Free {
				continue
			}
			if a.blocks[i].IsAdjacent(&a.blocks[j]) {
				t.Fatalf("blocks %d and %d are both free and adjacent after defrag", i, j)
			}
		}
	}
}

func TestAllocatorBalanceInvariant(t *testing.T) {
	// Property: balance == successful allocations - successful frees.
	a, _, _ := newTestArena(t, 0x10000)

	var allocs, frees int64
	var live []uintptr

	for i := 0; i < 64; i++ {
		ptr, err := a.Allocate(uintptr(64+i*8), 1)
		if err != nil {
			break
		}
		allocs++
		live = append(live, ptr)

		if i%3 == 0 {
			if err := a.Deallocate(live[0]); err != nil {
				t.Fatal(err)
			}
			frees++
			live = live[1:]
		}
	}

	if got := a.Balance(); got != allocs-frees {
		t.Errorf("expected balance %d; got %d", allocs-frees, got)
	}
}

func TestGlobalHeap(t *testing.T) {
	buf := make([]byte, 2*MinHeapSize+4096)
	base := uintptr(unsafe.Pointer(&buf[0]))
	if off := base & 4095; off != 0 {
		base += 4096 - off
	}

	if err := Init(base, base+2*MinHeapSize); err != nil {
		t.Fatal(err)
	}

	ptr := Allocate(64, 8)
	if ptr == 0 {
		t.Fatal("expected a non-null pointer")
	}
	if got := Balance(); got != 1 {
		t.Errorf("expected balance 1; got %d", got)
	}

	if err := Deallocate(ptr); err != nil {
		t.Fatal(err)
	}
	Defrag()

	if got := Balance(); got != 0 {
		t.Errorf("expected balance 0; got %d", got)
	}

	// ForceUnlock is callable even while the heap is idle.
	ForceUnlock()
}
