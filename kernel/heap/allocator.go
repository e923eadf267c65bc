package heap

import (
	"reflect"
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
)

const (
	// InitBlockCount is the number of entries in the initial block table.
	InitBlockCount = 512

	// blockSize is the size of a single block table entry.
	blockSize = unsafe.Sizeof(Block{})

	// MinHeapSize is the smallest arena the allocator accepts: room for
	// the initial block table plus a little usable heap.
	MinHeapSize = InitBlockCount*uintptr(blockSize) + 512
)

var (
	// ErrHeapTooSmall is returned by Init when the supplied arena cannot
	// hold the block table.
	ErrHeapTooSmall = &kernel.Error{Module: "heap", Message: "heap arena smaller than minimum size"}

	// ErrOutOfMemory is returned when no free block can satisfy an
	// allocation even after defragmentation.
	ErrOutOfMemory = &kernel.Error{Module: "heap", Message: "out of memory"}

	// ErrOutOfBlockSlots is reported when the block table is full and
	// defragmentation cannot shrink it.
	ErrOutOfBlockSlots = &kernel.Error{Module: "heap", Message: "out of block table slots"}

	// ErrDoubleFree is reported when deallocating a block that is already
	// free. Double frees are program bugs and panic.
	ErrDoubleFree = &kernel.Error{Module: "heap", Message: "double free"}

	// ErrInvalidPointer is returned when deallocating a pointer that does
	// not fall inside the arena.
	ErrInvalidPointer = &kernel.Error{Module: "heap", Message: "pointer is not part of the heap arena"}

	// ErrUnsupportedAlignment is reported for alignment requests above
	// the page size.
	ErrUnsupportedAlignment = &kernel.Error{Module: "heap", Message: "alignments above the page size are not supported"}

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic
)

// Allocator manages a fixed arena [heapStart, heapEnd). The block table
// occupies the top of the arena, growing downward toward the user heap which
// grows upward; a designated table block records the table's own footprint
// so that the partition invariant covers the whole arena.
type Allocator struct {
	blocks    []Block
	blocksHdr reflect.SliceHeader

	heapStart, heapEnd uintptr

	// balance tracks successful allocations minus successful
	// deallocations.
	balance int64
}

// Init lays out the block table at the top of the supplied arena and
// installs a single free block covering the remainder.
func (a *Allocator) Init(heapStart, heapEnd uintptr) *kernel.Error {
	if heapEnd-heapStart < MinHeapSize {
		return ErrHeapTooSmall
	}

	// Align the table base down so entries are naturally aligned.
	tableBase := (heapEnd - InitBlockCount*uintptr(blockSize)) &^ (unsafe.Alignof(Block{}) - 1)

	a.heapStart = heapStart
	a.heapEnd = heapEnd
	a.balance = 0

	a.blocksHdr = reflect.SliceHeader{Data: tableBase, Len: 0, Cap: InitBlockCount}
	a.blocks = *(*[]Block)(unsafe.Pointer(&a.blocksHdr))

	// The table block describes the table's own footprint; it is never
	// freed so the partition invariant holds for the whole arena.
	a.blocks = append(a.blocks, Block{Size: heapEnd - tableBase, Addr: tableBase, Free: false})

	// One free block covers everything below the table.
	a.blocks = append(a.blocks, Block{Size: tableBase - heapStart, Addr: heapStart, Free: true})

	return nil
}

// TableBlock returns the block describing the block table's own footprint.
func (a *Allocator) TableBlock() *Block {
	return &a.blocks[0]
}

// Balance returns the allocation balance: successful allocations minus
// successful deallocations.
func (a *Allocator) Balance() int64 {
	return a.balance
}

// BlockCount returns the number of live block table entries.
func (a *Allocator) BlockCount() int {
	return len(a.blocks)
}

// findFreeBlock returns the first free block with at least size bytes.
func (a *Allocator) findFreeBlock(size uintptr) *Block {
	for i := range a.blocks {
		if a.blocks[i].Free && a.blocks[i].Size >= size {
			return &a.blocks[i]
		}
	}
	return nil
}

// pushBlock appends a block to the table, defragmenting first if the table
// is full. A table that stays full after defragmentation is a fatal
// condition.
func (a *Allocator) pushBlock(b Block) {
	if len(a.blocks) == cap(a.blocks) {
		a.Defrag()
	}
	if len(a.blocks) == cap(a.blocks) {
		panicFn(ErrOutOfBlockSlots)
		return
	}

	a.blocks = append(a.blocks, b)
}

// alignPtr aligns p upward to align and returns the aligned pointer together
// with the applied offset. align must be a power of two.
func alignPtr(p, align uintptr) (uintptr, uintptr) {
	if align <= 1 || p&(align-1) == 0 {
		return p, 0
	}
	offset := align - (p & (align - 1))
	return p + offset, offset
}

// Allocate reserves size bytes with the requested alignment and returns a
// pointer to the start of the reserved region. A zero size returns the null
// pointer. When no block fits, the allocator defragments once and retries
// before reporting ErrOutOfMemory.
func (a *Allocator) Allocate(size, align uintptr) (uintptr, *kernel.Error) {
	if size == 0 {
		return 0, nil
	}
	if align > uintptr(mem.PageSize) {
		panicFn(ErrUnsupportedAlignment)
		return 0, ErrUnsupportedAlignment
	}

	// The conservative padding guarantees the alignment can be satisfied
	// inside the block regardless of its start address.
	fullSize := size
	if align > 1 {
		fullSize += align
	}

	blk := a.findFreeBlock(fullSize)
	if blk == nil {
		a.Defrag()
		blk = a.findFreeBlock(fullSize)
	}
	if blk == nil {
		return 0, ErrOutOfMemory
	}

	blk.Free = false
	addr := blk.Addr
	if blk.Size > fullSize {
		if remainder, ok := blk.Split(fullSize); ok {
			a.pushBlock(remainder)
		}
	}

	a.balance++

	ptr, offset := alignPtr(addr, align)
	if offset+size > fullSize {
		panicFn(&kernel.Error{Module: "heap", Message: "failed to align pointer inside block"})
		return 0, ErrOutOfMemory
	}

	return ptr, nil
}

// blockFor returns the index of the block whose region contains ptr, or -1.
func (a *Allocator) blockFor(ptr uintptr) int {
	if ptr < a.heapStart || ptr >= a.heapEnd {
		return -1
	}
	for i := range a.blocks {
		if ptr >= a.blocks[i].Addr && ptr < a.blocks[i].End() {
			return i
		}
	}
	return -1
}

// Deallocate releases the block containing ptr. Coalescing of neighbouring
// free blocks is deferred to Defrag. Freeing an already-free block is a
// program bug and panics.
func (a *Allocator) Deallocate(ptr uintptr) *kernel.Error {
	index := a.blockFor(ptr)
	if index == -1 {
		return ErrInvalidPointer
	}

	blk := &a.blocks[index]
	if blk.Free {
		panicFn(ErrDoubleFree)
		return ErrDoubleFree
	}

	blk.Free = true
	a.balance--
	return nil
}

// Defrag merges adjacent free blocks, the lower-addressed block absorbing
// the higher one, repeating passes until a full pass merges nothing.
func (a *Allocator) Defrag() {
	for {
		merged := 0

		for i := 0; i < len(a.blocks); i++ {
			if !a.blocks[i].Free {
				continue
			}

			for j := i + 1; j < len(a.blocks); j++ {
				if !a.blocks[j].Free || !a.blocks[i].IsAdjacent(&a.blocks[j]) {
					continue
				}

				a.blocks[i] = a.blocks[i].Merge(&a.blocks[j])
				a.blocks = append(a.blocks[:j], a.blocks[j+1:]...)
				merged++
				j--
			}
		}

		if merged == 0 {
			return
		}
	}
}

// checkInvariants validates the partition invariant: every block lies inside
// the arena and has a non-zero size. It is invoked from tests and from the
// panic path's heap dump.
func (a *Allocator) checkInvariants() *kernel.Error {
	for i := range a.blocks {
		b := &a.blocks[i]
		if b.Size == 0 || b.Addr < a.heapStart || b.End() > a.heapEnd {
			return &kernel.Error{Module: "heap", Message: "block table invariant violated"}
		}
	}
	return nil
}
