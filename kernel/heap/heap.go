package heap

import (
	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
	"github.com/quackitsquinn/novos-sub000/kernel/sync"
)

// allocator is the global heap instance. Only one core is ever inside
// Allocate/Deallocate/Defrag at a time.
var allocator sync.OnceMutex[Allocator]

// Init brings the global heap online over the supplied arena. The arena
// must already be mapped.
func Init(heapStart, heapEnd uintptr) *kernel.Error {
	var a Allocator
	if err := a.Init(heapStart, heapEnd); err != nil {
		return err
	}

	allocator.Init(a)
	kfmt.Printf("[heap] arena: [0x%x - 0x%x], block table entries: %d\n", heapStart, heapEnd, InitBlockCount)
	return nil
}

// Allocate reserves size bytes with the requested alignment from the global
// heap. It returns the null pointer when the heap is exhausted.
func Allocate(size, align uintptr) uintptr {
	g := allocator.Lock()
	defer g.Unlock()

	ptr, err := g.Get().Allocate(size, align)
	if err != nil {
		kfmt.Printf("[heap] allocation of %d bytes failed: %s\n", uint64(size), err.Message)
		return 0
	}
	return ptr
}

// Deallocate releases a region previously returned by Allocate.
func Deallocate(ptr uintptr) *kernel.Error {
	g := allocator.Lock()
	defer g.Unlock()
	return g.Get().Deallocate(ptr)
}

// Defrag coalesces adjacent free blocks in the global heap.
func Defrag() {
	g := allocator.Lock()
	defer g.Unlock()
	g.Get().Defrag()
}

// Balance returns the global heap's allocation balance.
func Balance() int64 {
	g := allocator.Lock()
	defer g.Unlock()
	return g.Get().Balance()
}

// ForceUnlock clears the global heap's lock state. It is registered as a
// panic hook so the panic path can dump heap state even when the fault
// occurred inside the allocator.
func ForceUnlock() {
	allocator.ForceUnlock()
}
