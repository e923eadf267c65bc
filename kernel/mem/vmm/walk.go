package vmm

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel/mem"
)

// pml4TableAddr is the virtual address at which the active PML4 table can be
// accessed as a plain array of pageTableEntry values, courtesy of the
// recursive self-mapping installed at recursivePML4Slot by PageDirectoryTable.Init.
const pml4TableAddr = uintptr(recursivePML4Slot)<<39 | uintptr(recursivePML4Slot)<<30 | uintptr(recursivePML4Slot)<<21

// walk traverses the active page tables for virtAddr, invoking visitFn once
// for each paging level (PML4, PDPT, PD and PT, in that order) with a
// pointer to the entry responsible for that level. visitFn returns false to
// abort the walk early, e.g. because an intermediate table is missing.
func walk(virtAddr uintptr, visitFn func(pteLevel uint8, pte *pageTableEntry) bool) {
	tableAddr := pml4TableAddr

	for level := uint8(0); level < pageLevels; level++ {
		index := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := tableAddr | (index << mem.PointerShift)

		pte := (*pageTableEntry)(ptePtrFn(entryAddr))
		if !visitFn(level, pte) {
			return
		}

		if level == pageLevels-1 {
			return
		}

		// Descending one level relies on the same recursive-mapping
		// property used to bootstrap pml4TableAddr: shifting the
		// virtual address of the entry we just visited left by the
		// next level's index width yields the virtual address at
		// which the table it points to can be accessed as an array.
		tableAddr = nextAddrFn(uintptr(unsafe.Pointer(pte)) << pageLevelBits[level+1])
	}
}
