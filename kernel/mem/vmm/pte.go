package vmm

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/pmm"
)

// PageTableEntryFlag describes a flag that can be set on a page table entry.
type PageTableEntryFlag uintptr

const (
	// FlagPresent indicates that the page or page-table is currently
	// resident in memory.
	FlagPresent PageTableEntryFlag = 1 << 0

	// FlagRW indicates that the mapped page is writable. When not set,
	// writes to the page generate a page-fault.
	FlagRW PageTableEntryFlag = 1 << 1

	// FlagUserAccessible allows ring-3 code to access the mapped page.
	FlagUserAccessible PageTableEntryFlag = 1 << 2

	// FlagWriteThrough enables write-through caching for the mapped page.
	FlagWriteThrough PageTableEntryFlag = 1 << 3

	// FlagNoCache disables caching for the mapped page. Required for
	// MMIO register windows.
	FlagNoCache PageTableEntryFlag = 1 << 4

	// FlagAccessed is set by the CPU when the mapped page is accessed.
	FlagAccessed PageTableEntryFlag = 1 << 5

	// FlagDirty is set by the CPU when the mapped page is written to.
	FlagDirty PageTableEntryFlag = 1 << 6

	// FlagHugePage indicates that a page directory entry maps a 2MB or
	// 1GB page directly instead of pointing to the next paging level.
	FlagHugePage PageTableEntryFlag = 1 << 7

	// FlagGlobal excludes the mapping from TLB flushes on CR3 switches.
	FlagGlobal PageTableEntryFlag = 1 << 8

	// FlagNoExecute prevents the CPU from fetching instructions from the
	// mapped page.
	FlagNoExecute PageTableEntryFlag = 1 << 63

	// FlagCopyOnWrite is a software-defined flag (stored in one of the
	// otherwise unused bits available to the OS) that marks a read-only
	// mapping as eligible for copy-on-write semantics when a write fault
	// occurs.
	FlagCopyOnWrite PageTableEntryFlag = 1 << 9
)

// pageLevels is the number of paging levels supported by the active amd64
// paging mode (PML4, PDPT, PD and PT).
const pageLevels = 4

// pageLevelBits holds, for each paging level, the number of virtual address
// bits consumed to index into that level's table.
var pageLevelBits = [pageLevels]uint{9, 9, 9, 9}

// pageLevelShifts holds, for each paging level, the bit offset of the first
// address bit consumed by that level and the ones following it. The last
// entry corresponds to the page offset within the final mapped frame.
var pageLevelShifts = [pageLevels + 1]uint{39, 30, 21, 12, 12}

// recursivePML4Slot is the PML4 index whose entry points back to the PML4
// table itself. Walking through this slot lets the kernel address any
// paging structure, at any level, as an ordinary array of page table
// entries without needing a separate physical-to-virtual mapping for it.
const recursivePML4Slot = 511

// tempMappingAddr is the virtual address reserved for establishing temporary
// page mappings. It decodes to p4 index 510 with p3/p2/p1 index 511, placing
// it inside the recursively-mapped region without colliding with the
// recursive slot's own entry. The leading 0xffffff bits are the canonical
// sign-extension required because bit 47 (part of the p4 index) is set.
const tempMappingAddr = uintptr(0xffffff7ffffff000)

// ErrInvalidMapping is returned by Unmap and Translate when the supplied
// virtual address is not currently mapped.
var ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "address is not mapped to a physical frame"}

// ReservedZeroedFrame holds the physical frame that backs lazily-allocated,
// copy-on-write pages before they are first written to.
var ReservedZeroedFrame pmm.Frame

// protectReservedZeroedPage is flipped to true once ReservedZeroedFrame has
// been initialized. From that point on any attempt to map it with FlagRW
// indicates a bug in the caller.
var protectReservedZeroedPage bool

// pageTableEntry represents a single 8-byte entry inside a page table at any
// of the four paging levels.
type pageTableEntry uint64

// HasFlags returns true if all flags are set on this entry.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if at least one of flags is set on this entry.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags ors flags into this entry.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

// ClearFlags clears flags from this entry.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte &^= pageTableEntry(flags)
}

// pteAddrMask isolates the physical address bits (12 through 51) of an entry.
const pteAddrMask = pageTableEntry(0x000ffffffffff000)

// Frame returns the physical frame referenced by this entry.
func (pte pageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uintptr(pte) & uintptr(pteAddrMask)) >> mem.PageShift)
}

// SetFrame updates the physical frame referenced by this entry, preserving
// any flag bits that are currently set.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = (*pte &^ pteAddrMask) | pageTableEntry(uintptr(frame.Address())&uintptr(pteAddrMask))
}

var (
	// ptePtrFn returns a pointer to the pageTableEntry located at the
	// supplied (recursively-mapped) virtual address. It is overridden by
	// tests to run outside of ring 0.
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(entryAddr)
	}
)

// pteForAddress walks the currently active page tables and returns a pointer
// to the pageTableEntry that maps virtAddr, or ErrInvalidMapping if any of
// the intermediate tables is not present.
func pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	var (
		entry *pageTableEntry
		err   *kernel.Error
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pteLevel == pageLevels-1 {
			entry = pte
		}

		return true
	})

	if err != nil {
		return nil, err
	}

	return entry, nil
}
