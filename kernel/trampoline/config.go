// Package trampoline implements the bootloader-handoff path: it builds the
// kernel's final page tables from scratch, copies the kernel ELF segments
// into fresh frames, maps the boot stack and the jump thunk, and switches
// into the new address space.
package trampoline

import (
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
)

const (
	// StackSize is the size of the boot stack mapped for the kernel.
	StackSize = 0x100000

	// stackTop is the lowest address of the kernel boot stack; the
	// initial RSP points at stackTop + StackSize - 8.
	stackTop = uintptr(0xFFFFFFFF70000000)

	// jumpLoadPoint is the fixed virtual address the jump thunk is
	// mapped at, both in the current and in the new address space.
	jumpLoadPoint = uintptr(0x1000000000)

	// entrySymbol is the kernel entry point resolved from the ELF
	// symbol table.
	entrySymbol = "_start"

	// recursiveSlot is the PML4 index seeded to point back at the PML4
	// itself, so that the paging structures remain walkable through
	// virtual addresses after the switch.
	recursiveSlot = 509

	// pageTableEntries is the number of entries in a paging table at
	// every level.
	pageTableEntries = 512
)

// stackPages is the number of pages backing the boot stack.
const stackPages = StackSize / uintptr(mem.PageSize)

// stackTopPage is the first page of the boot stack.
var stackTopPage = vmm.PageFromAddress(stackTop)
