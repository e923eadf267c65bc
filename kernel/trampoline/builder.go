package trampoline

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/pmm"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
)

var (
	// ErrNotEnoughFrames is returned by MapRange when the frame stream
	// runs out before the page stream.
	ErrNotEnoughFrames = &kernel.Error{Module: "trampoline", Message: "not enough frames to map the range"}

	// ErrNoScratchPages is returned when the scratch page source cannot
	// produce another (page, frame) pair.
	ErrNoScratchPages = &kernel.Error{Module: "trampoline", Message: "scratch page source exhausted"}
)

// NextPageFn produces mapped scratch pages for the builder: each call
// returns a fresh zero-initialized-ly usable virtual page together with the
// physical frame backing it.
type NextPageFn func() (vmm.Page, pmm.Frame, *kernel.Error)

// PageIterFn streams virtual pages; it reports false when exhausted.
type PageIterFn func() (vmm.Page, bool)

// FrameIterFn streams physical frames; it reports false when exhausted.
type FrameIterFn func() (pmm.Frame, bool)

// Builder synthesizes a PML4 from scratch out of (page, frame) pairs pulled
// from a NextPageFn. The constructed paging tables are tracked in a chained
// on-page registry so they can be looked up while building and returned to
// the caller when the builder is released.
type Builder struct {
	next NextPageFn

	pml4Page  vmm.Page
	pml4Frame pmm.Frame

	layout     *pageLayout
	layoutPage vmm.Page
}

// NewBuilder pulls the PML4 page and the first registry node from next and
// seeds the recursive-mapping slot.
func NewBuilder(next NextPageFn) (*Builder, *kernel.Error) {
	pml4Page, pml4Frame, err := next()
	if err != nil {
		return nil, err
	}
	mem.Memset(pml4Page.Address(), 0, mem.PageSize)

	layoutPage, _, err := next()
	if err != nil {
		return nil, err
	}

	b := &Builder{
		next:       next,
		pml4Page:   pml4Page,
		pml4Frame:  pml4Frame,
		layout:     layoutInPage(layoutPage),
		layoutPage: layoutPage,
	}

	// Seed the recursive slot so the finished structure is walkable via
	// virtual addresses once installed.
	b.setEntry(pml4Page.Address(), recursiveSlot, pml4Frame, vmm.FlagPresent|vmm.FlagRW)

	return b, nil
}

// Frame returns the physical frame holding the constructed PML4.
func (b *Builder) Frame() pmm.Frame {
	return b.pml4Frame
}

// setEntry writes a paging entry at the supplied table address and index.
func (b *Builder) setEntry(tableAddr uintptr, index int, frame pmm.Frame, flags vmm.PageTableEntryFlag) {
	entry := (*uint64)(unsafe.Pointer(tableAddr + uintptr(index)<<mem.PointerShift))
	*entry = uint64(frame.Address()) | uint64(flags)
}

// registerTable pulls a scratch page for a new paging table, zeroes it and
// records it under path, extending the registry chain when it is full.
func (b *Builder) registerTable(path tablePath) (uintptr, pmm.Frame, *kernel.Error) {
	if !b.layout.hasCapacity() {
		page, _, err := b.next()
		if err != nil {
			return 0, 0, err
		}
		b.layout.extend(page)
	}

	page, frame, err := b.next()
	if err != nil {
		return 0, 0, err
	}
	mem.Memset(page.Address(), 0, mem.PageSize)

	b.layout.push(path, page.Address())
	return page.Address(), frame, nil
}

// tableFor looks up or creates the chain of tables reaching the PT that
// maps page, returning the PT's scratch address.
func (b *Builder) tableFor(page vmm.Page) (uintptr, *kernel.Error) {
	var (
		virtAddr = page.Address()
		p4       = int((virtAddr >> 39) & (pageTableEntries - 1))
		p3       = int((virtAddr >> 30) & (pageTableEntries - 1))
		p2       = int((virtAddr >> 21) & (pageTableEntries - 1))
	)

	pdpt, err := b.tableAt(packPath(p4, pathAbsent, pathAbsent), b.pml4Page.Address(), p4)
	if err != nil {
		return 0, err
	}

	pd, err := b.tableAt(packPath(p4, p3, pathAbsent), pdpt, p3)
	if err != nil {
		return 0, err
	}

	return b.tableAt(packPath(p4, p3, p2), pd, p2)
}

// tableAt returns the table registered under path, creating it and
// installing its frame in the parent table at parentIndex if needed.
func (b *Builder) tableAt(path tablePath, parentAddr uintptr, parentIndex int) (uintptr, *kernel.Error) {
	if table := b.layout.lookup(path); table != 0 {
		return table, nil
	}

	table, frame, err := b.registerTable(path)
	if err != nil {
		return 0, err
	}
	b.setEntry(parentAddr, parentIndex, frame, vmm.FlagPresent|vmm.FlagRW)
	return table, nil
}

// MapPage installs a mapping from page to frame with the supplied flags in
// the constructed address space.
func (b *Builder) MapPage(page vmm.Page, frame pmm.Frame, flags vmm.PageTableEntryFlag) *kernel.Error {
	pt, err := b.tableFor(page)
	if err != nil {
		return err
	}

	index := int((page.Address() >> mem.PageShift) & (pageTableEntries - 1))
	b.setEntry(pt, index, frame, flags|vmm.FlagPresent)
	return nil
}

// MapRange zips the page and frame streams, mapping each pair with the
// supplied flags. It fails with ErrNotEnoughFrames when the frame stream
// finishes first.
func (b *Builder) MapRange(pages PageIterFn, frames FrameIterFn, flags vmm.PageTableEntryFlag) *kernel.Error {
	for {
		page, ok := pages()
		if !ok {
			return nil
		}

		frame, ok := frames()
		if !ok {
			return ErrNotEnoughFrames
		}

		if err := b.MapPage(page, frame, flags); err != nil {
			return err
		}
	}
}

// BuildAndRelease finishes the build and returns the frame holding the
// PML4 together with the unused tail of the scratch page source. If dtor is
// non-nil, the registry's backing pages are handed to it; the paging tables
// themselves stay live inside the new address space.
func (b *Builder) BuildAndRelease(dtor func(vmm.Page)) (pmm.Frame, NextPageFn) {
	if dtor != nil {
		b.layout.release(dtor)
		dtor(b.layoutPage)
	}

	return b.pml4Frame, b.next
}
