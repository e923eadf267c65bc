package trampoline

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
)

// layoutEntriesPerPage is chosen so that a pageLayout node is exactly one
// page: 255 entries of 16 bytes plus the 16-byte node header.
const layoutEntriesPerPage = 255

// tablePath names a paging table by the PML4/PDPT/PD indices walked to
// reach it. A path with only p4 set names the PDPT behind that PML4 entry,
// p4+p3 names a PD and p4+p3+p2 names a PT. Indices are packed into 9-bit
// fields with a presence bit each so paths are comparable as integers.
type tablePath uint64

const pathAbsent = -1

// packPath builds a tablePath from up to three table indices; pass
// pathAbsent for levels that are not part of the path.
func packPath(p4, p3, p2 int) tablePath {
	path := tablePath(p4) | 1<<9
	if p3 != pathAbsent {
		path |= tablePath(p3)<<10 | 1<<19
	}
	if p2 != pathAbsent {
		path |= tablePath(p2)<<20 | 1<<29
	}
	return path
}

// layoutEntry records one constructed paging table and the path that
// reaches it.
type layoutEntry struct {
	path tablePath

	// table is the virtual address of the page holding the table.
	table uintptr
}

// pageLayout is an on-page registry node of constructed paging tables. The
// builder chains additional nodes as the tree grows; each node occupies
// exactly one scratch page.
type pageLayout struct {
	entries [layoutEntriesPerPage]layoutEntry
	used    uint32
	_       uint32
	next    *pageLayout
}

// layoutInPage places an empty pageLayout node inside the supplied page.
func layoutInPage(page vmm.Page) *pageLayout {
	mem.Memset(page.Address(), 0, mem.PageSize)
	return (*pageLayout)(unsafe.Pointer(page.Address()))
}

// lookup returns the table registered under path, or 0.
func (l *pageLayout) lookup(path tablePath) uintptr {
	for node := l; node != nil; node = node.next {
		for i := uint32(0); i < node.used; i++ {
			if node.entries[i].path == path {
				return node.entries[i].table
			}
		}
	}
	return 0
}

// hasCapacity returns true if the chain can absorb one more entry without a
// new node.
func (l *pageLayout) hasCapacity() bool {
	node := l
	for node.next != nil {
		node = node.next
	}
	return node.used < layoutEntriesPerPage
}

// push registers table under path in the last node of the chain. The caller
// must guarantee capacity.
func (l *pageLayout) push(path tablePath, table uintptr) {
	node := l
	for node.next != nil {
		node = node.next
	}
	node.entries[node.used] = layoutEntry{path: path, table: table}
	node.used++
}

// extend chains a fresh node built inside page.
func (l *pageLayout) extend(page vmm.Page) {
	node := l
	for node.next != nil {
		node = node.next
	}
	node.next = layoutInPage(page)
}

// release walks the chained nodes (excluding the head, which the builder
// owns) and hands each backing page to dtor.
func (l *pageLayout) release(dtor func(vmm.Page)) {
	node := l.next
	l.next = nil
	for node != nil {
		next := node.next
		dtor(vmm.PageFromAddress(uintptr(unsafe.Pointer(node))))
		node = next
	}
}
