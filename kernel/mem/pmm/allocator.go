package pmm

import (
	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
	"github.com/quackitsquinn/novos-sub000/kernel/hal/bootinfo"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/sync"
)

const (
	// recyclePoolCapacity bounds the shared pool of freed frames. Frames
	// freed while the pool is full are logged and leaked, which is
	// acceptable for the kernel lifetime.
	recyclePoolCapacity = 512

	// maxCores bounds the per-core reclaim rings.
	maxCores = 64

	// corePoolCapacity bounds each per-core reclaim ring.
	corePoolCapacity = 16
)

var (
	// ErrOutOfMemory is returned when the recycle pools are empty and the
	// memory map has no usable frames left.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// coreIDFn is overridden by tests to exercise the per-core rings.
	coreIDFn = func() int { return int(cpu.APICID()) }

	// allocator is the global frame allocator instance. All access is
	// serialized through its mutex; concurrent AllocFrame calls from two
	// cores are correct but not lock-free.
	allocator sync.OnceMutex[FrameAllocator]
)

// corePool is a small fixed-capacity LIFO of frames reclaimed by one core.
type corePool struct {
	frames [corePoolCapacity]Frame
	len    int
}

// FrameAllocator hands out 4 KiB physical frames from the usable regions of
// the boot memory map and recycles freed frames through a shared pool plus a
// per-core reclaim ring.
//
// The allocator advances through the memory map one region at a time,
// tracking a byte offset inside the current region. Regions are never
// revisited; recycled frames are always preferred over fresh ones.
type FrameAllocator struct {
	// regionIndex and regionOffset identify the next fresh frame: the
	// byte offset is relative to the page-aligned start of the region at
	// regionIndex.
	regionIndex  int
	regionOffset uint64

	// allocCount tracks the total number of frames handed out.
	allocCount uint64

	pool    [recyclePoolCapacity]Frame
	poolLen int

	corePools [maxCores]corePool
}

// Init positions the allocator at the first usable region and prints the
// system memory map.
func (alloc *FrameAllocator) Init() {
	alloc.regionIndex = 0
	alloc.regionOffset = 0

	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree mem.Size
	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryRegion) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.Base, region.Base+region.Length, region.Length, region.Kind.String())

		if region.Kind == bootinfo.MemUsable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	kfmt.Printf("[pmm] free memory: %dKb\n", uint64(totalFree/mem.Kb))
}

// AllocFrame returns the next available 4 KiB physical frame. Recycled
// frames are preferred: first the executing core's reclaim ring, then the
// shared pool, then the memory-map scan.
func (alloc *FrameAllocator) AllocFrame() (Frame, *kernel.Error) {
	if cid := coreIDFn(); cid < maxCores && alloc.corePools[cid].len > 0 {
		pool := &alloc.corePools[cid]
		pool.len--
		alloc.allocCount++
		return pool.frames[pool.len], nil
	}

	if alloc.poolLen > 0 {
		alloc.poolLen--
		alloc.allocCount++
		return alloc.pool[alloc.poolLen], nil
	}

	frame, found := alloc.nextRegionFrame()
	if !found {
		return InvalidFrame, ErrOutOfMemory
	}

	alloc.allocCount++
	return frame, nil
}

// nextRegionFrame advances the region scan until it produces a frame or the
// memory map is exhausted.
func (alloc *FrameAllocator) nextRegionFrame() (Frame, bool) {
	var (
		frame      Frame
		found      bool
		visitIndex int
	)

	bootinfo.VisitMemRegions(func(region *bootinfo.MemoryRegion) bool {
		index := visitIndex
		visitIndex++

		if index < alloc.regionIndex || region.Kind != bootinfo.MemUsable {
			return true
		}

		// Reported addresses may not be page-aligned; round up to the
		// first whole frame inside the region.
		alignedBase := (region.Base + uint64(mem.PageSize) - 1) & ^uint64(mem.PageSize-1)
		regionEnd := region.Base + region.Length

		if index > alloc.regionIndex {
			alloc.regionIndex = index
			alloc.regionOffset = 0
		}

		if alignedBase+alloc.regionOffset+uint64(mem.PageSize) > regionEnd {
			// Region exhausted; try the next one.
			return true
		}

		frame = FrameFromAddress(uintptr(alignedBase + alloc.regionOffset))
		alloc.regionOffset += uint64(mem.PageSize)
		found = true
		return false
	})

	return frame, found
}

// FreeFrame recycles frame through the executing core's reclaim ring,
// overflowing into the shared pool. Frames that fit in neither are logged
// and leaked.
func (alloc *FrameAllocator) FreeFrame(frame Frame) {
	if cid := coreIDFn(); cid < maxCores && alloc.corePools[cid].len < corePoolCapacity {
		pool := &alloc.corePools[cid]
		pool.frames[pool.len] = frame
		pool.len++
		return
	}

	if alloc.poolLen < recyclePoolCapacity {
		alloc.pool[alloc.poolLen] = frame
		alloc.poolLen++
		return
	}

	kfmt.Printf("[pmm] reclaim pools full; leaking frame 0x%x\n", uint64(frame))
}

// AllocCount returns the total number of frames handed out so far.
func (alloc *FrameAllocator) AllocCount() uint64 {
	return alloc.allocCount
}

// Init sets up the global frame allocator over the boot memory map.
func Init() {
	var alloc FrameAllocator
	alloc.Init()
	allocator.Init(alloc)
}

// AllocFrame reserves a frame using the global allocator.
func AllocFrame() (Frame, *kernel.Error) {
	g := allocator.Lock()
	defer g.Unlock()
	return g.Get().AllocFrame()
}

// FreeFrame recycles a frame through the global allocator.
func FreeFrame(frame Frame) {
	g := allocator.Lock()
	defer g.Unlock()
	g.Get().FreeFrame(frame)
}
