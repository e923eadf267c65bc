package trampoline

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/elf"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/pmm"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
)

var (
	// ErrMissingEntrySymbol is reported when the kernel image does not
	// export the entry symbol.
	ErrMissingEntrySymbol = &kernel.Error{Module: "trampoline", Message: "kernel image does not export the entry symbol"}

	// ErrSegmentAlignment is reported for segments aligned above the
	// page size.
	ErrSegmentAlignment = &kernel.Error{Module: "trampoline", Message: "segment alignment exceeds the page size"}

	// panicFn is mocked by tests and is automatically inlined by the
	// compiler. Failure on the load path is always fatal: the kernel
	// cannot boot.
	panicFn = kfmt.Panic
)

// Kernel describes a loaded kernel ready to be jumped into.
type Kernel struct {
	// CR3 is the physical frame holding the new PML4.
	CR3 pmm.Frame

	// RIP is the kernel entry point in the new address space.
	RIP uintptr

	// RSP is the initial stack pointer in the new address space.
	RSP uintptr
}

// HHDMPageSource returns a NextPageFn that allocates frames through alloc
// and addresses each one through the bootloader's high-half direct map.
func HHDMPageSource(hhdmOffset uint64, alloc vmm.FrameAllocatorFn) NextPageFn {
	return func() (vmm.Page, pmm.Frame, *kernel.Error) {
		frame, err := alloc()
		if err != nil {
			return 0, 0, err
		}
		return vmm.PageFromAddress(frame.Address() + uintptr(hhdmOffset)), frame, nil
	}
}

// segmentFlags translates ELF p_flags into page table entry flags:
// executable segments clear NX, writable segments set RW and readable
// segments set PRESENT.
func segmentFlags(progFlags uint32) vmm.PageTableEntryFlag {
	var flags vmm.PageTableEntryFlag

	if progFlags&elf.ProgFlagExecutable == 0 {
		flags |= vmm.FlagNoExecute
	}
	if progFlags&elf.ProgFlagWritable != 0 {
		flags |= vmm.FlagRW
	}
	if progFlags&elf.ProgFlagReadable != 0 {
		flags |= vmm.FlagPresent
	}

	return flags
}

// mapSegment copies one LOAD segment into fresh frames and maps them at the
// segment's virtual address range. The first Filesz bytes come from the
// image; the remaining Memsz - Filesz bytes are zero-filled.
func mapSegment(b *Builder, f *elf.File, seg elf.ProgHeader) *kernel.Error {
	if seg.Align > uint64(mem.PageSize) {
		return ErrSegmentAlignment
	}
	if seg.Memsz == 0 {
		return nil
	}

	data, err := f.SegmentData(seg)
	if err != nil {
		return err
	}

	var (
		flags    = segmentFlags(seg.Flags)
		destPage = vmm.PageFromAddress(uintptr(seg.Vaddr))
		lastPage = vmm.PageFromAddress(uintptr(seg.Vaddr + seg.Memsz - 1))
	)

	for ; destPage <= lastPage; destPage++ {
		copyPage, destFrame, err := b.next()
		if err != nil {
			return err
		}

		mem.Memset(copyPage.Address(), 0, mem.PageSize)
		if len(data) > 0 {
			chunk := len(data)
			if chunk > int(mem.PageSize) {
				chunk = int(mem.PageSize)
			}
			mem.Memcopy(uintptr(unsafe.Pointer(&data[0])), copyPage.Address(), mem.Size(chunk))
			data = data[chunk:]
		}

		if err := b.MapPage(destPage, destFrame, flags); err != nil {
			return err
		}
	}

	return nil
}

// mapStack maps StackSize bytes of zeroed stack below the configured stack
// top and returns the initial stack pointer.
func mapStack(b *Builder) (uintptr, *kernel.Error) {
	for i := uintptr(0); i < stackPages; i++ {
		copyPage, destFrame, err := b.next()
		if err != nil {
			return 0, err
		}
		mem.Memset(copyPage.Address(), 0, mem.PageSize)

		if err := b.MapPage(stackTopPage+vmm.Page(i), destFrame, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return 0, err
		}
	}

	return stackTop + StackSize - 8, nil
}

// installThunk copies the jump thunk into a fresh frame and maps it at the
// fixed load point inside the new address space.
func installThunk(b *Builder) *kernel.Error {
	page, frame, err := b.next()
	if err != nil {
		return err
	}

	mem.Memset(page.Address(), 0, mem.PageSize)
	mem.Memcopy(uintptr(unsafe.Pointer(&jumpThunk[0])), page.Address(), mem.Size(len(jumpThunk)))

	return b.MapPage(vmm.PageFromAddress(jumpLoadPoint), frame, vmm.FlagRW)
}

// LoadKernel builds a complete address space for the supplied kernel image:
// every LOAD segment copied into fresh frames, the boot stack and the jump
// thunk. It returns the (CR3, RIP, RSP) triple the jump needs.
func LoadKernel(image []byte, next NextPageFn) (Kernel, *kernel.Error) {
	f, err := elf.Parse(image)
	if err != nil {
		return Kernel{}, err
	}

	b, err := NewBuilder(next)
	if err != nil {
		return Kernel{}, err
	}

	for i := 0; i < f.NumSegments(); i++ {
		seg := f.Segment(i)
		if seg.Type != elf.ProgTypeLoad {
			continue
		}
		if err = mapSegment(b, f, seg); err != nil {
			return Kernel{}, err
		}
	}

	if err = installThunk(b); err != nil {
		return Kernel{}, err
	}

	rsp, err := mapStack(b)
	if err != nil {
		return Kernel{}, err
	}

	rip, err := f.LookupSymbol(entrySymbol)
	if err != nil {
		return Kernel{}, ErrMissingEntrySymbol
	}

	// The scratch pages backing the registry are disposable: the whole
	// trampoline environment is abandoned right after the jump.
	rootFrame, _ := b.BuildAndRelease(nil)

	return Kernel{CR3: rootFrame, RIP: uintptr(rip), RSP: rsp}, nil
}

// Jump loads the kernel described by the boot info and switches into it.
// The jump thunk must also be reachable at jumpLoadPoint in the current
// address space; the bootloader's HHDM guarantees that for the frame the
// thunk was copied into. Any failure on this path is fatal.
func Jump(image []byte, next NextPageFn) {
	k, err := LoadKernel(image, next)
	if err != nil {
		panicFn(err)
		return
	}

	kfmt.Printf("[trampoline] jumping: cr3=0x%x rip=0x%x rsp=0x%x\n",
		uint64(k.CR3.Address()), uint64(k.RIP), uint64(k.RSP))
	jumpToKernel(k.CR3.Address(), k.RIP, k.RSP)
}
