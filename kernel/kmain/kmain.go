// Package kmain holds the kernel entry sequence that runs once the
// trampoline has switched into the kernel's own address space.
package kmain

import (
	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
	"github.com/quackitsquinn/novos-sub000/kernel/driver/serial"
	"github.com/quackitsquinn/novos-sub000/kernel/hal"
	"github.com/quackitsquinn/novos-sub000/kernel/hal/bootinfo"
	"github.com/quackitsquinn/novos-sub000/kernel/heap"
	"github.com/quackitsquinn/novos-sub000/kernel/idt"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/pmm"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
	"github.com/quackitsquinn/novos-sub000/kernel/mp"
	"github.com/quackitsquinn/novos-sub000/kernel/sched"
	"github.com/quackitsquinn/novos-sub000/kernel/sync"
)

const (
	// kernelSpaceBase and kernelSpacePages bound the reserved virtual
	// region the range allocator hands out: a 256 MiB window used for
	// the physical map, the Go runtime arena and thread stacks.
	kernelSpaceBase  = uintptr(0xFFFFFF0000000000)
	kernelSpacePages = (256 * uint64(mem.Mb)) / uint64(mem.PageSize)

	// heapPages is the size of the arena handed to the block heap.
	heapPages = (16 * uint64(mem.Mb)) / uint64(mem.PageSize)

	// timerVector is the IDT slot the LAPIC timer fires on.
	timerVector = 0x30

	// spuriousVector is the LAPIC spurious interrupt slot.
	spuriousVector = 0xFF

	// timerDivide16 selects the divide-by-16 timer configuration.
	timerDivide16 = 0x3

	// timerInitialCount is the periodic reload value for the scheduler
	// tick.
	timerInitialCount = 10_000_000
)

var (
	// localIDT is the per-core interrupt table; populated by the
	// bootstrap core and cloned into each application core.
	localIDT *idt.LocalIDT

	// hostClient speaks the packet transport to the host-side server.
	hostClient *serial.Client
)

// Kmain is the kernel entry point invoked through the trampoline's jump
// thunk. It receives the address of the boot info record the trampoline
// assembled from the bootloader's responses.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(bootInfoPtr *bootinfo.Info) {
	bootinfo.Set(bootInfoPtr)

	serial.COM1.Init()
	hal.InitTerminal()

	// Wire the arch capabilities the synchronization primitives need.
	sync.SetInterruptControl(cpu.InterruptsEnabled, cpu.DisableInterrupts, cpu.EnableInterrupts)
	kfmt.SetPanicHook(heap.ForceUnlock)

	var err *kernel.Error

	pmm.Init()
	vmm.SetFrameAllocator(pmm.AllocFrame)
	vmm.SetKernelSpace(vmm.Range{Start: vmm.PageFromAddress(kernelSpaceBase), Pages: kernelSpacePages})
	if err = vmm.Init(); err != nil {
		panic(err)
	}

	if err = initHeap(); err != nil {
		panic(err)
	}

	localIDT = idt.NewLocalIDT(idt.NewTemplate())
	localIDT.Load()

	if err = mp.LAPIC.Init(); err != nil {
		panic(err)
	}
	mp.LAPIC.Enable(spuriousVector)
	mp.CoreIDFn = mp.LAPIC.ID

	if err = mp.StartCores(apEntry); err != nil {
		// A missing CPU list leaves only the bootstrap core; not fatal.
		kfmt.Printf("[kmain] %s\n", err.Message)
	}

	sched.Init(timerVector)
	mp.LAPIC.StartTimer(timerVector, timerDivide16, timerInitialCount)

	hostClient = serial.NewClient(&serial.COM1)
	hostClient.EnablePacketMode()
	hostClient.WriteString("kernel online\n")

	// The bootstrap core idles; from here on the timer interrupt drives
	// everything through the scheduler.
	cpu.EnableInterrupts()
	for {
		cpu.Halt()
	}
}

// initHeap reserves a virtual arena, maps a frame behind every page and
// brings the block heap online over it.
func initHeap() *kernel.Error {
	arena, err := vmm.AllocateRange(heapPages)
	if err != nil {
		return err
	}

	for i := uint64(0); i < arena.Pages; i++ {
		frame, err := pmm.AllocFrame()
		if err != nil {
			return err
		}
		if err = vmm.Map(arena.Start+vmm.Page(i), frame, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
	}

	return heap.Init(arena.Address(), arena.Address()+uintptr(arena.Size()))
}

// apEntry runs on every application core released by StartCores: it loads
// the cloned IDT, enables the core's LAPIC and checks in.
func apEntry() {
	localIDT.Load()
	mp.LAPIC.Enable(spuriousVector)
	mp.CoreOnline()

	cpu.EnableInterrupts()
	for {
		cpu.Halt()
	}
}
