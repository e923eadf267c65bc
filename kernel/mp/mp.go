package mp

import (
	"sync/atomic"
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
	"github.com/quackitsquinn/novos-sub000/kernel/hal/bootinfo"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
)

// onlineCores counts the cores that have checked in via CoreOnline,
// including the bootstrap core.
var onlineCores uint32 = 1

// apEntryFn is the function application cores run once released from the
// bootloader's park loop. It is installed by StartCores and invoked through
// the CPU list's go-to-address slot.
var apEntryFn func()

// CoreOnline is invoked by each application core once its own bring-up
// (GDT, IDT, LAPIC enable) is complete.
func CoreOnline() {
	atomic.AddUint32(&onlineCores, 1)
}

// OnlineCores returns the number of cores that have completed bring-up.
func OnlineCores() uint32 {
	return atomic.LoadUint32(&onlineCores)
}

// StartCores releases the application cores listed in the boot info by
// storing entry into each core's go-to-address slot, then spins until every
// core has checked in. Once all cores are online the per-core storage tables
// are unlocked via SetCores.
func StartCores(entry func()) *kernel.Error {
	cpus := bootinfo.CPUList()
	if len(cpus) == 0 {
		return &kernel.Error{Module: "mp", Message: "boot info carries no MP CPU list"}
	}

	apEntryFn = entry
	bootstrapID := CoreIDFn()

	var apicIDs []uint32
	released := 0
	for i := range cpus {
		apicIDs = append(apicIDs, cpus[i].APICID)
		if cpus[i].APICID == bootstrapID {
			continue
		}

		// Storing the entry address releases the core from the
		// bootloader's park loop.
		*(*uintptr)(unsafe.Pointer(cpus[i].GoToAddress)) = uintptr(unsafe.Pointer(&apEntryFn))
		released++
	}

	for OnlineCores() != uint32(released)+1 {
		cpu.Pause()
	}

	SetCores(bootstrapID, apicIDs)
	kfmt.Printf("[mp] %d cores online\n", OnlineCores())
	return nil
}
