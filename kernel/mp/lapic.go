package mp

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
)

// lapicBaseMSR is the model-specific register holding the LAPIC base
// address.
const lapicBaseMSR = 0x1B

// LAPIC register offsets (Intel SDM Vol. 3A).
const (
	lapicIDOffset       = 0x20
	lapicVersionOffset  = 0x30
	lapicEOIOffset      = 0xB0
	lapicSVROffset      = 0xF0
	lapicICRLowOffset   = 0x300
	lapicICRHighOffset  = 0x310
	lapicLVTTimerOffset = 0x320
	lapicTimerInitCount = 0x380
	lapicTimerCurCount  = 0x390
	lapicTimerDivide    = 0x3E0
)

// SVR bits.
const svrAPICEnable = 1 << 8

// LVT timer bits.
const lvtTimerPeriodic = 1 << 17

var (
	// The following functions are used by tests to avoid touching MSRs
	// and MMIO while running in user-mode.
	readMSRFn = cpu.ReadMSR

	// mapRegistersFn installs a non-cacheable window over a device
	// register page and returns its virtual address.
	mapRegistersFn = func(physBase uintptr) (uintptr, *kernel.Error) {
		window, err := vmm.MapAddress(physBase, mem.PageSize, vmm.FlagRW|vmm.FlagNoCache|vmm.FlagNoExecute)
		if err != nil {
			return 0, err
		}
		return window.Ptr(), nil
	}
)

// Lapic programs the local APIC of the executing core through its
// memory-mapped register window. All registers are 32-bit and accessed
// through a single read/write pair; the window is mapped non-cacheable so
// the accesses reach the device.
type Lapic struct {
	base uintptr
	regs uintptr
}

// LAPIC is the kernel's local-APIC handle. The register window is shared by
// all cores; each core's accesses address its own LAPIC.
var LAPIC Lapic

// Init reads the LAPIC base from the IA32_APIC_BASE MSR and maps its
// register page into the kernel address space.
func (l *Lapic) Init() *kernel.Error {
	base := uintptr(readMSRFn(lapicBaseMSR)) &^ uintptr(mem.PageSize-1)

	regs, err := mapRegistersFn(base)
	if err != nil {
		return err
	}

	l.base = base
	l.regs = regs

	kfmt.Printf("[mp] LAPIC base: 0x%x, version: 0x%x\n", uint64(base), l.readReg(lapicVersionOffset)&0xFF)
	return nil
}

// readReg returns the 32-bit register at the supplied byte offset.
func (l *Lapic) readReg(offset uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(l.regs + offset))
}

// writeReg stores value in the 32-bit register at the supplied byte offset.
func (l *Lapic) writeReg(offset uintptr, value uint32) {
	*(*uint32)(unsafe.Pointer(l.regs + offset)) = value
}

// ID returns the APIC id stored in the executing core's LAPIC.
func (l *Lapic) ID() uint32 {
	return l.readReg(lapicIDOffset) >> 24
}

// Enable sets the APIC-enable bit in the spurious interrupt vector register
// and routes spurious interrupts to the supplied vector.
func (l *Lapic) Enable(spuriousVector uint8) {
	svr := l.readReg(lapicSVROffset)
	svr = (svr &^ 0xFF) | uint32(spuriousVector) | svrAPICEnable
	l.writeReg(lapicSVROffset, svr)
}

// EOI signals end-of-interrupt to the executing core's LAPIC. It must be
// invoked exactly once per serviced interrupt.
func (l *Lapic) EOI() {
	l.writeReg(lapicEOIOffset, 0)
}

// StartTimer programs the LAPIC timer to deliver vector periodically with
// the supplied divide configuration and initial count.
func (l *Lapic) StartTimer(vector uint8, divide uint32, initialCount uint32) {
	l.writeReg(lapicTimerDivide, divide)
	l.writeReg(lapicLVTTimerOffset, uint32(vector)|lvtTimerPeriodic)
	l.writeReg(lapicTimerInitCount, initialCount)
}

// writeICR writes the 64-bit interrupt command register. The high half must
// be written first; the write to the low half sends the IPI.
func (l *Lapic) writeICR(value uint64) {
	l.writeReg(lapicICRHighOffset, uint32(value>>32))
	l.writeReg(lapicICRLowOffset, uint32(value))
}
