// Package cpu exports the amd64 primitives that the rest of the kernel
// builds on. The function bodies live in cpu_amd64.s.
package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the interrupt flag (RFLAGS.IF) is set.
func InterruptsEnabled() bool

// Halt stops instruction execution.
func Halt()

// Pause executes a PAUSE instruction, hinting to the CPU that the caller is
// inside a spin-wait loop.
func Pause()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ReadMSR returns the value stored in the supplied model-specific register.
func ReadMSR(msr uint32) uint64

// WriteMSR stores value in the supplied model-specific register.
func WriteMSR(msr uint32, value uint64)

// PortReadByte reads a byte from an I/O port.
func PortReadByte(port uint16) uint8

// PortWriteByte writes a byte to an I/O port.
func PortWriteByte(port uint16, value uint8)

// ReadFramePointer returns the value of the frame pointer (RBP) register of
// the caller. It is used by the panic path to walk the stack.
func ReadFramePointer() uintptr

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// APICID returns the initial APIC id of the executing core as reported by
// CPUID leaf 1.
func APICID() uint32 {
	_, ebx, _, _ := cpuidFn(1)
	return ebx >> 24
}
