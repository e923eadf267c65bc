// Package idt implements the per-core interrupt descriptor tables. Every
// vector enters through a generated assembly stub that saves the full CPU
// context, dispatches to the registered Go handler and restores the context
// before iretq, so handlers may rewrite the saved state to redirect the
// return.
package idt

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel/irq"
)

// NumVectors is the number of gates in an IDT.
const NumVectors = 256

// kernelCodeSelector is the GDT selector for the kernel code segment.
const kernelCodeSelector = 0x08

// gateFlagsInterrupt marks a present ring-0 interrupt gate.
const gateFlagsInterrupt = 0x8E

// Entry is one 16-byte gate descriptor.
type Entry struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	flags      uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// Set points the gate at handlerAddr. The value of istOffset selects an
// interrupt-stack-table slot; 0 disables the IST.
func (e *Entry) Set(handlerAddr uintptr, istOffset uint8) {
	e.offsetLow = uint16(handlerAddr)
	e.selector = kernelCodeSelector
	e.ist = istOffset & 0x7
	e.flags = gateFlagsInterrupt
	e.offsetMid = uint16(handlerAddr >> 16)
	e.offsetHigh = uint32(handlerAddr >> 32)
}

// IsPresent returns true if the gate is marked present.
func (e *Entry) IsPresent() bool {
	return e.flags&0x80 != 0
}

// Table is a full 256-gate IDT image.
type Table struct {
	entries [NumVectors]Entry
}

// SetGate installs the stub for vector with the supplied IST offset.
func (t *Table) SetGate(vector uint8, handlerAddr uintptr, istOffset uint8) {
	t.entries[vector].Set(handlerAddr, istOffset)
}

// Entry returns the gate descriptor for vector.
func (t *Table) Entry(vector uint8) *Entry {
	return &t.entries[vector]
}

// descriptor is the pseudo-descriptor loaded into IDTR.
type descriptor struct {
	limit uint16
	base  uint64
}

// loadIDTFn is used by tests to override the LIDT instruction which will
// fault in user-mode.
var loadIDTFn = loadIDT

// loadIDT installs desc into the CPU's IDTR.
func loadIDT(desc *descriptor)

// Load installs the table into the executing core's IDTR.
func (t *Table) Load() {
	desc := descriptor{
		limit: uint16(unsafe.Sizeof(t.entries) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&t.entries[0]))),
	}
	loadIDTFn(&desc)
}

// vectorHasErrorCode reports whether the CPU pushes an error code for
// vector. The stub for every other vector pushes a dummy zero so the saved
// context layout is uniform.
func vectorHasErrorCode(vector uint8) bool {
	switch vector {
	case irq.DoubleFaultException,
		irq.InvalidTSSException,
		irq.SegmentNotPresentException,
		irq.StackSegmentFaultException,
		irq.GPFException,
		irq.PageFaultException,
		irq.AlignmentCheckException:
		return true
	}
	return false
}

// gateEntriesBase returns the address of the first generated gate stub. The
// stubs are laid out 32 bytes apart.
func gateEntriesBase() uintptr

// gateStubSize is the distance between consecutive generated stubs.
const gateStubSize = 32

// NewTemplate builds an IDT image with every vector routed through its
// generated stub.
func NewTemplate() *Table {
	var t Table

	base := gateEntriesBase()
	for vector := 0; vector < NumVectors; vector++ {
		t.SetGate(uint8(vector), base+uintptr(vector)*gateStubSize, 0)
	}

	return &t
}

// dispatchContext is invoked by the common gate stub with a pointer to the
// saved CPU context. Handlers may mutate the context; the stub restores it
// before returning to the interrupted code.
//
//go:nosplit
func dispatchContext(ctx *irq.Context) {
	vector := uint8(ctx.Vector)
	irq.Dispatch(vector, ctx.Code, vectorHasErrorCode(vector), &ctx.Frame, &ctx.Regs)
}
