package mp

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
)

// IOAPIC register selection works through an index/data window pair.
const (
	ioapicIndexOffset = 0x00
	ioapicDataOffset  = 0x10

	ioapicRegID      = 0x00
	ioapicRegVersion = 0x01

	// ioapicRegRedirBase is the index of the first redirection entry;
	// each entry occupies two 32-bit registers.
	ioapicRegRedirBase = 0x10
)

// redirMasked disables delivery for a redirection entry.
const redirMasked = 1 << 16

// IOAPIC programs an I/O APIC through its memory-mapped index/data window.
type IOAPIC struct {
	regs uintptr

	// gsiBase is the first global system interrupt served by this IOAPIC.
	gsiBase uint32

	redirCount uint32
}

// InitIOAPIC maps the IOAPIC register window at the supplied physical base
// and reads its redirection entry count.
func InitIOAPIC(physBase uintptr, gsiBase uint32) (*IOAPIC, *kernel.Error) {
	regs, err := mapRegistersFn(physBase)
	if err != nil {
		return nil, err
	}

	io := &IOAPIC{regs: regs, gsiBase: gsiBase}
	io.redirCount = ((io.readReg(ioapicRegVersion) >> 16) & 0xFF) + 1

	kfmt.Printf("[mp] IOAPIC id %d: %d redirection entries, GSI base %d\n",
		io.readReg(ioapicRegID)>>24, io.redirCount, gsiBase)
	return io, nil
}

// readReg selects index through the index window and reads the data window.
func (io *IOAPIC) readReg(index uint32) uint32 {
	*(*uint32)(unsafe.Pointer(io.regs + ioapicIndexOffset)) = index
	return *(*uint32)(unsafe.Pointer(io.regs + ioapicDataOffset))
}

// writeReg selects index through the index window and writes the data
// window.
func (io *IOAPIC) writeReg(index uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(io.regs + ioapicIndexOffset)) = index
	*(*uint32)(unsafe.Pointer(io.regs + ioapicDataOffset)) = value
}

// Route programs the redirection entry for gsi to deliver vector to the
// core with the supplied APIC id and unmasks it.
func (io *IOAPIC) Route(gsi uint32, vector uint8, apicID uint32) *kernel.Error {
	if gsi < io.gsiBase || gsi >= io.gsiBase+io.redirCount {
		return &kernel.Error{Module: "mp", Message: "GSI is not served by this IOAPIC"}
	}

	index := ioapicRegRedirBase + 2*(gsi-io.gsiBase)
	io.writeReg(index+1, apicID<<24)
	io.writeReg(index, uint32(vector))
	return nil
}

// Mask disables delivery for gsi.
func (io *IOAPIC) Mask(gsi uint32) *kernel.Error {
	if gsi < io.gsiBase || gsi >= io.gsiBase+io.redirCount {
		return &kernel.Error{Module: "mp", Message: "GSI is not served by this IOAPIC"}
	}

	index := ioapicRegRedirBase + 2*(gsi-io.gsiBase)
	io.writeReg(index, io.readReg(index)|redirMasked)
	return nil
}
