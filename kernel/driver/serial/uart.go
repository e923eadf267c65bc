// Package serial drives the 16550 UART and implements the kernel side of
// the structured host transport: length-prefixed, checksummed command
// packets layered over the raw byte stream.
package serial

import "github.com/quackitsquinn/novos-sub000/kernel/cpu"

// com1Base is the I/O port base of the primary UART.
const com1Base = 0x3F8

// UART register offsets relative to the port base.
const (
	regData      = 0 // read/write
	regIntEnable = 1 // write
	regFIFOCtrl  = 2 // write
	regLineCtrl  = 3 // write
	regModemCtrl = 4 // write
	regLineSts   = 5 // read
)

// Line status bits.
const (
	lineStsDataReady    = 1 << 0
	lineStsTransmitterE = 1 << 5
)

var (
	// The following functions are used by tests to emulate the UART's
	// I/O ports.
	portReadFn  = cpu.PortReadByte
	portWriteFn = cpu.PortWriteByte
)

// Port drives one 16550 UART.
type Port struct {
	base uint16
}

// COM1 is the primary UART; the host transport speaks through it.
var COM1 = Port{base: com1Base}

// Init programs the UART for 38400 baud, 8 data bits, no parity, one stop
// bit with FIFOs enabled.
func (p *Port) Init() {
	portWriteFn(p.base+regIntEnable, 0x00) // mask UART interrupts
	portWriteFn(p.base+regLineCtrl, 0x80)  // DLAB on
	portWriteFn(p.base+regData, 0x03)      // divisor low: 38400 baud
	portWriteFn(p.base+regIntEnable, 0x00) // divisor high
	portWriteFn(p.base+regLineCtrl, 0x03)  // 8N1, DLAB off
	portWriteFn(p.base+regFIFOCtrl, 0xC7)  // FIFOs on, 14-byte threshold
	portWriteFn(p.base+regModemCtrl, 0x0B) // DTR + RTS + OUT2
}

// WriteByte transmits one raw byte, spinning until the transmitter is
// ready.
func (p *Port) WriteByte(b byte) {
	for portReadFn(p.base+regLineSts)&lineStsTransmitterE == 0 {
		cpu.Pause()
	}
	portWriteFn(p.base+regData, b)
}

// ReadByte receives one raw byte, spinning until data is available.
func (p *Port) ReadByte() byte {
	for portReadFn(p.base+regLineSts)&lineStsDataReady == 0 {
		cpu.Pause()
	}
	return portReadFn(p.base + regData)
}

// TryReadByte receives one raw byte without blocking; it reports false when
// the receive FIFO is empty.
func (p *Port) TryReadByte() (byte, bool) {
	if portReadFn(p.base+regLineSts)&lineStsDataReady == 0 {
		return 0, false
	}
	return portReadFn(p.base + regData), true
}

// Write transmits p's bytes verbatim. It implements io.Writer so the port
// can serve as a kfmt output sink before packet mode is activated.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		p.WriteByte(b)
	}
	return len(data), nil
}
