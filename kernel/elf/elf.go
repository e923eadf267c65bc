// Package elf provides a minimal read-only view over 64-bit little-endian
// ELF images: the header, program headers and the symbol/string tables. It
// parses by offset directly out of the image byte slice so it can run in the
// freestanding trampoline environment.
package elf

import (
	"encoding/binary"

	"github.com/quackitsquinn/novos-sub000/kernel"
)

// Program header types.
const (
	// ProgTypeLoad marks a segment that must be mapped into memory.
	ProgTypeLoad = 1
)

// Program header flag bits.
const (
	// ProgFlagExecutable marks an executable segment.
	ProgFlagExecutable = 0x1

	// ProgFlagWritable marks a writable segment.
	ProgFlagWritable = 0x2

	// ProgFlagReadable marks a readable segment.
	ProgFlagReadable = 0x4
)

// Section header types.
const (
	sectionTypeSymtab = 2
)

// Fixed structure sizes for 64-bit ELF.
const (
	headerSize        = 64
	progHeaderSize    = 56
	sectionHeaderSize = 64
	symbolSize        = 24
)

var (
	// ErrNotElf is returned when the image does not carry the ELF magic.
	ErrNotElf = &kernel.Error{Module: "elf", Message: "image is not an ELF file"}

	// ErrUnsupportedFormat is returned for images that are not 64-bit
	// little-endian.
	ErrUnsupportedFormat = &kernel.Error{Module: "elf", Message: "only 64-bit little-endian ELF images are supported"}

	// ErrMalformed is returned when a table header points outside the
	// image.
	ErrMalformed = &kernel.Error{Module: "elf", Message: "ELF table offset lies outside the image"}

	// ErrNoSymbols is returned when the image carries no symbol table.
	ErrNoSymbols = &kernel.Error{Module: "elf", Message: "image carries no symbol table"}
)

// ProgHeader describes one program header entry.
type ProgHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// File is a parsed view over an ELF image. The underlying byte slice is
// never copied.
type File struct {
	data []byte

	entry uint64

	phOff, phNum uint64

	shOff, shNum uint64
}

// Parse validates the image header and returns a File view.
func Parse(data []byte) (*File, *kernel.Error) {
	if len(data) < headerSize || data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, ErrNotElf
	}

	// Class must be ELFCLASS64, data encoding ELFDATA2LSB.
	if data[4] != 2 || data[5] != 1 {
		return nil, ErrUnsupportedFormat
	}

	f := &File{
		data:  data,
		entry: binary.LittleEndian.Uint64(data[24:]),
		phOff: binary.LittleEndian.Uint64(data[32:]),
		shOff: binary.LittleEndian.Uint64(data[40:]),
		phNum: uint64(binary.LittleEndian.Uint16(data[56:])),
		shNum: uint64(binary.LittleEndian.Uint16(data[60:])),
	}

	if f.phOff+f.phNum*progHeaderSize > uint64(len(data)) {
		return nil, ErrMalformed
	}
	if f.shOff+f.shNum*sectionHeaderSize > uint64(len(data)) {
		return nil, ErrMalformed
	}

	return f, nil
}

// Entry returns the e_entry field of the header.
func (f *File) Entry() uint64 {
	return f.entry
}

// NumSegments returns the number of program headers.
func (f *File) NumSegments() int {
	return int(f.phNum)
}

// Segment returns the program header at index.
func (f *File) Segment(index int) ProgHeader {
	base := f.phOff + uint64(index)*progHeaderSize
	d := f.data[base:]

	return ProgHeader{
		Type:   binary.LittleEndian.Uint32(d[0:]),
		Flags:  binary.LittleEndian.Uint32(d[4:]),
		Offset: binary.LittleEndian.Uint64(d[8:]),
		Vaddr:  binary.LittleEndian.Uint64(d[16:]),
		Paddr:  binary.LittleEndian.Uint64(d[24:]),
		Filesz: binary.LittleEndian.Uint64(d[32:]),
		Memsz:  binary.LittleEndian.Uint64(d[40:]),
		Align:  binary.LittleEndian.Uint64(d[48:]),
	}
}

// SegmentData returns the file-backed bytes of the supplied segment.
func (f *File) SegmentData(ph ProgHeader) ([]byte, *kernel.Error) {
	if ph.Offset+ph.Filesz > uint64(len(f.data)) {
		return nil, ErrMalformed
	}
	return f.data[ph.Offset : ph.Offset+ph.Filesz], nil
}

// sectionHeader returns (type, offset, size, link, entsize) for the section
// at index.
func (f *File) sectionHeader(index uint64) (uint32, uint64, uint64, uint32, uint64) {
	base := f.shOff + index*sectionHeaderSize
	d := f.data[base:]

	return binary.LittleEndian.Uint32(d[4:]),
		binary.LittleEndian.Uint64(d[24:]),
		binary.LittleEndian.Uint64(d[32:]),
		binary.LittleEndian.Uint32(d[40:]),
		binary.LittleEndian.Uint64(d[56:])
}

// LookupSymbol scans the symbol table for a symbol with the supplied name
// and returns its value.
func (f *File) LookupSymbol(name string) (uint64, *kernel.Error) {
	for i := uint64(0); i < f.shNum; i++ {
		secType, symOff, symSize, link, entSize, err := f.symtabAt(i)
		if err != nil {
			return 0, err
		}
		if secType != sectionTypeSymtab {
			continue
		}
		if entSize == 0 {
			entSize = symbolSize
		}

		// The linked section holds the symbol name strings.
		_, strOff, strSize, _, _ := f.sectionHeader(uint64(link))
		if strOff+strSize > uint64(len(f.data)) {
			return 0, ErrMalformed
		}
		strTab := f.data[strOff : strOff+strSize]

		for sym := uint64(0); sym < symSize/entSize; sym++ {
			d := f.data[symOff+sym*entSize:]
			nameOff := binary.LittleEndian.Uint32(d[0:])
			if matchString(strTab, nameOff, name) {
				return binary.LittleEndian.Uint64(d[8:]), nil
			}
		}
	}

	return 0, ErrNoSymbols
}

// symtabAt returns the section header fields at index, validating that the
// section body lies inside the image.
func (f *File) symtabAt(index uint64) (uint32, uint64, uint64, uint32, uint64, *kernel.Error) {
	secType, off, size, link, entSize := f.sectionHeader(index)
	if secType == sectionTypeSymtab && off+size > uint64(len(f.data)) {
		return 0, 0, 0, 0, 0, ErrMalformed
	}
	return secType, off, size, link, entSize, nil
}

// matchString compares the null-terminated string at offset in strTab with
// name without allocating.
func matchString(strTab []byte, offset uint32, name string) bool {
	if uint64(offset)+uint64(len(name)) >= uint64(len(strTab)) {
		return false
	}

	for i := 0; i < len(name); i++ {
		if strTab[int(offset)+i] != name[i] {
			return false
		}
	}
	return strTab[int(offset)+len(name)] == 0
}
