// mkfont converts a PSF bitmap font into a Go source file that registers
// the font with the kernel's font package. It runs at build time; the
// generated file is linked into the kernel image so the framebuffer console
// has glyphs to render.
//
//	mkfont -in ter-i16n.psf -name terminus-16 -priority 1 -out font_terminus16.go
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"os"
)

// PSF magic values.
var (
	psf1Magic = []byte{0x36, 0x04}
	psf2Magic = []byte{0x72, 0xB5, 0x4A, 0x86}
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkfont] error: %s\n", err.Error())
	os.Exit(1)
}

type psfFont struct {
	glyphWidth  uint32
	glyphHeight uint32
	bytesPerRow uint32
	data        []byte
}

func main() {
	var (
		inPath   = flag.String("in", "", "path to the PSF font file")
		outPath  = flag.String("out", "font_gen.go", "path of the generated Go source file")
		name     = flag.String("name", "", "name the font registers under")
		priority = flag.Uint("priority", 1, "font selection priority (lower wins)")
	)
	flag.Parse()

	if *inPath == "" || *name == "" {
		exit(errors.New("-in and -name are required"))
	}

	data, err := os.ReadFile(*inPath)
	if err != nil {
		exit(err)
	}

	font, err := parsePSF(data)
	if err != nil {
		exit(err)
	}

	if err = writeFont(*outPath, *name, uint32(*priority), font); err != nil {
		exit(err)
	}

	fmt.Printf("[mkfont] wrote %dx%d font %q to %s\n", font.glyphWidth, font.glyphHeight, *name, *outPath)
}

// parsePSF understands both PSF revisions: the fixed 8-pixel-wide PSF1
// format and the self-describing PSF2 format.
func parsePSF(data []byte) (*psfFont, error) {
	switch {
	case len(data) > 4 && data[0] == psf1Magic[0] && data[1] == psf1Magic[1]:
		charSize := uint32(data[3])
		glyphCount := uint32(256)
		if data[2]&0x01 != 0 { // PSF1 mode 512
			glyphCount = 512
		}

		body := data[4:]
		if uint32(len(body)) < glyphCount*charSize {
			return nil, errors.New("PSF1 font data is truncated")
		}

		return &psfFont{
			glyphWidth:  8,
			glyphHeight: charSize,
			bytesPerRow: 1,
			data:        body[:glyphCount*charSize],
		}, nil

	case len(data) > 32 && data[0] == psf2Magic[0] && data[1] == psf2Magic[1] &&
		data[2] == psf2Magic[2] && data[3] == psf2Magic[3]:
		var (
			headerSize = binary.LittleEndian.Uint32(data[8:])
			glyphCount = binary.LittleEndian.Uint32(data[16:])
			charSize   = binary.LittleEndian.Uint32(data[20:])
			height     = binary.LittleEndian.Uint32(data[24:])
			width      = binary.LittleEndian.Uint32(data[28:])
		)

		body := data[headerSize:]
		if uint32(len(body)) < glyphCount*charSize {
			return nil, errors.New("PSF2 font data is truncated")
		}

		return &psfFont{
			glyphWidth:  width,
			glyphHeight: height,
			bytesPerRow: (width + 7) / 8,
			data:        body[:glyphCount*charSize],
		}, nil
	}

	return nil, errors.New("input is not a PSF font")
}

// writeFont emits the generated Go source registering the font.
func writeFont(path, name string, priority uint32, font *psfFont) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "// Code generated by mkfont; DO NOT EDIT.\n\npackage font\n\n")
	fmt.Fprintf(f, "func init() {\n\tRegister(&Font{\n")
	fmt.Fprintf(f, "\t\tName:        %q,\n", name)
	fmt.Fprintf(f, "\t\tGlyphWidth:  %d,\n", font.glyphWidth)
	fmt.Fprintf(f, "\t\tGlyphHeight: %d,\n", font.glyphHeight)
	fmt.Fprintf(f, "\t\tPriority:    %d,\n", priority)
	fmt.Fprintf(f, "\t\tBytesPerRow: %d,\n", font.bytesPerRow)
	fmt.Fprintf(f, "\t\tData: []byte{")

	for i, b := range font.data {
		if i%16 == 0 {
			fmt.Fprintf(f, "\n\t\t\t")
		}
		fmt.Fprintf(f, "0x%02x, ", b)
	}

	fmt.Fprintf(f, "\n\t\t},\n\t})\n}\n")
	return nil
}
