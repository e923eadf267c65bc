package console

import (
	"reflect"
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel/driver/video/console/font"
)

const (
	clearColor = Black
	clearChar  = byte(' ')
)

// attrPalette maps the 16 console attributes to 24-bit RGB values.
var attrPalette = [16]uint32{
	0x000000, // black
	0x0000AA, // blue
	0x00AA00, // green
	0x00AAAA, // cyan
	0xAA0000, // red
	0xAA00AA, // magenta
	0xAA5500, // brown
	0xAAAAAA, // light grey
	0x555555, // grey
	0x5555FF, // light blue
	0x55FF55, // light green
	0x55FFFF, // light cyan
	0xFF5555, // light red
	0xFF55FF, // light magenta
	0xFFFF55, // light brown
	0xFFFFFF, // white
}

// Fb implements a character console on top of the linear pixel framebuffer
// handed over by the boot protocol (bpp >= 24). Character cells are
// rendered through a bitmap font registered with the font package.
type Fb struct {
	width  uint16
	height uint16

	pitch      uint32
	bytesPerPx uint32

	glyphs *font.Font

	fb []byte
}

// Init sets up the console over the framebuffer described by the supplied
// geometry. The character dimensions are derived from the glyph size of the
// active font.
func (cons *Fb) Init(pxWidth, pxHeight, pitch uint32, bpp uint8, fbAddr uintptr, glyphs *font.Font) {
	cons.pitch = pitch
	cons.bytesPerPx = uint32(bpp) >> 3
	cons.glyphs = glyphs
	cons.width = uint16(pxWidth / glyphs.GlyphWidth)
	cons.height = uint16(pxHeight / glyphs.GlyphHeight)

	fbSize := int(pitch * pxHeight)
	cons.fb = *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  fbSize,
		Cap:  fbSize,
		Data: fbAddr,
	}))
}

// Dimensions returns the width and height of the console in characters.
func (cons *Fb) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// putPixel writes one pixel in the framebuffer's native layout.
func (cons *Fb) putPixel(px, py uint32, rgb uint32) {
	offset := py*cons.pitch + px*cons.bytesPerPx
	cons.fb[offset] = byte(rgb)
	cons.fb[offset+1] = byte(rgb >> 8)
	cons.fb[offset+2] = byte(rgb >> 16)
}

// Write renders a char at the specified character cell.
func (cons *Fb) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	var (
		fg = attrPalette[attr&0xF]
		bg = attrPalette[(attr>>4)&0xF]

		glyphBytes = cons.glyphs.BytesPerRow * cons.glyphs.GlyphHeight
		glyph      = cons.glyphs.Data[uint32(ch)*glyphBytes:]

		baseX = uint32(x) * cons.glyphs.GlyphWidth
		baseY = uint32(y) * cons.glyphs.GlyphHeight
	)

	for row := uint32(0); row < cons.glyphs.GlyphHeight; row++ {
		for col := uint32(0); col < cons.glyphs.GlyphWidth; col++ {
			bits := glyph[row*cons.glyphs.BytesPerRow+(col>>3)]
			if bits&(0x80>>(col&7)) != 0 {
				cons.putPixel(baseX+col, baseY+row, fg)
			} else {
				cons.putPixel(baseX+col, baseY+row, bg)
			}
		}
	}
}

// Clear clears the specified rectangular region of character cells.
func (cons *Fb) Clear(x, y, width, height uint16) {
	// Clip the region against the console dimensions.
	if x >= cons.width || y >= cons.height {
		return
	}
	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	attr := makeAttr(clearColor, clearColor)
	for cy := y; cy < y+height; cy++ {
		for cx := x; cx < x+width; cx++ {
			cons.Write(clearChar, attr, cx, cy)
		}
	}
}

// Scroll the console contents a particular number of lines in the specified
// direction. The freed lines are not cleared; the caller follows up with
// Clear as needed.
func (cons *Fb) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	offset := int(uint32(lines) * cons.glyphs.GlyphHeight * cons.pitch)

	switch dir {
	case Up:
		copy(cons.fb, cons.fb[offset:])
	case Down:
		copy(cons.fb[offset:], cons.fb[:len(cons.fb)-offset])
	}
}

func makeAttr(fg, bg Attr) Attr {
	return (bg << 4) | (fg & 0xF)
}
