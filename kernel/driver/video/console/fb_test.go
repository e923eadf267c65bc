package console

import (
	"testing"
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel/driver/video/console/font"
)

// testFont is a 8x2 font where every glyph renders its top row fully set
// and its bottom row clear, which makes pixel assertions trivial.
func testFont() *font.Font {
	data := make([]byte, 256*2)
	for ch := 0; ch < 256; ch++ {
		data[ch*2] = 0xFF
	}

	return &font.Font{
		Name:        "test",
		GlyphWidth:  8,
		GlyphHeight: 2,
		BytesPerRow: 1,
		Data:        data,
	}
}

// newTestFb returns a 4x2-cell console over a local pixel buffer.
func newTestFb(t *testing.T) (*Fb, []byte) {
	t.Helper()

	const (
		pxWidth  = 32
		pxHeight = 4
		bpp      = 32
		pitch    = pxWidth * 4
	)

	buf := make([]byte, pitch*pxHeight)

	var cons Fb
	cons.Init(pxWidth, pxHeight, pitch, bpp, uintptr(unsafe.Pointer(&buf[0])), testFont())

	return &cons, buf
}

func TestFbDimensions(t *testing.T) {
	cons, _ := newTestFb(t)

	w, h := cons.Dimensions()
	if w != 4 || h != 2 {
		t.Errorf("expected a 4x2 character console; got %dx%d", w, h)
	}
}

func TestFbWrite(t *testing.T) {
	cons, buf := newTestFb(t)

	cons.Write('A', makeAttr(White, Black), 1, 0)

	// The glyph's top row occupies pixels 8..15 of scanline 0; every one
	// of them renders the white foreground.
	for px := 8; px < 16; px++ {
		offset := px * 4
		if buf[offset] != 0xFF || buf[offset+1] != 0xFF || buf[offset+2] != 0xFF {
			t.Fatalf("expected pixel %d to be white; got % x", px, buf[offset:offset+3])
		}
	}

	// The glyph's bottom row renders the black background.
	offset := int(cons.pitch) + 8*4
	if buf[offset] != 0 || buf[offset+1] != 0 || buf[offset+2] != 0 {
		t.Errorf("expected the background row to be black; got % x", buf[offset:offset+3])
	}

	// Out-of-bounds writes are ignored.
	cons.Write('A', 0, 100, 100)
}

func TestFbScrollUp(t *testing.T) {
	cons, buf := newTestFb(t)

	// Render a row-1 cell, then scroll up one character line: the cell's
	// pixels must move into row 0.
	cons.Write('A', makeAttr(White, Black), 0, 1)
	cons.Scroll(Up, 1)

	for px := 0; px < 8; px++ {
		offset := px * 4
		if buf[offset] != 0xFF {
			t.Fatalf("expected scrolled pixel %d to be white; got 0x%x", px, buf[offset])
		}
	}

	// Scrolling by more lines than the console holds is ignored.
	cons.Scroll(Up, 100)
}

func TestFbClear(t *testing.T) {
	cons, buf := newTestFb(t)

	cons.Write('A', makeAttr(White, Black), 0, 0)
	cons.Clear(0, 0, 4, 2)

	for i := range buf {
		if buf[i] != 0 {
			t.Fatalf("expected a cleared framebuffer; byte %d is 0x%x", i, buf[i])
		}
	}

	// Clears are clipped against the console geometry.
	cons.Clear(3, 1, 100, 100)
	cons.Clear(100, 100, 1, 1)
}
