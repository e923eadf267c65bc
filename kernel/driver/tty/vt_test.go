package tty

import (
	"testing"
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel/driver/video/console"
	"github.com/quackitsquinn/novos-sub000/kernel/driver/video/console/font"
)

// newTestConsole returns an 80x25-cell framebuffer console rendered with a
// minimal 8x2 test font.
func newTestConsole(t *testing.T) *console.Fb {
	t.Helper()

	glyphs := &font.Font{
		Name:        "test",
		GlyphWidth:  8,
		GlyphHeight: 2,
		BytesPerRow: 1,
		Data:        make([]byte, 256*2),
	}

	const (
		pxWidth  = 80 * 8
		pxHeight = 25 * 2
		pitch    = pxWidth * 4
	)

	buf := make([]byte, pitch*pxHeight)
	t.Cleanup(func() { _ = buf })

	var cons console.Fb
	cons.Init(pxWidth, pxHeight, pitch, 32, uintptr(unsafe.Pointer(&buf[0])), glyphs)
	return &cons
}

func TestVtPosition(t *testing.T) {
	specs := []struct {
		inX, inY   uint16
		expX, expY uint16
	}{
		{20, 20, 20, 20},
		{100, 20, 79, 20},
		{10, 200, 10, 24},
		{100, 100, 79, 24},
	}

	var vt Vt
	vt.AttachTo(newTestConsole(t))

	w, h := vt.Dimensions()
	if w != 80 || h != 25 {
		t.Fatalf("Dimensions wrong: got %v x %v", w, h)
	}

	for specIndex, spec := range specs {
		vt.SetPosition(spec.inX, spec.inY)
		if x, y := vt.Position(); x != spec.expX || y != spec.expY {
			t.Errorf("[spec %d] expected setting position to (%d, %d) to update the position to (%d, %d); got (%d, %d)",
				specIndex, spec.inX, spec.inY, spec.expX, spec.expY, x, y)
		}
	}
}

func TestVtWrite(t *testing.T) {
	var vt Vt
	vt.AttachTo(newTestConsole(t))

	vt.Clear()
	vt.SetPosition(0, 1)
	vt.Write([]byte("12\n\t3\n4\r567\b8"))

	// CR + LF moved the cursor through rows 1-3; the \b backed up over
	// the 7 before the 8 was written in its place.
	if x, y := vt.Position(); x != 3 || y != 3 {
		t.Errorf("expected cursor at (3, 3); got (%d, %d)", x, y)
	}

	// A tab crossing the right edge wraps to the next line.
	vt.SetPosition(78, 4)
	vt.WriteByte('\t')
	if x, y := vt.Position(); x != 2 || y != 5 {
		t.Errorf("expected tab to wrap to (2, 5); got (%d, %d)", x, y)
	}

	// Writing past the last cell of the last row triggers a scroll and
	// leaves the cursor on the final line.
	vt.SetPosition(79, 24)
	vt.WriteByte('x')
	if x, y := vt.Position(); x != 0 || y != 24 {
		t.Errorf("expected the scroll to leave the cursor at (0, 24); got (%d, %d)", x, y)
	}
}
