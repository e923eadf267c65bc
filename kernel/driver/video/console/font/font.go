// Package font holds the bitmap fonts available to the framebuffer
// console. Font data files are generated from PSF sources by tools/mkfont
// and register themselves at init time.
package font

var (
	// The list of available fonts.
	availableFonts []*Font
)

// Font describes a bitmap font that can be used by a console device.
type Font struct {
	// The name of the font
	Name string

	// The width of each glyph in pixels.
	GlyphWidth uint32

	// The height of each glyph in pixels.
	GlyphHeight uint32

	// Font priority (lower is better). When auto-detecting a font to
	// use, the font with the lowest priority will be preferred.
	Priority uint32

	// The number of bytes describing a row in a glyph.
	BytesPerRow uint32

	// The font bitmap. Each character consists of BytesPerRow *
	// GlyphHeight bytes where each bit indicates whether a pixel should
	// be set to the foreground or the background color.
	Data []byte
}

// Register adds a font to the list of available fonts. It is invoked by the
// generated font data files.
func Register(f *Font) {
	availableFonts = append(availableFonts, f)
}

// FindByName looks up a font instance by name. If the font is not found
// then the function returns nil.
func FindByName(name string) *Font {
	for _, f := range availableFonts {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// BestMatch returns the registered font with the lowest priority value, or
// nil when no font data has been linked into the kernel.
func BestMatch() *Font {
	var best *Font
	for _, f := range availableFonts {
		if best == nil || f.Priority < best.Priority {
			best = f
		}
	}
	return best
}
