// Package hal ties the hardware-facing drivers to the kernel's output
// layer.
package hal

import (
	"github.com/quackitsquinn/novos-sub000/kernel/driver/serial"
	"github.com/quackitsquinn/novos-sub000/kernel/driver/tty"
	"github.com/quackitsquinn/novos-sub000/kernel/driver/video/console"
	"github.com/quackitsquinn/novos-sub000/kernel/driver/video/console/font"
	"github.com/quackitsquinn/novos-sub000/kernel/hal/bootinfo"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
)

var (
	fbConsole = &console.Fb{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some
// output till everything is properly setup. When a bitmap font has been
// linked into the image the terminal renders on the boot framebuffer;
// otherwise all output is routed to the primary UART.
func InitTerminal() {
	glyphs := font.BestMatch()
	if glyphs == nil {
		kfmt.SetOutputSink(&serial.COM1)
		return
	}

	fbInfo := bootinfo.GetFramebufferInfo()
	fbConsole.Init(fbInfo.Width, fbInfo.Height, fbInfo.Pitch, fbInfo.Bpp, fbInfo.Address, glyphs)
	ActiveTerminal.AttachTo(fbConsole)
	kfmt.SetOutputSink(ActiveTerminal)
}
