// serialhost bridges a serial device (or the pty a VM exposes) to the
// kernel's packet transport: early boot output is echoed to stdout and,
// once the kernel activates packet mode, file commands are executed below
// the output directory.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/quackitsquinn/novos-sub000/internal/hostproto"
)

func main() {
	var (
		devPath = flag.String("dev", "", "path to the serial device or pty")
		outDir  = flag.String("dir", ".", "directory file commands are rooted in")
	)
	flag.Parse()

	if *devPath == "" {
		fmt.Fprintln(os.Stderr, "serialhost: -dev is required")
		os.Exit(2)
	}

	dev, err := os.OpenFile(*devPath, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "serialhost: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	restore, err := makeRaw(int(dev.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "serialhost: raw mode: %v\n", err)
		os.Exit(1)
	}
	defer restore()

	if err := hostproto.NewServer(dev, os.Stdout, *outDir).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "serialhost: %v\n", err)
		os.Exit(1)
	}
}

// makeRaw switches the device into raw mode so the byte stream reaches the
// server unmangled, returning a function that restores the previous
// settings.
func makeRaw(fd int) (func(), error) {
	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	raw := *old
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return nil, err
	}

	return func() { unix.IoctlSetTermios(fd, unix.TCSETS, old) }, nil
}
