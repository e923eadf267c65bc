package serial

import (
	"bytes"
	"testing"
)

// fakeUART scripts the I/O port seams: data-port writes are captured, the
// line status register always reports ready, and data-port reads pop from a
// scripted queue.
type fakeUART struct {
	written []byte
	rxQueue []byte
}

func installFakeUART(t *testing.T) *fakeUART {
	t.Helper()

	origReadFn, origWriteFn := portReadFn, portWriteFn
	t.Cleanup(func() { portReadFn, portWriteFn = origReadFn, origWriteFn })

	f := &fakeUART{}
	portReadFn = func(port uint16) uint8 {
		switch port - com1Base {
		case regLineSts:
			return lineStsDataReady | lineStsTransmitterE
		case regData:
			if len(f.rxQueue) == 0 {
				return 0
			}
			b := f.rxQueue[0]
			f.rxQueue = f.rxQueue[1:]
			return b
		}
		return 0
	}
	portWriteFn = func(port uint16, value uint8) {
		if port-com1Base == regData {
			f.written = append(f.written, value)
		}
	}

	return f
}

// packetSum returns the one-byte sum of a framed packet; a valid packet
// sums to zero.
func packetSum(packet []byte) uint8 {
	var sum uint8
	for _, b := range packet {
		sum += b
	}
	return sum
}

func TestWriteString(t *testing.T) {
	f := installFakeUART(t)
	c := NewClient(&COM1)

	if err := c.WriteString("hi"); err != nil {
		t.Fatal(err)
	}

	// The sum of [0x00 'h' 'i' 0x00] is 0xD1, so the checksum byte must
	// be 0x2F.
	exp := []byte{CmdWriteString, 0x2F, 'h', 'i', 0x00}
	if !bytes.Equal(f.written, exp) {
		t.Errorf("expected packet % x; got % x", exp, f.written)
	}
	if got := packetSum(f.written); got != 0 {
		t.Errorf("expected the packet to sum to zero; got 0x%x", got)
	}
}

func TestWriteStringRejectsEmbeddedNul(t *testing.T) {
	installFakeUART(t)
	c := NewClient(&COM1)

	if err := c.WriteString("bad\x00string"); err != ErrNulInString {
		t.Errorf("expected ErrNulInString; got %v", err)
	}
}

func TestEnablePacketMode(t *testing.T) {
	f := installFakeUART(t)
	c := NewClient(&COM1)

	if c.PacketMode() {
		t.Fatal("expected packet mode to start disabled")
	}

	c.EnablePacketMode()

	if !c.PacketMode() {
		t.Error("expected packet mode to be active after the handshake")
	}
	if len(f.written) != HandshakeLen {
		t.Fatalf("expected %d handshake bytes; got %d", HandshakeLen, len(f.written))
	}
	for i, b := range f.written {
		if b != CmdHandshake {
			t.Fatalf("expected handshake byte %d to be 0x%x; got 0x%x", i, CmdHandshake, b)
		}
	}
}

func TestOpenFile(t *testing.T) {
	f := installFakeUART(t)
	c := NewClient(&COM1)

	f.rxQueue = []byte{3} // server assigns handle 3

	handle, err := c.OpenFile("log.txt", 0x1)
	if err != nil {
		t.Fatal(err)
	}
	if handle != 3 {
		t.Errorf("expected handle 3; got %d", handle)
	}

	if f.written[0] != CmdOpenFile {
		t.Errorf("expected command 0x%x; got 0x%x", CmdOpenFile, f.written[0])
	}
	if got := packetSum(f.written); got != 0 {
		t.Errorf("expected the packet to sum to zero; got 0x%x", got)
	}

	// Payload: path, terminator, flags byte.
	expPayload := append([]byte("log.txt"), 0x00, 0x1)
	if !bytes.Equal(f.written[2:], expPayload) {
		t.Errorf("expected payload % x; got % x", expPayload, f.written[2:])
	}
}

func TestOpenFileErrors(t *testing.T) {
	f := installFakeUART(t)
	c := NewClient(&COM1)

	longName := make([]byte, FilenameMaxLen)
	for i := range longName {
		longName[i] = 'a'
	}
	if _, err := c.OpenFile(string(longName), 0); err != ErrFilenameTooLong {
		t.Errorf("expected ErrFilenameTooLong; got %v", err)
	}

	// A zero handle from the server is a failure.
	f.rxQueue = []byte{0}
	if _, err := c.OpenFile("x", 0); err != ErrInvalidHandle {
		t.Errorf("expected ErrInvalidHandle; got %v", err)
	}
}

func TestWriteFileChunking(t *testing.T) {
	f := installFakeUART(t)
	c := NewClient(&COM1)

	data := make([]byte, FileChunkSize+100)
	for i := range data {
		data[i] = byte(i)
	}

	c.WriteFile(2, data)

	// First packet: header (cmd, checksum, handle, len) plus a full
	// chunk; the remainder follows in a second packet.
	first := f.written[:2+3+FileChunkSize]
	if first[0] != CmdWriteFile || first[2] != 2 {
		t.Errorf("unexpected first packet header: % x", first[:5])
	}
	if gotLen := int(first[3]) | int(first[4])<<8; gotLen != FileChunkSize {
		t.Errorf("expected first chunk length %d; got %d", FileChunkSize, gotLen)
	}
	if got := packetSum(first); got != 0 {
		t.Errorf("expected the first packet to sum to zero; got 0x%x", got)
	}

	second := f.written[len(first):]
	if gotLen := int(second[3]) | int(second[4])<<8; gotLen != 100 {
		t.Errorf("expected second chunk length 100; got %d", gotLen)
	}
	if got := packetSum(second); got != 0 {
		t.Errorf("expected the second packet to sum to zero; got 0x%x", got)
	}
}

func TestFileChannel(t *testing.T) {
	f := installFakeUART(t)
	c := NewClient(&COM1)

	if err := c.CreateFileChannel("metrics"); err != nil {
		t.Fatal(err)
	}
	if f.written[0] != CmdCreateFileChannel || packetSum(f.written) != 0 {
		t.Errorf("unexpected create packet: % x", f.written)
	}
	f.written = nil

	if err := c.WriteFileChannel("metrics", []byte{1, 2, 3}, false); err != nil {
		t.Fatal(err)
	}
	if f.written[0] != CmdFileChannelChunk || packetSum(f.written) != 0 {
		t.Errorf("unexpected chunk packet: % x", f.written)
	}
	// The continuation bit is set on a non-final chunk.
	flagsIndex := 2 + len("metrics") + 1
	if f.written[flagsIndex]&ChunkContinues == 0 {
		t.Error("expected the continuation bit on a non-final chunk")
	}
	f.written = nil

	if err := c.WriteFileChannel("metrics", []byte{4}, true); err != nil {
		t.Fatal(err)
	}
	if f.written[flagsIndex]&ChunkContinues != 0 {
		t.Error("expected the continuation bit to be clear on the final chunk")
	}
	f.written = nil

	if err := c.CloseFileChannel("metrics"); err != nil {
		t.Fatal(err)
	}
	if f.written[0] != CmdCloseFileChannel || packetSum(f.written) != 0 {
		t.Errorf("unexpected close packet: % x", f.written)
	}

	longName := make([]byte, ChannelNameMaxLen)
	for i := range longName {
		longName[i] = 'x'
	}
	if err := c.CreateFileChannel(string(longName)); err != ErrChannelNameTooLong {
		t.Errorf("expected ErrChannelNameTooLong; got %v", err)
	}
}
