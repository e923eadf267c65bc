package serial

import "github.com/quackitsquinn/novos-sub000/kernel"

// Command ids of the host transport. Each packet is the command id, a
// checksum byte and the command payload; the checksum is chosen so the
// one-byte sum of the entire packet is zero.
const (
	// CmdWriteString carries a null-terminated UTF-8 string.
	CmdWriteString = 0x00

	// CmdWriteArgs carries pre-formatted output, same encoding as
	// CmdWriteString.
	CmdWriteArgs = 0x01

	// CmdOpenFile carries a null-terminated path (at most
	// FilenameMaxLen bytes) followed by a flags byte. The server
	// responds with a one-byte handle; zero means failure.
	CmdOpenFile = 0x02

	// CmdWriteFile carries a handle byte, a little-endian u16 length
	// and up to FileChunkSize bytes of data.
	CmdWriteFile = 0x03

	// CmdCloseFile carries a handle byte.
	CmdCloseFile = 0x04

	// CmdCreateFileChannel carries a null-terminated channel name of at
	// most ChannelNameMaxLen bytes.
	CmdCreateFileChannel = 0x05

	// CmdFileChannelChunk carries a null-terminated channel name, a
	// flags byte (bit 0 = final chunk) and a u16-prefixed data chunk.
	CmdFileChannelChunk = 0x06

	// CmdCloseFileChannel carries a null-terminated channel name.
	CmdCloseFileChannel = 0x07

	// CmdHandshake repeated HandshakeLen times activates packet mode.
	CmdHandshake = 0xFF
)

// Transport limits.
const (
	// FilenameMaxLen bounds file paths, including the terminator.
	FilenameMaxLen = 64

	// ChannelNameMaxLen bounds incremental channel names, including the
	// terminator.
	ChannelNameMaxLen = 16

	// FileChunkSize bounds a single file-write or channel chunk.
	FileChunkSize = 4096

	// HandshakeLen is the number of CmdHandshake bytes that activate
	// packet mode.
	HandshakeLen = 16
)

// ChunkContinues is the channel-chunk flag bit that marks a non-final
// chunk.
const ChunkContinues = 0x01

var (
	// ErrFilenameTooLong is returned for paths that do not fit the
	// fixed path field.
	ErrFilenameTooLong = &kernel.Error{Module: "serial", Message: "filename exceeds the transport limit"}

	// ErrChannelNameTooLong is returned for channel names that do not
	// fit the fixed name field.
	ErrChannelNameTooLong = &kernel.Error{Module: "serial", Message: "channel name exceeds the transport limit"}

	// ErrInvalidHandle is returned when the server rejects a file
	// operation.
	ErrInvalidHandle = &kernel.Error{Module: "serial", Message: "server returned an invalid file handle"}

	// ErrNulInString is returned for strings carrying an embedded
	// terminator.
	ErrNulInString = &kernel.Error{Module: "serial", Message: "string contains a null byte"}
)

// FileHandle identifies an open file on the host side.
type FileHandle uint8

// Client speaks the packet protocol over a UART.
type Client struct {
	port *Port

	packetMode bool
}

// NewClient returns a Client speaking through port.
func NewClient(port *Port) *Client {
	return &Client{port: port}
}

// EnablePacketMode sends the handshake that switches the host server from
// raw pass-through to packet dissection.
func (c *Client) EnablePacketMode() {
	for i := 0; i < HandshakeLen; i++ {
		c.port.WriteByte(CmdHandshake)
	}
	c.packetMode = true
}

// PacketMode returns true once the handshake has been sent.
func (c *Client) PacketMode() bool {
	return c.packetMode
}

// checksum returns the byte that makes the one-byte sum of cmd, the payload
// parts and the checksum itself equal to zero.
func checksum(cmd byte, parts ...[]byte) byte {
	sum := uint8(cmd)
	for _, part := range parts {
		for _, b := range part {
			sum += b
		}
	}
	return uint8(256-uint16(sum)) & 0xFF
}

// sendPacket emits one framed packet built from the payload parts.
func (c *Client) sendPacket(cmd byte, parts ...[]byte) {
	c.port.WriteByte(cmd)
	c.port.WriteByte(checksum(cmd, parts...))
	for _, part := range parts {
		c.port.Write(part)
	}
}

// nulTerminated stages s into buf as a null-terminated field; it reports
// false when s (plus the terminator) does not fit.
func nulTerminated(buf []byte, s string) ([]byte, bool) {
	if len(s)+1 > cap(buf) {
		return nil, false
	}
	buf = buf[:0]
	buf = append(buf, s...)
	return append(buf, 0), true
}

// WriteString sends a string packet. Strings with embedded null bytes are
// rejected: the terminator is the only framing the payload has.
func (c *Client) WriteString(s string) *kernel.Error {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return ErrNulInString
		}
	}

	var term [1]byte
	c.sendPacket(CmdWriteString, []byte(s), term[:])
	return nil
}

// OpenFile asks the server to open path with the supplied flags and returns
// the handle it assigns.
func (c *Client) OpenFile(path string, flags byte) (FileHandle, *kernel.Error) {
	var pathBuf [FilenameMaxLen]byte
	field, ok := nulTerminated(pathBuf[:], path)
	if !ok {
		return 0, ErrFilenameTooLong
	}

	c.sendPacket(CmdOpenFile, field, []byte{flags})

	handle := c.port.ReadByte()
	if handle == 0 {
		return 0, ErrInvalidHandle
	}
	return FileHandle(handle), nil
}

// WriteFile streams data to an open handle in chunks of at most
// FileChunkSize bytes.
func (c *Client) WriteFile(handle FileHandle, data []byte) {
	for len(data) > 0 {
		chunk := data
		if len(chunk) > FileChunkSize {
			chunk = chunk[:FileChunkSize]
		}
		data = data[len(chunk):]

		header := []byte{byte(handle), byte(len(chunk)), byte(len(chunk) >> 8)}
		c.sendPacket(CmdWriteFile, header, chunk)
	}
}

// CloseFile releases an open handle.
func (c *Client) CloseFile(handle FileHandle) {
	c.sendPacket(CmdCloseFile, []byte{byte(handle)})
}

// CreateFileChannel opens an incremental file channel on the server.
func (c *Client) CreateFileChannel(name string) *kernel.Error {
	var nameBuf [ChannelNameMaxLen]byte
	field, ok := nulTerminated(nameBuf[:], name)
	if !ok {
		return ErrChannelNameTooLong
	}

	c.sendPacket(CmdCreateFileChannel, field)
	return nil
}

// WriteFileChannel appends one chunk to an incremental channel. The last
// chunk is flagged by done.
func (c *Client) WriteFileChannel(name string, data []byte, done bool) *kernel.Error {
	var nameBuf [ChannelNameMaxLen]byte
	field, ok := nulTerminated(nameBuf[:], name)
	if !ok {
		return ErrChannelNameTooLong
	}

	for first := true; first || len(data) > 0; first = false {
		chunk := data
		if len(chunk) > FileChunkSize {
			chunk = chunk[:FileChunkSize]
		}
		data = data[len(chunk):]

		flags := byte(ChunkContinues)
		if done && len(data) == 0 {
			flags = 0
		}

		header := []byte{flags, byte(len(chunk)), byte(len(chunk) >> 8)}
		c.sendPacket(CmdFileChannelChunk, field, header, chunk)
	}

	return nil
}

// CloseFileChannel closes an incremental channel.
func (c *Client) CloseFileChannel(name string) *kernel.Error {
	var nameBuf [ChannelNameMaxLen]byte
	field, ok := nulTerminated(nameBuf[:], name)
	if !ok {
		return ErrChannelNameTooLong
	}

	c.sendPacket(CmdCloseFileChannel, field)
	return nil
}
