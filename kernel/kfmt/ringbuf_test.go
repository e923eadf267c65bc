package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBufferReadWrite(t *testing.T) {
	var rb ringBuffer

	payload := []byte("the quick brown fox jumps over the lazy dog")
	if n, err := rb.Write(payload); n != len(payload) || err != nil {
		t.Fatalf("expected write of %d bytes with nil error; got %d, %v", len(payload), n, err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, &rb); err != nil && err != io.EOF {
		t.Fatal(err)
	}

	if got := buf.String(); got != string(payload) {
		t.Errorf("expected to read %q; got %q", payload, got)
	}

	if _, err := rb.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("expected io.EOF when reading a drained buffer; got %v", err)
	}
}

func TestRingBufferOverwrite(t *testing.T) {
	var rb ringBuffer

	// Fill the buffer and then write one extra byte; the oldest byte gets
	// dropped and readers observe the most recent ringBufferSize-1 bytes.
	for i := 0; i < ringBufferSize; i++ {
		rb.Write([]byte{byte(i)})
	}
	rb.Write([]byte{0xAA})

	out := make([]byte, 0, ringBufferSize)
	tmp := make([]byte, 64)
	for {
		n, err := rb.Read(tmp)
		out = append(out, tmp[:n]...)
		if err == io.EOF || n == 0 {
			break
		}
	}

	if len(out) != ringBufferSize-1 {
		t.Fatalf("expected to read %d bytes; got %d", ringBufferSize-1, len(out))
	}

	if out[len(out)-1] != 0xAA {
		t.Errorf("expected last byte to be 0xAA; got 0x%x", out[len(out)-1])
	}
}
