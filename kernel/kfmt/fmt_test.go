package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestFprintf(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no args", nil, "no args"},
		{"%s and %s", []interface{}{"foo", []byte("bar")}, "foo and bar"},
		{"%5s", []interface{}{"abc"}, "  abc"},
		{"%d", []interface{}{42}, "42"},
		{"%d", []interface{}{-42}, "-42"},
		{"%5d", []interface{}{42}, "   42"},
		{"%o", []interface{}{uint8(8)}, "10"},
		{"%x", []interface{}{uint32(0xbadf00d)}, "badf00d"},
		{"%10x", []interface{}{uintptr(0xf00)}, "0000000f00"},
		{"%t|%t", []interface{}{true, false}, "true|false"},
		{"%%", nil, "%"},
		{"%s", nil, "(MISSING)"},
		{"%d", []interface{}{"not-a-number"}, "%!(WRONGTYPE)"},
		{"ok", []interface{}{1}, "ok%!(EXTRA)"},
	}

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		Fprintf(&buf, spec.format, spec.args...)

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestPrintfBuffersEarlyOutput(t *testing.T) {
	defer SetOutputSink(nil)
	SetOutputSink(nil)
	io.Copy(io.Discard, &earlyPrintBuffer)

	Printf("early: %d\n", 123)

	// Installing a sink must flush the buffered output into it.
	var buf bytes.Buffer
	SetOutputSink(&buf)

	exp := "early: 123\n"
	if got := buf.String(); got != exp {
		t.Errorf("expected buffered output %q; got %q", exp, got)
	}
}
