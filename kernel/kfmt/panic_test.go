package kfmt

import (
	"bytes"
	"strings"
	"testing"
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
)

func TestPanic(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		cpuHaltFn = origHaltFn
		framePointerFn = origFramePointerFn
	}()

	var haltCalled bool
	cpuHaltFn = func() {
		haltCalled = true
	}
	framePointerFn = func() uintptr { return 0 }

	t.Run("with *kernel.Error", func(t *testing.T) {
		var buf bytes.Buffer
		SetOutputSink(&buf)
		haltCalled = false

		err := &kernel.Error{Module: "test", Message: "panic test"}
		Panic(err)

		if !haltCalled {
			t.Error("expected cpu.Halt to be called")
		}

		exp := "[test] unrecoverable error: panic test"
		if got := buf.String(); !strings.Contains(got, exp) {
			t.Errorf("expected panic output to contain %q; got %q", exp, got)
		}
	})

	t.Run("with string", func(t *testing.T) {
		var buf bytes.Buffer
		SetOutputSink(&buf)
		haltCalled = false

		Panic("something bad happened")

		if !haltCalled {
			t.Error("expected cpu.Halt to be called")
		}

		exp := "[rt] unrecoverable error: something bad happened"
		if got := buf.String(); !strings.Contains(got, exp) {
			t.Errorf("expected panic output to contain %q; got %q", exp, got)
		}
	})

	t.Run("panic hook", func(t *testing.T) {
		var buf bytes.Buffer
		SetOutputSink(&buf)

		var hookCalled bool
		SetPanicHook(func() { hookCalled = true })
		defer SetPanicHook(nil)

		Panic(&kernel.Error{Module: "test", Message: "hook test"})

		if !hookCalled {
			t.Error("expected panic hook to be called")
		}
	})
}

func TestPanicBacktrace(t *testing.T) {
	defer func() {
		SetOutputSink(nil)
		cpuHaltFn = origHaltFn
		framePointerFn = origFramePointerFn
	}()

	cpuHaltFn = func() {}

	// Fabricate a two-frame rbp chain.
	frames := make([]stackFrame, 2)
	frames[0] = stackFrame{rbp: &frames[1], rip: 0xbadf00d}
	frames[1] = stackFrame{rbp: nil, rip: 0xdeadc0de}
	framePointerFn = func() uintptr { return uintptr(unsafe.Pointer(&frames[0])) }

	var buf bytes.Buffer
	SetOutputSink(&buf)

	Panic(&kernel.Error{Module: "test", Message: "trace"})

	for _, exp := range []string{"badf00d", "deadc0de"} {
		if got := buf.String(); !strings.Contains(got, exp) {
			t.Errorf("expected backtrace to contain %q; got %q", exp, got)
		}
	}
}

var (
	origHaltFn         = cpuHaltFn
	origFramePointerFn = framePointerFn
)
