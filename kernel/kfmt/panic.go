package kfmt

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
)

// maxBacktraceFrames bounds the frame-pointer walk performed while printing a
// panic backtrace.
const maxBacktraceFrames = 32

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	// framePointerFn is mocked by tests and is automatically inlined by the compiler.
	framePointerFn = cpu.ReadFramePointer

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

	// panicHookFn, if set, runs before the panic banner is printed. The
	// allocator uses it to force-unlock its mutex so the heap state can be
	// dumped post-mortem.
	panicHookFn func()
)

// stackFrame mirrors the frame layout produced by the compiler when frame
// pointers are enabled: the saved RBP of the caller followed by the return
// address.
type stackFrame struct {
	rbp *stackFrame
	rip uintptr
}

// SetPanicHook registers fn to run at the start of a panic, before any output
// is generated.
func SetPanicHook(fn func()) {
	panicHookFn = fn
}

// Panic outputs the supplied error (if not nil) to the console together with
// a frame-pointer backtrace and halts the CPU. Calls to Panic never return.
// Panic also works as a redirection target for calls to panic() (resolved via
// runtime.gopanic)
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	if panicHookFn != nil {
		panicHookFn()
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	printBacktrace()
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}

// printBacktrace walks the chain of saved frame pointers starting at the
// current RBP value and prints the return address stored in each frame. The
// walk stops at a nil or misaligned frame pointer.
func printBacktrace() {
	Printf("backtrace:\n")

	frame := (*stackFrame)(unsafe.Pointer(framePointerFn()))
	for i := 0; i < maxBacktraceFrames; i++ {
		if frame == nil || uintptr(unsafe.Pointer(frame))&7 != 0 {
			return
		}

		Printf("  %2d: %16x\n", i, frame.rip)
		frame = frame.rbp
	}
}
