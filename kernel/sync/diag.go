// Package sync provides the synchronization primitives that every higher
// kernel layer depends on: one-shot initialized mutexes and reader-writer
// locks with caller-identification diagnostics, an interrupt-disabling mutex
// and a write-once fuse.
package sync

import (
	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
)

var (
	// coreIDFn returns the id of the executing core. It is overridden by
	// tests to simulate multiple cores.
	coreIDFn = func() int64 { return int64(cpu.APICID()) }

	// pauseFn is invoked inside spin-wait loops. Tests override it with
	// runtime.Gosched to avoid livelocks.
	pauseFn = cpu.Pause

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	// callerIPFn, when set, returns the instruction pointer of the code
	// that invoked a lock operation. symbolNameFn, when set, maps an
	// instruction pointer to a symbol name. Both are optional capabilities
	// registered at boot; their absence degrades deadlock diagnostics but
	// never affects correctness.
	callerIPFn   func() uintptr
	symbolNameFn func(ip uintptr) (string, bool)
)

// ErrDeadlockDetected is reported when a lock operation would deadlock the
// executing core.
var ErrDeadlockDetected = &kernel.Error{Module: "sync", Message: "deadlock detected: lock is already held by this core"}

// ErrUninitializedOnce is reported when a one-shot primitive is used before
// its Init call.
var ErrUninitializedOnce = &kernel.Error{Module: "sync", Message: "attempt to use a one-shot primitive before initialization"}

// SetCallerDiagnostics registers the optional caller-identification
// capabilities used to name the first locker when a deadlock is detected.
func SetCallerDiagnostics(ipFn func() uintptr, resolveFn func(ip uintptr) (string, bool)) {
	callerIPFn = ipFn
	symbolNameFn = resolveFn
}

// callerIP captures the caller instruction pointer if the capability has
// been registered.
func callerIP() uintptr {
	if callerIPFn == nil {
		return 0
	}
	return callerIPFn()
}

// reportDeadlock logs a deadlock diagnostic, naming the first locker when
// the symbol-resolution capability can identify it.
func reportDeadlock(cid int64, site uintptr) {
	if site != 0 && symbolNameFn != nil {
		if name, ok := symbolNameFn(site); ok {
			kfmt.Printf("[sync] deadlock detected on core %d: first locked by %s\n", cid, name)
			return
		}
	}
	kfmt.Printf("[sync] deadlock detected on core %d: first locker unknown\n", cid)
}
