package sync

import "sync/atomic"

// Values for the initialization fuse carried by the one-shot primitives.
const (
	fuseUnset uint32 = iota
	fuseArming
	fuseSet
)

// noCore is the sentinel stored in a locker/writer slot when no core owns
// it. Core ids are stored biased by one so that the zero value of a lock is
// valid and unlocked.
const noCore int64 = 0

// OnceMutex is a mutex guarding a value that is initialized exactly once,
// separately from construction. The zero value is an unlocked, uninitialized
// mutex. Attempts to re-lock the mutex from the core that already holds it
// are detected and reported as a deadlock together with the identity of the
// first locker when the caller-diagnostics capabilities are available.
type OnceMutex[T any] struct {
	value T

	// init is the initialization fuse for value.
	init uint32

	// lockerCore holds the biased id of the core currently holding the
	// mutex, or noCore when the mutex is free.
	lockerCore int64

	// lockerSite holds the caller instruction pointer captured when the
	// mutex was last acquired. Purely diagnostic.
	lockerSite uintptr
}

// NewOnceMutex returns a OnceMutex that is already initialized with value.
func NewOnceMutex[T any](value T) *OnceMutex[T] {
	m := &OnceMutex[T]{value: value}
	m.init = fuseSet
	return m
}

// Init initializes the guarded value exactly once. Calls after the first
// are no-ops.
func (m *OnceMutex[T]) Init(value T) {
	if !atomic.CompareAndSwapUint32(&m.init, fuseUnset, fuseArming) {
		return
	}
	m.value = value
	atomic.StoreUint32(&m.init, fuseSet)
}

// IsInitialized returns true if the guarded value has been initialized.
func (m *OnceMutex[T]) IsInitialized() bool {
	return atomic.LoadUint32(&m.init) == fuseSet
}

// IsLocked returns true if the mutex is currently held. The result carries
// no synchronization guarantees.
func (m *OnceMutex[T]) IsLocked() bool {
	return atomic.LoadInt64(&m.lockerCore) != noCore
}

// TryLock attempts to acquire the mutex without blocking.
func (m *OnceMutex[T]) TryLock() (OnceMutexGuard[T], bool) {
	if atomic.LoadUint32(&m.init) != fuseSet {
		panicFn(ErrUninitializedOnce)
		return OnceMutexGuard[T]{}, false
	}

	cid := coreIDFn()
	if !atomic.CompareAndSwapInt64(&m.lockerCore, noCore, cid+1) {
		return OnceMutexGuard[T]{}, false
	}
	atomic.StoreUintptr(&m.lockerSite, callerIP())

	return OnceMutexGuard[T]{m: m}, true
}

// Lock acquires the mutex, spinning while another core holds it. If the
// executing core already holds the mutex, Lock reports a deadlock diagnostic
// and panics: re-entry is a program bug.
func (m *OnceMutex[T]) Lock() OnceMutexGuard[T] {
	if atomic.LoadUint32(&m.init) != fuseSet {
		panicFn(ErrUninitializedOnce)
		return OnceMutexGuard[T]{}
	}

	cid := coreIDFn()
	site := callerIP()

	if !atomic.CompareAndSwapInt64(&m.lockerCore, noCore, cid+1) {
		if atomic.LoadInt64(&m.lockerCore) == cid+1 {
			reportDeadlock(cid, atomic.LoadUintptr(&m.lockerSite))
			panicFn(ErrDeadlockDetected)
			return OnceMutexGuard[T]{}
		}

		for !atomic.CompareAndSwapInt64(&m.lockerCore, noCore, cid+1) {
			pauseFn()
		}
	}

	atomic.StoreUintptr(&m.lockerSite, site)

	return OnceMutexGuard[T]{m: m}
}

// ForceUnlock clears the locker state without a guard being released. It is
// only meant to be used by the panic path to enable post-mortem access to
// state that was locked when the panic fired.
func (m *OnceMutex[T]) ForceUnlock() {
	atomic.StoreUintptr(&m.lockerSite, 0)
	atomic.StoreInt64(&m.lockerCore, noCore)
}

// OnceMutexGuard grants access to the value guarded by a OnceMutex until
// Unlock is called.
type OnceMutexGuard[T any] struct {
	m *OnceMutex[T]
}

// Get returns a pointer to the guarded value.
func (g OnceMutexGuard[T]) Get() *T {
	return &g.m.value
}

// Unlock releases the mutex. The caller site is cleared before the locker
// core so that a concurrent deadlock report never names a stale site.
func (g OnceMutexGuard[T]) Unlock() {
	atomic.StoreUintptr(&g.m.lockerSite, 0)
	atomic.StoreInt64(&g.m.lockerCore, noCore)
}
