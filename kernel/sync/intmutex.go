package sync

var (
	// Interrupt-flag control is a capability wired at boot via
	// SetInterruptControl; the defaults are inert so the primitives stay
	// usable before the capability is registered (and in user-mode
	// tests, where touching the interrupt flag would fault).
	interruptsEnabledFn = func() bool { return false }
	disableInterruptsFn = func() {}
	enableInterruptsFn  = func() {}
)

// SetInterruptControl registers the arch primitives used to mask and
// restore interrupts around InterruptMutex critical sections.
func SetInterruptControl(enabledFn func() bool, disableFn, enableFn func()) {
	interruptsEnabledFn = enabledFn
	disableInterruptsFn = disableFn
	enableInterruptsFn = enableFn
}

// InterruptMutex is a OnceMutex variant that disables interrupts for as long
// as it is held and restores the previous interrupt state on release. It is
// the only lock that is legal to hold across an operation that may be
// re-entered from an interrupt handler on the same core.
type InterruptMutex[T any] struct {
	m OnceMutex[T]
}

// NewInterruptMutex returns an InterruptMutex that is already initialized
// with value.
func NewInterruptMutex[T any](value T) *InterruptMutex[T] {
	im := &InterruptMutex[T]{}
	im.m.value = value
	im.m.init = fuseSet
	return im
}

// Init initializes the guarded value exactly once.
func (im *InterruptMutex[T]) Init(value T) {
	im.m.Init(value)
}

// IsInitialized returns true if the guarded value has been initialized.
func (im *InterruptMutex[T]) IsInitialized() bool {
	return im.m.IsInitialized()
}

// Lock disables interrupts on the local core and acquires the mutex.
func (im *InterruptMutex[T]) Lock() InterruptMutexGuard[T] {
	reenable := interruptsEnabledFn()
	disableInterruptsFn()

	return InterruptMutexGuard[T]{inner: im.m.Lock(), reenable: reenable}
}

// InterruptMutexGuard grants access to the value guarded by an
// InterruptMutex until Unlock is called.
type InterruptMutexGuard[T any] struct {
	inner    OnceMutexGuard[T]
	reenable bool
}

// Get returns a pointer to the guarded value.
func (g InterruptMutexGuard[T]) Get() *T {
	return g.inner.Get()
}

// Unlock releases the mutex and re-enables interrupts if they were enabled
// when the lock was acquired.
func (g InterruptMutexGuard[T]) Unlock() {
	g.inner.Unlock()
	if g.reenable {
		enableInterruptsFn()
	}
}
