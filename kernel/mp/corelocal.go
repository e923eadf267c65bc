// Package mp implements the multiprocessor bring-up layer: per-core local
// storage, LAPIC and IOAPIC programming and IPI dispatch.
package mp

import (
	"sort"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
	"github.com/quackitsquinn/novos-sub000/kernel/kfmt"
	"github.com/quackitsquinn/novos-sub000/kernel/sync"
)

var (
	// CoreIDFn reports the executing core's id. It defaults to the
	// initial APIC id from CPUID and is replaced once the LAPIC window
	// is mapped; tests override it to simulate application cores.
	CoreIDFn = func() uint32 { return cpu.APICID() }

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic

	errCoresNotReady = &kernel.Error{Module: "mp", Message: "application core storage accessed before AP bring-up finished"}
	errUnknownCore   = &kernel.Error{Module: "mp", Message: "no per-core storage registered for this APIC id"}
)

// registeredAPICIDs lists the APIC ids of the application cores, sorted
// ascending. It is populated exactly once by SetCores when AP bring-up
// completes.
var (
	registeredAPICIDs []uint32
	coresReady        sync.Fuse
)

// SetCores registers the APIC ids of the application cores (the bootstrap
// core's id is ignored if present). Per-core storage for non-bootstrap cores
// is only materialized after this call.
func SetCores(bootstrapID uint32, apicIDs []uint32) {
	if !coresReady.Set() {
		return
	}

	for _, id := range apicIDs {
		if id == bootstrapID {
			continue
		}
		registeredAPICIDs = append(registeredAPICIDs, id)
	}
	sort.Slice(registeredAPICIDs, func(i, j int) bool { return registeredAPICIDs[i] < registeredAPICIDs[j] })

	bootstrapAPICID = bootstrapID
}

// bootstrapAPICID is the APIC id of the bootstrap core. Core 0 state exists
// before AP enumeration, so the bootstrap entry is always special-cased.
var bootstrapAPICID uint32

// CoreLocal holds one value per core, keyed on APIC id. The bootstrap
// core's value exists from construction; application-core values are
// materialized lazily on first access after SetCores has run, using the
// configured construction policy.
type CoreLocal[T any] struct {
	bootstrap sync.OnceRwLock[T]

	// ctor builds the value for an application core. Exactly one of
	// ctorFn/cloneFn is set, mirroring the function/clone-bootstrap
	// construction policies.
	ctorFn  func() T
	cloneFn func(bootstrap *T) T

	// applications maps sorted APIC ids to per-core locks; built once.
	applications []*sync.OnceRwLock[T]
	materialized sync.Fuse
	built        sync.Fuse
}

// NewCoreLocalFunc returns a CoreLocal whose application-core values are
// produced by invoking ctor.
func NewCoreLocalFunc[T any](bootstrap T, ctor func() T) *CoreLocal[T] {
	cl := &CoreLocal[T]{ctorFn: ctor}
	cl.bootstrap.Init(bootstrap)
	return cl
}

// NewCoreLocalClone returns a CoreLocal whose application-core values are
// produced by cloning the bootstrap value through clone.
func NewCoreLocalClone[T any](bootstrap T, clone func(bootstrap *T) T) *CoreLocal[T] {
	cl := &CoreLocal[T]{cloneFn: clone}
	cl.bootstrap.Init(bootstrap)
	return cl
}

// construct builds a fresh value for an application core.
func (cl *CoreLocal[T]) construct() T {
	if cl.ctorFn != nil {
		return cl.ctorFn()
	}

	g := cl.bootstrap.Read()
	defer g.Unlock()
	return cl.cloneFn(g.Get())
}

// materialize builds the per-core lock table on first application-core
// access. Accessing application storage before SetCores is a program bug.
func (cl *CoreLocal[T]) materialize() {
	if !cl.materialized.Set() {
		// Another core is building the table; wait for it to finish.
		for !cl.built.IsSet() {
			cpu.Pause()
		}
		return
	}

	if !coresReady.IsSet() {
		panicFn(errCoresNotReady)
		return
	}

	cl.applications = make([]*sync.OnceRwLock[T], len(registeredAPICIDs))
	for i := range registeredAPICIDs {
		cl.applications[i] = sync.NewOnceRwLock(cl.construct())
	}
	cl.built.Set()
}

// lockFor returns the lock holding the executing core's value.
func (cl *CoreLocal[T]) lockFor() *sync.OnceRwLock[T] {
	id := CoreIDFn()
	if id == bootstrapAPICID {
		return &cl.bootstrap
	}

	cl.materialize()

	index := sort.Search(len(registeredAPICIDs), func(i int) bool { return registeredAPICIDs[i] >= id })
	if index == len(registeredAPICIDs) || registeredAPICIDs[index] != id {
		panicFn(errUnknownCore)
		return nil
	}

	return cl.applications[index]
}

// Read returns a read guard over the executing core's value.
func (cl *CoreLocal[T]) Read() sync.OnceRwReadGuard[T] {
	return cl.lockFor().Read()
}

// Write returns a write guard over the executing core's value.
func (cl *CoreLocal[T]) Write() sync.OnceRwWriteGuard[T] {
	return cl.lockFor().Write()
}
