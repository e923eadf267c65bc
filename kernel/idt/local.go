package idt

import (
	"github.com/quackitsquinn/novos-sub000/kernel/cpu"
	"github.com/quackitsquinn/novos-sub000/kernel/mp"
)

var (
	// The following functions are used by tests to avoid touching the
	// interrupt flag while running in user-mode.
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	interruptsEnabledFn = cpu.InterruptsEnabled
)

// tablePair is the double buffer each core owns: reads resolve to front,
// mutations target back, and Swap exchanges the two.
type tablePair struct {
	front, back Table
}

// LocalIDT is a per-core double-buffered interrupt descriptor table. The
// buffers make updates race-free against interrupts: handlers are staged
// into the passive back table and made live by an atomic swap performed
// with interrupts masked on the local core.
type LocalIDT struct {
	tables *mp.CoreLocal[tablePair]
}

// NewLocalIDT builds a LocalIDT whose per-core buffers are cloned from the
// supplied template, which the bootstrap core populates once at bring-up.
func NewLocalIDT(template *Table) *LocalIDT {
	return &LocalIDT{
		tables: mp.NewCoreLocalClone(
			tablePair{front: *template, back: *template},
			func(bootstrap *tablePair) tablePair { return *bootstrap },
		),
	}
}

// WithFront invokes fn with the executing core's live table.
func (l *LocalIDT) WithFront(fn func(*Table)) {
	g := l.tables.Read()
	defer g.Unlock()
	fn(&g.Get().front)
}

// Update invokes fn with the executing core's back table. Mutations are not
// visible until Swap runs.
func (l *LocalIDT) Update(fn func(*Table)) {
	g := l.tables.Write()
	defer g.Unlock()
	fn(&g.Get().back)
}

// withInterruptsMasked runs fn with interrupts disabled on the local core,
// restoring the previous interrupt state afterwards.
func withInterruptsMasked(fn func()) {
	reenable := interruptsEnabledFn()
	disableInterruptsFn()
	fn()
	if reenable {
		enableInterruptsFn()
	}
}

// Swap exchanges the front and back tables with interrupts masked.
func (l *LocalIDT) Swap() {
	g := l.tables.Write()
	defer g.Unlock()

	withInterruptsMasked(func() {
		pair := g.Get()
		pair.front, pair.back = pair.back, pair.front
	})
}

// Sync copies the front table into the back table so that subsequent
// mutations are deltas against the live state.
func (l *LocalIDT) Sync() {
	g := l.tables.Write()
	defer g.Unlock()

	withInterruptsMasked(func() {
		pair := g.Get()
		pair.back = pair.front
	})
}

// SwapAndSync exchanges the buffers and then re-syncs the back table to the
// new front in a single masked section.
func (l *LocalIDT) SwapAndSync() {
	g := l.tables.Write()
	defer g.Unlock()

	withInterruptsMasked(func() {
		pair := g.Get()
		pair.front, pair.back = pair.back, pair.front
		pair.back = pair.front
	})
}

// Load installs the executing core's front table into its IDTR. This is
// done once per core at bring-up.
func (l *LocalIDT) Load() {
	g := l.tables.Read()
	defer g.Unlock()
	g.Get().front.Load()
}
