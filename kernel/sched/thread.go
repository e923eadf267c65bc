// Package sched implements the kernel's cooperative-preemption scheduler: a
// round-robin thread table driven by the LAPIC timer interrupt.
package sched

import (
	"github.com/quackitsquinn/novos-sub000/kernel/irq"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
)

// ThreadID identifies a thread in the scheduler table.
type ThreadID uint32

// ThreadState describes the scheduling state of a thread.
type ThreadState uint8

const (
	// StateWaiting marks a thread that is runnable but not executing.
	StateWaiting ThreadState = iota

	// StateRunning marks the thread most recently dispatched by the
	// scheduler; at most one thread is in this state.
	StateRunning

	// StateKilled marks a thread whose table entry is being discarded.
	StateKilled
)

// Thread is a unit of execution: a kernel stack plus the saved CPU context
// that resumes it.
type Thread struct {
	ID    ThreadID
	Name  string
	State ThreadState

	// Stack is the virtual range backing the thread's kernel stack.
	Stack vmm.Range

	// Context is the CPU state written back by the timer handler when
	// the thread is preempted and restored when it is dispatched.
	Context irq.Context
}
