package sched

import (
	"unsafe"

	"github.com/quackitsquinn/novos-sub000/kernel"
	"github.com/quackitsquinn/novos-sub000/kernel/irq"
	"github.com/quackitsquinn/novos-sub000/kernel/mem"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/pmm"
	"github.com/quackitsquinn/novos-sub000/kernel/mem/vmm"
	"github.com/quackitsquinn/novos-sub000/kernel/mp"
	"github.com/quackitsquinn/novos-sub000/kernel/sync"
)

// StackSize is the size of each kernel thread stack.
const StackSize = 0x4000

// kernelCodeSelector is the GDT selector threads execute under.
const kernelCodeSelector = 0x08

// rflagsThreadDefault enables interrupts (IF) with IOPL 0; bit 1 is the
// always-set reserved flag.
const rflagsThreadDefault = 0x202

var (
	// ErrUnknownThread is returned when the supplied id is not in the
	// table.
	ErrUnknownThread = &kernel.Error{Module: "sched", Message: "thread id is not in the scheduler table"}

	// allocStackFn reserves and maps a kernel stack, returning its
	// range. It is overridden by tests.
	allocStackFn = allocKernelStack

	// releaseStackFn returns a killed thread's stack range; overridden
	// by tests.
	releaseStackFn = vmm.ReleaseRange

	// eoiFn signals end-of-interrupt; overridden by tests.
	eoiFn = func() { mp.LAPIC.EOI() }

	// nextThreadID feeds Spawn.
	nextThreadID ThreadID
)

// Scheduler is the thread table plus the round-robin cursor. All mutations
// run under an interrupt-disabling mutex because the timer handler re-enters
// the scheduler on the same core.
type Scheduler struct {
	// threads is kept sorted by thread id.
	threads []*Thread

	// current is the thread most recently dispatched, or nil.
	current *Thread

	// cursor mod len(threads) selects the next pick candidate.
	cursor int
}

// scheduler is the global instance.
var scheduler sync.InterruptMutex[Scheduler]

// Init brings the global scheduler online and registers the timer handler
// for the supplied interrupt vector.
func Init(timerVector uint8) {
	scheduler.Init(Scheduler{})

	irq.HandleException(timerVector, func(frame *irq.Frame, regs *irq.Regs) {
		// The saved registers are the first field of the stub's
		// context record, so the full context is recoverable from
		// their address.
		HandleTimer((*irq.Context)(unsafe.Pointer(regs)))
	})
}

// allocKernelStack reserves a virtual range for a thread stack and maps
// every page to a fresh physical frame.
func allocKernelStack() (vmm.Range, *kernel.Error) {
	pages := uint64(StackSize / mem.PageSize)

	r, err := vmm.AllocateRange(pages)
	if err != nil {
		return vmm.Range{}, err
	}

	for i := uint64(0); i < pages; i++ {
		frame, err := pmm.AllocFrame()
		if err != nil {
			vmm.ReleaseRange(r)
			return vmm.Range{}, err
		}
		if err = vmm.Map(r.Start+vmm.Page(i), frame, vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			vmm.ReleaseRange(r)
			return vmm.Range{}, err
		}
	}

	return r, nil
}

// Spawn allocates a kernel stack for entry and inserts a Waiting thread
// whose saved context resumes at entry's code with a fresh stack.
func Spawn(name string, entry func()) (ThreadID, *kernel.Error) {
	stack, err := allocStackFn()
	if err != nil {
		return 0, err
	}

	// The first word of a Go func value is the code pointer.
	rip := **(**uintptr)(unsafe.Pointer(&entry))

	g := scheduler.Lock()
	defer g.Unlock()

	sched := g.Get()
	id := nextThreadID
	nextThreadID++

	thread := &Thread{
		ID:    id,
		Name:  name,
		State: StateWaiting,
		Stack: stack,
	}
	thread.Context.RIP = uint64(rip)
	thread.Context.RSP = uint64(stack.Address() + StackSize - 8)
	thread.Context.CS = kernelCodeSelector
	thread.Context.RFlags = rflagsThreadDefault

	sched.insert(thread)
	return id, nil
}

// insert places thread into the table keeping it sorted by id.
func (s *Scheduler) insert(thread *Thread) {
	index := len(s.threads)
	for i := range s.threads {
		if s.threads[i].ID > thread.ID {
			index = i
			break
		}
	}

	s.threads = append(s.threads, nil)
	copy(s.threads[index+1:], s.threads[index:])
	s.threads[index] = thread
}

// Kill removes the thread with the supplied id from the table. Its stack
// range is returned to the virtual allocator.
func Kill(id ThreadID) *kernel.Error {
	g := scheduler.Lock()
	defer g.Unlock()

	sched := g.Get()
	for i := range sched.threads {
		if sched.threads[i].ID != id {
			continue
		}

		thread := sched.threads[i]
		thread.State = StateKilled
		if sched.current == thread {
			sched.current = nil
		}

		sched.threads = append(sched.threads[:i], sched.threads[i+1:]...)
		releaseStackFn(thread.Stack)
		return nil
	}

	return ErrUnknownThread
}

// HandleTimer is the scheduler half of the timer interrupt: it saves the
// preempted context into the current thread, picks the next thread
// round-robin and rewrites the saved context so the stub's iretq resumes
// it. The final EOI releases the LAPIC for the next tick.
func HandleTimer(ctx *irq.Context) {
	g := scheduler.Lock()
	defer g.Unlock()

	sched := g.Get()
	if len(sched.threads) == 0 {
		eoiFn()
		return
	}

	if sched.current != nil {
		sched.current.Context = *ctx
		sched.current.State = StateWaiting
	}

	next := sched.threads[sched.cursor%len(sched.threads)]
	sched.cursor++

	next.State = StateRunning
	*ctx = next.Context
	sched.current = next

	eoiFn()
}

// Current returns the id of the running thread, or false when the scheduler
// is idle.
func Current() (ThreadID, bool) {
	g := scheduler.Lock()
	defer g.Unlock()

	sched := g.Get()
	if sched.current == nil {
		return 0, false
	}
	return sched.current.ID, true
}

// ThreadCount returns the number of threads in the table.
func ThreadCount() int {
	g := scheduler.Lock()
	defer g.Unlock()
	return len(g.Get().threads)
}
