package irq

import "github.com/quackitsquinn/novos-sub000/kernel/kfmt"

// NumHandlers is the number of entries that the IDT exposes. The first 32
// entries are reserved by the CPU for exceptions; the remaining entries are
// available for hardware and software interrupts.
const NumHandlers = 256

// The following constants define the CPU exception vectors as specified by
// the amd64 architecture manual.
const (
	DivideByZeroException = iota
	DebugException
	NMIException
	BreakpointException
	OverflowException
	BoundRangeExceededException
	InvalidOpcodeException
	DeviceNotAvailableException
	DoubleFaultException
	CoprocessorSegmentOverrunException
	InvalidTSSException
	SegmentNotPresentException
	StackSegmentFaultException
	GPFException
	PageFaultException
	_reservedException15
	X87FPException
	AlignmentCheckException
	MachineCheckException
	SIMDFPException
	VirtualizationException
)

// Frame describes the CPU state that gets pushed to the stack by the CPU
// right before invoking an interrupt or exception handler.
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Print outputs the contents of the interrupt frame using the early console
// writer. It is primarily used by exception handlers that are about to panic.
func (f *Frame) Print() {
	kfmt.Printf(
		"RIP: 0x%16x CS: 0x%16x RFLAGS: 0x%16x RSP: 0x%16x SS: 0x%16x\n",
		f.RIP, f.CS, f.RFlags, f.RSP, f.SS,
	)
}

// Regs describes the general purpose register contents that get saved by the
// common interrupt trampoline prior to invoking a Go handler.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
}

// Print outputs the saved register contents using the early console writer.
func (r *Regs) Print() {
	kfmt.Printf(
		"RAX: 0x%16x RBX: 0x%16x RCX: 0x%16x RDX: 0x%16x\n"+
			"RSI: 0x%16x RDI: 0x%16x RBP: 0x%16x\n"+
			"R8:  0x%16x R9:  0x%16x R10: 0x%16x R11: 0x%16x\n"+
			"R12: 0x%16x R13: 0x%16x R14: 0x%16x R15: 0x%16x\n",
		r.RAX, r.RBX, r.RCX, r.RDX,
		r.RSI, r.RDI, r.RBP,
		r.R8, r.R9, r.R10, r.R11,
		r.R12, r.R13, r.R14, r.R15,
	)
}

// Context is the complete CPU state saved by the interrupt entry stubs, in
// stack order: the general purpose registers, the vector number, the error
// code (zero for vectors without one) and the frame the CPU pushed. The
// scheduler relies on this exact layout to redirect iretq to another
// thread.
type Context struct {
	Regs
	Vector uint64
	Code   uint64
	Frame
}

// HandlerFunc is the signature used by handlers for interrupts and
// exceptions that do not push an error code to the stack.
type HandlerFunc func(frame *Frame, regs *Regs)

// HandlerWithCodeFunc is the signature used by handlers for exceptions that
// push an error code to the stack (e.g. page faults and GP faults).
type HandlerWithCodeFunc func(errorCode uint64, frame *Frame, regs *Regs)

var (
	handlers         [NumHandlers]HandlerFunc
	handlersWithCode [NumHandlers]HandlerWithCodeFunc
)

// HandleException registers fn as the handler for the exception or interrupt
// vector index. Registering a handler for a vector that expects an error
// code should instead use HandleExceptionWithCode.
func HandleException(index uint8, fn HandlerFunc) {
	handlers[index] = fn
}

// HandleExceptionWithCode registers fn as the handler for the exception
// vector index. It should only be used for vectors where the CPU pushes an
// error code to the stack prior to invoking the handler.
func HandleExceptionWithCode(index uint8, fn HandlerWithCodeFunc) {
	handlersWithCode[index] = fn
}

// Dispatch is invoked by the low-level interrupt trampoline (see the local
// IDT implementation) once the CPU state has been preserved. It looks up the
// registered handler for index and invokes it.
func Dispatch(index uint8, errorCode uint64, hasCode bool, frame *Frame, regs *Regs) {
	if hasCode {
		if fn := handlersWithCode[index]; fn != nil {
			fn(errorCode, frame, regs)
			return
		}
	} else if fn := handlers[index]; fn != nil {
		fn(frame, regs)
		return
	}

	kfmt.Printf("unhandled interrupt/exception: vector %d (error code: %d)\n", index, errorCode)
	frame.Print()
	regs.Print()
}
