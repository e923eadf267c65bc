package trampoline

// jumpThunk is the position-independent machine-code sequence that performs
// the address-space switch. It follows the System V AMD64 argument order:
// the new CR3 arrives in RDI, the entry point in RSI and the stack pointer
// in RDX.
//
//	mov cr3, rdi
//	mov rsp, rdx
//	jmp rsi
//	cli
//	hlt
//
// The trailing CLI/HLT only runs if the jump itself goes wrong. The
// sequence is padded with NOPs to a fixed 16 bytes.
var jumpThunk = [16]byte{
	0x0F, 0x22, 0xDF, // mov cr3, rdi
	0x48, 0x89, 0xD4, // mov rsp, rdx
	0xFF, 0xE6, // jmp rsi
	0xFA,                               // cli
	0xF4,                               // hlt
	0x90, 0x90, 0x90, 0x90, 0x90, 0x90, // nop padding
}

// jumpToKernel invokes the thunk installed at jumpLoadPoint in the current
// address space. It never returns.
func jumpToKernel(cr3, rip, rsp uintptr)
