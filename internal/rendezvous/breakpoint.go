package rendezvous

import "unsafe"

// rDebugState is linknamed to the unscoped asm symbol _r_debug_state so
// Go code can take its address without exporting it through Go's normal
// (package-qualified) symbol table.
//
//go:linkname rDebugState _r_debug_state
func rDebugState()

// BreakpointStubAddr is _r_debug_state's entry address, the value a
// Bootstrapper passes to SetBreakpoint.
func BreakpointStubAddr() uintptr {
	return **(**uintptr)(unsafe.Pointer(&rDebugState))
}
