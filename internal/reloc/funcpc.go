package reloc

import "unsafe"

// funcPC returns the entry address of an assembly-declared, non-closure
// function, the same funcval trick internal/libchook uses to hand a Go
// symbol's code address to native code.
func funcPC(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}
