package libchook

import "unsafe"

// funcPC returns the entry address of an assembly-declared, non-closure
// function. A Go func value is a pointer to a funcval whose first word
// is the code entry point; for a package-level function with no
// captured variables that word is exactly its code address. This is the
// same representation every no-cgo hot-patching technique relies on to
// turn a Go symbol into a raw address a trampoline can jump to.
func funcPC(f func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&f))
}
