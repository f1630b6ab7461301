//go:build amd64

package libchook

// Entry stubs implemented in entry_amd64.s: each receives control at the
// point a patched libc symbol used to start, in that symbol's native
// System V calling convention, and forwards into the matching *Impl
// function below using Go's stack-based ABI0 convention.
func dlopenModeEntry()
func dlcloseEntry()
func dlsymEntry()
func dlAddrEntry()
func tlsGetAddrEntry()

func dlopenModeEntryAddr() uintptr { return funcPC(dlopenModeEntry) }
func dlcloseEntryAddr() uintptr    { return funcPC(dlcloseEntry) }
func dlsymEntryAddr() uintptr      { return funcPC(dlsymEntry) }
func dlAddrEntryAddr() uintptr     { return funcPC(dlAddrEntry) }
func tlsGetAddrEntryAddr() uintptr { return funcPC(tlsGetAddrEntry) }
