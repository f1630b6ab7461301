//go:build 386

package libchook

// Entry stubs implemented in entry_386.s, the cdecl-calling-convention
// counterpart of entry_amd64.s.
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
