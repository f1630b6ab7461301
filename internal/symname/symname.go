// Package symname demangles C++ Itanium ABI symbol names for display —
// link-map inspection (cmd/vdlctl) and diagnostic logging both want
// "Foo::bar(int)" instead of "_ZN3Foo3barEi". The teacher's own
// __cxa_demangle stub (internal/stubs/cxxabi) never actually demangles,
// it just echoes the mangled name back to its caller; this package does
// the real thing with the library already in the dependency graph.
package symname

import "github.com/ianlancetaylor/demangle"

// Demangle returns name demangled, or name unchanged if it isn't a
// recognized mangled form (a plain C symbol, for instance).
func Demangle(name string) string {
	return demangle.Filter(name, demangle.NoParams)
}

// DemangleFull is Demangle but keeps parameter types and return types,
// for cmd/vdlctl demangle --full.
func DemangleFull(name string) string {
	return demangle.Filter(name)
}
