// Package arch defines the architecture backend contract the relocation
// engine and libc hook patcher dispatch through, implemented once per
// target architecture under arch/amd64 and arch/i386.
package arch

import "github.com/elfloader/govdl/internal/vdlctx"

// MatchedSymbol is the information the relocation engine has once a
// symbol lookup succeeds, passed to Backend.RelocWithMatch.
type MatchedSymbol struct {
	File     *vdlctx.File
	SymValue uint64
	SymSize  uint64
	TLSIndex uint32
}

// Backend performs the architecture-specific parts of relocation: type
// classification and the actual read-modify-write at the relocation
// site.
type Backend interface {
	// Name identifies the backend, e.g. "amd64" or "i386".
	Name() string

	// WordSize is 8 on amd64, 4 on i386.
	WordSize() int

	// IsRelative reports whether relocType is this architecture's
	// *_RELATIVE type (resolved purely from load_base + addend, no
	// symbol lookup).
	IsRelative(relocType uint32) bool

	// IsCopy reports whether relocType is this architecture's *_COPY
	// type (resolved by memcpy'ing the matched definition's bytes).
	IsCopy(relocType uint32) bool

	// IsTLS reports whether relocType is one of this architecture's TLS
	// triplet (TPOFF/DTPMOD/DTPOFF).
	IsTLS(relocType uint32) bool

	// RelocWithoutMatch applies a relocation that needed no symbol
	// lookup (relative, or a TLS reloc against a symbol already known to
	// live in file itself), at addr, given the raw addend and symbol
	// value supplied by the caller.
	RelocWithoutMatch(file *vdlctx.File, addr uint64, relocType uint32, addend int64, symValue uint64) error

	// RelocWithMatch applies a relocation whose symbol lookup succeeded.
	RelocWithMatch(addr uint64, relocType uint32, addend int64, match MatchedSymbol) error

	// MinJumpInstructionLength is the number of bytes the jump written
	// by WriteTrampoline occupies on this architecture, used by the libc
	// hook patcher to size-check a patch site.
	MinJumpInstructionLength() int

	// WriteTrampoline writes a jump to target at addr, returning the
	// number of bytes written (<= the instruction budget the caller
	// already verified with MinJumpInstructionLength). Both backends
	// write a 5-byte relative jmp rel32 and fail when target is beyond a
	// signed 32-bit displacement from addr; no absolute-indirect jump is
	// written.
	WriteTrampoline(addr uint64, target uint64) (int, error)

	// InstallThreadPointer makes addr (a TCB address) this thread's
	// architectural thread pointer.
	InstallThreadPointer(addr uint64) error

	// RelocTypeName renders relocType for logging/diagnostics.
	RelocTypeName(relocType uint32) string
}
