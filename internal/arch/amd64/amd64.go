// Package amd64 implements the x86-64 architecture backend: relocation
// type classification and application, thread-pointer installation via
// arch_prctl(ARCH_SET_FS), and jump-trampoline encoding for libc hook
// patches.
package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/sys/unix"

	"github.com/elfloader/govdl/internal/arch"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// Relocation type constants, matching elf.h's R_X86_64_* values.
const (
	rNone       = 0
	r64         = 1
	rPC32       = 2
	rGOT32      = 3
	rPLT32      = 4
	rCopy       = 5
	rGlobDat    = 6
	rJumpSlot   = 7
	rRelative   = 8
	rGOTPCRel   = 9
	r32         = 10
	r32S        = 11
	r16         = 12
	rPC16       = 13
	r8          = 14
	rPC8        = 15
	rDTPMod64   = 16
	rDTPOff64   = 17
	rTPOff64    = 18
	rTLSGD      = 19
	rTLSLD      = 20
	rDTPOff32   = 21
	rGOTTPOff   = 22
	rTPOff32    = 23
	rPC64       = 24
	archSetFS   = 0x1002
)

type backend struct{}

// Backend is the x86-64 architecture backend singleton.
var Backend arch.Backend = backend{}

func (backend) Name() string     { return "amd64" }
func (backend) WordSize() int    { return 8 }
func (backend) IsRelative(t uint32) bool { return t == rRelative }
func (backend) IsCopy(t uint32) bool     { return t == rCopy }
func (backend) IsTLS(t uint32) bool {
	switch t {
	case rTPOff64, rDTPMod64, rDTPOff64:
		return true
	default:
		return false
	}
}

func (backend) RelocWithoutMatch(file *vdlctx.File, addr uint64, relocType uint32, addend int64, symValue uint64) error {
	word := image.At(addr, 8)
	switch relocType {
	case rRelative:
		binary.LittleEndian.PutUint64(word, file.LoadBase+uint64(addend))
	case rTPOff64:
		cur := binary.LittleEndian.Uint64(word)
		binary.LittleEndian.PutUint64(word, cur+uint64(file.TLS.Offset)+symValue+uint64(addend))
	case rDTPMod64:
		binary.LittleEndian.PutUint64(word, uint64(file.TLS.ModuleIndex))
	case rDTPOff64:
		binary.LittleEndian.PutUint64(word, symValue+uint64(addend))
	default:
		return fmt.Errorf("amd64: unhandled reloc type %d with no symbol match", relocType)
	}
	return nil
}

func (backend) RelocWithMatch(addr uint64, relocType uint32, addend int64, match arch.MatchedSymbol) error {
	word := image.At(addr, 8)
	switch relocType {
	case rGlobDat, rJumpSlot, r64:
		binary.LittleEndian.PutUint64(word, match.File.LoadBase+match.SymValue+uint64(addend))
	case rTPOff64:
		cur := binary.LittleEndian.Uint64(word)
		binary.LittleEndian.PutUint64(word, cur+uint64(match.File.TLS.Offset)+match.SymValue+uint64(addend))
	case rDTPMod64:
		binary.LittleEndian.PutUint64(word, uint64(match.TLSIndex))
	case rDTPOff64:
		binary.LittleEndian.PutUint64(word, match.SymValue+uint64(addend))
	default:
		return fmt.Errorf("amd64: unhandled reloc type %d", relocType)
	}
	return nil
}

func (backend) MinJumpInstructionLength() int { return 5 }

// WriteTrampoline writes a 5-byte relative jmp (E9 rel32); the engine
// rejects a patch site whose symbol is smaller than this.
func (backend) WriteTrampoline(addr, target uint64) (int, error) {
	rel := int64(target) - (int64(addr) + 5)
	if rel > math.MaxInt32 || rel < math.MinInt32 {
		return 0, fmt.Errorf("amd64: trampoline target out of 32-bit relative range")
	}
	buf := image.At(addr, 5)
	buf[0] = 0xE9
	binary.LittleEndian.PutUint32(buf[1:5], uint32(int32(rel)))
	return 5, nil
}

func (backend) InstallThreadPointer(addr uint64) error {
	_, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL, archSetFS, uintptr(addr), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (backend) RelocTypeName(t uint32) string {
	names := map[uint32]string{
		rNone: "R_X86_64_NONE", r64: "R_X86_64_64", rPC32: "R_X86_64_PC32",
		rGOT32: "R_X86_64_GOT32", rPLT32: "R_X86_64_PLT32", rCopy: "R_X86_64_COPY",
		rGlobDat: "R_X86_64_GLOB_DAT", rJumpSlot: "R_X86_64_JUMP_SLOT",
		rRelative: "R_X86_64_RELATIVE", rGOTPCRel: "R_X86_64_GOTPCREL",
		r32: "R_X86_64_32", r32S: "R_X86_64_32S", r16: "R_X86_64_16",
		rPC16: "R_X86_64_PC16", r8: "R_X86_64_8", rPC8: "R_X86_64_PC8",
		rDTPMod64: "R_X86_64_DTPMOD64", rDTPOff64: "R_X86_64_DTPOFF64",
		rTPOff64: "R_X86_64_TPOFF64", rTLSGD: "R_X86_64_TLSGD", rTLSLD: "R_X86_64_TLSLD",
		rDTPOff32: "R_X86_64_DTPOFF32", rGOTTPOff: "R_X86_64_GOTTPOFF",
		rTPOff32: "R_X86_64_TPOFF32", rPC64: "R_X86_64_PC64",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("R_X86_64_UNKNOWN(%d)", t)
}
