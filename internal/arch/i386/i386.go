// Package i386 implements the x86 (32-bit) architecture backend:
// relocation type classification and application, thread-pointer
// installation via set_thread_area, and jump-trampoline encoding.
package i386

import (
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/elfloader/govdl/internal/arch"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

func uintptrOf(d *userDesc) uintptr { return uintptr(unsafe.Pointer(d)) }

// Relocation type constants, matching elf.h's R_386_* values.
const (
	rNone      = 0
	r32        = 1
	rPC32      = 2
	rGOT32     = 3
	rPLT32     = 4
	rCopy      = 5
	rGlobDat   = 6
	rJumpSlot  = 7
	rRelative  = 8
	rGOTOff    = 9
	rGOTPC     = 10
	rTLSTPOff  = 14
	rTLSDTPMod = 35
	rTLSDTPOff = 36

	sysSetThreadArea = 243
)

// user_desc, the struct set_thread_area expects (asm/ldt.h), laid out by
// hand since golang.org/x/sys/unix does not model it.
type userDesc struct {
	EntryNumber uint32
	BaseAddr    uint32
	Limit       uint32
	Flags       uint32
}

type backend struct{}

// Backend is the i386 architecture backend singleton.
var Backend arch.Backend = backend{}

func (backend) Name() string             { return "i386" }
func (backend) WordSize() int            { return 4 }
func (backend) IsRelative(t uint32) bool { return t == rRelative }
func (backend) IsCopy(t uint32) bool     { return t == rCopy }
func (backend) IsTLS(t uint32) bool {
	switch t {
	case rTLSTPOff, rTLSDTPMod, rTLSDTPOff:
		return true
	default:
		return false
	}
}

func (backend) RelocWithoutMatch(file *vdlctx.File, addr uint64, relocType uint32, addend int64, symValue uint64) error {
	if addend != 0 {
		return fmt.Errorf("i386: relocation carries an addend but i386 REL entries never do")
	}
	word := image.At(addr, 4)
	cur := uint64(binary.LittleEndian.Uint32(word))
	switch relocType {
	case rRelative:
		binary.LittleEndian.PutUint32(word, uint32(cur+file.LoadBase))
	case rTLSTPOff:
		binary.LittleEndian.PutUint32(word, uint32(cur+uint64(file.TLS.Offset)+symValue))
	case rTLSDTPMod:
		binary.LittleEndian.PutUint32(word, file.TLS.ModuleIndex)
	case rTLSDTPOff:
		binary.LittleEndian.PutUint32(word, uint32(symValue))
	default:
		return fmt.Errorf("i386: unhandled reloc type %d with no symbol match", relocType)
	}
	return nil
}

func (backend) RelocWithMatch(addr uint64, relocType uint32, addend int64, match arch.MatchedSymbol) error {
	if addend != 0 {
		return fmt.Errorf("i386: relocation carries an addend but i386 REL entries never do")
	}
	word := image.At(addr, 4)
	cur := uint64(binary.LittleEndian.Uint32(word))
	switch relocType {
	case rGlobDat, rJumpSlot, r32:
		binary.LittleEndian.PutUint32(word, uint32(match.File.LoadBase+match.SymValue))
	case rTLSTPOff:
		binary.LittleEndian.PutUint32(word, uint32(cur+uint64(match.File.TLS.Offset)+match.SymValue))
	case rTLSDTPMod:
		binary.LittleEndian.PutUint32(word, match.TLSIndex)
	case rTLSDTPOff:
		binary.LittleEndian.PutUint32(word, uint32(match.SymValue))
	default:
		return fmt.Errorf("i386: unhandled reloc type %d", relocType)
	}
	return nil
}

func (backend) MinJumpInstructionLength() int { return 5 }

// WriteTrampoline writes a 5-byte relative jmp (E9 rel32), identical
// encoding to amd64 since both use the same near-jump opcode.
func (backend) WriteTrampoline(addr, target uint64) (int, error) {
	rel := int64(target) - (int64(addr) + 5)
	if rel > math.MaxInt32 || rel < math.MinInt32 {
		return 0, fmt.Errorf("i386: trampoline target out of 32-bit relative range")
	}
	buf := image.At(addr, 5)
	buf[0] = 0xE9
	binary.LittleEndian.PutUint32(buf[1:5], uint32(int32(rel)))
	return 5, nil
}

// InstallThreadPointer installs addr as this thread's TLS base via
// set_thread_area, the i386 counterpart to amd64's arch_prctl(ARCH_SET_FS).
// The segment selector itself (%gs) is left to the caller's existing LDT/GDT
// setup; this only rewrites the descriptor's base address.
func (backend) InstallThreadPointer(addr uint64) error {
	desc := userDesc{
		EntryNumber: 0xffffffff, // kernel picks a free GDT slot
		BaseAddr:    uint32(addr),
		Limit:       0xfffff,
		Flags:       0x51, // seg_32bit | useable | limit_in_pages
	}
	_, _, errno := unix.Syscall(sysSetThreadArea, uintptrOf(&desc), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (backend) RelocTypeName(t uint32) string {
	names := map[uint32]string{
		rNone: "R_386_NONE", r32: "R_386_32", rPC32: "R_386_PC32",
		rGOT32: "R_386_GOT32", rPLT32: "R_386_PLT32", rCopy: "R_386_COPY",
		rGlobDat: "R_386_GLOB_DAT", rJumpSlot: "R_386_JMP_SLOT",
		rRelative: "R_386_RELATIVE", rGOTOff: "R_386_GOTOFF", rGOTPC: "R_386_GOTPC",
		rTLSTPOff: "R_386_TLS_TPOFF", rTLSDTPMod: "R_386_TLS_DTPMOD32",
		rTLSDTPOff: "R_386_TLS_DTPOFF32",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("R_386_UNKNOWN(%d)", t)
}
