// Package disasm decodes x86/x86-64 instructions for two purposes: a
// human-readable rendering (String, Listing), and a
// patch-site length check for internal/libchook, the Go equivalent of
// the reference loader's Open Question (c) ("size of the function
// symbol in bytes, must be >= architecture's jump-instruction length;
// fail the patch otherwise").
package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Mode is the decode mode: 32 for i386, 64 for amd64.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// Decode decodes the single instruction at the start of code. It never
// fails outright the way the teacher's disasm helper does for a
// malformed word: on a decode error it still returns an Instruction
// with Err set and Len 0, so a caller driving a disassembly listing can
// render a ".byte" fallback line and keep advancing.
func Decode(code []byte, mode Mode) Instruction {
	inst, err := x86asm.Decode(code, int(mode))
	if err != nil {
		return Instruction{Err: err}
	}
	return Instruction{inst: inst, Len: inst.Len}
}

// Instruction wraps a decoded x86asm.Inst with the formatting this
// package's callers need.
type Instruction struct {
	inst x86asm.Inst
	Len  int
	Err  error
}

// String renders the instruction in GNU (AT&T-free, Intel-syntax)
// form, matching x86asm's default String().
func (i Instruction) String() string {
	if i.Err != nil {
		return fmt.Sprintf(".byte 0x%02x ; %v", 0, i.Err)
	}
	return i.inst.String()
}

// FitsTrampoline reports whether the instruction decoded at the start
// of code is at least minLen bytes long, the check libchook.Patcher
// runs before overwriting a hooked function's prologue: a trampoline
// longer than the first instruction would overwrite part of the
// instruction after it, leaving a fragment that could be mis-executed if
// that instruction is ever jumped into directly.
func FitsTrampoline(code []byte, mode Mode, minLen int) bool {
	inst := Decode(code, mode)
	if inst.Err != nil {
		return false
	}
	return inst.Len >= minLen
}

// Listing decodes a contiguous run of instructions starting at code,
// stopping at maxLen bytes or the first decode error (which is included
// as the last entry).
func Listing(code []byte, mode Mode, maxLen int) []Instruction {
	var out []Instruction
	off := 0
	for off < len(code) && off < maxLen {
		inst := Decode(code[off:], mode)
		if inst.Err != nil {
			out = append(out, inst)
			break
		}
		out = append(out, inst)
		off += inst.Len
	}
	return out
}
