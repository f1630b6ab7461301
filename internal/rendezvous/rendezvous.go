// Package rendezvous implements the debugger-visible r_debug structure
// (spec §4.9): a well-known layout GDB and other ptrace-based debuggers
// read to find the link-map, bracketed state transitions around every
// load/unload, and the breakpoint function GDB hardcodes by name.
package rendezvous

import (
	"debug/elf"
	"encoding/binary"

	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// Structure's field layout, matching glibc's struct r_debug on the
// target word size: version:int32 (padded to word size), map:word,
// brk:word, state:int32 (padded), ldbase:word.
const (
	offVersion = 0
	offMap     = 8
	offBrk     = 16
	offState   = 24
	offLdBase  = 32
	structSize = 40
)

// Rendezvous owns the in-process r_debug structure's backing memory and
// keeps it wired into the main executable's DT_DEBUG slot.
type Rendezvous struct {
	Engine *vdlctx.Engine
	buf    []byte
	addr   uint64

	// BreakpointAddr is the address of the hand-written breakpoint stub
	// GDB hardcodes by the symbol name _r_debug_state; installed once at
	// bootstrap via SetBreakpoint.
	BreakpointAddr uint64
}

// New allocates the structure's backing memory (kept alive for the life
// of the process, same as an immortal native global) and initializes it
// to the consistent state.
func New(e *vdlctx.Engine) *Rendezvous {
	r := &Rendezvous{Engine: e, buf: make([]byte, structSize)}
	r.addr = addrOf(r.buf)
	binary.LittleEndian.PutUint32(r.buf[offVersion:], 1)
	binary.LittleEndian.PutUint32(r.buf[offState:], uint32(vdlctx.RStateConsistent))
	return r
}

// Addr is the structure's live address, the value DT_DEBUG must point
// to.
func (r *Rendezvous) Addr() uint64 { return r.addr }

// SetBreakpoint records the breakpoint stub's address and writes it into
// the structure's brk field.
func (r *Rendezvous) SetBreakpoint(addr uint64) {
	r.BreakpointAddr = addr
	binary.LittleEndian.PutUint64(r.buf[offBrk:], addr)
}

// Install rewrites exe's DT_DEBUG dynamic entry to point at this
// structure, the way GDB expects to locate it from the executable's
// .dynamic section.
func (r *Rendezvous) Install(exe *vdlctx.File) {
	off, ok := dynEntryOffset(exe, elf.DT_DEBUG)
	if !ok {
		return
	}
	wordSize := 8
	if exe.Class == elf.ELFCLASS32 {
		wordSize = 4
	}
	word := image.At(exe.DynPtr+off+uint64(wordSize), wordSize)
	if wordSize == 8 {
		binary.LittleEndian.PutUint64(word, r.addr)
	} else {
		binary.LittleEndian.PutUint32(word, uint32(r.addr))
	}
}

// dynEntryOffset finds the byte offset, within the live PT_DYNAMIC
// array, of the first entry tagged tag.
func dynEntryOffset(f *vdlctx.File, tag elf.DynTag) (uint64, bool) {
	wordSize := uint64(8)
	if f.Class == elf.ELFCLASS32 {
		wordSize = 4
	}
	entSize := 2 * wordSize
	// Conservative upper bound: scan until DT_NULL, same terminator the
	// mapper used when it first walked this table.
	for off := uint64(0); ; off += entSize {
		entry := image.At(f.DynPtr+off, int(entSize))
		var curTag int64
		if wordSize == 8 {
			curTag = int64(binary.LittleEndian.Uint64(entry[:8]))
		} else {
			curTag = int64(int32(binary.LittleEndian.Uint32(entry[:4])))
		}
		if elf.DynTag(curTag) == elf.DT_NULL {
			return 0, false
		}
		if elf.DynTag(curTag) == tag {
			return off, true
		}
	}
}

// NotifyAdd transitions to the add state, to be called before linking a
// newly mapped subtree into the link-map.
func (r *Rendezvous) NotifyAdd() { r.setState(vdlctx.RStateAdd) }

// NotifyDelete transitions to the delete state, to be called before
// unlinking an unloaded subtree.
func (r *Rendezvous) NotifyDelete() { r.setState(vdlctx.RStateDelete) }

// NotifyConsistent transitions back to consistent and invokes the
// breakpoint, bracketing a completed load/unload transaction.
func (r *Rendezvous) NotifyConsistent() {
	r.setState(vdlctx.RStateConsistent)
	r.hitBreakpoint()
}

func (r *Rendezvous) setState(s vdlctx.RendezvousState) {
	r.Engine.RState = s
	binary.LittleEndian.PutUint32(r.buf[offState:], uint32(s))
}

// SetLinkMapHead records the link-map head's address for GDB's
// traversal, called whenever the link-map head changes.
func (r *Rendezvous) SetLinkMapHead(addr uint64) {
	binary.LittleEndian.PutUint64(r.buf[offMap:], addr)
}

func (r *Rendezvous) hitBreakpoint() {
	if r.BreakpointAddr == 0 {
		return
	}
	callBreakpoint(uintptr(r.BreakpointAddr))
}

func addrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(ptrOf(b))
}
