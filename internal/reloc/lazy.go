package reloc

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/elfloader/govdl/internal/futex"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// pltBinding is what a lazy-bound file's GOT[1] ticket resolves back to.
// A ticket is an index into pltBindings, not a raw pointer, so handing
// it to assembly (GOT[1] is plain ELF data, not a Go-tracked root) never
// exposes a moving heap address.
type pltBinding struct {
	engine *Engine
	file   *vdlctx.File
}

var (
	pltMu       futex.Mutex
	pltBindings []pltBinding
)

func registerPLTBinding(e *Engine, f *vdlctx.File) uint64 {
	pltMu.Lock()
	defer pltMu.Unlock()
	pltBindings = append(pltBindings, pltBinding{engine: e, file: f})
	return uint64(len(pltBindings) - 1)
}

func lookupPLTBinding(ticket uint64) (*Engine, *vdlctx.File, bool) {
	pltMu.Lock()
	defer pltMu.Unlock()
	if ticket >= uint64(len(pltBindings)) {
		return nil, nil, false
	}
	b := pltBindings[ticket]
	return b.engine, b.file, true
}

// resolvePLTEntry is the Go side of the architecture trampoline: given
// the ticket GOT[1] carried and the PLT index PLTn pushed, it resolves
// and applies that one DT_JMPREL entry and returns the address the
// trampoline should jump to next.
func resolvePLTEntry(ticket, index uint64) uint64 {
	e, f, ok := lookupPLTBinding(ticket)
	if !ok {
		return 0
	}
	return e.RelocOneJmprel(f, index)
}

// setupLazyPLT wires f's PLT for lazy binding per the standard
// PLT0/PLTn convention: PLT0 is `push [GOT+8]; jmp [GOT+16]`, so writing
// a ticket into GOT[1] and this architecture's resolver trampoline
// address into GOT[2] routes every still-unbound procedure's first call
// through resolvePLTEntry. Every other GOT slot the static linker filled
// with a load-address-0 back-pointer to its own PLTn+6 needs load_base
// added so the "still unbound" jump lands back in this file's PLT
// rather than at a bogus low address.
func (e *Engine) setupLazyPLT(f *vdlctx.File) error {
	gotAddr, ok := firstDyn(f, elf.DT_PLTGOT)
	if !ok {
		return nil
	}
	if _, haveJmprel := firstDyn(f, elf.DT_JMPREL); !haveJmprel {
		return nil
	}
	pltrel, _ := firstDyn(f, elf.DT_PLTREL)
	size, _ := firstDyn(f, elf.DT_PLTRELSZ)
	if size == 0 {
		return nil
	}
	entsz := entSizeRel(f)
	if elf.DynTag(pltrel) == elf.DT_RELA {
		entsz = entSizeRela(f)
	}
	nEntries := size / entsz

	ws := e.Backend.WordSize()
	got := image.At(f.LoadBase+gotAddr, (3+int(nEntries))*ws)

	if readWord(got, 1, ws) != 0 {
		return fmt.Errorf("setupLazyPLT: %s has a prelinked GOT (GOT[1] already nonzero); prelinked binaries are not supported", f.DisplayName)
	}

	ticket := registerPLTBinding(e, f)
	putWord(got, 1, ticket, ws)
	putWord(got, 2, uint64(pltResolveEntryAddr()), ws)

	for i := uint64(0); i < nEntries; i++ {
		slot := 3 + i
		if int(slot)*ws+ws > len(got) {
			break
		}
		cur := readWord(got, int(slot), ws)
		putWord(got, int(slot), cur+f.LoadBase, ws)
	}

	return nil
}

func readWord(got []byte, slot, wordSize int) uint64 {
	off := slot * wordSize
	if wordSize == 8 {
		return binary.LittleEndian.Uint64(got[off : off+8])
	}
	return uint64(binary.LittleEndian.Uint32(got[off : off+4]))
}

func putWord(got []byte, slot int, v uint64, wordSize int) {
	off := slot * wordSize
	if wordSize == 8 {
		binary.LittleEndian.PutUint64(got[off:off+8], v)
	} else {
		binary.LittleEndian.PutUint32(got[off:off+4], uint32(v))
	}
}
