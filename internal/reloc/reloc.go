// Package reloc implements the generic relocation engine (spec §4.4):
// symbol-to-version-requirement resolution, the per-entry REL/RELA
// dispatch that every architecture shares, and the depth-ordered
// eager/lazy relocation pass over a file set. Everything
// architecture-specific (what a relocation type means, how it's
// applied) is delegated to an arch.Backend.
package reloc

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/elfloader/govdl/internal/arch"
	"github.com/elfloader/govdl/internal/futex"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/symbol"
	"github.com/elfloader/govdl/internal/vdlctx"
	"github.com/elfloader/govdl/internal/vlog"
)

// Engine applies relocations against a file set using one architecture
// backend and the versioned symbol lookup engine.
type Engine struct {
	Backend arch.Backend
	Log     *vlog.Logger

	// Scope returns the ordered search scope (local-then-global etc.)
	// used to resolve an undefined symbol referenced by f.
	Scope func(f *vdlctx.File) []*vdlctx.File

	// Mu serializes lazy single-entry PLT resolution the way the
	// reference loader's global futex does.
	Mu futex.Mutex
}

// New creates an Engine. log may be nil.
func New(backend arch.Backend, scope func(f *vdlctx.File) []*vdlctx.File, log *vlog.Logger) *Engine {
	if log == nil {
		log = vlog.NewNop()
	}
	return &Engine{Backend: backend, Scope: scope, Log: log}
}

// RelocateAll applies every eager relocation (DT_REL/DT_RELA, and
// DT_JMPREL when now is true) across files, processed in increasing
// depth then reversed, so dependencies are relocated before their
// dependents — mirroring vdl_file_reloc's vdl_sort_increasing_depth then
// reverse.
func (e *Engine) RelocateAll(files []*vdlctx.File, now bool) error {
	ordered := append([]*vdlctx.File{}, files...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Depth < ordered[j].Depth })
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}

	for _, f := range ordered {
		if err := e.relocateOne(f, now); err != nil {
			return fmt.Errorf("relocating %s: %w", f.DisplayName, err)
		}
	}
	return nil
}

func (e *Engine) relocateOne(f *vdlctx.File, now bool) error {
	if f.Status.Relocated {
		return nil
	}
	f.Status.Relocated = true

	if err := e.relocTable(f, elf.DT_REL, elf.DT_RELSZ, elf.DT_RELENT, false); err != nil {
		return err
	}
	if err := e.relocTable(f, elf.DT_RELA, elf.DT_RELASZ, elf.DT_RELAENT, true); err != nil {
		return err
	}
	if now {
		return e.relocJmprel(f)
	}
	return e.setupLazyPLT(f)
}

func (e *Engine) relocTable(f *vdlctx.File, tagAddr, tagSz, tagEnt elf.DynTag, isRela bool) error {
	addr, ok := firstDyn(f, tagAddr)
	if !ok {
		return nil
	}
	size, _ := firstDyn(f, tagSz)
	entsz, _ := firstDyn(f, tagEnt)
	if size == 0 || entsz == 0 {
		return nil
	}
	buf := image.At(f.LoadBase+addr, int(size))
	for off := uint64(0); off+entsz <= size; off += entsz {
		entry := buf[off : off+entsz]
		var relType uint32
		var relOffset, symIdx uint64
		var addend int64
		if isRela {
			relOffset, symIdx, relType, addend = decodeRela(f, entry)
		} else {
			relOffset, symIdx, relType = decodeRel(f, entry)
		}
		if err := e.processReloc(f, relType, f.LoadBase+relOffset, addend, symIdx); err != nil {
			return err
		}
	}
	return nil
}

// relocJmprel applies every DT_JMPREL entry eagerly ("now" binding),
// dispatching on DT_PLTREL the same way reloc_jmprel does.
func (e *Engine) relocJmprel(f *vdlctx.File) error {
	addr, ok := firstDyn(f, elf.DT_JMPREL)
	if !ok {
		return nil
	}
	pltrel, _ := firstDyn(f, elf.DT_PLTREL)
	size, _ := firstDyn(f, elf.DT_PLTRELSZ)
	if size == 0 {
		return nil
	}

	isRela := elf.DynTag(pltrel) == elf.DT_RELA
	entsz := uint64(16)
	if isRela {
		entsz = entSizeRela(f)
	} else {
		entsz = entSizeRel(f)
	}
	buf := image.At(f.LoadBase+addr, int(size))
	for off := uint64(0); off+entsz <= size; off += entsz {
		entry := buf[off : off+entsz]
		var relType uint32
		var relOffset, symIdx uint64
		var addend int64
		if isRela {
			relOffset, symIdx, relType, addend = decodeRela(f, entry)
		} else {
			relOffset, symIdx, relType = decodeRel(f, entry)
		}
		if err := e.processReloc(f, relType, f.LoadBase+relOffset, addend, symIdx); err != nil {
			return err
		}
	}
	return nil
}

// RelocOneJmprel resolves a single PLT entry at offset index within
// DT_JMPREL, under the engine's lock, and returns the resolved target
// address (or 0 if resolution failed), per vdl_file_reloc_one_jmprel.
// Called by the lazy-binding trampoline's resolver stub.
func (e *Engine) RelocOneJmprel(f *vdlctx.File, index uint64) uint64 {
	e.Mu.Lock()
	defer e.Mu.Unlock()

	addr, ok := firstDyn(f, elf.DT_JMPREL)
	if !ok {
		return 0
	}
	pltrel, _ := firstDyn(f, elf.DT_PLTREL)
	isRela := elf.DynTag(pltrel) == elf.DT_RELA
	entsz := entSizeRel(f)
	if isRela {
		entsz = entSizeRela(f)
	}

	off := index * entsz
	buf := image.At(f.LoadBase+addr+off, int(entsz))
	var relType uint32
	var relOffset, symIdx uint64
	var addend int64
	if isRela {
		relOffset, symIdx, relType, addend = decodeRela(f, buf)
	} else {
		relOffset, symIdx, relType = decodeRel(f, buf)
	}
	if err := e.processReloc(f, relType, f.LoadBase+relOffset, addend, symIdx); err != nil {
		e.Log.SymbolFail(f.DisplayName, fmt.Sprintf("jmprel[%d]", index))
		return 0
	}
	word := image.At(f.LoadBase+relOffset, e.Backend.WordSize())
	if e.Backend.WordSize() == 8 {
		return binary.LittleEndian.Uint64(word)
	}
	return uint64(binary.LittleEndian.Uint32(word))
}

// processReloc is do_process_reloc: classify, look up a defining symbol
// when one is named, and dispatch to the backend.
func (e *Engine) processReloc(f *vdlctx.File, relType uint32, addr uint64, addend int64, symIdx uint64) error {
	if symIdx >= uint64(len(f.SymTab)) {
		return fmt.Errorf("symbol index %d out of range in %s", symIdx, f.DisplayName)
	}
	sym := f.SymTab[symIdx]

	if e.Backend.IsRelative(relType) || sym.Name == "" {
		return e.Backend.RelocWithoutMatch(f, addr, relType, addend, sym.Value)
	}

	flags := symbol.Flag(0)
	if e.Backend.IsCopy(relType) {
		flags |= symbol.FlagNoExec
	}

	spec := versionRequirement(f, symIdx)
	scope := e.Scope(f)
	res, ok := symbol.Lookup(f, sym.Name, spec, flags, scope, e.Log)
	if !ok {
		if sym.Bind() == elf.STB_WEAK {
			return nil
		}
		e.Log.SymbolFail(f.DisplayName, sym.Name)
		return nil
	}
	e.Log.SymbolOK(f.DisplayName, sym.Name, res.File.DisplayName, res.File.LoadBase+res.Sym.Value)

	if e.Backend.IsCopy(relType) {
		if res.Sym.Size != sym.Size {
			return fmt.Errorf("copy relocation size mismatch for %s: %d != %d", sym.Name, res.Sym.Size, sym.Size)
		}
		src := image.At(res.File.LoadBase+res.Sym.Value, int(res.Sym.Size))
		dst := image.At(addr, int(res.Sym.Size))
		copy(dst, src)
		return nil
	}

	match := arch.MatchedSymbol{File: res.File, SymValue: res.Sym.Value, SymSize: res.Sym.Size, TLSIndex: res.File.TLS.ModuleIndex}
	e.Log.Reloc(f.DisplayName, relType, addr, sym.Name)
	return e.Backend.RelocWithMatch(addr, relType, addend, match)
}

// versionRequirement is sym_to_ver_req: given the referencing file's own
// VERSYM/VERNEED tables, find the {name, owning library} pair a symbol
// index requires, or the zero VersionSpec if it has none.
func versionRequirement(f *vdlctx.File, symIdx uint64) symbol.VersionSpec {
	if len(f.VerSym) == 0 || len(f.VerNeed) == 0 || int(symIdx) >= len(f.VerSym) {
		return symbol.VersionSpec{}
	}
	verNdx := f.VerSym[symIdx]
	if verNdx&0x8000 != 0 {
		return symbol.VersionSpec{}
	}

	strtabAddr, haveStrtab := firstDyn(f, elf.DT_STRTAB)
	if !haveStrtab {
		return symbol.VersionSpec{}
	}
	strsz, _ := firstDyn(f, elf.DT_STRSZ)
	strtab := image.At(f.LoadBase+strtabAddr, int(strsz))

	buf := f.VerNeed
	off := 0
	for off+16 <= len(buf) {
		vnCnt := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		vnFile := binary.LittleEndian.Uint32(buf[off+4 : off+8])
		vnAux := binary.LittleEndian.Uint32(buf[off+8 : off+12])
		vnNext := binary.LittleEndian.Uint32(buf[off+12 : off+16])

		auxOff := off + int(vnAux)
		for a := 0; a < int(vnCnt) && auxOff+16 <= len(buf); a++ {
			vnaOther := binary.LittleEndian.Uint16(buf[auxOff+6 : auxOff+8])
			vnaName := binary.LittleEndian.Uint32(buf[auxOff+8 : auxOff+12])
			vnaNext := binary.LittleEndian.Uint32(buf[auxOff+12 : auxOff+16])
			if vnaOther == verNdx&^0x8000 {
				return symbol.VersionSpec{
					Name:        cstrAt(strtab, vnaName),
					LibraryName: cstrAt(strtab, vnFile),
				}
			}
			if vnaNext == 0 {
				break
			}
			auxOff += int(vnaNext)
		}
		if vnNext == 0 {
			break
		}
		off += int(vnNext)
	}
	return symbol.VersionSpec{}
}

func decodeRel(f *vdlctx.File, entry []byte) (offset, symIdx uint64, relType uint32) {
	if f.Class == elf.ELFCLASS32 {
		offset = uint64(binary.LittleEndian.Uint32(entry[0:4]))
		info := binary.LittleEndian.Uint32(entry[4:8])
		symIdx = uint64(info >> 8)
		relType = info & 0xff
		return
	}
	offset = binary.LittleEndian.Uint64(entry[0:8])
	info := binary.LittleEndian.Uint64(entry[8:16])
	symIdx = info >> 32
	relType = uint32(info & 0xffffffff)
	return
}

func decodeRela(f *vdlctx.File, entry []byte) (offset, symIdx uint64, relType uint32, addend int64) {
	if f.Class == elf.ELFCLASS32 {
		offset = uint64(binary.LittleEndian.Uint32(entry[0:4]))
		info := binary.LittleEndian.Uint32(entry[4:8])
		symIdx = uint64(info >> 8)
		relType = info & 0xff
		addend = int64(int32(binary.LittleEndian.Uint32(entry[8:12])))
		return
	}
	offset = binary.LittleEndian.Uint64(entry[0:8])
	info := binary.LittleEndian.Uint64(entry[8:16])
	symIdx = info >> 32
	relType = uint32(info & 0xffffffff)
	addend = int64(binary.LittleEndian.Uint64(entry[16:24]))
	return
}

func entSizeRel(f *vdlctx.File) uint64 {
	if f.Class == elf.ELFCLASS32 {
		return 8
	}
	return 16
}

func entSizeRela(f *vdlctx.File) uint64 {
	if f.Class == elf.ELFCLASS32 {
		return 12
	}
	return 24
}

func firstDyn(f *vdlctx.File, tag elf.DynTag) (uint64, bool) {
	vs := f.Dynamic[tag]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

func cstrAt(tab []byte, off uint32) string {
	if off >= uint32(len(tab)) {
		return ""
	}
	end := off
	for end < uint32(len(tab)) && tab[end] != 0 {
		end++
	}
	return string(tab[off:end])
}
