package reloc

import (
	"debug/elf"

	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// Entry is one processed relocation, as display-relocs.c dumps them:
// type, site, the symbol it referenced (if any), and the value already
// written at the site.
type Entry struct {
	TypeName string
	Offset   uint64
	Symbol   string
	Value    uint64
}

// Dump re-walks f's already-applied REL/RELA/JMPREL tables read-only and
// reports what ended up at each site, for vdlctl's relocs subcommand.
// Unlike RelocateAll, it never writes — it decodes each entry the same
// way relocTable/relocJmprel do and reads back the resulting word.
func (e *Engine) Dump(f *vdlctx.File) []Entry {
	var out []Entry
	out = append(out, e.dumpTable(f, elf.DT_REL, elf.DT_RELSZ, elf.DT_RELENT, false)...)
	out = append(out, e.dumpTable(f, elf.DT_RELA, elf.DT_RELASZ, elf.DT_RELAENT, true)...)
	out = append(out, e.dumpJmprel(f)...)
	return out
}

func (e *Engine) dumpTable(f *vdlctx.File, tagAddr, tagSz, tagEnt elf.DynTag, isRela bool) []Entry {
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
	var out []Entry
	for off := uint64(0); off+entsz <= size; off += entsz {
		entry := buf[off : off+entsz]
		out = append(out, e.dumpOne(f, entry, isRela))
	}
	return out
}

func (e *Engine) dumpJmprel(f *vdlctx.File) []Entry {
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
	entsz := entSizeRel(f)
	if isRela {
		entsz = entSizeRela(f)
	}
	buf := image.At(f.LoadBase+addr, int(size))
	var out []Entry
	for off := uint64(0); off+entsz <= size; off += entsz {
		entry := buf[off : off+entsz]
		out = append(out, e.dumpOne(f, entry, isRela))
	}
	return out
}

func (e *Engine) dumpOne(f *vdlctx.File, entry []byte, isRela bool) Entry {
	var relType uint32
	var relOffset, symIdx uint64
	if isRela {
		relOffset, symIdx, relType, _ = decodeRela(f, entry)
	} else {
		relOffset, symIdx, relType = decodeRel(f, entry)
	}

	name := ""
	if symIdx < uint64(len(f.SymTab)) {
		name = f.SymTab[symIdx].Name
	}

	site := f.LoadBase + relOffset
	word := image.At(site, e.Backend.WordSize())
	var value uint64
	if len(word) == 8 {
		value = leUint64(word)
	} else if len(word) == 4 {
		value = uint64(leUint32(word))
	}

	return Entry{TypeName: e.Backend.RelocTypeName(relType), Offset: site, Symbol: name, Value: value}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}
