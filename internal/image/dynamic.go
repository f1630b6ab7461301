package image

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/elfloader/govdl/internal/vdlctx"
)

// loadDynamic walks the now-mapped PT_DYNAMIC table and populates f's
// Dynamic tag map, symbol table, hash tables, and version tables. It
// runs after the segments are live in memory, so every address it reads
// is loadBase+p_vaddr into f's own mapping rather than the on-disk file.
func loadDynamic(f *vdlctx.File, ef *elf.File, dyn *elf.Prog, loadBase uint64) error {
	f.DynPtr = loadBase + dyn.Vaddr
	f.Dynamic = make(map[elf.DynTag][]uint64)

	entsz := 16
	if f.Class == elf.ELFCLASS32 {
		entsz = 8
	}
	raw := At(f.DynPtr, int(dyn.Filesz))
	for off := 0; off+entsz <= len(raw); off += entsz {
		tag, val := readDynEntry(raw[off:off+entsz], f.Class)
		if elf.DynTag(tag) == elf.DT_NULL {
			break
		}
		f.Dynamic[elf.DynTag(tag)] = append(f.Dynamic[elf.DynTag(tag)], val)
	}

	dv := func(tag elf.DynTag) (uint64, bool) {
		vs := f.Dynamic[tag]
		if len(vs) == 0 {
			return 0, false
		}
		return vs[0], true
	}

	strtabAddr, haveStrtab := dv(elf.DT_STRTAB)
	strsz, _ := dv(elf.DT_STRSZ)
	if !haveStrtab {
		return fmt.Errorf("no DT_STRTAB")
	}
	strtab := At(loadBase+strtabAddr, int(strsz))

	symtabAddr, haveSymtab := dv(elf.DT_SYMTAB)
	if !haveSymtab {
		return fmt.Errorf("no DT_SYMTAB")
	}

	wordSize := wordSizeOf(f.Class)
	var gnuHashAddr uint64
	var haveGNUHash bool

	if hashAddr, ok := dv(elf.DT_HASH); ok {
		nbucket, nchain := sysvHashCounts(loadBase + hashAddr)
		f.HashTab = At(loadBase+hashAddr, 8+4*int(nbucket)+4*int(nchain))
	}
	if addr, ok := dv(elf.DT_GNU_HASH); ok {
		gnuHashAddr, haveGNUHash = loadBase+addr, true
		size := gnuHashTableSize(gnuHashAddr, wordSize)
		f.GNUHashTab = At(gnuHashAddr, size)
	}

	symCount := 0
	if haveGNUHash && len(f.GNUHashTab) > 0 {
		symCount = gnuHashSymCount(f.GNUHashTab, wordSize)
	} else if len(f.HashTab) >= 8 {
		symCount = int(binary.LittleEndian.Uint32(f.HashTab[4:8]))
	}

	symEntsz := 24
	if f.Class == elf.ELFCLASS32 {
		symEntsz = 16
	}
	f.SymTab = make([]vdlctx.Sym, symCount)
	if symCount > 0 {
		symBytes := At(loadBase+symtabAddr, symCount*symEntsz)
		for i := 0; i < symCount; i++ {
			f.SymTab[i] = readSym(symBytes[i*symEntsz:(i+1)*symEntsz], f.Class, strtab)
		}
	}

	if versymAddr, ok := dv(elf.DT_VERSYM); ok && symCount > 0 {
		raw := At(loadBase+versymAddr, symCount*2)
		f.VerSym = make([]uint16, symCount)
		for i := range f.VerSym {
			f.VerSym[i] = binary.LittleEndian.Uint16(raw[i*2 : i*2+2])
		}
	}

	if verdefAddr, ok := dv(elf.DT_VERDEF); ok {
		n, _ := dv(elf.DT_VERDEFNUM)
		f.VerDef = At(loadBase+verdefAddr, verdefChainSize(loadBase+verdefAddr, int(n)))
	}
	if verneedAddr, ok := dv(elf.DT_VERNEED); ok {
		n, _ := dv(elf.DT_VERNEEDNUM)
		f.VerNeed = At(loadBase+verneedAddr, verneedChainSize(loadBase+verneedAddr, int(n)))
	}

	return nil
}

func readDynEntry(b []byte, class elf.Class) (tag int64, val uint64) {
	if class == elf.ELFCLASS32 {
		return int64(int32(binary.LittleEndian.Uint32(b[0:4]))), uint64(binary.LittleEndian.Uint32(b[4:8]))
	}
	return int64(binary.LittleEndian.Uint64(b[0:8])), binary.LittleEndian.Uint64(b[8:16])
}

func readSym(b []byte, class elf.Class, strtab []byte) vdlctx.Sym {
	var nameOff uint32
	var value, size uint64
	var info, other byte
	var shndx uint16
	if class == elf.ELFCLASS32 {
		nameOff = binary.LittleEndian.Uint32(b[0:4])
		value = uint64(binary.LittleEndian.Uint32(b[4:8]))
		size = uint64(binary.LittleEndian.Uint32(b[8:12]))
		info = b[12]
		other = b[13]
		shndx = binary.LittleEndian.Uint16(b[14:16])
	} else {
		nameOff = binary.LittleEndian.Uint32(b[0:4])
		info = b[4]
		other = b[5]
		shndx = binary.LittleEndian.Uint16(b[6:8])
		value = binary.LittleEndian.Uint64(b[8:16])
		size = binary.LittleEndian.Uint64(b[16:24])
	}
	return vdlctx.Sym{
		Name:  cstr(strtab, nameOff),
		Value: value,
		Size:  size,
		Info:  info,
		Other: other,
		Shndx: shndx,
	}
}

func cstr(tab []byte, off uint32) string {
	if int(off) >= len(tab) {
		return ""
	}
	end := off
	for end < uint32(len(tab)) && tab[end] != 0 {
		end++
	}
	return string(tab[off:end])
}

func sysvHashCounts(addr uint64) (nbucket, nchain uint32) {
	hdr := At(addr, 8)
	return binary.LittleEndian.Uint32(hdr[0:4]), binary.LittleEndian.Uint32(hdr[4:8])
}

// gnuHashTableSize computes the DT_GNU_HASH table's total byte size by
// locating the bucket/chain region from its header and walking the chain
// that starts at the highest bucket value (the last chain in the array)
// to its terminator (low bit set in the chain word).
func gnuHashTableSize(addr uint64, wordSize int) int {
	hdr := At(addr, 16)
	nbuckets := binary.LittleEndian.Uint32(hdr[0:4])
	symoffset := binary.LittleEndian.Uint32(hdr[4:8])
	bloomSize := binary.LittleEndian.Uint32(hdr[8:12])

	bucketsOff := 16 + int(bloomSize)*wordSize
	buckets := At(addr+uint64(bucketsOff), int(nbuckets)*4)

	maxIdx := uint32(0)
	any := false
	for i := 0; i < int(nbuckets); i++ {
		b := binary.LittleEndian.Uint32(buckets[i*4 : i*4+4])
		if b == 0 {
			continue
		}
		any = true
		if b > maxIdx {
			maxIdx = b
		}
	}
	chainOff := bucketsOff + int(nbuckets)*4
	if !any {
		return chainOff
	}
	idx := int(maxIdx - symoffset)
	for {
		word := At(addr+uint64(chainOff+idx*4), 4)
		h := binary.LittleEndian.Uint32(word)
		idx++
		if h&1 != 0 {
			break
		}
	}
	return chainOff + idx*4
}

func gnuHashSymCount(table []byte, wordSize int) int {
	nbuckets := binary.LittleEndian.Uint32(table[0:4])
	symoffset := binary.LittleEndian.Uint32(table[4:8])
	bloomSize := binary.LittleEndian.Uint32(table[8:12])
	bucketsOff := 16 + int(bloomSize)*wordSize
	chainOff := bucketsOff + int(nbuckets)*4
	chainWords := (len(table) - chainOff) / 4
	return int(symoffset) + chainWords
}

func wordSizeOf(class elf.Class) int {
	if class == elf.ELFCLASS32 {
		return 4
	}
	return 8
}

func verdefChainSize(addr uint64, count int) int {
	if count == 0 {
		return 0
	}
	farthest := 0
	off := 0
	for i := 0; i < count; i++ {
		hdr := At(addr+uint64(off), 20)
		vdAux := binary.LittleEndian.Uint32(hdr[12:16])
		vdCnt := binary.LittleEndian.Uint16(hdr[6:8])
		vdNext := binary.LittleEndian.Uint32(hdr[16:20])

		auxOff := off + int(vdAux)
		for a := 0; a < int(vdCnt); a++ {
			auxHdr := At(addr+uint64(auxOff), 8)
			if auxOff+8 > farthest {
				farthest = auxOff + 8
			}
			vdaNext := binary.LittleEndian.Uint32(auxHdr[4:8])
			if vdaNext == 0 {
				break
			}
			auxOff += int(vdaNext)
		}
		if off+20 > farthest {
			farthest = off + 20
		}
		if vdNext == 0 {
			break
		}
		off += int(vdNext)
	}
	return farthest
}

func verneedChainSize(addr uint64, count int) int {
	if count == 0 {
		return 0
	}
	farthest := 0
	off := 0
	for i := 0; i < count; i++ {
		hdr := At(addr+uint64(off), 16)
		vnCnt := binary.LittleEndian.Uint16(hdr[2:4])
		vnAux := binary.LittleEndian.Uint32(hdr[8:12])
		vnNext := binary.LittleEndian.Uint32(hdr[12:16])

		auxOff := off + int(vnAux)
		for a := 0; a < int(vnCnt); a++ {
			auxHdr := At(addr+uint64(auxOff), 16)
			if auxOff+16 > farthest {
				farthest = auxOff + 16
			}
			vnaNext := binary.LittleEndian.Uint32(auxHdr[12:16])
			if vnaNext == 0 {
				break
			}
			auxOff += int(vnaNext)
		}
		if off+16 > farthest {
			farthest = off + 16
		}
		if vnNext == 0 {
			break
		}
		off += int(vnNext)
	}
	return farthest
}
