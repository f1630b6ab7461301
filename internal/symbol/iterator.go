package symbol

import (
	"encoding/binary"

	"github.com/elfloader/govdl/internal/vdlctx"
)

type iterKind int

const (
	noSym iterKind = iota
	elfHashIter
	gnuHashIter
)

// fileIterator walks candidate symbol-table indices for one query name
// in one File's hash chain, preferring GNU hash when present, falling
// back to SysV hash otherwise, matching vdl_lookup_file_begin/has_next/
// next's bloom-filter-then-bucket-then-chain walk.
type fileIterator struct {
	file *vdlctx.File
	kind iterKind

	// ELF_HASH state.
	elfChain   []byte // raw chain[] region of HashTab, 4 bytes per entry
	elfCurrent uint32 // next symbol-table index to test, 0 = exhausted

	// GNU_HASH state.
	gnuChain   []byte // raw chain[] region of GNUHashTab, 4 bytes per entry
	gnuSymOff  uint32
	gnuCurrent uint32
	gnuHasMore bool
}

func newFileIterator(f *vdlctx.File, nameHashElf, nameHashGNU uint32) *fileIterator {
	it := &fileIterator{file: f, kind: noSym}
	if len(f.SymTab) == 0 {
		return it
	}

	if len(f.GNUHashTab) >= 16 {
		if head, symoff, ok := gnuBucketStart(f.GNUHashTab, nameHashGNU); ok {
			it.kind = gnuHashIter
			it.gnuChain = gnuChainBytes(f.GNUHashTab)
			it.gnuSymOff = symoff
			it.gnuCurrent = head
			it.gnuHasMore = true
		}
		return it
	}
	if len(f.HashTab) >= 8 {
		nbucket := binary.LittleEndian.Uint32(f.HashTab[0:4])
		if nbucket == 0 {
			return it
		}
		buckets := f.HashTab[8 : 8+4*nbucket]
		bucketIdx := nameHashElf % nbucket
		head := binary.LittleEndian.Uint32(buckets[bucketIdx*4 : bucketIdx*4+4])
		it.kind = elfHashIter
		it.elfChain = f.HashTab[8+4*nbucket:]
		it.elfCurrent = head
		return it
	}
	return it
}

// gnuBucketStart tests the Bloom filter, then returns the first symbol
// index in the matching bucket's chain, or ok=false if the name is
// provably absent from this file.
func gnuBucketStart(table []byte, h uint32) (head, symoffset uint32, ok bool) {
	nbuckets := binary.LittleEndian.Uint32(table[0:4])
	symoffset = binary.LittleEndian.Uint32(table[4:8])
	maskwords := binary.LittleEndian.Uint32(table[8:12])
	shift2 := binary.LittleEndian.Uint32(table[12:16])
	if nbuckets == 0 || maskwords == 0 {
		return 0, symoffset, false
	}

	const nativeClass = 64 // x86-64 word size; the i386 backend's own GNU hash tables use 32
	bloomOff := 16
	bloom := table[bloomOff : bloomOff+int(maskwords)*8]

	hashbit1 := h % nativeClass
	hashbit2 := (h >> shift2) % nativeClass
	wordIdx := (h / nativeClass) % maskwords
	word := binary.LittleEndian.Uint64(bloom[wordIdx*8 : wordIdx*8+8])
	mask := (uint64(1) << hashbit1) | (uint64(1) << hashbit2)
	if word&mask != mask {
		return 0, symoffset, false
	}

	bucketsOff := bloomOff + int(maskwords)*8
	buckets := table[bucketsOff : bucketsOff+int(nbuckets)*4]
	chain := binary.LittleEndian.Uint32(buckets[(h%nbuckets)*4 : (h%nbuckets)*4+4])
	if chain == 0 {
		return 0, symoffset, false
	}
	return chain, symoffset, true
}

func gnuChainBytes(table []byte) []byte {
	nbuckets := binary.LittleEndian.Uint32(table[0:4])
	maskwords := binary.LittleEndian.Uint32(table[8:12])
	bucketsOff := 16 + int(maskwords)*8
	chainOff := bucketsOff + int(nbuckets)*4
	return table[chainOff:]
}

// next returns the next candidate symbol-table index whose name matches
// exactly and which is a real definition, or ok=false when the chain is
// exhausted.
func (it *fileIterator) next(name string) (index int, ok bool) {
	switch it.kind {
	case elfHashIter:
		for it.elfCurrent != 0 {
			idx := it.elfCurrent
			word := binary.LittleEndian.Uint32(it.elfChain[idx*4 : idx*4+4])
			it.elfCurrent = word
			if it.candidateMatches(int(idx), name) {
				return int(idx), true
			}
		}
		return 0, false
	case gnuHashIter:
		for it.gnuHasMore {
			idx := it.gnuCurrent
			word := binary.LittleEndian.Uint32(it.gnuChain[(idx-it.gnuSymOff)*4 : (idx-it.gnuSymOff)*4+4])
			last := word&1 != 0
			if last {
				it.gnuHasMore = false
			} else {
				it.gnuCurrent++
			}
			if it.candidateMatches(int(idx), name) {
				return int(idx), true
			}
		}
		return 0, false
	default:
		return 0, false
	}
}

func (it *fileIterator) candidateMatches(idx int, name string) bool {
	if idx < 0 || idx >= len(it.file.SymTab) {
		return false
	}
	s := it.file.SymTab[idx]
	return s.Defined() && s.Name == name
}
