package symbol

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

// elfHashFile builds a File whose DT_HASH bucket 0 (reached regardless of
// the query's actual ELF hash, since nbucket is fixed at 1) chains
// through chainIdx in order, terminating after the last entry. symTab is
// index-aligned with the file's real symbol table (index 0 is always
// STN_UNDEF).
func elfHashFile(chainIdx []uint32, symTab []vdlctx.Sym, verSym []uint16) *vdlctx.File {
	nchain := uint32(len(symTab))
	hashTab := make([]byte, 8+4+4*int(nchain))
	binary.LittleEndian.PutUint32(hashTab[0:4], 1)      // nbucket
	binary.LittleEndian.PutUint32(hashTab[4:8], nchain) // nchain
	binary.LittleEndian.PutUint32(hashTab[8:12], chainIdx[0])
	chain := hashTab[12:]
	for i, idx := range chainIdx {
		var next uint32
		if i+1 < len(chainIdx) {
			next = chainIdx[i+1]
		}
		binary.LittleEndian.PutUint32(chain[idx*4:idx*4+4], next)
	}

	return &vdlctx.File{
		DisplayName: "libfoo.so",
		HashTab:     hashTab,
		SymTab:      symTab,
		VerSym:      verSym,
	}
}

func definedSym(name string) vdlctx.Sym {
	return vdlctx.Sym{Name: name, Shndx: 1, Info: byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)}
}

func TestLookupSingleAmbiguousMatchResolves(t *testing.T) {
	symTab := []vdlctx.Sym{{}, definedSym("foo")}
	f := elfHashFile([]uint32{1}, symTab, []uint16{0, 2}) // index 1's VERSYM (2) isn't VER_NDX_GLOBAL
	res, ok := Lookup(nil, "foo", VersionSpec{}, 0, []*vdlctx.File{f}, nil)
	if !ok || res.SymIdx != 1 {
		t.Fatalf("Lookup = (%+v, %v), want the sole ambiguous candidate at index 1", res, ok)
	}
}

func TestLookupAmbiguousThenPerfectStopsAtPerfect(t *testing.T) {
	symTab := []vdlctx.Sym{{}, definedSym("foo"), definedSym("foo")}
	f := elfHashFile([]uint32{1, 2}, symTab, []uint16{0, 2, 1}) // index 2 is VER_NDX_GLOBAL
	res, ok := Lookup(nil, "foo", VersionSpec{}, 0, []*vdlctx.File{f}, nil)
	if !ok || res.SymIdx != 2 {
		t.Fatalf("Lookup = (%+v, %v), want the perfect match at index 2", res, ok)
	}
}

func TestLookupDoubleAmbiguousMatchDoesNotCrashWithNilLogger(t *testing.T) {
	// Neither candidate's VERSYM index is 1 (VER_NDX_GLOBAL), so both
	// count as ambiguous: a real symbol-table inconsistency. With a nil
	// logger the fatal assertion is a no-op, so Lookup still returns the
	// last ambiguous candidate rather than panicking.
	symTab := []vdlctx.Sym{{}, definedSym("foo"), definedSym("foo")}
	f := elfHashFile([]uint32{1, 2}, symTab, []uint16{0, 2, 3})
	res, ok := Lookup(nil, "foo", VersionSpec{}, 0, []*vdlctx.File{f}, nil)
	if !ok || res.SymIdx != 2 {
		t.Fatalf("Lookup = (%+v, %v), want the last ambiguous candidate at index 2", res, ok)
	}
}

func TestLookupNoMatchReturnsFalse(t *testing.T) {
	symTab := []vdlctx.Sym{{}, definedSym("foo")}
	f := elfHashFile([]uint32{1}, symTab, []uint16{0, 1})
	_, ok := Lookup(nil, "bar", VersionSpec{}, 0, []*vdlctx.File{f}, nil)
	if ok {
		t.Error("Lookup should fail for a name absent from every scope file")
	}
}
