package reloc

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

func TestDecodeRel64(t *testing.T) {
	f := &vdlctx.File{Class: elf.ELFCLASS64}
	entry := make([]byte, 16)
	binary.LittleEndian.PutUint64(entry[0:8], 0x401020)
	info := (uint64(7) << 32) | uint64(8) // symIdx=7, type=8
	binary.LittleEndian.PutUint64(entry[8:16], info)

	offset, symIdx, relType := decodeRel(f, entry)
	if offset != 0x401020 {
		t.Errorf("offset = %#x, want 0x401020", offset)
	}
	if symIdx != 7 {
		t.Errorf("symIdx = %d, want 7", symIdx)
	}
	if relType != 8 {
		t.Errorf("relType = %d, want 8", relType)
	}
}

func TestDecodeRela64(t *testing.T) {
	f := &vdlctx.File{Class: elf.ELFCLASS64}
	entry := make([]byte, 24)
	binary.LittleEndian.PutUint64(entry[0:8], 0x402000)
	info := (uint64(3) << 32) | uint64(6)
	binary.LittleEndian.PutUint64(entry[8:16], info)
	binary.LittleEndian.PutUint64(entry[16:24], uint64(int64(-8)))

	offset, symIdx, relType, addend := decodeRela(f, entry)
	if offset != 0x402000 || symIdx != 3 || relType != 6 {
		t.Errorf("got offset=%#x symIdx=%d relType=%d", offset, symIdx, relType)
	}
	if addend != -8 {
		t.Errorf("addend = %d, want -8", addend)
	}
}

func TestDecodeRel32(t *testing.T) {
	f := &vdlctx.File{Class: elf.ELFCLASS32}
	entry := make([]byte, 8)
	binary.LittleEndian.PutUint32(entry[0:4], 0x08049000)
	info := (uint32(5) << 8) | uint32(2) // symIdx=5, type=2
	binary.LittleEndian.PutUint32(entry[4:8], info)

	offset, symIdx, relType := decodeRel(f, entry)
	if offset != 0x08049000 || symIdx != 5 || relType != 2 {
		t.Errorf("got offset=%#x symIdx=%d relType=%d", offset, symIdx, relType)
	}
}

func TestEntSizes(t *testing.T) {
	f32 := &vdlctx.File{Class: elf.ELFCLASS32}
	f64 := &vdlctx.File{Class: elf.ELFCLASS64}

	if entSizeRel(f32) != 8 {
		t.Errorf("entSizeRel(32) = %d, want 8", entSizeRel(f32))
	}
	if entSizeRel(f64) != 16 {
		t.Errorf("entSizeRel(64) = %d, want 16", entSizeRel(f64))
	}
	if entSizeRela(f32) != 12 {
		t.Errorf("entSizeRela(32) = %d, want 12", entSizeRela(f32))
	}
	if entSizeRela(f64) != 24 {
		t.Errorf("entSizeRela(64) = %d, want 24", entSizeRela(f64))
	}
}

func TestFirstDyn(t *testing.T) {
	f := &vdlctx.File{Dynamic: map[elf.DynTag][]uint64{
		elf.DT_NEEDED: {42, 43},
	}}
	v, ok := firstDyn(f, elf.DT_NEEDED)
	if !ok || v != 42 {
		t.Errorf("firstDyn = (%d, %v), want (42, true)", v, ok)
	}
	if _, ok := firstDyn(f, elf.DT_RUNPATH); ok {
		t.Error("firstDyn should report false for an absent tag")
	}
}

func TestCstrAt(t *testing.T) {
	tab := []byte("\x00libfoo.so\x00libbar.so\x00")
	if got := cstrAt(tab, 1); got != "libfoo.so" {
		t.Errorf("cstrAt(1) = %q, want libfoo.so", got)
	}
	if got := cstrAt(tab, uint32(len(tab))); got != "" {
		t.Errorf("cstrAt(out of range) = %q, want empty", got)
	}
}
