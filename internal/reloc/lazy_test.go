package reloc

import (
	"debug/elf"
	"encoding/binary"
	"testing"
	"unsafe"

	amd64backend "github.com/elfloader/govdl/internal/arch/amd64"
	"github.com/elfloader/govdl/internal/vdlctx"
)

func addrOfBuf(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func TestRegisterAndLookupPLTBinding(t *testing.T) {
	e := New(amd64backend.Backend, nil, nil)
	f := &vdlctx.File{DisplayName: "libfoo.so"}

	ticket := registerPLTBinding(e, f)
	gotE, gotF, ok := lookupPLTBinding(ticket)
	if !ok || gotE != e || gotF != f {
		t.Fatalf("lookupPLTBinding(%d) = (%v, %v, %v), want (e, f, true)", ticket, gotE, gotF, ok)
	}

	if _, _, ok := lookupPLTBinding(ticket + 1000); ok {
		t.Error("lookupPLTBinding should fail for an unregistered ticket")
	}
}

func TestSetupLazyPLTWiresGOTAndAddsLoadBase(t *testing.T) {
	e := New(amd64backend.Backend, nil, nil)

	const nEntries = 2
	const entsz = 24 // Elf64_Rela
	const loadBase = 0x40000000
	got := make([]byte, (3+nEntries)*8)
	binary.LittleEndian.PutUint64(got[3*8:4*8], 0x1006) // back-pointer to PLT1+6
	binary.LittleEndian.PutUint64(got[4*8:5*8], 0x1016) // back-pointer to PLT2+6

	f := &vdlctx.File{
		DisplayName: "libfoo.so",
		Class:       elf.ELFCLASS64,
		LoadBase:    loadBase,
		Dynamic: map[elf.DynTag][]uint64{
			elf.DT_PLTGOT:   {addrOfBuf(got) - loadBase},
			elf.DT_JMPREL:   {0x2000},
			elf.DT_PLTREL:   {uint64(elf.DT_RELA)},
			elf.DT_PLTRELSZ: {nEntries * entsz},
		},
	}

	if err := e.setupLazyPLT(f); err != nil {
		t.Fatalf("setupLazyPLT: %v", err)
	}

	ticket := binary.LittleEndian.Uint64(got[1*8 : 2*8])
	if gotE, gotF, ok := lookupPLTBinding(ticket); !ok || gotE != e || gotF != f {
		t.Errorf("GOT[1] ticket %d does not resolve back to (e, f): (%v, %v, %v)", ticket, gotE, gotF, ok)
	}
	if v := binary.LittleEndian.Uint64(got[2*8 : 3*8]); v != uint64(pltResolveEntryAddr()) {
		t.Errorf("GOT[2] = %#x, want the resolver trampoline address %#x", v, pltResolveEntryAddr())
	}
	if v := binary.LittleEndian.Uint64(got[3*8 : 4*8]); v != 0x1006+f.LoadBase {
		t.Errorf("GOT[3] = %#x, want original back-pointer + load_base = %#x", v, 0x1006+f.LoadBase)
	}
	if v := binary.LittleEndian.Uint64(got[4*8 : 5*8]); v != 0x1016+f.LoadBase {
		t.Errorf("GOT[4] = %#x, want original back-pointer + load_base = %#x", v, 0x1016+f.LoadBase)
	}
}

func TestSetupLazyPLTRejectsPrelinkedGOT(t *testing.T) {
	e := New(amd64backend.Backend, nil, nil)

	got := make([]byte, 3*8)
	binary.LittleEndian.PutUint64(got[1*8:2*8], 0xdeadbeef) // already-nonzero GOT[1]

	f := &vdlctx.File{
		DisplayName: "prelinked.so",
		Class:       elf.ELFCLASS64,
		LoadBase:    0,
		Dynamic: map[elf.DynTag][]uint64{
			elf.DT_PLTGOT:   {addrOfBuf(got)},
			elf.DT_JMPREL:   {0x2000},
			elf.DT_PLTREL:   {uint64(elf.DT_RELA)},
			elf.DT_PLTRELSZ: {24},
		},
	}

	if err := e.setupLazyPLT(f); err == nil {
		t.Fatal("setupLazyPLT should reject a GOT whose GOT[1] is already nonzero")
	}
}
