package tls

import (
	"debug/elf"
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

func TestAlignUp(t *testing.T) {
	cases := []struct{ v, align, want uint64 }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{9, 8, 16},
		{5, 1, 5},
		{5, 0, 5},
	}
	for _, c := range cases {
		if got := alignUp(c.v, c.align); got != c.want {
			t.Errorf("alignUp(%d, %d) = %d, want %d", c.v, c.align, got, c.want)
		}
	}
}

func TestInitializeFileNoTLS(t *testing.T) {
	e := vdlctx.NewEngine()
	m := New(e)
	f := e.NewFile()
	e.AppendLinkMap(f)

	m.InitializeFile(f, nil)

	if f.Status.HasTLS {
		t.Error("HasTLS should be false when pt is nil")
	}
	if !f.Status.TLSInitialized {
		t.Error("TLSInitialized should be true after InitializeFile")
	}
}

func TestInitializeFileAssignsModuleIndex(t *testing.T) {
	e := vdlctx.NewEngine()
	m := New(e)
	exe := e.NewFile()
	exe.Status.IsExecutable = true
	e.AppendLinkMap(exe)
	lib := e.NewFile()
	e.AppendLinkMap(lib)

	pt := &elf.Prog{ProgHeader: elf.ProgHeader{Vaddr: 0x1000, Filesz: 16, Memsz: 32, Align: 8}}

	m.InitializeAll([]*vdlctx.File{lib, exe}, func(f *vdlctx.File) *elf.Prog { return pt })

	if exe.TLS.ModuleIndex != 1 {
		t.Errorf("executable should claim module index 1, got %d", exe.TLS.ModuleIndex)
	}
	if lib.TLS.ModuleIndex == exe.TLS.ModuleIndex {
		t.Error("lib and exe should not share a module index")
	}
	if lib.TLS.ModuleIndex == 0 {
		t.Error("lib should have been assigned a nonzero module index")
	}
}

func TestDeinitializeFileBumpsGenerationOnlyWithTLS(t *testing.T) {
	e := vdlctx.NewEngine()
	m := New(e)
	f := e.NewFile()
	e.AppendLinkMap(f)

	m.InitializeFile(f, nil) // no TLS
	gen := e.TLSGeneration
	m.DeinitializeFile(f)
	if e.TLSGeneration != gen {
		t.Error("DeinitializeFile should not bump generation for a file with no TLS")
	}

	pt := &elf.Prog{ProgHeader: elf.ProgHeader{Vaddr: 0, Filesz: 8, Memsz: 8, Align: 8}}
	f2 := e.NewFile()
	e.AppendLinkMap(f2)
	m.InitializeFile(f2, pt)
	gen2 := e.TLSGeneration
	m.DeinitializeFile(f2)
	if e.TLSGeneration != gen2+1 {
		t.Errorf("DeinitializeFile should bump generation for a file with TLS: got %d, want %d", e.TLSGeneration, gen2+1)
	}
}

func TestHasStatic(t *testing.T) {
	staticFile := &vdlctx.File{}
	staticFile.Status.HasTLS = true
	staticFile.Status.TLSIsStatic = true

	dynamicFile := &vdlctx.File{}
	dynamicFile.Status.HasTLS = true

	if !HasStatic([]*vdlctx.File{dynamicFile, staticFile}) {
		t.Error("HasStatic should be true when any file is static")
	}
	if HasStatic([]*vdlctx.File{dynamicFile}) {
		t.Error("HasStatic should be false when no file is static")
	}
}

func TestLayoutStaticOffsetsAndSize(t *testing.T) {
	a := &vdlctx.File{}
	a.Status.HasTLS = true
	a.Status.TLSIsStatic = true
	a.TLS.Size, a.TLS.ZeroSize, a.TLS.Align = 16, 0, 8

	b := &vdlctx.File{}
	b.Status.HasTLS = true
	b.Status.TLSIsStatic = true
	b.TLS.Size, b.TLS.ZeroSize, b.TLS.Align = 4, 4, 16

	e := vdlctx.NewEngine()
	m := New(e)
	m.LayoutStatic([]*vdlctx.File{a, b})

	if a.TLS.Offset != -16 {
		t.Errorf("a.TLS.Offset = %d, want -16", a.TLS.Offset)
	}
	// b's block is 8 bytes, aligned up to 16 from a running total of 16: 32.
	if b.TLS.Offset != -32 {
		t.Errorf("b.TLS.Offset = %d, want -32", b.TLS.Offset)
	}
	if e.TLSStaticAlign != 16 {
		t.Errorf("TLSStaticAlign = %d, want 16", e.TLSStaticAlign)
	}
	if e.TLSStaticSize != 32 {
		t.Errorf("TLSStaticSize = %d, want 32", e.TLSStaticSize)
	}
}

func TestGetAddrFastRejectsStaleGeneration(t *testing.T) {
	ts := &ThreadState{dtv: []DTV{{}, {Value: 0x1000}}, gen: 1}

	if addr, ok := ts.GetAddrFast(1, 1); !ok || addr != 0x1000 {
		t.Fatalf("GetAddrFast(1, 1) = (%#x, %v), want (0x1000, true) when generations match", addr, ok)
	}
	if _, ok := ts.GetAddrFast(1, 2); ok {
		t.Error("GetAddrFast should refuse a populated slot once the engine's generation has moved past the thread's cached one, even though dtv[module].Value is still nonzero")
	}
}

func TestGetAddrFastOutOfRangeOrEmpty(t *testing.T) {
	ts := &ThreadState{dtv: []DTV{{}, {Value: 0}}, gen: 1}

	if _, ok := ts.GetAddrFast(5, 1); ok {
		t.Error("GetAddrFast should fail for a module index beyond the dtv")
	}
	if _, ok := ts.GetAddrFast(1, 1); ok {
		t.Error("GetAddrFast should fail for an unpopulated slot")
	}
}
