package runtime

import (
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

func TestVSymInvalidHandle(t *testing.T) {
	e := vdlctx.NewEngine()
	rt := &Runtime{Engine: e, Log: nil}
	rt.Log = nil

	_, ok := rt.Sym(999, "malloc")
	if ok {
		t.Fatal("Sym with an unknown handle should fail")
	}
	if got := rt.LastError(); got == "" {
		t.Error("LastError should be set after a failed Sym lookup")
	}
}

func TestCloseUnknownHandle(t *testing.T) {
	e := vdlctx.NewEngine()
	rt := &Runtime{Engine: e}

	err := rt.Close(vdlctx.NewContext(e), 999)
	if err == nil {
		t.Fatal("Close on an unknown handle should return an error")
	}
}

func TestAddrFindsContainingFile(t *testing.T) {
	e := vdlctx.NewEngine()
	rt := &Runtime{Engine: e}

	f := e.NewFile()
	f.DisplayName = "libfoo.so"
	f.RO.MemRange = vdlctx.AddrRange{Start: 0x1000, Size: 0x1000}
	f.RW.MemRange = vdlctx.AddrRange{Start: 0x2000, Size: 0x1000}
	e.AppendLinkMap(f)

	got, ok := rt.Addr(0x1500)
	if !ok || got.ID != f.ID {
		t.Fatalf("Addr(0x1500) = (%v, %v), want f", got, ok)
	}

	_, ok = rt.Addr(0x5000)
	if ok {
		t.Error("Addr outside every file's range should not match")
	}
}

func TestIteratePhdrStopsEarly(t *testing.T) {
	e := vdlctx.NewEngine()
	rt := &Runtime{Engine: e}

	a := e.NewFile()
	a.DisplayName = "a.out"
	b := e.NewFile()
	b.DisplayName = "libfoo.so"
	e.AppendLinkMap(a)
	e.AppendLinkMap(b)

	var seen []string
	result := rt.IteratePhdr(func(info PhdrInfo) int {
		seen = append(seen, info.Name)
		return 1
	})
	if result != 1 {
		t.Errorf("IteratePhdr result = %d, want 1", result)
	}
	if len(seen) != 1 || seen[0] != "a.out" {
		t.Errorf("IteratePhdr should stop after the first nonzero callback result: seen = %v", seen)
	}
}

func TestIteratePhdrVisitsAll(t *testing.T) {
	e := vdlctx.NewEngine()
	rt := &Runtime{Engine: e}
	a := e.NewFile()
	a.DisplayName = "a.out"
	b := e.NewFile()
	b.DisplayName = "libfoo.so"
	e.AppendLinkMap(a)
	e.AppendLinkMap(b)

	var seen []string
	result := rt.IteratePhdr(func(info PhdrInfo) int {
		seen = append(seen, info.Name)
		return 0
	})
	if result != 0 {
		t.Errorf("IteratePhdr result = %d, want 0", result)
	}
	if len(seen) != 2 {
		t.Errorf("IteratePhdr should visit every file when the callback always returns 0: seen = %v", seen)
	}
}

func TestSetLastErrorRoundTrip(t *testing.T) {
	e := vdlctx.NewEngine()
	rt := &Runtime{Engine: e}

	rt.SetError("undefined symbol: foo")
	if got := rt.LastError(); got != "undefined symbol: foo" {
		t.Errorf("LastError = %q, want the message just set", got)
	}
	// LastError clears on read.
	if got := rt.LastError(); got != "" {
		t.Errorf("second LastError call = %q, want empty after the first read cleared it", got)
	}
}
