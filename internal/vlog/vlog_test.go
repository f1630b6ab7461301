package vlog

import (
	"sync"
	"testing"
)

func TestHasChecksTokenAndDebugFallback(t *testing.T) {
	l := New("reloc:symbol-fail")
	if !l.Has("reloc") {
		t.Error("Has(reloc) should be true when reloc is in the token set")
	}
	if l.Has("symbol-ok") {
		t.Error("Has(symbol-ok) should be false when it's not in the token set and debug is off")
	}

	dbg := New("debug")
	if !dbg.Has("symbol-ok") {
		t.Error("Has should return true for any token when debug is set")
	}
}

func TestHasOnNilLoggerIsFalse(t *testing.T) {
	var l *Logger
	if l.Has("debug") {
		t.Error("Has on a nil *Logger should be false, not panic")
	}
}

func TestNewNopNeverPanicsOnHelpers(t *testing.T) {
	l := NewNop()
	l.SymbolOK("a.out", "malloc", "libc.so.6", 0x1000)
	l.SymbolFail("a.out", "missing_symbol")
	l.Reloc("a.out", 8, 0x2000, "printf")
}

func TestHexFormatting(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{0, "0x0"},
		{255, "0xff"},
		{0x1000, "0x1000"},
		{0xdeadbeef, "0xdeadbeef"},
	}
	for _, c := range cases {
		if got := Hex(c.in); got != c.want {
			t.Errorf("Hex(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestInitIsOnceOnly(t *testing.T) {
	L = nil
	once = sync.Once{}
	Init("debug")
	first := L
	Init("reloc")
	if L != first {
		t.Error("a second Init call should not replace the global logger")
	}
}
