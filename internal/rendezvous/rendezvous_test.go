package rendezvous

import (
	"encoding/binary"
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

func TestNewInitialState(t *testing.T) {
	e := vdlctx.NewEngine()
	r := New(e)

	if r.Addr() == 0 {
		t.Fatal("Addr() should be nonzero after New")
	}
	version := binary.LittleEndian.Uint32(r.buf[offVersion:])
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	state := binary.LittleEndian.Uint32(r.buf[offState:])
	if vdlctx.RendezvousState(state) != vdlctx.RStateConsistent {
		t.Errorf("initial state = %d, want RStateConsistent", state)
	}
}

func TestSetBreakpointWritesBrk(t *testing.T) {
	e := vdlctx.NewEngine()
	r := New(e)
	r.SetBreakpoint(0xdeadbeef)

	if r.BreakpointAddr != 0xdeadbeef {
		t.Errorf("BreakpointAddr = %#x, want 0xdeadbeef", r.BreakpointAddr)
	}
	brk := binary.LittleEndian.Uint64(r.buf[offBrk:])
	if brk != 0xdeadbeef {
		t.Errorf("brk field = %#x, want 0xdeadbeef", brk)
	}
}

func TestNotifyAddDeleteTransitions(t *testing.T) {
	e := vdlctx.NewEngine()
	r := New(e)

	r.NotifyAdd()
	if e.RState != vdlctx.RStateAdd {
		t.Errorf("RState = %v, want RStateAdd", e.RState)
	}
	state := binary.LittleEndian.Uint32(r.buf[offState:])
	if vdlctx.RendezvousState(state) != vdlctx.RStateAdd {
		t.Errorf("buf state = %d, want RStateAdd", state)
	}

	r.NotifyDelete()
	if e.RState != vdlctx.RStateDelete {
		t.Errorf("RState = %v, want RStateDelete", e.RState)
	}

	// BreakpointAddr is still 0 here, so NotifyConsistent must not try to
	// call through it.
	r.NotifyConsistent()
	if e.RState != vdlctx.RStateConsistent {
		t.Errorf("RState = %v, want RStateConsistent", e.RState)
	}
}

func TestSetLinkMapHead(t *testing.T) {
	e := vdlctx.NewEngine()
	r := New(e)
	r.SetLinkMapHead(0x1234)

	got := binary.LittleEndian.Uint64(r.buf[offMap:])
	if got != 0x1234 {
		t.Errorf("map field = %#x, want 0x1234", got)
	}
}
