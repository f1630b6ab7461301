package vdlctx

import "testing"

func TestFindLoadedByDisplayName(t *testing.T) {
	e := NewEngine()
	ctx := NewContext(e)

	f := e.NewFile()
	f.DisplayName = "libc.so.6"
	ctx.AddLoaded(f.ID)

	got := ctx.FindLoaded("libc.so.6")
	if got == nil || got.ID != f.ID {
		t.Fatalf("FindLoaded did not find %s", f.DisplayName)
	}
	if ctx.FindLoaded("libm.so.6") != nil {
		t.Fatal("FindLoaded found a file that was never added")
	}
}

func TestFindByDevIno(t *testing.T) {
	e := NewEngine()
	ctx := NewContext(e)

	f := e.NewFile()
	f.Dev, f.Ino = 8, 1234
	ctx.AddLoaded(f.ID)

	if got := ctx.FindByDevIno(8, 1234); got == nil || got.ID != f.ID {
		t.Fatal("FindByDevIno did not find the matching file")
	}
	if ctx.FindByDevIno(8, 9999) != nil {
		t.Fatal("FindByDevIno matched the wrong inode")
	}
}

func TestRemoveLoadedAndEmpty(t *testing.T) {
	e := NewEngine()
	ctx := NewContext(e)
	f := e.NewFile()
	ctx.AddLoaded(f.ID)

	if ctx.Empty() {
		t.Fatal("context should not be empty after AddLoaded")
	}
	ctx.RemoveLoaded(f.ID)
	if !ctx.Empty() {
		t.Fatal("context should be empty after RemoveLoaded of its only file")
	}
}

func TestRemoveFromGlobalScope(t *testing.T) {
	e := NewEngine()
	ctx := NewContext(e)
	a := e.NewFile()
	b := e.NewFile()
	ctx.GlobalScope = []FileID{a.ID, b.ID}

	ctx.removeFromGlobalScope(a.ID)

	if len(ctx.GlobalScope) != 1 || ctx.GlobalScope[0] != b.ID {
		t.Fatalf("GlobalScope = %v, want [%d]", ctx.GlobalScope, b.ID)
	}
}
