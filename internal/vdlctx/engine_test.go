package vdlctx

import "testing"

func TestAppendLinkMapOrder(t *testing.T) {
	e := NewEngine()
	a := e.NewFile()
	a.DisplayName = "a.so"
	b := e.NewFile()
	b.DisplayName = "b.so"
	c := e.NewFile()
	c.DisplayName = "c.so"

	e.AppendLinkMap(a)
	e.AppendLinkMap(b)
	e.AppendLinkMap(c)

	if e.LinkMapHead != a.ID {
		t.Fatalf("LinkMapHead = %d, want %d", e.LinkMapHead, a.ID)
	}
	if a.Next != b.ID || b.Prev != a.ID {
		t.Fatalf("a/b not linked: a.Next=%d b.Prev=%d", a.Next, b.Prev)
	}
	if b.Next != c.ID || c.Prev != b.ID {
		t.Fatalf("b/c not linked: b.Next=%d c.Prev=%d", b.Next, c.Prev)
	}
	if c.Next != 0 {
		t.Fatalf("c.Next = %d, want 0 (tail)", c.Next)
	}
}

func TestRemoveLinkMapMiddle(t *testing.T) {
	e := NewEngine()
	a := e.NewFile()
	b := e.NewFile()
	c := e.NewFile()
	e.AppendLinkMap(a)
	e.AppendLinkMap(b)
	e.AppendLinkMap(c)

	e.RemoveLinkMap(b.ID)

	if e.File(b.ID) != nil {
		t.Fatal("removed file still present in arena")
	}
	if a.Next != c.ID {
		t.Fatalf("a.Next = %d, want %d", a.Next, c.ID)
	}
	if c.Prev != a.ID {
		t.Fatalf("c.Prev = %d, want %d", c.Prev, a.ID)
	}
}

func TestRemoveLinkMapHead(t *testing.T) {
	e := NewEngine()
	a := e.NewFile()
	b := e.NewFile()
	e.AppendLinkMap(a)
	e.AppendLinkMap(b)

	e.RemoveLinkMap(a.ID)

	if e.LinkMapHead != b.ID {
		t.Fatalf("LinkMapHead = %d, want %d", e.LinkMapHead, b.ID)
	}
	if b.Prev != 0 {
		t.Fatalf("b.Prev = %d, want 0", b.Prev)
	}
}

func TestFileUnknownID(t *testing.T) {
	e := NewEngine()
	if e.File(0) != nil {
		t.Fatal("File(0) should be nil")
	}
	if e.File(999) != nil {
		t.Fatal("File(unknown) should be nil")
	}
}
