package amd64

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

func TestBackendIdentity(t *testing.T) {
	if Backend.Name() != "amd64" {
		t.Errorf("Name() = %q, want amd64", Backend.Name())
	}
	if Backend.WordSize() != 8 {
		t.Errorf("WordSize() = %d, want 8", Backend.WordSize())
	}
	if Backend.MinJumpInstructionLength() != 5 {
		t.Errorf("MinJumpInstructionLength() = %d, want 5", Backend.MinJumpInstructionLength())
	}
}

func TestIsRelativeIsCopyIsTLS(t *testing.T) {
	if !Backend.IsRelative(rRelative) {
		t.Error("IsRelative(R_X86_64_RELATIVE) should be true")
	}
	if Backend.IsRelative(rCopy) {
		t.Error("IsRelative(R_X86_64_COPY) should be false")
	}
	if !Backend.IsCopy(rCopy) {
		t.Error("IsCopy(R_X86_64_COPY) should be true")
	}
	for _, rt := range []uint32{rTPOff64, rDTPMod64, rDTPOff64} {
		if !Backend.IsTLS(rt) {
			t.Errorf("IsTLS(%d) should be true", rt)
		}
	}
	if Backend.IsTLS(rCopy) {
		t.Error("IsTLS(R_X86_64_COPY) should be false")
	}
}

func TestRelocTypeNameKnownAndUnknown(t *testing.T) {
	if got := Backend.RelocTypeName(rRelative); got != "R_X86_64_RELATIVE" {
		t.Errorf("RelocTypeName(rRelative) = %q", got)
	}
	if got := Backend.RelocTypeName(999); got == "" {
		t.Error("RelocTypeName(unknown) should not be empty")
	}
}

func TestWriteTrampolineEncoding(t *testing.T) {
	buf := make([]byte, 16)
	addr := uint64(uintptr(unsafe.Pointer(&buf[0])))
	target := addr + 100

	n, err := Backend.WriteTrampoline(addr, target)
	if err != nil {
		t.Fatalf("WriteTrampoline error: %v", err)
	}
	if n != 5 {
		t.Fatalf("WriteTrampoline wrote %d bytes, want 5", n)
	}
	if buf[0] != 0xE9 {
		t.Fatalf("buf[0] = %#x, want 0xE9 (jmp rel32)", buf[0])
	}
	rel := int32(binary.LittleEndian.Uint32(buf[1:5]))
	wantRel := int64(target) - (int64(addr) + 5)
	if int64(rel) != wantRel {
		t.Errorf("encoded rel32 = %d, want %d", rel, wantRel)
	}
}
