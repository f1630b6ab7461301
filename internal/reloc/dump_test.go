package reloc

import "testing"

func TestLeUint64(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	got := leUint64(b)
	want := uint64(0x0807060504030201)
	if got != want {
		t.Errorf("leUint64 = %#x, want %#x", got, want)
	}
}

func TestLeUint32(t *testing.T) {
	b := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	got := leUint32(b)
	want := uint32(0xDDCCBBAA)
	if got != want {
		t.Errorf("leUint32 = %#x, want %#x", got, want)
	}
}
