package image

import "unsafe"

// At returns a byte slice aliasing size bytes of real process memory
// starting at the virtual address addr. Every address the linker deals
// with after mapping was handed out by this package's own mmap calls, so
// this is the one place the unsafe.Pointer arithmetic needed to treat an
// ELF virtual address as live memory is allowed to live.
func At(addr uint64, size int) []byte {
	if size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
}
