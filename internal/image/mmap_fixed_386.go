//go:build 386

package image

import "golang.org/x/sys/unix"

// mmapAt issues the raw mmap2(2) syscall with an explicit address hint.
// 386's plain SYS_MMAP takes a pointer to an argument struct rather than
// register arguments; SYS_MMAP2 keeps the same six-register shape as
// amd64's mmap and differs only in taking a page-shifted offset, which
// is always 0 for the anonymous, zero-offset mappings this package makes.
func mmapAt(addr uintptr, length int, prot, flags int) (uintptr, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP2, addr, uintptr(length), uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return r1, nil
}
