//go:build amd64

package image

import "golang.org/x/sys/unix"

// mmapAt issues the raw mmap(2) syscall with an explicit address hint,
// the direct six-register form amd64 Linux exposes (unlike 386's
// page-shifted mmap2). Used only by mmapFixed's MAP_FIXED_NOREPLACE
// path; every other mapping in this package goes through unix.Mmap,
// which never lets a caller choose the address.
func mmapAt(addr uintptr, length int, prot, flags int) (uintptr, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, uintptr(length), uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return r1, nil
}
