package libchook

import (
	"encoding/binary"
	"unsafe"

	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/runtime"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// glibc's RTLD_* bit values, as seen by __libc_dlopen_mode's mode
// argument.
const (
	rtldLazy   = 0x0
	rtldNow    = 0x2
	rtldGlobal = 0x100
)

// dlopenModeImpl backs __libc_dlopen_mode, called by glibc internals
// (NSS modules, iconv, nss_dns) rather than application code, so it
// always targets the active runtime's default context.
func dlopenModeImpl(filenamePtr, mode uintptr) uintptr {
	if active.rt == nil {
		return 0
	}
	path := cString(filenamePtr)
	if path == "" {
		return 0
	}
	var flags runtime.Flags
	if mode&rtldNow != 0 {
		flags |= runtime.Now
	}
	if mode&rtldGlobal != 0 {
		flags |= runtime.Global
	}
	id, err := active.rt.Open(active.ctx, path, flags)
	if err != nil {
		return 0
	}
	return uintptr(id)
}

func dlcloseImpl(handle uintptr) uintptr {
	if active.rt == nil {
		return 1
	}
	if err := active.rt.Close(active.ctx, vdlctx.FileID(handle)); err != nil {
		return 1
	}
	return 0
}

func dlsymImpl(handle, symbolPtr uintptr) uintptr {
	if active.rt == nil {
		return 0
	}
	name := cString(symbolPtr)
	if name == "" {
		return 0
	}
	addr, ok := active.rt.Sym(vdlctx.FileID(handle), name)
	if !ok {
		return 0
	}
	return uintptr(addr)
}

// dlInfo mirrors glibc's struct Dl_info: four pointer-sized fields, in
// order, no padding.
const (
	dlInfoFname = 0
	dlInfoFbase = 1
	dlInfoSname = 2
	dlInfoSaddr = 3
)

// dlAddrImpl backs _dl_addr, used by malloc to find ptmalloc_init and by
// backtrace-style diagnostics to map a return address to its owning
// file. mapp/symbolp are accepted for signature compatibility with
// _dl_addr_hack but never written: no caller in this loader's supported
// surface dereferences them.
func dlAddrImpl(address, info, mapp, symbolp uintptr) uintptr {
	if active.rt == nil || info == 0 {
		return 0
	}
	f, ok := active.rt.Addr(uint64(address))
	if !ok {
		return 0
	}
	wordSize := 8
	if unsafe.Sizeof(uintptr(0)) == 4 {
		wordSize = 4
	}
	buf := image.At(uint64(info), wordSize*4)
	nameAddr := uint64(pinCString(f.DisplayName))
	putWord(buf, dlInfoFname*wordSize, nameAddr, wordSize)
	putWord(buf, dlInfoFbase*wordSize, f.LoadBase, wordSize)
	putWord(buf, dlInfoSname*wordSize, 0, wordSize)
	putWord(buf, dlInfoSaddr*wordSize, 0, wordSize)
	return 1
}

// tlsGetAddrImpl backs __tls_get_addr: tiPtr points at glibc's
// tls_index{module, offset} pair (word-sized fields, native endianness),
// and the result is the resolved address of that module's TLS block plus
// offset, per GetAddrSlow's allocate-or-update-then-retry semantics.
func tlsGetAddrImpl(tiPtr uintptr) uintptr {
	if active.rt == nil || active.ts == nil {
		return 0
	}
	wordSize := 8
	if unsafe.Sizeof(uintptr(0)) == 4 {
		wordSize = 4
	}
	buf := image.At(uint64(tiPtr), wordSize*2)
	var module, offset uint64
	if wordSize == 8 {
		module = binary.LittleEndian.Uint64(buf[0:8])
		offset = binary.LittleEndian.Uint64(buf[8:16])
	} else {
		module = uint64(binary.LittleEndian.Uint32(buf[0:4]))
		offset = uint64(binary.LittleEndian.Uint32(buf[4:8]))
	}

	active.rt.Engine.Mu.Lock()
	addr, err := active.rt.TLS.GetAddrSlow(active.ts, uint32(module), offset)
	active.rt.Engine.Mu.Unlock()
	if err != nil {
		return 0
	}
	return uintptr(addr)
}

func putWord(buf []byte, off int, v uint64, wordSize int) {
	if wordSize == 8 {
		binary.LittleEndian.PutUint64(buf[off:], v)
	} else {
		binary.LittleEndian.PutUint32(buf[off:], uint32(v))
	}
}

// cString reads a NUL-terminated string starting at addr directly out
// of process memory.
func cString(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	const maxLen = 4096
	b := image.At(uint64(addr), maxLen)
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// pinned keeps every C string this package has ever handed out to
// native code permanently reachable, the same hazard and remedy as
// internal/initfini's argv/envp retention.
var pinned [][]byte

func pinCString(s string) uintptr {
	b := make([]byte, len(s)+1)
	copy(b, s)
	pinned = append(pinned, b)
	return uintptr(unsafe.Pointer(&b[0]))
}
