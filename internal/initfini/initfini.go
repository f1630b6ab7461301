// Package initfini sequences DT_INIT/DT_INIT_ARRAY constructor calls and
// DT_FINI/DT_FINI_ARRAY destructor calls across a file set (spec §4.6),
// in dependency order, skipping the main executable's own constructors
// (its startup code already runs them) and any file already marked
// called.
package initfini

import (
	"debug/elf"
	"encoding/binary"
	"sort"
	"unsafe"

	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// Runner calls constructors/destructors for a Context's files.
type Runner struct {
	WordSize int // 8 on amd64, 4 on i386; selects the DT_INIT_ARRAY entry stride
}

// New creates a Runner for the given pointer width.
func New(wordSize int) *Runner { return &Runner{WordSize: wordSize} }

// CallInit runs DT_INIT then DT_INIT_ARRAY for every file in files that
// hasn't already run its constructors, processed in increasing depth
// reversed (dependencies before dependents) so a dependency's globals
// are ready before a dependent's constructor runs.
func (r *Runner) CallInit(ctx *vdlctx.Context, files []*vdlctx.File) {
	ordered := depthReversed(files)
	for _, f := range ordered {
		r.callInit(ctx, f)
	}
}

func (r *Runner) callInit(ctx *vdlctx.Context, f *vdlctx.File) {
	if f.Status.InitCalled {
		return
	}
	f.Status.InitCalled = true
	if f.Status.IsExecutable {
		// The executable's own startup code (crt0) runs its constructors;
		// running them here would duplicate that work.
		return
	}

	argc := uintptr(ctx.Argc)
	argv := strArrAddr(ctx.Argv, r.WordSize)
	envp := strArrAddr(ctx.Envp, r.WordSize)

	if addr, ok := firstDyn(f, elf.DT_INIT); ok && addr != 0 {
		callInit3(uintptr(f.LoadBase+addr), argc, argv, envp)
	}
	if addr, ok := firstDyn(f, elf.DT_INIT_ARRAY); ok && addr != 0 {
		size, _ := firstDyn(f, elf.DT_INIT_ARRAYSZ)
		for _, fn := range r.readFnArray(f.LoadBase+addr, size) {
			callInit3(uintptr(fn), argc, argv, envp)
		}
	}

	ctx.Notify(f, vdlctx.EventConstructed)
}

// CallFini runs DT_FINI_ARRAY then DT_FINI for every file in files that
// was initialized and hasn't already run its destructors. Order within
// the list does not matter per the reference loader's own comment, so
// the caller's order (typically GC's finalize order) is preserved as-is.
func (r *Runner) CallFini(ctx *vdlctx.Context, files []*vdlctx.File) {
	for _, f := range files {
		r.callFini(ctx, f)
	}
}

func (r *Runner) callFini(ctx *vdlctx.Context, f *vdlctx.File) {
	if f.Status.FiniCalled {
		return
	}
	if !f.Status.InitCalled {
		return
	}
	f.Status.FiniCalled = true

	if addr, ok := firstDyn(f, elf.DT_FINI_ARRAY); ok && addr != 0 {
		size, _ := firstDyn(f, elf.DT_FINI_ARRAYSZ)
		for _, fn := range r.readFnArray(f.LoadBase+addr, size) {
			callFini0(uintptr(fn))
		}
	}
	if addr, ok := firstDyn(f, elf.DT_FINI); ok && addr != 0 {
		callFini0(uintptr(f.LoadBase + addr))
	}

	ctx.Notify(f, vdlctx.EventDestroyed)
}

func (r *Runner) readFnArray(addr, size uint64) []uint64 {
	if size == 0 {
		return nil
	}
	buf := image.At(addr, int(size))
	stride := uint64(r.WordSize)
	out := make([]uint64, 0, size/stride)
	for off := uint64(0); off+stride <= size; off += stride {
		if r.WordSize == 8 {
			out = append(out, binary.LittleEndian.Uint64(buf[off:off+8]))
		} else {
			out = append(out, uint64(binary.LittleEndian.Uint32(buf[off:off+4])))
		}
	}
	return out
}

// depthReversed sorts files by increasing Depth then reverses, matching
// vdl_sort_increasing_depth followed by vdl_file_list_reverse: leaves
// (deepest dependencies) run their constructors first.
func depthReversed(files []*vdlctx.File) []*vdlctx.File {
	ordered := append([]*vdlctx.File{}, files...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Depth < ordered[j].Depth })
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}

func firstDyn(f *vdlctx.File, tag elf.DynTag) (uint64, bool) {
	vs := f.Dynamic[tag]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

// pinned keeps every argv/envp allocation strArrAddr hands out to native
// code reachable for the life of the process: once a constructor stores
// __libc_argv/__environ, nothing in Go's object graph points back at
// these slices, and the garbage collector would otherwise be free to
// reclaim them out from under the native code still holding their address.
var pinned [][]byte

// strArrAddr packs a []string into a NUL-terminated argv/envp-style
// array of C string pointers in freshly allocated, GC-pinned memory,
// returning its address, for passing to a native DT_INIT function
// expecting the C calling convention's (argc, argv, envp).
func strArrAddr(ss []string, wordSize int) uintptr {
	ptrBuf := make([]byte, (len(ss)+1)*wordSize)
	pinned = append(pinned, ptrBuf)

	for i, s := range ss {
		b := make([]byte, len(s)+1)
		copy(b, s)
		pinned = append(pinned, b)
		putWord(ptrBuf[i*wordSize:], uint64(addrOfBytes(b)), wordSize)
	}
	return addrOfBytes(ptrBuf)
}

func putWord(buf []byte, v uint64, wordSize int) {
	if wordSize == 8 {
		binary.LittleEndian.PutUint64(buf, v)
	} else {
		binary.LittleEndian.PutUint32(buf, uint32(v))
	}
}

func addrOfBytes(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
