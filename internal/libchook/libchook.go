// Package libchook patches glibc's own public re-entry points
// (__libc_dlopen_mode, __libc_dlclose, __libc_dlsym, _dl_addr) so that
// any code still calling into glibc's built-in dynamic linker support
// — most commonly NSS modules and libpthread's lazy dlopen of
// dependency libraries — is transparently redirected into this
// loader's own Open/Close/Sym/Addr instead. Grounded on glibc_patch/
// do_glibc_patch: resolve each hook's target symbol locally within the
// file being patched, and if present, overwrite its entry with a direct
// jump to our replacement.
package libchook

import (
	"fmt"

	"github.com/elfloader/govdl/internal/arch"
	"github.com/elfloader/govdl/internal/disasm"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/runtime"
	"github.com/elfloader/govdl/internal/symbol"
	"github.com/elfloader/govdl/internal/tls"
	"github.com/elfloader/govdl/internal/vdlctx"
	"github.com/elfloader/govdl/internal/vlog"
)

// hookName is a libc symbol this package knows how to intercept, paired
// with the address of the machine-code entry stub (written in
// entry_amd64.s/entry_386.s) that receives control in the replaced
// function's place.
type hookName struct {
	symbol string
	entry  func() uintptr
}

var hooks = []hookName{
	{"__libc_dlopen_mode", dlopenModeEntryAddr},
	{"__libc_dlclose", dlcloseEntryAddr},
	{"__libc_dlsym", dlsymEntryAddr},
	{"_dl_addr", dlAddrEntryAddr},
	{"__tls_get_addr", tlsGetAddrEntryAddr},
}

// Patcher installs hooks into every newly-loaded file's own libc-style
// re-entry points, the way do_glibc_patch does for each file on the
// link-map.
type Patcher struct {
	Backend arch.Backend
	Log     *vlog.Logger
}

// New creates a Patcher bound to the given architecture backend.
func New(backend arch.Backend, log *vlog.Logger) *Patcher {
	if log == nil {
		log = vlog.NewNop()
	}
	return &Patcher{Backend: backend, Log: log}
}

// PatchAll patches every file in files that hasn't already been
// patched, in the order given; no depth sort is applied, unlike
// glibc_patch's sort-then-reverse-then-iterate sequence. Patch order has
// no correctness dependency here since each file's hooks are independent.
func (p *Patcher) PatchAll(files []*vdlctx.File) error {
	for _, f := range files {
		if err := p.patchOne(f); err != nil {
			return err
		}
	}
	return nil
}

func (p *Patcher) patchOne(f *vdlctx.File) error {
	if f.Status.Patched {
		return nil
	}
	f.Status.Patched = true

	minLen := p.Backend.MinJumpInstructionLength()
	mode := disasm.Mode32
	if p.Backend.WordSize() == 8 {
		mode = disasm.Mode64
	}

	for _, h := range hooks {
		res, ok := symbol.Lookup(f, h.symbol, symbol.VersionSpec{}, 0, []*vdlctx.File{f}, p.Log)
		if !ok {
			continue
		}
		addr := res.File.LoadBase + res.Sym.Value
		if size := res.Sym.Size; size != 0 && size < uint64(minLen) {
			return fmt.Errorf("libchook: %s: %s is too small to patch (st_size %d, %d bytes needed)", f.DisplayName, h.symbol, size, minLen)
		}
		code := image.At(addr, minLen)
		if !disasm.FitsTrampoline(code, mode, minLen) {
			return fmt.Errorf("libchook: %s: %s is too small to patch (%d bytes needed)", f.DisplayName, h.symbol, minLen)
		}
		if _, err := p.Backend.WriteTrampoline(addr, uint64(h.entry())); err != nil {
			return err
		}
		p.Log.Has("debug")
	}
	return nil
}

// Bind wires the hook implementations to a concrete Runtime, so the
// assembly entry stubs' CALL targets (dlopenModeImpl, dlcloseImpl,
// dlsymImpl, dlAddrImpl, tlsGetAddrImpl) have something to dispatch
// into. Must be called once before any patched code can actually be
// hit. ts is the calling thread's TLS state, the same one
// InstallThreadPointer was given; __tls_get_addr has no way to receive
// it except through this binding, since the whole point of hooking it
// is to intercept calls compiled expecting glibc's own ABI.
func Bind(rt *runtime.Runtime, ctx *vdlctx.Context, ts *tls.ThreadState) {
	active = binding{rt: rt, ctx: ctx, ts: ts}
}

type binding struct {
	rt  *runtime.Runtime
	ctx *vdlctx.Context
	ts  *tls.ThreadState
}

var active binding
