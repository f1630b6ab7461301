package bootstrap

import (
	"debug/elf"
	"fmt"
	"os"

	"github.com/elfloader/govdl/internal/arch"
	"github.com/elfloader/govdl/internal/gc"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/initfini"
	"github.com/elfloader/govdl/internal/libchook"
	"github.com/elfloader/govdl/internal/linkerr"
	"github.com/elfloader/govdl/internal/reloc"
	"github.com/elfloader/govdl/internal/rendezvous"
	"github.com/elfloader/govdl/internal/resolver"
	"github.com/elfloader/govdl/internal/runtime"
	"github.com/elfloader/govdl/internal/tls"
	"github.com/elfloader/govdl/internal/vdlctx"
	"github.com/elfloader/govdl/internal/vlog"
)

// Mode distinguishes how this process was started, mirroring
// stage2_initialize's is_loader check.
type Mode int

const (
	// ModeProgram means this binary was invoked directly by a user or
	// shell (`govdl ./target args...`), the way `ld-linux.so.2 ./a.out`
	// can be run by hand. The target has not been mapped by the kernel
	// yet; this package must do it.
	ModeProgram Mode = iota
	// ModeInterpreter means the kernel loaded this binary as another
	// ELF's PT_INTERP: the target executable is already mapped, and its
	// phdr/entry/base are given directly via the auxiliary vector.
	ModeInterpreter
)

// DetectMode compares this process's own ELF entry point against
// AT_ENTRY: if they match, the kernel started this binary as the
// program itself (ModeProgram); if AT_ENTRY points somewhere else, the
// kernel started a separate executable and handed us its phdr/entry as
// its interpreter (ModeInterpreter). This is the auxv-based equivalent
// of is_loader's "is the first phdr's address our own" check — our own
// phdr location isn't fixed at a known link-time constant the way the
// original interpreter's is, so entry-point identity is the portable
// signal available from pure Go.
func DetectMode(auxv Auxv, ownEntry uint64) Mode {
	if auxv[AtEntry] == ownEntry || auxv[AtEntry] == 0 {
		return ModeProgram
	}
	return ModeInterpreter
}

// OwnEntry returns the e_entry field of this running binary's on-disk ELF
// header. No runtime load base is added, so for a position-independent
// build the value differs from the relocated entry point AT_ENTRY
// reports.
func OwnEntry() (uint64, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	f, err := elf.Open(exe)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Entry, nil
}

// Bootstrapper drives the full stage2-equivalent sequence: map the main
// program, resolve its dependency closure, lay out TLS, relocate,
// allocate the calling thread's TCB, wire the debugger rendezvous
// structure, patch libc hooks, and run constructors.
type Bootstrapper struct {
	Runtime  *runtime.Runtime
	Mapper   *image.Mapper
	Resolver *resolver.Resolver
	Reloc    *reloc.Engine
	TLS      *tls.Manager
	Init     *initfini.Runner
	GC       *gc.Collector
	RV       *rendezvous.Rendezvous
	Patcher  *libchook.Patcher
	Backend  arch.Backend
	Log      *vlog.Logger

	// LibraryRemap is installed onto the Context Start creates, before
	// any dependency is resolved, the way internal/config's YAML-sourced
	// table is meant to take effect.
	LibraryRemap map[string]string
}

// New wires a Bootstrapper around an already-constructed Runtime,
// reusing its subsystems rather than duplicating them. backend must be
// the same arch.Backend the Runtime's relocation engine was built with.
func New(rt *runtime.Runtime, backend arch.Backend, patcher *libchook.Patcher, log *vlog.Logger) *Bootstrapper {
	if log == nil {
		log = vlog.NewNop()
	}
	return &Bootstrapper{
		Runtime:  rt,
		Mapper:   rt.Mapper,
		Resolver: rt.Resolver,
		Reloc:    rt.Reloc,
		TLS:      rt.TLS,
		Init:     rt.Init,
		GC:       rt.GC,
		RV:       rt.RV,
		Patcher:  patcher,
		Backend:  backend,
		Log:      log,
	}
}

// Result is what a successful Start hands back to the entry trampoline:
// the target's real entry point and the (possibly argv[0]-trimmed)
// argument list it should see.
type Result struct {
	EntryPoint uint64
	Argv       []string
}

// Start runs the full bootstrap sequence for program mode: map path,
// resolve and relocate its dependency closure, commit the one-time
// static TLS layout, allocate and install this (the only, at this
// point) thread's TCB, wire up the debugger rendezvous structure and
// libc hooks, and run every loaded file's constructors. It mirrors
// stage2_initialize's is_loader==true branch — the ModeInterpreter
// branch (adopting an executable the kernel already mapped, rather
// than mapping it again from disk) is not implemented here; see
// DESIGN.md.
func (b *Bootstrapper) Start(path string, argv, envp []string, sysinfo uint64) (*Result, error) {
	engine := b.Runtime.Engine
	ctx := vdlctx.NewContext(engine)
	ctx.Argc = len(argv)
	ctx.Argv = argv
	ctx.Envp = envp
	for from, to := range b.LibraryRemap {
		ctx.LibraryRemap[from] = to
	}

	engine.Mu.Lock()

	main, err := b.Mapper.Map(ctx, path, "")
	if err != nil {
		engine.Mu.Unlock()
		return nil, err
	}
	main.Status.IsExecutable = true
	main.Lookup = vdlctx.ScopeGlobalOnly
	ctx.AddLoaded(main.ID)
	engine.AppendLinkMap(main)
	b.RV.SetLinkMapHead(uint64(engine.LinkMapHead))

	newlyMapped, err := b.Resolver.Resolve(ctx, main)
	if err != nil {
		engine.Mu.Unlock()
		return nil, err
	}
	all := append([]*vdlctx.File{main}, newlyMapped...)
	for _, f := range all {
		scope := make([]vdlctx.FileID, 0, len(f.Deps)+1)
		scope = append(scope, f.ID)
		scope = append(scope, f.Deps...)
		f.LocalScope = scope
	}

	// The initial program load's global scope is unconditionally
	// main-plus-its-full-dependency-closure — unlike a later dlopen,
	// there is no RTLD_GLOBAL/RTLD_LOCAL choice to make here.
	for _, f := range all {
		ctx.GlobalScope = append(ctx.GlobalScope, f.ID)
	}

	b.TLS.InitializeAll(all, func(f *vdlctx.File) *elf.Prog { return f.TLSProg })
	if tls.HasStatic(all) {
		b.TLS.LayoutStatic(all)
	}

	if err := b.Reloc.RelocateAll(all, engine.BindNow); err != nil {
		engine.Mu.Unlock()
		return nil, err
	}

	ts := b.TLS.AllocateThread(sysinfo)
	if err := b.Backend.InstallThreadPointer(ts.TCBAddr()); err != nil {
		engine.Mu.Unlock()
		return nil, err
	}

	// gdb_notify(): valid link-map only after relocation, before
	// constructors, so a debugger attaching mid-init sees consistent
	// state.
	b.RV.SetBreakpoint(uint64(rendezvous.BreakpointStubAddr()))
	b.RV.NotifyAdd()
	b.RV.NotifyConsistent()

	if err := b.Patcher.PatchAll(all); err != nil {
		engine.Mu.Unlock()
		return nil, err
	}
	libchook.Bind(b.Runtime, ctx, ts)

	engine.Started = true
	engine.Mu.Unlock()

	b.Init.CallInit(ctx, all)

	if main.Entry == 0 {
		return nil, linkerr.New(linkerr.ELFMalformed, path, fmt.Errorf("zero entry point"))
	}
	return &Result{EntryPoint: main.Entry, Argv: argv}, nil
}
