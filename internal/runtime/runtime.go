// Package runtime implements the public load/unload API (spec §4.8):
// open/sym/vsym/close/addr/error/iterate-phdr, each taking the engine
// lock around the link-map mutation and releasing it before running
// constructors/destructors so user code can recursively call back in.
// It is the orchestration layer wiring together the mapper, resolver,
// symbol lookup, relocation engine, TLS subsystem, GC, and the debugger
// rendezvous structure — the real-world replacement for the teacher's
// fake Android dlopen/dlsym/dlclose family.
package runtime

import (
	"debug/elf"
	"fmt"
	"unsafe"

	"github.com/elfloader/govdl/internal/arch"
	"github.com/elfloader/govdl/internal/gc"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/initfini"
	"github.com/elfloader/govdl/internal/linkerr"
	"github.com/elfloader/govdl/internal/reloc"
	"github.com/elfloader/govdl/internal/rendezvous"
	"github.com/elfloader/govdl/internal/resolver"
	"github.com/elfloader/govdl/internal/symbol"
	"github.com/elfloader/govdl/internal/tls"
	"github.com/elfloader/govdl/internal/vdlctx"
	"github.com/elfloader/govdl/internal/vlog"
)

// Flags mirrors the dlopen flag bits this runtime honors.
type Flags int

const (
	Lazy      Flags = 0
	Now       Flags = 1 << 0
	Global    Flags = 1 << 1
	Local     Flags = 0
	NoLoad    Flags = 1 << 2
	DeepBind  Flags = 1 << 3
)

// Runtime ties together every subsystem the public API dispatches
// through.
type Runtime struct {
	Engine   *vdlctx.Engine
	Mapper   *image.Mapper
	Resolver *resolver.Resolver
	Reloc    *reloc.Engine
	TLS      *tls.Manager
	Init     *initfini.Runner
	GC       *gc.Collector
	RV       *rendezvous.Rendezvous
	Log      *vlog.Logger

	BindNow bool
}

// New wires a Runtime from its already-constructed subsystems.
func New(e *vdlctx.Engine, mapper *image.Mapper, res *resolver.Resolver, backend arch.Backend, wordSize int, log *vlog.Logger) *Runtime {
	if log == nil {
		log = vlog.NewNop()
	}
	rt := &Runtime{
		Engine:   e,
		Mapper:   mapper,
		Resolver: res,
		TLS:      tls.New(e),
		Init:     initfini.New(wordSize),
		GC:       gc.New(e),
		RV:       rendezvous.New(e),
		Log:      log,
	}
	rt.Reloc = reloc.New(backend, rt.scopeFor, log)
	return rt
}

func (rt *Runtime) scopeFor(f *vdlctx.File) []*vdlctx.File {
	return symbol.Scope(f, rt.localScopeOf, rt.globalScopeOf)
}

// globalScopeOf finds f's owning Context (the one it was mapped into)
// and returns that context's global scope.
func (rt *Runtime) globalScopeOf(f *vdlctx.File) []*vdlctx.File {
	ctx := rt.contextOf(f)
	if ctx == nil {
		return nil
	}
	out := make([]*vdlctx.File, 0, len(ctx.GlobalScope))
	for _, id := range ctx.GlobalScope {
		if x := rt.Engine.File(id); x != nil {
			out = append(out, x)
		}
	}
	return out
}

func (rt *Runtime) contextOf(f *vdlctx.File) *vdlctx.Context {
	for _, ctx := range rt.Engine.Contexts {
		for _, id := range ctx.Loaded() {
			if id == f.ID {
				return ctx
			}
		}
	}
	return nil
}

// Open maps path (reusing an already-loaded file by name or identity),
// resolves its DT_NEEDED closure, sets scope policy, initializes TLS,
// relocates, and — unless the open is rolled back — returns a Handle.
// On any failure every file newly mapped during this call is unwound.
func (rt *Runtime) Open(ctx *vdlctx.Context, path string, flags Flags) (vdlctx.FileID, error) {
	rt.Engine.Mu.Lock()

	if existing := ctx.FindLoaded(path); existing != nil {
		existing.RefCount++
		rt.Engine.Mu.Unlock()
		return existing.ID, nil
	}

	rt.RV.NotifyAdd()
	root, err := rt.Mapper.Map(ctx, path, path)
	if err != nil {
		rt.RV.NotifyConsistent()
		rt.Engine.Mu.Unlock()
		rt.SetError(fmt.Sprintf("open %s: %v", path, err))
		return 0, err
	}
	ctx.AddLoaded(root.ID)
	rt.Engine.AppendLinkMap(root)
	rt.RV.SetLinkMapHead(uint64(rt.Engine.LinkMapHead))

	newlyMapped, err := rt.Resolver.Resolve(ctx, root)
	if err != nil {
		rt.rollback(ctx, root, newlyMapped)
		rt.RV.NotifyConsistent()
		rt.Engine.Mu.Unlock()
		rt.SetError(err.Error())
		return 0, err
	}

	if flags&DeepBind != 0 {
		root.Lookup = vdlctx.ScopeLocalThenGlobal
	} else {
		root.Lookup = vdlctx.ScopeGlobalThenLocal
	}
	all := append([]*vdlctx.File{root}, newlyMapped...)
	rt.assignLocalScope(all)

	rt.TLS.InitializeAll(all, func(f *vdlctx.File) *elf.Prog { return f.TLSProg })

	if rt.Engine.Started && tls.HasStatic(newlyMapped) {
		rt.rollback(ctx, root, newlyMapped)
		rt.RV.NotifyConsistent()
		rt.Engine.Mu.Unlock()
		err := linkerr.New(linkerr.StaticTLSAfterStartup, path, nil)
		rt.SetError(err.Error())
		return 0, err
	}

	if flags&Global != 0 {
		ctx.GlobalScope = append(ctx.GlobalScope, root.ID)
	}

	now := rt.BindNow || flags&Now != 0
	if err := rt.Reloc.RelocateAll(all, now); err != nil {
		rt.rollback(ctx, root, newlyMapped)
		rt.RV.NotifyConsistent()
		rt.Engine.Mu.Unlock()
		rt.SetError(err.Error())
		return 0, err
	}

	root.RefCount++
	rt.RV.NotifyConsistent()
	rt.Engine.Mu.Unlock()

	rt.Init.CallInit(ctx, all)

	return root.ID, nil
}

func (rt *Runtime) assignLocalScope(files []*vdlctx.File) {
	for _, f := range files {
		scope := make([]vdlctx.FileID, 0, len(f.Deps)+1)
		scope = append(scope, f.ID)
		scope = append(scope, f.Deps...)
		f.LocalScope = scope
	}
}

// rollback unmaps every file this Open call newly mapped, in reverse
// mapping order, and unlinks root from the link-map.
func (rt *Runtime) rollback(ctx *vdlctx.Context, root *vdlctx.File, newlyMapped []*vdlctx.File) {
	rt.Engine.RemoveLinkMap(root.ID)
	ctx.RemoveLoaded(root.ID)
	for i := len(newlyMapped) - 1; i >= 0; i-- {
		f := newlyMapped[i]
		image.Unmap(f)
		ctx.RemoveLoaded(f.ID)
	}
	image.Unmap(root)
}

// Sym resolves name in handle's file's local scope.
func (rt *Runtime) Sym(handle vdlctx.FileID, name string) (uint64, bool) {
	return rt.VSym(handle, name, symbol.VersionSpec{})
}

// VSym resolves name with an explicit version requirement.
func (rt *Runtime) VSym(handle vdlctx.FileID, name string, spec symbol.VersionSpec) (uint64, bool) {
	rt.Engine.Mu.Lock()
	defer rt.Engine.Mu.Unlock()

	f := rt.Engine.File(handle)
	if f == nil {
		rt.SetError("sym: invalid handle")
		return 0, false
	}
	scope := rt.localScopeOf(f)
	res, ok := symbol.Lookup(f, name, spec, 0, scope, rt.Log)
	if !ok {
		rt.SetError(fmt.Sprintf("undefined symbol: %s", name))
		return 0, false
	}
	return res.File.LoadBase + res.Sym.Value, true
}

func (rt *Runtime) localScopeOf(f *vdlctx.File) []*vdlctx.File {
	out := make([]*vdlctx.File, 0, len(f.LocalScope))
	for _, id := range f.LocalScope {
		if x := rt.Engine.File(id); x != nil {
			out = append(out, x)
		}
	}
	return out
}

// Close decrements handle's reference count and, if that makes it and
// any of its now-orphaned dependencies unreachable, runs destructors,
// tears down TLS, unmaps, and deletes them.
func (rt *Runtime) Close(ctx *vdlctx.Context, handle vdlctx.FileID) error {
	rt.Engine.Mu.Lock()

	f := rt.Engine.File(handle)
	if f == nil {
		rt.Engine.Mu.Unlock()
		return linkerr.New(linkerr.DependencyMissing, "close", nil)
	}
	if f.RefCount > 0 {
		f.RefCount--
	}

	rt.RV.NotifyDelete()
	unload := rt.GC.ObjectsToUnload(ctx)
	rt.Engine.Mu.Unlock()

	rt.Init.CallFini(ctx, unload)

	rt.Engine.Mu.Lock()
	for _, x := range unload {
		rt.TLS.DeinitializeFile(x)
		image.Unmap(x)
	}
	rt.RV.NotifyConsistent()
	rt.Engine.Mu.Unlock()

	return nil
}

// Addr finds the file whose mapped span, from the start of its RO
// segment to the end of its RW segment, contains addr, for dladdr-style
// diagnostics.
func (rt *Runtime) Addr(addr uint64) (*vdlctx.File, bool) {
	rt.Engine.Mu.Lock()
	defer rt.Engine.Mu.Unlock()
	for _, f := range rt.Engine.LinkMap() {
		start := f.RO.MemRange.Start
		end := f.RW.MemRange.End()
		if addr >= start && addr < end {
			return f, true
		}
	}
	return nil, false
}

// PhdrInfo is one link-map entry as exposed to an IteratePhdr callback.
type PhdrInfo struct {
	Name     string
	LoadBase uint64
	Phdr     uint64
	Phnum    int
}

// IteratePhdr calls cb for every file currently on the link-map, in
// order, stopping early if cb returns non-zero, and returns its final
// result.
func (rt *Runtime) IteratePhdr(cb func(PhdrInfo) int) int {
	rt.Engine.Mu.Lock()
	files := rt.Engine.LinkMap()
	rt.Engine.Mu.Unlock()

	for _, f := range files {
		info := PhdrInfo{Name: f.DisplayName, LoadBase: f.LoadBase}
		if r := cb(info); r != 0 {
			return r
		}
	}
	return 0
}

// threadKey returns a cheap per-call-stack proxy for "the calling
// thread": the address of a stack-local variable. Two concurrent
// goroutines never collide, and a single goroutine calling SetError then
// LastError within one request sees a stable value.
func threadKey() uintptr {
	var x int
	return uintptr(unsafe.Pointer(&x))
}

// SetError records msg as the calling thread's last error.
func (rt *Runtime) SetError(msg string) {
	rt.Engine.SetLastError(threadKey(), msg)
}

// LastError retrieves and clears the calling thread's last error.
func (rt *Runtime) LastError() string {
	return rt.Engine.LastError(threadKey())
}
