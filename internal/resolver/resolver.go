// Package resolver implements the dependency resolver (spec §4.2): given
// a root File, it walks DT_NEEDED entries transitively, applying the
// Context's library remap table, reusing already-loaded Files by name or
// by device+inode, and otherwise locating and mapping new ones in the
// order DT_RUNPATH/DT_RPATH, LD_LIBRARY_PATH, system directories, then
// (for slash-bearing names) the name verbatim.
package resolver

import (
	"context"
	"debug/elf"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/linkerr"
	"github.com/elfloader/govdl/internal/vdlctx"
	"github.com/elfloader/govdl/internal/vlog"
)

// Resolver resolves DT_NEEDED closures against an Engine's arena.
type Resolver struct {
	Engine     *vdlctx.Engine
	Mapper     *image.Mapper
	SystemDirs []string // e.g. {"/lib", "/usr/lib", "/lib/x86_64-linux-gnu"}
	LibDirName string    // $LIB expansion, e.g. "lib64" or "lib"
	Log        *vlog.Logger
}

// New creates a Resolver. log may be nil, in which case a no-op logger
// is used.
func New(e *vdlctx.Engine, m *image.Mapper, systemDirs []string, libDirName string, log *vlog.Logger) *Resolver {
	if log == nil {
		log = vlog.NewNop()
	}
	return &Resolver{Engine: e, Mapper: m, SystemDirs: systemDirs, LibDirName: libDirName, Log: log}
}

// Resolve walks root's DT_NEEDED closure, mapping whatever isn't already
// loaded in ctx. It returns every File newly mapped during this call, in
// mapping order, so a caller can roll them back if a later step in the
// open sequence fails.
func (r *Resolver) Resolve(ctx *vdlctx.Context, root *vdlctx.File) ([]*vdlctx.File, error) {
	var newlyMapped []*vdlctx.File
	if err := r.resolveOne(ctx, root, []*vdlctx.File{root}, &newlyMapped); err != nil {
		return newlyMapped, err
	}
	return newlyMapped, nil
}

// resolveOne processes f's own DT_NEEDED list. ancestors is the chain
// from the resolution root down to and including f, used only to widen
// DT_RPATH search (DT_RPATH is inherited down the dependency graph;
// DT_RUNPATH is not and only f's own value applies).
func (r *Resolver) resolveOne(ctx *vdlctx.Context, f *vdlctx.File, ancestors []*vdlctx.File, newlyMapped *[]*vdlctx.File) error {
	if f.Status.DepsResolved {
		return nil
	}
	f.Status.DepsResolved = true // prevents cycles from reprocessing this file

	for _, rawName := range dtNeededNames(f) {
		name := ctx.LibraryRemap[rawName]
		if name == "" {
			name = rawName
		}

		if existing := ctx.FindLoaded(name); existing != nil {
			f.Deps = append(f.Deps, existing.ID)
			r.Log.Has("debug")
			continue
		}

		path, err := r.search(ancestors, name)
		if err != nil {
			return err
		}

		dev, ino, err := statIdentity(path)
		if err != nil {
			return linkerr.New(linkerr.IOError, path, err)
		}
		if existing := ctx.FindByDevIno(dev, ino); existing != nil {
			f.Deps = append(f.Deps, existing.ID)
			continue
		}

		dep, err := r.Mapper.Map(ctx, path, name)
		if err != nil {
			return err
		}
		r.Engine.AppendLinkMap(dep)
		ctx.AddLoaded(dep.ID)
		*newlyMapped = append(*newlyMapped, dep)

		if dep.Depth < f.Depth+1 {
			dep.Depth = f.Depth + 1
		}
		f.Deps = append(f.Deps, dep.ID)

		if err := r.resolveOne(ctx, dep, append(ancestors, dep), newlyMapped); err != nil {
			return err
		}
	}
	return nil
}

func dtNeededNames(f *vdlctx.File) []string {
	offs := f.Dynamic[elf.DT_NEEDED]
	names := make([]string, 0, len(offs))
	strtabAddr, haveStrtab := firstDyn(f, elf.DT_STRTAB)
	strsz, _ := firstDyn(f, elf.DT_STRSZ)
	if !haveStrtab {
		return names
	}
	strtab := image.At(f.LoadBase+strtabAddr, int(strsz))
	for _, off := range offs {
		names = append(names, cstrAt(strtab, off))
	}
	return names
}

func firstDyn(f *vdlctx.File, tag elf.DynTag) (uint64, bool) {
	vs := f.Dynamic[tag]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

func cstrAt(tab []byte, off uint64) string {
	if off >= uint64(len(tab)) {
		return ""
	}
	end := off
	for end < uint64(len(tab)) && tab[end] != 0 {
		end++
	}
	return string(tab[off:end])
}

// search locates name on disk per the precedence order in spec §4.2: the
// requester's own DT_RUNPATH if present, else the DT_RPATH of the
// requester and every ancestor on its dependency chain; then
// LD_LIBRARY_PATH; then the system directories; finally, if name
// contains a slash, the name verbatim.
func (r *Resolver) search(ancestors []*vdlctx.File, name string) (string, error) {
	requester := ancestors[len(ancestors)-1]
	var dirs []string
	if rp := dtPathOf(requester, elf.DT_RUNPATH); len(rp) > 0 {
		dirs = append(dirs, rp...)
	} else {
		for _, a := range ancestors {
			dirs = append(dirs, dtPathOf(a, elf.DT_RPATH)...)
		}
	}
	dirs = append(dirs, envSearchPath()...)
	dirs = append(dirs, r.SystemDirs...)

	candidates := make([]string, len(dirs))
	for i, d := range dirs {
		candidates[i] = expandLibToken(d, r.LibDirName) + "/" + name
	}

	found, ok := probeExistence(candidates)
	if !ok {
		if strings.Contains(name, "/") && fileExists(name) {
			return name, nil
		}
		return "", linkerr.New(linkerr.DependencyMissing, name, nil)
	}
	return found, nil
}

// probeExistence stats every candidate concurrently (candidate lists are
// one per search directory, short enough that a goroutine-per-candidate
// errgroup is simple and cheap), then returns the first candidate in
// order that exists — concurrency only speeds up the stat calls, it
// never changes which path wins.
func probeExistence(candidates []string) (string, bool) {
	exists := make([]bool, len(candidates))
	g, _ := errgroup.WithContext(context.Background())
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			exists[i] = fileExists(c)
			return nil
		})
	}
	_ = g.Wait() // fileExists never returns an error; Wait only joins goroutines
	for i, ok := range exists {
		if ok {
			return candidates[i], true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func statIdentity(path string) (dev, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), st.Ino, nil
}

func expandLibToken(dir, libDirName string) string {
	if libDirName == "" {
		libDirName = "lib"
	}
	return strings.ReplaceAll(dir, "$LIB", libDirName)
}

func envSearchPath() []string {
	v, ok := os.LookupEnv("LD_LIBRARY_PATH")
	if !ok || v == "" {
		return nil
	}
	parts := strings.Split(v, ":")
	for i, p := range parts {
		if p == "" {
			parts[i] = "."
		}
	}
	return parts
}

// dtPathOf reads f's own DT_RPATH/DT_RUNPATH colon-separated string, if
// present.
func dtPathOf(f *vdlctx.File, tag elf.DynTag) []string {
	off, ok := firstDyn(f, tag)
	if !ok {
		return nil
	}
	strtabAddr, haveStrtab := firstDyn(f, elf.DT_STRTAB)
	strsz, _ := firstDyn(f, elf.DT_STRSZ)
	if !haveStrtab {
		return nil
	}
	strtab := image.At(f.LoadBase+strtabAddr, int(strsz))
	s := cstrAt(strtab, off)
	if s == "" {
		return nil
	}
	return strings.Split(s, ":")
}
