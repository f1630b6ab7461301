// Package symbol implements the versioned symbol lookup engine (spec
// §4.3): SysV/GNU hash chain iteration per File, version matching against
// an optional {name, owning-library} requirement, and scope-ordered
// resolution across a list of Files, recording back-references for GC
// reachability as it goes.
package symbol

import (
	"github.com/elfloader/govdl/internal/linkerr"
	"github.com/elfloader/govdl/internal/vdlctx"
	"github.com/elfloader/govdl/internal/vlog"
)

// Flag modifies how a lookup walks its scope.
type Flag int

const (
	// FlagNoExec skips the main executable, used for R_*_COPY relocations.
	FlagNoExec Flag = 1 << iota
)

// Result is a resolved symbol: which file defines it and the definition
// itself.
type Result struct {
	File   *vdlctx.File
	SymIdx int
	Sym    vdlctx.Sym
}

// Lookup resolves name (with an optional version requirement) against
// scope, in order, recording file.SymbolsResolvedIn[foundIn] when the
// defining file differs from the requester. It mirrors vdl_lookup's
// per-file iteration and the "exactly one ambiguous match is not really
// ambiguous" rule.
func Lookup(requester *vdlctx.File, name string, spec VersionSpec, flags Flag, scope []*vdlctx.File, log *vlog.Logger) (Result, bool) {
	nameElf := elfHash(name)
	nameGNU := gnuHash(name)
	var verHash uint32
	if spec.Name != "" {
		verHash = elfHash(spec.Name)
	}

	for _, f := range scope {
		if flags&FlagNoExec != 0 && f.Status.IsExecutable {
			continue
		}

		it := newFileIterator(f, nameElf, nameGNU)
		nAmbiguous := 0
		var lastAmbiguous int

		for {
			idx, ok := it.next(name)
			if !ok {
				break
			}
			switch versionMatches(f, requester, spec, verHash, idx) {
			case VersionPerfect:
				recordResolution(requester, f)
				return Result{File: f, SymIdx: idx, Sym: f.SymTab[idx]}, true
			case VersionAmbiguous:
				nAmbiguous++
				lastAmbiguous = idx
			}
		}

		if nAmbiguous >= 2 {
			err := linkerr.New(linkerr.ScopeAmbiguous, name, nil)
			log.Assertf("%s: %d hash-chain matches for %q in %s with no version to disambiguate them", err, nAmbiguous, name, f.DisplayName)
		}
		if nAmbiguous >= 1 {
			recordResolution(requester, f)
			return Result{File: f, SymIdx: lastAmbiguous, Sym: f.SymTab[lastAmbiguous]}, true
		}
	}
	return Result{}, false
}

func recordResolution(requester, foundIn *vdlctx.File) {
	if requester == nil || foundIn == requester {
		return
	}
	if requester.SymbolsResolvedIn == nil {
		requester.SymbolsResolvedIn = make(map[vdlctx.FileID]bool)
	}
	requester.SymbolsResolvedIn[foundIn.ID] = true
}

// Scope builds the search order for a File per its ScopeLookup policy:
// local-then-global, global-then-local, global-only, or local-only.
func Scope(f *vdlctx.File, localScope func(*vdlctx.File) []*vdlctx.File, globalScope func(*vdlctx.File) []*vdlctx.File) []*vdlctx.File {
	local := localScope(f)
	global := globalScope(f)
	switch f.Lookup {
	case vdlctx.ScopeLocalThenGlobal:
		return append(append([]*vdlctx.File{}, local...), global...)
	case vdlctx.ScopeGlobalOnly:
		return global
	case vdlctx.ScopeLocalOnly:
		return local
	default: // ScopeGlobalThenLocal
		return append(append([]*vdlctx.File{}, global...), local...)
	}
}
