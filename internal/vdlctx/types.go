// Package vdlctx holds the core data model shared by every stage of the
// linker: the File (one mapped ELF image), the Context (an isolated
// namespace of Files), and the Engine (the single process-wide record
// tying everything together, guarded by the engine mutex).
//
// Files are owned by the Engine's arena and referenced everywhere else by
// FileID, never by pointer, so that the dependency graph's cycles and
// back-references (symbols_resolved_in) are plain map/slice manipulation
// instead of borrow-checked pointers.
package vdlctx

import (
	"debug/elf"
	"fmt"
)

// FileID is a stable handle into the Engine's file arena. The zero value
// never denotes a live file.
type FileID uint32

// ScopeLookup selects the order in which a File's own definitions and its
// scope's definitions are consulted during symbol resolution.
type ScopeLookup int

const (
	// ScopeGlobalThenLocal is the default for ordinary dependencies.
	ScopeGlobalThenLocal ScopeLookup = iota
	// ScopeLocalThenGlobal is used by RTLD_DEEPBIND opens.
	ScopeLocalThenGlobal
	// ScopeGlobalOnly is forced for the main executable.
	ScopeGlobalOnly
	// ScopeLocalOnly is reserved for fully isolated opens.
	ScopeLocalOnly
)

// Status bundles the boolean lifecycle flags a File accumulates as it
// moves from "just mapped" to "fully initialized".
type Status struct {
	DepsResolved   bool
	TLSInitialized bool
	InitCalled     bool
	FiniCalled     bool
	Relocated      bool
	Patched        bool
	IsExecutable   bool
	HasTLS         bool
	TLSIsStatic    bool
}

// AddrRange is a page-aligned [Start, Start+Size) range, used for both
// file-offset ranges and virtual-memory ranges in a Segment.
type AddrRange struct {
	Start uint64
	Size  uint64
}

func (r AddrRange) End() uint64 { return r.Start + r.Size }

// Segment records one PT_LOAD mapping's file view, memory view, and the
// zero-fill/anonymous tail that pads p_filesz up to p_memsz.
type Segment struct {
	FileRange AddrRange // page-aligned file-offset range
	MemRange  AddrRange // page-aligned memory range
	ZeroFill  AddrRange // bytes between p_filesz and p_memsz within the mapping's last page
	Anon      AddrRange // remaining whole pages up to p_memsz, backed by MAP_ANONYMOUS
	Prot      uint32    // PROT_* bits this segment is mapped with
}

// TLSTemplate records a File's PT_TLS metadata once assigned.
type TLSTemplate struct {
	Start       uint64 // address of the initialized TLS image
	Size        uint64 // p_filesz: bytes to copy from the template
	ZeroSize    uint64 // p_memsz - p_filesz: trailing zero bytes
	Align       uint64
	ModuleIndex uint32 // 1-based, pairwise distinct among TLS-bearing files
	Offset      int64  // offset from the thread pointer (negative, variant II), valid only if static
	Generation  uint64 // generation at which this template was (re)assigned
}

// File is one mapped ELF image: an executable, shared library, or the
// interpreter itself.
type File struct {
	ID FileID

	Path        string // canonical on-disk path used to map it
	DisplayName string // SONAME or path as seen by DT_NEEDED entries

	Class    elf.Class
	Machine  elf.Machine
	LoadBase uint64
	Entry    uint64 // e_entry, bias-adjusted by LoadBase; meaningful only for the main executable
	Dev      uint64
	Ino      uint64

	Dynamic map[elf.DynTag][]uint64 // DT_* tag -> raw values (DT_NEEDED etc. can repeat)
	DynPtr  uint64                  // address of the PT_DYNAMIC table in memory

	SymTab []Sym // DT_SYMTAB, index 0 synthesized as STN_UNDEF, index i matches the ELF symbol index

	HashTab    []byte // raw DT_HASH table bytes, for the SysV chain iterator
	GNUHashTab []byte // raw DT_GNU_HASH table bytes, for the GNU chain iterator

	VerDef  []byte // raw DT_VERDEF table bytes
	VerNeed []byte // raw DT_VERNEED table bytes
	VerSym  []uint16 // DT_VERSYM, index-aligned with SymTab

	RO Segment
	RW Segment

	Mapping []byte // the single anonymous mmap backing RO+RW, kept for Munmap

	RefCount int32
	Status   Status

	Lookup ScopeLookup

	Deps       []FileID // DT_NEEDED closure, in resolution order
	LocalScope []FileID // deterministic transitive closure, computed once deps resolve

	SymbolsResolvedIn map[FileID]bool // back-references for GC reachability

	Depth int // max over all paths from a root

	TLS     TLSTemplate
	TLSProg *elf.Prog // this file's PT_TLS header, or nil if it has none

	Next, Prev FileID // link-map doubly linked list

	GCColor GCColor
}

// GCColor is a File's tri-color mark, used by the reachability sweep
// that decides which unreferenced files become unloadable.
type GCColor int

const (
	GCWhite GCColor = iota
	GCGrey
	GCBlack
)

func (f *File) String() string {
	return fmt.Sprintf("File{%s @0x%x}", f.DisplayName, f.LoadBase)
}

// IsRoot reports whether a file currently has an external reason to stay
// mapped (an explicit open, the main executable, a preload, or the
// interpreter itself).
func (f *File) IsRoot() bool { return f.RefCount > 0 }

// Sym is a parsed dynamic symbol-table entry, index-compatible with the
// ELF symbol table (index 0 is always the null/STN_UNDEF entry).
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
	Info  byte
	Other byte
	Shndx uint16
}

// Bind returns the STB_* binding of a symbol.
func (s Sym) Bind() elf.SymBind { return elf.SymBind(s.Info >> 4) }

// Type returns the STT_* type of a symbol.
func (s Sym) Type() elf.SymType { return elf.SymType(s.Info & 0xf) }

// Defined reports whether a symbol is a real definition (not SHN_UNDEF,
// has a name) — the condition the lookup engine's iterator requires
// before it will consider a symbol table entry a candidate.
func (s Sym) Defined() bool {
	return s.Name != "" && elf.SectionIndex(s.Shndx) != elf.SHN_UNDEF
}

// Hidden reports whether the symbol's VERSYM entry has the hidden bit
// (0x8000) set.
func (f *File) Hidden(symIdx int) bool {
	if symIdx < 0 || symIdx >= len(f.VerSym) {
		return false
	}
	return f.VerSym[symIdx]&0x8000 != 0
}
