package vdlctx

import (
	"github.com/elfloader/govdl/internal/futex"
)

// RendezvousState mirrors the debugger rendezvous structure's state enum
// (consistent/add/delete).
type RendezvousState int

const (
	RStateConsistent RendezvousState = iota
	RStateAdd
	RStateDelete
)

// Engine is the single process-wide record: the file arena, the
// link-map, the rendezvous state, and every counter that must be visible
// to all contexts. All mutation goes through Lock/Unlock.
type Engine struct {
	Mu futex.Mutex

	arena  map[FileID]*File
	nextID FileID

	LinkMapHead FileID

	RState               RendezvousState
	InterpreterLoadBase  uint64
	BreakpointFn         func()

	SearchDirs []string
	BindNow    bool

	// Started is set once bootstrap finishes mapping the initial program
	// and its dependencies and has committed the static TLS layout. Opens
	// that happen before this point (the executable itself and its
	// startup-time needs) may freely carry static TLS; opens after it
	// must not, since the static area can no longer grow.
	Started bool

	Contexts []*Context

	TLSGeneration    uint64
	TLSStaticSize    uint64
	TLSStaticAlign   uint64
	TLSModuleCount   uint32
	usedModuleIdx    map[uint32]bool

	addCount, removeCount uint64 // phdr-iteration version stamp

	errMu    futex.Mutex
	lastErrs map[uintptr]string // thread/goroutine key -> last dlerror-style string
}

// NewEngine creates an empty Engine with no loaded files.
func NewEngine() *Engine {
	return &Engine{
		arena:         make(map[FileID]*File),
		usedModuleIdx: make(map[uint32]bool),
		lastErrs:      make(map[uintptr]string),
	}
}

// NewFile allocates a File in the arena and assigns it a fresh FileID.
// The caller is responsible for filling in its fields and linking it
// into the link-map (AppendLinkMap).
func (e *Engine) NewFile() *File {
	e.nextID++
	f := &File{ID: e.nextID, SymbolsResolvedIn: make(map[FileID]bool)}
	e.arena[f.ID] = f
	return f
}

// File resolves a FileID to its File, or nil if unknown/freed.
func (e *Engine) File(id FileID) *File {
	if id == 0 {
		return nil
	}
	return e.arena[id]
}

// AppendLinkMap adds a file to the tail of the global link-map.
func (e *Engine) AppendLinkMap(f *File) {
	if e.LinkMapHead == 0 {
		e.LinkMapHead = f.ID
		f.Prev, f.Next = 0, 0
		e.addCount++
		return
	}
	tail := e.File(e.LinkMapHead)
	for tail.Next != 0 {
		tail = e.File(tail.Next)
	}
	tail.Next = f.ID
	f.Prev = tail.ID
	f.Next = 0
	e.addCount++
}

// RemoveLinkMap unlinks a file from the global link-map and frees its
// arena slot. It does not touch local/global scopes of other files;
// gc's Collector.removeFile updates those right after calling this.
func (e *Engine) RemoveLinkMap(id FileID) {
	f := e.File(id)
	if f == nil {
		return
	}
	if f.Prev != 0 {
		e.File(f.Prev).Next = f.Next
	} else {
		e.LinkMapHead = f.Next
	}
	if f.Next != 0 {
		e.File(f.Next).Prev = f.Prev
	}
	delete(e.arena, id)
	if f.TLS.ModuleIndex != 0 {
		delete(e.usedModuleIdx, f.TLS.ModuleIndex)
	}
	e.removeCount++
}

// LinkMap returns every file currently on the global link-map, in order,
// head first. The head is the executable when one is mapped, per the
// debugger-compatibility invariant.
func (e *Engine) LinkMap() []*File {
	var out []*File
	for id := e.LinkMapHead; id != 0; {
		f := e.File(id)
		if f == nil {
			break
		}
		out = append(out, f)
		id = f.Next
	}
	return out
}

// PhdrVersion returns the add/remove counters iterate-phdr callers can
// cache as a cheap "has anything changed" version stamp.
func (e *Engine) PhdrVersion() (adds, removes uint64) {
	return e.addCount, e.removeCount
}

// AllocateTLSModuleIndex returns the smallest unused positive module
// index, assigning it deterministically the way allocate_tls_index does:
// walk 1..N and return the first value not currently in use.
func (e *Engine) AllocateTLSModuleIndex() uint32 {
	var i uint32 = 1
	for e.usedModuleIdx[i] {
		i++
	}
	e.usedModuleIdx[i] = true
	e.TLSModuleCount++
	return i
}

// ReleaseTLSModuleIndex frees a module index when its file is unloaded.
func (e *Engine) ReleaseTLSModuleIndex(idx uint32) {
	if idx == 0 {
		return
	}
	delete(e.usedModuleIdx, idx)
	if e.TLSModuleCount > 0 {
		e.TLSModuleCount--
	}
}

// SetLastError records the calling goroutine's dlerror-style message,
// keyed by a caller-supplied thread key (the public API uses the
// goroutine's stack address as a cheap per-call-stack proxy — see
// runtime.threadKey).
func (e *Engine) SetLastError(key uintptr, msg string) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.lastErrs[key] = msg
}

// LastError retrieves and clears the calling thread's last error.
func (e *Engine) LastError(key uintptr) string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	msg := e.lastErrs[key]
	delete(e.lastErrs, key)
	return msg
}
