// Package tls implements the thread-local storage subsystem (spec §4.5):
// per-module TLS template tracking and index assignment, static-TLS
// block layout, per-thread TCB/DTV allocation compatible with the
// variant-II ABI the C library expects, and the __tls_get_addr
// fast/slow path with generation-based invalidation.
package tls

import (
	"debug/elf"
	"fmt"
	"unsafe"

	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// TCB field offsets, following the x86-64 variant-II tcbhead_t layout:
// offset 0 holds a self-pointer (so "mov %fs:0, %rax" yields the thread
// pointer), offset 16 a second self-pointer copy, offset 24 the sysinfo
// word glibc's vsyscall stub reads. Offset 8 is the dtv pointer's slot,
// but AllocateThread leaves it zero: the DTV lives in ThreadState.dtv,
// Go memory the TCB does not point to.
const (
	tcbOffsetTCB     = 0
	tcbOffsetDTV     = 8
	tcbOffsetSelf    = 16
	tcbOffsetSysinfo = 24
	tcbSize          = 64 // rounded up past the fixed header fields, variant II
)

// DTV is one dtv_t slot: a value pointer, whether that block lies in the
// static TLS area, and the generation it was filled at. It is a plain Go
// struct read only by this package, not glibc's packed dtv_t layout.
type DTV struct {
	Value    uint64
	IsStatic bool
	Gen      uint64
}

// Manager owns the engine-wide TLS generation counter and static layout,
// computed once before main runs and updated on every subsequent
// initialize/deinitialize.
type Manager struct {
	Engine *vdlctx.Engine
}

// New creates a Manager bound to e.
func New(e *vdlctx.Engine) *Manager { return &Manager{Engine: e} }

// allocateIndex returns the smallest positive module index not currently
// assigned to an initialized TLS-bearing file on the link-map.
func (m *Manager) allocateIndex() uint32 {
	used := make(map[uint32]bool)
	for _, f := range m.Engine.LinkMap() {
		if f.Status.TLSInitialized && f.Status.HasTLS {
			used[f.TLS.ModuleIndex] = true
		}
	}
	var i uint32 = 1
	for used[i] {
		i++
	}
	return i
}

// InitializeFile records f's PT_TLS template and assigns it a module
// index, unless already initialized. pt is f's PT_TLS program header, or
// nil if it has none.
func (m *Manager) InitializeFile(f *vdlctx.File, pt *elf.Prog) {
	if f.Status.TLSInitialized {
		return
	}
	if pt == nil {
		f.Status.HasTLS = false
		f.Status.TLSInitialized = true
		return
	}

	dtFlags, _ := firstDyn(f, elf.DT_FLAGS)

	f.Status.HasTLS = true
	f.Status.TLSInitialized = true
	f.TLS.Start = f.LoadBase + pt.Vaddr
	f.TLS.Size = pt.Filesz
	f.TLS.ZeroSize = pt.Memsz - pt.Filesz
	f.TLS.Align = pt.Align
	if f.TLS.Align == 0 {
		f.TLS.Align = 1
	}
	f.TLS.ModuleIndex = m.allocateIndex()
	f.Status.TLSIsStatic = dtFlags&uint64(elf.DF_STATIC_TLS) != 0
	f.TLS.Generation = m.Engine.TLSGeneration
	m.Engine.TLSGeneration++
}

// InitializeAll assigns TLS templates to every file, the executable
// first so it reliably claims module index 1 when it carries a PT_TLS
// segment, per file_initialize's ordering comment.
func (m *Manager) InitializeAll(files []*vdlctx.File, phdrOf func(*vdlctx.File) *elf.Prog) {
	for _, f := range files {
		if f.Status.IsExecutable {
			m.InitializeFile(f, phdrOf(f))
		}
	}
	for _, f := range files {
		if !f.Status.IsExecutable {
			m.InitializeFile(f, phdrOf(f))
		}
	}
}

// DeinitializeFile retires f's TLS template, bumping the generation
// counter so every thread's DTV knows to stop trusting cached state for
// f's module index.
func (m *Manager) DeinitializeFile(f *vdlctx.File) {
	if !f.Status.TLSInitialized {
		return
	}
	f.Status.TLSInitialized = false
	if f.Status.HasTLS {
		m.Engine.TLSGeneration++
	}
}

// HasStatic reports whether any file in files carries a static TLS block.
func HasStatic(files []*vdlctx.File) bool {
	for _, f := range files {
		if f.Status.HasTLS && f.Status.TLSIsStatic {
			return true
		}
	}
	return false
}

// LayoutStatic computes the static-TLS block's total size and alignment
// and assigns each static file's TLS.Offset (negative, variant II),
// following the load order in files (executable-first order assumed
// already applied by the caller via InitializeAll).
func (m *Manager) LayoutStatic(files []*vdlctx.File) {
	var size uint64
	var maxAlign uint64 = 1
	var nDTV uint64

	for _, f := range files {
		if !f.Status.HasTLS {
			continue
		}
		if f.Status.TLSIsStatic {
			size += f.TLS.Size + f.TLS.ZeroSize
			size = alignUp(size, f.TLS.Align)
			f.TLS.Offset = -int64(size)
			if f.TLS.Align > maxAlign {
				maxAlign = f.TLS.Align
			}
		}
		nDTV++
	}

	m.Engine.TLSStaticSize = alignUp(size, maxAlign)
	m.Engine.TLSStaticAlign = maxAlign
}

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

func addrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func putU64(buf []byte, off uint64, v uint64) {
	for i := 0; i < 8; i++ {
		buf[off+uint64(i)] = byte(v >> (8 * i))
	}
}

func memAt(addr uint64, size int) []byte { return image.At(addr, size) }

func firstDyn(f *vdlctx.File, tag elf.DynTag) (uint64, bool) {
	vs := f.Dynamic[tag]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

// ThreadState is the set of live TLS-related memory a single thread
// owns: its TCB/DTV block and the per-module dynamic allocations hanging
// off the DTV.
type ThreadState struct {
	buffer []byte // static TLS area + TCB, contiguous
	tcb    uint64 // address of the TCB within buffer
	dtv    []DTV  // index-aligned with module index; dtv[0] is the header slot
	gen    uint64

	dynamic map[uint32][]byte // per-module dynamically-allocated blocks, keyed by module index
}

// AllocateThread allocates a fresh TCB for the calling thread: a single
// contiguous buffer sized static_tls_size+tcbSize, with the TCB's
// self-pointer fields filled in. sysinfo is an architecture-specific
// auxiliary word copied verbatim into the TCB (0 if unused).
func (m *Manager) AllocateThread(sysinfo uint64) *ThreadState {
	total := m.Engine.TLSStaticSize + tcbSize
	buf := make([]byte, total)
	tcb := addrOf(buf) + m.Engine.TLSStaticSize

	putU64(buf, m.Engine.TLSStaticSize+tcbOffsetTCB, tcb)
	putU64(buf, m.Engine.TLSStaticSize+tcbOffsetSelf, tcb)
	putU64(buf, m.Engine.TLSStaticSize+tcbOffsetSysinfo, sysinfo)

	ts := &ThreadState{buffer: buf, tcb: tcb, dynamic: make(map[uint32][]byte)}
	m.initializeDTV(ts)
	return ts
}

// initializeDTV allocates and populates a dtv sized for the engine's
// current TLS module count, copying in every static file's template and
// pre-zeroing every dynamic file's slot.
func (m *Manager) initializeDTV(ts *ThreadState) {
	n := m.Engine.TLSModuleCount
	dtv := make([]DTV, n+1)
	dtv[0] = DTV{Value: uint64(n), Gen: 0}

	for _, f := range m.Engine.LinkMap() {
		if !f.Status.HasTLS {
			continue
		}
		idx := f.TLS.ModuleIndex
		if idx == 0 || idx >= uint32(len(dtv)) {
			continue
		}
		if f.Status.TLSIsStatic {
			addr := uint64(int64(ts.tcb) + f.TLS.Offset)
			dtv[idx] = DTV{Value: addr, IsStatic: true, Gen: f.TLS.Generation}
			m.copyTemplate(addr, f)
		} else {
			dtv[idx] = DTV{Value: 0, IsStatic: false, Gen: f.TLS.Generation}
		}
	}

	ts.dtv = dtv
	ts.gen = m.Engine.TLSGeneration
}

func (m *Manager) copyTemplate(addr uint64, f *vdlctx.File) {
	dst := memAt(addr, int(f.TLS.Size+f.TLS.ZeroSize))
	src := memAt(f.TLS.Start, int(f.TLS.Size))
	copy(dst, src)
	for i := f.TLS.Size; i < f.TLS.Size+f.TLS.ZeroSize; i++ {
		dst[i] = 0
	}
}

// TCBAddr returns ts's thread-pointer value, the address InstallThreadPointer
// should install for the calling thread (the arch backend's
// arch_prctl/set_thread_area call).
func (ts *ThreadState) TCBAddr() uint64 { return ts.tcb }

// GetAddrFast is __tls_get_addr's lock-free fast path: valid only when
// the thread's cached generation matches the engine's current generation
// and the requested module's slot is already populated. A thread whose
// generation has fallen behind must not trust its dtv even if a stale
// entry happens to be nonzero — the module it once pointed at may have
// been unloaded and the slot repurposed since.
func (ts *ThreadState) GetAddrFast(module uint32, engineGeneration uint64) (uint64, bool) {
	if ts.gen != engineGeneration {
		return 0, false
	}
	if int(module) >= len(ts.dtv) {
		return 0, false
	}
	if ts.dtv[module].Value == 0 {
		return 0, false
	}
	return ts.dtv[module].Value, true
}

// GetAddrSlow is __tls_get_addr's locked path: allocates a dynamic
// module's block on first access, or rebuilds the DTV (UpdateDTV) when
// stale, then retries. Must be called with the engine mutex held.
func (m *Manager) GetAddrSlow(ts *ThreadState, module uint32, offset uint64) (uint64, error) {
	if addr, ok := ts.GetAddrFast(module, m.Engine.TLSGeneration); ok {
		return addr + offset, nil
	}

	if ts.gen == m.Engine.TLSGeneration && int(module) < len(ts.dtv) && ts.dtv[module].Value == 0 {
		f := m.findByModule(module)
		if f == nil {
			return 0, fmt.Errorf("tls: module %d not found", module)
		}
		size := f.TLS.Size + f.TLS.ZeroSize
		block := make([]byte, size)
		src := memAt(f.TLS.Start, int(f.TLS.Size))
		copy(block, src)
		ts.dynamic[module] = block
		addr := addrOf(block)
		ts.dtv[module] = DTV{Value: addr, IsStatic: false, Gen: f.TLS.Generation}
		return addr + offset, nil
	}

	m.UpdateDTV(ts)
	return m.GetAddrSlow(ts, module, offset)
}

// UpdateDTV rebuilds ts's dtv to reflect the engine's current module
// set: stale dynamic entries for unloaded modules are freed (left for
// the Go garbage collector once dereferenced), entries for modules still
// loaded but updated since are cleared for lazy re-init, and the dtv is
// grown if the module count increased.
func (m *Manager) UpdateDTV(ts *ThreadState) {
	dtvSize := uint32(len(ts.dtv)) - 1
	for module := uint32(1); module <= dtvSize; module++ {
		if ts.dtv[module].Value == 0 {
			continue
		}
		f := m.findByModule(module)
		if f != nil && ts.dtv[module].Gen == f.TLS.Generation {
			continue
		}
		if !ts.dtv[module].IsStatic {
			delete(ts.dynamic, module)
			ts.dtv[module].Value = 0
		}
		if f == nil {
			continue
		}
		ts.dtv[module] = DTV{}
	}

	if m.Engine.TLSModuleCount <= dtvSize {
		ts.dtv[0].Gen = m.Engine.TLSGeneration
		ts.gen = m.Engine.TLSGeneration
		return
	}

	newDTV := make([]DTV, m.Engine.TLSModuleCount+1)
	copy(newDTV, ts.dtv)
	newDTV[0].Value = uint64(m.Engine.TLSModuleCount)
	newDTV[0].Gen = m.Engine.TLSGeneration
	ts.dtv = newDTV
	ts.gen = m.Engine.TLSGeneration
}

func (m *Manager) findByModule(module uint32) *vdlctx.File {
	for _, f := range m.Engine.LinkMap() {
		if f.Status.HasTLS && f.TLS.ModuleIndex == module {
			return f
		}
	}
	return nil
}
