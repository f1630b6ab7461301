// Package image implements the ELF image mapper (spec §4.1): it parses
// the ELF header and program headers, validates the RO/RW PT_LOAD shape
// the engine requires, and maps the image into the host process with a
// single anonymous mapping sized to span both segments — unlike the
// teacher's emulator.LoadELFAt, which writes segment bytes into
// Unicorn-managed guest memory, this maps real pages of the running
// process, in the style of a userspace PE/ELF loader.
package image

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/elfloader/govdl/internal/linkerr"
	"github.com/elfloader/govdl/internal/vdlctx"
)

const pageSize = 0x1000

func alignDown(v uint64) uint64 { return v &^ (pageSize - 1) }
func alignUp(v uint64) uint64   { return (v + pageSize - 1) &^ (pageSize - 1) }

// Mapper maps ELF images into an Engine's arena.
type Mapper struct {
	Engine *vdlctx.Engine
}

// New creates a Mapper bound to e.
func New(e *vdlctx.Engine) *Mapper { return &Mapper{Engine: e} }

// Map opens path, validates it, maps its segments into the process, and
// returns a new File registered in ctx. displayName is the name other
// files' DT_NEEDED entries will use to find this one (usually the
// DT_SONAME, or the path's base name for the main executable).
func (m *Mapper) Map(ctx *vdlctx.Context, path, displayName string) (*vdlctx.File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, linkerr.New(linkerr.FileNotFound, path, err)
		}
		return nil, linkerr.New(linkerr.IOError, path, err)
	}

	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return nil, linkerr.New(linkerr.IOError, path, err)
	}

	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, linkerr.New(linkerr.ELFMalformed, path, err)
	}
	defer ef.Close()

	if ef.Type != elf.ET_EXEC && ef.Type != elf.ET_DYN {
		return nil, linkerr.New(linkerr.ELFUnsupported, path,
			fmt.Errorf("unsupported e_type %s", ef.Type))
	}

	ro, rw, dyn, err := classifySegments(ef)
	if err != nil {
		return nil, linkerr.New(linkerr.ELFMalformed, path, err)
	}
	var tlsProg *elf.Prog
	for _, p := range ef.Progs {
		if p.Type == elf.PT_TLS {
			tlsProg = p
			break
		}
	}

	roSeg := fileMap(ro)
	rwSeg := fileMap(rw)

	mapping, loadBase, err := reserveAndFill(raw, &roSeg, &rwSeg, ef.Type == elf.ET_EXEC)
	if err != nil {
		return nil, linkerr.New(linkerr.MappingFailed, path, err)
	}

	f := m.Engine.NewFile()
	f.Path = path
	f.DisplayName = displayName
	f.Class = ef.Class
	f.Machine = ef.Machine
	f.LoadBase = loadBase
	f.Entry = ef.Entry + loadBase
	f.Dev = uint64(stat.Dev)
	f.Ino = stat.Ino
	f.RO = roSeg
	f.RW = rwSeg
	f.Mapping = mapping
	f.Status.IsExecutable = ef.Type == elf.ET_EXEC
	f.Lookup = vdlctx.ScopeGlobalThenLocal
	f.TLSProg = tlsProg

	if err := loadDynamic(f, ef, dyn, loadBase); err != nil {
		_ = unix.Munmap(mapping)
		return nil, linkerr.New(linkerr.ELFMalformed, path, err)
	}

	ctx.Notify(f, vdlctx.EventMapped)
	return f, nil
}

func classifySegments(ef *elf.File) (ro, rw, dyn *elf.Prog, err error) {
	for _, p := range ef.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			if p.Flags&elf.PF_W != 0 {
				if rw != nil {
					return nil, nil, nil, fmt.Errorf("more than one writable PT_LOAD")
				}
				rw = p
			} else {
				if ro != nil {
					return nil, nil, nil, fmt.Errorf("more than one read-only PT_LOAD")
				}
				ro = p
			}
		case elf.PT_DYNAMIC:
			dyn = p
		}
	}
	if ro == nil {
		return nil, nil, nil, fmt.Errorf("no read-only PT_LOAD")
	}
	if rw == nil {
		return nil, nil, nil, fmt.Errorf("no writable PT_LOAD")
	}
	if dyn == nil {
		return nil, nil, nil, fmt.Errorf("no PT_DYNAMIC")
	}
	if dyn.Off < rw.Off || dyn.Off+dyn.Filesz > rw.Off+rw.Filesz {
		return nil, nil, nil, fmt.Errorf("PT_DYNAMIC not contained in RW PT_LOAD")
	}
	if ro.Off != 0 {
		return nil, nil, nil, fmt.Errorf("RO PT_LOAD does not start at file offset 0")
	}
	if ro.Align != rw.Align {
		return nil, nil, nil, fmt.Errorf("RO/RW alignment mismatch: 0x%x vs 0x%x", ro.Align, rw.Align)
	}
	roEnd := alignUp(ro.Vaddr + ro.Memsz)
	rwStart := alignDown(rw.Vaddr)
	if roEnd != rwStart {
		return nil, nil, nil, fmt.Errorf("RO/RW segments not contiguous after alignment")
	}
	return ro, rw, dyn, nil
}

func fileMap(p *elf.Prog) vdlctx.Segment {
	fileStart := alignDown(p.Off)
	fileEnd := alignUp(p.Off + p.Filesz)
	memStart := alignDown(p.Vaddr)
	memEnd := alignUp(p.Vaddr + p.Memsz)

	// Zero-fill covers the tail of the last file-backed page; anon covers
	// whole pages beyond that, up to p_memsz.
	lastFilePage := alignUp(p.Vaddr + p.Filesz)
	zeroStart := p.Vaddr + p.Filesz
	zeroEnd := lastFilePage
	if zeroEnd > p.Vaddr+p.Memsz {
		zeroEnd = p.Vaddr + p.Memsz
	}
	var zero vdlctx.AddrRange
	if zeroEnd > zeroStart {
		zero = vdlctx.AddrRange{Start: zeroStart, Size: zeroEnd - zeroStart}
	}

	var anon vdlctx.AddrRange
	if memEnd > lastFilePage {
		anon = vdlctx.AddrRange{Start: lastFilePage, Size: memEnd - lastFilePage}
	}

	prot := uint32(unix.PROT_READ)
	if p.Flags&elf.PF_W != 0 {
		prot |= unix.PROT_WRITE
	}
	if p.Flags&elf.PF_X != 0 {
		prot |= unix.PROT_EXEC
	}

	return vdlctx.Segment{
		FileRange: vdlctx.AddrRange{Start: fileStart, Size: fileEnd - fileStart},
		MemRange:  vdlctx.AddrRange{Start: memStart, Size: memEnd - memStart},
		ZeroFill:  zero,
		Anon:      anon,
		Prot:      prot,
	}
}

// reserveAndFill reserves one anonymous RW mapping spanning [ro.mem_start,
// rw.mem_end), copies the file-backed pages of each segment into it and
// clears each segment's ZeroFill range (the anonymous pages beyond the
// last file-backed page start out zeroed by the kernel), then mprotects the RO segment's
// range down to its final, non-writable protection. It returns the
// mapping (kept alive on the File for later Munmap) and the load bias to
// add to every p_vaddr.
//
// fixed binaries (ET_EXEC, non-PIE) carry absolute addresses baked into
// their code and relocations, so the reservation is placed at exactly
// ro.MemRange.Start with MAP_FIXED_NOREPLACE rather than wherever the
// kernel's address-space allocator chooses: load_base must come out as
// 0, or every untagged absolute reference in the binary is wrong. If the
// kernel can't honor the fixed address (something else already occupies
// it), that's reported as a mapping failure rather than silently
// retried at a different base.
func reserveAndFill(raw []byte, ro, rw *vdlctx.Segment, fixed bool) (mapping []byte, loadBase uint64, err error) {
	totalSize := rw.MemRange.End() - ro.MemRange.Start

	if fixed {
		mapping, err = mmapFixed(ro.MemRange.Start, int(totalSize))
		if err != nil {
			return nil, 0, fmt.Errorf("reserve %d bytes at fixed address %#x: %w", totalSize, ro.MemRange.Start, err)
		}
	} else {
		mapping, err = unix.Mmap(-1, 0, int(totalSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			return nil, 0, fmt.Errorf("reserve %d bytes: %w", totalSize, err)
		}
	}
	if len(mapping) == 0 {
		return nil, 0, fmt.Errorf("empty mapping")
	}

	base := uintptr(unsafe.Pointer(&mapping[0]))
	loadBase = uint64(base) - ro.MemRange.Start
	if fixed && loadBase != 0 {
		_ = unix.Munmap(mapping)
		return nil, 0, fmt.Errorf("fixed mapping landed at %#x, not requested %#x", base, ro.MemRange.Start)
	}

	if err := copySegment(raw, mapping, ro, ro.MemRange.Start); err != nil {
		_ = unix.Munmap(mapping)
		return nil, 0, err
	}
	if err := copySegment(raw, mapping, rw, ro.MemRange.Start); err != nil {
		_ = unix.Munmap(mapping)
		return nil, 0, err
	}

	roSize := ro.MemRange.Size
	if int(roSize) <= len(mapping) {
		if err := unix.Mprotect(mapping[:roSize], int(ro.Prot)); err != nil {
			_ = unix.Munmap(mapping)
			return nil, 0, fmt.Errorf("protect RO segment: %w", err)
		}
	}
	return mapping, loadBase, nil
}

// mmapFixed reserves length bytes at exactly addr using MAP_FIXED_NOREPLACE,
// so an address already in use by another mapping fails the call instead
// of silently aliasing it or being moved elsewhere by the kernel.
func mmapFixed(addr uint64, length int) ([]byte, error) {
	r1, err := mmapAt(uintptr(addr), length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED_NOREPLACE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(r1)), length), nil
}

// copySegment copies seg's file-backed pages into mapping at the offset
// corresponding to seg's memory address relative to mappingMemStart, then
// zeroes seg's ZeroFill range, which the page-rounded copy filled with
// whatever file bytes follow p_filesz.
func copySegment(raw, mapping []byte, seg *vdlctx.Segment, mappingMemStart uint64) error {
	off := seg.FileRange.Start
	n := seg.FileRange.Size
	if off > uint64(len(raw)) || n > uint64(len(raw))-off {
		return fmt.Errorf("segment file range out of bounds off=%#x size=%#x", off, n)
	}
	dstOff := seg.MemRange.Start - mappingMemStart
	if dstOff+n > uint64(len(mapping)) {
		return fmt.Errorf("segment memory range out of bounds off=%#x size=%#x", dstOff, n)
	}
	copy(mapping[dstOff:dstOff+n], raw[off:off+n])
	if z := seg.ZeroFill; z.Size > 0 {
		zOff := z.Start - mappingMemStart
		if zOff+z.Size > uint64(len(mapping)) {
			return fmt.Errorf("segment zero-fill range out of bounds off=%#x size=%#x", zOff, z.Size)
		}
		clear(mapping[zOff : zOff+z.Size])
	}
	return nil
}

// Unmap releases a file's backing mapping. Called by runtime.Close after
// destructors have run for an unreachable file, and by Open's rollback.
func Unmap(f *vdlctx.File) error {
	if len(f.Mapping) == 0 {
		return nil
	}
	return unix.Munmap(f.Mapping)
}
