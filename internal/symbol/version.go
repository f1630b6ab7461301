package symbol

import (
	"debug/elf"
	"encoding/binary"

	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/vdlctx"
)

// VersionMatch is the outcome of checking a candidate symbol against a
// requester's version requirement.
type VersionMatch int

const (
	VersionBad VersionMatch = iota
	VersionAmbiguous
	VersionPerfect
)

// VersionSpec is an optional {name, owning-library-name} requirement
// attached to a lookup.
type VersionSpec struct {
	Name        string
	LibraryName string
}

// versionMatches implements symbol_version_matches's table from spec
// §4.3. With no version requirement, VERSYM index 1 (VER_NDX_GLOBAL) is
// a perfect match and any other index is ambiguous; with a requirement,
// index 1 is looked up in Verdef/Verneed like any other visible index.
func versionMatches(in, requester *vdlctx.File, spec VersionSpec, verHash uint32, inIndex int) VersionMatch {
	if requester == nil {
		requester = in
	}

	if spec.Name == "" || spec.LibraryName == "" {
		// No version requirement from the caller.
		if len(in.VerSym) == 0 {
			return VersionPerfect
		}
		verIdx := in.VerSym[inIndex] &^ 0x8000
		if verIdx == 1 {
			return VersionPerfect // VER_NDX_GLOBAL: base definition
		}
		return VersionAmbiguous
	}

	if len(in.VerSym) == 0 {
		// Requirement present but defining file carries no version
		// information at all: accepted as a perfect match. The
		// requirement's library name is not compared with this file.
		return VersionPerfect
	}

	verIdx := in.VerSym[inIndex]
	visible := verIdx &^ 0x8000
	hidden := verIdx&0x8000 != 0

	if visible == 0 {
		// Local-scope symbol: only matches within its own file.
		if in == requester {
			return VersionPerfect
		}
		return VersionBad
	}
	if hidden && in != requester {
		return VersionBad
	}

	strtabAddr, haveStrtab := firstDyn(in, elf.DT_STRTAB)
	strsz, _ := firstDyn(in, elf.DT_STRSZ)
	var strtab []byte
	if haveStrtab {
		strtab = image.At(in.LoadBase+strtabAddr, int(strsz))
	}

	if matchVerdef(in, strtab, visible, verHash, spec.Name) {
		return VersionPerfect
	}
	if matchVerneed(in, strtab, visible, verHash, spec.Name) {
		return VersionPerfect
	}
	return VersionBad
}

func firstDyn(f *vdlctx.File, tag elf.DynTag) (uint64, bool) {
	vs := f.Dynamic[tag]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[0], true
}

func cstrAt(tab []byte, off uint32) string {
	if off >= uint32(len(tab)) {
		return ""
	}
	end := off
	for end < uint32(len(tab)) && tab[end] != 0 {
		end++
	}
	return string(tab[off:end])
}

func matchVerdef(f *vdlctx.File, strtab []byte, wantIdx uint16, wantHash uint32, wantName string) bool {
	buf := f.VerDef
	off := 0
	for off+20 <= len(buf) {
		vdNdx := binary.LittleEndian.Uint16(buf[off+4 : off+6])
		vdHash := binary.LittleEndian.Uint32(buf[off+8 : off+12])
		vdAux := binary.LittleEndian.Uint32(buf[off+12 : off+16])
		vdNext := binary.LittleEndian.Uint32(buf[off+16 : off+20])

		if vdNdx == wantIdx && vdHash == wantHash {
			auxOff := off + int(vdAux)
			if auxOff+8 <= len(buf) {
				vdaName := binary.LittleEndian.Uint32(buf[auxOff : auxOff+4])
				if cstrAt(strtab, vdaName) == wantName {
					return true
				}
			}
		}
		if vdNext == 0 {
			break
		}
		off += int(vdNext)
	}
	return false
}

func matchVerneed(f *vdlctx.File, strtab []byte, wantIdx uint16, wantHash uint32, wantName string) bool {
	buf := f.VerNeed
	off := 0
	for off+16 <= len(buf) {
		vnCnt := binary.LittleEndian.Uint16(buf[off+2 : off+4])
		vnAux := binary.LittleEndian.Uint32(buf[off+8 : off+12])
		vnNext := binary.LittleEndian.Uint32(buf[off+12 : off+16])

		auxOff := off + int(vnAux)
		for a := 0; a < int(vnCnt) && auxOff+16 <= len(buf); a++ {
			vnaHash := binary.LittleEndian.Uint32(buf[auxOff : auxOff+4])
			vnaOther := binary.LittleEndian.Uint16(buf[auxOff+6 : auxOff+8])
			vnaName := binary.LittleEndian.Uint32(buf[auxOff+8 : auxOff+12])
			vnaNext := binary.LittleEndian.Uint32(buf[auxOff+12 : auxOff+16])

			if vnaOther == wantIdx && vnaHash == wantHash && cstrAt(strtab, vnaName) == wantName {
				return true
			}
			if vnaNext == 0 {
				break
			}
			auxOff += int(vnaNext)
		}

		if vnNext == 0 {
			break
		}
		off += int(vnNext)
	}
	return false
}
