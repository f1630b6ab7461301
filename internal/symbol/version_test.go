package symbol

import (
	"encoding/binary"
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

func TestVersionMatchesNoRequirementNoVersionTable(t *testing.T) {
	f := &vdlctx.File{}
	if got := versionMatches(f, f, VersionSpec{}, 0, 0); got != VersionPerfect {
		t.Errorf("versionMatches = %v, want VersionPerfect when the defining file carries no VERSYM", got)
	}
}

func TestVersionMatchesNoRequirementBaseDefinitionIsPerfect(t *testing.T) {
	f := &vdlctx.File{VerSym: []uint16{0, 1}}
	if got := versionMatches(f, f, VersionSpec{}, 0, 1); got != VersionPerfect {
		t.Errorf("versionMatches = %v, want VersionPerfect for VER_NDX_GLOBAL", got)
	}
}

func TestVersionMatchesNoRequirementNonBaseIsAmbiguous(t *testing.T) {
	f := &vdlctx.File{VerSym: []uint16{0, 2}}
	if got := versionMatches(f, f, VersionSpec{}, 0, 1); got != VersionAmbiguous {
		t.Errorf("versionMatches = %v, want VersionAmbiguous for a non-base version with no requirement", got)
	}
}

func TestVersionMatchesLocalScopeOnlyMatchesOwnFile(t *testing.T) {
	f := &vdlctx.File{VerSym: []uint16{0, 0}}
	other := &vdlctx.File{}
	spec := VersionSpec{Name: "VERS_2.0", LibraryName: "libfoo.so"}
	if got := versionMatches(f, f, spec, 0, 1); got != VersionPerfect {
		t.Errorf("versionMatches(self) = %v, want VersionPerfect for a local-scope symbol's own file", got)
	}
	if got := versionMatches(f, other, spec, 0, 1); got != VersionBad {
		t.Errorf("versionMatches(other) = %v, want VersionBad for a local-scope symbol requested elsewhere", got)
	}
}

func TestVersionMatchesHiddenRejectsOtherRequester(t *testing.T) {
	f := &vdlctx.File{VerSym: []uint16{0, 0x8002}}
	other := &vdlctx.File{}
	spec := VersionSpec{Name: "VERS_2.0", LibraryName: "libfoo.so"}
	if got := versionMatches(f, other, spec, 0, 1); got != VersionBad {
		t.Errorf("versionMatches = %v, want VersionBad for a hidden version requested from another file", got)
	}
}

// verdefBuf builds a one-entry DT_VERDEF table with vd_ndx=ndx and
// vd_hash=hash, and a single aux entry naming the strtab string at nameOff.
func verdefBuf(ndx uint16, hash uint32, nameOff uint32) []byte {
	buf := make([]byte, 20+8)
	binary.LittleEndian.PutUint16(buf[0:2], 1) // vd_version
	binary.LittleEndian.PutUint16(buf[4:6], ndx)
	binary.LittleEndian.PutUint32(buf[8:12], hash)
	binary.LittleEndian.PutUint32(buf[12:16], 20) // vd_aux
	binary.LittleEndian.PutUint32(buf[16:20], 0)  // vd_next: last entry
	binary.LittleEndian.PutUint32(buf[20:24], nameOff)
	binary.LittleEndian.PutUint32(buf[24:28], 0) // vda_next
	return buf
}

func strtabWith(name string, offset int) []byte {
	buf := make([]byte, offset+len(name)+1)
	copy(buf[offset:], name)
	return buf
}

func TestMatchVerdefFindsMatchingEntry(t *testing.T) {
	strtab := strtabWith("VERS_2.0", 4)
	buf := verdefBuf(2, 0xabc, 4)
	f := &vdlctx.File{VerDef: buf}
	if !matchVerdef(f, strtab, 2, 0xabc, "VERS_2.0") {
		t.Error("matchVerdef should find the single entry by index, hash, and name")
	}
	if matchVerdef(f, strtab, 3, 0xabc, "VERS_2.0") {
		t.Error("matchVerdef should reject a mismatched vd_ndx")
	}
	if matchVerdef(f, strtab, 2, 0xabc, "VERS_9.9") {
		t.Error("matchVerdef should reject a mismatched name")
	}
}

func TestMatchVerdefEmptyTableNeverMatches(t *testing.T) {
	f := &vdlctx.File{}
	if matchVerdef(f, nil, 2, 0xabc, "anything") {
		t.Error("matchVerdef on an empty VerDef should never match")
	}
}

// verneedBuf builds a one-entry DT_VERNEED table with a single aux entry.
func verneedBuf(hash uint32, other uint16, nameOff uint32) []byte {
	buf := make([]byte, 16+16)
	binary.LittleEndian.PutUint16(buf[2:4], 1)  // vn_cnt
	binary.LittleEndian.PutUint32(buf[8:12], 16) // vn_aux
	binary.LittleEndian.PutUint32(buf[12:16], 0) // vn_next: last entry
	binary.LittleEndian.PutUint32(buf[16:20], hash)
	binary.LittleEndian.PutUint16(buf[22:24], other)
	binary.LittleEndian.PutUint32(buf[24:28], nameOff)
	binary.LittleEndian.PutUint32(buf[28:32], 0) // vna_next
	return buf
}

func TestMatchVerneedFindsMatchingAuxEntry(t *testing.T) {
	strtab := strtabWith("GLIBC_2.2.5", 8)
	buf := verneedBuf(0xdef, 5, 8)
	f := &vdlctx.File{VerNeed: buf}
	if !matchVerneed(f, strtab, 5, 0xdef, "GLIBC_2.2.5") {
		t.Error("matchVerneed should find the single aux entry by other, hash, and name")
	}
	if matchVerneed(f, strtab, 6, 0xdef, "GLIBC_2.2.5") {
		t.Error("matchVerneed should reject a mismatched vna_other")
	}
}

func TestMatchVerneedEmptyTableNeverMatches(t *testing.T) {
	f := &vdlctx.File{}
	if matchVerneed(f, nil, 5, 0xdef, "anything") {
		t.Error("matchVerneed on an empty VerNeed should never match")
	}
}
