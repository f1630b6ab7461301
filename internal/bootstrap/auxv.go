// Package bootstrap implements the kernel-handoff / self-relocation
// path (spec §4.10): parsing the auxiliary vector, telling interpreter
// mode (invoked directly by the kernel as another binary's PT_INTERP)
// apart from program mode (invoked directly, `govdl ./target args...`,
// the way `ld-linux.so.2 ./a.out` can also be run by hand), and driving
// the full map/resolve/TLS/relocate/patch/init sequence stage2.c runs
// before handing control to the real entry point.
//
// Unlike the original's stage1.c, this loader needs no hand-written
// self-relocation: it is a normal Go binary, and the Go runtime fully
// initializes itself (including relocating its own position-independent
// code) before main runs. What does carry over is stage2's job: reading
// the kernel's argc/argv/envp/auxv handoff block and using it to decide
// how to bootstrap the requested program.
package bootstrap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// Aux vector tag values this package reads, per elf.h. Exported for
// callers (cmd/govdl) that need to pull a specific entry, such as
// AT_SYSINFO, out of a parsed Auxv themselves.
const (
	atNull = 0
	AtPhdr = 3
	AtPhent = 4
	AtPhnum = 5
	AtBase = 7
	AtEntry = 9
	AtSysinfo = 32
)

// Auxv is the parsed {a_type: a_val} auxiliary vector.
type Auxv map[uint64]uint64

// ReadAuxv parses /proc/self/auxv, the only portable way for a running
// Go process to recover the kernel handoff block — Go's runtime
// consumes the real argv-adjacent auxv itself during process startup
// and does not expose it. wordSize is 8 on amd64, 4 on i386 (this
// process's own word size — the auxv describes this process).
func ReadAuxv(wordSize int) (Auxv, error) {
	raw, err := os.ReadFile("/proc/self/auxv")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read auxv: %w", err)
	}
	return parseAuxv(raw, wordSize)
}

func parseAuxv(raw []byte, wordSize int) (Auxv, error) {
	entSize := wordSize * 2
	out := make(Auxv)
	r := bytes.NewReader(raw)
	readWord := func() (uint64, error) {
		if wordSize == 8 {
			var v uint64
			err := binary.Read(r, binary.LittleEndian, &v)
			return v, err
		}
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	}
	for r.Len() >= entSize {
		typ, err := readWord()
		if err != nil {
			return nil, err
		}
		val, err := readWord()
		if err != nil {
			return nil, err
		}
		if typ == atNull {
			break
		}
		out[typ] = val
	}
	return out, nil
}
