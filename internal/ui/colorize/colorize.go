// Package colorize renders cmd/vdlctl's link-map (inspect) and
// relocation (relocs) views with IDA-style syntax highlighting, reusing the teacher's chroma-based
// approach but for x86/x86-64 GAS/NASM syntax rather than ARM.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/elfloader/govdl/internal/symname"
)

// IsDisabled reports whether color output is suppressed, honoring both
// this loader's own override and the NO_COLOR convention.
func IsDisabled() bool {
	return os.Getenv("GOVDL_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

func assemblyLexer() chroma.Lexer {
	for _, name := range []string{"nasm", "gas", "GAS", "Gas"} {
		if l := lexers.Get(name); l != nil {
			return l
		}
	}
	return nil
}

func disasmStyle() *chroma.Style {
	for _, name := range []string{"disasm-dark", "dracula", "monokai"} {
		if s := styles.Get(name); s != nil {
			return s
		}
	}
	return styles.Fallback
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// Instruction renders a single x86asm-decoded instruction string with
// syntax highlighting.
func Instruction(insn string) string {
	if IsDisabled() {
		return insn
	}
	lexer := assemblyLexer()
	if lexer == nil {
		return insn
	}
	_ = disasmDark // force style registration

	iterator, err := lexer.Tokenise(nil, insn)
	if err != nil {
		return insn
	}
	var buf strings.Builder
	if err := terminalFormatter().Format(&buf, disasmStyle(), iterator); err != nil {
		return insn
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Address formats a load address.
func Address(addr uint64) string {
	if IsDisabled() {
		return fmt.Sprintf("%016x", addr)
	}
	return paint(idaAddress, fmt.Sprintf("%016x", addr))
}

// Symbol renders a possibly-mangled symbol name demangled and
// highlighted, the way cmd/vdlctl labels a link-map entry (inspect) or a
// relocation's symbol (relocs).
func Symbol(name string) string {
	return FuncName(symname.Demangle(name))
}

// FuncName highlights a (already demangled, if applicable) function or
// label name.
func FuncName(name string) string {
	if IsDisabled() {
		return name
	}
	return paint(idaLabel, name)
}

// Detail highlights secondary, low-emphasis detail text.
func Detail(s string) string {
	if IsDisabled() {
		return s
	}
	return paint(idaHexBytes, s)
}

// Key highlights a value pulled out for emphasis (e.g. a matched
// search key in cmd/vdlctl's TUI).
func Key(s string) string {
	if IsDisabled() {
		return s
	}
	return paint("#FF5050", s)
}

// Border highlights table/box-drawing characters.
func Border(s string) string {
	if IsDisabled() {
		return s
	}
	return paint("#505050", s)
}

// Comment highlights a trailing comment.
func Comment(s string) string {
	if IsDisabled() {
		return s
	}
	return paint(idaComment, s)
}

// Header highlights a section header.
func Header(s string) string {
	if IsDisabled() {
		return s
	}
	return paint("#569CD6", s)
}

// HexBytes highlights raw opcode bytes.
func HexBytes(s string) string {
	if IsDisabled() {
		return s
	}
	return paint(idaHexBytes, s)
}

// Error highlights an error message.
func Error(s string) string {
	if IsDisabled() {
		return s
	}
	return paint("#FF80C0", s)
}

// String highlights a string literal.
func String(s string) string {
	if IsDisabled() {
		return s
	}
	return paint(idaString, s)
}

func paint(hex, s string) string {
	r, g, b := hexRGB(hex)
	return fmt.Sprintf("\033[38;2;%d;%d;%dm%s\033[0m", r, g, b, s)
}

func hexRGB(hex string) (r, g, b int) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 255, 255, 255
	}
	var v int64
	fmt.Sscanf(hex, "%06x", &v)
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
