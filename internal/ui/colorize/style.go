package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// IDA-style theme colors, shared between chroma token styling and the
// plain-ANSI helpers in colorize.go.
const (
	idaAddress  = "#808080"
	idaRegister = "#87CEEB"
	idaNumber   = "#FF80C0"
	idaLabel    = "#FFC800"
	idaComment  = "#FF8000"
	idaString   = "#00FF00"
	idaHexBytes = "#646464"
)

// disasmDark is a chroma style matching the plain-ANSI palette above,
// registered once at package init so lexers.Get("nasm")/("gas") output
// can be run through chroma's terminal formatter with the same look.
var disasmDark = styles.Register(chroma.MustNewStyle("disasm-dark", chroma.StyleEntries{
	chroma.Text:           "#FFFFFF",
	chroma.Background:     "bg:#000000",
	chroma.Comment:        idaComment,
	chroma.CommentPreproc: idaComment,

	chroma.Keyword:       "#FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.Name:          idaRegister,
	chroma.NameBuiltin:   idaRegister,
	chroma.NameVariable:  idaRegister,

	chroma.LiteralNumber:        idaNumber,
	chroma.LiteralNumberHex:     idaNumber,
	chroma.LiteralNumberBin:     idaNumber,
	chroma.LiteralNumberOct:     idaNumber,
	chroma.LiteralNumberInteger: idaNumber,
	chroma.LiteralNumberFloat:   idaNumber,

	chroma.NameLabel:    idaLabel,
	chroma.NameFunction: "#FFFFFF",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",

	chroma.String: idaString,
}))
