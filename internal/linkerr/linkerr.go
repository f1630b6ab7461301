// Package linkerr defines the error taxonomy shared by every stage of the
// loader: bootstrap, mapping, dependency resolution, symbol lookup, and
// relocation all report failures through the same Kind enum so that
// callers (runtime.Open in particular) can decide whether a failure is
// fatal to the whole process or just to one request.
package linkerr

import "fmt"

// Kind classifies a failure into the coarse taxonomy from the error
// handling design: each stage maps its internal failures onto one of
// these so that policy (fatal vs. rollback-and-report) can be decided
// in one place.
type Kind int

const (
	FileNotFound Kind = iota
	IOError
	ELFMalformed
	ELFUnsupported
	MappingFailed
	DependencyMissing
	SymbolNotFound
	VersioningMismatch
	ScopeAmbiguous
	StaticTLSAfterStartup
	ArchUnsupportedReloc
)

func (k Kind) String() string {
	switch k {
	case FileNotFound:
		return "file-not-found"
	case IOError:
		return "io-error"
	case ELFMalformed:
		return "elf-malformed"
	case ELFUnsupported:
		return "elf-unsupported"
	case MappingFailed:
		return "mapping-failed"
	case DependencyMissing:
		return "dependency-missing"
	case SymbolNotFound:
		return "symbol-not-found"
	case VersioningMismatch:
		return "versioning-mismatch"
	case ScopeAmbiguous:
		return "scope-ambiguous"
	case StaticTLSAfterStartup:
		return "static-tls-after-startup"
	case ArchUnsupportedReloc:
		return "architecture-unsupported-reloc"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every package in this
// module. It always carries a Kind so callers can branch on taxonomy
// without string matching, plus an optional subject (path, symbol name)
// for diagnostics.
type Error struct {
	Kind    Kind
	Subject string
	Err     error
}

func (e *Error) Error() string {
	if e.Subject == "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Subject, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Subject)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind for the given subject.
func New(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// Is allows errors.Is(err, linkerr.FileNotFound) to work by comparing
// Kind, not identity, since each Error is constructed fresh.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Sentinel returns a comparable *Error for use with errors.Is, e.g.
// errors.Is(err, linkerr.Sentinel(linkerr.SymbolNotFound)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}
