// Package vlog provides structured logging for the linker using zap.
//
// LD_LOG selects which token categories are emitted (debug, function,
// error, assert, symbol-fail, symbol-ok, reloc, help), matching the
// environment variable documented for the reference C library's loader.
package vlog

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with linker-specific helpers.
type Logger struct {
	*zap.Logger
	tokens map[string]bool
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger from the LD_LOG-style token set.
// Safe to call multiple times; only the first call takes effect.
func Init(tokens string) {
	once.Do(func() {
		L = New(tokens)
	})
}

// New creates a new Logger instance. tokens is a colon-separated list as
// documented for LD_LOG (e.g. "debug:reloc:symbol-fail").
func New(tokens string) *Logger {
	set := make(map[string]bool)
	for _, tok := range strings.Split(tokens, ":") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			set[tok] = true
		}
	}

	var cfg zap.Config
	if set["debug"] {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger, tokens: set}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), tokens: map[string]bool{}}
}

// Has reports whether the given LD_LOG token is active.
func (l *Logger) Has(token string) bool {
	if l == nil {
		return false
	}
	return l.tokens[token] || l.tokens["debug"]
}

// SymbolOK logs a successful symbol resolution ("symbol-ok" token).
func (l *Logger) SymbolOK(requester, name, resolvedIn string, addr uint64) {
	if l == nil || !l.Has("symbol-ok") {
		return
	}
	l.Debug("symbol resolved",
		zap.String("requester", requester),
		zap.String("symbol", name),
		zap.String("in", resolvedIn),
		Addr(addr),
	)
}

// SymbolFail logs a failed strong-symbol resolution ("symbol-fail" token).
func (l *Logger) SymbolFail(requester, name string) {
	if l == nil || !l.Has("symbol-fail") {
		return
	}
	l.Warn("symbol not found",
		zap.String("requester", requester),
		zap.String("symbol", name),
	)
}

// Reloc logs a single processed relocation ("reloc" token).
func (l *Logger) Reloc(file string, relType uint32, target uint64, symbol string) {
	if l == nil || !l.Has("reloc") {
		return
	}
	l.Debug("relocation",
		zap.String("file", file),
		zap.Uint32("type", relType),
		Addr(target),
		zap.String("symbol", symbol),
	)
}

// Assertf logs a fatal invariant violation ("assert" token, always emitted).
func (l *Logger) Assertf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.Sugar().Fatalf(format, args...)
}

// Hex formats a uint64 as a hex string for logging.
func Hex(addr uint64) string {
	return "0x" + hexString(addr)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Addr creates an address field.
func Addr(addr uint64) zap.Field {
	return zap.String("addr", Hex(addr))
}

// File creates a file-name field.
func File(name string) zap.Field {
	return zap.String("file", name)
}
