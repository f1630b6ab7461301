package colorize

import (
	"os"
	"strings"
	"testing"
)

func withNoColor(t *testing.T) {
	t.Helper()
	old := os.Getenv("GOVDL_NO_COLOR")
	os.Setenv("GOVDL_NO_COLOR", "1")
	t.Cleanup(func() { os.Setenv("GOVDL_NO_COLOR", old) })
}

func TestIsDisabledHonorsBothEnvVars(t *testing.T) {
	os.Unsetenv("GOVDL_NO_COLOR")
	os.Unsetenv("NO_COLOR")
	if IsDisabled() {
		t.Fatal("IsDisabled should be false with no env vars set")
	}

	os.Setenv("GOVDL_NO_COLOR", "1")
	if !IsDisabled() {
		t.Error("IsDisabled should be true when GOVDL_NO_COLOR is set")
	}
	os.Unsetenv("GOVDL_NO_COLOR")

	os.Setenv("NO_COLOR", "1")
	if !IsDisabled() {
		t.Error("IsDisabled should be true when NO_COLOR is set")
	}
	os.Unsetenv("NO_COLOR")
}

func TestHexRGBParsesKnownColor(t *testing.T) {
	r, g, b := hexRGB("#569CD6")
	if r != 0x56 || g != 0x9C || b != 0xD6 {
		t.Errorf("hexRGB = (%d,%d,%d), want (0x56,0x9c,0xd6)", r, g, b)
	}
}

func TestHexRGBInvalidFallsBackToWhite(t *testing.T) {
	r, g, b := hexRGB("bogus")
	if r != 255 || g != 255 || b != 255 {
		t.Errorf("hexRGB(bogus) = (%d,%d,%d), want (255,255,255)", r, g, b)
	}
}

func TestColorDisabledPassesThroughUnchanged(t *testing.T) {
	withNoColor(t)
	if got := Header("section"); got != "section" {
		t.Errorf("Header = %q, want unchanged text when color is disabled", got)
	}
	if got := Detail("0x1000"); got != "0x1000" {
		t.Errorf("Detail = %q, want unchanged", got)
	}
	if got := FuncName("main"); got != "main" {
		t.Errorf("FuncName = %q, want unchanged", got)
	}
	if got := Address(0x1000); got != "0000000000001000" {
		t.Errorf("Address = %q, want plain hex", got)
	}
}

func TestColorEnabledWrapsWithEscapeCodes(t *testing.T) {
	os.Unsetenv("GOVDL_NO_COLOR")
	os.Unsetenv("NO_COLOR")
	got := Header("section")
	if !strings.Contains(got, "section") {
		t.Errorf("Header output %q should still contain the original text", got)
	}
	if !strings.HasPrefix(got, "\033[38;2;") {
		t.Errorf("Header output %q should start with a 24-bit color escape", got)
	}
	if !strings.HasSuffix(got, "\033[0m") {
		t.Errorf("Header output %q should end with a reset escape", got)
	}
}

func TestSymbolDemanglesThenHighlights(t *testing.T) {
	withNoColor(t)
	got := Symbol("plain_symbol")
	if got != "plain_symbol" {
		t.Errorf("Symbol(plain_symbol) = %q, want passthrough for an unmangled name", got)
	}
}
