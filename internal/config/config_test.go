package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/elfloader/govdl/internal/vdlctx"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LD_LIBRARY_PATH", "LD_PRELOAD", "LD_BIND_NOW", "LD_LOG", "GOVDL_CONFIG"} {
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.BindNow {
		t.Error("BindNow should default to false")
	}
	if len(c.SystemDirs) != len(defaultSystemDirs) {
		t.Errorf("SystemDirs = %v, want default %v", c.SystemDirs, defaultSystemDirs)
	}
	if c.LibraryPath != nil {
		t.Errorf("LibraryPath = %v, want nil", c.LibraryPath)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LD_LIBRARY_PATH", "/a:/b")
	t.Setenv("LD_BIND_NOW", "1")
	t.Setenv("LD_LOG", "symbols,reloc")
	t.Setenv("LD_PRELOAD", " /opt/libhook.so ")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !c.BindNow {
		t.Error("BindNow should be true when LD_BIND_NOW is set")
	}
	if c.LogTokens != "symbols,reloc" {
		t.Errorf("LogTokens = %q", c.LogTokens)
	}
	if c.Preload != "/opt/libhook.so" {
		t.Errorf("Preload = %q, want trimmed path", c.Preload)
	}
	if len(c.LibraryPath) != 2 || c.LibraryPath[0] != "/a" || c.LibraryPath[1] != "/b" {
		t.Errorf("LibraryPath = %v", c.LibraryPath)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "govdl.yaml")
	doc := "system_dirs:\n  - /custom/lib\nlibrary_remap:\n  libdl.so: libvdl.so\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GOVDL_CONFIG", path)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(c.SystemDirs) != 1 || c.SystemDirs[0] != "/custom/lib" {
		t.Errorf("SystemDirs = %v, want [/custom/lib]", c.SystemDirs)
	}
	if c.LibraryRemap["libdl.so"] != "libvdl.so" {
		t.Errorf("LibraryRemap[libdl.so] = %q", c.LibraryRemap["libdl.so"])
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOVDL_CONFIG", "/nonexistent/govdl.yaml")
	if _, err := Load(); err == nil {
		t.Fatal("Load() should error when GOVDL_CONFIG names a missing file")
	}
}

func TestApplyEngineAndContext(t *testing.T) {
	c := &Config{
		SystemDirs:   []string{"/x"},
		BindNow:      true,
		LibraryRemap: map[string]string{"a.so": "b.so"},
	}
	e := vdlctx.NewEngine()
	c.ApplyEngine(e)
	if !e.BindNow || len(e.SearchDirs) != 1 || e.SearchDirs[0] != "/x" {
		t.Errorf("ApplyEngine did not propagate settings: BindNow=%v SearchDirs=%v", e.BindNow, e.SearchDirs)
	}

	ctx := vdlctx.NewContext(e)
	c.ApplyContext(ctx)
	if ctx.LibraryRemap["a.so"] != "b.so" {
		t.Errorf("ApplyContext did not propagate remap: %v", ctx.LibraryRemap)
	}
}
