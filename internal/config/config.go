// Package config gathers the loader's runtime configuration from the
// environment and an optional YAML file (spec §6): LD_LIBRARY_PATH,
// LD_PRELOAD, LD_BIND_NOW, and LD_LOG are read the same way the rest of
// the package reads them (resolver.envSearchPath, vlog.Init), while
// system search directories and the library name remap table can
// additionally come from a YAML file named by GOVDL_CONFIG, since
// neither has an environment-variable form in the reference loader.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/elfloader/govdl/internal/vdlctx"
)

// File is the optional GOVDL_CONFIG document shape.
type File struct {
	SystemDirs   []string          `yaml:"system_dirs"`
	LibraryRemap map[string]string `yaml:"library_remap"`
}

// Config is the fully-resolved configuration a Bootstrapper or the
// public runtime API applies before the first file is mapped.
type Config struct {
	LibraryPath  []string // LD_LIBRARY_PATH, colon split, "" -> "."
	Preload      string   // LD_PRELOAD, at most one path (spec names a single shared object)
	BindNow      bool     // LD_BIND_NOW
	LogTokens    string   // LD_LOG, passed to vlog.Init verbatim
	SystemDirs   []string // from GOVDL_CONFIG, falls back to defaultSystemDirs
	LibraryRemap map[string]string
}

// defaultSystemDirs is used when GOVDL_CONFIG is unset or sets no
// system_dirs of its own.
var defaultSystemDirs = []string{"/lib", "/usr/lib", "/lib64", "/usr/lib64"}

// Load reads the environment and, if GOVDL_CONFIG is set, the YAML file
// it names.
func Load() (*Config, error) {
	c := &Config{
		LibraryPath:  splitLibraryPath(os.Getenv("LD_LIBRARY_PATH")),
		Preload:      strings.TrimSpace(os.Getenv("LD_PRELOAD")),
		BindNow:      os.Getenv("LD_BIND_NOW") != "",
		LogTokens:    os.Getenv("LD_LOG"),
		SystemDirs:   defaultSystemDirs,
		LibraryRemap: map[string]string{},
	}

	path := os.Getenv("GOVDL_CONFIG")
	if path == "" {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(f.SystemDirs) > 0 {
		c.SystemDirs = f.SystemDirs
	}
	for from, to := range f.LibraryRemap {
		c.LibraryRemap[from] = to
	}
	return c, nil
}

func splitLibraryPath(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ":")
	for i, p := range parts {
		if p == "" {
			parts[i] = "."
		}
	}
	return parts
}

// ApplyEngine copies the process-wide settings (search directories,
// bind-now) onto e. It does not touch per-context remap tables; call
// ApplyContext for those once a Context exists.
func (c *Config) ApplyEngine(e *vdlctx.Engine) {
	e.SearchDirs = c.SystemDirs
	e.BindNow = c.BindNow
}

// ApplyContext installs the library remap table onto ctx (e.g.
// "libdl.so" -> "libvdl.so"), the configurable form of the hardcoded
// remap the resolver otherwise leaves empty.
func (c *Config) ApplyContext(ctx *vdlctx.Context) {
	for from, to := range c.LibraryRemap {
		ctx.LibraryRemap[from] = to
	}
}
