// Command govdl is the program interpreter itself: the binary a
// dynamically-linked ELF executable's PT_INTERP would name, grounded on
// the teacher's cmd/galago/main.go cobra-rooted CLI but driving
// internal/bootstrap's map/resolve/relocate/init sequence instead of
// Unicorn emulation.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/elfloader/govdl/internal/arch"
	amd64backend "github.com/elfloader/govdl/internal/arch/amd64"
	i386backend "github.com/elfloader/govdl/internal/arch/i386"
	"github.com/elfloader/govdl/internal/bootstrap"
	"github.com/elfloader/govdl/internal/config"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/introspect"
	"github.com/elfloader/govdl/internal/libchook"
	"github.com/elfloader/govdl/internal/resolver"
	vdlruntime "github.com/elfloader/govdl/internal/runtime"
	"github.com/elfloader/govdl/internal/vdlctx"
	"github.com/elfloader/govdl/internal/vlog"
)

var introspectAddr string

func main() {
	rootCmd := &cobra.Command{
		Use:   "govdl <program> [args...]",
		Short: "User-space ELF program interpreter",
		Long: `govdl maps a dynamically-linked ELF executable and its shared library
dependencies, resolves symbols, applies relocations, and runs
constructors, the same job /lib64/ld-linux-x86-64.so.2 does for glibc
binaries.

Run it directly against a program (the same way ld-linux.so.2 can be
run by hand):

  govdl ./a.out arg1 arg2

Flags must precede the program path; everything from the program path
onward is that program's own argv, untouched.`,
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		RunE:                  runBootstrap,
	}
	rootCmd.Flags().SetInterspersed(false)
	rootCmd.Flags().StringVar(&introspectAddr, "introspect", "", "serve a link-map snapshot over HTTP/2 (h2c) at this address, e.g. 127.0.0.1:9000")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	path := args[0]
	targetArgv := args

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("govdl: %w", err)
	}
	vlog.Init(cfg.LogTokens)
	log := vlog.L

	backend, wordSize := selectBackend()

	engine := vdlctx.NewEngine()
	cfg.ApplyEngine(engine)

	mapper := image.New(engine)
	res := resolver.New(engine, mapper, cfg.SystemDirs, libDirName(), log)
	rt := vdlruntime.New(engine, mapper, res, backend, wordSize, log)
	rt.BindNow = cfg.BindNow

	patcher := libchook.New(backend, log)
	boot := bootstrap.New(rt, backend, patcher, log)
	boot.LibraryRemap = cfg.LibraryRemap

	if introspectAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if _, err := introspect.Listen(ctx, introspectAddr, engine); err != nil {
			return fmt.Errorf("govdl: introspect listener: %w", err)
		}
	}

	sysinfo := auxSysinfo(wordSize)
	result, err := boot.Start(path, targetArgv, os.Environ(), sysinfo)
	if err != nil {
		return fmt.Errorf("govdl: %s: %w", path, err)
	}

	// A genuine process handoff (building a fresh argc/argv/envp/auxv
	// stack image and jumping to result.EntryPoint, never returning into
	// the Go runtime) would permanently surrender this process to code
	// the Go scheduler no longer manages; that is future work (see
	// DESIGN.md). For now govdl reports what it resolved, the way
	// `ld-linux.so.2 --verify`/`--list` inspects a binary without
	// running it.
	fmt.Fprintf(os.Stdout, "resolved entry point: 0x%x\n", result.EntryPoint)
	return nil
}

func selectBackend() (arch.Backend, int) {
	switch runtime.GOARCH {
	case "386":
		return i386backend.Backend, i386backend.Backend.WordSize()
	default:
		return amd64backend.Backend, amd64backend.Backend.WordSize()
	}
}

func libDirName() string {
	if runtime.GOARCH == "386" {
		return "lib"
	}
	return "lib64"
}

// auxSysinfo recovers AT_SYSINFO (the vsyscall/vDSO entry some libc
// TCBs cache) from this process's own auxiliary vector, falling back to
// 0 (unused) if absent, the way AllocateThread already treats 0.
func auxSysinfo(wordSize int) uint64 {
	av, err := bootstrap.ReadAuxv(wordSize)
	if err != nil {
		return 0
	}
	return av[bootstrap.AtSysinfo]
}
