package main

import (
	"debug/elf"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/elfloader/govdl/internal/arch"
	amd64backend "github.com/elfloader/govdl/internal/arch/amd64"
	i386backend "github.com/elfloader/govdl/internal/arch/i386"
	"github.com/elfloader/govdl/internal/config"
	"github.com/elfloader/govdl/internal/image"
	"github.com/elfloader/govdl/internal/reloc"
	"github.com/elfloader/govdl/internal/resolver"
	"github.com/elfloader/govdl/internal/symbol"
	"github.com/elfloader/govdl/internal/tls"
	"github.com/elfloader/govdl/internal/ui/colorize"
	"github.com/elfloader/govdl/internal/vdlctx"
)

func newRelocsCmd() *cobra.Command {
	var showDeps bool
	cmd := &cobra.Command{
		Use:   "relocs <binary>",
		Short: "Decode a binary's relocations without running it",
		Long: `relocs maps path and its shared library dependencies, applies
relocations the same way govdl would, then dumps every processed
relocation: type, site, referenced symbol, and resolved value. No
constructor in path or any dependency runs; this inspects the result
of linking, not execution.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelocs(args[0], showDeps)
		},
	}
	cmd.Flags().BoolVar(&showDeps, "deps", false, "also dump relocations for every resolved dependency, not just the named binary")
	return cmd
}

func runRelocs(path string, showDeps bool) error {
	backend := selectBackendForRelocs()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("vdlctl: %w", err)
	}

	engine := vdlctx.NewEngine()
	cfg.ApplyEngine(engine)
	ctx := vdlctx.NewContext(engine)
	cfg.ApplyContext(ctx)

	mapper := image.New(engine)
	res := resolver.New(engine, mapper, cfg.SystemDirs, libDirNameForRelocs(), nil)
	tlsMgr := tls.New(engine)

	main, err := mapper.Map(ctx, path, "")
	if err != nil {
		return fmt.Errorf("vdlctl: map %s: %w", path, err)
	}
	ctx.AddLoaded(main.ID)
	engine.AppendLinkMap(main)

	newlyMapped, err := res.Resolve(ctx, main)
	if err != nil {
		return fmt.Errorf("vdlctl: resolve %s: %w", path, err)
	}
	all := append([]*vdlctx.File{main}, newlyMapped...)
	for _, f := range all {
		scope := make([]vdlctx.FileID, 0, len(f.Deps)+1)
		scope = append(scope, f.ID)
		scope = append(scope, f.Deps...)
		f.LocalScope = scope
		ctx.GlobalScope = append(ctx.GlobalScope, f.ID)
	}

	tlsMgr.InitializeAll(all, func(f *vdlctx.File) *elf.Prog { return f.TLSProg })
	if tls.HasStatic(all) {
		tlsMgr.LayoutStatic(all)
	}

	relocEngine := reloc.New(backend, func(f *vdlctx.File) []*vdlctx.File {
		return symbol.Scope(f, localScope(engine), globalScope(ctx, engine))
	}, nil)

	if err := relocEngine.RelocateAll(all, true); err != nil {
		return fmt.Errorf("vdlctl: relocate %s: %w", path, err)
	}

	targets := []*vdlctx.File{main}
	if showDeps {
		targets = all
	}
	for _, f := range targets {
		printRelocs(relocEngine, f)
	}
	return nil
}

func localScope(e *vdlctx.Engine) func(f *vdlctx.File) []*vdlctx.File {
	return func(f *vdlctx.File) []*vdlctx.File {
		out := make([]*vdlctx.File, 0, len(f.LocalScope))
		for _, id := range f.LocalScope {
			if x := e.File(id); x != nil {
				out = append(out, x)
			}
		}
		return out
	}
}

func globalScope(ctx *vdlctx.Context, e *vdlctx.Engine) func(f *vdlctx.File) []*vdlctx.File {
	return func(f *vdlctx.File) []*vdlctx.File {
		out := make([]*vdlctx.File, 0, len(ctx.GlobalScope))
		for _, id := range ctx.GlobalScope {
			if x := e.File(id); x != nil {
				out = append(out, x)
			}
		}
		return out
	}
}

func printRelocs(e *reloc.Engine, f *vdlctx.File) {
	fmt.Println(colorize.Header(f.DisplayName))
	for _, entry := range e.Dump(f) {
		sym := entry.Symbol
		if sym == "" {
			sym = "-"
		} else {
			sym = colorize.Symbol(sym)
		}
		fmt.Printf("  %s %-24s %s = %s\n",
			colorize.Address(entry.Offset),
			colorize.Detail(entry.TypeName),
			sym,
			colorize.HexBytes(fmt.Sprintf("0x%x", entry.Value)),
		)
	}
}

func selectBackendForRelocs() arch.Backend {
	switch runtime.GOARCH {
	case "386":
		return i386backend.Backend
	default:
		return amd64backend.Backend
	}
}

func libDirNameForRelocs() string {
	if runtime.GOARCH == "386" {
		return "lib"
	}
	return "lib64"
}
