// Command vdlctl is the operator's companion to govdl: it inspects a
// running loader's link-map over the network, decodes a binary's
// relocations statically, and demangles C++ symbol names, grounded on
// the teacher's cmd/galago subcommand tree (`galago info <binary.so>`
// alongside the main trace command).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vdlctl",
		Short: "Operator CLI for govdl",
		Long: `vdlctl talks to a govdl process and to ELF binaries directly: it
fetches a live loader's link-map over HTTP/2 (inspect), walks a
binary's relocation tables without running it (relocs), and demangles
Itanium-mangled names (demangle).`,
		DisableFlagsInUseLine: true,
	}

	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newRelocsCmd())
	rootCmd.AddCommand(newDemangleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
