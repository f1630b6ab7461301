package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/elfloader/govdl/internal/symname"
)

func newDemangleCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "demangle [name...]",
		Short: "Demangle Itanium C++ symbol names",
		Long: `demangle prints the human-readable form of one or more mangled names
given as arguments, or reads one name per line from stdin if none are
given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fn := symname.Demangle
			if full {
				fn = symname.DemangleFull
			}
			if len(args) > 0 {
				for _, name := range args {
					fmt.Println(fn(name))
				}
				return nil
			}
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				fmt.Println(fn(scanner.Text()))
			}
			return scanner.Err()
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include function parameter types in the demangled form")
	return cmd
}
