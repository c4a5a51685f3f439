// Command mesonpy-go is the executable a `pyproject.toml` build-backend entry execs: a thin
// cobra shim over the PEP 517/660 hooks implemented in pkg/mesonpy.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesonpy-go/mesonpy/pkg/cliutil"
)

var argparser = &cobra.Command{
	Use:   "mesonpy-go {[flags]|SUBCOMMAND...}",
	Short: "PEP 517/660 build backend for Meson projects",

	Args: cliutil.OnlySubcommands,
	RunE: cliutil.RunSubcommands,

	SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
	SilenceUsage:  true, // our FlagErrorFunc will handle it
}

func init() {
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)
}

func main() {
	ctx := context.Background()

	if err := argparser.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(argparser.ErrOrStderr(), "%s: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
}
