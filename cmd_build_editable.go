package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesonpy-go/mesonpy/pkg/cliutil"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy"
)

func init() {
	cmd := &cobra.Command{
		Use:   "build-editable SOURCE_DIR WHEEL_DIR",
		Short: "Implement the build_editable PEP 660 hook",
		Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := cmd.Flags().GetStringArray("config-setting")
			if err != nil {
				return err
			}
			settings, err := parseConfigSettingsFlag(raw)
			if err != nil {
				return err
			}

			b, err := mesonpy.Load(args[0])
			if err != nil {
				return err
			}
			filename, err := b.BuildEditable(cmd.Context(), args[1], settings)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), filename)
			return nil
		},
	}
	addConfigSettingsFlag(cmd.Flags())
	argparser.AddCommand(cmd)
}
