package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesonpy-go/mesonpy/pkg/cliutil"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy"
)

func init() {
	cmd := &cobra.Command{
		Use:   "prepare-metadata-for-build-wheel SOURCE_DIR METADATA_DIR",
		Short: "Implement the prepare_metadata_for_build_wheel PEP 517 hook",
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
			distInfoDir, err := b.PrepareMetadataForBuildWheel(cmd.Context(), args[1], settings)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), distInfoDir)
			return nil
		},
	}
	addConfigSettingsFlag(cmd.Flags())
	argparser.AddCommand(cmd)
}
