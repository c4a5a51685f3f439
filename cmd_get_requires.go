package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesonpy-go/mesonpy/pkg/cliutil"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy"
)

func init() {
	for _, variant := range []struct {
		use string
		run func(b *mesonpy.Backend, cmd *cobra.Command, settings mesonpy.ConfigSettings) ([]string, error)
	}{
		{
			use: "get-requires-for-build-wheel SOURCE_DIR",
			run: func(b *mesonpy.Backend, cmd *cobra.Command, settings mesonpy.ConfigSettings) ([]string, error) {
				return b.GetRequiresForBuildWheel(cmd.Context(), settings)
			},
		},
		{
			use: "get-requires-for-build-sdist SOURCE_DIR",
			run: func(b *mesonpy.Backend, cmd *cobra.Command, settings mesonpy.ConfigSettings) ([]string, error) {
				return b.GetRequiresForBuildSdist(cmd.Context(), settings)
			},
		},
		{
			use: "get-requires-for-build-editable SOURCE_DIR",
			run: func(b *mesonpy.Backend, cmd *cobra.Command, settings mesonpy.ConfigSettings) ([]string, error) {
				return b.GetRequiresForBuildEditable(cmd.Context(), settings)
			},
		},
	} {
		variant := variant
		cmd := &cobra.Command{
			Use:   variant.use,
			Short: "Report extra requirements needed for this build",
			Args:  cliutil.WrapPositionalArgs(cobra.ExactArgs(1)),
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
				reqs, err := variant.run(b, cmd, settings)
				if err != nil {
					return err
				}
				data, err := marshalRequires(reqs)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			},
		}
		addConfigSettingsFlag(cmd.Flags())
		argparser.AddCommand(cmd)
	}
}
