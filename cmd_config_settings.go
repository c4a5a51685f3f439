package main

import (
	"encoding/json"

	"github.com/spf13/pflag"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy"
)

// addConfigSettingsFlag wires the --config-setting flag onto cmd, mirroring how pip's front end
// repeats "--config-setting key=value" once per entry; a bare "key" (no "=") is recorded as the
// empty string, matching a front-end passing a boolean toggle.
func addConfigSettingsFlag(flags *pflag.FlagSet) *[]string {
	return flags.StringArray("config-setting", nil, "a key=value config_settings entry; may be repeated")
}

func parseConfigSettingsFlag(raw []string) (mesonpy.ConfigSettings, error) {
	settings := mesonpy.RawConfigSettings{}
	for _, kv := range raw {
		key, value := splitKeyValue(kv)
		settings[key] = append(settings[key], value)
	}
	return mesonpy.ParseConfigSettings(settings)
}

func splitKeyValue(kv string) (key, value string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

// marshalRequires renders a GetRequiresForBuild* result as the JSON array front ends expect back
// on stdout.
func marshalRequires(reqs []string) ([]byte, error) {
	return json.Marshal(reqs)
}
