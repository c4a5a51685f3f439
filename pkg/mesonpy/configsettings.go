package mesonpy

import (
	"strings"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
)

// ConfigSettings is the parsed form of a front-end's config_settings mapping (spec.md §6): a
// dict of string keys to either a single string or a list of strings, same as PEP 517 allows.
type ConfigSettings struct {
	BuildDir        string
	SetupArgs       []string
	CompileArgs     []string
	InstallArgs     []string
	DistArgs        []string
	EditableVerbose bool
}

// knownConfigSettingsKeys lists every key this backend recognizes, "build-dir" and its alias
// "builddir" included, per spec.md §6.
var knownConfigSettingsKeys = []string{
	"build-dir", "builddir", "setup-args", "compile-args", "install-args", "dist-args", "editable-verbose",
}

// RawConfigSettings is config_settings as a front-end actually hands it across: string values are
// either one setting or, for the *-args keys, a front-end may repeat the key (modeled here as a
// slice).
type RawConfigSettings map[string][]string

// ParseConfigSettings validates raw against the recognized key set and assembles a ConfigSettings,
// failing with UnknownConfigSetting (including a did-you-mean suggestion) on any key outside it.
func ParseConfigSettings(raw RawConfigSettings) (ConfigSettings, error) {
	var out ConfigSettings
	for key, values := range raw {
		if !isKnownConfigSetting(key) {
			return out, &mesonerrors.UnknownConfigSetting{Key: key, DidYouMean: closestConfigSettingKey(key)}
		}
		switch key {
		case "build-dir", "builddir":
			if len(values) > 0 {
				out.BuildDir = values[len(values)-1]
			}
		case "setup-args":
			out.SetupArgs = append(out.SetupArgs, values...)
		case "compile-args":
			out.CompileArgs = append(out.CompileArgs, values...)
		case "install-args":
			out.InstallArgs = append(out.InstallArgs, values...)
		case "dist-args":
			out.DistArgs = append(out.DistArgs, values...)
		case "editable-verbose":
			out.EditableVerbose = len(values) > 0 && values[len(values)-1] != "" && values[len(values)-1] != "false"
		}
	}
	return out, nil
}

func isKnownConfigSetting(key string) bool {
	for _, k := range knownConfigSettingsKeys {
		if k == key {
			return true
		}
	}
	return false
}

// closestConfigSettingKey picks the recognized key with the smallest Levenshtein distance to key,
// for the UnknownConfigSetting did-you-mean suggestion. Ties favor the earlier entry in
// knownConfigSettingsKeys.
func closestConfigSettingKey(key string) string {
	best := ""
	bestDist := -1
	for _, k := range knownConfigSettingsKeys {
		d := levenshtein(key, k)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = k
		}
	}
	if bestDist > len(key)+2 {
		return ""
	}
	return best
}

func levenshtein(a, b string) int {
	ra, rb := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
