// Package config loads and validates the `[tool.meson-python]` table of a project's
// pyproject.toml, producing an immutable ProjectConfig consumed by every other component.
//
// Parsing follows the teacher's own TOML convention for recipe-shaped config (see the pack's
// tsuku recipe loader): unmarshal into a typed struct, then run a validation pass that returns
// *mesonerrors.ConfigError with a JSON-pointer-shaped field path.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
)

// PyProjectFile is the subset of pyproject.toml this backend cares about.
type PyProjectFile struct {
	Project struct {
		Name           string            `toml:"name"`
		Version        string            `toml:"version"`
		Dynamic        []string          `toml:"dynamic"`
		RequiresPython string            `toml:"requires-python"`
		Scripts        map[string]string `toml:"scripts"`
		GUIScripts     map[string]string `toml:"gui-scripts"`
	} `toml:"project"`
	Tool struct {
		MesonPython RawConfig `toml:"meson-python"`
	} `toml:"tool"`
}

// RawConfig is the literal shape of `[tool.meson-python]`, before validation.
type RawConfig struct {
	MesonVersion string `toml:"meson-version"` // version specifier constraining the `meson` binary
	Args         struct {
		Setup   []string `toml:"setup"`
		Compile []string `toml:"compile"`
		Install []string `toml:"install"`
		Dist    []string `toml:"dist"`
	} `toml:"args"`
	LimitedAPI                     bool   `toml:"limited-api"`
	AllowWindowsInternalSharedLibs bool   `toml:"allow-windows-internal-shared-libs"`
	BuildDir                       string `toml:"build-dir"`
	EditableVerbose                bool   `toml:"editable-verbose"`
	Wheel                          struct {
		PackagesInclude []string `toml:"packages"`
		Include         []string `toml:"include"`
		Exclude         []string `toml:"exclude"`
		InstallDir      string   `toml:"install-dir"`
	} `toml:"wheel"`
	SourceDir []string `toml:"source-dir"`
}

// ProjectConfig is the validated, immutable configuration a build actually runs with.
type ProjectConfig struct {
	DistName           string
	Version            string
	DynamicFields      []string
	RequiresPython     string
	MesonVersionSpec   string
	SetupArgs          []string
	CompileArgs        []string
	InstallArgs        []string
	DistArgs           []string
	LimitedAPI         bool
	AllowWindowsLibs   bool
	PersistentBuildDir string
	EditableVerbose    bool
	WheelInclude       []string
	WheelExclude       []string
	WheelInstallDir    string
	MesonExecutable    string
	// Scripts/GUIScripts are "name" -> "package.module:func" entry points, per PEP 621's
	// [project.scripts]/[project.gui-scripts] tables.
	Scripts    map[string]string
	GUIScripts map[string]string
}

// Load reads and validates pyproject.toml at path.
func Load(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &mesonerrors.IoError{Op: "read", Path: path, Cause: err}
	}
	return Parse(data)
}

// Parse validates a pyproject.toml document already read into memory.
func Parse(data []byte) (*ProjectConfig, error) {
	var raw PyProjectFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, &mesonerrors.ConfigError{Field: "/", Reason: fmt.Sprintf("invalid TOML: %v", err)}
	}

	if raw.Project.Name == "" {
		return nil, &mesonerrors.ConfigError{Field: "/project/name", Reason: "required"}
	}

	cfg := &ProjectConfig{
		DistName:          normalizeDistName(raw.Project.Name),
		Version:           raw.Project.Version,
		DynamicFields:     raw.Project.Dynamic,
		RequiresPython:    raw.Project.RequiresPython,
		MesonVersionSpec:  raw.Tool.MesonPython.MesonVersion,
		SetupArgs:         raw.Tool.MesonPython.Args.Setup,
		CompileArgs:       raw.Tool.MesonPython.Args.Compile,
		InstallArgs:       raw.Tool.MesonPython.Args.Install,
		DistArgs:          raw.Tool.MesonPython.Args.Dist,
		LimitedAPI:        raw.Tool.MesonPython.LimitedAPI,
		AllowWindowsLibs:  raw.Tool.MesonPython.AllowWindowsInternalSharedLibs,
		PersistentBuildDir: raw.Tool.MesonPython.BuildDir,
		EditableVerbose:   raw.Tool.MesonPython.EditableVerbose,
		WheelInclude:      raw.Tool.MesonPython.Wheel.Include,
		WheelExclude:      raw.Tool.MesonPython.Wheel.Exclude,
		WheelInstallDir:   raw.Tool.MesonPython.Wheel.InstallDir,
		MesonExecutable:   os.Getenv("MESON"),
		Scripts:           raw.Project.Scripts,
		GUIScripts:        raw.Project.GUIScripts,
	}
	if cfg.MesonExecutable == "" {
		cfg.MesonExecutable = "meson"
	}

	if err := validate(cfg, raw); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *ProjectConfig, raw PyProjectFile) error {
	for _, field := range cfg.DynamicFields {
		if field != "version" {
			return &mesonerrors.ConfigError{
				Field:  "/project/dynamic",
				Reason: fmt.Sprintf("field %q cannot be dynamic for a Meson project; only \"version\" is supported", field),
			}
		}
	}
	dynamicVersion := false
	for _, f := range cfg.DynamicFields {
		if f == "version" {
			dynamicVersion = true
		}
	}
	if !dynamicVersion && cfg.Version == "" {
		return &mesonerrors.ConfigError{Field: "/project/version", Reason: "required unless \"version\" is declared dynamic"}
	}
	if dynamicVersion && cfg.Version != "" {
		return &mesonerrors.ConfigError{
			Field:  "/project/version",
			Reason: "must not be set when \"version\" is declared dynamic",
		}
	}
	for i, g := range cfg.WheelExclude {
		if g == "" {
			return &mesonerrors.ConfigError{Field: fmt.Sprintf("/tool/meson-python/wheel/exclude/%d", i), Reason: "empty pattern"}
		}
	}
	return nil
}

// normalizeDistName applies the wheel spec's filename-escaping rule (lowercase, runs of
// non-alphanumeric characters collapsed to a single "_"), not PEP 503's index-normalization rule
// (which collapses to "-" instead). The wheel/sdist filenames use "-" as the field separator
// between distname, version, and tag, so the distname itself must never contain one, or it would
// be ambiguous to parse back apart.
func normalizeDistName(name string) string {
	out := make([]rune, 0, len(name))
	lastWasSep := false
	for _, r := range name {
		isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !isAlnum {
			if !lastWasSep {
				out = append(out, '_')
				lastWasSep = true
			}
			continue
		}
		if r >= 'A' && r <= 'Z' {
			r += 'a' - 'A'
		}
		out = append(out, r)
		lastWasSep = false
	}
	return string(out)
}
