// Package nativefile generates the Meson native file content that points a build at the
// interpreter and compiler flags the Tag Resolver determined, so that introspection and the actual
// build agree on what interpreter is being targeted. It does not generate a cross file.
//
// The generator is a pure function of its inputs, in the same spirit as the teacher's
// configparser.go: build up an ini-like document in memory, then render it once.
package nativefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/datawire/dlib/dexec"
	"sigs.k8s.io/yaml"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/tag"
)

// Environment is the subset of build environment values a native file needs to record.
type Environment struct {
	PythonExecutable string
	// Prefix, PurelibDir, and PlatlibDir are the binding paths spec.md §4.2 requires: where
	// the target interpreter's installation prefix lives, and where it expects pure-Python and
	// platform-specific packages to land. Meson needs these to agree with the Install Plan
	// Mapper's own py_purelib/py_platlib placeholders, or introspection and the actual install
	// step would disagree about where files go.
	Prefix           string
	PurelibDir       string
	PlatlibDir       string
	CFlags           []string
	CXXFlags         []string
	LDFlags          []string
	PkgConfigPath    []string
	ExtraBinaries    map[string]string // e.g. "pkg-config" -> "/usr/bin/pkg-config"
	ExtraProperties  map[string]string
}

// section is an ordered (key, value) list rendered under a single [name] heading. Ordering is
// kept explicit (rather than derived from a map) so the generated file is reproducible byte for
// byte across runs with identical inputs.
type section struct {
	name    string
	entries []entry
}

type entry struct {
	key   string
	value string
}

// Generate renders the native file for wt, honoring the ambient Environment.
//
// Generate never errors: any input it's given maps onto a valid ini-like document, even if that
// document would later cause Meson itself to fail (that failure surfaces through the Meson Driver,
// not here).
func Generate(env Environment, wt tag.WheelTag) string {
	binaries := []entry{{"python", quote(env.PythonExecutable)}}
	names := make([]string, 0, len(env.ExtraBinaries))
	for name := range env.ExtraBinaries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		binaries = append(binaries, entry{name, quote(env.ExtraBinaries[name])})
	}

	built := []entry{
		{"c_args", quoteList(env.CFlags)},
		{"cpp_args", quoteList(env.CXXFlags)},
		{"c_link_args", quoteList(env.LDFlags)},
		{"cpp_link_args", quoteList(env.LDFlags)},
	}

	props := []entry{
		{"pure", boolStr(wt.PurelibOnly)},
	}
	if len(env.PkgConfigPath) > 0 {
		props = append(props, entry{"pkg_config_path", quoteList(env.PkgConfigPath)})
	}
	propNames := make([]string, 0, len(env.ExtraProperties))
	for name := range env.ExtraProperties {
		propNames = append(propNames, name)
	}
	sort.Strings(propNames)
	for _, name := range propNames {
		props = append(props, entry{name, quote(env.ExtraProperties[name])})
	}

	var paths []entry
	if env.Prefix != "" {
		paths = append(paths, entry{"prefix", quote(env.Prefix)})
	}
	if env.PurelibDir != "" {
		paths = append(paths, entry{"purelibdir", quote(env.PurelibDir)})
	}
	if env.PlatlibDir != "" {
		paths = append(paths, entry{"platlibdir", quote(env.PlatlibDir)})
	}

	sections := []section{
		{name: "binaries", entries: binaries},
		{name: "built-in options", entries: built},
		{name: "properties", entries: props},
	}
	if len(paths) > 0 {
		sections = append(sections, section{name: "paths", entries: paths})
	}

	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s]\n", s.name)
		for _, e := range s.entries {
			fmt.Fprintf(&b, "%s = %s\n", e.key, e.value)
		}
	}
	return b.String()
}

// QueryInstallScheme shells out to pythonExe, the way tag.Query does, to ask it where it expects
// its own prefix, pure-Python packages, and platform-specific packages to live. Generate needs
// these so the native file's binding paths agree with what the Install Plan Mapper's
// py_purelib/py_platlib classification expects on disk.
func QueryInstallScheme(ctx context.Context, pythonExe string) (prefix, purelibDir, platlibDir string, err error) {
	cmd := dexec.CommandContext(ctx, pythonExe, "-c", `
import json, sys, sysconfig
json.dump({
    "prefix": sys.prefix,
    "purelib": sysconfig.get_path("purelib"),
    "platlib": sysconfig.get_path("platlib"),
}, sys.stdout)
`)
	cmd.DisableLogging = true
	out, err := cmd.Output()
	if err != nil {
		var exitErr *dexec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%w:\n > %s", err, strings.ReplaceAll(string(exitErr.Stderr), "\n", "\n > "))
		}
		return "", "", "", fmt.Errorf("nativefile.QueryInstallScheme: running %s: %w", pythonExe, err)
	}
	var info struct {
		Prefix  string `json:"prefix"`
		Purelib string `json:"purelib"`
		Platlib string `json:"platlib"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return "", "", "", fmt.Errorf("nativefile.QueryInstallScheme: parsing interpreter introspection: %w", err)
	}
	return info.Prefix, info.Purelib, info.Platlib, nil
}

// Override is an optional user-supplied machine-description fragment, layered on top of the
// introspected Environment before Generate runs. It's YAML (not Meson's own ini dialect) because
// it's addressed to this backend, not to Meson directly — sigs.k8s.io/yaml, the same library the
// teacher uses for its platform file, keeps the decoding idiom consistent across the pack.
type Override struct {
	Binaries   map[string]string `json:"binaries,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// LoadOverride reads and decodes an Override file at path.
func LoadOverride(path string) (*Override, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &mesonerrors.IoError{Op: "read", Path: path, Cause: err}
	}
	var o Override
	if err := yaml.UnmarshalStrict(data, &o); err != nil {
		return nil, &mesonerrors.IoError{Op: "parse", Path: path, Cause: err}
	}
	return &o, nil
}

// Apply merges o into env, with o's entries taking precedence over any key env already set.
func (o *Override) Apply(env Environment) Environment {
	if o == nil {
		return env
	}
	if len(o.Binaries) > 0 {
		if env.ExtraBinaries == nil {
			env.ExtraBinaries = map[string]string{}
		}
		for k, v := range o.Binaries {
			env.ExtraBinaries[k] = v
		}
	}
	if len(o.Properties) > 0 {
		if env.ExtraProperties == nil {
			env.ExtraProperties = map[string]string{}
		}
		for k, v := range o.Properties {
			env.ExtraProperties[k] = v
		}
	}
	return env
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "\\'") + "'"
}

func quoteList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = quote(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
