// Package editable renders the Python loader module installed in place of a wheel's purelib
// content for an editable (PEP 660) install: a small module that, on import, rebuilds the Meson
// project in-place and redirects subsequent imports at the live build/source tree.
//
// The loader is rendered with text/template the same way the teacher's entry_points package
// renders console-script launchers, just with a different template body.
package editable

import (
	"bytes"
	"text/template"
)

var loaderTmpl = template.Must(template.New("editable_loader.py").Parse(`# -*- coding: utf-8 -*-
# Generated editable loader; rebuilds {{ .DistName }} in place on the first import of the package.
import importlib.abc
import importlib.machinery
import importlib.util
import os
import sys

_VERBOSE = bool(os.environ.get({{ .VerboseEnvVar | printf "%q" }}))
_BUILD_DIR = {{ .BuildDir | printf "%q" }}
_INSTALL_DIR = {{ .InstallDir | printf "%q" }}
_REBUILD_CMD = {{ .RebuildCommand | printf "%q" }}

_rebuilt_once = False


def _rebuild():
    global _rebuilt_once
    if _rebuilt_once:
        return
    _rebuilt_once = True
    import subprocess
    if _VERBOSE:
        sys.stderr.write("{{ .DistName }}: rebuilding via " + _REBUILD_CMD + "\n")
    subprocess.check_call(_REBUILD_CMD, shell=True, cwd=_BUILD_DIR)


class _EditableFinder(importlib.abc.MetaPathFinder):
    def find_spec(self, fullname, path, target=None):
        if fullname != {{ .RootPackage | printf "%q" }} and not fullname.startswith({{ .RootPackage | printf "%q" }} + "."):
            return None
        _rebuild()
        search = [_INSTALL_DIR] + (path if path else [])
        spec = importlib.machinery.PathFinder.find_spec(fullname, search, target)
        return spec


def install():
    sys.meta_path.insert(0, _EditableFinder())


install()
`))

// Options parameterizes the rendered loader.
type Options struct {
	DistName       string
	RootPackage    string
	BuildDir       string
	InstallDir     string
	RebuildCommand string
	VerboseEnvVar  string
}

// Render produces the loader module's source.
func Render(opts Options) ([]byte, error) {
	if opts.VerboseEnvVar == "" {
		opts.VerboseEnvVar = "MESONPY_EDITABLE_VERBOSE"
	}
	var buf bytes.Buffer
	if err := loaderTmpl.Execute(&buf, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoaderModuleName is the synthetic module name placed in purelib to trigger the finder install
// on first import, matching the convention of "_{distname}_editable_loader".
func LoaderModuleName(distName string) string {
	return "_" + sanitizeIdentifier(distName) + "_editable_loader"
}

func sanitizeIdentifier(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
