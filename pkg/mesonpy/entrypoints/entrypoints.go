// Package entrypoints renders entry_points.txt and the console/GUI script launchers it describes.
//
// This is the inverse of the teacher's entry_points package: instead of reading an installed
// entry_points.txt back out of a wheel to generate launcher scripts post-install, this package
// takes the project's own entry-point declarations and produces both the entry_points.txt to ship
// in .dist-info and the launcher scripts to ship in the wheel's scripts location, using the same
// template technique and module:func reference grammar.
package entrypoints

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
)

// Group names the two entry-point groups that get turned into launcher scripts; any other group
// (e.g. a plugin registry) is written to entry_points.txt verbatim and otherwise ignored.
type Group string

const (
	GroupConsoleScripts Group = "console_scripts"
	GroupGUIScripts     Group = "gui_scripts"
)

// Declaration is one project.scripts/project.gui-scripts entry: a launcher name mapped to a
// "module:func" reference.
type Declaration struct {
	Name string
	Ref  string // "package.module:func"
}

var scriptTmpl = template.Must(template.New("entry_point.py").Parse(`#!{{ .Shebang }}
# -*- coding: utf-8 -*-
import re
import sys
from {{ .Module }} import {{ .Func }}
if __name__ == '__main__':
    sys.argv[0] = re.sub(r'(-script\.pyw|\.exe)?$', '', sys.argv[0])
    sys.exit({{ .Func }}())
`))

var reFuncRef = regexp.MustCompile(`^(?P<callable>\w+([:.]\w+)*)(?:\s*\[.*\])?$`)

// Shebangs carries the interpreter paths entry-point launchers should invoke.
type Shebangs struct {
	Console   string
	Graphical string
}

// Script is a rendered launcher: Name is the filename to place under the wheel's scripts
// location, Content is the script body.
type Script struct {
	Name    string
	Content []byte
}

// RenderScripts turns console_scripts/gui_scripts declarations into launcher Scripts.
func RenderScripts(groups map[Group][]Declaration, sb Shebangs) ([]Script, error) {
	shebangFor := map[Group]string{
		GroupConsoleScripts: sb.Console,
		GroupGUIScripts:     sb.Graphical,
	}

	var scripts []Script
	for _, group := range []Group{GroupConsoleScripts, GroupGUIScripts} {
		decls := groups[group]
		sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
		for _, d := range decls {
			m := reFuncRef.FindStringSubmatch(d.Ref)
			if m == nil {
				return nil, &mesonerrors.MetadataError{Reason: fmt.Sprintf("entry point %q: not a function reference: %q", d.Name, d.Ref)}
			}
			funcRef := m[reFuncRef.SubexpIndex("callable")]
			parts := strings.SplitN(funcRef, ":", 2)
			if len(parts) != 2 {
				return nil, &mesonerrors.MetadataError{Reason: fmt.Sprintf("entry point %q: not a function reference: %q", d.Name, d.Ref)}
			}
			var buf bytes.Buffer
			if err := scriptTmpl.Execute(&buf, map[string]string{
				"Shebang": shebangFor[group],
				"Module":  parts[0],
				"Func":    parts[1],
			}); err != nil {
				return nil, &mesonerrors.MetadataError{Reason: fmt.Sprintf("rendering entry point %q: %v", d.Name, err)}
			}
			scripts = append(scripts, Script{Name: d.Name, Content: buf.Bytes()})
		}
	}
	return scripts, nil
}

// RenderEntryPointsTxt renders the .dist-info/entry_points.txt content, in the Python
// configparser ini format, with groups and names sorted for reproducibility.
func RenderEntryPointsTxt(groups map[Group][]Declaration, extra map[string]map[string]string) string {
	var names []string
	rendered := map[string]map[string]string{}
	for g, decls := range groups {
		section := map[string]string{}
		for _, d := range decls {
			section[d.Name] = d.Ref
		}
		rendered[string(g)] = section
	}
	for name, section := range extra {
		if rendered[name] == nil {
			rendered[name] = map[string]string{}
		}
		for k, v := range section {
			rendered[name][k] = v
		}
	}
	for name := range rendered {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, section := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s]\n", section)
		keys := make([]string, 0, len(rendered[section]))
		for k := range rendered[section] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s = %s\n", k, rendered[section][k])
		}
	}
	return b.String()
}
