// Package metadata assembles a wheel's METADATA / sdist's PKG-INFO content from the project's
// declared pyproject.toml fields plus whatever Meson's own project() call reports for fields the
// project marked dynamic.
//
// Field syntax validation is grounded on pep345's Requires-Python specifier grammar: the same
// clause parser that decides install compatibility here simply validates the string is
// well-formed before it's written out.
package metadata

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/config"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/pep345"
)

// Metadata is a core-metadata document (METADATA / PKG-INFO), version 2.1.
type Metadata struct {
	Name           string
	Version        string
	Summary        string
	Description    string
	RequiresPython string
	License        string
	Classifiers    []string
	RequiresDist   []string
	ProjectURLs    map[string]string
	Authors        []Contact
	Maintainers    []Contact
}

// Contact is a PEP 621 author/maintainer entry.
type Contact struct {
	Name  string
	Email string
}

// Assemble builds a Metadata from a validated ProjectConfig and the version Meson's project()
// reports (used only when the project declared "version" dynamic).
func Assemble(cfg *config.ProjectConfig, mesonVersion string, extra Metadata) (*Metadata, error) {
	version := cfg.Version
	if version == "" {
		version = mesonVersion
	}
	if version == "" {
		return nil, &mesonerrors.MetadataError{Reason: "no version available: neither [project.version] nor Meson's project() declared one"}
	}

	if cfg.RequiresPython != "" {
		if _, err := pep345.ParseVersionSpecifier(cfg.RequiresPython); err != nil {
			return nil, &mesonerrors.MetadataError{Reason: fmt.Sprintf("invalid requires-python %q: %v", cfg.RequiresPython, err)}
		}
	}

	m := extra
	m.Name = cfg.DistName
	m.Version = version
	m.RequiresPython = cfg.RequiresPython
	return &m, nil
}

// Render formats m as an RFC 822-like core-metadata document (METADATA or PKG-INFO; the two
// formats are identical apart from filename).
func (m *Metadata) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Metadata-Version: 2.1\n")
	fmt.Fprintf(&b, "Name: %s\n", m.Name)
	fmt.Fprintf(&b, "Version: %s\n", m.Version)
	if m.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", m.Summary)
	}
	if m.RequiresPython != "" {
		fmt.Fprintf(&b, "Requires-Python: %s\n", m.RequiresPython)
	}
	if m.License != "" {
		fmt.Fprintf(&b, "License: %s\n", m.License)
	}

	classifiers := append([]string(nil), m.Classifiers...)
	sort.Strings(classifiers)
	for _, c := range classifiers {
		fmt.Fprintf(&b, "Classifier: %s\n", c)
	}

	for _, a := range m.Authors {
		fmt.Fprintf(&b, "Author: %s\n", a.Name)
		if a.Email != "" {
			fmt.Fprintf(&b, "Author-email: %s <%s>\n", a.Name, a.Email)
		}
	}
	for _, mt := range m.Maintainers {
		fmt.Fprintf(&b, "Maintainer: %s\n", mt.Name)
		if mt.Email != "" {
			fmt.Fprintf(&b, "Maintainer-email: %s <%s>\n", mt.Name, mt.Email)
		}
	}

	urlNames := make([]string, 0, len(m.ProjectURLs))
	for name := range m.ProjectURLs {
		urlNames = append(urlNames, name)
	}
	sort.Strings(urlNames)
	for _, name := range urlNames {
		fmt.Fprintf(&b, "Project-URL: %s, %s\n", name, m.ProjectURLs[name])
	}

	dists := append([]string(nil), m.RequiresDist...)
	sort.Strings(dists)
	for _, d := range dists {
		fmt.Fprintf(&b, "Requires-Dist: %s\n", d)
	}

	if m.Description != "" {
		b.WriteString("\n")
		b.WriteString(m.Description)
		b.WriteString("\n")
	}
	return b.String()
}
