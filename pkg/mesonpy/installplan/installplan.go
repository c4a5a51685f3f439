// Package installplan implements the Install Plan Mapper: the contract between Meson's model of
// "files destined for {bindir}, {includedir}, ..." and the wheel's model of
// purelib/platlib/scripts/headers/data/internal_libs locations.
//
// This is the core ~25% of the backend (spec §4.4); everything here is a pure function of the
// introspected install plan plus the project's filters, grounded on the teacher's own preference
// for a declarative mapping table (see bdist's placeholder-to-location handling) generalized from
// "install a wheel" to "classify files for one".
package installplan

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
)

// FileKind classifies an InstallPlanEntry by what kind of artifact it is.
type FileKind string

const (
	KindExecutable      FileKind = "executable"
	KindSharedLibrary    FileKind = "shared-library"
	KindStaticLibrary    FileKind = "static-library"
	KindHeader           FileKind = "header"
	KindMan              FileKind = "man"
	KindData             FileKind = "data"
	KindPythonSource     FileKind = "python-source"
	KindExtensionModule  FileKind = "extension-module"
	KindGeneric          FileKind = "generic"
)

// Entry is one file Meson would install, as reported by the Meson Driver's introspection of
// intro-install_plan.json.
type Entry struct {
	// Source is the file's path in the build or source tree.
	Source string
	// Destination is "{placeholder}/relative/path", e.g. "{py_platlib}/mypkg/_native.so".
	Destination string
	Kind        FileKind
	Tags        []string
	Subproject  string
}

// SplitDestination exposes the Destination's "{placeholder}/relative" split for callers outside
// this package that need to locate the file on disk under a --destdir staging root (the Binary
// Rewriter, specifically), without duplicating the parsing.
func (e Entry) SplitDestination() (placeholder, rel string, ok bool) {
	return e.placeholder()
}

// placeholder extracts the "{...}" prefix and the path following it.
func (e Entry) placeholder() (ph, rel string, ok bool) {
	if !strings.HasPrefix(e.Destination, "{") {
		return "", "", false
	}
	end := strings.IndexByte(e.Destination, '}')
	if end < 0 {
		return "", "", false
	}
	ph = e.Destination[1:end]
	rel = strings.TrimPrefix(e.Destination[end+1:], "/")
	return ph, rel, true
}

// Location is a tagged union over the wheel's top-level destinations.
type Location int

const (
	LocationPurelib Location = iota
	LocationPlatlib
	LocationScripts
	LocationHeaders
	LocationData
	LocationInternalLibs
)

func (l Location) String() string {
	switch l {
	case LocationPurelib:
		return "purelib"
	case LocationPlatlib:
		return "platlib"
	case LocationScripts:
		return "scripts"
	case LocationHeaders:
		return "headers"
	case LocationData:
		return "data"
	case LocationInternalLibs:
		return "internal_libs"
	default:
		return "unknown"
	}
}

// Mapped is the result of classifying one Entry.
type Mapped struct {
	Entry
	Location Location
	// RelPath is the Entry's path within Location, e.g. "mypkg/_native.so".
	RelPath string
}

// placeholderTable is the declarative mapping table of spec §4.4. It's a map instead of scattered
// branching, on purpose: the Install Plan Mapper's whole job is classification, and a table makes
// the classification exhaustively testable.
var placeholderTable = map[string]Location{
	"py_purelib":   LocationPurelib,
	"py_platlib":   LocationPlatlib,
	"bindir":       LocationScripts,
	"includedir":   LocationHeaders,
	"libdir_shared": LocationInternalLibs,
	"datadir":      LocationData,
	"mandir":       LocationData,
}

// droppedPlaceholders map to nothing, with a warning, rather than an error.
var droppedPlaceholders = map[string]string{
	"libdir_static": "static libraries cannot be shipped in a wheel",
}

// InternalLibsDir is the hidden top-level directory name used for shared libraries that targeted
// the system library prefix (spec §3's WheelLocation.internal_libs).
func InternalLibsDir(distName string) string {
	return "." + distName + ".mesonpy.libs"
}

// Options configures a single mapping pass.
type Options struct {
	DistName            string
	Excludes            []string // shell-style globs, matched against Destination before substitution
	Includes            []string
	RequestedTags       []string // from `--tags`; empty means "no filter"
	SkipSubprojects     []string
	GOOS                string // target OS, for the Windows gate
	AllowWindowsLibs    bool
	SourceDir           string // project root; a symlink resolving outside of it is rejected
}

// Result is everything the packager needs after mapping: the files to place, whether the wheel is
// platform-dependent, and any warnings worth surfacing.
type Result struct {
	Files               []Mapped
	IsPlatformDependent bool
	Warnings            []string
}

// Map runs the whole Install Plan Mapper pipeline: placeholder classification, include/exclude
// filtering, tag filtering, subproject filtering, symlink resolution, then the invariant checks
// (split-package, unmapped-file, Windows gate).
//
// Map is deterministic: running it twice on an identical entries slice yields an identical Result
// (the idempotent-mapping property of spec §8), because every step here is a pure function of its
// inputs plus Options.
func Map(ctx context.Context, entries []Entry, opts Options) (Result, error) {
	var res Result

	kept := filterExcludes(entries, opts.Excludes)
	kept = rescueIncludes(entries, kept, opts.Includes)
	kept = filterTags(kept, opts.RequestedTags)
	kept = filterSubprojects(kept, opts.SkipSubprojects)

	for _, e := range kept {
		ph, rel, ok := e.placeholder()
		if !ok {
			return res, &mesonerrors.UnmappedFile{Source: e.Source, Destination: e.Destination}
		}

		if reason, dropped := droppedPlaceholders[ph]; dropped {
			res.Warnings = append(res.Warnings, "dropping "+e.Source+": "+reason)
			dlog.Warnf(ctx, "installplan: dropping %s: %s", e.Source, reason)
			continue
		}

		loc, known := placeholderTable[ph]
		if !known {
			return res, &mesonerrors.UnmappedFile{Source: e.Source, Destination: e.Destination}
		}

		// Extension modules always map to platlib (spec invariant), regardless of the
		// placeholder Meson happened to report (some Meson versions install them via
		// py_purelib when no build step actually varies per-interpreter).
		if e.Kind == KindExtensionModule {
			loc = LocationPlatlib
		}

		if loc == LocationInternalLibs {
			rel = path.Join(InternalLibsDir(opts.DistName), path.Base(rel))
		}

		res.Files = append(res.Files, Mapped{Entry: e, Location: loc, RelPath: rel})
	}

	if err := resolveSymlinks(res.Files, opts.SourceDir); err != nil {
		return res, err
	}

	if err := checkSplitPackage(res.Files); err != nil {
		return res, err
	}

	res.IsPlatformDependent = determinePurity(res.Files)

	if opts.GOOS == "windows" && !opts.AllowWindowsLibs {
		var libs []string
		for _, f := range res.Files {
			if f.Location == LocationInternalLibs {
				libs = append(libs, f.Source)
			}
		}
		if len(libs) > 0 {
			return res, &mesonerrors.WindowsInternalLibForbidden{Libraries: libs}
		}
	}

	sort.Slice(res.Files, func(i, j int) bool {
		return res.Files[i].RelPath < res.Files[j].RelPath
	})

	return res, nil
}

// filterExcludes drops entries matching any exclude glob, matched against Destination before
// placeholder substitution, per spec §4.4 step 1. Excludes are applied before includes, so an
// exclude always wins a tie against an include that matches the same path (spec §9's open
// question: this implementation treats excludes as dominant).
func filterExcludes(entries []Entry, excludes []string) []Entry {
	if len(excludes) == 0 {
		return entries
	}
	var kept []Entry
	for _, e := range entries {
		if matchesAny(excludes, e.Destination) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// rescueIncludes re-adds entries (from the full original set) matching an include glob, even if
// they were dropped by filterExcludes — unless they're ALSO excluded, since excludes dominate.
func rescueIncludes(all, kept []Entry, includes []string) []Entry {
	if len(includes) == 0 {
		return kept
	}
	already := make(map[string]bool, len(kept))
	for _, e := range kept {
		already[e.Source] = true
	}
	result := kept
	for _, e := range all {
		if already[e.Source] {
			continue
		}
		if matchesAny(includes, e.Destination) {
			result = append(result, e)
			already[e.Source] = true
		}
	}
	return result
}

func matchesAny(globs []string, name string) bool {
	for _, g := range globs {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
		// Also try matching the basename, since wheel.exclude/include patterns are commonly
		// written without the {placeholder} prefix.
		if ok, _ := filepath.Match(g, path.Base(name)); ok {
			return true
		}
	}
	return false
}

// filterTags retains only entries whose tag set intersects requested, per spec §4.4 step 2. An
// empty requested slice means "no --tags filter was given."
func filterTags(entries []Entry, requested []string) []Entry {
	if len(requested) == 0 {
		return entries
	}
	want := make(map[string]bool, len(requested))
	for _, t := range requested {
		want[t] = true
	}
	var kept []Entry
	for _, e := range entries {
		for _, t := range e.Tags {
			if want[t] {
				kept = append(kept, e)
				break
			}
		}
	}
	return kept
}

// filterSubprojects drops entries whose subproject origin is in skip, per spec §4.4 step 3.
func filterSubprojects(entries []Entry, skip []string) []Entry {
	if len(skip) == 0 {
		return entries
	}
	drop := make(map[string]bool, len(skip))
	for _, s := range skip {
		drop[s] = true
	}
	var kept []Entry
	for _, e := range entries {
		if e.Subproject != "" && drop[e.Subproject] {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// resolveSymlinks enforces spec §4.4 step 4: a symlink whose resolved target falls outside
// sourceDir fails the build. Entries whose Source isn't a symlink at all (the overwhelming common
// case: build outputs in the build tree, ordinary files in the source tree) are left alone — this
// check only constrains symlinks, not every installed file's location.
func resolveSymlinks(files []Mapped, sourceDir string) error {
	if sourceDir == "" {
		return nil
	}
	absSourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return &mesonerrors.IoError{Op: "resolve source dir", Path: sourceDir, Cause: err}
	}
	for _, f := range files {
		info, err := os.Lstat(f.Source)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(f.Source)
		if err != nil {
			// Dangling symlink; surfaced later when something actually tries to open it.
			continue
		}
		rel, err := filepath.Rel(absSourceDir, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return &mesonerrors.SymlinkEscapesSourceTree{Source: f.Source, Target: target, SourceDir: absSourceDir}
		}
	}
	return nil
}

// checkSplitPackage enforces spec §4.4 step 6 / §8's split-package-exclusion property: no
// top-level Python package name may appear in both purelib and platlib.
func checkSplitPackage(files []Mapped) error {
	purelibTop := map[string]bool{}
	platlibTop := map[string]bool{}
	for _, f := range files {
		top := strings.SplitN(f.RelPath, "/", 2)[0]
		switch f.Location {
		case LocationPurelib:
			purelibTop[top] = true
		case LocationPlatlib:
			platlibTop[top] = true
		}
	}
	for name := range purelibTop {
		if platlibTop[name] {
			return &mesonerrors.SplitPackage{Name: name}
		}
	}
	return nil
}

// determinePurity reports whether the mapped files make the wheel platform-dependent, per spec
// §4.4 step 5 and §8's purity-consistency property.
func determinePurity(files []Mapped) bool {
	for _, f := range files {
		switch f.Location {
		case LocationPlatlib, LocationScripts, LocationHeaders, LocationData, LocationInternalLibs:
			return true
		}
	}
	return false
}
