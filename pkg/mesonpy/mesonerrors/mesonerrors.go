// Package mesonerrors defines the closed error taxonomy surfaced at the invocation boundary.
//
// Every error the backend can fail with is one of the kinds in this package (or wraps one of
// them via %w), so that a front-end hook can type-switch on `errors.As` to decide how to report a
// failure, the way the teacher's subprocess-wrapping code type-switches on *dexec.ExitError.
package mesonerrors

import (
	"fmt"
)

// ConfigError reports an invalid user configuration, with a JSON-pointer-shaped Field naming the
// offending key (e.g. "/tool/meson-python/wheel/exclude/2").
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration at %s: %s", e.Field, e.Reason)
}

// UnsupportedInterpreter reports that the running interpreter's implementation isn't recognized.
type UnsupportedInterpreter struct {
	Implementation string
}

func (e *UnsupportedInterpreter) Error() string {
	return fmt.Sprintf("unsupported interpreter implementation: %q", e.Implementation)
}

// ConflictingCrossConfig reports that ARCHFLAGS and _PYTHON_HOST_PLATFORM disagree about the
// cross-compilation target.
type ConflictingCrossConfig struct {
	ArchFlags          string
	PythonHostPlatform string
}

func (e *ConflictingCrossConfig) Error() string {
	return fmt.Sprintf("ARCHFLAGS=%q conflicts with _PYTHON_HOST_PLATFORM=%q", e.ArchFlags, e.PythonHostPlatform)
}

// MesonPhase names which invocation of the Meson binary failed.
type MesonPhase string

const (
	PhaseSetup   MesonPhase = "setup"
	PhaseCompile MesonPhase = "compile"
	PhaseInstall MesonPhase = "install"
	PhaseDist    MesonPhase = "dist"
)

// MesonError reports that the external Meson (or Ninja) subprocess exited non-zero.
type MesonError struct {
	Phase    MesonPhase
	ExitCode int
	Stderr   string
}

func (e *MesonError) Error() string {
	msg := fmt.Sprintf("meson %s failed (exit code %d)", e.Phase, e.ExitCode)
	if e.Stderr != "" {
		msg += ":\n" + e.Stderr
	}
	return msg
}

// UnmappedFile reports an InstallPlanEntry that survived filtering but could not be classified
// into any WheelLocation.
type UnmappedFile struct {
	Source      string
	Destination string
}

func (e *UnmappedFile) Error() string {
	return fmt.Sprintf("no wheel location for install entry %q (destination %q)", e.Source, e.Destination)
}

// SymlinkEscapesSourceTree reports that an installed file's Source resolved, through one or more
// symlinks, to a target outside SourceDir.
type SymlinkEscapesSourceTree struct {
	Source    string
	Target    string
	SourceDir string
}

func (e *SymlinkEscapesSourceTree) Error() string {
	return fmt.Sprintf("symlink %q resolves to %q, outside source tree %q", e.Source, e.Target, e.SourceDir)
}

// SplitPackage reports that a top-level Python package name was mapped to both purelib and
// platlib.
type SplitPackage struct {
	Name string
}

func (e *SplitPackage) Error() string {
	return fmt.Sprintf("package %q has files in both purelib and platlib", e.Name)
}

// WindowsInternalLibForbidden reports that a build produced internal shared libraries on Windows
// without the allow-windows-internal-shared-libs opt-in.
type WindowsInternalLibForbidden struct {
	Libraries []string
}

func (e *WindowsInternalLibForbidden) Error() string {
	return fmt.Sprintf(
		"internal shared libraries %v require allow-windows-internal-shared-libs = true on Windows"+
			" (Windows has no RPATH equivalent; relocation cannot be made transparent to the loader)",
		e.Libraries,
	)
}

// RewriteError reports that the Binary Rewriter failed to adjust a native artifact's search path.
type RewriteError struct {
	File  string
	Cause error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewriting %s: %v", e.File, e.Cause)
}

func (e *RewriteError) Unwrap() error { return e.Cause }

// MetadataError reports that metadata assembly or validation failed.
type MetadataError struct {
	Reason string
}

func (e *MetadataError) Error() string {
	return "metadata: " + e.Reason
}

// UnknownConfigSetting reports that a front-end passed a config_settings key this backend doesn't
// recognize, with a did-you-mean suggestion against the closest known key.
type UnknownConfigSetting struct {
	Key        string
	DidYouMean string
}

func (e *UnknownConfigSetting) Error() string {
	if e.DidYouMean != "" {
		return fmt.Sprintf("unknown config_settings key %q (did you mean %q?)", e.Key, e.DidYouMean)
	}
	return fmt.Sprintf("unknown config_settings key %q", e.Key)
}

// IoError wraps a filesystem failure with the operation that triggered it.
type IoError struct {
	Op    string
	Path  string
	Cause error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }
