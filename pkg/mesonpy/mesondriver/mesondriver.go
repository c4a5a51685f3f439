// Package mesondriver wraps the external `meson` binary: the four subprocess phases (setup,
// compile, install, dist) plus the introspection calls that feed the Install Plan Mapper.
//
// Every subprocess is run through dexec, the way the teacher's pyinspect package queries an
// interpreter, so a non-zero exit is reported with captured stderr rather than a bare "exit status
// 1".
package mesondriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"
	"golang.org/x/term"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/installplan"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/tag"
)

// Driver runs the Meson phases for one build directory.
type Driver struct {
	// MesonExe is the path to (or name of) the meson binary; defaults to "meson".
	MesonExe  string
	SourceDir string
	BuildDir  string
	// NativeFile/CrossFile are paths to already-written native/cross file content; empty means
	// "don't pass --native-file/--cross-file".
	NativeFile string
	CrossFile  string
	WheelTag   tag.WheelTag
	Env        []string
	// Stdout/Stderr, if set, receive the live subprocess output (in addition to stderr always
	// being captured for error reporting). Leave nil to run fully captured.
	Stdout io.Writer
	Stderr io.Writer
}

func (d *Driver) exe() string {
	if d.MesonExe != "" {
		return d.MesonExe
	}
	return "meson"
}

// isInteractive reports whether stdout is attached to a terminal, the same check cliutil's
// GetTerminalWidth uses, here deciding whether Meson's own output streams live or stays captured.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func (d *Driver) run(ctx context.Context, phase mesonerrors.MesonPhase, args ...string) ([]byte, error) {
	return d.runBinary(ctx, d.exe(), phase, args...)
}

func (d *Driver) runBinary(ctx context.Context, binary string, phase mesonerrors.MesonPhase, args ...string) ([]byte, error) {
	cmd := dexec.CommandContext(ctx, binary, args...)
	if len(d.Env) > 0 {
		cmd.Env = d.Env
	}
	dlog.Debugf(ctx, "meson %s: %s %v", phase, binary, args)

	stream := d.Stdout != nil || d.Stderr != nil || isInteractive()
	if !stream {
		out, err := cmd.Output()
		if err != nil {
			return nil, wrapMesonError(phase, err)
		}
		return out, nil
	}

	stdout := d.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderrLive := d.Stderr
	if stderrLive == nil {
		stderrLive = os.Stderr
	}
	var stderrCapture bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(stderrLive, &stderrCapture)

	if err := cmd.Run(); err != nil {
		var exitErr *dexec.ExitError
		exitCode := -1
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &mesonerrors.MesonError{Phase: phase, ExitCode: exitCode, Stderr: stderrCapture.String()}
	}
	return nil, nil
}

func wrapMesonError(phase mesonerrors.MesonPhase, err error) error {
	var exitErr *dexec.ExitError
	exitCode := -1
	var stderr string
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
		stderr = string(exitErr.Stderr)
	}
	return &mesonerrors.MesonError{Phase: phase, ExitCode: exitCode, Stderr: stderr}
}

// Setup runs `meson setup`, reconfiguring an existing build directory in place when one is
// already configured there (so repeated invocations against a persistent build dir are cheap).
func (d *Driver) Setup(ctx context.Context, extraArgs []string) error {
	args := []string{"setup", d.BuildDir, d.SourceDir,
		"--buildtype=release",
		"-Db_ndebug=if-release",
	}
	if d.NativeFile != "" {
		args = append(args, "--native-file", d.NativeFile)
	}
	if d.CrossFile != "" {
		args = append(args, "--cross-file", d.CrossFile)
	}
	if isConfigured(d.BuildDir) {
		args = append(args, "--reconfigure")
	}
	args = append(args, extraArgs...)
	_, err := d.run(ctx, mesonerrors.PhaseSetup, args...)
	return err
}

// compilePlan is compileArgs's result: which binary to invoke (meson or ninja) and with what
// arguments. Split out as a pure function of its inputs so the Windows-vs-Unix branching is
// testable without actually invoking a compiler.
type compilePlan struct {
	binary   string
	args     []string
	viaMeson bool
}

// compileArgs decides how to build the configured tree. On Windows it goes through
// `meson compile`, since Windows toolchains commonly need MSVC environment variables meson's own
// wrapper already arranges; on every other platform it invokes ninja directly, saving a layer of
// subprocess indirection. ninjaOverride, if non-empty (the NINJA environment variable), names the
// ninja binary to invoke on the non-Windows path; the Windows plan does not use it.
func compileArgs(goos, buildDir string, extraArgs []string, ninjaOverride string) compilePlan {
	if goos == "windows" {
		args := []string{"compile", "-C", buildDir}
		if len(extraArgs) > 0 {
			args = append(args, "--ninja-args="+strings.Join(extraArgs, ","))
		}
		return compilePlan{args: args, viaMeson: true}
	}

	ninja := ninjaOverride
	if ninja == "" {
		ninja = "ninja"
	}
	return compilePlan{binary: ninja, args: append([]string{"-C", buildDir}, extraArgs...)}
}

// Compile builds the configured tree; see compileArgs for the platform-specific decision.
func (d *Driver) Compile(ctx context.Context, extraArgs []string) error {
	plan := compileArgs(runtime.GOOS, d.BuildDir, extraArgs, os.Getenv("NINJA"))
	if plan.viaMeson {
		_, err := d.run(ctx, mesonerrors.PhaseCompile, plan.args...)
		return err
	}
	_, err := d.runBinary(ctx, plan.binary, mesonerrors.PhaseCompile, plan.args...)
	return err
}

// Install runs `meson install` into destDir (a throwaway staging root, not the final
// site-packages), with --no-rebuild since Compile already ran.
func (d *Driver) Install(ctx context.Context, destDir string, extraArgs []string) error {
	args := []string{"install", "-C", d.BuildDir, "--destdir", destDir, "--no-rebuild", "--quiet"}
	args = append(args, extraArgs...)
	_, err := d.run(ctx, mesonerrors.PhaseInstall, args...)
	return err
}

// Dist runs `meson dist`, producing the source tarball Meson itself considers canonical.
func (d *Driver) Dist(ctx context.Context, extraArgs []string) (string, error) {
	args := []string{"dist", "-C", d.BuildDir, "--no-tests", "--allow-dirty", "--formats=gztar"}
	args = append(args, extraArgs...)
	if _, err := d.run(ctx, mesonerrors.PhaseDist, args...); err != nil {
		return "", err
	}
	info, err := d.IntrospectProject(ctx)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.tar.gz", info.DescriptiveName, info.Version)
	return filepath.Join(d.BuildDir, "meson-dist", name), nil
}

func isConfigured(buildDir string) bool {
	_, err := os.Stat(filepath.Join(buildDir, "meson-info", "meson-info.json"))
	return err == nil
}

// rawInstallPlan is the on-disk shape of intro-install_plan.json: a map from category name (a
// Meson placeholder, sans braces) to a map from source path to entry metadata.
type rawInstallPlan map[string]map[string]rawPlanEntry

type rawPlanEntry struct {
	Destination string   `json:"destination"`
	Tags        []string `json:"tags"`
	Subproject  string   `json:"subproject"`
}

// IntrospectInstallPlan reads intro-install_plan.json out of the configured build directory and
// turns it into the Install Plan Mapper's Entry shape.
func (d *Driver) IntrospectInstallPlan(ctx context.Context) ([]installplan.Entry, error) {
	path := filepath.Join(d.BuildDir, "meson-info", "intro-install_plan.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &mesonerrors.IoError{Op: "read", Path: path, Cause: err}
	}
	var raw rawInstallPlan
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &mesonerrors.IoError{Op: "parse", Path: path, Cause: err}
	}

	var entries []installplan.Entry
	for category, files := range raw {
		for source, e := range files {
			entries = append(entries, installplan.Entry{
				Source:      source,
				Destination: fmt.Sprintf("{%s}/%s", category, relativeDestination(e.Destination)),
				Kind:        classifyKind(category, source),
				Tags:        e.Tags,
				Subproject:  e.Subproject,
			})
		}
	}
	return entries, nil
}

// relativeDestination trims a leading "/" so the {placeholder}/rel form installplan expects is
// well-formed regardless of whether Meson reported the tail with or without a leading slash.
func relativeDestination(dest string) string {
	for len(dest) > 0 && dest[0] == '/' {
		dest = dest[1:]
	}
	return dest
}

func classifyKind(category, source string) installplan.FileKind {
	switch {
	case category == "bindir":
		return installplan.KindExecutable
	case category == "includedir":
		return installplan.KindHeader
	case category == "mandir":
		return installplan.KindMan
	case category == "libdir_shared":
		return installplan.KindSharedLibrary
	case category == "libdir_static":
		return installplan.KindStaticLibrary
	case category == "py_purelib", category == "py_platlib":
		if isExtensionSource(source) {
			return installplan.KindExtensionModule
		}
		return installplan.KindPythonSource
	default:
		return installplan.KindGeneric
	}
}

func isExtensionSource(source string) bool {
	ext := filepath.Ext(source)
	switch ext {
	case ".so", ".pyd", ".dylib":
		return true
	default:
		return false
	}
}

// ProjectInfo is the relevant subset of intro-project.json.
type ProjectInfo struct {
	DescriptiveName string `json:"descriptive_name"`
	Version         string `json:"version"`
	Subprojects     []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"subprojects"`
}

// IntrospectProject reads intro-project.json.
func (d *Driver) IntrospectProject(ctx context.Context) (*ProjectInfo, error) {
	path := filepath.Join(d.BuildDir, "meson-info", "intro-project.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &mesonerrors.IoError{Op: "read", Path: path, Cause: err}
	}
	var info ProjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &mesonerrors.IoError{Op: "parse", Path: path, Cause: err}
	}
	return &info, nil
}
