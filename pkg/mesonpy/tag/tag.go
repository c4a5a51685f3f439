// Package tag resolves the wheel compatibility tag triple (python, abi, platform) for the
// interpreter that is driving the build.
//
// This is the Tag Resolver described by the build backend's design: it introspects the running
// CPython (or PyPy) interpreter the same way pyinspect used to introspect a target Python
// environment, and combines that with OS/environment-derived platform conventions.
package tag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/datawire/dlib/dexec"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/pep425"
)

// WheelTag is the (python, abi, platform) triple that determines a wheel's filename and
// installability, plus whether the wheel may be marked purelib-only.
type WheelTag struct {
	Python      string
	ABI         string
	Platform    string
	PurelibOnly bool
}

func (t WheelTag) pep425() pep425.Tag {
	return pep425.Tag{Python: t.Python, ABI: t.ABI, Platform: t.Platform}
}

// Pure is the wheel tag of a build whose install plan turned out to contain no
// platform-dependent files: PEP 427's universal "py3-none-any" triple.
func Pure() WheelTag {
	return WheelTag{Python: "py3", ABI: "none", Platform: "any", PurelibOnly: true}
}

// Final picks the tag that should actually be stamped on the packaged wheel: the concretely
// resolved interpreter/platform triple when the install plan turned out platform-dependent, or the
// universal Pure tag otherwise. Resolve itself cannot make this call, since purity is only known
// once the Install Plan Mapper has classified every installed file.
func Final(resolved WheelTag, isPlatformDependent bool) WheelTag {
	if isPlatformDependent {
		return resolved
	}
	return Pure()
}

// String renders the triple the way it appears in a wheel filename:
// "{python}-{abi}-{platform}".
func (t WheelTag) String() string {
	return t.pep425().String()
}

// interpreterInfo is the JSON payload we ask the interpreter to report about itself, mirroring the
// shape of pyinspect.DynamicInfo but scoped to what tag resolution needs.
type interpreterInfo struct {
	Implementation string `json:"implementation"` // "cpython" or "pypy"
	Major          int    `json:"major"`
	Minor          int    `json:"minor"`
	SOABI          string `json:"soabi"`
	PointerBits    int    `json:"pointer_bits"`
}

// Query shells out to pythonExe and asks it to report its own implementation/version/ABI, the way
// pyinspect.Dynamic used to query a target environment's scheme.
func Query(ctx context.Context, pythonExe string) (*interpreterInfo, error) {
	cmd := dexec.CommandContext(ctx, pythonExe, "-c", `
import json, platform, struct, sysconfig
json.dump({
    "implementation": platform.python_implementation().lower(),
    "major": __import__("sys").version_info.major,
    "minor": __import__("sys").version_info.minor,
    "soabi": sysconfig.get_config_var("SOABI") or "",
    "pointer_bits": struct.calcsize("P") * 8,
}, __import__("sys").stdout)
`)
	cmd.DisableLogging = true
	out, err := cmd.Output()
	if err != nil {
		var exitErr *dexec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%w:\n > %s", err, strings.ReplaceAll(string(exitErr.Stderr), "\n", "\n > "))
		}
		return nil, fmt.Errorf("tag.Query: running %s: %w", pythonExe, err)
	}
	var info interpreterInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("tag.Query: parsing interpreter introspection: %w", err)
	}
	return &info, nil
}

// Options configures tag resolution beyond what's discoverable from the interpreter/environment.
type Options struct {
	LimitedAPI         bool
	LimitedAPIMinMinor int // minimum targeted minor version for abi3, e.g. 8 for "3.8"
}

// Resolve computes the WheelTag for the interpreter at pythonExe, honoring the environment
// variables and toggles described in the Tag Resolver design.
func Resolve(ctx context.Context, pythonExe string, opts Options) (WheelTag, bool, error) {
	info, err := Query(ctx, pythonExe)
	if err != nil {
		return WheelTag{}, false, err
	}

	var pythonTag, abiTag string
	switch info.Implementation {
	case "cpython":
		pythonTag = fmt.Sprintf("cp%d%d", info.Major, info.Minor)
		if opts.LimitedAPI {
			minMinor := opts.LimitedAPIMinMinor
			if minMinor == 0 {
				minMinor = info.Minor
			}
			abiTag = "abi3"
			pythonTag = fmt.Sprintf("cp%d%d", info.Major, minMinor)
		} else {
			abiTag = soabiToAbiTag(info.SOABI, pythonTag)
		}
	case "pypy":
		pythonTag = fmt.Sprintf("pp%d%d", info.Major, info.Minor)
		// PyPy does not support the limited API; fall back to the full ABI tag regardless
		// of the LimitedAPI toggle.
		abiTag = soabiToAbiTag(info.SOABI, pythonTag)
	default:
		return WheelTag{}, false, &mesonerrors.UnsupportedInterpreter{Implementation: info.Implementation}
	}

	platformTag, isPlatformDependent, err := resolvePlatformTag(info.PointerBits)
	if err != nil {
		return WheelTag{}, false, err
	}

	return WheelTag{
		Python:   pythonTag,
		ABI:      abiTag,
		Platform: platformTag,
	}, isPlatformDependent, nil
}

func soabiToAbiTag(soabi, pythonTag string) string {
	if soabi == "" {
		return "none"
	}
	// CPython SOABI looks like "cpython-311-x86_64-linux-gnu"; pip's convention turns the
	// first two dash-delimited fields into the ABI tag, e.g. "cp311".
	parts := strings.SplitN(soabi, "-", 3)
	if len(parts) >= 2 && strings.HasPrefix(parts[0], "cpython") {
		return "cp" + parts[1]
	}
	if len(parts) >= 2 && strings.HasPrefix(parts[0], "pypy") {
		return strings.Join(parts[:2], "_")
	}
	return pythonTag
}

// resolvePlatformTag implements the OS-specific platform_tag conventions of the Tag Resolver
// design. It returns the platform tag and whether that tag makes the wheel platform-dependent
// (i.e. anything other than "any").
func resolvePlatformTag(pointerBits int) (string, bool, error) {
	archFlags := os.Getenv("ARCHFLAGS")
	hostPlatform := os.Getenv("_PYTHON_HOST_PLATFORM")

	switch runtime.GOOS {
	case "darwin":
		return resolveMacOSPlatformTag(archFlags, hostPlatform)
	case "linux":
		if manylinux := os.Getenv("_MESONPY_MANYLINUX_PLATFORM"); manylinux != "" {
			return manylinux, true, nil
		}
		return fmt.Sprintf("linux_%s", goArchToPythonArch(runtime.GOARCH)), true, nil
	case "windows":
		if pointerBits == 32 {
			return "win32", true, nil
		}
		return "win_amd64", true, nil
	case "freebsd":
		return fmt.Sprintf("freebsd_%s", runtime.GOARCH), true, nil
	case "solaris":
		return fmt.Sprintf("sunos_%s", runtime.GOARCH), true, nil
	default:
		return fmt.Sprintf("%s_%s", runtime.GOOS, runtime.GOARCH), true, nil
	}
}

// ParseArchFlags extracts the set of "-arch X" tokens from an ARCHFLAGS environment value. It is a
// pure function so that the cross-target detection logic can be unit-tested without macOS.
func ParseArchFlags(archFlags string) []string {
	fields := strings.Fields(archFlags)
	var arches []string
	for i := 0; i < len(fields); i++ {
		if fields[i] == "-arch" && i+1 < len(fields) {
			arches = append(arches, fields[i+1])
			i++
		}
	}
	return arches
}

func resolveMacOSPlatformTag(archFlags, hostPlatform string) (string, bool, error) {
	arches := ParseArchFlags(archFlags)

	arch := runtime.GOARCH
	if len(arches) == 1 && arches[0] != hostArchName() {
		arch = arches[0]
	} else if len(arches) > 1 {
		// Multiple -arch tokens describe a universal2 build; leave arch selection to the
		// caller's Native File Generator invocation, but still report a coherent tag.
		arch = "universal2"
	}

	if hostPlatform != "" {
		hpArch := hostPlatform[strings.LastIndex(hostPlatform, "-")+1:]
		if len(arches) == 1 && hpArch != "" && hpArch != arches[0] {
			return "", false, &mesonerrors.ConflictingCrossConfig{ArchFlags: archFlags, PythonHostPlatform: hostPlatform}
		}
	}

	deployment := os.Getenv("MACOSX_DEPLOYMENT_TARGET")
	major, minor := macOSDefaultDeploymentTarget(arch)
	if deployment != "" {
		parts := strings.SplitN(deployment, ".", 2)
		if len(parts) > 0 {
			if v, err := strconv.Atoi(parts[0]); err == nil {
				major = v
			}
		}
		if len(parts) > 1 {
			if v, err := strconv.Atoi(parts[1]); err == nil {
				minor = v
			}
		}
	}
	if major >= 11 {
		// On macOS 11+, Apple's versioning dropped the meaningful minor component; wheel
		// tags always normalize it to zero.
		minor = 0
	}

	darwinArch := macArchToPythonArch(arch)
	return fmt.Sprintf("macosx_%d_%d_%s", major, minor, darwinArch), true, nil
}

func macOSDefaultDeploymentTarget(arch string) (major, minor int) {
	if arch == "arm64" {
		// Apple Silicon shipped no macOS release predating 11.0.
		return 11, 0
	}
	return 10, 9
}

func hostArchName() string {
	return goArchToPythonArch(runtime.GOARCH)
}

func goArchToPythonArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "i686"
	case "arm64":
		return "aarch64"
	case "arm":
		return "armv7l"
	default:
		return goarch
	}
}

func macArchToPythonArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "arm64"
	case "universal2":
		return "universal2"
	default:
		return goarch
	}
}
