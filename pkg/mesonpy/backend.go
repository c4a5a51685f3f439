// Package mesonpy is the build backend itself: the five PEP 517/660 hooks, composing the Tag
// Resolver, Native File Generator, Meson Driver, Install Plan Mapper, Binary Rewriter, and
// Artifact Packager in the pipeline order "setup → compile → introspect → map → rewrite →
// package", the way the teacher's cmd_layer_wheel.go composes pyinspect + bdist into one
// end-to-end command.
package mesonpy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/config"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/editable"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/entrypoints"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/installplan"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesondriver"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/metadata"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/nativefile"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/pyabi"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/pep440"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/rewrite"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/sdist"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/tag"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/wheel"
)

// Backend is one loaded project: its validated ProjectConfig plus the ambient knobs a front-end
// invocation carries (which interpreter is driving the build, which platform tools to shell out
// to). One Backend is built per invocation; nothing here is shared process-wide state.
type Backend struct {
	SourceDir        string
	Config           *config.ProjectConfig
	PythonExecutable string
	NativeOverride   *nativefile.Override
	Rewriter         rewrite.Rewriter
	GOOS             string // defaults to runtime.GOOS; overridable so the Windows gate is testable cross-platform
}

// recoverToError contains a panic at a hook boundary, turning it into an error instead of letting
// it unwind into the invoking front-end process. A panic during build_wheel killing the whole pip
// invocation would be far more surprising to a caller than a normal error return.
func recoverToError(err *error) {
	if r := recover(); r != nil {
		*err = derror.PanicToError(r)
	}
}

// Load reads and validates pyproject.toml under sourceDir.
func Load(sourceDir string) (*Backend, error) {
	cfg, err := config.Load(filepath.Join(sourceDir, "pyproject.toml"))
	if err != nil {
		return nil, err
	}
	return &Backend{SourceDir: sourceDir, Config: cfg}, nil
}

func (b *Backend) pythonExe() string {
	if b.PythonExecutable != "" {
		return b.PythonExecutable
	}
	if exe := os.Getenv("PYTHON"); exe != "" {
		return exe
	}
	return "python3"
}

func (b *Backend) goos() string {
	if b.GOOS != "" {
		return b.GOOS
	}
	return runtime.GOOS
}

// resolveBuildDir picks the build directory per spec.md §3's lifecycle rule: the invocation's
// config_settings override wins, then the project's persistent build-dir option, and only
// without either does the backend fall back to a throwaway temp directory the caller must clean
// up (cleanup is a no-op for a persistent directory).
func (b *Backend) resolveBuildDir(settings ConfigSettings) (dir string, cleanup func(), err error) {
	switch {
	case settings.BuildDir != "":
		dir = settings.BuildDir
	case b.Config.PersistentBuildDir != "":
		dir = filepath.Join(b.SourceDir, b.Config.PersistentBuildDir)
	default:
		dir, err = os.MkdirTemp("", "mesonpy-build-")
		if err != nil {
			return "", nil, &mesonerrors.IoError{Op: "mkdtemp", Path: "", Cause: err}
		}
		return dir, func() { _ = os.RemoveAll(dir) }, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, &mesonerrors.IoError{Op: "mkdir", Path: dir, Cause: err}
	}
	return dir, func() {}, nil
}

// session is everything a single wheel/sdist/editable pipeline invocation threads through its
// steps: the resolved tag, the configured driver, and the build directory's cleanup.
type session struct {
	buildDir string
	cleanup  func()
	driver   *mesondriver.Driver
	wheelTag tag.WheelTag
}

// configure runs the Tag Resolver, Native File Generator, and "meson setup" — the prefix shared
// by every backend hook that needs a configured build directory.
func (b *Backend) configure(ctx context.Context, settings ConfigSettings) (*session, error) {
	wt, _, err := tag.Resolve(ctx, b.pythonExe(), tag.Options{LimitedAPI: b.Config.LimitedAPI})
	if err != nil {
		return nil, err
	}

	prefix, purelibDir, platlibDir, err := nativefile.QueryInstallScheme(ctx, b.pythonExe())
	if err != nil {
		return nil, err
	}

	buildDir, cleanup, err := b.resolveBuildDir(settings)
	if err != nil {
		return nil, err
	}

	env := nativefile.Environment{
		PythonExecutable: b.pythonExe(),
		Prefix:           prefix,
		PurelibDir:       purelibDir,
		PlatlibDir:       platlibDir,
	}
	env = b.NativeOverride.Apply(env)
	nativeContent := nativefile.Generate(env, wt)
	nativePath := filepath.Join(buildDir, "mesonpy-native-file.ini")
	if err := os.WriteFile(nativePath, []byte(nativeContent), 0o644); err != nil {
		cleanup()
		return nil, &mesonerrors.IoError{Op: "write", Path: nativePath, Cause: err}
	}

	driver := &mesondriver.Driver{
		MesonExe:   b.Config.MesonExecutable,
		SourceDir:  b.SourceDir,
		BuildDir:   buildDir,
		NativeFile: nativePath,
		WheelTag:   wt,
	}
	if err := driver.Setup(ctx, b.Config.SetupArgs); err != nil {
		cleanup()
		return nil, err
	}

	return &session{buildDir: buildDir, cleanup: cleanup, driver: driver, wheelTag: wt}, nil
}

// mapInstallPlan runs the Meson Driver's introspection followed by the Install Plan Mapper, the
// shared "introspect → map" middle of the pipeline.
func (b *Backend) mapInstallPlan(ctx context.Context, s *session) (installplan.Result, error) {
	entries, err := s.driver.IntrospectInstallPlan(ctx)
	if err != nil {
		return installplan.Result{}, err
	}
	result, err := installplan.Map(ctx, entries, installplan.Options{
		DistName:         b.Config.DistName,
		Excludes:         b.Config.WheelExclude,
		Includes:         b.Config.WheelInclude,
		GOOS:             b.goos(),
		AllowWindowsLibs: b.Config.AllowWindowsLibs,
		SourceDir:        b.SourceDir,
	})
	for _, w := range result.Warnings {
		dlog.Warnf(ctx, "mesonpy: %s", w)
	}
	return result, err
}

// installedPath reconstructs where a mapped file actually landed under a --destdir staging root,
// from the synthetic "{placeholder}/relative" destination the Meson Driver recorded.
func installedPath(destDir string, m installplan.Mapped) string {
	_, rel, ok := m.Entry.SplitDestination()
	if !ok {
		rel = m.RelPath
	}
	return filepath.Join(destDir, rel)
}

// rewriteBinaries runs the Binary Rewriter over every extension module and internal shared
// library the Install Plan Mapper classified, pointing each one's dynamic search path at the
// relative location of the internal_libs directory.
func (b *Backend) rewriteBinaries(ctx context.Context, destDir string, result installplan.Result) error {
	hasInternalLibs := false
	for _, m := range result.Files {
		if m.Location == installplan.LocationInternalLibs {
			hasInternalLibs = true
			break
		}
	}
	if !hasInternalLibs {
		return nil
	}
	internalDir := installplan.InternalLibsDir(b.Config.DistName)

	for _, m := range result.Files {
		if m.Entry.Kind != installplan.KindExtensionModule && m.Entry.Kind != installplan.KindSharedLibrary {
			continue
		}
		abs := installedPath(destDir, m)
		format, err := rewrite.DetectFormat(abs)
		if err != nil || format == rewrite.FormatUnknown {
			continue
		}

		var token string
		switch format {
		case rewrite.FormatELF:
			token = "$ORIGIN"
		case rewrite.FormatMachO:
			token = "@loader_path"
		default:
			continue // PE: already gated by the Install Plan Mapper's Windows check
		}

		rel, err := filepath.Rel(filepath.Dir(m.RelPath), internalDir)
		if err != nil {
			return &mesonerrors.RewriteError{File: abs, Cause: err}
		}
		runpath := []string{token + "/" + filepath.ToSlash(rel)}
		if err := b.Rewriter.SetRunpath(ctx, abs, format, runpath); err != nil {
			return err
		}
	}
	return nil
}

// rewriteShebangs rewrites a script's interpreter line to point at the build's own Python, per
// spec.md §4.4 step 4's note: only scripts already beginning with a recognizable interpreter
// line are touched.
func rewriteShebangs(content []byte, pythonExe string) []byte {
	if !strings.HasPrefix(string(content), "#!") {
		return content
	}
	nl := strings.IndexByte(string(content), '\n')
	if nl < 0 {
		return content
	}
	firstLine := string(content[:nl])
	if !strings.Contains(firstLine, "python") {
		return content
	}
	return append([]byte("#!"+pythonExe), content[nl:]...)
}

type memoryFileSource struct {
	content []byte
	mode    pyabi.StatMode
}

func (s memoryFileSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.content)), nil
}
func (s memoryFileSource) Mode() pyabi.StatMode { return s.mode }

// entryPointGroups turns a ProjectConfig's [project.scripts]/[project.gui-scripts] tables into
// entrypoints.Declaration lists.
func entryPointGroups(cfg *config.ProjectConfig) map[entrypoints.Group][]entrypoints.Declaration {
	groups := map[entrypoints.Group][]entrypoints.Declaration{}
	for name, ref := range cfg.Scripts {
		groups[entrypoints.GroupConsoleScripts] = append(groups[entrypoints.GroupConsoleScripts], entrypoints.Declaration{Name: name, Ref: ref})
	}
	for name, ref := range cfg.GUIScripts {
		groups[entrypoints.GroupGUIScripts] = append(groups[entrypoints.GroupGUIScripts], entrypoints.Declaration{Name: name, Ref: ref})
	}
	return groups
}

// assembleMetadata is the Metadata Assembly collaborator's call site: merge the validated
// ProjectConfig with whatever version Meson's project() reported.
func (b *Backend) assembleMetadata(ctx context.Context, s *session) (*metadata.Metadata, error) {
	info, err := s.driver.IntrospectProject(ctx)
	if err != nil {
		return nil, err
	}
	if b.Config.MesonVersionSpec != "" {
		if _, err := pep440.ParseSpecifier(b.Config.MesonVersionSpec); err != nil {
			return nil, &mesonerrors.ConfigError{Field: "/tool/meson-python/meson-version", Reason: err.Error()}
		}
	}
	return metadata.Assemble(b.Config, info.Version, metadata.Metadata{})
}

// BuildWheel runs the whole pipeline (spec.md §5) and writes "{dist}-{version}-{tag}.whl" into
// outputDir, returning its filename.
func (b *Backend) BuildWheel(ctx context.Context, outputDir string, settings ConfigSettings) (_ string, err error) {
	defer recoverToError(&err)

	s, err := b.configure(ctx, settings)
	if err != nil {
		return "", err
	}
	defer s.cleanup()

	if err := s.driver.Compile(ctx, append(b.Config.CompileArgs, settings.CompileArgs...)); err != nil {
		return "", err
	}

	destDir, err := os.MkdirTemp("", "mesonpy-install-")
	if err != nil {
		return "", &mesonerrors.IoError{Op: "mkdtemp", Path: "", Cause: err}
	}
	defer os.RemoveAll(destDir)

	installArgs := append([]string(nil), b.Config.InstallArgs...)
	installArgs = append(installArgs, settings.InstallArgs...)
	if err := s.driver.Install(ctx, destDir, installArgs); err != nil {
		return "", err
	}

	result, err := b.mapInstallPlan(ctx, s)
	if err != nil {
		return "", err
	}

	if err := b.rewriteBinaries(ctx, destDir, result); err != nil {
		return "", err
	}

	md, err := b.assembleMetadata(ctx, s)
	if err != nil {
		return "", err
	}

	groups := entryPointGroups(b.Config)
	scripts, err := entrypoints.RenderScripts(groups, entrypoints.Shebangs{
		Console:   b.pythonExe(),
		Graphical: b.pythonExe(),
	})
	if err != nil {
		return "", err
	}
	entryPointsTxt := entrypoints.RenderEntryPointsTxt(groups, nil)

	var extraScripts []wheel.Entry
	for _, sc := range scripts {
		extraScripts = append(extraScripts, wheel.Entry{
			ArcName: sc.Name,
			Source:  memoryFileSource{content: sc.Content, mode: pyabi.ModeFromGo(0o755)},
		})
	}

	plan := wheel.Plan{
		DistName: b.Config.DistName,
		Version:  md.Version,
		Tag:      tag.Final(s.wheelTag, result.IsPlatformDependent),
		Mapped:   result.Files,
		OpenMapped: func(m installplan.Mapped) (io.ReadCloser, error) {
			f, err := os.Open(installedPath(destDir, m))
			if err != nil {
				return nil, err
			}
			if m.Entry.Kind != installplan.KindExecutable {
				return f, nil
			}
			content, err := io.ReadAll(f)
			closeErr := f.Close()
			if err != nil {
				return nil, err
			}
			if closeErr != nil {
				return nil, closeErr
			}
			return io.NopCloser(bytes.NewReader(rewriteShebangs(content, b.pythonExe()))), nil
		},
		ModeOf: func(m installplan.Mapped) pyabi.StatMode {
			info, err := os.Stat(installedPath(destDir, m))
			if err != nil {
				return pyabi.ModeFromGo(0o644)
			}
			return pyabi.ModeFromGo(info.Mode())
		},
		Metadata:       md,
		EntryPointsTxt: entryPointsTxt,
		ExtraScripts:   extraScripts,
	}

	return b.writeWheel(plan, outputDir)
}

func (b *Backend) writeWheel(plan wheel.Plan, outputDir string) (string, error) {
	filename := plan.Filename()
	outPath := filepath.Join(outputDir, filename)
	f, err := os.Create(outPath)
	if err != nil {
		return "", &mesonerrors.IoError{Op: "create", Path: outPath, Cause: err}
	}
	defer f.Close()
	if err := wheel.Write(f, plan); err != nil {
		return "", err
	}
	return filename, nil
}

// BuildSdist runs `meson dist` and normalizes its output into
// "{dist}-{version}.tar.gz" under outputDir.
func (b *Backend) BuildSdist(ctx context.Context, outputDir string, settings ConfigSettings) (_ string, err error) {
	defer recoverToError(&err)

	s, err := b.configure(ctx, settings)
	if err != nil {
		return "", err
	}
	defer s.cleanup()

	distArgs := append([]string(nil), b.Config.DistArgs...)
	distArgs = append(distArgs, settings.DistArgs...)
	tarPath, err := s.driver.Dist(ctx, distArgs)
	if err != nil {
		return "", err
	}

	md, err := b.assembleMetadata(ctx, s)
	if err != nil {
		return "", err
	}

	in, err := os.Open(tarPath)
	if err != nil {
		return "", &mesonerrors.IoError{Op: "open", Path: tarPath, Cause: err}
	}
	defer in.Close()

	filename := fmt.Sprintf("%s-%s.tar.gz", b.Config.DistName, md.Version)
	outPath := filepath.Join(outputDir, filename)
	out, err := os.Create(outPath)
	if err != nil {
		return "", &mesonerrors.IoError{Op: "create", Path: outPath, Cause: err}
	}
	defer out.Close()

	if err := sdist.Repack(out, in, sdist.RepackOptions{PkgInfo: []byte(md.Render())}); err != nil {
		return "", err
	}
	return filename, nil
}

// BuildEditable produces an editable wheel (spec.md §4.6's editable variant): its purelib content
// is just a .pth file and the loader module described by pkg/mesonpy/editable, deferring the real
// compile to the loader's first import.
func (b *Backend) BuildEditable(ctx context.Context, outputDir string, settings ConfigSettings) (_ string, err error) {
	defer recoverToError(&err)

	s, err := b.configure(ctx, settings)
	if err != nil {
		return "", err
	}
	defer s.cleanup()

	// An editable install still needs one real install pass so the loader has something to
	// redirect imports to before the first rebuild.
	if err := s.driver.Compile(ctx, b.Config.CompileArgs); err != nil {
		return "", err
	}
	installDir := filepath.Join(s.buildDir, "mesonpy-editable-install")
	if err := s.driver.Install(ctx, installDir, b.Config.InstallArgs); err != nil {
		return "", err
	}

	result, err := b.mapInstallPlan(ctx, s)
	if err != nil {
		return "", err
	}
	rootPackage := topLevelPackage(result.Files)

	md, err := b.assembleMetadata(ctx, s)
	if err != nil {
		return "", err
	}

	loaderName := editable.LoaderModuleName(b.Config.DistName)
	loaderSrc, err := editable.Render(editable.Options{
		DistName:       b.Config.DistName,
		RootPackage:    rootPackage,
		BuildDir:       s.buildDir,
		InstallDir:     filepath.Join(installDir, rootPackage),
		RebuildCommand: fmt.Sprintf("%s compile -C %s", driverExe(b.Config.MesonExecutable), s.buildDir),
		VerboseEnvVar:  "MESONPY_EDITABLE_VERBOSE",
	})
	if err != nil {
		return "", err
	}

	pthContent := []byte("import " + loaderName + "\n")

	groups := entryPointGroups(b.Config)
	scripts, err := entrypoints.RenderScripts(groups, entrypoints.Shebangs{Console: b.pythonExe(), Graphical: b.pythonExe()})
	if err != nil {
		return "", err
	}
	entryPointsTxt := entrypoints.RenderEntryPointsTxt(groups, nil)

	extraScripts := []wheel.Entry{
		{ArcName: loaderName + ".py", Source: memoryFileSource{content: loaderSrc, mode: pyabi.ModeFromGo(0o644)}},
		{ArcName: b.Config.DistName + "-editable.pth", Source: memoryFileSource{content: pthContent, mode: pyabi.ModeFromGo(0o644)}},
	}
	for _, sc := range scripts {
		extraScripts = append(extraScripts, wheel.Entry{ArcName: sc.Name, Source: memoryFileSource{content: sc.Content, mode: pyabi.ModeFromGo(0o755)}})
	}

	plan := wheel.Plan{
		DistName:       b.Config.DistName,
		Version:        md.Version,
		Tag:            tag.Final(s.wheelTag, result.IsPlatformDependent),
		Metadata:       md,
		EntryPointsTxt: entryPointsTxt,
		ExtraScripts:   extraScripts,
	}
	return b.writeWheel(plan, outputDir)
}

func driverExe(configured string) string {
	if configured != "" {
		return configured
	}
	return "meson"
}

func topLevelPackage(files []installplan.Mapped) string {
	var names []string
	for _, f := range files {
		if f.Location != installplan.LocationPurelib && f.Location != installplan.LocationPlatlib {
			continue
		}
		names = append(names, strings.SplitN(f.RelPath, "/", 2)[0])
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// PrepareMetadataForBuildWheel configures and introspects just enough to assemble METADATA ahead
// of a full build, writing "{dist}-{version}.dist-info/" under outputDir and returning its name.
func (b *Backend) PrepareMetadataForBuildWheel(ctx context.Context, outputDir string, settings ConfigSettings) (_ string, err error) {
	defer recoverToError(&err)

	s, err := b.configure(ctx, settings)
	if err != nil {
		return "", err
	}
	defer s.cleanup()

	md, err := b.assembleMetadata(ctx, s)
	if err != nil {
		return "", err
	}

	groups := entryPointGroups(b.Config)
	entryPointsTxt := entrypoints.RenderEntryPointsTxt(groups, nil)

	distInfoDir := fmt.Sprintf("%s-%s.dist-info", b.Config.DistName, md.Version)
	distInfoPath := filepath.Join(outputDir, distInfoDir)
	if err := os.MkdirAll(distInfoPath, 0o755); err != nil {
		return "", &mesonerrors.IoError{Op: "mkdir", Path: distInfoPath, Cause: err}
	}
	if err := writeFile(filepath.Join(distInfoPath, "METADATA"), []byte(md.Render())); err != nil {
		return "", err
	}
	if entryPointsTxt != "" {
		if err := writeFile(filepath.Join(distInfoPath, "entry_points.txt"), []byte(entryPointsTxt)); err != nil {
			return "", err
		}
	}
	return distInfoDir, nil
}

func writeFile(path string, content []byte) error {
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return &mesonerrors.IoError{Op: "write", Path: path, Cause: err}
	}
	return nil
}

// GetRequiresForBuildWheel reports the extra requirements needed to build a wheel, beyond the
// backend itself: the constrained `meson` version, plus `ninja` unless the NINJA environment
// variable names an existing file (front-ends already ensure the backend's own requirements from
// pyproject.toml's build-system.requires are present).
func (b *Backend) GetRequiresForBuildWheel(_ context.Context, _ ConfigSettings) ([]string, error) {
	return b.baseRequires()
}

// GetRequiresForBuildSdist is identical to GetRequiresForBuildWheel: `meson dist` needs the same
// toolchain as a compile.
func (b *Backend) GetRequiresForBuildSdist(_ context.Context, _ ConfigSettings) ([]string, error) {
	return b.baseRequires()
}

// GetRequiresForBuildEditable is identical to GetRequiresForBuildWheel.
func (b *Backend) GetRequiresForBuildEditable(_ context.Context, _ ConfigSettings) ([]string, error) {
	return b.baseRequires()
}

func (b *Backend) baseRequires() ([]string, error) {
	mesonReq := "meson>=1.2.0"
	if b.Config.MesonVersionSpec != "" {
		if _, err := pep440.ParseSpecifier(b.Config.MesonVersionSpec); err != nil {
			return nil, &mesonerrors.ConfigError{Field: "/tool/meson-python/meson-version", Reason: err.Error()}
		}
		mesonReq = "meson" + b.Config.MesonVersionSpec
	}
	reqs := []string{mesonReq}
	if _, err := os.Stat(os.Getenv("NINJA")); err != nil {
		reqs = append(reqs, "ninja")
	}
	return reqs, nil
}
