package nativefile_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/nativefile"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/tag"
)

func TestGenerateIncludesPythonBinary(t *testing.T) {
	t.Parallel()
	out := nativefile.Generate(nativefile.Environment{PythonExecutable: "/usr/bin/python3.11"}, tag.WheelTag{})
	assert.True(t, strings.Contains(out, "python = '/usr/bin/python3.11'"))
	assert.True(t, strings.Contains(out, "[binaries]"))
	assert.True(t, strings.Contains(out, "[built-in options]"))
	assert.True(t, strings.Contains(out, "[properties]"))
}

func TestGenerateIsDeterministic(t *testing.T) {
	t.Parallel()
	env := nativefile.Environment{
		PythonExecutable: "/usr/bin/python3",
		ExtraBinaries:    map[string]string{"pkg-config": "/usr/bin/pkg-config", "cc": "/usr/bin/gcc"},
	}
	a := nativefile.Generate(env, tag.WheelTag{})
	b := nativefile.Generate(env, tag.WheelTag{})
	assert.Equal(t, a, b)
}

func TestGeneratePureReflectsPurelibOnly(t *testing.T) {
	t.Parallel()
	out := nativefile.Generate(nativefile.Environment{PythonExecutable: "py"}, tag.WheelTag{PurelibOnly: true})
	assert.True(t, strings.Contains(out, "pure = true"))
}

func TestGenerateIncludesBindingPaths(t *testing.T) {
	t.Parallel()
	env := nativefile.Environment{
		PythonExecutable: "/usr/bin/python3",
		Prefix:           "/usr",
		PurelibDir:       "/usr/lib/python3.11/site-packages",
		PlatlibDir:       "/usr/lib64/python3.11/site-packages",
	}
	out := nativefile.Generate(env, tag.WheelTag{})
	assert.True(t, strings.Contains(out, "[paths]"))
	assert.True(t, strings.Contains(out, "prefix = '/usr'"))
	assert.True(t, strings.Contains(out, "purelibdir = '/usr/lib/python3.11/site-packages'"))
	assert.True(t, strings.Contains(out, "platlibdir = '/usr/lib64/python3.11/site-packages'"))
}

func TestGenerateOmitsPathsSectionWhenUnset(t *testing.T) {
	t.Parallel()
	out := nativefile.Generate(nativefile.Environment{PythonExecutable: "/usr/bin/python3"}, tag.WheelTag{})
	assert.False(t, strings.Contains(out, "[paths]"))
}

func TestLoadOverrideAppliesToEnvironment(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("binaries:\n  objc: /usr/bin/clang\nproperties:\n  needs_exe_wrapper: true\n"), 0o644))

	o, err := nativefile.LoadOverride(path)
	require.NoError(t, err)

	env := o.Apply(nativefile.Environment{PythonExecutable: "/usr/bin/python3"})
	out := nativefile.Generate(env, tag.WheelTag{})
	assert.True(t, strings.Contains(out, "objc = '/usr/bin/clang'"))
	assert.True(t, strings.Contains(out, "needs_exe_wrapper = 'true'"))
}
