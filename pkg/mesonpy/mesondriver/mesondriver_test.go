package mesondriver_test

// These tests exercise the introspection readers only. Setup/Compile/Install/Dist need a real
// `meson` binary on PATH and are not exercised by this package's tests.

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesondriver"
)

func TestIntrospectInstallPlanParsesCategories(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "meson-info"), 0o755))

	plan := map[string]map[string]map[string]interface{}{
		"py_purelib": {
			"src/mypkg/__init__.py": {"destination": "/mypkg/__init__.py", "tags": []string{"runtime"}},
		},
		"bindir": {
			"build/mytool": {"destination": "/mytool"},
		},
	}
	data, err := json.Marshal(plan)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meson-info", "intro-install_plan.json"), data, 0o644))

	d := &mesondriver.Driver{BuildDir: dir}
	entries, err := d.IntrospectInstallPlan(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestIntrospectProjectParsesVersion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "meson-info"), 0o755))
	data, err := json.Marshal(map[string]string{"descriptive_name": "mypkg", "version": "1.2.3"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meson-info", "intro-project.json"), data, 0o644))

	d := &mesondriver.Driver{BuildDir: dir}
	info, err := d.IntrospectProject(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mypkg", info.DescriptiveName)
	require.Equal(t, "1.2.3", info.Version)
}
