package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/config"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/mesonerrors"
)

const minimalPyProject = `
[project]
name = "My.Package"
version = "1.0.0"

[tool.meson-python]
limited-api = true
`

func TestParseMinimal(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(minimalPyProject))
	require.NoError(t, err)
	assert.Equal(t, "my_package", cfg.DistName)
	assert.Equal(t, "1.0.0", cfg.Version)
	assert.True(t, cfg.LimitedAPI)
	assert.Equal(t, "meson", cfg.MesonExecutable)
}

func TestParseDynamicVersionRequiresNoStaticVersion(t *testing.T) {
	t.Parallel()
	_, err := config.Parse([]byte(`
[project]
name = "pkg"
version = "1.0.0"
dynamic = ["version"]
`))
	require.Error(t, err)
	var cerr *mesonerrors.ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestParseMissingVersionWithoutDynamicFails(t *testing.T) {
	t.Parallel()
	_, err := config.Parse([]byte(`
[project]
name = "pkg"
`))
	require.Error(t, err)
}

func TestParseRejectsNonVersionDynamicFields(t *testing.T) {
	t.Parallel()
	_, err := config.Parse([]byte(`
[project]
name = "pkg"
version = "1.0.0"
dynamic = ["description"]
`))
	require.Error(t, err)
}

func TestParseArgsPassthrough(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
[project]
name = "pkg"
version = "1.0.0"

[tool.meson-python.args]
setup = ["-Dfoo=bar"]
compile = ["-j4"]
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"-Dfoo=bar"}, cfg.SetupArgs)
	assert.Equal(t, []string{"-j4"}, cfg.CompileArgs)
}

func TestParseScriptsTables(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
[project]
name = "pkg"
version = "1.0.0"

[project.scripts]
mytool = "pkg.cli:main"

[project.gui-scripts]
mygui = "pkg.gui:main"
`))
	require.NoError(t, err)
	assert.Equal(t, "pkg.cli:main", cfg.Scripts["mytool"])
	assert.Equal(t, "pkg.gui:main", cfg.GUIScripts["mygui"])
}
