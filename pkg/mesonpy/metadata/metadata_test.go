package metadata_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/config"
	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/metadata"
)

func TestAssembleUsesDeclaredVersion(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
[project]
name = "pkg"
version = "1.0.0"
`))
	require.NoError(t, err)
	m, err := metadata.Assemble(cfg, "", metadata.Metadata{Summary: "a package"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, "pkg", m.Name)
}

func TestAssembleFallsBackToMesonVersionWhenDynamic(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
[project]
name = "pkg"
dynamic = ["version"]
`))
	require.NoError(t, err)
	m, err := metadata.Assemble(cfg, "2.3.4", metadata.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "2.3.4", m.Version)
}

func TestAssembleFailsWithoutAnyVersion(t *testing.T) {
	t.Parallel()
	cfg, err := config.Parse([]byte(`
[project]
name = "pkg"
dynamic = ["version"]
`))
	require.NoError(t, err)
	_, err = metadata.Assemble(cfg, "", metadata.Metadata{})
	require.Error(t, err)
}

func TestRenderIncludesRequiredFields(t *testing.T) {
	t.Parallel()
	m := &metadata.Metadata{Name: "pkg", Version: "1.0.0", RequiresPython: ">=3.8"}
	out := m.Render()
	assert.True(t, strings.Contains(out, "Name: pkg\n"))
	assert.True(t, strings.Contains(out, "Version: 1.0.0\n"))
	assert.True(t, strings.Contains(out, "Requires-Python: >=3.8\n"))
}
