package entrypoints_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/entrypoints"
)

func TestRenderScriptsProducesLauncher(t *testing.T) {
	t.Parallel()
	groups := map[entrypoints.Group][]entrypoints.Declaration{
		entrypoints.GroupConsoleScripts: {{Name: "mytool", Ref: "mypkg.cli:main"}},
	}
	scripts, err := entrypoints.RenderScripts(groups, entrypoints.Shebangs{Console: "/usr/bin/python3"})
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "mytool", scripts[0].Name)
	body := string(scripts[0].Content)
	assert.True(t, strings.HasPrefix(body, "#!/usr/bin/python3\n"))
	assert.True(t, strings.Contains(body, "from mypkg.cli import main"))
	assert.True(t, strings.Contains(body, "sys.exit(main())"))
}

func TestRenderScriptsRejectsMalformedRef(t *testing.T) {
	t.Parallel()
	groups := map[entrypoints.Group][]entrypoints.Declaration{
		entrypoints.GroupConsoleScripts: {{Name: "bad", Ref: "not-a-ref"}},
	}
	_, err := entrypoints.RenderScripts(groups, entrypoints.Shebangs{Console: "py"})
	require.Error(t, err)
}

func TestRenderEntryPointsTxtIsSorted(t *testing.T) {
	t.Parallel()
	groups := map[entrypoints.Group][]entrypoints.Declaration{
		entrypoints.GroupConsoleScripts: {
			{Name: "zzz", Ref: "mypkg:z"},
			{Name: "aaa", Ref: "mypkg:a"},
		},
	}
	out := entrypoints.RenderEntryPointsTxt(groups, nil)
	assert.Equal(t, "[console_scripts]\naaa = mypkg:a\nzzz = mypkg:z\n", out)
}
