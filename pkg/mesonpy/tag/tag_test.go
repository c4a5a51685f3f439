package tag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/tag"
)

func TestParseArchFlags(t *testing.T) {
	t.Parallel()
	testcases := map[string]struct {
		in   string
		want []string
	}{
		"empty":  {in: "", want: nil},
		"single": {in: "-arch arm64", want: []string{"arm64"}},
		"cross": {
			in:   "-arch x86_64 -arch arm64",
			want: []string{"x86_64", "arm64"},
		},
		"trailing-flag-ignored": {
			in:   "-arch arm64 -arch",
			want: []string{"arm64"},
		},
	}
	for name, tc := range testcases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := tag.ParseArchFlags(tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWheelTagString(t *testing.T) {
	t.Parallel()
	wt := tag.WheelTag{Python: "cp311", ABI: "cp311", Platform: "linux_x86_64"}
	assert.Equal(t, "cp311-cp311-linux_x86_64", wt.String())
}

func TestFinalFallsBackToPureWhenNotPlatformDependent(t *testing.T) {
	t.Parallel()
	resolved := tag.WheelTag{Python: "cp311", ABI: "cp311", Platform: "linux_x86_64"}
	got := tag.Final(resolved, false)
	assert.Equal(t, tag.Pure(), got)
	assert.Equal(t, "py3-none-any", got.String())
	assert.True(t, got.PurelibOnly)
}

func TestFinalKeepsResolvedTagWhenPlatformDependent(t *testing.T) {
	t.Parallel()
	resolved := tag.WheelTag{Python: "cp311", ABI: "cp311", Platform: "linux_x86_64"}
	got := tag.Final(resolved, true)
	assert.Equal(t, resolved, got)
	assert.False(t, got.PurelibOnly)
}
