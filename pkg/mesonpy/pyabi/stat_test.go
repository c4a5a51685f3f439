package pyabi_test

import (
	"fmt"
	"os/exec"
	"testing"
	"testing/quick"

	"github.com/mesonpy-go/mesonpy/pkg/mesonpy/pyabi"
)

func TestStatModeString(t *testing.T) {
	fn := func(m pyabi.StatMode) bool {
		act := m.String()
		exp, _ := exec.Command("python3", "-c",
			fmt.Sprintf(`import stat; print(stat.filemode(%d), end="")`, m)).
			Output()
		return act == string(exp)
	}
	if err := quick.Check(fn, nil); err != nil {
		t.Error(err)
	}
}
