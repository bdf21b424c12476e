package cmds

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdbg-dev/tdbg/pkg/config"
	"github.com/tdbg-dev/tdbg/pkg/proc"
)

func newTestCommand(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Setenv("TDBG_CONFIG_DIR", t.TempDir())
	cmd := New()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	if args == nil {
		// a nil slice makes cobra read os.Args
		args = []string{}
	}
	cmd.SetArgs(args)
	return &out, cmd.Execute()
}

func TestVersionCommand(t *testing.T) {
	out, err := newTestCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "tdbg Debugger\nVersion: ")
}

func TestMissingBinary(t *testing.T) {
	_, err := newTestCommand(t)
	require.Error(t, err)
	assert.Equal(t, "you must provide a path to a binary", err.Error())
}

func TestFlags(t *testing.T) {
	t.Setenv("TDBG_CONFIG_DIR", t.TempDir())
	cmd := New()
	assert.True(t, disableASLR, "disable-aslr should default to true")

	require.NoError(t, cmd.Flags().Parse([]string{"--wd", "/tmp", "--tty", "/dev/pts/3", "--disable_aslr=false", "./prog", "--wd", "x"}))
	assert.Equal(t, "/tmp", workingDir)
	assert.Equal(t, "/dev/pts/3", tty)
	assert.False(t, disableASLR)
	assert.Equal(t, []string{"./prog", "--wd", "x"}, cmd.Flags().Args())
}

func TestAssemblyFlavour(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out proc.AssemblyFlavour
		err bool
	}{
		{"", proc.IntelFlavour, false},
		{"intel", proc.IntelFlavour, false},
		{"gnu", proc.GNUFlavour, false},
		{"att", proc.IntelFlavour, true},
	} {
		f, err := assemblyFlavour(&config.Config{DisassembleFlavour: tc.in})
		assert.Equal(t, tc.out, f, tc.in)
		assert.Equal(t, tc.err, err != nil, tc.in)
	}
}
