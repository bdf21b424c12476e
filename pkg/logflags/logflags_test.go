package logflags

import (
	"bytes"
	"io"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	debugger, ptrace, terminal = false, false, false
	Close()
	loggerFactory = nil
}

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	defer reset()
	logOut = &bufferWriter{}

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(flag bool, fields Fields, out io.Writer) Logger {
		assert.True(t, flag)
		assert.Equal(t, Fields{"foo": "bar"}, fields)
		assert.Equal(t, logOut, out)
		return expectedLogger
	})

	actual := makeLogger(true, Fields{"foo": "bar"})
	assert.Same(t, expectedLogger, actual)
}

func TestMakeLogger_withFlagFalse(t *testing.T) {
	defer reset()

	actual := makeLogger(false, Fields{"foo": "bar"})
	entry, ok := actual.(*logrusLogger)
	require.True(t, ok)
	assert.Equal(t, logrus.ErrorLevel, entry.Logger.Level)
	assert.Equal(t, logrus.Fields{"foo": "bar"}, entry.Data)
}

func TestMakeLogger_withFlagTrue(t *testing.T) {
	defer reset()
	out := &bufferWriter{}
	logOut = out

	actual := makeLogger(true, Fields{"foo": "bar"})
	entry, ok := actual.(*logrusLogger)
	require.True(t, ok)
	assert.Equal(t, logrus.DebugLevel, entry.Logger.Level)
	assert.Equal(t, out, entry.Logger.Out)

	actual.WithField("pid", 42).Debugf("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
	assert.Contains(t, out.String(), "pid=42")
	assert.Contains(t, out.String(), "foo=bar")
}

func TestSetup(t *testing.T) {
	defer reset()

	require.NoError(t, Setup(true, "ptrace,terminal", ""))
	assert.False(t, Debugger())
	assert.True(t, Ptrace())
	assert.True(t, Terminal())
}

func TestSetupDefaultsToDebugger(t *testing.T) {
	defer reset()

	require.NoError(t, Setup(true, "", ""))
	assert.True(t, Debugger())
	assert.False(t, Ptrace())
}

func TestSetupErrors(t *testing.T) {
	defer reset()

	assert.Equal(t, errLogstrWithoutLog, Setup(false, "debugger", ""))
	assert.Error(t, Setup(true, "debugger,gdbwire", ""))
}

func TestSetupLogDest(t *testing.T) {
	defer reset()
	dest := filepath.Join(t.TempDir(), "tdbg.log")

	require.NoError(t, Setup(true, "debugger", dest))
	DebuggerLogger().Debugf("stopped at %#x", 0x401000)
	Close()

	buf, err := ioutil.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(buf), "stopped at 0x401000")
	assert.Contains(t, string(buf), "layer=debugger")
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}
