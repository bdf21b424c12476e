package terminal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdbg-dev/tdbg/pkg/proc"
)

func TestPrintError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	term := &Term{stdout: &stdout, stderr: &stderr}

	term.printError(fmt.Errorf("wrapped: %w", proc.ProcessExitedError{Pid: 1, Status: 2}))
	assert.Equal(t, "wrapped: Process 1 has exited with status 2\n", stdout.String())
	assert.Empty(t, stderr.String())

	stdout.Reset()
	term.printError(errNotImplemented)
	assert.Equal(t, "not implemented\n", stderr.String())

	stderr.Reset()
	term.printError(errors.New("boom"))
	assert.Equal(t, "Command failed: boom\n", stderr.String())
	assert.Empty(t, stdout.String())
}

func TestPrintColored(t *testing.T) {
	var stdout bytes.Buffer
	term := &Term{stdout: &stdout}
	term.printColored(ansiGreen, "> ", "hit")
	assert.Equal(t, "\033[32m> \033[0mhit\n", stdout.String())

	stdout.Reset()
	term.dumb = true
	term.Println("=> ", "nop")
	assert.Equal(t, "=> nop\n", stdout.String())
}

func TestSigintGuard(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	var stdout, stderr bytes.Buffer
	term := &Term{stdout: &stdout, stderr: &stderr}
	ch := make(chan os.Signal, 1)
	done, exited := make(chan struct{}), make(chan struct{})
	go func() {
		term.sigintGuard(ch, done, cmd.Process.Pid)
		close(exited)
	}()

	ch <- syscall.SIGINT
	err := cmd.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	status := exitErr.Sys().(syscall.WaitStatus)
	assert.True(t, status.Signaled())
	assert.Equal(t, syscall.SIGINT, status.Signal())

	close(done)
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("sigintGuard did not return after done was closed")
	}
	assert.Contains(t, stdout.String(), "received SIGINT")
	assert.Empty(t, stderr.String())
}
