//go:build unix

package procgroup

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestKillTakesDownChildren(t *testing.T) {
	requireShell(t)

	cmd := exec.Command("sh", "-c", "sleep 30 & sleep 30")
	Set(cmd)
	require.NoError(t, cmd.Start())

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid)

	require.NoError(t, Kill(cmd))

	err = cmd.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestKillNotStarted(t *testing.T) {
	assert.NoError(t, Kill(nil))
	assert.NoError(t, Kill(exec.Command("true")))
}

func TestCommandCancelDoesNotHangOnInheritedPipes(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// The background sleep inherits stderr; without the group kill Wait
	// would block until it exits.
	cmd := Command(ctx, "sh", "-c", "sleep 30 & sleep 30; :")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	require.Error(t, err)
	assert.Less(t, time.Since(start), WaitDelay+time.Second)
}
