// Package procgroup starts external tools in their own process group so a
// cancelled request takes wrapper scripts and their children down with it.
package procgroup

import (
	"context"
	"os/exec"
	"time"
)

// WaitDelay bounds how long Wait keeps copying output after the process
// exits. A descendant that inherited stdout or stderr would otherwise keep
// Wait blocked until it exits on its own.
const WaitDelay = 2 * time.Second

// Set configures cmd to start as the leader of a new process group. Must be
// called before Start.
func Set(cmd *exec.Cmd) {
	set(cmd)
	cmd.WaitDelay = WaitDelay
}

// Command is exec.CommandContext with the process group configured and
// cancellation killing the whole group.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	Set(cmd)
	cmd.Cancel = func() error { return Kill(cmd) }
	return cmd
}
