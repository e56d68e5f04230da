//go:build !unix

package procgroup

import (
	"errors"
	"os"
	"os/exec"
)

func set(cmd *exec.Cmd) {}

// Kill terminates the process. Descendants are not tracked on this
// platform; WaitDelay still keeps Wait from blocking on their pipes.
func Kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
