// Package ffmpeg runs the ffmpeg and ffprobe collaborators and builds their
// argument lists.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"upscaler/internal/procgroup"
)

// Runner executes external media tools. Run waits for completion and returns
// stdout; Stream starts the process and returns its stdout as it is produced.
// Closing the stream stops the process.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error)
}

// IsAvailable checks whether bin resolves on PATH (or is an existing path).
func IsAvailable(bin string) bool {
	_, err := exec.LookPath(bin)
	return err == nil
}

// ExecError reports a failed tool invocation with the tail of its stderr.
type ExecError struct {
	Name     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := lastLine(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s failed (exit %d): %v", e.Name, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s failed (exit %d): %s", e.Name, e.ExitCode, msg)
}

func (e *ExecError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct {
	Logger zerolog.Logger
}

// NewExecRunner creates a runner that logs invocations at debug level
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{Logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.Logger.Debug().Str("cmd", name).Strs("args", args).Msg("running")

	cmd := procgroup.Command(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		return nil, &ExecError{Name: name, ExitCode: exitCode, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

func (r *ExecRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	r.Logger.Debug().Str("cmd", name).Strs("args", args).Msg("streaming")

	cmd := procgroup.Command(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	s := &stream{cmd: cmd, stdout: stdout, name: name}
	cmd.Stderr = &s.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}
	return s, nil
}

type stream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	name   string

	eof       bool
	closeOnce sync.Once
	closeErr  error
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		s.eof = true
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// Close stops the process if it is still producing output. A process that
// ran to EOF reports its exit status.
func (s *stream) Close() error {
	if !s.eof && s.cmd.Process != nil {
		_ = procgroup.Kill(s.cmd)
		_ = s.wait()
		return nil
	}
	return s.wait()
}

func (s *stream) wait() error {
	s.closeOnce.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			exitCode := -1
			if s.cmd.ProcessState != nil {
				exitCode = s.cmd.ProcessState.ExitCode()
			}
			s.closeErr = &ExecError{Name: s.name, ExitCode: exitCode, Stderr: s.stderr.String(), Err: err}
		}
	})
	return s.closeErr
}
