// Package mocks provides fakes of the external collaborators for testing
package mocks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// FakeRunner stands in for ffmpeg/ffprobe. Lookups use the full command line
// ("name arg1 arg2 ...") first and the bare tool name second.
type FakeRunner struct {
	mu sync.Mutex

	Responses map[string][]byte
	Errors    map[string]error
	// Streams holds stdout for Stream calls; StreamErrors is returned once
	// the stream data is exhausted.
	Streams      map[string][]byte
	StreamErrors map[string]error
	// Handler, when set, is consulted before the maps. Returning handled=false
	// falls through to the maps.
	Handler func(name string, args []string) (out []byte, err error, handled bool)

	CallLog []string
}

// NewFakeRunner creates an empty fake runner
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Responses:    make(map[string][]byte),
		Errors:       make(map[string]error),
		Streams:      make(map[string][]byte),
		StreamErrors: make(map[string]error),
		CallLog:      make([]string, 0),
	}
}

// CommandLine renders a call the way it is keyed and logged.
func CommandLine(name string, args ...string) string {
	return fmt.Sprintf("%s %s", name, strings.Join(args, " "))
}

func (m *FakeRunner) record(name string, args []string) string {
	cmd := CommandLine(name, args...)
	m.mu.Lock()
	m.CallLog = append(m.CallLog, cmd)
	m.mu.Unlock()
	return cmd
}

func (m *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := m.record(name, args)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.Handler != nil {
		if out, err, handled := m.Handler(name, args); handled {
			return out, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, exists := m.Errors[cmd]; exists {
		return nil, err
	}
	if err, exists := m.Errors[name]; exists {
		return nil, err
	}
	if response, exists := m.Responses[cmd]; exists {
		return response, nil
	}
	if response, exists := m.Responses[name]; exists {
		return response, nil
	}
	return nil, nil
}

func (m *FakeRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := m.record(name, args)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err, exists := m.Errors[cmd]; exists {
		return nil, err
	}
	data, ok := m.Streams[cmd]
	if !ok {
		data, ok = m.Streams[name]
	}
	if !ok {
		return nil, fmt.Errorf("fake runner: no stream for %q", cmd)
	}
	streamErr := m.StreamErrors[cmd]
	if streamErr == nil {
		streamErr = m.StreamErrors[name]
	}
	return &fakeStream{r: bytes.NewReader(data), err: streamErr}, nil
}

// Calls returns logged command lines starting with prefix.
func (m *FakeRunner) Calls(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.CallLog {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

type fakeStream struct {
	r      *bytes.Reader
	err    error
	closed bool
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := s.r.Read(p)
	if err == io.EOF && s.err != nil {
		return n, s.err
	}
	return n, err
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
