package mocks

import (
	"context"
	"io"
	"sync"

	"upscaler/internal/frame"
)

// FakeSource yields Total frames of Width x Height. Every byte of frame i
// (1-based) is i mod 256, so ordering can be checked downstream.
type FakeSource struct {
	Width  int
	Height int
	Total  int
	// FailAt returns FailErr instead of frame FailAt (1-based). Zero never fails.
	FailAt  int
	FailErr error
	// BlockAfter makes Next wait for ctx once this many frames were served.
	BlockAfter int

	mu     sync.Mutex
	served int
	closed bool
}

func (s *FakeSource) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	served := s.served
	s.mu.Unlock()

	if s.BlockAfter > 0 && served >= s.BlockAfter {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if served >= s.Total {
		return nil, io.EOF
	}
	if s.FailAt > 0 && served+1 == s.FailAt {
		return nil, s.FailErr
	}

	f := frame.New(s.Width, s.Height, frame.BGR)
	v := byte((served + 1) % 256)
	for i := range f.Pix {
		f.Pix[i] = v
	}

	s.mu.Lock()
	s.served++
	s.mu.Unlock()
	return f, nil
}

func (s *FakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *FakeSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Served returns the number of frames handed out.
func (s *FakeSource) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.served
}
