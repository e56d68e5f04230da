package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"upscaler/internal/engine"
	"upscaler/internal/frame"
)

// FakeEngine is an in-memory inference engine that upscales with
// nearest-neighbour sampling.
type FakeEngine struct {
	mu sync.Mutex

	Caps       engine.Capabilities
	DevicesErr error
	LoadErr    error
	EnhanceErr error
	// FailAfter makes Enhance fail once this many frames have succeeded.
	FailAfter int
	// ScaleOverride returns frames scaled by this factor instead of the
	// requested one.
	ScaleOverride int
	// Delay is spent per Enhance call, honouring ctx.
	Delay time.Duration

	Loads    []engine.LoadRequest
	Unloads  int
	Enhances int
	loaded   *engine.LoadRequest
}

// NewFakeEngine creates a fake engine reporting CPU only
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

func (e *FakeEngine) Devices(ctx context.Context) (engine.Capabilities, error) {
	return e.Caps, e.DevicesErr
}

func (e *FakeEngine) Load(ctx context.Context, req engine.LoadRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Loads = append(e.Loads, req)
	if e.LoadErr != nil {
		e.loaded = nil
		return e.LoadErr
	}
	e.loaded = &req
	return nil
}

func (e *FakeEngine) Unload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Unloads++
	e.loaded = nil
	return nil
}

func (e *FakeEngine) Enhance(ctx context.Context, f *frame.Frame, outscale int) (*frame.Frame, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded == nil {
		return nil, errors.New("no model loaded")
	}
	if e.EnhanceErr != nil && e.Enhances >= e.FailAfter {
		return nil, e.EnhanceErr
	}
	e.Enhances++

	scale := outscale
	if e.ScaleOverride > 0 {
		scale = e.ScaleOverride
	}
	return f.ScaleNearest(scale), nil
}

// LoadCount returns the number of Load calls.
func (e *FakeEngine) LoadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Loads)
}

// LastLoad returns the most recent load request.
func (e *FakeEngine) LastLoad() engine.LoadRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Loads) == 0 {
		return engine.LoadRequest{}
	}
	return e.Loads[len(e.Loads)-1]
}

// EnhanceCount returns the number of successful Enhance calls.
func (e *FakeEngine) EnhanceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Enhances
}
