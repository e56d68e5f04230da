// Package inference owns the model lifecycle and single-frame enhancement.
package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"upscaler/internal/device"
	"upscaler/internal/engine"
	uerrors "upscaler/internal/errors"
	"upscaler/internal/frame"
	"upscaler/internal/metrics"
)

// Engine is the inference capability the adapter drives.
type Engine interface {
	Load(ctx context.Context, req engine.LoadRequest) error
	Unload(ctx context.Context) error
	Enhance(ctx context.Context, f *frame.Frame, outscale int) (*frame.Frame, error)
}

// ModelHandle identifies the resident model. Replaced, never mutated.
type ModelHandle struct {
	Model   Model
	Backend device.Backend
	Half    bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithFrameTimeout bounds each Enhance call. Zero means no bound.
func WithFrameTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.frameTimeout = d }
}

// Adapter keeps at most one model resident and reuses it while requests ask
// for the same model on the same backend.
type Adapter struct {
	engine       Engine
	logger       zerolog.Logger
	frameTimeout time.Duration

	mu     sync.Mutex
	handle *ModelHandle
}

// NewAdapter creates an adapter with nothing loaded
func NewAdapter(eng Engine, logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{engine: eng, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EnsureLoaded makes modelID resident on backend. It reports whether a load
// took place; an exact match on the resident model is a no-op. On failure
// the adapter is left with nothing loaded.
func (a *Adapter) EnsureLoaded(ctx context.Context, modelID string, backend device.Backend) (bool, error) {
	model, err := LookupModel(modelID)
	if err != nil {
		return false, uerrors.ModelLoad("ensure_loaded", err).WithDetail("model", modelID)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle != nil && a.handle.Model.ID == modelID && a.handle.Backend == backend {
		return false, nil
	}

	if a.handle != nil {
		a.logger.Debug().Str("model", a.handle.Model.ID).Msg("releasing resident model")
		if err := a.engine.Unload(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("unload failed, loading anyway")
		}
		a.handle = nil
	}

	topo := TopologyFor(modelID)
	half := backend.SupportsHalf()
	a.logger.Info().
		Str("model", modelID).
		Str("backend", backend.Label()).
		Bool("half", half).
		Int("num_block", topo.NumBlock).
		Msg("loading model")

	req := engine.LoadRequest{
		Model:     model.ID,
		Weights:   model.WeightsURL,
		Scale:     model.Scale,
		NumBlock:  topo.NumBlock,
		NumFeat:   topo.NumFeat,
		NumGrowCh: topo.NumGrowCh,
		Device:    string(backend),
		Half:      half,
		Tile:      0,
		TilePad:   10,
		PrePad:    0,
	}
	if err := a.engine.Load(ctx, req); err != nil {
		metrics.ModelLoads.WithLabelValues(modelID, "failed").Inc()
		return false, uerrors.ModelLoad("ensure_loaded", err).
			WithDetail("model", modelID).
			WithDetail("backend", string(backend))
	}

	metrics.ModelLoads.WithLabelValues(modelID, "ok").Inc()
	a.handle = &ModelHandle{Model: model, Backend: backend, Half: half}
	return true, nil
}

// Current returns the resident model, if any.
func (a *Adapter) Current() (ModelHandle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil {
		return ModelHandle{}, false
	}
	return *a.handle, true
}

// Scale returns the scale of the resident model, or 0.
func (a *Adapter) Scale() int {
	h, ok := a.Current()
	if !ok {
		return 0
	}
	return h.Model.Scale
}

// Enhance upscales one frame by the resident model's scale. The output is
// exactly scale times the input in both dimensions; anything else is an
// inference error. The input frame is never modified.
func (a *Adapter) Enhance(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle == nil {
		return nil, uerrors.Inference("enhance", errors.New("no model loaded"))
	}
	if err := f.Validate(); err != nil {
		return nil, uerrors.Inference("enhance", err)
	}

	callCtx := ctx
	if a.frameTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.frameTimeout)
		defer cancel()
	}

	scale := a.handle.Model.Scale
	start := time.Now()
	out, err := a.engine.Enhance(callCtx, f, scale)
	if err != nil {
		if errors.Is(err, engine.ErrWorkerStopped) {
			// the worker took the model with it
			a.handle = nil
		}
		if ctx.Err() != nil {
			return nil, uerrors.Wrap(err, uerrors.KindInference, "enhance")
		}
		return nil, uerrors.Inference("enhance", err)
	}
	metrics.EnhanceSeconds.Observe(time.Since(start).Seconds())
	metrics.FramesEnhanced.Inc()

	if out.Width != f.Width*scale || out.Height != f.Height*scale {
		return nil, uerrors.Inference("enhance", fmt.Errorf("engine returned %dx%d, want %dx%d",
			out.Width, out.Height, f.Width*scale, f.Height*scale))
	}
	if err := out.Validate(); err != nil {
		return nil, uerrors.Inference("enhance", err)
	}
	return out, nil
}

// Unload releases the resident model.
func (a *Adapter) Unload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil {
		return nil
	}
	a.handle = nil
	return a.engine.Unload(ctx)
}
