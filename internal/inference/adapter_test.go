package inference

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaler/internal/device"
	"upscaler/internal/engine"
	uerrors "upscaler/internal/errors"
	"upscaler/internal/frame"
	"upscaler/internal/metrics"
	"upscaler/internal/mocks"
)

func testFrame(w, h int) *frame.Frame {
	f := frame.New(w, h, frame.BGR)
	for i := range f.Pix {
		f.Pix[i] = byte(i % 251)
	}
	return f
}

func TestEnsureLoadedIsIdempotent(t *testing.T) {
	eng := mocks.NewFakeEngine()
	a := NewAdapter(eng, zerolog.Nop())
	ctx := context.Background()

	okLoads := metrics.ModelLoads.WithLabelValues("RealESRGAN_x4plus", "ok")
	before := testutil.ToFloat64(okLoads)

	loaded, err := a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)
	assert.True(t, loaded)

	loaded, err = a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)
	assert.False(t, loaded, "same model and backend must not reload")

	assert.Equal(t, 1, eng.LoadCount())
	assert.Equal(t, 0, eng.Unloads)
	assert.Equal(t, before+1, testutil.ToFloat64(okLoads))
}

func TestEnsureLoadedSwapsModel(t *testing.T) {
	eng := mocks.NewFakeEngine()
	a := NewAdapter(eng, zerolog.Nop())
	ctx := context.Background()

	_, err := a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)

	loaded, err := a.EnsureLoaded(ctx, "RealESRGAN_x2plus", device.CPU)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, 1, eng.Unloads, "previous model must be released first")
	assert.Equal(t, 2, a.Scale())

	// backend change alone also reloads
	loaded, err = a.EnsureLoaded(ctx, "RealESRGAN_x2plus", device.CUDA)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, 3, eng.LoadCount())

	h, ok := a.Current()
	require.True(t, ok)
	assert.Equal(t, device.CUDA, h.Backend)
	assert.True(t, h.Half)
}

func TestEnsureLoadedRequest(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		backend   device.Backend
		wantBlock int
		wantScale int
		wantHalf  bool
	}{
		{"general on cpu", "RealESRGAN_x4plus", device.CPU, 23, 4, false},
		{"anime on cuda", "RealESRGAN_x4plus_anime_6B", device.CUDA, 6, 4, true},
		{"x2 on mps", "RealESRGAN_x2plus", device.MPS, 23, 2, true},
		{"net on cpu", "RealESRNet_x4plus", device.CPU, 23, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := mocks.NewFakeEngine()
			a := NewAdapter(eng, zerolog.Nop())

			_, err := a.EnsureLoaded(context.Background(), tt.model, tt.backend)
			require.NoError(t, err)

			req := eng.LastLoad()
			assert.Equal(t, tt.model, req.Model)
			assert.Equal(t, tt.wantBlock, req.NumBlock)
			assert.Equal(t, 64, req.NumFeat)
			assert.Equal(t, 32, req.NumGrowCh)
			assert.Equal(t, tt.wantScale, req.Scale)
			assert.Equal(t, tt.wantHalf, req.Half)
			assert.Equal(t, string(tt.backend), req.Device)
			assert.Equal(t, 0, req.Tile)
			assert.Equal(t, 10, req.TilePad)
			assert.NotEmpty(t, req.Weights)
		})
	}
}

func TestEnsureLoadedFailureLeavesNothingLoaded(t *testing.T) {
	eng := mocks.NewFakeEngine()
	a := NewAdapter(eng, zerolog.Nop())
	ctx := context.Background()

	_, err := a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)

	eng.LoadErr = errors.New("weights unreachable")
	_, err = a.EnsureLoaded(ctx, "RealESRGAN_x2plus", device.CPU)
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrModelLoad)

	_, ok := a.Current()
	assert.False(t, ok, "a failed load must not leave the old model behind")
	assert.Equal(t, 0, a.Scale())

	_, err = a.Enhance(ctx, testFrame(2, 2))
	assert.ErrorIs(t, err, uerrors.ErrInference)
}

func TestEnsureLoadedUnknownModel(t *testing.T) {
	eng := mocks.NewFakeEngine()
	a := NewAdapter(eng, zerolog.Nop())

	_, err := a.EnsureLoaded(context.Background(), "NotAModel", device.CPU)
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrModelLoad)
	assert.Equal(t, 0, eng.LoadCount())
}

func TestEnhanceScalesFrame(t *testing.T) {
	eng := mocks.NewFakeEngine()
	a := NewAdapter(eng, zerolog.Nop())
	ctx := context.Background()

	_, err := a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)

	in := testFrame(16, 9)
	orig := in.Clone()

	before := testutil.ToFloat64(metrics.FramesEnhanced)
	out, err := a.Enhance(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, 64, out.Width)
	assert.Equal(t, 36, out.Height)
	assert.Equal(t, in.Order, out.Order)
	assert.Equal(t, orig.Pix, in.Pix, "input frame must not be modified")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FramesEnhanced))
}

func TestEnhanceErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mocks.FakeEngine)
		input   *frame.Frame
		wantErr error
	}{
		{
			name:    "engine failure",
			setup:   func(e *mocks.FakeEngine) { e.EnhanceErr = errors.New("cuda out of memory") },
			input:   testFrame(4, 4),
			wantErr: uerrors.ErrInference,
		},
		{
			name:    "wrong output size",
			setup:   func(e *mocks.FakeEngine) { e.ScaleOverride = 2 },
			input:   testFrame(4, 4),
			wantErr: uerrors.ErrInference,
		},
		{
			name:    "malformed input",
			setup:   func(e *mocks.FakeEngine) {},
			input:   &frame.Frame{Width: 4, Height: 4, Pix: make([]byte, 5)},
			wantErr: uerrors.ErrInference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := mocks.NewFakeEngine()
			tt.setup(eng)
			a := NewAdapter(eng, zerolog.Nop())

			_, err := a.EnsureLoaded(context.Background(), "RealESRGAN_x4plus", device.CPU)
			require.NoError(t, err)

			_, err = a.Enhance(context.Background(), tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEnhanceFrameTimeout(t *testing.T) {
	eng := mocks.NewFakeEngine()
	eng.Delay = time.Second
	a := NewAdapter(eng, zerolog.Nop(), WithFrameTimeout(20*time.Millisecond))

	_, err := a.EnsureLoaded(context.Background(), "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)

	start := time.Now()
	_, err = a.Enhance(context.Background(), testFrame(2, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrInference)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestEnhanceCancelled(t *testing.T) {
	eng := mocks.NewFakeEngine()
	eng.Delay = time.Second
	a := NewAdapter(eng, zerolog.Nop())

	_, err := a.EnsureLoaded(context.Background(), "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Enhance(ctx, testFrame(2, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrCancelled)
}

func TestEnhanceWorkerStoppedDropsModel(t *testing.T) {
	eng := mocks.NewFakeEngine()
	a := NewAdapter(eng, zerolog.Nop())
	ctx := context.Background()

	_, err := a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)

	eng.EnhanceErr = fmt.Errorf("%w: broken pipe", engine.ErrWorkerStopped)
	_, err = a.Enhance(ctx, testFrame(2, 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrInference)

	_, ok := a.Current()
	assert.False(t, ok)

	// next request reloads
	eng.EnhanceErr = nil
	loaded, err := a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)
	assert.True(t, loaded)
}

func TestUnload(t *testing.T) {
	eng := mocks.NewFakeEngine()
	a := NewAdapter(eng, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, a.Unload(ctx))
	assert.Equal(t, 0, eng.Unloads, "nothing loaded, nothing to release")

	_, err := a.EnsureLoaded(ctx, "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)
	require.NoError(t, a.Unload(ctx))
	assert.Equal(t, 1, eng.Unloads)

	_, ok := a.Current()
	assert.False(t, ok)
}
