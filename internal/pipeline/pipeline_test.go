package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"upscaler/internal/device"
	uerrors "upscaler/internal/errors"
	"upscaler/internal/frame"
	"upscaler/internal/inference"
	"upscaler/internal/mocks"
	"upscaler/internal/progress"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type enhancerFunc func(ctx context.Context, f *frame.Frame) (*frame.Frame, error)

func (fn enhancerFunc) Enhance(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
	return fn(ctx, f)
}

func scaleBy(n int) Enhancer {
	return enhancerFunc(func(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
		return f.ScaleNearest(n), nil
	})
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) sink(e progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []progress.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]progress.Event(nil), l.events...)
}

func TestRunWritesGaplessSequence(t *testing.T) {
	src := &mocks.FakeSource{Width: 8, Height: 6, Total: 10}
	seq := frame.NewSequence(t.TempDir())
	var log eventLog

	p := New(scaleBy(2), 2, zerolog.Nop())
	res, err := p.Run(context.Background(), src, seq, 10, progress.NewTracker(log.sink))
	require.NoError(t, err)

	assert.Equal(t, 10, res.Frames)
	assert.Equal(t, 10, seq.Len())
	assert.True(t, src.Closed())
	require.NoError(t, seq.Verify(10))

	for i := 1; i <= 10; i++ {
		img, err := frame.DecodeImageFile(seq.Path(i))
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, 16, img.Bounds().Dx())
		assert.Equal(t, 12, img.Bounds().Dy())
		r, _, _, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(i), r>>8, "frame %d out of order", i)
	}

	events := log.snapshot()
	require.Len(t, events, 10)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Fraction, events[i-1].Fraction)
	}
	assert.InDelta(t, progress.FrameFraction(1, 10), events[0].Fraction, 1e-9)
	assert.InDelta(t, progress.FramesEnd, events[9].Fraction, 1e-9)
	assert.Contains(t, events[9].Status, "Frame 10/10")
	assert.Contains(t, events[9].Status, "ETA: 0.0s")
}

func TestRunWithAdapter(t *testing.T) {
	eng := mocks.NewFakeEngine()
	adapter := inference.NewAdapter(eng, zerolog.Nop())
	_, err := adapter.EnsureLoaded(context.Background(), "RealESRGAN_x4plus", device.CPU)
	require.NoError(t, err)

	src := &mocks.FakeSource{Width: 4, Height: 3, Total: 5}
	seq := frame.NewSequence(t.TempDir())

	res, err := New(adapter, 4, zerolog.Nop()).Run(context.Background(), src, seq, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Frames)
	assert.Equal(t, 5, eng.EnhanceCount())

	img, err := frame.DecodeImageFile(seq.Path(5))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 12, img.Bounds().Dy())
}

func TestRunUnknownTotal(t *testing.T) {
	src := &mocks.FakeSource{Width: 2, Height: 2, Total: 3}
	seq := frame.NewSequence(t.TempDir())
	var log eventLog

	res, err := New(scaleBy(1), 1, zerolog.Nop()).Run(context.Background(), src, seq, 0, progress.NewTracker(log.sink))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Frames)

	for _, e := range log.snapshot() {
		assert.Equal(t, progress.FramesStart, e.Fraction)
		assert.Contains(t, e.Status, "/?")
	}
}

func TestRunAbortsOnInferenceError(t *testing.T) {
	calls := 0
	enh := enhancerFunc(func(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
		calls++
		if calls == 4 {
			return nil, uerrors.Inference("enhance", errors.New("device lost"))
		}
		return f.ScaleNearest(2), nil
	})

	src := &mocks.FakeSource{Width: 4, Height: 4, Total: 10}
	seq := frame.NewSequence(t.TempDir())

	res, err := New(enh, 2, zerolog.Nop()).Run(context.Background(), src, seq, 10, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrInference)
	assert.LessOrEqual(t, res.Frames, 3)
	assert.True(t, src.Closed())

	_, statErr := os.Stat(seq.Path(4))
	assert.True(t, os.IsNotExist(statErr), "no frame may be written past the failure")
}

func TestRunSourceFailures(t *testing.T) {
	tests := []struct {
		name string
		src  *mocks.FakeSource
	}{
		{"mid-stream read error", &mocks.FakeSource{Width: 2, Height: 2, Total: 5, FailAt: 3, FailErr: errors.New("corrupt packet")}},
		{"empty source", &mocks.FakeSource{Width: 2, Height: 2, Total: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := frame.NewSequence(t.TempDir())
			_, err := New(scaleBy(1), 2, zerolog.Nop()).Run(context.Background(), tt.src, seq, 5, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, uerrors.ErrSourceUnreadable)
			assert.True(t, tt.src.Closed())
		})
	}
}

func TestRunWriteFailure(t *testing.T) {
	src := &mocks.FakeSource{Width: 2, Height: 2, Total: 5}
	seq := frame.NewSequence(t.TempDir() + "/missing/dir")

	_, err := New(scaleBy(1), 2, zerolog.Nop()).Run(context.Background(), src, seq, 5, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrInternal)
}

func TestRunRejectsOverlongSource(t *testing.T) {
	src := &mocks.FakeSource{Width: 2, Height: 2, Total: 3}
	seq := frame.NewSequence(t.TempDir())

	_, err := New(scaleBy(1), 2, zerolog.Nop()).Run(context.Background(), src, seq, frame.MaxFrames+1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrUnsupportedMedia)
	assert.Equal(t, 0, src.Served())
	assert.True(t, src.Closed())
	assert.Equal(t, 0, seq.Len())
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &mocks.FakeSource{Width: 2, Height: 2, Total: 100, BlockAfter: 3}
	seq := frame.NewSequence(t.TempDir())
	tracker := progress.NewTracker(func(e progress.Event) {
		if e.Status != "" && e.Fraction >= progress.FrameFraction(3, 100) {
			cancel()
		}
	})

	done := make(chan error, 1)
	go func() {
		_, err := New(scaleBy(1), 2, zerolog.Nop()).Run(ctx, src, seq, 100, tracker)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, uerrors.ErrCancelled)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.True(t, src.Closed())
	assert.LessOrEqual(t, seq.Len(), 3)
}

func TestRunPreservesOrderUnderSlowEnhance(t *testing.T) {
	enh := enhancerFunc(func(ctx context.Context, f *frame.Frame) (*frame.Frame, error) {
		// odd frames are slower
		if f.Pix[0]%2 == 1 {
			time.Sleep(2 * time.Millisecond)
		}
		return f.Clone(), nil
	})
	src := &mocks.FakeSource{Width: 3, Height: 1, Total: 12}
	seq := frame.NewSequence(t.TempDir())

	_, err := New(enh, 3, zerolog.Nop()).Run(context.Background(), src, seq, 12, nil)
	require.NoError(t, err)

	for i := 1; i <= 12; i++ {
		img, err := frame.DecodeImageFile(seq.Path(i))
		require.NoError(t, err)
		got := color.NRGBAModel.Convert(img.At(2, 0)).(color.NRGBA)
		assert.Equal(t, uint8(i), got.R, fmt.Sprintf("frame %d", i))
	}
}
