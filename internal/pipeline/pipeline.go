// Package pipeline runs the decode -> enhance -> persist loop for one video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	uerrors "upscaler/internal/errors"
	"upscaler/internal/frame"
	"upscaler/internal/metrics"
	"upscaler/internal/progress"
)

// Source yields decoded frames in order and io.EOF when drained.
type Source interface {
	Next(ctx context.Context) (*frame.Frame, error)
	Close() error
}

// Enhancer upscales a single frame.
type Enhancer interface {
	Enhance(ctx context.Context, f *frame.Frame) (*frame.Frame, error)
}

// DefaultQueueDepth is used when a non-positive depth is configured.
const DefaultQueueDepth = 4

// Result summarizes a completed run.
type Result struct {
	Frames       int
	Elapsed      time.Duration
	EnhanceTotal time.Duration
	AverageFrame time.Duration
}

// Pipeline connects a Source, an Enhancer and a frame Sequence with bounded
// queues. Each stage is a single goroutine, so frame order is preserved.
type Pipeline struct {
	enhancer Enhancer
	depth    int
	logger   zerolog.Logger
}

// New creates a pipeline whose inter-stage queues hold depth frames
func New(enhancer Enhancer, depth int, logger zerolog.Logger) *Pipeline {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Pipeline{enhancer: enhancer, depth: depth, logger: logger}
}

type enhanced struct {
	frame *frame.Frame
	took  time.Duration
}

// Run drains src through the enhancer into seq. total is the expected frame
// count used for progress; zero means unknown. src is closed before Run
// returns. On success the sequence is verified gapless with exactly the
// number of frames processed.
func (p *Pipeline) Run(ctx context.Context, src Source, seq *frame.Sequence, total int, tracker *progress.Tracker) (Result, error) {
	if tracker == nil {
		tracker = progress.NewTracker(nil)
	}
	defer func() {
		if err := src.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("closing frame source")
		}
	}()
	if total > frame.MaxFrames {
		return Result{}, uerrors.UnsupportedMedia("pipeline",
			fmt.Errorf("video has %d frames, at most %d are supported", total, frame.MaxFrames))
	}

	start := time.Now()
	state := progress.State{FramesTotal: total}
	decoded := make(chan *frame.Frame, p.depth)
	results := make(chan enhanced, p.depth)
	logEvery := rate.Sometimes{First: 1, Interval: 2 * time.Second}

	g, gctx := errgroup.WithContext(ctx)

	// decode
	g.Go(func() error {
		defer close(decoded)
		for {
			f, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return uerrors.Wrap(err, uerrors.KindSourceUnreadable, "decode")
			}
			select {
			case decoded <- f:
				metrics.QueueDepth.WithLabelValues("decoded").Set(float64(len(decoded)))
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// enhance
	g.Go(func() error {
		defer close(results)
		for f := range decoded {
			if err := gctx.Err(); err != nil {
				return err
			}
			t0 := time.Now()
			out, err := p.enhancer.Enhance(gctx, f)
			if err != nil {
				return uerrors.Wrap(err, uerrors.KindInference, "enhance")
			}
			select {
			case results <- enhanced{frame: out, took: time.Since(t0)}:
				metrics.QueueDepth.WithLabelValues("enhanced").Set(float64(len(results)))
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// persist
	g.Go(func() error {
		for r := range results {
			if err := gctx.Err(); err != nil {
				return err
			}
			path, err := seq.Append(r.frame)
			if err != nil {
				return uerrors.Internal("write_frame", err)
			}
			state.Record(r.took)
			tracker.Report(progress.FrameFraction(state.FramesDone, total), state.Status())
			logEvery.Do(func() {
				p.logger.Info().
					Int("frame", state.FramesDone).
					Int("total", total).
					Dur("avg", state.Average()).
					Str("path", path).
					Msg("frame written")
			})
		}
		return nil
	})

	err := g.Wait()
	metrics.QueueDepth.WithLabelValues("decoded").Set(0)
	metrics.QueueDepth.WithLabelValues("enhanced").Set(0)

	res := Result{
		Frames:       state.FramesDone,
		Elapsed:      time.Since(start),
		EnhanceTotal: state.Cumulative,
		AverageFrame: state.Average(),
	}
	if err != nil {
		if ctx.Err() != nil {
			return res, uerrors.Wrap(ctx.Err(), uerrors.KindCancelled, "pipeline")
		}
		return res, err
	}

	if res.Frames == 0 {
		return res, uerrors.SourceUnreadable("decode", errors.New("no frames decoded"))
	}
	if err := seq.Verify(res.Frames); err != nil {
		return res, uerrors.Internal("verify_frames", err)
	}
	if total > 0 && res.Frames != total {
		p.logger.Warn().Int("expected", total).Int("decoded", res.Frames).Msg("frame count differs from probe")
	}

	p.logger.Info().
		Int("frames", res.Frames).
		Str("avg", fmt.Sprintf("%.2fs/frame", res.AverageFrame.Seconds())).
		Dur("elapsed", res.Elapsed).
		Msg("frame pipeline drained")
	return res, nil
}
