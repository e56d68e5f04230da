package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	uerrors "upscaler/internal/errors"
	"upscaler/internal/ffmpeg"
	"upscaler/internal/frame"
)

// DecoderState follows OPENED -> STREAMING -> DRAINED.
type DecoderState int

const (
	StateOpened DecoderState = iota
	StateStreaming
	StateDrained
)

func (s DecoderState) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	case StateDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// Geometry is the video-stream subset the decoder needs.
type Geometry struct {
	Width      int
	Height     int
	FrameCount int
	FrameRate  string
	FPS        float64
}

// Decoder yields raw BGR frames from an ffmpeg rawvideo pipe.
type Decoder struct {
	geom   Geometry
	stream io.ReadCloser

	mu    sync.Mutex
	state DecoderState
	read  int
}

// Open queries the first video stream and starts decoding it. Any failure
// is a SourceUnreadable error.
func (s *Service) Open(ctx context.Context, path string) (*Decoder, error) {
	geom, err := s.queryGeometry(ctx, path)
	if err != nil {
		return nil, uerrors.SourceUnreadable("open", err)
	}

	stream, err := s.runner.Stream(ctx, s.ffmpegBin, ffmpeg.DecodeArgs(path)...)
	if err != nil {
		return nil, uerrors.SourceUnreadable("open", err)
	}

	s.logger.Debug().
		Int("width", geom.Width).
		Int("height", geom.Height).
		Int("frames", geom.FrameCount).
		Str("rate", geom.FrameRate).
		Msg("decoder opened")

	return NewDecoder(geom, stream), nil
}

// NewDecoder wraps an already started rawvideo stream.
func NewDecoder(geom Geometry, stream io.ReadCloser) *Decoder {
	return &Decoder{geom: geom, stream: stream, state: StateOpened}
}

func (s *Service) queryGeometry(ctx context.Context, path string) (Geometry, error) {
	out, err := s.runner.Run(ctx, s.ffprobeBin, ffmpeg.GeometryArgs(path)...)
	if err != nil {
		return Geometry{}, fmt.Errorf("failed to get video info: %w", err)
	}

	info, err := ParseProbeOutput(out)
	if err != nil {
		return Geometry{}, err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Geometry{}, fmt.Errorf("no video stream found")
	}

	return Geometry{
		Width:      info.Width,
		Height:     info.Height,
		FrameCount: info.FrameCount,
		FrameRate:  info.FrameRate,
		FPS:        info.FPS,
	}, nil
}

// Geometry returns the stream geometry.
func (d *Decoder) Geometry() Geometry { return d.geom }

// State returns the current decoder state.
func (d *Decoder) State() DecoderState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// FramesRead returns how many frames have been decoded.
func (d *Decoder) FramesRead() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read
}

// Next returns the next frame, or io.EOF once the stream is drained.
func (d *Decoder) Next(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	if d.state == StateDrained {
		d.mu.Unlock()
		return nil, io.EOF
	}
	d.state = StateStreaming
	d.mu.Unlock()

	f := frame.New(d.geom.Width, d.geom.Height, frame.BGR)
	_, err := io.ReadFull(d.stream, f.Pix)

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case err == nil:
		d.read++
		return f, nil
	case errors.Is(err, io.EOF):
		d.state = StateDrained
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		d.state = StateDrained
		return nil, uerrors.SourceUnreadable("decode",
			fmt.Errorf("truncated frame %d after %d complete frames", d.read+1, d.read))
	default:
		d.state = StateDrained
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, uerrors.SourceUnreadable("decode", err)
	}
}

// Close releases the decoder process. Closing an undrained decoder stops
// ffmpeg early.
func (d *Decoder) Close() error {
	d.mu.Lock()
	d.state = StateDrained
	d.mu.Unlock()
	return d.stream.Close()
}
