package video

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uerrors "upscaler/internal/errors"
	"upscaler/internal/mocks"
)

const geometryJSON = `{"streams":[{"codec_type":"video","width":4,"height":2,"nb_frames":"3","r_frame_rate":"25/1","avg_frame_rate":"25/1"}]}`

// rawFrames returns n 4x2 BGR frames, every byte of frame i set to i.
func rawFrames(n int) []byte {
	var buf bytes.Buffer
	for i := 1; i <= n; i++ {
		buf.Write(bytes.Repeat([]byte{byte(i)}, 4*2*3))
	}
	return buf.Bytes()
}

func TestDecoderReadsAllFrames(t *testing.T) {
	runner := mocks.NewFakeRunner()
	runner.Responses["ffprobe"] = []byte(geometryJSON)
	runner.Streams["ffmpeg"] = rawFrames(3)
	svc := NewService(runner, "ffmpeg", "ffprobe", zerolog.Nop())

	ctx := context.Background()
	dec, err := svc.Open(ctx, "in.mp4")
	require.NoError(t, err)
	defer dec.Close()

	geom := dec.Geometry()
	assert.Equal(t, Geometry{Width: 4, Height: 2, FrameCount: 3, FrameRate: "25/1", FPS: 25}, geom)
	assert.Equal(t, StateOpened, dec.State())

	for i := 1; i <= 3; i++ {
		f, err := dec.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, StateStreaming, dec.State())
		assert.Equal(t, 4, f.Width)
		assert.Equal(t, 2, f.Height)
		assert.Equal(t, byte(i), f.Pix[0])
		assert.Equal(t, byte(i), f.Pix[len(f.Pix)-1])
	}

	_, err = dec.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, StateDrained, dec.State())
	assert.Equal(t, 3, dec.FramesRead())

	// drained stays drained
	_, err = dec.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	calls := runner.Calls("ffmpeg")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-pix_fmt bgr24")
}

func TestOpenEstimatesFrameCountFromContainerDuration(t *testing.T) {
	// Matroska: no nb_frames and no stream duration, only the container's.
	const mkvGeometry = `{"streams":[{"codec_type":"video","width":4,"height":2,"r_frame_rate":"25/1","avg_frame_rate":"25/1"}],"format":{"duration":"2.000000"}}`

	runner := mocks.NewFakeRunner()
	runner.Responses["ffprobe"] = []byte(mkvGeometry)
	runner.Streams["ffmpeg"] = rawFrames(1)
	svc := NewService(runner, "ffmpeg", "ffprobe", zerolog.Nop())

	dec, err := svc.Open(context.Background(), "in.mkv")
	require.NoError(t, err)
	defer dec.Close()

	assert.Equal(t, 50, dec.Geometry().FrameCount)

	calls := runner.Calls("ffprobe")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], ":format=duration")
}

func TestDecoderTruncatedFrame(t *testing.T) {
	data := rawFrames(2)
	stream := io.NopCloser(bytes.NewReader(data[:len(data)-5]))
	dec := NewDecoder(Geometry{Width: 4, Height: 2}, stream)

	ctx := context.Background()
	_, err := dec.Next(ctx)
	require.NoError(t, err)

	_, err = dec.Next(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrSourceUnreadable)
	assert.Contains(t, err.Error(), "truncated frame 2")
	assert.Equal(t, StateDrained, dec.State())
}

func TestDecoderStreamError(t *testing.T) {
	runner := mocks.NewFakeRunner()
	runner.Responses["ffprobe"] = []byte(geometryJSON)
	runner.Streams["ffmpeg"] = nil
	runner.StreamErrors["ffmpeg"] = errors.New("ffmpeg: invalid data found")
	svc := NewService(runner, "ffmpeg", "ffprobe", zerolog.Nop())

	dec, err := svc.Open(context.Background(), "in.mp4")
	require.NoError(t, err)
	defer dec.Close()

	_, err = dec.Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, uerrors.ErrSourceUnreadable)
}

func TestOpenFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mocks.FakeRunner)
	}{
		{"probe fails", func(r *mocks.FakeRunner) { r.Errors["ffprobe"] = errors.New("no such file") }},
		{"no video stream", func(r *mocks.FakeRunner) { r.Responses["ffprobe"] = []byte(`{"streams":[]}`) }},
		{"decoder fails to start", func(r *mocks.FakeRunner) {
			r.Responses["ffprobe"] = []byte(geometryJSON)
			r.Errors["ffmpeg"] = errors.New("exec: not found")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := mocks.NewFakeRunner()
			tt.setup(runner)
			svc := NewService(runner, "ffmpeg", "ffprobe", zerolog.Nop())

			_, err := svc.Open(context.Background(), "in.mp4")
			require.Error(t, err)
			assert.ErrorIs(t, err, uerrors.ErrSourceUnreadable)
		})
	}
}

func TestDecoderCancelled(t *testing.T) {
	dec := NewDecoder(Geometry{Width: 4, Height: 2}, io.NopCloser(bytes.NewReader(rawFrames(2))))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dec.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, dec.Close())
	assert.Equal(t, StateDrained, dec.State())
}
