package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaler/internal/mocks"
)

func withAudio() ProbeOutcome {
	return ProbeOutcome{Info: StreamInfo{HasAudio: true, AudioCodec: "aac"}}
}

// writeLastArg makes ffmpeg "produce" content at its destination argument.
func writeLastArg(content []byte) func(string, []string) ([]byte, error, bool) {
	return func(name string, args []string) ([]byte, error, bool) {
		if name != "ffmpeg" || len(args) == 0 {
			return nil, nil, false
		}
		return nil, os.WriteFile(args[len(args)-1], content, 0o644), true
	}
}

func TestExtractAudio(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "audio.aac")

	runner := mocks.NewFakeRunner()
	runner.Handler = writeLastArg([]byte("aac payload"))
	svc := NewService(runner, "ffmpeg", "ffprobe", zerolog.Nop())

	out := svc.ExtractAudio(context.Background(), "in.mp4", withAudio(), dest)
	assert.Equal(t, AudioExtracted, out.Status)
	assert.Equal(t, dest, out.Path)
	assert.True(t, out.Available())
	assert.FileExists(t, dest)

	calls := runner.Calls("ffmpeg")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "-vn -acodec copy")
}

func TestExtractAudioOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		probe      ProbeOutcome
		setup      func(*mocks.FakeRunner)
		wantStatus AudioStatus
		wantCalls  int
	}{
		{
			name:       "no audio track",
			probe:      ProbeOutcome{Info: StreamInfo{HasAudio: false}},
			setup:      func(*mocks.FakeRunner) {},
			wantStatus: AudioNone,
		},
		{
			name:       "degraded probe",
			probe:      ProbeOutcome{Degraded: true, Reason: "ffprobe missing"},
			setup:      func(*mocks.FakeRunner) {},
			wantStatus: AudioDegraded,
		},
		{
			name:  "tool failure",
			probe: withAudio(),
			setup: func(r *mocks.FakeRunner) {
				r.Handler = func(name string, args []string) ([]byte, error, bool) {
					// leave a partial file behind, as ffmpeg does
					_ = os.WriteFile(args[len(args)-1], []byte("part"), 0o644)
					return nil, errors.New("exit status 1"), true
				}
			},
			wantStatus: AudioDegraded,
			wantCalls:  1,
		},
		{
			name:       "empty output",
			probe:      withAudio(),
			setup:      func(r *mocks.FakeRunner) { r.Handler = writeLastArg(nil) },
			wantStatus: AudioDegraded,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "audio.aac")
			// stale file from an earlier request
			require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

			runner := mocks.NewFakeRunner()
			tt.setup(runner)
			svc := NewService(runner, "ffmpeg", "ffprobe", zerolog.Nop())

			out := svc.ExtractAudio(context.Background(), "in.mp4", tt.probe, dest)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.False(t, out.Available())
			assert.Empty(t, out.Path)
			assert.NotEmpty(t, out.Reason)
			assert.NoFileExists(t, dest)
			assert.Len(t, runner.Calls("ffmpeg"), tt.wantCalls)
		})
	}
}
