package video

import (
	"context"
	"errors"
	"os"

	uerrors "upscaler/internal/errors"
	"upscaler/internal/ffmpeg"
)

// AudioStatus tags the result of audio extraction.
type AudioStatus string

const (
	// AudioExtracted means dest holds the source audio track
	AudioExtracted AudioStatus = "extracted"
	// AudioNone means the source has no audio track
	AudioNone AudioStatus = "no_audio"
	// AudioDegraded means audio was present or unknown but could not be extracted
	AudioDegraded AudioStatus = "degraded"
)

// AudioOutcome is the tagged result of ExtractAudio.
type AudioOutcome struct {
	Status AudioStatus
	Path   string // set only when Status is AudioExtracted
	Reason string
}

// Available reports whether an extracted audio file is ready for muxing.
func (o AudioOutcome) Available() bool {
	return o.Status == AudioExtracted && o.Path != ""
}

// ExtractAudio stream-copies the audio of input into dest. A stale dest is
// removed first. Failures degrade and never leave a partial dest behind.
func (s *Service) ExtractAudio(ctx context.Context, input string, probe ProbeOutcome, dest string) AudioOutcome {
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn().Err(err).Str("path", dest).Msg("failed to remove stale audio file")
	}

	if probe.Degraded {
		return AudioOutcome{Status: AudioDegraded, Reason: "probe failed: " + probe.Reason}
	}
	if !probe.Info.HasAudio {
		s.logger.Info().Msg("no audio stream detected")
		return AudioOutcome{Status: AudioNone, Reason: "no audio track"}
	}

	if _, err := s.runner.Run(ctx, s.ffmpegBin, ffmpeg.ExtractAudioArgs(input, dest)...); err != nil {
		_ = os.Remove(dest)
		xerr := uerrors.Extraction("extract_audio", err)
		s.logger.Warn().Err(xerr).Msg("could not extract audio, continuing without it")
		return AudioOutcome{Status: AudioDegraded, Reason: err.Error()}
	}

	if st, err := os.Stat(dest); err != nil || st.Size() == 0 {
		_ = os.Remove(dest)
		s.logger.Warn().Str("path", dest).Msg("audio extraction produced no output")
		return AudioOutcome{Status: AudioDegraded, Reason: "extraction produced no output"}
	}

	s.logger.Info().Str("codec", probe.Info.AudioCodec).Str("path", dest).Msg("audio extracted")
	return AudioOutcome{Status: AudioExtracted, Path: dest}
}
