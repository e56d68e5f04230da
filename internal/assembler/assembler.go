// Package assembler turns a frame sequence back into a deliverable video and
// reclaims the staging directories afterwards.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"upscaler/internal/config"
	uerrors "upscaler/internal/errors"
	"upscaler/internal/ffmpeg"
	"upscaler/internal/frame"
	"upscaler/internal/metrics"
)

// fallbackFrameRate is used when neither a requested nor a source rate is known.
const fallbackFrameRate = "30"

// Assembler encodes frame sequences and muxes audio through ffmpeg.
type Assembler struct {
	runner    ffmpeg.Runner
	ffmpegBin string
	encoder   config.EncoderConfig
	logger    zerolog.Logger
}

// New creates an assembler
func New(runner ffmpeg.Runner, ffmpegBin string, encoder config.EncoderConfig, logger zerolog.Logger) *Assembler {
	return &Assembler{
		runner:    runner,
		ffmpegBin: ffmpegBin,
		encoder:   encoder,
		logger:    logger,
	}
}

// FrameRate picks the encode input rate: the requested fps when positive,
// the source's rational rate otherwise.
func FrameRate(requested float64, sourceRate string) string {
	if requested > 0 {
		return ffmpeg.FormatFrameRate(requested)
	}
	if sourceRate == "" || sourceRate == "0/0" {
		return ""
	}
	return sourceRate
}

// EncodeFrames encodes seq at constant quality into dest. Any failure is
// fatal for the request and leaves no dest behind.
func (a *Assembler) EncodeFrames(ctx context.Context, seq *frame.Sequence, fps float64, sourceRate, dest string) error {
	rate := FrameRate(fps, sourceRate)
	if rate == "" {
		a.logger.Warn().Str("fallback", fallbackFrameRate).Msg("no frame rate known, using fallback")
		rate = fallbackFrameRate
	}

	opts := ffmpeg.EncodeOptions{
		FrameRate:   rate,
		Codec:       a.encoder.Codec,
		Preset:      a.encoder.Preset,
		CRF:         a.encoder.CRF,
		PixelFormat: a.encoder.PixelFormat,
	}

	a.logger.Info().
		Int("frames", seq.Len()).
		Str("rate", rate).
		Str("codec", opts.Codec).
		Int("crf", opts.CRF).
		Msg("encoding frames")

	if _, err := a.runner.Run(ctx, a.ffmpegBin, ffmpeg.EncodeArgs(seq.Pattern(), opts, dest)...); err != nil {
		removeQuietly(dest)
		return uerrors.Wrap(err, uerrors.KindEncode, "encode")
	}
	if err := nonEmpty(dest); err != nil {
		removeQuietly(dest)
		return uerrors.Encode("encode", err)
	}
	return nil
}

// MuxAudio combines the video stream of video with the audio of audio into
// dest. On success both inputs are removed. On failure dest is removed and a
// mux error is returned; the caller keeps delivering the video-only file.
func (a *Assembler) MuxAudio(ctx context.Context, video, audio, dest string) error {
	if _, err := a.runner.Run(ctx, a.ffmpegBin, ffmpeg.MuxArgs(video, audio, a.encoder.AudioCodec, dest)...); err != nil {
		removeQuietly(dest)
		return uerrors.Wrap(err, uerrors.KindMux, "mux")
	}
	if err := nonEmpty(dest); err != nil {
		removeQuietly(dest)
		return uerrors.Mux("mux", err)
	}

	for _, p := range []string{video, audio} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.Warn().Err(err).Str("path", p).Msg("failed to remove mux input")
		}
	}
	return nil
}

// CleanupStaging removes dirs recursively. Failures are logged and counted,
// never fatal; the joined cleanup errors are returned for the caller's record.
func (a *Assembler) CleanupStaging(dirs ...string) error {
	var errs []error
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			cerr := uerrors.Cleanup("cleanup_staging", err).WithDetail("path", dir)
			a.logger.Warn().Err(cerr).Str("path", dir).Msg("failed to remove staging directory")
			metrics.DegradationsTotal.WithLabelValues("cleanup").Inc()
			errs = append(errs, cerr)
		}
	}
	return errors.Join(errs...)
}

func nonEmpty(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if st.Size() == 0 {
		return fmt.Errorf("output %s is empty", path)
	}
	return nil
}

func removeQuietly(path string) {
	_ = os.Remove(path)
}
