// Package video probes media streams, extracts audio and decodes frames via
// the ffmpeg collaborators.
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	uerrors "upscaler/internal/errors"
	"upscaler/internal/ffmpeg"
)

// StreamInfo describes the composition of a media file. Read-only after probe.
type StreamInfo struct {
	Filepath   string
	FileSize   int64
	Format     string
	Width      int
	Height     int
	FrameCount int
	FrameRate  string // rational as reported, e.g. "30000/1001"
	FPS        float64
	Duration   float64
	Bitrate    int64
	HasAudio   bool
	AudioCodec string
}

// ProbeOutcome is the tagged result of Probe. A degraded probe carries a
// reason and reports no audio.
type ProbeOutcome struct {
	Info     StreamInfo
	Degraded bool
	Reason   string
}

// FFProbeOutput is the subset of ffprobe's JSON document we read.
type FFProbeOutput struct {
	Streams []struct {
		Index        int    `json:"index"`
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		Bitrate  string `json:"bit_rate"`
		Format   string `json:"format_name"`
	} `json:"format"`
}

// Service bundles the tool binaries and runner used by the video operations.
type Service struct {
	runner     ffmpeg.Runner
	ffmpegBin  string
	ffprobeBin string
	logger     zerolog.Logger
}

// NewService creates a video service
func NewService(runner ffmpeg.Runner, ffmpegBin, ffprobeBin string, logger zerolog.Logger) *Service {
	return &Service{
		runner:     runner,
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		logger:     logger,
	}
}

// Probe inspects path. It never fails: any error yields a degraded outcome
// with HasAudio=false so the caller can continue without audio.
func (s *Service) Probe(ctx context.Context, path string) ProbeOutcome {
	info, err := s.probe(ctx, path)
	if err != nil {
		perr := uerrors.Probe("probe", err)
		s.logger.Warn().Err(perr).Str("input", path).Msg("probe failed, continuing without audio")
		return ProbeOutcome{
			Info:     StreamInfo{Filepath: path},
			Degraded: true,
			Reason:   err.Error(),
		}
	}
	return ProbeOutcome{Info: *info}
}

func (s *Service) probe(ctx context.Context, path string) (*StreamInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	output, err := s.runner.Run(ctx, s.ffprobeBin, ffmpeg.ProbeArgs(path)...)
	if err != nil {
		return nil, fmt.Errorf("failed to run ffprobe: %w", err)
	}

	info, err := ParseProbeOutput(output)
	if err != nil {
		return nil, err
	}
	info.Filepath = path
	info.FileSize = fileInfo.Size()
	return info, nil
}

// ParseProbeOutput converts ffprobe JSON into StreamInfo.
func ParseProbeOutput(output []byte) (*StreamInfo, error) {
	var probe FFProbeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &StreamInfo{Format: probe.Format.Format}

	videoFound := false
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if videoFound {
				continue
			}
			videoFound = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.FrameRate = stream.RFrameRate
			if info.FrameRate == "" || info.FrameRate == "0/0" {
				info.FrameRate = stream.AvgFrameRate
			}
			info.FPS = ParseFrameRate(info.FrameRate)
			if n, err := strconv.Atoi(stream.NbFrames); err == nil {
				info.FrameCount = n
			}
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				info.Duration = d
			}
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = stream.CodecName
			}
		}
	}

	if probe.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = duration
		}
	}
	if probe.Format.Bitrate != "" {
		if bitrate, err := strconv.ParseInt(probe.Format.Bitrate, 10, 64); err == nil {
			info.Bitrate = bitrate
		}
	}
	if info.FrameCount == 0 && info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(info.Duration*info.FPS + 0.5)
	}

	return info, nil
}

// ParseFrameRate parses "30000/1001" or "25" into frames per second.
// Unparseable input yields 0.
func ParseFrameRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if num, den, ok := strings.Cut(rate, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	f, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0
	}
	return f
}
