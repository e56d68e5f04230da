package ffmpeg

import (
	"strconv"
)

// ProbeArgs asks ffprobe for every stream and the container format as JSON.
func ProbeArgs(input string) []string {
	return []string{"-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", input}
}

// GeometryArgs asks ffprobe for the first video stream's size, rate and
// frame count. The container duration is included because Matroska and WebM
// streams carry neither nb_frames nor a stream duration.
func GeometryArgs(input string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type,width,height,nb_frames,r_frame_rate,avg_frame_rate,duration:format=duration",
		"-of", "json",
		input,
	}
}

// ExtractAudioArgs stream-copies the audio of input into dest.
func ExtractAudioArgs(input, dest string) []string {
	return []string{"-i", input, "-vn", "-acodec", "copy", "-y", dest}
}

// DecodeArgs decodes the first video stream of input to interleaved bgr24
// on stdout, one frame per decoded picture.
func DecodeArgs(input string) []string {
	return []string{
		"-v", "error",
		"-nostdin",
		"-i", input,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-vsync", "passthrough",
		"pipe:1",
	}
}

// EncodeOptions controls constant-quality encoding of a frame sequence.
type EncodeOptions struct {
	FrameRate   string // e.g. "30", "30000/1001"
	Codec       string
	Preset      string
	CRF         int
	PixelFormat string
}

// EncodeArgs encodes the image2 pattern into dest.
func EncodeArgs(pattern string, opts EncodeOptions, dest string) []string {
	args := []string{
		"-y",
		"-framerate", opts.FrameRate,
		"-i", pattern,
		"-c:v", opts.Codec,
	}
	if opts.Preset != "" {
		args = append(args, "-preset", opts.Preset)
	}
	args = append(args,
		"-pix_fmt", opts.PixelFormat,
		"-crf", strconv.Itoa(opts.CRF),
		dest,
	)
	return args
}

// MuxArgs copies the video of video and encodes the audio of audio into dest.
func MuxArgs(video, audio, audioCodec, dest string) []string {
	return []string{
		"-y",
		"-i", video,
		"-i", audio,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", audioCodec,
		"-strict", "experimental",
		dest,
	}
}

// FormatFrameRate renders a requested frame rate for -framerate.
func FormatFrameRate(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}
