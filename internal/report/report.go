// Package report aggregates the outcome of an upscale request.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"upscaler/internal/video"
)

// Media kinds.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// Dimensions is a width x height pair.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string { return fmt.Sprintf("%dx%d", d.Width, d.Height) }

// Scaled returns the dimensions multiplied by scale.
func (d Dimensions) Scaled(scale int) Dimensions {
	return Dimensions{Width: d.Width * scale, Height: d.Height * scale}
}

// Input is everything the reporter needs. Zero values are allowed for
// fields that do not apply to the media kind.
type Input struct {
	RequestID   string
	Media       string
	SourcePath  string
	OutputPath  string
	Model       string
	Backend     string
	ModelCached bool

	Before Dimensions
	After  Dimensions

	FrameRate       string
	FramesProcessed int
	// EnhanceTime is the cumulative time spent inside the engine.
	EnhanceTime time.Duration

	AudioStatus string
	AudioDetail string
	// Degradations lists the non-fatal stages that fell back.
	Degradations []string

	Started  time.Time
	Finished time.Time

	SourceBytes int64
	OutputBytes int64
}

// Result is the immutable summary of a finished request.
type Result struct {
	RequestID   string
	Media       string
	SourcePath  string
	OutputPath  string
	Model       string
	Backend     string
	LoadMessage string

	Before Dimensions
	After  Dimensions

	FrameRate       string
	FramesProcessed int

	AudioPreserved bool
	AudioStatus    string
	AudioDetail    string
	Degradations   []string

	TotalTime    time.Duration
	AverageFrame time.Duration
	EffectiveFPS float64

	SourceBytes int64
	OutputBytes int64
}

// Build derives the result from in. It performs no I/O.
func Build(in Input) Result {
	r := Result{
		RequestID:       in.RequestID,
		Media:           in.Media,
		SourcePath:      in.SourcePath,
		OutputPath:      in.OutputPath,
		Model:           in.Model,
		Backend:         in.Backend,
		Before:          in.Before,
		After:           in.After,
		FrameRate:       in.FrameRate,
		FramesProcessed: in.FramesProcessed,
		AudioStatus:     in.AudioStatus,
		AudioDetail:     in.AudioDetail,
		AudioPreserved:  in.AudioStatus == "extracted",
		Degradations:    append([]string(nil), in.Degradations...),
		SourceBytes:     in.SourceBytes,
		OutputBytes:     in.OutputBytes,
	}

	if in.ModelCached {
		r.LoadMessage = fmt.Sprintf("Using cached model %s on %s", in.Model, in.Backend)
	} else {
		r.LoadMessage = fmt.Sprintf("Model %s loaded on %s", in.Model, in.Backend)
	}

	if in.Finished.After(in.Started) {
		r.TotalTime = in.Finished.Sub(in.Started)
	}
	if in.FramesProcessed > 0 {
		r.AverageFrame = in.EnhanceTime / time.Duration(in.FramesProcessed)
		if secs := r.TotalTime.Seconds(); secs > 0 {
			r.EffectiveFPS = float64(in.FramesProcessed) / secs
		}
	}
	return r
}

// Degraded reports whether any non-fatal stage fell back.
func (r Result) Degraded() bool { return len(r.Degradations) > 0 }

// Summary renders the human-readable completion text.
func (r Result) Summary() string {
	var b strings.Builder
	if r.Media == MediaImage {
		b.WriteString("✓ Image upscaled successfully\n")
		b.WriteString(r.LoadMessage + "\n")
		fmt.Fprintf(&b, "Original size: %s\n", r.Before)
		fmt.Fprintf(&b, "Upscaled size: %s", r.After)
		return b.String()
	}

	b.WriteString("✓ Video upscaled successfully\n")
	b.WriteString(r.LoadMessage + "\n")
	fmt.Fprintf(&b, "Frames processed: %d\n", r.FramesProcessed)
	fmt.Fprintf(&b, "Original size: %s\n", r.Before)
	fmt.Fprintf(&b, "Upscaled size: %s\n", r.After)
	fmt.Fprintf(&b, "FPS: %s\n", r.fps())
	fmt.Fprintf(&b, "Audio: %s\n", r.audioLine())
	b.WriteString("\nPerformance:\n")
	fmt.Fprintf(&b, "  Total time: %.2fs\n", r.TotalTime.Seconds())
	fmt.Fprintf(&b, "  Average: %.2fs/frame\n", r.AverageFrame.Seconds())
	fmt.Fprintf(&b, "  Speed: %.2f fps", r.EffectiveFPS)
	return b.String()
}

// fps renders the output rate numerically ("30000/1001" -> "29.97"). A rate
// that does not parse is shown as is.
func (r Result) fps() string {
	v := video.ParseFrameRate(r.FrameRate)
	if v <= 0 {
		return r.FrameRate
	}
	return strconv.FormatFloat(float64(int64(v*100+0.5))/100, 'f', -1, 64)
}

func (r Result) audioLine() string {
	switch {
	case r.AudioPreserved:
		return "✓ Preserved"
	case r.AudioStatus == "no_audio" || r.AudioStatus == "":
		return "✗ No audio track"
	default:
		return "✗ Not preserved (" + r.AudioDetail + ")"
	}
}
