// Package upscaling orchestrates one upscale request end to end: model
// selection, probe and audio extraction, the frame pipeline, assembly and
// reporting.
package upscaling

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"upscaler/internal/assembler"
	"upscaler/internal/config"
	"upscaler/internal/device"
	uerrors "upscaler/internal/errors"
	"upscaler/internal/frame"
	"upscaler/internal/inference"
	ulog "upscaler/internal/log"
	"upscaler/internal/metrics"
	"upscaler/internal/pipeline"
	"upscaler/internal/progress"
	"upscaler/internal/report"
	"upscaler/internal/validation"
	"upscaler/internal/video"
	"upscaler/internal/workspace"
)

const (
	VideoOutputName = "upscaled_video.mp4"
	imageOutputStem = "upscaled_image"
	encodedName     = "video_no_audio.mp4"
)

// Request is an accepted upscale request. Empty Model and Backend select the
// configured defaults; FPS 0 keeps the source frame rate.
type Request struct {
	SourcePath string
	Model      string
	Backend    string
	FPS        float64
}

// Deps are the collaborators an Upscaler drives.
type Deps struct {
	Config    config.Config
	Workspace *workspace.Manager
	Video     *video.Service
	Adapter   *inference.Adapter
	Devices   *device.Selector
	Assembler *assembler.Assembler
	Logger    zerolog.Logger
}

// Upscaler serves one request at a time.
type Upscaler struct {
	cfg       config.Config
	ws        *workspace.Manager
	video     *video.Service
	adapter   *inference.Adapter
	devices   *device.Selector
	assembler *assembler.Assembler
	logger    zerolog.Logger

	sem *semaphore.Weighted
}

// New creates an upscaler
func New(d Deps) *Upscaler {
	return &Upscaler{
		cfg:       d.Config,
		ws:        d.Workspace,
		video:     d.Video,
		adapter:   d.Adapter,
		devices:   d.Devices,
		assembler: d.Assembler,
		logger:    d.Logger,
		sem:       semaphore.NewWeighted(1),
	}
}

// UpscaleFile dispatches on the source extension.
func (u *Upscaler) UpscaleFile(ctx context.Context, req Request, sink progress.Sink) (report.Result, error) {
	switch validation.Classify(req.SourcePath) {
	case validation.MediaImage:
		return u.UpscaleImage(ctx, req, sink)
	case validation.MediaVideo:
		return u.UpscaleVideo(ctx, req, sink)
	default:
		return report.Result{}, uerrors.UnsupportedMedia("dispatch",
			fmt.Errorf("unsupported file type %q", filepath.Ext(req.SourcePath)))
	}
}

// begin serializes requests and prepares the request-scoped context and logger.
func (u *Upscaler) begin(ctx context.Context, media string) (context.Context, zerolog.Logger, func(), error) {
	if err := u.sem.Acquire(ctx, 1); err != nil {
		// staging belongs to whichever request holds the slot
		if u.sem.TryAcquire(1) {
			u.cleanupStaging()
			u.sem.Release(1)
		}
		return ctx, u.logger, nil, uerrors.Wrap(err, uerrors.KindCancelled, "accept")
	}
	id := uuid.NewString()
	ctx = ulog.ContextWithRequestID(ctx, id)
	logger := ulog.WithContext(ctx, u.logger).With().Str("media", media).Logger()
	return ctx, logger, func() { u.sem.Release(1) }, nil
}

func (u *Upscaler) cleanupStaging() {
	_ = u.assembler.CleanupStaging(u.ws.FramesDir(), u.ws.OutputDir())
}

// loadModel resolves the backend and makes the model resident.
func (u *Upscaler) loadModel(ctx context.Context, req Request, tracker *progress.Tracker) (string, device.Backend, bool, error) {
	model := req.Model
	if model == "" {
		model = u.cfg.Inference.DefaultModel
	}
	tracker.Report(progress.LoadingModel, "Loading model...")

	backend, err := u.devices.Select(req.Backend)
	if err != nil {
		return model, backend, false, err
	}
	loaded, err := u.adapter.EnsureLoaded(ctx, model, backend)
	if err != nil {
		return model, backend, false, err
	}
	return model, backend, !loaded, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case uerrors.KindOf(err) == uerrors.KindCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

func (u *Upscaler) finish(logger zerolog.Logger, media string, start time.Time, err error) {
	metrics.RequestsTotal.WithLabelValues(media, outcomeOf(err)).Inc()
	metrics.RequestDuration.WithLabelValues(media).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.Error().
			Err(err).
			Str("kind", string(uerrors.KindOf(err))).
			Str("stage", uerrors.StageOf(err)).
			Msg("upscale failed")
	}
}

// UpscaleVideo runs the full demux, enhance and remux path. The deliverable
// is written to <workspace>/upscaled_video.mp4. Staging directories are
// removed whatever the outcome.
func (u *Upscaler) UpscaleVideo(ctx context.Context, req Request, sink progress.Sink) (res report.Result, err error) {
	ctx, logger, release, err := u.begin(ctx, report.MediaVideo)
	if err != nil {
		return res, err
	}
	defer release()
	defer u.cleanupStaging()

	start := time.Now()
	defer func() { u.finish(logger, report.MediaVideo, start, err) }()

	tracker := progress.NewTracker(sink)
	logger.Info().Str("input", req.SourcePath).Float64("fps", req.FPS).Msg("upscaling video")

	model, backend, cached, err := u.loadModel(ctx, req, tracker)
	if err != nil {
		return res, err
	}
	scale := u.adapter.Scale()

	if err := u.ws.EnsureStaging(); err != nil {
		return res, err
	}

	final, err := u.ws.AllocatePath(VideoOutputName)
	if err != nil {
		return res, uerrors.Internal("allocate", err)
	}
	if err := os.Remove(final); err != nil && !errors.Is(err, os.ErrNotExist) {
		return res, uerrors.Internal("allocate", err)
	}

	// audio
	tracker.Report(progress.CheckingAudio, "Checking for audio...")
	var degradations []string
	probe := u.video.Probe(ctx, req.SourcePath)
	if probe.Degraded {
		degradations = append(degradations, "probe")
		metrics.DegradationsTotal.WithLabelValues("probe").Inc()
	}
	audioPath, err := u.ws.AllocatePath(audioFileName(probe.Info.AudioCodec))
	if err != nil {
		return res, uerrors.Internal("allocate", err)
	}
	audio := u.video.ExtractAudio(ctx, req.SourcePath, probe, audioPath)
	if audio.Status == video.AudioDegraded && !probe.Degraded {
		degradations = append(degradations, "extraction")
		metrics.DegradationsTotal.WithLabelValues("extraction").Inc()
	}
	if err := ctx.Err(); err != nil {
		return res, uerrors.Wrap(err, uerrors.KindCancelled, "extract_audio")
	}

	// frames
	tracker.Report(progress.OpeningSource, "Opening video...")
	dec, err := u.video.Open(ctx, req.SourcePath)
	if err != nil {
		return res, err
	}
	geom := dec.Geometry()
	u.preflight(logger, geom, scale)

	framesDir, err := u.ws.AllocateSubdir(workspace.FramesDirName)
	if err != nil {
		dec.Close()
		return res, err
	}
	seq := frame.NewSequence(framesDir)

	p := pipeline.New(u.adapter, u.cfg.Pipeline.QueueDepth, logger.With().Str("component", "pipeline").Logger())
	run, err := p.Run(ctx, dec, seq, geom.FrameCount, tracker)
	if err != nil {
		return res, err
	}

	// assembly
	tracker.Report(progress.FramesEnd, "Encoding video...")
	encoded := filepath.Join(u.ws.OutputDir(), encodedName)
	if err := u.assembler.EncodeFrames(ctx, seq, req.FPS, geom.FrameRate, encoded); err != nil {
		return res, err
	}

	audioStatus, audioDetail := audio.Status, audio.Reason
	if audio.Available() {
		tracker.Report(progress.AddingAudio, "Adding audio...")
		if err := u.assembler.MuxAudio(ctx, encoded, audio.Path, final); err != nil {
			if ctx.Err() != nil {
				return res, uerrors.Wrap(ctx.Err(), uerrors.KindCancelled, "mux")
			}
			logger.Warn().Err(err).Msg("audio mux failed, delivering video without audio")
			degradations = append(degradations, "mux")
			metrics.DegradationsTotal.WithLabelValues("mux").Inc()
			audioStatus, audioDetail = video.AudioDegraded, err.Error()
		}
	}
	if _, statErr := os.Stat(final); statErr != nil {
		if err := os.Rename(encoded, final); err != nil {
			return res, uerrors.Internal("finalize", err)
		}
	}

	tracker.Complete("Done!")

	fps := geom.FrameRate
	if req.FPS > 0 {
		fps = assembler.FrameRate(req.FPS, geom.FrameRate)
	}
	before := report.Dimensions{Width: geom.Width, Height: geom.Height}
	res = report.Build(report.Input{
		RequestID:       ulog.RequestIDFromContext(ctx),
		Media:           report.MediaVideo,
		SourcePath:      req.SourcePath,
		OutputPath:      final,
		Model:           model,
		Backend:         backend.Label(),
		ModelCached:     cached,
		Before:          before,
		After:           before.Scaled(scale),
		FrameRate:       fps,
		FramesProcessed: run.Frames,
		EnhanceTime:     run.EnhanceTotal,
		AudioStatus:     string(audioStatus),
		AudioDetail:     audioDetail,
		Degradations:    degradations,
		Started:         start,
		Finished:        time.Now(),
		SourceBytes:     fileSize(req.SourcePath),
		OutputBytes:     fileSize(final),
	})

	logger.Info().
		Str("output", final).
		Int("frames", res.FramesProcessed).
		Bool("audio_preserved", res.AudioPreserved).
		Dur("total", res.TotalTime).
		Msg("video upscaled")
	return res, nil
}

// UpscaleImage enhances a single still image, keeping its format. The
// deliverable is written to <workspace>/upscaled_image.<ext>.
func (u *Upscaler) UpscaleImage(ctx context.Context, req Request, sink progress.Sink) (res report.Result, err error) {
	ctx, logger, release, err := u.begin(ctx, report.MediaImage)
	if err != nil {
		return res, err
	}
	defer release()
	defer u.cleanupStaging()

	start := time.Now()
	defer func() { u.finish(logger, report.MediaImage, start, err) }()

	tracker := progress.NewTracker(sink)

	format, err := frame.FormatFromPath(req.SourcePath)
	if err != nil {
		return res, uerrors.UnsupportedMedia("decode_image", err)
	}

	model, backend, cached, err := u.loadModel(ctx, req, tracker)
	if err != nil {
		return res, err
	}

	tracker.Report(progress.OpeningSource, "Reading image...")
	img, err := frame.DecodeImageFile(req.SourcePath)
	if err != nil {
		return res, uerrors.SourceUnreadable("decode_image", err)
	}
	in := frame.FromImage(img, frame.BGR)

	tracker.Report(progress.FramesStart, "Upscaling image...")
	out, err := u.adapter.Enhance(ctx, in)
	if err != nil {
		return res, err
	}

	final, err := u.ws.AllocatePath(imageOutputStem + "." + string(format))
	if err != nil {
		return res, uerrors.Internal("allocate", err)
	}
	if err := frame.WriteImageFile(final, out.ToImage(), format); err != nil {
		return res, uerrors.Encode("write_image", err)
	}
	tracker.Complete("Done!")

	res = report.Build(report.Input{
		RequestID:   ulog.RequestIDFromContext(ctx),
		Media:       report.MediaImage,
		SourcePath:  req.SourcePath,
		OutputPath:  final,
		Model:       model,
		Backend:     backend.Label(),
		ModelCached: cached,
		Before:      report.Dimensions{Width: in.Width, Height: in.Height},
		After:       report.Dimensions{Width: out.Width, Height: out.Height},
		Started:     start,
		Finished:    time.Now(),
		SourceBytes: fileSize(req.SourcePath),
		OutputBytes: fileSize(final),
	})

	logger.Info().Str("output", final).Str("size", res.After.String()).Msg("image upscaled")
	return res, nil
}

// preflight logs resource warnings. It never fails the request.
func (u *Upscaler) preflight(logger zerolog.Logger, geom video.Geometry, scale int) {
	if est, err := inference.EstimateMemoryUsage(geom.Width, geom.Height, scale); err == nil && !est.RecommendedSafe {
		logger.Warn().
			Float64("estimated_gb", est.EstimatedGB).
			Float64("available_gb", est.AvailableGB).
			Msg("memory may be insufficient for this resolution")
	}

	if geom.FrameCount > 0 {
		need := workspace.EstimateFrameStorage(geom.Width, geom.Height, geom.FrameCount, scale)
		ok, msg, err := u.ws.CheckDiskSpace(need, u.cfg.Workspace.MinFreeGB)
		switch {
		case err != nil:
			logger.Debug().Err(err).Msg("disk space check unavailable")
		case !ok:
			logger.Warn().Msg(msg)
		}
	}
}

// audioFileName picks a container that can hold a stream copy of codec.
func audioFileName(codec string) string {
	switch codec {
	case "aac":
		return "audio.aac"
	case "mp3":
		return "audio.mp3"
	case "":
		return "audio.aac"
	default:
		return "audio.mka"
	}
}

func fileSize(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.Size()
}
