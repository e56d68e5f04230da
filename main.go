package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"upscaler/internal/assembler"
	"upscaler/internal/config"
	"upscaler/internal/device"
	"upscaler/internal/engine"
	uerrors "upscaler/internal/errors"
	"upscaler/internal/ffmpeg"
	"upscaler/internal/frame"
	"upscaler/internal/inference"
	ulog "upscaler/internal/log"
	"upscaler/internal/metrics"
	"upscaler/internal/ui"
	"upscaler/internal/upscaling"
	"upscaler/internal/validation"
	"upscaler/internal/video"
	"upscaler/internal/workspace"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitCancelled = 130
)

const engineStartTimeout = 60 * time.Second

type options struct {
	input      string
	output     string
	model      string
	backend    string
	fps        float64
	configPath string
	noPrompt   bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("upscaler", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.input, "input", "", "image or video to upscale")
	fs.StringVar(&opts.output, "output", "", "destination file (default <input>_upscaled.<ext>)")
	fs.StringVar(&opts.model, "model", "", "model id (prompted when omitted)")
	fs.StringVar(&opts.backend, "backend", "", "compute backend: cuda, mps or cpu (prompted when omitted)")
	fs.Float64Var(&opts.fps, "fps", 0, "output frame rate for videos, 0 keeps the source rate")
	fs.StringVar(&opts.configPath, "config", os.Getenv("UPSCALER_CONFIG"), "path to config.yaml")
	fs.BoolVar(&opts.noPrompt, "no-prompt", false, "never prompt; use defaults for omitted flags")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 && opts.input == "" {
		opts.input = fs.Arg(0)
	}
	return opts, nil
}

// outputExt returns the deliverable extension, with dot, for input.
func outputExt(input string) (string, error) {
	switch validation.Classify(input) {
	case validation.MediaVideo:
		return ".mp4", nil
	case validation.MediaImage:
		format, err := frame.FormatFromPath(input)
		if err != nil {
			return "", err
		}
		return "." + string(format), nil
	default:
		return "", uerrors.UnsupportedMedia("output", fmt.Errorf("unsupported file type %q", filepath.Ext(input)))
	}
}

// copyDeliverable copies src to dst atomically.
func copyDeliverable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	pendingFile, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending output file: %w", err)
	}
	defer pendingFile.Cleanup() //nolint:errcheck

	if _, err := io.Copy(pendingFile, in); err != nil {
		return fmt.Errorf("copy deliverable: %w", err)
	}
	return pendingFile.CloseAtomicallyReplace()
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, uerrors.ErrCancelled), errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, uerrors.ErrInvalidInput), errors.Is(err, uerrors.ErrUnsupportedMedia), errors.Is(err, uerrors.ErrInvalidBackend):
		return exitUsage
	default:
		return exitFailure
	}
}

func printError(err error) {
	fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render(fmt.Sprintf("❌ %v", err)))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		printError(err)
		return exitUsage
	}
	ulog.Configure(ulog.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Format != "json",
	})
	logger := ulog.WithComponent("cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, ulog.WithComponent("metrics")); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint failed")
			}
		}()
	}

	fmt.Println(ui.TitleStyle.Render("🔍 AI Upscaler"))

	if err := checkEnvironment(cfg); err != nil {
		printError(err)
		return exitFailure
	}

	ws := workspace.NewManager(cfg.Workspace.Dir, ulog.WithComponent("workspace"))
	if err := ws.Initialize(); err != nil {
		printError(err)
		return exitFailure
	}
	defer func() {
		if err := ws.Teardown(); err != nil {
			logger.Warn().Err(err).Msg("workspace teardown failed")
		}
	}()

	worker := engine.NewWorker(cfg.Engine.Command, cfg.Engine.Args, ulog.WithComponent("engine"))
	defer func() {
		if err := worker.Close(); err != nil {
			logger.Debug().Err(err).Msg("engine worker exit")
		}
	}()
	if err := checkEngine(ctx, worker); err != nil {
		printError(err)
		return exitCode(err)
	}

	selector := device.Detect(ctx, worker, ulog.WithComponent("device"))
	ui.DisplayDeviceInfo(selector.Info())

	if err := resolveOptions(&opts, cfg, selector); err != nil {
		printError(err)
		return exitCode(err)
	}

	err = upscale(ctx, opts, cfg, ws, worker, selector, logger)
	if err != nil {
		if exitCode(err) == exitCancelled {
			fmt.Fprintln(os.Stderr, ui.WarningStyle.Render("⚠️  Cancelled"))
		} else {
			printError(err)
		}
	}
	return exitCode(err)
}

// checkEnvironment verifies the external tools resolve before anything is
// asked of the user.
func checkEnvironment(cfg config.Config) error {
	var missing []string
	for _, bin := range []string{cfg.FFmpeg.Bin, cfg.FFmpeg.FFprobeBin, cfg.Engine.Command} {
		if !ffmpeg.IsAvailable(bin) {
			missing = append(missing, bin)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s not installed or not in PATH", strings.Join(missing, ", "))
	}
	return nil
}

// checkEngine starts the worker and waits for its first answer, so a broken
// engine installation fails here instead of at model load.
func checkEngine(ctx context.Context, prober device.CapabilityProber) error {
	ctx, cancel := context.WithTimeout(ctx, engineStartTimeout)
	defer cancel()
	if _, err := prober.Devices(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return uerrors.Wrap(err, uerrors.KindCancelled, "engine_start")
		}
		return fmt.Errorf("engine worker is not usable, check engine.command and engine.args: %w", err)
	}
	return nil
}

// resolveOptions fills omitted flags from prompts or defaults and validates
// the result.
func resolveOptions(opts *options, cfg config.Config, selector *device.Selector) error {
	var prompter ui.Prompter = ui.TerminalPrompter{}

	if opts.input == "" {
		if opts.noPrompt {
			return uerrors.InvalidInput("options", errors.New("-input is required"))
		}
		input, err := ui.AskInputPath(prompter)
		if err != nil {
			return uerrors.Wrap(err, uerrors.KindInvalidInput, "options")
		}
		opts.input = input
	}
	kind, err := validation.ValidateInputPath(opts.input)
	if err != nil {
		return err
	}
	opts.input = validation.CleanPath(opts.input)

	if opts.model == "" {
		opts.model = cfg.Inference.DefaultModel
		if !opts.noPrompt {
			if opts.model, err = ui.ChooseModel(prompter); err != nil {
				return uerrors.Wrap(err, uerrors.KindInvalidInput, "options")
			}
		}
	}
	if _, err := inference.LookupModel(opts.model); err != nil {
		return uerrors.InvalidInput("options", err)
	}

	if opts.backend == "" {
		opts.backend = cfg.Inference.Backend
	}
	if opts.backend == "" && !opts.noPrompt {
		b, err := ui.ChooseBackend(prompter, selector.AvailableBackends())
		if err != nil {
			return uerrors.Wrap(err, uerrors.KindInvalidInput, "options")
		}
		opts.backend = string(b)
	}

	if kind == validation.MediaVideo && opts.fps == 0 && !opts.noPrompt {
		if opts.fps, err = ui.AskFPS(prompter); err != nil {
			return uerrors.Wrap(err, uerrors.KindInvalidInput, "options")
		}
	}
	if err := validation.ValidateFPS(opts.fps); err != nil {
		return err
	}

	if opts.output == "" {
		ext, err := outputExt(opts.input)
		if err != nil {
			return err
		}
		opts.output = validation.DefaultOutputPath(opts.input, ext)
	}
	if err := validation.ValidateOutputPath(opts.output); err != nil {
		return err
	}
	opts.output = validation.CleanPath(opts.output)
	return nil
}

func upscale(ctx context.Context, opts options, cfg config.Config, ws *workspace.Manager,
	worker *engine.Worker, selector *device.Selector, logger zerolog.Logger) error {
	runner := ffmpeg.NewExecRunner(ulog.WithComponent("ffmpeg"))
	videoSvc := video.NewService(runner, cfg.FFmpeg.Bin, cfg.FFmpeg.FFprobeBin, ulog.WithComponent("video"))

	if validation.Classify(opts.input) == validation.MediaVideo {
		probe := videoSvc.Probe(ctx, opts.input)
		if !probe.Degraded {
			ui.DisplayStreamInfo(probe.Info)
		}
	}

	up := upscaling.New(upscaling.Deps{
		Config:    cfg,
		Workspace: ws,
		Video:     videoSvc,
		Adapter:   inference.NewAdapter(worker, ulog.WithComponent("inference"), inference.WithFrameTimeout(cfg.Inference.FrameTimeout)),
		Devices:   selector,
		Assembler: assembler.New(runner, cfg.FFmpeg.Bin, cfg.Encoder, ulog.WithComponent("assembler")),
		Logger:    ulog.WithComponent("upscaler"),
	})

	bar := ui.NewProgressBar(os.Stderr)
	res, err := up.UpscaleFile(ctx, upscaling.Request{
		SourcePath: opts.input,
		Model:      opts.model,
		Backend:    opts.backend,
		FPS:        opts.fps,
	}, bar.Sink())
	bar.Finish()
	if err != nil {
		return err
	}

	if err := copyDeliverable(res.OutputPath, opts.output); err != nil {
		return uerrors.Internal("deliver", err)
	}
	logger.Info().Str("output", opts.output).Msg("deliverable written")

	res.OutputPath = opts.output
	ui.DisplayResult(res)
	fmt.Println(ui.SuccessStyle.Render("✅ Saved to: " + opts.output))
	return nil
}
