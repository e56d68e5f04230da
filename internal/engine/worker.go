// Package engine drives the super-resolution worker process.
//
// The worker speaks a request/response protocol over stdin/stdout. Each
// message is one JSON header line, optionally followed by exactly "bytes"
// raw payload bytes:
//
//	-> {"op":"devices"}
//	<- {"ok":true,"devices":{"cuda":true,"mps":false,"gpu_name":"..."}}
//	-> {"op":"load","model":"RealESRGAN_x4plus","weights":"https://...","scale":4,...}
//	<- {"ok":true}
//	-> {"op":"enhance","width":640,"height":360,"channels":3,"order":"bgr","outscale":4,"bytes":691200}
//	   <691200 raw bytes>
//	<- {"ok":true,"width":2560,"height":1440,"channels":3,"bytes":11059200}
//	   <11059200 raw bytes>
//	-> {"op":"unload"}
//	<- {"ok":true}
//
// Failures are reported as {"ok":false,"error":"..."}. Worker stderr is
// forwarded to the logger.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"upscaler/internal/frame"
	"upscaler/internal/procgroup"
)

// ErrWorkerStopped is returned when the worker process exited or was killed.
// Any model it held is gone.
var ErrWorkerStopped = errors.New("engine worker stopped")

// LoadRequest binds a model topology and weights to a device.
type LoadRequest struct {
	Model     string `json:"model"`
	Weights   string `json:"weights"`
	Scale     int    `json:"scale"`
	NumBlock  int    `json:"num_block"`
	NumFeat   int    `json:"num_feat"`
	NumGrowCh int    `json:"num_grow_ch"`
	Device    string `json:"device"`
	Half      bool   `json:"half"`
	Tile      int    `json:"tile"`
	TilePad   int    `json:"tile_pad"`
	PrePad    int    `json:"pre_pad"`
}

// Capabilities is the worker's view of available accelerators.
type Capabilities struct {
	CUDA        bool    `json:"cuda"`
	MPS         bool    `json:"mps"`
	GPUName     string  `json:"gpu_name,omitempty"`
	GPUMemoryGB float64 `json:"gpu_memory_gb,omitempty"`
	CUDAVersion string  `json:"cuda_version,omitempty"`
}

type request struct {
	Op string `json:"op"`
	*LoadRequest
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Channels int    `json:"channels,omitempty"`
	Order    string `json:"order,omitempty"`
	Outscale int    `json:"outscale,omitempty"`
	Bytes    int    `json:"bytes,omitempty"`
}

type response struct {
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Devices  *Capabilities `json:"devices,omitempty"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
	Channels int           `json:"channels,omitempty"`
	Bytes    int           `json:"bytes,omitempty"`
}

// Worker is a lazily started engine process. Calls are serialized.
type Worker struct {
	command string
	args    []string
	logger  zerolog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
}

// NewWorker creates a worker that runs command with args on first use
func NewWorker(command string, args []string, logger zerolog.Logger) *Worker {
	return &Worker{
		command: command,
		args:    append([]string(nil), args...),
		logger:  logger,
	}
}

// Devices asks the worker which accelerators the runtime can use.
func (w *Worker) Devices(ctx context.Context) (Capabilities, error) {
	resp, _, err := w.call(ctx, request{Op: "devices"}, nil)
	if err != nil {
		return Capabilities{}, err
	}
	if resp.Devices == nil {
		return Capabilities{}, nil
	}
	return *resp.Devices, nil
}

// Load makes req the resident model.
func (w *Worker) Load(ctx context.Context, req LoadRequest) error {
	_, _, err := w.call(ctx, request{Op: "load", LoadRequest: &req}, nil)
	return err
}

// Unload releases the resident model. A worker that is not running holds
// no model, so this is a no-op then.
func (w *Worker) Unload(ctx context.Context) error {
	w.mu.Lock()
	running := w.cmd != nil
	w.mu.Unlock()
	if !running {
		return nil
	}
	_, _, err := w.call(ctx, request{Op: "unload"}, nil)
	return err
}

// Enhance sends f and returns the upscaled frame. f is not modified.
func (w *Worker) Enhance(ctx context.Context, f *frame.Frame, outscale int) (*frame.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	req := request{
		Op:       "enhance",
		Width:    f.Width,
		Height:   f.Height,
		Channels: frame.Channels,
		Order:    f.Order.String(),
		Outscale: outscale,
		Bytes:    len(f.Pix),
	}
	resp, payload, err := w.call(ctx, req, f.Pix)
	if err != nil {
		return nil, err
	}
	if resp.Channels != 0 && resp.Channels != frame.Channels {
		return nil, fmt.Errorf("engine returned %d channels", resp.Channels)
	}
	out := &frame.Frame{Width: resp.Width, Height: resp.Height, Order: f.Order, Pix: payload}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("engine returned malformed frame: %w", err)
	}
	return out, nil
}

// Close stops the worker process.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd == nil {
		return nil
	}

	_ = w.stdin.Close()
	select {
	case <-w.exited:
	case <-time.After(5 * time.Second):
		w.logger.Warn().Msg("engine worker did not exit, killing")
		_ = procgroup.Kill(w.cmd)
		<-w.exited
	}
	w.reset()
	return nil
}

func (w *Worker) start() error {
	cmd := exec.Command(w.command, w.args...)
	procgroup.Set(cmd)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW := io.Pipe()
	cmd.Stderr = stderrW
	if err := cmd.Start(); err != nil {
		stderrW.Close()
		return fmt.Errorf("failed to start engine worker %s: %w", w.command, err)
	}

	exited := make(chan struct{})
	go w.logStderr(stderrR)
	go func() {
		err := cmd.Wait()
		stderrW.Close()
		if err != nil {
			w.logger.Debug().Err(err).Msg("engine worker exited")
		}
		close(exited)
	}()

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = bufio.NewReaderSize(stdout, 1<<20)
	w.exited = exited
	w.logger.Info().Str("cmd", w.command).Int("pid", cmd.Process.Pid).Msg("engine worker started")
	return nil
}

func (w *Worker) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "Traceback"):
			w.logger.Error().Str("source", "engine").Msg(line)
		case strings.Contains(line, "[WARN"):
			w.logger.Warn().Str("source", "engine").Msg(line)
		default:
			w.logger.Debug().Str("source", "engine").Msg(line)
		}
	}
	// keep the copy from the process unblocked after an oversized line
	_, _ = io.Copy(io.Discard, r)
}

// kill terminates the process group and forgets it. Caller holds mu.
func (w *Worker) kill() {
	if w.cmd == nil {
		return
	}
	if err := procgroup.Kill(w.cmd); err != nil {
		w.logger.Warn().Err(err).Msg("failed to kill engine worker")
	}
	<-w.exited
	w.reset()
}

func (w *Worker) reset() {
	w.cmd = nil
	w.stdin = nil
	w.stdout = nil
	w.exited = nil
}

type result struct {
	resp    response
	payload []byte
	err     error
}

func (w *Worker) call(ctx context.Context, req request, payload []byte) (response, []byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return response{}, nil, err
	}
	if w.cmd == nil {
		if err := w.start(); err != nil {
			return response{}, nil, err
		}
	}

	done := make(chan result, 1)
	stdin, stdout, exited := w.stdin, w.stdout, w.exited
	go func() {
		resp, data, err := exchange(stdin, stdout, req, payload)
		done <- result{resp, data, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			select {
			case <-exited:
				w.reset()
				return response{}, nil, fmt.Errorf("%w: %v", ErrWorkerStopped, r.err)
			default:
			}
			// the stream is out of sync after a transport error
			w.kill()
			return response{}, nil, fmt.Errorf("%w: %v", ErrWorkerStopped, r.err)
		}
		if !r.resp.OK {
			return r.resp, nil, fmt.Errorf("engine %s failed: %s", req.Op, r.resp.Error)
		}
		return r.resp, r.payload, nil
	case <-ctx.Done():
		w.logger.Warn().Str("op", req.Op).Msg("engine call cancelled, stopping worker")
		w.kill()
		<-done
		return response{}, nil, fmt.Errorf("%w: %w", ErrWorkerStopped, ctx.Err())
	}
}

func exchange(stdin io.Writer, stdout *bufio.Reader, req request, payload []byte) (response, []byte, error) {
	header, err := json.Marshal(req)
	if err != nil {
		return response{}, nil, err
	}
	header = append(header, '\n')
	if _, err := stdin.Write(header); err != nil {
		return response{}, nil, fmt.Errorf("write request: %w", err)
	}
	if len(payload) > 0 {
		if _, err := stdin.Write(payload); err != nil {
			return response{}, nil, fmt.Errorf("write payload: %w", err)
		}
	}

	line, err := stdout.ReadBytes('\n')
	if err != nil {
		return response{}, nil, fmt.Errorf("read response: %w", err)
	}
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return response{}, nil, fmt.Errorf("decode response: %w", err)
	}

	var data []byte
	if resp.Bytes > 0 {
		data = make([]byte, resp.Bytes)
		if _, err := io.ReadFull(stdout, data); err != nil {
			return response{}, nil, fmt.Errorf("read response payload: %w", err)
		}
	}
	return resp, data, nil
}
