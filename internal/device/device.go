// Package device selects the compute backend the inference engine runs on.
package device

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/mem"

	"upscaler/internal/engine"
	uerrors "upscaler/internal/errors"
)

// Backend is a compute backend, ordered by preference.
type Backend string

const (
	CUDA Backend = "cuda"
	MPS  Backend = "mps"
	CPU  Backend = "cpu"
)

// priority lists backends best first.
var priority = []Backend{CUDA, MPS, CPU}

// Label returns the display name used in prompts and reports.
func (b Backend) Label() string {
	switch b {
	case CUDA:
		return "GPU (CUDA)"
	case MPS:
		return "MPS (Apple Silicon)"
	case CPU:
		return "CPU"
	default:
		return string(b)
	}
}

// Kind describes the class of hardware behind the backend.
func (b Backend) Kind() string {
	switch b {
	case CUDA:
		return "discrete accelerator"
	case MPS:
		return "unified memory"
	default:
		return "host"
	}
}

// SupportsHalf reports whether half precision is used on this backend.
func (b Backend) SupportsHalf() bool { return b != CPU }

// ParseBackend accepts backend ids and display labels, case-insensitively.
func ParseBackend(name string) (Backend, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, b := range priority {
		if n == string(b) || n == strings.ToLower(b.Label()) {
			return b, true
		}
	}
	switch n {
	case "gpu":
		return CUDA, true
	case "apple", "metal":
		return MPS, true
	}
	return "", false
}

// CapabilityProber reports runtime accelerator support.
type CapabilityProber interface {
	Devices(ctx context.Context) (engine.Capabilities, error)
}

// Info summarises the device state for display.
type Info struct {
	Current       Backend
	Available     []Backend
	Platform      string
	TotalMemoryGB float64
	GPUName       string
	GPUMemoryGB   float64
}

// Selector holds the available backends and the current selection.
type Selector struct {
	mu        sync.RWMutex
	available []Backend
	current   Backend
	caps      engine.Capabilities
	logger    zerolog.Logger
}

// Detect builds a selector from the prober's capability report. If the
// prober fails only CPU is offered.
func Detect(ctx context.Context, prober CapabilityProber, logger zerolog.Logger) *Selector {
	caps, err := prober.Devices(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("could not query accelerators, falling back to CPU")
		caps = engine.Capabilities{}
	}
	return NewSelector(caps, logger)
}

// NewSelector builds a selector from known capabilities.
func NewSelector(caps engine.Capabilities, logger zerolog.Logger) *Selector {
	var available []Backend
	if caps.CUDA {
		available = append(available, CUDA)
	}
	if caps.MPS {
		available = append(available, MPS)
	}
	available = append(available, CPU)

	s := &Selector{available: available, caps: caps, logger: logger}
	s.current = s.Default()
	return s
}

// AvailableBackends returns the backends in priority order.
func (s *Selector) AvailableBackends() []Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Backend(nil), s.available...)
}

// Default returns the most preferred available backend.
func (s *Selector) Default() Backend {
	return s.available[0]
}

// Current returns the selected backend.
func (s *Selector) Current() Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Select makes name the current backend. An empty name selects the default.
func (s *Selector) Select(name string) (Backend, error) {
	if strings.TrimSpace(name) == "" {
		b := s.Default()
		s.mu.Lock()
		s.current = b
		s.mu.Unlock()
		return b, nil
	}

	b, ok := ParseBackend(name)
	if !ok || !s.isAvailable(b) {
		return "", uerrors.InvalidBackend("select_backend",
			fmt.Errorf("backend %q is not available (available: %s)", name, s.labels())).
			WithDetail("requested", name)
	}

	s.mu.Lock()
	s.current = b
	s.mu.Unlock()
	s.logger.Info().Str("backend", b.Label()).Msg("device set")
	return b, nil
}

func (s *Selector) isAvailable(b Backend) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.available {
		if a == b {
			return true
		}
	}
	return false
}

func (s *Selector) labels() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parts := make([]string, len(s.available))
	for i, b := range s.available {
		parts[i] = b.Label()
	}
	return strings.Join(parts, ", ")
}

// Info returns the device summary. Host memory comes from the OS; a failed
// read leaves it zero.
func (s *Selector) Info() Info {
	info := Info{
		Current:   s.Current(),
		Available: s.AvailableBackends(),
		Platform:  runtime.GOOS,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemoryGB = float64(vm.Total) / (1024 * 1024 * 1024)
	}
	if info.Current == CUDA {
		info.GPUName = s.caps.GPUName
		info.GPUMemoryGB = s.caps.GPUMemoryGB
	}
	return info
}
