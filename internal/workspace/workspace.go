// Package workspace manages the process-scoped scratch tree that holds every
// intermediate file of an upscale request.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/disk"

	uerrors "upscaler/internal/errors"
)

const (
	FramesDirName = "frames"
	OutputDirName = "output"
)

// DiskUsage represents disk space information for the workspace filesystem
type DiskUsage struct {
	TotalGB      float64
	UsedGB       float64
	AvailableGB  float64
	UsagePercent float64
}

// Manager owns the workspace root. All collaborator paths live under it, so
// removing the root reclaims everything.
type Manager struct {
	root   string
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
}

// NewManager creates a new workspace manager rooted at root
func NewManager(root string, logger zerolog.Logger) *Manager {
	return &Manager{
		root:   filepath.Clean(root),
		logger: logger.With().Str("workspace", root).Logger(),
	}
}

// Initialize clears any pre-existing root and creates the root plus the
// frames-staging and output-staging directories.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.RemoveAll(m.root); err != nil {
		return uerrors.Internal("workspace_init", fmt.Errorf("failed to clear workspace %s: %w", m.root, err))
	}
	for _, dir := range []string{m.root, m.FramesDir(), m.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return uerrors.Internal("workspace_init", fmt.Errorf("failed to create %s: %w", dir, err))
		}
	}
	m.initialized = true
	m.logger.Debug().Msg("workspace initialized")
	return nil
}

// Root returns the workspace root directory
func (m *Manager) Root() string { return m.root }

// FramesDir returns the frames-staging directory
func (m *Manager) FramesDir() string { return filepath.Join(m.root, FramesDirName) }

// OutputDir returns the output-staging directory
func (m *Manager) OutputDir() string { return filepath.Join(m.root, OutputDirName) }

// AllocatePath returns a path under the root for name without creating it.
func (m *Manager) AllocatePath(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(m.root, name), nil
}

// AllocateSubdir creates a fresh subdirectory under the root. Stale contents
// from an earlier request are removed first.
func (m *Manager) AllocateSubdir(name string) (string, error) {
	path, err := m.AllocatePath(name)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(path); err != nil {
		return "", uerrors.Internal("workspace_allocate", fmt.Errorf("failed to clear %s: %w", path, err))
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", uerrors.Internal("workspace_allocate", fmt.Errorf("failed to create %s: %w", path, err))
	}
	return path, nil
}

// EnsureStaging recreates the staging directories if a previous request
// removed them.
func (m *Manager) EnsureStaging() error {
	for _, dir := range []string{m.FramesDir(), m.OutputDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return uerrors.Internal("workspace_staging", fmt.Errorf("failed to create %s: %w", dir, err))
		}
	}
	return nil
}

// Teardown removes the root recursively. It is safe to call any number of
// times; a missing root is not an error.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.RemoveAll(m.root); err != nil {
		m.logger.Warn().Err(err).Msg("failed to remove workspace")
		return uerrors.Cleanup("workspace_teardown", err)
	}
	if m.initialized {
		m.logger.Debug().Msg("workspace removed")
	}
	m.initialized = false
	return nil
}

func checkName(name string) error {
	clean := filepath.Clean(name)
	if name == "" || clean == "." || filepath.IsAbs(name) || strings.HasPrefix(clean, "..") {
		return uerrors.InvalidInput("workspace_allocate", fmt.Errorf("invalid workspace name %q", name))
	}
	return nil
}

// GetDiskUsage returns disk usage of the filesystem holding the workspace.
func (m *Manager) GetDiskUsage() (*DiskUsage, error) {
	path := m.root
	for {
		if _, err := os.Stat(path); err == nil {
			break
		}
		parent := filepath.Dir(path)
		if parent == path {
			break
		}
		path = parent
	}

	stat, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage: %w", err)
	}

	const gb = 1024 * 1024 * 1024
	return &DiskUsage{
		TotalGB:      float64(stat.Total) / gb,
		UsedGB:       float64(stat.Used) / gb,
		AvailableGB:  float64(stat.Free) / gb,
		UsagePercent: stat.UsedPercent,
	}, nil
}

// CheckDiskSpace verifies there is room for estimatedGB plus reserveGB.
func (m *Manager) CheckDiskSpace(estimatedGB, reserveGB float64) (bool, string, error) {
	usage, err := m.GetDiskUsage()
	if err != nil {
		return false, "", err
	}
	return HasRoom(usage, estimatedGB, reserveGB)
}

// HasRoom reports whether usage leaves room for estimatedGB plus reserveGB.
func HasRoom(usage *DiskUsage, estimatedGB, reserveGB float64) (bool, string, error) {
	need := estimatedGB + reserveGB
	if need > usage.AvailableGB {
		return false, fmt.Sprintf("insufficient disk space: need %.1fGB, available %.1fGB",
			need, usage.AvailableGB), nil
	}
	return true, fmt.Sprintf("sufficient disk space: %.1fGB available", usage.AvailableGB), nil
}

// EstimateFrameStorage estimates the disk space in GB needed for frameCount
// upscaled PNG frames plus the encoded intermediates.
func EstimateFrameStorage(width, height, frameCount, scale int) float64 {
	const (
		bytesPerPixel       = 3   // BGR
		avgCompressionRatio = 0.7 // PNG compression
		overheadFactor      = 0.5 // encoded video, audio and temp files
	)

	if scale < 1 {
		scale = 1
	}
	frameSize := float64(width*scale*height*scale*bytesPerPixel) * avgCompressionRatio
	framesGB := frameSize * float64(frameCount) / (1024 * 1024 * 1024)
	return framesGB * (1 + overheadFactor)
}
