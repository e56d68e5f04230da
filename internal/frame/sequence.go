package frame

import (
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/google/renameio/v2"
)

const (
	sequencePrefix = "frame_"
	sequenceExt    = ".png"
)

// MaxFrames is the longest sequence whose indices stay six digits wide.
const MaxFrames = 999999

// ErrSequenceFull is returned by Append once MaxFrames frames are written.
var ErrSequenceFull = errors.New("frame sequence is full")

var sequenceName = regexp.MustCompile(`^frame_(\d{6})\.png$`)

// Sequence is an ordered, gapless run of PNG frames in one directory, named
// frame_000001.png, frame_000002.png and so on. The encoder consumes it
// through Pattern.
type Sequence struct {
	dir string

	mu      sync.Mutex
	written int
}

// NewSequence returns an empty sequence rooted at dir.
func NewSequence(dir string) *Sequence {
	return &Sequence{dir: dir}
}

// Dir returns the directory holding the frames.
func (s *Sequence) Dir() string { return s.dir }

// Path returns the file path of the 1-based frame index.
func (s *Sequence) Path(index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%06d%s", sequencePrefix, index, sequenceExt))
}

// Pattern returns the printf-style path understood by the image2 demuxer.
func (s *Sequence) Pattern() string {
	return filepath.Join(s.dir, sequencePrefix+"%06d"+sequenceExt)
}

// Len returns how many frames have been appended.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Append writes f as the next frame. The PNG is written to a temp file and
// renamed into place, so a reader never observes a partial frame.
func (s *Sequence) Append(f *Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.written >= MaxFrames {
		return "", fmt.Errorf("%w: %d frames", ErrSequenceFull, MaxFrames)
	}
	path := s.Path(s.written + 1)
	if err := writePNG(path, f); err != nil {
		return "", err
	}
	s.written++
	return path, nil
}

func writePNG(path string, f *Frame) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending frame file: %w", err)
	}
	defer pendingFile.Cleanup() //nolint:errcheck

	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(pendingFile, f.ToImage()); err != nil {
		return fmt.Errorf("encode frame %s: %w", filepath.Base(path), err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace frame file: %w", err)
	}
	return nil
}

// Verify checks that the directory holds exactly frames 1..expected with no
// gaps and no strays.
func (s *Sequence) Verify(expected int) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read frame directory: %w", err)
	}

	var indices []int
	for _, entry := range entries {
		m := sequenceName.FindStringSubmatch(entry.Name())
		if m == nil || entry.IsDir() {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		indices = append(indices, n)
	}
	sort.Ints(indices)

	if len(indices) != expected {
		return fmt.Errorf("frame sequence has %d frames, want %d", len(indices), expected)
	}
	for i, n := range indices {
		if n != i+1 {
			return fmt.Errorf("frame sequence gap: expected frame %06d, found %06d", i+1, n)
		}
	}
	return nil
}
