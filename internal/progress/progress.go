// Package progress maps pipeline work onto a single monotonic fraction in
// [0, 1] and tracks per-frame timing for ETA reporting.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Fixed points on the progress scale. Setup occupies [0, FramesStart],
// frames (FramesStart, FramesEnd], encode and mux (FramesEnd, 1].
const (
	LoadingModel  = 0.0
	CheckingAudio = 0.05
	OpeningSource = 0.10
	FramesStart   = 0.15
	FramesEnd     = 0.85
	AddingAudio   = 0.95
	Done          = 1.0
)

// Event is one progress update delivered to the caller.
type Event struct {
	Fraction float64
	Status   string
}

// Sink receives progress events. It is called synchronously from the
// pipeline and must not block for long.
type Sink func(Event)

// FrameFraction maps done/total frames into [FramesStart, FramesEnd].
// An unknown total (0) stays at FramesStart.
func FrameFraction(done, total int) float64 {
	if total <= 0 || done <= 0 {
		return FramesStart
	}
	if done >= total {
		return FramesEnd
	}
	return FramesStart + (FramesEnd-FramesStart)*float64(done)/float64(total)
}

// State accumulates frame timing for one request.
type State struct {
	FramesDone  int
	FramesTotal int
	Cumulative  time.Duration
}

// Record adds one finished frame that took d to enhance.
func (s *State) Record(d time.Duration) {
	s.FramesDone++
	s.Cumulative += d
}

// Average returns the mean processing time per frame.
func (s State) Average() time.Duration {
	if s.FramesDone == 0 {
		return 0
	}
	return s.Cumulative / time.Duration(s.FramesDone)
}

// ETA returns (total - done) * average. Never negative.
func (s State) ETA() time.Duration {
	remaining := s.FramesTotal - s.FramesDone
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * s.Average()
}

// Status renders the per-frame status line.
func (s State) Status() string {
	total := fmt.Sprint(s.FramesTotal)
	if s.FramesTotal <= 0 {
		total = "?"
	}
	return fmt.Sprintf("Frame %d/%s | %.2fs/frame | ETA: %.1fs",
		s.FramesDone, total, s.Average().Seconds(), s.ETA().Seconds())
}

// Tracker forwards events to a Sink while keeping the fraction monotonic
// and inside [0, 1]. A nil sink discards events.
type Tracker struct {
	mu   sync.Mutex
	sink Sink
	last float64
	seen bool
}

// NewTracker creates a tracker delivering to sink.
func NewTracker(sink Sink) *Tracker {
	return &Tracker{sink: sink}
}

// Report emits fraction (clamped so it never decreases) with status.
func (t *Tracker) Report(fraction float64, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if fraction < 0 {
		fraction = 0
	}
	if fraction > Done {
		fraction = Done
	}
	if t.seen && fraction < t.last {
		fraction = t.last
	}
	t.last = fraction
	t.seen = true

	if t.sink != nil {
		t.sink(Event{Fraction: fraction, Status: status})
	}
}

// Complete emits exactly 1.0.
func (t *Tracker) Complete(status string) {
	t.Report(Done, status)
}

// Fraction returns the last reported fraction.
func (t *Tracker) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
