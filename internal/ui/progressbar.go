package ui

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"upscaler/internal/progress"
)

// barSteps is the resolution of the bar; fractions are mapped onto it.
const barSteps = 1000

// ProgressBar renders progress events as a terminal bar.
type ProgressBar struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewProgressBar creates a bar writing to w
func NewProgressBar(w io.Writer) *ProgressBar {
	bar := progressbar.NewOptions(barSteps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Starting"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "▐",
			BarEnd:        "▌",
		}),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
	return &ProgressBar{bar: bar}
}

// Sink returns a progress sink driving the bar.
func (p *ProgressBar) Sink() progress.Sink {
	return func(e progress.Event) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.bar.Describe(e.Status)
		_ = p.bar.Set(int(e.Fraction * barSteps))
	}
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.bar.Finish()
}
