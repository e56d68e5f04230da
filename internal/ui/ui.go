// Package ui renders terminal output for the upscaler CLI.
package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"upscaler/internal/device"
	"upscaler/internal/report"
	"upscaler/internal/video"
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			MarginBottom(1)

	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#06B6D4")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(1, 2).
			MarginTop(1).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#111827"))
)

func row(label, value string) string {
	return labelStyle.Render(label) + " " + valueStyle.Render(value)
}

// RenderStreamInfo renders the probe result panel.
func RenderStreamInfo(info video.StreamInfo) string {
	audio := "None"
	if info.HasAudio {
		audio = info.AudioCodec
	}
	rows := []string{
		row("📁 File:", filepath.Base(info.Filepath)),
		row("📊 Size:", FormatFileSize(info.FileSize)),
		row("📐 Dimensions:", fmt.Sprintf("%dx%d", info.Width, info.Height)),
		row("🎬 Format:", info.Format),
		row("🎞️  Frames:", fmt.Sprintf("%d @ %.2f fps", info.FrameCount, info.FPS)),
		row("⚡ Bitrate:", formatBitrate(info.Bitrate)),
		row("🔊 Audio:", audio),
		row("⏱️  Duration:", FormatDuration(info.Duration)),
	}
	return infoStyle.Render(strings.Join(rows, "\n"))
}

// DisplayStreamInfo prints the probe result panel.
func DisplayStreamInfo(info video.StreamInfo) {
	fmt.Println(RenderStreamInfo(info))
}

// RenderDeviceInfo renders the compute backend panel.
func RenderDeviceInfo(info device.Info) string {
	labels := make([]string, len(info.Available))
	for i, b := range info.Available {
		labels[i] = b.Label()
	}
	rows := []string{
		row("🖥️  Device:", info.Current.Label()),
		row("🧭 Available:", strings.Join(labels, ", ")),
		row("💻 Platform:", info.Platform),
		row("🧠 Memory:", fmt.Sprintf("%.1f GB", info.TotalMemoryGB)),
	}
	if info.GPUName != "" {
		rows = append(rows, row("🎮 GPU:", fmt.Sprintf("%s (%.1f GB)", info.GPUName, info.GPUMemoryGB)))
	}
	return infoStyle.Render(strings.Join(rows, "\n"))
}

// DisplayDeviceInfo prints the compute backend panel.
func DisplayDeviceInfo(info device.Info) {
	fmt.Println(RenderDeviceInfo(info))
}

// RenderResult renders the completion summary with output sizes.
func RenderResult(res report.Result) string {
	body := res.Summary()
	if res.OutputBytes > 0 {
		body += "\n" + row("💾 Output:", fmt.Sprintf("%s (%s)", filepath.Base(res.OutputPath), FormatFileSize(res.OutputBytes)))
	}
	if res.Degraded() {
		body += "\n" + WarningStyle.Render("⚠️  Degraded: "+strings.Join(res.Degradations, ", "))
	}
	return infoStyle.Render(body)
}

// DisplayResult prints the completion summary.
func DisplayResult(res report.Result) {
	fmt.Println(RenderResult(res))
}

// FormatFileSize converts bytes to human-readable format
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration converts seconds to MM:SS format
func FormatDuration(seconds float64) string {
	totalSeconds := int(seconds)
	minutes := totalSeconds / 60
	remainingSeconds := totalSeconds % 60

	return fmt.Sprintf("%02d:%02d", minutes, remainingSeconds)
}

func formatBitrate(bitrate int64) string {
	if bitrate == 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%.1f kbps", float64(bitrate)/1000)
}
