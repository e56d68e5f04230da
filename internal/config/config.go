// Package config loads upscaler settings with precedence ENV > file > defaults.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	FFmpeg    FFmpegConfig    `yaml:"ffmpeg"`
	Engine    EngineConfig    `yaml:"engine"`
	Inference InferenceConfig `yaml:"inference"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type WorkspaceConfig struct {
	Dir string `yaml:"dir"`
	// MinFreeGB is the free space kept in reserve on top of the frame estimate.
	MinFreeGB float64 `yaml:"min_free_gb"`
}

type FFmpegConfig struct {
	Bin        string `yaml:"bin"`
	FFprobeBin string `yaml:"ffprobe_bin"`
}

// EngineConfig describes how to launch the inference worker process.
type EngineConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type InferenceConfig struct {
	DefaultModel string `yaml:"default_model"`
	// Backend forces a compute backend; empty selects the best available.
	Backend string `yaml:"backend"`
	// FrameTimeout bounds a single enhance call. Zero disables the bound.
	FrameTimeout time.Duration `yaml:"frame_timeout"`
}

type PipelineConfig struct {
	QueueDepth int `yaml:"queue_depth"`
}

type EncoderConfig struct {
	Codec       string `yaml:"codec"`
	Preset      string `yaml:"preset"`
	CRF         int    `yaml:"crf"`
	PixelFormat string `yaml:"pixel_format"`
	AudioCodec  string `yaml:"audio_codec"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

type MetricsConfig struct {
	// Listen enables the Prometheus endpoint when non-empty (e.g. ":9464").
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workspace: WorkspaceConfig{
			Dir:       filepath.Join(os.TempDir(), "upscaler_workspace"),
			MinFreeGB: 1,
		},
		FFmpeg: FFmpegConfig{
			Bin:        "ffmpeg",
			FFprobeBin: "ffprobe",
		},
		Engine: EngineConfig{
			Command: "python3",
			Args:    []string{"-m", "upscale_engine"},
		},
		Inference: InferenceConfig{
			DefaultModel: "RealESRGAN_x4plus",
		},
		Pipeline: PipelineConfig{
			QueueDepth: 4,
		},
		Encoder: EncoderConfig{
			Codec:       "libx264",
			Preset:      "medium",
			CRF:         18,
			PixelFormat: "yuv420p",
			AudioCodec:  "aac",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration with precedence: ENV > File > Defaults.
// An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.Workspace.Dir); err == nil {
		cfg.Workspace.Dir = abs
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes YAML on top of cfg. Unknown fields are rejected.
func loadFile(path string, cfg *Config) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Workspace.Dir) == "" {
		return fmt.Errorf("workspace.dir cannot be empty")
	}
	if c.Workspace.Dir == "/" {
		return fmt.Errorf("workspace.dir cannot be the filesystem root")
	}
	if c.FFmpeg.Bin == "" || c.FFmpeg.FFprobeBin == "" {
		return fmt.Errorf("ffmpeg.bin and ffmpeg.ffprobe_bin are required")
	}
	if c.Engine.Command == "" {
		return fmt.Errorf("engine.command is required")
	}
	if c.Pipeline.QueueDepth < 1 || c.Pipeline.QueueDepth > 64 {
		return fmt.Errorf("pipeline.queue_depth must be between 1 and 64, got %d", c.Pipeline.QueueDepth)
	}
	if c.Encoder.CRF < 0 || c.Encoder.CRF > 51 {
		return fmt.Errorf("encoder.crf must be between 0 and 51, got %d", c.Encoder.CRF)
	}
	if c.Inference.FrameTimeout < 0 {
		return fmt.Errorf("inference.frame_timeout cannot be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	return nil
}
