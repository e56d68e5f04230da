package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	ulog "upscaler/internal/log"
)

const envPrefix = "UPSCALER_"

func mergeEnv(cfg *Config) {
	logger := ulog.WithComponent("config")

	cfg.Workspace.Dir = envString(logger, "WORKSPACE_DIR", cfg.Workspace.Dir)
	cfg.Workspace.MinFreeGB = envFloat(logger, "WORKSPACE_MIN_FREE_GB", cfg.Workspace.MinFreeGB)
	cfg.FFmpeg.Bin = envString(logger, "FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.FFprobeBin = envString(logger, "FFPROBE_BIN", cfg.FFmpeg.FFprobeBin)
	cfg.Engine.Command = envString(logger, "ENGINE_COMMAND", cfg.Engine.Command)
	if v, ok := os.LookupEnv(envPrefix + "ENGINE_ARGS"); ok && strings.TrimSpace(v) != "" {
		cfg.Engine.Args = strings.Fields(v)
	}
	cfg.Inference.DefaultModel = envString(logger, "MODEL", cfg.Inference.DefaultModel)
	cfg.Inference.Backend = envString(logger, "BACKEND", cfg.Inference.Backend)
	cfg.Inference.FrameTimeout = envDuration(logger, "FRAME_TIMEOUT", cfg.Inference.FrameTimeout)
	cfg.Pipeline.QueueDepth = envInt(logger, "QUEUE_DEPTH", cfg.Pipeline.QueueDepth)
	cfg.Encoder.Preset = envString(logger, "ENCODER_PRESET", cfg.Encoder.Preset)
	cfg.Encoder.CRF = envInt(logger, "ENCODER_CRF", cfg.Encoder.CRF)
	cfg.Log.Level = envString(logger, "LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envString(logger, "LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics.Listen = envString(logger, "METRICS_LISTEN", cfg.Metrics.Listen)
}

func envString(logger zerolog.Logger, key, defaultValue string) string {
	key = envPrefix + key
	if v, ok := os.LookupEnv(key); ok && v != "" {
		logger.Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("using environment variable")
		return v
	}
	return defaultValue
}

func envInt(logger zerolog.Logger, key string, defaultValue int) int {
	key = envPrefix + key
	if v, ok := os.LookupEnv(key); ok && v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).Msg("invalid integer in environment, using default")
			return defaultValue
		}
		return i
	}
	return defaultValue
}

func envFloat(logger zerolog.Logger, key string, defaultValue float64) float64 {
	key = envPrefix + key
	if v, ok := os.LookupEnv(key); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).Msg("invalid float in environment, using default")
			return defaultValue
		}
		return f
	}
	return defaultValue
}

func envDuration(logger zerolog.Logger, key string, defaultValue time.Duration) time.Duration {
	key = envPrefix + key
	if v, ok := os.LookupEnv(key); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).Msg("invalid duration in environment, using default")
			return defaultValue
		}
		return d
	}
	return defaultValue
}
