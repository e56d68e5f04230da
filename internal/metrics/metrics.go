// Package metrics declares the Prometheus collectors for the upscaler and
// optionally serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaler",
			Name:      "requests_total",
			Help:      "Upscale requests by media kind and outcome",
		},
		[]string{"media", "outcome"}, // outcome: "success|failed|cancelled"
	)

	DegradationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaler",
			Name:      "degradations_total",
			Help:      "Non-fatal failures that degraded a request",
		},
		[]string{"stage"}, // stage: "probe|extraction|mux|cleanup"
	)

	FramesEnhanced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "upscaler",
			Name:      "frames_enhanced_total",
			Help:      "Frames passed through the inference engine",
		},
	)

	EnhanceSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "upscaler",
			Name:      "frame_enhance_seconds",
			Help:      "Time spent enhancing a single frame",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
	)

	ModelLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "upscaler",
			Name:      "model_loads_total",
			Help:      "Model loads by model and result",
		},
		[]string{"model", "result"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "upscaler",
			Name:      "pipeline_queue_depth",
			Help:      "Frames buffered between pipeline stages",
		},
		[]string{"queue"}, // queue: "decoded|enhanced"
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "upscaler",
			Name:      "request_duration_seconds",
			Help:      "Wall time of completed upscale requests",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		},
		[]string{"media"},
	)
)

// Serve exposes /metrics on addr until ctx ends.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	}
}
