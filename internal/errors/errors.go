// Package errors provides structured error handling for the upscale pipeline.
// Every failure raised by a stage is an *UpscaleError carrying its Kind, the
// stage it came from and the underlying cause.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	// KindInvalidBackend indicates a requested compute backend is not present
	KindInvalidBackend Kind = "invalid_backend"
	// KindModelLoad indicates weights or topology could not be loaded
	KindModelLoad Kind = "model_load"
	// KindInference indicates a single-frame enhancement failed
	KindInference Kind = "inference"
	// KindSourceUnreadable indicates the input media could not be opened or decoded
	KindSourceUnreadable Kind = "source_unreadable"
	// KindProbe indicates stream probing failed (degrades to no audio)
	KindProbe Kind = "probe"
	// KindExtraction indicates audio extraction failed (degrades to no audio)
	KindExtraction Kind = "extraction"
	// KindEncode indicates frame-sequence encoding failed
	KindEncode Kind = "encode"
	// KindMux indicates audio muxing failed (degrades to video only)
	KindMux Kind = "mux"
	// KindCleanup indicates staging removal failed (logged only)
	KindCleanup Kind = "cleanup"
	// KindInvalidInput indicates a malformed request
	KindInvalidInput Kind = "invalid_input"
	// KindUnsupportedMedia indicates the input extension is neither image nor video
	KindUnsupportedMedia Kind = "unsupported_media"
	// KindCancelled indicates the request context ended
	KindCancelled Kind = "cancelled"
	// KindInternal indicates an unexpected local failure (filesystem, workspace)
	KindInternal Kind = "internal"
)

// Sentinel errors, one per kind. errors.Is(err, ErrEncodeFailure) holds for
// any *UpscaleError of KindEncode.
var (
	ErrInvalidBackend    = errors.New("invalid backend")
	ErrModelLoad         = errors.New("model load failed")
	ErrInference         = errors.New("inference failed")
	ErrSourceUnreadable  = errors.New("source unreadable")
	ErrProbeFailure      = errors.New("probe failed")
	ErrExtractionFailure = errors.New("audio extraction failed")
	ErrEncodeFailure     = errors.New("encode failed")
	ErrMuxFailure        = errors.New("mux failed")
	ErrCleanupFailure    = errors.New("cleanup failed")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnsupportedMedia  = errors.New("unsupported media type")
	ErrCancelled         = errors.New("operation cancelled")
	ErrInternal          = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindInvalidBackend:   ErrInvalidBackend,
	KindModelLoad:        ErrModelLoad,
	KindInference:        ErrInference,
	KindSourceUnreadable: ErrSourceUnreadable,
	KindProbe:            ErrProbeFailure,
	KindExtraction:       ErrExtractionFailure,
	KindEncode:           ErrEncodeFailure,
	KindMux:              ErrMuxFailure,
	KindCleanup:          ErrCleanupFailure,
	KindInvalidInput:     ErrInvalidInput,
	KindUnsupportedMedia: ErrUnsupportedMedia,
	KindCancelled:        ErrCancelled,
	KindInternal:         ErrInternal,
}

// UpscaleError provides structured error information with context
type UpscaleError struct {
	Kind    Kind           // Error classification
	Stage   string         // Stage that failed (e.g., "probe", "enhance")
	Err     error          // Underlying error
	Details map[string]any // Additional context
}

// Error implements the error interface
func (e *UpscaleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error in %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *UpscaleError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind as well as anything in the
// wrapped chain.
func (e *UpscaleError) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates a new UpscaleError
func New(kind Kind, stage string, err error) *UpscaleError {
	return &UpscaleError{
		Kind:    kind,
		Stage:   stage,
		Err:     err,
		Details: make(map[string]any),
	}
}

// WithDetail adds a key-value detail to the error
func (e *UpscaleError) WithDetail(key string, value any) *UpscaleError {
	e.Details[key] = value
	return e
}

// IsFatal reports whether a failure of this kind aborts the request.
// Probe, extraction and mux failures degrade; cleanup failures are only logged.
func IsFatal(kind Kind) bool {
	switch kind {
	case KindProbe, KindExtraction, KindMux, KindCleanup:
		return false
	default:
		return true
	}
}

// Error creation helpers

func InvalidBackend(stage string, err error) *UpscaleError {
	return New(KindInvalidBackend, stage, err)
}

func ModelLoad(stage string, err error) *UpscaleError {
	return New(KindModelLoad, stage, err)
}

func Inference(stage string, err error) *UpscaleError {
	return New(KindInference, stage, err)
}

func SourceUnreadable(stage string, err error) *UpscaleError {
	return New(KindSourceUnreadable, stage, err)
}

func Probe(stage string, err error) *UpscaleError {
	return New(KindProbe, stage, err)
}

func Extraction(stage string, err error) *UpscaleError {
	return New(KindExtraction, stage, err)
}

func Encode(stage string, err error) *UpscaleError {
	return New(KindEncode, stage, err)
}

func Mux(stage string, err error) *UpscaleError {
	return New(KindMux, stage, err)
}

func Cleanup(stage string, err error) *UpscaleError {
	return New(KindCleanup, stage, err)
}

func InvalidInput(stage string, err error) *UpscaleError {
	return New(KindInvalidInput, stage, err)
}

func UnsupportedMedia(stage string, err error) *UpscaleError {
	return New(KindUnsupportedMedia, stage, err)
}

func Internal(stage string, err error) *UpscaleError {
	return New(KindInternal, stage, err)
}

// Wrap wraps an error with stage context if it's not already an UpscaleError.
// context.Canceled is classified as KindCancelled regardless of kind; a
// deadline keeps the requested kind.
func Wrap(err error, kind Kind, stage string) error {
	if err == nil {
		return nil
	}

	var uErr *UpscaleError
	if errors.As(err, &uErr) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return New(KindCancelled, stage, err)
	}

	return New(kind, stage, err)
}

// KindOf extracts the error kind from an error
func KindOf(err error) Kind {
	var uErr *UpscaleError
	if errors.As(err, &uErr) {
		return uErr.Kind
	}
	return KindInternal
}

// StageOf extracts the failing stage from an error, or "" if unknown.
func StageOf(err error) string {
	var uErr *UpscaleError
	if errors.As(err, &uErr) {
		return uErr.Stage
	}
	return ""
}
