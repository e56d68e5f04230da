package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpscaleError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *UpscaleError
		expected string
	}{
		{
			name:     "with cause",
			err:      Encode("encode_frames", errors.New("exit status 1")),
			expected: "encode error in encode_frames: exit status 1",
		},
		{
			name:     "without cause",
			err:      New(KindCleanup, "teardown", nil),
			expected: "cleanup error in teardown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestUpscaleError_IsSentinel(t *testing.T) {
	err := fmt.Errorf("request failed: %w", Inference("enhance", errors.New("cuda oom")))

	assert.True(t, errors.Is(err, ErrInference))
	assert.False(t, errors.Is(err, ErrModelLoad))

	var uErr *UpscaleError
	assert.True(t, errors.As(err, &uErr))
	assert.Equal(t, "enhance", uErr.Stage)
}

func TestUpscaleError_IsWrapped(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal("write_frame", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestWithDetail(t *testing.T) {
	err := InvalidBackend("select", errors.New("nope")).WithDetail("requested", "cuda")
	assert.Equal(t, "cuda", err.Details["requested"])
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		kind  Kind
		fatal bool
	}{
		{KindInvalidBackend, true},
		{KindModelLoad, true},
		{KindInference, true},
		{KindSourceUnreadable, true},
		{KindProbe, false},
		{KindExtraction, false},
		{KindEncode, true},
		{KindMux, false},
		{KindCleanup, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.kind))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindEncode, "encode"))

	original := Mux("mux", errors.New("bad"))
	assert.Same(t, original, Wrap(original, KindEncode, "encode"))

	wrapped := Wrap(errors.New("boom"), KindSourceUnreadable, "open")
	assert.Equal(t, KindSourceUnreadable, KindOf(wrapped))
	assert.Equal(t, "open", StageOf(wrapped))

	cancelled := Wrap(context.Canceled, KindInference, "enhance")
	assert.Equal(t, KindCancelled, KindOf(cancelled))
	assert.True(t, errors.Is(cancelled, context.Canceled))

	deadline := Wrap(context.DeadlineExceeded, KindInference, "enhance")
	assert.Equal(t, KindInference, KindOf(deadline))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Empty(t, StageOf(errors.New("plain")))
}
