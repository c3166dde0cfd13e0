package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKindMatching(t *testing.T) {
	err := New(KindManifestMismatch, "dimension disagrees")

	assert.True(t, errors.Is(err, New(KindManifestMismatch, "")))
	assert.False(t, errors.Is(err, New(KindConfig, "")))
	assert.Equal(t, KindManifestMismatch, KindOf(err))
}

func TestErrorWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(KindUpstreamFailure, "embedder call failed", cause)

	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "upstream_failure")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindUpstreamFailure, "nope", nil))
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(KindUpstreamTimeout, "graph walk deadline")
	outer := fmt.Errorf("query: %w", inner)

	assert.Equal(t, KindUpstreamTimeout, KindOf(outer))
	assert.True(t, IsRetryable(outer))
}

func TestRetryableByKind(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{KindUpstreamTimeout, true},
		{KindUpstreamFailure, true},
		{KindCapacity, true},
		{KindConfig, false},
		{KindManifestMismatch, false},
		{KindAllRetrieversFailed, false},
		{KindBuildConflict, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.retryable, New(tt.kind, "x").Retryable)
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := New(KindBuildFailed, "embedding aborted").
		WithDetail("corpus_id", "c1").
		WithDetail("stage", "embedding")

	assert.Equal(t, "c1", err.Details["corpus_id"])
	assert.Equal(t, "embedding", err.Details["stage"])
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return New(KindUpstreamFailure, "transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return New(KindManifestMismatch, "permanent")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, KindManifestMismatch, KindOf(err))
}

func TestRetryHonorsCancellation(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			attempts++
			return New(KindUpstreamTimeout, "slow")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryWithResult(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	calls := 0
	v, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, New(KindCapacity, "queue full")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}
