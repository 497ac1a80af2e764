package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestStakeAPY_Retry_DefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected MaxAttempts=3, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff != 500*time.Millisecond {
		t.Errorf("expected BaseBackoff=500ms, got %v", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Errorf("expected MaxBackoff=5s, got %v", cfg.MaxBackoff)
	}
}

func TestStakeAPY_Retry_Do_SuccessOnFirstAttempt(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestStakeAPY_Retry_Do_SuccessAfterRetries(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	var retried []int
	cfg := Config{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
		MaxBackoff:  10 * time.Second,
		Clock:       clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			retried = append(retried, attempt)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
	}()

	for range 2 {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(10 * time.Second)
	}

	require.NoError(t, <-done)
	require.Equal(t, 3, attempts)
	require.Equal(t, []int{2, 3}, retried)
}

func TestStakeAPY_Retry_Do_ExhaustsAllAttempts(t *testing.T) {
	t.Parallel()
	cfg := Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}

	attempts := 0
	originalErr := errors.New("connection reset")
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return originalErr
	})

	require.Error(t, err)
	require.Equal(t, 3, attempts)
	require.ErrorIs(t, err, originalErr)
	require.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestStakeAPY_Retry_Do_NonRetryableError(t *testing.T) {
	t.Parallel()

	attempts := 0
	originalErr := errors.New("invalid input")
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return originalErr
	})

	require.Equal(t, 1, attempts)
	require.Equal(t, originalErr, err)
}

func TestStakeAPY_Retry_Do_ZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), Config{}, func() error {
		attempts++
		return errors.New("timeout")
	})

	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestStakeAPY_Retry_Do_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts: 5,
		BaseBackoff: time.Hour,
		MaxBackoff:  time.Hour,
		Clock:       clockwork.NewFakeClock(),
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		cancel()
		return errors.New("connection reset")
	})

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestStakeAPY_Retry_IsRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "context deadline exceeded", err: context.DeadlineExceeded, want: false},
		{name: "net timeout", err: &net.DNSError{Err: "lookup", IsTimeout: true}, want: true},
		{name: "connection reset", err: errors.New("connection reset by peer"), want: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "wrapped io.EOF", err: fmt.Errorf("post: %w", io.EOF), want: true},
		{name: "unexpected EOF", err: io.ErrUnexpectedEOF, want: false},
		{name: "decode unexpected EOF", err: errors.New("failed to decode response: unexpected EOF"), want: false},
		{name: "EOF text without io.EOF", err: errors.New("invalid character: EOF in string"), want: false},
		{name: "rate limit", err: errors.New("rate limit exceeded"), want: true},
		{name: "plain error", err: errors.New("invalid json"), want: false},
		{name: "429", err: &StatusError{Code: http.StatusTooManyRequests}, want: true},
		{name: "500", err: &StatusError{Code: http.StatusInternalServerError}, want: true},
		{name: "502", err: &StatusError{Code: http.StatusBadGateway}, want: true},
		{name: "503", err: &StatusError{Code: http.StatusServiceUnavailable}, want: true},
		{name: "504", err: &StatusError{Code: http.StatusGatewayTimeout}, want: true},
		{name: "404", err: &StatusError{Code: http.StatusNotFound}, want: false},
		{name: "400", err: &StatusError{Code: http.StatusBadRequest}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStakeAPY_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		minExp  time.Duration
		maxExp  time.Duration
	}{
		{name: "first retry", base: 500 * time.Millisecond, max: 5 * time.Second, attempt: 1, minExp: 500 * time.Millisecond, maxExp: time.Second},
		{name: "second retry", base: 500 * time.Millisecond, max: 5 * time.Second, attempt: 2, minExp: time.Second, maxExp: 2 * time.Second},
		{name: "capped at max", base: 500 * time.Millisecond, max: 5 * time.Second, attempt: 4, minExp: 2500 * time.Millisecond, maxExp: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for range 10 {
				got := calculateBackoff(tt.base, tt.max, tt.attempt)
				if got < tt.minExp || got > tt.maxExp {
					t.Errorf("calculateBackoff(%v, %v, %d) = %v, want between %v and %v",
						tt.base, tt.max, tt.attempt, got, tt.minExp, tt.maxExp)
				}
			}
		})
	}
}

func TestStakeAPY_Retry_StatusError(t *testing.T) {
	t.Parallel()

	err := &StatusError{Code: 503, URL: "https://example.com/x.json"}
	require.Equal(t, "unexpected status code 503 from https://example.com/x.json", err.Error())
	require.Equal(t, 503, err.StatusCode())
}
