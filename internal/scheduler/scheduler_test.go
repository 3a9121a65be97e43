package scheduler

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowTokenStableWithinWindow(t *testing.T) {
	window := 5 * time.Minute
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := windowToken(base, window)
	b := windowToken(base.Add(2*time.Minute), window)
	assert.Equal(t, a, b)
}

func TestWindowTokenChangesAcrossWindow(t *testing.T) {
	window := 5 * time.Minute
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := windowToken(base, window)
	b := windowToken(base.Add(6*time.Minute), window)
	assert.NotEqual(t, a, b)
}

func TestWindowTokenDeterministicForSameBucket(t *testing.T) {
	window := time.Hour
	at := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, windowToken(at, window), windowToken(at, window))
}

func TestIsConnErrorMatchesRefusedAndSubstring(t *testing.T) {
	assert.True(t, isConnError(syscall.ECONNREFUSED))
	assert.True(t, isConnError(errors.New("dial tcp: connection reset by peer")))
	assert.False(t, isConnError(errors.New("syntax error at or near SELECT")))
}

func TestRetryConnReturnsNonConnErrorImmediately(t *testing.T) {
	calls := 0
	err := retryConn(context.Background(), func() error {
		calls++
		return errors.New("constraint violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryConnStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retryConn(ctx, func() error {
		calls++
		return errors.New("connection refused")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
