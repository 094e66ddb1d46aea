// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniksyn/mediator/pkg/kv"
)

func TestLocalLimiterBurst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// The hour budget refills an order of magnitude faster than the
	// minute budget, so the minute bucket is the sole constraint here.
	l := NewLocalLimiter(Config{PerMinute: 60, PerHour: 36000, Burst: 10})

	base := time.Now()
	l.SetClock(func() time.Time { return base })

	for i := 0; i < 10; i++ {
		ok, _, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok, "request %d within burst", i)
	}

	ok, retry, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))

	// At 60/min one token refills per second.
	base = base.Add(time.Second)
	ok, _, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLimiterIdentityIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLocalLimiter(Config{PerMinute: 60, PerHour: 1000, Burst: 1})

	ok, _, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, _ = l.Allow(ctx, "u1")
	assert.False(t, ok, "u1 exhausted its bucket")

	ok, _, err = l.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok, "u2 has its own bucket")
}

func TestLocalLimiterHourBudgetConstrains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// A generous minute budget with a tiny hour budget: the hour bucket
	// is the constraint, and its retry delay dominates.
	l := NewLocalLimiter(Config{PerMinute: 6000, PerHour: 2, Burst: 2})

	base := time.Now()
	l.SetClock(func() time.Time { return base })

	for i := 0; i < 2; i++ {
		ok, _, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, retry, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	// 2/hour refills one token every 30 minutes.
	assert.Greater(t, retry, 29*time.Minute)

	// A denial consumes nothing: after the refill interval exactly one
	// request passes.
	base = base.Add(30 * time.Minute)
	ok, _, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, _ = l.Allow(ctx, "u1")
	assert.False(t, ok)
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()
	assert.Equal(t, float64(1), RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, float64(30), RetryAfterSeconds(30*time.Second))
	assert.Equal(t, float64(31), RetryAfterSeconds(30*time.Second+time.Millisecond))
}

func TestDistributedLimiter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(ctx, "redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l := NewDistributedLimiter(Config{PerMinute: 3, PerHour: 100}, store)

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok, "request %d within budget", i)
	}

	ok, retry, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retry, time.Duration(0))
	assert.LessOrEqual(t, retry, time.Minute)

	// Another identity has its own windows.
	ok, _, err = l.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok)

	// The minute window resets after expiry.
	mr.FastForward(2 * time.Minute)
	ok, _, err = l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

type failingStore struct {
	kv.Store
}

func (failingStore) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestDistributedLimiterFailsOpen(t *testing.T) {
	t.Parallel()
	l := NewDistributedLimiter(Config{PerMinute: 1, PerHour: 1}, failingStore{})

	for i := 0; i < 5; i++ {
		ok, _, err := l.Allow(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, ok, "store failure must not reject requests")
	}
}
