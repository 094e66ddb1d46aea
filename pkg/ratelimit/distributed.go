// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/raniksyn/mediator/pkg/kv"
	"github.com/raniksyn/mediator/pkg/logger"
)

// DistributedLimiter counts requests in fixed windows in a shared KV
// store so that multiple tool-server replicas share one budget. If the
// store is unreachable the limiter fails open: availability over strict
// enforcement.
type DistributedLimiter struct {
	cfg   Config
	store kv.Store

	now func() time.Time
}

var _ Limiter = (*DistributedLimiter)(nil)

// NewDistributedLimiter creates a limiter over the shared store.
func NewDistributedLimiter(cfg Config, store kv.Store) *DistributedLimiter {
	return &DistributedLimiter{cfg: cfg, store: store, now: time.Now}
}

// SetClock replaces the limiter clock. Test use only.
func (l *DistributedLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// window counts one fixed window for an identity. Returns the count after
// increment and the time remaining in the window.
func (l *DistributedLimiter) window(ctx context.Context, scope, identity string, size time.Duration) (int64, time.Duration, error) {
	now := l.now()
	start := now.Truncate(size)
	key := fmt.Sprintf("rate:%s:%s:%d", scope, identity, start.Unix())

	count, err := l.store.IncrWithExpiry(ctx, key, size)
	if err != nil {
		return 0, 0, err
	}
	return count, start.Add(size).Sub(now), nil
}

// Allow admits the request iff both the minute and hour windows are under
// budget. Store failures admit the request with a warning.
func (l *DistributedLimiter) Allow(ctx context.Context, identity string) (bool, time.Duration, error) {
	minuteCount, minuteLeft, err := l.window(ctx, "per_minute", identity, time.Minute)
	if err != nil {
		logger.Warnw("rate limit store unavailable, failing open", "error", err)
		return true, 0, nil
	}
	hourCount, hourLeft, err := l.window(ctx, "per_hour", identity, time.Hour)
	if err != nil {
		logger.Warnw("rate limit store unavailable, failing open", "error", err)
		return true, 0, nil
	}

	retry := time.Duration(0)
	if minuteCount > int64(l.cfg.PerMinute) {
		retry = maxDuration(retry, minuteLeft)
	}
	if hourCount > int64(l.cfg.PerHour) {
		retry = maxDuration(retry, hourLeft)
	}
	if retry > 0 {
		return false, retry, nil
	}
	return true, 0, nil
}
