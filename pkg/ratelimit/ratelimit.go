// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit admits requests per identity under a per-minute and a
// per-hour budget. Both budgets must have room for a request to pass.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the bucket parameters.
type Config struct {
	// PerMinute is the sustained refill budget per minute.
	PerMinute int

	// PerHour is the sustained refill budget per hour.
	PerHour int

	// Burst caps how many tokens a bucket can hold.
	Burst int
}

// Limiter admits or rejects one request for an identity. When rejected,
// retryAfter reports how long until the most constrained budget has room.
type Limiter interface {
	Allow(ctx context.Context, identity string) (ok bool, retryAfter time.Duration, err error)
}

// idleThreshold is how long a bucket may sit unused before it is
// reclaimed.
const idleThreshold = 2 * time.Hour

type buckets struct {
	minute   *rate.Limiter
	hour     *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter keeps in-process token buckets, lazily created per
// identity and reclaimed when idle.
type LocalLimiter struct {
	cfg Config

	mu        sync.Mutex
	byID      map[string]*buckets
	lastSweep time.Time

	now func() time.Time
}

var _ Limiter = (*LocalLimiter)(nil)

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(cfg Config) *LocalLimiter {
	return &LocalLimiter{
		cfg:  cfg,
		byID: make(map[string]*buckets),
		now:  time.Now,
	}
}

// SetClock replaces the limiter clock. Test use only.
func (l *LocalLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (l *LocalLimiter) bucketsFor(identity string, now time.Time) *buckets {
	b, ok := l.byID[identity]
	if !ok {
		b = &buckets{
			minute: rate.NewLimiter(rate.Limit(float64(l.cfg.PerMinute)/60), l.cfg.Burst),
			hour:   rate.NewLimiter(rate.Limit(float64(l.cfg.PerHour)/3600), l.cfg.Burst),
		}
		l.byID[identity] = b
	}
	b.lastSeen = now
	return b
}

// sweepLocked reclaims idle buckets. Caller holds mu.
func (l *LocalLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < idleThreshold {
		return
	}
	l.lastSweep = now
	for id, b := range l.byID {
		if now.Sub(b.lastSeen) >= idleThreshold {
			delete(l.byID, id)
		}
	}
}

// Allow admits the request iff both the minute and hour buckets have a
// token. A rejection consumes nothing.
func (l *LocalLimiter) Allow(_ context.Context, identity string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)
	b := l.bucketsFor(identity, now)

	rm := b.minute.ReserveN(now, 1)
	rh := b.hour.ReserveN(now, 1)
	dm, dh := rm.DelayFrom(now), rh.DelayFrom(now)
	if dm > 0 || dh > 0 {
		rm.CancelAt(now)
		rh.CancelAt(now)
		return false, maxDuration(dm, dh), nil
	}
	return true, 0, nil
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// RetryAfterSeconds rounds a retry delay up to whole seconds for the
// wire-level retry_after field.
func RetryAfterSeconds(d time.Duration) float64 {
	return math.Ceil(d.Seconds())
}
