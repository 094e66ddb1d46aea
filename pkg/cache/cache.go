// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache memoizes successful tool results keyed by a stable
// fingerprint of the call, with per-tool TTLs. Concurrent misses for the
// same fingerprint collapse into a single computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/raniksyn/mediator/pkg/kv"
	"github.com/raniksyn/mediator/pkg/logger"
)

// Cache is the result cache for tool calls.
type Cache struct {
	store kv.Store
	ttls  map[string]time.Duration
	group singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by all waiters of one in-flight
// computation. It is detached from any single caller's cancellation and
// is cancelled only when the last waiter leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a cache over the given store. The ttls map assigns each
// tool its freshness window; tools absent from the map are not cached.
func New(store kv.Store, ttls map[string]time.Duration) *Cache {
	return &Cache{store: store, ttls: ttls, flights: make(map[string]*flight)}
}

// TTLFor returns the tool's freshness window, zero when uncached.
func (c *Cache) TTLFor(tool string) time.Duration {
	return c.ttls[tool]
}

// Fingerprint derives the stable cache key for a call. Arguments are
// serialized canonically (JSON object keys sorted), so semantically equal
// calls with reordered arguments hash identically. principalScope must be
// empty unless the tool's results vary per principal.
func Fingerprint(tool, principalScope string, args map[string]any) (string, error) {
	canonical, err := json.Marshal(struct {
		Tool      string         `json:"tool"`
		Principal string         `json:"principal,omitempty"`
		Arguments map[string]any `json:"arguments"`
	}{Tool: tool, Principal: principalScope, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize call: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "cache:" + hex.EncodeToString(sum[:]), nil
}

// join registers a waiter for the fingerprint's flight, creating the
// flight context on first entry. The context carries ctx's values but not
// its cancellation.
func (c *Cache) join(fingerprint string, ctx context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[fingerprint]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[fingerprint] = f
	}
	f.waiters++
	return f.ctx
}

// leave deregisters a waiter. The last one out cancels the flight.
func (c *Cache) leave(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[fingerprint]
	if !ok {
		return
	}
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		delete(c.flights, fingerprint)
	}
}

// GetOrCompute returns the cached payload for the fingerprint, or runs
// compute and caches its result for ttl. Failures are never cached.
// Concurrent callers with the same fingerprint share one computation.
// The computation survives individual callers cancelling: a waiter whose
// context ends observes its own error while the flight keeps running for
// the rest, and the flight itself is cancelled only when every waiter
// has gone.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, ttl time.Duration, compute func(ctx context.Context) ([]byte, error)) ([]byte, bool, error) {
	if ttl <= 0 {
		payload, err := compute(ctx)
		return payload, false, err
	}

	if payload, err := c.store.Get(ctx, fingerprint); err == nil {
		return payload, true, nil
	} else if !errors.Is(err, kv.ErrNotFound) {
		logger.Warnw("cache read failed", "error", err)
	}

	fctx := c.join(fingerprint, ctx)
	defer c.leave(fingerprint)

	ch := c.group.DoChan(fingerprint, func() (any, error) {
		// A winner may have populated the store between our miss and
		// the flight starting.
		if cached, err := c.store.Get(fctx, fingerprint); err == nil {
			return cached, nil
		}

		result, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(fctx, fingerprint, result, ttl); err != nil {
			logger.Warnw("cache write failed", "error", err)
		}
		return result, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.([]byte), false, nil
	}
}
