// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package kv provides the key-value store capability with TTL semantics
// used by the session store, the result cache, and the distributed rate
// limiter. Backends: Redis for deployment, an in-process map for tests
// and single-node profiles.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a key-value store with TTL semantics.
type Store interface {
	// Get retrieves the value for key. Returns ErrNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan returns the keys matching prefix.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// IncrWithExpiry atomically increments the counter at key, setting
	// the expiry on first increment, and returns the new count. Used by
	// the distributed rate limiter.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Close releases resources held by the store.
	Close() error
}
