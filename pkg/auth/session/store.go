// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package session persists refresh-credential session records keyed by
// jti, with user binding so revocation can enumerate a user's sessions.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a jti has no session record (never issued,
// expired, or revoked).
var ErrNotFound = errors.New("session: record not found")

// Record is one refresh-credential session.
type Record struct {
	// JTI is the unique identifier embedded in the refresh credential.
	JTI string `json:"jti"`

	// UserID binds the session to its user.
	UserID string `json:"user_id"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Device optionally names the client device.
	Device string `json:"device,omitempty"`

	// Metadata carries client address, user agent, and similar.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Store persists session records with TTL. Implementations must provide
// read-your-writes consistency per user and per-key atomicity on Delete
// so that concurrent rotations yield exactly one winner.
type Store interface {
	// Put inserts a record with the given TTL. The TTL matches the
	// refresh credential's expiry.
	Put(ctx context.Context, rec Record, ttl time.Duration) error

	// Get returns the record for jti, or ErrNotFound.
	Get(ctx context.Context, jti string) (*Record, error)

	// Delete removes the record for jti and reports whether it existed.
	// Exactly one of any set of concurrent Delete calls for the same
	// live jti observes true.
	Delete(ctx context.Context, jti string) (bool, error)

	// DeleteByUser removes all records for a user, returning the count.
	DeleteByUser(ctx context.Context, userID string) (int, error)

	// ListByUser returns all live records for a user.
	ListByUser(ctx context.Context, userID string) ([]Record, error)

	// ListActive pages through all live records. Cursor is opaque;
	// empty means start, and an empty next cursor means done.
	ListActive(ctx context.Context, limit int, cursor string) ([]Record, string, error)

	// Close releases resources held by the store.
	Close() error
}
