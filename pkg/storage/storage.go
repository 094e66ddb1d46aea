// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the persistence interfaces for user records and
// permission grants, plus the record types they traffic in.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when a unique constraint is violated.
	ErrAlreadyExists = errors.New("record already exists")
)

// Subject kinds for permission grants.
const (
	SubjectUser = "user"
	SubjectRole = "role"
)

// User is one directory entry.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Grant binds a subject (user id or role name) to a resource pattern and
// the actions it permits. Grants are strictly additive.
type Grant struct {
	SubjectType     string   `json:"subject_type"`
	Subject         string   `json:"subject"`
	ResourceType    string   `json:"resource_type"`
	ResourcePattern string   `json:"resource_pattern"`
	Actions         []string `json:"actions"`

	// Conditions, when present, are equality predicates over the call
	// arguments; all must hold for the grant to apply.
	Conditions map[string]string `json:"conditions,omitempty"`

	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the grant has lapsed at the given instant.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// AllowsAction reports whether the grant permits the action.
func (g Grant) AllowsAction(action string) bool {
	for _, a := range g.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// SubjectRef identifies one grant subject for lookup.
type SubjectRef struct {
	Type    string
	Subject string
}

// UserStore persists directory entries.
type UserStore interface {
	// Create inserts a user. Returns ErrAlreadyExists when the email is
	// already registered.
	Create(ctx context.Context, user User) error

	// GetByID returns the user with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByEmail returns the user with the given email, or ErrNotFound.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// Search returns users whose email matches the substring query
	// (empty matches all), ordered by email, plus the total match count.
	Search(ctx context.Context, query string, limit, offset int) ([]User, int, error)

	// SetRoles replaces the user's role set.
	SetRoles(ctx context.Context, id string, roles []string) error

	// SetActive flips the user's active flag.
	SetActive(ctx context.Context, id string, active bool) error

	// SetPasswordHash replaces the user's password hash.
	SetPasswordHash(ctx context.Context, id string, hash string) error

	Close() error
}

// GrantStore persists permission grants.
type GrantStore interface {
	// Upsert inserts the grant, replacing any existing grant with the
	// same (subject_type, subject, resource_type, resource_pattern).
	Upsert(ctx context.Context, grant Grant) error

	// Delete removes a grant and reports whether it existed.
	Delete(ctx context.Context, subjectType, subject, resourceType, resourcePattern string) (bool, error)

	// ListForSubjects returns all grants of the given resource type held
	// by any of the subjects.
	ListForSubjects(ctx context.Context, resourceType string, subjects []SubjectRef) ([]Grant, error)

	// ListBySubject returns all grants held by one subject.
	ListBySubject(ctx context.Context, subjectType, subject string) ([]Grant, error)

	// ListAll returns every grant, ordered by subject.
	ListAll(ctx context.Context) ([]Grant, error)

	Close() error
}
