// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth provides authentication primitives: the principal type
// attached to requests, credential minting and verification, and the
// session store backing refresh credentials.
package auth

import (
	"encoding/json"
	"fmt"
	"slices"
)

// AdminRole grants every permission implicitly; it is never stored as a
// grant row.
const AdminRole = "admin"

// Built-in roles.
const (
	RoleUser  = "user"
	RoleGuest = "guest"
)

// Identity represents an authenticated user or service attached to a
// request. A nil *Identity means the request is anonymous.
type Identity struct {
	// Subject is the unique identifier for the principal.
	Subject string

	// Email is the principal's email address, if known.
	Email string

	// Roles are the role names carried by the access credential.
	Roles []string

	// Service marks gateway-forwarded principals that arrived under the
	// internal trust token rather than a verified access credential.
	Service bool

	// Token is the original bearer credential (for pass-through
	// scenarios). Redacted in String() and MarshalJSON() to prevent
	// leakage.
	Token string

	// Metadata stores additional identity information.
	Metadata map[string]string
}

// HasRole reports whether the identity carries the given role.
func (i *Identity) HasRole(role string) bool {
	return i != nil && slices.Contains(i.Roles, role)
}

// IsAdmin reports whether the identity carries the admin role.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(AdminRole)
}

// String returns a representation with sensitive fields redacted, so the
// identity is safe to log.
func (i *Identity) String() string {
	if i == nil {
		return "<anonymous>"
	}
	return fmt.Sprintf("Identity{Subject:%q Roles:%v}", i.Subject, i.Roles)
}

// MarshalJSON redacts the token during JSON serialization.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type safeIdentity struct {
		Subject  string            `json:"subject"`
		Email    string            `json:"email"`
		Roles    []string          `json:"roles"`
		Service  bool              `json:"service,omitempty"`
		Token    string            `json:"token,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
	}

	token := i.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&safeIdentity{
		Subject:  i.Subject,
		Email:    i.Email,
		Roles:    i.Roles,
		Service:  i.Service,
		Token:    token,
		Metadata: i.Metadata,
	})
}
