// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRoles(t *testing.T) {
	t.Parallel()

	var anon *Identity
	assert.False(t, anon.HasRole(RoleUser))
	assert.False(t, anon.IsAdmin())
	assert.Equal(t, "<anonymous>", anon.String())

	id := &Identity{Subject: "u1", Roles: []string{RoleUser, AdminRole}}
	assert.True(t, id.HasRole(RoleUser))
	assert.True(t, id.IsAdmin())
	assert.False(t, (&Identity{Roles: []string{RoleGuest}}).IsAdmin())
}

func TestIdentityRedaction(t *testing.T) {
	t.Parallel()

	id := &Identity{Subject: "u1", Roles: []string{RoleUser}, Token: "very-secret"}
	assert.NotContains(t, id.String(), "very-secret")

	raw, err := json.Marshal(id)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "very-secret")
	assert.Contains(t, string(raw), "REDACTED")
}

func TestIdentityContextRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, ok := IdentityFromContext(ctx)
	assert.False(t, ok)

	// Nil identities leave the context untouched.
	assert.Equal(t, ctx, WithIdentity(ctx, nil))

	id := &Identity{Subject: "u1"}
	got, ok := IdentityFromContext(WithIdentity(ctx, id))
	require.True(t, ok)
	assert.Same(t, id, got)
}
