// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth/session"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) (*Service, *session.MemoryStore) {
	t.Helper()
	sessions := session.NewMemoryStore()
	svc := NewService(Config{
		SigningKey: testKey,
		KeyID:      "k1",
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, sessions)
	return svc, sessions
}

func testUser() UserInfo {
	return UserInfo{ID: "user-1", Email: "alice@example.com", Roles: []string{"user"}}
}

func TestMintAndVerifyAccess(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	signed, err := svc.MintAccess(testUser())
	require.NoError(t, err)

	ident, err := svc.VerifyAccess(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", ident.Subject)
	assert.Equal(t, "alice@example.com", ident.Email)
	assert.Equal(t, []string{"user"}, ident.Roles)
	assert.Equal(t, signed, ident.Token)
}

func TestVerifyAccessRejectsTampering(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	signed, err := svc.MintAccess(testUser())
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":           "not-a-credential",
		"flipped signature": signed[:len(signed)-2] + "xx",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.VerifyAccess(tok)
			require.Error(t, err)
			assert.True(t, apperr.IsAuthentication(err))
			// The outward message never reveals the cause.
			assert.Equal(t, "invalid credentials", apperr.As(err).Message)
		})
	}
}

func TestVerifyAccessRejectsWrongKey(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	other := NewService(Config{
		SigningKey: []byte("ffffffffffffffffffffffffffffffff"),
		AccessTTL:  30 * time.Minute,
		RefreshTTL: time.Hour,
	}, session.NewMemoryStore())

	signed, err := other.MintAccess(testUser())
	require.NoError(t, err)

	_, err = svc.VerifyAccess(signed)
	assert.True(t, apperr.IsAuthentication(err))
}

func TestVerifyAccessExpiryBoundary(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	base := time.Now()
	svc.SetClock(func() time.Time { return base })
	signed, err := svc.MintAccess(testUser())
	require.NoError(t, err)

	// One second before expiry the credential is still valid.
	svc.SetClock(func() time.Time { return base.Add(30*time.Minute - time.Second) })
	_, err = svc.VerifyAccess(signed)
	require.NoError(t, err)

	// Exactly at expiry it is invalid; there is no skew allowance.
	svc.SetClock(func() time.Time { return base.Add(30 * time.Minute) })
	_, err = svc.VerifyAccess(signed)
	assert.True(t, apperr.IsAuthentication(err))
}

func TestVerifyAccessRejectsRefreshKind(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.MintRefresh(ctx, testUser(), "", nil)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(refresh)
	assert.True(t, apperr.IsAuthentication(err))
}

func TestVerifyAccessRejectsUnsignedAlg(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Kind: KindAccess,
	})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.VerifyAccess(signed)
	assert.True(t, apperr.IsAuthentication(err))
}

func TestRefreshLifecycle(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.MintRefresh(ctx, testUser(), "cli", map[string]string{"addr": "203.0.113.9"})
	require.NoError(t, err)

	rec, err := svc.VerifyRefresh(ctx, refresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "cli", rec.Device)

	// Revocation takes effect on the next verification even though the
	// signature is still valid.
	deleted, err := svc.Revoke(ctx, rec.JTI)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = svc.VerifyRefresh(ctx, refresh)
	assert.True(t, apperr.IsAuthentication(err))
}

func TestRevokeAll(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	r1, err := svc.MintRefresh(ctx, testUser(), "cli", nil)
	require.NoError(t, err)
	r2, err := svc.MintRefresh(ctx, testUser(), "web", nil)
	require.NoError(t, err)

	count, err := svc.RevokeAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, tok := range []string{r1, r2} {
		_, err := svc.VerifyRefresh(ctx, tok)
		assert.True(t, apperr.IsAuthentication(err))
	}
}

func TestRotate(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	user := testUser()
	refresh, err := svc.MintRefresh(ctx, user, "cli", nil)
	require.NoError(t, err)

	// Role changes take effect on the rotated access credential.
	user.Roles = []string{"user", "admin"}
	pair, err := svc.Rotate(ctx, refresh, user, "cli", nil)
	require.NoError(t, err)
	assert.Equal(t, int64((30 * time.Minute).Seconds()), pair.ExpiresIn)

	ident, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, ident.IsAdmin())

	// The consumed refresh credential is gone; the new one works.
	_, err = svc.VerifyRefresh(ctx, refresh)
	assert.True(t, apperr.IsAuthentication(err))
	_, err = svc.VerifyRefresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestRotateSubjectMismatch(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.MintRefresh(ctx, testUser(), "", nil)
	require.NoError(t, err)

	_, err = svc.Rotate(ctx, refresh, UserInfo{ID: "user-2"}, "", nil)
	assert.True(t, apperr.IsAuthentication(err))
}

func TestRotateContentionSingleWinner(t *testing.T) {
	t.Parallel()
	svc, sessions := newTestService(t)
	ctx := context.Background()

	user := testUser()
	refresh, err := svc.MintRefresh(ctx, user, "", nil)
	require.NoError(t, err)

	const racers = 8
	var winners atomic.Int32
	var winner atomic.Pointer[Pair]
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pair, err := svc.Rotate(ctx, refresh, user, "", nil)
			if err == nil {
				winners.Add(1)
				winner.Store(pair)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), winners.Load(), "exactly one rotation may succeed")

	// The winner's refresh credential remains usable, and exactly one
	// session record survives: the losers withdrew theirs.
	_, err = svc.VerifyRefresh(ctx, winner.Load().RefreshToken)
	require.NoError(t, err)
	recs, err := sessions.ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
