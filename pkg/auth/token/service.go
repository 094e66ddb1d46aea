// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package token mints, verifies, rotates, and revokes the signed bearer
// credentials issued by the gateway. Access credentials are stateless;
// refresh credentials are backed by the session store and revocable.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/auth/session"
	"github.com/raniksyn/mediator/pkg/logger"
)

// Credential kinds.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Internal verification errors. All of them surface to callers as the
// same generic AuthenticationError; logs record the specific cause.
var (
	ErrWrongKind      = errors.New("wrong credential kind")
	ErrSessionRevoked = errors.New("refresh session missing or revoked")
	ErrRotationLost   = errors.New("lost rotation race")
)

// Claims is the signed envelope payload for both credential kinds.
type Claims struct {
	jwt.RegisteredClaims

	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Kind   string   `json:"kind"`
	Device string   `json:"device,omitempty"`
}

// UserInfo is the subset of a user record a credential carries.
type UserInfo struct {
	ID    string
	Email string
	Roles []string
}

// Pair is a freshly minted access/refresh credential pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresIn        int64 // seconds until the access credential expires
	RefreshExpiresIn int64 // seconds until the refresh credential expires
}

// Config holds the service parameters.
type Config struct {
	// SigningKey is the symmetric MAC key (HS256).
	SigningKey []byte

	// KeyID is placed in the credential header for future key rotation.
	KeyID string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Service implements the credential lifecycle.
type Service struct {
	cfg      Config
	sessions session.Store

	// now is swappable in tests. Verification has zero clock-skew
	// tolerance; a credential is invalid exactly at its expiry instant.
	now func() time.Time
}

// NewService creates a credential service backed by the given session
// store.
func NewService(cfg Config, sessions session.Store) *Service {
	return &Service{cfg: cfg, sessions: sessions, now: time.Now}
}

// SetClock replaces the service clock. Test use only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.cfg.KeyID != "" {
		tok.Header["kid"] = s.cfg.KeyID
	}
	signed, err := tok.SignedString(s.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// MintAccess mints a stateless access credential for the user.
func (s *Service) MintAccess(user UserInfo) (string, error) {
	now := s.now()
	return s.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
		Email: user.Email,
		Roles: user.Roles,
		Kind:  KindAccess,
	})
}

// MintRefresh mints a refresh credential and inserts its session record.
func (s *Service) MintRefresh(ctx context.Context, user UserInfo, device string, metadata map[string]string) (string, error) {
	now := s.now()
	jti := uuid.NewString()

	signed, err := s.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
		},
		Kind:   KindRefresh,
		Device: device,
	})
	if err != nil {
		return "", err
	}

	rec := session.Record{
		JTI:       jti,
		UserID:    user.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		Device:    device,
		Metadata:  metadata,
	}
	if err := s.sessions.Put(ctx, rec, s.cfg.RefreshTTL); err != nil {
		return "", apperr.NewServiceUnavailableError("session store unavailable", err)
	}
	return signed, nil
}

// MintPair mints an access and refresh credential pair.
func (s *Service) MintPair(ctx context.Context, user UserInfo, device string, metadata map[string]string) (*Pair, error) {
	access, err := s.MintAccess(user)
	if err != nil {
		return nil, err
	}
	refresh, err := s.MintRefresh(ctx, user, device, metadata)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresIn:        int64(s.cfg.AccessTTL.Seconds()),
		RefreshExpiresIn: int64(s.cfg.RefreshTTL.Seconds()),
	}, nil
}

// parse verifies the signature and expiry and returns the claims.
func (s *Service) parse(tokenString, wantKind string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.cfg.SigningKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Kind != wantKind {
		return nil, ErrWrongKind
	}
	return claims, nil
}

// VerifyAccess verifies an access credential and returns the principal.
// It never consults the session store: access credentials are stateless.
func (s *Service) VerifyAccess(tokenString string) (*auth.Identity, error) {
	claims, err := s.parse(tokenString, KindAccess)
	if err != nil {
		logger.Debugw("access credential rejected", "cause", err)
		return nil, apperr.NewAuthenticationError(err)
	}
	return &auth.Identity{
		Subject: claims.Subject,
		Email:   claims.Email,
		Roles:   claims.Roles,
		Token:   tokenString,
	}, nil
}

// VerifyRefresh verifies a refresh credential: signature, expiry, kind,
// and the presence of its jti in the session store.
func (s *Service) VerifyRefresh(ctx context.Context, tokenString string) (*session.Record, error) {
	claims, err := s.parse(tokenString, KindRefresh)
	if err != nil {
		logger.Debugw("refresh credential rejected", "cause", err)
		return nil, apperr.NewAuthenticationError(err)
	}

	rec, err := s.sessions.Get(ctx, claims.ID)
	if errors.Is(err, session.ErrNotFound) {
		logger.Debugw("refresh credential rejected", "cause", ErrSessionRevoked)
		return nil, apperr.NewAuthenticationError(ErrSessionRevoked)
	}
	if err != nil {
		return nil, apperr.NewServiceUnavailableError("session store unavailable", err)
	}
	return rec, nil
}

// Rotate exchanges a refresh credential for a new credential pair. The
// caller supplies the fresh user record so role changes take effect on
// the minted access credential.
//
// The new session record is inserted before the old one is deleted; of
// any set of concurrent rotations of the same credential, exactly one
// wins the delete and the rest fail without invalidating the winner.
func (s *Service) Rotate(ctx context.Context, refreshToken string, user UserInfo, device string, metadata map[string]string) (*Pair, error) {
	rec, err := s.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if rec.UserID != user.ID {
		return nil, apperr.NewAuthenticationError(errors.New("refresh subject mismatch"))
	}

	pair, err := s.MintPair(ctx, user, device, metadata)
	if err != nil {
		return nil, err
	}

	deleted, err := s.sessions.Delete(ctx, rec.JTI)
	if err != nil {
		return nil, apperr.NewServiceUnavailableError("session store unavailable", err)
	}
	if !deleted {
		// Another rotation committed first. Withdraw the pair minted
		// above so the loser leaves no session behind.
		if claims, perr := s.parse(pair.RefreshToken, KindRefresh); perr == nil {
			_, _ = s.sessions.Delete(ctx, claims.ID)
		}
		return nil, apperr.NewAuthenticationError(ErrRotationLost)
	}
	return pair, nil
}

// Revoke removes one session record. Revoking an absent jti is a no-op.
func (s *Service) Revoke(ctx context.Context, jti string) (bool, error) {
	deleted, err := s.sessions.Delete(ctx, jti)
	if err != nil {
		return false, apperr.NewServiceUnavailableError("session store unavailable", err)
	}
	return deleted, nil
}

// RevokeAll removes all session records for a user.
func (s *Service) RevokeAll(ctx context.Context, userID string) (int, error) {
	count, err := s.sessions.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, apperr.NewServiceUnavailableError("session store unavailable", err)
	}
	return count, nil
}
