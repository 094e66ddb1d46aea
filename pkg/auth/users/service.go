// SPDX-FileCopyrightText: Copyright 2025 Mediator Authors
// SPDX-License-Identifier: Apache-2.0

// Package users implements the user directory: registration, password
// verification, and the admin-facing role and status mutations.
package users

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/raniksyn/mediator/pkg/apperr"
	"github.com/raniksyn/mediator/pkg/auth"
	"github.com/raniksyn/mediator/pkg/logger"
	"github.com/raniksyn/mediator/pkg/storage"
)

// dummyHash is compared against when the email is unknown so that
// authentication takes approximately the same time either way.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Config holds the directory parameters.
type Config struct {
	// BcryptCost tunes the password hashing work factor.
	BcryptCost int
}

// Service is the user directory.
type Service struct {
	store storage.UserStore
	cost  int

	now func() time.Time
}

// NewService creates a directory over the given store.
func NewService(cfg Config, store storage.UserStore) *Service {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{store: store, cost: cost, now: time.Now}
}

// ValidatePassword enforces the registration password policy: minimum 8
// characters with at least one uppercase, one lowercase, and one digit.
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return apperr.NewValidationError("password must be at least 8 characters", nil)
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return apperr.NewValidationError("password must contain an uppercase letter, a lowercase letter, and a digit", nil)
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 || !strings.Contains(email[at+1:], ".") {
		return apperr.NewValidationError("invalid email address", nil)
	}
	return nil
}

// Register creates a new user with the default role.
func (s *Service) Register(ctx context.Context, email, password string) (*storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, apperr.NewInternalError("failed to hash password", err)
	}

	now := s.now().UTC()
	user := storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Roles:        []string{auth.RoleUser},
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, apperr.NewValidationError("email already registered", err)
		}
		return nil, apperr.NewServiceUnavailableError("user directory unavailable", err)
	}
	logger.Infow("user registered", "user_id", user.ID)
	return &user, nil
}

// Authenticate verifies the email/password pair. Unknown email, wrong
// password, and deactivated account all yield the same generic error; a
// dummy hash comparison keeps timing flat when the email is unknown.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*storage.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.GetByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, apperr.NewAuthenticationError(err)
	}
	if err != nil {
		return nil, apperr.NewServiceUnavailableError("user directory unavailable", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.NewAuthenticationError(err)
	}
	if !user.Active {
		return nil, apperr.NewAuthenticationError(errors.New("account deactivated"))
	}
	return user, nil
}

// FindByID returns the user with the given id.
func (s *Service) FindByID(ctx context.Context, id string) (*storage.User, error) {
	user, err := s.store.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NewNotFoundError("user not found", err)
	}
	if err != nil {
		return nil, apperr.NewServiceUnavailableError("user directory unavailable", err)
	}
	return user, nil
}

// FindByEmail returns the user with the given email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*storage.User, error) {
	user, err := s.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NewNotFoundError("user not found", err)
	}
	if err != nil {
		return nil, apperr.NewServiceUnavailableError("user directory unavailable", err)
	}
	return user, nil
}

// Search returns users matching the email substring query.
func (s *Service) Search(ctx context.Context, query string, limit, offset int) ([]storage.User, int, error) {
	users, total, err := s.store.Search(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, apperr.NewServiceUnavailableError("user directory unavailable", err)
	}
	return users, total, nil
}

// SetRoles replaces a user's role set. Unknown role names are rejected.
func (s *Service) SetRoles(ctx context.Context, id string, roles []string) error {
	for _, role := range roles {
		switch role {
		case auth.AdminRole, auth.RoleUser, auth.RoleGuest:
		default:
			return apperr.NewValidationError("unknown role: "+role, nil)
		}
	}
	err := s.store.SetRoles(ctx, id, roles)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NewNotFoundError("user not found", err)
	}
	if err != nil {
		return apperr.NewServiceUnavailableError("user directory unavailable", err)
	}
	logger.Infow("user roles updated", "user_id", id, "roles", roles)
	return nil
}

// SetActive flips a user's active flag.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	err := s.store.SetActive(ctx, id, active)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NewNotFoundError("user not found", err)
	}
	if err != nil {
		return apperr.NewServiceUnavailableError("user directory unavailable", err)
	}
	logger.Infow("user status updated", "user_id", id, "active", active)
	return nil
}

// ChangePassword verifies the current password and installs a new one.
func (s *Service) ChangePassword(ctx context.Context, id, current, next string) error {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return apperr.NewAuthenticationError(err)
	}
	if err := ValidatePassword(next); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return apperr.NewInternalError("failed to hash password", err)
	}
	if err := s.store.SetPasswordHash(ctx, id, string(hash)); err != nil {
		return apperr.NewServiceUnavailableError("user directory unavailable", err)
	}
	return nil
}

// Bootstrap ensures an admin account exists. Called once at startup when
// bootstrap credentials are configured; an existing account is left alone.
func (s *Service) Bootstrap(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}
	if _, err := s.store.GetByEmail(ctx, strings.ToLower(email)); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return apperr.NewServiceUnavailableError("user directory unavailable", err)
	}

	user, err := s.Register(ctx, email, password)
	if err != nil {
		return err
	}
	if err := s.SetRoles(ctx, user.ID, []string{auth.AdminRole, auth.RoleUser}); err != nil {
		return err
	}
	logger.Infow("bootstrap admin created", "user_id", user.ID)
	return nil
}
