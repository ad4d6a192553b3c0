package org

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials indicates a failed email/password check.
var ErrInvalidCredentials = errors.New("org: invalid credentials")

// Service wraps the directory with credential checks.
type Service struct {
	dir Directory
}

// NewService constructs a Service.
func NewService(dir Directory) *Service {
	return &Service{dir: dir}
}

// VerifyCredentials checks the password for an active user and returns it.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}
	user, err := s.dir.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !user.IsActive {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}
