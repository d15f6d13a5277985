// Package auth issues and validates the bearer tokens the API requires.
// Identity is a collaborator to the orchestration core, which only ever sees
// a user id.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nebur242/deploy-hub/internal/domain"
	"github.com/nebur242/deploy-hub/internal/repository"
	"github.com/nebur242/deploy-hub/pkg/crypto"
	"github.com/nebur242/deploy-hub/pkg/jwt"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrEmailTaken         = errors.New("auth: email already registered")
)

// Service handles signup, login and token validation.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	secret string
	ttl    time.Duration
}

// New constructs an auth service.
func New(users repository.UserRepository, logger *slog.Logger, secret string, ttl time.Duration) Service {
	return Service{users: users, logger: logger.With("component", "auth"), secret: secret, ttl: ttl}
}

// Signup registers a user and returns a fresh access token.
func (s Service) Signup(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 8 {
		return nil, "", ErrInvalidCredentials
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, "", err
	}
	token, err := jwt.GenerateToken(user.ID, user.IsAdmin, s.secret, s.ttl)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, token, nil
}

// Login authenticates a user and returns an access token.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := jwt.GenerateToken(user.ID, user.IsAdmin, s.secret, s.ttl)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Authorize validates a bearer token and loads its user.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	claims, err := jwt.Parse(token, s.secret)
	if err != nil {
		return nil, err
	}
	return s.users.GetUserByID(ctx, claims.UserID)
}
