package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/balancer-core/internal/validation"
)

// Service registers and authenticates accounts.
type Service struct {
	users      UserRepository
	secret     []byte
	ttl        time.Duration
	minEntropy float64
}

// NewService creates an auth service issuing tokens signed with secret.
func NewService(users UserRepository, secret string, ttl time.Duration, minEntropy float64) *Service {
	return &Service{
		users:      users,
		secret:     []byte(secret),
		ttl:        ttl,
		minEntropy: minEntropy,
	}
}

// Register creates a user account named after its email and returns a token.
func (s *Service) Register(ctx context.Context, c Credentials) (*User, string, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if err := validation.Struct(&c); err != nil {
		return nil, "", err
	}
	if err := CheckStrength(c.Password, s.minEntropy); err != nil {
		return nil, "", err
	}

	hash, err := HashPassword(c.Password)
	if err != nil {
		return nil, "", err
	}

	user := &User{
		Username:     c.Email,
		Email:        c.Email,
		PasswordHash: hash,
		Role:         RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := IssueToken(user, s.secret, s.ttl)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies credentials and returns a token. Unknown users, wrong
// passwords and inactive accounts all yield ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, c Credentials) (*User, string, error) {
	username := strings.ToLower(strings.TrimSpace(c.Email))
	if username == "" || c.Password == "" {
		return nil, "", ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		// Burn comparable time so unknown usernames are not distinguishable.
		_, _ = HashPassword(c.Password) //nolint:errcheck // timing only
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading user: %w", err)
	}

	ok, err := VerifyPassword(c.Password, user.PasswordHash)
	if err != nil {
		return nil, "", fmt.Errorf("verifying password: %w", err)
	}
	if !ok || !user.IsActive {
		return nil, "", ErrInvalidCredentials
	}

	token, err := IssueToken(user, s.secret, s.ttl)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Authenticate parses a bearer token.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return ParseToken(token, s.secret)
}
