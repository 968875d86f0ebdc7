package auth

import (
	"errors"
	"time"
)

// Role is an account's authorisation tier.
type Role string

const (
	// RoleUser owns devices and settings and may only see its own.
	RoleUser Role = "user"

	// RoleAdmin is a user who may also read the audit trail.
	RoleAdmin Role = "admin"

	// RoleService is the device-control microservice. It reads every
	// user's catalogue and posts status and balancer callbacks.
	RoleService Role = "service"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleService:
		return true
	}
	return false
}

// User is an account. Self-registered users log in with their email,
// which doubles as the username.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Credentials is the register and login request body.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	Token string `json:"token"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrUsernameExists     = errors.New("username already exists")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)
