package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/nerrad567/balancer-core/internal/infrastructure/config"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
)

// seedPasswordBytes is the number of random bytes in a generated admin password.
const seedPasswordBytes = 16

// SeedAccounts creates the configured admin and service accounts when they
// do not exist yet. An admin without a configured password gets a random
// one, which is logged once and returned.
func SeedAccounts(ctx context.Context, users UserRepository, cfg config.SecurityConfig, logger *logging.Logger) (string, error) {
	generated, err := seedAccount(ctx, users, cfg.Admin, RoleAdmin, true, logger)
	if err != nil {
		return "", err
	}
	if _, err := seedAccount(ctx, users, cfg.ServiceUser, RoleService, false, logger); err != nil {
		return "", err
	}
	return generated, nil
}

func seedAccount(ctx context.Context, users UserRepository, sc config.SeedUserConfig, role Role, generate bool, logger *logging.Logger) (string, error) {
	if sc.Username == "" {
		return "", nil
	}

	_, err := users.GetByUsername(ctx, sc.Username)
	if err == nil {
		logger.Debug("account exists, skipping seed", "username", sc.Username, "role", role)
		return "", nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return "", fmt.Errorf("looking up %s account: %w", role, err)
	}

	password, generated := sc.Password, ""
	if password == "" {
		if !generate {
			return "", fmt.Errorf("no password configured for %s account %q", role, sc.Username)
		}
		b := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("generating seed password: %w", err)
		}
		password = hex.EncodeToString(b)
		generated = password
	}

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing %s password: %w", role, err)
	}

	if err := users.Create(ctx, &User{
		Username:     sc.Username,
		Email:        sc.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}); err != nil {
		return "", fmt.Errorf("creating %s account: %w", role, err)
	}

	if generated != "" {
		logger.Warn("admin account created with generated password",
			"username", sc.Username,
			"password", generated,
			"action_required", "set security.admin.password and restart",
		)
	} else {
		logger.Info("account seeded", "username", sc.Username, "role", role)
	}

	return generated, nil
}
