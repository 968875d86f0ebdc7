package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/balancer-core/internal/infrastructure/database"
)

// SettingsRepository persists per-user system settings.
type SettingsRepository interface {
	// GetOrCreate returns the user's settings, inserting the defaults first
	// when none exist. Concurrent first calls create exactly one row.
	GetOrCreate(ctx context.Context, userID string) (*SystemSettings, error)

	// Save inserts or replaces the user's settings.
	Save(ctx context.Context, s *SystemSettings) error
}

// SQLiteSettingsRepository implements SettingsRepository using SQLite.
type SQLiteSettingsRepository struct {
	db *sql.DB
}

// NewSQLiteSettingsRepository creates a new SQLite-backed settings repository.
func NewSQLiteSettingsRepository(db *sql.DB) *SQLiteSettingsRepository {
	return &SQLiteSettingsRepository{db: db}
}

// GetOrCreate returns the user's settings, creating the defaults on first access.
// An existing row is read without taking the write lock.
func (r *SQLiteSettingsRepository) GetOrCreate(ctx context.Context, userID string) (*SystemSettings, error) {
	s, err := r.get(ctx, userID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying settings: %w", err)
	}

	defaults := DefaultSettings(userID)

	// ON CONFLICT makes the lazy insert idempotent under concurrent first access.
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO system_settings (
			user_id, power_limit_watts, power_on_margin_watts, overload_cooldown_seconds, updated_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, defaults.PowerLimitWatts, defaults.PowerOnMarginWatts,
		defaults.OverloadCooldownSeconds, time.Now().UTC().Format(database.TimeFormat),
	); err != nil {
		return nil, fmt.Errorf("creating default settings: %w", err)
	}

	s, err = r.get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	return s, nil
}

func (r *SQLiteSettingsRepository) get(ctx context.Context, userID string) (*SystemSettings, error) {
	var (
		s         SystemSettings
		updatedAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, power_limit_watts, power_on_margin_watts, overload_cooldown_seconds, updated_at
		FROM system_settings WHERE user_id = ?`, userID,
	).Scan(&s.UserID, &s.PowerLimitWatts, &s.PowerOnMarginWatts, &s.OverloadCooldownSeconds, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled
	return &s, nil
}

// Save inserts or replaces the user's settings.
func (r *SQLiteSettingsRepository) Save(ctx context.Context, s *SystemSettings) error {
	s.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_settings (
			user_id, power_limit_watts, power_on_margin_watts, overload_cooldown_seconds, updated_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			power_limit_watts = excluded.power_limit_watts,
			power_on_margin_watts = excluded.power_on_margin_watts,
			overload_cooldown_seconds = excluded.overload_cooldown_seconds,
			updated_at = excluded.updated_at`,
		s.UserID, s.PowerLimitWatts, s.PowerOnMarginWatts, s.OverloadCooldownSeconds,
		s.UpdatedAt.Format(database.TimeFormat),
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
