package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/balancer-core/internal/infrastructure/database"
)

// SubscriptionRepository persists push subscriptions.
type SubscriptionRepository interface {
	// Replace stores sub, dropping any earlier subscription with the same endpoint.
	Replace(ctx context.Context, sub *Subscription) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
	ListByUser(ctx context.Context, userID string) ([]Subscription, error)
}

// SQLiteSubscriptionRepository implements SubscriptionRepository using SQLite.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository creates a new SQLite-backed subscription repository.
func NewSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

// Replace stores sub in one transaction. A browser that re-subscribes, or
// hands its endpoint to another account, ends up with a single row.
func (r *SQLiteSubscriptionRepository) Replace(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = "sub-" + uuid.NewString()
	}
	sub.CreatedAt = time.Now().UTC()

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM push_subscriptions WHERE endpoint = ?`, sub.Endpoint); err != nil {
			return fmt.Errorf("deleting previous subscription: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ID, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth,
			sub.CreatedAt.Format(database.TimeFormat),
		); err != nil {
			return fmt.Errorf("inserting subscription: %w", err)
		}
		return nil
	})
}

// DeleteByEndpoint removes the subscription for endpoint, if any.
func (r *SQLiteSubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// ListByUser returns userID's subscriptions, oldest first.
func (r *SQLiteSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE user_id = ?
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var (
			s         Subscription
			createdAt string
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // format is controlled
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}
