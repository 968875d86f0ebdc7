package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/balancer-core/internal/infrastructure/database"
)

// Repository defines device persistence operations.
// This abstraction lets the catalogue manager be tested against SQLite or a fake.
type Repository interface {
	// GetByID retrieves a device with its owner's username.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id int64) (*Device, error)

	// GetByPrefix retrieves a device by its MQTT prefix.
	// Returns ErrDeviceNotFound if no device uses the prefix.
	GetByPrefix(ctx context.Context, prefix string) (*Device, error)

	// ListByUser returns a user's devices ordered by kind, then name.
	ListByUser(ctx context.Context, userID string) ([]Device, error)

	// List returns every device of every user.
	List(ctx context.Context) ([]Device, error)

	// FindByUserAndKind returns the user's first device of the given kind,
	// ignoring excludeID (pass 0 to ignore nothing).
	// Returns ErrDeviceNotFound when there is none.
	FindByUserAndKind(ctx context.Context, userID string, kind Kind, excludeID int64) (*Device, error)

	// Create inserts d and sets its ID and timestamps.
	// Returns ErrPrefixInUse or ErrMonitorExists on a uniqueness violation.
	Create(ctx context.Context, d *Device) error

	// Update persists every mutable field of d.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, d *Device) error

	// Delete removes a device by id.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT d.id, d.user_id, COALESCE(u.username, ''), d.name, d.prefix, d.kind,
		d.priority, d.wattage, d.prevent_downtime, d.max_downtime_minutes,
		d.min_uptime_minutes, d.created_at, d.updated_at
	FROM devices d
	LEFT JOIN users u ON u.id = d.user_id`

// GetByID retrieves a device by id.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDevice+` WHERE d.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// GetByPrefix retrieves a device by MQTT prefix.
func (r *SQLiteRepository) GetByPrefix(ctx context.Context, prefix string) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDevice+` WHERE d.prefix = ?`, prefix))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by prefix: %w", err)
	}
	return d, nil
}

// ListByUser returns a user's devices ordered by kind, then name.
func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` WHERE d.user_id = ? ORDER BY d.kind, d.name`, userID)
}

// List returns every device.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` ORDER BY d.user_id, d.kind, d.name`)
}

// FindByUserAndKind returns the user's first device of kind other than excludeID.
func (r *SQLiteRepository) FindByUserAndKind(ctx context.Context, userID string, kind Kind, excludeID int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx,
		selectDevice+` WHERE d.user_id = ? AND d.kind = ? AND d.id != ? ORDER BY d.id LIMIT 1`,
		userID, string(kind), excludeID,
	)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by user and kind: %w", err)
	}
	return d, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (
			user_id, name, prefix, kind, priority, wattage, prevent_downtime,
			max_downtime_minutes, min_uptime_minutes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UserID, d.Name, d.Prefix, string(d.Kind), d.Priority,
		nullableInt(d.Wattage), boolToInt(d.PreventDowntime),
		nullableInt(d.MaxDowntimeMinutes), nullableInt(d.MinUptimeMinutes),
		now.Format(database.TimeFormat), now.Format(database.TimeFormat),
	)
	if err != nil {
		return r.mapWriteError(ctx, err, d, "inserting device")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	d.ID = id
	return nil
}

// Update persists every mutable field of d. Owner and creation time never change.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, prefix = ?, kind = ?, priority = ?, wattage = ?,
			prevent_downtime = ?, max_downtime_minutes = ?, min_uptime_minutes = ?,
			updated_at = ?
		WHERE id = ?`,
		d.Name, d.Prefix, string(d.Kind), d.Priority, nullableInt(d.Wattage),
		boolToInt(d.PreventDowntime), nullableInt(d.MaxDowntimeMinutes),
		nullableInt(d.MinUptimeMinutes), d.UpdatedAt.Format(database.TimeFormat),
		d.ID,
	)
	if err != nil {
		return r.mapWriteError(ctx, err, d, "updating device")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Delete removes a device.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// mapWriteError turns a unique-constraint failure into the matching conflict.
// The prefix index and the per-user monitor index are the only unique
// constraints on the table, so an unused prefix means the monitor index fired.
func (r *SQLiteRepository) mapWriteError(ctx context.Context, err error, d *Device, op string) error {
	if !database.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var owner int64
	lookupErr := r.db.QueryRowContext(ctx,
		`SELECT id FROM devices WHERE prefix = ? AND id != ?`, d.Prefix, d.ID,
	).Scan(&owner)
	if lookupErr == nil {
		return fmt.Errorf("%w: %s", ErrPrefixInUse, d.Prefix)
	}
	return fmt.Errorf("%w: %s", ErrMonitorExists, d.Kind)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var (
		d                       Device
		kind                    string
		wattage, maxDown, minUp sql.NullInt64
		preventDowntime         int
		createdAt, updatedAt    string
	)

	if err := s.Scan(
		&d.ID, &d.UserID, &d.Username, &d.Name, &d.Prefix, &kind,
		&d.Priority, &wattage, &preventDowntime, &maxDown,
		&minUp, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	d.Kind = Kind(kind)
	d.Wattage = intPtr(wattage)
	d.PreventDowntime = preventDowntime != 0
	d.MaxDowntimeMinutes = intPtr(maxDown)
	d.MinUptimeMinutes = intPtr(minUp)
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // Format is controlled

	return &d, nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
