package catalogue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nerrad567/balancer-core/internal/audit"
	"github.com/nerrad567/balancer-core/internal/auth"
	"github.com/nerrad567/balancer-core/internal/device"
	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
)

// Sync keeps the device-control service consistent with the catalogue.
// Calls return immediately; delivery failures are handled by the implementation.
type Sync interface {
	Upsert(d device.Device)
	Remove(prefix string)
	Refresh(prefix string)
}

// Auditor records catalogue changes. *audit.Recorder implements it.
type Auditor interface {
	Record(e *audit.Entry)
}

// Observer is told which user's catalogue changed after every mutation.
type Observer interface {
	CatalogueChanged(userID string)
}

// Principal is the authenticated caller of a catalogue operation.
type Principal struct {
	UserID   string
	Username string
	Role     auth.Role
}

// IsService reports whether p is the device-control service account.
func (p Principal) IsService() bool {
	return p.Role == auth.RoleService
}

// SystemState is the consolidated view the device-control service pulls
// for one monitor: the owner's settings and every device they own.
type SystemState struct {
	Settings device.SystemSettings `json:"systemSettings"`
	Devices  []device.Device       `json:"devices"`
}

// Deps are the Manager's collaborators. Audit and Observer are optional.
type Deps struct {
	Devices  device.Repository
	Settings device.SettingsRepository
	Sync     Sync
	Audit    Auditor
	Observer Observer
	Logger   *logging.Logger
}

// Manager orchestrates catalogue changes: it enforces ownership and the
// one-monitor-per-user rule, persists, and schedules downstream sync.
//
// Downstream notifications are scheduled only after the store write
// succeeds and are never rolled back.
type Manager struct {
	devices  device.Repository
	settings device.SettingsRepository
	sync     Sync
	audit    Auditor
	observer Observer
	logger   *logging.Logger
}

// NewManager creates a catalogue manager.
func NewManager(deps Deps) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		devices:  deps.Devices,
		settings: deps.Settings,
		sync:     deps.Sync,
		audit:    deps.Audit,
		observer: deps.Observer,
		logger:   logger.With("component", "catalogue"),
	}
}

// SetObserver sets the change observer. Call it before the manager is
// shared; the MQTT relay depends on the notifier, which depends on the
// manager, so it can only be attached afterwards.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// ListDevices returns p's devices ordered by kind then name, or every
// device of every user when p is the service account.
func (m *Manager) ListDevices(ctx context.Context, p Principal) ([]device.Device, error) {
	if p.IsService() {
		return m.devices.List(ctx)
	}
	return m.devices.ListByUser(ctx, p.UserID)
}

// GetDevice returns a device p may read.
func (m *Manager) GetDevice(ctx context.Context, p Principal, id int64) (*device.Device, error) {
	d, err := m.devices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.IsService() && !device.Owns(p.UserID, d) {
		return nil, device.ErrForbidden
	}
	return d, nil
}

// CanAccess reports whether p may send commands to device id.
// Unknown devices are reported as inaccessible rather than missing.
func (m *Manager) CanAccess(ctx context.Context, p Principal, id int64) (bool, error) {
	d, err := m.devices.GetByID(ctx, id)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return device.Owns(p.UserID, d), nil
}

// DeviceOwner returns the device and the username of its owner.
func (m *Manager) DeviceOwner(ctx context.Context, id int64) (*device.Device, string, error) {
	d, err := m.devices.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if d.UserID == "" {
		return d, "", device.ErrOrphanDevice
	}
	return d, d.Username, nil
}

// CreateDevice adds a device owned by p.
func (m *Manager) CreateDevice(ctx context.Context, p Principal, req *device.Request) (*device.Device, error) {
	if err := device.ValidateRequest(req); err != nil {
		return nil, err
	}

	if req.Kind.IsMonitor() {
		if err := m.checkMonitorFree(ctx, p.UserID, req.Kind, 0); err != nil {
			return nil, err
		}
	}

	d := &device.Device{UserID: p.UserID, Username: p.Username}
	req.ApplyTo(d)
	if err := m.devices.Create(ctx, d); err != nil {
		return nil, err
	}

	m.sync.Upsert(*d)
	if d.Kind == device.KindPowerMonitor {
		m.sync.Refresh(d.Prefix)
	}

	m.logger.Info("device created",
		"device_id", d.ID,
		"user_id", p.UserID,
		"kind", d.Kind,
	)
	m.record(p, audit.ActionCreate, audit.EntityDevice, d.ID, map[string]any{
		"name":       d.Name,
		"mqttPrefix": d.Prefix,
		"deviceType": d.Kind,
	})
	m.changed(p.UserID)

	return d, nil
}

// UpdateDevice replaces the editable fields of a device owned by p.
//
// A prefix change removes the old prefix downstream before the new record
// is sent. A power monitor that changes kind is removed downstream and
// not refreshed. Otherwise the owner's power monitor, if any, is refreshed
// so its aggregate view picks up the change.
func (m *Manager) UpdateDevice(ctx context.Context, p Principal, id int64, req *device.Request) (*device.Device, error) {
	if err := device.ValidateRequest(req); err != nil {
		return nil, err
	}

	d, err := m.devices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !device.Owns(p.UserID, d) {
		return nil, device.ErrForbidden
	}

	if req.Kind != d.Kind && req.Kind.IsMonitor() {
		if err := m.checkMonitorFree(ctx, p.UserID, req.Kind, d.ID); err != nil {
			return nil, err
		}
	}

	oldPrefix, oldKind := d.Prefix, d.Kind
	req.ApplyTo(d)
	if err := m.devices.Update(ctx, d); err != nil {
		return nil, err
	}

	renamed := oldPrefix != "" && oldPrefix != d.Prefix
	leftMonitor := oldKind == device.KindPowerMonitor && d.Kind != device.KindPowerMonitor

	if renamed || leftMonitor {
		m.sync.Remove(oldPrefix)
	}
	m.sync.Upsert(*d)

	switch {
	case d.Kind == device.KindPowerMonitor:
		m.sync.Refresh(d.Prefix)
	case leftMonitor:
		// Removed above; there is no monitor left to refresh.
	default:
		if prefix, ok := m.monitorPrefix(ctx, p.UserID); ok {
			m.sync.Refresh(prefix)
		}
	}

	m.logger.Info("device updated",
		"device_id", d.ID,
		"user_id", p.UserID,
		"renamed", renamed,
	)
	details := map[string]any{"name": d.Name, "mqttPrefix": d.Prefix, "deviceType": d.Kind}
	if renamed {
		details["previousMqttPrefix"] = oldPrefix
	}
	m.record(p, audit.ActionUpdate, audit.EntityDevice, d.ID, details)
	m.changed(p.UserID)

	return d, nil
}

// DeleteDevice removes a device owned by p.
//
// The store delete runs first; the downstream remove of the device prefix
// and the refresh of the owner's power monitor are queued only once it
// succeeds, so a failed delete leaves the downstream untouched. The
// monitor is not refreshed when the device being deleted is the monitor.
func (m *Manager) DeleteDevice(ctx context.Context, p Principal, id int64) error {
	d, err := m.devices.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !device.Owns(p.UserID, d) {
		return device.ErrForbidden
	}

	monitor, hasMonitor := m.monitorPrefix(ctx, p.UserID)
	if monitor == d.Prefix {
		hasMonitor = false
	}

	if err := m.devices.Delete(ctx, d.ID); err != nil {
		return err
	}

	if d.Prefix != "" {
		m.sync.Remove(d.Prefix)
	}
	if hasMonitor {
		m.sync.Refresh(monitor)
	}

	m.logger.Info("device deleted",
		"device_id", d.ID,
		"user_id", p.UserID,
	)
	m.record(p, audit.ActionDelete, audit.EntityDevice, d.ID, map[string]any{
		"name":       d.Name,
		"mqttPrefix": d.Prefix,
	})
	m.changed(p.UserID)

	return nil
}

// SystemStateByPrefix returns the owner's settings and devices for the
// device with prefix. It only writes when the owner has no settings yet.
func (m *Manager) SystemStateByPrefix(ctx context.Context, prefix string) (*SystemState, error) {
	d, err := m.devices.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if d.UserID == "" || d.Username == "" {
		return nil, fmt.Errorf("%w: device %d", device.ErrOrphanDevice, d.ID)
	}

	settings, err := m.settings.GetOrCreate(ctx, d.UserID)
	if err != nil {
		return nil, err
	}
	devices, err := m.devices.ListByUser(ctx, d.UserID)
	if err != nil {
		return nil, err
	}

	return &SystemState{Settings: *settings, Devices: devices}, nil
}

// ResolveMonitorPrefix returns the prefix of userID's power monitor.
// ok is false when the user has none.
func (m *Manager) ResolveMonitorPrefix(ctx context.Context, userID string) (prefix string, ok bool, err error) {
	d, err := m.devices.FindByUserAndKind(ctx, userID, device.KindPowerMonitor, 0)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d.Prefix, d.Prefix != "", nil
}

// GridMonitorPrefix returns the prefix of userID's grid monitor.
// ok is false when the user has none.
func (m *Manager) GridMonitorPrefix(ctx context.Context, userID string) (prefix string, ok bool, err error) {
	d, err := m.devices.FindByUserAndKind(ctx, userID, device.KindGridMonitor, 0)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d.Prefix, d.Prefix != "", nil
}

// GetSettings returns p's settings, creating the defaults on first access.
func (m *Manager) GetSettings(ctx context.Context, p Principal) (*device.SystemSettings, error) {
	return m.settings.GetOrCreate(ctx, p.UserID)
}

// UpdateSettings replaces p's settings and refreshes their power monitor.
func (m *Manager) UpdateSettings(ctx context.Context, p Principal, req *device.SettingsRequest) (*device.SystemSettings, error) {
	if err := device.ValidateSettings(req); err != nil {
		return nil, err
	}

	s, err := m.settings.GetOrCreate(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	req.ApplyTo(s)
	if err := m.settings.Save(ctx, s); err != nil {
		return nil, err
	}

	if prefix, ok := m.monitorPrefix(ctx, p.UserID); ok {
		m.sync.Refresh(prefix)
	}

	m.record(p, audit.ActionSettingsUpdate, audit.EntitySettings, 0, map[string]any{
		"powerLimitWatts":         s.PowerLimitWatts,
		"powerOnMarginWatts":      s.PowerOnMarginWatts,
		"overloadCooldownSeconds": s.OverloadCooldownSeconds,
	})
	m.changed(p.UserID)

	return s, nil
}

func (m *Manager) checkMonitorFree(ctx context.Context, userID string, kind device.Kind, excludeID int64) error {
	_, err := m.devices.FindByUserAndKind(ctx, userID, kind, excludeID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: user already has a %s", device.ErrMonitorExists, kind)
	case errors.Is(err, device.ErrDeviceNotFound):
		return nil
	default:
		return err
	}
}

// monitorPrefix resolves the user's power monitor for a refresh that must
// not fail the surrounding mutation.
func (m *Manager) monitorPrefix(ctx context.Context, userID string) (string, bool) {
	prefix, ok, err := m.ResolveMonitorPrefix(ctx, userID)
	if err != nil {
		m.logger.Warn("resolving power monitor failed", "user_id", userID, "error", err)
		return "", false
	}
	return prefix, ok
}

func (m *Manager) record(p Principal, action, entityType string, id int64, details map[string]any) {
	if m.audit == nil {
		return
	}
	entityID := p.UserID
	if id != 0 {
		entityID = strconv.FormatInt(id, 10)
	}
	m.audit.Record(&audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     p.UserID,
		Source:     "api",
		Details:    details,
	})
}

func (m *Manager) changed(userID string) {
	if m.observer != nil {
		m.observer.CatalogueChanged(userID)
	}
}
