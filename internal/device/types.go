package device

import "time"

// Kind classifies a device.
type Kind string

// Device kinds.
const (
	// KindSwitchableAppliance is a plug or relay the balancer may switch off.
	KindSwitchableAppliance Kind = "SWITCHABLE_APPLIANCE"

	// KindPowerMonitor measures household consumption. At most one per user.
	KindPowerMonitor Kind = "POWER_MONITOR"

	// KindGridMonitor detects grid availability. At most one per user.
	KindGridMonitor Kind = "GRID_MONITOR"
)

// AllKinds returns every valid device kind.
func AllKinds() []Kind {
	return []Kind{KindSwitchableAppliance, KindPowerMonitor, KindGridMonitor}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSwitchableAppliance, KindPowerMonitor, KindGridMonitor:
		return true
	}
	return false
}

// IsMonitor reports whether k is limited to one device per user.
func (k Kind) IsMonitor() bool {
	return k == KindPowerMonitor || k == KindGridMonitor
}

// Device is a catalogue entry owned by exactly one user.
//
// Prefix is the MQTT topic prefix of the physical device and the only key
// shared with the device-control service, so it is unique across all users.
type Device struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Prefix             string    `json:"mqttPrefix"`
	Kind               Kind      `json:"deviceType"`
	Priority           int       `json:"priority"`
	Wattage            *int      `json:"wattage"`
	PreventDowntime    bool      `json:"preventDowntime"`
	MaxDowntimeMinutes *int      `json:"maxDowntimeMinutes"`
	MinUptimeMinutes   *int      `json:"minUptimeMinutes"`
	UserID             string    `json:"userId"`
	Username           string    `json:"username,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Owns reports whether the user identified by userID owns d.
// It is the single ownership predicate for reads, mutations and command access.
func Owns(userID string, d *Device) bool {
	return d != nil && userID != "" && d.UserID == userID
}

// Request carries the client-editable fields of a device.
type Request struct {
	Name               string `json:"name" validate:"required,max=100"`
	Prefix             string `json:"mqttPrefix" validate:"required,max=255,excludesall= #+"`
	Kind               Kind   `json:"deviceType" validate:"required,oneof=SWITCHABLE_APPLIANCE POWER_MONITOR GRID_MONITOR"`
	Priority           *int   `json:"priority" validate:"omitempty,min=0"`
	Wattage            *int   `json:"wattage" validate:"omitempty,min=0"`
	PreventDowntime    bool   `json:"preventDowntime"`
	MaxDowntimeMinutes *int   `json:"maxDowntimeMinutes" validate:"omitempty,min=0"`
	MinUptimeMinutes   *int   `json:"minUptimeMinutes" validate:"omitempty,min=0"`
}

// ApplyTo copies every request field onto d. A missing priority becomes 0.
func (r *Request) ApplyTo(d *Device) {
	d.Name = r.Name
	d.Prefix = r.Prefix
	d.Kind = r.Kind
	d.Priority = 0
	if r.Priority != nil {
		d.Priority = *r.Priority
	}
	d.Wattage = copyInt(r.Wattage)
	d.PreventDowntime = r.PreventDowntime
	d.MaxDowntimeMinutes = copyInt(r.MaxDowntimeMinutes)
	d.MinUptimeMinutes = copyInt(r.MinUptimeMinutes)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Default power budget for a user without stored settings.
const (
	DefaultPowerLimitWatts         = 3500
	DefaultPowerOnMarginWatts      = 500
	DefaultOverloadCooldownSeconds = 30
)

// SystemSettings is the per-user power budget consumed by the balancer.
type SystemSettings struct {
	UserID                  string    `json:"-"`
	PowerLimitWatts         int       `json:"powerLimitWatts"`
	PowerOnMarginWatts      int       `json:"powerOnMarginWatts"`
	OverloadCooldownSeconds int       `json:"overloadCooldownSeconds"`
	UpdatedAt               time.Time `json:"updatedAt"`
}

// DefaultSettings returns the default budget for userID.
func DefaultSettings(userID string) SystemSettings {
	return SystemSettings{
		UserID:                  userID,
		PowerLimitWatts:         DefaultPowerLimitWatts,
		PowerOnMarginWatts:      DefaultPowerOnMarginWatts,
		OverloadCooldownSeconds: DefaultOverloadCooldownSeconds,
	}
}

// SettingsRequest carries a settings update. Every field is required.
type SettingsRequest struct {
	PowerLimitWatts         *int `json:"powerLimitWatts" validate:"required,min=0"`
	PowerOnMarginWatts      *int `json:"powerOnMarginWatts" validate:"required,min=0"`
	OverloadCooldownSeconds *int `json:"overloadCooldownSeconds" validate:"required,min=0"`
}

// ApplyTo copies the request onto s.
func (r *SettingsRequest) ApplyTo(s *SystemSettings) {
	s.PowerLimitWatts = *r.PowerLimitWatts
	s.PowerOnMarginWatts = *r.PowerOnMarginWatts
	s.OverloadCooldownSeconds = *r.OverloadCooldownSeconds
}
