package device

import "time"

// Device represents a single physical edge client known to the hub.
// This matches the database schema in migrations/20260801_000000_initial_schema.up.sql.
type Device struct {
	// Identity. LogicalID is the operator-facing name the device is addressed
	// by and may change across connections; HardwareKey is the stable hardware
	// identity (e.g. MAC address) and never changes for a physical unit.
	LogicalID   string `json:"logical_id"`
	HardwareKey string `json:"hardware_key"`

	// Placement and assignment hints, set at registration (from a token) or
	// by an operator afterwards.
	NetworkAddress string `json:"network_address,omitempty"`
	Group          string `json:"group,omitempty"`
	Location       string `json:"location,omitempty"`

	// AssignedConfigID is the last configuration pushed to this device.
	// It survives reconnection and renaming.
	AssignedConfigID string `json:"assigned_config_id,omitempty"`

	// Lifecycle
	Status       Status    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`

	// Telemetry is the most recent merged snapshot reported by the device.
	Telemetry Telemetry `json:"telemetry"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the Device. All fields are value
// types, so a struct copy is a complete copy. This is essential for the
// connection index cache, which must never share memory with callers.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	return &cpy
}

// Telemetry is a point-in-time snapshot of device health and identity
// metrics. Fields fall into three merge classes, enforced by MergeTelemetry:
// identity strings, capacities, and point-in-time metrics.
type Telemetry struct {
	// Identity strings: never blanked by a partial report.
	Hostname      string `json:"hostname,omitempty"`
	DiscoveryName string `json:"discovery_name,omitempty"`
	Model         string `json:"model,omitempty"`
	OSVersion     string `json:"os_version,omitempty"`
	ClientVersion string `json:"client_version,omitempty"`

	// Capacities: a zero is a reporting glitch, never a real capacity.
	ScreenWidth  int   `json:"screen_width,omitempty"`
	ScreenHeight int   `json:"screen_height,omitempty"`
	MemoryTotal  int64 `json:"memory_total,omitempty"`
	DiskTotal    int64 `json:"disk_total,omitempty"`

	// Point-in-time metrics: zero is a legitimate instantaneous reading.
	CPUTemperature float64 `json:"cpu_temperature"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsed     int64   `json:"memory_used"`
	DiskUsed       int64   `json:"disk_used"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
}

// Fields returns the numeric telemetry readings as a flat map, suitable for
// writing to a time-series sink as measurement fields.
func (t Telemetry) Fields() map[string]any {
	return map[string]any{
		"cpu_temperature": t.CPUTemperature,
		"cpu_usage":       t.CPUUsage,
		"memory_total":    t.MemoryTotal,
		"memory_used":     t.MemoryUsed,
		"disk_total":      t.DiskTotal,
		"disk_used":       t.DiskUsed,
		"uptime_seconds":  t.UptimeSeconds,
	}
}

// Status represents the lifecycle state of a device.
type Status string

// Status constants.
//
// Connecting is entered when a connection is accepted but registration has
// not yet completed; Online on successful registration; Updating while a
// remote update command is in flight; Offline on connection loss;
// OfflineRecovery marks a record that existed before the current hub process
// started and has not registered since, distinguishing "never seen this boot"
// from "seen and then lost"; Error marks an unrecoverable fault.
const (
	StatusConnecting      Status = "connecting"
	StatusOnline          Status = "online"
	StatusUpdating        Status = "updating"
	StatusOffline         Status = "offline"
	StatusOfflineRecovery Status = "offline_recovery"
	StatusError           Status = "error"
)

// AllStatuses returns all valid status values.
func AllStatuses() []Status {
	return []Status{
		StatusConnecting, StatusOnline, StatusUpdating,
		StatusOffline, StatusOfflineRecovery, StatusError,
	}
}

// Valid reports whether s is a recognised status value.
func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}
