package device

// MergeTelemetry combines a stored telemetry snapshot with an incoming one,
// field by field. It is a pure function with no side effects and may be
// called with a zero-value existing snapshot for first-time registration.
//
// The merge rules per field class:
//
//   - Identity strings (hostname, discovery name, model, OS version, client
//     version): a non-empty incoming value overwrites; an empty incoming
//     value keeps the stored one. Identity is never blanked by a partial
//     report but always reflects the latest known value.
//   - Capacities (screen dimensions, memory total, disk total): overwritten
//     only when the incoming value is strictly positive. A zero capacity is
//     a reporting glitch, not a real reading.
//   - Point-in-time metrics (CPU temperature, CPU usage, memory used, disk
//     used, uptime): always overwritten, including with zero. An idle CPU or
//     a freshly booted device legitimately reports zero.
//
// Reapplying the same incoming snapshot is a no-op:
// MergeTelemetry(MergeTelemetry(a, b), b) == MergeTelemetry(a, b).
func MergeTelemetry(existing, incoming Telemetry) Telemetry {
	merged := existing

	// Identity strings
	if incoming.Hostname != "" {
		merged.Hostname = incoming.Hostname
	}
	if incoming.DiscoveryName != "" {
		merged.DiscoveryName = incoming.DiscoveryName
	}
	if incoming.Model != "" {
		merged.Model = incoming.Model
	}
	if incoming.OSVersion != "" {
		merged.OSVersion = incoming.OSVersion
	}
	if incoming.ClientVersion != "" {
		merged.ClientVersion = incoming.ClientVersion
	}

	// Capacities
	if incoming.ScreenWidth > 0 {
		merged.ScreenWidth = incoming.ScreenWidth
	}
	if incoming.ScreenHeight > 0 {
		merged.ScreenHeight = incoming.ScreenHeight
	}
	if incoming.MemoryTotal > 0 {
		merged.MemoryTotal = incoming.MemoryTotal
	}
	if incoming.DiskTotal > 0 {
		merged.DiskTotal = incoming.DiskTotal
	}

	// Point-in-time metrics
	merged.CPUTemperature = incoming.CPUTemperature
	merged.CPUUsage = incoming.CPUUsage
	merged.MemoryUsed = incoming.MemoryUsed
	merged.DiskUsed = incoming.DiskUsed
	merged.UptimeSeconds = incoming.UptimeSeconds

	return merged
}
