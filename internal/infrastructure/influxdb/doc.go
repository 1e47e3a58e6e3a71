// Package influxdb provides the telemetry history sink for the hub.
//
// Every merged telemetry snapshot (registration or heartbeat) is recorded as
// a point in InfluxDB, tagged by logical device ID. Writes are non-blocking
// and batched; the device registry in SQLite remains the source of truth for
// the current snapshot, InfluxDB only holds the history.
//
// The sink is optional. When disabled in config the hub runs without
// telemetry history and nothing else changes.
package influxdb
