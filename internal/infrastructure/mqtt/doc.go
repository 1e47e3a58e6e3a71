// Package mqtt provides the MQTT client for the hub's outward event bridge.
//
// The hub publishes device lifecycle events (connected, disconnected, status
// changed) so external automation and monitoring can react without polling
// the REST API. The bridge is one-directional: the hub announces, it does not
// consume. Devices talk to the hub over their own WebSocket channel, never
// via the broker.
//
// Connection management:
//   - Auto-reconnect with exponential backoff
//   - Last Will and Testament on edgehub/system/status for crash detection
//   - Publishes are bounded by a timeout and fail fast when disconnected
//
// All methods are safe for concurrent use.
package mqtt
