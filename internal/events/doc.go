// Package events provides the in-process notification bus for Edge Hub Core.
//
// Observers (the REST API, automation, the MQTT bridge) subscribe to device
// lifecycle events: connected, disconnected and status changed. Delivery
// order matches publish order, and the coordinator publishes strictly after
// the corresponding connection-index mutation, so an observer that queries
// the index on receipt always sees consistent state.
//
// Delivery to each subscriber is non-blocking: a subscriber that stops
// draining its channel loses events (counted, logged) rather than stalling
// the publisher or other subscribers.
package events
