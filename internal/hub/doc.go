// Package hub provides the registration coordinator, connection index and
// command dispatcher for Edge Hub Core.
//
// The coordinator orchestrates a device registration end to end: token
// validation, identity resolution, transactional persistence, connection
// index update, event emission and the best-effort configuration push. The
// connection index is the in-memory source of truth for "is this device
// reachable right now"; the dispatcher rides it to deliver typed commands
// and await acknowledgements.
//
// # Concurrency
//
// Registrations sharing a hardware key are serialised by a keyed lock so two
// near-simultaneous registrations cannot both create a record; registrations
// for different hardware keys proceed fully in parallel. The connection
// index supports concurrent reads and writes without caller-side locking.
// Cancellation is honoured up to the durable commit: once the write lands,
// the index update and event emission always complete.
//
// # Errors
//
// Callers distinguish outcomes with errors.Is against the package sentinels:
// ErrInvalidInput and ErrAuthenticationFailed are caller faults,
// ErrStorage means the whole registration is safe to retry, and
// ErrDeviceOffline, ErrDeviceUnresponsive and ErrTransportError are
// dispatch-only results for the caller's retry policy.
package hub
