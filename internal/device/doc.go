// Package device provides the Client Registry for Edge Hub Core.
//
// The registry is the durable record set of every edge client that has ever
// registered with the hub, keyed by an operator-facing logical ID with a
// secondary unique hardware key (typically a MAC address). It owns the three
// decisions that make unreliable edge fleets manageable:
//
//   - Identity resolution: given a hardware key and a requested logical ID,
//     decide whether this is a known device updating in place, a known device
//     renaming itself, a device displacing a stale record, or a brand-new
//     device (resolver.go).
//   - Telemetry merging: combine a stored telemetry snapshot with an incoming
//     one without letting partial or glitchy reports clobber good data
//     (merge.go).
//   - Persistence: SQLite-backed storage with transactional units of work so
//     a multi-step resolution commits atomically (repository.go).
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────────┐
//	│                          Client Registry                           │
//	│                                                                    │
//	│  ┌────────────────┐    ┌────────────────┐    ┌─────────────────┐   │
//	│  │    Resolver    │    │     Merge      │    │   Repository    │   │
//	│  │ (resolver.go)  │───▶│   (merge.go)   │    │ (repository.go) │   │
//	│  │                │    │                │    │                 │   │
//	│  │ • Identity     │    │ • Field-class  │    │ • SQLite        │   │
//	│  │   decisions    │    │   merge rules  │    │ • Transactions  │   │
//	│  │ • ID generation│    │ • Pure function│    │ • Unique keys   │   │
//	│  └────────────────┘    └────────────────┘    └─────────────────┘   │
//	└────────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Device: the durable record for one physical edge client
//   - Telemetry: a point-in-time snapshot of client health and identity
//   - Status: lifecycle state (connecting, online, updating, offline, ...)
//   - Resolution: the outcome of identity resolution, applied transactionally
//
// # Thread Safety
//
// ResolveIdentity and Resolution.Apply must run inside a per-hardware-key
// critical section owned by the caller (the registration coordinator); the
// repository itself is safe for concurrent use.
package device
