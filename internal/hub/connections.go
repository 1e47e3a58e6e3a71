package hub

import (
	"context"
	"sync"

	"github.com/nerrad567/edgehub-core/internal/device"
)

// DeviceConn is the live connection handle to a registered device. The
// transport layer implements it; the hub never sees raw frames.
type DeviceConn interface {
	// SendCommand delivers a typed command to the device.
	SendCommand(ctx context.Context, cmd Command) error

	// SendConfiguration delivers a configuration push to the device.
	SendConfiguration(ctx context.Context, push ConfigurationPush) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Entry pairs a live connection with a cached registry snapshot.
type Entry struct {
	Conn   DeviceConn
	Device *device.Device
}

// ConnectionIndex maps logical IDs to live connections. It is the source of
// truth for "is this device reachable right now": entries are created at the
// end of a successful registration and destroyed the instant the underlying
// connection closes. Never persisted. Safe for concurrent use.
type ConnectionIndex struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewConnectionIndex creates an empty index.
func NewConnectionIndex() *ConnectionIndex {
	return &ConnectionIndex{entries: make(map[string]*Entry)}
}

// Get returns the entry for a logical ID. The cached device is a clone;
// callers may not mutate the index through it.
func (x *ConnectionIndex) Get(logicalID string) (Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	entry, ok := x.entries[logicalID]
	if !ok {
		return Entry{}, false
	}
	return Entry{Conn: entry.Conn, Device: entry.Device.Clone()}, true
}

// Set inserts or replaces the entry for a logical ID and returns the
// previously held connection, if any, so the caller can close it. The
// at-most-one-live-connection invariant is the caller closing that return.
func (x *ConnectionIndex) Set(logicalID string, conn DeviceConn, dev *device.Device) DeviceConn {
	x.mu.Lock()
	defer x.mu.Unlock()

	var previous DeviceConn
	if existing, ok := x.entries[logicalID]; ok && existing.Conn != conn {
		previous = existing.Conn
	}
	x.entries[logicalID] = &Entry{Conn: conn, Device: dev.Clone()}
	return previous
}

// Remove deletes the entry for a logical ID, but only while it still holds
// conn. A disconnect racing a re-registration must not evict the newer
// connection. Returns whether an entry was removed.
func (x *ConnectionIndex) Remove(logicalID string, conn DeviceConn) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.entries[logicalID]
	if !ok || entry.Conn != conn {
		return false
	}
	delete(x.entries, logicalID)
	return true
}

// Drop unconditionally deletes the entry for a logical ID, returning the
// held connection if any. Used when a record is retired or displaced.
func (x *ConnectionIndex) Drop(logicalID string) DeviceConn {
	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.entries[logicalID]
	if !ok {
		return nil
	}
	delete(x.entries, logicalID)
	return entry.Conn
}

// UpdateCached applies fn to the cached device snapshot for a logical ID,
// if present. Used to keep the cache aligned after small persisted changes
// (assigned configuration, status) without a full re-registration.
func (x *ConnectionIndex) UpdateCached(logicalID string, fn func(*device.Device)) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	entry, ok := x.entries[logicalID]
	if !ok {
		return false
	}
	fn(entry.Device)
	return true
}

// List returns a snapshot of all entries. Devices are clones.
func (x *ConnectionIndex) List() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]Entry, 0, len(x.entries))
	for _, entry := range x.entries {
		out = append(out, Entry{Conn: entry.Conn, Device: entry.Device.Clone()})
	}
	return out
}

// Len returns the number of live connections.
func (x *ConnectionIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
