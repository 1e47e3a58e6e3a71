package events

import (
	"sync"
	"time"

	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

// DefaultBuffer is the per-subscriber channel capacity used when Subscribe
// is called with a non-positive buffer size.
const DefaultBuffer = 64

// Kind identifies a device lifecycle event.
type Kind string

// Event kinds.
const (
	DeviceConnected     Kind = "device_connected"
	DeviceDisconnected  Kind = "device_disconnected"
	DeviceStatusChanged Kind = "device_status_changed"
)

// Event is a single device lifecycle notification.
type Event struct {
	Kind      Kind          `json:"kind"`
	LogicalID string        `json:"logical_id"`
	Status    device.Status `json:"status,omitempty"`
	At        time.Time     `json:"at"`
}

// subscriber is one registered observer.
type subscriber struct {
	ch      chan Event
	dropped int64
}

// Bus fans device lifecycle events out to subscribers. Each subscriber
// receives events in publish order. Publishing never blocks: a subscriber
// whose buffer is full loses the event instead of stalling the hub.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	log    *logging.Logger
}

// NewBus creates an event bus.
func NewBus(log *logging.Logger) *Bus {
	return &Bus{
		subs: make(map[int]*subscriber),
		log:  log,
	}
}

// Subscribe registers an observer and returns its event channel together
// with an unsubscribe function. The channel is closed on unsubscribe or when
// the bus shuts down. buffer <= 0 selects DefaultBuffer.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.subs[id] = sub

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}

	return sub.ch, unsubscribe
}

// Publish delivers an event to every subscriber. The publish mutex makes
// deliveries to each subscriber channel appear in publish order.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			b.log.Warn("event dropped for slow subscriber",
				"kind", ev.Kind,
				"logical_id", ev.LogicalID,
				"total_dropped", sub.dropped,
			)
		}
	}
}

// Close shuts the bus down, closing all subscriber channels. Publish and
// Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
