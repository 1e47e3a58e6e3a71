package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

// Publisher sends a payload to an external topic. Implemented by the MQTT
// client; kept narrow so the bridge is testable without a broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Bridge republishes bus events to an external publisher so systems outside
// the hub process (dashboards, automation) can follow device lifecycle
// without polling the REST API.
type Bridge struct {
	bus *Bus
	pub Publisher
	log *logging.Logger
}

// NewBridge creates a bridge from bus to pub.
func NewBridge(bus *Bus, pub Publisher, log *logging.Logger) *Bridge {
	return &Bridge{bus: bus, pub: pub, log: log}
}

// Run consumes bus events until ctx is cancelled or the bus closes.
// Publish failures are logged and skipped; the bridge is an observer and
// must never stall the hub.
func (br *Bridge) Run(ctx context.Context) error {
	ch, unsubscribe := br.bus.Subscribe(0)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			br.publish(ev)
		}
	}
}

func (br *Bridge) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		br.log.Error("marshalling event", "error", err, "kind", ev.Kind)
		return
	}

	topic := fmt.Sprintf("edgehub/events/%s/%s", ev.LogicalID, ev.Kind)
	if err := br.pub.Publish(topic, payload); err != nil {
		br.log.Warn("publishing event to broker",
			"error", err,
			"topic", topic,
		)
	}
}
