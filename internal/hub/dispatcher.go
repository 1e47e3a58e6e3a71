package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/events"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

const commandIDLength = 16

// Dispatcher delivers typed commands to live connections and correlates the
// acknowledgements the transport feeds back through HandleAck. It never
// creates registry records; the only persisted side effects are the status
// transition around an update command and the assigned-configuration
// reference, both explicit.
type Dispatcher struct {
	index      *ConnectionIndex
	repo       device.Repository
	bus        *events.Bus
	log        *logging.Logger
	ackTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Ack
}

// NewDispatcher creates a dispatcher. ackTimeout bounds how long Dispatch
// waits for a device to acknowledge before declaring it unresponsive.
func NewDispatcher(index *ConnectionIndex, repo device.Repository, bus *events.Bus, log *logging.Logger, ackTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		index:      index,
		repo:       repo,
		bus:        bus,
		log:        log.With("component", "dispatcher"),
		ackTimeout: ackTimeout,
		pending:    make(map[string]chan Ack),
	}
}

// Dispatch sends a command to the device holding logicalID and awaits its
// acknowledgement.
//
// Returns ErrDeviceOffline when no live connection exists (distinct from a
// delivery failure), ErrTransportError when the send itself fails, and
// ErrDeviceUnresponsive when no acknowledgement arrives in time.
func (d *Dispatcher) Dispatch(ctx context.Context, logicalID, name string, params map[string]any) (Ack, error) {
	if logicalID == "" || name == "" {
		return Ack{}, fmt.Errorf("%w: logical id and command name required", ErrInvalidInput)
	}

	entry, ok := d.index.Get(logicalID)
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrDeviceOffline, logicalID)
	}

	cmd := Command{
		ID:     "cmd-" + uuid.NewString()[:commandIDLength],
		Name:   name,
		Params: params,
	}

	ackCh := d.await(cmd.ID)
	defer d.forget(cmd.ID)

	if err := entry.Conn.SendCommand(ctx, cmd); err != nil {
		return Ack{}, fmt.Errorf("%w: sending %s to %s: %v", ErrTransportError, name, logicalID, err)
	}

	d.log.Debug("command sent", "logical_id", logicalID, "command", name, "command_id", cmd.ID)

	if name == CommandUpdate {
		d.markUpdating(ctx, logicalID)
	}

	return d.waitForAck(ctx, logicalID, ackCh)
}

// PushConfiguration sends a configuration push to the device holding
// logicalID and awaits its acknowledgement. Same error contract as Dispatch.
func (d *Dispatcher) PushConfiguration(ctx context.Context, logicalID, configID string) (Ack, error) {
	if logicalID == "" || configID == "" {
		return Ack{}, fmt.Errorf("%w: logical id and config id required", ErrInvalidInput)
	}

	entry, ok := d.index.Get(logicalID)
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrDeviceOffline, logicalID)
	}

	push := ConfigurationPush{
		CommandID: "cmd-" + uuid.NewString()[:commandIDLength],
		ConfigID:  configID,
	}

	ackCh := d.await(push.CommandID)
	defer d.forget(push.CommandID)

	if err := entry.Conn.SendConfiguration(ctx, push); err != nil {
		return Ack{}, fmt.Errorf("%w: pushing config %s to %s: %v", ErrTransportError, configID, logicalID, err)
	}

	d.log.Debug("configuration pushed", "logical_id", logicalID, "config_id", configID)

	return d.waitForAck(ctx, logicalID, ackCh)
}

// AssignConfiguration persists a configuration assignment and then attempts
// to push it. The assignment survives even when the device is offline or
// the push fails: it is delivered best-effort on the next registration.
func (d *Dispatcher) AssignConfiguration(ctx context.Context, logicalID, configID string) (Ack, error) {
	if logicalID == "" || configID == "" {
		return Ack{}, fmt.Errorf("%w: logical id and config id required", ErrInvalidInput)
	}

	if err := d.repo.SetAssignedConfig(ctx, logicalID, configID); err != nil {
		return Ack{}, fmt.Errorf("%w: assigning config: %v", ErrStorage, err)
	}
	d.index.UpdateCached(logicalID, func(dev *device.Device) {
		dev.AssignedConfigID = configID
	})

	return d.PushConfiguration(ctx, logicalID, configID)
}

// HandleAck correlates a device acknowledgement with its waiting dispatch.
// Unmatched acks (late arrivals after timeout) are dropped.
func (d *Dispatcher) HandleAck(ack Ack) {
	d.mu.Lock()
	ch, ok := d.pending[ack.CommandID]
	if ok {
		delete(d.pending, ack.CommandID)
	}
	d.mu.Unlock()

	if !ok {
		d.log.Debug("unmatched ack dropped", "command_id", ack.CommandID)
		return
	}
	ch <- ack
}

// await registers a pending acknowledgement channel for a command ID.
func (d *Dispatcher) await(commandID string) chan Ack {
	ch := make(chan Ack, 1)
	d.mu.Lock()
	d.pending[commandID] = ch
	d.mu.Unlock()
	return ch
}

// forget discards a pending acknowledgement registration.
func (d *Dispatcher) forget(commandID string) {
	d.mu.Lock()
	delete(d.pending, commandID)
	d.mu.Unlock()
}

// waitForAck blocks until the device acknowledges, the timeout elapses or
// ctx is cancelled.
func (d *Dispatcher) waitForAck(ctx context.Context, logicalID string, ackCh chan Ack) (Ack, error) {
	timer := time.NewTimer(d.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-timer.C:
		return Ack{}, fmt.Errorf("%w: %s did not acknowledge within %s", ErrDeviceUnresponsive, logicalID, d.ackTimeout)
	case <-ctx.Done():
		return Ack{}, fmt.Errorf("awaiting ack from %s: %w", logicalID, ctx.Err())
	}
}

// markUpdating records the transient updating status while an update
// command runs. Best effort: a failure here must not fail the dispatch.
func (d *Dispatcher) markUpdating(ctx context.Context, logicalID string) {
	now := time.Now().UTC()
	if err := d.repo.UpdateStatus(ctx, logicalID, device.StatusUpdating, now); err != nil {
		d.log.Warn("recording updating status", "error", err, "logical_id", logicalID)
		return
	}
	d.index.UpdateCached(logicalID, func(dev *device.Device) {
		dev.Status = device.StatusUpdating
	})
	d.bus.Publish(events.Event{
		Kind:      events.DeviceStatusChanged,
		LogicalID: logicalID,
		Status:    device.StatusUpdating,
		At:        now,
	})
}
