package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/edgehub-core/internal/auth"
	"github.com/nerrad567/edgehub-core/internal/device"
	"github.com/nerrad567/edgehub-core/internal/events"
	"github.com/nerrad567/edgehub-core/internal/infrastructure/logging"
)

// RegisterRequest carries everything a device presents when registering.
type RegisterRequest struct {
	Token          string
	HardwareKey    string
	LogicalID      string
	NetworkAddress string
	Telemetry      device.Telemetry
}

// ConfigPusher delivers a configuration to a connected device. Implemented
// by the Dispatcher; kept narrow so the coordinator is testable without one.
type ConfigPusher interface {
	PushConfiguration(ctx context.Context, logicalID, configID string) (Ack, error)
}

// TelemetryRecorder receives each merged telemetry snapshot for history.
// Implementations must be cheap to call; the coordinator invokes it inline.
type TelemetryRecorder interface {
	RecordTelemetry(logicalID string, t device.Telemetry, at time.Time)
}

// CoordinatorConfig carries the coordinator's policy knobs.
type CoordinatorConfig struct {
	// RequireTokenForNewDevices rejects tokenless registrations from
	// hardware keys with no existing record. Known devices may always
	// re-register without a token.
	RequireTokenForNewDevices bool

	// StorageTimeout bounds the transactional write of one registration.
	StorageTimeout time.Duration

	// PushTimeout bounds the detached post-registration configuration push.
	PushTimeout time.Duration
}

// Coordinator orchestrates device registrations: token validation, identity
// resolution, transactional persistence, connection-index update, event
// emission and the best-effort configuration push.
type Coordinator struct {
	repo   device.Repository
	tokens auth.TokenRepository
	index  *ConnectionIndex
	bus    *events.Bus
	log    *logging.Logger
	cfg    CoordinatorConfig
	locks  *keyedLock

	pusher   ConfigPusher
	recorder TelemetryRecorder
}

// NewCoordinator creates a registration coordinator.
func NewCoordinator(repo device.Repository, tokens auth.TokenRepository, index *ConnectionIndex, bus *events.Bus, log *logging.Logger, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		repo:   repo,
		tokens: tokens,
		index:  index,
		bus:    bus,
		log:    log.With("component", "coordinator"),
		cfg:    cfg,
		locks:  newKeyedLock(),
	}
}

// SetConfigPusher wires the component used for the post-registration
// configuration push. Without one the push step is skipped.
func (c *Coordinator) SetConfigPusher(p ConfigPusher) {
	c.pusher = p
}

// SetTelemetryRecorder wires an optional telemetry history sink.
func (c *Coordinator) SetTelemetryRecorder(r TelemetryRecorder) {
	c.recorder = r
}

// Register runs one device registration end to end and returns the
// resulting record. On success the device is reachable through the
// connection index and a connected event has been published.
//
// Failures before the durable commit leave no partial state: no index
// mutation, no event. Cancellation is honoured only up to the commit
// point; once the write lands, the index update and event always complete.
func (c *Coordinator) Register(ctx context.Context, conn DeviceConn, req RegisterRequest) (*device.Device, error) {
	if req.HardwareKey == "" {
		return nil, fmt.Errorf("%w: hardware key required", ErrInvalidInput)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: connection handle required", ErrInvalidInput)
	}

	// Serialise per hardware key: two racing registrations for the same
	// physical unit must not both read "no record" and create twice.
	c.locks.Lock(req.HardwareKey)
	defer c.locks.Unlock(req.HardwareKey)

	now := time.Now().UTC()

	hints, err := c.checkCredentials(ctx, req, now)
	if err != nil {
		return nil, err
	}

	res, err := c.commit(ctx, req, hints, now)
	if err != nil {
		return nil, err
	}
	result := res.Device

	// Committed. From here on the caller's cancellation no longer applies:
	// a durable record must never be left without its index entry.
	dctx := context.WithoutCancel(ctx)

	if res.Remove != nil {
		if stale := c.index.Drop(res.Remove.LogicalID); stale != nil && stale != conn {
			_ = stale.Close() //nolint:errcheck // connection already being discarded
		}
	}
	if previous := c.index.Set(result.LogicalID, conn, result); previous != nil {
		c.log.Info("replacing live connection", "logical_id", result.LogicalID)
		_ = previous.Close() //nolint:errcheck // connection already being discarded
	}

	c.bus.Publish(events.Event{
		Kind:      events.DeviceConnected,
		LogicalID: result.LogicalID,
		Status:    result.Status,
		At:        now,
	})

	c.log.Info("device registered",
		"logical_id", result.LogicalID,
		"hardware_key", result.HardwareKey,
		"resolution", string(res.Kind),
	)

	if c.recorder != nil {
		c.recorder.RecordTelemetry(result.LogicalID, result.Telemetry, now)
	}

	if result.AssignedConfigID != "" {
		c.pushAssignedConfig(dctx, result.LogicalID, result.AssignedConfigID)
	}

	return result.Clone(), nil
}

// checkCredentials validates the registration token, or the tokenless
// policy when none is supplied, and returns any placement hints.
func (c *Coordinator) checkCredentials(ctx context.Context, req RegisterRequest, now time.Time) (*auth.RegistrationToken, error) {
	if req.Token != "" {
		token, err := c.tokens.Consume(ctx, req.Token, req.HardwareKey, now)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenNotFound),
				errors.Is(err, auth.ErrTokenConsumed),
				errors.Is(err, auth.ErrTokenExpired),
				errors.Is(err, auth.ErrTokenMismatch):
				return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
			default:
				return nil, fmt.Errorf("%w: validating token: %v", ErrStorage, err)
			}
		}
		return token, nil
	}

	if !c.cfg.RequireTokenForNewDevices {
		return nil, nil
	}

	// Tokenless: allowed only for devices the hub already knows.
	_, err := c.repo.GetByHardwareKey(ctx, req.HardwareKey)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: unknown device without registration token", ErrAuthenticationFailed)
		}
		return nil, fmt.Errorf("%w: checking device: %v", ErrStorage, err)
	}
	return nil, nil
}

// commit resolves identity and persists the resulting record in one
// transaction, bounded by the storage timeout.
func (c *Coordinator) commit(ctx context.Context, req RegisterRequest, hints *auth.RegistrationToken, now time.Time) (*device.Resolution, error) {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()

	var res *device.Resolution
	err := c.repo.InTx(sctx, func(txRepo device.Repository) error {
		var err error
		res, err = device.ResolveIdentity(sctx, txRepo, device.Registration{
			HardwareKey:    req.HardwareKey,
			LogicalID:      req.LogicalID,
			NetworkAddress: req.NetworkAddress,
			Hostname:       req.Telemetry.Hostname,
		}, now)
		if err != nil {
			return err
		}

		if res.Kind == device.ResolutionDisplace {
			c.log.Warn("logical id displaced by new hardware",
				"logical_id", res.Device.LogicalID,
				"hardware_key", req.HardwareKey,
			)
		}

		dev := res.Device
		dev.Telemetry = device.MergeTelemetry(dev.Telemetry, req.Telemetry)
		dev.Status = device.StatusOnline
		dev.LastSeen = now
		if hints != nil {
			if hints.Group != "" {
				dev.Group = hints.Group
			}
			if hints.Location != "" {
				dev.Location = hints.Location
			}
		}

		return res.Apply(sctx, txRepo)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("registration aborted: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return res, nil
}

// pushAssignedConfig fires the best-effort configuration push as a detached
// task. Failures are logged, never escalated: the registration that
// triggered the push has already succeeded.
func (c *Coordinator) pushAssignedConfig(ctx context.Context, logicalID, configID string) {
	if c.pusher == nil {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("configuration push panicked", "logical_id", logicalID, "panic", r)
			}
		}()

		pctx, cancel := context.WithTimeout(ctx, c.cfg.PushTimeout)
		defer cancel()

		if _, err := c.pusher.PushConfiguration(pctx, logicalID, configID); err != nil {
			c.log.Warn("post-registration configuration push failed",
				"error", err,
				"logical_id", logicalID,
				"config_id", configID,
			)
		}
	}()
}

// Disconnect removes the index entry for a closing connection and records
// the offline status. Stale disconnects, where the logical ID has already
// been taken over by a newer connection, are ignored.
func (c *Coordinator) Disconnect(ctx context.Context, logicalID string, conn DeviceConn) {
	if !c.index.Remove(logicalID, conn) {
		return
	}

	now := time.Now().UTC()
	if err := c.repo.UpdateStatus(context.WithoutCancel(ctx), logicalID, device.StatusOffline, now); err != nil {
		c.log.Warn("recording offline status", "error", err, "logical_id", logicalID)
	}

	c.bus.Publish(events.Event{
		Kind:      events.DeviceDisconnected,
		LogicalID: logicalID,
		Status:    device.StatusOffline,
		At:        now,
	})

	c.log.Info("device disconnected", "logical_id", logicalID)
}

// Heartbeat merges a telemetry report from an already-registered device and
// refreshes its last-seen timestamp.
func (c *Coordinator) Heartbeat(ctx context.Context, logicalID string, telemetry device.Telemetry) error {
	if logicalID == "" {
		return fmt.Errorf("%w: logical id required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	sctx, cancel := context.WithTimeout(ctx, c.cfg.StorageTimeout)
	defer cancel()

	var merged device.Telemetry
	err := c.repo.InTx(sctx, func(txRepo device.Repository) error {
		dev, err := txRepo.GetByLogicalID(sctx, logicalID)
		if err != nil {
			return err
		}
		dev.Telemetry = device.MergeTelemetry(dev.Telemetry, telemetry)
		dev.LastSeen = now
		merged = dev.Telemetry
		return txRepo.Update(sctx, dev)
	})
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return fmt.Errorf("%w: %s", ErrInvalidInput, logicalID)
		}
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	c.index.UpdateCached(logicalID, func(dev *device.Device) {
		dev.Telemetry = merged
		dev.LastSeen = now
	})

	if c.recorder != nil {
		c.recorder.RecordTelemetry(logicalID, merged, now)
	}

	return nil
}
