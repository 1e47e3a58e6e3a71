package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxLogicalIDLength = 64
	shortIDLength      = 8
)

// Registration carries the identity fields of an incoming registration, the
// inputs to identity resolution. Telemetry is merged separately by the
// coordinator once the target record is known.
type Registration struct {
	HardwareKey    string
	LogicalID      string // requested; empty means "hub chooses"
	NetworkAddress string
	Hostname       string // used when a logical ID must be generated
}

// ResolutionKind classifies the outcome of identity resolution.
type ResolutionKind string

// ResolutionKind constants.
const (
	// ResolutionUpdate: known hardware key keeping its logical ID.
	ResolutionUpdate ResolutionKind = "update"

	// ResolutionRename: known hardware key moving to an unused logical ID.
	// Placement, assigned configuration and the original registration time
	// carry forward to the new record.
	ResolutionRename ResolutionKind = "rename"

	// ResolutionDisplace: the requested logical ID belongs to a different
	// hardware key. The record holding the ID is treated as the same
	// physical unit reconnecting with changed hardware (e.g. replaced
	// network interface): it keeps its logical ID, placement and assigned
	// configuration but adopts the incoming hardware key, address and
	// telemetry. Any old record for the incoming hardware key is removed.
	ResolutionDisplace ResolutionKind = "displace"

	// ResolutionCreate: never-seen hardware key, unused logical ID.
	ResolutionCreate ResolutionKind = "create"
)

// Resolution is the decided outcome of identity resolution. Device is the
// record to persist (telemetry not yet merged); Remove, when set, is a stale
// record that must be deleted in the same transaction, before Device is
// written, so the hardware-key uniqueness constraint holds throughout.
type Resolution struct {
	Kind   ResolutionKind
	Device *Device
	Remove *Device
}

// ResolveIdentity decides which registry record an incoming registration
// "is". The caller must hold the per-hardware-key lock and run both this
// and Apply inside one repository transaction; resolution reads and the
// subsequent writes are a single atomic unit.
//
// The decision table:
//
//  1. A record exists for the hardware key and the requested logical ID is
//     empty or unchanged: update that record in place.
//  2. A record exists but a different logical ID was requested: rename if
//     the ID is free, displace if another hardware key holds it.
//  3. No record exists for the hardware key: create, generating a logical
//     ID when none was requested; a requested ID held by another hardware
//     key displaces that record.
func ResolveIdentity(ctx context.Context, repo Repository, reg Registration, now time.Time) (*Resolution, error) {
	existing, err := repo.GetByHardwareKey(ctx, reg.HardwareKey)
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return nil, fmt.Errorf("looking up hardware key: %w", err)
	}

	if existing != nil {
		if reg.LogicalID == "" || reg.LogicalID == existing.LogicalID {
			return resolveUpdate(existing, reg), nil
		}
		return resolveRename(ctx, repo, existing, reg)
	}

	return resolveNew(ctx, repo, reg, now)
}

// resolveUpdate handles a known device keeping its logical ID.
func resolveUpdate(existing *Device, reg Registration) *Resolution {
	dev := existing.Clone()
	if reg.NetworkAddress != "" {
		dev.NetworkAddress = reg.NetworkAddress
	}
	return &Resolution{Kind: ResolutionUpdate, Device: dev}
}

// resolveRename handles a known device requesting a different logical ID.
func resolveRename(ctx context.Context, repo Repository, existing *Device, reg Registration) (*Resolution, error) {
	colliding, err := repo.GetByLogicalID(ctx, reg.LogicalID)
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return nil, fmt.Errorf("looking up requested logical id: %w", err)
	}

	if colliding == nil {
		// Plain rename: retire the old record, carry identity-independent
		// state forward under the new logical ID.
		dev := existing.Clone()
		dev.LogicalID = reg.LogicalID
		if reg.NetworkAddress != "" {
			dev.NetworkAddress = reg.NetworkAddress
		}
		return &Resolution{Kind: ResolutionRename, Device: dev, Remove: existing}, nil
	}

	return &Resolution{
		Kind:   ResolutionDisplace,
		Device: displacedRecord(colliding, reg),
		Remove: existing,
	}, nil
}

// resolveNew handles a hardware key with no existing record.
func resolveNew(ctx context.Context, repo Repository, reg Registration, now time.Time) (*Resolution, error) {
	if reg.LogicalID != "" {
		colliding, err := repo.GetByLogicalID(ctx, reg.LogicalID)
		if err != nil && !errors.Is(err, ErrDeviceNotFound) {
			return nil, fmt.Errorf("looking up requested logical id: %w", err)
		}
		if colliding != nil {
			return &Resolution{Kind: ResolutionDisplace, Device: displacedRecord(colliding, reg)}, nil
		}
		return createResolution(reg, reg.LogicalID, now), nil
	}

	logicalID, err := generateLogicalID(ctx, repo, reg.Hostname, now)
	if err != nil {
		return nil, err
	}
	return createResolution(reg, logicalID, now), nil
}

// displacedRecord builds the replacement for a record whose logical ID an
// incoming device has claimed. The record keeps its operator-facing state;
// hardware identity, address and telemetry become the incoming device's.
func displacedRecord(colliding *Device, reg Registration) *Device {
	dev := colliding.Clone()
	dev.HardwareKey = reg.HardwareKey
	dev.NetworkAddress = reg.NetworkAddress
	dev.Telemetry = Telemetry{}
	return dev
}

// createResolution builds a brand-new record.
func createResolution(reg Registration, logicalID string, now time.Time) *Resolution {
	return &Resolution{
		Kind: ResolutionCreate,
		Device: &Device{
			LogicalID:      logicalID,
			HardwareKey:    reg.HardwareKey,
			NetworkAddress: reg.NetworkAddress,
			RegisteredAt:   now.UTC(),
		},
	}
}

// Apply commits the resolution through repo. The caller is expected to run
// it inside Repository.InTx so the delete and write land atomically.
func (res *Resolution) Apply(ctx context.Context, repo Repository) error {
	if res.Remove != nil {
		if err := repo.Delete(ctx, res.Remove.LogicalID); err != nil {
			return fmt.Errorf("removing stale record %s: %w", res.Remove.LogicalID, err)
		}
	}

	switch res.Kind {
	case ResolutionUpdate, ResolutionDisplace:
		if err := repo.Update(ctx, res.Device); err != nil {
			return fmt.Errorf("updating record %s: %w", res.Device.LogicalID, err)
		}
	case ResolutionRename, ResolutionCreate:
		if err := repo.Create(ctx, res.Device); err != nil {
			return fmt.Errorf("creating record %s: %w", res.Device.LogicalID, err)
		}
	default:
		return fmt.Errorf("%w: unknown resolution kind %q", ErrInvalidDevice, res.Kind)
	}

	return nil
}

// generateLogicalID produces a unique logical ID from the device's hostname
// and a timestamp suffix, falling back to a random identifier when the
// hostname is unusable or the generated ID is already taken.
func generateLogicalID(ctx context.Context, repo Repository, hostname string, now time.Time) (string, error) {
	candidate := ""
	if slug := Slugify(hostname); slug != "" {
		candidate = slug + "-" + now.UTC().Format("20060102150405")
	}

	if candidate != "" {
		taken, err := logicalIDTaken(ctx, repo, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	// Random fallback. UUIDs collide for practical purposes never, but the
	// uniqueness invariant is checked anyway since it is one cheap read.
	candidate = "dev-" + uuid.NewString()[:shortIDLength]
	taken, err := logicalIDTaken(ctx, repo, candidate)
	if err != nil {
		return "", err
	}
	if taken {
		return "", fmt.Errorf("%w: generated logical id %s already taken", ErrDeviceExists, candidate)
	}
	return candidate, nil
}

// logicalIDTaken reports whether any record holds the given logical ID.
func logicalIDTaken(ctx context.Context, repo Repository, logicalID string) (bool, error) {
	_, err := repo.GetByLogicalID(ctx, logicalID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking logical id: %w", err)
	}
	return true, nil
}

// Slugify converts free-form text (typically a hostname) into a lowercase
// hyphenated identifier suitable for use in a logical ID.
func Slugify(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.ReplaceAll(slug, "_", "-")
	slug = strings.ReplaceAll(slug, ".", "-")

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	slug = strings.Trim(slug, "-")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}

	if len(slug) > maxLogicalIDLength {
		slug = slug[:maxLogicalIDLength]
		slug = strings.TrimRight(slug, "-")
	}

	return slug
}
