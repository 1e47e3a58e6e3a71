package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByLogicalID retrieves a device by its logical ID.
	// Returns ErrDeviceNotFound if no record matches.
	GetByLogicalID(ctx context.Context, logicalID string) (*Device, error)

	// GetByHardwareKey retrieves a device by its hardware key.
	// Returns ErrDeviceNotFound if no record matches.
	GetByHardwareKey(ctx context.Context, hardwareKey string) (*Device, error)

	// List retrieves all devices ordered by logical ID.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device record.
	// Returns ErrDeviceExists if the logical ID or hardware key is taken.
	Create(ctx context.Context, dev *Device) error

	// Update rewrites an existing record, keyed by logical ID.
	// Returns ErrDeviceNotFound if the record does not exist.
	Update(ctx context.Context, dev *Device) error

	// Delete removes a record by logical ID.
	// Returns ErrDeviceNotFound if the record does not exist.
	Delete(ctx context.Context, logicalID string) error

	// UpdateStatus updates only the status and last-seen timestamp.
	// This is optimised for frequent heartbeat and disconnect updates.
	UpdateStatus(ctx context.Context, logicalID string, status Status, lastSeen time.Time) error

	// SetAssignedConfig updates the assigned configuration reference.
	SetAssignedConfig(ctx context.Context, logicalID, configID string) error

	// MarkUnseen moves every record into StatusOfflineRecovery. Called once
	// at process start so records from a previous run are distinguishable
	// from devices seen and lost during this run.
	MarkUnseen(ctx context.Context) error

	// InTx runs fn inside a single database transaction, passing a
	// Repository bound to that transaction. The transaction commits if fn
	// returns nil and rolls back otherwise. Calling InTx on a Repository
	// already inside a transaction reuses the open transaction.
	InTx(ctx context.Context, fn func(Repository) error) error
}

// queryer is the subset of database/sql shared by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
	q  queryer
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, q: db}
}

const deviceColumns = `logical_id, hardware_key, network_address, group_name, location,
	assigned_config_id, status, registered_at, last_seen,
	hostname, discovery_name, model, os_version, client_version,
	screen_width, screen_height, memory_total, disk_total,
	cpu_temperature, cpu_usage, memory_used, disk_used, uptime_seconds,
	created_at, updated_at`

// GetByLogicalID retrieves a device by its logical ID.
func (r *SQLiteRepository) GetByLogicalID(ctx context.Context, logicalID string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE logical_id = ?`

	dev, err := scanDevice(r.q.QueryRowContext(ctx, query, logicalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by logical id: %w", err)
	}
	return dev, nil
}

// GetByHardwareKey retrieves a device by its hardware key.
func (r *SQLiteRepository) GetByHardwareKey(ctx context.Context, hardwareKey string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE hardware_key = ?`

	dev, err := scanDevice(r.q.QueryRowContext(ctx, query, hardwareKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by hardware key: %w", err)
	}
	return dev, nil
}

// List retrieves all devices ordered by logical ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY logical_id`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *dev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// Create inserts a new device record.
func (r *SQLiteRepository) Create(ctx context.Context, dev *Device) error {
	now := time.Now().UTC()
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = now
	}
	dev.UpdatedAt = now
	if dev.RegisteredAt.IsZero() {
		dev.RegisteredAt = now
	}

	query := `
		INSERT INTO devices (` + deviceColumns + `) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?
		)`

	_, err := r.q.ExecContext(ctx, query,
		dev.LogicalID,
		dev.HardwareKey,
		nullableString(dev.NetworkAddress),
		nullableString(dev.Group),
		nullableString(dev.Location),
		nullableString(dev.AssignedConfigID),
		string(dev.Status),
		dev.RegisteredAt.UTC().Format(time.RFC3339),
		dev.LastSeen.UTC().Format(time.RFC3339),
		dev.Telemetry.Hostname,
		dev.Telemetry.DiscoveryName,
		dev.Telemetry.Model,
		dev.Telemetry.OSVersion,
		dev.Telemetry.ClientVersion,
		dev.Telemetry.ScreenWidth,
		dev.Telemetry.ScreenHeight,
		dev.Telemetry.MemoryTotal,
		dev.Telemetry.DiskTotal,
		dev.Telemetry.CPUTemperature,
		dev.Telemetry.CPUUsage,
		dev.Telemetry.MemoryUsed,
		dev.Telemetry.DiskUsed,
		dev.Telemetry.UptimeSeconds,
		dev.CreatedAt.Format(time.RFC3339),
		dev.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update rewrites an existing record, keyed by logical ID.
func (r *SQLiteRepository) Update(ctx context.Context, dev *Device) error {
	dev.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			hardware_key = ?, network_address = ?, group_name = ?, location = ?,
			assigned_config_id = ?, status = ?, registered_at = ?, last_seen = ?,
			hostname = ?, discovery_name = ?, model = ?, os_version = ?, client_version = ?,
			screen_width = ?, screen_height = ?, memory_total = ?, disk_total = ?,
			cpu_temperature = ?, cpu_usage = ?, memory_used = ?, disk_used = ?, uptime_seconds = ?,
			updated_at = ?
		WHERE logical_id = ?`

	result, err := r.q.ExecContext(ctx, query,
		dev.HardwareKey,
		nullableString(dev.NetworkAddress),
		nullableString(dev.Group),
		nullableString(dev.Location),
		nullableString(dev.AssignedConfigID),
		string(dev.Status),
		dev.RegisteredAt.UTC().Format(time.RFC3339),
		dev.LastSeen.UTC().Format(time.RFC3339),
		dev.Telemetry.Hostname,
		dev.Telemetry.DiscoveryName,
		dev.Telemetry.Model,
		dev.Telemetry.OSVersion,
		dev.Telemetry.ClientVersion,
		dev.Telemetry.ScreenWidth,
		dev.Telemetry.ScreenHeight,
		dev.Telemetry.MemoryTotal,
		dev.Telemetry.DiskTotal,
		dev.Telemetry.CPUTemperature,
		dev.Telemetry.CPUUsage,
		dev.Telemetry.MemoryUsed,
		dev.Telemetry.DiskUsed,
		dev.Telemetry.UptimeSeconds,
		dev.UpdatedAt.Format(time.RFC3339),
		dev.LogicalID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// Delete removes a record by logical ID.
func (r *SQLiteRepository) Delete(ctx context.Context, logicalID string) error {
	result, err := r.q.ExecContext(ctx, "DELETE FROM devices WHERE logical_id = ?", logicalID)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// UpdateStatus updates only the status and last-seen timestamp.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, logicalID string, status Status, lastSeen time.Time) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET status = ?, last_seen = ?, updated_at = ?
		WHERE logical_id = ?`

	result, err := r.q.ExecContext(ctx, query,
		string(status),
		lastSeen.UTC().Format(time.RFC3339),
		now.Format(time.RFC3339),
		logicalID,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// SetAssignedConfig updates the assigned configuration reference.
func (r *SQLiteRepository) SetAssignedConfig(ctx context.Context, logicalID, configID string) error {
	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET assigned_config_id = ?, updated_at = ?
		WHERE logical_id = ?`

	result, err := r.q.ExecContext(ctx, query,
		nullableString(configID),
		now.Format(time.RFC3339),
		logicalID,
	)
	if err != nil {
		return fmt.Errorf("updating assigned config: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// MarkUnseen moves every record into StatusOfflineRecovery.
func (r *SQLiteRepository) MarkUnseen(ctx context.Context) error {
	now := time.Now().UTC()
	query := `UPDATE devices SET status = ?, updated_at = ?`

	_, err := r.q.ExecContext(ctx, query,
		string(StatusOfflineRecovery),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("marking devices unseen: %w", err)
	}

	return nil
}

// InTx runs fn inside a single database transaction.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	// Already inside a transaction: reuse it so nested units of work
	// compose without SQLite's single-writer deadlocking on itself.
	if _, ok := r.q.(*sql.Tx); ok {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	txRepo := &SQLiteRepository{db: r.db, q: tx}
	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back after %w: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var networkAddress, group, location, assignedConfigID sql.NullString
	var status, registeredAt, lastSeen, createdAt, updatedAt string

	err := scanner.Scan(
		&d.LogicalID,
		&d.HardwareKey,
		&networkAddress,
		&group,
		&location,
		&assignedConfigID,
		&status,
		&registeredAt,
		&lastSeen,
		&d.Telemetry.Hostname,
		&d.Telemetry.DiscoveryName,
		&d.Telemetry.Model,
		&d.Telemetry.OSVersion,
		&d.Telemetry.ClientVersion,
		&d.Telemetry.ScreenWidth,
		&d.Telemetry.ScreenHeight,
		&d.Telemetry.MemoryTotal,
		&d.Telemetry.DiskTotal,
		&d.Telemetry.CPUTemperature,
		&d.Telemetry.CPUUsage,
		&d.Telemetry.MemoryUsed,
		&d.Telemetry.DiskUsed,
		&d.Telemetry.UptimeSeconds,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.NetworkAddress = networkAddress.String
	d.Group = group.String
	d.Location = location.String
	d.AssignedConfigID = assignedConfigID.String

	var parseErr error
	d.RegisteredAt, parseErr = time.Parse(time.RFC3339, registeredAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", parseErr)
	}
	d.LastSeen, parseErr = time.Parse(time.RFC3339, lastSeen)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", parseErr)
	}
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// nullableString returns a sql.NullString, storing NULL for empty strings.
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
